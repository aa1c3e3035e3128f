package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/HerbHall/entitykit/internal/server"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/ws", Handler: m.handleWS},
		{Method: "GET", Path: "/sessions", Handler: m.handleListSessions},
	}
}

// handleWS upgrades the request and streams change messages until the peer
// disconnects, the session falls behind, or the module stops.
func (m *Module) handleWS(w http.ResponseWriter, r *http.Request) {
	session, ok := m.sessions.Open(r.RemoteAddr, r.UserAgent())
	if !ok {
		server.Unavailable(w, "too many stream sessions", r.URL.Path)
		return
	}
	defer m.sessions.Close(session.ID)

	// Hijacked connections keep the server's write deadline otherwise.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: m.cfg.OriginPatterns})
	if err != nil {
		m.logger.Debug("websocket accept failed", zap.Error(err))
		return
	}
	defer c.CloseNow()

	m.logger.Info("stream session opened", zap.String("session", session.ID), zap.String("remote", r.RemoteAddr))
	ctx := c.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case <-session.Done():
			m.drain(ctx, c, session)
			c.Close(websocket.StatusGoingAway, "session closed")
			return
		case msg := <-session.Messages():
			if err := m.write(ctx, c, msg); err != nil {
				m.logger.Debug("stream write failed", zap.String("session", session.ID), zap.Error(err))
				return
			}
		}
	}
}

// drain flushes frames queued before the session closed.
func (m *Module) drain(ctx context.Context, c *websocket.Conn, s *Session) {
	for {
		select {
		case msg := <-s.Messages():
			if err := m.write(ctx, c, msg); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (m *Module) write(ctx context.Context, c *websocket.Conn, v any) error {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()
	return wsjson.Write(ctx, c, v)
}

// handleListSessions returns connected subscribers.
//
//	@Summary	List stream sessions
//	@Tags		stream
//	@Produce	json
//	@Success	200	{array}	sessionView
//	@Router		/stream/sessions [get]
func (m *Module) handleListSessions(w http.ResponseWriter, _ *http.Request) {
	sessions := m.sessions.List()
	views := make([]sessionView, len(sessions))
	for i, s := range sessions {
		views[i] = s.toView()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(views)
}

func itoa(n int) string { return strconv.Itoa(n) }
