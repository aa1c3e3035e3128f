package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HerbHall/entitykit/pkg/models"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Paging defaults mirrored from the server.
const (
	DefaultLimit = 10
	MaxLimit     = 100
)

// maxStaleRetries bounds refetches when invalidations keep racing a fetch.
const maxStaleRetries = 3

// fillTimeout bounds a shared list fetch, which runs detached from the
// cancellation of whichever caller started it.
const fillTimeout = 30 * time.Second

// ListKey identifies one cached list page.
type ListKey struct {
	Search string
	Page   int
	Limit  int
}

// Normalize trims the search term and fills in defaults so equal queries
// share a cache entry.
func (k ListKey) Normalize() ListKey {
	k.Search = strings.TrimSpace(k.Search)
	if k.Page < 1 {
		k.Page = 1
	}
	if k.Limit < 1 {
		k.Limit = DefaultLimit
	}
	if k.Limit > MaxLimit {
		k.Limit = MaxLimit
	}
	return k
}

// API is the server surface used by Session. *Client implements it.
type API interface {
	List(ctx context.Context, key ListKey) (*models.EntityPage, error)
	Get(ctx context.Context, id int64) (*models.Entity, error)
	Create(ctx context.Context, req CreateRequest) (*models.Entity, error)
	Update(ctx context.Context, id int64, req UpdateRequest) (*models.Entity, error)
	Delete(ctx context.Context, id int64) error
}

var _ API = (*Client)(nil)

// Session owns one list cache. Every successful mutation invalidates all
// cached pages; a fetch that started before an invalidation never
// populates the cache and is repeated before being returned.
type Session struct {
	api    API
	logger *zap.Logger

	mu    sync.Mutex
	gen   uint64
	cache map[ListKey]*models.EntityPage

	group singleflight.Group
	locks idLocks
}

// NewSession creates a Session over api.
func NewSession(api API, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		api:    api,
		logger: logger,
		cache:  make(map[ListKey]*models.EntityPage),
		locks:  idLocks{m: make(map[int64]*idLock)},
	}
}

// Generation returns the invalidation counter.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Cached returns the cached page for key without fetching.
func (s *Session) Cached(key ListKey) (*models.EntityPage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.cache[key.Normalize()]
	return p, ok
}

// Invalidate drops every cached page.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	clear(s.cache)
}

// List returns the page for key from the cache, fetching it when absent.
// Concurrent requests for the same key and generation share one fetch;
// a caller whose ctx ends stops waiting without failing the others.
func (s *Session) List(ctx context.Context, key ListKey) (*models.EntityPage, error) {
	key = key.Normalize()

	for range maxStaleRetries {
		s.mu.Lock()
		if p, ok := s.cache[key]; ok {
			s.mu.Unlock()
			return p, nil
		}
		gen := s.gen
		s.mu.Unlock()

		flight := fmt.Sprintf("%d|%d|%d|%s", gen, key.Page, key.Limit, key.Search)
		ch := s.group.DoChan(flight, func() (any, error) {
			fillCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fillTimeout)
			defer cancel()
			page, err := s.api.List(fillCtx, key)
			if err != nil {
				return nil, err
			}
			s.mu.Lock()
			if s.gen == gen {
				s.cache[key] = page
			}
			s.mu.Unlock()
			return page, nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res = <-ch:
		}
		if res.Err != nil {
			return nil, res.Err
		}

		if s.Generation() == gen {
			return res.Val.(*models.EntityPage), nil
		}
		s.logger.Debug("list fetch raced an invalidation, refetching", zap.Uint64("generation", gen))
	}
	return nil, fmt.Errorf("list %+v: cache invalidated %d times during fetch", key, maxStaleRetries)
}

// Get fetches one entity. Single entities are not cached.
func (s *Session) Get(ctx context.Context, id int64) (*models.Entity, error) {
	return s.api.Get(ctx, id)
}

// Create creates an entity and invalidates the cache on success.
func (s *Session) Create(ctx context.Context, req CreateRequest) (*models.Entity, error) {
	e, err := s.api.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.Invalidate()
	return e, nil
}

// Update applies a partial update. Mutations of the same id are
// serialized, so a second update observes the first one's result.
func (s *Session) Update(ctx context.Context, id int64, req UpdateRequest) (*models.Entity, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	e, err := s.api.Update(ctx, id, req)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			s.Invalidate()
		}
		return nil, err
	}
	s.Invalidate()
	return e, nil
}

// Delete removes an entity. A NotFound result also invalidates, since the
// cached pages still show the row.
func (s *Session) Delete(ctx context.Context, id int64) error {
	unlock := s.locks.lock(id)
	defer unlock()

	err := s.api.Delete(ctx, id)
	if err == nil || errors.Is(err, ErrNotFound) {
		s.Invalidate()
	}
	return err
}

// Watch subscribes to the server's change feed at url and invalidates the
// cache for every change. onChange, if non-nil, runs after invalidation.
// Watch blocks until ctx is cancelled or the connection drops.
func (s *Session) Watch(ctx context.Context, url string, onChange func(models.ChangeMessage)) error {
	c, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial change feed: %w", err)
	}
	defer c.CloseNow()

	for {
		var msg models.ChangeMessage
		if err := wsjson.Read(ctx, c, &msg); err != nil {
			if ctx.Err() != nil {
				c.Close(websocket.StatusNormalClosure, "")
				return nil
			}
			return fmt.Errorf("read change feed: %w", err)
		}
		s.logger.Debug("remote change", zap.String("topic", msg.Topic), zap.Int64("id", msg.ID))
		s.Invalidate()
		if onChange != nil {
			onChange(msg)
		}
	}
}

// idLocks is a set of per-id mutexes released when unused.
type idLocks struct {
	mu sync.Mutex
	m  map[int64]*idLock
}

type idLock struct {
	mu   sync.Mutex
	refs int
}

func (l *idLocks) lock(id int64) (unlock func()) {
	l.mu.Lock()
	il, ok := l.m[id]
	if !ok {
		il = &idLock{}
		l.m[id] = il
	}
	il.refs++
	l.mu.Unlock()

	il.mu.Lock()
	return func() {
		il.mu.Unlock()
		l.mu.Lock()
		il.refs--
		if il.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
