package server_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HerbHall/entitykit/internal/entities"
	"github.com/HerbHall/entitykit/internal/registry"
	"github.com/HerbHall/entitykit/internal/server"
	"github.com/HerbHall/entitykit/internal/testutil"
	"github.com/HerbHall/entitykit/pkg/plugin"
	"github.com/prometheus/client_golang/prometheus"
)

// sickPlugin reports itself unhealthy.
type sickPlugin struct{}

func (sickPlugin) Info() plugin.PluginInfo {
	return plugin.PluginInfo{Name: "sick", Version: "0.1.0", APIVersion: plugin.APIVersionCurrent}
}
func (sickPlugin) Init(context.Context, plugin.Dependencies) error { return nil }
func (sickPlugin) Start(context.Context) error                     { return nil }
func (sickPlugin) Stop(context.Context) error                      { return nil }
func (sickPlugin) Health(context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{Status: plugin.StatusUnhealthy, Message: "disk gone"}
}

func newTestServer(t *testing.T, opts server.Options, extra ...plugin.Plugin) *server.Server {
	t.Helper()
	reg := registry.New(testutil.Logger(t))
	if err := reg.Register(entities.New(testutil.NewEntityRepo(t))); err != nil {
		t.Fatalf("register: %v", err)
	}
	for _, p := range extra {
		if err := reg.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := reg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := reg.InitAll(context.Background(), func(string) plugin.Dependencies { return testutil.Dependencies() }); err != nil {
		t.Fatalf("init: %v", err)
	}
	return server.New(reg, testutil.Logger(t), opts)
}

func serve(s *server.Server, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, server.Options{})

	w := serve(s, "GET", "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Header().Get(server.VersionHeader) == "" {
		t.Error("missing version header")
	}
	var resp server.HealthResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "ok" || resp.Service != "entitykit" {
		t.Errorf("health = %+v", resp)
	}
	if resp.Plugins["entities"].Status != "healthy" {
		t.Errorf("entities health = %+v", resp.Plugins["entities"])
	}
}

func TestHealthUnhealthyPlugin(t *testing.T) {
	s := newTestServer(t, server.Options{}, sickPlugin{})

	w := serve(s, "GET", "/api/v1/health", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestPlugins(t *testing.T) {
	s := newTestServer(t, server.Options{})

	w := serve(s, "GET", "/api/v1/plugins", "")
	var got []server.PluginResponse
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Name != "entities" || !got[0].Enabled || !got[0].Required {
		t.Errorf("plugins = %+v", got)
	}
}

func TestPluginRoutesMounted(t *testing.T) {
	s := newTestServer(t, server.Options{})

	w := serve(s, "POST", "/api/v1/entities", `{"name":"mounted"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	w = serve(s, "GET", "/api/v1/entities", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestWriteGuardOnlyWrapsWriteRoutes(t *testing.T) {
	deny := func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			server.Forbidden(w, "read only", r.URL.Path)
		})
	}
	s := newTestServer(t, server.Options{WriteGuard: deny})

	if w := serve(s, "GET", "/api/v1/entities", ""); w.Code != http.StatusOK {
		t.Errorf("GET status = %d, want %d", w.Code, http.StatusOK)
	}
	for _, method := range []string{"POST", "PATCH", "PUT", "DELETE"} {
		target := "/api/v1/entities/1"
		if method == "POST" {
			target = "/api/v1/entities"
		}
		if w := serve(s, method, target, `{"name":"x"}`); w.Code != http.StatusForbidden {
			t.Errorf("%s status = %d, want %d", method, w.Code, http.StatusForbidden)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := server.NewHTTPMetrics(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	s := newTestServer(t, server.Options{Gatherer: reg, Middleware: []server.Middleware{m.Middleware()}})

	serve(s, "GET", "/api/v1/entities", "")
	w := serve(s, "GET", "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), `route="GET /api/v1/entities"`) {
		t.Errorf("metrics missing route label:\n%s", w.Body.String())
	}
}

func TestMetricsEndpointAbsentWithoutGatherer(t *testing.T) {
	s := newTestServer(t, server.Options{})
	if w := serve(s, "GET", "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestSwaggerDoc(t *testing.T) {
	s := newTestServer(t, server.Options{})

	w := serve(s, "GET", "/swagger/doc.json", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "/entities/{id}") {
		t.Error("swagger doc missing entity paths")
	}
}
