package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/bpradana/edgeboard/internal/directory"
	"github.com/bpradana/edgeboard/internal/health"
	"github.com/bpradana/edgeboard/internal/metrics"
	"github.com/bpradana/edgeboard/internal/middleware"
	"github.com/bpradana/edgeboard/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const waitFor = 2 * time.Second

// edgeAPI fakes one edge API exposing a single seed s1
type edgeAPI struct {
	rebootFails atomic.Bool
	reboots     atomic.Int32

	// While holdSeeds is set, seed listings wait for gate to close.
	holdSeeds atomic.Bool
	gate      chan struct{}
	held      atomic.Int32
	listings  atomic.Int32
}

func (e *edgeAPI) handler() http.Handler {
	mux := http.NewServeMux()
	ok := func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok","uptime":"90061s","version":"1.2.0","service":"edge-api"}`))
	}
	mux.HandleFunc("GET /health", ok)
	mux.HandleFunc("GET /ready", ok)
	mux.HandleFunc("GET /metrics", ok)
	mux.HandleFunc("GET /reboot", func(w http.ResponseWriter, r *http.Request) {
		e.reboots.Add(1)
		if e.rebootFails.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"status":"rebooting"}`))
	})
	mux.HandleFunc("GET /seeds", func(w http.ResponseWriter, r *http.Request) {
		e.listings.Add(1)
		if e.holdSeeds.Load() {
			e.held.Add(1)
			select {
			case <-e.gate:
			case <-r.Context().Done():
				return
			}
		}
		json.NewEncoder(w).Encode(directory.SeedsResponse{Seeds: []directory.SeedInfo{
			{ID: "s1", Host: "host-1", Addr: "10.0.0.1:7000"},
		}})
	})
	mux.HandleFunc("GET /seeds/s1/{path}", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("path") == "services" {
			json.NewEncoder(w).Encode(directory.ServicesResponse{Services: []directory.ServiceInfo{
				{Name: "pihole", Actions: []string{"enable"}},
			}})
			return
		}
		ok(w, r)
	})
	return mux
}

func newTestConfig(apiURL string) *config.Config {
	cfg := &config.Config{}
	cfg.Targets.APIURL = apiURL
	cfg.Targets.Environment = "test"
	cfg.Polling.Interval = time.Hour
	cfg.Directory.Enabled = true
	cfg.Directory.APIBase = apiURL
	cfg.Directory.Interval = time.Hour
	cfg.Directory.OverviewInterval = time.Hour
	return cfg
}

func newTestServer(t *testing.T, cfg *config.Config, start bool) (*server, *edgeAPI) {
	t.Helper()

	api := &edgeAPI{gate: make(chan struct{})}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	if cfg == nil {
		cfg = newTestConfig(srv.URL)
	}
	backend := health.NewFetcherWithClient(srv.Client(), zap.NewNop())

	s, err := NewServer(cfg, backend, nil, nil, zap.NewNop())
	require.NoError(t, err)

	if start {
		require.NoError(t, s.Start())
		t.Cleanup(func() {
			s.Shutdown(context.Background())
		})
	}
	return s.(*server), api
}

func do(t *testing.T, h http.Handler, method, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func TestServer_Healthz(t *testing.T) {
	s, _ := newTestServer(t, nil, false)

	rec := do(t, s.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestServer_Status(t *testing.T) {
	s, _ := newTestServer(t, nil, true)

	require.Eventually(t, func() bool {
		rec := do(t, s.Handler(), http.MethodGet, "/api/status", nil)
		return decode[status.Snapshot](t, rec).Healthy
	}, waitFor, 10*time.Millisecond)

	snapshot := decode[status.Snapshot](t, do(t, s.Handler(), http.MethodGet, "/api/status", nil))
	assert.Equal(t, "edge-api", snapshot.Label)
	assert.Equal(t, "healthy", snapshot.Status)
	assert.Equal(t, "1d 1h 1m", snapshot.UptimeLabel)
	assert.Equal(t, 1, snapshot.Count)
	assert.Equal(t, "test", snapshot.Environment)

	rec := do(t, s.Handler(), http.MethodGet, "/api/status/next", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/api/status/next", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, decode[status.Snapshot](t, rec).Index)
}

func TestServer_Targets(t *testing.T) {
	cfg := newTestConfig("")
	cfg.Targets.APIURLs = "Primary|http://a.example.com,Backup|http://b.example.com"
	cfg.Directory.Enabled = false
	s, _ := newTestServer(t, cfg, false)

	resp := decode[targetsResponse](t, do(t, s.Handler(), http.MethodGet, "/api/targets", nil))
	assert.Equal(t, "test", resp.Environment)
	assert.Equal(t, 0, resp.Index)
	require.Len(t, resp.Targets, 2)
	assert.Equal(t, "Backup", resp.Targets[1].Label)

	do(t, s.Handler(), http.MethodPost, "/api/status/previous", nil)
	resp = decode[targetsResponse](t, do(t, s.Handler(), http.MethodGet, "/api/targets", nil))
	assert.Equal(t, 1, resp.Index)
}

func TestServer_SeedEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil, true)

	rec := do(t, s.Handler(), http.MethodGet, "/api/seeds/s1/endpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	snapshot := decode[directory.Snapshot](t, rec)
	assert.Equal(t, "s1", snapshot.SeedID)
	assert.Len(t, snapshot.Endpoints, 4)
	assert.Equal(t, "pihole", snapshot.Services["s1"][0].Name)

	rec = do(t, s.Handler(), http.MethodGet, "/api/seeds/missing/endpoints", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	snapshot = decode[directory.Snapshot](t, rec)
	assert.True(t, snapshot.Missing)
	assert.True(t, snapshot.Halted)
	assert.NotEmpty(t, snapshot.Error)

	rec = do(t, s.Handler(), http.MethodPost, "/api/seeds/missing/refresh", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, decode[directory.Snapshot](t, rec).Missing)

	rec = do(t, s.Handler(), http.MethodPost, "/api/seeds/s1/refresh", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_SeedScopeIgnoresRequestCancel(t *testing.T) {
	s, _ := newTestServer(t, nil, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	get := func(ctx context.Context, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := get(ctx, "/api/seeds/s1/endpoints")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[directory.Snapshot](t, rec).Endpoints, 4)

	rec = get(ctx, "/api/seeds/ghost/endpoints")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, decode[directory.Snapshot](t, rec).Missing)

	rec = get(context.Background(), "/api/seeds/ghost/endpoints")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.True(t, decode[directory.Snapshot](t, rec).Missing)
}

func TestServer_UnknownSeedsAreNotKept(t *testing.T) {
	api := &edgeAPI{gate: make(chan struct{})}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	recorder := metrics.NewRecorder("edgeboard")
	backend := health.NewFetcherWithClient(srv.Client(), zap.NewNop())
	dash, err := NewServer(newTestConfig(srv.URL), backend, nil, recorder, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, dash.Start())
	t.Cleanup(func() { dash.Shutdown(context.Background()) })
	s := dash.(*server)

	for i := 0; i < maxSeedScopes+8; i++ {
		rec := do(t, s.Handler(), http.MethodGet, fmt.Sprintf("/api/seeds/made-up-%d/endpoints", i), nil)
		require.Equal(t, http.StatusNotFound, rec.Code)
	}

	s.mu.RLock()
	assert.Len(t, s.directories, 1)
	s.mu.RUnlock()

	rec := do(t, s.Handler(), http.MethodGet, "/api/seeds/s1/endpoints", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	s.mu.RLock()
	_, kept := s.directories["s1"]
	s.mu.RUnlock()
	assert.True(t, kept)

	families, err := recorder.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			for _, label := range metric.GetLabel() {
				assert.NotContains(t, label.GetValue(), "made-up", family.GetName())
			}
		}
	}

	// A kept scope whose seed has left is dropped by the next sweep.
	s.mu.Lock()
	gone := s.newDirectoryLocked("gone", true)
	s.mu.Unlock()
	snapshot, _ := gone.Load(context.Background())
	require.True(t, snapshot.Missing)

	s.mu.Lock()
	s.directories["gone"] = gone
	s.pruneMissingLocked()
	_, kept = s.directories["gone"]
	_, live := s.directories["s1"]
	s.mu.Unlock()
	assert.False(t, kept)
	assert.True(t, live)
}

func TestServer_SeedScopeNotStartedAfterRebuild(t *testing.T) {
	s, api := newTestServer(t, nil, false)
	s.cfg.Directory.Interval = 10 * time.Millisecond
	require.NoError(t, s.Start())
	t.Cleanup(func() { s.Shutdown(context.Background()) })

	require.Eventually(t, func() bool {
		rec := do(t, s.Handler(), http.MethodGet, "/api/overview", nil)
		return len(decode[status.OverviewSnapshot](t, rec).Cards) == 1
	}, waitFor, 10*time.Millisecond)

	api.holdSeeds.Store(true)

	result := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		result <- do(t, s.Handler(), http.MethodGet, "/api/seeds/s1/endpoints", nil)
	}()

	// One listing is held by the unscoped loop, the other by the request.
	require.Eventually(t, func() bool {
		return api.held.Load() >= 2
	}, waitFor, 5*time.Millisecond)

	cfg := newTestConfig(s.cfg.Targets.APIURL)
	cfg.Directory.Enabled = false
	require.NoError(t, s.UpdateConfig(cfg))

	api.holdSeeds.Store(false)
	close(api.gate)

	var rec *httptest.ResponseRecorder
	select {
	case rec = <-result:
	case <-time.After(waitFor):
		t.Fatal("seed endpoints request did not return")
	}
	assert.Equal(t, http.StatusOK, rec.Code)

	s.mu.RLock()
	assert.Empty(t, s.directories)
	s.mu.RUnlock()

	listings := api.listings.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, listings, api.listings.Load())
}

func TestServer_UnscopedEndpoints(t *testing.T) {
	s, _ := newTestServer(t, nil, true)

	require.Eventually(t, func() bool {
		rec := do(t, s.Handler(), http.MethodGet, "/api/endpoints", nil)
		return rec.Code == http.StatusOK && len(decode[directory.Snapshot](t, rec).Endpoints) == 8
	}, waitFor, 10*time.Millisecond)
}

func TestServer_Overview(t *testing.T) {
	s, _ := newTestServer(t, nil, true)

	require.Eventually(t, func() bool {
		rec := do(t, s.Handler(), http.MethodGet, "/api/overview", nil)
		snapshot := decode[status.OverviewSnapshot](t, rec)
		return len(snapshot.Cards) == 1 && snapshot.Cards[0].Healthy
	}, waitFor, 10*time.Millisecond)
}

func TestServer_DirectoryDisabled(t *testing.T) {
	cfg := newTestConfig("http://127.0.0.1:1")
	cfg.Directory.Enabled = false
	s, _ := newTestServer(t, cfg, true)

	for _, path := range []string{"/api/endpoints", "/api/seeds/s1/endpoints", "/api/overview"} {
		rec := do(t, s.Handler(), http.MethodGet, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
		assert.Contains(t, rec.Body.String(), "seed directory is disabled", path)
	}
}

func TestServer_Reboot(t *testing.T) {
	s, api := newTestServer(t, nil, false)

	rec := do(t, s.Handler(), http.MethodPost, "/api/reboot", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"rebooting"`)
	assert.Equal(t, int32(1), api.reboots.Load())

	api.rebootFails.Store(true)
	rec = do(t, s.Handler(), http.MethodPost, "/api/reboot", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "status 500")
}

func TestServer_RebootWithoutTarget(t *testing.T) {
	cfg := newTestConfig("")
	cfg.Directory.Enabled = false
	s, _ := newTestServer(t, cfg, false)

	rec := do(t, s.Handler(), http.MethodPost, "/api/reboot", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"API target is not configured"}`, rec.Body.String())
}

func TestServer_RebootRequiresRole(t *testing.T) {
	api := &edgeAPI{}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	cfg := newTestConfig(srv.URL)
	cfg.Directory.Enabled = false
	cfg.Middleware.Auth = config.AuthConfig{
		Enabled:    true,
		JWTSecret:  "test-secret",
		JWTIssuer:  "edgeboard",
		SkipPaths:  []string{"/healthz"},
		RebootRole: "operator",
	}
	s, _ := newTestServer(t, cfg, false)

	auth, err := middleware.NewAuthMiddleware(zap.NewNop(), cfg.Middleware.Auth)
	require.NoError(t, err)
	viewer, err := auth.GenerateToken("alice", []string{"viewer"}, time.Minute)
	require.NoError(t, err)
	operator, err := auth.GenerateToken("bob", []string{"viewer", "operator"}, time.Minute)
	require.NoError(t, err)

	rec := do(t, s.Handler(), http.MethodPost, "/api/reboot", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/api/reboot", http.Header{
		"Authorization": {"Bearer " + viewer},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, s.Handler(), http.MethodGet, "/api/status", http.Header{
		"Authorization": {"Bearer " + viewer},
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s.Handler(), http.MethodPost, "/api/reboot", http.Header{
		"Authorization": {"Bearer " + operator},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int32(1), api.reboots.Load())

	rec = do(t, s.Handler(), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_UpdateConfig(t *testing.T) {
	s, _ := newTestServer(t, nil, true)

	cfg := newTestConfig(s.cfg.Targets.APIURL)
	cfg.Targets.APIURLs = "One|http://one.example.com,Two|http://two.example.com"
	cfg.Targets.Environment = "staging"
	require.NoError(t, s.UpdateConfig(cfg))

	resp := decode[targetsResponse](t, do(t, s.Handler(), http.MethodGet, "/api/targets", nil))
	require.Len(t, resp.Targets, 2)
	assert.Equal(t, "One", resp.Targets[0].Label)
	assert.Equal(t, "staging", resp.Environment)

	// Directory settings are unchanged, so the unscoped directory survives.
	s.mu.RLock()
	_, exists := s.directories[""]
	s.mu.RUnlock()
	assert.True(t, exists)

	cfg2 := newTestConfig(s.cfg.Targets.APIURL)
	cfg2.Directory.Enabled = false
	require.NoError(t, s.UpdateConfig(cfg2))

	rec := do(t, s.Handler(), http.MethodGet, "/api/overview", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_StartTwice(t *testing.T) {
	s, _ := newTestServer(t, nil, true)

	err := s.Start()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "already running"))
}
