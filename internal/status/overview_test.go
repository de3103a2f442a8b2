package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bpradana/edgeboard/internal/directory"
	"github.com/bpradana/edgeboard/internal/health"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type seedBackend struct {
	mu    sync.Mutex
	seeds []directory.SeedInfo
	down  map[string]bool
}

func (b *seedBackend) set(seeds ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seeds = b.seeds[:0]
	for _, id := range seeds {
		b.seeds = append(b.seeds, directory.SeedInfo{ID: id})
	}
}

func (b *seedBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /seeds", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		json.NewEncoder(w).Encode(directory.SeedsResponse{Seeds: b.seeds})
	})
	mux.HandleFunc("GET /seeds/{id}/health", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		b.mu.Lock()
		down := b.down[id]
		b.mu.Unlock()
		if down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(health.HealthResponse{Status: "ok", Service: "seed-" + id, Uptime: "90000ms"})
	})
	return mux
}

func TestOverview_TracksSeeds(t *testing.T) {
	b := &seedBackend{down: map[string]bool{"s2": true}}
	b.set("s1", "s2")
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	ov := NewOverview(OverviewConfig{
		APIBase:      srv.URL,
		Interval:     20 * time.Millisecond,
		PollInterval: time.Hour,
		MaxUnits:     3,
	}, health.NewFetcherWithClient(srv.Client(), zap.NewNop()), zap.NewNop())
	ov.Start(context.Background())
	defer ov.Stop()

	require.Eventually(t, func() bool {
		snap := ov.Snapshot()
		return len(snap.Cards) == 2 && snap.Cards[0].Health != nil && snap.Cards[1].Error != ""
	}, waitFor, tickFor)

	snap := ov.Snapshot()
	assert.Equal(t, "s1", snap.Cards[0].Label)
	assert.Equal(t, srv.URL+"/seeds/s1", snap.Cards[0].Target.APIURL)
	assert.Equal(t, "1m 30s", snap.Cards[0].UptimeLabel)
	assert.True(t, snap.Cards[0].Healthy)
	assert.Equal(t, "s2", snap.Cards[1].Label)
	assert.False(t, snap.Cards[1].Healthy)
	assert.Contains(t, snap.Cards[1].Error, "status 503")

	b.set("s2")
	require.Eventually(t, func() bool {
		cards := ov.Snapshot().Cards
		return len(cards) == 1 && cards[0].Label == "s2"
	}, waitFor, tickFor)
}

func TestOverview_ReportsRemovedSeeds(t *testing.T) {
	b := &seedBackend{}
	b.set("s1", "s2")
	srv := httptest.NewServer(b.handler())
	defer srv.Close()

	var mu sync.Mutex
	var removed []string
	ov := NewOverview(OverviewConfig{
		APIBase:      srv.URL,
		Interval:     20 * time.Millisecond,
		PollInterval: time.Hour,
		OnRemove: func(target health.Target) {
			mu.Lock()
			removed = append(removed, target.Label)
			mu.Unlock()
		},
	}, health.NewFetcherWithClient(srv.Client(), zap.NewNop()), zap.NewNop())
	ov.Start(context.Background())

	require.Eventually(t, func() bool { return len(ov.Snapshot().Cards) == 2 }, waitFor, tickFor)

	b.set("s2")
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(removed) == 1
	}, waitFor, tickFor)

	ov.Stop()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"s1", "s2"}, removed)
}

func TestOverview_DiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ov := NewOverview(OverviewConfig{APIBase: srv.URL, Interval: time.Hour},
		health.NewFetcherWithClient(srv.Client(), zap.NewNop()), zap.NewNop())
	ov.Start(context.Background())
	defer ov.Stop()

	require.Eventually(t, func() bool { return ov.Snapshot().Error != "" }, waitFor, tickFor)
	snap := ov.Snapshot()
	assert.Contains(t, snap.Error, "failed to fetch seeds")
	assert.Empty(t, snap.Cards)
}

func TestOverview_NoAPIBase(t *testing.T) {
	ov := NewOverview(OverviewConfig{Interval: time.Hour},
		health.NewFetcherWithClient(http.DefaultClient, zap.NewNop()), zap.NewNop())
	ov.Start(context.Background())
	defer ov.Stop()

	require.Eventually(t, func() bool { return ov.Snapshot().Error != "" }, waitFor, tickFor)
	assert.Equal(t, "API base URL is not configured", ov.Snapshot().Error)
}
