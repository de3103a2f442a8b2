package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(call int, baseURL string) (*HealthResponse, error)
}

func (f *fakeFetcher) FetchHealth(ctx context.Context, baseURL string) (*HealthResponse, error) {
	f.mu.Lock()
	f.calls++
	n := f.calls
	f.mu.Unlock()
	return f.fn(n, baseURL)
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

const (
	waitFor = time.Second
	tickFor = 5 * time.Millisecond
)

func TestPoller_ImmediatePollSuccess(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int, string) (*HealthResponse, error) {
		return &HealthResponse{Status: "ok", Service: "ghost"}, nil
	}}
	var observed []Result
	var observedMu sync.Mutex
	p := NewPoller(PollerConfig{Interval: time.Hour, OnResult: func(r Result) {
		observedMu.Lock()
		observed = append(observed, r)
		observedMu.Unlock()
	}}, fetcher, zap.NewNop())
	defer p.Stop()

	p.Bind(context.Background(), &Target{Label: "a", APIURL: "http://a"})

	require.Eventually(t, func() bool { return p.Snapshot().Health != nil }, waitFor, tickFor)
	state := p.Snapshot()
	assert.Equal(t, "ghost", state.Health.Service)
	assert.NoError(t, state.Err)
	assert.Equal(t, StatusHealthy, state.Status())
	assert.Equal(t, "http://a", state.Target.APIURL)

	observedMu.Lock()
	defer observedMu.Unlock()
	require.Len(t, observed, 1)
	assert.Equal(t, "a", observed[0].Target.Label)
}

func TestPoller_RepeatsOnInterval(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int, string) (*HealthResponse, error) {
		return &HealthResponse{Status: "ok"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: 10 * time.Millisecond}, fetcher, zap.NewNop())
	defer p.Stop()

	p.Bind(context.Background(), &Target{APIURL: "http://a"})

	assert.Eventually(t, func() bool { return fetcher.Calls() >= 3 }, waitFor, tickFor)
}

func TestPoller_FailureDiscardsPreviousHealth(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(call int, _ string) (*HealthResponse, error) {
		if call == 1 {
			return &HealthResponse{Status: "ok", Version: "1.0.0"}, nil
		}
		return nil, &RequestError{URL: "http://a/health", StatusCode: 502}
	}}
	p := NewPoller(PollerConfig{Interval: 20 * time.Millisecond}, fetcher, zap.NewNop())
	defer p.Stop()

	p.Bind(context.Background(), &Target{APIURL: "http://a"})

	require.Eventually(t, func() bool { return p.Snapshot().Err != nil }, waitFor, tickFor)
	state := p.Snapshot()
	assert.Nil(t, state.Health)
	assert.Equal(t, StatusUnhealthy, state.Status())
	assert.Contains(t, state.ErrorMessage(), "status 502")
}

func TestPoller_SuccessClearsError(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(call int, _ string) (*HealthResponse, error) {
		if call == 1 {
			return nil, errors.New("connection refused")
		}
		return &HealthResponse{Status: "ok"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: 20 * time.Millisecond}, fetcher, zap.NewNop())
	defer p.Stop()

	p.Bind(context.Background(), &Target{APIURL: "http://a"})

	require.Eventually(t, func() bool { return p.Snapshot().Health != nil }, waitFor, tickFor)
	assert.NoError(t, p.Snapshot().Err)
}

func TestPoller_BindNilReportsConfigError(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int, string) (*HealthResponse, error) {
		return &HealthResponse{Status: "ok"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: time.Hour}, fetcher, zap.NewNop())

	p.Bind(context.Background(), &Target{APIURL: "http://a"})
	require.Eventually(t, func() bool { return p.Snapshot().Health != nil }, waitFor, tickFor)

	p.Bind(context.Background(), nil)

	state := p.Snapshot()
	assert.Nil(t, state.Target)
	assert.Nil(t, state.Health)
	var cfgErr *ConfigError
	assert.True(t, errors.As(state.Err, &cfgErr))
}

func TestPoller_RebindDiscardsLateResults(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(_ int, baseURL string) (*HealthResponse, error) {
		if baseURL == "http://old" {
			<-release
			return &HealthResponse{Status: "ok", Service: "old"}, nil
		}
		return &HealthResponse{Status: "ok", Service: "new"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: time.Hour}, fetcher, zap.NewNop())
	defer p.Stop()

	p.Bind(context.Background(), &Target{APIURL: "http://old"})
	p.Bind(context.Background(), &Target{APIURL: "http://new"})
	require.Eventually(t, func() bool { return p.Snapshot().Health != nil }, waitFor, tickFor)

	close(release)
	require.Eventually(t, func() bool { return fetcher.Calls() == 2 }, waitFor, tickFor)
	time.Sleep(20 * time.Millisecond)

	state := p.Snapshot()
	assert.Equal(t, "new", state.Health.Service)
	assert.Equal(t, "http://new", state.Target.APIURL)
}

func TestPoller_OlderTickNeverOverwritesNewer(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(call int, _ string) (*HealthResponse, error) {
		if call == 1 {
			<-release
			return &HealthResponse{Status: "ok", Version: "first"}, nil
		}
		return &HealthResponse{Status: "ok", Version: "second"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: time.Hour, SkipImmediate: true}, fetcher, zap.NewNop())
	defer p.Stop()

	ctx := context.Background()
	target := Target{APIURL: "http://a"}
	p.Bind(ctx, &target)

	p.mu.Lock()
	gen := p.generation
	p.mu.Unlock()

	p.tick(ctx, target, gen)
	require.Eventually(t, func() bool { return fetcher.Calls() == 1 }, waitFor, tickFor)
	p.tick(ctx, target, gen)
	require.Eventually(t, func() bool { return p.Snapshot().Health != nil }, waitFor, tickFor)

	close(release)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, "second", p.Snapshot().Health.Version)
}

func TestPoller_SameURLRebindIsNoop(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int, string) (*HealthResponse, error) {
		return &HealthResponse{Status: "ok"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: time.Hour}, fetcher, zap.NewNop())
	defer p.Stop()

	p.Bind(context.Background(), &Target{Label: "one", APIURL: "http://a"})
	p.Bind(context.Background(), &Target{Label: "renamed", APIURL: "http://a"})

	require.Eventually(t, func() bool { return fetcher.Calls() == 1 }, waitFor, tickFor)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, fetcher.Calls())
	assert.Equal(t, "renamed", p.Snapshot().Target.Label)
}

func TestPoller_SameURLRebindResumesAfterCancel(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int, string) (*HealthResponse, error) {
		return &HealthResponse{Status: "ok"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: time.Hour}, fetcher, zap.NewNop())
	defer p.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	p.Bind(ctx, &Target{APIURL: "http://a"})
	require.Eventually(t, func() bool { return fetcher.Calls() == 1 }, waitFor, tickFor)

	cancel()
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return !p.loopAliveLocked()
	}, waitFor, tickFor)

	p.Bind(context.Background(), &Target{APIURL: "http://a"})
	require.Eventually(t, func() bool { return fetcher.Calls() == 2 }, waitFor, tickFor)

	p.mu.Lock()
	alive := p.loopAliveLocked()
	p.mu.Unlock()
	assert.True(t, alive)
}

func TestPoller_SkipImmediate(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(int, string) (*HealthResponse, error) {
		return &HealthResponse{Status: "ok"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: time.Hour, SkipImmediate: true}, fetcher, zap.NewNop())
	defer p.Stop()

	p.Bind(context.Background(), &Target{APIURL: "http://a"})
	time.Sleep(20 * time.Millisecond)

	assert.Zero(t, fetcher.Calls())
	assert.Equal(t, StatusUnknown, p.Snapshot().Status())
}

func TestPoller_StopDiscardsInFlight(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(int, string) (*HealthResponse, error) {
		<-release
		return &HealthResponse{Status: "ok"}, nil
	}}
	p := NewPoller(PollerConfig{Interval: time.Hour}, fetcher, zap.NewNop())

	p.Bind(context.Background(), &Target{APIURL: "http://a"})
	require.Eventually(t, func() bool { return fetcher.Calls() == 1 }, waitFor, tickFor)

	p.Stop()
	close(release)
	time.Sleep(20 * time.Millisecond)

	assert.Nil(t, p.Snapshot().Health)
}
