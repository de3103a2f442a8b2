package status

import (
	"context"
	"sync"
	"time"

	"github.com/bpradana/edgeboard/internal/directory"
	"github.com/bpradana/edgeboard/internal/health"
	"go.uber.org/zap"
)

// DefaultOverviewInterval is used when OverviewConfig.Interval is not set.
const DefaultOverviewInterval = 15 * time.Second

// OverviewClient discovers seeds and polls their health
type OverviewClient interface {
	directory.Client
	health.HealthFetcher
}

// OverviewConfig configures an Overview
type OverviewConfig struct {
	APIBase      string
	Interval     time.Duration
	PollInterval time.Duration
	MaxUnits     int
	OnResult     func(health.Result)
	// OnRemove is called for each seed whose poller was stopped.
	OnRemove func(health.Target)
}

// OverviewSnapshot lists one card per discovered seed, in seed order
type OverviewSnapshot struct {
	Cards     []Card    `json:"cards"`
	Error     string    `json:"error,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type seedPoller struct {
	target health.Target
	poller *health.Poller
}

// Overview discovers seeds and keeps one health poller per seed, using
// {APIBase}/seeds/{id} as the seed's base URL.
type Overview struct {
	cfg    OverviewConfig
	client OverviewClient
	logger *zap.Logger

	mu        sync.RWMutex
	order     []string
	pollers   map[string]*seedPoller
	err       error
	updatedAt time.Time

	runMu  sync.Mutex
	stopCh chan struct{}
	done   chan struct{}
}

// NewOverview creates an overview with no seeds
func NewOverview(cfg OverviewConfig, client OverviewClient, logger *zap.Logger) *Overview {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultOverviewInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Overview{
		cfg:     cfg,
		client:  client,
		logger:  logger,
		pollers: make(map[string]*seedPoller),
	}
}

// Start discovers seeds immediately and then once per interval
func (o *Overview) Start(ctx context.Context) {
	o.runMu.Lock()
	defer o.runMu.Unlock()

	if o.stopCh != nil {
		return
	}
	o.stopCh = make(chan struct{})
	o.done = make(chan struct{})

	o.logger.Info("Starting seed overview",
		zap.String("api_base", o.cfg.APIBase),
		zap.Duration("interval", o.cfg.Interval))

	go o.run(ctx, o.stopCh, o.done)
}

// Stop halts discovery and every seed poller
func (o *Overview) Stop() {
	o.runMu.Lock()
	if o.stopCh != nil {
		close(o.stopCh)
		<-o.done
		o.stopCh, o.done = nil, nil
	}
	o.runMu.Unlock()

	o.mu.Lock()
	pollers := o.pollers
	o.pollers = make(map[string]*seedPoller)
	o.order = nil
	o.mu.Unlock()

	for _, sp := range pollers {
		o.remove(sp)
	}
	o.logger.Info("Stopped seed overview")
}

// Snapshot returns one card per seed in discovery order
func (o *Overview) Snapshot() OverviewSnapshot {
	o.mu.RLock()
	defer o.mu.RUnlock()

	snap := OverviewSnapshot{
		Cards:     make([]Card, 0, len(o.order)),
		UpdatedAt: o.updatedAt,
	}
	if o.err != nil {
		snap.Error = o.err.Error()
	}
	for _, id := range o.order {
		sp := o.pollers[id]
		target := sp.target
		snap.Cards = append(snap.Cards, NewCard(&target, sp.poller.Snapshot(), true, o.cfg.MaxUnits))
	}
	return snap
}

func (o *Overview) run(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	o.discover(ctx)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			o.discover(ctx)
		}
	}
}

// discover fetches the seed list and reconciles the pollers with it.
// On failure the current pollers keep running.
func (o *Overview) discover(ctx context.Context) {
	seeds, err := directory.FetchSeeds(ctx, o.client, o.cfg.APIBase)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		o.mu.Lock()
		o.err = err
		o.updatedAt = time.Now()
		o.mu.Unlock()
		o.logger.Warn("Seed discovery failed", zap.Error(err))
		return
	}

	seen := make(map[string]bool, len(seeds))
	order := make([]string, 0, len(seeds))
	var added []*seedPoller

	o.mu.Lock()
	for _, seed := range seeds {
		if seen[seed.ID] {
			continue
		}
		seen[seed.ID] = true
		order = append(order, seed.ID)

		if _, ok := o.pollers[seed.ID]; ok {
			continue
		}
		sp := &seedPoller{
			target: health.Target{Label: seed.ID, APIURL: directory.SeedURL(o.cfg.APIBase, seed.ID)},
			poller: health.NewPoller(health.PollerConfig{
				Interval: o.cfg.PollInterval,
				OnResult: o.cfg.OnResult,
			}, o.client, o.logger.With(zap.String("seed", seed.ID))),
		}
		o.pollers[seed.ID] = sp
		added = append(added, sp)
	}

	var removed []*seedPoller
	for id, sp := range o.pollers {
		if !seen[id] {
			removed = append(removed, sp)
			delete(o.pollers, id)
		}
	}

	o.order = order
	o.err = nil
	o.updatedAt = time.Now()
	o.mu.Unlock()

	for _, sp := range removed {
		o.logger.Info("Seed left overview", zap.String("seed", sp.target.Label))
		o.remove(sp)
	}
	for _, sp := range added {
		target := sp.target
		sp.poller.Bind(ctx, &target)
	}
}

func (o *Overview) remove(sp *seedPoller) {
	sp.poller.Stop()
	if o.cfg.OnRemove != nil {
		o.cfg.OnRemove(sp.target)
	}
}
