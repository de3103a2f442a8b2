package status

import (
	"context"
	"sync"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/bpradana/edgeboard/internal/health"
	"go.uber.org/zap"
)

// AggregatorConfig configures an Aggregator
type AggregatorConfig struct {
	Polling     config.PollingConfig
	Environment string
	OnResult    func(health.Result)
}

// Snapshot is the aggregated status of the active target.
type Snapshot struct {
	Card
	Index       int    `json:"index"`
	Count       int    `json:"count"`
	Rotating    bool   `json:"rotating"`
	Environment string `json:"environment"`
}

// Aggregator cycles display focus over a list of targets and keeps one
// poller bound to whichever target is active.
type Aggregator struct {
	fetcher health.HealthFetcher
	logger  *zap.Logger

	mu       sync.RWMutex
	cfg      AggregatorConfig
	poller   *health.Poller
	targets  []health.Target
	rotation Rotation
	ctx      context.Context
	running  bool

	// bindMu serializes rebinding so the poller always ends up on the
	// latest active target.
	bindMu sync.Mutex

	cycleMu   sync.Mutex
	cycleStop chan struct{}
	cycleDone chan struct{}
}

// NewAggregator creates an aggregator with no targets
func NewAggregator(cfg AggregatorConfig, fetcher health.HealthFetcher, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Aggregator{
		fetcher: fetcher,
		logger:  logger,
		cfg:     cfg,
		poller:  newPoller(cfg, fetcher, logger),
	}
}

func newPoller(cfg AggregatorConfig, fetcher health.HealthFetcher, logger *zap.Logger) *health.Poller {
	return health.NewPoller(health.PollerConfig{
		Interval:      cfg.Polling.Interval,
		SkipImmediate: cfg.Polling.SkipImmediate,
		OnResult:      cfg.OnResult,
	}, fetcher, logger)
}

// Start begins polling the active target and, when eligible, rotating
func (a *Aggregator) Start(ctx context.Context) {
	a.mu.Lock()
	a.ctx = ctx
	a.running = true
	count := len(a.targets)
	polling := a.cfg.Polling
	a.mu.Unlock()

	a.logger.Info("Starting status aggregator",
		zap.Int("targets", count),
		zap.Duration("interval", polling.Interval),
		zap.Duration("cycle_interval", polling.CycleInterval))

	a.rebind()
	a.restartRotation()
}

// Stop halts rotation and polling
func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.running = false
	poller := a.poller
	a.mu.Unlock()

	a.stopRotation()
	poller.Stop()
	a.logger.Info("Stopped status aggregator")
}

// SetTargets replaces the target list. The active index is kept when it
// is still in range and reset to 0 otherwise.
func (a *Aggregator) SetTargets(targets []health.Target) {
	a.mu.Lock()
	a.targets = append([]health.Target(nil), targets...)
	index := a.rotation.Resize(len(a.targets))
	a.mu.Unlock()

	a.logger.Info("Status targets updated",
		zap.Int("targets", len(targets)),
		zap.Int("active_index", index))

	a.rebind()
	a.restartRotation()
}

// Reconfigure applies reloaded polling settings and the environment
// label. A changed poll interval replaces the poller; the active index is
// kept. The request timeout belongs to the fetcher and is not changed.
func (a *Aggregator) Reconfigure(polling config.PollingConfig, environment string) {
	a.bindMu.Lock()
	a.mu.Lock()
	old := a.cfg.Polling
	a.cfg.Polling = polling
	a.cfg.Environment = environment

	var replaced *health.Poller
	if old.Interval != polling.Interval || old.SkipImmediate != polling.SkipImmediate {
		replaced = a.poller
		a.poller = newPoller(a.cfg, a.fetcher, a.logger)
	}
	a.mu.Unlock()
	a.bindMu.Unlock()

	a.logger.Info("Status aggregator reconfigured",
		zap.Duration("interval", polling.Interval),
		zap.Duration("cycle_interval", polling.CycleInterval),
		zap.String("environment", environment))

	if replaced != nil {
		replaced.Stop()
		a.rebind()
	}
	if old.CycleInterval != polling.CycleInterval {
		a.restartRotation()
	}
}

// Targets returns a copy of the target list
func (a *Aggregator) Targets() []health.Target {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]health.Target(nil), a.targets...)
}

// Next makes the following target active
func (a *Aggregator) Next() int {
	index := a.rotation.Next()
	a.rebind()
	return index
}

// Previous makes the preceding target active
func (a *Aggregator) Previous() int {
	index := a.rotation.Previous()
	a.rebind()
	return index
}

// ActiveTarget returns the active target, or nil for an empty list
func (a *Aggregator) ActiveTarget() *health.Target {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.activeLocked()
}

// Snapshot returns the renderable status at this instant
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.RLock()
	target := a.activeLocked()
	count := len(a.targets)
	cfg, poller := a.cfg, a.poller
	a.mu.RUnlock()

	return Snapshot{
		Card:        NewCard(target, poller.Snapshot(), count > 1, cfg.Polling.MaxUnits),
		Index:       a.rotation.Current(),
		Count:       count,
		Rotating:    rotationEligible(cfg.Polling, count),
		Environment: cfg.Environment,
	}
}

func (a *Aggregator) activeLocked() *health.Target {
	if len(a.targets) == 0 {
		return nil
	}
	index := a.rotation.Current()
	if index >= len(a.targets) {
		index = 0
	}
	t := a.targets[index]
	return &t
}

// rebind points the poller at the active target
func (a *Aggregator) rebind() {
	a.bindMu.Lock()
	defer a.bindMu.Unlock()

	a.mu.RLock()
	ctx, running, poller := a.ctx, a.running, a.poller
	target := a.activeLocked()
	a.mu.RUnlock()

	if !running {
		return
	}
	poller.Bind(ctx, target)
}

func rotationEligible(polling config.PollingConfig, count int) bool {
	return polling.CycleInterval > 0 && count >= 2
}

// restartRotation replaces the rotation ticker to match the current
// target count. No ticker exists for fewer than two targets.
func (a *Aggregator) restartRotation() {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	a.haltRotationLocked()

	a.mu.RLock()
	ctx, running, count := a.ctx, a.running, len(a.targets)
	polling := a.cfg.Polling
	a.mu.RUnlock()

	if !running || !rotationEligible(polling, count) {
		return
	}

	a.cycleStop = make(chan struct{})
	a.cycleDone = make(chan struct{})
	go a.rotate(ctx, polling.CycleInterval, a.cycleStop, a.cycleDone)
}

func (a *Aggregator) stopRotation() {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	a.haltRotationLocked()
}

func (a *Aggregator) haltRotationLocked() {
	if a.cycleStop == nil {
		return
	}
	close(a.cycleStop)
	<-a.cycleDone
	a.cycleStop, a.cycleDone = nil, nil
}

// rotate advances the active target on every cycle tick
func (a *Aggregator) rotate(ctx context.Context, every time.Duration, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			index := a.Next()
			a.logger.Debug("Rotated active target", zap.Int("active_index", index))
		}
	}
}
