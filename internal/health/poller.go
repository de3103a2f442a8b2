package health

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultPollInterval is used when PollerConfig.Interval is not set.
const DefaultPollInterval = 5 * time.Second

// PollerConfig configures a Poller
type PollerConfig struct {
	Interval time.Duration
	// SkipImmediate delays the first poll of a binding until the first tick.
	SkipImmediate bool
	// OnResult, when set, observes every committed result.
	OnResult func(Result)
}

// Poller polls the health of one bound target on a fixed interval.
//
// Every bind bumps a generation counter. Ticks capture the generation and
// a sequence number when they start; a result is committed only if its
// generation is still current and no later-started tick has committed.
// In-flight requests are never aborted on rebind, their results are dropped.
type Poller struct {
	fetcher HealthFetcher
	logger  *zap.Logger
	cfg     PollerConfig

	mu         sync.Mutex
	target     *Target
	generation uint64
	issued     uint64
	committed  uint64
	health     *HealthResponse
	err        error
	updatedAt  time.Time

	stopCh chan struct{}
	done   chan struct{}
}

// NewPoller creates an idle poller
func NewPoller(cfg PollerConfig, fetcher HealthFetcher, logger *zap.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Poller{
		fetcher: fetcher,
		logger:  logger,
		cfg:     cfg,
	}
}

// Bind points the poller at target. Binding the URL that is already bound
// is a no-op; binding nil stops polling and reports ErrNoTarget. ctx bounds
// the polling loop and its requests.
func (p *Poller) Bind(ctx context.Context, target *Target) {
	p.mu.Lock()
	if target != nil && p.target != nil && p.loopAliveLocked() && p.target.APIURL == target.APIURL {
		p.target.Label = target.Label
		p.mu.Unlock()
		return
	}

	p.generation++
	gen := p.generation
	stopCh, done := p.stopCh, p.done
	p.stopCh, p.done = nil, nil
	p.health = nil
	p.updatedAt = time.Now()

	if target == nil {
		p.target = nil
		p.err = ErrNoTarget
		p.mu.Unlock()

		halt(stopCh, done)
		p.logger.Warn("Health poller unbound", zap.Error(ErrNoTarget))
		return
	}

	bound := *target
	p.target = &bound
	p.err = nil
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	newStop, newDone := p.stopCh, p.done
	p.mu.Unlock()

	halt(stopCh, done)

	p.logger.Info("Health poller bound",
		zap.String("label", bound.Label),
		zap.String("url", bound.APIURL),
		zap.Duration("interval", p.cfg.Interval))

	if !p.cfg.SkipImmediate {
		p.tick(ctx, bound, gen)
	}
	go p.run(ctx, bound, gen, newStop, newDone)
}

// Stop stops the ticker and discards results still in flight.
// The last committed state remains readable.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.generation++
	stopCh, done := p.stopCh, p.done
	p.stopCh, p.done = nil, nil
	p.mu.Unlock()

	halt(stopCh, done)
}

// Snapshot returns a copy of the latest committed state
func (p *Poller) Snapshot() PollState {
	p.mu.Lock()
	defer p.mu.Unlock()

	state := PollState{Err: p.err, UpdatedAt: p.updatedAt}
	if p.target != nil {
		t := *p.target
		state.Target = &t
	}
	if p.health != nil {
		h := *p.health
		state.Health = &h
	}
	return state
}

// run is the ticker loop of one binding
func (p *Poller) run(ctx context.Context, target Target, gen uint64, stopCh, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.tick(ctx, target, gen)
		}
	}
}

// tick starts one poll without waiting for earlier ones
func (p *Poller) tick(ctx context.Context, target Target, gen uint64) {
	p.mu.Lock()
	if gen != p.generation {
		p.mu.Unlock()
		return
	}
	p.issued++
	seq := p.issued
	p.mu.Unlock()

	go func() {
		start := time.Now()
		health, err := p.fetcher.FetchHealth(ctx, target.APIURL)
		p.commit(target, gen, seq, health, err, time.Since(start))
	}()
}

// commit stores a result if it is still wanted
func (p *Poller) commit(target Target, gen, seq uint64, health *HealthResponse, err error, latency time.Duration) {
	p.mu.Lock()
	if gen != p.generation || seq <= p.committed {
		p.mu.Unlock()
		p.logger.Debug("Discarding stale health result",
			zap.String("url", target.APIURL),
			zap.Uint64("sequence", seq))
		return
	}

	wasHealthy := p.health.Healthy()
	hadError := p.err != nil

	p.committed = seq
	p.updatedAt = time.Now()
	if err != nil {
		p.health = nil
		p.err = err
	} else {
		p.health = health
		p.err = nil
	}
	isHealthy := p.health.Healthy()
	observer := p.cfg.OnResult
	p.mu.Unlock()

	switch {
	case err != nil && !hadError:
		p.logger.Warn("Target health check failed",
			zap.String("url", target.APIURL),
			zap.Error(err))
	case isHealthy && !wasHealthy:
		p.logger.Info("Target became healthy",
			zap.String("url", target.APIURL),
			zap.Duration("latency", latency))
	case err == nil && !isHealthy && (wasHealthy || hadError):
		p.logger.Warn("Target reports unhealthy status",
			zap.String("url", target.APIURL),
			zap.String("status", health.Status))
	}

	if observer != nil {
		observer(Result{Target: target, Health: health, Err: err, Latency: latency})
	}
}

// loopAliveLocked reports whether the loop of the current binding is
// still running. A loop whose context was cancelled has exited on its own.
func (p *Poller) loopAliveLocked() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// halt stops a ticker loop and waits for it to exit
func halt(stopCh, done chan struct{}) {
	if stopCh == nil {
		return
	}
	close(stopCh)
	<-done
}
