package directory

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/bpradana/edgeboard/internal/health"
	"go.uber.org/zap"
)

const (
	// DefaultInterval is used when Config.Interval is not set.
	DefaultInterval = 10 * time.Second
	// DefaultBaseLabel prefixes the global probe labels.
	DefaultBaseLabel = "ghost"
)

var globalPaths = []string{"/health", "/ready", "/seeds", "/metrics"}

var seedPaths = []string{"/health", "/ready", "/services", "/metrics"}

// errNoAPIBase is reported when the directory has nothing to query.
var errNoAPIBase = &health.ConfigError{Message: "API base URL is not configured"}

// Config configures a Directory
type Config struct {
	APIBase   string
	SeedID    string
	Interval  time.Duration
	BaseLabel string
	// SkipImmediate leaves the first cycle to the first tick, for callers
	// that already ran Load.
	SkipImmediate bool
	// OnCycle, when set, observes every committed snapshot.
	OnCycle func(Snapshot)
}

// NewConfig builds a Config from the directory section, scoped to seedID
// when it is not empty.
func NewConfig(cfg config.DirectoryConfig, seedID string) Config {
	return Config{
		APIBase:   cfg.APIBase,
		SeedID:    seedID,
		Interval:  cfg.Interval,
		BaseLabel: cfg.BaseLabel,
	}
}

// Directory periodically discovers seeds, their services and the state of
// their endpoints. A scoped directory that cannot find its seed halts until
// Refresh is called.
type Directory struct {
	cfg    Config
	client Client
	logger *zap.Logger

	mu       sync.RWMutex
	snapshot Snapshot

	runMu     sync.Mutex
	refreshCh chan struct{}
	stopCh    chan struct{}
	done      chan struct{}
}

// New creates a directory
func New(cfg Config, client Client, logger *zap.Logger) *Directory {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.BaseLabel == "" {
		cfg.BaseLabel = DefaultBaseLabel
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Directory{
		cfg:       cfg,
		client:    client,
		logger:    logger.With(zap.String("seed_scope", cfg.SeedID)),
		snapshot:  Snapshot{SeedID: cfg.SeedID},
		refreshCh: make(chan struct{}, 1),
	}
}

// SeedID returns the scope of the directory, empty when unscoped
func (d *Directory) SeedID() string {
	return d.cfg.SeedID
}

// Start runs one cycle immediately and then one per interval
func (d *Directory) Start(ctx context.Context) {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.stopCh != nil {
		return
	}
	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})

	d.logger.Info("Starting directory",
		zap.String("api_base", d.cfg.APIBase),
		zap.Duration("interval", d.cfg.Interval))

	go d.run(ctx, d.stopCh, d.done)
}

// Stop halts the cycle loop and waits for it to exit
func (d *Directory) Stop() {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.stopCh == nil {
		return
	}
	close(d.stopCh)
	<-d.done
	d.stopCh, d.done = nil, nil
	d.logger.Info("Stopped directory")
}

// Refresh clears a halt and asks the loop for an immediate cycle
func (d *Directory) Refresh() {
	d.mu.Lock()
	d.snapshot.Halted = false
	d.mu.Unlock()

	select {
	case d.refreshCh <- struct{}{}:
	default:
	}
}

// Snapshot returns a copy of the latest committed state
func (d *Directory) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot.clone()
}

func (d *Directory) run(ctx context.Context, stopCh, done chan struct{}) {
	defer close(done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	if !d.cfg.SkipImmediate {
		d.Load(ctx)
	}

	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.halted() {
				continue
			}
			d.Load(ctx)
		case <-d.refreshCh:
			d.Load(ctx)
		}
	}
}

func (d *Directory) halted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.snapshot.Halted
}

// Load runs one directory cycle and commits its outcome. On failure the
// previous seeds and endpoints stay visible next to the error, except for
// a missing scoped seed which clears them and halts the loop.
func (d *Directory) Load(ctx context.Context) (Snapshot, error) {
	next, err := d.cycle(ctx)
	if ctx.Err() != nil {
		return d.Snapshot(), ctx.Err()
	}

	d.mu.Lock()
	var notFound *health.NotFoundError
	var cfgErr *health.ConfigError
	switch {
	case err == nil:
		d.snapshot = next
	case errors.As(err, &notFound):
		d.snapshot = Snapshot{
			SeedID:    d.cfg.SeedID,
			Services:  map[string][]ServiceInfo{},
			Endpoints: []EndpointStatus{},
			Error:     err.Error(),
			UpdatedAt: time.Now(),
			Halted:    true,
			Missing:   true,
		}
	case errors.As(err, &cfgErr):
		d.snapshot.Error = err.Error()
		d.snapshot.Halted = true
	default:
		d.snapshot.Error = err.Error()
	}
	snapshot := d.snapshot.clone()
	observer := d.cfg.OnCycle
	d.mu.Unlock()

	if err != nil {
		d.logger.Warn("Directory cycle failed", zap.Error(err))
	} else {
		d.logger.Debug("Directory cycle completed",
			zap.Int("seeds", len(snapshot.Seeds)),
			zap.Int("endpoints", len(snapshot.Endpoints)))
	}

	if observer != nil {
		observer(snapshot)
	}
	return snapshot, err
}

func (d *Directory) cycle(ctx context.Context) (Snapshot, error) {
	if d.cfg.APIBase == "" {
		return Snapshot{}, errNoAPIBase
	}

	seeds, err := FetchSeeds(ctx, d.client, d.cfg.APIBase)
	if err != nil {
		return Snapshot{}, err
	}

	if d.cfg.SeedID != "" {
		seeds = scope(seeds, d.cfg.SeedID)
		if len(seeds) == 0 {
			return Snapshot{}, &health.NotFoundError{Kind: "seed", ID: d.cfg.SeedID}
		}
	}

	var (
		wg        sync.WaitGroup
		endpoints []EndpointStatus
		services  map[string][]ServiceInfo
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		endpoints = CheckEndpoints(ctx, d.client, d.endpointsFor(seeds))
	}()
	go func() {
		defer wg.Done()
		services = d.fetchServices(ctx, seeds)
	}()
	wg.Wait()

	return Snapshot{
		SeedID:    d.cfg.SeedID,
		Seeds:     seeds,
		Services:  services,
		Endpoints: endpoints,
		UpdatedAt: time.Now(),
	}, nil
}

// endpointsFor lists the probes of one cycle: the global ones when
// unscoped, then four per seed.
func (d *Directory) endpointsFor(seeds []SeedInfo) []EndpointStatus {
	endpoints := make([]EndpointStatus, 0, len(globalPaths)+len(seeds)*len(seedPaths))

	if d.cfg.SeedID == "" {
		for _, path := range globalPaths {
			endpoints = append(endpoints, EndpointStatus{
				Label: d.cfg.BaseLabel + " " + path,
				URL:   health.JoinURL(d.cfg.APIBase, path),
			})
		}
	}

	for _, seed := range seeds {
		base := SeedURL(d.cfg.APIBase, seed.ID)
		for _, path := range seedPaths {
			endpoints = append(endpoints, EndpointStatus{
				Label: seed.ID + " " + path,
				URL:   base + path,
			})
		}
	}

	return endpoints
}

// fetchServices loads every seed's services concurrently. A failing seed
// gets an empty list.
func (d *Directory) fetchServices(ctx context.Context, seeds []SeedInfo) map[string][]ServiceInfo {
	lists := make([][]ServiceInfo, len(seeds))

	var wg sync.WaitGroup
	for i, seed := range seeds {
		wg.Add(1)
		go func(i int, seed SeedInfo) {
			defer wg.Done()

			var resp ServicesResponse
			if err := d.client.GetJSON(ctx, SeedURL(d.cfg.APIBase, seed.ID)+"/services", &resp); err != nil {
				d.logger.Debug("Failed to fetch seed services",
					zap.String("seed", seed.ID),
					zap.Error(err))
				return
			}
			lists[i] = resp.Services
		}(i, seed)
	}
	wg.Wait()

	services := make(map[string][]ServiceInfo, len(seeds))
	for i, seed := range seeds {
		if lists[i] == nil {
			lists[i] = []ServiceInfo{}
		}
		services[seed.ID] = lists[i]
	}
	return services
}

// FetchSeeds performs one GET {apiBase}/seeds
func FetchSeeds(ctx context.Context, client Client, apiBase string) ([]SeedInfo, error) {
	if apiBase == "" {
		return nil, errNoAPIBase
	}

	var resp SeedsResponse
	if err := client.GetJSON(ctx, health.JoinURL(apiBase, "/seeds"), &resp); err != nil {
		return nil, fmt.Errorf("failed to fetch seeds: %w", err)
	}
	if resp.Seeds == nil {
		return []SeedInfo{}, nil
	}
	return resp.Seeds, nil
}

// SeedURL returns the base URL of one seed under apiBase
func SeedURL(apiBase, seedID string) string {
	return health.JoinURL(apiBase, "/seeds/"+url.PathEscape(seedID))
}

// CheckEndpoints probes every endpoint concurrently, keeping input order.
// A probe failure is recorded on its own entry and never aborts the batch.
func CheckEndpoints(ctx context.Context, client Client, endpoints []EndpointStatus) []EndpointStatus {
	results := make([]EndpointStatus, len(endpoints))

	var wg sync.WaitGroup
	for i, endpoint := range endpoints {
		wg.Add(1)
		go func(i int, endpoint EndpointStatus) {
			defer wg.Done()
			results[i] = checkEndpoint(ctx, client, endpoint)
		}(i, endpoint)
	}
	wg.Wait()

	return results
}

func checkEndpoint(ctx context.Context, client Client, endpoint EndpointStatus) EndpointStatus {
	result := EndpointStatus{Label: endpoint.Label, URL: endpoint.URL}

	code, err := client.Probe(ctx, endpoint.URL)
	switch {
	case err != nil:
		result.Message = err.Error()
	case code < 200 || code >= 300:
		result.Message = fmt.Sprintf("HTTP %d", code)
	default:
		result.OK = true
	}

	return result
}

func scope(seeds []SeedInfo, seedID string) []SeedInfo {
	for _, seed := range seeds {
		if seed.ID == seedID {
			return []SeedInfo{seed}
		}
	}
	return nil
}

func (s Snapshot) clone() Snapshot {
	c := s
	if s.Seeds != nil {
		c.Seeds = make([]SeedInfo, len(s.Seeds))
		copy(c.Seeds, s.Seeds)
	}
	if s.Endpoints != nil {
		c.Endpoints = make([]EndpointStatus, len(s.Endpoints))
		copy(c.Endpoints, s.Endpoints)
	}
	if s.Services != nil {
		c.Services = make(map[string][]ServiceInfo, len(s.Services))
		for id, list := range s.Services {
			c.Services[id] = append([]ServiceInfo{}, list...)
		}
	}
	return c
}
