package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"github.com/bpradana/edgeboard/internal/directory"
	"github.com/bpradana/edgeboard/internal/health"
	"github.com/bpradana/edgeboard/internal/status"
	"github.com/bpradana/edgeboard/pkg/logger"
	"github.com/fatih/color"
	"go.uber.org/zap"
)

var (
	okBadge      = color.New(color.FgBlack, color.BgGreen, color.Bold).SprintFunc()
	failBadge    = color.New(color.FgWhite, color.BgRed, color.Bold).SprintFunc()
	unknownBadge = color.New(color.FgBlack, color.BgYellow, color.Bold).SprintFunc()
	faint        = color.New(color.Faint).SprintFunc()
	heading      = color.New(color.Bold, color.Underline).SprintFunc()
)

type report struct {
	Targets   []status.Card       `json:"targets"`
	Directory *directory.Snapshot `json:"directory,omitempty"`
}

func main() {
	var configDir = flag.String("config", "./configs/default", "Configuration directory")
	var apiURLs = flag.String("urls", "", "Targets as label|url,label|url (overrides the configuration)")
	var timeout = flag.Duration("timeout", 10*time.Second, "Timeout of the whole report")
	var seeds = flag.Bool("seeds", false, "Also probe the seed directory endpoints")
	var asJSON = flag.Bool("json", false, "Print the report as JSON")
	var noColor = flag.Bool("no-color", false, "Disable colored output")
	flag.Parse()

	if *noColor {
		color.NoColor = true
	}

	cfg, err := config.LoadConfig(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(2)
	}
	if *apiURLs != "" {
		cfg.Targets.APIURLs = *apiURLs
		cfg.Targets.PublicAPIURLs = ""
	}

	log, err := logger.NewLogger("error", "text")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	fetcher := health.NewFetcher(cfg.Polling, log)
	targets := health.ParseTargets(cfg.Targets.TargetList(), cfg.Targets.BaseURL(), cfg.Targets.FallbackLabel)

	rep := report{Targets: checkTargets(ctx, fetcher, targets, cfg.Polling.MaxUnits)}
	if *seeds {
		d := directory.New(directory.NewConfig(cfg.Directory, ""), fetcher, log)
		snapshot, err := d.Load(ctx)
		if err != nil {
			log.Debug("Directory load failed", zap.Error(err))
		}
		rep.Directory = &snapshot
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(rep)
	} else {
		printReport(rep, cfg.Targets.Environment)
	}

	if !rep.healthy() {
		os.Exit(1)
	}
}

// checkTargets fetches every target once, concurrently, keeping input order
func checkTargets(ctx context.Context, fetcher health.HealthFetcher, targets []health.Target, maxUnits int) []status.Card {
	if len(targets) == 0 {
		return []status.Card{status.NewCard(nil, health.PollState{UpdatedAt: time.Now()}, false, maxUnits)}
	}

	cards := make([]status.Card, len(targets))
	var wg sync.WaitGroup
	for i := range targets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			target := targets[i]
			h, err := fetcher.FetchHealth(ctx, target.APIURL)
			state := health.PollState{Target: &target, Health: h, Err: err, UpdatedAt: time.Now()}
			cards[i] = status.NewCard(&target, state, len(targets) > 1, maxUnits)
		}(i)
	}
	wg.Wait()

	return cards
}

func (r report) healthy() bool {
	for _, card := range r.Targets {
		if !card.Healthy {
			return false
		}
	}
	if r.Directory != nil {
		if r.Directory.Error != "" {
			return false
		}
		for _, e := range r.Directory.Endpoints {
			if !e.OK {
				return false
			}
		}
	}
	return true
}

func printReport(rep report, environment string) {
	fmt.Printf("%s %s\n\n", heading("Edge API status"), faint("("+environment+")"))
	for _, card := range rep.Targets {
		fmt.Printf("%s %s %s\n", statusBadge(card.Status), card.Label, faint(card.APIHost))
		if card.Error != "" {
			fmt.Printf("    %s\n", card.Error)
			continue
		}
		fmt.Printf("    up %s", card.UptimeLabel)
		if card.VersionLabel != "" {
			fmt.Printf("  %s", card.VersionLabel)
		}
		fmt.Println()
	}

	if rep.Directory == nil {
		return
	}

	fmt.Printf("\n%s\n\n", heading("Seed endpoints"))
	if rep.Directory.Error != "" {
		fmt.Printf("%s %s\n", failBadge(" FAIL "), rep.Directory.Error)
	}
	for _, e := range rep.Directory.Endpoints {
		badge := okBadge("  OK  ")
		if !e.OK {
			badge = failBadge(" FAIL ")
		}
		fmt.Printf("%s %s %s", badge, e.Label, faint(e.URL))
		if e.Message != "" {
			fmt.Printf("  %s", e.Message)
		}
		fmt.Println()
	}
}

func statusBadge(s string) string {
	switch s {
	case health.StatusHealthy.String():
		return okBadge("  OK  ")
	case health.StatusUnhealthy.String():
		return failBadge(" DOWN ")
	default:
		return unknownBadge("  ??  ")
	}
}
