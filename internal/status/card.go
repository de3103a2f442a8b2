package status

import (
	"net/url"
	"time"

	"github.com/bpradana/edgeboard/internal/duration"
	"github.com/bpradana/edgeboard/internal/health"
)

const (
	uptimeUnavailable = "Uptime unavailable"
	hostUnavailable   = "API target unavailable"
)

// Card is the renderable status of one target at one instant.
type Card struct {
	Label        string                 `json:"label"`
	Target       *health.Target         `json:"target,omitempty"`
	Status       string                 `json:"status"`
	Healthy      bool                   `json:"healthy"`
	Health       *health.HealthResponse `json:"health,omitempty"`
	Error        string                 `json:"error,omitempty"`
	UptimeLabel  string                 `json:"uptimeLabel"`
	VersionLabel string                 `json:"versionLabel,omitempty"`
	APIHost      string                 `json:"apiHost"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// NewCard builds a card for target from a poll state. State belonging to
// another target is ignored. With several targets the configured label
// wins; with one, the service name reported by the backend does.
func NewCard(target *health.Target, state health.PollState, multiTarget bool, maxUnits int) Card {
	switch {
	case target == nil:
		state = health.PollState{Err: health.ErrNoTarget, UpdatedAt: state.UpdatedAt}
	case state.Target == nil || state.Target.APIURL != target.APIURL:
		state = health.PollState{}
	}

	card := Card{
		Label:       displayLabel(target, state.Health, multiTarget),
		Status:      state.Status().String(),
		Healthy:     state.Health.Healthy(),
		Health:      state.Health,
		Error:       state.ErrorMessage(),
		UptimeLabel: uptimeUnavailable,
		APIHost:     hostUnavailable,
		UpdatedAt:   state.UpdatedAt,
	}

	if target != nil {
		t := *target
		card.Target = &t
		card.APIHost = apiHost(target.APIURL)
	}
	if state.Health != nil {
		if state.Health.Uptime != "" {
			card.UptimeLabel = duration.FormatUnits(state.Health.Uptime, maxUnits)
		}
		if state.Health.Version != "" {
			card.VersionLabel = "v" + state.Health.Version
		}
	}

	return card
}

func displayLabel(target *health.Target, h *health.HealthResponse, multiTarget bool) string {
	if multiTarget && target != nil && target.Label != "" {
		return target.Label
	}
	if h != nil && h.Service != "" {
		return h.Service
	}
	if target != nil && target.Label != "" {
		return target.Label
	}
	return health.DefaultLabel
}

// apiHost shows the host part of an API URL, or the raw value when it
// does not parse.
func apiHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
