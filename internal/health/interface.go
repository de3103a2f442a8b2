package health

import (
	"context"
	"time"
)

// Status represents the health status of a target
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Target is one pollable edge API instance. APIURL is its identity;
// Label is only used for display.
type Target struct {
	Label  string `json:"label"`
	APIURL string `json:"apiUrl"`
}

// HealthResponse is the body returned by GET {base}/health
type HealthResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime,omitempty"`
	Version string `json:"version,omitempty"`
	Service string `json:"service,omitempty"`
}

// Healthy reports whether the backend declared itself ok.
func (h *HealthResponse) Healthy() bool {
	return h != nil && h.Status == "ok"
}

// RebootResponse is the body returned by GET {base}/reboot
type RebootResponse struct {
	Status  string `json:"status"`
	Uptime  string `json:"uptime,omitempty"`
	Version string `json:"version,omitempty"`
}

// PollState is the latest committed outcome of a poller.
// Health and Err are never both set.
type PollState struct {
	Target    *Target
	Health    *HealthResponse
	Err       error
	UpdatedAt time.Time
}

// Status derives the display status of the state.
func (s PollState) Status() Status {
	switch {
	case s.Health.Healthy():
		return StatusHealthy
	case s.Health != nil || s.Err != nil:
		return StatusUnhealthy
	default:
		return StatusUnknown
	}
}

// ErrorMessage returns the error text or "" when the last poll succeeded.
func (s PollState) ErrorMessage() string {
	if s.Err == nil {
		return ""
	}
	return s.Err.Error()
}

// Result is handed to a poller observer after each committed poll.
type Result struct {
	Target  Target
	Health  *HealthResponse
	Err     error
	Latency time.Duration
}

// HealthFetcher retrieves the health document of one target
type HealthFetcher interface {
	// FetchHealth performs exactly one uncached GET {baseURL}/health
	FetchHealth(ctx context.Context, baseURL string) (*HealthResponse, error)
}
