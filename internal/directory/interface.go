package directory

import (
	"context"
	"time"
)

// SeedInfo is one cluster member reported by GET {base}/seeds
type SeedInfo struct {
	ID       string   `json:"id"`
	Host     string   `json:"host"`
	Addr     string   `json:"addr"`
	Services []string `json:"services,omitempty"`
}

// SeedsResponse is the body of GET {base}/seeds
type SeedsResponse struct {
	Seeds []SeedInfo `json:"seeds"`
}

// ServiceInfo is one service advertised by a seed
type ServiceInfo struct {
	Name    string   `json:"name"`
	Actions []string `json:"actions"`
}

// ServicesResponse is the body of GET {base}/seeds/{id}/services
type ServicesResponse struct {
	Services []ServiceInfo `json:"services"`
}

// EndpointStatus is the outcome of one liveness probe
type EndpointStatus struct {
	Label   string `json:"label"`
	URL     string `json:"url"`
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

// Snapshot is the state produced by one directory cycle.
// Each cycle replaces it wholesale.
type Snapshot struct {
	SeedID    string                   `json:"seedId,omitempty"`
	Seeds     []SeedInfo               `json:"seeds"`
	Services  map[string][]ServiceInfo `json:"services"`
	Endpoints []EndpointStatus         `json:"endpoints"`
	Error     string                   `json:"error,omitempty"`
	UpdatedAt time.Time                `json:"updatedAt"`
	Halted    bool                     `json:"halted"`

	// Missing is set when the scoped seed is absent from the directory.
	Missing bool `json:"missing,omitempty"`
}

// Client is the subset of the health fetcher the directory needs
type Client interface {
	// GetJSON fetches url and decodes a 2xx JSON body into v
	GetJSON(ctx context.Context, url string, v any) error
	// Probe fetches url and returns its status code
	Probe(ctx context.Context, url string) (int, error)
}
