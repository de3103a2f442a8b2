package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"go.uber.org/zap"
)

// Fetcher issues uncached GET requests against edge API endpoints.
// It never retries; retrying is the poller's job.
type Fetcher struct {
	client *http.Client
	logger *zap.Logger
}

// NewFetcher creates a fetcher. A zero cfg.Timeout leaves request
// deadlines to the transport and the caller's context.
func NewFetcher(cfg config.PollingConfig, logger *zap.Logger) *Fetcher {
	client := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        16,
			MaxIdleConnsPerHost: 4,
			IdleConnTimeout:     30 * time.Second,
		},
	}

	return NewFetcherWithClient(client, logger)
}

// NewFetcherWithClient creates a fetcher around an existing client
func NewFetcherWithClient(client *http.Client, logger *zap.Logger) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{client: client, logger: logger}
}

// FetchHealth performs one GET {baseURL}/health
func (f *Fetcher) FetchHealth(ctx context.Context, baseURL string) (*HealthResponse, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNoTarget
	}

	healthURL := JoinURL(baseURL, "/health")
	var health HealthResponse
	if err := f.GetJSON(ctx, healthURL, &health); err != nil {
		return nil, err
	}
	if health.Status == "" {
		return nil, &RequestError{URL: healthURL, StatusCode: http.StatusOK, Err: errors.New("response has no status")}
	}

	return &health, nil
}

// SendReboot performs one GET {baseURL}/reboot
func (f *Fetcher) SendReboot(ctx context.Context, baseURL string) (*RebootResponse, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, ErrNoTarget
	}

	rebootURL := JoinURL(baseURL, "/reboot")
	f.logger.Info("Sending reboot", zap.String("url", rebootURL))

	var reboot RebootResponse
	if err := f.GetJSON(ctx, rebootURL, &reboot); err != nil {
		return nil, err
	}

	return &reboot, nil
}

// GetJSON fetches url and decodes a 2xx JSON body into v
func (f *Fetcher) GetJSON(ctx context.Context, url string, v any) error {
	resp, err := f.get(ctx, url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		io.Copy(io.Discard, resp.Body)
		return &RequestError{URL: url, StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return &RequestError{URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}

	return nil
}

// Probe fetches url and returns its status code, ignoring the body
func (f *Fetcher) Probe(ctx context.Context, url string) (int, error) {
	resp, err := f.get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	io.Copy(io.Discard, resp.Body)
	return resp.StatusCode, nil
}

func (f *Fetcher) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &RequestError{URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")

	resp, err := f.client.Do(req)
	if err != nil {
		f.logger.Debug("Request failed", zap.String("url", url), zap.Error(err))
		return nil, &RequestError{URL: url, Err: err}
	}

	return resp, nil
}
