package middleware

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"go.uber.org/zap"
)

// Middleware defines the interface for middleware components
type Middleware interface {
	// Handle processes the request and calls the next handler
	Handle(next http.Handler) http.Handler
	// Name returns the name of the middleware
	Name() string
}

// Chain represents a chain of middleware
type Chain struct {
	middlewares []Middleware
	logger      *zap.Logger
}

// NewChain creates a new middleware chain
func NewChain(logger *zap.Logger) *Chain {
	return &Chain{
		middlewares: make([]Middleware, 0),
		logger:      logger,
	}
}

// Use adds a middleware to the chain
func (c *Chain) Use(middleware Middleware) {
	c.middlewares = append(c.middlewares, middleware)
}

// Names lists the middleware in execution order
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.middlewares))
	for _, mw := range c.middlewares {
		names = append(names, mw.Name())
	}
	return names
}

// Cleanup releases per-client state held by middleware that keeps any
func (c *Chain) Cleanup() {
	for _, mw := range c.middlewares {
		if cleaner, ok := mw.(interface{ Cleanup() }); ok {
			cleaner.Cleanup()
		}
	}
}

// Then applies the middleware chain to the given handler
func (c *Chain) Then(handler http.Handler) http.Handler {
	// Apply middleware in reverse order so they execute in the correct order
	for i := len(c.middlewares) - 1; i >= 0; i-- {
		handler = c.middlewares[i].Handle(handler)
	}
	return handler
}

// Factory creates middleware instances
type Factory struct {
	logger *zap.Logger
}

// NewFactory creates a new middleware factory
func NewFactory(logger *zap.Logger) *Factory {
	return &Factory{logger: logger}
}

// CreateChain builds the dashboard chain in a fixed order: logging,
// rate limiting, authentication, compression. Disabled entries are skipped.
func (f *Factory) CreateChain(cfg *config.MiddlewareConfig) (*Chain, error) {
	chain := NewChain(f.logger)

	if cfg.Logging.Enabled {
		chain.Use(NewLoggingMiddleware(f.logger, cfg.Logging))
	}
	if cfg.RateLimit.Enabled {
		chain.Use(NewRateLimitMiddleware(f.logger, cfg.RateLimit))
	}
	if cfg.Auth.Enabled {
		auth, err := NewAuthMiddleware(f.logger, cfg.Auth)
		if err != nil {
			return nil, err
		}
		chain.Use(auth)
	}
	if cfg.Compression.Enabled {
		chain.Use(NewCompressionMiddleware(f.logger, cfg.Compression))
	}

	f.logger.Debug("Middleware chain created", zap.Strings("middlewares", chain.Names()))

	return chain, nil
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	return fmt.Sprintf("%d-%d", time.Now().UnixNano(), rand.Intn(1000))
}
