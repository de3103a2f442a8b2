package middleware

import (
	"net/http"
	"time"

	"github.com/bpradana/edgeboard/internal/config"
	"go.uber.org/zap"
)

// RequestIDHeader carries the request ID assigned by the logging middleware
const RequestIDHeader = "X-Request-ID"

// LoggingMiddleware provides structured request logging
type LoggingMiddleware struct {
	logger *zap.Logger
	config config.LoggingConfig
}

// NewLoggingMiddleware creates a new logging middleware
func NewLoggingMiddleware(logger *zap.Logger, cfg config.LoggingConfig) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger,
		config: cfg,
	}
}

// Handle implements the middleware interface
func (lm *LoggingMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set(RequestIDHeader, requestID)

		// Create a response writer that captures status code and size
		rw := &responseWriter{
			ResponseWriter: w,
			statusCode:     200,
		}

		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
		}
		if lm.config.LogHeaders {
			for name, values := range r.Header {
				if name == "Authorization" {
					continue
				}
				for _, value := range values {
					fields = append(fields, zap.String("header_"+name, value))
				}
			}
		}
		lm.logger.Debug("Request started", fields...)

		next.ServeHTTP(rw, r)

		responseFields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.statusCode),
			zap.Int64("size", rw.size),
			zap.Duration("duration", time.Since(start)),
		}

		if rw.statusCode >= 400 {
			lm.logger.Warn("Request completed with error", responseFields...)
		} else {
			lm.logger.Info("Request completed", responseFields...)
		}
	})
}

// Name returns the middleware name
func (lm *LoggingMiddleware) Name() string {
	return "logging"
}

// responseWriter wraps http.ResponseWriter to capture status code and response size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Write captures the response size
func (rw *responseWriter) Write(data []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(data)
	rw.size += int64(size)
	return size, err
}
