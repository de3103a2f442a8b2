package middleware

import (
	"compress/gzip"
	"net/http"
	"strconv"
	"strings"

	"github.com/bpradana/edgeboard/internal/config"
	"go.uber.org/zap"
)

var compressedTypes = []string{
	"application/json",
	"text/plain",
}

// CompressionMiddleware handles response compression
type CompressionMiddleware struct {
	logger    *zap.Logger
	level     int
	minLength int
}

// NewCompressionMiddleware creates a new compression middleware
func NewCompressionMiddleware(logger *zap.Logger, cfg config.CompressionConfig) *CompressionMiddleware {
	comp := &CompressionMiddleware{
		logger:    logger,
		level:     gzip.DefaultCompression,
		minLength: cfg.MinLength,
	}
	if cfg.Level >= gzip.HuffmanOnly && cfg.Level <= gzip.BestCompression && cfg.Level != 0 {
		comp.level = cfg.Level
	}
	return comp
}

// Handle processes the request with compression
func (c *CompressionMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		cw := &compressedResponseWriter{
			ResponseWriter: w,
			middleware:     c,
			request:        r,
		}

		next.ServeHTTP(cw, r)

		if cw.gzipWriter != nil {
			cw.gzipWriter.Close()
		}
	})
}

// Name returns the middleware name
func (c *CompressionMiddleware) Name() string {
	return "compression"
}

// shouldCompress determines if the response should be compressed
func (c *CompressionMiddleware) shouldCompress(contentType string, contentLength int) bool {
	if contentLength > 0 && contentLength < c.minLength {
		return false
	}

	for _, compressedType := range compressedTypes {
		if strings.Contains(contentType, compressedType) {
			return true
		}
	}

	return false
}

// compressedResponseWriter wraps http.ResponseWriter to provide compression
type compressedResponseWriter struct {
	http.ResponseWriter
	middleware  *CompressionMiddleware
	request     *http.Request
	gzipWriter  *gzip.Writer
	wroteHeader bool
}

// WriteHeader decides on compression once the headers are final
func (cw *compressedResponseWriter) WriteHeader(statusCode int) {
	if cw.wroteHeader {
		return
	}
	cw.wroteHeader = true

	// Don't compress error responses
	if statusCode >= 400 {
		cw.ResponseWriter.WriteHeader(statusCode)
		return
	}

	contentType := cw.Header().Get("Content-Type")
	contentLength, _ := strconv.Atoi(cw.Header().Get("Content-Length"))

	if cw.middleware.shouldCompress(contentType, contentLength) {
		cw.Header().Set("Content-Encoding", "gzip")
		cw.Header().Add("Vary", "Accept-Encoding")
		cw.Header().Del("Content-Length")

		var err error
		cw.gzipWriter, err = gzip.NewWriterLevel(cw.ResponseWriter, cw.middleware.level)
		if err != nil {
			cw.middleware.logger.Error("Failed to create gzip writer", zap.Error(err))
			cw.Header().Del("Content-Encoding")
			cw.ResponseWriter.WriteHeader(statusCode)
			return
		}

		cw.middleware.logger.Debug("Compressing response",
			zap.String("path", cw.request.URL.Path),
			zap.String("content-type", contentType))
	}

	cw.ResponseWriter.WriteHeader(statusCode)
}

// Write writes data to the response
func (cw *compressedResponseWriter) Write(data []byte) (int, error) {
	if !cw.wroteHeader {
		cw.WriteHeader(http.StatusOK)
	}

	if cw.gzipWriter != nil {
		return cw.gzipWriter.Write(data)
	}

	return cw.ResponseWriter.Write(data)
}

// Flush flushes the response
func (cw *compressedResponseWriter) Flush() {
	if cw.gzipWriter != nil {
		cw.gzipWriter.Flush()
	}
	if flusher, ok := cw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
