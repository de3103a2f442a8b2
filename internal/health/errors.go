package health

import "fmt"

// ConfigError reports a missing or unusable base URL or target.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// ErrNoTarget is reported when no API target is bound.
var ErrNoTarget = &ConfigError{Message: "API target is not configured"}

// RequestError reports a failed round trip: transport failure, a
// non-2xx status or a body that is not the expected JSON.
type RequestError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("request failed: %s (status %d): %v", e.URL, e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("request failed: %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("request failed: %s (status %d)", e.URL, e.StatusCode)
	}
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// NotFoundError reports a scoped seed missing from the directory.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}
