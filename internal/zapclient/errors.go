package zapclient

import "fmt"

// TransportError reports that the scanner could not be reached after the
// client's internal retries were exhausted. Poll loops treat it as transient
// and apply their own error-count-aware backoff before giving up.
type TransportError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("scanner unreachable on %s after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// StatusError reports a non-2xx response from the scanner's control API.
type StatusError struct {
	Path string
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("scanner returned HTTP %d on %s", e.Code, e.Path)
}
