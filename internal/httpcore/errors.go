package httpcore

import (
	"errors"
	"fmt"
)

// APIError is a server-reported failure: HTTP status >= 400 with a parsed
// error body. Network-level failures are returned as wrapped transport
// errors, never as *APIError.
type APIError struct {
	StatusCode int
	Message    string
	Details    map[string]any
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("api error: HTTP %d: %s", e.StatusCode, e.Message)
}

// IsStatus reports whether err is an *APIError with the given status code.
func IsStatus(err error, code int) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == code
}

// ErrRefreshInFlight is returned when a 401 arrives while another request
// already holds the refresh gate. The caller surfaces the original 401
// without waiting.
var ErrRefreshInFlight = errors.New("token refresh already in flight")

// ErrNoRefresh is returned when no refresh callback is registered.
var ErrNoRefresh = errors.New("no token refresh configured")
