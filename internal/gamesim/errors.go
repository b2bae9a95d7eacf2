package gamesim

import "fmt"

// HTTPError is a non-2xx response from the Game Simulation API.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("gamesim: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable returns true for rate limits (429) and server errors (5xx).
func (e *HTTPError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// AuthError indicates the access token was rejected.
type AuthError struct {
	StatusCode int
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("gamesim: authentication failed (HTTP %d): %s", e.StatusCode, e.Message)
}

// ValidationError reports a job parameter that does not match its type.
type ValidationError struct {
	Key   string
	Type  string
	Value string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("gamesim: parameter %q: value %q is not a valid %s", e.Key, e.Value, e.Type)
}
