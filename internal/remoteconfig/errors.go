package remoteconfig

import "fmt"

// APIError is a non-200 response from a Remote Config endpoint.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("remoteconfig: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports rate limits and server errors.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// IsAuth reports a rejected or expired access token.
func (e *APIError) IsAuth() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
