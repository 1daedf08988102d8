package httperror

import (
	"fmt"
	"net/http"
)

// APIError is a non-2xx response that didn't carry one of our own
// JSON errors; retrieve it with errors.As to look at the status.
type APIError struct {
	StatusCode int
	Status     string
	Body       string
}

func (err *APIError) Error() string {
	return fmt.Sprintf("%s (%s)", err.Status, err.Body)
}

// IsUnavailable says whether the scheduler (or something in front
// of it) is down.
func (err *APIError) IsUnavailable() bool {
	switch err.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// IsMissing usually means the client and scheduler disagree on the
// API.
func (err *APIError) IsMissing() bool {
	return err.StatusCode == http.StatusNotFound
}
