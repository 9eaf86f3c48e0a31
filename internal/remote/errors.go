package remote

import (
	"errors"
	"fmt"
)

// APIError is a non-2xx response from the platform. 401 and 403 surface
// through here like any other status: the client never refreshes credentials.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("platform API: status %d: %s", e.Status, e.Message)
}

// IsAuthError reports whether err is a 401/403 APIError.
func IsAuthError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && (apiErr.Status == 401 || apiErr.Status == 403)
}

// IsNotFound reports whether err is a 404 APIError, which the platform uses
// for unknown scopes.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == 404
}
