package indexing

import (
	"errors"
	"fmt"
	"net/http"
)

// CredentialError marks a response that condemns the credential itself
// (quota spent or auth rejected) rather than the notification. Callers
// rotate to the next credential instead of retrying with the same one.
type CredentialError struct {
	StatusCode int
	Err        error
}

func (e *CredentialError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("indexing: credential rejected with status %d", e.StatusCode)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// IsCredentialError returns true if the error (or any error in its chain)
// is a CredentialError.
func IsCredentialError(err error) bool {
	var ce *CredentialError
	return errors.As(err, &ce)
}

// IsCredentialStatus returns true for HTTP statuses that condemn the
// credential: 401 and 403 mean the account is rejected outright, 429 means
// its daily publish quota is gone. Everything else, including 5xx and
// transport failures, is a transient submission failure.
func IsCredentialStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusUnauthorized,
		http.StatusForbidden,
		http.StatusTooManyRequests:
		return true
	}
	return false
}
