package obs

import (
	"errors"
	"fmt"
)

// TransientError means the observability platform was unreachable, rate
// limited, or timing out and the bounded retry budget is spent. Callers
// treat it as "no data this round", never as fatal: the capability logs,
// skips the cycle, and the next tick tries again.
type TransientError struct {
	Op         string
	StatusCode int // last HTTP status, 0 for transport errors
	Attempts   int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("observability %s unavailable after %d attempts (last status %d): %v",
			e.Op, e.Attempts, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("observability %s unavailable after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// apiError is a non-retryable platform response (4xx other than 429).
type apiError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("observability %s returned %d: %s", e.Op, e.StatusCode, e.Body)
}
