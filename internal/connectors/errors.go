package connectors

import (
	"errors"
	"fmt"
	"time"
)

// ErrRejected - API бота обработало запрос и отказало (нет прав, нет участника).
var ErrRejected = errors.New("host api rejected the request")

type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error {
	return e.Cause
}
