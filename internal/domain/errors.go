package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConfigMissing       = errors.New("reputation api key is not configured")
	ErrUpstreamUnavailable = errors.New("reputation api unavailable")
	ErrMalformedResponse   = errors.New("reputation api returned malformed response")
	ErrNotInGroupContext   = errors.New("command must be invoked inside a group")
	ErrNoStagedBatch       = errors.New("no staged scan result for this group")
	ErrInvalidThreshold    = errors.New("cleanup threshold must be an integer in [10, 3600] seconds")
	ErrGroupNotEnabled     = errors.New("group is not enabled for blacklist checks")
)

// LookupError - отказ проверки конкретного пользователя.
// Для батча это "неизвестно", а не "в черном списке".
type LookupError struct {
	SubjectID string
	Err       error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %v", e.SubjectID, e.Err)
}

func (e *LookupError) Unwrap() error {
	return e.Err
}

// NewLookupError оборачивает причину в один из двух классов отказа (kind).
func NewLookupError(subjectID string, kind, cause error) *LookupError {
	if cause == nil {
		return &LookupError{SubjectID: subjectID, Err: kind}
	}
	return &LookupError{SubjectID: subjectID, Err: fmt.Errorf("%w: %v", kind, cause)}
}
