package engine

import (
	"errors"
	"fmt"
)

// ValidationError covers malformed input: bad content type, oversized
// upload, invalid filename, malformed digest, size mismatch.
type ValidationError struct {
	Field string
	Msg   string
}

func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Msg
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Msg)
}

// ApprovalNotUsableError reports a token that exists but is no longer in the
// issued state. The current status is included for diagnostics.
type ApprovalNotUsableError struct {
	Status string
}

func (e ApprovalNotUsableError) Error() string {
	return fmt.Sprintf("approval token not usable (status %s)", e.Status)
}

var (
	ErrApprovalNotFound = errors.New("approval token not found")
	ErrApprovalExpired  = errors.New("approval token expired")
	ErrGateNotPassed    = errors.New("gate evaluation has not passed for this session")
)
