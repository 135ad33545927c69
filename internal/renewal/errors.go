package renewal

import (
	"errors"
	"fmt"
)

// ErrRenewalInProgress is returned when a trigger arrives while another
// renewal run holds the single-flight guard. The trigger is dropped, not
// queued.
var ErrRenewalInProgress = errors.New("certificate renewal already in progress")

// ConfigurationError indicates the tenant options are invalid or
// incomplete. It aborts a run before any external side effect.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration invalid: %s", e.Reason)
}

// IssuanceError indicates the external ACME client failed, timed out, or
// produced no parseable certificate. The run aborts; an already-issued
// local certificate is kept since it remains valid.
type IssuanceError struct {
	Err error
}

func (e *IssuanceError) Error() string {
	return fmt.Sprintf("certificate issuance failed: %v", e.Err)
}

func (e *IssuanceError) Unwrap() error {
	return e.Err
}
