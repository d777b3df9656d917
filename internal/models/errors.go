package models

import (
	"errors"
	"fmt"
)

// RejectionReason classifies why a payment proof was refused.
type RejectionReason string

const (
	RejectionNotFound    RejectionReason = "not_found"
	RejectionPending     RejectionReason = "pending"
	RejectionExpired     RejectionReason = "expired"
	RejectionMismatch    RejectionReason = "mismatch"
	RejectionAlreadyUsed RejectionReason = "already_used"
)

// PaymentRejectedError is returned by the ledger verifier for any proof
// that does not result in acceptance. The reason is surfaced verbatim to
// elevated identities and mapped to a generic message for everyone else.
type PaymentRejectedError struct {
	Reason RejectionReason
	Detail string
}

func (e *PaymentRejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("payment rejected: %s", e.Reason)
	}
	return fmt.Sprintf("payment rejected: %s: %s", e.Reason, e.Detail)
}

// AsPaymentRejected unwraps err into a PaymentRejectedError if it is one.
func AsPaymentRejected(err error) (*PaymentRejectedError, bool) {
	var pre *PaymentRejectedError
	if errors.As(err, &pre) {
		return pre, true
	}
	return nil, false
}

// Terminal pipeline failures. None of these triggers a retry of the
// pipeline: once a proof is consumed the economic cost is borne by the
// requester regardless of downstream outcome.
var (
	ErrSubmissionFailed  = errors.New("job submission failed")
	ErrJobFailed         = errors.New("job failed")
	ErrJobTimedOut       = errors.New("job timed out")
	ErrAlreadyInProgress = errors.New("a request is already in progress")
	ErrNotOwner          = errors.New("not the summary owner")
	ErrRecordNotFound    = errors.New("summary not found")
	ErrStaleLease        = errors.New("pipeline lease expired")
	ErrCancelled         = errors.New("pipeline cancelled")
)

// TransientError marks a retryable I/O failure during polling. It is
// retried locally up to a bounded count per cycle and never surfaced to
// the requester unless the overall ceiling is exceeded.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// Transient reports whether err is retryable.
func Transient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
