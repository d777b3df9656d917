package models

import (
	"errors"
	"fmt"
)

// User-facing message templates. Regular requesters see these mapped
// categories; elevated identities get the raw failure appended.
const (
	MsgPaymentPrompt = "Please send %d tokens to %s and reply with the transaction signature. The transfer must be at most %d minutes old."
	MsgProcessing    = "Processing your request, this can take a while..."
	MsgDelivered     = "Summary ready:\n\n%s"
	MsgEditAccepted  = "Summary %s updated."
)

// UserMessage maps a pipeline failure to the text shown to a regular
// requester.
func UserMessage(err error) string {
	if pre, ok := AsPaymentRejected(err); ok {
		switch pre.Reason {
		case RejectionNotFound:
			return "Transaction not found. Double-check the signature and try again."
		case RejectionPending:
			return "Transaction is not finalized yet. Wait a moment and resend the signature."
		case RejectionExpired:
			return "Transaction is too old. Send a fresh payment and try again."
		case RejectionMismatch:
			return "Transaction does not match the expected sender, token, or amount."
		case RejectionAlreadyUsed:
			return "This payment was already used. Each request needs its own transfer."
		}
	}
	switch {
	case errors.Is(err, ErrAlreadyInProgress):
		return "You already have a request in progress. Wait for it to finish first."
	case errors.Is(err, ErrSubmissionFailed):
		return "Could not start the summarization job. Try a different link."
	case errors.Is(err, ErrJobTimedOut):
		return "Summarization took too long and was abandoned."
	case errors.Is(err, ErrJobFailed):
		return "Summarization failed. The resource may be unavailable."
	case errors.Is(err, ErrCancelled):
		return "Your request was cancelled."
	case errors.Is(err, ErrStaleLease):
		return "Your previous request went stale and was cleaned up. Please start over."
	case errors.Is(err, ErrNotOwner):
		return "You can only edit your own summaries."
	case errors.Is(err, ErrRecordNotFound):
		return "No summary with that identifier."
	}
	return "Something went wrong. Please try again later."
}

// OperatorMessage includes the raw error for elevated identities.
func OperatorMessage(err error) string {
	return fmt.Sprintf("%s (%v)", UserMessage(err), err)
}
