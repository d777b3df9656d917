package models

import (
	"time"
)

// Pipeline states persisted in the audit trail and reported to operators.
const (
	StateAwaitingPayment = "awaiting_payment"
	StatePaymentVerified = "payment_verified"
	StateJobSubmitted    = "job_submitted"
	StateJobRunning      = "job_running"
	StateDelivered       = "delivered"
	StateFailed          = "failed"
)

// Tier selects the requested output mode. Each tier has a fixed cost in
// token base units.
type Tier string

const (
	TierText  Tier = "text"
	TierAudio Tier = "audio"
)

// Cost returns the fixed price of the tier in token base units.
func (t Tier) Cost() uint64 {
	if t == TierAudio {
		return AudioSummaryCost
	}
	return TextSummaryCost
}

// SummarizationRequest is a single paid request entering the pipeline.
// Exactly one non-terminal request may exist per requester at a time.
type SummarizationRequest struct {
	Requester   string    `json:"requester"`
	ChatID      int64     `json:"chat_id"`
	ResourceURL string    `json:"resource_url"`
	Tier        Tier      `json:"tier"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PipelineStatus is a snapshot of an in-flight or terminal pipeline,
// exposed through the operator API. FailReason carries the raw failure
// and is reserved for elevated identities; PublicFailReason is the
// mapped text safe to show any requester.
type PipelineStatus struct {
	Requester        string     `json:"requester"`
	State            string     `json:"state"`
	ResourceURL      string     `json:"resource_url,omitempty"`
	Tier             Tier       `json:"tier,omitempty"`
	JobID            string     `json:"job_id,omitempty"`
	SummaryID        string     `json:"summary_id,omitempty"`
	FailReason       string     `json:"fail_reason,omitempty"`
	PublicFailReason string     `json:"public_fail_reason,omitempty"`
	StartedAt        time.Time  `json:"started_at"`
	LastPollAt       *time.Time `json:"last_poll_at,omitempty"`
}

// AuditLog is a single audit event row.
type AuditLog struct {
	Requester string    `json:"requester"`
	Event     string    `json:"event"`
	Detail    string    `json:"detail"`
	Recorded  time.Time `json:"recorded_at"`
}
