package models

import (
	"time"
)

// SummaryRecord is a delivered summarization result. Records are never
// deleted; edits append to history and replace the current content.
type SummaryRecord struct {
	ID        string        `json:"id"`
	Owner     string        `json:"owner"`
	Content   string        `json:"content"`
	Tier      Tier          `json:"tier"`
	SourceURL string        `json:"source_url"`
	CreatedAt time.Time     `json:"created_at"`
	Edits     []SummaryEdit `json:"edits,omitempty"`
}

// SummaryEdit records a single accepted edit. PriorContent is the text
// the edit replaced, retained for audit.
type SummaryEdit struct {
	Editor       string    `json:"editor"`
	PriorContent string    `json:"prior_content"`
	EditedAt     time.Time `json:"edited_at"`
}

// Job is the external summarization work unit tracked by the poller.
type Job struct {
	ID         string     `json:"id"`
	State      string     `json:"state"`
	Result     string     `json:"result,omitempty"`
	FailReason string     `json:"fail_reason,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	LastPollAt *time.Time `json:"last_poll_at,omitempty"`
}

// External job states as reported by the summarization service, plus the
// locally assigned timed_out state.
const (
	JobStateRunning   = "running"
	JobStateSucceeded = "succeeded"
	JobStateFailed    = "failed"
	JobStateTimedOut  = "timed_out"
)
