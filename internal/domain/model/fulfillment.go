package model

import "time"

type FulfillmentJobState string

const (
	JobPending    FulfillmentJobState = "pending"
	JobInProgress FulfillmentJobState = "in_progress"
	JobCompleted  FulfillmentJobState = "completed"
	JobFailed     FulfillmentJobState = "failed"    // will be retried at NextAttemptAt
	JobExhausted  FulfillmentJobState = "exhausted" // needs manual reconciliation
)

// FulfillmentJob tracks the single grant owed for a paid session.
type FulfillmentJob struct {
	ID            string
	SessionID     string // unique
	State         FulfillmentJobState
	Attempts      int
	NextAttemptAt time.Time
	LockedUntil   *time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
