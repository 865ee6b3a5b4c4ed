package model

import "time"

// TaskMetadata is scheduler bookkeeping, mutated on every scheduled run and
// read by the health-check loop.
type TaskMetadata struct {
	AccountName string
	LastRunAt   time.Time
}

// CheckInTaskConfig is the immutable snapshot captured when a task is
// scheduled. The provider is not re-resolved until the next reload.
type CheckInTaskConfig struct {
	AccountID   string
	AccountName string
	Hour        int
	Minute      int
	Provider    *Provider
}
