package domain

// Job status constants for the anchoring outbox
const (
	JobStatusQueued     = "queued"
	JobStatusInProgress = "in_progress"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"
)
