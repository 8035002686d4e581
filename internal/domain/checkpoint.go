package domain

import "time"

// CheckpointStatus describes the sync state of one source.
type CheckpointStatus string

const (
	CheckpointStatusSyncing   CheckpointStatus = "syncing"
	CheckpointStatusCompleted CheckpointStatus = "completed"
	CheckpointStatusFailed    CheckpointStatus = "failed"
)

// Checkpoint is the durable cursor marking how far a source has been
// processed. LastProcessedHeight is monotonically non-decreasing; it is
// advanced only after every event up to that height is durably applied.
type Checkpoint struct {
	Source              string
	LastProcessedHeight uint64
	Status              CheckpointStatus
	LastSyncedAt        time.Time
	LastError           string
}
