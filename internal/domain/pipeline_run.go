package domain

import (
	"time"

	"github.com/google/uuid"
)

// PipelineRunEntry records the outcome of one pipeline stage.
type PipelineRunEntry struct {
	ID           uuid.UUID `json:"id"`
	RunID        uuid.UUID `json:"run_id"`
	Stage        string    `json:"stage"`
	Outcome      string    `json:"outcome"`
	RangeStart   time.Time `json:"range_start"`
	RangeEnd     time.Time `json:"range_end"`
	RecordCount  int64     `json:"record_count"`
	ErrorMessage string    `json:"error_message,omitempty"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
}
