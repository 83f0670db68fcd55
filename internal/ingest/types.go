// Package ingest loads delimited files into the document store.
//
// An ingest reads one file with a delimited.Reader, writes every valid
// record as a document in batches, and keeps the rejected rows for
// reporting. Ingests started with Start run in the background and are
// tracked by ID until a retention period after they finish; Run does the
// same work synchronously for command-line use.
package ingest

import (
	"time"

	"github.com/google/uuid"
)

// Phase indicates the current stage of an ingest.
type Phase string

const (
	PhaseStarting  Phase = "starting"
	PhaseParsing   Phase = "parsing"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
	PhaseCancelled Phase = "cancelled"
)

// Done reports whether the phase is terminal.
func (p Phase) Done() bool {
	return p == PhaseComplete || p == PhaseFailed || p == PhaseCancelled
}

// Progress is a snapshot of a running or finished ingest.
type Progress struct {
	IngestID uuid.UUID `json:"ingest_id"`
	FileName string    `json:"file_name"`
	Phase    Phase     `json:"phase"`
	Records  int       `json:"records"`
	Valid    int       `json:"valid"`
	Invalid  int       `json:"invalid"`
	Written  int64     `json:"written"`
	Fraction float64   `json:"fraction"`
	Error    string    `json:"error,omitempty"`
}

// Percent returns Fraction as a whole percentage.
func (p Progress) Percent() int {
	return int(p.Fraction * 100)
}

// FailedRow is a data row that produced no document.
type FailedRow struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
	Text   string `json:"text"`
}

// Result is the outcome of a finished ingest.
type Result struct {
	IngestID   uuid.UUID     `json:"ingest_id"`
	FileName   string        `json:"file_name"`
	Phase      Phase         `json:"phase"`
	Header     []string      `json:"header"`
	IDColumn   string        `json:"id_column"`
	Records    int           `json:"records"`
	Valid      int           `json:"valid"`
	Invalid    int           `json:"invalid"`
	Written    int64         `json:"written"`
	FailedRows []FailedRow   `json:"failed_rows"`
	Truncated  bool          `json:"failed_rows_truncated"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
}

// ProgressCallback receives progress snapshots during Run.
type ProgressCallback func(Progress)
