package record

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Update is a partial record mutation. Every transition in the state
// machine sets a status and its change time; error transitions also
// bump the counter, and the terminal BUILT transition stores the blob
// reference and dimensions.
type Update struct {
	Status          Status
	StatusChangedAt time.Time
	IncrementErrors bool
	SetBlob         bool
	BlobRef         string
	Width           int
	Height          int
}

// BuildableFilter selects records eligible for a build sweep.
type BuildableFilter struct {
	// MaxErrors skips error records whose count exceeds it. Negative
	// means errors are not swept at all; zero sweeps only records that
	// have never failed.
	MaxErrors int
	// StaleAfter additionally includes BUILDING records whose last
	// status change is older than this. Zero excludes BUILDING.
	StaleAfter time.Duration
	// Limit caps the result; zero means no cap.
	Limit int
}

// RequeueFilter selects error records to reset to QUEUED.
type RequeueFilter struct {
	// MaxErrors only requeues records with at most this many errors.
	// Negative requeues regardless of count.
	MaxErrors int
	// IncludeStale also requeues BUILDING records older than
	// StaleAfter.
	IncludeStale bool
	StaleAfter   time.Duration
}

// Stats is the queue breakdown reported by the status sweep.
type Stats struct {
	Queued       int         `json:"queued"`
	Building     int         `json:"building"`
	Built        int         `json:"built"`
	SourceErrors int         `json:"source_errors"`
	BuildErrors  int         `json:"build_errors"`
	Stale        int         `json:"stale"`
	ErrorDist    map[int]int `json:"error_dist"`
}

// Store is the persistence boundary for derivative records. It must
// support an atomic compare-and-set style update: ConditionalUpdate
// is the mutual exclusion primitive the build lock is built on.
type Store interface {
	// Get returns the record or a not_found error.
	Get(ctx context.Context, id uuid.UUID) (*Record, error)

	// BulkGet returns the records that exist; missing ids are simply
	// absent from the result.
	BulkGet(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*Record, error)

	// BulkCreateIfAbsent inserts the given records, ignoring ids that
	// already exist, and returns only the ones actually created.
	BulkCreateIfAbsent(ctx context.Context, recs []*Record) ([]*Record, error)

	// ConditionalUpdate applies the update only if the record exists
	// and its current status is not in notIn, returning the number of
	// records affected (0 or 1).
	ConditionalUpdate(ctx context.Context, id uuid.UUID, notIn []Status, set Update) (int, error)

	// Update applies the update unconditionally.
	Update(ctx context.Context, id uuid.UUID, set Update) error

	// ListBuildable returns records a sweep should attempt to build.
	ListBuildable(ctx context.Context, f BuildableFilter) ([]*Record, error)

	// Requeue resets matching error (and optionally stale BUILDING)
	// records to QUEUED and returns how many were reset.
	Requeue(ctx context.Context, f RequeueFilter) (int, error)

	// StatusCounts reports the queue breakdown.
	StatusCounts(ctx context.Context, staleAfter time.Duration) (Stats, error)
}

// Apply mutates r with the update. Shared by store implementations so
// the transition semantics stay in one place.
func (u Update) Apply(r *Record) {
	r.Status = u.Status
	r.StatusChangedAt = u.StatusChangedAt
	if u.IncrementErrors {
		r.ErrorCount++
	}
	if u.SetBlob {
		r.BlobRef = u.BlobRef
		r.Width = u.Width
		r.Height = u.Height
	}
}
