package record

import (
	"crypto/sha256"
	"time"

	"github.com/google/uuid"

	"github.com/leeforge/thumbforge/options"
)

// Status is the lifecycle state of a derivative record.
type Status uint8

const (
	StatusQueued Status = iota
	StatusBuilding
	StatusBuilt
	StatusSourceError
	StatusBuildError
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusBuilding:
		return "building"
	case StatusBuilt:
		return "built"
	case StatusSourceError:
		return "source_error"
	case StatusBuildError:
		return "build_error"
	}
	return "unknown"
}

// IsError reports whether the status is one of the two retryable
// error states.
func (s Status) IsError() bool {
	return s == StatusSourceError || s == StatusBuildError
}

// Record is the persistent unit of identity and state for one
// (source, options) pair. Its primary key is always the derived
// identity, never separately generated. Records are created QUEUED
// and mutated only by the build executor; this subsystem never
// deletes them.
type Record struct {
	ID              uuid.UUID      `json:"id"`
	StorageID       string         `json:"storage_id"`
	SourceName      string         `json:"source_name"`
	Options         map[string]any `json:"options"`
	Status          Status         `json:"status"`
	StatusChangedAt time.Time      `json:"status_changed_at"`
	ErrorCount      int            `json:"error_count"`
	BlobRef         string         `json:"blob_ref"`
	Width           int            `json:"width"`
	Height          int            `json:"height"`
	CreatedAt       time.Time      `json:"created_at"`
}

// IdentityFor derives the deterministic 128-bit identity of a
// derivative from the storage id, source name and the canonical
// option encoding. Pure: no randomness, no time component.
func IdentityFor(storageID, sourceName string, opts *options.Options) uuid.UUID {
	sum := sha256.Sum256([]byte(storageID + ":" + sourceName + ":" + opts.Canonical()))
	id, _ := uuid.FromBytes(sum[:16])
	return id
}

// New creates an in-memory QUEUED record for the given source and
// options with its identity as primary key. It is not persisted until
// passed to a Store.
func New(storageID, sourceName string, opts *options.Options) *Record {
	return &Record{
		ID:         IdentityFor(storageID, sourceName, opts),
		StorageID:  storageID,
		SourceName: sourceName,
		Options:    opts.ToMap(),
		Status:     StatusQueued,
		CreatedAt:  time.Now(),
	}
}

// ParsedOptions reconstructs the Options value from the persisted map.
func (r *Record) ParsedOptions() (*options.Options, error) {
	return options.Parse(r.Options)
}

// Built reports whether the derivative bytes exist. A caller reading
// a not-yet-built derivative checks this rather than expecting an
// error.
func (r *Record) Built() bool {
	return r.Status == StatusBuilt && r.BlobRef != ""
}

// Stale reports whether a BUILDING record has been abandoned: its
// last status change is older than the given threshold.
func (r *Record) Stale(threshold time.Duration, now time.Time) bool {
	if r.Status != StatusBuilding {
		return false
	}
	if r.StatusChangedAt.IsZero() {
		return true
	}
	return now.Sub(r.StatusChangedAt) > threshold
}

// Clone returns a deep copy, so stores can hand out records without
// aliasing their internal state.
func (r *Record) Clone() *Record {
	c := *r
	if r.Options != nil {
		c.Options = make(map[string]any, len(r.Options))
		for k, v := range r.Options {
			c.Options[k] = v
		}
	}
	return &c
}
