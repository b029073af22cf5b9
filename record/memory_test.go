package record

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/leeforge/thumbforge/options"
)

func queuedRecord(t *testing.T, name string) *Record {
	t.Helper()
	opts := options.MustParse(map[string]any{"width": 100, "ratio": "square"})
	return New("local", name, opts)
}

func TestBulkCreateIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := queuedRecord(t, "a.jpg")

	created, err := store.BulkCreateIfAbsent(ctx, []*Record{rec})
	if err != nil {
		t.Fatalf("BulkCreateIfAbsent returned error: %v", err)
	}
	if len(created) != 1 {
		t.Fatalf("created %d records, want 1", len(created))
	}

	// Second insert loses; the record is not duplicated or replaced.
	again, err := store.BulkCreateIfAbsent(ctx, []*Record{queuedRecord(t, "a.jpg")})
	if err != nil {
		t.Fatalf("BulkCreateIfAbsent returned error: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("re-insert created %d records, want 0", len(again))
	}
}

func TestConditionalUpdateAtMostOne(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := queuedRecord(t, "race.jpg")
	if _, err := store.BulkCreateIfAbsent(ctx, []*Record{rec}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	const workers = 16
	var wg sync.WaitGroup
	acquired := make(chan int, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.ConditionalUpdate(ctx, rec.ID,
				[]Status{StatusBuilding, StatusBuilt},
				Update{Status: StatusBuilding, StatusChangedAt: time.Now()})
			if err != nil {
				t.Errorf("ConditionalUpdate returned error: %v", err)
				return
			}
			acquired <- n
		}()
	}
	wg.Wait()
	close(acquired)

	total := 0
	for n := range acquired {
		total += n
	}
	if total != 1 {
		t.Fatalf("%d workers acquired the build lock, want exactly 1", total)
	}
}

func TestConditionalUpdateBlockedStatuses(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	rec := queuedRecord(t, "built.jpg")
	if _, err := store.BulkCreateIfAbsent(ctx, []*Record{rec}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Update(ctx, rec.ID, Update{Status: StatusBuilt, StatusChangedAt: time.Now(),
		SetBlob: true, BlobRef: "x", Width: 1, Height: 1}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	n, err := store.ConditionalUpdate(ctx, rec.ID,
		[]Status{StatusBuilding, StatusBuilt},
		Update{Status: StatusBuilding, StatusChangedAt: time.Now()})
	if err != nil {
		t.Fatalf("ConditionalUpdate returned error: %v", err)
	}
	if n != 0 {
		t.Fatal("a built record must not be re-acquired without force")
	}

	// Error statuses are not blocked: a failed build can be retried
	// directly.
	failed := queuedRecord(t, "failed.jpg")
	if _, err := store.BulkCreateIfAbsent(ctx, []*Record{failed}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := store.Update(ctx, failed.ID, Update{Status: StatusBuildError,
		StatusChangedAt: time.Now(), IncrementErrors: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	n, err = store.ConditionalUpdate(ctx, failed.ID,
		[]Status{StatusBuilding, StatusBuilt},
		Update{Status: StatusBuilding, StatusChangedAt: time.Now()})
	if err != nil {
		t.Fatalf("ConditionalUpdate returned error: %v", err)
	}
	if n != 1 {
		t.Fatal("an errored record should be acquirable")
	}
}

func TestListBuildable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	queued := queuedRecord(t, "queued.jpg")
	built := queuedRecord(t, "built.jpg")
	errored := queuedRecord(t, "errored.jpg")
	hopeless := queuedRecord(t, "hopeless.jpg")
	stale := queuedRecord(t, "stale.jpg")
	fresh := queuedRecord(t, "fresh.jpg")
	all := []*Record{queued, built, errored, hopeless, stale, fresh}
	if _, err := store.BulkCreateIfAbsent(ctx, all); err != nil {
		t.Fatalf("seed: %v", err)
	}

	now := time.Now()
	mustUpdate := func(id uuid.UUID, set Update) {
		t.Helper()
		if err := store.Update(ctx, id, set); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	mustUpdate(built.ID, Update{Status: StatusBuilt, StatusChangedAt: now, SetBlob: true, BlobRef: "x"})
	mustUpdate(errored.ID, Update{Status: StatusSourceError, StatusChangedAt: now, IncrementErrors: true})
	for i := 0; i < 5; i++ {
		mustUpdate(hopeless.ID, Update{Status: StatusBuildError, StatusChangedAt: now, IncrementErrors: true})
	}
	mustUpdate(stale.ID, Update{Status: StatusBuilding, StatusChangedAt: now.Add(-20 * time.Minute)})
	mustUpdate(fresh.ID, Update{Status: StatusBuilding, StatusChangedAt: now})

	recs, err := store.ListBuildable(ctx, BuildableFilter{MaxErrors: 3, StaleAfter: 600 * time.Second})
	if err != nil {
		t.Fatalf("ListBuildable returned error: %v", err)
	}
	want := map[uuid.UUID]bool{queued.ID: true, errored.ID: true, stale.ID: true}
	if len(recs) != len(want) {
		t.Fatalf("got %d buildable records, want %d", len(recs), len(want))
	}
	for _, r := range recs {
		if !want[r.ID] {
			t.Fatalf("unexpected buildable record %s (%s)", r.SourceName, r.Status)
		}
	}

	// MaxErrors below the count excludes errors entirely at -1.
	recs, err = store.ListBuildable(ctx, BuildableFilter{MaxErrors: -1})
	if err != nil {
		t.Fatalf("ListBuildable returned error: %v", err)
	}
	for _, r := range recs {
		if r.Status.IsError() {
			t.Fatal("negative MaxErrors must exclude errored records")
		}
	}
}

func TestRequeueAndStatusCounts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	errored := queuedRecord(t, "errored.jpg")
	hopeless := queuedRecord(t, "hopeless.jpg")
	if _, err := store.BulkCreateIfAbsent(ctx, []*Record{errored, hopeless}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	now := time.Now()
	if err := store.Update(ctx, errored.ID, Update{Status: StatusSourceError, StatusChangedAt: now, IncrementErrors: true}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	for i := 0; i < 4; i++ {
		if err := store.Update(ctx, hopeless.ID, Update{Status: StatusBuildError, StatusChangedAt: now, IncrementErrors: true}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	stats, err := store.StatusCounts(ctx, 600*time.Second)
	if err != nil {
		t.Fatalf("StatusCounts returned error: %v", err)
	}
	if stats.SourceErrors != 1 || stats.BuildErrors != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.ErrorDist[1] != 1 || stats.ErrorDist[4] != 1 {
		t.Fatalf("error distribution = %v", stats.ErrorDist)
	}

	n, err := store.Requeue(ctx, RequeueFilter{MaxErrors: 3})
	if err != nil {
		t.Fatalf("Requeue returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("requeued %d records, want 1 (hopeless exceeds the cap)", n)
	}

	n, err = store.Requeue(ctx, RequeueFilter{MaxErrors: -1})
	if err != nil {
		t.Fatalf("Requeue returned error: %v", err)
	}
	if n != 1 {
		t.Fatalf("unbounded requeue reset %d records, want the remaining 1", n)
	}
}
