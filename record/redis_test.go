package record

import (
	"testing"
	"time"

	"github.com/leeforge/thumbforge/options"
)

func fieldMap(t *testing.T, r *Record) map[string]string {
	t.Helper()
	pairs, err := fieldsFromRecord(r)
	if err != nil {
		t.Fatalf("flattening record: %v", err)
	}
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		m[pairs[i].(string)] = pairs[i+1].(string)
	}
	return m
}

func TestHashFieldsRoundTrip(t *testing.T) {
	opts := options.MustParse(map[string]any{"width": 120, "ratio": "golden", "quality": 70})
	r := New("local", "photos/cat.jpg", opts)
	r.Status = StatusBuilt
	r.StatusChangedAt = time.Now().Round(0)
	r.ErrorCount = 2
	r.BlobRef = "img/thumbs/abc.webp"
	r.Width = 120
	r.Height = 74

	got, err := recordFromFields(r.ID, fieldMap(t, r))
	if err != nil {
		t.Fatalf("rebuilding record: %v", err)
	}
	if got.ID != r.ID || got.StorageID != r.StorageID || got.SourceName != r.SourceName {
		t.Fatalf("identity fields changed: %+v", got)
	}
	if got.Status != StatusBuilt || got.ErrorCount != 2 || got.BlobRef != r.BlobRef {
		t.Fatalf("state fields changed: %+v", got)
	}
	if got.Width != 120 || got.Height != 74 {
		t.Fatalf("dimensions changed: %dx%d", got.Width, got.Height)
	}
	if !got.StatusChangedAt.Equal(r.StatusChangedAt) || !got.CreatedAt.Equal(r.CreatedAt) {
		t.Fatalf("timestamps drifted: %v vs %v", got.StatusChangedAt, r.StatusChangedAt)
	}
}

// A numeric ratio must come back bit-identical however many times the
// record is read and rewritten, so that the stored options keep
// matching the identity they hash to.
func TestHashFieldsPreserveFloatOptions(t *testing.T) {
	ratio := 16.0 / 9.0
	opts := options.MustParse(map[string]any{"width": 100, "ratio": ratio})
	r := New("local", "photos/wide.jpg", opts)

	got, err := recordFromFields(r.ID, fieldMap(t, r))
	if err != nil {
		t.Fatalf("rebuilding record: %v", err)
	}
	back, ok := got.Options["ratio"].(float64)
	if !ok {
		t.Fatalf("ratio decoded as %T, want float64", got.Options["ratio"])
	}
	if back != ratio {
		t.Fatalf("ratio drifted through storage: %v != %v", back, ratio)
	}

	// A second pass through the mapping must be a fixed point.
	again, err := recordFromFields(got.ID, fieldMap(t, got))
	if err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	reparsed, err := again.ParsedOptions()
	if err != nil {
		t.Fatalf("reparsing stored options: %v", err)
	}
	if reparsed.Canonical() != opts.Canonical() {
		t.Fatalf("canonical form drifted:\n%s\n%s", reparsed.Canonical(), opts.Canonical())
	}
	if IdentityFor(again.StorageID, again.SourceName, reparsed) != r.ID {
		t.Fatal("stored options no longer hash to the record identity")
	}
}
