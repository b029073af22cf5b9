package batch

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/leeforge/thumbforge/blobstore"
	"github.com/leeforge/thumbforge/builder"
	"github.com/leeforge/thumbforge/codec"
	"github.com/leeforge/thumbforge/geometry"
	"github.com/leeforge/thumbforge/notify"
	"github.com/leeforge/thumbforge/options"
	"github.com/leeforge/thumbforge/record"
)

// countingStore counts bulk reads so tests can assert the batch never
// refetches cached records.
type countingStore struct {
	*record.MemoryStore
	bulkGets   atomic.Int64
	fetchedIDs atomic.Int64
}

func (s *countingStore) BulkGet(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*record.Record, error) {
	s.bulkGets.Add(1)
	s.fetchedIDs.Add(int64(len(ids)))
	return s.MemoryStore.BulkGet(ctx, ids)
}

type env struct {
	store    *countingStore
	blobs    *blobstore.Registry
	provider blobstore.Provider
	executor *builder.Executor
	events   []notify.Event
}

func newEnv(t *testing.T) *env {
	t.Helper()
	provider, err := blobstore.NewLocal("local", t.TempDir(), "/media")
	require.NoError(t, err)
	blobs := blobstore.NewRegistry()
	blobs.Register(provider)

	e := &env{
		store:    &countingStore{MemoryStore: record.NewMemoryStore()},
		blobs:    blobs,
		provider: provider,
	}
	e.executor = builder.NewExecutor(e.store, blobs, provider, codec.NewNative(), nil, nil)
	return e
}

func (e *env) newBatch() *Batch {
	notifier := notify.Func(func(_ context.Context, ev notify.Event) {
		e.events = append(e.events, ev)
	})
	return New(e.store, e.executor, e.blobs, notifier, nil, nil)
}

func (e *env) saveSource(t *testing.T, name string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	_, err := e.provider.Save(context.Background(), name, &buf)
	require.NoError(t, err)
}

func jpegImg(opts ...ImgOption) *Img {
	base := []ImgOption{
		WithOptions(map[string]any{"width": 100}),
		WithFormat("jpeg"),
	}
	return NewImg(append(base, opts...)...)
}

func TestAddDeduplicates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.newBatch()
	source := Source{StorageID: "local", Name: "photos/cat.png"}
	img := jpegImg()

	first, err := b.Add(ctx, source, img, AddParams{})
	require.NoError(t, err)
	second, err := b.Add(ctx, source, img, AddParams{})
	require.NoError(t, err)
	require.NoError(t, b.EnsureLoaded(ctx))

	// Both requests resolve to the same identities and records.
	require.Equal(t, first.item.baseID, second.item.baseID)
	require.Equal(t, len(first.item.options), len(b.all))

	stats, err := e.store.StatusCounts(ctx, 0)
	require.NoError(t, err)
	require.Equal(t, len(b.all), stats.Queued)
}

func TestIncrementalReload(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.newBatch()
	img := jpegImg()

	_, err := b.Add(ctx, Source{StorageID: "local", Name: "photos/a.png"}, img, AddParams{})
	require.NoError(t, err)
	require.NoError(t, b.EnsureLoaded(ctx))
	firstIDs := e.store.fetchedIDs.Load()

	// A new identity resets the loaded flag; only the new ids are
	// fetched, cached records stay.
	_, err = b.Add(ctx, Source{StorageID: "local", Name: "photos/b.png"}, img, AddParams{})
	require.NoError(t, err)
	require.NoError(t, b.EnsureLoaded(ctx))
	secondIDs := e.store.fetchedIDs.Load() - firstIDs
	require.Equal(t, firstIDs, secondIDs)

	// Re-adding known identities leaves the batch loaded: no fetch at
	// all.
	before := e.store.bulkGets.Load()
	_, err = b.Add(ctx, Source{StorageID: "local", Name: "photos/a.png"}, img, AddParams{})
	require.NoError(t, err)
	require.NoError(t, b.EnsureLoaded(ctx))
	require.Equal(t, before, e.store.bulkGets.Load())
}

func TestNotifyOncePerRequest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.newBatch()
	img := jpegImg()

	_, err := b.Add(ctx, Source{StorageID: "local", Name: "photos/new.png"}, img, AddParams{Notify: true})
	require.NoError(t, err)
	require.NoError(t, b.EnsureLoaded(ctx))
	require.Len(t, e.events, 1)
	require.Equal(t, "photos/new.png", e.events[0].SourceName)

	// Loading again or re-adding the same identities must not fire a
	// second event.
	require.NoError(t, b.EnsureLoaded(ctx))
	require.Len(t, e.events, 1)

	// A second batch against now-existing records creates nothing, so
	// no event fires.
	b2 := e.newBatch()
	_, err = b2.Add(ctx, Source{StorageID: "local", Name: "photos/new.png"}, img, AddParams{Notify: true})
	require.NoError(t, err)
	require.NoError(t, b2.EnsureLoaded(ctx))
	require.Len(t, e.events, 1)
}

func TestDensityFamily(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.newBatch()

	// webp gets a synthesized 1x member ahead of the configured 2x;
	// jpeg relies on the base rendition instead.
	webp := NewImg(WithOptions(map[string]any{"width": 100}), WithFormat("webp"))
	bound, err := b.Add(ctx, Source{StorageID: "local", Name: "photos/w.png"}, webp, AddParams{})
	require.NoError(t, err)
	require.Len(t, bound.item.srcsetIDs, 2)
	widths := []int{}
	for _, id := range bound.item.srcsetIDs {
		widths = append(widths, bound.item.srcsetMeta[id])
	}
	require.Equal(t, []int{100, 200}, widths)

	jpeg := jpegImg()
	bound, err = b.Add(ctx, Source{StorageID: "local", Name: "photos/j.png"}, jpeg, AddParams{})
	require.NoError(t, err)
	require.Len(t, bound.item.srcsetIDs, 1)
	require.Equal(t, 200, bound.item.srcsetMeta[bound.item.srcsetIDs[0]])
	require.True(t, bound.item.hasBase)
}

func TestSizesResolution(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.newBatch()

	img := NewImg(
		WithOptions(map[string]any{"width": 800}),
		WithFormat("webp"),
		WithSizes(
			SizeRule{MaxWidth: 600, Value: 400},
			SizeRule{Media: "(min-width: 1200px)", Value: 1000},
		),
	)
	bound, err := b.Add(ctx, Source{StorageID: "local", Name: "photos/s.png"}, img, AddParams{})
	require.NoError(t, err)

	require.Equal(t, "(max-width: 600px) 400px, (min-width: 1200px) 1000px, 1000px", bound.Sizes())

	// Two breakpoints, plus the high-density variant of the largest;
	// the largest breakpoint itself is already a srcset member.
	require.Len(t, bound.item.srcsetIDs, 3)
	require.Equal(t, 2000, bound.item.srcsetMeta[bound.item.srcsetIDs[2]])
}

func TestBuildForRequest(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.saveSource(t, "photos/build.png", 400, 400)
	b := e.newBatch()

	img := jpegImg()
	bound, err := b.Add(ctx, Source{StorageID: "local", Name: "photos/build.png"}, img,
		AddParams{Build: IntentBase})
	require.NoError(t, err)

	rec, err := bound.Base(ctx)
	require.NoError(t, err)
	require.NotNil(t, rec)
	require.Equal(t, record.StatusBuilt, rec.Status)
	require.Equal(t, 100, rec.Width)
	require.Equal(t, 56, rec.Height)

	url, err := bound.BaseURL(ctx)
	require.NoError(t, err)
	require.Contains(t, url, "/media/img/thumbs/")

	built, err := bound.IsBuilt(ctx)
	require.NoError(t, err)
	require.True(t, built)
}

func TestBuildAllSharesOneRecordPerIdentity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.saveSource(t, "photos/twice.png", 400, 400)
	b := e.newBatch()
	source := Source{StorageID: "local", Name: "photos/twice.png"}
	img := jpegImg()

	first, err := b.Add(ctx, source, img, AddParams{Build: IntentAll})
	require.NoError(t, err)
	second, err := b.Add(ctx, source, img, AddParams{Build: IntentAll})
	require.NoError(t, err)
	require.NoError(t, b.Build(ctx))

	recA, err := first.Base(ctx)
	require.NoError(t, err)
	recB, err := second.Base(ctx)
	require.NoError(t, err)
	require.Equal(t, recA.ID, recB.ID)
	require.Equal(t, record.StatusBuilt, recA.Status)

	stats, err := e.store.StatusCounts(ctx, 0)
	require.NoError(t, err)
	require.Zero(t, stats.Queued)
	require.Equal(t, len(b.all), stats.Built)
}

func TestSourceFallbackURL(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	b := e.newBatch()

	bound, err := b.Add(ctx, Source{StorageID: "local", Name: "photos/raw.png"}, jpegImg(), AddParams{})
	require.NoError(t, err)

	// Nothing built: the URL falls back to the original source.
	url, err := bound.BaseURL(ctx)
	require.NoError(t, err)
	require.Equal(t, "/media/photos/raw.png", url)
}

func TestHTMLRendering(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	e.saveSource(t, "photos/tag.png", 400, 400)
	b := e.newBatch()

	img := jpegImg(WithAlt("a cat"))
	bound, err := b.Add(ctx, Source{StorageID: "local", Name: "photos/tag.png"}, img,
		AddParams{Build: IntentAll})
	require.NoError(t, err)
	require.NoError(t, b.Build(ctx))

	tag, err := bound.HTML(ctx, map[string]string{"loading": "lazy"})
	require.NoError(t, err)
	require.Contains(t, tag, `alt="a cat"`)
	require.Contains(t, tag, `src="/media/img/thumbs/`)
	require.Contains(t, tag, "200w")
	require.Contains(t, tag, `width="100"`)
	require.Contains(t, tag, `height="56"`)
	require.Contains(t, tag, `loading="lazy"`)
}

func TestDefaultRenditionCrops(t *testing.T) {
	// The defaults must produce an exact-size cover+crop derivative;
	// contain suppresses cropping and is opt-in per Img.
	o, err := options.Parse(jpegImg().bag())
	require.NoError(t, err)
	require.False(t, o.Contain)
	require.NotNil(t, o.Crop)

	plan, ok := geometry.ComputeTargetBox(400, 400, o)
	require.True(t, ok)
	require.Equal(t, 100, plan.OutW)
	require.Equal(t, 56, plan.OutH)

	contained := jpegImg(WithOptions(map[string]any{"contain": true}))
	o, err = options.Parse(contained.bag())
	require.NoError(t, err)
	require.True(t, o.Contain)
}

func TestExtend(t *testing.T) {
	base := jpegImg(WithAlt("base"))
	wide := base.Extend(WithOptions(map[string]any{"width": 500}))

	require.Equal(t, 100, base.opts["width"])
	require.Equal(t, 500, wide.opts["width"])
	require.Equal(t, "base", wide.alt)
	require.Equal(t, "jpeg", wide.format)
}
