// Package builder drives the derivative state machine: it acquires
// the per-record build lock, runs decode/scale/encode and persists the
// outcome. At most one executor transitions any record at a time; the
// lock is the store's conditional update, so it holds across
// processes.
package builder

import (
	"bytes"
	"context"
	"image"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/leeforge/thumbforge/blobstore"
	"github.com/leeforge/thumbforge/codec"
	"github.com/leeforge/thumbforge/errors"
	"github.com/leeforge/thumbforge/geometry"
	"github.com/leeforge/thumbforge/logging"
	"github.com/leeforge/thumbforge/metrics"
	"github.com/leeforge/thumbforge/options"
	"github.com/leeforge/thumbforge/record"
)

// derivativePrefix is where built blobs live inside the derivative
// provider.
const derivativePrefix = "img/thumbs/"

// Executor builds derivatives. Sources are read from the provider the
// record's storage id resolves to; built blobs always go to the
// derivative provider.
type Executor struct {
	store       record.Store
	sources     *blobstore.Registry
	derivatives blobstore.Provider
	codec       codec.Codec
	recorder    metrics.Recorder
	log         logging.Logger
}

func NewExecutor(store record.Store, sources *blobstore.Registry, derivatives blobstore.Provider, cdc codec.Codec, recorder metrics.Recorder, log logging.Logger) *Executor {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Executor{
		store:       store,
		sources:     sources,
		derivatives: derivatives,
		codec:       cdc,
		recorder:    recorder,
		log:         log.Named("builder"),
	}
}

// BeginBuild attempts to take the build lock on rec, marking it
// BUILDING. Without force the transition is conditional: it fails
// when the record is already BUILDING or BUILT, and acquired=false
// then means someone else owns it (or the work is done) and the
// caller just moves on. With force the transition is unconditional,
// which is how a stale BUILDING record is reclaimed.
//
// On success rec is mutated to reflect the persisted state.
func (e *Executor) BeginBuild(ctx context.Context, rec *record.Record, force bool) (acquired bool, err error) {
	set := record.Update{Status: record.StatusBuilding, StatusChangedAt: time.Now()}
	if force {
		if err := e.store.Update(ctx, rec.ID, set); err != nil {
			return false, err
		}
		set.Apply(rec)
		return true, nil
	}
	n, err := e.store.ConditionalUpdate(ctx, rec.ID,
		[]record.Status{record.StatusBuilding, record.StatusBuilt}, set)
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	set.Apply(rec)
	return true, nil
}

// Build runs the full build for one record: lock, decode, transform,
// encode, persist. reclaimStale forces the lock on records abandoned
// mid-build for longer than the given threshold. A record whose lock
// cannot be taken is skipped: built=false, err=nil.
func (e *Executor) Build(ctx context.Context, rec *record.Record, reclaimStale time.Duration) (built bool, err error) {
	force := reclaimStale > 0 && rec.Stale(reclaimStale, time.Now())
	acquired, err := e.BeginBuild(ctx, rec, force)
	if err != nil || !acquired {
		return false, err
	}
	if err := e.Run(ctx, rec, nil); err != nil {
		return false, err
	}
	return true, nil
}

// Run executes the build body for a record already marked BUILDING.
// source may carry a pre-decoded image shared across a batch; when
// nil the executor decodes the record's own source. Failures are
// persisted as SOURCE_ERROR or BUILD_ERROR with the error counter
// bumped, and returned for the caller's logging.
func (e *Executor) Run(ctx context.Context, rec *record.Record, source image.Image) error {
	e.recorder.Increment(metrics.BuildStarted, nil)

	opts, err := rec.ParsedOptions()
	if err != nil {
		return e.fail(ctx, rec, record.StatusBuildError, errors.WrapWithType(err, errors.ErrorTypeBuild, "stored options unparseable"))
	}

	if source == nil {
		source, err = e.DecodeSource(ctx, rec.StorageID, rec.SourceName, []*options.Options{opts})
		if err != nil {
			return e.fail(ctx, rec, record.StatusSourceError, err)
		}
	}

	img, err := e.transform(source, opts)
	if err != nil {
		return e.fail(ctx, rec, record.StatusBuildError, err)
	}

	data, err := e.codec.Encode(img, opts.Mimetype, opts.Quality)
	if err != nil {
		return e.fail(ctx, rec, record.StatusBuildError, err)
	}

	name := derivativePrefix + blobName(rec, opts)
	if _, err := e.derivatives.Save(ctx, name, bytes.NewReader(data)); err != nil {
		return e.fail(ctx, rec, record.StatusBuildError, errors.WrapWithType(err, errors.ErrorTypeStorage, "save derivative"))
	}

	bounds := img.Bounds()
	set := record.Update{
		Status:          record.StatusBuilt,
		StatusChangedAt: time.Now(),
		SetBlob:         true,
		BlobRef:         name,
		Width:           bounds.Dx(),
		Height:          bounds.Dy(),
	}
	if err := e.store.Update(ctx, rec.ID, set); err != nil {
		return err
	}
	set.Apply(rec)
	e.recorder.Increment(metrics.BuildSucceeded, nil)
	e.log.Debug("derivative built",
		zap.String("id", rec.ID.String()),
		zap.String("blob", name),
		zap.Int("width", rec.Width),
		zap.Int("height", rec.Height))
	return nil
}

// Target pairs a locked record with its parsed options.
type Target struct {
	Rec  *record.Record
	Opts *options.Options
}

// BuildGroup builds every target from one source with a single shared
// decode, pre-shrunk for the whole group. Targets must already be
// marked BUILDING. A decode failure records SOURCE_ERROR on every
// target; per-target build failures are recorded on their records.
// Errors are persisted, never propagated, so a partially failed group
// still finishes the rest.
func (e *Executor) BuildGroup(ctx context.Context, storageID, sourceName string, targets []Target) {
	if len(targets) == 0 {
		return
	}
	optsList := make([]*options.Options, len(targets))
	for i, t := range targets {
		optsList[i] = t.Opts
	}
	source, err := e.DecodeSource(ctx, storageID, sourceName, optsList)
	if err != nil {
		for _, t := range targets {
			e.fail(ctx, t.Rec, record.StatusSourceError, err)
		}
		return
	}
	for _, t := range targets {
		e.Run(ctx, t.Rec, source)
	}
}

// DerivativeURL resolves the public URL of a built record. A record
// without bytes yields an empty string, the well-defined "not ready"
// signal.
func (e *Executor) DerivativeURL(ctx context.Context, rec *record.Record) (string, error) {
	if !rec.Built() {
		return "", nil
	}
	return e.derivatives.URL(ctx, rec.BlobRef)
}

// DecodeSource opens and decodes a source once for every option set
// that will be built from it, pre-shrinking the decode by the largest
// factor that still leaves all targets enough pixels.
func (e *Executor) DecodeSource(ctx context.Context, storageID, sourceName string, optsList []*options.Options) (image.Image, error) {
	provider, err := e.sources.Resolve(storageID)
	if err != nil {
		return nil, errors.NewSource(sourceName, err)
	}
	rc, err := provider.Open(ctx, sourceName)
	if err != nil {
		return nil, errors.NewSource(sourceName, err)
	}
	defer rc.Close()

	// Source streams are not generally seekable, so buffer once and
	// read the header and pixels from the same bytes.
	raw, err := io.ReadAll(rc)
	if err != nil {
		return nil, errors.NewSource(sourceName, err)
	}
	w, h, err := e.codec.Dimensions(bytes.NewReader(raw))
	if err != nil {
		return nil, errors.NewSource(sourceName, err)
	}
	shrink := geometry.ShrinkFactor(w, h, optsList)
	img, err := e.codec.Decode(bytes.NewReader(raw), shrink)
	if err != nil {
		return nil, errors.NewSource(sourceName, err)
	}
	return img, nil
}

// transform applies the scale plan to the decoded source. Options
// resolving no concrete size pass the image through, so a pure format
// conversion still works.
func (e *Executor) transform(source image.Image, opts *options.Options) (image.Image, error) {
	bounds := source.Bounds()
	plan, ok := geometry.ComputeTargetBox(bounds.Dx(), bounds.Dy(), opts)
	if !ok {
		return source, nil
	}

	img := source
	var err error
	if plan.PreCrop != nil {
		if img, err = e.codec.ExtractRegion(img, *plan.PreCrop); err != nil {
			return nil, err
		}
	}
	img = e.codec.Resize(img, plan.Scale)
	if plan.Crop != nil {
		if img, err = e.codec.ExtractRegion(img, *plan.Crop); err != nil {
			return nil, err
		}
	}
	return img, nil
}

// fail persists an error outcome and bumps the record's error count.
// The build error itself takes precedence over a persistence failure;
// the latter is only logged.
func (e *Executor) fail(ctx context.Context, rec *record.Record, status record.Status, cause error) error {
	set := record.Update{
		Status:          status,
		StatusChangedAt: time.Now(),
		IncrementErrors: true,
	}
	if err := e.store.Update(ctx, rec.ID, set); err != nil {
		e.log.WithError(err).Error("persist build failure",
			zap.String("id", rec.ID.String()))
	} else {
		set.Apply(rec)
	}
	metricName := metrics.BuildFailed
	if status == record.StatusSourceError {
		metricName = metrics.BuildSourceError
	}
	e.recorder.Increment(metricName, map[string]string{"source": rec.SourceName})
	e.log.WithError(cause).Warn("derivative build failed",
		zap.String("id", rec.ID.String()),
		zap.String("source", rec.SourceName),
		zap.String("status", status.String()))
	return cause
}

// blobName derives the stored file name from the record identity and
// the target mimetype.
func blobName(rec *record.Record, opts *options.Options) string {
	hex := strings.ReplaceAll(rec.ID.String(), "-", "")
	return hex + codec.ExtensionFor(opts.Mimetype)
}
