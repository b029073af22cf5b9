package batch

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leeforge/thumbforge/blobstore"
	"github.com/leeforge/thumbforge/builder"
	"github.com/leeforge/thumbforge/codec"
	"github.com/leeforge/thumbforge/errors"
	"github.com/leeforge/thumbforge/logging"
	"github.com/leeforge/thumbforge/metrics"
	"github.com/leeforge/thumbforge/notify"
	"github.com/leeforge/thumbforge/options"
	"github.com/leeforge/thumbforge/record"
)

// Source names one source image inside a storage provider.
type Source struct {
	StorageID string
	Name      string
}

// AddParams tunes one Add call.
type AddParams struct {
	// Alt overrides the Img's alt text for this request.
	Alt string
	// Build is the build intent, executed by Build/BuildForRequest or
	// immediately when Immediate is set.
	Build Intent
	// Immediate runs the build synchronously inside Add.
	Immediate bool
	// Notify fires the queued-derivatives notifier when this request
	// creates new records.
	Notify bool
}

// item is one request's resolved shape inside the batch.
type item struct {
	source     Source
	alt        string
	build      Intent
	notify     bool
	notified   bool
	options    map[uuid.UUID]*options.Options
	baseID     uuid.UUID
	hasBase    bool
	srcsetIDs  []uuid.UUID
	srcsetMeta map[uuid.UUID]int // display width for the srcset descriptor
	sizesAttr  string
	attrs      map[string]string
}

// Batch deduplicates derivative requests by identity and defers all
// record fetching and creation into bulk calls. It is ephemeral and
// single-goroutine: one batch per logical operation.
type Batch struct {
	store    record.Store
	executor *builder.Executor
	blobs    *blobstore.Registry
	notifier notify.Notifier
	recorder metrics.Recorder
	log      logging.Logger

	loaded  bool
	all     map[uuid.UUID]*options.Options
	records map[uuid.UUID]*record.Record
	items   []*item
}

func New(store record.Store, executor *builder.Executor, blobs *blobstore.Registry, notifier notify.Notifier, recorder metrics.Recorder, log logging.Logger) *Batch {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Batch{
		store:    store,
		executor: executor,
		blobs:    blobs,
		notifier: notifier,
		recorder: recorder,
		log:      log.Named("batch"),
		all:      make(map[uuid.UUID]*options.Options),
		records:  make(map[uuid.UUID]*record.Record),
	}
}

// Add resolves the Img's option families against one source and
// registers the resulting identities in the batch. Two Adds resolving
// to the same identity share one record and at most one build. A
// ValidationError from option parsing fails fast; nothing is
// persisted until EnsureLoaded.
func (b *Batch) Add(ctx context.Context, source Source, img *Img, params AddParams) (*BoundImg, error) {
	b.recorder.Increment(metrics.DerivativeRequested, nil)

	it := &item{
		source:     source,
		alt:        params.Alt,
		build:      params.Build,
		notify:     params.Notify,
		options:    make(map[uuid.UUID]*options.Options),
		srcsetMeta: make(map[uuid.UUID]int),
		attrs:      img.attrs,
	}
	if it.alt == "" {
		it.alt = img.alt
	}

	if err := b.resolve(it, source, img); err != nil {
		return nil, err
	}

	// Register this request's identities batch-wide. New identities
	// after a completed load pass reset the loaded flag so the next
	// read triggers an incremental reload; cached records stay.
	added := false
	for id, opts := range it.options {
		if _, ok := b.all[id]; !ok {
			added = true
		}
		b.all[id] = opts
	}
	if added && b.loaded {
		b.loaded = false
	}

	b.items = append(b.items, it)
	bound := &BoundImg{batch: b, item: it}

	if params.Build != IntentNone && params.Immediate {
		if err := b.EnsureLoaded(ctx); err != nil {
			return bound, err
		}
		if err := b.buildItem(ctx, it, params.Build); err != nil {
			return bound, err
		}
	}
	return bound, nil
}

// resolve expands the Img into this item's base and srcset option
// sets, registering each identity.
func (b *Batch) resolve(it *item, source Source, img *Img) error {
	// The base rendition is the jpeg fallback; it only exists when a
	// width is configured.
	baseWidth := 0
	if raw, ok := img.opts["width"]; ok && raw != nil {
		bag := img.bag()
		bag["mimetype"] = "image/jpeg"
		parsed, err := options.Parse(bag)
		if err != nil {
			return err
		}
		it.baseID = b.register(it, source, parsed)
		it.hasBase = true
		baseWidth = parsed.Width
	}

	densities := append([]float64(nil), img.densities...)
	srcsetBag := img.bag()
	if mimetype, ok := codec.FormatMap[img.format]; ok {
		srcsetBag["mimetype"] = mimetype
		// A modern-format srcset still needs a 1x member; jpeg falls
		// back to the base rendition instead.
		if len(densities) > 0 && !containsDensity(densities, 1) && mimetype != "image/jpeg" {
			densities = append([]float64{1}, densities...)
		}
	} else {
		srcsetBag["mimetype"] = sourceMimetype(source.Name)
	}

	if len(img.sizes) > 0 && baseWidth > 0 {
		return b.resolveSizes(it, source, img, srcsetBag, densities, baseWidth)
	}

	for _, density := range densities {
		bag := copyBag(srcsetBag)
		bag["width_multiplier"] = density
		parsed, err := options.Parse(bag)
		if err != nil {
			return err
		}
		id := b.register(it, source, parsed)
		it.srcsetIDs = append(it.srcsetIDs, id)
		it.srcsetMeta[id] = parsed.Width
	}
	return nil
}

// resolveSizes expands breakpoint rules: every rule inherits the
// srcset options and sets its own width; the largest non-print
// breakpoint becomes the fallback entry of the sizes attribute and,
// when a density multiplier above 1 is configured, additionally gets
// a synthesized high-density variant.
func (b *Batch) resolveSizes(it *item, source Source, img *Img, srcsetBag map[string]any, densities []float64, baseWidth int) error {
	maxBag := copyBag(srcsetBag)
	maxWidth := baseWidth
	var sizesAttr []string

	for _, rule := range img.sizes {
		bag := copyBag(srcsetBag)
		switch v := rule.Value.(type) {
		case map[string]any:
			for k, val := range v {
				bag[k] = val
			}
		case int:
			bag["width"] = v
		case string:
			if _, ok := options.NamedWidths[v]; !ok {
				return errors.NewValidation("sizes", v, "not an int, option map or named width")
			}
			bag["width"] = v
		default:
			return errors.NewValidation("sizes", rule.Value, "not an int, option map or named width")
		}

		parsed, err := options.Parse(bag)
		if err != nil {
			return err
		}
		if parsed.Width == 0 {
			return errors.NewValidation("sizes", rule.Value, "must resolve to a width")
		}

		id := b.register(it, source, parsed)
		it.srcsetIDs = append(it.srcsetIDs, id)
		it.srcsetMeta[id] = parsed.Width

		media := rule.Media
		if media == "" {
			media = fmt.Sprintf("(max-width: %dpx)", rule.MaxWidth)
		}
		if parsed.Width > maxWidth && !strings.Contains(media, "print") {
			maxBag = bag
			maxWidth = parsed.Width
		}
		sizesAttr = append(sizesAttr, fmt.Sprintf("%s %dpx", media, parsed.Width))
	}
	sizesAttr = append(sizesAttr, fmt.Sprintf("%dpx", maxWidth))
	it.sizesAttr = strings.Join(sizesAttr, ", ")

	if _, ok := maxBag["width"]; !ok {
		maxBag["width"] = baseWidth
	}
	parsedMax, err := options.Parse(maxBag)
	if err != nil {
		return err
	}
	maxID := record.IdentityFor(source.StorageID, source.Name, parsedMax)
	if _, ok := it.options[maxID]; !ok {
		b.register(it, source, parsedMax)
		it.srcsetIDs = append(it.srcsetIDs, maxID)
		it.srcsetMeta[maxID] = parsedMax.Width
	}

	if maxDensity := maxOf(densities); maxDensity > 1 {
		bag := copyBag(maxBag)
		bag["width_multiplier"] = maxDensity
		parsed, err := options.Parse(bag)
		if err != nil {
			return err
		}
		id := b.register(it, source, parsed)
		if _, seen := it.srcsetMeta[id]; !seen {
			it.srcsetIDs = append(it.srcsetIDs, id)
			it.srcsetMeta[id] = parsed.Width
		}
	}
	return nil
}

func (b *Batch) register(it *item, source Source, opts *options.Options) uuid.UUID {
	id := record.IdentityFor(source.StorageID, source.Name, opts)
	it.options[id] = opts
	return id
}

// EnsureLoaded bulk-fetches every not-yet-cached identity's record
// and bulk-creates the missing ones as QUEUED, tolerating concurrent
// creators by re-fetching the ids that lost the insert race. Requests
// whose targets include newly created records fire the notifier, once
// per request.
func (b *Batch) EnsureLoaded(ctx context.Context) error {
	if b.loaded {
		return nil
	}

	var toFetch []uuid.UUID
	for id := range b.all {
		if _, ok := b.records[id]; !ok {
			toFetch = append(toFetch, id)
		}
	}
	if len(toFetch) == 0 {
		b.loaded = true
		return nil
	}

	fetched, err := b.store.BulkGet(ctx, toFetch)
	if err != nil {
		return err
	}
	for id, rec := range fetched {
		b.records[id] = rec
	}

	var missing []*record.Record
	for _, id := range toFetch {
		if _, ok := b.records[id]; ok {
			continue
		}
		src, ok := b.sourceOf(id)
		if !ok {
			continue
		}
		rec := record.New(src.StorageID, src.Name, b.all[id])
		missing = append(missing, rec)
	}

	createdIDs := make(map[uuid.UUID]bool)
	if len(missing) > 0 {
		created, err := b.store.BulkCreateIfAbsent(ctx, missing)
		if err != nil {
			return err
		}
		for _, rec := range created {
			b.records[rec.ID] = rec
			createdIDs[rec.ID] = true
			b.recorder.Increment(metrics.DerivativeQueued, nil)
		}

		// Ids we tried to create but lost the race on were created by
		// someone else between the fetch and the insert; re-fetch them.
		var lost []uuid.UUID
		for _, rec := range missing {
			if _, ok := b.records[rec.ID]; !ok {
				lost = append(lost, rec.ID)
			}
		}
		if len(lost) > 0 {
			refetched, err := b.store.BulkGet(ctx, lost)
			if err != nil {
				return err
			}
			for id, rec := range refetched {
				b.records[id] = rec
			}
		}
	}

	b.loaded = true
	b.announce(ctx, createdIDs)
	return nil
}

// announce fires the notifier for requests whose targets include
// newly created records, at most once per request over the batch's
// lifetime.
func (b *Batch) announce(ctx context.Context, createdIDs map[uuid.UUID]bool) {
	if len(createdIDs) == 0 {
		return
	}
	for _, it := range b.items {
		if !it.notify || it.notified {
			continue
		}
		hit := false
		for id := range it.options {
			if createdIDs[id] {
				hit = true
				break
			}
		}
		if !hit {
			continue
		}
		it.notified = true
		ids := make([]uuid.UUID, 0, len(it.options))
		for id := range it.options {
			ids = append(ids, id)
		}
		b.notifier.QueuedDerivatives(ctx, notify.Event{
			StorageID:  it.source.StorageID,
			SourceName: it.source.Name,
			IDs:        ids,
		})
	}
}

// sourceOf finds which request registered an identity.
func (b *Batch) sourceOf(id uuid.UUID) (Source, bool) {
	for _, it := range b.items {
		if _, ok := it.options[id]; ok {
			return it.source, true
		}
	}
	return Source{}, false
}

// Build executes every request added with a build intent.
func (b *Batch) Build(ctx context.Context) error {
	if err := b.EnsureLoaded(ctx); err != nil {
		return err
	}
	for _, it := range b.items {
		if it.build == IntentNone {
			continue
		}
		if err := b.buildItem(ctx, it, it.build); err != nil {
			return err
		}
	}
	return nil
}

// buildItem builds one request's targets per the intent: the source
// is decoded exactly once and shared across every target still
// needing bytes. Targets another worker owns are skipped; build
// failures are recorded on their records, not returned.
func (b *Batch) buildItem(ctx context.Context, it *item, intent Intent) error {
	if err := b.EnsureLoaded(ctx); err != nil {
		return err
	}

	var ids []uuid.UUID
	switch intent {
	case IntentBase:
		if it.hasBase {
			ids = append(ids, it.baseID)
		}
	case IntentSrcSet:
		ids = append(ids, it.srcsetIDs...)
	case IntentAll:
		for id := range it.options {
			ids = append(ids, id)
		}
	default:
		return nil
	}

	var targets []builder.Target
	for _, id := range ids {
		rec, ok := b.records[id]
		if !ok || rec.Built() {
			continue
		}
		acquired, err := b.executor.BeginBuild(ctx, rec, false)
		if err != nil {
			return err
		}
		if !acquired {
			continue
		}
		targets = append(targets, builder.Target{Rec: rec, Opts: it.options[id]})
	}
	if len(targets) == 0 {
		return nil
	}

	b.log.Debug("building request targets",
		zap.String("source", it.source.Name),
		zap.Int("targets", len(targets)))
	b.executor.BuildGroup(ctx, it.source.StorageID, it.source.Name, targets)
	return nil
}

// Record returns the cached record for an identity, loading the batch
// first. nil means the identity is unknown to this batch.
func (b *Batch) Record(ctx context.Context, id uuid.UUID) (*record.Record, error) {
	if err := b.EnsureLoaded(ctx); err != nil {
		return nil, err
	}
	return b.records[id], nil
}

func (b *Batch) sourceURL(ctx context.Context, source Source) string {
	provider, err := b.blobs.Resolve(source.StorageID)
	if err != nil {
		return ""
	}
	url, err := provider.URL(ctx, source.Name)
	if err != nil {
		return ""
	}
	return url
}

func copyBag(bag map[string]any) map[string]any {
	out := make(map[string]any, len(bag))
	for k, v := range bag {
		out[k] = v
	}
	return out
}

func containsDensity(densities []float64, d float64) bool {
	for _, v := range densities {
		if v == d {
			return true
		}
	}
	return false
}

func maxOf(densities []float64) float64 {
	max := 1.0
	for _, d := range densities {
		if d > max {
			max = d
		}
	}
	return max
}

// sourceMimetype guesses a fallback target mimetype from the source
// file name.
func sourceMimetype(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "image/jpeg"
}
