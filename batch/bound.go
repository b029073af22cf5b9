package batch

import (
	"context"
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/leeforge/thumbforge/record"
)

// SrcSetItem is one built member of a request's srcset family.
type SrcSetItem struct {
	Record *record.Record
	// Width is the rendition's resolved pixel width with any density
	// multiplier applied; the w descriptor names real pixels, so a 2x
	// member of a 100px slot renders as 200w.
	Width int
	URL   string
}

// BoundImg is one request's view into its batch. All reads are
// explicit calls that load (and, when a build intent is set, build)
// on demand; nothing happens behind attribute access.
type BoundImg struct {
	batch *Batch
	item  *item
}

// Alt returns the request's alt text.
func (b *BoundImg) Alt() string { return b.item.alt }

// Sizes returns the sizes attribute resolved from the breakpoint
// rules, empty when none were configured.
func (b *BoundImg) Sizes() string { return b.item.sizesAttr }

// ensureBuilt runs the request's build intent if its targets still
// need bytes.
func (b *BoundImg) ensureBuilt(ctx context.Context) error {
	if err := b.batch.EnsureLoaded(ctx); err != nil {
		return err
	}
	if b.item.build == IntentNone {
		return nil
	}
	built, err := b.IsBuilt(ctx)
	if err != nil || built {
		return err
	}
	return b.batch.buildItem(ctx, b.item, b.item.build)
}

// IsBuilt reports whether the derivatives the build intent covers
// have bytes. A request without a build intent is trivially built.
func (b *BoundImg) IsBuilt(ctx context.Context) (bool, error) {
	if err := b.batch.EnsureLoaded(ctx); err != nil {
		return false, err
	}
	switch b.item.build {
	case IntentNone:
		return true, nil
	case IntentBase:
		return b.item.hasBase && b.recordBuilt(b.item.baseID), nil
	default:
		if b.item.hasBase && b.recordBuilt(b.item.baseID) {
			return true, nil
		}
		for _, id := range b.item.srcsetIDs {
			if b.recordBuilt(id) {
				return true, nil
			}
		}
		return false, nil
	}
}

func (b *BoundImg) recordBuilt(id uuid.UUID) bool {
	rec, ok := b.batch.records[id]
	return ok && rec.Built()
}

// Base returns the base (fallback) rendition's record, nil when no
// width was configured or the record is not yet loaded.
func (b *BoundImg) Base(ctx context.Context) (*record.Record, error) {
	if err := b.ensureBuilt(ctx); err != nil {
		return nil, err
	}
	if !b.item.hasBase {
		return nil, nil
	}
	return b.batch.records[b.item.baseID], nil
}

// SrcSet returns the built members of the srcset family in resolution
// order. Unbuilt members are simply absent; callers render what
// exists.
func (b *BoundImg) SrcSet(ctx context.Context) ([]SrcSetItem, error) {
	if err := b.ensureBuilt(ctx); err != nil {
		return nil, err
	}
	var items []SrcSetItem
	for _, id := range b.item.srcsetIDs {
		rec, ok := b.batch.records[id]
		if !ok || !rec.Built() {
			continue
		}
		url, err := b.batch.executor.DerivativeURL(ctx, rec)
		if err != nil || url == "" {
			continue
		}
		items = append(items, SrcSetItem{
			Record: rec,
			Width:  b.item.srcsetMeta[id],
			URL:    url,
		})
	}
	return items, nil
}

// BaseURL returns the built base rendition's URL, falling back to the
// original source's URL when the derivative is not ready. An empty
// string means neither resolved.
func (b *BoundImg) BaseURL(ctx context.Context) (string, error) {
	rec, err := b.Base(ctx)
	if err != nil {
		return "", err
	}
	if rec != nil && rec.Built() {
		if url, err := b.batch.executor.DerivativeURL(ctx, rec); err == nil && url != "" {
			return url, nil
		}
	}
	return b.batch.sourceURL(ctx, b.item.source), nil
}

// HTML renders the complete img tag with src, srcset and sizes.
// attrs are merged in without overriding computed attributes.
func (b *BoundImg) HTML(ctx context.Context, attrs map[string]string) (string, error) {
	base, err := b.Base(ctx)
	if err != nil {
		return "", err
	}
	srcset, err := b.SrcSet(ctx)
	if err != nil {
		return "", err
	}

	var parts []string
	srcURL, err := b.BaseURL(ctx)
	if err != nil {
		return "", err
	}
	if srcURL != "" {
		parts = append(parts, fmt.Sprintf("src=%q", html.EscapeString(srcURL)))
	}
	parts = append(parts, fmt.Sprintf("alt=%q", html.EscapeString(b.item.alt)))

	var members []string
	for _, it := range srcset {
		width := it.Width
		if width == 0 {
			width = it.Record.Width
		}
		if width > 0 {
			members = append(members, fmt.Sprintf("%s %dw", it.URL, width))
		}
	}
	if len(members) > 0 {
		parts = append(parts, fmt.Sprintf("srcset=%q", html.EscapeString(strings.Join(members, ", "))))
	}
	if b.item.sizesAttr != "" {
		parts = append(parts, fmt.Sprintf("sizes=%q", html.EscapeString(b.item.sizesAttr)))
	}
	if srcURL != "" && base != nil && base.Built() {
		parts = append(parts, fmt.Sprintf(`width="%d"`, base.Width))
		parts = append(parts, fmt.Sprintf(`height="%d"`, base.Height))
	}

	extra := mergeAttrs(b.item.attrs, attrs)
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := extra[k]
		if k == "" || v == "" || hasAttr(parts, k) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%q", html.EscapeString(k), html.EscapeString(v)))
	}

	return fmt.Sprintf("<img %s>", strings.Join(parts, " ")), nil
}

// Build triggers this request's build with an explicit intent,
// regardless of the intent given at Add time.
func (b *BoundImg) Build(ctx context.Context, intent Intent) error {
	if err := b.batch.EnsureLoaded(ctx); err != nil {
		return err
	}
	return b.batch.buildItem(ctx, b.item, intent)
}

func mergeAttrs(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func hasAttr(parts []string, key string) bool {
	prefix := key + "="
	for _, p := range parts {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}
