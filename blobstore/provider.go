// Package blobstore is the byte-storage boundary: sources are read
// from and derivatives written to named providers, resolved from the
// opaque storage id carried by each derivative record.
package blobstore

import (
	"context"
	"io"

	"github.com/leeforge/thumbforge/errors"
)

// Provider stores and serves blobs under relative names.
type Provider interface {
	// Open returns the blob's byte stream.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Save writes the blob and returns its public URL.
	Save(ctx context.Context, name string, r io.Reader) (string, error)

	// URL returns the public URL for a stored blob.
	URL(ctx context.Context, name string) (string, error)

	// Exists reports whether the blob is stored.
	Exists(ctx context.Context, name string) (bool, error)

	// Name identifies the provider; it is the storage id recorded on
	// derivative records and part of every derivative identity.
	Name() string
}

// Registry resolves storage ids to providers.
type Registry struct {
	providers map[string]Provider
	fallback  string
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under its name. The first registered
// provider becomes the fallback default.
func (r *Registry) Register(p Provider) {
	if len(r.providers) == 0 {
		r.fallback = p.Name()
	}
	r.providers[p.Name()] = p
}

// Resolve returns the provider for the given storage id, or the
// default provider when the id is empty.
func (r *Registry) Resolve(storageID string) (Provider, error) {
	if storageID == "" {
		storageID = r.fallback
	}
	p, ok := r.providers[storageID]
	if !ok {
		return nil, errors.NewNotFound("storage provider", storageID)
	}
	return p, nil
}

// Default returns the fallback provider.
func (r *Registry) Default() (Provider, error) {
	return r.Resolve("")
}
