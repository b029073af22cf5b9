package blobstore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local stores blobs on the local filesystem.
type Local struct {
	name     string
	basePath string
	baseURL  string
}

// NewLocal creates a local provider rooted at basePath, serving blobs
// from baseURL.
func NewLocal(name, basePath, baseURL string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	if name == "" {
		name = "local"
	}
	return &Local{name: name, basePath: basePath, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (p *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return os.Open(filepath.Join(p.basePath, name))
}

func (p *Local) Save(_ context.Context, name string, r io.Reader) (string, error) {
	fullPath := filepath.Join(p.basePath, name)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return "", fmt.Errorf("failed to create directory: %w", err)
	}
	dst, err := os.Create(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	defer dst.Close()
	if _, err := io.Copy(dst, r); err != nil {
		return "", fmt.Errorf("failed to write file content: %w", err)
	}
	// Forward slashes even on Windows: these are URLs.
	return fmt.Sprintf("%s/%s", p.baseURL, filepath.ToSlash(name)), nil
}

func (p *Local) URL(_ context.Context, name string) (string, error) {
	return fmt.Sprintf("%s/%s", p.baseURL, filepath.ToSlash(name)), nil
}

func (p *Local) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(filepath.Join(p.basePath, name))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (p *Local) Name() string {
	return p.name
}
