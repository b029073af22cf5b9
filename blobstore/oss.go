package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// OSS stores blobs in an Aliyun OSS bucket.
type OSS struct {
	name   string
	bucket *oss.Bucket
	domain string // custom or CDN domain
}

// NewOSS creates an OSS provider.
// Endpoint example: oss-cn-hangzhou.aliyuncs.com
func NewOSS(name, endpoint, accessKeyID, accessKeySecret, bucketName, domain string) (*OSS, error) {
	client, err := oss.New(endpoint, accessKeyID, accessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create OSS client: %w", err)
	}
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", bucketName, err)
	}
	if domain == "" {
		domain = fmt.Sprintf("https://%s.%s", bucketName, endpoint)
	} else if !strings.HasPrefix(domain, "http") {
		domain = "https://" + domain
	}
	if name == "" {
		name = "oss"
	}
	return &OSS{name: name, bucket: bucket, domain: domain}, nil
}

func (p *OSS) Open(_ context.Context, name string) (io.ReadCloser, error) {
	return p.bucket.GetObject(objectKey(name))
}

func (p *OSS) Save(_ context.Context, name string, r io.Reader) (string, error) {
	key := objectKey(name)
	if err := p.bucket.PutObject(key, r); err != nil {
		return "", fmt.Errorf("failed to upload to OSS: %w", err)
	}
	return fmt.Sprintf("%s/%s", p.domain, key), nil
}

func (p *OSS) URL(_ context.Context, name string) (string, error) {
	return fmt.Sprintf("%s/%s", p.domain, objectKey(name)), nil
}

func (p *OSS) Exists(_ context.Context, name string) (bool, error) {
	return p.bucket.IsObjectExist(objectKey(name))
}

func (p *OSS) Name() string {
	return p.name
}

// objectKey strips a leading slash so blobs never land in an empty
// top-level folder.
func objectKey(name string) string {
	return strings.TrimPrefix(name, "/")
}
