// Package service assembles the derivative cache from configuration:
// record store, blob providers, codec, executor and sweeper, wired
// explicitly so nothing reaches for process-wide singletons.
package service

import (
	"context"
	"fmt"

	redis "github.com/go-redis/redis/v8"

	"github.com/leeforge/thumbforge/batch"
	"github.com/leeforge/thumbforge/blobstore"
	"github.com/leeforge/thumbforge/builder"
	"github.com/leeforge/thumbforge/codec"
	"github.com/leeforge/thumbforge/config"
	"github.com/leeforge/thumbforge/logging"
	"github.com/leeforge/thumbforge/metrics"
	"github.com/leeforge/thumbforge/notify"
	"github.com/leeforge/thumbforge/record"
)

// Service holds the assembled components. Create one per process at
// startup and thread it through explicitly.
type Service struct {
	Config   *config.App
	Log      logging.Logger
	Store    record.Store
	Blobs    *blobstore.Registry
	Codec    codec.Codec
	Executor *builder.Executor
	Sweeper  *builder.Sweeper
	Recorder metrics.Recorder
	Notifier notify.Notifier

	redis *redis.Client
}

// Option overrides an assembled component.
type Option func(*Service)

// WithNotifier installs the queued-derivatives subscriber.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.Notifier = n }
}

// WithStore replaces the configured record store.
func WithStore(store record.Store) Option {
	return func(s *Service) { s.Store = store }
}

// WithCodec replaces the default pixel engine.
func WithCodec(c codec.Codec) Option {
	return func(s *Service) { s.Codec = c }
}

func New(cfg *config.App, opts ...Option) (*Service, error) {
	log := logging.NewLogger(cfg.Logging)
	logging.SetGlobal(log)

	s := &Service{
		Config:   cfg,
		Log:      log,
		Codec:    codec.NewNative(),
		Notifier: notify.Noop{},
		Recorder: metrics.NewNoop(),
	}
	if cfg.Metrics.Enabled {
		s.Recorder = metrics.NewOtel()
	}

	blobs, derivatives, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	s.Blobs = blobs

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if _, err := client.Ping(context.Background()).Result(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		s.redis = client
		s.Store = record.NewRedisStore(client, cfg.Redis.Prefix)
	} else {
		s.Store = record.NewMemoryStore()
	}

	for _, opt := range opts {
		opt(s)
	}

	s.Executor = builder.NewExecutor(s.Store, s.Blobs, derivatives, s.Codec, s.Recorder, s.Log)
	s.Sweeper = builder.NewSweeper(s.Store, s.Executor, s.Log)
	return s, nil
}

// NewBatch starts a fresh request batch against this service's
// components.
func (s *Service) NewBatch() *batch.Batch {
	return batch.New(s.Store, s.Executor, s.Blobs, s.Notifier, s.Recorder, s.Log)
}

// Close flushes logs and releases connections.
func (s *Service) Close(ctx context.Context) error {
	_ = s.Recorder.Shutdown(ctx)
	_ = s.Log.Sync()
	if s.redis != nil {
		return s.redis.Close()
	}
	return nil
}

// buildStorage registers the configured providers, the default one
// first so it becomes the registry fallback, and resolves the
// derivative target.
func buildStorage(cfg config.Storage) (*blobstore.Registry, blobstore.Provider, error) {
	local, err := blobstore.NewLocal("local", cfg.Local.BasePath, cfg.Local.BaseURL)
	if err != nil {
		return nil, nil, err
	}

	providers := []blobstore.Provider{local}
	if cfg.OSS.Enabled {
		oss, err := blobstore.NewOSS("oss", cfg.OSS.Endpoint, cfg.OSS.AccessKeyID,
			cfg.OSS.AccessKeySecret, cfg.OSS.Bucket, cfg.OSS.BaseURL)
		if err != nil {
			return nil, nil, err
		}
		providers = append(providers, oss)
	}

	registry := blobstore.NewRegistry()
	for _, p := range providers {
		if p.Name() == cfg.Default {
			registry.Register(p)
		}
	}
	for _, p := range providers {
		if p.Name() != cfg.Default {
			registry.Register(p)
		}
	}

	target := cfg.Derivatives
	if target == "" {
		target = cfg.Default
	}
	derivatives, err := registry.Resolve(target)
	if err != nil {
		return nil, nil, err
	}
	return registry, derivatives, nil
}
