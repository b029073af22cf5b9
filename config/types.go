package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/leeforge/thumbforge/logging"
)

type Validator interface {
	Validate() error
}

type Config struct {
	instance   *viper.Viper
	opts       Options
	watchOnce  sync.Once
	watchMutex sync.RWMutex
}

type Options struct {
	BasePath  string
	FileName  string
	FileType  string
	EnvPrefix string
	WatchAble bool
	OnChange  func(e fsnotify.Event)
}

// App is the full service configuration.
type App struct {
	Logging logging.Config `mapstructure:"logging" json:"logging" yaml:"logging"`
	Redis   Redis          `mapstructure:"redis" json:"redis" yaml:"redis"`
	Storage Storage        `mapstructure:"storage" json:"storage" yaml:"storage"`
	Builder Builder        `mapstructure:"builder" json:"builder" yaml:"builder"`
	Metrics Metrics        `mapstructure:"metrics" json:"metrics" yaml:"metrics"`
}

// Redis selects the record store backend. Disabled means the
// in-memory store, which only makes sense for a single process.
type Redis struct {
	Enabled  bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Addr     string `mapstructure:"addr" json:"addr" yaml:"addr" default:"127.0.0.1:6379"`
	Password string `mapstructure:"password" json:"password" yaml:"password"`
	DB       int    `mapstructure:"db" json:"db" yaml:"db" default:"0"`
	PoolSize int    `mapstructure:"pool-size" json:"pool-size" yaml:"pool-size" default:"10" validate:"gte=1"`
	Prefix   string `mapstructure:"prefix" json:"prefix" yaml:"prefix" default:"thumbforge"`
}

// Storage wires the blob providers. Default names the provider used
// for records with an empty storage id; derivatives always go to the
// provider named by Derivatives (empty means Default).
type Storage struct {
	Default     string `mapstructure:"default" json:"default" yaml:"default" default:"local"`
	Derivatives string `mapstructure:"derivatives" json:"derivatives" yaml:"derivatives"`
	Local       Local  `mapstructure:"local" json:"local" yaml:"local"`
	OSS         OSS    `mapstructure:"oss" json:"oss" yaml:"oss"`
}

type Local struct {
	BasePath string `mapstructure:"base-path" json:"base-path" yaml:"base-path" default:"data/media"`
	BaseURL  string `mapstructure:"base-url" json:"base-url" yaml:"base-url" default:"/media/"`
}

type OSS struct {
	Enabled         bool   `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
	Endpoint        string `mapstructure:"endpoint" json:"endpoint" yaml:"endpoint"`
	AccessKeyID     string `mapstructure:"access-key-id" json:"access-key-id" yaml:"access-key-id"`
	AccessKeySecret string `mapstructure:"access-key-secret" json:"access-key-secret" yaml:"access-key-secret"`
	Bucket          string `mapstructure:"bucket" json:"bucket" yaml:"bucket"`
	BaseURL         string `mapstructure:"base-url" json:"base-url" yaml:"base-url"`
}

// Builder bounds the sweep loop.
type Builder struct {
	Workers    int           `mapstructure:"workers" json:"workers" yaml:"workers" default:"4" validate:"gte=1"`
	MaxErrors  int           `mapstructure:"max-errors" json:"max-errors" yaml:"max-errors" default:"3"`
	StaleAfter time.Duration `mapstructure:"stale-after" json:"stale-after" yaml:"stale-after" default:"600s"`
	Limit      int           `mapstructure:"limit" json:"limit" yaml:"limit"`
}

type Metrics struct {
	Enabled bool `mapstructure:"enabled" json:"enabled" yaml:"enabled"`
}
