// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level" env:"LEVEL"`       // trace|debug|info|warn|error
	Format   string `yaml:"format" env:"FORMAT"`     // json|console
	Sampling bool   `yaml:"sampling" env:"SAMPLING"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL            string `yaml:"url" env:"URL"`
	MaxConns       int32  `yaml:"max_conns" env:"MAX_CONNS"`
	MigrateOnStart bool   `yaml:"migrate_on_start" env:"MIGRATE_ON_START"`
}

type RedisConfig struct {
	URL      string `yaml:"url" env:"URL"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// StoreConfig picks the job progress backend.
type StoreConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"` // file|postgres
	Dir    string `yaml:"dir" env:"DIR"`
}

type SplitterConfig struct {
	MaxPartBytes  int64  `yaml:"max_part_bytes" env:"MAX_PART_BYTES"`
	DefaultParts  int    `yaml:"default_parts" env:"DEFAULT_PARTS"`
	OutDir        string `yaml:"out_dir" env:"OUT_DIR"`
	TokenEncoding string `yaml:"token_encoding" env:"TOKEN_ENCODING"`
	Archive       bool   `yaml:"archive" env:"ARCHIVE"`
}

type BatchConfig struct {
	APIKey            string        `yaml:"api_key" env:"API_KEY"`
	BaseURL           string        `yaml:"base_url" env:"BASE_URL"`
	Endpoint          string        `yaml:"endpoint" env:"ENDPOINT"`
	MaxConcurrent     int           `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	UploadBaseTimeout time.Duration `yaml:"upload_base_timeout" env:"UPLOAD_BASE_TIMEOUT"`
	UploadPerMB       time.Duration `yaml:"upload_per_mb" env:"UPLOAD_PER_MB"`
	RequestTimeout    time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	MaxRetries        int           `yaml:"max_retries" env:"MAX_RETRIES"`
}

type WorkerConfig struct {
	BatchSize   int           `yaml:"batch_size" env:"BATCH_SIZE"`
	WindowSize  time.Duration `yaml:"window_size" env:"WINDOW_SIZE"`
	WindowCap   int           `yaml:"window_cap" env:"WINDOW_CAP"`
	Limiter     string        `yaml:"limiter" env:"LIMITER"` // memory|redis
	MaxAttempts int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	BackoffBase time.Duration `yaml:"backoff_base" env:"BACKOFF_BASE"`
	BackoffMax  time.Duration `yaml:"backoff_max" env:"BACKOFF_MAX"`
	LockTTL     time.Duration `yaml:"lock_ttl" env:"LOCK_TTL"`
}

type ItemAPIConfig struct {
	Driver    string        `yaml:"driver" env:"DRIVER"` // http|gemini
	URL       string        `yaml:"url" env:"URL"`
	Timeout   time.Duration `yaml:"timeout" env:"TIMEOUT"`
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	JWTIssuer string        `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	JWTTTL    time.Duration `yaml:"jwt_ttl" env:"JWT_TTL"`
}

type GeminiConfig struct {
	APIKey          string `yaml:"api_key" env:"API_KEY"`
	BaseURL         string `yaml:"base_url" env:"BASE_URL"`
	Model           string `yaml:"model" env:"MODEL"`
	MaxOutputTokens int    `yaml:"max_output_tokens" env:"MAX_OUTPUT_TOKENS"`
}

type ReconcileConfig struct {
	Fanout int `yaml:"fanout" env:"FANOUT"`
}

type StorageConfig struct {
	Driver          string `yaml:"driver" env:"DRIVER"` // local|gcs
	Dir             string `yaml:"dir" env:"DIR"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	CredentialsFile string `yaml:"credentials_file" env:"CREDENTIALS_FILE"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr" env:"ADDR"`
	WorkInterval      time.Duration `yaml:"work_interval" env:"WORK_INTERVAL"`
	ReconcileInterval time.Duration `yaml:"reconcile_interval" env:"RECONCILE_INTERVAL"`
	ParallelJobs      int           `yaml:"parallel_jobs" env:"PARALLEL_JOBS"`
}

type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token" env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `yaml:"telegram_chat_id" env:"TELEGRAM_CHAT_ID"`
}

type Config struct {
	Log       LogConfig       `yaml:"log" envPrefix:"LOG_"`
	Database  DatabaseConfig  `yaml:"database" envPrefix:"DATABASE_"`
	Redis     RedisConfig     `yaml:"redis" envPrefix:"REDIS_"`
	Store     StoreConfig     `yaml:"store" envPrefix:"STORE_"`
	Splitter  SplitterConfig  `yaml:"splitter" envPrefix:"SPLITTER_"`
	Batch     BatchConfig     `yaml:"batch" envPrefix:"BATCH_"`
	Worker    WorkerConfig    `yaml:"worker" envPrefix:"WORKER_"`
	ItemAPI   ItemAPIConfig   `yaml:"item_api" envPrefix:"ITEM_API_"`
	Gemini    GeminiConfig    `yaml:"gemini" envPrefix:"GEMINI_"`
	Reconcile ReconcileConfig `yaml:"reconcile" envPrefix:"RECONCILE_"`
	Storage   StorageConfig   `yaml:"storage" envPrefix:"STORAGE_"`
	Server    ServerConfig    `yaml:"server" envPrefix:"SERVER_"`
	Notify    NotifyConfig    `yaml:"notify" envPrefix:"NOTIFY_"`

	Runtime RuntimeConfig `yaml:"-"`
}

const EnvPrefix = "GENBATCH_"

// Load reads the YAML file at path (optional when it does not exist and path
// is the default), then .env, then GENBATCH_* environment overrides.
func Load(path string, dev bool) (*Config, error) {
	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case errors.Is(err, fs.ErrNotExist) && path == DefaultPath:
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

const DefaultPath = "genbatch.yaml"

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "file"
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = ".genbatch"
	}

	if cfg.Splitter.MaxPartBytes <= 0 {
		cfg.Splitter.MaxPartBytes = 100 << 20
	}
	if cfg.Splitter.OutDir == "" {
		cfg.Splitter.OutDir = ".genbatch/parts"
	}
	if cfg.Splitter.TokenEncoding == "" {
		cfg.Splitter.TokenEncoding = "cl100k_base"
	}

	if cfg.Batch.Endpoint == "" {
		cfg.Batch.Endpoint = "/v1/chat/completions"
	}
	if cfg.Batch.MaxConcurrent <= 0 {
		cfg.Batch.MaxConcurrent = 10
	}
	cfg.Batch.UploadBaseTimeout = orDuration(cfg.Batch.UploadBaseTimeout, time.Minute)
	cfg.Batch.UploadPerMB = orDuration(cfg.Batch.UploadPerMB, 30*time.Second)
	cfg.Batch.RequestTimeout = orDuration(cfg.Batch.RequestTimeout, 30*time.Second)
	if cfg.Batch.MaxRetries < 0 {
		cfg.Batch.MaxRetries = 0
	}

	if cfg.Worker.BatchSize <= 0 {
		cfg.Worker.BatchSize = 5
	}
	cfg.Worker.WindowSize = orDuration(cfg.Worker.WindowSize, 56*time.Second)
	if cfg.Worker.WindowCap <= 0 {
		cfg.Worker.WindowCap = 9
	}
	if cfg.Worker.Limiter == "" {
		cfg.Worker.Limiter = "memory"
	}
	if cfg.Worker.MaxAttempts <= 0 {
		cfg.Worker.MaxAttempts = 4
	}
	cfg.Worker.BackoffBase = orDuration(cfg.Worker.BackoffBase, 500*time.Millisecond)
	cfg.Worker.BackoffMax = orDuration(cfg.Worker.BackoffMax, 30*time.Second)
	cfg.Worker.LockTTL = orDuration(cfg.Worker.LockTTL, 15*time.Minute)

	if cfg.ItemAPI.Driver == "" {
		cfg.ItemAPI.Driver = "http"
	}
	cfg.ItemAPI.Timeout = orDuration(cfg.ItemAPI.Timeout, 60*time.Second)
	cfg.ItemAPI.JWTTTL = orDuration(cfg.ItemAPI.JWTTTL, 5*time.Minute)

	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.0-flash"
	}
	if cfg.Gemini.MaxOutputTokens <= 0 {
		cfg.Gemini.MaxOutputTokens = 2048
	}

	if cfg.Reconcile.Fanout <= 0 {
		cfg.Reconcile.Fanout = 4
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "local"
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = ".genbatch/archive"
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	cfg.Server.WorkInterval = orDuration(cfg.Server.WorkInterval, time.Minute)
	cfg.Server.ReconcileInterval = orDuration(cfg.Server.ReconcileInterval, 5*time.Minute)
	if cfg.Server.ParallelJobs <= 0 {
		cfg.Server.ParallelJobs = 2
	}
}

// Validate checks choices that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "file":
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required when store.driver is postgres")
		}
	default:
		return fmt.Errorf("store.driver must be file or postgres, got %q", c.Store.Driver)
	}
	switch c.Worker.Limiter {
	case "memory":
	case "redis":
		if c.Redis.URL == "" {
			return errors.New("redis.url is required when worker.limiter is redis")
		}
	default:
		return fmt.Errorf("worker.limiter must be memory or redis, got %q", c.Worker.Limiter)
	}
	switch c.ItemAPI.Driver {
	case "http", "gemini":
	default:
		return fmt.Errorf("item_api.driver must be http or gemini, got %q", c.ItemAPI.Driver)
	}
	switch c.Storage.Driver {
	case "local":
	case "gcs":
		if c.Storage.Bucket == "" {
			return errors.New("storage.bucket is required when storage.driver is gcs")
		}
	default:
		return fmt.Errorf("storage.driver must be local or gcs, got %q", c.Storage.Driver)
	}
	return nil
}

func orDuration(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
