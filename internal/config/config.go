// Package config provides configuration loading for contextfs.
package config

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/fyrsmithlabs/contextfs/internal/ignore"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full daemon configuration.
type Config struct {
	Watch      WatchConfig      `koanf:"watch"`
	Stability  StabilityConfig  `koanf:"stability"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Index      IndexConfig      `koanf:"index"`
	Maps       MapsConfig       `koanf:"maps"`
	Server     ServerConfig     `koanf:"server"`
	Analysis   AnalysisConfig   `koanf:"analysis"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Events     EventsConfig     `koanf:"events"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// WatchConfig describes what is watched and what is ignored.
type WatchConfig struct {
	Roots           []string `koanf:"roots"`
	Extensions      []string `koanf:"extensions"`
	IgnoredPatterns []string `koanf:"ignored_patterns"`
	IgnoreFile      string   `koanf:"ignore_file"`
	PollInterval    Duration `koanf:"poll_interval"`
	// MovePairWindow is how long a rename waits for its matching create.
	MovePairWindow Duration `koanf:"move_pair_window"`
}

// StabilityConfig controls the write-completion check.
type StabilityConfig struct {
	Interval             Duration `koanf:"interval"`
	RequiredSamples      int      `koanf:"required_samples"`
	MaxSamples           int      `koanf:"max_samples"`
	MissingConfirmations int      `koanf:"missing_confirmations"`
}

// IngestConfig bounds how fast stable files are handed to analysis.
type IngestConfig struct {
	DispatchRate  float64 `koanf:"dispatch_rate"`
	DispatchBurst int     `koanf:"dispatch_burst"`
}

// IndexConfig selects and configures the vector index backend.
type IndexConfig struct {
	Provider   string        `koanf:"provider"`
	PageProbe  int           `koanf:"page_probe"`
	Chromem    ChromemConfig `koanf:"chromem"`
	Qdrant     QdrantConfig  `koanf:"qdrant"`
	VectorSize int           `koanf:"vector_size"`
}

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// QdrantConfig configures the Qdrant gRPC index.
type QdrantConfig struct {
	Host       string   `koanf:"host"`
	Port       int      `koanf:"port"`
	Collection string   `koanf:"collection"`
	UseTLS     bool     `koanf:"use_tls"`
	APIKey     Secret   `koanf:"api_key"`
	MaxRetries int      `koanf:"max_retries"`
	Backoff    Duration `koanf:"backoff"`
}

// MapsConfig configures the curated map database.
type MapsConfig struct {
	Path string `koanf:"path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// AnalysisConfig points at the caption/OCR/tag service.
type AnalysisConfig struct {
	BaseURL    string   `koanf:"base_url"`
	APIKey     Secret   `koanf:"api_key"`
	Timeout    Duration `koanf:"timeout"`
	MaxRetries int      `koanf:"max_retries"`
	RateLimit  float64  `koanf:"rate_limit"`
	Burst      int      `koanf:"burst"`
}

// EmbeddingsConfig points at a TEI-compatible embedding server.
type EmbeddingsConfig struct {
	BaseURL string `koanf:"base_url"`
	Model   string `koanf:"model"`
	APIKey  Secret `koanf:"api_key"`
}

// EventsConfig enables NATS lifecycle events when URL is set.
type EventsConfig struct {
	URL           string `koanf:"url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// LoggingConfig is the subset of logging options exposed in the config file.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// TelemetryConfig is the subset of telemetry options exposed in the config file.
type TelemetryConfig struct {
	Enabled  bool    `koanf:"enabled"`
	Endpoint string  `koanf:"endpoint"`
	Protocol string  `koanf:"protocol"`
	Insecure bool    `koanf:"insecure"`
	Sampling float64 `koanf:"sampling"`
}

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if len(cfg.Watch.Roots) == 0 {
		cfg.Watch.Roots = []string{"~/Desktop", "~/Downloads"}
	}
	if len(cfg.Watch.Extensions) == 0 {
		cfg.Watch.Extensions = []string{"png", "jpg", "jpeg", "pdf"}
	}
	if len(cfg.Watch.IgnoredPatterns) == 0 {
		cfg.Watch.IgnoredPatterns = slices.Clone(ignore.DefaultPatterns)
	}
	if cfg.Watch.IgnoreFile == "" {
		cfg.Watch.IgnoreFile = ".contextignore"
	}
	if cfg.Watch.PollInterval == 0 {
		cfg.Watch.PollInterval = Duration(150 * time.Second)
	}
	if cfg.Watch.MovePairWindow == 0 {
		cfg.Watch.MovePairWindow = Duration(100 * time.Millisecond)
	}

	if cfg.Stability.Interval == 0 {
		cfg.Stability.Interval = Duration(2 * time.Second)
	}
	if cfg.Stability.RequiredSamples == 0 {
		cfg.Stability.RequiredSamples = 3
	}
	if cfg.Stability.MaxSamples == 0 {
		cfg.Stability.MaxSamples = 120
	}
	if cfg.Stability.MissingConfirmations == 0 {
		cfg.Stability.MissingConfirmations = 2
	}

	if cfg.Ingest.DispatchRate == 0 {
		cfg.Ingest.DispatchRate = 4
	}
	if cfg.Ingest.DispatchBurst == 0 {
		cfg.Ingest.DispatchBurst = 8
	}

	// chromem is the default: embedded, no external service.
	if cfg.Index.Provider == "" {
		cfg.Index.Provider = "chromem"
	}
	if cfg.Index.PageProbe == 0 {
		cfg.Index.PageProbe = 500
	}
	if cfg.Index.VectorSize == 0 {
		cfg.Index.VectorSize = 384
	}
	if cfg.Index.Chromem.Path == "" {
		cfg.Index.Chromem.Path = "~/.config/contextfs/index"
	}
	if cfg.Index.Chromem.Collection == "" {
		cfg.Index.Chromem.Collection = "files"
	}
	if cfg.Index.Qdrant.Host == "" {
		cfg.Index.Qdrant.Host = "localhost"
	}
	if cfg.Index.Qdrant.Port == 0 {
		cfg.Index.Qdrant.Port = 6334
	}
	if cfg.Index.Qdrant.Collection == "" {
		cfg.Index.Qdrant.Collection = "contextfs_files"
	}
	if cfg.Index.Qdrant.MaxRetries == 0 {
		cfg.Index.Qdrant.MaxRetries = 3
	}
	if cfg.Index.Qdrant.Backoff == 0 {
		cfg.Index.Qdrant.Backoff = Duration(time.Second)
	}

	if cfg.Maps.Path == "" {
		cfg.Maps.Path = "~/.config/contextfs/maps.db"
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "127.0.0.1"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Analysis.BaseURL == "" {
		cfg.Analysis.BaseURL = "http://localhost:8090"
	}
	if cfg.Analysis.Timeout == 0 {
		cfg.Analysis.Timeout = Duration(5 * time.Minute)
	}
	if cfg.Analysis.MaxRetries == 0 {
		cfg.Analysis.MaxRetries = 3
	}
	if cfg.Analysis.RateLimit == 0 {
		cfg.Analysis.RateLimit = 2
	}
	if cfg.Analysis.Burst == 0 {
		cfg.Analysis.Burst = 4
	}

	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8080"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "BAAI/bge-small-en-v1.5"
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "contextfs.files"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}

	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.Sampling == 0 {
		cfg.Telemetry.Sampling = 1.0
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Watch.Roots) == 0 {
		errs = append(errs, errors.New("watch.roots must not be empty"))
	}
	for _, ext := range c.Watch.Extensions {
		if strings.TrimSpace(ext) == "" {
			errs = append(errs, errors.New("watch.extensions contains an empty entry"))
			break
		}
	}
	if c.Watch.PollInterval.Duration() <= 0 {
		errs = append(errs, errors.New("watch.poll_interval must be positive"))
	}

	if c.Stability.Interval.Duration() <= 0 {
		errs = append(errs, errors.New("stability.interval must be positive"))
	}
	if c.Stability.RequiredSamples < 1 {
		errs = append(errs, errors.New("stability.required_samples must be at least 1"))
	}
	if c.Stability.MaxSamples < c.Stability.RequiredSamples {
		errs = append(errs, fmt.Errorf("stability.max_samples (%d) must be >= required_samples (%d)",
			c.Stability.MaxSamples, c.Stability.RequiredSamples))
	}

	switch c.Index.Provider {
	case "chromem", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("index.provider must be chromem or qdrant, got %q", c.Index.Provider))
	}
	if c.Index.PageProbe < 1 {
		errs = append(errs, errors.New("index.page_probe must be at least 1"))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	switch strings.ToLower(c.Logging.Format) {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format))
	}

	switch c.Telemetry.Protocol {
	case "grpc", "http/protobuf":
	default:
		errs = append(errs, fmt.Errorf("telemetry.protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// ExtensionSet returns the configured extensions lowercased and without dots.
func (w WatchConfig) ExtensionSet() map[string]struct{} {
	set := make(map[string]struct{}, len(w.Extensions))
	for _, ext := range w.Extensions {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			set[ext] = struct{}{}
		}
	}
	return set
}
