package config

import (
	"time"

	"github.com/jackzampolin/bindery/internal/analysis"
	"github.com/jackzampolin/bindery/internal/quality"
)

// Config holds bindery configuration.
// Stored at: {home}/config.yaml
type Config struct {
	Providers map[string]ProviderCfg `mapstructure:"providers" yaml:"providers" validate:"dive"`
	Analysis  AnalysisCfg            `mapstructure:"analysis" yaml:"analysis"`
	Quality   quality.Config         `mapstructure:"quality" yaml:"quality"`
	Store     StoreCfg               `mapstructure:"store" yaml:"store"`
	Cache     CacheCfg               `mapstructure:"cache" yaml:"cache"`
	Server    ServerCfg              `mapstructure:"server" yaml:"server"`
	Ingest    IngestCfg              `mapstructure:"ingest" yaml:"ingest"`
	Output    OutputCfg              `mapstructure:"output" yaml:"output"`
	Postgres  PostgresCfg            `mapstructure:"postgres" yaml:"postgres"`
}

// ProviderCfg configures a layout-analysis provider.
type ProviderCfg struct {
	Type           string  `mapstructure:"type" yaml:"type" validate:"required,oneof=gemini openai mock"`
	Model          string  `mapstructure:"model" yaml:"model"`
	APIKey         string  `mapstructure:"api_key" yaml:"api_key"`   // supports ${ENV_VAR} syntax
	BaseURL        string  `mapstructure:"base_url" yaml:"base_url"` // OpenAI-compatible endpoints
	RateLimit      int     `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"` // requests per minute
	TimeoutSeconds int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds" validate:"gte=0"`
	InputPerMTok   float64 `mapstructure:"input_per_mtok" yaml:"input_per_mtok" validate:"gte=0"`
	OutputPerMTok  float64 `mapstructure:"output_per_mtok" yaml:"output_per_mtok" validate:"gte=0"`
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
}

// AnalysisCfg selects providers and the retry policy.
type AnalysisCfg struct {
	Primary         string  `mapstructure:"primary" yaml:"primary" validate:"required"`
	Fallback        string  `mapstructure:"fallback" yaml:"fallback"`
	FallbackEnabled bool    `mapstructure:"fallback_enabled" yaml:"fallback_enabled"`
	MaxRetries      int     `mapstructure:"max_retries" yaml:"max_retries" validate:"gte=1,lte=10"`
	BackoffSeconds  []int   `mapstructure:"backoff_seconds" yaml:"backoff_seconds" validate:"dive,gte=0"`
	Concurrency     int     `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1,lte=64"`
	AbortThreshold  float64 `mapstructure:"abort_threshold" yaml:"abort_threshold" validate:"gt=0,lte=1"`
}

// StoreCfg selects the job store.
type StoreCfg struct {
	Driver string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory sqlite postgres"`
	Path   string `mapstructure:"path" yaml:"path"` // sqlite file, default {home}/bindery.db
	URL    string `mapstructure:"url" yaml:"url" validate:"required_if=Driver postgres"`
}

// CacheCfg selects the progress cache backend.
type CacheCfg struct {
	Driver     string `mapstructure:"driver" yaml:"driver" validate:"oneof=memory redis none"`
	URL        string `mapstructure:"url" yaml:"url" validate:"required_if=Driver redis"`
	TTLSeconds int    `mapstructure:"ttl_seconds" yaml:"ttl_seconds" validate:"gte=1"`
}

// ServerCfg configures the HTTP server and job runner.
type ServerCfg struct {
	Host        string `mapstructure:"host" yaml:"host"`
	Port        string `mapstructure:"port" yaml:"port" validate:"required"`
	Workers     int    `mapstructure:"workers" yaml:"workers" validate:"gte=1"`
	QueueSize   int    `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=1"`
	MaxUploadMB int    `mapstructure:"max_upload_mb" yaml:"max_upload_mb" validate:"gte=1"`
}

// IngestCfg configures page rendering.
type IngestCfg struct {
	DPI         int    `mapstructure:"dpi" yaml:"dpi" validate:"gte=36,lte=600"`
	Pdftoppm    string `mapstructure:"pdftoppm" yaml:"pdftoppm"`
	Concurrency int    `mapstructure:"concurrency" yaml:"concurrency" validate:"gte=1"`
}

// OutputCfg sets EPUB metadata defaults.
type OutputCfg struct {
	Author   string `mapstructure:"author" yaml:"author"`
	Language string `mapstructure:"language" yaml:"language" validate:"required"`
}

// PostgresCfg holds the local PostgreSQL container configuration.
type PostgresCfg struct {
	// ContainerName is the Docker container name (default: bindery-postgres)
	ContainerName string `mapstructure:"container_name" yaml:"container_name"`
	// Image is the Docker image to use (default: postgres:16-alpine)
	Image string `mapstructure:"image" yaml:"image"`
	// Port is the host port to bind (default: 5433)
	Port     string `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	Database string `mapstructure:"database" yaml:"database"`
}

// DefaultConfig returns configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Providers: map[string]ProviderCfg{
			"gemini": {
				Type:           "gemini",
				Model:          "gemini-2.5-flash",
				APIKey:         "${GEMINI_API_KEY}",
				RateLimit:      60,
				TimeoutSeconds: 120,
				InputPerMTok:   0.30,
				OutputPerMTok:  2.50,
				Enabled:        true,
			},
			"openai": {
				Type:           "openai",
				Model:          "gpt-4.1-mini",
				APIKey:         "${OPENAI_API_KEY}",
				RateLimit:      60,
				TimeoutSeconds: 120,
				InputPerMTok:   0.40,
				OutputPerMTok:  1.60,
				Enabled:        true,
			},
		},
		Analysis: AnalysisCfg{
			Primary:         "gemini",
			Fallback:        "openai",
			FallbackEnabled: true,
			MaxRetries:      3,
			BackoffSeconds:  []int{60, 300, 900},
			Concurrency:     analysis.DefaultConcurrency,
			AbortThreshold:  analysis.DefaultAbortThreshold,
		},
		Quality: quality.DefaultConfig(),
		Store: StoreCfg{
			Driver: "sqlite",
		},
		Cache: CacheCfg{
			Driver:     "memory",
			TTLSeconds: 300,
		},
		Server: ServerCfg{
			Host:        "127.0.0.1",
			Port:        "8080",
			Workers:     2,
			QueueSize:   100,
			MaxUploadMB: 200,
		},
		Ingest: IngestCfg{
			DPI:         150,
			Pdftoppm:    "pdftoppm",
			Concurrency: 4,
		},
		Output: OutputCfg{
			Language: "en",
		},
		Postgres: PostgresCfg{
			ContainerName: "bindery-postgres",
			Image:         "postgres:16-alpine",
			Port:          "5433",
			User:          "bindery",
			Password:      "bindery",
			Database:      "bindery",
		},
	}
}

// Policy returns the retry/fallback policy for the analysis controller.
func (a AnalysisCfg) Policy() analysis.Policy {
	backoff := make([]time.Duration, len(a.BackoffSeconds))
	for i, s := range a.BackoffSeconds {
		backoff[i] = time.Duration(s) * time.Second
	}
	return analysis.Policy{
		MaxRetries:      a.MaxRetries,
		Backoff:         backoff,
		FallbackEnabled: a.FallbackEnabled && a.Fallback != "",
	}
}

// CacheTTL returns the progress cache TTL.
func (c CacheCfg) CacheTTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// Addr returns host:port for the HTTP listener.
func (s ServerCfg) Addr() string {
	return s.Host + ":" + s.Port
}

// EnabledProviders returns all enabled providers.
func (c *Config) EnabledProviders() map[string]ProviderCfg {
	result := make(map[string]ProviderCfg)
	for name, cfg := range c.Providers {
		if cfg.Enabled {
			result[name] = cfg
		}
	}
	return result
}
