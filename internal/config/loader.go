package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the chat client and its API server.
// Zero values mean "unspecified" and are replaced by ApplyDefaults.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`
	// ModelsDir is the source folder scanned for *.gguf files. When empty the
	// persisted source (prefs key models_uri) is used.
	ModelsDir string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	// TargetDir receives acquired copies of source models.
	TargetDir    string `json:"target_dir" yaml:"target_dir" toml:"target_dir"`
	PrefsPath    string `json:"prefs_path" yaml:"prefs_path" toml:"prefs_path"`
	PrefsBackend string `json:"prefs_backend" yaml:"prefs_backend" toml:"prefs_backend"`
	DefaultModel string `json:"default_model" yaml:"default_model" toml:"default_model"`

	Engine   string `json:"engine" yaml:"engine" toml:"engine"`
	LlamaBin string `json:"llama_bin" yaml:"llama_bin" toml:"llama_bin"`
	// LlamaServerURL attaches engine=server to a running llama-server.
	LlamaServerURL string `json:"llama_server_url" yaml:"llama_server_url" toml:"llama_server_url"`
	LlamaCtx       int    `json:"llama_ctx" yaml:"llama_ctx" toml:"llama_ctx"`
	LlamaThreads   int    `json:"llama_threads" yaml:"llama_threads" toml:"llama_threads"`
	LlamaGPULayers int    `json:"llama_gpu_layers" yaml:"llama_gpu_layers" toml:"llama_gpu_layers"`
	MaxTokens      int    `json:"max_tokens" yaml:"max_tokens" toml:"max_tokens"`

	BenchAbortSeconds float64 `json:"bench_abort_seconds" yaml:"bench_abort_seconds" toml:"bench_abort_seconds"`
	DownloadTimeout   string  `json:"download_timeout" yaml:"download_timeout" toml:"download_timeout"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Defaults applied by ApplyDefaults.
const (
	DefaultAddr              = ":8080"
	DefaultTargetDir         = "~/.llamachat/models"
	DefaultPrefsPath         = "~/.llamachat/prefs.yaml"
	DefaultPrefsBackend      = "file"
	DefaultEngine            = "llama"
	DefaultLlamaCtx          = 2048
	DefaultMaxTokens         = 256
	DefaultBenchAbortSeconds = 5.0
	DefaultDownloadTimeout   = 30 * time.Minute
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
)

// Default returns a Config with every default applied.
func Default() Config {
	var c Config
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields in place.
func (c *Config) ApplyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.TargetDir == "" {
		c.TargetDir = DefaultTargetDir
	}
	if c.PrefsPath == "" {
		c.PrefsPath = DefaultPrefsPath
	}
	if c.PrefsBackend == "" {
		c.PrefsBackend = DefaultPrefsBackend
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.LlamaCtx <= 0 {
		c.LlamaCtx = DefaultLlamaCtx
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.BenchAbortSeconds <= 0 {
		c.BenchAbortSeconds = DefaultBenchAbortSeconds
	}
	if c.DownloadTimeout == "" {
		c.DownloadTimeout = DefaultDownloadTimeout.String()
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if c.LogFormat == "" {
		c.LogFormat = DefaultLogFormat
	}
}

// BenchAbortThreshold returns the warmup limit as a duration.
func (c Config) BenchAbortThreshold() time.Duration {
	if c.BenchAbortSeconds <= 0 {
		return time.Duration(DefaultBenchAbortSeconds * float64(time.Second))
	}
	return time.Duration(c.BenchAbortSeconds * float64(time.Second))
}

// DownloadTimeoutDuration parses DownloadTimeout, falling back to the default.
func (c Config) DownloadTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.DownloadTimeout)
	if err != nil || d <= 0 {
		return DefaultDownloadTimeout
	}
	return d
}

// Validate reports configuration values that cannot work.
func (c Config) Validate() error {
	switch c.Engine {
	case "llama", "server":
	default:
		return fmt.Errorf("unsupported engine: %q (want llama|server)", c.Engine)
	}
	switch c.PrefsBackend {
	case "file", "badger":
	default:
		return fmt.Errorf("unsupported prefs backend: %q (want file|badger)", c.PrefsBackend)
	}
	if c.Engine == "server" && strings.TrimSpace(c.LlamaBin) == "" && strings.TrimSpace(c.LlamaServerURL) == "" {
		return fmt.Errorf("engine=server requires llama_bin or llama_server_url")
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
