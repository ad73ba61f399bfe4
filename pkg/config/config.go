// Package config holds the service configuration: where artifacts live,
// which storage backend persists the cache index, and how the HTTP server
// behaves. Values load from an optional JSON file and are overridable
// through environment variables.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ServerConfig defines HTTP listener settings.
type ServerConfig struct {
	// Host is the bind address. Empty binds all interfaces.
	Host string `json:"host"`

	// Port is the listen port.
	Port int `json:"port"`

	// ReadTimeout bounds request header+body reads.
	ReadTimeout time.Duration `json:"read_timeout"`

	// WriteTimeout bounds response writes. Kept generous because large
	// artifacts stream through the file endpoints.
	WriteTimeout time.Duration `json:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown on SIGTERM.
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// StorageConfig selects the backend persisting the cache index and archived
// artifacts.
type StorageConfig struct {
	// Type names a registered backend: filesystem, memory, redis, s3, gcs.
	Type string `json:"type"`

	// Options are backend-specific settings (path, bucket, addr, ...).
	Options map[string]string `json:"options,omitempty"`
}

// DownloadConfig defines acquisition behavior.
type DownloadConfig struct {
	// Dir is the flat artifact directory.
	Dir string `json:"dir"`

	// MinFreeBytes refuses new downloads when the artifact filesystem has
	// less available space. Zero disables the check.
	MinFreeBytes uint64 `json:"min_free_bytes"`

	// YTDLPBinary overrides the yt-dlp executable path.
	YTDLPBinary string `json:"ytdlp_binary,omitempty"`
}

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `json:"server"`
	Storage  StorageConfig  `json:"storage"`
	Download DownloadConfig `json:"download"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Type: "filesystem",
			Options: map[string]string{
				"path": defaultStateDir(),
			},
		},
		Download: DownloadConfig{
			Dir:          defaultDownloadDir(),
			MinFreeBytes: 500 * 1024 * 1024,
		},
	}
}

// Load builds the configuration from defaults, an optional JSON file, and
// environment overrides, in that precedence order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Environment variable names. Each overrides the corresponding field.
const (
	EnvHost         = "SOCDL_HOST"
	EnvPort         = "SOCDL_PORT"
	EnvDownloadDir  = "SOCDL_DOWNLOAD_DIR"
	EnvMinFreeBytes = "SOCDL_MIN_FREE_BYTES"
	EnvYTDLPBinary  = "SOCDL_YTDLP_BINARY"
	EnvStorageType  = "SOCDL_STORAGE_TYPE"

	// EnvStorageOptionPrefix prefixes per-option overrides, e.g.
	// SOCDL_STORAGE_OPT_BUCKET=media sets options["bucket"].
	EnvStorageOptionPrefix = "SOCDL_STORAGE_OPT_"
)

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvHost); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv(EnvPort); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv(EnvDownloadDir); v != "" {
		c.Download.Dir = v
	}
	if v := os.Getenv(EnvMinFreeBytes); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Download.MinFreeBytes = n
		}
	}
	if v := os.Getenv(EnvYTDLPBinary); v != "" {
		c.Download.YTDLPBinary = v
	}
	if v := os.Getenv(EnvStorageType); v != "" {
		c.Storage.Type = v
	}

	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvStorageOptionPrefix) {
			continue
		}

		key := strings.ToLower(strings.TrimPrefix(name, EnvStorageOptionPrefix))
		if c.Storage.Options == nil {
			c.Storage.Options = map[string]string{}
		}
		c.Storage.Options[key] = value
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Download.Dir == "" {
		return fmt.Errorf("download directory is required")
	}
	if c.Storage.Type == "" {
		return fmt.Errorf("storage type is required")
	}

	return nil
}

// Addr returns the host:port the server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func defaultDownloadDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, "Downloads", "socdl")
	}

	return filepath.Join(os.TempDir(), "socdl")
}

func defaultStateDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".socdl")
	}

	return filepath.Join(os.TempDir(), "socdl-state")
}
