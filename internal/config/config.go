// Package config provides configuration management for the composer agent.
// Configuration is loaded from environment variables with sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// Default values
	DefaultPort          = 8788
	DefaultLogLevel      = "info"
	DefaultDataDir       = ".heimdex-composer"
	DefaultFFmpeg        = "ffmpeg"
	DefaultFFprobe       = "ffprobe"
	DefaultRenderTimeout = 30 * time.Minute

	// Environment variable names
	EnvPort          = "COMPOSER_PORT"
	EnvLogLevel      = "COMPOSER_LOG_LEVEL"
	EnvDataDir       = "COMPOSER_DATA_DIR"
	EnvAssetsDir     = "COMPOSER_ASSETS_DIR"
	EnvFFmpeg        = "COMPOSER_FFMPEG"
	EnvFFprobe       = "COMPOSER_FFPROBE"
	EnvRenderTimeout = "COMPOSER_RENDER_TIMEOUT"
	EnvHeadless      = "COMPOSER_HEADLESS"
	EnvDemo          = "COMPOSER_DEMO"

	// Database filename
	DBFilename = "composer.db"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	LogLevel() string
	DataDir() string
	DBPath() string
	CacheDir() string
	OutputDir() string
	AssetsDir() string
	FFmpegPath() string
	FFprobePath() string
	RenderTimeout() time.Duration
	Headless() bool
	Demo() bool
}

// EnvConfig reads configuration from environment variables
type EnvConfig struct {
	port          int
	logLevel      string
	dataDir       string
	assetsDir     string
	ffmpeg        string
	ffprobe       string
	renderTimeout time.Duration
	headless      bool
	demo          bool
}

// New creates a new EnvConfig with defaults and environment variable overrides
func New() (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:          DefaultPort,
		logLevel:      DefaultLogLevel,
		dataDir:       defaultDataDir(),
		ffmpeg:        DefaultFFmpeg,
		ffprobe:       DefaultFFprobe,
		renderTimeout: DefaultRenderTimeout,
	}

	// Override port from environment
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		if port < 1 || port > 65535 {
			return nil, fmt.Errorf("invalid %s: port must be between 1 and 65535", EnvPort)
		}
		cfg.port = port
	}

	if ll := os.Getenv(EnvLogLevel); ll != "" {
		cfg.logLevel = ll
	}

	if dd := os.Getenv(EnvDataDir); dd != "" {
		cfg.dataDir = dd
	}

	cfg.assetsDir = os.Getenv(EnvAssetsDir)

	if p := os.Getenv(EnvFFmpeg); p != "" {
		cfg.ffmpeg = p
	}
	if p := os.Getenv(EnvFFprobe); p != "" {
		cfg.ffprobe = p
	}

	if rt := os.Getenv(EnvRenderTimeout); rt != "" {
		d, err := time.ParseDuration(rt)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", EnvRenderTimeout, err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("invalid %s: must be positive", EnvRenderTimeout)
		}
		cfg.renderTimeout = d
	}

	var err error
	if cfg.headless, err = envBool(EnvHeadless); err != nil {
		return nil, err
	}
	if cfg.demo, err = envBool(EnvDemo); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envBool(name string) (bool, error) {
	v := os.Getenv(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", name, err)
	}
	return b, nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// DBPath returns the full path to the SQLite database file
func (c *EnvConfig) DBPath() string {
	return filepath.Join(c.dataDir, DBFilename)
}

// CacheDir is where named assets are copied before the engine reads them.
func (c *EnvConfig) CacheDir() string {
	return filepath.Join(c.dataDir, "cache")
}

func (c *EnvConfig) OutputDir() string {
	return filepath.Join(c.dataDir, "renders")
}

// AssetsDir returns the user assets directory; empty means embedded assets
// only.
func (c *EnvConfig) AssetsDir() string {
	return c.assetsDir
}

func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpeg
}

func (c *EnvConfig) FFprobePath() string {
	return c.ffprobe
}

func (c *EnvConfig) RenderTimeout() time.Duration {
	return c.renderTimeout
}

// Headless disables the system tray.
func (c *EnvConfig) Headless() bool {
	return c.headless
}

// Demo renders the demo composition once at startup.
func (c *EnvConfig) Demo() bool {
	return c.demo
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home is not available
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
