package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL = 5 * time.Minute

	PreferredVideoCodec = "libx264"
	FallbackVideoCodec  = "mpeg4"
)

// Capabilities describes the installed ffmpeg as reported by -version and
// -encoders.
type Capabilities struct {
	Version  string          `json:"version"`
	Encoders map[string]bool `json:"encoders"`
	ProbedAt time.Time       `json:"probed_at"`
}

// VideoCodec returns the preferred encoder, falling back when it is missing.
func (c *Capabilities) VideoCodec() string {
	if c.Encoders[PreferredVideoCodec] {
		return PreferredVideoCodec
	}
	return FallbackVideoCodec
}

func (c *Capabilities) HasEncoder(name string) bool {
	return c.Encoders[name]
}

// ProbeCapabilities runs the ffmpeg binary to discover version and encoders.
func ProbeCapabilities(ctx context.Context, binary string) (*Capabilities, error) {
	if binary == "" {
		binary = "ffmpeg"
	}
	version, err := exec.CommandContext(ctx, binary, "-hide_banner", "-version").Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -version: %w", err)
	}
	encoders, err := exec.CommandContext(ctx, binary, "-hide_banner", "-encoders").Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg -encoders: %w", err)
	}

	return &Capabilities{
		Version:  parseVersion(version),
		Encoders: parseEncoders(encoders),
		ProbedAt: time.Now(),
	}, nil
}

func parseVersion(out []byte) string {
	line, _, _ := strings.Cut(string(out), "\n")
	fields := strings.Fields(line)
	// "ffmpeg version 6.1.1 Copyright ..."
	if len(fields) >= 3 && fields[1] == "version" {
		return fields[2]
	}
	return strings.TrimSpace(line)
}

// parseEncoders reads the table printed by `ffmpeg -encoders`, whose rows
// look like " V....D libx264              libx264 H.264 ...".
func parseEncoders(out []byte) map[string]bool {
	encoders := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	pastHeader := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !pastHeader {
			if strings.HasPrefix(line, "------") {
				pastHeader = true
			}
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			encoders[fields[1]] = true
		}
	}
	return encoders
}

type probeFunc func(ctx context.Context) (*Capabilities, error)

// CachedDoctor caches capability probes with a TTL so the encoder choice does
// not spawn ffmpeg twice for every export.
type CachedDoctor struct {
	probe  probeFunc
	ttl    time.Duration
	logger *slog.Logger

	mu     sync.RWMutex
	cached *Capabilities
}

// NewCachedDoctor creates a caching wrapper around capability probes.
func NewCachedDoctor(binary string, logger *slog.Logger) *CachedDoctor {
	return &CachedDoctor{
		probe: func(ctx context.Context) (*Capabilities, error) {
			return ProbeCapabilities(ctx, binary)
		},
		ttl:    defaultCacheTTL,
		logger: logger,
	}
}

// Get returns cached capabilities if fresh, otherwise re-probes.
func (d *CachedDoctor) Get(ctx context.Context) (*Capabilities, error) {
	d.mu.RLock()
	if d.cached != nil && time.Since(d.cached.ProbedAt) < d.ttl {
		caps := d.cached
		d.mu.RUnlock()
		return caps, nil
	}
	d.mu.RUnlock()

	return d.Refresh(ctx)
}

func (d *CachedDoctor) Peek() *Capabilities {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cached
}

// Refresh forces a new probe regardless of cache freshness.
func (d *CachedDoctor) Refresh(ctx context.Context) (*Capabilities, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	caps, err := d.probe(ctx)
	if err != nil {
		d.logger.Warn("ffmpeg probe failed", "error", err)
		// Return stale cache if available
		if d.cached != nil {
			d.logger.Info("returning stale capabilities cache")
			return d.cached, nil
		}
		return nil, err
	}

	d.cached = caps
	return caps, nil
}
