package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
)

type Prober interface {
	Probe(ctx context.Context, path string) (*ProbeResult, error)
}

type ProbeResult struct {
	Duration    time.Duration
	Width       int
	Height      int
	Codec       string
	FrameRate   float64
	HasVideo    bool
	HasAudio    bool
	AudioCodec  string
	AudioSample int
}

// FFprobe reads stream metadata through `ffprobe -print_format json`.
type FFprobe struct {
	binary string
	logger *slog.Logger
}

func NewFFprobe(binary string, logger *slog.Logger) *FFprobe {
	if binary == "" {
		binary = "ffprobe"
	}
	return &FFprobe{binary: binary, logger: logger}
}

type ffprobeOutput struct {
	Streams []struct {
		CodecType    string `json:"codec_type"`
		CodecName    string `json:"codec_name"`
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		AvgFrameRate string `json:"avg_frame_rate"`
		SampleRate   string `json:"sample_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *FFprobe) Probe(ctx context.Context, path string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, p.binary,
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedWriter{w: &stderr, limit: maxStderrBytes}

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w: %s", sourceName(path), err, truncate(stderr.String(), 512))
	}

	result, err := parseProbe(stdout.Bytes())
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", sourceName(path), err)
	}

	if p.logger != nil {
		p.logger.Debug("probed input",
			"source", sourceName(path),
			"duration_ms", result.Duration.Milliseconds(),
			"width", result.Width,
			"height", result.Height,
			"has_audio", result.HasAudio,
		)
	}
	return result, nil
}

// Lengths returns a function reporting the full length of a segment's
// source. Each probe is bounded by timeout.
func Lengths(p Prober, timeout time.Duration) func(seg composition.Segment) (time.Duration, error) {
	return func(seg composition.Segment) (time.Duration, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		res, err := p.Probe(ctx, sourcePath(seg.Source))
		if err != nil {
			return 0, err
		}
		return res.Duration, nil
	}
}

func parseProbe(data []byte) (*ProbeResult, error) {
	var out ffprobeOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("cannot parse ffprobe JSON: %w", err)
	}

	var r ProbeResult
	if secs, err := strconv.ParseFloat(out.Format.Duration, 64); err == nil {
		r.Duration = time.Duration(secs * float64(time.Second))
	}

	for _, s := range out.Streams {
		switch s.CodecType {
		case "video":
			if r.HasVideo {
				continue
			}
			r.HasVideo = true
			r.Width = s.Width
			r.Height = s.Height
			r.Codec = s.CodecName
			r.FrameRate = parseRational(s.AvgFrameRate)
		case "audio":
			if r.HasAudio {
				continue
			}
			r.HasAudio = true
			r.AudioCodec = s.CodecName
			r.AudioSample, _ = strconv.Atoi(s.SampleRate)
		}
	}

	if !r.HasVideo && !r.HasAudio {
		return nil, fmt.Errorf("no audio or video streams")
	}
	return &r, nil
}

func parseRational(s string) float64 {
	num, den, ok := strings.Cut(s, "/")
	if !ok {
		v, _ := strconv.ParseFloat(s, 64)
		return v
	}
	n, err1 := strconv.ParseFloat(num, 64)
	d, err2 := strconv.ParseFloat(den, 64)
	if err1 != nil || err2 != nil || d == 0 {
		return 0
	}
	return n / d
}
