package engine

import (
	"fmt"
	"os/exec"
	"path/filepath"
	"time"

	vidio "github.com/AlexEidt/Vidio"
)

// OutputInfo summarises a rendered file.
type OutputInfo struct {
	Width     int           `json:"width"`
	Height    int           `json:"height"`
	FrameRate float64       `json:"frame_rate"`
	Duration  time.Duration `json:"duration"`
	Codec     string        `json:"codec"`
}

type Inspector interface {
	Inspect(path string) (*OutputInfo, error)
}

// NewInspector returns a VidioInspector when the configured ffmpeg and
// ffprobe are the binaries found on PATH, which are the only ones Vidio runs.
// Otherwise it returns nil and renders are recorded without inspection.
// lookPath defaults to exec.LookPath.
func NewInspector(ffmpeg, ffprobe string, lookPath func(string) (string, error)) Inspector {
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	for _, b := range []struct{ name, configured string }{
		{"ffmpeg", ffmpeg},
		{"ffprobe", ffprobe},
	} {
		onPath, err := lookPath(b.name)
		if err != nil {
			return nil
		}
		configured, err := lookPath(b.configured)
		if err != nil || filepath.Clean(configured) != filepath.Clean(onPath) {
			return nil
		}
	}
	return VidioInspector{}
}

// VidioInspector reads the video stream header of a finished file.
type VidioInspector struct{}

func (VidioInspector) Inspect(path string) (*OutputInfo, error) {
	video, err := vidio.NewVideo(path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", sourceName(path), err)
	}
	defer video.Close()

	return &OutputInfo{
		Width:     video.Width(),
		Height:    video.Height(),
		FrameRate: video.FPS(),
		Duration:  time.Duration(video.Duration() * float64(time.Second)),
		Codec:     video.Codec(),
	}, nil
}
