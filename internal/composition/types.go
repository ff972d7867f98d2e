// Package composition provides a builder DSL that declares multi-track
// compositions of video, audio and silence segments with effects and
// overlays. Built values are plain immutable descriptions; rendering them is
// the job of an external engine.
package composition

import (
	"errors"
	"time"
)

var (
	ErrNoSequences      = errors.New("composition has no sequences")
	ErrAssetUnavailable = errors.New("asset unavailable")
)

const (
	// SilenceAsset is the 1x1 transparent image backing silence segments.
	SilenceAsset     = "transparent.png"
	SilenceFrameRate = 24
)

// AssetResolver maps a named asset to a readable local path.
type AssetResolver interface {
	Resolve(name string) (string, error)
}

type Kind int

const (
	KindVideo Kind = iota
	KindAudio
	KindSilence
)

func (k Kind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindAudio:
		return "audio"
	case KindSilence:
		return "silence"
	default:
		return "unknown"
	}
}

type Size struct {
	Width  int
	Height int
}

func (s Size) IsZero() bool { return s.Width <= 0 || s.Height <= 0 }

// Bound is an optional trim boundary. An unset bound and a bound at zero are
// distinct.
type Bound struct {
	Ms  int64
	Set bool
}

type Trim struct {
	Start Bound
	End   Bound
}

// Span returns the trimmed length when both bounds are set.
func (t Trim) Span() (time.Duration, bool) {
	if !t.End.Set {
		return 0, false
	}
	return time.Duration(t.End.Ms-t.Start.Ms) * time.Millisecond, true
}

type Segment struct {
	Kind        Kind
	ID          string
	Source      string
	Trim        Trim
	Duration    time.Duration // zero means the source decides
	FrameRate   int           // zero means the source decides
	RemoveAudio bool
	Effects     []Effect
}

// Overlays returns the overlays carried by the trailing overlay effect.
func (s Segment) Overlays() []Overlay {
	if len(s.Effects) == 0 {
		return nil
	}
	if oe, ok := s.Effects[len(s.Effects)-1].(*OverlayEffect); ok {
		return oe.Overlays
	}
	return nil
}

type Sequence struct {
	Segments []Segment
	Looping  bool
}

type OutputSettings struct {
	Size Size
}

type Composition struct {
	Sequences []Sequence
	Effects   []Effect
	Settings  *OutputSettings
}
