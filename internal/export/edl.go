package export

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
)

const (
	reelSource = "AX"
	reelBlack  = "BL"
)

// ErrUnknownLength is returned for an untrimmed segment when no LengthFunc is
// available.
var ErrUnknownLength = errors.New("source length unknown")

// LengthFunc reports the full length of a segment's source. It is consulted
// only for segments whose length is not fixed by a trim end or duration.
type LengthFunc func(seg composition.Segment) (time.Duration, error)

// Events lays out every sequence of comp on its own record timeline starting
// at zero. Looping sequences are listed once.
func Events(comp *composition.Composition, length LengthFunc) ([]Event, error) {
	if comp == nil || len(comp.Sequences) == 0 {
		return nil, composition.ErrNoSequences
	}

	var events []Event
	for i, seq := range comp.Sequences {
		recordMs := 0
		for j, seg := range seq.Segments {
			inMs, outMs, err := sourceSpan(seg, length)
			if err != nil {
				return nil, fmt.Errorf("sequence %d segment %d: %w", i, j, err)
			}
			ev := Event{
				Sequence:    i + 1,
				Reel:        reelSource,
				Track:       track(seg),
				ClipName:    clipName(seg),
				MediaPath:   strings.TrimPrefix(seg.Source, "file://"),
				SourceInMs:  inMs,
				SourceOutMs: outMs,
				RecordInMs:  recordMs,
				Looping:     seq.Looping,
			}
			if seg.Kind == composition.KindSilence {
				ev.Reel = reelBlack
				ev.MediaPath = ""
			}
			events = append(events, ev)
			recordMs += ev.DurationMs()
		}
	}
	return events, nil
}

func sourceSpan(seg composition.Segment, length LengthFunc) (int, int, error) {
	if seg.Kind == composition.KindSilence {
		return 0, int(seg.Duration.Milliseconds()), nil
	}
	start := int(seg.Trim.Start.Ms)
	if span, ok := seg.Trim.Span(); ok {
		if span <= 0 {
			return 0, 0, fmt.Errorf("trim end %dms is not after start %dms", seg.Trim.End.Ms, seg.Trim.Start.Ms)
		}
		return start, start + int(span.Milliseconds()), nil
	}
	if seg.Duration > 0 {
		return start, start + int(seg.Duration.Milliseconds()), nil
	}
	if length == nil {
		return 0, 0, fmt.Errorf("%w: %s", ErrUnknownLength, filepath.Base(seg.Source))
	}
	total, err := length(seg)
	if err != nil {
		return 0, 0, err
	}
	end := int(total.Milliseconds())
	if end <= start {
		return 0, 0, fmt.Errorf("trim start %dms is beyond source length %s", start, total)
	}
	return start, end, nil
}

func track(seg composition.Segment) string {
	switch {
	case seg.Kind == composition.KindAudio:
		return "AA"
	case seg.Kind == composition.KindSilence || seg.RemoveAudio:
		return "V"
	default:
		return "AA/V"
	}
}

func clipName(seg composition.Segment) string {
	if seg.ID != "" {
		return SanitizeName(seg.ID, 160)
	}
	if seg.Kind == composition.KindSilence {
		return "BLACK"
	}
	return SanitizeName(filepath.Base(strings.TrimPrefix(seg.Source, "file://")), 160)
}

// GenerateEDL renders events as CMX3600 text.
func GenerateEDL(events []Event, title string, frameRate float64) string {
	fps := int(math.Round(frameRate))
	if fps <= 0 {
		fps = 30
	}

	isDropFrame := math.Abs(frameRate-29.97) < 0.01 || math.Abs(frameRate-59.94) < 0.01

	lines := []string{fmt.Sprintf("TITLE: %s", title)}
	if isDropFrame {
		lines = append(lines, "FCM: DROP FRAME")
	} else {
		lines = append(lines, "FCM: NON-DROP FRAME")
	}
	lines = append(lines, "")

	currentSeq := 0
	for i, ev := range events {
		if ev.Sequence != currentSeq {
			currentSeq = ev.Sequence
			header := fmt.Sprintf("* SEQUENCE %d", ev.Sequence)
			if ev.Looping {
				header += " (LOOPING)"
			}
			lines = append(lines, header)
		}

		srcIn := msToTimecode(ev.SourceInMs, fps)
		srcOut := msToTimecode(ev.SourceOutMs, fps)
		recIn := msToTimecode(ev.RecordInMs, fps)
		recOut := msToTimecode(ev.RecordInMs+ev.DurationMs(), fps)

		lines = append(lines,
			fmt.Sprintf("%03d  %-8s %-5s C        %s %s %s %s", i+1, ev.Reel, ev.Track, srcIn, srcOut, recIn, recOut),
			fmt.Sprintf("* FROM CLIP NAME:  %s", ev.ClipName),
		)
		if ev.MediaPath != "" {
			lines = append(lines, fmt.Sprintf("* MEDIA PATH:  %s", ev.MediaPath))
		}
	}

	lines = append(lines, "")
	return strings.Join(lines, "\n")
}

func msToTimecode(ms int, fps int) string {
	totalFrames := int(math.Round(float64(ms) * float64(fps) / 1000.0))
	frames := totalFrames % fps
	totalSeconds := totalFrames / fps
	seconds := totalSeconds % 60
	totalMinutes := totalSeconds / 60
	minutes := totalMinutes % 60
	hours := totalMinutes / 60
	return fmt.Sprintf("%02d:%02d:%02d:%02d", hours, minutes, seconds, frames)
}
