package api

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
	"github.com/heimdex/heimdex-composer/internal/composition/effects"
)

const assetPrefix = "asset:"

var errInvalidComposition = errors.New("invalid composition")

// ToComposition builds the request through the composition DSL. Asset
// references are resolved against assets while building.
func (req *CompositionRequest) ToComposition(assets composition.AssetResolver) (*composition.Composition, error) {
	if len(req.Sequences) == 0 {
		return nil, composition.ErrNoSequences
	}

	var errs []error
	comp, err := composition.New(assets, func(b *composition.Builder) {
		for i, seq := range req.Sequences {
			b.AddSequence(func(s *composition.SequenceBuilder) {
				s.SetLooping(seq.Looping)
				for j, seg := range seq.Segments {
					if err := addSegment(s, seg, assets); err != nil {
						errs = append(errs, fmt.Errorf("sequence %d segment %d: %w", i, j, err))
					}
				}
			})
		}
		if len(req.Effects) > 0 {
			b.AddEffects(func(e *composition.EffectsBuilder) {
				for i, eff := range req.Effects {
					if err := addEffect(e, eff); err != nil {
						errs = append(errs, fmt.Errorf("effect %d: %w", i, err))
					}
				}
			})
		}
		if req.Output != nil {
			b.SetOutputSettings(func(s *composition.SettingsBuilder) {
				s.Width(req.Output.Width)
				s.Height(req.Output.Height)
			})
		}
	})
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return comp, err
}

func addSegment(s *composition.SequenceBuilder, seg SegmentRequest, assets composition.AssetResolver) error {
	switch seg.Type {
	case "silence":
		if seg.DurationMs < 0 {
			return fmt.Errorf("%w: negative silence duration", errInvalidComposition)
		}
		s.AddSilenceSegment(time.Duration(seg.DurationMs)*time.Millisecond, seg.ID)
		return nil
	case "video", "audio":
	default:
		return fmt.Errorf("%w: unknown segment type %q", errInvalidComposition, seg.Type)
	}

	src, err := resolveSource(seg.Source, assets)
	if err != nil {
		return err
	}
	if seg.StartMs != nil && *seg.StartMs < 0 {
		return fmt.Errorf("%w: start_ms must not be negative", errInvalidComposition)
	}
	if seg.EndMs != nil {
		start := int64(0)
		if seg.StartMs != nil {
			start = *seg.StartMs
		}
		if *seg.EndMs <= start {
			return fmt.Errorf("%w: end_ms must be greater than start_ms", errInvalidComposition)
		}
	}
	if seg.DurationMs < 0 || seg.FrameRate < 0 {
		return fmt.Errorf("%w: negative duration or frame rate", errInvalidComposition)
	}

	overlays := make([]composition.Overlay, 0, len(seg.Overlays))
	for i, o := range seg.Overlays {
		ov, err := toOverlay(o, assets)
		if err != nil {
			return fmt.Errorf("overlay %d: %w", i, err)
		}
		overlays = append(overlays, ov)
	}

	var effErr error
	configure := func(v *composition.SegmentBuilder) {
		if seg.ID != "" {
			v.ID(seg.ID)
		}
		if seg.StartMs != nil {
			v.StartAtMs(*seg.StartMs)
		}
		if seg.EndMs != nil {
			v.EndAtMs(*seg.EndMs)
		}
		if seg.DurationMs > 0 {
			v.Duration(time.Duration(seg.DurationMs) * time.Millisecond)
		}
		if seg.FrameRate > 0 {
			v.FrameRate(seg.FrameRate)
		}
		if seg.RemoveAudio {
			v.RemoveAudio()
		}
		if len(seg.Effects) > 0 {
			v.Effects(func(e *composition.EffectsBuilder) {
				for i, eff := range seg.Effects {
					if err := addEffect(e, eff); err != nil && effErr == nil {
						effErr = fmt.Errorf("effect %d: %w", i, err)
					}
				}
			})
		}
		for _, ov := range overlays {
			v.Overlay(ov)
		}
	}

	if seg.Type == "audio" {
		s.AddAudioSegment(src, configure)
	} else {
		s.AddVideoSegment(src, configure)
	}
	return effErr
}

func addEffect(e *composition.EffectsBuilder, eff EffectRequest) error {
	switch eff.Type {
	case "translate_and_scale":
		sx, sy := eff.ScaleX, eff.ScaleY
		if sx == 0 {
			sx = 1
		}
		if sy == 0 {
			sy = 1
		}
		e.Matrix(effects.NewTranslateAndScale(eff.X, eff.Y, sx, sy))
	case "translate_ndc":
		e.Matrix(effects.NewTranslateNdc(eff.X, eff.Y))
	case "presentation":
		layout, err := parseLayout(eff.Layout)
		if err != nil {
			return err
		}
		if eff.Width < 0 || eff.Height < 0 {
			return fmt.Errorf("%w: negative presentation size", errInvalidComposition)
		}
		e.Matrix(effects.NewPresentation(eff.Width, eff.Height, layout))
	case "color_to_transparent":
		color, err := parseColor(eff.Color)
		if err != nil {
			return err
		}
		e.Shader("color_to_transparent", effects.NewColorToTransparent(func(b *effects.ColorToTransparentBuilder) {
			b.Color(color)
			if eff.Similarity != 0 {
				b.Similarity(eff.Similarity)
			}
			if eff.Blend != 0 {
				b.Blend(eff.Blend)
			}
		}))
	default:
		return fmt.Errorf("%w: unknown effect type %q", errInvalidComposition, eff.Type)
	}
	return nil
}

func toOverlay(o OverlayRequest, assets composition.AssetResolver) (composition.Overlay, error) {
	if o.StartMs < 0 || (o.EndMs != 0 && o.EndMs <= o.StartMs) {
		return nil, fmt.Errorf("%w: invalid overlay lifetime [%d, %d)", errInvalidComposition, o.StartMs, o.EndMs)
	}
	start := time.Duration(o.StartMs) * time.Millisecond
	end := time.Duration(o.EndMs) * time.Millisecond

	switch o.Type {
	case "text":
		if o.Text == "" {
			return nil, fmt.Errorf("%w: text overlay without text", errInvalidComposition)
		}
		return composition.TextOverlay{
			Text:     o.Text,
			FontFile: o.FontFile,
			FontSize: o.FontSize,
			Color:    o.Color,
			X:        o.X,
			Y:        o.Y,
			Start:    start,
			End:      end,
		}, nil
	case "image":
		path, err := resolveSource(o.Source, assets)
		if err != nil {
			return nil, err
		}
		return composition.ImageOverlay{
			Path:  path,
			Scale: o.Scale,
			X:     o.X,
			Y:     o.Y,
			Start: start,
			End:   end,
		}, nil
	default:
		return nil, fmt.Errorf("%w: unknown overlay type %q", errInvalidComposition, o.Type)
	}
}

func resolveSource(src string, assets composition.AssetResolver) (string, error) {
	switch {
	case strings.HasPrefix(src, assetPrefix):
		name := strings.TrimPrefix(src, assetPrefix)
		if assets == nil {
			return "", fmt.Errorf("%w: %s: no asset store", composition.ErrAssetUnavailable, name)
		}
		path, err := assets.Resolve(name)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", composition.ErrAssetUnavailable, name, err)
		}
		return path, nil
	case strings.HasPrefix(src, "file://"), filepath.IsAbs(src):
		return src, nil
	default:
		return "", fmt.Errorf("%w: source %q must be an absolute path or %s<name>", errInvalidComposition, src, assetPrefix)
	}
}

func parseLayout(s string) (effects.Layout, error) {
	switch strings.ToLower(s) {
	case "", "fit":
		return effects.LayoutScaleToFit, nil
	case "crop", "fit_with_crop":
		return effects.LayoutScaleToFitWithCrop, nil
	case "stretch":
		return effects.LayoutStretchToFit, nil
	default:
		return 0, fmt.Errorf("%w: unknown layout %q", errInvalidComposition, s)
	}
}

// parseColor accepts #RRGGBB or #AARRGGBB and returns packed ARGB.
func parseColor(s string) (uint32, error) {
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "#"), "0x")
	if len(hex) != 6 && len(hex) != 8 {
		return 0, fmt.Errorf("%w: invalid color %q", errInvalidComposition, s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid color %q", errInvalidComposition, s)
	}
	if len(hex) == 6 {
		v |= 0xFF000000
	}
	return uint32(v), nil
}
