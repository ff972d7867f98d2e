// Package demo builds the startup composition: the same clip tiled into a
// 2x2 grid, each tile starting a second after the previous one, over a music
// track.
package demo

import (
	"fmt"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
	"github.com/heimdex/heimdex-composer/internal/composition/effects"
)

const (
	VideoAsset = "bankruptcy.mp4"
	MusicAsset = "spy_family.mp3"

	musicEndMs = 11000
	tileDelay  = time.Second
)

var gridSize = composition.Size{Width: 1920, Height: 1080}

// Grid builds the demo composition. Tiles are centered at (±0.5, ±0.5) in
// NDC, x varying slowest; the music sequence comes last.
func Grid(assets composition.AssetResolver) (*composition.Composition, error) {
	if assets == nil {
		return nil, fmt.Errorf("%w: no asset resolver", composition.ErrAssetUnavailable)
	}
	video, err := resolve(assets, VideoAsset)
	if err != nil {
		return nil, err
	}
	music, err := resolve(assets, MusicAsset)
	if err != nil {
		return nil, err
	}

	return composition.New(assets, func(b *composition.Builder) {
		k := 0
		for _, i := range []float64{-1, 1} {
			for _, j := range []float64{-1, 1} {
				delay := time.Duration(k) * tileDelay
				b.AddSequence(func(s *composition.SequenceBuilder) {
					s.AddSilenceSegment(delay, "")
					s.AddVideoSegment(video, func(v *composition.SegmentBuilder) {
						v.RemoveAudio()
						v.Effects(func(e *composition.EffectsBuilder) {
							e.Matrix(effects.NewPresentation(gridSize.Width, gridSize.Height, effects.LayoutScaleToFitWithCrop))
							e.Matrix(effects.NewTranslateAndScale(i/2, j/2, 0.5, 0.5))
						})
					})
				})
				k++
			}
		}

		b.AddSequence(func(s *composition.SequenceBuilder) {
			s.AddAudioSegment(music, func(v *composition.SegmentBuilder) {
				v.StartAtMs(0)
				v.EndAtMs(musicEndMs)
			})
		})
	})
}

func resolve(assets composition.AssetResolver, name string) (string, error) {
	path, err := assets.Resolve(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %v", composition.ErrAssetUnavailable, name, err)
	}
	return path, nil
}
