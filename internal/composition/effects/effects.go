// Package effects holds the concrete effects used by compositions.
package effects

import (
	"fmt"

	"github.com/heimdex/heimdex-composer/internal/composition"
)

// TranslateAndScale scales the frame then translates it, both in NDC.
type TranslateAndScale struct {
	matrix composition.Matrix
}

func NewTranslateAndScale(x, y, sx, sy float64) *TranslateAndScale {
	return &TranslateAndScale{
		matrix: composition.Identity().PostScale(sx, sy).PostTranslate(x, y),
	}
}

func (t *TranslateAndScale) EffectName() string { return "translate_and_scale" }

func (t *TranslateAndScale) Configure(in composition.Size) (composition.ConfiguredMatrix, error) {
	return composition.StaticMatrix{Out: in, M: t.matrix}, nil
}

// TranslateNdc translates the frame in NDC. It needs a non-empty input frame.
type TranslateNdc struct {
	x, y float64
}

func NewTranslateNdc(x, y float64) *TranslateNdc {
	return &TranslateNdc{x: x, y: y}
}

func (t *TranslateNdc) EffectName() string { return "translate_ndc" }

func (t *TranslateNdc) Configure(in composition.Size) (composition.ConfiguredMatrix, error) {
	if in.Width <= 0 {
		return nil, fmt.Errorf("inputWidth must be positive, got %d", in.Width)
	}
	if in.Height <= 0 {
		return nil, fmt.Errorf("inputHeight must be positive, got %d", in.Height)
	}
	return composition.StaticMatrix{Out: in, M: composition.Identity().PostTranslate(t.x, t.y)}, nil
}

type Layout int

const (
	// LayoutScaleToFit letterboxes the frame inside the output.
	LayoutScaleToFit Layout = iota
	// LayoutScaleToFitWithCrop fills the output and crops the overflow.
	LayoutScaleToFitWithCrop
	// LayoutStretchToFit ignores the input aspect ratio.
	LayoutStretchToFit
)

// Presentation resizes frames to a fixed output size.
type Presentation struct {
	width, height int
	layout        Layout
}

func NewPresentation(width, height int, layout Layout) *Presentation {
	return &Presentation{width: width, height: height, layout: layout}
}

func (p *Presentation) EffectName() string { return "presentation" }

// Configure picks the output size and the matrix that compensates for the
// stretch from the input size to it.
func (p *Presentation) Configure(in composition.Size) (composition.ConfiguredMatrix, error) {
	if in.IsZero() {
		return nil, fmt.Errorf("presentation: invalid input size %dx%d", in.Width, in.Height)
	}
	out := composition.Size{Width: p.width, Height: p.height}
	if out.Width <= 0 && out.Height <= 0 {
		return composition.StaticMatrix{Out: in, M: composition.Identity()}, nil
	}
	// A single missing dimension keeps the input aspect ratio.
	if out.Width <= 0 {
		out.Width = in.Width * out.Height / in.Height
	}
	if out.Height <= 0 {
		out.Height = in.Height * out.Width / in.Width
	}
	return composition.StaticMatrix{Out: out, M: p.matrix(in)}, nil
}

func (p *Presentation) matrix(in composition.Size) composition.Matrix {
	if p.layout == LayoutStretchToFit || p.width <= 0 || p.height <= 0 {
		return composition.Identity()
	}

	inAspect := float64(in.Width) / float64(in.Height)
	outAspect := float64(p.width) / float64(p.height)
	sx, sy := 1.0, 1.0
	switch p.layout {
	case LayoutScaleToFitWithCrop:
		if inAspect > outAspect {
			sx = inAspect / outAspect
		} else {
			sy = outAspect / inAspect
		}
	case LayoutScaleToFit:
		if inAspect > outAspect {
			sy = outAspect / inAspect
		} else {
			sx = inAspect / outAspect
		}
	}
	return composition.Identity().PostScale(sx, sy)
}
