package effects

import (
	"fmt"

	"github.com/heimdex/heimdex-composer/internal/composition"
)

const (
	defaultSimilarity = 0.3
	defaultBlend      = 0.1
)

// ColorToTransparent keys out a color, leaving transparent pixels.
type ColorToTransparent struct {
	color      uint32
	similarity float64
	blend      float64
	configured bool
}

func (c *ColorToTransparent) Configure(in composition.Size) (composition.Size, error) {
	c.configured = true
	return in, nil
}

func (c *ColorToTransparent) Filter() string {
	return fmt.Sprintf("format=rgba,colorkey=0x%06X:%.3f:%.3f", c.color&0xFFFFFF, c.similarity, c.blend)
}

func (c *ColorToTransparent) Release() error {
	c.configured = false
	return nil
}

// ColorToTransparentBuilder is the deferred factory for ColorToTransparent.
type ColorToTransparentBuilder struct {
	color      uint32
	similarity float64
	blend      float64
}

// NewColorToTransparent returns a factory configured by fn.
//
//	e.Shader("color_to_transparent", effects.NewColorToTransparent(func(b *effects.ColorToTransparentBuilder) {
//		b.Color(0xFF00FF00)
//	}))
func NewColorToTransparent(fn func(b *ColorToTransparentBuilder)) *ColorToTransparentBuilder {
	b := &ColorToTransparentBuilder{similarity: defaultSimilarity, blend: defaultBlend}
	if fn != nil {
		fn(b)
	}
	return b
}

// Color sets the key color as packed ARGB; alpha is ignored.
func (b *ColorToTransparentBuilder) Color(argb uint32) *ColorToTransparentBuilder {
	b.color = argb
	return b
}

func (b *ColorToTransparentBuilder) Similarity(v float64) *ColorToTransparentBuilder {
	b.similarity = v
	return b
}

func (b *ColorToTransparentBuilder) Blend(v float64) *ColorToTransparentBuilder {
	b.blend = v
	return b
}

func (b *ColorToTransparentBuilder) Build(ctx composition.ShaderContext) (composition.ShaderProgram, error) {
	if b.similarity <= 0 || b.similarity > 1 {
		return nil, fmt.Errorf("color_to_transparent: similarity %.3f out of range (0,1]", b.similarity)
	}
	if ctx.Logger != nil {
		ctx.Logger.Debug("color_to_transparent realized", "color", fmt.Sprintf("%06X", b.color&0xFFFFFF))
	}
	return &ColorToTransparent{color: b.color, similarity: b.similarity, blend: b.blend}, nil
}
