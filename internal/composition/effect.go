package composition

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNoShaderFactory is returned when a shader effect has nothing to build.
var ErrNoShaderFactory = errors.New("shader effect has no factory")

// Effect is a visual transformation. Effects apply in declared order.
type Effect interface {
	EffectName() string
}

// MatrixTransformation maps each frame through an affine matrix in
// normalized device coordinates.
type MatrixTransformation interface {
	Effect
	// Configure binds the transformation to an input frame size. The receiver
	// is left unchanged, so one built composition can be realized any number
	// of times, concurrently.
	Configure(in Size) (ConfiguredMatrix, error)
}

// ConfiguredMatrix is a MatrixTransformation bound to one input size.
type ConfiguredMatrix interface {
	OutputSize() Size
	Matrix(presentationTimeUs int64) (Matrix, error)
}

// StaticMatrix is a ConfiguredMatrix that does not vary over time.
type StaticMatrix struct {
	Out Size
	M   Matrix
}

func (s StaticMatrix) OutputSize() Size             { return s.Out }
func (s StaticMatrix) Matrix(int64) (Matrix, error) { return s.M, nil }

// ShaderContext is handed to shader factories when the engine realizes the
// filter graph.
type ShaderContext struct {
	OutputSize Size
	FrameRate  int
	Logger     *slog.Logger
}

// ShaderProgram is a realized shader stage.
type ShaderProgram interface {
	Configure(in Size) (Size, error)
	// Filter returns the engine filter expression for the configured program.
	Filter() string
	Release() error
}

// ShaderFactory defers construction of a ShaderProgram until an execution
// context exists.
type ShaderFactory interface {
	Build(ctx ShaderContext) (ShaderProgram, error)
}

type ShaderFactoryFunc func(ctx ShaderContext) (ShaderProgram, error)

func (f ShaderFactoryFunc) Build(ctx ShaderContext) (ShaderProgram, error) {
	return f(ctx)
}

// ShaderEffect holds a factory; nothing is constructed until Realize.
type ShaderEffect struct {
	Name    string
	Factory ShaderFactory
}

func (e *ShaderEffect) EffectName() string {
	if e.Name != "" {
		return e.Name
	}
	return "shader"
}

// Realize builds the program. A panicking factory is reported as an error so
// it cannot take down the engine's worker goroutine.
func (e *ShaderEffect) Realize(ctx ShaderContext) (prog ShaderProgram, err error) {
	if e.Factory == nil {
		return nil, ErrNoShaderFactory
	}
	if fn, ok := e.Factory.(ShaderFactoryFunc); ok && fn == nil {
		return nil, ErrNoShaderFactory
	}
	defer func() {
		if r := recover(); r != nil {
			prog, err = nil, fmt.Errorf("shader factory panicked: %v", r)
		}
	}()
	prog, err = e.Factory.Build(ctx)
	if err == nil && prog == nil {
		err = errors.New("shader factory returned no program")
	}
	return prog, err
}

// Overlay is a text or graphic layer drawn over a segment during [Start, End).
// A zero End lasts until the segment ends.
type Overlay interface {
	Lifetime() (start, end time.Duration)
}

// TextOverlay draws text with its top-left corner at (X, Y) in NDC.
type TextOverlay struct {
	Text     string
	FontFile string
	FontSize int
	Color    string
	X, Y     float64
	Start    time.Duration
	End      time.Duration
}

func (o TextOverlay) Lifetime() (time.Duration, time.Duration) { return o.Start, o.End }

// ImageOverlay draws an image scaled by Scale with its top-left corner at
// (X, Y) in NDC.
type ImageOverlay struct {
	Path  string
	Scale float64
	X, Y  float64
	Start time.Duration
	End   time.Duration
}

func (o ImageOverlay) Lifetime() (time.Duration, time.Duration) { return o.Start, o.End }

type OverlayEffect struct {
	Overlays []Overlay
}

func (e *OverlayEffect) EffectName() string { return "overlay" }
