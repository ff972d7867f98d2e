package composition

import (
	"fmt"
	"time"
)

// New runs fn against a fresh Builder and builds the result.
func New(assets AssetResolver, fn func(b *Builder)) (*Composition, error) {
	b := NewBuilder(assets)
	fn(b)
	return b.Build()
}

// Builder accumulates sequences, global effects and output settings.
type Builder struct {
	assets    AssetResolver
	sequences []Sequence
	effects   []Effect
	settings  *OutputSettings
	err       error
}

func NewBuilder(assets AssetResolver) *Builder {
	return &Builder{assets: assets}
}

// AddSequence appends one track. Call order is track order.
func (b *Builder) AddSequence(fn func(s *SequenceBuilder)) {
	sb := &SequenceBuilder{assets: b.assets}
	if fn != nil {
		fn(sb)
	}
	if sb.err != nil && b.err == nil {
		b.err = sb.err
	}
	b.sequences = append(b.sequences, sb.Build())
}

func (b *Builder) AddEffects(fn func(e *EffectsBuilder)) {
	eb := &EffectsBuilder{}
	if fn != nil {
		fn(eb)
	}
	b.effects = append(b.effects, eb.Build()...)
}

func (b *Builder) SetOutputSettings(fn func(s *SettingsBuilder)) {
	sb := &SettingsBuilder{}
	if fn != nil {
		fn(sb)
	}
	b.settings = sb.Build()
}

func (b *Builder) Build() (*Composition, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.sequences) == 0 {
		return nil, ErrNoSequences
	}

	c := &Composition{
		Sequences: make([]Sequence, len(b.sequences)),
		Effects:   append([]Effect(nil), b.effects...),
	}
	copy(c.Sequences, b.sequences)
	if b.settings != nil {
		s := *b.settings
		c.Settings = &s
	}
	return c, nil
}

type SettingsBuilder struct {
	width  int
	height int
}

func (s *SettingsBuilder) Width(w int)  { s.width = w }
func (s *SettingsBuilder) Height(h int) { s.height = h }

func (s *SettingsBuilder) Size(size Size) {
	s.Width(size.Width)
	s.Height(size.Height)
}

func (s *SettingsBuilder) Build() *OutputSettings {
	return &OutputSettings{Size: Size{Width: s.width, Height: s.height}}
}

// SequenceBuilder accumulates the segments of one track.
type SequenceBuilder struct {
	assets   AssetResolver
	segments []Segment
	looping  bool
	err      error
}

func (s *SequenceBuilder) AddVideoSegment(uri string, fn func(v *SegmentBuilder)) {
	s.add(KindVideo, uri, fn)
}

// AddAudioSegment has the same configuration surface as AddVideoSegment.
func (s *SequenceBuilder) AddAudioSegment(uri string, fn func(v *SegmentBuilder)) {
	s.add(KindAudio, uri, fn)
}

func (s *SequenceBuilder) add(kind Kind, uri string, fn func(v *SegmentBuilder)) {
	sb := &SegmentBuilder{kind: kind, source: uri}
	if fn != nil {
		fn(sb)
	}
	s.segments = append(s.segments, sb.Build())
}

// AddSilenceSegment appends a transparent, audio-less filler of duration d.
// A zero duration adds nothing.
func (s *SequenceBuilder) AddSilenceSegment(d time.Duration, id string) {
	if d == 0 {
		return
	}
	if s.assets == nil {
		s.fail(fmt.Errorf("%w: %s: no asset resolver", ErrAssetUnavailable, SilenceAsset))
		return
	}
	path, err := s.assets.Resolve(SilenceAsset)
	if err != nil {
		s.fail(fmt.Errorf("%w: %s: %v", ErrAssetUnavailable, SilenceAsset, err))
		return
	}
	s.segments = append(s.segments, Segment{
		Kind:        KindSilence,
		ID:          id,
		Source:      path,
		Duration:    d,
		FrameRate:   SilenceFrameRate,
		RemoveAudio: true,
	})
}

func (s *SequenceBuilder) SetLooping(looping bool) {
	s.looping = looping
}

func (s *SequenceBuilder) Build() Sequence {
	return Sequence{
		Segments: append([]Segment(nil), s.segments...),
		Looping:  s.looping,
	}
}

func (s *SequenceBuilder) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// SegmentBuilder captures per-segment configuration.
type SegmentBuilder struct {
	kind        Kind
	source      string
	id          string
	trim        Trim
	duration    time.Duration
	frameRate   int
	removeAudio bool
	effects     []Effect
	overlays    []Overlay
}

func (v *SegmentBuilder) StartAtMs(ms int64) { v.trim.Start = Bound{Ms: ms, Set: true} }
func (v *SegmentBuilder) EndAtMs(ms int64)   { v.trim.End = Bound{Ms: ms, Set: true} }

func (v *SegmentBuilder) Duration(d time.Duration) { v.duration = d }
func (v *SegmentBuilder) FrameRate(fps int)        { v.frameRate = fps }
func (v *SegmentBuilder) RemoveAudio()             { v.removeAudio = true }
func (v *SegmentBuilder) ID(id string)             { v.id = id }

func (v *SegmentBuilder) Effects(fn func(e *EffectsBuilder)) {
	eb := &EffectsBuilder{}
	if fn != nil {
		fn(eb)
	}
	v.effects = append(v.effects, eb.Build()...)
}

func (v *SegmentBuilder) Overlay(o Overlay) {
	v.overlays = append(v.overlays, o)
}

// Build returns the segment. Overlays, if any, become a single OverlayEffect
// after every other effect.
func (v *SegmentBuilder) Build() Segment {
	effects := make([]Effect, 0, len(v.effects)+1)
	effects = append(effects, v.effects...)
	if len(v.overlays) > 0 {
		effects = append(effects, &OverlayEffect{Overlays: append([]Overlay(nil), v.overlays...)})
	}
	return Segment{
		Kind:        v.kind,
		ID:          v.id,
		Source:      v.source,
		Trim:        v.trim,
		Duration:    v.duration,
		FrameRate:   v.frameRate,
		RemoveAudio: v.removeAudio,
		Effects:     effects,
	}
}

// EffectsBuilder accumulates effects in application order.
type EffectsBuilder struct {
	effects []Effect
}

func (e *EffectsBuilder) Matrix(t MatrixTransformation) {
	e.effects = append(e.effects, t)
}

// Shader stores the factory; it is invoked only when the engine realizes
// the effect.
func (e *EffectsBuilder) Shader(name string, f ShaderFactory) {
	e.effects = append(e.effects, &ShaderEffect{Name: name, Factory: f})
}

func (e *EffectsBuilder) Build() []Effect {
	return append([]Effect(nil), e.effects...)
}
