package composition

import (
	"errors"
	"testing"
	"time"
)

type mapResolver map[string]string

func (m mapResolver) Resolve(name string) (string, error) {
	p, ok := m[name]
	if !ok {
		return "", errors.New("not found")
	}
	return p, nil
}

var testAssets = mapResolver{SilenceAsset: "/cache/transparent.png"}

type namedEffect string

func (n namedEffect) EffectName() string { return string(n) }

func (n namedEffect) Configure(in Size) (ConfiguredMatrix, error) {
	return StaticMatrix{Out: in, M: Identity()}, nil
}

func TestBuild_NoSequences(t *testing.T) {
	_, err := NewBuilder(testAssets).Build()
	if !errors.Is(err, ErrNoSequences) {
		t.Fatalf("Build() error = %v, want ErrNoSequences", err)
	}
}

func TestBuild_ExampleScenario(t *testing.T) {
	c, err := New(testAssets, func(b *Builder) {
		b.AddSequence(func(s *SequenceBuilder) {
			s.AddVideoSegment("a.mp4", func(v *SegmentBuilder) {
				v.StartAtMs(0)
				v.EndAtMs(5000)
			})
		})
		b.AddSequence(func(s *SequenceBuilder) {
			s.AddVideoSegment("b.mp4", func(v *SegmentBuilder) {
				v.StartAtMs(1)
				v.EndAtMs(5000)
			})
		})
		b.AddSequence(func(s *SequenceBuilder) {
			s.AddAudioSegment("music.mp3", func(v *SegmentBuilder) {
				v.StartAtMs(0)
				v.EndAtMs(21000)
			})
		})
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if len(c.Sequences) != 3 {
		t.Fatalf("sequences = %d, want 3", len(c.Sequences))
	}

	want := []struct {
		source     string
		kind       Kind
		start, end int64
	}{
		{"a.mp4", KindVideo, 0, 5000},
		{"b.mp4", KindVideo, 1, 5000},
		{"music.mp3", KindAudio, 0, 21000},
	}
	for i, w := range want {
		segs := c.Sequences[i].Segments
		if len(segs) != 1 {
			t.Fatalf("sequence %d has %d segments, want 1", i, len(segs))
		}
		got := segs[0]
		if got.Source != w.source || got.Kind != w.kind {
			t.Errorf("sequence %d = %s/%s, want %s/%s", i, got.Source, got.Kind, w.source, w.kind)
		}
		if !got.Trim.Start.Set || got.Trim.Start.Ms != w.start {
			t.Errorf("sequence %d start = %+v, want %d", i, got.Trim.Start, w.start)
		}
		if !got.Trim.End.Set || got.Trim.End.Ms != w.end {
			t.Errorf("sequence %d end = %+v, want %d", i, got.Trim.End, w.end)
		}
	}
}

func TestBuild_PreservesSegmentOrder(t *testing.T) {
	c, err := New(testAssets, func(b *Builder) {
		b.AddSequence(func(s *SequenceBuilder) {
			s.AddVideoSegment("1.mp4", nil)
			s.AddSilenceSegment(time.Second, "gap")
			s.AddVideoSegment("2.mp4", nil)
		})
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	segs := c.Sequences[0].Segments
	if len(segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(segs))
	}
	if segs[0].Source != "1.mp4" || segs[1].Kind != KindSilence || segs[2].Source != "2.mp4" {
		t.Fatalf("segment order mismatch: %+v", segs)
	}
}

func TestAddSilenceSegment_ZeroDurationSkipped(t *testing.T) {
	c, err := New(testAssets, func(b *Builder) {
		b.AddSequence(func(s *SequenceBuilder) {
			s.AddSilenceSegment(0, "skip-me")
			s.AddVideoSegment("v.mp4", nil)
		})
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	for _, seg := range c.Sequences[0].Segments {
		if seg.Kind == KindSilence {
			t.Fatalf("zero-duration silence present: %+v", seg)
		}
	}
}

func TestAddSilenceSegment_Defaults(t *testing.T) {
	sb := &SequenceBuilder{assets: testAssets}
	sb.AddSilenceSegment(1500*time.Millisecond, "intro")

	seq := sb.Build()
	if len(seq.Segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(seq.Segments))
	}
	seg := seq.Segments[0]
	if seg.Source != "/cache/transparent.png" {
		t.Errorf("Source = %q", seg.Source)
	}
	if seg.ID != "intro" {
		t.Errorf("ID = %q, want intro", seg.ID)
	}
	if seg.FrameRate != SilenceFrameRate || !seg.RemoveAudio || len(seg.Effects) != 0 {
		t.Errorf("silence defaults mismatch: %+v", seg)
	}
	if seg.Duration.Microseconds() != 1500000 {
		t.Errorf("Duration = %v, want 1.5s", seg.Duration)
	}
}

func TestAddSilenceSegment_MissingAssetFailsBuild(t *testing.T) {
	_, err := New(mapResolver{}, func(b *Builder) {
		b.AddSequence(func(s *SequenceBuilder) {
			s.AddSilenceSegment(time.Second, "")
		})
	})
	if !errors.Is(err, ErrAssetUnavailable) {
		t.Fatalf("Build() error = %v, want ErrAssetUnavailable", err)
	}
}

func TestSegment_EffectOrderAndOverlayLast(t *testing.T) {
	text := TextOverlay{Text: "hello", End: time.Second}
	image := ImageOverlay{Path: "logo.png", Scale: 1}

	v := &SegmentBuilder{kind: KindVideo, source: "v.mp4"}
	v.Overlay(text)
	v.Effects(func(e *EffectsBuilder) {
		e.Matrix(namedEffect("first"))
		e.Shader("second", ShaderFactoryFunc(func(ShaderContext) (ShaderProgram, error) {
			t.Fatal("shader factory invoked at build time")
			return nil, nil
		}))
	})
	v.Overlay(image)
	v.Effects(func(e *EffectsBuilder) {
		e.Matrix(namedEffect("third"))
	})

	seg := v.Build()
	names := make([]string, len(seg.Effects))
	for i, e := range seg.Effects {
		names[i] = e.EffectName()
	}
	want := []string{"first", "second", "third", "overlay"}
	if len(names) != len(want) {
		t.Fatalf("effects = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("effects = %v, want %v", names, want)
		}
	}

	overlays := seg.Overlays()
	if len(overlays) != 2 {
		t.Fatalf("overlays = %d, want 2", len(overlays))
	}
	if overlays[0] != Overlay(text) || overlays[1] != Overlay(image) {
		t.Fatalf("overlay order mismatch: %+v", overlays)
	}
}

func TestSegment_NoOverlayNoOverlayEffect(t *testing.T) {
	v := &SegmentBuilder{kind: KindVideo, source: "v.mp4"}
	v.Effects(func(e *EffectsBuilder) { e.Matrix(namedEffect("only")) })

	seg := v.Build()
	if len(seg.Effects) != 1 {
		t.Fatalf("effects = %d, want 1", len(seg.Effects))
	}
	if seg.Overlays() != nil {
		t.Fatalf("Overlays() = %v, want nil", seg.Overlays())
	}
}

func TestSegment_BuildTwiceDoesNotDuplicateOverlay(t *testing.T) {
	v := &SegmentBuilder{kind: KindVideo, source: "v.mp4"}
	v.Overlay(TextOverlay{Text: "x"})

	first := v.Build()
	second := v.Build()
	if len(first.Effects) != 1 || len(second.Effects) != 1 {
		t.Fatalf("effects = %d/%d, want 1/1", len(first.Effects), len(second.Effects))
	}
}

func TestSegment_TrimUnsetVersusZero(t *testing.T) {
	unset := (&SegmentBuilder{}).Build()
	if unset.Trim.Start.Set || unset.Trim.End.Set {
		t.Fatalf("fresh segment has trim bounds: %+v", unset.Trim)
	}

	v := &SegmentBuilder{}
	v.StartAtMs(0)
	zero := v.Build()
	if !zero.Trim.Start.Set || zero.Trim.Start.Ms != 0 {
		t.Fatalf("StartAtMs(0) not recorded: %+v", zero.Trim)
	}
}

func TestTrim_Span(t *testing.T) {
	tr := Trim{Start: Bound{Ms: 1000, Set: true}, End: Bound{Ms: 4000, Set: true}}
	span, ok := tr.Span()
	if !ok || span != 3*time.Second {
		t.Fatalf("Span() = %v, %v, want 3s, true", span, ok)
	}
	if _, ok := (Trim{Start: Bound{Ms: 10, Set: true}}).Span(); ok {
		t.Fatal("Span() ok without end bound")
	}
}

func TestBuild_IdempotentAndIsolated(t *testing.T) {
	b := NewBuilder(testAssets)
	b.AddSequence(func(s *SequenceBuilder) { s.AddVideoSegment("a.mp4", nil) })
	b.AddEffects(func(e *EffectsBuilder) { e.Matrix(namedEffect("global")) })
	b.SetOutputSettings(func(s *SettingsBuilder) { s.Size(Size{Width: 1920, Height: 1080}) })

	first, err := b.Build()
	if err != nil {
		t.Fatalf("first Build() error = %v", err)
	}
	second, err := b.Build()
	if err != nil {
		t.Fatalf("second Build() error = %v", err)
	}
	if len(first.Sequences) != len(second.Sequences) || len(first.Effects) != len(second.Effects) {
		t.Fatalf("builds differ: %+v vs %+v", first, second)
	}

	b.AddSequence(func(s *SequenceBuilder) { s.AddVideoSegment("b.mp4", nil) })
	if len(first.Sequences) != 1 {
		t.Fatalf("built composition mutated by later AddSequence: %d sequences", len(first.Sequences))
	}
	if first.Settings == nil || first.Settings.Size != (Size{Width: 1920, Height: 1080}) {
		t.Fatalf("Settings = %+v", first.Settings)
	}
}

func TestSequence_Looping(t *testing.T) {
	c, err := New(testAssets, func(b *Builder) {
		b.AddSequence(func(s *SequenceBuilder) {
			s.SetLooping(true)
			s.AddAudioSegment("loop.mp3", nil)
		})
	})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if !c.Sequences[0].Looping {
		t.Fatal("Looping = false, want true")
	}
}

func TestShaderEffect_RealizeWithoutFactory(t *testing.T) {
	var nilFunc ShaderFactoryFunc
	for _, f := range []ShaderFactory{nil, nilFunc} {
		e := &EffectsBuilder{}
		e.Shader("chroma", f)
		shader := e.Build()[0].(*ShaderEffect)
		if _, err := shader.Realize(ShaderContext{}); !errors.Is(err, ErrNoShaderFactory) {
			t.Fatalf("Realize() error = %v, want ErrNoShaderFactory", err)
		}
	}
}

func TestShaderEffect_RealizeRecoversPanic(t *testing.T) {
	shader := &ShaderEffect{Name: "boom", Factory: ShaderFactoryFunc(func(ShaderContext) (ShaderProgram, error) {
		panic("gpu gone")
	})}
	prog, err := shader.Realize(ShaderContext{})
	if err == nil || prog != nil {
		t.Fatalf("Realize() = %v, %v; want error", prog, err)
	}
}
