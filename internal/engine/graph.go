package engine

import (
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
)

const (
	DefaultFrameRate  = 30
	DefaultSampleRate = 48000
)

var DefaultSize = composition.Size{Width: 1920, Height: 1080}

type GraphOptions struct {
	DefaultSize composition.Size
	FrameRate   int
	SampleRate  int
	Logger      *slog.Logger
}

type Input struct {
	Path string
	Args []string // input options placed before -i
}

// Graph is a composition compiled into ffmpeg inputs and a filter_complex.
type Graph struct {
	Inputs    []Input
	Filter    string
	VideoOut  string // empty when the composition has no picture
	AudioOut  string
	Duration  time.Duration
	Size      composition.Size
	FrameRate int
}

// Args returns the full ffmpeg argument list writing to outputPath.
func (g *Graph) Args(outputPath, videoCodec string) []string {
	args := []string{"-hide_banner", "-nostdin", "-y"}
	for _, in := range g.Inputs {
		args = append(args, in.Args...)
		args = append(args, "-i", in.Path)
	}
	args = append(args, "-filter_complex", g.Filter)
	if g.VideoOut != "" {
		args = append(args, "-map", "["+g.VideoOut+"]", "-c:v", videoCodec, "-r", fmt.Sprint(g.FrameRate))
		if videoCodec == "libx264" {
			args = append(args, "-preset", "veryfast")
		}
	}
	if g.AudioOut != "" {
		args = append(args, "-map", "["+g.AudioOut+"]", "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args, "-t", seconds(g.Duration), "-movflags", "+faststart", outputPath)
	return args
}

// BuildGraph compiles comp. probes must hold a result for every segment
// source. Sequences are layered bottom to top in declared order; looping
// sequences repeat until the longest non-looping sequence ends.
func BuildGraph(comp *composition.Composition, probes map[string]*ProbeResult, opts GraphOptions) (*Graph, error) {
	if comp == nil || len(comp.Sequences) == 0 {
		return nil, composition.ErrNoSequences
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.DefaultSize.IsZero() {
		opts.DefaultSize = DefaultSize
	}

	b := &graphBuilder{probes: probes, opts: opts}
	return b.build(comp)
}

type graphBuilder struct {
	probes map[string]*ProbeResult
	opts   GraphOptions
	size   composition.Size
	w      graphWriter
	inputs []Input
}

type plannedSequence struct {
	segments []composition.Segment
	durs     []time.Duration
	hasVideo bool
}

func (b *graphBuilder) build(comp *composition.Composition) (*Graph, error) {
	b.size = b.outputSize(comp)

	plans := make([]plannedSequence, len(comp.Sequences))
	var total, loopingMax time.Duration
	for i, seq := range comp.Sequences {
		if len(seq.Segments) == 0 {
			return nil, fmt.Errorf("sequence %d has no segments", i)
		}
		p := plannedSequence{segments: seq.Segments}
		var seqDur time.Duration
		for j, seg := range seq.Segments {
			d, err := b.segmentDuration(seg)
			if err != nil {
				return nil, fmt.Errorf("sequence %d segment %d: %w", i, j, err)
			}
			p.durs = append(p.durs, d)
			seqDur += d
			if seg.Kind != composition.KindAudio {
				p.hasVideo = true
			}
		}
		if seq.Looping {
			loopingMax = max(loopingMax, seqDur)
		} else {
			total = max(total, seqDur)
		}
		plans[i] = p
	}
	if total == 0 {
		total = loopingMax
	}

	for i, seq := range comp.Sequences {
		if seq.Looping {
			plans[i] = repeatTo(plans[i], total)
		}
	}

	g := &Graph{Duration: total, Size: b.size, FrameRate: b.opts.FrameRate}

	var videoOuts, audioOuts []string
	for i, p := range plans {
		v, a, err := b.sequence(i, p, total)
		if err != nil {
			return nil, err
		}
		if v != "" {
			videoOuts = append(videoOuts, v)
		}
		audioOuts = append(audioOuts, a)
	}

	if len(videoOuts) > 0 {
		base := "base"
		b.w.add(nil, fmt.Sprintf("color=c=black:s=%dx%d:r=%d:d=%s,format=rgba", b.size.Width, b.size.Height, b.opts.FrameRate, seconds(total)), base)
		cur := base
		for i, v := range videoOuts {
			next := fmt.Sprintf("layer%d", i)
			b.w.add([]string{cur, v}, "overlay=eof_action=pass:format=auto", next)
			cur = next
		}

		c := &chain{w: &b.w, cur: cur}
		if _, err := b.applyEffects(c, comp.Effects, b.size); err != nil {
			return nil, fmt.Errorf("composition effects: %w", err)
		}
		c.apply(fmt.Sprintf("scale=%d:%d", b.size.Width, b.size.Height), "format=yuv420p")
		b.w.rename(c.cur, "outv")
		g.VideoOut = "outv"
	}

	if len(audioOuts) == 1 {
		b.w.add(audioOuts, "anull", "outa")
	} else {
		// normalize=0 keeps each track at its own level; silent tracks must not
		// attenuate the audible ones.
		b.w.add(audioOuts, fmt.Sprintf("amix=inputs=%d:duration=longest:dropout_transition=0:normalize=0,atrim=duration=%s", len(audioOuts), seconds(total)), "outa")
	}
	g.AudioOut = "outa"

	g.Inputs = b.inputs
	g.Filter = b.w.String()
	return g, nil
}

func (b *graphBuilder) outputSize(comp *composition.Composition) composition.Size {
	if comp.Settings != nil && !comp.Settings.Size.IsZero() {
		return comp.Settings.Size
	}
	for _, seq := range comp.Sequences {
		for _, seg := range seq.Segments {
			if seg.Kind != composition.KindVideo {
				continue
			}
			if p := b.probes[seg.Source]; p != nil && p.HasVideo && p.Width > 0 && p.Height > 0 {
				return composition.Size{Width: p.Width, Height: p.Height}
			}
		}
	}
	return b.opts.DefaultSize
}

func (b *graphBuilder) segmentDuration(seg composition.Segment) (time.Duration, error) {
	if isStill(seg) {
		if seg.Duration <= 0 {
			return 0, fmt.Errorf("still image %s needs a duration", sourceName(seg.Source))
		}
		return seg.Duration, nil
	}

	if span, ok := seg.Trim.Span(); ok {
		if span <= 0 {
			return 0, fmt.Errorf("trim end %dms is not after start %dms", seg.Trim.End.Ms, seg.Trim.Start.Ms)
		}
		return span, nil
	}
	if seg.Duration > 0 {
		return seg.Duration, nil
	}

	p := b.probes[seg.Source]
	if p == nil {
		return 0, fmt.Errorf("no probe for %s", sourceName(seg.Source))
	}
	d := p.Duration - time.Duration(seg.Trim.Start.Ms)*time.Millisecond
	if d <= 0 {
		return 0, fmt.Errorf("trim start %dms is beyond source duration %s", seg.Trim.Start.Ms, p.Duration)
	}
	return d, nil
}

func repeatTo(p plannedSequence, total time.Duration) plannedSequence {
	var seqDur time.Duration
	for _, d := range p.durs {
		seqDur += d
	}
	if seqDur <= 0 || seqDur >= total {
		return p
	}
	reps := int(math.Ceil(float64(total) / float64(seqDur)))
	out := plannedSequence{hasVideo: p.hasVideo}
	for i := 0; i < reps; i++ {
		out.segments = append(out.segments, p.segments...)
		out.durs = append(out.durs, p.durs...)
	}
	return out
}

// sequence emits one track and returns its video (possibly empty) and audio
// labels.
func (b *graphBuilder) sequence(q int, p plannedSequence, total time.Duration) (string, string, error) {
	var pads []string
	for n, seg := range p.segments {
		d := p.durs[n]
		k := b.addInput(seg, d)
		probe := b.probes[seg.Source]
		if probe == nil {
			return "", "", fmt.Errorf("no probe for %s", sourceName(seg.Source))
		}

		if p.hasVideo {
			v := fmt.Sprintf("v%d_%d", q, n)
			if seg.Kind != composition.KindAudio && probe.HasVideo {
				c := &chain{w: &b.w, cur: fmt.Sprintf("%d:v", k)}
				in := composition.Size{Width: probe.Width, Height: probe.Height}
				if _, err := b.applyEffects(c, seg.Effects, in); err != nil {
					return "", "", fmt.Errorf("sequence %d segment %d: %w", q, n, err)
				}
				c.apply(
					fmt.Sprintf("scale=%d:%d", b.size.Width, b.size.Height),
					"setsar=1",
					fmt.Sprintf("fps=%d", b.opts.FrameRate),
					"format=rgba",
					"tpad=stop=-1:stop_mode=clone",
					"trim=duration="+seconds(d),
					"setpts=PTS-STARTPTS",
				)
				b.w.rename(c.cur, v)
			} else {
				b.w.add(nil, fmt.Sprintf("color=c=black@0.0:s=%dx%d:r=%d:d=%s,format=rgba", b.size.Width, b.size.Height, b.opts.FrameRate, seconds(d)), v)
			}
			pads = append(pads, v)
		}

		a := fmt.Sprintf("a%d_%d", q, n)
		format := fmt.Sprintf("aresample=%d,aformat=sample_fmts=fltp:channel_layouts=stereo,apad,atrim=duration=%s,asetpts=PTS-STARTPTS", b.opts.SampleRate, seconds(d))
		if seg.Kind != composition.KindSilence && !seg.RemoveAudio && probe.HasAudio {
			b.w.add([]string{fmt.Sprintf("%d:a", k)}, format, a)
		} else {
			b.w.add(nil, fmt.Sprintf("anullsrc=r=%d:cl=stereo,", b.opts.SampleRate)+format, a)
		}
		pads = append(pads, a)
	}

	sv := fmt.Sprintf("seqv%d", q)
	sa := fmt.Sprintf("seqa%d", q)
	n := len(p.segments)
	if p.hasVideo {
		tmpV, tmpA := sv+"c", sa+"c"
		b.w.addMulti(pads, fmt.Sprintf("concat=n=%d:v=1:a=1", n), []string{tmpV, tmpA})
		b.w.add([]string{tmpV}, "trim=duration="+seconds(total)+",setpts=PTS-STARTPTS", sv)
		b.w.add([]string{tmpA}, "atrim=duration="+seconds(total)+",asetpts=PTS-STARTPTS", sa)
		return sv, sa, nil
	}
	tmpA := sa + "c"
	b.w.add(pads, fmt.Sprintf("concat=n=%d:v=0:a=1", n), tmpA)
	b.w.add([]string{tmpA}, "atrim=duration="+seconds(total)+",asetpts=PTS-STARTPTS", sa)
	return "", sa, nil
}

func (b *graphBuilder) addInput(seg composition.Segment, d time.Duration) int {
	in := Input{Path: sourcePath(seg.Source)}
	if isStill(seg) {
		fps := seg.FrameRate
		if fps <= 0 {
			fps = b.opts.FrameRate
		}
		in.Args = []string{"-loop", "1", "-framerate", fmt.Sprint(fps), "-t", seconds(d)}
	} else {
		if seg.Trim.Start.Set && seg.Trim.Start.Ms > 0 {
			in.Args = append(in.Args, "-ss", seconds(time.Duration(seg.Trim.Start.Ms)*time.Millisecond))
		}
		in.Args = append(in.Args, "-t", seconds(d))
	}
	b.inputs = append(b.inputs, in)
	return len(b.inputs) - 1
}

// applyEffects realizes effects in order on c and returns the final frame
// size.
func (b *graphBuilder) applyEffects(c *chain, effects []composition.Effect, in composition.Size) (composition.Size, error) {
	size := in
	for _, e := range effects {
		switch e := e.(type) {
		case *composition.OverlayEffect:
			if err := b.applyOverlays(c, e.Overlays, size); err != nil {
				return size, err
			}
		case *composition.ShaderEffect:
			prog, err := e.Realize(composition.ShaderContext{
				OutputSize: b.size,
				FrameRate:  b.opts.FrameRate,
				Logger:     b.opts.Logger,
			})
			if err != nil {
				return size, fmt.Errorf("%s: %w", e.EffectName(), err)
			}
			out, err := prog.Configure(size)
			if err != nil {
				prog.Release()
				return size, fmt.Errorf("%s: %w", e.EffectName(), err)
			}
			c.apply(prog.Filter())
			if err := prog.Release(); err != nil && b.opts.Logger != nil {
				b.opts.Logger.Warn("shader release failed", "effect", e.EffectName(), "error", err)
			}
			if out != size {
				c.apply(fmt.Sprintf("scale=%d:%d", out.Width, out.Height))
			}
			size = out
		case composition.MatrixTransformation:
			cm, err := e.Configure(size)
			if err != nil {
				return size, fmt.Errorf("%s: %w", e.EffectName(), err)
			}
			out := cm.OutputSize()
			m, err := cm.Matrix(0)
			if err != nil {
				return size, fmt.Errorf("%s: %w", e.EffectName(), err)
			}
			f, err := matrixFilter(m, size, out)
			if err != nil {
				return size, fmt.Errorf("%s: %w", e.EffectName(), err)
			}
			c.apply(f)
			size = out
		default:
			return size, fmt.Errorf("unsupported effect %q", e.EffectName())
		}
	}
	return size, nil
}

func (b *graphBuilder) applyOverlays(c *chain, overlays []composition.Overlay, size composition.Size) error {
	for _, o := range overlays {
		start, end := o.Lifetime()
		enable := enableExpr(start, end)
		switch o := o.(type) {
		case composition.TextOverlay:
			opts := []string{"text=" + escapeValue(strings.ReplaceAll(o.Text, "%", `\%`))}
			if o.FontFile != "" {
				opts = append(opts, "fontfile="+escapeValue(o.FontFile))
			}
			fontSize := o.FontSize
			if fontSize <= 0 {
				fontSize = 48
			}
			color := o.Color
			if color == "" {
				color = "white"
			}
			x, y := ndcToPixel(o.X, o.Y, size)
			opts = append(opts,
				fmt.Sprintf("fontsize=%d", fontSize),
				"fontcolor="+escapeValue(color),
				fmt.Sprintf("x=%d", x),
				fmt.Sprintf("y=%d", y),
			)
			if enable != "" {
				opts = append(opts, "enable="+enable)
			}
			c.apply("drawtext=" + strings.Join(opts, ":"))
		case composition.ImageOverlay:
			scale := o.Scale
			if scale <= 0 {
				scale = 1
			}
			src := b.w.label("ov")
			b.w.add(nil, fmt.Sprintf("movie=%s,format=rgba,scale=iw*%.4f:ih*%.4f", escapeValue(sourcePath(o.Path)), scale, scale), src)
			x, y := ndcToPixel(o.X, o.Y, size)
			filter := fmt.Sprintf("overlay=x=%d:y=%d:format=auto", x, y)
			if enable != "" {
				filter += ":enable=" + enable
			}
			next := b.w.label("t")
			b.w.add([]string{c.cur, src}, filter, next)
			c.cur = next
		default:
			return fmt.Errorf("unsupported overlay %T", o)
		}
	}
	return nil
}

// matrixFilter renders an axis-aligned NDC transform on a frame resized from
// in to out. Content outside the frame is cropped; uncovered area is
// transparent.
func matrixFilter(m composition.Matrix, in, out composition.Size) (string, error) {
	if !m.AxisAligned() {
		return "", fmt.Errorf("matrix with rotation or shear is not supported")
	}
	if out.IsZero() {
		return "", fmt.Errorf("invalid output size %dx%d", out.Width, out.Height)
	}

	var stages []string
	if in != out {
		stages = append(stages, fmt.Sprintf("scale=%d:%d", out.Width, out.Height))
	}

	x0, y0 := m.MapPoint(-1, -1)
	x1, y1 := m.MapPoint(1, 1)
	flipH, flipV := x1 < x0, y1 < y0
	if flipH {
		x0, x1 = x1, x0
	}
	if flipV {
		y0, y1 = y1, y0
	}

	W, H := out.Width, out.Height
	left := int(math.Round((x0 + 1) / 2 * float64(W)))
	right := int(math.Round((x1 + 1) / 2 * float64(W)))
	top := int(math.Round((1 - y1) / 2 * float64(H)))
	bottom := int(math.Round((1 - y0) / 2 * float64(H)))

	if left == 0 && right == W && top == 0 && bottom == H && !flipH && !flipV {
		return strings.Join(stages, ","), nil
	}

	w, h := right-left, bottom-top
	vx0, vx1 := max(left, 0), min(right, W)
	vy0, vy1 := max(top, 0), min(bottom, H)
	if w <= 0 || h <= 0 || vx1 <= vx0 || vy1 <= vy0 {
		stages = append(stages, "format=rgba", "colorchannelmixer=aa=0")
		return strings.Join(stages, ","), nil
	}

	stages = append(stages, "format=rgba", fmt.Sprintf("scale=%d:%d", w, h))
	if flipH {
		stages = append(stages, "hflip")
	}
	if flipV {
		stages = append(stages, "vflip")
	}
	if vx0 != left || vx1 != right || vy0 != top || vy1 != bottom {
		stages = append(stages, fmt.Sprintf("crop=%d:%d:%d:%d", vx1-vx0, vy1-vy0, vx0-left, vy0-top))
	}
	stages = append(stages, fmt.Sprintf("pad=%d:%d:%d:%d:color=black@0", W, H, vx0, vy0))
	return strings.Join(stages, ","), nil
}

func ndcToPixel(x, y float64, size composition.Size) (int, int) {
	px := int(math.Round((x + 1) / 2 * float64(size.Width)))
	py := int(math.Round((1 - y) / 2 * float64(size.Height)))
	return px, py
}

func enableExpr(start, end time.Duration) string {
	switch {
	case end > 0:
		return fmt.Sprintf("'between(t,%s,%s)'", seconds(start), seconds(end))
	case start > 0:
		return fmt.Sprintf("'gte(t,%s)'", seconds(start))
	default:
		return ""
	}
}

func isStill(seg composition.Segment) bool {
	if seg.Kind == composition.KindSilence {
		return true
	}
	switch strings.ToLower(filepath.Ext(sourcePath(seg.Source))) {
	case ".png", ".jpg", ".jpeg", ".webp", ".bmp":
		return true
	}
	return false
}

// sourcePath turns a file:// URI into a path; other sources pass through.
func sourcePath(src string) string {
	if p, ok := strings.CutPrefix(src, "file://"); ok {
		return p
	}
	return src
}

func sourceName(src string) string {
	return filepath.Base(sourcePath(src))
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}

// escapeValue escapes a filter option value for both the option and the
// filtergraph parsing levels.
func escapeValue(s string) string {
	opt := strings.NewReplacer(`\`, `\\`, `'`, `\'`, `:`, `\:`).Replace(s)
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`, `[`, `\[`, `]`, `\]`, `,`, `\,`, `;`, `\;`).Replace(opt)
}

type graphWriter struct {
	stmts []string
	n     int
}

func (w *graphWriter) label(prefix string) string {
	w.n++
	return fmt.Sprintf("%s%d", prefix, w.n)
}

func (w *graphWriter) add(inputs []string, filter, out string) {
	w.addMulti(inputs, filter, []string{out})
}

func (w *graphWriter) addMulti(inputs []string, filter string, outs []string) {
	var sb strings.Builder
	for _, in := range inputs {
		sb.WriteString("[" + in + "]")
	}
	sb.WriteString(filter)
	for _, out := range outs {
		sb.WriteString("[" + out + "]")
	}
	w.stmts = append(w.stmts, sb.String())
}

// rename routes label from onto to, adding a passthrough when they differ.
func (w *graphWriter) rename(from, to string) {
	if from == to {
		return
	}
	if strings.Contains(from, ":") {
		w.add([]string{from}, "null", to)
		return
	}
	suffix := "[" + from + "]"
	for i := len(w.stmts) - 1; i >= 0; i-- {
		if strings.HasSuffix(w.stmts[i], suffix) {
			w.stmts[i] = strings.TrimSuffix(w.stmts[i], suffix) + "[" + to + "]"
			return
		}
	}
	w.add([]string{from}, "null", to)
}

func (w *graphWriter) String() string {
	return strings.Join(w.stmts, ";")
}

// chain threads a single video stream through successive filters.
type chain struct {
	w   *graphWriter
	cur string
}

func (c *chain) apply(filters ...string) {
	var parts []string
	for _, f := range filters {
		if f != "" {
			parts = append(parts, f)
		}
	}
	if len(parts) == 0 {
		return
	}
	next := c.w.label("t")
	c.w.add([]string{c.cur}, strings.Join(parts, ","), next)
	c.cur = next
}
