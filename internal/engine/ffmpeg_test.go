package engine

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
)

type fakeProber struct {
	results map[string]*ProbeResult
	err     error
}

func (p *fakeProber) Probe(_ context.Context, path string) (*ProbeResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	r, ok := p.results[path]
	if !ok {
		return nil, errors.New("unknown input " + path)
	}
	return r, nil
}

type outcome struct {
	result ExportResult
	err    *ExportError
}

type chanListener struct {
	ch chan outcome
}

func newChanListener() *chanListener {
	return &chanListener{ch: make(chan outcome, 4)}
}

func (l *chanListener) OnCompleted(_ *composition.Composition, r ExportResult) {
	l.ch <- outcome{result: r}
}

func (l *chanListener) OnError(_ *composition.Composition, r ExportResult, err *ExportError) {
	l.ch <- outcome{result: r, err: err}
}

func (l *chanListener) wait(t *testing.T) outcome {
	t.Helper()
	select {
	case o := <-l.ch:
		return o
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for listener")
		return outcome{}
	}
}

func singleClip(t *testing.T) *composition.Composition {
	t.Helper()
	return mustBuild(t, func(b *composition.Builder) {
		b.AddSequence(func(s *composition.SequenceBuilder) {
			s.AddVideoSegment("video.mp4", func(v *composition.SegmentBuilder) {
				v.EndAtMs(2000)
			})
		})
	})
}

func lookBinary(t *testing.T, name string) string {
	t.Helper()
	p, err := exec.LookPath(name)
	if err != nil {
		t.Skipf("%s not on PATH: %v", name, err)
	}
	return p
}

func TestFFmpeg_CompletedNotifiesListeners(t *testing.T) {
	bin := lookBinary(t, "true")
	out := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(out, []byte("mp4"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := NewFFmpeg(Config{Binary: bin, Prober: &fakeProber{results: testProbes()}})
	l := newChanListener()
	f.AddListener(l)

	if err := f.Start(singleClip(t), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	o := l.wait(t)
	if o.err != nil {
		t.Fatalf("unexpected export error: %v", o.err)
	}
	if o.result.OutputPath != out {
		t.Errorf("OutputPath = %q, want %q", o.result.OutputPath, out)
	}
	if o.result.FileSizeBytes != 3 {
		t.Errorf("FileSizeBytes = %d, want 3", o.result.FileSizeBytes)
	}
	if o.result.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", o.result.Duration)
	}
	if o.result.VideoCodec != PreferredVideoCodec {
		t.Errorf("VideoCodec = %q, want %q", o.result.VideoCodec, PreferredVideoCodec)
	}
}

func TestFFmpeg_NonZeroExitIsEncodeFailure(t *testing.T) {
	bin := lookBinary(t, "false")
	out := filepath.Join(t.TempDir(), "out.mp4")

	f := NewFFmpeg(Config{Binary: bin, Prober: &fakeProber{results: testProbes()}})
	l := newChanListener()
	f.AddListener(l)

	if err := f.Start(singleClip(t), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	o := l.wait(t)
	if o.err == nil {
		t.Fatal("expected export error")
	}
	if o.err.Code != CodeEncodeFailed {
		t.Errorf("Code = %q, want %q", o.err.Code, CodeEncodeFailed)
	}
	if o.err.ExitCode != 1 {
		t.Errorf("ExitCode = %d, want 1", o.err.ExitCode)
	}
}

func TestFFmpeg_MissingOutput(t *testing.T) {
	bin := lookBinary(t, "true")
	out := filepath.Join(t.TempDir(), "never-written.mp4")

	f := NewFFmpeg(Config{Binary: bin, Prober: &fakeProber{results: testProbes()}})
	l := newChanListener()
	f.AddListener(l)

	if err := f.Start(singleClip(t), out); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	o := l.wait(t)
	if o.err == nil || o.err.Code != CodeOutputMissing {
		t.Fatalf("export error = %v, want %s", o.err, CodeOutputMissing)
	}
}

func TestFFmpeg_ProbeFailure(t *testing.T) {
	probeErr := errors.New("unreadable")
	f := NewFFmpeg(Config{Binary: "ffmpeg", Prober: &fakeProber{err: probeErr}})
	l := newChanListener()
	f.AddListener(l)

	if err := f.Start(singleClip(t), filepath.Join(t.TempDir(), "out.mp4")); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	o := l.wait(t)
	if o.err == nil || o.err.Code != CodeProbeFailed {
		t.Fatalf("export error = %v, want %s", o.err, CodeProbeFailed)
	}
	if !errors.Is(o.err, probeErr) {
		t.Errorf("errors.Is(export error, probeErr) = false")
	}
}

func TestFFmpeg_SingleUse(t *testing.T) {
	f := NewFFmpeg(Config{Binary: "ffmpeg", Prober: &fakeProber{err: errors.New("x")}})
	comp := singleClip(t)
	dir := t.TempDir()

	if err := f.Start(comp, filepath.Join(dir, "a.mp4")); err != nil {
		t.Fatalf("first Start() error = %v", err)
	}
	if err := f.Start(comp, filepath.Join(dir, "b.mp4")); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestFFmpeg_StartWithoutProber(t *testing.T) {
	f := NewFFmpeg(Config{})
	if err := f.Start(singleClip(t), filepath.Join(t.TempDir(), "a.mp4")); err == nil {
		t.Fatal("expected error without prober")
	}
}

func TestFFmpeg_RemovedListenerNotCalled(t *testing.T) {
	f := NewFFmpeg(Config{Binary: "ffmpeg", Prober: &fakeProber{err: errors.New("x")}})
	l := newChanListener()
	f.AddListener(l)
	f.RemoveAllListeners()

	f.notifyError(nil, ExportResult{}, &ExportError{Code: CodeCancelled})
	select {
	case o := <-l.ch:
		t.Fatalf("removed listener received %+v", o)
	default:
	}
}

func TestRunResult_IsSuccess(t *testing.T) {
	tests := []struct {
		exitCode int
		want     bool
	}{
		{0, true},
		{1, false},
		{-1, false},
		{127, false},
	}
	for _, tt := range tests {
		r := RunResult{ExitCode: tt.exitCode}
		if got := r.IsSuccess(); got != tt.want {
			t.Errorf("RunResult{ExitCode: %d}.IsSuccess() = %v, want %v", tt.exitCode, got, tt.want)
		}
	}
}

func TestExportError_Error(t *testing.T) {
	inner := errors.New("boom")
	e := &ExportError{Code: CodeEncodeFailed, Message: "ffmpeg exited 1", Err: inner}
	if got := e.Error(); got != "encode_failed: ffmpeg exited 1: boom" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(e, inner) {
		t.Error("Unwrap does not expose inner error")
	}

	bare := &ExportError{Code: CodeTimeout, Message: "too slow"}
	if got := bare.Error(); got != "timeout: too slow" {
		t.Errorf("Error() = %q", got)
	}
}

func TestLimitedWriter_KeepsOnlyTail(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, limit: 10}

	lw.Write([]byte("hello"))
	if buf.String() != "hello" {
		t.Errorf("after short write got %q, want %q", buf.String(), "hello")
	}

	lw.Write([]byte(" world of test data"))
	got := buf.String()
	if len(got) > 10 {
		t.Errorf("buffer length %d exceeds limit 10", len(got))
	}
	if want := " test data"; got != want {
		t.Errorf("after overflow got %q, want %q", got, want)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		input  string
		maxLen int
		want   string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello world", 5, "...world"},
	}
	for _, tt := range tests {
		if got := truncate(tt.input, tt.maxLen); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.maxLen, got, tt.want)
		}
	}
}

func TestCountInputs(t *testing.T) {
	args := []string{"-y", "-i", "a.mp4", "-t", "1", "-i", "b.mp4"}
	if got := countInputs(args); got != 2 {
		t.Errorf("countInputs() = %d, want 2", got)
	}
}

func TestLengths(t *testing.T) {
	p := &fakeProber{results: map[string]*ProbeResult{
		"/media/clip.mp4": {Duration: 7 * time.Second},
	}}
	length := Lengths(p, time.Second)

	d, err := length(composition.Segment{Source: "file:///media/clip.mp4"})
	if err != nil {
		t.Fatalf("length() error = %v", err)
	}
	if d != 7*time.Second {
		t.Errorf("length() = %v, want 7s", d)
	}
	if _, err := length(composition.Segment{Source: "/media/other.mp4"}); err == nil {
		t.Error("expected error for unknown source")
	}
}
