// Package engine adapts the external transformation engine. The production
// engine drives ffmpeg as a subprocess: it probes the inputs, compiles a
// composition into a filter graph, encodes the output file and reports
// completion or failure to its listeners.
package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/heimdex/heimdex-composer/internal/composition"
)

var ErrAlreadyStarted = errors.New("engine already started")

// Engine renders one composition per instance.
type Engine interface {
	AddListener(l Listener)
	RemoveAllListeners()
	// Start returns immediately; the outcome is delivered to listeners.
	Start(comp *composition.Composition, outputPath string) error
}

// Canceler is implemented by engines that can abort a running export.
type Canceler interface {
	Cancel()
}

type Listener interface {
	OnCompleted(comp *composition.Composition, result ExportResult)
	OnError(comp *composition.Composition, result ExportResult, err *ExportError)
}

type ExportResult struct {
	OutputPath    string        `json:"output_path"`
	Duration      time.Duration `json:"duration"`
	Elapsed       time.Duration `json:"elapsed"`
	FileSizeBytes int64         `json:"file_size_bytes"`
	VideoCodec    string        `json:"video_codec,omitempty"`
}

const (
	CodeInvalidComposition = "invalid_composition"
	CodeProbeFailed        = "probe_failed"
	CodeEncodeFailed       = "encode_failed"
	CodeTimeout            = "timeout"
	CodeCancelled          = "cancelled"
	CodeOutputMissing      = "output_missing"
)

// ExportError is the engine's diagnostic for a failed export.
type ExportError struct {
	Code       string
	Message    string
	ExitCode   int
	StderrTail string
	Err        error
}

func (e *ExportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ExportError) Unwrap() error { return e.Err }

// listenerSet is a mutex-guarded listener list shared by engine
// implementations.
type listenerSet struct {
	mu        sync.Mutex
	listeners []Listener
}

func (s *listenerSet) AddListener(l Listener) {
	s.mu.Lock()
	s.listeners = append(s.listeners, l)
	s.mu.Unlock()
}

func (s *listenerSet) RemoveAllListeners() {
	s.mu.Lock()
	s.listeners = nil
	s.mu.Unlock()
}

func (s *listenerSet) snapshot() []Listener {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Listener(nil), s.listeners...)
}

func (s *listenerSet) notifyCompleted(comp *composition.Composition, result ExportResult) {
	for _, l := range s.snapshot() {
		l.OnCompleted(comp, result)
	}
}

func (s *listenerSet) notifyError(comp *composition.Composition, result ExportResult, err *ExportError) {
	for _, l := range s.snapshot() {
		l.OnError(comp, result, err)
	}
}
