package renders

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Job is one render request and its outcome.
type Job struct {
	ID         string    `json:"id"`
	FileName   string    `json:"file_name"`
	OutputPath string    `json:"output_path,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	Sequences  int       `json:"sequences"`
	DurationMs int64     `json:"duration_ms"`
	ElapsedMs  int64     `json:"elapsed_ms"`
	SizeBytes  int64     `json:"size_bytes"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	VideoCodec string    `json:"video_codec,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Done reports whether the job reached a terminal status.
func (j *Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Output describes a finished render.
type Output struct {
	Path       string
	DurationMs int64
	ElapsedMs  int64
	SizeBytes  int64
	Width      int
	Height     int
	VideoCodec string
}

func NewID() string {
	return uuid.NewString()
}
