package api

import (
	"time"

	"github.com/heimdex/heimdex-composer/internal/renders"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type StatusResponse struct {
	State     string          `json:"state"`
	LastError string          `json:"last_error,omitempty"`
	Active    int             `json:"active"`
	LastJob   *JobResponse    `json:"last_job,omitempty"`
	FFmpeg    *FFmpegResponse `json:"ffmpeg,omitempty"`
}

type FFmpegResponse struct {
	Version     string `json:"version"`
	VideoCodec  string `json:"video_codec"`
	LastProbeAt string `json:"last_probe_at,omitempty"`
}

// CompositionRequest is the JSON form of a composition. Sources are either
// absolute paths or "asset:<name>" references into the asset store.
type CompositionRequest struct {
	Sequences []SequenceRequest `json:"sequences"`
	Effects   []EffectRequest   `json:"effects,omitempty"`
	Output    *OutputRequest    `json:"output,omitempty"`
}

type SequenceRequest struct {
	Looping  bool             `json:"looping,omitempty"`
	Segments []SegmentRequest `json:"segments"`
}

type SegmentRequest struct {
	Type        string           `json:"type"`
	Source      string           `json:"source,omitempty"`
	ID          string           `json:"id,omitempty"`
	StartMs     *int64           `json:"start_ms,omitempty"`
	EndMs       *int64           `json:"end_ms,omitempty"`
	DurationMs  int64            `json:"duration_ms,omitempty"`
	FrameRate   int              `json:"frame_rate,omitempty"`
	RemoveAudio bool             `json:"remove_audio,omitempty"`
	Effects     []EffectRequest  `json:"effects,omitempty"`
	Overlays    []OverlayRequest `json:"overlays,omitempty"`
}

type EffectRequest struct {
	Type       string  `json:"type"`
	X          float64 `json:"x,omitempty"`
	Y          float64 `json:"y,omitempty"`
	ScaleX     float64 `json:"scale_x,omitempty"`
	ScaleY     float64 `json:"scale_y,omitempty"`
	Width      int     `json:"width,omitempty"`
	Height     int     `json:"height,omitempty"`
	Layout     string  `json:"layout,omitempty"`
	Color      string  `json:"color,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Blend      float64 `json:"blend,omitempty"`
}

type OverlayRequest struct {
	Type     string  `json:"type"`
	Text     string  `json:"text,omitempty"`
	FontFile string  `json:"font_file,omitempty"`
	FontSize int     `json:"font_size,omitempty"`
	Color    string  `json:"color,omitempty"`
	Source   string  `json:"source,omitempty"`
	Scale    float64 `json:"scale,omitempty"`
	X        float64 `json:"x,omitempty"`
	Y        float64 `json:"y,omitempty"`
	StartMs  int64   `json:"start_ms,omitempty"`
	EndMs    int64   `json:"end_ms,omitempty"`
}

type OutputRequest struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type RenderRequest struct {
	FileName    string              `json:"file_name,omitempty"`
	Demo        bool                `json:"demo,omitempty"`
	Composition *CompositionRequest `json:"composition,omitempty"`
}

type EDLRequest struct {
	ProjectName string             `json:"project_name,omitempty"`
	FrameRate   float64            `json:"frame_rate,omitempty"`
	OutputDir   string             `json:"output_dir,omitempty"`
	Composition CompositionRequest `json:"composition"`
}

type JobResponse struct {
	ID         string `json:"id"`
	FileName   string `json:"file_name"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	Sequences  int    `json:"sequences"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	ElapsedMs  int64  `json:"elapsed_ms,omitempty"`
	SizeBytes  int64  `json:"size_bytes,omitempty"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	VideoCodec string `json:"video_codec,omitempty"`
	FileURL    string `json:"file_url,omitempty"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type AssetsResponse struct {
	Assets []string `json:"assets"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func JobToResponse(j *renders.Job) JobResponse {
	resp := JobResponse{
		ID:         j.ID,
		FileName:   j.FileName,
		Status:     j.Status,
		Error:      j.Error,
		Sequences:  j.Sequences,
		DurationMs: j.DurationMs,
		ElapsedMs:  j.ElapsedMs,
		SizeBytes:  j.SizeBytes,
		Width:      j.Width,
		Height:     j.Height,
		VideoCodec: j.VideoCodec,
		CreatedAt:  j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  j.UpdatedAt.Format(time.RFC3339),
	}
	if j.Status == renders.StatusCompleted {
		resp.FileURL = "/renders/" + j.ID + "/file"
	}
	return resp
}
