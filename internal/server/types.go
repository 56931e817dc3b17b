// Package server provides the HTTP API for video generation jobs.
// It includes handlers, middleware, routes, and DTOs separated from domain types.
package server

import (
	"time"

	"github.com/maauso/videogen-lro/internal/job"
	"github.com/maauso/videogen-lro/internal/observability"
)

// CreateVideoRequest is the HTTP request body for creating a new video job.
type CreateVideoRequest struct {
	// Prompt describes the video to generate.
	Prompt string `json:"prompt" validate:"required,max=4096"`
	// NegativePrompt describes what to avoid.
	NegativePrompt string `json:"negative_prompt,omitempty" validate:"omitempty,max=4096"`
	// AspectRatio is "16:9" or "9:16"; defaults to "16:9".
	AspectRatio string `json:"aspect_ratio,omitempty" validate:"omitempty,oneof=16:9 9:16"`
	// PersonGeneration controls whether people may appear.
	PersonGeneration string `json:"person_generation,omitempty" validate:"omitempty,oneof=allow_all allow_adult dont_allow"`
	// DurationSeconds is the clip length; defaults to 8.
	DurationSeconds int `json:"duration_seconds,omitempty" validate:"omitempty,min=1,max=60"`
	// Strategy selects how the operation is polled; defaults to the server setting.
	Strategy string `json:"strategy,omitempty" validate:"omitempty,oneof=reschedule fixed-rate fixed_rate blocking stream"`
}

// CreateVideoResponse is the HTTP response after creating a job.
type CreateVideoResponse struct {
	// ID is the unique identifier for the created job.
	ID string `json:"id"`
	// Status is the initial job status.
	Status string `json:"status"`
	// Strategy is the poll strategy the job will use.
	Strategy string `json:"strategy"`
}

// VideoResponse is the HTTP response for a video job.
type VideoResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Prompt   string `json:"prompt"`
	Strategy string `json:"strategy"`
	// Operation is the remote operation name once submitted.
	Operation string `json:"operation,omitempty"`
	// Checks is the number of status checks issued while polling.
	Checks     int      `json:"checks"`
	Advisories []string `json:"advisories,omitempty"`
	ErrorKind  string   `json:"error_kind,omitempty"`
	Error      string   `json:"error,omitempty"`
	// ContentURL is the download path on this server (if completed).
	ContentURL string `json:"content_url,omitempty"`
	// VideoURL is the S3 URL of the video (if uploaded).
	VideoURL    string     `json:"video_url,omitempty"`
	ContentType string     `json:"content_type,omitempty"`
	Size        int64      `json:"size,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ListVideosResponse is the HTTP response for listing jobs.
type ListVideosResponse struct {
	Videos []VideoResponse `json:"videos"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// MetricsResponse is the HTTP response for GET /metrics.
type MetricsResponse struct {
	Metrics []observability.Point `json:"metrics"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}

func newVideoResponse(j *job.Job) VideoResponse {
	resp := VideoResponse{
		ID:          j.ID,
		Status:      string(j.Status),
		Prompt:      j.Prompt,
		Strategy:    j.Strategy,
		Operation:   j.OperationHandle,
		Checks:      j.Checks,
		Advisories:  j.Advisories,
		ErrorKind:   j.ErrorKind,
		Error:       j.Error,
		VideoURL:    j.VideoURL,
		ContentType: j.ContentType,
		Size:        j.Size,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   timePtr(j.StartedAt),
		CompletedAt: timePtr(j.CompletedAt),
	}
	if j.Status == job.StatusCompleted && j.VideoKey != "" {
		resp.ContentURL = "/videos/" + j.ID + "/content"
	}
	return resp
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
