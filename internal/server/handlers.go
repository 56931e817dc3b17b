package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/videogen-lro/internal/job"
	"github.com/maauso/videogen-lro/internal/job/id"
	"github.com/maauso/videogen-lro/internal/observability"
	"github.com/maauso/videogen-lro/internal/poller"
	"github.com/maauso/videogen-lro/internal/storage"
	"github.com/maauso/videogen-lro/internal/veo"
)

// JobService is the part of job.Service the handlers use.
type JobService interface {
	CreateJob(ctx context.Context, input job.CreateInput) (*job.Job, error)
	GetJob(ctx context.Context, id string) (*job.Job, error)
	ListJobs(ctx context.Context) ([]*job.Job, error)
	CancelJob(ctx context.Context, id string) (*job.Job, error)
	DeleteJob(ctx context.Context, id string) error
	OpenVideo(ctx context.Context, id string) (io.ReadCloser, *job.Job, error)
}

var _ JobService = (*job.Service)(nil)

// MetricsSource supplies the current metric values for GET /metrics.
type MetricsSource interface {
	Snapshot(ctx context.Context) ([]observability.Point, error)
}

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service   JobService
	metrics   MetricsSource
	validator *validator.Validate
	logger    *slog.Logger
}

// HandlerOption configures Handlers.
type HandlerOption func(*Handlers)

// WithMetricsSource serves src on GET /metrics.
func WithMetricsSource(src MetricsSource) HandlerOption {
	return func(h *Handlers) {
		h.metrics = src
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service JobService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:   service,
		validator: validator.New(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Metrics handles GET /metrics requests.
func (h *Handlers) Metrics(w http.ResponseWriter, r *http.Request) {
	resp := MetricsResponse{Metrics: []observability.Point{}}
	if h.metrics != nil {
		points, err := h.metrics.Snapshot(r.Context())
		if err != nil {
			h.logger.Error("failed to collect metrics", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to collect metrics", "METRICS_UNAVAILABLE")
			return
		}
		if points != nil {
			resp.Metrics = points
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateVideo handles POST /videos requests.
func (h *Handlers) CreateVideo(w http.ResponseWriter, r *http.Request) {
	var req CreateVideoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input := job.CreateInput{Request: veo.DefaultRequest(req.Prompt)}
	input.Request.NegativePrompt = req.NegativePrompt
	input.Request.PersonGeneration = req.PersonGeneration
	if req.AspectRatio != "" {
		input.Request.AspectRatio = req.AspectRatio
	}
	if req.DurationSeconds > 0 {
		input.Request.DurationSeconds = req.DurationSeconds
	}
	if req.Strategy != "" {
		strategy, err := poller.ParseStrategy(req.Strategy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		input.Strategy = strategy
	}

	created, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if errors.Is(err, job.ErrServiceClosed) {
			writeError(w, http.StatusServiceUnavailable, "service is shutting down", "SERVICE_UNAVAILABLE")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	h.logger.Info("job created",
		slog.String("request_id", RequestIDFromContext(r.Context())),
		slog.String("job_id", created.ID),
		slog.String("strategy", created.Strategy),
	)

	w.Header().Set("Location", "/videos/"+created.ID)
	writeJSON(w, http.StatusAccepted, CreateVideoResponse{
		ID:       created.ID,
		Status:   string(created.Status),
		Strategy: created.Strategy,
	})
}

// ListVideos handles GET /videos requests.
func (h *Handlers) ListVideos(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := ListVideosResponse{Videos: make([]VideoResponse, 0, len(jobs))}
	for _, j := range jobs {
		resp.Videos = append(resp.Videos, newVideoResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetVideo handles GET /videos/{id} requests.
func (h *Handlers) GetVideo(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, r, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, newVideoResponse(found))
}

// DeleteVideo handles DELETE /videos/{id} requests. An active job is
// cancelled (202); a finished job is removed with its video (204).
func (h *Handlers) DeleteVideo(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	found, err := h.service.CancelJob(r.Context(), jobID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, newVideoResponse(found))
		return
	case !errors.Is(err, job.ErrJobTerminal):
		h.writeJobError(w, r, jobID, err)
		return
	}

	if err := h.service.DeleteJob(r.Context(), jobID); err != nil {
		h.writeJobError(w, r, jobID, err)
		return
	}

	h.logger.Info("job deleted", slog.String("job_id", jobID))
	w.WriteHeader(http.StatusNoContent)
}

// GetVideoContent handles GET /videos/{id}/content requests by streaming the
// stored video.
func (h *Handlers) GetVideoContent(w http.ResponseWriter, r *http.Request) {
	jobID, ok := pathJobID(w, r)
	if !ok {
		return
	}

	rc, found, err := h.service.OpenVideo(r.Context(), jobID)
	if err != nil {
		h.writeJobError(w, r, jobID, err)
		return
	}
	defer rc.Close()

	contentType := found.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if found.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(found.Size, 10))
	}
	w.Header().Set("Content-Disposition", `attachment; filename="`+path.Base(found.VideoKey)+`"`)
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn("failed to stream video",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
	}
}

// writeJobError maps job service errors to HTTP responses.
func (h *Handlers) writeJobError(w http.ResponseWriter, r *http.Request, jobID string, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrNoVideo):
		writeError(w, http.StatusConflict, "video is not available", "VIDEO_NOT_READY")
	case errors.Is(err, job.ErrJobActive):
		writeError(w, http.StatusConflict, "job is still active", "JOB_ACTIVE")
	case errors.Is(err, storage.ErrObjectNotFound):
		writeError(w, http.StatusGone, "video is no longer stored", "VIDEO_GONE")
	default:
		h.logger.Error("job request failed",
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "job request failed", "INTERNAL_ERROR")
	}
}

// pathJobID extracts and checks the {id} path value.
func pathJobID(w http.ResponseWriter, r *http.Request) (string, bool) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return "", false
	}
	if !id.Valid(jobID) {
		writeError(w, http.StatusBadRequest, "malformed job ID", "INVALID_JOB_ID")
		return "", false
	}
	return jobID, true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
