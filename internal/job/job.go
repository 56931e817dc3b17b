// Package job provides the Job aggregate for tracking video generation requests,
// its repository port and the service that runs jobs in the background.
package job

import (
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/maauso/videogen-lro/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusInQueue indicates the job is waiting for a free slot.
	StatusInQueue Status = "IN_QUEUE"
	// StatusRunning indicates the operation has been submitted or is being polled.
	StatusRunning Status = "RUNNING"
	// StatusCompleted indicates the artifact was downloaded and stored.
	StatusCompleted Status = "COMPLETED"
	// StatusFailed indicates the operation or one of its calls failed.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was cancelled by a caller or by shutdown.
	StatusCancelled Status = "CANCELLED"
	// StatusTimedOut indicates polling exceeded its maximum wait.
	StatusTimedOut Status = "TIMED_OUT"
)

// IsTerminal returns true if the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusInQueue:   {StatusRunning, StatusCancelled, StatusTimedOut},
	StatusRunning:   {StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut},
	StatusCompleted: {},
	StatusFailed:    {},
	StatusCancelled: {},
	StatusTimedOut:  {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	return slices.Contains(allowed, to)
}

// Job represents a video generation job aggregate.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// Status is the current job state.
	Status Status

	Prompt           string
	NegativePrompt   string
	AspectRatio      string
	PersonGeneration string
	DurationSeconds  int

	// Strategy is the poll strategy used for this job.
	Strategy string
	// OperationHandle is the remote operation name, set once submitted.
	OperationHandle string
	// Checks is the number of status checks the poll loop issued.
	Checks int
	// Advisories carries vendor notices such as filtered samples.
	Advisories []string

	// ErrorKind classifies the failure (failed, transport, decode, ...).
	ErrorKind string
	// Error contains the error message if the job did not complete.
	Error string

	// VideoKey is the storage key of the artifact.
	VideoKey string
	// VideoPath is the local path of the artifact.
	VideoPath string
	// VideoURL is the remote URL when the artifact was uploaded.
	VideoURL    string
	ContentType string
	Size        int64

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
}

// New creates a new Job with a generated ID and initial IN_QUEUE status.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a new Job with the specified ID and initial IN_QUEUE status.
// Useful for testing or when ID needs to be externally generated.
func NewWithID(jobID string) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		Status:    StatusInQueue,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.transitionLocked(status)
}

func (j *Job) transitionLocked(status Status) error {
	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusRunning:
		j.StartedAt = j.UpdatedAt
	case StatusCompleted, StatusFailed, StatusCancelled, StatusTimedOut:
		j.CompletedAt = j.UpdatedAt
	}

	return nil
}

// Start transitions the job from IN_QUEUE to RUNNING.
func (j *Job) Start() error {
	return j.TransitionTo(StatusRunning)
}

// Complete transitions the job to COMPLETED state.
func (j *Job) Complete() error {
	return j.TransitionTo(StatusCompleted)
}

// Fail transitions the job to FAILED state with an error kind and message.
func (j *Job) Fail(kind, errMsg string) error {
	return j.finishWithError(StatusFailed, kind, errMsg)
}

// Cancel transitions the job to CANCELLED state.
func (j *Job) Cancel(reason string) error {
	return j.finishWithError(StatusCancelled, "cancelled", reason)
}

// Timeout transitions the job to TIMED_OUT state.
func (j *Job) Timeout(reason string) error {
	return j.finishWithError(StatusTimedOut, "timeout", reason)
}

func (j *Job) finishWithError(status Status, kind, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if err := j.transitionLocked(status); err != nil {
		return err
	}
	j.ErrorKind = kind
	j.Error = errMsg
	return nil
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// SetOperation records the remote operation handle and poll strategy.
func (j *Job) SetOperation(handle, strategy string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OperationHandle = handle
	j.Strategy = strategy
	j.UpdatedAt = time.Now()
}

// SetPollResult records the poll statistics and vendor advisories.
func (j *Job) SetPollResult(checks int, advisories []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Checks = checks
	j.Advisories = slices.Clone(advisories)
	j.UpdatedAt = time.Now()
}

// SetOutput records where the artifact was stored.
func (j *Job) SetOutput(key, path, url, contentType string, size int64) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.VideoKey = key
	j.VideoPath = path
	j.VideoURL = url
	j.ContentType = contentType
	j.Size = size
	j.UpdatedAt = time.Now()
}

// ClearOutput forgets the stored video once it has been removed.
func (j *Job) ClearOutput() {
	j.SetOutput("", "", "", "", 0)
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.GetStatus().IsTerminal()
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:               j.ID,
		Status:           j.Status,
		Prompt:           j.Prompt,
		NegativePrompt:   j.NegativePrompt,
		AspectRatio:      j.AspectRatio,
		PersonGeneration: j.PersonGeneration,
		DurationSeconds:  j.DurationSeconds,
		Strategy:         j.Strategy,
		OperationHandle:  j.OperationHandle,
		Checks:           j.Checks,
		Advisories:       slices.Clone(j.Advisories),
		ErrorKind:        j.ErrorKind,
		Error:            j.Error,
		VideoKey:         j.VideoKey,
		VideoPath:        j.VideoPath,
		VideoURL:         j.VideoURL,
		ContentType:      j.ContentType,
		Size:             j.Size,
		CreatedAt:        j.CreatedAt,
		UpdatedAt:        j.UpdatedAt,
		StartedAt:        j.StartedAt,
		CompletedAt:      j.CompletedAt,
	}
}
