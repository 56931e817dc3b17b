package job

import (
	"context"
	"errors"
)

// ErrJobNotFound is returned when no video job has the requested ID.
var ErrJobNotFound = errors.New("job not found")

// Repository keeps video job records. The Service is the only writer; every
// status transition and poll result is persisted through Save.
type Repository interface {
	// Save stores a snapshot of job, replacing any earlier record with the
	// same ID.
	Save(ctx context.Context, job *Job) error

	// FindByID returns the record for id, or ErrJobNotFound.
	FindByID(ctx context.Context, id string) (*Job, error)

	// List returns every record in submission order.
	List(ctx context.Context) ([]*Job, error)

	// Delete drops the record for id, or returns ErrJobNotFound. The stored
	// video is not touched.
	Delete(ctx context.Context, id string) error
}
