package job

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videogen-lro/internal/generator"
	"github.com/maauso/videogen-lro/internal/operation"
	"github.com/maauso/videogen-lro/internal/poller"
	"github.com/maauso/videogen-lro/internal/storage"
	"github.com/maauso/videogen-lro/internal/veo"
)

// mockGenerator is a testify mock of Generator.
type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) DefaultStrategy() poller.Strategy {
	return poller.StrategyReschedule
}

func (m *mockGenerator) Submit(ctx context.Context, req veo.Request) (operation.Handle, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(operation.Handle), args.Error(1)
}

func (m *mockGenerator) Await(ctx context.Context, handle operation.Handle, opts generator.Options) (operation.Result, poller.Strategy, error) {
	args := m.Called(ctx, handle, opts)
	return args.Get(0).(operation.Result), opts.Strategy, args.Error(1)
}

func (m *mockGenerator) Fetch(ctx context.Context, res operation.Result) (operation.Artifact, error) {
	args := m.Called(ctx, res)
	return args.Get(0).(operation.Artifact), args.Error(1)
}

func newTestService(t *testing.T, gen Generator, opts ...ServiceOption) (*Service, *MemoryRepository, *storage.LocalStorage) {
	t.Helper()
	repo := NewMemoryRepository()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	svc := NewService(repo, gen, store, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return svc, repo, store
}

// waitForStatus polls the repository until the job reaches a terminal status.
func waitForStatus(t *testing.T, svc *Service, id string) *Job {
	t.Helper()
	var job *Job
	require.Eventually(t, func() bool {
		var err error
		job, err = svc.GetJob(context.Background(), id)
		return err == nil && job.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return job
}

func TestService_CreateJob_Completes(t *testing.T) {
	gen := &mockGenerator{}
	svc, repo, _ := newTestService(t, gen)
	ctx := context.Background()

	req := veo.DefaultRequest("a paper boat in the rain")
	handle := operation.Handle("models/veo/operations/op1")
	result := operation.Result{Handle: handle, Locator: "https://files/op1", Advisories: []string{"filtered"}, Checks: 3}

	gen.On("Submit", mock.Anything, req).Return(handle, nil)
	gen.On("Await", mock.Anything, handle, generator.Options{Strategy: poller.StrategyFixedRate}).Return(result, nil)
	gen.On("Fetch", mock.Anything, result).Return(operation.NewArtifact(handle, "video/mp4", []byte{0, 1, 2}), nil)

	created, err := svc.CreateJob(ctx, CreateInput{Request: req, Strategy: poller.StrategyFixedRate})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "fixed-rate", created.Strategy)
	assert.Equal(t, "a paper boat in the rain", created.Prompt)

	job := waitForStatus(t, svc, created.ID)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, handle.String(), job.OperationHandle)
	assert.Equal(t, 3, job.Checks)
	assert.Equal(t, []string{"filtered"}, job.Advisories)
	assert.Equal(t, created.ID+"/op1.mp4", job.VideoKey)
	assert.Equal(t, int64(3), job.Size)
	assert.False(t, job.StartedAt.IsZero())
	assert.False(t, job.CompletedAt.IsZero())

	rc, opened, err := svc.OpenVideo(ctx, job.ID)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 1, 2}, data)
	assert.Equal(t, "video/mp4", opened.ContentType)

	_, err = repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	gen.AssertExpectations(t)
}

func TestService_CreateJob_DefaultStrategy(t *testing.T) {
	gen := &mockGenerator{}
	svc, _, _ := newTestService(t, gen)

	gen.On("Submit", mock.Anything, mock.Anything).Return(operation.Handle(""), errors.New("boom"))

	created, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("p")})
	require.NoError(t, err)
	assert.Equal(t, "reschedule", created.Strategy)
}

func TestService_FailureMapping(t *testing.T) {
	tests := []struct {
		name     string
		awaitErr error
		want     Status
		wantKind string
	}{
		{"operation failed", &operation.FailedError{Handle: "op", Detail: operation.ErrorDetail{Code: 400, Message: "bad prompt"}}, StatusFailed, "failed"},
		{"timeout", operation.ErrTimeout, StatusTimedOut, "timeout"},
		{"protocol violation", operation.ErrProtocolViolation, StatusFailed, "protocol_violation"},
		{"transport", &operation.TransportError{Op: "status", StatusCode: 503}, StatusFailed, "transport"},
		{"scheduler closed", errors.New("poller: op: scheduler: closed"), StatusFailed, "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{}
			svc, _, _ := newTestService(t, gen)

			gen.On("Submit", mock.Anything, mock.Anything).Return(operation.Handle("op"), nil)
			gen.On("Await", mock.Anything, operation.Handle("op"), mock.Anything).Return(operation.Result{}, tt.awaitErr)

			created, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("p")})
			require.NoError(t, err)

			job := waitForStatus(t, svc, created.ID)
			assert.Equal(t, tt.want, job.Status)
			assert.Equal(t, tt.wantKind, job.ErrorKind)
			assert.NotEmpty(t, job.Error)
			gen.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
		})
	}
}

func TestService_DownloadExpired(t *testing.T) {
	gen := &mockGenerator{}
	svc, _, _ := newTestService(t, gen)

	gen.On("Submit", mock.Anything, mock.Anything).Return(operation.Handle("op"), nil)
	gen.On("Await", mock.Anything, operation.Handle("op"), mock.Anything).Return(operation.Result{Handle: "op", Locator: "u"}, nil)
	gen.On("Fetch", mock.Anything, mock.Anything).Return(operation.Artifact{}, operation.ErrNotFound)

	created, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("p")})
	require.NoError(t, err)

	job := waitForStatus(t, svc, created.ID)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "not_found", job.ErrorKind)

	_, _, err = svc.OpenVideo(context.Background(), job.ID)
	assert.ErrorIs(t, err, ErrNoVideo)
}

func TestService_CancelJob(t *testing.T) {
	gen := &mockGenerator{}
	svc, _, _ := newTestService(t, gen)

	polling := make(chan struct{})
	gen.On("Submit", mock.Anything, mock.Anything).Return(operation.Handle("op"), nil)
	gen.On("Await", mock.Anything, operation.Handle("op"), mock.Anything).
		Run(func(args mock.Arguments) {
			close(polling)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(operation.Result{}, operation.ErrCancelled)

	created, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("p")})
	require.NoError(t, err)
	<-polling

	_, err = svc.CancelJob(context.Background(), created.ID)
	require.NoError(t, err)

	job := waitForStatus(t, svc, created.ID)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Equal(t, ErrCancelledByCaller.Error(), job.Error)

	_, err = svc.CancelJob(context.Background(), created.ID)
	assert.ErrorIs(t, err, ErrJobTerminal)
}

func TestService_CancelJob_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, &mockGenerator{})

	_, err := svc.CancelJob(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestService_MaxConcurrentQueuesJobs(t *testing.T) {
	gen := &mockGenerator{}
	svc, _, _ := newTestService(t, gen, WithMaxConcurrent(1))

	release := make(chan struct{})
	gen.On("Submit", mock.Anything, mock.Anything).Return(operation.Handle("op"), nil)
	gen.On("Await", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(operation.Result{}, operation.ErrTimeout)

	first, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("one")})
	require.NoError(t, err)
	second, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("two")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		j, _ := svc.GetJob(context.Background(), first.ID)
		return j.Status == StatusRunning
	}, time.Second, 5*time.Millisecond)

	queued, err := svc.GetJob(context.Background(), second.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInQueue, queued.Status)

	close(release)
	assert.Equal(t, StatusTimedOut, waitForStatus(t, svc, first.ID).Status)
	assert.Equal(t, StatusTimedOut, waitForStatus(t, svc, second.ID).Status)
}

func TestService_CancelQueuedJob(t *testing.T) {
	gen := &mockGenerator{}
	svc, _, _ := newTestService(t, gen, WithMaxConcurrent(1))

	release := make(chan struct{})
	defer close(release)
	gen.On("Submit", mock.Anything, mock.Anything).Return(operation.Handle("op"), nil)
	gen.On("Await", mock.Anything, mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { <-release }).
		Return(operation.Result{}, operation.ErrTimeout)

	_, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("one")})
	require.NoError(t, err)
	queued, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("two")})
	require.NoError(t, err)

	_, err = svc.CancelJob(context.Background(), queued.ID)
	require.NoError(t, err)

	job := waitForStatus(t, svc, queued.ID)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.True(t, job.StartedAt.IsZero(), "queued job should never have started")
}

func TestService_DeleteJob(t *testing.T) {
	gen := &mockGenerator{}
	svc, _, store := newTestService(t, gen)
	ctx := context.Background()

	gen.On("Submit", mock.Anything, mock.Anything).Return(operation.Handle("op"), nil)
	gen.On("Await", mock.Anything, mock.Anything, mock.Anything).Return(operation.Result{Handle: "op", Locator: "u"}, nil)
	gen.On("Fetch", mock.Anything, mock.Anything).Return(operation.NewArtifact("op", "video/mp4", []byte("v")), nil)

	created, err := svc.CreateJob(ctx, CreateInput{Request: veo.DefaultRequest("p")})
	require.NoError(t, err)
	job := waitForStatus(t, svc, created.ID)
	require.Equal(t, StatusCompleted, job.Status)

	require.NoError(t, svc.DeleteJob(ctx, job.ID))

	_, err = svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = store.Open(ctx, job.VideoKey)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)
}

// failingDeleteRepository rejects Delete while fail is set.
type failingDeleteRepository struct {
	*MemoryRepository
	fail bool
}

func (r *failingDeleteRepository) Delete(ctx context.Context, id string) error {
	if r.fail {
		return errors.New("record store unavailable")
	}
	return r.MemoryRepository.Delete(ctx, id)
}

func TestService_DeleteJob_ClearsOutputBeforeRemovingRecord(t *testing.T) {
	ctx := context.Background()
	repo := &failingDeleteRepository{MemoryRepository: NewMemoryRepository(), fail: true}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewService(repo, &mockGenerator{}, store)
	t.Cleanup(func() { _ = svc.Close(context.Background()) })

	job := New()
	require.NoError(t, job.Start())
	obj, err := store.Save(ctx, job.ID, operation.NewArtifact("op", "video/mp4", []byte("v")))
	require.NoError(t, err)
	job.SetOutput(obj.Key, obj.Path, obj.URL, obj.ContentType, obj.Size)
	require.NoError(t, job.Complete())
	require.NoError(t, repo.Save(ctx, job))

	require.Error(t, svc.DeleteJob(ctx, job.ID))

	stored, err := repo.FindByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.VideoKey)
	assert.Empty(t, stored.VideoPath)
	assert.Zero(t, stored.Size)
	_, err = store.Open(ctx, obj.Key)
	assert.ErrorIs(t, err, storage.ErrObjectNotFound)

	_, _, err = svc.OpenVideo(ctx, job.ID)
	assert.ErrorIs(t, err, ErrNoVideo)

	repo.fail = false
	require.NoError(t, svc.DeleteJob(ctx, job.ID))
	_, err = svc.GetJob(ctx, job.ID)
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestService_DeleteJob_Active(t *testing.T) {
	svc, repo, _ := newTestService(t, &mockGenerator{})
	ctx := context.Background()

	job := New()
	_ = job.Start()
	require.NoError(t, repo.Save(ctx, job))

	assert.ErrorIs(t, svc.DeleteJob(ctx, job.ID), ErrJobActive)
}

func TestService_Close(t *testing.T) {
	gen := &mockGenerator{}
	svc, _, _ := newTestService(t, gen)

	polling := make(chan struct{})
	gen.On("Submit", mock.Anything, mock.Anything).Return(operation.Handle("op"), nil)
	gen.On("Await", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(polling)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(operation.Result{}, operation.ErrCancelled)

	created, err := svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("p")})
	require.NoError(t, err)
	<-polling

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, svc.Close(ctx))

	job, err := svc.GetJob(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, job.Status)
	assert.Equal(t, ErrServiceClosed.Error(), job.Error)

	_, err = svc.CreateJob(context.Background(), CreateInput{Request: veo.DefaultRequest("p")})
	assert.ErrorIs(t, err, ErrServiceClosed)
}
