package orchestrator_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/event"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// blockingRunner succeeds every job, but blocks jobs titled "block" until
// their context is cancelled.
type blockingRunner struct {
	started chan uuid.UUID
}

func (r *blockingRunner) Run(ctx context.Context, job orchestrator.UploadJob) *orchestrator.UploadOutcome {
	r.started <- job.ID
	if job.Title == "block" {
		<-ctx.Done()
		return orchestrator.CancelledOutcome(job, time.Now())
	}

	return &orchestrator.UploadOutcome{
		JobID:           job.ID,
		SourcePath:      job.SourceFilePath,
		Success:         true,
		ProviderVideoID: "1",
		PlayableURL:     "https://vimeo.com/1",
	}
}

type memoryStore struct {
	mutex    sync.Mutex
	outcomes map[string]orchestrator.UploadOutcome
	sources  []string
}

func (s *memoryStore) Save(id string, outcome orchestrator.UploadOutcome, source string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.outcomes[id] = outcome
	if source != "" {
		s.sources = append(s.sources, source)
	}
	return nil
}

func startService(t *testing.T, runner orchestrator.JobRunner, store orchestrator.OutcomeStore) (*orchestrator.Service, event.EventCoordinator) {
	bus := event.New()
	service := orchestrator.NewService(orchestrator.ServiceConfig{Parallelism: 1, DefaultVisibility: "public", DefaultTransport: "api"}, runner, store, bus, clock.Real())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		assert.NoError(t, service.Run(ctx))
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return service, bus
}

func waitFor(t *testing.T, service *orchestrator.Service, id uuid.UUID) *orchestrator.UploadOutcome {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	outcome, err := service.WaitFor(ctx, id, 10*time.Millisecond)
	require.NoError(t, err)
	return outcome
}

func Test_Service_SubmitRunsJobAndPersists(t *testing.T) {
	runner := &blockingRunner{started: make(chan uuid.UUID, 4)}
	store := &memoryStore{outcomes: map[string]orchestrator.UploadOutcome{}}
	service, bus := startService(t, runner, store)

	completed := make(event.HandlerChannel, 4)
	bus.RegisterHandlerChannel(completed, event.JOB_COMPLETE)

	job, err := service.Submit(orchestrator.UploadJob{SourceFilePath: "/videos/clip.mp4", Title: "Demo"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, job.ID)
	assert.Equal(t, "public", job.Visibility)
	assert.Equal(t, "api", string(job.Transport))

	outcome := waitFor(t, service, job.ID)
	assert.True(t, outcome.Success)
	assert.Equal(t, job.ID, (<-completed).Payload)

	view, ok := service.Job(job.ID)
	require.True(t, ok)
	assert.Equal(t, orchestrator.JobCompleted, view.Status)

	store.mutex.Lock()
	defer store.mutex.Unlock()
	assert.Contains(t, store.outcomes, job.ID.String())
	assert.Equal(t, []string{"/videos/clip.mp4"}, store.sources)
}

func Test_Service_RejectsInvalidJobs(t *testing.T) {
	service, _ := startService(t, &blockingRunner{started: make(chan uuid.UUID, 1)}, nil)

	_, err := service.Submit(orchestrator.UploadJob{Title: "Demo"})
	assert.Error(t, err)
	_, err = service.Submit(orchestrator.UploadJob{SourceFilePath: "clip.mp4", Title: "Demo", Visibility: "world"})
	assert.Error(t, err)
	assert.Empty(t, service.Jobs())
}

func Test_Service_CancelQueuedAndRunningJobs(t *testing.T) {
	runner := &blockingRunner{started: make(chan uuid.UUID, 4)}
	store := &memoryStore{outcomes: map[string]orchestrator.UploadOutcome{}}
	service, _ := startService(t, runner, store)

	running, err := service.Submit(orchestrator.UploadJob{SourceFilePath: "a.mp4", Title: "block"})
	require.NoError(t, err)
	assert.Equal(t, running.ID, <-runner.started)

	queued, err := service.Submit(orchestrator.UploadJob{SourceFilePath: "b.mp4", Title: "queued"})
	require.NoError(t, err)

	require.NoError(t, service.Cancel(queued.ID))
	outcome := waitFor(t, service, queued.ID)
	assert.Equal(t, failure.Cancelled, outcome.FailureKind)

	require.NoError(t, service.Cancel(running.ID))
	outcome = waitFor(t, service, running.ID)
	assert.Equal(t, failure.Cancelled, outcome.FailureKind)

	view, _ := service.Job(running.ID)
	assert.Equal(t, orchestrator.JobCancelled, view.Status)
	assert.ErrorIs(t, service.Cancel(running.ID), orchestrator.ErrJobFinished)
	assert.ErrorIs(t, service.Cancel(uuid.New()), orchestrator.ErrJobNotFound)

	jobs := service.Jobs()
	require.Len(t, jobs, 2)
	assert.Equal(t, running.ID, jobs[0].Job.ID)
	assert.Equal(t, queued.ID, jobs[1].Job.ID)

	select {
	case id := <-runner.started:
		t.Fatalf("cancelled queued job %s should never have started", id)
	default:
	}

	store.mutex.Lock()
	defer store.mutex.Unlock()
	assert.Empty(t, store.sources)
}
