package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/event"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/worker"
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobFinished = errors.New("job has already finished")
)

type (
	JobRunner interface {
		Run(ctx context.Context, job UploadJob) *UploadOutcome
	}

	// OutcomeStore persists finished outcomes. The source is provided only
	// for successful jobs, marking that file as published.
	OutcomeStore interface {
		Save(id string, outcome UploadOutcome, source string) error
	}

	ServiceConfig struct {
		Parallelism       int    `yaml:"parallelism" env:"JOB_PARALLELISM" env-default:"1" validate:"gte=1"`
		DefaultVisibility string `yaml:"visibility" env:"VISIBILITY" env-default:"public" validate:"oneof=public private password unlisted"`
		DefaultTransport  string `yaml:"transport" env:"TRANSPORT" env-default:"api" validate:"oneof=api automation"`
	}

	JobStatus int

	// JobView is a point-in-time snapshot of a tracked job.
	JobView struct {
		Job     UploadJob      `json:"job"`
		Status  JobStatus      `json:"status"`
		Stage   string         `json:"stage"`
		Message string         `json:"message"`
		Outcome *UploadOutcome `json:"outcome,omitempty"`
	}

	trackedJob struct {
		view   JobView
		cancel context.CancelFunc
	}

	// Service accepts jobs, queues them, and executes them on a pool of
	// workers. Each job runs on its own worker goroutine; jobs share nothing
	// except the collaborators of the JobRunner.
	Service struct {
		config ServiceConfig
		runner JobRunner
		store  OutcomeStore
		events event.EventCoordinator
		clock  clock.Clock
		pool   *worker.WorkerPool

		mutex   sync.Mutex
		ctx     context.Context
		jobs    map[uuid.UUID]*trackedJob
		order   []uuid.UUID
		pending []uuid.UUID
	}
)

const (
	JobQueued JobStatus = iota
	JobRunning
	JobCompleted
	JobCancelled
)

func (s JobStatus) String() string {
	switch s {
	case JobQueued:
		return fmt.Sprintf("QUEUED[%d]", s)
	case JobRunning:
		return fmt.Sprintf("RUNNING[%d]", s)
	case JobCompleted:
		return fmt.Sprintf("COMPLETED[%d]", s)
	case JobCancelled:
		return fmt.Sprintf("CANCELLED[%d]", s)
	default:
		return fmt.Sprintf("UNKNOWN[%d]", s)
	}
}

func (s JobStatus) MarshalText() ([]byte, error) {
	switch s {
	case JobQueued:
		return []byte("queued"), nil
	case JobRunning:
		return []byte("running"), nil
	case JobCompleted:
		return []byte("completed"), nil
	case JobCancelled:
		return []byte("cancelled"), nil
	}

	return nil, fmt.Errorf("unknown job status %d", s)
}

func NewService(config ServiceConfig, runner JobRunner, store OutcomeStore, events event.EventCoordinator, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.Real()
	}
	if config.Parallelism <= 0 {
		config.Parallelism = 1
	}
	if config.DefaultVisibility == "" {
		config.DefaultVisibility = "public"
	}

	service := &Service{
		config: config,
		runner: runner,
		store:  store,
		events: events,
		clock:  clk,
		pool:   worker.NewWorkerPool(),
		jobs:   make(map[uuid.UUID]*trackedJob),
	}

	events.RegisterHandlerFunction(event.JOB_PROGRESS, service.handleProgress)
	return service
}

// Run starts the job workers and blocks until the context is cancelled,
// at which point running jobs are cancelled and the workers are stopped.
func (service *Service) Run(ctx context.Context) error {
	service.mutex.Lock()
	service.ctx = ctx
	service.mutex.Unlock()

	for i := 0; i < service.config.Parallelism; i++ {
		label := fmt.Sprintf("job-worker-%d", i)
		if err := service.pool.PushWorker(worker.NewWorker(label, service.performNextJob)); err != nil {
			return err
		}
	}

	if err := service.pool.Start(); err != nil {
		return err
	}
	service.wakeup()

	<-ctx.Done()
	service.mutex.Lock()
	for _, job := range service.jobs {
		if job.cancel != nil {
			job.cancel()
		}
	}
	service.mutex.Unlock()

	service.pool.Close()
	return nil
}

// Submit validates and enqueues the job provided, returning the job as
// it will be executed (with its ID and defaults populated).
func (service *Service) Submit(job UploadJob) (*UploadJob, error) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Visibility == "" {
		job.Visibility = service.config.DefaultVisibility
	}
	if job.Transport == "" {
		kind, err := transport.ParseKind(service.config.DefaultTransport)
		if err != nil {
			return nil, err
		}
		job.Transport = kind
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = service.clock.Now()
	}

	if err := job.Validate(); err != nil {
		return nil, err
	}

	service.mutex.Lock()
	if _, exists := service.jobs[job.ID]; exists {
		service.mutex.Unlock()
		return nil, fmt.Errorf("job %s already submitted", job.ID)
	}
	service.jobs[job.ID] = &trackedJob{view: JobView{Job: job, Status: JobQueued, Stage: Queued.Label()}}
	service.order = append(service.order, job.ID)
	service.pending = append(service.pending, job.ID)
	service.mutex.Unlock()

	log.Emit(logger.NEW, "Job %s submitted for %s\n", job.ID, job.SourceFilePath)
	service.events.Dispatch(event.JOB_SUBMITTED, job.ID)
	service.wakeup()
	return &job, nil
}

func (service *Service) Job(id uuid.UUID) (*JobView, bool) {
	service.mutex.Lock()
	defer service.mutex.Unlock()

	job, ok := service.jobs[id]
	if !ok {
		return nil, false
	}

	view := job.view
	return &view, true
}

// Jobs returns a snapshot of every tracked job in submission order.
func (service *Service) Jobs() []JobView {
	service.mutex.Lock()
	defer service.mutex.Unlock()

	views := make([]JobView, 0, len(service.order))
	for _, id := range service.order {
		views = append(views, service.jobs[id].view)
	}

	return views
}

// Cancel stops the job provided. A queued job is removed from the queue
// and finishes immediately as cancelled; a running job has its context
// cancelled and finishes at the next cancellation point.
func (service *Service) Cancel(id uuid.UUID) error {
	service.mutex.Lock()
	job, ok := service.jobs[id]
	if !ok {
		service.mutex.Unlock()
		return ErrJobNotFound
	}

	switch job.view.Status {
	case JobRunning:
		log.Emit(logger.STOP, "Cancelling running job %s\n", id)
		job.cancel()
		service.mutex.Unlock()
		return nil
	case JobQueued:
		service.removePending(id)
		outcome := CancelledOutcome(job.view.Job, service.clock.Now())
		job.view.Status = JobCancelled
		job.view.Stage = Finished.Label()
		job.view.Message = outcome.Message
		job.view.Outcome = outcome
		service.mutex.Unlock()

		log.Emit(logger.STOP, "Cancelled queued job %s\n", id)
		service.persist(outcome)
		service.events.Dispatch(event.JOB_COMPLETE, id)
		return nil
	}

	service.mutex.Unlock()
	return ErrJobFinished
}

// performNextJob is the worker task for the service, executing the
// oldest queued job (if any).
func (service *Service) performNextJob(w worker.Worker) (bool, error) {
	service.mutex.Lock()
	if len(service.pending) == 0 || service.ctx == nil {
		service.mutex.Unlock()
		return false, nil
	}

	id := service.pending[0]
	service.pending = service.pending[1:]
	job := service.jobs[id]

	ctx, cancel := context.WithCancel(service.ctx)
	job.cancel = cancel
	job.view.Status = JobRunning
	service.mutex.Unlock()
	defer cancel()

	log.Emit(logger.INFO, "Worker %s picked up job %s\n", w.Label(), id)
	service.events.Dispatch(event.JOB_UPDATE, id)

	outcome := service.runner.Run(ctx, job.view.Job)

	service.mutex.Lock()
	job.view.Outcome = outcome
	job.view.Message = outcome.Message
	job.view.Stage = Finished.Label()
	job.view.Status = JobCompleted
	if ctx.Err() != nil && !outcome.Success {
		job.view.Status = JobCancelled
	}
	job.cancel = nil
	service.mutex.Unlock()

	service.persist(outcome)
	service.events.Dispatch(event.JOB_COMPLETE, id)
	return true, nil
}

func (service *Service) persist(outcome *UploadOutcome) {
	if service.store == nil {
		return
	}

	source := ""
	if outcome.Success {
		source = outcome.SourcePath
	}
	if err := service.store.Save(outcome.JobID.String(), *outcome, source); err != nil {
		log.Emit(logger.ERROR, "Failed to persist outcome of job %s: %v\n", outcome.JobID, err)
	}
}

func (service *Service) handleProgress(_ event.Event, payload event.Payload) {
	progress, ok := payload.(event.Progress)
	if !ok {
		return
	}

	service.mutex.Lock()
	defer service.mutex.Unlock()
	if job, ok := service.jobs[progress.JobID]; ok && job.view.Status == JobRunning {
		job.view.Stage = progress.Stage
		job.view.Message = progress.Message
	}
}

func (service *Service) removePending(id uuid.UUID) {
	for i, pendingID := range service.pending {
		if pendingID == id {
			service.pending = append(service.pending[:i], service.pending[i+1:]...)
			return
		}
	}
}

func (service *Service) wakeup() {
	// The pool only accepts wakeups once started; jobs submitted before then
	// are picked up by the wakeup issued from Run.
	_ = service.pool.WakeupWorkers()
}

// WaitFor polls until the job provided has finished or the context is
// cancelled.
func (service *Service) WaitFor(ctx context.Context, id uuid.UUID, poll time.Duration) (*UploadOutcome, error) {
	for {
		view, ok := service.Job(id)
		if !ok {
			return nil, ErrJobNotFound
		}
		if view.Outcome != nil {
			return view.Outcome, nil
		}

		if err := service.clock.Sleep(ctx, poll); err != nil {
			return nil, err
		}
	}
}
