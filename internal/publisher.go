package internal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/api"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/api/ingests"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/cms"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/event"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/history"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/ingest"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/processing"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/thumbnail"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("Core")

const ONE_SHOT_POLL_INTERVAL = time.Millisecond * 250

type (
	RunnableService interface {
		Run(context.Context) error
	}

	IngestService interface {
		RunnableService
		ingests.Service
	}

	RestGateway interface {
		RunnableService
		broadcaster
	}

	// publisherImpl represents the top-level object for the server, and is
	// responsible for constructing the stores, transports and services, and
	// for running them until the context provided to Run is cancelled.
	publisherImpl struct {
		eventBus event.EventCoordinator
		config   PublisherConfig
		clock    clock.Clock

		history    *history.Store[orchestrator.UploadOutcome]
		transports *transport.Factory
		jobs       *orchestrator.Service

		restGateway     RestGateway
		ingestService   IngestService
		activityService *activityService
	}
)

func New(config PublisherConfig) (*publisherImpl, error) {
	log.Emit(logger.DEBUG, "Bootstrapping services using config: %#v\n", config)
	publisher := &publisherImpl{
		eventBus: event.New(),
		config:   config,
		clock:    clock.Real(),
	}

	store, err := history.Open[orchestrator.UploadOutcome](config.getHistoryPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open outcome history: %w", err)
	}
	publisher.history = store

	runner, err := publisher.newOrchestrator()
	if err != nil {
		store.Close()
		return nil, err
	}
	publisher.jobs = orchestrator.NewService(config.Jobs, runner, store, publisher.eventBus, publisher.clock)

	if config.Ingest.Enabled {
		serv, err := ingest.New(config.Ingest, publisher.jobs, store, publisher.eventBus)
		if err != nil {
			publisher.close()
			return nil, fmt.Errorf("failed to construct ingestion service due to error: %w", err)
		}
		publisher.ingestService = serv
	}

	if config.RestConfig.Enabled {
		var ingestRoutes ingests.Service
		if publisher.ingestService != nil {
			ingestRoutes = publisher.ingestService
		}

		publisher.restGateway = api.NewRestGateway(&config.RestConfig, publisher.jobs, store, ingestRoutes)
		publisher.activityService = newActivityService(publisher.restGateway, publisher.eventBus)
	}

	return publisher, nil
}

// newOrchestrator constructs the job runner and its collaborators. The
// thumbnail analyzer and the CMS publisher are only constructed when
// configured.
func (publisher *publisherImpl) newOrchestrator() (*orchestrator.Orchestrator, error) {
	config := publisher.config

	var apiClient *provider.Client
	if config.Provider.AccessToken != "" {
		apiClient = provider.New(config.Provider, nil)
	} else {
		log.Emit(logger.WARNING, "No provider access token configured; only the automation transport is available\n")
	}
	publisher.transports = transport.NewFactory(apiClient, config.Automation, transport.LaunchChrome, publisher.clock)

	deps := orchestrator.Dependencies{
		Transports: publisher.transports,
		Machine:    processing.NewMachine(config.Processing, publisher.clock),
		Events:     publisher.eventBus,
		Clock:      publisher.clock,
	}

	if config.Thumbnail.Enabled {
		source := &thumbnail.CVSource{FfprobeBinaryPath: config.Thumbnail.FfprobeBinaryPath}
		deps.Thumbnails = thumbnail.NewAnalyzer(config.Thumbnail, source)
	}

	if config.CMS.Enabled() {
		client, err := cms.New(config.CMS, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to construct CMS client: %w", err)
		}

		deps.Publisher = cms.NewVerifier(client)
		deps.PostStatus = client.PostStatus()
	} else {
		log.Emit(logger.WARNING, "No CMS site configured; videos will be uploaded but not published\n")
	}

	return orchestrator.New(config.Orchestrator, deps), nil
}

// Run will start all services (job workers, ingestion, REST gateway and
// activity stream) and block until the provided context is cancelled.
// Errors from which a service cannot recover will also cause all
// services to stop.
func (publisher *publisherImpl) Run(parent context.Context) error {
	defer publisher.close()

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel(fmt.Errorf("service %s crashed: %w", label, err))
	}

	wg := &sync.WaitGroup{}
	publisher.spawnAsyncService(ctx, wg, publisher.jobs, "job-service", crashHandler)
	if publisher.ingestService != nil {
		publisher.spawnAsyncService(ctx, wg, publisher.ingestService, "ingest-service", crashHandler)
	}
	if publisher.restGateway != nil {
		publisher.spawnAsyncService(ctx, wg, publisher.restGateway, "rest-gateway", crashHandler)
		publisher.spawnAsyncService(ctx, wg, publisher.activityService, "activity-service", crashHandler)
	}
	log.Emit(logger.SUCCESS, "Services spawned!\n")

	wg.Wait()
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}

	return nil
}

// RunOnce executes a single job to completion without starting the
// ingest or REST services, returning the outcome of the job.
func (publisher *publisherImpl) RunOnce(parent context.Context, job orchestrator.UploadJob) (*orchestrator.UploadOutcome, error) {
	defer publisher.close()

	ctx, cancel := context.WithCancel(parent)
	done := make(chan error, 1)
	go func() { done <- publisher.jobs.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	submitted, err := publisher.jobs.Submit(job)
	if err != nil {
		return nil, err
	}

	// Interrupting a one-shot run cancels the job, queued or running, and the
	// wait continues until its cancelled outcome has been recorded.
	stop := context.AfterFunc(parent, func() {
		if err := publisher.jobs.Cancel(submitted.ID); err != nil && !errors.Is(err, orchestrator.ErrJobFinished) {
			log.Emit(logger.WARNING, "Failed to cancel job %s: %v\n", submitted.ID, err)
		}
	})
	defer stop()

	return publisher.jobs.WaitFor(context.WithoutCancel(parent), submitted.ID, ONE_SHOT_POLL_INTERVAL)
}

// spawnAsyncService will run the provided function/service as it's own
// go-routine, ensuring that the service waitgroup is updated correctly
func (publisher *publisherImpl) spawnAsyncService(context context.Context, wg *sync.WaitGroup, service RunnableService, serviceLabel string, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func(wg *sync.WaitGroup, label string, crash func(string, error)) {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				crash(label, fmt.Errorf("panic %v", r))
			}
		}()

		if err := service.Run(context); err != nil {
			crash(label, err)
		}
	}(wg, serviceLabel, crashHandler)
}

func (publisher *publisherImpl) close() {
	if publisher.transports != nil {
		if err := publisher.transports.Close(); err != nil {
			log.Emit(logger.WARNING, "Failed to close browser sessions: %v\n", err)
		}
	}
	if publisher.history != nil {
		if err := publisher.history.Close(); err != nil {
			log.Emit(logger.WARNING, "Failed to close outcome history: %v\n", err)
		}
	}
}
