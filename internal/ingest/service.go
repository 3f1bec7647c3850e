package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/event"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/worker"
	"github.com/rjeczalik/notify"
)

var log = logger.Get("IngestServ")

type (
	submitter interface {
		Submit(orchestrator.UploadJob) (*orchestrator.UploadJob, error)
	}

	// PublishedSources reports whether a source file has already been
	// published by a previous job.
	PublishedSources interface {
		HasSource(path string) (bool, error)
	}

	// ingestService is responsible for managing the automatic detection
	// of videos dropped in to the ingest directory. The detected files are:
	// - Checked against a blacklist and the list of video extensions
	// - Checked against the history of published sources
	// - Held until their modtime settles, so partially copied files are ignored
	// - Submitted as upload jobs
	ingestService struct {
		*sync.Mutex
		submitter submitter
		published PublishedSources
		eventBus  event.EventDispatcher

		config           Config
		blacklist        []*regexp.Regexp
		items            []*IngestItem
		importHoldTimers map[uuid.UUID]*time.Timer
		workerPool       *worker.WorkerPool
	}
)

// New creates a new ingest service, using the provided config for
// subsequent calls to 'Run'.
//
// The configs 'IngestPath' is validated to be an existing directory.
// If the directory is missing it will be created, if the path
// provided points to an existing FILE, an error is returned.
func New(config Config, submitter submitter, published PublishedSources, eventBus event.EventDispatcher) (*ingestService, error) {
	if info, err := os.Stat(config.IngestPath); err == nil {
		if !info.IsDir() {
			return nil, fmt.Errorf("ingestion path '%s' is not a directory", config.IngestPath)
		}
	} else if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(config.IngestPath, os.ModeDir|os.ModePerm); err != nil {
			return nil, fmt.Errorf("ingestion path '%s' could not be created: %w", config.IngestPath, err)
		}
	} else {
		return nil, fmt.Errorf("ingestion path '%s' could not be accessed: %w", config.IngestPath, err)
	}

	blacklist := make([]*regexp.Regexp, 0, len(config.Blacklist))
	for _, expr := range config.Blacklist {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("ingest blacklist expression '%s' is invalid: %w", expr, err)
		}
		blacklist = append(blacklist, re)
	}

	if config.ForceSyncSeconds <= 0 {
		config.ForceSyncSeconds = 300
	}
	if config.IngestionParallelism <= 0 {
		config.IngestionParallelism = 1
	}

	service := &ingestService{
		Mutex:            &sync.Mutex{},
		submitter:        submitter,
		published:        published,
		eventBus:         eventBus,
		config:           config,
		blacklist:        blacklist,
		items:            make([]*IngestItem, 0),
		importHoldTimers: make(map[uuid.UUID]*time.Timer),
		workerPool:       worker.NewWorkerPool(),
	}

	for i := 0; i < config.IngestionParallelism; i++ {
		label := fmt.Sprintf("ingest-worker-%d", i)
		if err := service.workerPool.PushWorker(worker.NewWorker(label, service.PerformItemIngest)); err != nil {
			return nil, err
		}
	}

	return service, nil
}

// Run is the main entry point of this service. It's responsible
// for listening to the OS file system and responding to change events,
// as well as regularly polling the file system irrespective of the
// watcher.
// To kill the service, the calling code should cancel the context
// provided.
func (service *ingestService) Run(ctx context.Context) error {
	fsNotifyChannel := make(chan notify.EventInfo, 16)
	watchPath := filepath.Join(service.config.IngestPath, "...")
	if err := notify.Watch(watchPath, fsNotifyChannel, notify.Create, notify.Write, notify.Rename); err != nil {
		log.Emit(logger.WARNING, "Failed to watch %s, relying on forced sync only: %v\n", service.config.IngestPath, err)
	} else {
		defer notify.Stop(fsNotifyChannel)
	}

	forceSync := time.NewTicker(service.config.ForceSyncDuration())
	defer forceSync.Stop()

	if err := service.workerPool.Start(); err != nil {
		return err
	}
	defer service.workerPool.Close()
	defer service.clearAllImportHoldTimers()

	service.DiscoverNewFiles()
	for {
		select {
		case ev := <-fsNotifyChannel:
			log.Emit(logger.VERBOSE, "File system event %s for %s\n", ev.Event(), ev.Path())
			service.DiscoverNewFiles()
		case <-forceSync.C:
			service.DiscoverNewFiles()
		case <-ctx.Done():
			return nil
		}
	}
}

// PerformItemIngest is the worker function for the ingest service, which is called
// by the services WorkerPool.
// This function will claim the first IDLE item it finds and attempt to submit it.
// If the submission fails with a Trouble, then it will be set on
// the item and it's state set to TROUBLED.
func (service *ingestService) PerformItemIngest(w worker.Worker) (bool, error) {
	item := service.claimIdleItem()
	if item == nil {
		return false, nil
	}

	err := item.ingest(service.submitter, service.config)

	service.Lock()
	if err != nil {
		var trouble Trouble
		if !errors.As(err, &trouble) {
			trouble = newTrouble(GENERIC_FAILURE, err)
		}

		log.Emit(logger.WARNING, "Ingest item %s is troubled: %v\n", item, trouble)
		item.Trouble = &trouble
		item.State = TROUBLED
	} else {
		item.State = COMPLETE
	}
	state := item.State
	service.Unlock()

	if state == COMPLETE {
		service.dispatch(event.INGEST_COMPLETE, item.ID)
	} else {
		service.dispatch(event.INGEST_UPDATE, item.ID)
	}

	return true, nil
}

// DiscoverNewFiles will scan the host file system at the path
// configured and check for files that need to be submitted (as
// in not already published, and no current item in this service
// represents this path).
// Any paths found that match with any configured blacklists, or which
// are not videos, will be ignored.
//
// Note: This function will take ownership of the mutex, and releases it when returning
func (service *ingestService) DiscoverNewFiles() {
	service.Lock()
	defer service.Unlock()

	known := make(map[string]bool, len(service.items))
	for _, item := range service.items {
		known[item.Path] = true
	}

	newItems, err := recursivelyWalkFileSystem(service.config.IngestPath, known)
	if err != nil {
		log.Emit(logger.ERROR, "File system polling failed: %v\n", err)
		return
	}

	minModtimeAge := service.config.RequiredModTimeAgeDuration()
	dirty := false
	for itemPath, itemInfo := range newItems {
		if !service.accepts(itemPath) {
			continue
		}

		itemState := IMPORT_HOLD
		timeDiff := time.Since(itemInfo.ModTime())
		if timeDiff >= minModtimeAge {
			dirty = true
			itemState = IDLE
		}

		item := &IngestItem{ID: uuid.New(), Path: itemPath, State: itemState}
		service.items = append(service.items, item)
		log.Emit(logger.NEW, "Discovered %s\n", item)
		if itemState == IMPORT_HOLD {
			service.scheduleImportHoldTimer(item.ID, minModtimeAge-timeDiff)
		}
	}

	if dirty {
		service.wakeupWorkerPool()
	}
}

// accepts reports whether the path is a video which should be submitted.
func (service *ingestService) accepts(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}

	for _, re := range service.blacklist {
		if re.MatchString(name) {
			log.Emit(logger.DEBUG, "Ignoring %s as it matches blacklist expression %s\n", path, re)
			return false
		}
	}

	if !service.isVideo(name) {
		return false
	}

	if service.published != nil {
		published, err := service.published.HasSource(path)
		if err != nil {
			log.Emit(logger.WARNING, "Unable to check publish history of %s: %v\n", path, err)
			return false
		}
		if published {
			log.Emit(logger.VERBOSE, "Ignoring %s as it has already been published\n", path)
			return false
		}
	}

	return true
}

func (service *ingestService) isVideo(name string) bool {
	if len(service.config.Extensions) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(name))
	for _, allowed := range service.config.Extensions {
		if strings.ToLower(strings.TrimSpace(allowed)) == ext {
			return true
		}
	}

	return false
}

// RemoveIngest looks for an item with the ID provided in the services
// state, and removes it if it's found.
// This method *fails* if the item is currently 'INGESTING' as interrupting
// the submission is not possible.
//
// Note: This function takes ownership of the mutex and releases it on return
func (service *ingestService) RemoveIngest(itemID uuid.UUID) error {
	service.Lock()
	defer service.Unlock()

	return service.removeIngest(itemID)
}

func (service *ingestService) removeIngest(itemID uuid.UUID) error {
	for k, v := range service.items {
		if v.ID == itemID {
			if v.State == INGESTING {
				return fmt.Errorf("cannot remove item %v as a worker is currently ingesting it", itemID)
			}

			service.clearImportHoldTimer(itemID)
			service.items = append(service.items[:k], service.items[k+1:]...)
			return nil
		}
	}

	return ErrIngestNotFound
}

// ResolveTroubledIngest applies a resolution to a TROUBLED item. RETRY
// returns the item to the queue. ABORT marks the item COMPLETE without
// submitting it, so its path is not rediscovered until the service restarts.
func (service *ingestService) ResolveTroubledIngest(itemID uuid.UUID, method ResolutionType) error {
	service.Lock()
	defer service.Unlock()

	item := service.getIngest(itemID)
	if item == nil {
		return ErrIngestNotFound
	}
	if item.State != TROUBLED || item.Trouble == nil {
		return ErrNoTrouble
	}

	switch method {
	case RETRY:
		item.Trouble = nil
		item.State = IDLE
		service.wakeupWorkerPool()
	case ABORT:
		item.Trouble = nil
		item.State = COMPLETE
	default:
		return fmt.Errorf("resolution %s is not supported", method)
	}

	return nil
}

// GetIngest accepts the ID of an ingest item and attempts to find it
// in the services queue. If it cannot be found, nil is returned.
func (service *ingestService) GetIngest(itemID uuid.UUID) *IngestItem {
	service.Lock()
	defer service.Unlock()

	if item := service.getIngest(itemID); item != nil {
		copied := *item
		return &copied
	}

	return nil
}

func (service *ingestService) getIngest(itemID uuid.UUID) *IngestItem {
	for _, item := range service.items {
		if item.ID == itemID {
			return item
		}
	}

	return nil
}

// GetAllIngests returns a snapshot of all the items being processed
// by this service.
func (service *ingestService) GetAllIngests() []*IngestItem {
	service.Lock()
	defer service.Unlock()

	items := make([]*IngestItem, 0, len(service.items))
	for _, item := range service.items {
		copied := *item
		items = append(items, &copied)
	}

	return items
}

// evaluateItemHold accepts the ID of an item that is on IMPORT_HOLD,
// and checks it's modtime to see if the item can be moved on to
// the 'IDLE' state.
// If the item with the ID provided no longer exists, the method is a NO-OP.
// If the item exists, but it's source file no longer exists, the item is removed
// from the services state.
// If the item exists and it's source still does not meet modtime requirements, then
// a new timer will be scheduled to re-evaluate the item hold.
//
// Note: this function takes ownership of the mutex, and releases it when returning
func (service *ingestService) evaluateItemHold(id uuid.UUID) {
	service.Lock()
	defer service.Unlock()

	item := service.getIngest(id)
	if item == nil || item.State != IMPORT_HOLD {
		return
	}

	timeDiff, err := item.modtimeDiff()
	if err != nil {
		log.Emit(logger.REMOVE, "Source of %s has gone away, removing\n", item)
		_ = service.removeIngest(id)
		return
	}

	threshold := service.config.RequiredModTimeAgeDuration()
	if *timeDiff < threshold {
		service.scheduleImportHoldTimer(id, threshold-*timeDiff)
		return
	}

	delete(service.importHoldTimers, id)
	item.State = IDLE
	service.wakeupWorkerPool()
}

// scheduleImportHoldTimer will call evaluateItemHold for the item provided
// after the delay duration specified has elapsed. Any existing import hold timer
// for the item specified will be *cancelled* before the new timer is created.
func (service *ingestService) scheduleImportHoldTimer(id uuid.UUID, delay time.Duration) {
	service.clearImportHoldTimer(id)
	service.importHoldTimers[id] = time.AfterFunc(delay, func() {
		service.evaluateItemHold(id)
	})
}

// clearImportHoldTimer cancels and deletes the import hold timer associated
// with the item ID specified.
func (service *ingestService) clearImportHoldTimer(id uuid.UUID) {
	if timer, ok := service.importHoldTimers[id]; ok {
		timer.Stop()
		delete(service.importHoldTimers, id)
	}
}

// clearAllImportHoldTimers cancels and deletes the import hold timers for
// all items.
func (service *ingestService) clearAllImportHoldTimers() {
	service.Lock()
	defer service.Unlock()

	for key, timer := range service.importHoldTimers {
		timer.Stop()
		delete(service.importHoldTimers, key)
	}
}

// claimIdleItem will try and find an IDLE item in the ingest service,
// and set it's state to 'INGESTING' to prevent another
// worker from claiming it once the mutex lock is released.
//
// Note: This function takes ownership of the mutex, and releases it when returning
func (service *ingestService) claimIdleItem() *IngestItem {
	service.Lock()
	defer service.Unlock()

	for _, item := range service.items {
		if item.State == IDLE {
			item.State = INGESTING
			return item
		}
	}

	return nil
}

func (service *ingestService) wakeupWorkerPool() {
	if err := service.workerPool.WakeupWorkers(); err != nil {
		log.Emit(logger.VERBOSE, "Ingest workers not woken: %v\n", err)
	}
}

func (service *ingestService) dispatch(ev event.Event, id uuid.UUID) {
	if service.eventBus != nil {
		service.eventBus.Dispatch(ev, id)
	}
}

// recursivelyWalkFileSystem will walk the file system, starting at the directory provided,
// and construct a map of all the files inside (including any inside of nested directories).
// Files whose paths are included in the 'known' map will NOT be included in the result.
// The key of the returned map is the path, and the value contains the FileInfo
func recursivelyWalkFileSystem(rootDirPath string, known map[string]bool) (map[string]fs.FileInfo, error) {
	foundItems := make(map[string]fs.FileInfo)
	err := filepath.WalkDir(rootDirPath, func(path string, dir fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !dir.IsDir() {
			fileInfo, err := dir.Info()
			if err != nil {
				return err
			}

			if _, ok := known[path]; !ok {
				foundItems[path] = fileInfo
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk file system: %w", err)
	}

	return foundItems, nil
}
