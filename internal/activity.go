package internal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/event"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

const (
	DEBOUNCE_DURATION  time.Duration = time.Second * 2
	MAX_TIMER_DURATION time.Duration = time.Second * 5

	RAPID_EVENT_DEBOUNCE_DURATION  time.Duration = time.Millisecond * 500
	RAPID_EVENT_MAX_TIMER_DURATION time.Duration = time.Second * 2
)

var activityLogger = logger.Get("Activity")

type (
	broadcastHandler func(uuid.UUID) error

	broadcaster interface {
		BroadcastJobUpdate(uuid.UUID) error
		BroadcastJobProgress(uuid.UUID) error
		BroadcastIngestUpdate(uuid.UUID) error
	}

	eventKey struct {
		ev event.Event
		id uuid.UUID
	}

	debounceWindow struct {
		debounce time.Duration
		max      time.Duration
	}

	// activityService listens for job and ingest events and forwards them
	// to the broadcaster. Bursts of events for the same resource are
	// collapsed in to a single broadcast.
	activityService struct {
		*sync.Mutex
		broadcaster
		eventBus       event.EventHandler
		standard       debounceWindow
		rapid          debounceWindow
		debounceTimers map[eventKey]*time.Timer
		maxTimers      map[eventKey]*time.Timer
	}
)

func newActivityService(broadcaster broadcaster, event event.EventHandler) *activityService {
	return &activityService{
		Mutex:          &sync.Mutex{},
		broadcaster:    broadcaster,
		eventBus:       event,
		standard:       debounceWindow{DEBOUNCE_DURATION, MAX_TIMER_DURATION},
		rapid:          debounceWindow{RAPID_EVENT_DEBOUNCE_DURATION, RAPID_EVENT_MAX_TIMER_DURATION},
		debounceTimers: make(map[eventKey]*time.Timer),
		maxTimers:      make(map[eventKey]*time.Timer),
	}
}

func (service *activityService) Run(ctx context.Context) error {
	messageChan := make(chan event.HandlerEvent, 100)
	service.eventBus.RegisterHandlerChannel(messageChan,
		event.JOB_SUBMITTED, event.JOB_UPDATE, event.JOB_PROGRESS, event.JOB_COMPLETE,
		event.INGEST_UPDATE, event.INGEST_COMPLETE)

	activityLogger.Emit(logger.NEW, "Activity service started\n")
	defer service.stopTimers()
	for {
		select {
		case ev := <-messageChan:
			if err := service.handleEvent(ev); err != nil {
				activityLogger.Emit(logger.ERROR, "Handling of event %v failed: %v\n", ev, err)
			}
		case <-ctx.Done():
			activityLogger.Emit(logger.STOP, "Activity service closed\n")
			return nil
		}
	}
}

func (service *activityService) handleEvent(ev event.HandlerEvent) error {
	if ev.Event == event.JOB_PROGRESS {
		progress, ok := ev.Payload.(event.Progress)
		if !ok {
			return errors.New("illegal payload (expected progress)")
		}

		service.scheduleRapidEventBroadcast(eventKey{ev: ev.Event, id: progress.JobID}, service.BroadcastJobProgress)
		return nil
	}

	resourceID, ok := ev.Payload.(uuid.UUID)
	if !ok {
		return errors.New("illegal payload (expected UUID)")
	}

	resourceKey := eventKey{id: resourceID, ev: ev.Event}
	switch ev.Event {
	case event.JOB_SUBMITTED, event.JOB_UPDATE:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastJobUpdate)
	case event.JOB_COMPLETE:
		// Completion is final, so any pending progress for the job is stale.
		service.cancelBroadcast(eventKey{ev: event.JOB_PROGRESS, id: resourceID})
		service.cancelBroadcast(eventKey{ev: event.JOB_UPDATE, id: resourceID})
		return service.BroadcastJobUpdate(resourceID)
	case event.INGEST_UPDATE, event.INGEST_COMPLETE:
		service.scheduleEventBroadcast(resourceKey, service.BroadcastIngestUpdate)
	default:
		return errors.New("unknown event type")
	}

	return nil
}

func (service *activityService) scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service._scheduleEventBroadcast(resourceKey, handler, service.standard)
}

func (service *activityService) scheduleRapidEventBroadcast(resourceKey eventKey, handler broadcastHandler) {
	service._scheduleEventBroadcast(resourceKey, handler, service.rapid)
}

func (service *activityService) _scheduleEventBroadcast(resourceKey eventKey, handler broadcastHandler, window debounceWindow) {
	service.Lock()
	defer service.Unlock()

	broadcaster := func() { service.broadcast(resourceKey, handler) }

	// Each event pushes the debounce deadline back
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
	}
	service.debounceTimers[resourceKey] = time.AfterFunc(window.debounce, broadcaster)

	// The max timer caps how long a busy resource can go unreported
	if _, ok := service.maxTimers[resourceKey]; !ok {
		service.maxTimers[resourceKey] = time.AfterFunc(window.max, broadcaster)
	}
}

func (service *activityService) broadcast(resourceKey eventKey, handler broadcastHandler) {
	if !service.cancelBroadcast(resourceKey) {
		// Both timers fired for the same burst, only the first broadcasts.
		return
	}

	if err := handler(resourceKey.id); err != nil {
		activityLogger.Emit(logger.WARNING, "Broadcast of %v for %s failed: %v\n", resourceKey.ev, resourceKey.id, err)
	}
}

// cancelBroadcast stops and removes the timers for the key provided,
// returning true if any were pending.
func (service *activityService) cancelBroadcast(resourceKey eventKey) bool {
	service.Lock()
	defer service.Unlock()

	pending := false
	if t, ok := service.debounceTimers[resourceKey]; ok {
		t.Stop()
		delete(service.debounceTimers, resourceKey)
		pending = true
	}

	if t, ok := service.maxTimers[resourceKey]; ok {
		t.Stop()
		delete(service.maxTimers, resourceKey)
		pending = true
	}

	return pending
}

func (service *activityService) stopTimers() {
	service.Lock()
	defer service.Unlock()

	for key, t := range service.debounceTimers {
		t.Stop()
		delete(service.debounceTimers, key)
	}
	for key, t := range service.maxTimers {
		t.Stop()
		delete(service.maxTimers, key)
	}
}
