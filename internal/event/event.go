// Package event is the in-process bus the publisher's services use to announce
// job and ingest changes to one another.
package event

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("Events")

// Events emitted by the services of the publisher. Jobs report their lifecycle
// and progress through the bus, the ingest service reports drop-folder activity.
type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	// Progress is the payload of a JOB_PROGRESS event.
	Progress struct {
		JobID   uuid.UUID     `json:"job_id"`
		Stage   string        `json:"stage"`
		Elapsed time.Duration `json:"elapsed"`
		Message string        `json:"message"`
	}

	eventHandler struct {
		sync.RWMutex
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

const (
	JOB_SUBMITTED Event = "job:submitted"
	JOB_UPDATE    Event = "job:update"
	JOB_PROGRESS  Event = "job:progress"
	JOB_COMPLETE  Event = "job:complete"

	INGEST_UPDATE   Event = "ingest:update"
	INGEST_COMPLETE Event = "ingest:complete"
)

// payloadTypes is the payload each event must carry to be dispatched.
var payloadTypes = map[Event]reflect.Type{
	JOB_SUBMITTED:   reflect.TypeOf(uuid.UUID{}),
	JOB_UPDATE:      reflect.TypeOf(uuid.UUID{}),
	JOB_COMPLETE:    reflect.TypeOf(uuid.UUID{}),
	INGEST_UPDATE:   reflect.TypeOf(uuid.UUID{}),
	INGEST_COMPLETE: reflect.TypeOf(uuid.UUID{}),
	JOB_PROGRESS:    reflect.TypeOf(Progress{}),
}

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel delivers every dispatch of the events given to the
// channel. Dispatch blocks while the channel is full, so callers should buffer it.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	handler.Lock()
	defer handler.Unlock()

	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction calls handle on the dispatching goroutine.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.addHandler(event, handlerMethod{handle: handle})
}

// RegisterAsyncHandlerFunction calls handle on a new goroutine for each dispatch.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.addHandler(event, handlerMethod{handle: handle, async: true})
}

func (handler *eventHandler) addHandler(event Event, handle handlerMethod) {
	handler.Lock()
	defer handler.Unlock()

	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch hands the payload to every handler of the event. Events whose
// payload is the wrong type are logged and dropped.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if err := validatePayload(event, payload); err != nil {
		log.Emit(logger.ERROR, "Dropping %s event: %v\n", event, err)
		return
	}

	handler.RLock()
	funcs := append([]handlerMethod(nil), handler.fnHandlers[event]...)
	chans := append([]HandlerChannel(nil), handler.chanHandlers[event]...)
	handler.RUnlock()

	for _, fn := range funcs {
		if fn.async {
			go fn.handle(event, payload)
			continue
		}
		fn.handle(event, payload)
	}

	msg := HandlerEvent{Event: event, Payload: payload}
	for _, ch := range chans {
		ch <- msg
	}
}

func validatePayload(event Event, payload Payload) error {
	expected, ok := payloadTypes[event]
	if !ok {
		return errors.New("event is not known to the bus")
	}

	if actual := reflect.TypeOf(payload); actual != expected {
		return fmt.Errorf("payload of type %v is illegal, expected %v", actual, expected)
	}

	return nil
}
