package internal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/event"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
	"github.com/stretchr/testify/assert"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type recordingBroadcaster struct {
	sync.Mutex
	calls []string
}

func (b *recordingBroadcaster) record(kind string, id uuid.UUID) error {
	b.Lock()
	defer b.Unlock()
	b.calls = append(b.calls, kind+":"+id.String())
	return nil
}

func (b *recordingBroadcaster) BroadcastJobUpdate(id uuid.UUID) error   { return b.record("job", id) }
func (b *recordingBroadcaster) BroadcastJobProgress(id uuid.UUID) error { return b.record("progress", id) }
func (b *recordingBroadcaster) BroadcastIngestUpdate(id uuid.UUID) error {
	return b.record("ingest", id)
}

func (b *recordingBroadcaster) snapshot() []string {
	b.Lock()
	defer b.Unlock()
	return append([]string(nil), b.calls...)
}

func newTestActivity(b *recordingBroadcaster, bus event.EventHandler) *activityService {
	service := newActivityService(b, bus)
	service.standard = debounceWindow{debounce: 20 * time.Millisecond, max: 200 * time.Millisecond}
	service.rapid = debounceWindow{debounce: 10 * time.Millisecond, max: 100 * time.Millisecond}
	return service
}

func Test_BurstsAreCollapsedPerResource(t *testing.T) {
	b := &recordingBroadcaster{}
	service := newTestActivity(b, event.New())
	t.Cleanup(service.stopTimers)

	first, second := uuid.New(), uuid.New()
	for i := 0; i < 5; i++ {
		assert.NoError(t, service.handleEvent(event.HandlerEvent{Event: event.INGEST_UPDATE, Payload: first}))
	}
	assert.NoError(t, service.handleEvent(event.HandlerEvent{Event: event.JOB_UPDATE, Payload: second}))

	assert.Eventually(t, func() bool { return len(b.snapshot()) == 2 }, time.Second, 5*time.Millisecond)
	time.Sleep(250 * time.Millisecond)
	assert.ElementsMatch(t, []string{"ingest:" + first.String(), "job:" + second.String()}, b.snapshot())
}

func Test_ContinuousEventsAreBroadcastByMaxTimer(t *testing.T) {
	b := &recordingBroadcaster{}
	service := newTestActivity(b, event.New())
	t.Cleanup(service.stopTimers)

	id := uuid.New()
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		assert.NoError(t, service.handleEvent(event.HandlerEvent{Event: event.JOB_PROGRESS, Payload: event.Progress{JobID: id, Stage: "processing"}}))
		time.Sleep(2 * time.Millisecond)
	}

	// The debounce timer never elapses while events keep arriving
	assert.Contains(t, b.snapshot(), "progress:"+id.String())
}

func Test_CompletionIsBroadcastImmediately(t *testing.T) {
	b := &recordingBroadcaster{}
	service := newTestActivity(b, event.New())
	t.Cleanup(service.stopTimers)

	id := uuid.New()
	assert.NoError(t, service.handleEvent(event.HandlerEvent{Event: event.JOB_PROGRESS, Payload: event.Progress{JobID: id}}))
	assert.NoError(t, service.handleEvent(event.HandlerEvent{Event: event.JOB_COMPLETE, Payload: id}))
	assert.Equal(t, []string{"job:" + id.String()}, b.snapshot())

	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, []string{"job:" + id.String()}, b.snapshot(), "pending progress is dropped once complete")
}

func Test_IllegalPayloads(t *testing.T) {
	service := newTestActivity(&recordingBroadcaster{}, event.New())

	assert.Error(t, service.handleEvent(event.HandlerEvent{Event: event.JOB_PROGRESS, Payload: uuid.New()}))
	assert.Error(t, service.handleEvent(event.HandlerEvent{Event: event.JOB_UPDATE, Payload: "nope"}))
	assert.Error(t, service.handleEvent(event.HandlerEvent{Event: "unknown", Payload: uuid.New()}))
}

func Test_RunForwardsBusEvents(t *testing.T) {
	b := &recordingBroadcaster{}
	bus := event.New()
	service := newTestActivity(b, bus)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- service.Run(ctx) }()

	id := uuid.New()
	assert.Eventually(t, func() bool {
		bus.Dispatch(event.INGEST_COMPLETE, id)
		return len(b.snapshot()) > 0
	}, time.Second, 30*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
	assert.Equal(t, "ingest:"+id.String(), b.snapshot()[0])
}
