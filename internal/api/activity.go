package api

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/api/ingests"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/api/jobs"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/http/websocket"
)

const (
	TITLE_JOB_UPDATE     = "JOB_UPDATE"
	TITLE_JOB_PROGRESS   = "JOB_PROGRESS"
	TITLE_INGEST_UPDATE  = "INGEST_UPDATE"
	TITLE_INITIAL_STATES = "jobs"
)

type (
	JobUpdate struct {
		JobId uuid.UUID `json:"job_id"`
		Job   *jobs.Dto `json:"job"`
	}

	JobProgressUpdate struct {
		JobId   uuid.UUID `json:"job_id"`
		Stage   string    `json:"stage"`
		Message string    `json:"message"`
	}

	IngestUpdate struct {
		IngestId uuid.UUID    `json:"ingest_id"`
		Ingest   *ingests.Dto `json:"ingest"`
	}

	broadcaster struct {
		socketHub   *websocket.SocketHub
		jobStore    jobs.Service
		ingestStore ingests.Service
	}
)

func newBroadcaster(socketHub *websocket.SocketHub, jobStore jobs.Service, ingestStore ingests.Service) *broadcaster {
	return &broadcaster{socketHub, jobStore, ingestStore}
}

func (hub *broadcaster) BroadcastJobUpdate(id uuid.UUID) error {
	view, ok := hub.jobStore.Job(id)
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}

	hub.broadcast(TITLE_JOB_UPDATE, JobUpdate{JobId: id, Job: jobs.NewDto(*view)})
	return nil
}

// BroadcastJobProgress sends the current stage of the job. The stage
// tracked by the job service is always at least as new as the progress
// event which triggered this broadcast.
func (hub *broadcaster) BroadcastJobProgress(id uuid.UUID) error {
	view, ok := hub.jobStore.Job(id)
	if !ok {
		return fmt.Errorf("job %s not found", id)
	}

	hub.broadcast(TITLE_JOB_PROGRESS, JobProgressUpdate{JobId: id, Stage: view.Stage, Message: view.Message})
	return nil
}

func (hub *broadcaster) BroadcastIngestUpdate(id uuid.UUID) error {
	if hub.ingestStore == nil {
		return nil
	}

	item := hub.ingestStore.GetIngest(id)
	update := IngestUpdate{IngestId: id}
	if item != nil {
		update.Ingest = ingests.NewDto(item)
	}
	hub.broadcast(TITLE_INGEST_UPDATE, update)

	return nil
}

// initialState is sent to every newly connected client.
func (hub *broadcaster) initialState() map[string]interface{} {
	views := hub.jobStore.Jobs()
	dtos := make([]*jobs.Dto, len(views))
	for k, v := range views {
		dtos[k] = jobs.NewDto(v)
	}

	return map[string]interface{}{TITLE_INITIAL_STATES: dtos}
}

func (hub *broadcaster) broadcast(title string, update any) {
	hub.socketHub.Send(&websocket.SocketMessage{
		Title: title,
		Body:  map[string]interface{}{"arguments": update},
		Type:  websocket.Update,
	})
}
