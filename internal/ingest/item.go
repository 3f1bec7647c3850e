package ingest

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

type (
	IngestItemState int
	IngestItem      struct {
		ID      uuid.UUID       `json:"id"`
		Path    string          `json:"path"`
		State   IngestItemState `json:"state"`
		Trouble *Trouble        `json:"-"`
		JobID   uuid.UUID       `json:"job_id"`
	}
)

const (
	IDLE IngestItemState = iota
	IMPORT_HOLD
	INGESTING
	TROUBLED
	COMPLETE
)

var (
	ErrNoTrouble      = errors.New("ingestion has no trouble")
	ErrIngestNotFound = errors.New("no ingest item could be found")
)

func (s IngestItemState) String() string {
	switch s {
	case IDLE:
		return fmt.Sprintf("IDLE[%d]", s)
	case IMPORT_HOLD:
		return fmt.Sprintf("IMPORT_HOLD[%d]", s)
	case INGESTING:
		return fmt.Sprintf("INGESTING[%d]", s)
	case TROUBLED:
		return fmt.Sprintf("TROUBLED[%d]", s)
	case COMPLETE:
		return fmt.Sprintf("COMPLETE[%d]", s)
	}

	return fmt.Sprintf("UNKNOWN[%d]", s)
}

// ingest submits an upload job for the item. Any error returned is an
// ingest Trouble, which should be raised on the item.
func (item *IngestItem) ingest(submitter submitter, config Config) error {
	log.Emit(logger.NEW, "Beginning ingestion of item %s\n", item)
	if _, err := os.Stat(item.Path); err != nil {
		return newTrouble(SOURCE_FAILURE, fmt.Errorf("source file is not accessible: %w", err))
	}

	job := orchestrator.UploadJob{
		SourceFilePath: item.Path,
		Title:          orchestrator.TitleFromPath(item.Path),
		Account:        config.Account,
	}
	if config.Transport != "" {
		kind, err := transport.ParseKind(config.Transport)
		if err != nil {
			return newTrouble(GENERIC_FAILURE, err)
		}
		job.Transport = kind
	}

	submitted, err := submitter.Submit(job)
	if err != nil {
		return newTrouble(SUBMIT_FAILURE, err)
	}

	item.JobID = submitted.ID
	log.Emit(logger.SUCCESS, "Ingest item %s submitted as job %s\n", item, submitted.ID)
	return nil
}

// modtimeDiff returns the time since the items source file was last modified.
func (item *IngestItem) modtimeDiff() (*time.Duration, error) {
	info, err := os.Stat(item.Path)
	if err != nil {
		return nil, err
	}

	diff := time.Since(info.ModTime())
	return &diff, nil
}

func (item *IngestItem) String() string {
	return fmt.Sprintf("IngestItem{ID=%s State=%s Path=%s}", item.ID, item.State, item.Path)
}
