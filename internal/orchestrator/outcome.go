package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/cms"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/processing"
)

// UploadOutcome is the terminal record of a job. Outcomes are only built
// through fail and succeed, which maintain the following: a successful
// outcome always carries a provider video ID and playable URL; an
// unsuccessful outcome always carries a failure kind.
type UploadOutcome struct {
	JobID           uuid.UUID          `json:"job_id"`
	SourcePath      string             `json:"source_path"`
	Title           string             `json:"title"`
	Success         bool               `json:"success"`
	ProviderVideoID string             `json:"provider_video_id,omitempty"`
	PlayableURL     string             `json:"playable_url,omitempty"`
	EmbedMarkup     string             `json:"embed_markup,omitempty"`
	ThumbnailPath   string             `json:"thumbnail_path,omitempty"`
	FailureKind     failure.Kind       `json:"failure_kind,omitempty"`
	Message         string             `json:"message"`
	ProcessingState processing.State   `json:"processing_state"`
	Pending         bool               `json:"pending"`
	Post            *cms.PublishResult `json:"post,omitempty"`
	StartedAt       time.Time          `json:"started_at"`
	FinishedAt      time.Time          `json:"finished_at"`
}

func newOutcome(job UploadJob, started time.Time) *UploadOutcome {
	return &UploadOutcome{
		JobID:      job.ID,
		SourcePath: job.SourceFilePath,
		Title:      job.Title,
		StartedAt:  started,
	}
}

// fail marks the outcome unsuccessful. A None kind is recorded as Unknown.
func (outcome *UploadOutcome) fail(finished time.Time, kind failure.Kind, format string, args ...any) *UploadOutcome {
	if kind == failure.None {
		kind = failure.Unknown
	}

	outcome.Success = false
	outcome.FailureKind = kind
	outcome.Message = fmt.Sprintf(format, args...)
	outcome.FinishedAt = finished
	return outcome
}

// succeed marks the outcome successful, or fails it if the outcome
// lacks the provider identity a success requires.
func (outcome *UploadOutcome) succeed(finished time.Time, format string, args ...any) *UploadOutcome {
	if outcome.ProviderVideoID == "" || outcome.PlayableURL == "" {
		return outcome.fail(finished, failure.Unknown, "job completed without a provider video ID or URL")
	}

	outcome.Success = true
	outcome.FailureKind = failure.None
	outcome.Message = fmt.Sprintf(format, args...)
	outcome.FinishedAt = finished
	return outcome
}

// Validate reports whether the outcome violates the success/failure
// invariants.
func (outcome *UploadOutcome) Validate() error {
	if outcome.Success {
		if outcome.ProviderVideoID == "" || outcome.PlayableURL == "" {
			return errors.New("successful outcome is missing a provider video ID or URL")
		}
		if outcome.FailureKind != failure.None {
			return fmt.Errorf("successful outcome carries failure kind %s", outcome.FailureKind)
		}
		return nil
	}

	if outcome.FailureKind == failure.None {
		return errors.New("failed outcome has no failure kind")
	}

	return nil
}

// CancelledOutcome builds the outcome of a job cancelled before it started.
func CancelledOutcome(job UploadJob, at time.Time) *UploadOutcome {
	return newOutcome(job, at).fail(at, failure.Cancelled, "job cancelled before it started")
}
