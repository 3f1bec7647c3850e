package orchestrator

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/cms"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/event"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/processing"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/thumbnail"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

var log = logger.Get("Orchestrator")

type (
	Config struct {
		PublishOnTimeout bool `yaml:"publish_on_timeout" env:"PUBLISH_ON_TIMEOUT" env-default:"true"`
	}

	TransportOpener interface {
		Open(ctx context.Context, kind transport.Kind, account string) (transport.Transport, error)
	}

	ThumbnailExtractor interface {
		OutputPathFor(jobID string, videoPath string) string
		Extract(ctx context.Context, videoPath string, outputPath string) (*thumbnail.Selection, error)
	}

	Publisher interface {
		Publish(ctx context.Context, request cms.PublishRequest) (*cms.PublishResult, error)
	}

	// Dependencies are the collaborators used by each stage of a job. A nil
	// Thumbnails disables thumbnail selection, and a nil Publisher skips
	// publishing entirely.
	Dependencies struct {
		Transports TransportOpener
		Machine    *processing.Machine
		Thumbnails ThumbnailExtractor
		Publisher  Publisher
		PostStatus string
		Events     event.EventDispatcher
		Clock      clock.Clock
	}

	// Orchestrator runs a single job through upload, processing-wait,
	// thumbnail selection, publishing and verification, strictly in that
	// order. Each stage begins only once its predecessor is terminal.
	Orchestrator struct {
		config Config
		deps   Dependencies
	}
)

func New(config Config, deps Dependencies) *Orchestrator {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Machine == nil {
		deps.Machine = processing.NewMachine(processing.Config{}, deps.Clock)
	}

	return &Orchestrator{config: config, deps: deps}
}

// Run executes the job provided and returns its outcome. Run never returns
// a nil outcome; failures of any stage are reported within it.
func (orchestrator *Orchestrator) Run(ctx context.Context, job UploadJob) *UploadOutcome {
	now := orchestrator.deps.Clock.Now
	outcome := newOutcome(job, now())
	log.Emit(logger.NEW, "Starting job %s for %s\n", job.ID, job.SourceFilePath)

	orchestrator.report(job, Uploading, outcome, "Opening %s transport", job.Transport)
	tr, err := orchestrator.deps.Transports.Open(ctx, job.Transport, job.Account)
	if err != nil {
		log.Emit(logger.ERROR, "Failed to open transport for job %s: %v\n", job.ID, err)
		return orchestrator.finish(job, outcome.fail(now(), failure.KindOf(err), "failed to open transport: %v", err))
	}

	healthy := true
	defer func() {
		if err := tr.Close(healthy); err != nil {
			log.Emit(logger.WARNING, "Failed to release transport for job %s: %v\n", job.ID, err)
		}
	}()

	// Upload
	orchestrator.report(job, Uploading, outcome, "Uploading %s", job.SourceFilePath)
	upload, err := tr.Upload(ctx, transport.Request{
		JobID:       job.ID.String(),
		SourcePath:  job.SourceFilePath,
		Title:       job.Title,
		Description: job.Description,
		Visibility:  job.Visibility,
	})
	if err != nil {
		kind := failure.KindOf(err)
		healthy = !kind.Fatal()
		log.Emit(logger.ERROR, "Upload for job %s failed (%s): %v\n", job.ID, kind, err)
		return orchestrator.finish(job, outcome.fail(now(), kind, "upload failed: %v", err))
	}

	if upload.Ambiguous {
		log.Emit(logger.WARNING, "Upload signals for job %s were ambiguous\n", job.ID)
	}
	if upload.ProviderVideoID == "" {
		outcome.Pending = upload.BackgroundProcessing
		log.Emit(logger.WARNING, "Upload for job %s produced no video ID, the provider may still be processing it\n", job.ID)
		return orchestrator.finish(job, outcome.fail(now(), failure.Timeout, "upload started but no provider video ID was observed"))
	}

	outcome.ProviderVideoID = upload.ProviderVideoID
	outcome.PlayableURL = provider.PlayableURL(upload.ProviderVideoID)
	if err := ctx.Err(); err != nil {
		return orchestrator.cancelled(job, outcome, err)
	}

	// Processing-wait
	orchestrator.report(job, Processing, outcome, "Waiting for video %s to finish processing", outcome.ProviderVideoID)
	processed, err := orchestrator.deps.Machine.Wait(ctx, tr, outcome.ProviderVideoID, func(p processing.Progress) {
		orchestrator.report(job, Processing, outcome, "%s", p.Message)
	})
	outcome.ProcessingState = processed.State
	if err != nil {
		return orchestrator.cancelled(job, outcome, err)
	}

	switch processed.State {
	case processing.Ready:
	case processing.TimedOut:
		if !orchestrator.config.PublishOnTimeout {
			outcome.Pending = true
			return orchestrator.finish(job, outcome.fail(now(), failure.Timeout, "video %s did not finish processing within %s", outcome.ProviderVideoID, processed.Elapsed.Round(time.Second)))
		}

		log.Emit(logger.WARNING, "Video %s still processing after %s, publishing anyway\n", outcome.ProviderVideoID, processed.Elapsed.Round(time.Second))
		outcome.Pending = true
	case processing.QuotaExceeded:
		healthy = false
		return orchestrator.finish(job, outcome.fail(now(), failure.Quota, "provider reported quota exhaustion while processing video %s", outcome.ProviderVideoID))
	default:
		kind := failure.KindOf(processed.LastErr)
		if kind == failure.None || kind == failure.Network {
			kind = failure.Unknown
		}
		healthy = !kind.Fatal()
		return orchestrator.finish(job, outcome.fail(now(), kind, "provider failed to process video %s", outcome.ProviderVideoID))
	}

	orchestrator.resolveMetadata(ctx, tr, job, outcome)
	if err := ctx.Err(); err != nil {
		return orchestrator.cancelled(job, outcome, err)
	}

	// Thumbnail
	if orchestrator.deps.Thumbnails != nil {
		orchestrator.report(job, Thumbnail, outcome, "Selecting thumbnail")
		outputPath := orchestrator.deps.Thumbnails.OutputPathFor(job.ID.String(), job.SourceFilePath)
		if selection, err := orchestrator.deps.Thumbnails.Extract(ctx, job.SourceFilePath, outputPath); err != nil {
			log.Emit(logger.WARNING, "Thumbnail selection for job %s failed, continuing without one: %v\n", job.ID, err)
		} else {
			outcome.ThumbnailPath = selection.Path
		}
	}
	if err := ctx.Err(); err != nil {
		return orchestrator.cancelled(job, outcome, err)
	}

	if orchestrator.deps.Publisher == nil {
		return orchestrator.finish(job, outcome.succeed(now(), "video %s uploaded (publishing not configured)", outcome.ProviderVideoID))
	}

	// Publish + verify
	orchestrator.report(job, Publishing, outcome, "Publishing post '%s'", job.Title)
	post, err := orchestrator.deps.Publisher.Publish(ctx, cms.PublishRequest{
		Title:         job.Title,
		Content:       PostContent(outcome.EmbedMarkup, job.Description),
		Status:        orchestrator.deps.PostStatus,
		ThumbnailPath: outcome.ThumbnailPath,
	})
	outcome.Post = post
	if err != nil {
		kind := failure.KindOf(err)
		log.Emit(logger.ERROR, "Publishing job %s failed (%s): %v\n", job.ID, kind, err)
		return orchestrator.finish(job, outcome.fail(now(), kind, "publish failed: %v", err))
	}

	orchestrator.report(job, Verifying, outcome, "Post %d featured media confirmed=%v repaired=%v", post.PostID, post.FeaturedMediaConfirmed, post.Repaired)
	return orchestrator.finish(job, outcome.succeed(now(), "published video %s as post %d", outcome.ProviderVideoID, post.PostID))
}

// resolveMetadata fills the playable URL and embed markup, preferring
// what the provider reports and falling back to constructed values.
func (orchestrator *Orchestrator) resolveMetadata(ctx context.Context, tr transport.Transport, job UploadJob, outcome *UploadOutcome) {
	meta, err := tr.Metadata(ctx, outcome.ProviderVideoID)
	if err != nil {
		log.Emit(logger.WARNING, "Failed to fetch metadata for video %s, using defaults: %v\n", outcome.ProviderVideoID, err)
		meta = &provider.Metadata{}
	}

	if meta.Link != "" {
		outcome.PlayableURL = meta.Link
	}
	outcome.EmbedMarkup = meta.EmbedHTML
	if outcome.EmbedMarkup == "" {
		outcome.EmbedMarkup = provider.EmbedMarkup(outcome.ProviderVideoID, job.Title)
	}
}

func (orchestrator *Orchestrator) cancelled(job UploadJob, outcome *UploadOutcome, err error) *UploadOutcome {
	log.Emit(logger.STOP, "Job %s cancelled: %v\n", job.ID, err)
	return orchestrator.finish(job, outcome.fail(orchestrator.deps.Clock.Now(), failure.Cancelled, "job cancelled"))
}

func (orchestrator *Orchestrator) finish(job UploadJob, outcome *UploadOutcome) *UploadOutcome {
	if outcome.Success {
		log.Emit(logger.SUCCESS, "Job %s finished: %s\n", job.ID, outcome.Message)
	} else {
		log.Emit(logger.ERROR, "Job %s failed with %s: %s\n", job.ID, outcome.FailureKind, outcome.Message)
	}

	orchestrator.report(job, Finished, outcome, "%s", outcome.Message)
	return outcome
}

func (orchestrator *Orchestrator) report(job UploadJob, stage Stage, outcome *UploadOutcome, format string, args ...any) {
	if orchestrator.deps.Events == nil {
		return
	}

	orchestrator.deps.Events.Dispatch(event.JOB_PROGRESS, event.Progress{
		JobID:   job.ID,
		Stage:   stage.Label(),
		Elapsed: orchestrator.deps.Clock.Now().Sub(outcome.StartedAt),
		Message: fmt.Sprintf(format, args...),
	})
}

// PostContent builds the body of a published post: the player embed
// followed by the (escaped) description.
func PostContent(embed string, description string) string {
	var b strings.Builder
	b.WriteString(embed)
	if description = strings.TrimSpace(description); description != "" {
		b.WriteString("\n\n<p>")
		b.WriteString(html.EscapeString(description))
		b.WriteString("</p>")
	}

	return b.String()
}
