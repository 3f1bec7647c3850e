package orchestrator_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/cms"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/event"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/orchestrator"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/processing"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/thumbnail"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/transport"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.SetMinLoggingLevel(logger.VERBOSE.Level())
}

type fakeTransport struct {
	mutex     sync.Mutex
	upload    *transport.Result
	uploadErr error
	statuses  []*provider.Status
	statusErr error
	polls     int
	meta      *provider.Metadata
	closed    bool
	healthy   bool
	log       *[]string
}

func (f *fakeTransport) Kind() transport.Kind { return transport.API }

func (f *fakeTransport) Upload(context.Context, transport.Request) (*transport.Result, error) {
	*f.log = append(*f.log, "upload")
	return f.upload, f.uploadErr
}

func (f *fakeTransport) Status(context.Context, string) (*provider.Status, error) {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	*f.log = append(*f.log, "status")
	if f.statusErr != nil {
		return nil, f.statusErr
	}

	status := f.statuses[min(f.polls, len(f.statuses)-1)]
	f.polls++
	return status, nil
}

func (f *fakeTransport) Metadata(context.Context, string) (*provider.Metadata, error) {
	if f.meta == nil {
		return nil, failure.New(failure.Network, "metadata", "unavailable")
	}
	return f.meta, nil
}

func (f *fakeTransport) Close(healthy bool) error {
	f.closed = true
	f.healthy = healthy
	return nil
}

type fakeOpener struct {
	tr  *fakeTransport
	err error
}

func (o *fakeOpener) Open(context.Context, transport.Kind, string) (transport.Transport, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.tr, nil
}

type frameSource struct{ log *[]string }

type sharpVideo struct{ log *[]string }

func (s frameSource) Open(string) (thumbnail.Video, error) {
	*s.log = append(*s.log, "thumbnail")
	return sharpVideo(s), nil
}

func (sharpVideo) Duration() float64 { return 30 }
func (sharpVideo) FrameCount() int   { return 900 }
func (sharpVideo) Close() error      { return nil }

func (sharpVideo) FrameAt(ts thumbnail.Timestamp) (thumbnail.Frame, error) {
	return stillFrame(ts.Frame), nil
}

// stillFrame scores by frame index and writes a placeholder image.
type stillFrame int

func (f stillFrame) Sharpness() (float64, float64) { return float64(f), 128 }
func (stillFrame) Close() error                    { return nil }

func (stillFrame) WriteJPEG(path string, _ int) error {
	return os.WriteFile(path, []byte("jpeg"), 0o600)
}

// fakeSite is an in-memory CMS that honours featured media on create.
type fakeSite struct {
	log      *[]string
	created  []cms.PostRequest
	posts    map[int]*cms.Post
	failWith error
}

func (s *fakeSite) UploadMedia(_ context.Context, path string) (*cms.Media, error) {
	*s.log = append(*s.log, "media")
	return &cms.Media{ID: 42, URL: "https://example.com/" + filepath.Base(path)}, nil
}

func (s *fakeSite) CreatePost(_ context.Context, request cms.PostRequest) (*cms.Post, error) {
	*s.log = append(*s.log, "post")
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.created = append(s.created, request)
	post := &cms.Post{ID: 7, Link: "https://example.com/?p=7", FeaturedMedia: request.FeaturedMedia}
	s.posts[post.ID] = post
	return post, nil
}

func (s *fakeSite) GetPost(_ context.Context, id int) (*cms.Post, error) {
	*s.log = append(*s.log, "verify")
	return s.posts[id], nil
}

func (s *fakeSite) UpdatePost(_ context.Context, id int, fields map[string]any) (*cms.Post, error) {
	return s.posts[id], nil
}

type harness struct {
	steps     []string
	tr        *fakeTransport
	site      *fakeSite
	clock     *clock.Fake
	events    event.EventCoordinator
	progress  []event.Progress
	thumbsDir string
}

func newHarness(t *testing.T) *harness {
	h := &harness{clock: clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), events: event.New(), thumbsDir: t.TempDir()}
	h.tr = &fakeTransport{
		upload: &transport.Result{ProviderVideoID: "555"},
		statuses: []*provider.Status{
			{State: "transcoding", Transcode: "in_progress"},
			{State: "transcoding", Transcode: "in_progress"},
			{State: "available", Transcode: "complete"},
		},
		meta: &provider.Metadata{Link: "https://vimeo.com/555", EmbedHTML: "<iframe src=\"https://player.vimeo.com/video/555\"></iframe>"},
		log:  &h.steps,
	}
	h.site = &fakeSite{log: &h.steps, posts: map[int]*cms.Post{}}
	h.events.RegisterHandlerFunction(event.JOB_PROGRESS, func(_ event.Event, p event.Payload) {
		h.progress = append(h.progress, p.(event.Progress))
	})
	return h
}

func (h *harness) orchestrator(config orchestrator.Config, withThumbs bool, withPublisher bool) *orchestrator.Orchestrator {
	deps := orchestrator.Dependencies{
		Transports: &fakeOpener{tr: h.tr},
		Machine:    processing.NewMachine(processing.Config{PollIntervalSeconds: 10, MaxWaitSeconds: 60, ProgressLogSeconds: 30}, h.clock),
		Events:     h.events,
		Clock:      h.clock,
		PostStatus: "publish",
	}
	if withThumbs {
		deps.Thumbnails = thumbnail.NewAnalyzer(thumbnail.Config{OutputDir: h.thumbsDir}, frameSource{log: &h.steps})
	}
	if withPublisher {
		deps.Publisher = cms.NewVerifier(h.site)
	}

	return orchestrator.New(config, deps)
}

func demoJob() orchestrator.UploadJob {
	return orchestrator.UploadJob{
		ID:             uuid.New(),
		SourceFilePath: "clip.mp4",
		Title:          "Demo",
		Description:    "A <short> demo",
		Visibility:     "public",
		Transport:      transport.API,
	}
}

func Test_Run_EndToEnd(t *testing.T) {
	h := newHarness(t)
	job := demoJob()

	outcome := h.orchestrator(orchestrator.Config{PublishOnTimeout: true}, true, true).Run(context.Background(), job)
	require.NoError(t, outcome.Validate())

	assert.True(t, outcome.Success, outcome.Message)
	assert.Equal(t, failure.None, outcome.FailureKind)
	assert.Equal(t, "555", outcome.ProviderVideoID)
	assert.Equal(t, "https://vimeo.com/555", outcome.PlayableURL)
	assert.Equal(t, processing.Ready, outcome.ProcessingState)
	assert.False(t, outcome.Pending)
	assert.Equal(t, filepath.Join(h.thumbsDir, job.ID.String()+"-thumbnail.jpg"), outcome.ThumbnailPath)
	assert.FileExists(t, outcome.ThumbnailPath)

	require.NotNil(t, outcome.Post)
	assert.Equal(t, 7, outcome.Post.PostID)
	assert.Equal(t, 42, outcome.Post.FeaturedMediaID)
	assert.True(t, outcome.Post.FeaturedMediaConfirmed)

	require.Len(t, h.site.created, 1)
	assert.Equal(t, "Demo", h.site.created[0].Title)
	assert.Equal(t, 42, h.site.created[0].FeaturedMedia)
	assert.Contains(t, h.site.created[0].Content, "player.vimeo.com/video/555")
	assert.Contains(t, h.site.created[0].Content, "A &lt;short&gt; demo")

	// Strict stage ordering: every status poll happens after the upload,
	// the thumbnail after the last poll and publishing after the thumbnail.
	assert.Equal(t, []string{"upload", "status", "status", "status", "thumbnail", "media", "post", "verify"}, h.steps)
	assert.True(t, h.tr.closed)
	assert.True(t, h.tr.healthy)

	stages := make([]string, 0)
	for _, p := range h.progress {
		assert.Equal(t, job.ID, p.JobID)
		if len(stages) == 0 || stages[len(stages)-1] != p.Stage {
			stages = append(stages, p.Stage)
		}
	}
	assert.Equal(t, []string{"upload", "processing", "thumbnail", "publish", "verify", "finished"}, stages)
}

func Test_Run_TimeoutPublishesAsPending(t *testing.T) {
	h := newHarness(t)
	h.tr.statuses = []*provider.Status{{State: "transcoding", Transcode: "in_progress"}}

	outcome := h.orchestrator(orchestrator.Config{PublishOnTimeout: true}, false, true).Run(context.Background(), demoJob())
	require.NoError(t, outcome.Validate())

	assert.True(t, outcome.Success)
	assert.True(t, outcome.Pending)
	assert.Equal(t, processing.TimedOut, outcome.ProcessingState)
	assert.Empty(t, outcome.ThumbnailPath)
	require.NotNil(t, outcome.Post)
	assert.Zero(t, outcome.Post.FeaturedMediaID)
}

func Test_Run_TimeoutFailsWhenNotPublishingOnTimeout(t *testing.T) {
	h := newHarness(t)
	h.tr.statuses = []*provider.Status{{State: "transcoding", Transcode: "in_progress"}}

	outcome := h.orchestrator(orchestrator.Config{PublishOnTimeout: false}, true, true).Run(context.Background(), demoJob())
	require.NoError(t, outcome.Validate())

	assert.False(t, outcome.Success)
	assert.Equal(t, failure.Timeout, outcome.FailureKind)
	assert.True(t, outcome.Pending)
	assert.NotContains(t, h.steps, "thumbnail")
	assert.NotContains(t, h.steps, "post")
}

func Test_Run_UploadFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    failure.Kind
		healthy bool
	}{
		{"quota", failure.New(failure.Quota, "upload", "storage limit"), failure.Quota, false},
		{"auth", failure.New(failure.Auth, "upload", "logged out"), failure.Auth, false},
		{"network", failure.New(failure.Network, "upload", "reset"), failure.Network, true},
		{"unclassified", errors.New("boom"), failure.Unknown, true},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHarness(t)
			h.tr.upload, h.tr.uploadErr = nil, test.err

			outcome := h.orchestrator(orchestrator.Config{PublishOnTimeout: true}, true, true).Run(context.Background(), demoJob())
			require.NoError(t, outcome.Validate())
			assert.False(t, outcome.Success)
			assert.Equal(t, test.kind, outcome.FailureKind)
			assert.Equal(t, []string{"upload"}, h.steps)
			assert.True(t, h.tr.closed)
			assert.Equal(t, test.healthy, h.tr.healthy)
		})
	}
}

func Test_Run_SoftUploadResultIsPendingTimeout(t *testing.T) {
	h := newHarness(t)
	h.tr.upload = &transport.Result{BackgroundProcessing: true, Ambiguous: true}

	outcome := h.orchestrator(orchestrator.Config{PublishOnTimeout: true}, true, true).Run(context.Background(), demoJob())
	require.NoError(t, outcome.Validate())
	assert.False(t, outcome.Success)
	assert.Equal(t, failure.Timeout, outcome.FailureKind)
	assert.True(t, outcome.Pending)
	assert.Equal(t, []string{"upload"}, h.steps)
}

func Test_Run_QuotaDuringProcessing(t *testing.T) {
	h := newHarness(t)
	h.tr.statusErr = failure.New(failure.Quota, "status", "quota exceeded")

	outcome := h.orchestrator(orchestrator.Config{PublishOnTimeout: true}, true, true).Run(context.Background(), demoJob())
	assert.False(t, outcome.Success)
	assert.Equal(t, failure.Quota, outcome.FailureKind)
	assert.Equal(t, processing.QuotaExceeded, outcome.ProcessingState)
	assert.False(t, h.tr.healthy)
}

func Test_Run_MetadataFallback(t *testing.T) {
	h := newHarness(t)
	h.tr.meta = nil

	outcome := h.orchestrator(orchestrator.Config{PublishOnTimeout: true}, false, false).Run(context.Background(), demoJob())
	require.True(t, outcome.Success)
	assert.Equal(t, provider.PlayableURL("555"), outcome.PlayableURL)
	assert.Equal(t, provider.EmbedMarkup("555", "Demo"), outcome.EmbedMarkup)
	assert.Nil(t, outcome.Post)
}

func Test_Run_IntegrityFailureKeepsPost(t *testing.T) {
	h := newHarness(t)
	integrity := &integritySite{fakeSite: h.site}

	deps := orchestrator.Dependencies{
		Transports: &fakeOpener{tr: h.tr},
		Machine:    processing.NewMachine(processing.Config{PollIntervalSeconds: 10, MaxWaitSeconds: 60}, h.clock),
		Thumbnails: thumbnail.NewAnalyzer(thumbnail.Config{OutputDir: h.thumbsDir}, frameSource{log: &h.steps}),
		Publisher:  cms.NewVerifier(integrity),
		Clock:      h.clock,
	}

	outcome := orchestrator.New(orchestrator.Config{PublishOnTimeout: true}, deps).Run(context.Background(), demoJob())
	require.NoError(t, outcome.Validate())
	assert.False(t, outcome.Success)
	assert.Equal(t, failure.Integrity, outcome.FailureKind)
	require.NotNil(t, outcome.Post)
	assert.Equal(t, 7, outcome.Post.PostID)
	assert.True(t, outcome.Post.Repaired)
	assert.Equal(t, 1, integrity.updates)
}

// integritySite never reports the featured media it was given.
type integritySite struct {
	*fakeSite
	updates int
}

func (s *integritySite) GetPost(ctx context.Context, id int) (*cms.Post, error) {
	post, err := s.fakeSite.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	copied := *post
	copied.FeaturedMedia = 0
	return &copied, nil
}

func (s *integritySite) UpdatePost(ctx context.Context, id int, fields map[string]any) (*cms.Post, error) {
	s.updates++
	return s.fakeSite.UpdatePost(ctx, id, fields)
}

func Test_Run_CancelledDuringProcessing(t *testing.T) {
	h := newHarness(t)
	h.tr.statuses = []*provider.Status{{State: "transcoding"}}

	ctx, cancel := context.WithCancel(context.Background())
	h.clock.OnSleep(func(time.Time) { cancel() })

	outcome := h.orchestrator(orchestrator.Config{PublishOnTimeout: true}, true, true).Run(ctx, demoJob())
	require.NoError(t, outcome.Validate())
	assert.False(t, outcome.Success)
	assert.Equal(t, failure.Cancelled, outcome.FailureKind)
	assert.Equal(t, []string{"upload", "status"}, h.steps)
	assert.True(t, h.tr.closed)
}

func Test_Run_OpenFailure(t *testing.T) {
	deps := orchestrator.Dependencies{
		Transports: &fakeOpener{err: failure.New(failure.Auth, "open", "no cookies")},
		Clock:      clock.NewFake(time.Now()),
	}

	outcome := orchestrator.New(orchestrator.Config{}, deps).Run(context.Background(), demoJob())
	assert.False(t, outcome.Success)
	assert.Equal(t, failure.Auth, outcome.FailureKind)
}

func Test_PostContent(t *testing.T) {
	assert.Equal(t, "<iframe></iframe>", orchestrator.PostContent("<iframe></iframe>", "  "))
	assert.Equal(t, "<iframe></iframe>\n\n<p>a &amp; b</p>", orchestrator.PostContent("<iframe></iframe>", "a & b"))
}

func Test_TitleFromPath(t *testing.T) {
	assert.Equal(t, "my holiday clip", orchestrator.TitleFromPath("/videos/my_holiday-clip.mp4"))
	assert.Equal(t, "Demo", orchestrator.TitleFromPath("Demo.mov"))
}

func Test_UploadJob_Validate(t *testing.T) {
	job := demoJob()
	assert.NoError(t, job.Validate())

	job.Visibility = "everyone"
	assert.Error(t, job.Validate())

	job = demoJob()
	job.Title = ""
	assert.Error(t, job.Validate())

	job = demoJob()
	job.Transport = "carrier-pigeon"
	assert.Error(t, job.Validate())
}
