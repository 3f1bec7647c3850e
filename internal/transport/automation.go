package transport

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/failure"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/session"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

const (
	fileInputSelector = `input[type="file"]`
	manageVideoPath   = "/manage/videos/"
	manageURLTemplate = "https://vimeo.com/manage/videos/%s"
)

var (
	uploadProgressPattern = regexp.MustCompile(`(?i)uploading\s+(\d+)%`)
	transferDonePhrases   = []string{"upload complete", "optimizing"}
	processingPhrases     = []string{"optimizing", "this may take a while", "processing", "converting", "uploading"}
	failedPhrases         = []string{"upload failed", "transcoding failed", "couldn't process", "could not be processed"}
	readyPhrases          = []string{"go to video", "view video", "share video", "your video is ready"}
	loggedOutURLMarkers   = []string{"/log_in", "/login", "/join"}
)

type (
	// Browser is the set of capabilities the automation transport requires
	// from a browser session.
	Browser interface {
		SetCookies(context.Context, []session.Cookie) error
		Navigate(ctx context.Context, url string) error
		SetFileInput(ctx context.Context, selector string, path string) error
		VisibleText(context.Context) (string, error)
		CurrentURL(context.Context) (string, error)
		Close() error
	}

	AutomationConfig struct {
		Headless              bool              `yaml:"headless" env:"AUTOMATION_HEADLESS" env-default:"true"`
		ChromePath            string            `yaml:"chrome_path" env:"AUTOMATION_CHROME_PATH"`
		UploadURL             string            `yaml:"upload_url" env:"AUTOMATION_UPLOAD_URL" env-default:"https://vimeo.com/upload" validate:"required,url"`
		CookieFile            string            `yaml:"cookie_file" env:"AUTOMATION_COOKIE_FILE"`
		AccountCookies        map[string]string `yaml:"account_cookies"`
		StartTimeoutSeconds   int               `yaml:"start_timeout_seconds" env:"AUTOMATION_START_TIMEOUT" env-default:"60" validate:"gte=1"`
		PollIntervalMillis    int               `yaml:"poll_interval_millis" env:"AUTOMATION_POLL_INTERVAL_MS" env-default:"2000" validate:"gte=100"`
		MaxSessionsPerAccount int               `yaml:"max_sessions_per_account" env:"AUTOMATION_MAX_SESSIONS" env-default:"1" validate:"gte=1"`
	}

	// automationTransport drives a leased browser session through the
	// providers upload page. When an API client is available it is used for
	// status and metadata queries; otherwise these are read from the page.
	automationTransport struct {
		config AutomationConfig
		lease  *session.Lease[Browser]
		api    *provider.Client
		clock  clock.Clock
	}

	uploadSignals struct {
		videoID        string
		url            string
		started        bool
		transferDone   bool
		doneBeforeSeen bool
		lastProgress   string
	}
)

// CookieFileFor returns the cookie file configured for the account.
func (config AutomationConfig) CookieFileFor(account string) string {
	if path, ok := config.AccountCookies[account]; ok {
		return path
	}

	return config.CookieFile
}

func (t *automationTransport) Kind() Kind { return Automation }

// Upload injects the source file in to the providers upload control and
// waits, up to the configured bound, for the upload to start. The transfer
// starting and the transfer completing are tracked as separate signals.
// If no provider identifier is observed within the bound, a soft result
// with BackgroundProcessing set is returned.
func (t *automationTransport) Upload(ctx context.Context, request Request) (*Result, error) {
	browser := t.lease.Session()
	if err := browser.Navigate(ctx, t.config.UploadURL); err != nil {
		return nil, failure.FromTransport("navigate-upload", err)
	}

	if err := t.checkPage(ctx, browser, "upload-page"); err != nil {
		return nil, err
	}

	log.Emit(logger.INFO, "Injecting %s in to upload control for job %s\n", request.SourcePath, request.JobID)
	if err := browser.SetFileInput(ctx, fileInputSelector, request.SourcePath); err != nil {
		return nil, failure.Wrap(failure.Unknown, "set-file-input", err)
	}

	bound := time.Duration(t.config.StartTimeoutSeconds) * time.Second
	interval := time.Duration(t.config.PollIntervalMillis) * time.Millisecond
	begin := t.clock.Now()
	signals := &uploadSignals{}

	for {
		url, text, err := readPage(ctx, browser)
		if err != nil {
			if ctx.Err() != nil {
				return nil, failure.Wrap(failure.Cancelled, "await-upload-start", ctx.Err())
			}
			log.Emit(logger.WARNING, "Failed to read upload page for job %s: %v\n", request.JobID, err)
		} else {
			if failure.IsQuotaText(text) {
				log.Emit(logger.ERROR, "Provider reports quota exhaustion during upload of job %s\n", request.JobID)
				return nil, failure.FromPage("await-upload-start", text)
			}

			signals.observe(url, text)
			if signals.videoID != "" {
				break
			}
		}

		if t.clock.Now().Sub(begin) >= bound {
			break
		}

		if err := t.clock.Sleep(ctx, interval); err != nil {
			return nil, failure.Wrap(failure.Cancelled, "await-upload-start", err)
		}
	}

	result := &Result{
		ProviderVideoID: signals.videoID,
		Handle:          signals.url,
		Ambiguous:       signals.doneBeforeSeen,
	}
	if result.Ambiguous {
		log.Emit(logger.WARNING, "Upload for job %s reported completion without any observed start signal\n", request.JobID)
	}

	if signals.videoID == "" {
		log.Emit(logger.WARNING, "No upload-start signal for job %s within %s; treating upload as background processing\n", request.JobID, bound)
		result.BackgroundProcessing = true
	}

	return result, nil
}

// Status reports the processing status of the video. Without an API client
// the management page for the video is read, navigating only if the
// browser is not already showing it.
func (t *automationTransport) Status(ctx context.Context, videoID string) (*provider.Status, error) {
	if t.api != nil {
		return t.api.Status(ctx, videoID)
	}

	browser := t.lease.Session()
	url, err := browser.CurrentURL(ctx)
	if err != nil {
		return nil, failure.FromTransport("status", err)
	}

	if provider.ParseVideoID(url) != videoID || !strings.Contains(url, manageVideoPath) {
		if err := browser.Navigate(ctx, fmt.Sprintf(manageURLTemplate, videoID)); err != nil {
			return nil, failure.FromTransport("status", err)
		}
	}

	url, text, err := readPage(ctx, browser)
	if err != nil {
		return nil, failure.FromTransport("status", err)
	}

	return statusFromPage(url, text, videoID)
}

func (t *automationTransport) Metadata(ctx context.Context, videoID string) (*provider.Metadata, error) {
	if t.api != nil {
		return t.api.Metadata(ctx, videoID)
	}

	return &provider.Metadata{Link: provider.PlayableURL(videoID)}, nil
}

func (t *automationTransport) Close(healthy bool) error {
	return t.lease.Release(healthy)
}

// checkPage ensures the browser session is logged in and the account is
// not already out of storage.
func (t *automationTransport) checkPage(ctx context.Context, browser Browser, op string) error {
	url, text, err := readPage(ctx, browser)
	if err != nil {
		return failure.FromTransport(op, err)
	}

	if err := checkLoggedIn(op, url); err != nil {
		return err
	}

	if failure.IsQuotaText(text) {
		return failure.FromPage(op, text)
	}

	return nil
}

func checkLoggedIn(op string, url string) error {
	lowerURL := strings.ToLower(url)
	for _, marker := range loggedOutURLMarkers {
		if strings.Contains(lowerURL, marker) {
			log.Emit(logger.ERROR, "Browser session was redirected to %s; cookies are missing or expired\n", url)
			return failure.New(failure.Auth, op, "session is not logged in (redirected to %s)", url)
		}
	}

	return nil
}

func (s *uploadSignals) observe(url string, text string) {
	lower := strings.ToLower(text)
	s.url = url

	if match := uploadProgressPattern.FindStringSubmatch(text); match != nil {
		s.started = true
		s.lastProgress = match[1]
	}

	if strings.Contains(url, manageVideoPath) {
		if id := provider.ParseVideoID(url); id != "" {
			s.started = true
			s.videoID = id
		}
	}

	if containsAny(lower, transferDonePhrases) {
		if !s.started && !s.transferDone {
			s.doneBeforeSeen = true
		}
		s.transferDone = true
	}
}

// statusFromPage interprets the management page of a video. The video is
// only reported available on an explicit ready signal; a page that carries
// none of the known signals reports an unknown state.
func statusFromPage(url string, text string, videoID string) (*provider.Status, error) {
	if err := checkLoggedIn("status", url); err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == "" {
		return nil, failure.New(failure.Network, "status", "management page has no visible content")
	}

	if failure.IsQuotaText(text) {
		return nil, failure.FromPage("status", text)
	}

	lower := strings.ToLower(text)
	switch {
	case uploadProgressPattern.MatchString(text):
		return &provider.Status{State: "uploading", Transcode: "in_progress", Upload: "in_progress"}, nil
	case containsAny(lower, processingPhrases):
		return &provider.Status{State: "transcoding", Transcode: "in_progress", Upload: "complete"}, nil
	case containsAny(lower, failedPhrases):
		return &provider.Status{State: "uploading_error", Upload: "error"}, nil
	case containsAny(lower, readyPhrases), videoID != "" && strings.Contains(lower, playerURLFor(videoID)):
		return &provider.Status{State: "available", Transcode: "complete", Upload: "complete"}, nil
	}

	log.Emit(logger.DEBUG, "Management page for video %s carries no known status signal\n", videoID)
	return &provider.Status{State: "unknown"}, nil
}

func playerURLFor(videoID string) string {
	return "player.vimeo.com/video/" + videoID
}

func readPage(ctx context.Context, browser Browser) (string, string, error) {
	url, err := browser.CurrentURL(ctx)
	if err != nil {
		return "", "", err
	}

	text, err := browser.VisibleText(ctx)
	if err != nil {
		return "", "", err
	}

	return url, text, nil
}

func containsAny(text string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}

	return false
}
