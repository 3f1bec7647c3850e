package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/session"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

const visibleTextScript = `document.body ? document.body.innerText : ""`

// ChromeBrowser is a Browser backed by a dedicated Chrome process driven
// over the DevTools protocol. The browser outlives any single job, so each
// action runs on the browsers own context and is aborted if the callers
// context is cancelled.
type ChromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
}

// LaunchChrome starts a new Chrome process using the automation config.
func LaunchChrome(ctx context.Context, config AutomationConfig) (Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", config.Headless),
		chromedp.WindowSize(1366, 900),
	)
	if config.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(config.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		log.Emit(logger.VERBOSE, format+"\n", args...)
	}))

	// The first Run allocates the browser, and the context it is given owns
	// the browser process for its lifetime.
	browser := &ChromeBrowser{ctx: browserCtx, cancel: cancel, allocCancel: allocCancel}
	if err := chromedp.Run(browserCtx); err != nil {
		browser.Close()
		return nil, fmt.Errorf("failed to launch chrome: %w", err)
	}

	log.Emit(logger.NEW, "Launched chrome (headless=%v)\n", config.Headless)
	return browser, nil
}

func (b *ChromeBrowser) SetCookies(ctx context.Context, cookies []session.Cookie) error {
	return b.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		for _, cookie := range cookies {
			params := network.SetCookie(cookie.Name, cookie.Value).
				WithDomain(cookie.Domain).
				WithPath(cookie.Path).
				WithSecure(cookie.Secure).
				WithHTTPOnly(cookie.HTTPOnly)
			if cookie.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(cookie.Expires), 0))
				params = params.WithExpires(&expires)
			}

			if err := params.Do(ctx); err != nil {
				return fmt.Errorf("failed to set cookie '%s': %w", cookie.Name, err)
			}
		}

		return nil
	}))
}

func (b *ChromeBrowser) Navigate(ctx context.Context, url string) error {
	return b.run(ctx, chromedp.Navigate(url))
}

func (b *ChromeBrowser) SetFileInput(ctx context.Context, selector string, path string) error {
	return b.run(ctx, chromedp.SetUploadFiles(selector, []string{path}, chromedp.ByQuery))
}

func (b *ChromeBrowser) VisibleText(ctx context.Context) (string, error) {
	var text string
	err := b.run(ctx, chromedp.Evaluate(visibleTextScript, &text))
	return text, err
}

func (b *ChromeBrowser) CurrentURL(ctx context.Context) (string, error) {
	var url string
	err := b.run(ctx, chromedp.Location(&url))
	return url, err
}

// Close terminates the Chrome process.
func (b *ChromeBrowser) Close() error {
	b.cancel()
	b.allocCancel()
	return nil
}

func (b *ChromeBrowser) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(b.ctx)
	defer cancel()

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}
