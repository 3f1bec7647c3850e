package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/provider"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/internal/session"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/clock"
	"github.com/nguyenduyducds/WebSiteWpr-sub001/pkg/logger"
)

type (
	// BrowserLauncher opens a fresh browser session.
	BrowserLauncher func(context.Context, AutomationConfig) (Browser, error)

	// Factory opens a transport of the requested kind for a single job.
	// Automation transports lease their browser from a shared pool, keyed by
	// account, so that sequential jobs reuse an authenticated session.
	Factory struct {
		api        *provider.Client
		automation AutomationConfig
		launcher   BrowserLauncher
		browsers   *session.Pool[Browser]
		clock      clock.Clock
	}
)

func NewFactory(api *provider.Client, automation AutomationConfig, launcher BrowserLauncher, clk clock.Clock) *Factory {
	if clk == nil {
		clk = clock.Real()
	}

	factory := &Factory{
		api:        api,
		automation: automation,
		launcher:   launcher,
		clock:      clk,
	}
	factory.browsers = session.NewPool[Browser](factory.openBrowser, automation.MaxSessionsPerAccount)

	return factory
}

// Open constructs the transport for a job. The caller owns the returned
// transport and must Close it.
func (factory *Factory) Open(ctx context.Context, kind Kind, account string) (Transport, error) {
	switch kind {
	case API, "":
		if factory.api == nil {
			return nil, errors.New("api transport requested but no provider API client is configured")
		}

		return newAPITransport(factory.api), nil
	case Automation:
		if factory.launcher == nil {
			return nil, errors.New("automation transport requested but no browser launcher is configured")
		}

		lease, err := factory.browsers.Acquire(ctx, account)
		if err != nil {
			return nil, err
		}

		return &automationTransport{
			config: factory.automation,
			lease:  lease,
			api:    factory.apiForAutomation(),
			clock:  factory.clock,
		}, nil
	}

	return nil, fmt.Errorf("unknown transport kind '%s'", kind)
}

// Close tears down every pooled browser session.
func (factory *Factory) Close() error {
	return factory.browsers.Close()
}

func (factory *Factory) apiForAutomation() *provider.Client {
	if factory.api != nil && factory.api.Authenticated() {
		return factory.api
	}

	return nil
}

// openBrowser launches a browser and applies the accounts cookies,
// tearing the browser down again if the cookies cannot be applied.
func (factory *Factory) openBrowser(ctx context.Context, account string) (Browser, error) {
	browser, err := factory.launcher(ctx, factory.automation)
	if err != nil {
		return nil, err
	}

	cookieFile := factory.automation.CookieFileFor(account)
	if cookieFile == "" {
		log.Emit(logger.WARNING, "No cookie file configured for account '%s'; browser session will be anonymous\n", account)
		return browser, nil
	}

	cookies, err := session.LoadCookies(cookieFile)
	if err == nil {
		err = browser.SetCookies(ctx, cookies)
	}
	if err != nil {
		browser.Close()
		return nil, err
	}

	log.Emit(logger.DEBUG, "Applied %d cookies to browser for account '%s'\n", len(cookies), account)
	return browser, nil
}
