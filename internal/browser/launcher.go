// Package browser owns the real browser: launching a persistent local
// profile or connecting to a remote containerized instance, opening
// tabs, and the CDP plumbing (window bounds, file inputs) the
// controller needs.
package browser

import (
	"fmt"
	"io"
	"runtime"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
)

// Options configure how the browser is brought up.
type Options struct {
	// ProfileDir is the persistent user-data dir. Login state lives here
	// and survives restarts; challenges resolved once stay resolved.
	ProfileDir string
	Headless   bool
	// RemoteURL, when set, connects over CDP to an already running
	// browser (the containerized backend) instead of launching locally.
	RemoteURL string
}

// Session is a live connection to one browser. All tabs share its
// context so they share cookies and login state.
type Session struct {
	Context playwright.BrowserContext

	pw      *playwright.Playwright
	browser playwright.Browser
	log     *zap.SugaredLogger
}

// Launch starts or attaches to a browser per opts.
func Launch(opts Options, log *zap.SugaredLogger) (*Session, error) {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if opts.RemoteURL != "" {
		runOpts.SkipInstallBrowsers = true
	}
	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("install driver: %w", err)
	}
	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start driver: %w", err)
	}

	if opts.RemoteURL != "" {
		return connectRemote(pw, opts.RemoteURL, log)
	}
	return launchPersistent(pw, opts, log)
}

func launchPersistent(pw *playwright.Playwright, opts Options, log *zap.SugaredLogger) (*Session, error) {
	ctx, err := pw.Chromium.LaunchPersistentContext(opts.ProfileDir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(opts.Headless),
		// A fixed viewport is a bot tell; let the window size rule.
		NoViewport: playwright.Bool(true),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--no-default-browser-check",
			"--no-first-run",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch persistent context: %w", err)
	}
	log.Infow("browser launched", "profileDir", opts.ProfileDir, "headless", opts.Headless)
	return &Session{Context: ctx, pw: pw, log: log}, nil
}

func connectRemote(pw *playwright.Playwright, url string, log *zap.SugaredLogger) (*Session, error) {
	browser, err := pw.Chromium.ConnectOverCDP(url)
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("connect over cdp: %w", err)
	}
	var ctx playwright.BrowserContext
	if existing := browser.Contexts(); len(existing) > 0 {
		ctx = existing[0]
	} else {
		ctx, err = browser.NewContext()
		if err != nil {
			browser.Close()
			pw.Stop()
			return nil, fmt.Errorf("new context: %w", err)
		}
	}
	log.Infow("attached to remote browser", "url", url)
	return &Session{Context: ctx, pw: pw, browser: browser, log: log}, nil
}

// NewTab opens a page and navigates it, waiting only for the DOM so the
// ready loop upstairs owns the rest of page settling.
func (s *Session) NewTab(url string) (playwright.Page, error) {
	page, err := s.Context.NewPage()
	if err != nil {
		return nil, fmt.Errorf("new page: %w", err)
	}
	if url != "" {
		if _, err := page.Goto(url, playwright.PageGotoOptions{
			WaitUntil: playwright.WaitUntilStateDomcontentloaded,
		}); err != nil {
			page.Close()
			return nil, fmt.Errorf("navigate %s: %w", url, err)
		}
	}
	return page, nil
}

// CDPFor opens a devtools session scoped to one page.
func (s *Session) CDPFor(page playwright.Page) (playwright.CDPSession, error) {
	cdp, err := s.Context.NewCDPSession(page)
	if err != nil {
		return nil, fmt.Errorf("new cdp session: %w", err)
	}
	return cdp, nil
}

// IsMac reports whether the primary modifier should be meta.
func (s *Session) IsMac() bool {
	return runtime.GOOS == "darwin"
}

// Close tears the whole browser connection down.
func (s *Session) Close() error {
	var first error
	if s.Context != nil {
		if err := s.Context.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.browser != nil {
		if err := s.browser.Close(); err != nil && first == nil {
			first = err
		}
	}
	if s.pw != nil {
		if err := s.pw.Stop(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
