package session

import (
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/agentify/agentifyd/internal/browser"
	"github.com/agentify/agentifyd/internal/controller"
	"github.com/agentify/agentifyd/pkg/models"
)

// Page is the slice of the browser page the pool needs.
// playwright.Page satisfies it.
type Page interface {
	OnClose(fn func(playwright.Page))
	Close(options ...playwright.PageCloseOptions) error
	URL() string
	Goto(url string, options ...playwright.PageGotoOptions) (playwright.Response, error)
}

// Tab is one live chat session: a page plus the controller that drives
// it. Tabs are addressed by ID; keyed tabs are also addressable by
// their stable key.
type Tab struct {
	ID        string
	Key       string
	Name      string
	Protected bool
	CreatedAt time.Time

	Controller *controller.Controller
	Window     browser.Window

	page Page

	mu       sync.Mutex
	lastUsed time.Time
	closed   bool
}

// Touch records use for LRU-style listing.
func (t *Tab) Touch() {
	t.mu.Lock()
	t.lastUsed = time.Now()
	t.mu.Unlock()
}

// Closed reports whether the underlying page has gone away.
func (t *Tab) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

func (t *Tab) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}

// LastUsed returns the last touch time.
func (t *Tab) LastUsed() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastUsed
}

// Navigate points the tab at a new URL.
func (t *Tab) Navigate(url string) error {
	if t.Closed() {
		return models.ErrTabClosed
	}
	_, err := t.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	return err
}

// URL returns the page's current location, or "" once closed.
func (t *Tab) URL() string {
	if t.Closed() {
		return ""
	}
	return t.page.URL()
}

// Info renders the externally visible description.
func (t *Tab) Info() models.TabInfo {
	return models.TabInfo{
		ID:         t.ID,
		Key:        t.Key,
		Name:       t.Name,
		URL:        t.URL(),
		Protected:  t.Protected,
		Blocked:    t.Controller.Blocked(),
		CreatedAt:  t.CreatedAt,
		LastUsedAt: t.LastUsed(),
	}
}
