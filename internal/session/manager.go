// Package session owns the tab pool: bounded creation, key
// idempotency, lifecycle cleanup and attention routing across tabs.
package session

import (
	"sort"
	"time"

	"sync"

	"github.com/google/uuid"
	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"

	"github.com/agentify/agentifyd/internal/browser"
	"github.com/agentify/agentifyd/internal/controller"
	"github.com/agentify/agentifyd/internal/notify"
	"github.com/agentify/agentifyd/pkg/models"
)

// PageOpener opens new browser tabs.
type PageOpener interface {
	NewTab(url string) (Page, error)
}

// OpenFunc adapts a closure (typically around *browser.Session) to
// PageOpener.
type OpenFunc func(url string) (Page, error)

func (f OpenFunc) NewTab(url string) (Page, error) { return f(url) }

// BuildFunc assembles the controller stack for a fresh page. The
// attention sink routes that tab's blocked/cleared edges back here.
type BuildFunc func(page Page, attention controller.Attention) (*controller.Controller, browser.Window, error)

// Manager is the tab pool.
type Manager struct {
	log     *zap.SugaredLogger
	open    PageOpener
	build   BuildFunc
	sink    notify.Sink
	maxTabs int
	// showByDefault keeps windows visible at all times; otherwise they
	// are raised only while attention is required.
	showByDefault bool

	mu      sync.Mutex
	byID    map[string]*Tab
	byKey   map[string]*Tab
	blocked map[string]models.ChallengeKind
	// raised tracks windows shown by attention routing, so an all-clear
	// only hides what attention raised.
	raised map[string]struct{}
}

func NewManager(open PageOpener, build BuildFunc, sink notify.Sink, maxTabs int, showByDefault bool, log *zap.SugaredLogger) *Manager {
	return &Manager{
		log:           log,
		open:          open,
		build:         build,
		sink:          sink,
		maxTabs:       maxTabs,
		showByDefault: showByDefault,
		byID:          make(map[string]*Tab),
		byKey:         make(map[string]*Tab),
		blocked:       make(map[string]models.ChallengeKind),
		raised:        make(map[string]struct{}),
	}
}

// CreateOptions describe a tab to create or reuse.
type CreateOptions struct {
	// Key makes creation idempotent: a second request with the same key
	// returns the existing tab instead of opening another.
	Key       string
	URL       string
	Name      string
	Protected bool
}

// Ensure returns the keyed tab if it exists, creating it otherwise.
// Unkeyed requests always create.
func (m *Manager) Ensure(opts CreateOptions) (*Tab, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if opts.Key != "" {
		if tab, ok := m.byKey[opts.Key]; ok && !tab.Closed() {
			tab.Touch()
			return tab, nil
		}
	}

	open := 0
	for _, tab := range m.byID {
		if !tab.Closed() {
			open++
		}
	}
	if open >= m.maxTabs {
		return nil, models.ErrMaxTabsReached.With("maxTabs", m.maxTabs)
	}

	page, err := m.open.NewTab(opts.URL)
	if err != nil {
		return nil, err
	}

	tab := &Tab{
		ID:        uuid.New().String(),
		Key:       opts.Key,
		Name:      opts.Name,
		Protected: opts.Protected,
		CreatedAt: time.Now(),
		page:      page,
	}
	tab.Touch()

	ctrl, window, err := m.build(page, &tabAttention{m: m, tab: tab})
	if err != nil {
		page.Close()
		return nil, err
	}
	tab.Controller = ctrl
	tab.Window = window

	// The page can die underneath us (user closes it, browser crash).
	// Register before publishing so the closed path always runs.
	page.OnClose(func(playwright.Page) { m.handleClosed(tab) })

	m.byID[tab.ID] = tab
	if tab.Key != "" {
		m.byKey[tab.Key] = tab
	}

	m.log.Infow("tab created", "id", tab.ID, "key", tab.Key, "name", tab.Name)
	m.sink.Publish(notify.Event{Type: notify.EventTabCreated, TabID: tab.ID, TabName: tab.Name, At: time.Now()})
	return tab, nil
}

// Get resolves a tab by ID. Closed tabs stay resolvable so callers see
// tab_closed instead of tab_not_found.
func (m *Manager) Get(id string) (*Tab, error) {
	m.mu.Lock()
	tab, ok := m.byID[id]
	m.mu.Unlock()
	if !ok {
		return nil, models.ErrTabNotFound
	}
	if tab.Closed() {
		return nil, models.ErrTabClosed
	}
	return tab, nil
}

// GetByKey resolves a live tab by its stable key.
func (m *Manager) GetByKey(key string) (*Tab, error) {
	m.mu.Lock()
	tab, ok := m.byKey[key]
	m.mu.Unlock()
	if !ok || tab.Closed() {
		return nil, models.ErrTabNotFound
	}
	return tab, nil
}

// List returns live tabs, most recently used first.
func (m *Manager) List() []models.TabInfo {
	m.mu.Lock()
	tabs := make([]*Tab, 0, len(m.byID))
	for _, tab := range m.byID {
		if !tab.Closed() {
			tabs = append(tabs, tab)
		}
	}
	m.mu.Unlock()

	sort.Slice(tabs, func(i, j int) bool {
		return tabs[i].LastUsed().After(tabs[j].LastUsed())
	})
	infos := make([]models.TabInfo, len(tabs))
	for i, tab := range tabs {
		infos[i] = tab.Info()
	}
	return infos
}

// Close closes a tab. Protected tabs refuse.
func (m *Manager) Close(id string) error {
	tab, err := m.Get(id)
	if err != nil {
		return err
	}
	if tab.Protected {
		return models.ErrDefaultTabProtected
	}
	return tab.page.Close()
}

// CloseAll tears down every tab, protected ones included. Shutdown
// path only.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	tabs := make([]*Tab, 0, len(m.byID))
	for _, tab := range m.byID {
		if !tab.Closed() {
			tabs = append(tabs, tab)
		}
	}
	m.mu.Unlock()
	for _, tab := range tabs {
		if err := tab.page.Close(); err != nil {
			m.log.Warnw("tab close failed", "id", tab.ID, "error", err)
		}
	}
}

// BlockedCount reports how many tabs currently need attention.
func (m *Manager) BlockedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.blocked)
}

func (m *Manager) handleClosed(tab *Tab) {
	tab.markClosed()
	m.mu.Lock()
	if current, ok := m.byKey[tab.Key]; ok && current == tab {
		delete(m.byKey, tab.Key)
	}
	delete(m.blocked, tab.ID)
	delete(m.raised, tab.ID)
	clear := len(m.blocked) == 0
	m.mu.Unlock()

	m.log.Infow("tab closed", "id", tab.ID, "key", tab.Key)
	m.sink.Publish(notify.Event{Type: notify.EventTabClosed, TabID: tab.ID, TabName: tab.Name, At: time.Now()})
	if clear {
		m.settleAllClear(false)
	}
}

// tabAttention routes one tab's controller edges into the pool-wide
// attention state.
type tabAttention struct {
	m   *Manager
	tab *Tab
}

func (a *tabAttention) Blocked(kind models.ChallengeKind) { a.m.tabBlocked(a.tab, kind) }
func (a *tabAttention) Cleared()                          { a.m.tabCleared(a.tab) }

func (m *Manager) tabBlocked(tab *Tab, kind models.ChallengeKind) {
	m.mu.Lock()
	m.blocked[tab.ID] = kind
	m.raised[tab.ID] = struct{}{}
	m.mu.Unlock()

	if err := tab.Window.Show(); err != nil {
		m.log.Warnw("window show failed", "id", tab.ID, "error", err)
	}
	m.sink.Publish(notify.Event{
		Type:    notify.EventNeedsAttention,
		TabID:   tab.ID,
		TabName: tab.Name,
		Kind:    kind,
		Message: notify.AttentionMessage(kind),
		At:      time.Now(),
	})
}

func (m *Manager) tabCleared(tab *Tab) {
	m.mu.Lock()
	delete(m.blocked, tab.ID)
	clear := len(m.blocked) == 0
	m.mu.Unlock()
	if clear {
		m.settleAllClear(true)
	}
}

// settleAllClear publishes a single all-clear once no tab is blocked
// and lowers the windows attention raised.
func (m *Manager) settleAllClear(announce bool) {
	m.mu.Lock()
	var lower []*Tab
	for id := range m.raised {
		if tab, ok := m.byID[id]; ok && !tab.Closed() {
			lower = append(lower, tab)
		}
		delete(m.raised, id)
	}
	m.mu.Unlock()

	if announce {
		m.sink.Publish(notify.Event{Type: notify.EventAllClear, At: time.Now()})
	}
	if m.showByDefault {
		return
	}
	for _, tab := range lower {
		if err := tab.Window.Hide(); err != nil {
			m.log.Warnw("window hide failed", "id", tab.ID, "error", err)
		}
	}
}
