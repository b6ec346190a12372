package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/agentify/agentifyd/internal/config"
	"github.com/agentify/agentifyd/internal/controller"
	"github.com/agentify/agentifyd/internal/governor"
	"github.com/agentify/agentifyd/internal/notify"
	"github.com/agentify/agentifyd/internal/profile"
	"github.com/agentify/agentifyd/internal/session"
	"github.com/agentify/agentifyd/internal/state"
	"github.com/agentify/agentifyd/pkg/models"
)

const (
	defaultBodyLimit = 2 << 20
	queryBodyLimit   = 5 << 20
	importBodyLimit  = 256 << 20
)

// Handler carries the API's dependencies.
type Handler struct {
	log        *zap.SugaredLogger
	tabs       *session.Manager
	gov        *governor.Governor
	token      *state.TokenRef
	hub        *notify.Hub
	profiles   *profile.Store
	stateDir   string
	serverID   string
	chatURL    string
	defaultKey string
	shutdown   func()
	startedAt  time.Time
}

// Options wire a Handler.
type Options struct {
	Tabs       *session.Manager
	Governor   *governor.Governor
	Token      *state.TokenRef
	Hub        *notify.Hub
	Profiles   *profile.Store
	StateDir   string
	ServerID   string
	ChatURL    string
	DefaultKey string
	Shutdown   func()
}

func NewHandler(opts Options, log *zap.SugaredLogger) *Handler {
	return &Handler{
		log:        log,
		tabs:       opts.Tabs,
		gov:        opts.Governor,
		token:      opts.Token,
		hub:        opts.Hub,
		profiles:   opts.Profiles,
		stateDir:   opts.StateDir,
		serverID:   opts.ServerID,
		chatURL:    opts.ChatURL,
		defaultKey: opts.DefaultKey,
		shutdown:   opts.Shutdown,
		startedAt:  time.Now(),
	}
}

// reqBody is the union of request fields across endpoints.
type reqBody struct {
	TabID         string   `json:"tabId"`
	Key           string   `json:"key"`
	Name          string   `json:"name"`
	URL           string   `json:"url"`
	Prompt        string   `json:"prompt"`
	Attachments   []string `json:"attachments"`
	TimeoutMs     int      `json:"timeoutMs"`
	MaxChars      int      `json:"maxChars"`
	MaxImages     int      `json:"maxImages"`
	StopAfterSend bool     `json:"stopAfterSend"`
	Scope         string   `json:"scope"`
}

func parseBody(w http.ResponseWriter, r *http.Request, limit int64) (reqBody, error) {
	var body reqBody
	r.Body = http.MaxBytesReader(w, r.Body, limit)
	err := json.NewDecoder(r.Body).Decode(&body)
	if err == nil {
		return body, nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return body, models.ErrBodyTooLarge
	}
	// A missing or malformed body means "all defaults", matching
	// clients that POST with no payload.
	return reqBody{}, nil
}

// resolveTab picks the target tab: explicit tabId wins, then key-based
// ensure, then the default tab.
func (h *Handler) resolveTab(r *http.Request, body reqBody) (*session.Tab, error) {
	tabID := strings.TrimSpace(body.TabID)
	if tabID == "" {
		tabID = strings.TrimSpace(r.URL.Query().Get("tabId"))
	}
	if tabID != "" {
		return h.tabs.Get(tabID)
	}
	if key := strings.TrimSpace(body.Key); key != "" {
		return h.tabs.Ensure(session.CreateOptions{Key: key, URL: h.chatURL, Name: body.Name})
	}
	return h.tabs.GetByKey(h.defaultKey)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "serverId": h.serverID})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	tab, err := h.resolveTab(r, reqBody{})
	if err != nil {
		fail(w, err)
		return
	}
	st, err := tab.Controller.CheckChallenge(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"serverId": h.serverID,
		"tabId":    tab.ID,
		"state":    st,
		"tabs":     len(h.tabs.List()),
		"blocked":  h.tabs.BlockedCount(),
		"inflight": h.gov.Inflight(),
		"uptimeMs": time.Since(h.startedAt).Milliseconds(),
	})
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	h.windowOp(w, r, func(tab *session.Tab) error { return tab.Window.Show() })
}

func (h *Handler) Hide(w http.ResponseWriter, r *http.Request) {
	h.windowOp(w, r, func(tab *session.Tab) error { return tab.Window.Hide() })
}

func (h *Handler) windowOp(w http.ResponseWriter, r *http.Request, op func(*session.Tab) error) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	tab, err := h.resolveTab(r, body)
	if err != nil {
		fail(w, err)
		return
	}
	if err := op(tab); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID})
}

func (h *Handler) ListTabs(w http.ResponseWriter, r *http.Request) {
	var defaultTabID string
	if tab, err := h.tabs.GetByKey(h.defaultKey); err == nil {
		defaultTabID = tab.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":           true,
		"tabs":         h.tabs.List(),
		"defaultTabId": defaultTabID,
	})
}

func (h *Handler) CreateTab(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	url := strings.TrimSpace(body.URL)
	if url == "" {
		url = h.chatURL
	}
	tab, err := h.tabs.Ensure(session.CreateOptions{
		Key:  strings.TrimSpace(body.Key),
		Name: strings.TrimSpace(body.Name),
		URL:  url,
	})
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID})
}

func (h *Handler) CloseTab(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	tabID := strings.TrimSpace(body.TabID)
	if tabID == "" {
		fail(w, models.ErrMissingTabID)
		return
	}
	if err := h.tabs.Close(tabID); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Navigate(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	to := strings.TrimSpace(body.URL)
	if to == "" {
		fail(w, models.ErrMissingURL)
		return
	}
	tab, err := h.resolveTab(r, body)
	if err != nil {
		fail(w, err)
		return
	}
	if err := tab.Navigate(to); err != nil {
		fail(w, err)
		return
	}
	tab.Touch()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID, "url": tab.URL()})
}

func (h *Handler) EnsureReady(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	tab, err := h.resolveTab(r, body)
	if err != nil {
		fail(w, err)
		return
	}
	timeout := time.Duration(body.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	if err := tab.Controller.EnsureReady(r.Context(), timeout); err != nil {
		fail(w, err)
		return
	}
	st, err := tab.Controller.CheckChallenge(r.Context())
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID, "state": st})
}

func (h *Handler) Query(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, queryBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	tab, err := h.resolveTab(r, body)
	if err != nil {
		fail(w, err)
		return
	}

	release, err := h.gov.Admit(r.Context(), tab.ID)
	if err != nil {
		fail(w, err)
		return
	}
	defer release()

	result, err := tab.Controller.Query(r.Context(), controller.QueryRequest{
		Prompt:  body.Prompt,
		Files:   body.Attachments,
		Timeout: time.Duration(body.TimeoutMs) * time.Millisecond,
	})
	tab.Touch()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID, "result": result})
}

func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, queryBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	tab, err := h.resolveTab(r, body)
	if err != nil {
		fail(w, err)
		return
	}

	release, err := h.gov.Admit(r.Context(), tab.ID)
	if err != nil {
		fail(w, err)
		return
	}
	defer release()

	err = tab.Controller.Send(r.Context(), controller.SendRequest{
		Prompt:        body.Prompt,
		Files:         body.Attachments,
		Timeout:       time.Duration(body.TimeoutMs) * time.Millisecond,
		StopAfterSend: body.StopAfterSend,
	})
	tab.Touch()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID})
}

func (h *Handler) ReadPage(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	tab, err := h.resolveTab(r, body)
	if err != nil {
		fail(w, err)
		return
	}
	maxChars := body.MaxChars
	if maxChars <= 0 {
		maxChars = 200_000
	}
	text, err := tab.Controller.ReadPageText(maxChars)
	if err != nil {
		fail(w, err)
		return
	}
	tab.Touch()
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID, "text": text})
}

func (h *Handler) DownloadImages(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	tab, err := h.resolveTab(r, body)
	if err != nil {
		fail(w, err)
		return
	}
	maxImages := body.MaxImages
	if maxImages <= 0 {
		maxImages = 6
	}
	files, err := tab.Controller.SaveImages(r.Context(), filepath.Join(h.stateDir, "downloads"), maxImages)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID, "files": files})
}

func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	tab, err := h.resolveTab(r, body)
	if err != nil {
		fail(w, err)
		return
	}
	clicked, err := tab.Controller.Stop()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "tabId": tab.ID, "stopped": clicked})
}

func (h *Handler) RotateToken(w http.ResponseWriter, r *http.Request) {
	next, err := state.NewToken()
	if err != nil {
		fail(w, err)
		return
	}
	if err := state.WriteToken(next, h.stateDir); err != nil {
		fail(w, err)
		return
	}
	h.token.Set(next)
	h.log.Infow("api token rotated")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Shutdown(w http.ResponseWriter, r *http.Request) {
	body, err := parseBody(w, r, defaultBodyLimit)
	if err != nil {
		fail(w, err)
		return
	}
	if body.Scope != "" && body.Scope != "app" {
		writeError(w, http.StatusBadRequest, "invalid_scope", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	go h.shutdown()
}

func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": config.Read(h.stateDir)})
}

func (h *Handler) SetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	r.Body = http.MaxBytesReader(w, r.Body, defaultBodyLimit)
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_config", nil)
		return
	}
	cleaned, err := config.Write(cfg, h.stateDir)
	if err != nil {
		fail(w, err)
		return
	}
	// Limits are read at startup; a restart applies them.
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "config": cleaned, "restartRequired": true})
}

func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	infos, err := h.profiles.List()
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "profiles": infos})
}

func (h *Handler) ExportProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	archive, err := h.profiles.Export(name)
	if err != nil {
		fail(w, err)
		return
	}
	f, err := os.Open(archive)
	if err != nil {
		fail(w, err)
		return
	}
	defer f.Close()
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition", "attachment; filename="+name+".tar.gz")
	http.ServeContent(w, r, name+".tar.gz", time.Now(), f)
}

func (h *Handler) ImportProfile(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	r.Body = http.MaxBytesReader(w, r.Body, importBodyLimit)
	if err := h.profiles.Import(name, r.Body); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.Delete(mux.Vars(r)["name"]); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeHTTP(w, r)
}
