package browser

import (
	"fmt"

	"github.com/playwright-community/playwright-go"
)

// Window controls visibility of the browser window that hosts a tab.
// Attention routing raises it when a human must act and minimizes it
// again once all sessions are clear.
type Window interface {
	Show() error
	Hide() error
}

// cdpWindow drives window state through the Browser devtools domain.
// Works for local headful Chromium; remote/headless backends get the
// no-op instead.
type cdpWindow struct {
	cdp  playwright.CDPSession
	page playwright.Page
}

// NewWindow returns a window handle for the page, or a no-op when the
// backend has no OS window to manage.
func NewWindow(cdp playwright.CDPSession, page playwright.Page, headless bool) Window {
	if headless || cdp == nil {
		return noopWindow{}
	}
	return &cdpWindow{cdp: cdp, page: page}
}

func (w *cdpWindow) windowID() (int, error) {
	raw, err := w.cdp.Send("Browser.getWindowForTarget", map[string]interface{}{})
	if err != nil {
		return 0, fmt.Errorf("get window: %w", err)
	}
	result, ok := raw.(map[string]interface{})
	if !ok {
		return 0, fmt.Errorf("get window: unexpected result %T", raw)
	}
	id, ok := result["windowId"].(float64)
	if !ok {
		return 0, fmt.Errorf("get window: missing windowId")
	}
	return int(id), nil
}

func (w *cdpWindow) setState(state string) error {
	id, err := w.windowID()
	if err != nil {
		return err
	}
	_, err = w.cdp.Send("Browser.setWindowBounds", map[string]interface{}{
		"windowId": id,
		"bounds":   map[string]interface{}{"windowState": state},
	})
	if err != nil {
		return fmt.Errorf("set window state %s: %w", state, err)
	}
	return nil
}

func (w *cdpWindow) Show() error {
	if err := w.setState("normal"); err != nil {
		return err
	}
	return w.page.BringToFront()
}

func (w *cdpWindow) Hide() error {
	return w.setState("minimized")
}

type noopWindow struct{}

func (noopWindow) Show() error { return nil }
func (noopWindow) Hide() error { return nil }
