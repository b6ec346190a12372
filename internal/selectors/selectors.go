// Package selectors holds the host-specific structural queries used to
// find the composer, send/stop controls and assistant messages. The set
// is data, not code: operators can override individual entries via
// selectors.override.json in the state dir.
package selectors

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
)

// Set names the page structures the controller interacts with. Each
// value is a CSS selector list.
type Set struct {
	PromptTextarea   string `json:"promptTextarea"`
	SendButton       string `json:"sendButton"`
	StopButton       string `json:"stopButton"`
	AssistantMessage string `json:"assistantMessage"`
}

// Defaults returns the stock selector set for the supported chat UI.
func Defaults() Set {
	return Set{
		PromptTextarea:   `#prompt-textarea, textarea[data-testid="prompt-textarea"], div[contenteditable="true"][id*="prompt"]`,
		SendButton:       `button[data-testid="send-button"], button[aria-label*="Send" i]`,
		StopButton:       `button[data-testid="stop-button"], button[aria-label*="Stop" i]`,
		AssistantMessage: `[data-message-author-role="assistant"]`,
	}
}

// OverridePath returns the override file location in the state dir.
func OverridePath(stateDir string) string {
	return filepath.Join(stateDir, "selectors.override.json")
}

// Load merges the override file over the defaults. Only known keys with
// non-empty string values are honored; anything else is ignored so a
// bad override degrades to defaults instead of breaking automation.
func Load(stateDir string) Set {
	set := Defaults()
	raw, err := os.ReadFile(OverridePath(stateDir))
	if err != nil {
		return set
	}
	var override map[string]string
	if json.Unmarshal(raw, &override) != nil {
		return set
	}
	return Merge(set, override)
}

// Merge applies an override map onto a selector set key by key.
func Merge(set Set, override map[string]string) Set {
	for key, value := range override {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		switch key {
		case "promptTextarea":
			set.PromptTextarea = value
		case "sendButton":
			set.SendButton = value
		case "stopButton":
			set.StopButton = value
		case "assistantMessage":
			set.AssistantMessage = value
		}
	}
	return set
}
