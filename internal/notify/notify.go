// Package notify fans attention events out to whoever is listening:
// the daemon log always, websocket subscribers when connected.
package notify

import (
	"time"

	"go.uber.org/zap"

	"github.com/agentify/agentifyd/pkg/models"
)

// Event types.
const (
	EventNeedsAttention = "needs_attention"
	EventAllClear       = "all_clear"
	EventTabCreated     = "tab_created"
	EventTabClosed      = "tab_closed"
)

// Event is one notification.
type Event struct {
	Type    string               `json:"type"`
	TabID   string               `json:"tabId,omitempty"`
	TabName string               `json:"tabName,omitempty"`
	Kind    models.ChallengeKind `json:"kind,omitempty"`
	Message string               `json:"message,omitempty"`
	At      time.Time            `json:"at"`
}

// Sink receives events. Publish must not block.
type Sink interface {
	Publish(Event)
}

// AttentionMessage renders the human-facing line for a challenge kind.
func AttentionMessage(kind models.ChallengeKind) string {
	switch kind {
	case models.ChallengeCaptcha:
		return "Captcha check needs a human. Click it in the browser window."
	case models.ChallengeLogin:
		return "You're signed out. Log in in the browser window."
	case models.ChallengeBlocked:
		return "The site is refusing traffic. Have a look in the browser window."
	case models.ChallengeUI:
		return "The page looks stuck. Have a look in the browser window."
	default:
		return "A browser session needs attention."
	}
}

// LogSink writes every event to the daemon log.
type LogSink struct {
	log *zap.SugaredLogger
}

func NewLogSink(log *zap.SugaredLogger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Publish(ev Event) {
	switch ev.Type {
	case EventNeedsAttention:
		s.log.Warnw("attention required", "tabId", ev.TabID, "tab", ev.TabName, "kind", ev.Kind, "message", ev.Message)
	case EventAllClear:
		s.log.Infow("all sessions clear")
	default:
		s.log.Infow("session event", "type", ev.Type, "tabId", ev.TabID, "tab", ev.TabName)
	}
}

// Fanout publishes to every sink in order.
type Fanout []Sink

func (f Fanout) Publish(ev Event) {
	for _, sink := range f {
		sink.Publish(ev)
	}
}
