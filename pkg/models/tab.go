package models

import "time"

// ChallengeKind classifies a blocking page state.
type ChallengeKind string

const (
	ChallengeCaptcha ChallengeKind = "captcha"
	ChallengeLogin   ChallengeKind = "login"
	ChallengeBlocked ChallengeKind = "blocked"
	ChallengeUI      ChallengeKind = "ui"
	ChallengeNone    ChallengeKind = ""
)

// ChallengeIndicators are the raw page signals challenge classification
// is derived from. They are returned verbatim to callers for debugging.
type ChallengeIndicators struct {
	HasTurnstile    bool `json:"hasTurnstile"`
	HasArkose       bool `json:"hasArkose"`
	HasVerifyButton bool `json:"hasVerifyButton"`
	Looks403        bool `json:"looks403"`
	LoginLike       bool `json:"loginLike"`
}

// ChallengeState is one inspection snapshot of a session's page.
type ChallengeState struct {
	URL           string              `json:"url"`
	Title         string              `json:"title"`
	ReadyState    string              `json:"readyState"`
	Blocked       bool                `json:"blocked"`
	PromptVisible bool                `json:"promptVisible"`
	Kind          ChallengeKind       `json:"kind,omitempty"`
	Indicators    ChallengeIndicators `json:"indicators"`
}

// TabInfo is the externally visible description of a live session.
type TabInfo struct {
	ID         string    `json:"id"`
	Key        string    `json:"key,omitempty"`
	Name       string    `json:"name"`
	URL        string    `json:"url,omitempty"`
	Protected  bool      `json:"protected"`
	Blocked    bool      `json:"blocked"`
	CreatedAt  time.Time `json:"createdAt"`
	LastUsedAt time.Time `json:"lastUsedAt"`
}

// CodeBlock is one fenced code block extracted from an assistant reply.
type CodeBlock struct {
	Language string `json:"language,omitempty"`
	Text     string `json:"text"`
}

// ReplyMeta carries completion metadata for a finished query.
type ReplyMeta struct {
	MessageCount int  `json:"count"`
	HasError     bool `json:"hasError"`
}

// ReplyResult is the immutable outcome of a completed query.
type ReplyResult struct {
	Text       string      `json:"text"`
	CodeBlocks []CodeBlock `json:"codeBlocks"`
	Meta       ReplyMeta   `json:"meta"`
}

// ImageRef points at an image found in the latest assistant message.
// DataURL is populated when the image could be read in-page.
type ImageRef struct {
	Src     string `json:"src"`
	Alt     string `json:"alt,omitempty"`
	DataURL string `json:"dataUrl,omitempty"`
}

// SavedImage describes an assistant image written to local disk.
type SavedImage struct {
	Path   string `json:"path"`
	Alt    string `json:"alt,omitempty"`
	MIME   string `json:"mime,omitempty"`
	Source string `json:"source,omitempty"`
}
