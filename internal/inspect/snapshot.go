package inspect

// ComposerTarget is the focused composer's location, used for the
// human-shaped click before typing.
type ComposerTarget struct {
	Found bool `json:"found"`
	Rect  Rect `json:"rect"`
}

// SendScan is the result of locating a send affordance.
type SendScan struct {
	// StopVisible means a stop/generating control is already showing,
	// so submitting now would interleave with an active generation.
	StopVisible bool
	Found       bool
	Rect        Rect
	Host        string
}

// SendSignal is one poll of the post-click submission indicators.
type SendSignal struct {
	StopVisible  bool `json:"stopVisible"`
	SendDisabled bool `json:"sendDisabled"`
	// PromptLen is the composer's current content length, or -1 when no
	// composer was found. 0 means the composer emptied after submit.
	PromptLen int `json:"promptLen"`
}

// Submitted reports whether any submission indicator fired.
func (s SendSignal) Submitted() bool {
	return s.StopVisible || s.SendDisabled || s.PromptLen == 0
}

// ReplySnapshot is one poll of the reply-stability loop.
type ReplySnapshot struct {
	StopPresent bool   `json:"stop"`
	SendEnabled bool   `json:"sendEnabled"`
	Text        string `json:"txt"`
	Count       int    `json:"count"`
	// UsedFallback means no structured assistant message node existed
	// and Text came from the page's main region instead.
	UsedFallback bool `json:"usedFallback"`
	HasError     bool `json:"hasError"`
	HasContinue  bool `json:"hasContinue"`
}

// Generating reports the conjunction that distinguishes genuine
// generation from unrelated visible stop/cancel buttons elsewhere.
func (s ReplySnapshot) Generating() bool {
	return s.StopPresent && !s.SendEnabled
}
