package controller

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/agentify/agentifyd/internal/inspect"
	"github.com/agentify/agentifyd/internal/selectors"
	"github.com/agentify/agentifyd/pkg/models"
)

// QueryRequest is one ask-and-wait interaction.
type QueryRequest struct {
	Prompt string
	// Files are local paths to attach before sending.
	Files []string
	// Timeout bounds the whole interaction. Zero means the default; the
	// reply wait is additionally capped by the hard ceiling.
	Timeout time.Duration
}

// SendRequest is a fire-and-forget submission.
type SendRequest struct {
	Prompt string
	Files  []string
	// Timeout bounds the ready wait. Zero means the default.
	Timeout time.Duration
	// StopAfterSend clicks stop as soon as generation starts, for
	// "prime the conversation" use.
	StopAfterSend bool
}

// Query types the prompt, submits it and waits for a stable reply.
func (c *Controller) Query(ctx context.Context, req QueryRequest) (models.ReplyResult, error) {
	if err := validatePrompt(req.Prompt, c.tun.MaxPromptRunes); err != nil {
		return models.ReplyResult{}, err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.tun.DefaultQueryTimeout
	}
	ceiling := timeout
	if ceiling > c.tun.HardReplyCeiling {
		ceiling = c.tun.HardReplyCeiling
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The ready wait gets the full request timeout: a human may need
	// minutes to clear a login or captcha before the query can proceed.
	if err := c.EnsureReady(ctx, timeout); err != nil {
		return models.ReplyResult{}, err
	}
	if err := c.attachFiles(req.Files); err != nil {
		return models.ReplyResult{}, err
	}
	if err := c.typePrompt(ctx, req.Prompt); err != nil {
		return models.ReplyResult{}, err
	}
	if err := c.submit(ctx); err != nil {
		return models.ReplyResult{}, err
	}
	return c.waitForReply(ctx, ceiling)
}

// Send submits without waiting for the reply.
func (c *Controller) Send(ctx context.Context, req SendRequest) error {
	if err := validatePrompt(req.Prompt, c.tun.MaxPromptRunes); err != nil {
		return err
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.tun.DefaultSendTimeout
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.EnsureReady(ctx, timeout); err != nil {
		return err
	}
	if err := c.attachFiles(req.Files); err != nil {
		return err
	}
	if err := c.typePrompt(ctx, req.Prompt); err != nil {
		return err
	}
	if err := c.submit(ctx); err != nil {
		return err
	}

	if req.StopAfterSend {
		c.stopEarly(ctx)
	}
	return nil
}

func validatePrompt(prompt string, maxRunes int) error {
	if strings.TrimSpace(prompt) == "" {
		return models.ErrMissingPrompt
	}
	if utf8.RuneCountInString(prompt) > maxRunes {
		return models.ErrPromptTooLarge.With("maxChars", maxRunes)
	}
	return nil
}

func (c *Controller) attachFiles(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	// Surface the input first; many UIs only mount it on demand.
	if _, err := c.insp.ClickAttach(); err != nil {
		return err
	}
	return c.files.Bind(paths)
}

// typePrompt clicks into the composer, clears it, and types the prompt
// with human pacing. The click lands near the top-left corner so tall
// composers don't put the caret under an overlay button.
func (c *Controller) typePrompt(ctx context.Context, prompt string) error {
	target, err := c.insp.FindComposer()
	if err != nil {
		return err
	}
	if !target.Found {
		return models.ErrMissingPromptTextarea
	}

	r := target.Rect
	clickX := r.X + minF(r.W-6, 18)
	clickY := r.Y + minF(r.H-6, 18)
	if err := c.syn.ClickAt(clickX, clickY); err != nil {
		return models.ErrTypeFailed.With("cause", err.Error())
	}
	if err := c.syn.SelectAll(); err != nil {
		return models.ErrTypeFailed.With("cause", err.Error())
	}
	if err := c.syn.TypeText(prompt); err != nil {
		return models.ErrTypeFailed.With("cause", err.Error())
	}

	sig, err := c.insp.SendSignal()
	if err != nil {
		return err
	}
	if sig.PromptLen == 0 {
		return models.ErrTypeFailed.With("cause", "composer still empty after typing")
	}
	return nil
}

// submit fires the layered submission sequence: synthesized click on
// the best send control, programmatic click, then the host's keyboard
// combos. Each layer waits for a submission signal before escalating.
func (c *Controller) submit(ctx context.Context) error {
	scan, err := c.insp.FindSendControl()
	if err != nil {
		return err
	}
	if scan.StopVisible {
		return models.ErrAlreadyGenerating
	}

	if scan.Found {
		center := scan.Rect
		if err := c.syn.ClickAt(center.X+center.W/2, center.Y+center.H/2); err != nil {
			return err
		}
		ok, err := c.awaitSendSignal(ctx, c.tun.SendSignalWait)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}

		if _, err := c.insp.InvokeSend(); err != nil {
			return err
		}
		ok, err = c.awaitSendSignal(ctx, c.tun.DirectClickWait)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}

	for _, combo := range selectors.SubmitCombos(scan.Host, c.mac) {
		if err := c.sleep(ctx, time.Duration(25+c.rng.Intn(65))*time.Millisecond); err != nil {
			return err
		}
		if err := c.syn.SendKey(combo.Key, combo.Modifiers); err != nil {
			return err
		}
		ok, err := c.awaitSendSignal(ctx, c.tun.ComboWait)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return models.ErrSendNotTriggered.With("host", scan.Host)
}

// awaitSendSignal polls the submission indicators for up to wait.
func (c *Controller) awaitSendSignal(ctx context.Context, wait time.Duration) (bool, error) {
	deadline := c.now().Add(wait)
	for {
		sig, err := c.insp.SendSignal()
		if err != nil {
			return false, err
		}
		if sig.Submitted() {
			return true, nil
		}
		if c.now().After(deadline) {
			return false, nil
		}
		if err := c.sleep(ctx, c.tun.SendSignalPoll); err != nil {
			return false, err
		}
	}
}

// waitForReply polls until the reply text has been stable for its
// length-scaled window, the stop control has been gone for the debounce
// period and the composer has re-enabled. Continue-generating prompts
// are clicked through a bounded number of times.
func (c *Controller) waitForReply(ctx context.Context, ceiling time.Duration) (models.ReplyResult, error) {
	start := c.now()
	deadline := start.Add(ceiling)
	lastText := ""
	lastChange := start
	var stopGoneSince time.Time
	continues := 0

	for {
		snap, err := c.insp.Reply()
		if err != nil {
			return models.ReplyResult{}, err
		}
		now := c.now()

		if snap.Text != lastText {
			lastText = snap.Text
			lastChange = now
		}

		if snap.Generating() {
			stopGoneSince = time.Time{}
		} else if stopGoneSince.IsZero() {
			stopGoneSince = now
		}

		// A stale continue label can linger while a generation is still
		// running; only click it once the stop control is gone.
		if !snap.StopPresent && snap.HasContinue && continues < c.tun.MaxContinues {
			clicked, err := c.insp.ClickContinue()
			if err != nil {
				return models.ReplyResult{}, err
			}
			if clicked {
				continues++
				c.log.Debugw("clicked continue", "attempt", continues)
				if err := c.sleep(ctx, 250*time.Millisecond); err != nil {
					return models.ReplyResult{}, err
				}
				continue
			}
		}

		stopSettled := !stopGoneSince.IsZero() && now.Sub(stopGoneSince) >= c.tun.StopGoneDebounce
		textSettled := now.Sub(lastChange) >= stabilityWindow(c.tun.ReplyStable, utf8.RuneCountInString(lastText))
		// Shell pages with no structured assistant node only count once
		// the fallback text has had time to hydrate.
		haveMessage := snap.Count > 0 || (snap.UsedFallback && now.Sub(start) >= c.tun.FallbackTextWait)
		if stopSettled && snap.SendEnabled && textSettled && haveMessage && lastText != "" {
			return c.buildResult(snap)
		}

		if now.After(deadline) {
			return models.ReplyResult{}, models.ErrTimeoutWaitingForResponse.
				With("lastText", inspect.CapRunes(lastText, 2000)).
				With("generating", snap.Generating())
		}
		if err := c.sleep(ctx, c.tun.ReplyPoll); err != nil {
			return models.ReplyResult{}, err
		}
	}
}

func (c *Controller) buildResult(snap inspect.ReplySnapshot) (models.ReplyResult, error) {
	blocks, err := c.insp.LastCodeBlocks()
	if err != nil {
		// The text is already final; missing code blocks shouldn't sink
		// the whole query.
		c.log.Warnw("code block extraction failed", "error", err)
		blocks = nil
	}
	return models.ReplyResult{
		Text:       snap.Text,
		CodeBlocks: blocks,
		Meta: models.ReplyMeta{
			MessageCount: snap.Count,
			HasError:     snap.HasError,
		},
	}, nil
}

// stopEarly clicks stop as soon as generation is observed, bounded by
// the stop-after-send window. Best effort; the send already succeeded.
func (c *Controller) stopEarly(ctx context.Context) {
	deadline := c.now().Add(c.tun.StopAfterSendWait)
	for c.now().Before(deadline) {
		snap, err := c.insp.Reply()
		if err != nil {
			return
		}
		if snap.Generating() {
			if _, err := c.insp.ClickStop(); err == nil {
				return
			}
		}
		if c.sleep(ctx, c.tun.SendSignalPoll) != nil {
			return
		}
	}
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
