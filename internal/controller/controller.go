// Package controller drives one chat tab: challenge detection, paced
// prompt entry, layered submission fallbacks and reply-stability
// tracking. One controller per tab; interactions on a tab are mutually
// exclusive.
package controller

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentify/agentifyd/internal/inspect"
	"github.com/agentify/agentifyd/pkg/models"
)

// Inspector reads page state. *inspect.Inspector satisfies it; tests
// substitute scripted fakes.
type Inspector interface {
	DetectChallenge() (models.ChallengeState, error)
	ReadPageText(maxChars int) (string, error)
	FindComposer() (inspect.ComposerTarget, error)
	FindSendControl() (inspect.SendScan, error)
	SendSignal() (inspect.SendSignal, error)
	InvokeSend() (bool, error)
	Reply() (inspect.ReplySnapshot, error)
	ClickContinue() (bool, error)
	LastCodeBlocks() ([]models.CodeBlock, error)
	AssistantImages(max int) ([]models.ImageRef, error)
	ClickAttach() (bool, error)
	ClickStop() (bool, error)
}

// Synthesizer produces trusted input events.
type Synthesizer interface {
	ClickAt(x, y float64) error
	TypeText(text string) error
	SendKey(key string, mods []string) error
	SelectAll() error
}

// FileBinder attaches local files to the page's upload input.
type FileBinder interface {
	Bind(paths []string) error
}

// Attention receives blocked/cleared edges for this tab. Transitions
// are edge-triggered: repeated detections of the same blocked state
// produce exactly one Blocked call.
type Attention interface {
	Blocked(kind models.ChallengeKind)
	Cleared()
}

// Tuning are the controller's timing knobs. Exposed for tests; the
// daemon runs DefaultTuning.
type Tuning struct {
	ReadyPoll    time.Duration
	ReadyGrace   time.Duration
	ReadyTimeout time.Duration

	SendSignalWait  time.Duration
	SendSignalPoll  time.Duration
	DirectClickWait time.Duration
	ComboWait       time.Duration

	ReplyPoll        time.Duration
	ReplyStable      time.Duration
	StopGoneDebounce time.Duration
	FallbackTextWait time.Duration
	MaxContinues     int

	StopAfterSendWait time.Duration

	MaxPromptRunes      int
	HardReplyCeiling    time.Duration
	DefaultQueryTimeout time.Duration
	DefaultSendTimeout  time.Duration
}

func DefaultTuning() Tuning {
	return Tuning{
		ReadyPoll:    500 * time.Millisecond,
		ReadyGrace:   5 * time.Second,
		ReadyTimeout: 45 * time.Second,

		SendSignalWait:  2200 * time.Millisecond,
		SendSignalPoll:  120 * time.Millisecond,
		DirectClickWait: 1400 * time.Millisecond,
		ComboWait:       1500 * time.Millisecond,

		ReplyPoll:        400 * time.Millisecond,
		ReplyStable:      1500 * time.Millisecond,
		StopGoneDebounce: 800 * time.Millisecond,
		FallbackTextWait: 2500 * time.Millisecond,
		MaxContinues:     3,

		StopAfterSendWait: 2500 * time.Millisecond,

		MaxPromptRunes:      200_000,
		HardReplyCeiling:    8 * time.Minute,
		DefaultQueryTimeout: 10 * time.Minute,
		DefaultSendTimeout:  3 * time.Minute,
	}
}

// stabilityWindow returns how long the reply text must stay unchanged
// before it counts as final. Longer replies stream in bursts with
// longer pauses, so the window grows with length; a configured base
// above the scaled value wins.
func stabilityWindow(base time.Duration, textLen int) time.Duration {
	w := base
	switch {
	case textLen > 8000:
		w = 3 * time.Second
	case textLen > 2000:
		w = 2200 * time.Millisecond
	}
	if w < base {
		w = base
	}
	return w
}

// Controller drives one tab.
type Controller struct {
	log       *zap.SugaredLogger
	insp      Inspector
	syn       Synthesizer
	files     FileBinder
	attention Attention
	tun       Tuning
	mac       bool

	// mu serializes interactions on this tab. Reads (page text,
	// challenge checks) don't take it.
	mu sync.Mutex

	// blockedMu guards the edge-trigger state separately so challenge
	// checks stay possible while a query holds mu.
	blockedMu sync.Mutex
	blocked   bool

	now   func() time.Time
	sleep func(context.Context, time.Duration) error
	rng   *rand.Rand
}

func New(insp Inspector, syn Synthesizer, files FileBinder, attention Attention, tun Tuning, mac bool, log *zap.SugaredLogger) *Controller {
	return &Controller{
		log:       log,
		insp:      insp,
		syn:       syn,
		files:     files,
		attention: attention,
		tun:       tun,
		mac:       mac,
		now:       time.Now,
		sleep:     sleepCtx,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// CheckChallenge inspects the page and fires attention edges on
// blocked-state transitions.
func (c *Controller) CheckChallenge(ctx context.Context) (models.ChallengeState, error) {
	if err := ctx.Err(); err != nil {
		return models.ChallengeState{}, err
	}
	state, err := c.insp.DetectChallenge()
	if err != nil {
		return models.ChallengeState{}, err
	}
	c.applyEdge(state.Blocked, state.Kind)
	return state, nil
}

func (c *Controller) applyEdge(blocked bool, kind models.ChallengeKind) {
	c.blockedMu.Lock()
	was := c.blocked
	c.blocked = blocked
	c.blockedMu.Unlock()

	switch {
	case blocked && !was:
		c.log.Warnw("session blocked", "kind", kind)
		c.attention.Blocked(kind)
	case !blocked && was:
		c.log.Infow("session unblocked")
		c.attention.Cleared()
	}
}

// Blocked reports the last observed blocked state without touching the
// page.
func (c *Controller) Blocked() bool {
	c.blockedMu.Lock()
	defer c.blockedMu.Unlock()
	return c.blocked
}

// EnsureReady polls until the page shows a usable composer and no
// challenge. A page that reports document-complete but never grows a
// composer is treated as a UI challenge after a grace period, so a
// human gets pinged instead of the caller burning its whole timeout.
func (c *Controller) EnsureReady(ctx context.Context, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = c.tun.ReadyTimeout
	}
	deadline := c.now().Add(timeout)
	var completeSince time.Time
	uiFlagged := false
	var last models.ChallengeState

	for {
		state, err := c.CheckChallenge(ctx)
		if err != nil {
			return err
		}
		last = state

		if !state.Blocked && state.PromptVisible {
			if uiFlagged {
				c.applyEdge(false, models.ChallengeNone)
			}
			return nil
		}

		if !state.Blocked && state.ReadyState == "complete" {
			if completeSince.IsZero() {
				completeSince = c.now()
			}
			if !uiFlagged && c.now().Sub(completeSince) >= c.tun.ReadyGrace {
				// Settled page, no composer, nothing recognizably hostile:
				// the UI itself needs a human.
				uiFlagged = true
				c.applyEdge(true, models.ChallengeUI)
			}
		} else {
			completeSince = time.Time{}
		}

		if c.now().After(deadline) {
			return models.ErrTimeoutWaitingForPrompt.With("state", last)
		}
		if err := c.sleep(ctx, c.tun.ReadyPoll); err != nil {
			return err
		}
	}
}

// ReadPageText returns the page's visible text capped to maxChars runes.
func (c *Controller) ReadPageText(maxChars int) (string, error) {
	return c.insp.ReadPageText(maxChars)
}

// Stop clicks the stop control if a generation is running.
func (c *Controller) Stop() (bool, error) {
	return c.insp.ClickStop()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
