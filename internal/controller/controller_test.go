package controller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agentify/agentifyd/internal/inspect"
	"github.com/agentify/agentifyd/pkg/models"
)

type fakeInspector struct {
	states   []models.ChallengeState
	stateIdx int

	composer inspect.ComposerTarget
	scan     inspect.SendScan

	signals []inspect.SendSignal
	sigIdx  int

	replies []inspect.ReplySnapshot
	repIdx  int

	blocks []models.CodeBlock
	images []models.ImageRef

	invoked   int
	continues int
	stops     int
	attaches  int
}

func (f *fakeInspector) DetectChallenge() (models.ChallengeState, error) {
	if len(f.states) == 0 {
		return models.ChallengeState{PromptVisible: true}, nil
	}
	st := f.states[f.stateIdx]
	if f.stateIdx < len(f.states)-1 {
		f.stateIdx++
	}
	return st, nil
}

func (f *fakeInspector) ReadPageText(maxChars int) (string, error) { return "", nil }

func (f *fakeInspector) FindComposer() (inspect.ComposerTarget, error) { return f.composer, nil }

func (f *fakeInspector) FindSendControl() (inspect.SendScan, error) { return f.scan, nil }

func (f *fakeInspector) SendSignal() (inspect.SendSignal, error) {
	if len(f.signals) == 0 {
		return inspect.SendSignal{PromptLen: -1}, nil
	}
	sig := f.signals[f.sigIdx]
	if f.sigIdx < len(f.signals)-1 {
		f.sigIdx++
	}
	return sig, nil
}

func (f *fakeInspector) InvokeSend() (bool, error) {
	f.invoked++
	return true, nil
}

func (f *fakeInspector) Reply() (inspect.ReplySnapshot, error) {
	if len(f.replies) == 0 {
		return inspect.ReplySnapshot{}, nil
	}
	snap := f.replies[f.repIdx]
	if f.repIdx < len(f.replies)-1 {
		f.repIdx++
	}
	return snap, nil
}

func (f *fakeInspector) ClickContinue() (bool, error) {
	f.continues++
	return true, nil
}

func (f *fakeInspector) LastCodeBlocks() ([]models.CodeBlock, error) { return f.blocks, nil }

func (f *fakeInspector) AssistantImages(max int) ([]models.ImageRef, error) {
	if max < len(f.images) {
		return f.images[:max], nil
	}
	return f.images, nil
}

func (f *fakeInspector) ClickAttach() (bool, error) {
	f.attaches++
	return true, nil
}

func (f *fakeInspector) ClickStop() (bool, error) {
	f.stops++
	return true, nil
}

type fakeSynth struct {
	ops []string
}

func (s *fakeSynth) ClickAt(x, y float64) error {
	s.ops = append(s.ops, fmt.Sprintf("click(%.0f,%.0f)", x, y))
	return nil
}

func (s *fakeSynth) TypeText(text string) error {
	s.ops = append(s.ops, "type")
	return nil
}

func (s *fakeSynth) SendKey(key string, mods []string) error {
	s.ops = append(s.ops, fmt.Sprintf("key(%s%v)", key, mods))
	return nil
}

func (s *fakeSynth) SelectAll() error {
	s.ops = append(s.ops, "selectall")
	return nil
}

type fakeBinder struct{ bound [][]string }

func (b *fakeBinder) Bind(paths []string) error {
	b.bound = append(b.bound, paths)
	return nil
}

type fakeAttention struct {
	blocked []models.ChallengeKind
	cleared int
}

func (a *fakeAttention) Blocked(kind models.ChallengeKind) { a.blocked = append(a.blocked, kind) }
func (a *fakeAttention) Cleared()                          { a.cleared++ }

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

func newTestController(insp *fakeInspector) (*Controller, *fakeSynth, *fakeAttention, *fakeClock) {
	syn := &fakeSynth{}
	att := &fakeAttention{}
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := New(insp, syn, &fakeBinder{}, att, DefaultTuning(), false, zap.NewNop().Sugar())
	c.now = clk.Now
	c.sleep = func(_ context.Context, d time.Duration) error {
		clk.t = clk.t.Add(d)
		return nil
	}
	return c, syn, att, clk
}

func readyComposer() inspect.ComposerTarget {
	return inspect.ComposerTarget{Found: true, Rect: inspect.Rect{X: 100, Y: 800, W: 600, H: 60}}
}

func TestQueryValidation(t *testing.T) {
	c, _, _, _ := newTestController(&fakeInspector{})

	_, err := c.Query(context.Background(), QueryRequest{Prompt: "   "})
	assert.ErrorIs(t, err, models.ErrMissingPrompt)

	big := make([]byte, 0, 200_001)
	for i := 0; i < 200_001; i++ {
		big = append(big, 'x')
	}
	_, err = c.Query(context.Background(), QueryRequest{Prompt: string(big)})
	assert.ErrorIs(t, err, models.ErrPromptTooLarge)
}

func TestCheckChallengeEdgeTriggered(t *testing.T) {
	insp := &fakeInspector{states: []models.ChallengeState{
		{Blocked: true, Kind: models.ChallengeLogin},
		{Blocked: true, Kind: models.ChallengeLogin},
		{Blocked: false, PromptVisible: true},
	}}
	c, _, att, _ := newTestController(insp)

	for i := 0; i < 3; i++ {
		_, err := c.CheckChallenge(context.Background())
		require.NoError(t, err)
	}

	// Two blocked observations, one notification.
	assert.Equal(t, []models.ChallengeKind{models.ChallengeLogin}, att.blocked)
	assert.Equal(t, 1, att.cleared)
}

func TestEnsureReadyUIGrace(t *testing.T) {
	insp := &fakeInspector{states: []models.ChallengeState{
		{ReadyState: "complete", PromptVisible: false},
	}}
	c, _, att, _ := newTestController(insp)

	err := c.EnsureReady(context.Background(), 8*time.Second)
	require.ErrorIs(t, err, models.ErrTimeoutWaitingForPrompt)

	// A settled page with no composer gets flagged as a UI challenge
	// exactly once after the grace period.
	assert.Equal(t, []models.ChallengeKind{models.ChallengeUI}, att.blocked)
	data := models.ErrorData(err)
	assert.Contains(t, data, "state")
}

func TestEnsureReadyRecovers(t *testing.T) {
	insp := &fakeInspector{states: []models.ChallengeState{
		{ReadyState: "loading"},
		{ReadyState: "complete", PromptVisible: true},
	}}
	c, _, att, _ := newTestController(insp)

	require.NoError(t, c.EnsureReady(context.Background(), 30*time.Second))
	assert.Empty(t, att.blocked)
}

func TestSubmitAlreadyGenerating(t *testing.T) {
	insp := &fakeInspector{
		composer: readyComposer(),
		scan:     inspect.SendScan{StopVisible: true, Host: "chatgpt.com"},
		signals:  []inspect.SendSignal{{PromptLen: 5}},
	}
	c, _, _, _ := newTestController(insp)

	_, err := c.Query(context.Background(), QueryRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, models.ErrAlreadyGenerating)
}

func TestSubmitFallbackOrder(t *testing.T) {
	insp := &fakeInspector{
		composer: readyComposer(),
		scan: inspect.SendScan{
			Found: true,
			Rect:  inspect.Rect{X: 700, Y: 820, W: 40, H: 40},
			Host:  "chatgpt.com",
		},
		// Never reports a submission, so every layer fires.
		signals: []inspect.SendSignal{{PromptLen: 5}},
	}
	c, syn, _, _ := newTestController(insp)

	_, err := c.Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.ErrorIs(t, err, models.ErrSendNotTriggered)
	assert.Equal(t, "chatgpt.com", models.ErrorData(err)["host"])

	// Composer click + clear + type, send click, then the default
	// keyboard ladder: Enter, primary+Enter, alt+Enter. The composer
	// click lands near the top-left corner, not the vertical center.
	assert.Equal(t, []string{
		"click(118,818)",
		"selectall",
		"type",
		"click(720,840)",
		"key(Enter[])",
		"key(Enter[control])",
		"key(Enter[alt])",
	}, syn.ops)
	assert.Equal(t, 1, insp.invoked)
}

func TestQueryHappyPath(t *testing.T) {
	insp := &fakeInspector{
		composer: readyComposer(),
		scan: inspect.SendScan{
			Found: true,
			Rect:  inspect.Rect{X: 700, Y: 820, W: 40, H: 40},
			Host:  "chatgpt.com",
		},
		signals: []inspect.SendSignal{
			{PromptLen: 5},      // after typing
			{StopVisible: true}, // first post-click poll
		},
		replies: []inspect.ReplySnapshot{
			{StopPresent: true, SendEnabled: false, Text: "Hello", Count: 3},
			{StopPresent: false, SendEnabled: true, Text: "Hello world", Count: 3},
		},
		blocks: []models.CodeBlock{{Language: "go", Text: "fmt.Println(1)"}},
	}
	c, _, _, _ := newTestController(insp)

	result, err := c.Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", result.Text)
	assert.Equal(t, 3, result.Meta.MessageCount)
	assert.False(t, result.Meta.HasError)
	require.Len(t, result.CodeBlocks, 1)
	assert.Equal(t, "go", result.CodeBlocks[0].Language)
}

func TestWaitForReplyBoundedContinues(t *testing.T) {
	insp := &fakeInspector{
		composer: readyComposer(),
		scan:     inspect.SendScan{Found: true, Rect: inspect.Rect{X: 700, Y: 820, W: 40, H: 40}, Host: "chatgpt.com"},
		signals: []inspect.SendSignal{
			{PromptLen: 5},
			{StopVisible: true},
		},
		replies: []inspect.ReplySnapshot{
			{Text: "partial", SendEnabled: true, HasContinue: true, Count: 1},
		},
	}
	c, _, _, _ := newTestController(insp)

	result, err := c.Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "partial", result.Text)
	assert.Equal(t, 3, insp.continues)
}

func TestQueryReplyTimeout(t *testing.T) {
	insp := &fakeInspector{
		composer: readyComposer(),
		scan:     inspect.SendScan{Found: true, Rect: inspect.Rect{X: 700, Y: 820, W: 40, H: 40}, Host: "chatgpt.com"},
		signals: []inspect.SendSignal{
			{PromptLen: 5},
			{StopVisible: true},
		},
		replies: []inspect.ReplySnapshot{
			{StopPresent: true, SendEnabled: false, Text: "streaming"},
		},
	}
	c, _, _, _ := newTestController(insp)

	_, err := c.Query(context.Background(), QueryRequest{Prompt: "hi", Timeout: 5 * time.Second})
	require.ErrorIs(t, err, models.ErrTimeoutWaitingForResponse)
	assert.Equal(t, "streaming", models.ErrorData(err)["lastText"])
	assert.Equal(t, true, models.ErrorData(err)["generating"])
}

// queryFakes builds an inspector primed for a successful type-and-submit
// sequence, leaving the reply polls to the caller.
func queryFakes(replies ...inspect.ReplySnapshot) *fakeInspector {
	return &fakeInspector{
		composer: readyComposer(),
		scan:     inspect.SendScan{Found: true, Rect: inspect.Rect{X: 700, Y: 820, W: 40, H: 40}, Host: "chatgpt.com"},
		signals: []inspect.SendSignal{
			{PromptLen: 5},
			{StopVisible: true},
		},
		replies: replies,
	}
}

func TestReplyCompletionGates(t *testing.T) {
	t.Run("composer still disabled", func(t *testing.T) {
		// Stable text with the stop control gone is not enough while the
		// composer has not re-enabled; some UIs hide stop mid-stream.
		insp := queryFakes(inspect.ReplySnapshot{
			StopPresent: false, SendEnabled: false, Text: "final answer", Count: 3,
		})
		c, _, _, _ := newTestController(insp)

		_, err := c.Query(context.Background(), QueryRequest{Prompt: "hi", Timeout: 5 * time.Second})
		assert.ErrorIs(t, err, models.ErrTimeoutWaitingForResponse)
	})

	t.Run("no assistant message", func(t *testing.T) {
		// Structured assistant nodes absent and no fallback flag: the
		// text is shell chrome, never a reply.
		insp := queryFakes(inspect.ReplySnapshot{
			StopPresent: false, SendEnabled: true, Text: "Welcome back", Count: 0,
		})
		c, _, _, _ := newTestController(insp)

		_, err := c.Query(context.Background(), QueryRequest{Prompt: "hi", Timeout: 5 * time.Second})
		assert.ErrorIs(t, err, models.ErrTimeoutWaitingForResponse)
	})

	t.Run("fallback text after grace", func(t *testing.T) {
		// Pages without structured message nodes complete on the main
		// region's text once the fallback grace has elapsed.
		insp := queryFakes(inspect.ReplySnapshot{
			StopPresent: false, SendEnabled: true, Text: "plain reply", Count: 0, UsedFallback: true,
		})
		c, _, _, _ := newTestController(insp)

		result, err := c.Query(context.Background(), QueryRequest{Prompt: "hi"})
		require.NoError(t, err)
		assert.Equal(t, "plain reply", result.Text)
		assert.Equal(t, 0, result.Meta.MessageCount)
	})
}

func TestContinueNotClickedWhileGenerating(t *testing.T) {
	insp := queryFakes(
		inspect.ReplySnapshot{StopPresent: true, SendEnabled: false, Text: "chunk", HasContinue: true, Count: 1},
		inspect.ReplySnapshot{StopPresent: false, SendEnabled: true, Text: "chunk done", Count: 1},
	)
	c, _, _, _ := newTestController(insp)

	result, err := c.Query(context.Background(), QueryRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "chunk done", result.Text)
	// The stale continue label seen mid-generation must not be clicked.
	assert.Equal(t, 0, insp.continues)
}

func TestReadyWaitUsesRequestTimeout(t *testing.T) {
	// 55 seconds of blocked polls before the page clears: longer than
	// the standalone ready timeout, well within the request's.
	blockedFor := func() []models.ChallengeState {
		states := make([]models.ChallengeState, 0, 111)
		for i := 0; i < 110; i++ {
			states = append(states, models.ChallengeState{Blocked: true, Kind: models.ChallengeLogin})
		}
		return append(states, models.ChallengeState{PromptVisible: true})
	}

	t.Run("query", func(t *testing.T) {
		insp := queryFakes(inspect.ReplySnapshot{SendEnabled: true, Text: "ok", Count: 1})
		insp.states = blockedFor()
		c, _, att, _ := newTestController(insp)

		result, err := c.Query(context.Background(), QueryRequest{Prompt: "hi", Timeout: 2 * time.Minute})
		require.NoError(t, err)
		assert.Equal(t, "ok", result.Text)
		assert.Equal(t, []models.ChallengeKind{models.ChallengeLogin}, att.blocked)
		assert.Equal(t, 1, att.cleared)
	})

	t.Run("send", func(t *testing.T) {
		insp := queryFakes(inspect.ReplySnapshot{SendEnabled: true, Text: "ok", Count: 1})
		insp.states = blockedFor()
		c, _, _, _ := newTestController(insp)

		require.NoError(t, c.Send(context.Background(), SendRequest{Prompt: "hi", Timeout: 2 * time.Minute}))
	})
}

// exclusiveInspector flags any second interaction starting before the
// first one's result has been built.
type exclusiveInspector struct {
	fakeInspector
	mu      sync.Mutex
	depth   int
	overlap bool
}

func (f *exclusiveInspector) DetectChallenge() (models.ChallengeState, error) {
	f.mu.Lock()
	f.depth++
	if f.depth > 1 {
		f.overlap = true
	}
	f.mu.Unlock()
	time.Sleep(200 * time.Microsecond)
	return f.fakeInspector.DetectChallenge()
}

func (f *exclusiveInspector) LastCodeBlocks() ([]models.CodeBlock, error) {
	f.mu.Lock()
	f.depth--
	f.mu.Unlock()
	return f.fakeInspector.LastCodeBlocks()
}

func TestInteractionsAreMutuallyExclusive(t *testing.T) {
	insp := &exclusiveInspector{fakeInspector: fakeInspector{
		composer: readyComposer(),
		scan:     inspect.SendScan{Found: true, Rect: inspect.Rect{X: 700, Y: 820, W: 40, H: 40}, Host: "chatgpt.com"},
		signals:  []inspect.SendSignal{{PromptLen: 5, SendDisabled: true}},
		replies:  []inspect.ReplySnapshot{{SendEnabled: true, Text: "done", Count: 2}},
	}}
	c := New(insp, &fakeSynth{}, &fakeBinder{}, &fakeAttention{}, DefaultTuning(), false, zap.NewNop().Sugar())

	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	var clkMu sync.Mutex
	c.now = func() time.Time {
		clkMu.Lock()
		defer clkMu.Unlock()
		return clk.t
	}
	c.sleep = func(_ context.Context, d time.Duration) error {
		clkMu.Lock()
		clk.t = clk.t.Add(d)
		clkMu.Unlock()
		time.Sleep(100 * time.Microsecond)
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.Query(context.Background(), QueryRequest{Prompt: "hi"})
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.False(t, insp.overlap, "interactions interleaved on one tab")
	assert.Equal(t, 0, insp.depth)
}

func TestQueryMissingComposer(t *testing.T) {
	insp := &fakeInspector{composer: inspect.ComposerTarget{Found: false}}
	c, _, _, _ := newTestController(insp)

	_, err := c.Query(context.Background(), QueryRequest{Prompt: "hi"})
	assert.ErrorIs(t, err, models.ErrMissingPromptTextarea)
}

func TestSendStopAfterSend(t *testing.T) {
	insp := &fakeInspector{
		composer: readyComposer(),
		scan:     inspect.SendScan{Found: true, Rect: inspect.Rect{X: 700, Y: 820, W: 40, H: 40}, Host: "chatgpt.com"},
		signals: []inspect.SendSignal{
			{PromptLen: 5},
			{StopVisible: true},
		},
		replies: []inspect.ReplySnapshot{
			{StopPresent: true, SendEnabled: false, Text: "starting"},
		},
	}
	c, _, _, _ := newTestController(insp)

	err := c.Send(context.Background(), SendRequest{Prompt: "hi", StopAfterSend: true})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, insp.stops, 1)
}

func TestStabilityWindow(t *testing.T) {
	base := 1500 * time.Millisecond
	assert.Equal(t, 1500*time.Millisecond, stabilityWindow(base, 0))
	assert.Equal(t, 1500*time.Millisecond, stabilityWindow(base, 2000))
	assert.Equal(t, 2200*time.Millisecond, stabilityWindow(base, 2001))
	assert.Equal(t, 2200*time.Millisecond, stabilityWindow(base, 8000))
	assert.Equal(t, 3*time.Second, stabilityWindow(base, 8001))

	// A configured base above the scaled window wins at every length.
	assert.Equal(t, 4*time.Second, stabilityWindow(4*time.Second, 3000))
	assert.Equal(t, 4*time.Second, stabilityWindow(4*time.Second, 9000))
}
