package input

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentEvent struct {
	method string
	params map[string]interface{}
}

type recordingCDP struct {
	events []sentEvent
}

func (c *recordingCDP) Send(method string, params map[string]interface{}) (interface{}, error) {
	c.events = append(c.events, sentEvent{method: method, params: params})
	return nil, nil
}

func newTestSynthesizer(mac bool) (*Synthesizer, *recordingCDP) {
	cdp := &recordingCDP{}
	s := New(cdp, mac, DefaultPacing())
	s.rng = rand.New(rand.NewSource(1))
	s.sleep = func(time.Duration) {}
	return s, cdp
}

func (c *recordingCDP) ofType(kind string) []sentEvent {
	var out []sentEvent
	for _, e := range c.events {
		if e.params["type"] == kind {
			out = append(out, e)
		}
	}
	return out
}

func TestMoveToStepBounds(t *testing.T) {
	t.Run("short hop still curves", func(t *testing.T) {
		s, cdp := newTestSynthesizer(false)
		require.NoError(t, s.MoveTo(10, 10))
		moves := cdp.ofType("mouseMoved")
		assert.Len(t, moves, 6)
	})

	t.Run("long move is clamped", func(t *testing.T) {
		s, cdp := newTestSynthesizer(false)
		require.NoError(t, s.MoveTo(5000, 5000))
		moves := cdp.ofType("mouseMoved")
		assert.Len(t, moves, 22)
		// The final event lands exactly on target.
		last := moves[len(moves)-1]
		assert.Equal(t, 5000.0, last.params["x"])
		assert.Equal(t, 5000.0, last.params["y"])
	})
}

func TestClickAtPressRelease(t *testing.T) {
	s, cdp := newTestSynthesizer(false)
	require.NoError(t, s.ClickAt(200, 300))

	presses := cdp.ofType("mousePressed")
	releases := cdp.ofType("mouseReleased")
	require.Len(t, presses, 1)
	require.Len(t, releases, 1)
	assert.Equal(t, 200.0, presses[0].params["x"])
	assert.Equal(t, 300.0, presses[0].params["y"])
	assert.Equal(t, "left", presses[0].params["button"])
	assert.Equal(t, 1, presses[0].params["clickCount"])

	// Press comes after the approach movement and before the release.
	last := cdp.events[len(cdp.events)-1]
	assert.Equal(t, "mouseReleased", last.params["type"])
}

func TestTypeTextOneEventPerRune(t *testing.T) {
	s, cdp := newTestSynthesizer(false)
	require.NoError(t, s.TypeText("héllo\n"))

	require.Len(t, cdp.events, 6)
	assert.Equal(t, "Input.dispatchKeyEvent", cdp.events[0].method)
	assert.Equal(t, "char", cdp.events[0].params["type"])
	assert.Equal(t, "h", cdp.events[0].params["text"])
	assert.Equal(t, "é", cdp.events[1].params["text"])
	assert.Equal(t, "\n", cdp.events[5].params["text"])
}

func TestTypeTextHonorsPacing(t *testing.T) {
	cdp := &recordingCDP{}
	s := New(cdp, false, Pacing{TypeJitterMin: 5 * time.Millisecond, TypeJitterMax: 5 * time.Millisecond})
	s.rng = rand.New(rand.NewSource(1))
	var slept []time.Duration
	s.sleep = func(d time.Duration) { slept = append(slept, d) }

	require.NoError(t, s.TypeText("abc"))
	require.Len(t, slept, 3)
	for _, d := range slept {
		assert.Equal(t, 5*time.Millisecond, d)
	}
}

func TestSendKeyModifierMask(t *testing.T) {
	cases := []struct {
		mods []string
		mask int
	}{
		{nil, 0},
		{[]string{"alt"}, 1},
		{[]string{"control"}, 2},
		{[]string{"ctrl"}, 2},
		{[]string{"meta"}, 4},
		{[]string{"shift"}, 8},
		{[]string{"control", "shift"}, 10},
	}
	for _, c := range cases {
		assert.Equal(t, c.mask, modifierMask(c.mods), "mods %v", c.mods)
	}
}

func TestSendKeyEnterVariants(t *testing.T) {
	t.Run("plain enter carries text", func(t *testing.T) {
		s, cdp := newTestSynthesizer(false)
		require.NoError(t, s.SendKey("Enter", nil))

		require.Len(t, cdp.events, 2)
		down, up := cdp.events[0], cdp.events[1]
		assert.Equal(t, "keyDown", down.params["type"])
		assert.Equal(t, "\r", down.params["text"])
		assert.Equal(t, 13, down.params["windowsVirtualKeyCode"])
		assert.Equal(t, "keyUp", up.params["type"])
	})

	t.Run("modified enter is raw", func(t *testing.T) {
		s, cdp := newTestSynthesizer(false)
		require.NoError(t, s.SendKey("Enter", []string{"control"}))

		down := cdp.events[0]
		assert.Equal(t, "rawKeyDown", down.params["type"])
		assert.Equal(t, 2, down.params["modifiers"])
		assert.NotContains(t, down.params, "text")
	})
}

func TestSelectAll(t *testing.T) {
	t.Run("linux uses control", func(t *testing.T) {
		s, cdp := newTestSynthesizer(false)
		require.NoError(t, s.SelectAll())

		require.Len(t, cdp.events, 4)
		assert.Equal(t, "a", cdp.events[0].params["key"])
		assert.Equal(t, 2, cdp.events[0].params["modifiers"])
		assert.Equal(t, "Backspace", cdp.events[2].params["key"])
		assert.Equal(t, 0, cdp.events[2].params["modifiers"])
	})

	t.Run("mac uses meta", func(t *testing.T) {
		s, cdp := newTestSynthesizer(true)
		require.NoError(t, s.SelectAll())
		assert.Equal(t, 4, cdp.events[0].params["modifiers"])
	})
}
