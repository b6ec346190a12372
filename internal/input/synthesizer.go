// Package input synthesizes mouse and keyboard activity at the CDP
// level. Events are dispatched through Input.dispatchMouseEvent and
// Input.dispatchKeyEvent with human-shaped pacing, so the page sees
// trusted input rather than synthetic DOM events.
package input

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// CDP is the slice of the devtools session the synthesizer needs.
// playwright.CDPSession satisfies it.
type CDP interface {
	Send(method string, params map[string]interface{}) (interface{}, error)
}

// Pacing bounds the random per-keystroke delay while typing.
type Pacing struct {
	TypeJitterMin time.Duration
	TypeJitterMax time.Duration
}

func DefaultPacing() Pacing {
	return Pacing{
		TypeJitterMin: 12 * time.Millisecond,
		TypeJitterMax: 45 * time.Millisecond,
	}
}

// Synthesizer dispatches paced input events over one tab's CDP session.
// Not safe for concurrent use; the controller serializes access.
type Synthesizer struct {
	cdp  CDP
	mac  bool
	pace Pacing

	lastX float64
	lastY float64

	// injectable for tests
	rng   *rand.Rand
	sleep func(time.Duration)
}

func New(cdp CDP, mac bool, pace Pacing) *Synthesizer {
	if pace.TypeJitterMax <= 0 {
		pace = DefaultPacing()
	}
	return &Synthesizer{
		cdp:   cdp,
		mac:   mac,
		pace:  pace,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep: time.Sleep,
	}
}

// between returns a random duration in [min,max).
func (s *Synthesizer) between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(s.rng.Int63n(int64(max-min)))
}

// MoveTo moves the pointer along a jittered line to (x, y). Step count
// scales with distance, clamped so short hops still curve and long ones
// don't crawl.
func (s *Synthesizer) MoveTo(x, y float64) error {
	dx := x - s.lastX
	dy := y - s.lastY
	dist := math.Hypot(dx, dy)
	steps := int(dist / 35)
	if steps < 6 {
		steps = 6
	}
	if steps > 22 {
		steps = 22
	}

	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		px := s.lastX + dx*t
		py := s.lastY + dy*t
		if i < steps {
			px += (s.rng.Float64() - 0.5) * 4
			py += (s.rng.Float64() - 0.5) * 4
		}
		if err := s.mouseEvent("mouseMoved", px, py, "none", 0); err != nil {
			return err
		}
		s.sleep(s.between(6*time.Millisecond, 18*time.Millisecond))
	}
	s.lastX, s.lastY = x, y
	return nil
}

// ClickAt moves to (x, y) and performs a left click with a held press.
func (s *Synthesizer) ClickAt(x, y float64) error {
	if err := s.MoveTo(x, y); err != nil {
		return err
	}
	if err := s.mouseEvent("mousePressed", x, y, "left", 1); err != nil {
		return err
	}
	s.sleep(s.between(20*time.Millisecond, 60*time.Millisecond))
	return s.mouseEvent("mouseReleased", x, y, "left", 1)
}

func (s *Synthesizer) mouseEvent(kind string, x, y float64, button string, clickCount int) error {
	params := map[string]interface{}{
		"type":   kind,
		"x":      x,
		"y":      y,
		"button": button,
	}
	if clickCount > 0 {
		params["clickCount"] = clickCount
	}
	if _, err := s.cdp.Send("Input.dispatchMouseEvent", params); err != nil {
		return fmt.Errorf("dispatch %s: %w", kind, err)
	}
	return nil
}

// TypeText types text one rune at a time with per-keystroke jitter.
// Newlines are inserted as shift-free char events so they don't submit.
func (s *Synthesizer) TypeText(text string) error {
	for _, r := range text {
		params := map[string]interface{}{
			"type": "char",
			"text": string(r),
		}
		if _, err := s.cdp.Send("Input.dispatchKeyEvent", params); err != nil {
			return fmt.Errorf("type rune: %w", err)
		}
		s.sleep(s.between(s.pace.TypeJitterMin, s.pace.TypeJitterMax))
	}
	return nil
}

// CDP modifier bitmask.
const (
	modAlt   = 1
	modCtrl  = 2
	modMeta  = 4
	modShift = 8
)

func modifierMask(mods []string) int {
	mask := 0
	for _, m := range mods {
		switch strings.ToLower(m) {
		case "alt":
			mask |= modAlt
		case "control", "ctrl":
			mask |= modCtrl
		case "meta", "cmd":
			mask |= modMeta
		case "shift":
			mask |= modShift
		}
	}
	return mask
}

var virtualKeyCodes = map[string]int{
	"Enter":     13,
	"Backspace": 8,
	"Tab":       9,
	"Escape":    27,
	"a":         65,
	"A":         65,
}

// SendKey presses and releases a named key with the given modifiers
// applied as a bitmask on both events.
func (s *Synthesizer) SendKey(key string, mods []string) error {
	mask := modifierMask(mods)
	code := key
	if len(key) == 1 {
		code = "Key" + strings.ToUpper(key)
	}
	vk := virtualKeyCodes[key]

	down := map[string]interface{}{
		"type":                  "rawKeyDown",
		"key":                   key,
		"code":                  code,
		"modifiers":             mask,
		"windowsVirtualKeyCode": vk,
		"nativeVirtualKeyCode":  vk,
	}
	if key == "Enter" && mask == 0 {
		down["type"] = "keyDown"
		down["text"] = "\r"
	}
	if _, err := s.cdp.Send("Input.dispatchKeyEvent", down); err != nil {
		return fmt.Errorf("key down %s: %w", key, err)
	}
	s.sleep(s.between(15*time.Millisecond, 45*time.Millisecond))

	up := map[string]interface{}{
		"type":                  "keyUp",
		"key":                   key,
		"code":                  code,
		"modifiers":             mask,
		"windowsVirtualKeyCode": vk,
		"nativeVirtualKeyCode":  vk,
	}
	if _, err := s.cdp.Send("Input.dispatchKeyEvent", up); err != nil {
		return fmt.Errorf("key up %s: %w", key, err)
	}
	return nil
}

// SelectAll selects the focused control's content and deletes it, using
// the platform's primary modifier.
func (s *Synthesizer) SelectAll() error {
	primary := "control"
	if s.mac {
		primary = "meta"
	}
	if err := s.SendKey("a", []string{primary}); err != nil {
		return err
	}
	s.sleep(s.between(30*time.Millisecond, 70*time.Millisecond))
	return s.SendKey("Backspace", nil)
}
