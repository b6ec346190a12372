package inspect

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentify/agentifyd/internal/selectors"
	"github.com/agentify/agentifyd/pkg/models"
)

// scriptedPage returns canned evaluate results keyed by a substring of
// the script.
type scriptedPage struct {
	results map[string]interface{}
	scripts []string
}

func (p *scriptedPage) Evaluate(expression string, options ...interface{}) (interface{}, error) {
	p.scripts = append(p.scripts, expression)
	for marker, result := range p.results {
		if strings.Contains(expression, marker) {
			return result, nil
		}
	}
	return nil, nil
}

func TestDetectChallengeDecodesAndClassifies(t *testing.T) {
	page := &scriptedPage{results: map[string]interface{}{
		"indicators": map[string]interface{}{
			"url":        "https://chatgpt.com/",
			"title":      "ChatGPT",
			"readyState": "complete",
			"indicators": map[string]interface{}{
				"hasTurnstile": true,
				"loginLike":    true,
			},
			"candidates": []interface{}{
				map[string]interface{}{
					"idx": float64(0), "tag": "textarea", "label": "message",
					"rect": map[string]interface{}{"x": 10.0, "y": 800.0, "w": 600.0, "h": 60.0},
				},
			},
		},
	}}
	in := New(page, selectors.Defaults())

	st, err := in.DetectChallenge()
	require.NoError(t, err)
	assert.True(t, st.Blocked)
	assert.Equal(t, models.ChallengeCaptcha, st.Kind)
	assert.True(t, st.PromptVisible)
	assert.Equal(t, "complete", st.ReadyState)
	assert.True(t, st.Indicators.HasTurnstile)
}

func TestDetectChallengeNoComposer(t *testing.T) {
	page := &scriptedPage{results: map[string]interface{}{
		"indicators": map[string]interface{}{
			"url":        "https://chatgpt.com/",
			"readyState": "complete",
			"indicators": map[string]interface{}{"loginLike": true},
			"candidates": []interface{}{},
		},
	}}
	in := New(page, selectors.Defaults())

	st, err := in.DetectChallenge()
	require.NoError(t, err)
	assert.False(t, st.PromptVisible)
	assert.True(t, st.Blocked)
	assert.Equal(t, models.ChallengeLogin, st.Kind)
}

func TestReadPageTextCapsRunes(t *testing.T) {
	page := &scriptedPage{results: map[string]interface{}{
		"innerText": strings.Repeat("ä", 50),
	}}
	in := New(page, selectors.Defaults())

	text, err := in.ReadPageText(10)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ä", 10), text)
}

func TestFindSendControlPicksAndReturnsHost(t *testing.T) {
	page := &scriptedPage{results: map[string]interface{}{
		"stopVisible": map[string]interface{}{
			"stopVisible": false,
			"host":        "chatgpt.com",
			"candidates": []interface{}{
				map[string]interface{}{
					"idx": float64(0), "matchesSend": true, "label": "send",
					"rect": map[string]interface{}{"x": 700.0, "y": 820.0, "w": 32.0, "h": 32.0},
				},
			},
		},
	}}
	in := New(page, selectors.Defaults())

	scan, err := in.FindSendControl()
	require.NoError(t, err)
	assert.True(t, scan.Found)
	assert.Equal(t, "chatgpt.com", scan.Host)
	assert.Equal(t, 700.0, scan.Rect.X)
}

func TestSelectorInjectionIsQuoted(t *testing.T) {
	sels := selectors.Defaults()
	script := render(jsInvokeSend, map[string]string{
		"__SEND_SEL__": jsString(sels.SendButton),
	})
	assert.NotContains(t, script, "__SEND_SEL__")
	assert.Contains(t, script, `\"send-button\"`)
}

func TestScriptsCarryNoRawControlBytes(t *testing.T) {
	// Control characters belong in the scripts as JS escapes, never as
	// raw bytes in the source literals.
	scripts := map[string]string{
		"helpers":       jsHelpers,
		"detect":        jsDetect,
		"readText":      jsReadText,
		"collect":       jsCollectComposer,
		"focus":         jsFocusComposer,
		"scanSend":      jsScanSend,
		"sendSignal":    jsSendSignal,
		"invokeSend":    jsInvokeSend,
		"reply":         jsReplySnapshot,
		"clickContinue": jsClickContinue,
		"codeBlocks":    jsCodeBlocks,
		"clickAttach":   jsClickAttach,
		"clickStop":     jsClickStop,
		"images":        jsAssistantImages,
	}
	for name, script := range scripts {
		assert.NotContains(t, script, "\x00", "script %s", name)
	}
	assert.Contains(t, jsReadText, `\u0000`)
}
