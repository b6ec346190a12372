// Package inspect reads page state: challenge indicators, composer and
// send-control discovery, submission signals and reply snapshots. Page
// scripts only serialize the DOM; all ranking and classification runs
// in Go so it stays unit-testable.
package inspect

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/agentify/agentifyd/internal/selectors"
	"github.com/agentify/agentifyd/pkg/models"
)

// Evaluator runs a script in the page and returns its serialized
// result. *playwright.Page satisfies it.
type Evaluator interface {
	Evaluate(expression string, options ...interface{}) (interface{}, error)
}

// Inspector binds the page scripts to one tab's selector set.
type Inspector struct {
	page Evaluator
	sels selectors.Set
}

func New(page Evaluator, sels selectors.Set) *Inspector {
	return &Inspector{page: page, sels: sels}
}

func (in *Inspector) eval(script string, out interface{}) error {
	raw, err := in.page.Evaluate(script)
	if err != nil {
		return fmt.Errorf("page evaluate: %w", err)
	}
	if out == nil {
		return nil
	}
	return decode(raw, out)
}

// decode round-trips the loosely typed evaluate result through JSON
// into a concrete snapshot struct.
func decode(raw interface{}, out interface{}) error {
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("encode evaluate result: %w", err)
	}
	if err := json.Unmarshal(buf, out); err != nil {
		return fmt.Errorf("decode evaluate result: %w", err)
	}
	return nil
}

type detectPayload struct {
	URL        string                     `json:"url"`
	Title      string                     `json:"title"`
	ReadyState string                     `json:"readyState"`
	Indicators models.ChallengeIndicators `json:"indicators"`
	Candidates []Candidate                `json:"candidates"`
}

// DetectChallenge takes one classification snapshot of the page. A
// composer counts as visible when any editable candidate scored above
// zero, so stray contenteditable crumbs don't mask a login wall.
func (in *Inspector) DetectChallenge() (models.ChallengeState, error) {
	script := render(jsDetect, map[string]string{
		"__PROMPT_SEL__": jsString(in.sels.PromptTextarea),
	})
	var payload detectPayload
	if err := in.eval(script, &payload); err != nil {
		return models.ChallengeState{}, err
	}

	promptVisible := false
	for _, c := range payload.Candidates {
		if ScoreComposer(c) > 0 {
			promptVisible = true
			break
		}
	}

	blocked, kind := Classify(payload.Indicators, promptVisible)
	return models.ChallengeState{
		URL:           payload.URL,
		Title:         payload.Title,
		ReadyState:    payload.ReadyState,
		Blocked:       blocked,
		PromptVisible: promptVisible,
		Kind:          kind,
		Indicators:    payload.Indicators,
	}, nil
}

// ReadPageText extracts the page's visible text, capped to maxChars
// runes. The page script caps by UTF-16 units; the rune cap here keeps
// the result within budget for multi-byte text.
func (in *Inspector) ReadPageText(maxChars int) (string, error) {
	if maxChars <= 0 {
		maxChars = 20000
	}
	script := render(jsReadText, map[string]string{
		"__MAX_CHARS__": strconv.Itoa(maxChars * 2),
	})
	var text string
	if err := in.eval(script, &text); err != nil {
		return "", err
	}
	return CapRunes(text, maxChars), nil
}

// FindComposer collects editable candidates, picks the best-scoring one
// and focuses it, returning its bounding box for the pre-type click.
func (in *Inspector) FindComposer() (ComposerTarget, error) {
	script := render(jsCollectComposer, map[string]string{
		"__PROMPT_SEL__": jsString(in.sels.PromptTextarea),
	})
	var cands []Candidate
	if err := in.eval(script, &cands); err != nil {
		return ComposerTarget{}, err
	}
	best, ok := PickComposer(cands)
	if !ok {
		return ComposerTarget{}, nil
	}

	focus := render(jsFocusComposer, map[string]string{
		"__IDX__": strconv.Itoa(best.Index),
	})
	var target ComposerTarget
	if err := in.eval(focus, &target); err != nil {
		return ComposerTarget{}, err
	}
	return target, nil
}

type sendScanPayload struct {
	StopVisible bool               `json:"stopVisible"`
	Host        string             `json:"host"`
	Candidates  []ControlCandidate `json:"candidates"`
}

// FindSendControl locates the best enabled send affordance. When a stop
// control is already visible the scan reports that instead, so callers
// don't submit into an active generation.
func (in *Inspector) FindSendControl() (SendScan, error) {
	script := render(jsScanSend, map[string]string{
		"__SEND_SEL__": jsString(in.sels.SendButton),
		"__STOP_SEL__": jsString(in.sels.StopButton),
	})
	var payload sendScanPayload
	if err := in.eval(script, &payload); err != nil {
		return SendScan{}, err
	}

	scan := SendScan{StopVisible: payload.StopVisible, Host: payload.Host}
	if best, ok := PickSendControl(payload.Candidates); ok {
		scan.Found = true
		scan.Rect = best.Rect
	}
	return scan, nil
}

// SendSignal polls the post-click submission indicators.
func (in *Inspector) SendSignal() (SendSignal, error) {
	script := render(jsSendSignal, map[string]string{
		"__PROMPT_SEL__": jsString(in.sels.PromptTextarea),
		"__SEND_SEL__":   jsString(in.sels.SendButton),
		"__STOP_SEL__":   jsString(in.sels.StopButton),
	})
	var sig SendSignal
	if err := in.eval(script, &sig); err != nil {
		return SendSignal{}, err
	}
	return sig, nil
}

// InvokeSend clicks the send control programmatically, bypassing input
// synthesis. Used as a fallback when the synthesized click didn't take.
func (in *Inspector) InvokeSend() (bool, error) {
	script := render(jsInvokeSend, map[string]string{
		"__SEND_SEL__": jsString(in.sels.SendButton),
	})
	var clicked bool
	if err := in.eval(script, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// Reply takes one reply-progress snapshot.
func (in *Inspector) Reply() (ReplySnapshot, error) {
	script := render(jsReplySnapshot, map[string]string{
		"__SEND_SEL__":      jsString(in.sels.SendButton),
		"__STOP_SEL__":      jsString(in.sels.StopButton),
		"__ASSISTANT_SEL__": jsString(in.sels.AssistantMessage),
	})
	var snap ReplySnapshot
	if err := in.eval(script, &snap); err != nil {
		return ReplySnapshot{}, err
	}
	return snap, nil
}

// ClickContinue clicks a visible continue-generating control, if any.
func (in *Inspector) ClickContinue() (bool, error) {
	var clicked bool
	if err := in.eval(jsClickContinue, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// LastCodeBlocks extracts fenced code blocks from the latest assistant
// message.
func (in *Inspector) LastCodeBlocks() ([]models.CodeBlock, error) {
	script := render(jsCodeBlocks, map[string]string{
		"__ASSISTANT_SEL__": jsString(in.sels.AssistantMessage),
	})
	var blocks []models.CodeBlock
	if err := in.eval(script, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// AssistantImages collects image references from the latest assistant
// message, inlining readable ones as data URLs.
func (in *Inspector) AssistantImages(max int) ([]models.ImageRef, error) {
	if max <= 0 {
		max = 8
	}
	script := render(jsAssistantImages, map[string]string{
		"__ASSISTANT_SEL__": jsString(in.sels.AssistantMessage),
		"__MAX_IMAGES__":    strconv.Itoa(max),
	})
	var refs []models.ImageRef
	if err := in.eval(script, &refs); err != nil {
		return nil, err
	}
	return refs, nil
}

// ClickAttach clicks an attach/upload affordance to surface the file
// input before binding files to it.
func (in *Inspector) ClickAttach() (bool, error) {
	var clicked bool
	if err := in.eval(jsClickAttach, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}

// ClickStop clicks the stop control if present.
func (in *Inspector) ClickStop() (bool, error) {
	script := render(jsClickStop, map[string]string{
		"__STOP_SEL__": jsString(in.sels.StopButton),
	})
	var clicked bool
	if err := in.eval(script, &clicked); err != nil {
		return false, err
	}
	return clicked, nil
}
