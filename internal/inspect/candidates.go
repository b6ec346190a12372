package inspect

import "regexp"

// Rect is an element's bounding box in page coordinates.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Candidate is a serialized editable-surface candidate collected from
// the page. Scoring runs here, not in page script, so the ranking is
// unit-testable against serialized snapshots.
type Candidate struct {
	Index           int    `json:"idx"`
	Tag             string `json:"tag"`
	Label           string `json:"label"`
	Role            string `json:"role"`
	ContentEditable bool   `json:"contentEditable"`
	Rect            Rect   `json:"rect"`
}

// ControlCandidate is a serialized clickable-control candidate for the
// send-affordance search.
type ControlCandidate struct {
	Index       int    `json:"idx"`
	MatchesSend bool   `json:"matchesSend"`
	Label       string `json:"label"`
	Disabled    bool   `json:"disabled"`
	Rect        Rect   `json:"rect"`
}

var (
	composerLabelRe = regexp.MustCompile(`prompt|message|ask|chat|query|input`)
	sendLabelRe     = regexp.MustCompile(`send|submit|run|go|ask|reply`)
	avoidLabelRe    = regexp.MustCompile(`stop|cancel|retry|signin|sign in|log in|google`)
)

// ScoreComposer ranks an editable surface: larger area, lower on the
// page, and prompt-ish labeling all score higher.
func ScoreComposer(c Candidate) float64 {
	s := 0.0
	if composerLabelRe.MatchString(c.Label) {
		s += 80
	}
	if c.Tag == "textarea" {
		s += 50
	}
	if c.ContentEditable {
		s += 35
	}
	if c.Role == "textbox" {
		s += 25
	}
	if c.Rect.W >= 260 && c.Rect.H >= 26 {
		s += 20
	}
	area := c.Rect.W * c.Rect.H / 2500
	if area < 0 {
		area = 0
	}
	if area > 180 {
		area = 180
	}
	s += area
	if c.Rect.Y > 0 {
		s += c.Rect.Y / 8
	}
	return s
}

// PickComposer returns the highest-scoring candidate, if any.
func PickComposer(cands []Candidate) (Candidate, bool) {
	best := Candidate{}
	bestScore := 0.0
	found := false
	for _, c := range cands {
		s := ScoreComposer(c)
		if !found || s > bestScore {
			best, bestScore, found = c, s, true
		}
	}
	return best, found
}

// ScoreSendControl ranks a clickable control as a send affordance:
// selector matches and send-ish labels boost, stop/cancel/sign-in labels
// sink it below any plausible alternative.
func ScoreSendControl(c ControlCandidate) float64 {
	s := 0.0
	if c.MatchesSend {
		s += 120
	}
	if sendLabelRe.MatchString(c.Label) {
		s += 90
	}
	if avoidLabelRe.MatchString(c.Label) {
		s -= 140
	}
	if c.Rect.W >= 16 && c.Rect.H >= 16 {
		s += 10
	}
	if c.Rect.Y > 0 {
		s += c.Rect.Y / 10
	}
	if c.Rect.X > 0 {
		s += c.Rect.X / 20
	}
	return s
}

// PickSendControl returns the best enabled candidate, if any.
func PickSendControl(cands []ControlCandidate) (ControlCandidate, bool) {
	best := ControlCandidate{}
	bestScore := 0.0
	found := false
	for _, c := range cands {
		if c.Disabled {
			continue
		}
		s := ScoreSendControl(c)
		if !found || s > bestScore {
			best, bestScore, found = c, s, true
		}
	}
	return best, found
}
