package selectors

import "strings"

// KeyCombo is one keyboard submission attempt.
type KeyCombo struct {
	Key       string
	Modifiers []string
}

// modPrimary is resolved to the platform's command modifier at lookup
// time (meta on macOS, control elsewhere).
const modPrimary = "primary"

// Different sites bind Enter/Ctrl+Enter/Alt+Enter differently. The
// ordered fallback list per host family is data so new targets don't
// need code changes.
var submitTable = []struct {
	hostContains string
	combos       []KeyCombo
}{
	{
		hostContains: "aistudio.google.com",
		combos: []KeyCombo{
			{Key: "Enter", Modifiers: []string{"alt"}},
			{Key: "Enter", Modifiers: []string{modPrimary}},
			{Key: "Enter"},
		},
	},
	{
		hostContains: "grok.com",
		combos: []KeyCombo{
			{Key: "Enter", Modifiers: []string{modPrimary}},
			{Key: "Enter"},
		},
	},
}

var defaultCombos = []KeyCombo{
	{Key: "Enter"},
	{Key: "Enter", Modifiers: []string{modPrimary}},
	{Key: "Enter", Modifiers: []string{"alt"}},
}

// SubmitCombos returns the ordered keyboard submission fallbacks for a
// host, with the primary modifier resolved for the platform.
func SubmitCombos(host string, mac bool) []KeyCombo {
	combos := defaultCombos
	for _, entry := range submitTable {
		if strings.Contains(host, entry.hostContains) {
			combos = entry.combos
			break
		}
	}
	primary := "control"
	if mac {
		primary = "meta"
	}
	out := make([]KeyCombo, len(combos))
	for i, c := range combos {
		mods := make([]string, len(c.Modifiers))
		for j, m := range c.Modifiers {
			if m == modPrimary {
				mods[j] = primary
			} else {
				mods[j] = m
			}
		}
		out[i] = KeyCombo{Key: c.Key, Modifiers: mods}
	}
	return out
}
