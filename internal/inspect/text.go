package inspect

// CapRunes truncates s to at most max runes, never splitting a
// multi-byte sequence.
func CapRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	count := 0
	for i := range s {
		if count == max {
			return s[:i]
		}
		count++
	}
	return s
}
