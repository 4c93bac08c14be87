package tts

import (
	"strings"
	"unicode"
)

// minSentence keeps very short fragments ("Sí.") attached to the next
// sentence so each speech request carries a useful amount of text.
const minSentence = 12

// SplitSentences cuts text after '.', '!', '?' or '…' when followed by
// whitespace or end of text.
func SplitSentences(text string) []string {
	var out []string
	var cur strings.Builder
	runes := []rune(text)
	for i, r := range runes {
		cur.WriteRune(r)
		if !isTerminal(r) {
			continue
		}
		if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
			continue
		}
		if s := strings.TrimSpace(cur.String()); len([]rune(s)) >= minSentence {
			out = append(out, s)
			cur.Reset()
		}
	}
	if s := strings.TrimSpace(cur.String()); s != "" {
		if len(out) > 0 && len([]rune(s)) < minSentence && !endsSentence(s) {
			out[len(out)-1] += " " + s
		} else {
			out = append(out, s)
		}
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func endsSentence(s string) bool {
	t := strings.TrimSpace(s)
	if t == "" {
		return false
	}
	r := []rune(t)
	return isTerminal(r[len(r)-1])
}
