package vad

import (
	"fmt"
	"strings"
)

// Event is the label a classifier assigns to one audio chunk.
type Event int

const (
	Error Event = iota
	Voice
	Noise
	Silence
)

func (e Event) String() string {
	switch e {
	case Voice:
		return "voice"
	case Noise:
		return "noise"
	case Silence:
		return "silence"
	default:
		return "error"
	}
}

// IsNotVoice reports whether the event counts toward the not-voice score.
func (e Event) IsNotVoice() bool { return e == Noise || e == Silence }

// ParseEvent accepts the labels produced by String, case-insensitively.
func ParseEvent(s string) (Event, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "voice":
		return Voice, nil
	case "noise":
		return Noise, nil
	case "silence":
		return Silence, nil
	case "error":
		return Error, nil
	}
	return Error, fmt.Errorf("vad: unknown event %q", s)
}
