package vad

// Phase is the speaking state of a session.
type Phase int

const (
	NotSpeaking Phase = iota
	Speaking
)

func (p Phase) String() string {
	if p == Speaking {
		return "speaking"
	}
	return "not_speaking"
}

// State is the hysteresis state owned by one session. The zero value is a
// fresh, not-speaking state.
type State struct {
	Phase         Phase
	VoiceScore    int
	NotVoiceScore int
}

// Transition is what a single event did to the phase.
type Transition int

const (
	NoTransition Transition = iota
	SpeechStarted
	SpeechEnded
)

// Decision represents the effects the caller must carry out after Apply.
type Decision struct {
	Transition Transition
	// Scored is false for Error events, which leave the state untouched.
	Scored bool
}

// Scorer applies the voice/not-voice hysteresis. A transition fires when a
// counter goes strictly above its threshold.
type Scorer struct {
	StartThreshold int
	EndThreshold   int
}

func NewScorer(start, end int) Scorer {
	return Scorer{StartThreshold: start, EndThreshold: end}
}

// Apply returns the next state for ev. It has no side effects.
func (sc Scorer) Apply(st State, ev Event) (State, Decision) {
	switch ev {
	case Voice:
		st.VoiceScore++
		st.NotVoiceScore = decr(st.NotVoiceScore)
	case Noise, Silence:
		st.NotVoiceScore++
		st.VoiceScore = decr(st.VoiceScore)
	default:
		return st, Decision{}
	}

	d := Decision{Scored: true}
	switch st.Phase {
	case NotSpeaking:
		if st.VoiceScore > sc.StartThreshold {
			st = State{Phase: Speaking}
			d.Transition = SpeechStarted
		}
	case Speaking:
		if st.NotVoiceScore > sc.EndThreshold {
			st = State{Phase: NotSpeaking}
			d.Transition = SpeechEnded
		}
	}
	return st, d
}

// Reset is the state after a speech end or an explicit reset.
func Reset() State { return State{} }

func decr(n int) int {
	if n > 0 {
		return n - 1
	}
	return 0
}
