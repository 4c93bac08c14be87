package types

import "time"

// Event is one entry in a session's lifecycle log.
type Event struct {
	Type    string         `json:"type"`
	Ts      time.Time      `json:"timestamp"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Identity is the client-provided identity carried through a session
// untouched. It comes from the websocket query string.
type Identity struct {
	UserID         string `json:"user_id"`
	TimezoneName   string `json:"timezone"`
	TimezoneOffset int    `json:"seconds_from_gmt"`
}

// Session is the registry view of a live or finished voice connection.
type Session struct {
	ID          string     `json:"session_id"`
	Identity    Identity   `json:"identity"`
	RemoteAddr  string     `json:"remote_addr,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Status      string     `json:"status"`
	CloseReason string     `json:"close_reason,omitempty"`
	Utterances  int        `json:"utterances"`
}

// Message is the text frame exchanged with the client.
type Message struct {
	Key    string `json:"key"`
	Value  string `json:"value"`
	Key2   string `json:"key2,omitempty"`
	Value2 string `json:"value2,omitempty"`
}

// Outbound message keys.
const (
	KeyMessage       = "message"
	KeyVAD           = "vad"
	KeyError         = "error"
	KeyTranscription = "transcription"
	KeyServerState   = "server_state"
)

// Values sent under KeyServerState.
const (
	StateVoiceDetected = "voice_detected"
	StateTranscribing  = "transcribing"
	StateAutoPause     = "auto_pause"
)

// Scoring is the machine classification of a piece of text.
type Scoring struct {
	Language   string  `json:"language"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// MessageRecord is one persisted exchange: what the user said and what we
// answered.
type MessageRecord struct {
	ID                         string    `json:"id"`
	UserID                     string    `json:"user_id"`
	SessionID                  string    `json:"session_id"`
	UtteranceID                string    `json:"utterance_id"`
	TranscriptionResponseText  string    `json:"transcription_response_text"`
	ResponseMessageText        string    `json:"response_message_text"`
	MessageInputClassification string    `json:"message_input_classification"`
	MessageInputClassifier     string    `json:"message_input_classifier"`
	UserInputMachineScoring    *Scoring  `json:"user_input_machine_scoring,omitempty"`
	ApplicationResponseScoring *Scoring  `json:"application_response_machine_scoring,omitempty"`
	CompletionTokens           int64     `json:"completion_tokens"`
	TotalCompletionTokens      int64     `json:"total_completion_tokens"`
	CompletionAttempts         int       `json:"completion_attempts"`
	CurrentSecondsFromGMT      int       `json:"current_seconds_from_gmt"`
	CurrentUserTimezone        string    `json:"current_user_timezone"`
	TranscriptionModel         string    `json:"transcription_model"`
	LLMModel                   string    `json:"llm_model"`
	TextToSpeechModel          string    `json:"text_to_speech_model"`
	CreatedAt                  time.Time `json:"created_at"`
}

// Utterance is one finished speech segment handed to the pipeline. Audio is
// the raw client PCM16LE, lead-in included.
type Utterance struct {
	ID         string
	SessionID  string
	Identity   Identity
	Audio      []byte
	SampleRate int
	StartedAt  time.Time
	EndedAt    time.Time
}
