package eventbus

import "time"

// Speaker mirrors session.Speaker without importing the session package:
// keeping event payloads self-contained keeps the plane leaf-most in the
// dependency order from spec.md §2.
type Speaker string

const (
	Me   Speaker = "ME"
	Them Speaker = "THEM"
)

// Mode mirrors session.Mode for the same reason.
type Mode string

const (
	InterviewAssistant Mode = "interview_assistant"
	MeetingAssistant   Mode = "meeting_assistant"
)

// TranscriptDeltaEvent is published on TranscriptDelta.
type TranscriptDeltaEvent struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	SegmentID string    `json:"segment_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TranscriptCompletedEvent is published on TranscriptCompleted.
type TranscriptCompletedEvent struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	SegmentID string    `json:"segment_id"`
	Timestamp time.Time `json:"timestamp"`
}

// TextChunkReadyEvent is published on TextChunkReady by the aggregator and
// consumed by the completion streamer.
type TextChunkReadyEvent struct {
	Speaker       Speaker
	Text          string
	LastContext   string
	GlobalContext string
	IsQuestion    bool
	Mode          Mode
}

// HintTokenEvent is published on HintToken for each non-empty SSE delta.
type HintTokenEvent struct {
	HintID string `json:"hint_id"`
	Token  string `json:"token"`
}

// HintCompletedEvent is published on HintCompleted once a generation ends
// normally with non-empty accumulated text.
type HintCompletedEvent struct {
	HintID    string `json:"hint_id"`
	FinalText string `json:"final_text"`
	Mode      Mode   `json:"mode"`
}

// SttErrorEvent is published on SttError.
type SttErrorEvent struct {
	Speaker Speaker `json:"speaker"`
	Message string  `json:"message"`
}

// LlmErrorEvent is published on LlmError.
type LlmErrorEvent struct {
	Message string `json:"message"`
}
