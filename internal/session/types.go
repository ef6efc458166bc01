// Package session holds the per-connection Session state container: its
// mode/state, its two bounded audio queues, its statistics counters, and the
// set of background tasks the supervisor cancels on stop (spec.md §3).
package session

import (
	"sync/atomic"
)

// Mode selects which trigger/prompt rules the aggregator and completion
// streamer apply.
type Mode string

const (
	InterviewAssistant Mode = "interview_assistant"
	MeetingAssistant   Mode = "meeting_assistant"
)

// State is a Session's lifecycle stage.
type State string

const (
	StateCreated State = "created"
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Speaker tags a transcript segment to one of the two audio channels.
type Speaker string

const (
	Me   Speaker = "ME"
	Them Speaker = "THEM"
)

// Channel is the tag carried in byte 0 of every client audio frame.
type Channel byte

const (
	ChannelMic    Channel = 0
	ChannelSystem Channel = 1
)

// Stats are the monotonic counters of spec.md §3's SessionStats. Each field
// is updated only by its owning producer, so plain atomics (rather than a
// shared mutex) are enough.
type Stats struct {
	DroppedFramesMic    atomic.Int64
	DroppedFramesSystem atomic.Int64
	TotalFramesMic      atomic.Int64
	TotalFramesSystem   atomic.Int64
	TranscriptSegments  atomic.Int64
	HintsGenerated      atomic.Int64
	SttErrors           atomic.Int64
	CompletionErrors    atomic.Int64
}

// StatsSnapshot is a point-in-time copy of Stats suitable for serialization.
type StatsSnapshot struct {
	DroppedFramesMic    int64 `json:"dropped_frames_mic"`
	DroppedFramesSystem int64 `json:"dropped_frames_system"`
	TotalFramesMic      int64 `json:"total_frames_mic"`
	TotalFramesSystem   int64 `json:"total_frames_system"`
	TranscriptSegments  int64 `json:"transcript_segments"`
	HintsGenerated      int64 `json:"hints_generated"`
	SttErrors           int64 `json:"stt_errors"`
	CompletionErrors    int64 `json:"completion_errors"`
	DroppedFramesCount  int64 `json:"dropped_frames_count"`
}

// Snapshot reads every counter and also computes DroppedFramesCount, the
// derived mic+system total surfaced in the client status message (§6.3) and
// the `GET /api/session` status (Session.StatusDict).
func (s *Stats) Snapshot() StatsSnapshot {
	mic := s.DroppedFramesMic.Load()
	sys := s.DroppedFramesSystem.Load()
	return StatsSnapshot{
		DroppedFramesMic:    mic,
		DroppedFramesSystem: sys,
		TotalFramesMic:      s.TotalFramesMic.Load(),
		TotalFramesSystem:   s.TotalFramesSystem.Load(),
		TranscriptSegments:  s.TranscriptSegments.Load(),
		HintsGenerated:      s.HintsGenerated.Load(),
		SttErrors:           s.SttErrors.Load(),
		CompletionErrors:    s.CompletionErrors.Load(),
		DroppedFramesCount:  mic + sys,
	}
}

// TranscriptSegment is an open or completed stretch of speech from one STT
// client, identified by (speaker, segment_id) per spec.md §3.
type TranscriptSegment struct {
	Speaker   Speaker
	SegmentID string
	Text      string
	Completed bool
}

// TextChunk is a trigger-ready aggregation unit (spec.md §3/§4.5).
type TextChunk struct {
	Speaker       Speaker
	Text          string
	LastContext   string
	GlobalContext string
	IsQuestion    bool
}
