package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Session is the per-connection state container described in spec.md §3:
// mode/state/hints, its two bounded audio queues, its statistics, and the
// background tasks the supervisor cancels on stop. The supervisor exclusively
// owns a Session; the Session itself owns its queues, tasks, and stats.
//
// The session's registered tasks (the STT pumps, the aggregator, the
// completion streamer) run under one errgroup.Group, replacing a
// hand-rolled WaitGroup + cancel-func slice. The group is deliberately a
// plain errgroup.Group, not one built with errgroup.WithContext: a
// WithContext group cancels every sibling task the moment any one task
// returns an error, but a failing STT dial (spec.md §4.4/§7) must leave the
// rest of the pipeline running so the session stays Active. Only Stop
// cancels ctx.
type Session struct {
	ID        string
	CreatedAt time.Time

	QueueMic    *AudioQueue
	QueueSystem *AudioQueue
	Stats       *Stats

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu           sync.Mutex
	state        State
	mode         Mode
	hintsEnabled bool
	customPrompt string
	workspace    string
}

// New creates a Session in state Created with the given mode, hints enabled
// by default (mirrors original_source/server/app/models/session.py).
func New(mode Mode, queueCapacity int) *Session {
	ctx, cancel := context.WithCancel(context.Background())

	return &Session{
		ID:           uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		QueueMic:     NewAudioQueue(queueCapacity),
		QueueSystem:  NewAudioQueue(queueCapacity),
		Stats:        &Stats{},
		ctx:          ctx,
		cancel:       cancel,
		group:        &errgroup.Group{},
		state:        StateCreated,
		mode:         mode,
		hintsEnabled: true,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Mode returns the session's current mode.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// SetMode mutates mode only; per spec.md §4.2 setters never restart the
// pipeline.
func (s *Session) SetMode(mode Mode) {
	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
}

// HintsEnabled reports whether hint dispatch is currently permitted.
func (s *Session) HintsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hintsEnabled
}

// SetHintsEnabled toggles hint dispatch.
func (s *Session) SetHintsEnabled(enabled bool) {
	s.mu.Lock()
	s.hintsEnabled = enabled
	s.mu.Unlock()
}

// CustomPrompt returns the session's additional-instructions prompt, if any.
func (s *Session) CustomPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customPrompt
}

// SetCustomPrompt replaces the additional-instructions prompt.
func (s *Session) SetCustomPrompt(prompt string) {
	s.mu.Lock()
	s.customPrompt = prompt
	s.mu.Unlock()
}

// Workspace returns the knowledge workspace name currently bound to the
// session, if any.
func (s *Session) Workspace() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workspace
}

// SetWorkspace rebinds the knowledge workspace.
func (s *Session) SetWorkspace(workspace string) {
	s.mu.Lock()
	s.workspace = workspace
	s.mu.Unlock()
}

// Start transitions Created -> Active. Returns false if the session was not
// in Created state (the caller should treat this as a no-op, not an error:
// lifecycle operations are idempotent per spec.md §7).
func (s *Session) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateCreated {
		return false
	}
	s.state = StateActive
	return true
}

// Go registers fn as a background task owned by the session. fn receives
// the session's lifetime context, cancelled on Stop; it must return
// promptly once that context is done. The connection handler uses this to
// launch the two STT pumps, the aggregator's idle-timeout ticker, and the
// completion streamer.
func (s *Session) Go(fn func(ctx context.Context) error) {
	s.group.Go(func() error {
		return fn(s.ctx)
	})
}

// Context returns the session's lifetime context, cancelled when Stop runs.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Stop transitions the session to Stopped, cancels every registered task's
// context, and waits for all of them to return before returning itself.
// Idempotent: calling Stop on an already-Stopped session is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state = StateStopped
	s.mu.Unlock()

	s.cancel()
	_ = s.group.Wait()
}

// IncDropped increments the dropped-frame counter for channel ch.
func (s *Session) IncDropped(ch Channel) {
	switch ch {
	case ChannelMic:
		s.Stats.DroppedFramesMic.Add(1)
	case ChannelSystem:
		s.Stats.DroppedFramesSystem.Add(1)
	}
}

// IncTotal increments the total-frame counter for channel ch.
func (s *Session) IncTotal(ch Channel) {
	switch ch {
	case ChannelMic:
		s.Stats.TotalFramesMic.Add(1)
	case ChannelSystem:
		s.Stats.TotalFramesSystem.Add(1)
	}
}

// Queue returns the audio queue owned by channel ch.
func (s *Session) Queue(ch Channel) *AudioQueue {
	if ch == ChannelMic {
		return s.QueueMic
	}
	return s.QueueSystem
}

// StatusDict renders the client-facing status representation of
// `GET /api/session` (mirrors original_source's Session.to_status_dict).
func (s *Session) StatusDict() map[string]any {
	snapshot := s.Stats.Snapshot()
	return map[string]any{
		"session_id":          s.ID,
		"state":                string(s.State()),
		"mode":                 string(s.Mode()),
		"hints_enabled":        s.HintsEnabled(),
		"knowledge_workspace":  s.Workspace(),
		"stats": map[string]any{
			"dropped_frames":      snapshot.DroppedFramesCount,
			"transcript_segments": snapshot.TranscriptSegments,
			"hints_generated":     snapshot.HintsGenerated,
		},
	}
}
