// Package eventbus is the in-process publish/subscribe plane described in
// spec.md §4.3: a closed set of topics, snapshot-under-lock dispatch,
// concurrent handler fan-out that never lets one handler's panic or error
// affect another's delivery.
package eventbus

import (
	"sync"

	"github.com/lokutor-ai/realtime-copilot/internal/logging"
)

// Topic is one of the closed set of internal event kinds.
type Topic string

const (
	TranscriptDelta     Topic = "transcript_delta"
	TranscriptCompleted Topic = "transcript_completed"
	TextChunkReady      Topic = "text_chunk_ready"
	HintToken           Topic = "hint_token"
	HintCompleted       Topic = "hint_completed"
	SttError            Topic = "stt_error"
	LlmError            Topic = "llm_error"

	// Defined but not required by the core pipeline (spec.md §4.3).
	AudioFrameMic    Topic = "audio_frame_mic"
	AudioFrameSystem Topic = "audio_frame_system"
	SessionStatus    Topic = "session_status"
)

// Handler processes one published payload. Handlers must not block
// indefinitely; publish awaits every handler's completion before returning.
type Handler func(payload any)

// Bus is the event plane. Zero value is not usable; use New.
type Bus struct {
	mu       sync.Mutex
	handlers map[Topic][]Handler
	logger   logging.Logger
}

// New creates an empty bus.
func New(logger logging.Logger) *Bus {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Bus{
		handlers: make(map[Topic][]Handler),
		logger:   logger,
	}
}

// Handle identifies a specific subscription so it can be removed later.
// Go funcs have no stable identity, so idempotent subscribe/unsubscribe
// (spec.md §4.3) is expressed as "subscribe once, keep the Handle, unsubscribe
// via that Handle" rather than by handler value.
type Handle struct {
	topic Topic
	index int
}

// SubscribeHandle registers handler and returns a Handle that Unsubscribe
// can later use to remove exactly this registration.
func (b *Bus) SubscribeHandle(topic Topic, handler Handler) Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
	return Handle{topic: topic, index: len(b.handlers[topic]) - 1}
}

// Unsubscribe removes a handler previously registered via SubscribeHandle.
// Idempotent: unsubscribing the same handle twice is a no-op.
func (b *Bus) Unsubscribe(h Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[h.topic]
	if h.index < 0 || h.index >= len(list) || list[h.index] == nil {
		return
	}
	list[h.index] = nil
}

// Publish delivers payload to the snapshot of subscribers for topic taken
// under the bus lock. Handlers run concurrently; a handler panic is
// recovered and logged, never propagated to another handler or the caller.
// Publish blocks until every handler in the snapshot has returned.
func (b *Bus) Publish(topic Topic, payload any) {
	b.mu.Lock()
	snapshot := make([]Handler, 0, len(b.handlers[topic]))
	for _, h := range b.handlers[topic] {
		if h != nil {
			snapshot = append(snapshot, h)
		}
	}
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(snapshot))
	for _, h := range snapshot {
		go func(handler Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked", "topic", topic, "recover", r)
				}
			}()
			handler(payload)
		}(h)
	}
	wg.Wait()
}

// Clear drops every subscription.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = make(map[Topic][]Handler)
}
