// Package aggregator implements the trigger state machine of spec.md §4.5:
// it turns STT deltas/completions into TextChunkReady events, subject to
// word-count and idle-timeout triggers and per-mode dispatch rules.
package aggregator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"github.com/lokutor-ai/realtime-copilot/internal/eventbus"
	"github.com/lokutor-ai/realtime-copilot/internal/logging"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
)

const idleTickInterval = 100 * time.Millisecond

// segmentState is an open (not yet completed) transcript segment.
type segmentState struct {
	speaker session.Speaker
	text    string
}

// pendingState is the "currently growing" descriptor the aggregator fires
// triggers from, derived from the latest delta.
type pendingState struct {
	segmentID     string
	speaker       session.Speaker
	text          string
	lastDeltaTime time.Time
}

// historyEntry is one completed utterance kept in the bounded FIFO.
type historyEntry struct {
	speaker session.Speaker
	text    string
}

// Aggregator subscribes to TranscriptDelta/TranscriptCompleted and publishes
// TextChunkReady according to the rules in spec.md §4.5.
type Aggregator struct {
	bus    *eventbus.Bus
	sess   *session.Session
	logger logging.Logger

	mu              sync.Mutex
	currentSegments map[string]*segmentState
	history         []historyEntry
	pending         *pendingState

	lastMeetingDispatch time.Time

	deltaHandle     eventbus.Handle
	completedHandle eventbus.Handle
}

// New creates an Aggregator bound to sess and subscribes it to the bus.
// Callers must call Close when the aggregator is no longer needed.
func New(bus *eventbus.Bus, sess *session.Session, logger logging.Logger) *Aggregator {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	a := &Aggregator{
		bus:             bus,
		sess:            sess,
		logger:          logger,
		currentSegments: make(map[string]*segmentState),
	}
	a.deltaHandle = bus.SubscribeHandle(eventbus.TranscriptDelta, a.handleDelta)
	a.completedHandle = bus.SubscribeHandle(eventbus.TranscriptCompleted, a.handleCompleted)
	return a
}

// Close unsubscribes the aggregator from the event plane.
func (a *Aggregator) Close() {
	a.bus.Unsubscribe(a.deltaHandle)
	a.bus.Unsubscribe(a.completedHandle)
}

// Run drives the ~10Hz idle-timeout check until ctx is cancelled (spec.md
// §4.5: "a background tick fires a trigger from pending whenever ... now -
// last_delta_time >= AGGREGATION_TIMEOUT_MS").
func (a *Aggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(idleTickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.checkIdleTimeout()
		}
	}
}

func (a *Aggregator) handleDelta(payload any) {
	evt, ok := payload.(eventbus.TranscriptDeltaEvent)
	if !ok {
		return
	}

	a.mu.Lock()
	seg, exists := a.currentSegments[evt.SegmentID]
	if !exists {
		seg = &segmentState{speaker: session.Speaker(evt.Speaker)}
		a.currentSegments[evt.SegmentID] = seg
	}
	seg.text += evt.Text

	a.pending = &pendingState{
		segmentID:     evt.SegmentID,
		speaker:       seg.speaker,
		text:          seg.text,
		lastDeltaTime: time.Now(),
	}

	shouldTrigger := shouldTriggerWordCount(a.pending.text)
	var fireText string
	var fireSpeaker session.Speaker
	if shouldTrigger {
		fireText = a.pending.text
		fireSpeaker = a.pending.speaker
		a.pending = nil
	}
	a.mu.Unlock()

	if shouldTrigger {
		a.trigger(fireSpeaker, fireText)
	}
}

func (a *Aggregator) handleCompleted(payload any) {
	evt, ok := payload.(eventbus.TranscriptCompletedEvent)
	if !ok {
		return
	}

	a.mu.Lock()
	delete(a.currentSegments, evt.SegmentID)
	if a.pending != nil && a.pending.segmentID == evt.SegmentID {
		a.pending = nil
	}

	speaker := session.Speaker(evt.Speaker)
	a.history = append(a.history, historyEntry{speaker: speaker, text: evt.Text})
	if len(a.history) > config.HistorySize {
		a.history = a.history[len(a.history)-config.HistorySize:]
	}
	a.mu.Unlock()

	a.sess.Stats.TranscriptSegments.Add(1)
	a.trigger(speaker, evt.Text)
}

// checkIdleTimeout fires a trigger from pending if it has gone stale.
func (a *Aggregator) checkIdleTimeout() {
	a.mu.Lock()
	if a.pending == nil || time.Since(a.pending.lastDeltaTime) < config.AggregationTimeout {
		a.mu.Unlock()
		return
	}
	text := a.pending.text
	speaker := a.pending.speaker
	a.pending = nil
	a.mu.Unlock()

	a.trigger(speaker, text)
}

// shouldTriggerWordCount reports whether text's whitespace-split word count
// meets AGGREGATION_WORD_THRESHOLD (Testable Property 4).
func shouldTriggerWordCount(text string) bool {
	return len(strings.Fields(text)) >= config.AggregationWordThreshold
}

// trigger constructs a TextChunk from (speaker, text) and dispatches it per
// mode (spec.md §4.5 "Trigger = construct TextChunk").
func (a *Aggregator) trigger(speaker session.Speaker, text string) {
	a.mu.Lock()
	lastContext := a.lastContextLocked(speaker)
	globalContext := a.globalContextLocked()
	a.mu.Unlock()

	chunk := eventbus.TextChunkReadyEvent{
		Speaker:       eventbus.Speaker(speaker),
		Text:          text,
		LastContext:   lastContext,
		GlobalContext: globalContext,
		IsQuestion:    isQuestion(text),
		Mode:          eventbus.Mode(a.sess.Mode()),
	}

	if !a.sess.HintsEnabled() {
		return
	}

	switch a.sess.Mode() {
	case session.InterviewAssistant:
		if speaker == session.Them && chunk.IsQuestion {
			a.bus.Publish(eventbus.TextChunkReady, chunk)
		}
	case session.MeetingAssistant:
		if speaker != session.Them {
			return
		}
		a.mu.Lock()
		ready := time.Since(a.lastMeetingDispatch) >= config.HintRateLimit
		if ready {
			a.lastMeetingDispatch = time.Now()
		}
		a.mu.Unlock()
		if ready {
			a.bus.Publish(eventbus.TextChunkReady, chunk)
		}
	}
}

// lastContextLocked concatenates (oldest first) up to the last 2 completed
// utterances by speaker from history. Caller must hold a.mu.
func (a *Aggregator) lastContextLocked(speaker session.Speaker) string {
	var matches []string
	for i := len(a.history) - 1; i >= 0 && len(matches) < config.LastContextUtterances; i-- {
		if a.history[i].speaker == speaker {
			matches = append(matches, a.history[i].text)
		}
	}
	// matches was collected newest-first; reverse to oldest-first.
	for i, j := 0, len(matches)-1; i < j; i, j = i+1, j-1 {
		matches[i], matches[j] = matches[j], matches[i]
	}
	return strings.Join(matches, " ")
}

// globalContextLocked renders a newest-first prefix of history as
// [ME]/[THEM] tagged lines truncated to <=500 characters total, then
// reverses it back to chronological order. Caller must hold a.mu.
func (a *Aggregator) globalContextLocked() string {
	var lines []string
	total := 0
	for i := len(a.history) - 1; i >= 0; i-- {
		tag := "[THEM]"
		if a.history[i].speaker == session.Me {
			tag = "[ME]"
		}
		line := fmt.Sprintf("%s %s", tag, a.history[i].text)
		if total+len(line) > config.GlobalContextMaxChars {
			break
		}
		lines = append(lines, line)
		total += len(line)
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return strings.Join(lines, "\n")
}
