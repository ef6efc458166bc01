// Package completion is the generative completion streamer of spec.md §4.6:
// it turns TextChunkReady events into streamed hint tokens against an
// Ollama-compatible /v1/chat/completions endpoint, with preemption
// (InterviewAssistant) or latest-wins buffering (MeetingAssistant) for
// chunks that arrive while a generation is already in flight.
package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"github.com/lokutor-ai/realtime-copilot/internal/eventbus"
	"github.com/lokutor-ai/realtime-copilot/internal/logging"
	"github.com/lokutor-ai/realtime-copilot/internal/retrieval"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
)

// Streamer is the completion streamer state machine.
type Streamer struct {
	bus      *eventbus.Bus
	sess     *session.Session
	index    *retrieval.Index
	settings *config.Settings
	client   *http.Client
	logger   logging.Logger

	mu           sync.Mutex
	generating   bool
	cancelOne    context.CancelFunc
	pendingChunk *eventbus.TextChunkReadyEvent

	chunkHandle eventbus.Handle
}

// New creates a Streamer bound to sess and subscribes it to TextChunkReady.
// Callers must call Close when done.
func New(bus *eventbus.Bus, sess *session.Session, index *retrieval.Index, settings *config.Settings, logger logging.Logger) *Streamer {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	s := &Streamer{
		bus:      bus,
		sess:     sess,
		index:    index,
		settings: settings,
		client:   &http.Client{Timeout: config.CompletionTimeout},
		logger:   logger,
	}
	s.chunkHandle = bus.SubscribeHandle(eventbus.TextChunkReady, s.onChunk)
	return s
}

// Close unsubscribes the streamer from the event plane.
func (s *Streamer) Close() {
	s.bus.Unsubscribe(s.chunkHandle)
}

// Run blocks until ctx is cancelled; the streamer itself is event-driven
// (subscribed in New), so Run only needs to await session shutdown to
// release its goroutine slot in the session's task group.
func (s *Streamer) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (s *Streamer) onChunk(payload any) {
	evt, ok := payload.(eventbus.TextChunkReadyEvent)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.generating {
		if evt.Mode == eventbus.InterviewAssistant && s.cancelOne != nil {
			s.cancelOne()
		}
		chunkCopy := evt
		s.pendingChunk = &chunkCopy
		s.mu.Unlock()
		return
	}
	s.generating = true
	s.mu.Unlock()

	go s.runLoop(evt)
}

// runLoop generates chunk, then — iteratively, not recursively, per spec.md
// §4.6/§9 — consumes any pending_chunk left behind until none remains.
func (s *Streamer) runLoop(chunk eventbus.TextChunkReadyEvent) {
	current := chunk
	for {
		s.generateOne(current)

		s.mu.Lock()
		if s.pendingChunk != nil {
			current = *s.pendingChunk
			s.pendingChunk = nil
			s.mu.Unlock()
			continue
		}
		s.generating = false
		s.mu.Unlock()
		return
	}
}

type completionRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  struct {
		Temperature float64 `json:"temperature"`
		TopP        float64 `json:"top_p"`
	} `json:"options"`
}

type sseChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// generateOne runs a single completion request for chunk to completion,
// abandonment (cancel observed), or HTTP error.
func (s *Streamer) generateOne(chunk eventbus.TextChunkReadyEvent) {
	hintID := uuid.NewString()

	ctx, cancel := context.WithTimeout(context.Background(), config.CompletionTimeout)
	s.mu.Lock()
	s.cancelOne = cancel
	s.mu.Unlock()
	defer cancel()

	knowledgeContext := ""
	if workspace := s.sess.Workspace(); workspace != "" && s.index != nil {
		knowledgeContext = s.index.Retrieve(workspace, chunk.Text)
	}

	systemPrompt := buildSystemPrompt(chunk.Mode, knowledgeContext, s.sess.CustomPrompt())
	messages := buildMessages(chunk.Mode, systemPrompt, chunk.GlobalContext, chunk.Text)

	reqBody := completionRequest{
		Model:    s.settings.OllamaModel,
		Messages: messages,
		Stream:   true,
	}
	reqBody.Options.Temperature = 0.7
	reqBody.Options.TopP = 0.9

	body, err := json.Marshal(reqBody)
	if err != nil {
		s.logger.Error("completion: failed to marshal request", "error", err)
		return
	}

	url := strings.TrimRight(s.settings.OllamaBaseURL, "/") + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		s.logger.Error("completion: failed to build request", "error", err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.settings.OpenAIAPIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.settings.OpenAIAPIKey)
	}

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return // cancelled/timed out; abandon silently, no HintCompleted
		}
		s.logger.Error("completion: request failed", "error", err)
		s.sess.Stats.CompletionErrors.Add(1)
		s.bus.Publish(eventbus.LlmError, eventbus.LlmErrorEvent{Message: err.Error()})
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.logger.Error("completion: non-2xx response", "status", resp.StatusCode)
		s.sess.Stats.CompletionErrors.Add(1)
		s.bus.Publish(eventbus.LlmError, eventbus.LlmErrorEvent{
			Message: fmt.Sprintf("completion endpoint returned status %d", resp.StatusCode),
		})
		return
	}

	var collected strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return // cancel observed; abandon without HintCompleted
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var parsed sseChunk
		if err := json.Unmarshal([]byte(data), &parsed); err != nil {
			s.logger.Debug("completion: skipping malformed SSE chunk", "error", err)
			continue
		}
		if len(parsed.Choices) == 0 {
			continue
		}
		token := parsed.Choices[0].Delta.Content
		if token == "" {
			continue
		}
		collected.WriteString(token)
		s.bus.Publish(eventbus.HintToken, eventbus.HintTokenEvent{HintID: hintID, Token: token})
	}

	if ctx.Err() != nil {
		return
	}

	text := collected.String()
	if text == "" {
		return
	}

	formatted := formatHint(text)
	s.sess.Stats.HintsGenerated.Add(1)
	s.bus.Publish(eventbus.HintCompleted, eventbus.HintCompletedEvent{
		HintID:    hintID,
		FinalText: formatted,
		Mode:      chunk.Mode,
	})
}
