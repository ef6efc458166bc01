package completion

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"github.com/lokutor-ai/realtime-copilot/internal/eventbus"
	"github.com/lokutor-ai/realtime-copilot/internal/retrieval"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
)

// sseServer streams back `word1 word2 ...` as individual SSE token chunks,
// sleeping perTokenDelay between each so a test has a window to preempt.
func sseServer(t *testing.T, tokens []string, perTokenDelay time.Duration) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		for _, tok := range tokens {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(perTokenDelay):
			}
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
}

func newTestSettings(baseURL string) *config.Settings {
	return &config.Settings{
		OpenAIAPIKey:  "test-key",
		OllamaBaseURL: baseURL,
		OllamaModel:   "llama3.1:8b",
	}
}

func TestStreamerBasicGenerateEmitsHintCompleted(t *testing.T) {
	srv := sseServer(t, []string{"- ", "first point"}, 5*time.Millisecond)
	defer srv.Close()

	bus := eventbus.New(nil)
	sess := session.New(session.InterviewAssistant, 200)
	idx := retrieval.New(t.TempDir())

	var mu sync.Mutex
	var completed []eventbus.HintCompletedEvent
	h := bus.SubscribeHandle(eventbus.HintCompleted, func(payload any) {
		mu.Lock()
		completed = append(completed, payload.(eventbus.HintCompletedEvent))
		mu.Unlock()
	})
	defer bus.Unsubscribe(h)

	s := New(bus, sess, idx, newTestSettings(srv.URL), nil)
	defer s.Close()

	bus.Publish(eventbus.TextChunkReady, eventbus.TextChunkReadyEvent{
		Speaker: eventbus.Them, Text: "What is Go?", IsQuestion: true, Mode: eventbus.InterviewAssistant,
	})

	deadline := time.After(2 * time.Second)
	for {
		mu.Lock()
		n := len(completed)
		mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for HintCompleted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.HasPrefix(completed[0].FinalText, "- ") {
		t.Fatalf("expected formatted bullet text, got %q", completed[0].FinalText)
	}
}

func TestStreamerPreemptThenReplace(t *testing.T) {
	// First request streams slowly so the test can preempt mid-flight;
	// second request (after preempt) streams fast.
	var requestCount int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requestCount++
		n := requestCount
		mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)

		delay := 2 * time.Millisecond
		tokens := []string{"- second question answer"}
		if n == 1 {
			delay = 200 * time.Millisecond
			tokens = []string{"- first question answer"}
		}

		for _, tok := range tokens {
			select {
			case <-r.Context().Done():
				return
			case <-time.After(delay):
			}
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", tok)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer srv.Close()

	bus := eventbus.New(nil)
	sess := session.New(session.InterviewAssistant, 200)
	idx := retrieval.New(t.TempDir())

	var cmu sync.Mutex
	var completed []eventbus.HintCompletedEvent
	h := bus.SubscribeHandle(eventbus.HintCompleted, func(payload any) {
		cmu.Lock()
		completed = append(completed, payload.(eventbus.HintCompletedEvent))
		cmu.Unlock()
	})
	defer bus.Unsubscribe(h)

	s := New(bus, sess, idx, newTestSettings(srv.URL), nil)
	defer s.Close()

	bus.Publish(eventbus.TextChunkReady, eventbus.TextChunkReadyEvent{
		Speaker: eventbus.Them, Text: "Tell me about your background", IsQuestion: true, Mode: eventbus.InterviewAssistant,
	})
	time.Sleep(30 * time.Millisecond) // ensure the first generation is in flight
	bus.Publish(eventbus.TextChunkReady, eventbus.TextChunkReadyEvent{
		Speaker: eventbus.Them, Text: "Why did you choose this role?", IsQuestion: true, Mode: eventbus.InterviewAssistant,
	})

	deadline := time.After(2 * time.Second)
	for {
		cmu.Lock()
		n := len(completed)
		cmu.Unlock()
		if n >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for HintCompleted")
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Give any (incorrect) late first-generation completion a chance to land.
	time.Sleep(250 * time.Millisecond)

	cmu.Lock()
	defer cmu.Unlock()
	if len(completed) != 1 {
		t.Fatalf("expected exactly 1 HintCompleted (the preempting one), got %d: %+v", len(completed), completed)
	}
	if !strings.Contains(completed[0].FinalText, "second question") {
		t.Fatalf("expected the second question's hint to win, got %q", completed[0].FinalText)
	}
}
