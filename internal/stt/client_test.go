package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/realtime-copilot/internal/eventbus"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
)

// scriptedServer accepts one websocket connection, reads the inbound
// session.update configuration message, then writes each of messages in
// turn before closing.
func scriptedServer(t *testing.T, messages []map[string]interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		var configMsg map[string]interface{}
		if err := wsjson.Read(r.Context(), conn, &configMsg); err != nil {
			return
		}

		for _, m := range messages {
			if err := wsjson.Write(r.Context(), conn, m); err != nil {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}))
}

func TestClientSegmentLifecycleDeltaOnlyForwardedWithActiveSegment(t *testing.T) {
	srv := scriptedServer(t, []map[string]interface{}{
		{
			"type":  "conversation.item.input_audio_transcription.delta",
			"delta": "ignored, no segment yet",
		},
		{"type": "input_audio_buffer.speech_started"},
		{
			"type":  "conversation.item.input_audio_transcription.delta",
			"delta": "hello ",
		},
		{
			"type":  "conversation.item.input_audio_transcription.delta",
			"delta": "world",
		},
		{
			"type":       "conversation.item.input_audio_transcription.completed",
			"transcript": "hello world",
		},
	})
	defer srv.Close()

	bus := eventbus.New(nil)

	var mu sync.Mutex
	var deltas []eventbus.TranscriptDeltaEvent
	var completed []eventbus.TranscriptCompletedEvent
	dh := bus.SubscribeHandle(eventbus.TranscriptDelta, func(p any) {
		mu.Lock()
		deltas = append(deltas, p.(eventbus.TranscriptDeltaEvent))
		mu.Unlock()
	})
	ch := bus.SubscribeHandle(eventbus.TranscriptCompleted, func(p any) {
		mu.Lock()
		completed = append(completed, p.(eventbus.TranscriptCompletedEvent))
		mu.Unlock()
	})
	defer bus.Unsubscribe(dh)
	defer bus.Unsubscribe(ch)

	c := New(session.Them, "test-key", bus, nil)
	c.endpoint = strings.Replace(srv.URL, "http://", "ws://", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(deltas) != 2 {
		t.Fatalf("expected 2 forwarded deltas (pre-segment delta dropped), got %d: %+v", len(deltas), deltas)
	}
	if deltas[0].Text != "hello " || deltas[1].Text != "world" {
		t.Fatalf("unexpected delta texts: %+v", deltas)
	}
	if deltas[0].SegmentID == "" || deltas[0].SegmentID != deltas[1].SegmentID {
		t.Fatalf("expected both deltas to share the minted segment id: %+v", deltas)
	}

	if len(completed) != 1 {
		t.Fatalf("expected 1 completed transcript, got %d", len(completed))
	}
	if completed[0].Text != "hello world" {
		t.Fatalf("unexpected completed text: %q", completed[0].Text)
	}
	if completed[0].SegmentID != deltas[0].SegmentID {
		t.Fatalf("expected completed segment id to match the delta's minted id")
	}
}

func TestClientErrorMessagePublishesSttError(t *testing.T) {
	srv := scriptedServer(t, []map[string]interface{}{
		{"type": "error", "error": map[string]interface{}{"message": "bad request"}},
	})
	defer srv.Close()

	bus := eventbus.New(nil)

	var mu sync.Mutex
	var errs []eventbus.SttErrorEvent
	h := bus.SubscribeHandle(eventbus.SttError, func(p any) {
		mu.Lock()
		errs = append(errs, p.(eventbus.SttErrorEvent))
		mu.Unlock()
	})
	defer bus.Unsubscribe(h)

	c := New(session.Me, "test-key", bus, nil)
	c.endpoint = strings.Replace(srv.URL, "http://", "ws://", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = c.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("expected 1 SttError published, got %d", len(errs))
	}
	if errs[0].Speaker != eventbus.Me {
		t.Fatalf("expected error tagged to Me, got %v", errs[0].Speaker)
	}
	if !strings.Contains(errs[0].Message, "bad request") {
		t.Fatalf("expected error message to carry upstream detail, got %q", errs[0].Message)
	}
}

func TestClientConnectFailurePublishesSttErrorAndReturnsErr(t *testing.T) {
	bus := eventbus.New(nil)

	var mu sync.Mutex
	var errs []eventbus.SttErrorEvent
	h := bus.SubscribeHandle(eventbus.SttError, func(p any) {
		mu.Lock()
		errs = append(errs, p.(eventbus.SttErrorEvent))
		mu.Unlock()
	})
	defer bus.Unsubscribe(h)

	c := New(session.Them, "test-key", bus, nil)
	c.endpoint = "ws://127.0.0.1:1" // nothing listening

	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("expected an error dialing a closed port")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 1 {
		t.Fatalf("expected 1 SttError published on connect failure, got %d", len(errs))
	}
}
