// Package ingress is the connection handler of spec.md §4.1: it owns a
// single client WebSocket connection end to end, wiring it to a Session and
// the pipeline tasks that session drives.
package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/lokutor-ai/realtime-copilot/internal/aggregator"
	"github.com/lokutor-ai/realtime-copilot/internal/completion"
	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"github.com/lokutor-ai/realtime-copilot/internal/eventbus"
	"github.com/lokutor-ai/realtime-copilot/internal/logging"
	"github.com/lokutor-ai/realtime-copilot/internal/retrieval"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
	"github.com/lokutor-ai/realtime-copilot/internal/stt"
)

// Handler accepts WebSocket connections and drives one Session per
// connection (spec.md §4.1: "Accepts a single bidirectional message-oriented
// connection per client"). It holds the single process-wide event bus:
// the original's SessionManager constructs exactly one EventBus and every
// ConnectionHandler borrows it, it does not own one, and the supervisor's
// one-Active-session invariant makes a per-connection bus pointless anyway.
type Handler struct {
	supervisor *session.Supervisor
	bus        *eventbus.Bus
	index      *retrieval.Index
	settings   *config.Settings
	logger     logging.Logger
}

// New creates a connection Handler sharing the given bus across every
// connection it serves.
func New(supervisor *session.Supervisor, bus *eventbus.Bus, index *retrieval.Index, settings *config.Settings, logger logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Handler{supervisor: supervisor, bus: bus, index: index, settings: settings, logger: logger}
}

// ServeHTTP upgrades the request to a WebSocket connection and runs the
// connection's full lifecycle until it closes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("ingress: accept failed", "error", err)
		return
	}
	c := newConnection(conn, h.supervisor, h.bus, h.index, h.settings, h.logger)
	c.run(r.Context())
}

// connection is one client WebSocket's worth of state: its Session, its
// event subscriptions, and the single-writer discipline guarding outbound
// sends (spec.md §4.1 "Concurrent send discipline").
type connection struct {
	conn       *websocket.Conn
	supervisor *session.Supervisor
	index      *retrieval.Index
	settings   *config.Settings
	logger     logging.Logger

	writeMu sync.Mutex

	bus     *eventbus.Bus
	sess    *session.Session
	handles []eventbus.Handle
}

func newConnection(conn *websocket.Conn, supervisor *session.Supervisor, bus *eventbus.Bus, index *retrieval.Index, settings *config.Settings, logger logging.Logger) *connection {
	return &connection{
		conn:       conn,
		supervisor: supervisor,
		index:      index,
		settings:   settings,
		logger:     logger,
		bus:        bus,
	}
}

func (c *connection) run(ctx context.Context) {
	c.sess = c.supervisor.CreateSession(session.InterviewAssistant)
	c.subscribe()

	defer func() {
		for _, h := range c.handles {
			c.bus.Unsubscribe(h)
		}
		c.supervisor.DestroySession(c.sess.ID)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	c.sendStatus()
	c.receiveLoop(ctx)
}

// subscribe wires the four client-visible topics to outbound frames
// (spec.md §4.1).
func (c *connection) subscribe() {
	c.handles = append(c.handles, c.bus.SubscribeHandle(eventbus.TranscriptDelta, func(payload any) {
		evt := payload.(eventbus.TranscriptDeltaEvent)
		c.send(map[string]any{
			"type": "transcript_delta", "speaker": evt.Speaker, "text": evt.Text,
			"segment_id": evt.SegmentID, "timestamp": evt.Timestamp,
		})
	}))
	c.handles = append(c.handles, c.bus.SubscribeHandle(eventbus.TranscriptCompleted, func(payload any) {
		evt := payload.(eventbus.TranscriptCompletedEvent)
		c.send(map[string]any{
			"type": "transcript_completed", "speaker": evt.Speaker, "text": evt.Text,
			"segment_id": evt.SegmentID, "timestamp": evt.Timestamp,
		})
	}))
	c.handles = append(c.handles, c.bus.SubscribeHandle(eventbus.HintToken, func(payload any) {
		evt := payload.(eventbus.HintTokenEvent)
		c.send(map[string]any{"type": "hint_token", "hint_id": evt.HintID, "token": evt.Token})
	}))
	c.handles = append(c.handles, c.bus.SubscribeHandle(eventbus.HintCompleted, func(payload any) {
		evt := payload.(eventbus.HintCompletedEvent)
		c.send(map[string]any{
			"type": "hint_completed", "hint_id": evt.HintID, "final_text": evt.FinalText, "mode": evt.Mode,
		})
	}))
}

func (c *connection) sendStatus() {
	stats := c.sess.Stats.Snapshot()
	c.send(map[string]any{
		"type":                 "status",
		"connected":            true,
		"stt_mic_state":        string(c.sess.State()),
		"stt_system_state":     string(c.sess.State()),
		"llm_state":            string(c.sess.State()),
		"dropped_frames_count": stats.DroppedFramesCount,
		"hints_enabled":        c.sess.HintsEnabled(),
	})
}

// send serializes payload to the client under the write-exclusion primitive.
func (c *connection) send(payload any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, payload); err != nil {
		c.logger.Debug("ingress: send failed", "error", err)
	}
}

func (c *connection) sendError(message string) {
	c.send(map[string]any{"type": "error", "message": message})
}

func (c *connection) receiveLoop(ctx context.Context) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return
		}

		switch msgType {
		case websocket.MessageBinary:
			c.handleAudioFrame(data)
		case websocket.MessageText:
			c.handleControlMessage(data)
		}
	}
}

// handleAudioFrame applies the ingress audio policy of spec.md §4.1/§6.2:
// drop frames too short to carry a channel tag, ignore unknown channel tags,
// and enqueue onto the tagged queue with drop-oldest backpressure.
func (c *connection) handleAudioFrame(data []byte) {
	if len(data) < 2 {
		return
	}

	var channel session.Channel
	switch data[0] {
	case byte(session.ChannelMic):
		channel = session.ChannelMic
	case byte(session.ChannelSystem):
		channel = session.ChannelSystem
	default:
		return
	}

	frame := make([]byte, len(data)-1)
	copy(frame, data[1:])

	c.sess.IncTotal(channel)
	if dropped := c.sess.Queue(channel).Enqueue(frame); dropped {
		c.sess.IncDropped(channel)
	}
}

type controlMessage struct {
	Type     string `json:"type"`
	Mode     string `json:"mode"`
	Prompt   string `json:"prompt"`
	Workspace string `json:"workspace"`
}

func (c *connection) handleControlMessage(data []byte) {
	var msg controlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("malformed control message")
		return
	}

	switch msg.Type {
	case "start_session":
		c.startSession()
	case "stop_session":
		c.supervisor.StopSession(c.sess)
	case "pause_hints":
		c.sess.SetHintsEnabled(false)
	case "resume_hints":
		c.sess.SetHintsEnabled(true)
	case "set_mode":
		switch session.Mode(msg.Mode) {
		case session.InterviewAssistant, session.MeetingAssistant:
			c.sess.SetMode(session.Mode(msg.Mode))
		default:
			c.sendError("unknown mode")
		}
	case "set_prompt":
		c.sess.SetCustomPrompt(msg.Prompt)
	case "set_knowledge":
		c.sess.SetWorkspace(msg.Workspace)
	default:
		c.logger.Debug("ingress: ignoring unknown control message", "type", msg.Type)
	}
}

// startSession transitions the session to Active and spawns the three
// pipeline tasks, registering each with the session's task group (spec.md
// §4.2: "the connection handler then spawns the three pipeline tasks").
func (c *connection) startSession() {
	if !c.supervisor.StartSession(c.sess) {
		return
	}

	micClient := stt.New(session.Me, c.settings.OpenAIAPIKey, c.bus, c.logger)
	systemClient := stt.New(session.Them, c.settings.OpenAIAPIKey, c.bus, c.logger)
	micPump := stt.NewPump(c.sess, session.ChannelMic, micClient, c.settings, c.logger)
	systemPump := stt.NewPump(c.sess, session.ChannelSystem, systemClient, c.settings, c.logger)

	agg := aggregator.New(c.bus, c.sess, c.logger)
	streamer := completion.New(c.bus, c.sess, c.index, c.settings, c.logger)

	c.sess.Go(func(ctx context.Context) error { return micClient.Run(ctx) })
	c.sess.Go(func(ctx context.Context) error { return micPump.Run(ctx) })
	c.sess.Go(func(ctx context.Context) error { return systemClient.Run(ctx) })
	c.sess.Go(func(ctx context.Context) error { return systemPump.Run(ctx) })
	c.sess.Go(agg.Run)
	c.sess.Go(func(ctx context.Context) error {
		defer agg.Close()
		defer streamer.Close()
		return streamer.Run(ctx)
	})
}
