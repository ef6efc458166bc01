// Package stt is the upstream speech-to-text streaming client of spec.md
// §4.4: one instance per audio channel, each holding a persistent
// connection to the OpenAI Realtime transcription API.
package stt

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/lokutor-ai/realtime-copilot/internal/eventbus"
	"github.com/lokutor-ai/realtime-copilot/internal/logging"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
)

const (
	realtimeURL        = "wss://api.openai.com/v1/realtime"
	transcriptionModel = "gpt-4o-mini-transcribe"
)

// Client is a single upstream STT connection, tagged to one speaker (spec.md
// §4.4: "one tagged Me (mic channel), one tagged Them (system channel)").
type Client struct {
	speaker session.Speaker
	apiKey  string
	bus     *eventbus.Bus
	logger  logging.Logger

	// endpoint defaults to realtimeURL; tests override it to point at a
	// local httptest websocket server.
	endpoint string

	mu               sync.Mutex
	conn             *websocket.Conn
	currentSegmentID string
}

// New creates an STT client for speaker, not yet connected.
func New(speaker session.Speaker, apiKey string, bus *eventbus.Bus, logger logging.Logger) *Client {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &Client{speaker: speaker, apiKey: apiKey, bus: bus, logger: logger, endpoint: realtimeURL}
}

// Run dials upstream, configures the session for transcription, and
// processes inbound messages until ctx is cancelled or the connection
// fails. On dial failure it publishes SttError and returns the error so the
// caller can decide whether to surface a startup failure (spec.md §4.4
// "Failure semantics").
func (c *Client) Run(ctx context.Context) error {
	conn, err := c.connect(ctx)
	if err != nil {
		c.logger.Error("stt: connect failed", "speaker", c.speaker, "error", err)
		c.bus.Publish(eventbus.SttError, eventbus.SttErrorEvent{
			Speaker: eventbus.Speaker(c.speaker),
			Message: err.Error(),
		})
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	return c.receiveLoop(ctx, conn)
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("stt: parse realtime URL: %w", err)
	}
	q := u.Query()
	q.Set("model", transcriptionModel)
	u.RawQuery = q.Encode()

	header := map[string][]string{
		"Authorization": {"Bearer " + c.apiKey},
		"OpenAI-Beta":   {"realtime=v1"},
	}
	conn, _, err := websocket.Dial(ctx, u.String(), &websocket.DialOptions{HTTPHeader: header})
	if err != nil {
		return nil, fmt.Errorf("stt: dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	if err := c.configureSession(ctx, conn); err != nil {
		conn.Close(websocket.StatusAbnormalClosure, "config failed")
		return nil, err
	}
	return conn, nil
}

// sessionUpdateMessage is the outbound "session.update" configuration
// (spec.md §4.4 bit-exact contract).
type sessionUpdateMessage struct {
	Type    string `json:"type"`
	Session struct {
		InputAudioFormat        string `json:"input_audio_format"`
		InputAudioTranscription struct {
			Model string `json:"model"`
		} `json:"input_audio_transcription"`
		TurnDetection struct {
			Type               string `json:"type"`
			Threshold          float64 `json:"threshold"`
			PrefixPaddingMs    int     `json:"prefix_padding_ms"`
			SilenceDurationMs  int     `json:"silence_duration_ms"`
		} `json:"turn_detection"`
	} `json:"session"`
}

func (c *Client) configureSession(ctx context.Context, conn *websocket.Conn) error {
	var msg sessionUpdateMessage
	msg.Type = "session.update"
	msg.Session.InputAudioFormat = "pcm16"
	msg.Session.InputAudioTranscription.Model = transcriptionModel
	msg.Session.TurnDetection.Type = "server_vad"
	msg.Session.TurnDetection.Threshold = 0.5
	msg.Session.TurnDetection.PrefixPaddingMs = 300
	msg.Session.TurnDetection.SilenceDurationMs = 300

	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("stt: configure session: %w", err)
	}
	return nil
}

// audioAppendMessage is the outbound "input_audio_buffer.append" frame.
type audioAppendMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// SendAudio base64-encodes a 24kHz PCM16 chunk and appends it to the
// upstream input buffer.
func (c *Client) SendAudio(ctx context.Context, pcm24k []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	msg := audioAppendMessage{
		Type:  "input_audio_buffer.append",
		Audio: base64.StdEncoding.EncodeToString(pcm24k),
	}
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		return fmt.Errorf("stt: send audio: %w", err)
	}
	return nil
}

// inboundMessage covers every field used across the inbound message kinds
// of interest (spec.md §4.4).
type inboundMessage struct {
	Type       string          `json:"type"`
	Delta      string          `json:"delta"`
	Transcript string          `json:"transcript"`
	Error      json.RawMessage `json:"error"`
}

func (c *Client) receiveLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		var msg inboundMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Warn("stt: receive error", "speaker", c.speaker, "error", err)
			return nil
		}
		c.handleMessage(msg)
	}
}

func (c *Client) handleMessage(msg inboundMessage) {
	switch msg.Type {
	case "session.created", "session.updated":
		c.logger.Debug("stt: session lifecycle ack", "speaker", c.speaker, "type", msg.Type)

	case "input_audio_buffer.speech_started":
		segID := uuid.NewString()
		c.mu.Lock()
		c.currentSegmentID = segID
		c.mu.Unlock()
		c.logger.Debug("stt: speech started", "speaker", c.speaker, "segment_id", segID)

	case "input_audio_buffer.speech_stopped":
		c.logger.Debug("stt: speech stopped", "speaker", c.speaker)

	case "conversation.item.input_audio_transcription.delta":
		if msg.Delta == "" {
			return
		}
		c.mu.Lock()
		segID := c.currentSegmentID
		c.mu.Unlock()
		if segID == "" {
			return
		}
		c.bus.Publish(eventbus.TranscriptDelta, eventbus.TranscriptDeltaEvent{
			Speaker:   eventbus.Speaker(c.speaker),
			Text:      msg.Delta,
			SegmentID: segID,
			Timestamp: time.Now().UTC(),
		})

	case "conversation.item.input_audio_transcription.completed":
		if msg.Transcript == "" {
			return
		}
		c.mu.Lock()
		segID := c.currentSegmentID
		if segID == "" {
			segID = uuid.NewString()
		}
		c.currentSegmentID = ""
		c.mu.Unlock()
		c.bus.Publish(eventbus.TranscriptCompleted, eventbus.TranscriptCompletedEvent{
			Speaker:   eventbus.Speaker(c.speaker),
			Text:      msg.Transcript,
			SegmentID: segID,
			Timestamp: time.Now().UTC(),
		})

	case "error":
		c.logger.Error("stt: upstream error", "speaker", c.speaker, "error", string(msg.Error))
		c.bus.Publish(eventbus.SttError, eventbus.SttErrorEvent{
			Speaker: eventbus.Speaker(c.speaker),
			Message: string(msg.Error),
		})
	}
}
