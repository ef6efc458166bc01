package stt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lokutor-ai/realtime-copilot/internal/audio"
	"github.com/lokutor-ai/realtime-copilot/internal/config"
	"github.com/lokutor-ai/realtime-copilot/internal/logging"
	"github.com/lokutor-ai/realtime-copilot/internal/session"
)

const dequeueTimeout = 100 * time.Millisecond

// Pump drains one of a session's audio queues, resamples each frame from
// 16kHz to the 24kHz the realtime API expects, and forwards it to client
// (spec.md §4.4/§5 — one pump per channel, tagged to the same speaker as its
// client).
type Pump struct {
	sessionID string
	channel   session.Channel
	queue     *session.AudioQueue
	client    *Client
	logger    logging.Logger

	debugSave bool
	debugPath string
	debugPCM  []byte
}

// NewPump creates a pump reading from sess's queue for channel and writing
// resampled audio to client. When settings.DebugSaveAudio is set, the raw
// 16kHz frames pumped for this channel are also buffered and written out as
// a WAV file under settings.DebugAudioPath when the pump stops (spec.md
// §6.8).
func NewPump(sess *session.Session, channel session.Channel, client *Client, settings *config.Settings, logger logging.Logger) *Pump {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	p := &Pump{
		sessionID: sess.ID,
		channel:   channel,
		queue:     sess.Queue(channel),
		client:    client,
		logger:    logger,
	}
	if settings != nil && settings.DebugSaveAudio {
		p.debugSave = true
		p.debugPath = settings.DebugAudioPath
	}
	return p
}

// Run dequeues frames until ctx is cancelled. A dequeue timeout is not an
// error: it just means no audio arrived in the last 100ms, so the loop
// re-checks ctx and tries again.
func (p *Pump) Run(ctx context.Context) error {
	defer p.flushDebugAudio()

	for {
		if ctx.Err() != nil {
			return nil
		}

		frame, ok := p.queue.Dequeue(ctx, dequeueTimeout)
		if !ok {
			continue
		}

		if p.debugSave {
			p.debugPCM = append(p.debugPCM, frame...)
		}

		resampled := audio.Resample16kTo24k(frame)
		if err := p.client.SendAudio(ctx, resampled); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.logger.Warn("stt: failed to send audio frame", "channel", p.channel, "error", err)
		}
	}
}

// flushDebugAudio writes the accumulated raw 16kHz PCM for this channel out
// as a WAV file, if debug-save is enabled and any audio was captured.
func (p *Pump) flushDebugAudio() {
	if !p.debugSave || len(p.debugPCM) == 0 {
		return
	}

	if err := os.MkdirAll(p.debugPath, 0o755); err != nil {
		p.logger.Warn("stt: failed to create debug audio path", "path", p.debugPath, "error", err)
		return
	}

	label := "mic"
	if p.channel == session.ChannelSystem {
		label = "system"
	}
	name := fmt.Sprintf("%s_%s.wav", p.sessionID, label)
	dest := filepath.Join(p.debugPath, name)
	wav := audio.NewWavBuffer(p.debugPCM, config.SampleRateClient)
	if err := os.WriteFile(dest, wav, 0o644); err != nil {
		p.logger.Warn("stt: failed to write debug audio", "path", dest, "error", err)
	}
}
