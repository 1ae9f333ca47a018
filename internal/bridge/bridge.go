// Package bridge normalizes the duplex streaming connection to the
// conversational AI endpoint into typed input sends and a typed event
// stream. One bridge serves exactly one session; a dropped connection
// is terminal and a fresh host join constructs a new bridge.
package bridge

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/probelab/scoutrelay/internal/domain"
)

const (
	StateConnecting int32 = iota
	StateOpen
	StateClosed
)

const (
	pcmMIMEType  = "audio/pcm;rate=16000"
	jpegMIMEType = "image/jpeg"

	defaultOpenWait = 250 * time.Millisecond
	eventBuffer     = 64
)

// Conduit is what the coordinator holds. Input is best-effort; output
// flows until Events() is closed.
type Conduit interface {
	SendAudio(pcm []byte)
	SendImage(jpeg []byte)
	Events() <-chan Event
	Close()
}

// DialFunc constructs a Conduit for one session. The coordinator calls
// it off its lock; an error means no bridge and the room degrades to
// human-only operation.
type DialFunc func(ctx context.Context, sessionID domain.SessionID, mission domain.Mission) (Conduit, error)

// liveSession is the narrow slice of *genai.Session the bridge needs.
type liveSession interface {
	SendRealtimeInput(input genai.LiveRealtimeInput) error
	Receive() (*genai.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context) (liveSession, error)

type Bridge struct {
	sessionID domain.SessionID
	trigger   string
	openWait  time.Duration

	state  atomic.Int32
	opened chan struct{}
	events chan Event

	mu   sync.Mutex
	sess liveSession

	cancel    context.CancelFunc
	closeOnce sync.Once
}

// dial starts the handshake in the background and returns the handle
// immediately. Until the connection is open, sends wait one bounded
// interval and then drop.
func dial(ctx context.Context, sessionID domain.SessionID, trigger string, openWait time.Duration, connect connectFunc) *Bridge {
	if openWait <= 0 {
		openWait = defaultOpenWait
	}
	ctx, cancel := context.WithCancel(ctx)
	b := &Bridge{
		sessionID: sessionID,
		trigger:   trigger,
		openWait:  openWait,
		opened:    make(chan struct{}),
		events:    make(chan Event, eventBuffer),
		cancel:    cancel,
	}
	go b.run(ctx, connect)
	return b
}

func (b *Bridge) Events() <-chan Event { return b.events }

// SendAudio forwards a 16 kHz PCM16 chunk. Audio is a lossy telemetry
// stream: if the connection is not open after one bounded wait, the
// chunk is dropped and logged.
func (b *Bridge) SendAudio(pcm []byte) {
	b.send(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: pcm, MIMEType: pcmMIMEType},
	}, "audio")
}

// SendImage forwards a JPEG screen/webcam frame with the same
// best-effort semantics as SendAudio.
func (b *Bridge) SendImage(jpeg []byte) {
	b.send(genai.LiveRealtimeInput{
		Video: &genai.Blob{Data: jpeg, MIMEType: jpegMIMEType},
	}, "image")
}

func (b *Bridge) send(input genai.LiveRealtimeInput, kind string) {
	switch b.state.Load() {
	case StateClosed:
		log.Debug().Str("module", "bridge").Str("session", string(b.sessionID)).Str("kind", kind).Msg("send after close, dropping")
		return
	case StateConnecting:
		// One wait, one re-check; still not open means drop.
		select {
		case <-b.opened:
		case <-time.After(b.openWait):
		}
		if b.state.Load() != StateOpen {
			log.Warn().Str("module", "bridge").Str("session", string(b.sessionID)).Str("kind", kind).Msg("connection not open, dropping chunk")
			return
		}
	}

	b.mu.Lock()
	sess := b.sess
	b.mu.Unlock()
	if sess == nil {
		return
	}
	if err := sess.SendRealtimeInput(input); err != nil {
		log.Warn().Err(err).Str("module", "bridge").Str("session", string(b.sessionID)).Str("kind", kind).Msg("send failed")
	}
}

// Close is idempotent and swallows close-time errors from the remote.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.state.Store(StateClosed)
		b.cancel()
		b.mu.Lock()
		sess := b.sess
		b.mu.Unlock()
		if sess != nil {
			_ = sess.Close()
		}
		log.Info().Str("module", "bridge").Str("session", string(b.sessionID)).Msg("bridge closed")
	})
}

func (b *Bridge) run(ctx context.Context, connect connectFunc) {
	defer close(b.events)

	sess, err := connect(ctx)
	if err != nil {
		if b.state.Load() != StateClosed {
			log.Warn().Err(err).Str("module", "bridge").Str("session", string(b.sessionID)).Msg("connect failed, bridge terminal")
		}
		b.state.Store(StateClosed)
		return
	}

	b.mu.Lock()
	if b.state.Load() == StateClosed {
		b.mu.Unlock()
		_ = sess.Close()
		return
	}
	b.sess = sess
	b.state.Store(StateOpen)
	b.mu.Unlock()
	close(b.opened)
	log.Info().Str("module", "bridge").Str("session", string(b.sessionID)).Msg("live connection open")

	for {
		msg, err := sess.Receive()
		if err != nil {
			if b.state.Load() != StateClosed {
				log.Warn().Err(err).Str("module", "bridge").Str("session", string(b.sessionID)).Msg("receive failed, bridge terminal")
				b.state.Store(StateClosed)
			}
			return
		}
		b.dispatch(ctx, msg)
	}
}

func (b *Bridge) dispatch(ctx context.Context, msg *genai.LiveServerMessage) {
	sc := msg.ServerContent
	if sc == nil {
		return
	}
	if sc.ModelTurn != nil {
		for _, part := range sc.ModelTurn.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				b.emitText(ctx, part.Text)
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				b.emit(ctx, AudioDelta{PCM: part.InlineData.Data})
			}
		}
	}
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		b.emitText(ctx, sc.OutputTranscription.Text)
	}
	if sc.TurnComplete {
		log.Debug().Str("module", "bridge").Str("session", string(b.sessionID)).Msg("turn complete")
		b.emit(ctx, TurnComplete{})
	}
}

func (b *Bridge) emitText(ctx context.Context, text string) {
	if b.trigger != "" && strings.Contains(text, b.trigger) {
		b.emit(ctx, InterventionTrigger{Token: b.trigger, Text: text})
		return
	}
	b.emit(ctx, TextDelta{Text: text})
}

func (b *Bridge) emit(ctx context.Context, ev Event) {
	select {
	case b.events <- ev:
	case <-ctx.Done():
	}
}
