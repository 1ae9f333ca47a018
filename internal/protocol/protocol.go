// Package protocol defines the JSON envelope messages of the room
// relay. Binary websocket frames are raw PCM16 audio and carry no
// envelope; everything else is a text frame with a "type" field.
package protocol

import (
	"encoding/json"
	"fmt"
)

const (
	TypeJoin             = "join"
	TypeRelayScreenFrame = "relay-screen-frame"
	TypeRelayTelemetry   = "relay-telemetry"
	TypeTriggerReport    = "trigger-report"

	TypeJoined          = "joined"
	TypeRequestSnapshot = "request-snapshot"
	TypeAIAudio         = "ai-audio"
	TypeAIText          = "ai-text"
	TypeAIIntervention  = "ai-intervention"
	TypeSessionEnded    = "session-ended"
	TypeQueued          = "queued"
	TypeError           = "error"
)

// Envelope is the minimal view used to dispatch inbound text frames.
type Envelope struct {
	Type string `json:"type"`
}

type JoinRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Role      string `json:"role,omitempty"`
}

type JoinResponse struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Role    string `json:"role,omitempty"`
	Message string `json:"message,omitempty"`
}

// ScreenFrame carries one JPEG frame, base64 inside the JSON envelope.
type ScreenFrame struct {
	Type  string `json:"type"`
	Frame []byte `json:"frame"`
}

// TelemetryBatch is an ordered batch of DOM interaction events. Events
// stay opaque to the relay; order within a batch is preserved verbatim.
// Snapshot marks a full-state batch pushed in answer to
// request-snapshot.
type TelemetryBatch struct {
	Type     string            `json:"type"`
	Events   []json.RawMessage `json:"events"`
	Snapshot bool              `json:"snapshot,omitempty"`
}

type TriggerReport struct {
	Type    string          `json:"type"`
	Context json.RawMessage `json:"context,omitempty"`
}

type RequestSnapshot struct {
	Type string `json:"type"`
}

type AIAudio struct {
	Type  string `json:"type"`
	Audio []byte `json:"audio"`
}

type AIText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type AIIntervention struct {
	Type    string `json:"type"`
	Trigger string `json:"trigger"`
}

type SessionEnded struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

// Encode marshals an outbound message. All message types here marshal
// without error; a failure indicates a programming bug upstream.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", v, err)
	}
	return b, nil
}
