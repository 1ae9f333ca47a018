package bridge

// Event is one item of the bridge's typed outbound stream. Consumers
// switch exhaustively instead of wiring three separate callbacks.
type Event interface {
	eventType() string
}

// AudioDelta carries an inline PCM chunk spoken by the AI.
type AudioDelta struct {
	PCM []byte
}

func (AudioDelta) eventType() string { return "audio_delta" }

// TextDelta carries an incremental piece of the AI's textual response.
type TextDelta struct {
	Text string
}

func (TextDelta) eventType() string { return "text_delta" }

// InterventionTrigger fires when a text delta contains the designated
// trigger token; that delta is routed here instead of TextDelta.
type InterventionTrigger struct {
	Token string
	Text  string
}

func (InterventionTrigger) eventType() string { return "intervention" }

// TurnComplete marks the end of a model turn. Observed for logging;
// delivery is never gated on it.
type TurnComplete struct{}

func (TurnComplete) eventType() string { return "turn_complete" }
