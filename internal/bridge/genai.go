package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"

	"github.com/probelab/scoutrelay/internal/domain"
)

var ErrNoAPIKey = errors.New("ai api key not configured")

// Config holds the live-endpoint settings the dialer needs.
type Config struct {
	Model        string
	APIKey       string
	TriggerToken string
	OpenWait     time.Duration
}

// NewDialer returns the DialFunc the coordinator uses in production:
// a Gemini Live session per testing session, audio responses plus
// output transcription so text deltas flow alongside speech.
func NewDialer(cfg Config) DialFunc {
	return func(ctx context.Context, sessionID domain.SessionID, mission domain.Mission) (Conduit, error) {
		if cfg.APIKey == "" {
			return nil, ErrNoAPIKey
		}
		connect := func(ctx context.Context) (liveSession, error) {
			client, err := genai.NewClient(ctx, &genai.ClientConfig{
				APIKey:  cfg.APIKey,
				Backend: genai.BackendGeminiAPI,
			})
			if err != nil {
				return nil, fmt.Errorf("genai client: %w", err)
			}
			sess, err := client.Live.Connect(ctx, cfg.Model, &genai.LiveConnectConfig{
				ResponseModalities:       []genai.Modality{genai.ModalityAudio},
				SystemInstruction:        systemInstruction(mission, cfg.TriggerToken),
				OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
			})
			if err != nil {
				return nil, fmt.Errorf("live connect: %w", err)
			}
			return sess, nil
		}
		return dial(ctx, sessionID, cfg.TriggerToken, cfg.OpenWait, connect), nil
	}
}

func systemInstruction(mission domain.Mission, trigger string) *genai.Content {
	text := fmt.Sprintf(
		"You are observing a live exploratory testing session of %s. "+
			"Mission context: %s. Watch the tester's screen and narration, "+
			"comment on what you see, and when you detect the tester hitting "+
			"a genuine hurdle, include the exact token %s in your response.",
		mission.URL, mission.Context, trigger,
	)
	return &genai.Content{Parts: []*genai.Part{{Text: text}}}
}
