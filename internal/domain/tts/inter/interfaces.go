package inter

import (
	"context"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/voice"
)

// Provider is one TTS backend. Implementations make a single attempt per
// call and never retry; fallback belongs to the orchestrator.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string

	// TextPolicy reports the provider's input length limit.
	TextPolicy() TextPolicy

	// Synthesize turns req into audio. The result always holds a WAV
	// container; failures are *ProviderError.
	Synthesize(ctx context.Context, req SynthesisRequest) (*SynthesisResult, error)
}

// ReferenceConsumer is implemented by providers that clone a reference
// voice. The orchestrator only loads reference bytes when one of its
// providers needs them.
type ReferenceConsumer interface {
	UsesReference() bool
}

// VoiceSpec describes the voice a character speaks with.
type VoiceSpec struct {
	VoiceID     string       `json:"voiceId"`
	Archetype   string       `json:"archetype,omitempty"`
	Gender      voice.Gender `json:"gender,omitempty"`
	AccentHint  string       `json:"accentHint,omitempty"`
	StylePrompt string       `json:"stylePrompt,omitempty"`
}

type OutputFormat string

const (
	FormatWAV   OutputFormat = "wav"
	FormatPCM16 OutputFormat = "pcm16"
)

// ReferenceAudio is the clip a cloning provider imitates.
type ReferenceAudio struct {
	Bytes      []byte
	Transcript string
	// Name is a file name hint for uploads, e.g. "sample_1.wav".
	Name string
}

type SynthesisRequest struct {
	Text      string
	Voice     VoiceSpec
	Reference *ReferenceAudio
	Format    OutputFormat
}

// SynthesisResult is the canonical output every provider maps into.
type SynthesisResult struct {
	Audio      []byte           `json:"-"`
	Format     container.Format `json:"format"`
	Provider   string           `json:"provider"`
	DurationMs int64            `json:"durationMs"`
}

// ProviderInfo is static metadata for listing configured providers.
type ProviderInfo struct {
	Name          string   `json:"name"`
	MaxTextLength int      `json:"maxTextLength"`
	Features      []string `json:"features"`
}
