// Package openai synthesizes speech through the OpenAI audio API.
package openai

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	goopenai "github.com/sashabaranov/go-openai"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/domain/voice"
)

const (
	ProviderName = "openai"

	defaultModel   = "gpt-4o-mini-tts"
	defaultTimeout = 30 * time.Second
	// The pcm response format is 24kHz mono 16-bit little-endian.
	outputRate = 24000
)

var knownVoices = map[string]goopenai.SpeechVoice{
	"alloy":   goopenai.VoiceAlloy,
	"ash":     goopenai.SpeechVoice("ash"),
	"coral":   goopenai.SpeechVoice("coral"),
	"echo":    goopenai.VoiceEcho,
	"fable":   goopenai.VoiceFable,
	"onyx":    goopenai.VoiceOnyx,
	"nova":    goopenai.VoiceNova,
	"sage":    goopenai.SpeechVoice("sage"),
	"shimmer": goopenai.VoiceShimmer,
}

type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Voice    string
	Timeout  time.Duration
	MaxChars int
	Overflow inter.Overflow
}

type Provider struct {
	cfg    Config
	client *goopenai.Client
}

func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 4096
	}
	if cfg.Overflow == "" {
		cfg.Overflow = inter.OverflowReject
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &Provider{cfg: cfg, client: goopenai.NewClientWithConfig(clientCfg)}
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) TextPolicy() inter.TextPolicy {
	return inter.TextPolicy{MaxChars: p.cfg.MaxChars, Overflow: p.cfg.Overflow}
}

func (p *Provider) Synthesize(ctx context.Context, req inter.SynthesisRequest) (*inter.SynthesisResult, error) {
	text, err := p.TextPolicy().Apply(ProviderName, req.Text)
	if err != nil {
		return nil, err
	}
	if p.cfg.APIKey == "" {
		return nil, inter.NewError(ProviderName, inter.KindRejected, "api key not configured", nil)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	resp, err := p.client.CreateSpeech(ctx, goopenai.CreateSpeechRequest{
		Model:          goopenai.SpeechModel(p.cfg.Model),
		Input:          text,
		Voice:          p.pickVoice(req.Voice),
		Instructions:   instructions(req.Voice),
		ResponseFormat: goopenai.SpeechResponseFormatPcm,
	})
	if err != nil {
		return nil, classify(err)
	}
	defer resp.Close()

	pcm, err := io.ReadAll(resp)
	if err != nil {
		return nil, inter.TransportError(ProviderName, err)
	}
	if len(pcm) == 0 {
		return nil, inter.NewError(ProviderName, inter.KindEmptyAudio, "empty response body", nil)
	}

	wav, format, err := container.Normalize(pcm, container.PCM16Mono(outputRate))
	if err != nil {
		return nil, inter.NewError(ProviderName, inter.KindEmptyAudio, "unusable audio", err)
	}
	return &inter.SynthesisResult{Audio: wav, Format: format, Provider: ProviderName}, nil
}

// pickVoice uses the character's voice id when it names an OpenAI voice,
// then the configured voice, then a gender default.
func (p *Provider) pickVoice(v inter.VoiceSpec) goopenai.SpeechVoice {
	for _, name := range []string{v.VoiceID, p.cfg.Voice} {
		if sv, ok := knownVoices[strings.ToLower(name)]; ok {
			return sv
		}
	}
	switch v.Gender {
	case voice.GenderFemale:
		return goopenai.VoiceNova
	case voice.GenderMale:
		return goopenai.VoiceOnyx
	default:
		return goopenai.VoiceAlloy
	}
}

func instructions(v inter.VoiceSpec) string {
	var parts []string
	if v.AccentHint != "" {
		parts = append(parts, "Speak with a "+v.AccentHint+" accent.")
	}
	if v.StylePrompt != "" {
		parts = append(parts, v.StylePrompt)
	}
	return strings.Join(parts, " ")
}

func classify(err error) *inter.ProviderError {
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		pe := inter.StatusError(ProviderName, apiErr.HTTPStatusCode, apiErr.Message)
		pe.Cause = err
		return pe
	}
	var reqErr *goopenai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		pe := inter.StatusError(ProviderName, reqErr.HTTPStatusCode, "")
		pe.Cause = err
		return pe
	}
	return inter.TransportError(ProviderName, err)
}
