// Package elevenlabs is the primary cloud TTS provider.
package elevenlabs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/bytedance/sonic"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/tts/inter"
)

const (
	ProviderName = "elevenlabs"

	defaultBaseURL = "https://api.elevenlabs.io/v1"
	defaultModel   = "eleven_multilingual_v2"
	defaultVoice   = "21m00Tcm4TlvDq8ikWAM"
	defaultTimeout = 60 * time.Second

	outputFormat = "pcm_24000"
	outputRate   = 24000

	defaultStability  = 0.5
	defaultSimilarity = 0.75
	styledExaggerate  = 0.35
)

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
	client *http.Client
}

type Option func(*Provider)

// WithHTTPClient replaces the HTTP client. Timeouts still come from the
// request context.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

func New(cfg Config, opts ...Option) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 5000
	}
	if cfg.Overflow == "" {
		cfg.Overflow = inter.OverflowTruncate
	}
	p := &Provider{cfg: cfg, client: &http.Client{}}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return ProviderName }

func (p *Provider) TextPolicy() inter.TextPolicy {
	return inter.TextPolicy{MaxChars: p.cfg.MaxChars, Overflow: p.cfg.Overflow}
}

type request struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id,omitempty"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

func (p *Provider) Synthesize(ctx context.Context, req inter.SynthesisRequest) (*inter.SynthesisResult, error) {
	text, err := p.TextPolicy().Apply(ProviderName, req.Text)
	if err != nil {
		return nil, err
	}
	if p.cfg.APIKey == "" {
		return nil, inter.NewError(ProviderName, inter.KindRejected, "api key not configured", nil)
	}

	voiceID := req.Voice.VoiceID
	if voiceID == "" {
		voiceID = p.cfg.Voice
	}

	settings := &voiceSettings{Stability: defaultStability, SimilarityBoost: defaultSimilarity, UseSpeakerBoost: true}
	if req.Voice.StylePrompt != "" {
		settings.Style = styledExaggerate
	}
	body, err := sonic.Marshal(request{Text: text, ModelID: p.cfg.Model, VoiceSettings: settings})
	if err != nil {
		return nil, inter.NewError(ProviderName, inter.KindRejected, "encode request", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/text-to-speech/%s?output_format=%s", p.cfg.BaseURL, url.PathEscape(voiceID), outputFormat)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, inter.NewError(ProviderName, inter.KindRejected, "build request", err)
	}
	httpReq.Header.Set("xi-api-key", p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "audio/pcm")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, inter.TransportError(ProviderName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, inter.StatusError(ProviderName, resp.StatusCode, string(detail))
	}

	pcm, err := io.ReadAll(resp.Body)
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
