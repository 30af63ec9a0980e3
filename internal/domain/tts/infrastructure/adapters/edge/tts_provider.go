// Package edge is the free Microsoft Edge read-aloud fallback. It needs no
// credentials and is usually last in the chain.
package edge

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/domain/voice"
	"voice-server-go/internal/platform/logging"
)

const (
	ProviderName = "edge"

	defaultVoice   = "en-US-AriaNeural"
	defaultTimeout = 30 * time.Second
)

// StreamFunc performs one synthesis and returns the encoded audio (MP3
// for the real service).
type StreamFunc func(ctx context.Context, text string, opts StreamOptions) ([]byte, error)

type StreamOptions struct {
	Voice          string
	Rate           string
	Pitch          string
	Volume         string
	ReceiveTimeout time.Duration
}

type Config struct {
	Voice    string
	Rate     string
	Pitch    string
	Volume   string
	Timeout  time.Duration
	MaxChars int
	Overflow inter.Overflow
}

type Provider struct {
	cfg    Config
	stream StreamFunc
	logger *logging.Logger
}

type Option func(*Provider)

// WithStream replaces the Edge service call, mainly for tests.
func WithStream(fn StreamFunc) Option {
	return func(p *Provider) { p.stream = fn }
}

func New(cfg Config, logger *logging.Logger, opts ...Option) *Provider {
	if cfg.Voice == "" {
		cfg.Voice = defaultVoice
	}
	if cfg.Rate == "" {
		cfg.Rate = "+0%"
	}
	if cfg.Pitch == "" {
		cfg.Pitch = "+0Hz"
	}
	if cfg.Volume == "" {
		cfg.Volume = "+0%"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxChars == 0 {
		cfg.MaxChars = 2000
	}
	if cfg.Overflow == "" {
		cfg.Overflow = inter.OverflowTruncate
	}
	p := &Provider{cfg: cfg, stream: streamEdge, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p
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

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	voiceName := p.pickVoice(req.Voice)
	start := time.Now()
	audio, err := p.stream(ctx, text, StreamOptions{
		Voice:          voiceName,
		Rate:           p.cfg.Rate,
		Pitch:          p.cfg.Pitch,
		Volume:         p.cfg.Volume,
		ReceiveTimeout: p.cfg.Timeout,
	})
	if err != nil {
		return nil, inter.TransportError(ProviderName, err)
	}
	if len(audio) == 0 {
		return nil, inter.NewError(ProviderName, inter.KindEmptyAudio, "service returned no audio", nil)
	}
	p.logger.DebugTag("TTS", "edge synthesis with %s took %v", voiceName, time.Since(start))

	wav, format, err := container.Normalize(audio, container.Format{})
	if err != nil {
		return nil, inter.NewError(ProviderName, inter.KindEmptyAudio, "undecodable audio", err)
	}
	return &inter.SynthesisResult{Audio: wav, Format: format, Provider: ProviderName}, nil
}

// accentLocales is checked in order; the first word found in the hint wins.
var accentLocales = []struct{ word, locale string }{
	{"british", "en-GB"},
	{"english", "en-GB"},
	{"scottish", "en-GB"},
	{"australian", "en-AU"},
	{"irish", "en-IE"},
	{"indian", "en-IN"},
	{"american", "en-US"},
}

var localeVoices = map[string][2]string{
	"en-US": {"en-US-GuyNeural", "en-US-AriaNeural"},
	"en-GB": {"en-GB-RyanNeural", "en-GB-SoniaNeural"},
	"en-AU": {"en-AU-WilliamNeural", "en-AU-NatashaNeural"},
	"en-IE": {"en-IE-ConnorNeural", "en-IE-EmilyNeural"},
	"en-IN": {"en-IN-PrabhatNeural", "en-IN-NeerjaNeural"},
}

// pickVoice keeps a voice id that already names an Edge voice, otherwise
// maps accent and gender onto a locale voice, otherwise uses the default.
func (p *Provider) pickVoice(v inter.VoiceSpec) string {
	if strings.HasSuffix(v.VoiceID, "Neural") {
		return v.VoiceID
	}
	if v.Gender == voice.GenderNonBinary || v.Gender == "" {
		return p.cfg.Voice
	}
	locale := "en-US"
	hint := strings.ToLower(v.AccentHint)
	for _, a := range accentLocales {
		if strings.Contains(hint, a.word) {
			locale = a.locale
			break
		}
	}
	pair := localeVoices[locale]
	if v.Gender == voice.GenderMale {
		return pair[0]
	}
	return pair[1]
}

// streamEdge calls the Edge service. The library call is not
// context-aware, so it runs in a goroutine and ctx bounds the wait; the
// receive timeout bounds the goroutine itself.
func streamEdge(ctx context.Context, text string, opts StreamOptions) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}
	done := make(chan result, 1)

	go func() {
		comm, err := edge_tts.NewCommunicate(text,
			edge_tts.SetVoice(opts.Voice),
			edge_tts.SetRate(opts.Rate),
			edge_tts.SetPitch(opts.Pitch),
			edge_tts.SetVolume(opts.Volume),
			edge_tts.SetReceiveTimeout(int(opts.ReceiveTimeout.Seconds())),
		)
		if err != nil {
			done <- result{err: fmt.Errorf("edge communicate: %w", err)}
			return
		}
		data, err := comm.Stream()
		done <- result{data: data, err: err}
	}()

	select {
	case r := <-done:
		return r.data, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
