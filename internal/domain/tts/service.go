// Package tts turns text into a character's voice by walking an ordered
// chain of providers until one returns valid audio.
package tts

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/eventbus"
	"voice-server-go/internal/domain/tts/aggregate"
	"voice-server-go/internal/domain/tts/infrastructure/cache"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/domain/tts/repository"
	"voice-server-go/internal/domain/voice"
	"voice-server-go/internal/platform/logging"
	"voice-server-go/internal/platform/observability"
)

const defaultAttemptTimeout = 45 * time.Second

var (
	// ErrAllProvidersExhausted is the only synthesis failure callers see.
	ErrAllProvidersExhausted = errors.New("couldn't generate voice, try again")
	ErrEmptyText             = errors.New("text is empty")
)

// Attempt is one entry of the fallback chain.
type Attempt struct {
	Provider inter.Provider
	Timeout  time.Duration
}

// AttemptFailure explains why one attempt was skipped.
type AttemptFailure struct {
	Provider string
	Kind     inter.ErrorKind
	Err      error
}

// ExhaustedError lists every failed attempt for logs. Its message never
// names a provider.
type ExhaustedError struct {
	Failures []AttemptFailure
}

func (e *ExhaustedError) Error() string { return ErrAllProvidersExhausted.Error() }

func (e *ExhaustedError) Is(target error) bool { return target == ErrAllProvidersExhausted }

// ReferenceSource resolves and loads the clip cloning providers imitate.
type ReferenceSource interface {
	Resolve(characterID, archetype string, gender voice.Gender) voice.Asset
	Load(a voice.Asset) ([]byte, error)
}

type Orchestrator struct {
	attempts       []Attempt
	references     ReferenceSource
	needsReference bool
	cache          repository.ResultCache
	usage          eventbus.Publisher
	metrics        *observability.Metrics
	logger         *logging.Logger
	now            func() time.Time
}

type Option func(*Orchestrator)

func WithReferences(r ReferenceSource) Option {
	return func(o *Orchestrator) { o.references = r }
}

// WithCache enables results caching for requests that opt in with UseCache.
func WithCache(c repository.ResultCache) Option {
	return func(o *Orchestrator) { o.cache = c }
}

func WithUsage(p eventbus.Publisher) Option {
	return func(o *Orchestrator) { o.usage = p }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(attempts []Attempt, logger *logging.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		attempts: append([]Attempt(nil), attempts...),
		logger:   logger,
		now:      time.Now,
	}
	for i := range o.attempts {
		if o.attempts[i].Timeout <= 0 {
			o.attempts[i].Timeout = defaultAttemptTimeout
		}
		if rc, ok := o.attempts[i].Provider.(inter.ReferenceConsumer); ok && rc.UsesReference() {
			o.needsReference = true
		}
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Chain builds attempts with one shared per-attempt timeout.
func Chain(providers []inter.Provider, timeout time.Duration) []Attempt {
	out := make([]Attempt, len(providers))
	for i, p := range providers {
		out[i] = Attempt{Provider: p, Timeout: timeout}
	}
	return out
}

// Providers describes the chain in order.
func (o *Orchestrator) Providers() []inter.ProviderInfo {
	out := make([]inter.ProviderInfo, 0, len(o.attempts))
	for _, a := range o.attempts {
		info := inter.ProviderInfo{Name: a.Provider.Name(), MaxTextLength: a.Provider.TextPolicy().MaxChars}
		if rc, ok := a.Provider.(inter.ReferenceConsumer); ok && rc.UsesReference() {
			info.Features = append(info.Features, "voice_cloning")
		}
		out = append(out, info)
	}
	return out
}

type requestOptions struct {
	useCache bool
	format   inter.OutputFormat
}

type RequestOption func(*requestOptions)

// UseCache serves and stores this request through the result cache.
func UseCache() RequestOption {
	return func(r *requestOptions) { r.useCache = true }
}

func WithFormat(f inter.OutputFormat) RequestOption {
	return func(r *requestOptions) { r.format = f }
}

// Synthesize tries each provider in order and returns the first valid
// clip. Exactly one usage event is published per success and none on
// failure.
func (o *Orchestrator) Synthesize(ctx context.Context, text string, meta aggregate.CharacterMeta, opts ...RequestOption) (res *inter.SynthesisResult, err error) {
	ro := requestOptions{format: inter.FormatWAV}
	for _, opt := range opts {
		opt(&ro)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyText
	}

	ctx, end := observability.StartSpan(ctx, "tts", "synthesize")
	defer func() { end(err) }()

	var cacheKey string
	if ro.useCache && o.cache != nil {
		cacheKey = cache.Key(text, meta.Voice)
		if hit := o.lookup(ctx, cacheKey); hit != nil {
			o.recordUsage(meta, hit)
			o.metrics.SynthesisDone("cache")
			return hit, nil
		}
	}

	req := inter.SynthesisRequest{
		Text:      text,
		Voice:     meta.Voice,
		Reference: o.reference(meta),
		Format:    ro.format,
	}

	var failures []AttemptFailure
	for i, attempt := range o.attempts {
		if err := ctx.Err(); err != nil {
			failures = append(failures, AttemptFailure{Provider: attempt.Provider.Name(), Kind: inter.KindTimeout, Err: err})
			break
		}

		result, err := o.try(ctx, attempt, req)
		if err != nil {
			kind := kindOf(err)
			failures = append(failures, AttemptFailure{Provider: attempt.Provider.Name(), Kind: kind, Err: err})
			if i < len(o.attempts)-1 {
				o.metrics.Fallback(attempt.Provider.Name())
				o.logger.WarnTag("TTS", "%s failed (%s), falling back: %v", attempt.Provider.Name(), kind, err)
			} else {
				o.logger.WarnTag("TTS", "%s failed (%s): %v", attempt.Provider.Name(), kind, err)
			}
			continue
		}

		o.recordUsage(meta, result)
		if cacheKey != "" {
			if err := o.cache.Set(ctx, cacheKey, result); err != nil {
				o.logger.WarnTag("TTS", "cache store failed: %v", err)
			}
		}
		o.metrics.SynthesisDone("ok")
		o.logger.InfoTag("TTS", "synthesized %dms with %s for %s", result.DurationMs, result.Provider, meta.CharacterID)
		return result, nil
	}

	o.metrics.SynthesisDone("exhausted")
	o.logger.ErrorTag("TTS", "all %d providers failed for %s", len(o.attempts), meta.CharacterID)
	return nil, &ExhaustedError{Failures: failures}
}

// try runs one provider under its own timeout and validates what it
// returns. Bytes that fail container validation count as a failure.
func (o *Orchestrator) try(ctx context.Context, attempt Attempt, req inter.SynthesisRequest) (*inter.SynthesisResult, error) {
	name := attempt.Provider.Name()
	actx, cancel := context.WithTimeout(ctx, attempt.Timeout)
	defer cancel()

	start := o.now()
	result, err := attempt.Provider.Synthesize(actx, req)
	elapsed := o.now().Sub(start).Seconds()
	if err == nil {
		err = validate(name, result)
	}
	if err != nil {
		if actx.Err() == context.DeadlineExceeded && kindOf(err) != inter.KindTimeout {
			err = inter.NewError(name, inter.KindTimeout, "attempt deadline exceeded", err)
		}
		o.metrics.ProviderAttempt(name, string(kindOf(err)), elapsed)
		return nil, err
	}

	pcm, format, _ := container.Decode(result.Audio)
	result.Format = format
	result.Provider = name
	result.DurationMs = container.Duration(format, len(pcm)).Milliseconds()
	o.metrics.ProviderAttempt(name, "success", elapsed)
	return result, nil
}

func validate(provider string, result *inter.SynthesisResult) error {
	if result == nil || len(result.Audio) == 0 {
		return inter.NewError(provider, inter.KindEmptyAudio, "no audio returned", nil)
	}
	if !container.IsValid(result.Audio) {
		return inter.NewError(provider, inter.KindInvalidAudio, "audio failed container validation", container.ErrInvalidAudio)
	}
	pcm, format, err := container.Decode(result.Audio)
	if err != nil {
		return inter.NewError(provider, inter.KindInvalidAudio, "audio failed to decode", err)
	}
	if container.SampleCount(format, len(pcm)) == 0 {
		return inter.NewError(provider, inter.KindEmptyAudio, "audio holds no samples", nil)
	}
	return nil
}

func (o *Orchestrator) lookup(ctx context.Context, key string) *inter.SynthesisResult {
	hit, err := o.cache.Get(ctx, key)
	if err != nil {
		o.logger.WarnTag("TTS", "cache lookup failed: %v", err)
	}
	o.metrics.CacheLookup(hit != nil)
	return hit
}

func (o *Orchestrator) reference(meta aggregate.CharacterMeta) *inter.ReferenceAudio {
	if !o.needsReference || o.references == nil {
		return nil
	}
	asset := o.references.Resolve(meta.CharacterID, meta.Voice.Archetype, meta.Gender())
	data, err := o.references.Load(asset)
	if err != nil {
		o.logger.WarnTag("VOICE", "reference %s unreadable: %v", asset.Path, err)
		return nil
	}
	name := path.Base(asset.Path)
	if asset.Path == "" {
		name = "reference.wav"
	}
	return &inter.ReferenceAudio{Bytes: data, Transcript: asset.Transcript, Name: name}
}

// recordUsage derives the duration from the clip's sample count so slow
// synthesis never inflates rewards.
func (o *Orchestrator) recordUsage(meta aggregate.CharacterMeta, result *inter.SynthesisResult) {
	pcm, format, err := container.Decode(result.Audio)
	if err != nil || format.SampleRateHz == 0 {
		return
	}
	seconds := float64(container.SampleCount(format, len(pcm))) / float64(format.SampleRateHz)
	o.metrics.Usage(string(eventbus.UsageSourceTTS), seconds)
	if o.usage == nil {
		return
	}
	eventbus.PublishUsage(o.usage, eventbus.UsageEvent{
		ContributionID:  meta.UsageKey(),
		CharacterID:     meta.CharacterID,
		Source:          eventbus.UsageSourceTTS,
		Provider:        result.Provider,
		DurationSeconds: seconds,
		OccurredAt:      o.now(),
	})
}

func kindOf(err error) inter.ErrorKind {
	var pe *inter.ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return inter.KindTimeout
	}
	return inter.KindNetworkFailure
}

func (f AttemptFailure) String() string {
	return fmt.Sprintf("%s: %s", f.Provider, f.Kind)
}
