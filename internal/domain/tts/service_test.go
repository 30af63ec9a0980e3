package tts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/eventbus"
	"voice-server-go/internal/domain/tts/aggregate"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/domain/voice"
	"voice-server-go/internal/platform/observability"
	platformtesting "voice-server-go/internal/platform/testing"
)

type fakeProvider struct {
	name      string
	result    func(ctx context.Context, req inter.SynthesisRequest) (*inter.SynthesisResult, error)
	reference bool

	mu    sync.Mutex
	calls []inter.SynthesisRequest
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) TextPolicy() inter.TextPolicy {
	return inter.TextPolicy{MaxChars: 300, Overflow: inter.OverflowTruncate}
}

func (f *fakeProvider) UsesReference() bool { return f.reference }

func (f *fakeProvider) Synthesize(ctx context.Context, req inter.SynthesisRequest) (*inter.SynthesisResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.result(ctx, req)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func failing(name string, kind inter.ErrorKind) *fakeProvider {
	return &fakeProvider{name: name, result: func(context.Context, inter.SynthesisRequest) (*inter.SynthesisResult, error) {
		return nil, inter.NewError(name, kind, "boom", nil)
	}}
}

func succeeding(t *testing.T, name string, samples, rate int) *fakeProvider {
	wav, err := container.Encode(make([]byte, samples*2), container.PCM16Mono(rate))
	require.NoError(t, err)
	return &fakeProvider{name: name, result: func(context.Context, inter.SynthesisRequest) (*inter.SynthesisResult, error) {
		return &inter.SynthesisResult{Audio: wav}, nil
	}}
}

func meta() aggregate.CharacterMeta {
	return aggregate.CharacterMeta{
		CharacterID:    "captain-vex",
		ContributionID: "contrib-42",
		Voice:          inter.VoiceSpec{VoiceID: "v1", Archetype: "rebellious", Gender: voice.GenderFemale},
	}
}

func TestSynthesize_FallsBackToFirstSuccess(t *testing.T) {
	first := failing("primary", inter.KindRejected)
	second := failing("self-hosted", inter.KindNoJob)
	third := succeeding(t, "edge", 24000, 24000)
	fourth := succeeding(t, "never", 100, 16000)

	usage := eventbus.NewRecorder(nil)
	metrics := observability.NewMetrics()
	o := NewOrchestrator(Chain([]inter.Provider{first, second, third, fourth}, time.Second),
		platformtesting.SetupTestLogger(t), WithUsage(usage), WithMetrics(metrics))

	res, err := o.Synthesize(context.Background(), "  Hold the line.  ", meta())
	require.NoError(t, err)

	assert.Equal(t, "edge", res.Provider)
	assert.Equal(t, int64(1000), res.DurationMs)
	assert.Equal(t, 24000, res.Format.SampleRateHz)
	assert.True(t, container.IsValid(res.Audio))
	assert.Equal(t, 0, fourth.callCount())
	assert.Equal(t, "Hold the line.", third.calls[0].Text)

	events := usage.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "contrib-42", events[0].ContributionID)
	assert.Equal(t, eventbus.UsageSourceTTS, events[0].Source)
	assert.InDelta(t, 1.0, events[0].DurationSeconds, 1e-9)
}

func TestSynthesize_AllFailIsExhaustedWithoutUsage(t *testing.T) {
	usage := eventbus.NewRecorder(nil)
	o := NewOrchestrator(Chain([]inter.Provider{
		failing("a", inter.KindTimeout),
		failing("b", inter.KindNetworkFailure),
	}, time.Second), platformtesting.SetupTestLogger(t), WithUsage(usage))

	_, err := o.Synthesize(context.Background(), "hello", meta())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAllProvidersExhausted))
	assert.NotContains(t, err.Error(), "a:")

	var exhausted *ExhaustedError
	require.True(t, errors.As(err, &exhausted))
	require.Len(t, exhausted.Failures, 2)
	assert.Equal(t, inter.KindTimeout, exhausted.Failures[0].Kind)
	assert.Equal(t, inter.KindNetworkFailure, exhausted.Failures[1].Kind)
	assert.Empty(t, usage.Events())
}

func TestSynthesize_InvalidAudioAdvances(t *testing.T) {
	wav, err := container.Encode(make([]byte, 200), container.PCM16Mono(16000))
	require.NoError(t, err)
	zeroed := append([]byte(nil), wav...)
	copy(zeroed, []byte{0, 0, 0, 0})

	corrupt := &fakeProvider{name: "corrupt", result: func(context.Context, inter.SynthesisRequest) (*inter.SynthesisResult, error) {
		return &inter.SynthesisResult{Audio: zeroed}, nil
	}}
	raw := &fakeProvider{name: "raw", result: func(context.Context, inter.SynthesisRequest) (*inter.SynthesisResult, error) {
		return &inter.SynthesisResult{Audio: make([]byte, 400)}, nil
	}}
	silent := &fakeProvider{name: "silent", result: func(context.Context, inter.SynthesisRequest) (*inter.SynthesisResult, error) {
		header, _ := container.Encode(nil, container.PCM16Mono(16000))
		return &inter.SynthesisResult{Audio: header}, nil
	}}
	good := succeeding(t, "good", 1600, 16000)

	usage := eventbus.NewRecorder(nil)
	o := NewOrchestrator(Chain([]inter.Provider{corrupt, raw, silent, good}, time.Second),
		platformtesting.SetupTestLogger(t), WithUsage(usage))

	res, err := o.Synthesize(context.Background(), "hello", meta())
	require.NoError(t, err)
	assert.Equal(t, "good", res.Provider)
	assert.Equal(t, 1, corrupt.callCount())
	assert.Len(t, usage.Events(), 1)
}

func TestSynthesize_PerAttemptTimeout(t *testing.T) {
	slow := &fakeProvider{name: "slow", result: func(ctx context.Context, _ inter.SynthesisRequest) (*inter.SynthesisResult, error) {
		<-ctx.Done()
		return nil, errors.New("connection dropped")
	}}
	good := succeeding(t, "good", 160, 16000)

	o := NewOrchestrator([]Attempt{
		{Provider: slow, Timeout: 20 * time.Millisecond},
		{Provider: good, Timeout: time.Second},
	}, platformtesting.SetupTestLogger(t))

	start := time.Now()
	res, err := o.Synthesize(context.Background(), "hello", meta())
	require.NoError(t, err)
	assert.Equal(t, "good", res.Provider)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSynthesize_EmptyText(t *testing.T) {
	o := NewOrchestrator(nil, nil)
	_, err := o.Synthesize(context.Background(), "   ", meta())
	assert.ErrorIs(t, err, ErrEmptyText)
}

func TestSynthesize_LoadsReferenceOnlyForCloningProviders(t *testing.T) {
	clip, err := container.Encode(make([]byte, 320), container.PCM16Mono(16000))
	require.NoError(t, err)
	fsys := fstest.MapFS{
		"captain-vex/sample_1.wav":   {Data: clip},
		"captain-vex/transcript.txt": {Data: []byte("Steady now.")},
	}
	table := voice.DefaultTable()
	table.Folders = []string{"captain-vex"}
	resolver, err := voice.NewResolver(table, fsys, nil)
	require.NoError(t, err)

	cloner := succeeding(t, "cloner", 160, 16000)
	cloner.reference = true
	o := NewOrchestrator(Chain([]inter.Provider{cloner}, time.Second), nil, WithReferences(resolver))

	_, err = o.Synthesize(context.Background(), "hello", meta())
	require.NoError(t, err)
	ref := cloner.calls[0].Reference
	require.NotNil(t, ref)
	assert.Equal(t, clip, ref.Bytes)
	assert.Equal(t, "sample_1.wav", ref.Name)

	plain := succeeding(t, "plain", 160, 16000)
	o = NewOrchestrator(Chain([]inter.Provider{plain}, time.Second), nil, WithReferences(resolver))
	_, err = o.Synthesize(context.Background(), "hello", meta())
	require.NoError(t, err)
	assert.Nil(t, plain.calls[0].Reference)
}

type mapCache struct {
	mu   sync.Mutex
	data map[string]*inter.SynthesisResult
}

func (c *mapCache) Get(_ context.Context, key string) (*inter.SynthesisResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.data[key], nil
}

func (c *mapCache) Set(_ context.Context, key string, r *inter.SynthesisResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = r
	return nil
}

func TestSynthesize_CacheOptIn(t *testing.T) {
	provider := succeeding(t, "edge", 1600, 16000)
	usage := eventbus.NewRecorder(nil)
	store := &mapCache{data: map[string]*inter.SynthesisResult{}}
	o := NewOrchestrator(Chain([]inter.Provider{provider}, time.Second), nil, WithCache(store), WithUsage(usage))

	_, err := o.Synthesize(context.Background(), "hello", meta())
	require.NoError(t, err)
	assert.Empty(t, store.data)

	_, err = o.Synthesize(context.Background(), "hello", meta(), UseCache())
	require.NoError(t, err)
	assert.Len(t, store.data, 1)

	res, err := o.Synthesize(context.Background(), "hello", meta(), UseCache())
	require.NoError(t, err)
	assert.Equal(t, "edge", res.Provider)
	assert.Equal(t, 2, provider.callCount())
	// a cache hit is still heard, so it still earns usage
	assert.Len(t, usage.Events(), 3)
}

func TestProviders(t *testing.T) {
	cloner := succeeding(t, "cloner", 1, 16000)
	cloner.reference = true
	o := NewOrchestrator(Chain([]inter.Provider{cloner, succeeding(t, "edge", 1, 16000)}, 0), nil)

	infos := o.Providers()
	require.Len(t, infos, 2)
	assert.Equal(t, []string{"voice_cloning"}, infos[0].Features)
	assert.Equal(t, 300, infos[1].MaxTextLength)
}
