package httptransport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/call"
	"voice-server-go/internal/domain/eventbus"
	"voice-server-go/internal/domain/ledger"
	"voice-server-go/internal/domain/tts"
	"voice-server-go/internal/domain/tts/aggregate"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/platform/observability"
	"voice-server-go/internal/platform/storage"
	platformtesting "voice-server-go/internal/platform/testing"
)

type fakeSynth struct {
	result *inter.SynthesisResult
	err    error
	got    aggregate.CharacterMeta
	cached bool
}

func (f *fakeSynth) Synthesize(_ context.Context, text string, meta aggregate.CharacterMeta, opts ...tts.RequestOption) (*inter.SynthesisResult, error) {
	f.got = meta
	f.cached = len(opts) > 0
	if strings.TrimSpace(text) == "" {
		return nil, tts.ErrEmptyText
	}
	return f.result, f.err
}

func (f *fakeSynth) Providers() []inter.ProviderInfo {
	return []inter.ProviderInfo{{Name: "elevenlabs"}, {Name: "edge"}}
}

type testServer struct {
	router  *Router
	synth   *fakeSynth
	ledger  *LedgerHandler
	metrics *observability.Metrics
	voices  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := platformtesting.SetupTestConfig(t)
	logger := platformtesting.SetupTestLogger(t)
	metrics := observability.NewMetrics()

	voices := t.TempDir()
	router, err := Build(Options{Config: cfg, Logger: logger, Metrics: metrics, VoiceRoot: voices})
	require.NoError(t, err)

	wav, err := container.Encode(make([]byte, 4800), container.PCM16Mono(24000))
	require.NoError(t, err)
	synth := &fakeSynth{result: &inter.SynthesisResult{
		Audio:      wav,
		Format:     container.PCM16Mono(24000),
		Provider:   "elevenlabs",
		DurationMs: 100,
	}}
	NewTTSHandler(synth, logger).RegisterRoutes(router)

	repo := storage.NewLedgerRepository(platformtesting.SetupTestDB(t))
	lh := NewLedgerHandler(repo, ledger.NewSettler(repo, 60, logger), 0.10, logger)
	lh.RegisterRoutes(router)

	creds := call.NewJWTCredentialSource("secret", "voice-server", "web", time.Minute)
	NewCallHandler(creds, nil, logger).RegisterRoutes(router)
	NewHealthHandler(func() []string { return []string{"elevenlabs", "edge"} }, func() int { return 2 }).RegisterRoutes(router)

	return &testServer{router: router, synth: synth, ledger: lh, metrics: metrics, voices: voices}
}

func (s *testServer) do(method, path, body string, header ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.Engine.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, data interface{}) APIResponse {
	t.Helper()
	resp := APIResponse{Data: data}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSynthesize_ReturnsWAV(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/tts/synthesize",
		`{"text":"hello","voiceId":"v1","archetype":"warm mentor","gender":"female","characterId":"c1","contributionId":"k1","cache":true}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.Equal(t, "24000", rec.Header().Get("X-Sample-Rate"))
	assert.Equal(t, "1", rec.Header().Get("X-Channels"))
	assert.Equal(t, "100", rec.Header().Get("X-Duration-Ms"))
	assert.True(t, container.IsValid(rec.Body.Bytes()))

	assert.Equal(t, "c1", s.synth.got.CharacterID)
	assert.Equal(t, "k1", s.synth.got.ContributionID)
	assert.Equal(t, "F", string(s.synth.got.Voice.Gender))
	assert.Equal(t, "warm mentor", s.synth.got.Voice.Archetype)
	assert.True(t, s.synth.cached)
}

func TestSynthesize_JSONEnvelope(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/tts/synthesize", `{"text":"hello"}`, "Accept", "application/json")
	require.Equal(t, http.StatusOK, rec.Code)

	var body SynthesizeResponse
	resp := decode(t, rec, &body)
	assert.True(t, resp.Success)
	assert.Equal(t, 24000, body.SampleRate)
	assert.Equal(t, "elevenlabs", body.Provider)
	audio, err := base64.StdEncoding.DecodeString(body.Audio)
	require.NoError(t, err)
	assert.True(t, container.IsValid(audio))
	assert.False(t, s.synth.cached)
}

func TestSynthesize_BadRequests(t *testing.T) {
	s := newTestServer(t)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/tts/synthesize", `{}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/tts/synthesize", `{"text":"   "}`).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/tts/synthesize", `not json`).Code)
}

func TestSynthesize_ExhaustedHidesProviders(t *testing.T) {
	s := newTestServer(t)
	s.synth.err = &tts.ExhaustedError{Failures: []tts.AttemptFailure{
		{Provider: "elevenlabs", Kind: inter.KindTimeout, Err: errors.New("elevenlabs timed out")},
	}}

	rec := s.do(http.MethodPost, "/api/tts/synthesize", `{"text":"hello"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decode(t, rec, nil)
	assert.Equal(t, "couldn't generate voice, try again", resp.Message)
	assert.NotContains(t, rec.Body.String(), "elevenlabs")
}

func TestProviders(t *testing.T) {
	s := newTestServer(t)
	var providers []inter.ProviderInfo
	decode(t, s.do(http.MethodGet, "/api/tts/providers", ""), &providers)
	require.Len(t, providers, 2)
	assert.Equal(t, "edge", providers[1].Name)
}

func TestLedgerReward_WorkedExample(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/api/ledger/reward?minutes=100&price=0.10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body RewardResponse
	decode(t, rec, &body)
	assert.Equal(t, int64(10), body.RewardUnits)
	assert.InDelta(t, 1.00, body.CashValueUSD, 1e-9)
	assert.InDelta(t, 10.0, body.TokenAmount, 1e-9)
	assert.Zero(t, body.NextSettlementInDays)

	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/ledger/reward?minutes=abc", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/ledger/reward?minutes=10&price=0", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodGet, "/api/ledger/reward?minutes=-5", "").Code)
}

func TestLedgerSettle(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	s.ledger.now = func() time.Time { return now }

	acc := ledger.NewAccumulator(s.ledger.repo, 0.10, nil)
	require.NoError(t, acc.Record(ctx, eventbus.UsageEvent{
		ID: "e1", ContributionID: "k1", Source: eventbus.UsageSourceCall, DurationSeconds: 1800, OccurredAt: now.Add(-time.Hour),
	}))

	var usage ContributionResponse
	decode(t, s.do(http.MethodGet, "/api/ledger/contributions/k1", ""), &usage)
	assert.InDelta(t, 30, usage.TotalMinutes, 1e-9)
	assert.Equal(t, int64(1), usage.Events)

	rec := s.do(http.MethodPost, "/api/ledger/settle", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var report ledger.SettlementReport
	decode(t, rec, &report)
	assert.Equal(t, 1, report.VoicesSettled)
	assert.InDelta(t, 0.30, report.TotalCashUSD, 1e-9)
	assert.InDelta(t, 3.0, report.TotalTokens, 1e-9)

	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/ledger/settle", "").Code)
	assert.Equal(t, http.StatusBadRequest, s.do(http.MethodPost, "/api/ledger/settle", `{"marketPriceUsd":-1,"force":true}`).Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/ledger/settle", `{"force":true}`).Code)

	var list []ledger.SettlementReport
	decode(t, s.do(http.MethodGet, "/api/ledger/settlements?limit=5", ""), &list)
	assert.Len(t, list, 2)

	var reward RewardResponse
	decode(t, s.do(http.MethodGet, "/api/ledger/reward?minutes=1", ""), &reward)
	assert.Equal(t, 60, reward.NextSettlementInDays)
}

func TestCallCredential(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodPost, "/api/call/credential", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var cred CredentialResponse
	decode(t, rec, &cred)
	claims, err := call.VerifyCredential([]byte("secret"), "voice-server", cred.Token)
	require.NoError(t, err)
	assert.Equal(t, "web", claims.Subject)
}

func TestCallCredential_NotConfigured(t *testing.T) {
	cfg := platformtesting.SetupTestConfig(t)
	router, err := Build(Options{Config: cfg})
	require.NoError(t, err)
	NewCallHandler(nil, nil, nil).RegisterRoutes(router)

	rec := httptest.NewRecorder()
	router.Engine.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/call/credential", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)
	var health HealthResponse
	resp := decode(t, s.do(http.MethodGet, "/api/health", ""), &health)
	assert.True(t, resp.Success)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, []string{"elevenlabs", "edge"}, health.Providers)
	assert.Equal(t, 2, health.ActiveCalls)

	rec := s.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `voice_http_requests_total{method="GET",path="/api/health",status="200"} 1`)
}

func TestVoiceAssetsAreServed(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.MkdirAll(filepath.Join(s.voices, "narrator"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.voices, "narrator", "sample_1.wav"), []byte("RIFF-clip"), 0o644))

	rec := s.do(http.MethodGet, "/voices/narrator/sample_1.wav", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")))

	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/voices/missing.wav", "").Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodOptions, "/api/tts/synthesize", "",
		"Origin", "https://characters.example",
		"Access-Control-Request-Method", "POST")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
