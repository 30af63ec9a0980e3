package elevenlabs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/tts/inter"
)

func TestSynthesize_Success(t *testing.T) {
	var gotPath, gotKey, gotFormat string
	var gotBody request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("xi-api-key")
		gotFormat = r.URL.Query().Get("output_format")
		raw, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(raw, &gotBody)
		w.Write(make([]byte, 4800)) // 100ms of 24kHz PCM16
	}))
	defer server.Close()

	p := New(Config{APIKey: "k", BaseURL: server.URL})
	res, err := p.Synthesize(context.Background(), inter.SynthesisRequest{
		Text:  "Hello traveller",
		Voice: inter.VoiceSpec{VoiceID: "voice-123", StylePrompt: "wry"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/text-to-speech/voice-123", gotPath)
	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "pcm_24000", gotFormat)
	assert.Equal(t, "Hello traveller", gotBody.Text)
	assert.Equal(t, styledExaggerate, gotBody.VoiceSettings.Style)

	assert.True(t, container.IsValid(res.Audio))
	assert.Equal(t, 24000, res.Format.SampleRateHz)
	assert.Equal(t, ProviderName, res.Provider)
}

func TestSynthesize_ErrorKinds(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    error
	}{
		{
			name: "unauthorized is rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, `{"detail":"bad key"}`, http.StatusUnauthorized)
			},
			want: inter.ErrRejected,
		},
		{
			name:    "server error is network failure",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    inter.ErrNetworkFailure,
		},
		{
			name:    "empty body",
			handler: func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) },
			want:    inter.ErrEmptyAudio,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(tt.handler)
			defer server.Close()

			_, err := New(Config{APIKey: "k", BaseURL: server.URL}).
				Synthesize(context.Background(), inter.SynthesisRequest{Text: "hi"})
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSynthesize_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := New(Config{APIKey: "k", BaseURL: server.URL, Timeout: 50 * time.Millisecond}).
		Synthesize(context.Background(), inter.SynthesisRequest{Text: "hi"})
	assert.True(t, errors.Is(err, inter.ErrTimeout), "got %v", err)
}

func TestSynthesize_MissingKeyAndTruncation(t *testing.T) {
	_, err := New(Config{}).Synthesize(context.Background(), inter.SynthesisRequest{Text: "hi"})
	assert.True(t, errors.Is(err, inter.ErrRejected))

	var got request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = sonic.Unmarshal(raw, &got)
		w.Write(make([]byte, 100))
	}))
	defer server.Close()

	_, err = New(Config{APIKey: "k", BaseURL: server.URL, MaxChars: 10}).
		Synthesize(context.Background(), inter.SynthesisRequest{Text: strings.Repeat("x", 11)})
	require.NoError(t, err)
	assert.Len(t, got.Text, 10)
}
