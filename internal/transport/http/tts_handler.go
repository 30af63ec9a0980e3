package httptransport

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"voice-server-go/internal/domain/tts"
	"voice-server-go/internal/domain/tts/aggregate"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/domain/voice"
	"voice-server-go/internal/platform/logging"
)

const (
	headerSampleRate = "X-Sample-Rate"
	headerChannels   = "X-Channels"
	headerDurationMs = "X-Duration-Ms"
	headerProvider   = "X-Voice-Provider"
)

// Synthesizer is the part of the orchestrator the handler needs.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, meta aggregate.CharacterMeta, opts ...tts.RequestOption) (*inter.SynthesisResult, error)
	Providers() []inter.ProviderInfo
}

type TTSHandler struct {
	synth  Synthesizer
	logger *logging.Logger
}

func NewTTSHandler(synth Synthesizer, logger *logging.Logger) *TTSHandler {
	return &TTSHandler{synth: synth, logger: logger}
}

func (h *TTSHandler) RegisterRoutes(router *Router) {
	router.API.POST("/tts/synthesize", h.Synthesize)
	router.API.GET("/tts/providers", h.Providers)
}

type SynthesizeRequest struct {
	Text           string `json:"text" binding:"required"`
	VoiceID        string `json:"voiceId"`
	Archetype      string `json:"archetype"`
	Gender         string `json:"gender"`
	AccentHint     string `json:"accentHint"`
	StylePrompt    string `json:"stylePrompt"`
	CharacterID    string `json:"characterId"`
	ContributionID string `json:"contributionId"`
	Cache          bool   `json:"cache"`
}

type SynthesizeResponse struct {
	Audio       string `json:"audio"`
	ContentType string `json:"contentType"`
	SampleRate  int    `json:"sampleRate"`
	Channels    int    `json:"channels"`
	DurationMs  int64  `json:"durationMs"`
	Provider    string `json:"provider"`
}

// Synthesize answers with audio/wav bytes, or with a JSON envelope
// holding base64 audio when the client asks for application/json.
func (h *TTSHandler) Synthesize(c *gin.Context) {
	var req SynthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request: text is required")
		return
	}

	meta := aggregate.CharacterMeta{
		CharacterID:    req.CharacterID,
		ContributionID: req.ContributionID,
		Voice: inter.VoiceSpec{
			VoiceID:     req.VoiceID,
			Archetype:   req.Archetype,
			Gender:      voice.ParseGender(req.Gender),
			AccentHint:  req.AccentHint,
			StylePrompt: req.StylePrompt,
		},
	}
	var opts []tts.RequestOption
	if req.Cache {
		opts = append(opts, tts.UseCache())
	}

	result, err := h.synth.Synthesize(c.Request.Context(), req.Text, meta, opts...)
	if err != nil {
		switch {
		case errors.Is(err, tts.ErrEmptyText):
			RespondError(c, http.StatusBadRequest, err.Error())
		default:
			// provider details stay in the logs
			h.logger.WarnTag("HTTP", "synthesis for %s failed: %v", meta.CharacterID, err)
			RespondError(c, http.StatusBadGateway, tts.ErrAllProvidersExhausted.Error())
		}
		return
	}

	if strings.Contains(c.GetHeader("Accept"), "application/json") {
		RespondSuccess(c, http.StatusOK, SynthesizeResponse{
			Audio:       base64.StdEncoding.EncodeToString(result.Audio),
			ContentType: "audio/wav",
			SampleRate:  result.Format.SampleRateHz,
			Channels:    result.Format.Channels,
			DurationMs:  result.DurationMs,
			Provider:    result.Provider,
		}, "")
		return
	}

	c.Header(headerSampleRate, strconv.Itoa(result.Format.SampleRateHz))
	c.Header(headerChannels, strconv.Itoa(result.Format.Channels))
	c.Header(headerDurationMs, strconv.FormatInt(result.DurationMs, 10))
	c.Header(headerProvider, result.Provider)
	c.Data(http.StatusOK, "audio/wav", result.Audio)
}

func (h *TTSHandler) Providers(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, h.synth.Providers(), "")
}
