package call

import (
	"strconv"
	"strings"
)

// Wire messages of the upstream duplex channel. Exactly one field of a
// message is set.

type ClientMessage struct {
	Setup       *Setup      `json:"setup,omitempty"`
	InlineAudio *InlineData `json:"inlineAudio,omitempty"`
}

type Setup struct {
	Model             string           `json:"model"`
	Voice             string           `json:"voice,omitempty"`
	SystemInstruction string           `json:"systemInstruction,omitempty"`
	Generation        GenerationConfig `json:"generationConfig"`
}

type GenerationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
	Temperature        float64  `json:"temperature,omitempty"`
}

type InlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type ServerMessage struct {
	SetupComplete *struct{}    `json:"setupComplete,omitempty"`
	ServerAudio   *ServerAudio `json:"serverAudio,omitempty"`
	Error         *ServerError `json:"error,omitempty"`
}

type ServerAudio struct {
	Parts        []Part `json:"parts"`
	TurnComplete bool   `json:"turnComplete,omitempty"`
	Interrupted  bool   `json:"interrupted,omitempty"`
}

type Part struct {
	InlineData *InlineData `json:"inlineData,omitempty"`
}

type ServerError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PCMMimeType labels 16-bit little-endian mono PCM at rate.
func PCMMimeType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseRate reads the rate parameter of an audio/pcm mime type, returning
// def when it is missing or malformed.
func ParseRate(mimeType string, def int) int {
	for _, param := range strings.Split(mimeType, ";")[1:] {
		k, v, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || !strings.EqualFold(strings.TrimSpace(k), "rate") {
			continue
		}
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			return rate
		}
	}
	return def
}
