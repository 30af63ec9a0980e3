package edge

import (
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/platform/config"
	"voice-server-go/internal/platform/logging"
)

// EdgeTTSFactory builds the Edge provider from config. Extra accepts
// "rate", "pitch" and "volume" in Edge's "+10%" / "-5Hz" notation.
type EdgeTTSFactory struct{}

func NewEdgeTTSFactory() EdgeTTSFactory { return EdgeTTSFactory{} }

func (EdgeTTSFactory) Name() string { return ProviderName }

func (EdgeTTSFactory) Create(cfg config.ProviderConfig, logger *logging.Logger) (inter.Provider, error) {
	return New(Config{
		Voice:    cfg.Voice,
		Rate:     cfg.Extra["rate"],
		Pitch:    cfg.Extra["pitch"],
		Volume:   cfg.Extra["volume"],
		Timeout:  cfg.Timeout,
		MaxChars: cfg.MaxChars,
		Overflow: inter.ParseOverflow(cfg.Overflow),
	}, logger), nil
}
