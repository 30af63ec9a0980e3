package elevenlabs

import (
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/platform/config"
	"voice-server-go/internal/platform/logging"
)

type Factory struct{}

func NewFactory() Factory { return Factory{} }

func (Factory) Name() string { return ProviderName }

func (Factory) Create(cfg config.ProviderConfig, _ *logging.Logger) (inter.Provider, error) {
	return New(Config{
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Model:    cfg.Model,
		Voice:    cfg.Voice,
		Timeout:  cfg.Timeout,
		MaxChars: cfg.MaxChars,
		Overflow: inter.ParseOverflow(cfg.Overflow),
	}), nil
}
