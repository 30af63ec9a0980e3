package gradio

import (
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/platform/config"
	"voice-server-go/internal/platform/logging"
)

type Factory struct{}

func NewFactory() Factory { return Factory{} }

func (Factory) Name() string { return ProviderName }

// Create reads the endpoint name from Extra["fn"]; Timeout bounds upload
// and submit.
func (Factory) Create(cfg config.ProviderConfig, logger *logging.Logger) (inter.Provider, error) {
	return New(Config{
		BaseURL:         cfg.BaseURL,
		Fn:              cfg.Extra["fn"],
		SubmitTimeout:   cfg.Timeout,
		PollTimeout:     cfg.PollTimeout,
		DownloadTimeout: cfg.DownloadTimeout,
		WarmupDelay:     cfg.WarmupDelay,
		MaxChars:        cfg.MaxChars,
		Overflow:        inter.ParseOverflow(cfg.Overflow),
	}, logger), nil
}
