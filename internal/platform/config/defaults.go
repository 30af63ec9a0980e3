package config

import "time"

// DefaultConfig returns the configuration used when no file is present.
// The provider chain runs cloud first and the free Edge voice last.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:          "0.0.0.0",
			Port:        8080,
			CORSOrigins: []string{"*"},
			Metrics:     true,
		},
		Log: LogConfig{
			Level: "info",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Storage: StorageConfig{
			DSN: "data/voice.db",
		},
		Cache: CacheConfig{
			Prefix: "voice:tts:",
			TTL:    24 * time.Hour,
		},
		Voice: VoiceConfig{
			AssetRoot: "data/voices",
		},
		TTS: TTSConfig{
			Order:          []string{"elevenlabs", "gradio", "openai", "edge"},
			AttemptTimeout: 90 * time.Second,
			Providers: map[string]ProviderConfig{
				"elevenlabs": {
					Type:     "elevenlabs",
					BaseURL:  "https://api.elevenlabs.io/v1",
					Model:    "eleven_multilingual_v2",
					MaxChars: 5000,
					Overflow: "truncate",
					Timeout:  60 * time.Second,
				},
				"gradio": {
					Type:            "gradio",
					MaxChars:        300,
					Overflow:        "truncate",
					Timeout:         20 * time.Second,
					WarmupDelay:     2 * time.Second,
					PollTimeout:     60 * time.Second,
					DownloadTimeout: 20 * time.Second,
					Extra:           map[string]string{"fn": "basic_tts"},
				},
				"openai": {
					Type:     "openai",
					Model:    "gpt-4o-mini-tts",
					MaxChars: 4096,
					Overflow: "reject",
					Timeout:  30 * time.Second,
				},
				"edge": {
					Type:     "edge",
					Voice:    "en-US-AriaNeural",
					MaxChars: 2000,
					Overflow: "truncate",
					Timeout:  30 * time.Second,
				},
			},
		},
		Call: CallConfig{
			JWTIssuer:        "voice-server",
			CredentialTTL:    time.Minute,
			Model:            "models/live-audio",
			VoiceName:        "Aoede",
			CaptureRate:      48000,
			UpstreamRate:     16000,
			FrameSize:        4096,
			HandshakeTimeout: 10 * time.Second,
			DrainTimeout:     3 * time.Second,
			IdleTimeout:      30 * time.Second,
		},
		Ledger: LedgerConfig{
			MarketPriceUSD: 0.10,
			CycleDays:      60,
		},
	}
}
