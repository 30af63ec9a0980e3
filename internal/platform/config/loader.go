package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"voice-server-go/internal/platform/errors"
)

// DefaultPath is the config file looked up when none is given.
const DefaultPath = ".config.yaml"

// Loader reads the yaml config file over DefaultConfig and applies
// environment overrides for secrets.
type Loader struct {
	useDotEnv bool
	path      string
	lookupEnv func(string) (string, bool)
}

// NewLoader creates a loader for the default path with .env support on.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		path:      DefaultPath,
		lookupEnv: os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithPath overrides the config file location.
func (l *Loader) WithPath(path string) *Loader {
	if path != "" {
		l.path = path
	}
	return l
}

// WithEnv replaces the environment lookup (useful for tests).
func (l *Loader) WithEnv(lookup func(string) (string, bool)) *Loader {
	if lookup != nil {
		l.lookupEnv = lookup
	}
	return l
}

// Result captures the loaded configuration and its origin path. Path is
// empty when only defaults were used.
type Result struct {
	Config *Config
	Path   string
}

func (l *Loader) Load() (*Result, error) {
	if l.useDotEnv {
		// a missing .env is normal outside development
		_ = godotenv.Load()
	}

	cfg := DefaultConfig()
	origin := ""

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.Wrap(errors.KindConfig, "config.load", "parse "+l.path, err)
		}
		origin = l.path
	case os.IsNotExist(err):
	default:
		return nil, errors.Wrap(errors.KindConfig, "config.load", "read "+l.path, err)
	}

	l.applyEnv(cfg)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}
	return &Result{Config: cfg, Path: origin}, nil
}

func (l *Loader) applyEnv(cfg *Config) {
	setProviderKey := func(name, env string) {
		v, ok := l.lookupEnv(env)
		if !ok || v == "" {
			return
		}
		p := cfg.TTS.Providers[name]
		p.APIKey = v
		if p.Type == "" {
			p.Type = name
		}
		cfg.TTS.Providers[name] = p
	}

	if cfg.TTS.Providers == nil {
		cfg.TTS.Providers = map[string]ProviderConfig{}
	}
	setProviderKey("elevenlabs", "ELEVENLABS_API_KEY")
	setProviderKey("openai", "OPENAI_API_KEY")

	if v, ok := l.lookupEnv("GRADIO_BASE_URL"); ok && v != "" {
		p := cfg.TTS.Providers["gradio"]
		p.BaseURL = v
		if p.Type == "" {
			p.Type = "gradio"
		}
		cfg.TTS.Providers["gradio"] = p
	}
	if v, ok := l.lookupEnv("CALL_JWT_SECRET"); ok && v != "" {
		cfg.Call.JWTSecret = v
	}
	if v, ok := l.lookupEnv("REDIS_ADDR"); ok {
		cfg.Cache.Addr = v
	}
	if v, ok := l.lookupEnv("SERVER_PORT"); ok {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
}

func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.Errorf(errors.KindConfig, "config.validate", "invalid server port %d", cfg.Server.Port)
	}
	if len(cfg.TTS.Order) == 0 {
		return errors.New(errors.KindConfig, "config.validate", "tts.order must name at least one provider")
	}
	for _, name := range cfg.TTS.Order {
		if _, ok := cfg.TTS.Providers[name]; !ok {
			return errors.Errorf(errors.KindConfig, "config.validate", "tts provider %q in order has no configuration", name)
		}
	}
	for name, p := range cfg.TTS.Providers {
		if p.Overflow != "" && p.Overflow != "truncate" && p.Overflow != "reject" {
			return errors.Errorf(errors.KindConfig, "config.validate", "tts provider %q: overflow must be truncate or reject", name)
		}
	}
	if cfg.Call.FrameSize < 0 || cfg.Call.CaptureRate < 0 || cfg.Call.UpstreamRate < 0 || cfg.Call.MaxCalls < 0 {
		return errors.New(errors.KindConfig, "config.validate", "call rates, frame size and max_calls must not be negative")
	}
	if cfg.Ledger.MarketPriceUSD < 0 {
		return errors.New(errors.KindConfig, "config.validate", "ledger.market_price_usd must not be negative")
	}
	if cfg.Ledger.CycleDays < 0 {
		return errors.New(errors.KindConfig, "config.validate", "ledger.cycle_days must not be negative")
	}
	return nil
}
