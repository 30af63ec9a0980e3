package config

import (
	"time"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Log     LogConfig     `yaml:"log" mapstructure:"log"`
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`
	Cache   CacheConfig   `yaml:"cache" mapstructure:"cache"`
	Voice   VoiceConfig   `yaml:"voice" mapstructure:"voice"`
	TTS     TTSConfig     `yaml:"tts" mapstructure:"tts"`
	Call    CallConfig    `yaml:"call" mapstructure:"call"`
	Ledger  LedgerConfig  `yaml:"ledger" mapstructure:"ledger"`
}

type ServerConfig struct {
	IP          string   `yaml:"ip" mapstructure:"ip"`
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	Metrics     bool     `yaml:"metrics" mapstructure:"metrics"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

type StorageConfig struct {
	DSN string `yaml:"dsn" mapstructure:"dsn"`
}

// CacheConfig controls the opt-in synthesis result cache. An empty Addr
// disables it.
type CacheConfig struct {
	Addr     string        `yaml:"addr" mapstructure:"addr"`
	Password string        `yaml:"password,omitempty" mapstructure:"password"`
	DB       int           `yaml:"db,omitempty" mapstructure:"db"`
	Prefix   string        `yaml:"prefix" mapstructure:"prefix"`
	TTL      time.Duration `yaml:"ttl" mapstructure:"ttl"`
}

type VoiceConfig struct {
	// AssetRoot is the directory reference clips are probed in and served from.
	AssetRoot string `yaml:"asset_root" mapstructure:"asset_root"`
	// TablePath optionally points at a yaml resolution table. The built-in
	// table is used when empty.
	TablePath string `yaml:"table_path" mapstructure:"table_path"`
}

type TTSConfig struct {
	// Order is the provider fallback chain, tried first to last.
	Order          []string                  `yaml:"order" mapstructure:"order"`
	AttemptTimeout time.Duration             `yaml:"attempt_timeout" mapstructure:"attempt_timeout"`
	Providers      map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig is shared by all adapters; each one reads the fields it needs.
type ProviderConfig struct {
	Type            string            `yaml:"type" mapstructure:"type"`
	BaseURL         string            `yaml:"base_url" mapstructure:"base_url"`
	APIKey          string            `yaml:"api_key" mapstructure:"api_key"`
	Model           string            `yaml:"model" mapstructure:"model"`
	Voice           string            `yaml:"voice" mapstructure:"voice"`
	MaxChars        int               `yaml:"max_chars" mapstructure:"max_chars"`
	Overflow        string            `yaml:"overflow" mapstructure:"overflow"`
	Timeout         time.Duration     `yaml:"timeout" mapstructure:"timeout"`
	WarmupDelay     time.Duration     `yaml:"warmup_delay" mapstructure:"warmup_delay"`
	PollTimeout     time.Duration     `yaml:"poll_timeout" mapstructure:"poll_timeout"`
	DownloadTimeout time.Duration     `yaml:"download_timeout" mapstructure:"download_timeout"`
	Extra           map[string]string `yaml:"extra,omitempty" mapstructure:"extra"`
}

type CallConfig struct {
	UpstreamURL      string        `yaml:"upstream_url" mapstructure:"upstream_url"`
	CredentialURL    string        `yaml:"credential_url" mapstructure:"credential_url"`
	JWTSecret        string        `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	JWTIssuer        string        `yaml:"jwt_issuer" mapstructure:"jwt_issuer"`
	CredentialTTL    time.Duration `yaml:"credential_ttl" mapstructure:"credential_ttl"`
	Model            string        `yaml:"model" mapstructure:"model"`
	VoiceName        string        `yaml:"voice_name" mapstructure:"voice_name"`
	CaptureRate      int           `yaml:"capture_rate" mapstructure:"capture_rate"`
	UpstreamRate     int           `yaml:"upstream_rate" mapstructure:"upstream_rate"`
	FrameSize        int           `yaml:"frame_size" mapstructure:"frame_size"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout" mapstructure:"handshake_timeout"`
	DrainTimeout     time.Duration `yaml:"drain_timeout" mapstructure:"drain_timeout"`
	// MaxCalls caps concurrent browser calls; 0 leaves them unbounded.
	MaxCalls int `yaml:"max_calls" mapstructure:"max_calls"`
	// IdleTimeout closes a browser call that has sent nothing for this long.
	IdleTimeout time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

type LedgerConfig struct {
	MarketPriceUSD float64 `yaml:"market_price_usd" mapstructure:"market_price_usd"`
	CycleDays      int     `yaml:"cycle_days" mapstructure:"cycle_days"`
}
