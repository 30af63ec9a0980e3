package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/domain/tts/repository"
)

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	TTL      time.Duration
}

type redisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

type entry struct {
	Audio      []byte           `json:"audio"`
	Format     container.Format `json:"format"`
	Provider   string           `json:"provider"`
	DurationMs int64            `json:"durationMs"`
}

// NewRedis connects and pings redis.
func NewRedis(cfg Config) (repository.ResultCache, func() error, error) {
	if cfg.Addr == "" {
		return nil, nil, fmt.Errorf("redis address required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("redis ping failed: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "voice:tts:"
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &redisCache{client: client, ttl: ttl, prefix: prefix}, client.Close, nil
}

func (c *redisCache) Get(ctx context.Context, key string) (*inter.SynthesisResult, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var e entry
	if err := sonic.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	if !container.IsValid(e.Audio) {
		// a damaged entry is a miss
		_ = c.client.Del(ctx, c.prefix+key).Err()
		return nil, nil
	}
	return &inter.SynthesisResult{Audio: e.Audio, Format: e.Format, Provider: e.Provider, DurationMs: e.DurationMs}, nil
}

func (c *redisCache) Set(ctx context.Context, key string, result *inter.SynthesisResult) error {
	if result == nil {
		return nil
	}
	data, err := sonic.Marshal(entry{
		Audio:      result.Audio,
		Format:     result.Format,
		Provider:   result.Provider,
		DurationMs: result.DurationMs,
	})
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, data, c.ttl).Err()
}

// Key derives a stable cache key from the text and every voice attribute
// that changes the audio.
func Key(text string, v inter.VoiceSpec) string {
	h := sha256.New()
	for _, part := range []string{text, v.VoiceID, v.Archetype, string(v.Gender), v.AccentHint, v.StylePrompt} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
