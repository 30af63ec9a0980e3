package repository

import (
	"context"

	"voice-server-go/internal/domain/tts/inter"
)

// ResultCache stores synthesized clips for callers that opt in. A miss
// is (nil, nil).
type ResultCache interface {
	Get(ctx context.Context, key string) (*inter.SynthesisResult, error)
	Set(ctx context.Context, key string, result *inter.SynthesisResult) error
}
