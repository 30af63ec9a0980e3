package adapters

import (
	"fmt"
	"sort"

	"voice-server-go/internal/domain/tts/infrastructure/adapters/edge"
	"voice-server-go/internal/domain/tts/infrastructure/adapters/elevenlabs"
	"voice-server-go/internal/domain/tts/infrastructure/adapters/gradio"
	"voice-server-go/internal/domain/tts/infrastructure/adapters/openai"
	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/platform/config"
	"voice-server-go/internal/platform/logging"
)

// Factory builds one provider from its config block.
type Factory interface {
	Name() string
	Create(cfg config.ProviderConfig, logger *logging.Logger) (inter.Provider, error)
}

// Registry maps provider types to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns a registry with the built-in providers registered.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	for _, f := range []Factory{
		elevenlabs.NewFactory(),
		gradio.NewFactory(),
		openai.NewFactory(),
		edge.NewEdgeTTSFactory(),
	} {
		r.factories[f.Name()] = f
	}
	return r
}

func (r *Registry) Register(f Factory) error {
	if f == nil {
		return fmt.Errorf("factory cannot be nil")
	}
	if _, exists := r.factories[f.Name()]; exists {
		return fmt.Errorf("tts provider factory '%s' already registered", f.Name())
	}
	r.factories[f.Name()] = f
	return nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build creates the providers named in order. A provider block's Type
// selects the factory and defaults to the block's name.
func (r *Registry) Build(order []string, providers map[string]config.ProviderConfig, logger *logging.Logger) ([]inter.Provider, error) {
	out := make([]inter.Provider, 0, len(order))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if seen[name] {
			return nil, fmt.Errorf("tts provider '%s' listed twice", name)
		}
		seen[name] = true

		cfg, ok := providers[name]
		if !ok {
			return nil, fmt.Errorf("tts provider '%s' has no configuration", name)
		}
		typ := cfg.Type
		if typ == "" {
			typ = name
		}
		factory, ok := r.factories[typ]
		if !ok {
			return nil, fmt.Errorf("tts provider type '%s' not found", typ)
		}
		provider, err := factory.Create(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("create tts provider '%s': %w", name, err)
		}
		out = append(out, provider)
	}
	return out, nil
}
