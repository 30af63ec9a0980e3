package voice

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"voice-server-go/internal/platform/errors"
)

// TableVersion is the resolution table format this package understands.
const TableVersion = 1

// Clip points at a reference recording and the words spoken in it.
type Clip struct {
	Path       string `yaml:"path" json:"path"`
	Transcript string `yaml:"transcript" json:"transcript"`
}

// Override binds a clip to every character whose id contains Match.
type Override struct {
	Match string `yaml:"match" json:"match"`
	Clip  `yaml:",inline"`
}

// Table holds every rule the resolver applies, in order. It is loaded
// once at start and never mutated.
type Table struct {
	Version   int        `yaml:"version"`
	Overrides []Override `yaml:"overrides"`
	// Folders are named asset directories matched by substring against
	// the character id; Probe lists the file names tried inside them.
	Folders []string `yaml:"folders"`
	Probe   []string `yaml:"probe"`
	// TranscriptFile is read from a matched folder when present.
	TranscriptFile string `yaml:"transcript_file"`
	// Archetypes is keyed "{archetype}_{gender}" with gender M, F or NB;
	// male, female and nonbinary are read as the same codes.
	Archetypes        map[string]Clip `yaml:"archetypes"`
	FallbackArchetype string          `yaml:"fallback_archetype"`
	Default           Clip            `yaml:"default"`
}

// DefaultTable is the built-in rule set.
func DefaultTable() Table {
	archetypes := map[string]Clip{}
	for _, arch := range []string{"warm_mentor", "playful_friend", "stoic_guardian", "wise_elder", "bold_adventurer"} {
		for _, g := range []Gender{GenderMale, GenderFemale, GenderNonBinary} {
			key := ArchetypeKey(arch, g)
			archetypes[key] = Clip{
				Path:       "archetypes/" + key + ".wav",
				Transcript: "Hello there. It is good to hear your voice today.",
			}
		}
	}
	return Table{
		Version:           TableVersion,
		Probe:             []string{"sample_1.wav", "reference.wav", "sample_1.mp3"},
		TranscriptFile:    "transcript.txt",
		Archetypes:        archetypes,
		FallbackArchetype: "warm_mentor",
		Default: Clip{
			Path:       "default/reference.wav",
			Transcript: "Hello there. It is good to hear your voice today.",
		},
	}
}

// LoadTable reads a yaml table from path.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Table{}, errors.Wrap(errors.KindConfig, "voice.load_table", "read "+path, err)
	}
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Table{}, errors.Wrap(errors.KindConfig, "voice.load_table", "parse "+path, err)
	}
	if err := t.Validate(); err != nil {
		return Table{}, err
	}
	return t, nil
}

func (t Table) Validate() error {
	if t.Version != TableVersion {
		return errors.Errorf(errors.KindConfig, "voice.validate", "unsupported table version %d", t.Version)
	}
	if len(t.Folders) > 0 && len(t.Probe) == 0 {
		return errors.New(errors.KindConfig, "voice.validate", "folders are configured but probe is empty")
	}
	if strings.TrimSpace(t.FallbackArchetype) == "" {
		return errors.New(errors.KindConfig, "voice.validate", "fallback_archetype is required")
	}
	seen := make(map[string]string, len(t.Archetypes))
	for key := range t.Archetypes {
		canon, ok := canonicalKey(key)
		if !ok {
			return errors.Errorf(errors.KindConfig, "voice.validate", "archetype key %q must end in _M, _F or _NB", key)
		}
		if prev, dup := seen[canon]; dup {
			return errors.Errorf(errors.KindConfig, "voice.validate", "archetype keys %q and %q name the same voice", prev, key)
		}
		seen[canon] = key
	}
	for i, o := range t.Overrides {
		if strings.TrimSpace(o.Match) == "" || strings.TrimSpace(o.Path) == "" {
			return errors.Errorf(errors.KindConfig, "voice.validate", "override %d needs match and path", i)
		}
	}
	return nil
}

// canonical returns t with every archetype key in ArchetypeKey form. t
// must have passed Validate.
func (t Table) canonical() Table {
	out := make(map[string]Clip, len(t.Archetypes))
	for key, clip := range t.Archetypes {
		if canon, ok := canonicalKey(key); ok {
			out[canon] = clip
		}
	}
	t.Archetypes = out
	return t
}
