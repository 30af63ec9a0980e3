// Package voice picks the reference recording a character's synthesized
// voice is cloned from.
package voice

import (
	"io/fs"
	"math"
	"path"
	"strings"
	"sync"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/platform/errors"
	"voice-server-go/internal/platform/logging"
)

type Gender string

const (
	GenderMale      Gender = "M"
	GenderFemale    Gender = "F"
	GenderNonBinary Gender = "NB"
)

// ParseGender accepts codes and common spellings; anything else is NB.
func ParseGender(s string) Gender {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "m", "male", "man":
		return GenderMale
	case "f", "female", "woman":
		return GenderFemale
	default:
		return GenderNonBinary
	}
}

// ArchetypeKey builds the "{archetype}_{gender}" lookup key, for example
// "warm_mentor_F".
func ArchetypeKey(archetype string, g Gender) string {
	return strings.ToLower(strings.TrimSpace(archetype)) + "_" + string(g)
}

// parseKeyGender reads the gender suffix of a table key. Codes and the
// spelled-out words are both accepted, in any case.
func parseKeyGender(s string) (Gender, bool) {
	switch strings.ToLower(s) {
	case "m", "male":
		return GenderMale, true
	case "f", "female":
		return GenderFemale, true
	case "nb", "nonbinary", "non-binary":
		return GenderNonBinary, true
	}
	return "", false
}

// canonicalKey rewrites a table key such as "Warm_Mentor_female" into
// ArchetypeKey form.
func canonicalKey(key string) (string, bool) {
	i := strings.LastIndex(key, "_")
	if i <= 0 {
		return "", false
	}
	g, ok := parseKeyGender(key[i+1:])
	if !ok {
		return "", false
	}
	return ArchetypeKey(key[:i], g), true
}

// Source records which rule produced an Asset.
type Source string

const (
	SourceOverride  Source = "override"
	SourceFolder    Source = "folder"
	SourceArchetype Source = "archetype"
	SourceDefault   Source = "default"
)

type MatchKey struct {
	Archetype string `json:"archetype"`
	Gender    Gender `json:"gender"`
}

// Asset is a resolved reference voice. Path is relative to the asset
// root; Bytes is only set for the built-in fallback clip.
type Asset struct {
	Path       string   `json:"path,omitempty"`
	Bytes      []byte   `json:"-"`
	Transcript string   `json:"transcript"`
	MatchKey   MatchKey `json:"matchKey"`
	Source     Source   `json:"source"`
}

// Resolver walks the Table in order: override, named folder, archetype,
// default. It never fails.
type Resolver struct {
	table  Table
	fsys   fs.FS
	logger *logging.Logger
}

// NewResolver validates table and binds it to the asset filesystem,
// usually os.DirFS(assetRoot).
func NewResolver(table Table, fsys fs.FS, logger *logging.Logger) (*Resolver, error) {
	if err := table.Validate(); err != nil {
		return nil, err
	}
	return &Resolver{table: table.canonical(), fsys: fsys, logger: logger}, nil
}

func (r *Resolver) Table() Table { return r.table }

func (r *Resolver) Resolve(characterID, archetype string, gender Gender) Asset {
	key := MatchKey{Archetype: archetype, Gender: gender}
	id := strings.ToLower(characterID)

	for _, o := range r.table.Overrides {
		if id == "" || !strings.Contains(id, strings.ToLower(o.Match)) {
			continue
		}
		if r.exists(o.Path) {
			return Asset{Path: clean(o.Path), Transcript: o.Transcript, MatchKey: key, Source: SourceOverride}
		}
	}

	for _, folder := range r.table.Folders {
		if id == "" || !strings.Contains(id, strings.ToLower(folder)) {
			continue
		}
		for _, name := range r.table.Probe {
			p := path.Join(folder, name)
			if r.exists(p) {
				return Asset{Path: clean(p), Transcript: r.folderTranscript(folder), MatchKey: key, Source: SourceFolder}
			}
		}
	}

	if clip, k, ok := r.archetypeClip(archetype, gender); ok {
		r.logger.WarnTag("VOICE", "no dedicated reference for %q, using archetype %s", characterID, k)
		return Asset{Path: clean(clip.Path), Transcript: clip.Transcript, MatchKey: key, Source: SourceArchetype}
	}

	r.logger.WarnTag("VOICE", "no reference for %q (%s), using generic default", characterID, ArchetypeKey(archetype, gender))
	if def := r.table.Default; def.Path != "" && r.exists(def.Path) {
		return Asset{Path: clean(def.Path), Transcript: def.Transcript, MatchKey: key, Source: SourceDefault}
	}
	return Asset{Bytes: builtinClip(), Transcript: r.table.Default.Transcript, MatchKey: key, Source: SourceDefault}
}

func (r *Resolver) archetypeClip(archetype string, gender Gender) (Clip, string, bool) {
	keys := []string{ArchetypeKey(r.table.FallbackArchetype, gender)}
	if strings.TrimSpace(archetype) != "" {
		keys = append([]string{ArchetypeKey(archetype, gender)}, keys...)
	}
	for _, k := range keys {
		if clip, ok := r.table.Archetypes[k]; ok && r.exists(clip.Path) {
			return clip, k, true
		}
	}
	return Clip{}, "", false
}

func (r *Resolver) folderTranscript(folder string) string {
	if r.table.TranscriptFile == "" || r.fsys == nil {
		return ""
	}
	data, err := fs.ReadFile(r.fsys, path.Join(folder, r.table.TranscriptFile))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (r *Resolver) exists(p string) bool {
	if r.fsys == nil {
		return false
	}
	p = clean(p)
	if !fs.ValidPath(p) {
		return false
	}
	info, err := fs.Stat(r.fsys, p)
	return err == nil && !info.IsDir()
}

// Load returns the clip bytes for a.
func (r *Resolver) Load(a Asset) ([]byte, error) {
	if len(a.Bytes) > 0 {
		return a.Bytes, nil
	}
	if r.fsys == nil {
		return nil, errors.New(errors.KindDomain, "voice.load", "no asset filesystem")
	}
	data, err := fs.ReadFile(r.fsys, clean(a.Path))
	if err != nil {
		return nil, errors.Wrap(errors.KindStorage, "voice.load", "read "+a.Path, err)
	}
	return data, nil
}

func clean(p string) string {
	return strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
}

var (
	builtinOnce sync.Once
	builtinWAV  []byte
)

// builtinClip is a one second 16 kHz tone sweep. It keeps cloning
// providers supplied with a playable clip when no asset exists on disk.
func builtinClip() []byte {
	builtinOnce.Do(func() {
		const rate = 16000
		samples := make([]byte, rate*2)
		for i := 0; i < rate; i++ {
			t := float64(i) / rate
			env := math.Sin(math.Pi * t)
			v := int16(3000 * env * math.Sin(2*math.Pi*(180+60*t)*t))
			samples[i*2] = byte(v)
			samples[i*2+1] = byte(uint16(v) >> 8)
		}
		builtinWAV, _ = container.Encode(samples, container.PCM16Mono(rate))
	})
	return builtinWAV
}
