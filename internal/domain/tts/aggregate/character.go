package aggregate

import (
	"strings"

	"voice-server-go/internal/domain/tts/inter"
	"voice-server-go/internal/domain/voice"
)

// CharacterMeta is what the web layer knows about the speaking character.
type CharacterMeta struct {
	CharacterID    string          `json:"characterId"`
	ContributionID string          `json:"contributionId,omitempty"`
	Voice          inter.VoiceSpec `json:"voice"`
}

// UsageKey is the contribution credited for audio in this voice. It falls
// back to the voice id when the character has no contributed voice.
func (m CharacterMeta) UsageKey() string {
	if id := strings.TrimSpace(m.ContributionID); id != "" {
		return id
	}
	return strings.TrimSpace(m.Voice.VoiceID)
}

// Gender is the voice gender, NB when unset.
func (m CharacterMeta) Gender() voice.Gender {
	if m.Voice.Gender == "" {
		return voice.GenderNonBinary
	}
	return m.Voice.Gender
}
