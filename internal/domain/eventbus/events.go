package eventbus

import "time"

// TopicUsageRecorded carries one UsageEvent per heard synthesis or finished
// call.
const TopicUsageRecorded = "usage:recorded"

type UsageSource string

const (
	UsageSourceTTS  UsageSource = "tts"
	UsageSourceCall UsageSource = "call"
)

// UsageEvent is append-only; subscribers must not mutate it.
type UsageEvent struct {
	ID              string      `json:"id"`
	ContributionID  string      `json:"contribution_id"`
	CharacterID     string      `json:"character_id,omitempty"`
	Source          UsageSource `json:"source"`
	Provider        string      `json:"provider,omitempty"`
	DurationSeconds float64     `json:"duration_seconds"`
	OccurredAt      time.Time   `json:"occurred_at"`
}
