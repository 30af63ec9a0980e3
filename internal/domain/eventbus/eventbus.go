// Package eventbus is the in-process publish/subscribe hub. Producers
// publish domain events by topic; consumers subscribe with typed callbacks.
package eventbus

import (
	"github.com/google/uuid"

	"voice-server-go/internal/platform/logging"
)

// Publisher is what producers depend on.
type Publisher interface {
	Publish(topic string, args ...interface{})
	PublishAsync(topic string, args ...interface{}) bool
}

// PublishUsage stamps a missing id and publishes the event asynchronously.
func PublishUsage(p Publisher, e UsageEvent) bool {
	if p == nil {
		return false
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return p.PublishAsync(TopicUsageRecorded, e)
}

// SubscribeUsage registers fn for TopicUsageRecorded.
func SubscribeUsage(b *Bus, fn func(UsageEvent)) error {
	return b.Subscribe(TopicUsageRecorded, fn)
}

// Recorder collects usage events in memory. Tests and the CLI use it where
// no ledger is attached.
type Recorder struct {
	logger *logging.Logger
	events chan UsageEvent
}

func NewRecorder(logger *logging.Logger) *Recorder {
	return &Recorder{logger: logger, events: make(chan UsageEvent, 64)}
}

func (r *Recorder) Publish(topic string, args ...interface{}) {
	r.PublishAsync(topic, args...)
}

func (r *Recorder) PublishAsync(topic string, args ...interface{}) bool {
	if topic != TopicUsageRecorded || len(args) == 0 {
		return false
	}
	e, ok := args[0].(UsageEvent)
	if !ok {
		return false
	}
	select {
	case r.events <- e:
		return true
	default:
		r.logger.WarnTag("LEDGER", "usage recorder full, dropping event %s", e.ID)
		return false
	}
}

// Events drains everything recorded so far.
func (r *Recorder) Events() []UsageEvent {
	var out []UsageEvent
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
