package call

import (
	"errors"
	"sync/atomic"
)

var ErrScheduleFull = errors.New("playback schedule full")

// Source is what a playback device pulls from on its own clock.
type Source interface {
	// Pull fills out completely, padding with silence, and returns how
	// many samples were real audio.
	Pull(out []float32) int
}

type chunk struct {
	start   int64 // in device samples
	samples []float32
}

// Schedule is a single-producer single-consumer playback queue. The
// receive loop pushes decoded chunks; the device pulls samples. Each chunk
// starts at max(nextStart, now) so consecutive chunks play without gaps
// and a late chunk never plays in the past.
//
// Only the producer calls Push and Flush; only the consumer calls Pull.
type Schedule struct {
	ring []chunk
	mask uint64

	head atomic.Uint64 // next slot to read, owned by the consumer
	tail atomic.Uint64 // next slot to write, owned by the producer

	// position is the consumer clock: samples emitted so far, silence
	// included.
	position atomic.Int64
	// flushTo is tail+1 of a pending flush request, 0 when none.
	flushTo atomic.Uint64

	// producer state
	nextStart int64

	// consumer state
	offset int
}

// NewSchedule makes a schedule holding up to capacity chunks, rounded up
// to a power of two.
func NewSchedule(capacity int) *Schedule {
	size := uint64(1)
	for size < uint64(capacity) {
		size <<= 1
	}
	return &Schedule{ring: make([]chunk, size), mask: size - 1}
}

// Push schedules samples after everything already queued.
func (s *Schedule) Push(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	tail := s.tail.Load()
	if tail-s.head.Load() >= uint64(len(s.ring)) {
		return ErrScheduleFull
	}
	start := s.nextStart
	if now := s.position.Load(); now > start {
		start = now
	}
	s.ring[tail&s.mask] = chunk{start: start, samples: samples}
	s.nextStart = start + int64(len(samples))
	s.tail.Store(tail + 1)
	return nil
}

// Flush drops everything queued so far; used when the remote side is
// interrupted. The consumer applies it on its next Pull.
func (s *Schedule) Flush() {
	s.flushTo.Store(s.tail.Load() + 1)
	s.nextStart = s.position.Load()
}

// Pending is the number of queued chunks not yet fully played.
func (s *Schedule) Pending() int {
	return int(s.tail.Load() - s.head.Load())
}

// Position is the number of samples the device has consumed.
func (s *Schedule) Position() int64 {
	return s.position.Load()
}

func (s *Schedule) Pull(out []float32) int {
	if to := s.flushTo.Swap(0); to != 0 {
		head := s.head.Load()
		for ; head < to-1; head++ {
			s.ring[head&s.mask] = chunk{}
		}
		s.head.Store(head)
		s.offset = 0
	}

	pos := s.position.Load()
	played := 0
	i := 0
	for i < len(out) {
		head := s.head.Load()
		if head == s.tail.Load() {
			break
		}
		c := &s.ring[head&s.mask]
		at := pos + int64(i)
		if c.start+int64(s.offset) > at {
			// the chunk starts later; fill the gap with silence
			gap := int(c.start + int64(s.offset) - at)
			if gap > len(out)-i {
				gap = len(out) - i
			}
			clear(out[i : i+gap])
			i += gap
			continue
		}
		n := copy(out[i:], c.samples[s.offset:])
		i += n
		played += n
		s.offset += n
		if s.offset >= len(c.samples) {
			s.ring[head&s.mask] = chunk{}
			s.offset = 0
			s.head.Store(head + 1)
		}
	}
	clear(out[i:])
	s.position.Store(pos + int64(len(out)))
	return played
}
