package call

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"voice-server-go/internal/domain/audio/container"
	"voice-server-go/internal/domain/audio/resample"
)

// CaptureDevice delivers mono microphone frames at SampleRate.
type CaptureDevice interface {
	SampleRate() int
	// ReadFrame fills frame, blocking until it is full or ctx ends. io.EOF
	// means the source has no more audio.
	ReadFrame(ctx context.Context, frame []float32) error
	Close() error
}

// PlaybackDevice pulls mono samples at SampleRate from a Source on its own
// clock once started. A speaker that fails after Start reports it once
// through onFailure and stops pulling.
type PlaybackDevice interface {
	SampleRate() int
	Start(src Source, onFailure func(error)) error
	Close() error
}

// WAVCapture replays a WAV file as a microphone, paced in real time.
type WAVCapture struct {
	rate    int
	samples []float32
	pos     int
	pace    bool
	next    time.Time
}

// OpenWAVCapture decodes path into mono samples. Pacing can be switched
// off for tests.
func OpenWAVCapture(path string, pace bool) (*WAVCapture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, deviceErr("capture", "open", err)
	}
	return NewWAVCapture(data, pace)
}

func NewWAVCapture(wav []byte, pace bool) (*WAVCapture, error) {
	pcm, format, err := container.Decode(wav)
	if err != nil {
		return nil, deviceErr("capture", "decode", err)
	}
	if format.BitsPerSample != 16 {
		return nil, deviceErr("capture", "decode", fmt.Errorf("unsupported %d-bit audio", format.BitsPerSample))
	}
	mono := resample.DownmixToMono(pcm, format.Channels)
	return &WAVCapture{
		rate:    format.SampleRateHz,
		samples: resample.PCM16ToFloat(mono),
		pace:    pace,
	}, nil
}

func (c *WAVCapture) SampleRate() int { return c.rate }

func (c *WAVCapture) ReadFrame(ctx context.Context, frame []float32) error {
	if c.pos >= len(c.samples) {
		return io.EOF
	}
	if c.pace {
		if c.next.IsZero() {
			c.next = time.Now()
		}
		c.next = c.next.Add(time.Duration(len(frame)) * time.Second / time.Duration(c.rate))
		timer := time.NewTimer(time.Until(c.next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	n := copy(frame, c.samples[c.pos:])
	clear(frame[n:])
	c.pos += n
	return nil
}

func (c *WAVCapture) Close() error { return nil }

// WAVSink is a speaker that records everything it plays into a WAV file
// on Close.
type WAVSink struct {
	path   string
	rate   int
	period time.Duration

	mu      sync.Mutex
	pcm     []byte
	stop    chan struct{}
	done    chan struct{}
	started bool
	closed  bool
}

// NewWAVSink pulls every period; period defaults to 20ms.
func NewWAVSink(path string, rate int, period time.Duration) *WAVSink {
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	return &WAVSink{path: path, rate: rate, period: period, stop: make(chan struct{}), done: make(chan struct{})}
}

func (w *WAVSink) SampleRate() int { return w.rate }

// Start never reports a runtime failure: samples are buffered in memory and
// only written to disk by Close.
func (w *WAVSink) Start(src Source, _ func(error)) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started || w.closed {
		return deviceErr("playback", "start", errors.New("already started"))
	}
	w.started = true

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.period)
		defer ticker.Stop()
		buf := make([]float32, int(int64(w.rate)*int64(w.period)/int64(time.Second)))
		for {
			select {
			case <-w.stop:
				return
			case <-ticker.C:
				src.Pull(buf)
				pcm := resample.FloatToPCM16(buf)
				w.mu.Lock()
				w.pcm = append(w.pcm, pcm...)
				w.mu.Unlock()
			}
		}
	}()
	return nil
}

// Recorded returns a copy of the PCM played so far.
func (w *WAVSink) Recorded() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.pcm...)
}

func (w *WAVSink) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	started := w.started
	w.mu.Unlock()

	if started {
		close(w.stop)
		<-w.done
	}
	if w.path == "" {
		return nil
	}
	wav, err := container.Encode(w.Recorded(), container.PCM16Mono(w.rate))
	if err != nil {
		return deviceErr("playback", "encode", err)
	}
	if err := os.WriteFile(w.path, wav, 0o644); err != nil {
		return deviceErr("playback", "write", err)
	}
	return nil
}
