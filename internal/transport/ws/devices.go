package ws

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voice-server-go/internal/domain/audio/resample"
	"voice-server-go/internal/domain/call"
	"voice-server-go/internal/platform/logging"
)

// SocketCapture is a microphone fed by PCM16 frames a browser sends over
// its websocket.
type SocketCapture struct {
	rate    int
	frames  chan []float32
	pending []float32

	ended   chan struct{}
	endOnce sync.Once
}

func NewSocketCapture(rate, buffered int) *SocketCapture {
	if buffered <= 0 {
		buffered = 64
	}
	return &SocketCapture{
		rate:   rate,
		frames: make(chan []float32, buffered),
		ended:  make(chan struct{}),
	}
}

func (c *SocketCapture) SampleRate() int { return c.rate }

// Feed queues little-endian PCM16 audio. It never blocks; audio is dropped
// when the reader falls behind.
func (c *SocketCapture) Feed(pcm []byte) bool {
	select {
	case <-c.ended:
		return false
	default:
	}
	select {
	case c.frames <- resample.PCM16ToFloat(pcm):
		return true
	default:
		return false
	}
}

// End marks the end of input; queued audio is still delivered.
func (c *SocketCapture) End() {
	c.endOnce.Do(func() { close(c.ended) })
}

func (c *SocketCapture) ReadFrame(ctx context.Context, frame []float32) error {
	n := 0
	for n < len(frame) {
		if len(c.pending) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case p := <-c.frames:
				c.pending = p
			case <-c.ended:
				select {
				case p := <-c.frames:
					c.pending = p
				default:
					if n == 0 {
						return io.EOF
					}
					clear(frame[n:])
					return nil
				}
			}
		}
		k := copy(frame[n:], c.pending)
		c.pending = c.pending[k:]
		n += k
	}
	return nil
}

func (c *SocketCapture) Close() error {
	c.End()
	return nil
}

// SocketPlayback is a speaker that streams what it pulls back to the
// browser as binary PCM16 frames. Pure silence is not sent.
type SocketPlayback struct {
	conn   *Connection
	rate   int
	period time.Duration
	logger *logging.Logger

	mu      sync.Mutex
	started bool
	closed  bool
	stop    chan struct{}
	done    chan struct{}
}

func NewSocketPlayback(conn *Connection, rate int, period time.Duration, logger *logging.Logger) *SocketPlayback {
	if period <= 0 {
		period = 20 * time.Millisecond
	}
	return &SocketPlayback{
		conn:   conn,
		rate:   rate,
		period: period,
		logger: logger,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (p *SocketPlayback) SampleRate() int { return p.rate }

// Start streams to the browser until Close. A failed write stops the
// stream and is passed to onFailure.
func (p *SocketPlayback) Start(src call.Source, onFailure func(error)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return errPlaybackStarted
	}
	p.started = true

	go func() {
		defer close(p.done)
		ticker := time.NewTicker(p.period)
		defer ticker.Stop()
		buf := make([]float32, int(int64(p.rate)*int64(p.period)/int64(time.Second)))
		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
			}
			if src.Pull(buf) == 0 {
				continue
			}
			if err := p.conn.WriteMessage(websocket.BinaryMessage, resample.FloatToPCM16(buf)); err != nil {
				p.logger.WarnTag("CALL", "playback to %s stopped: %v", p.conn.ID(), err)
				if onFailure != nil {
					onFailure(err)
				}
				return
			}
		}
	}()
	return nil
}

func (p *SocketPlayback) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	started := p.started
	p.mu.Unlock()

	if started {
		close(p.stop)
		<-p.done
	}
	return nil
}
