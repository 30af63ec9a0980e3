// Package call runs a live, bidirectional voice call against a streaming
// speech model: microphone frames go up, model audio comes back and is
// scheduled gaplessly on the speaker.
package call

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"voice-server-go/internal/domain/audio/resample"
	"voice-server-go/internal/domain/eventbus"
	"voice-server-go/internal/platform/logging"
	"voice-server-go/internal/platform/observability"
)

const (
	DefaultUpstreamRate = 16000
	DefaultInboundRate  = 24000
	DefaultFrameSize    = 4096

	scheduleCapacity = 256
	pollInterval     = 5 * time.Millisecond
)

// Upstream is one open channel to the speech model.
type Upstream interface {
	Send(ctx context.Context, msg ClientMessage) error
	// Receive blocks for the next message. io.EOF means the remote side
	// ended the call normally.
	Receive(ctx context.Context) (ServerMessage, error)
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, cred Credential) (Upstream, error)
}

type Config struct {
	Model             string
	VoiceName         string
	SystemInstruction string
	// UpstreamRate is the sample rate of outbound frames.
	UpstreamRate int
	// InboundRate is assumed when a server part carries no rate.
	InboundRate      int
	FrameSize        int
	HandshakeTimeout time.Duration
	// DrainTimeout bounds how long hang-up waits for queued playback.
	DrainTimeout time.Duration

	ContributionID string
	CharacterID    string
}

type Deps struct {
	Credentials CredentialSource
	Dialer      Dialer
	Capture     CaptureDevice
	Playback    PlaybackDevice
	Usage       eventbus.Publisher
	Metrics     *observability.Metrics
	Logger      *logging.Logger
}

// Session is one live call. A session is used once: Start, then Hangup or
// Close.
type Session struct {
	id   string
	cfg  Config
	deps Deps

	ctx    context.Context
	cancel context.CancelFunc

	state        atomic.Int32
	transitionMu sync.Mutex
	events       chan StateChange
	done         chan struct{}
	err          error

	started atomic.Bool

	mu            sync.Mutex
	upstream      Upstream
	group         *errgroup.Group
	captureCancel context.CancelFunc

	// sending gates outbound frames; it is only read or written under
	// sendMu so a hang-up can never race a frame onto the wire. A send in
	// flight holds sendMu and is aborted through the capture context.
	sendMu  sync.Mutex
	sending bool

	schedule   *Schedule
	heardNanos atomic.Int64
	framesSent atomic.Int64

	releaseOnce sync.Once
}

func NewSession(cfg Config, deps Deps) (*Session, error) {
	switch {
	case deps.Credentials == nil:
		return nil, errors.New("call: credential source is required")
	case deps.Dialer == nil:
		return nil, errors.New("call: dialer is required")
	case deps.Capture == nil || deps.Playback == nil:
		return nil, errors.New("call: capture and playback devices are required")
	}
	if cfg.UpstreamRate <= 0 {
		cfg.UpstreamRate = DefaultUpstreamRate
	}
	if cfg.InboundRate <= 0 {
		cfg.InboundRate = DefaultInboundRate
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = DefaultFrameSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		deps:     deps,
		ctx:      ctx,
		cancel:   cancel,
		events:   make(chan StateChange, 16),
		done:     make(chan struct{}),
		schedule: NewSchedule(scheduleCapacity),
	}
	s.state.Store(int32(StateConnecting))
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session reaches Closed or Failed.
func (s *Session) Done() <-chan struct{} { return s.done }

// Events delivers state changes and is closed on the terminal one. Slow
// readers miss intermediate changes, never the channel close.
func (s *Session) Events() <-chan StateChange { return s.events }

// Err is the failure that ended the session, nil after a clean hang-up.
func (s *Session) Err() error {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	return s.err
}

// Wait blocks until the session ends or ctx is done.
func (s *Session) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FramesSent counts outbound audio frames written upstream.
func (s *Session) FramesSent() int64 { return s.framesSent.Load() }

// HeardSeconds is the amount of model audio received so far.
func (s *Session) HeardSeconds() float64 {
	return float64(s.heardNanos.Load()) / float64(time.Second)
}

// Start connects and, once the upstream acknowledges setup, starts the
// capture and receive loops. It returns after the session is Active.
func (s *Session) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return errors.New("call: session already started")
	}
	s.deps.Metrics.CallOpened()
	s.deps.Logger.InfoTag("CALL", "session %s connecting", s.id)

	hctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	up, err := s.handshake(hctx)
	if err != nil {
		if s.ctx.Err() != nil && s.State().Terminal() {
			// hung up while connecting
			s.closeUpstream()
			return ErrNotActive
		}
		if errors.Is(hctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			err = transportErr("setup", fmt.Errorf("%w after %s", ErrHandshakeTimeout, s.cfg.HandshakeTimeout))
		}
		s.fail(err)
		s.release()
		return err
	}

	// s.mu is held until the loops run so a concurrent Hangup sees either
	// Connecting or a fully started session.
	s.mu.Lock()
	if !s.transition([]State{StateConnecting}, StateActive, nil) {
		s.mu.Unlock()
		s.closeUpstream()
		return ErrNotActive
	}
	if err := s.deps.Playback.Start(s.schedule, s.playbackFailed); err != nil {
		s.mu.Unlock()
		err = deviceErr("playback", "start", err)
		s.fail(err)
		s.release()
		return err
	}
	s.sendMu.Lock()
	s.sending = true
	s.sendMu.Unlock()

	captureCtx, captureCancel := context.WithCancel(s.ctx)
	g := &errgroup.Group{}
	s.captureCancel = captureCancel
	s.group = g
	g.Go(func() error { return s.captureLoop(captureCtx) })
	g.Go(func() error { return s.receiveLoop(s.ctx, up) })
	s.mu.Unlock()

	go func() {
		_ = g.Wait()
		if s.State() == StateFailed {
			s.release()
		}
	}()

	s.deps.Logger.InfoTag("CALL", "session %s active", s.id)
	return nil
}

func (s *Session) handshake(ctx context.Context) (Upstream, error) {
	cred, err := s.deps.Credentials.Credential(ctx)
	if err != nil {
		return nil, transportErr("credential", err)
	}
	up, err := s.deps.Dialer.Dial(ctx, cred)
	if err != nil {
		return nil, transportErr("dial", err)
	}
	s.mu.Lock()
	s.upstream = up
	s.mu.Unlock()

	setup := &Setup{
		Model:             s.cfg.Model,
		Voice:             s.cfg.VoiceName,
		SystemInstruction: s.cfg.SystemInstruction,
		Generation:        GenerationConfig{ResponseModalities: []string{"AUDIO"}},
	}
	if err := up.Send(ctx, ClientMessage{Setup: setup}); err != nil {
		return nil, transportErr("setup", err)
	}
	for {
		msg, err := up.Receive(ctx)
		if err != nil {
			return nil, transportErr("setup", err)
		}
		if msg.Error != nil {
			return nil, transportErr("setup", fmt.Errorf("%w: %d %s", ErrSetupRejected, msg.Error.Code, msg.Error.Message))
		}
		if msg.SetupComplete != nil {
			return up, nil
		}
	}
}

func (s *Session) captureLoop(ctx context.Context) error {
	frame := make([]float32, s.cfg.FrameSize)
	rate := s.deps.Capture.SampleRate()
	mime := PCMMimeType(s.cfg.UpstreamRate)
	for {
		if err := s.deps.Capture.ReadFrame(ctx, frame); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				s.deps.Logger.InfoTag("CALL", "session %s microphone ended", s.id)
				return nil
			}
			err = deviceErr("capture", "read", err)
			s.fail(err)
			return err
		}

		pcm := resample.FloatToPCM16(resample.Resample(frame, rate, s.cfg.UpstreamRate))
		msg := ClientMessage{InlineAudio: &InlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(pcm),
		}}
		if err := s.send(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			err = transportErr("send", err)
			s.fail(err)
			return err
		}
	}
}

// send writes one frame upstream. ctx is the capture context, so closing
// the gate in stopCapture also aborts a write that is still in progress.
func (s *Session) send(ctx context.Context, msg ClientMessage) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if !s.sending {
		return nil
	}
	if err := s.currentUpstream().Send(ctx, msg); err != nil {
		return err
	}
	s.framesSent.Add(1)
	s.deps.Metrics.CallFrame("out")
	return nil
}

func (s *Session) receiveLoop(ctx context.Context, up Upstream) error {
	outRate := s.deps.Playback.SampleRate()
	streams := make(map[int]*resample.Stream)
	for {
		msg, err := up.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				s.deps.Logger.InfoTag("CALL", "session %s ended by remote", s.id)
				s.stopCapture()
				go func() { _ = s.Hangup(context.Background()) }()
				return nil
			}
			err = transportErr("receive", err)
			s.fail(err)
			return err
		}
		if msg.Error != nil {
			err := transportErr("receive", fmt.Errorf("upstream error %d: %s", msg.Error.Code, msg.Error.Message))
			s.fail(err)
			return err
		}
		if msg.ServerAudio != nil {
			if err := s.play(ctx, msg.ServerAudio, streams, outRate); err != nil {
				return nil
			}
		}
	}
}

// play queues every audio part of a server message. It only fails when
// ctx ends while the schedule is full.
func (s *Session) play(ctx context.Context, a *ServerAudio, streams map[int]*resample.Stream, outRate int) error {
	if a.Interrupted {
		s.schedule.Flush()
		clear(streams)
		s.deps.Logger.DebugTag("CALL", "session %s interrupted, playback flushed", s.id)
	}
	for _, part := range a.Parts {
		if part.InlineData == nil || part.InlineData.Data == "" {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			s.deps.Logger.WarnTag("CALL", "session %s dropped undecodable audio part: %v", s.id, err)
			continue
		}
		inRate := ParseRate(part.InlineData.MimeType, s.cfg.InboundRate)
		samples := resample.PCM16ToFloat(pcm)
		s.heardNanos.Add(int64(len(samples)) * int64(time.Second) / int64(inRate))

		st, ok := streams[inRate]
		if !ok {
			st = resample.NewStream(inRate, outRate)
			streams[inRate] = st
		}
		out := st.Process(samples)
		for s.schedule.Push(out) == ErrScheduleFull {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
		s.deps.Metrics.CallFrame("in")
	}
	if a.TurnComplete {
		s.deps.Logger.DebugTag("CALL", "session %s turn complete", s.id)
	}
	return nil
}

// Hangup ends the call. Capture stops first and no frame is sent once the
// gate closes; queued playback then drains for up to DrainTimeout before
// the upstream is closed.
func (s *Session) Hangup(ctx context.Context) error {
	s.mu.Lock()
	if s.transition([]State{StateConnecting}, StateClosed, nil) {
		s.mu.Unlock()
		s.cancel()
		s.closeUpstream()
		s.release()
		return nil
	}
	if !s.transition([]State{StateActive}, StateEnding, nil) {
		s.mu.Unlock()
		select {
		case <-s.done:
			return s.Err()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	g := s.group
	s.mu.Unlock()

	s.deps.Logger.InfoTag("CALL", "session %s hanging up", s.id)
	s.stopCapture()

	s.drain(ctx)

	s.cancel()
	s.closeUpstream()
	if g != nil {
		_ = g.Wait()
	}
	s.transition([]State{StateEnding}, StateClosed, nil)
	s.release()
	return s.Err()
}

// stopCapture stops the microphone loop and closes the send gate. Once it
// returns no further frame reaches the upstream.
func (s *Session) stopCapture() {
	s.mu.Lock()
	cancel := s.captureCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.sendMu.Lock()
	s.sending = false
	s.sendMu.Unlock()
}

func (s *Session) drain(ctx context.Context) {
	if s.cfg.DrainTimeout <= 0 {
		return
	}
	deadline := time.NewTimer(s.cfg.DrainTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for s.schedule.Pending() > 0 {
		select {
		case <-ctx.Done():
			return
		case <-s.ctx.Done():
			return
		case <-deadline.C:
			s.deps.Logger.WarnTag("CALL", "session %s drain timed out with %d chunks queued", s.id, s.schedule.Pending())
			return
		case <-ticker.C:
		}
	}
}

// Close tears the session down without draining. It is safe to call more
// than once and after Hangup.
func (s *Session) Close() error {
	s.mu.Lock()
	closed := s.transition([]State{StateConnecting, StateActive, StateEnding}, StateClosed, nil)
	g := s.group
	s.mu.Unlock()
	if closed {
		s.cancel()
		s.closeUpstream()
	}
	if g != nil {
		_ = g.Wait()
	}
	s.release()
	return nil
}

// playbackFailed is handed to the playback device and called from its
// clock when the speaker stops working.
func (s *Session) playbackFailed(err error) {
	s.fail(deviceErr("playback", "write", err))
}

// fail moves the session to Failed and stops both loops. The first error
// wins.
func (s *Session) fail(err error) {
	if !s.transition([]State{StateConnecting, StateActive, StateEnding}, StateFailed, err) {
		return
	}
	s.deps.Logger.ErrorTag("CALL", "session %s failed: %v", s.id, err)
	s.cancel()
	s.closeUpstream()
}

func (s *Session) currentUpstream() Upstream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upstream
}

func (s *Session) closeUpstream() {
	up := s.currentUpstream()
	if up == nil {
		return
	}
	if err := up.Close(); err != nil {
		s.deps.Logger.DebugTag("CALL", "session %s upstream close: %v", s.id, err)
	}
}

// release frees devices and records usage exactly once.
func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.cancel()
		if err := s.deps.Capture.Close(); err != nil {
			s.deps.Logger.WarnTag("CALL", "session %s capture close: %v", s.id, err)
		}
		if err := s.deps.Playback.Close(); err != nil {
			s.deps.Logger.WarnTag("CALL", "session %s playback close: %v", s.id, err)
		}
		if s.started.Load() {
			s.deps.Metrics.CallClosed()
		}
		s.recordUsage()
	})
}

func (s *Session) recordUsage() {
	seconds := s.HeardSeconds()
	if seconds <= 0 {
		return
	}
	s.deps.Metrics.Usage(string(eventbus.UsageSourceCall), seconds)
	if s.cfg.ContributionID == "" || s.deps.Usage == nil {
		return
	}
	eventbus.PublishUsage(s.deps.Usage, eventbus.UsageEvent{
		ContributionID:  s.cfg.ContributionID,
		CharacterID:     s.cfg.CharacterID,
		Source:          eventbus.UsageSourceCall,
		Provider:        s.cfg.Model,
		DurationSeconds: seconds,
		OccurredAt:      time.Now().UTC(),
	})
}

// transition moves from one of the allowed states to next. It reports
// false when the current state is not allowed.
func (s *Session) transition(from []State, next State, err error) bool {
	s.transitionMu.Lock()
	defer s.transitionMu.Unlock()
	cur := State(s.state.Load())
	allowed := false
	for _, f := range from {
		if cur == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}
	s.state.Store(int32(next))
	if next.Terminal() {
		s.err = err
	}
	s.emit(StateChange{From: cur, To: next, Err: err, At: time.Now()})
	if next.Terminal() {
		close(s.events)
		close(s.done)
	}
	return true
}

// emit must be called with transitionMu held.
func (s *Session) emit(change StateChange) {
	s.deps.Metrics.CallState(change.To.String())
	select {
	case s.events <- change:
	default:
	}
}
