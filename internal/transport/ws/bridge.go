package ws

import (
	"context"
	"net/http"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"voice-server-go/internal/domain/call"
	"voice-server-go/internal/domain/eventbus"
	"voice-server-go/internal/platform/logging"
	"voice-server-go/internal/platform/observability"
)

const (
	defaultBrowserRate  = 48000
	defaultPlaybackRate = 24000
)

// ControlMessage is the JSON text frame exchanged with the browser.
// Audio travels separately as binary PCM16 frames.
type ControlMessage struct {
	Type    string `json:"type"`
	State   string `json:"state,omitempty"`
	Session string `json:"session,omitempty"`
	Error   string `json:"error,omitempty"`
}

// CallBridge turns an upgraded browser connection into a live call: the
// browser is the microphone and the speaker, the upstream is dialed on
// its behalf.
type CallBridge struct {
	Config       call.Config
	Credentials  call.CredentialSource
	Dialer       call.Dialer
	Usage        eventbus.Publisher
	Metrics      *observability.Metrics
	Logger       *logging.Logger
	PlaybackRate int
}

// Build is a HandlerBuilder. Query parameters contribution_id,
// character_id, voice and rate tailor the call.
func (b *CallBridge) Build(conn *Connection, req *http.Request) (SessionHandler, error) {
	q := req.URL.Query()
	cfg := b.Config
	if v := q.Get("contribution_id"); v != "" {
		cfg.ContributionID = v
	}
	if v := q.Get("character_id"); v != "" {
		cfg.CharacterID = v
	}
	if v := q.Get("voice"); v != "" {
		cfg.VoiceName = v
	}
	rate := defaultBrowserRate
	if v, err := strconv.Atoi(q.Get("rate")); err == nil && v > 0 {
		rate = v
	}
	playbackRate := b.PlaybackRate
	if playbackRate <= 0 {
		playbackRate = defaultPlaybackRate
	}

	capture := NewSocketCapture(rate, 0)
	playback := NewSocketPlayback(conn, playbackRate, 0, b.Logger)
	session, err := call.NewSession(cfg, call.Deps{
		Credentials: b.Credentials,
		Dialer:      b.Dialer,
		Capture:     capture,
		Playback:    playback,
		Usage:       b.Usage,
		Metrics:     b.Metrics,
		Logger:      b.Logger,
	})
	if err != nil {
		return nil, err
	}
	return &callHandler{
		conn:    conn,
		session: session,
		capture: capture,
		logger:  b.Logger,
	}, nil
}

type callHandler struct {
	conn    *Connection
	session *call.Session
	capture *SocketCapture
	logger  *logging.Logger
}

func (h *callHandler) GetSessionID() string { return h.session.ID() }

func (h *callHandler) Handle() {
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		h.forwardStates()
	}()

	ctx := context.Background()
	if err := h.session.Start(ctx); err != nil {
		h.logger.WarnTag("CALL", "browser call %s did not start: %v", h.session.ID(), err)
		<-forwarded
		return
	}

	h.readPump()
	h.capture.End()
	if err := h.session.Hangup(ctx); err != nil {
		h.logger.WarnTag("CALL", "browser call %s ended with error: %v", h.session.ID(), err)
	}
	<-forwarded
}

// readPump feeds browser audio to the session until the browser hangs up,
// disconnects or the session ends on its own.
func (h *callHandler) readPump() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-h.session.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		messageType, data, err := h.conn.ReadMessage(ctx)
		if err != nil {
			return
		}
		switch messageType {
		case websocket.BinaryMessage:
			if !h.capture.Feed(data) {
				h.logger.DebugTag("CALL", "browser call %s dropped a capture frame", h.session.ID())
			}
		case websocket.TextMessage:
			var msg ControlMessage
			if err := sonic.Unmarshal(data, &msg); err != nil {
				h.logger.DebugTag("CALL", "browser call %s sent bad control message: %v", h.session.ID(), err)
				continue
			}
			if msg.Type == "hangup" {
				return
			}
		}
	}
}

func (h *callHandler) forwardStates() {
	for change := range h.session.Events() {
		msg := ControlMessage{Type: "state", State: change.To.String(), Session: h.session.ID()}
		if change.Err != nil {
			msg.Error = change.Err.Error()
		}
		data, err := sonic.Marshal(msg)
		if err != nil {
			continue
		}
		if err := h.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			h.logger.DebugTag("CALL", "browser call %s state not delivered: %v", h.session.ID(), err)
		}
	}
}

func (h *callHandler) Close() {
	_ = h.session.Close()
}
