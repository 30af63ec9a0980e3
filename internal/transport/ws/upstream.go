package ws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"voice-server-go/internal/domain/call"
	"voice-server-go/internal/platform/logging"
)

// Dialer opens upstream call channels to the speech model over websocket.
type Dialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Header           http.Header
	Logger           *logging.Logger
}

func (d *Dialer) Dial(ctx context.Context, cred call.Credential) (call.Upstream, error) {
	target := d.URL
	if cred.URL != "" {
		target = cred.URL
	}
	if target == "" {
		return nil, ErrUpstreamURL
	}

	header := d.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	if cred.Token != "" {
		header.Set("Authorization", "Bearer "+cred.Token)
	}

	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	socket, resp, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", target, err)
	}

	conn := NewConnection(uuid.NewString(), socket)
	d.Logger.DebugTag("CALL", "upstream %s connected to %s", conn.ID(), target)
	return &Upstream{conn: conn}, nil
}

// Upstream is a call.Upstream over one websocket connection carrying JSON
// text frames.
type Upstream struct {
	conn *Connection
}

func NewUpstream(conn *Connection) *Upstream {
	return &Upstream{conn: conn}
}

func (u *Upstream) Send(ctx context.Context, msg call.ClientMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode client message: %w", err)
	}
	return u.conn.WriteMessageContext(ctx, websocket.TextMessage, data)
}

// Receive returns io.EOF when the server closes the channel normally.
func (u *Upstream) Receive(ctx context.Context) (call.ServerMessage, error) {
	for {
		messageType, data, err := u.conn.ReadMessage(ctx)
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return call.ServerMessage{}, io.EOF
			}
			return call.ServerMessage{}, err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		var msg call.ServerMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			return call.ServerMessage{}, fmt.Errorf("decode server message: %w", err)
		}
		return msg, nil
	}
}

func (u *Upstream) Close() error {
	return u.conn.CloseWithStatus(websocket.CloseNormalClosure, "")
}
