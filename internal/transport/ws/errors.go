package ws

import "errors"

var (
	// ErrHandshakeTimeout ends a browser upgrade that outlived the router's deadline.
	ErrHandshakeTimeout = errors.New("browser call upgrade timed out")
	// ErrSessionShutdown is the close reason when the server ends browser calls.
	ErrSessionShutdown = errors.New("server is shutting down calls")
	// ErrSessionIdle closes a call whose browser stopped sending frames.
	ErrSessionIdle = errors.New("browser stopped sending audio")
	// ErrConnectionClosed is returned by writes after Close.
	ErrConnectionClosed = errors.New("websocket connection closed")
	// ErrUpstreamURL means neither config nor the credential named a model endpoint.
	ErrUpstreamURL     = errors.New("upstream url not configured")
	errPlaybackStarted = errors.New("socket playback already started")
)
