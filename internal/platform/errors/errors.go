// Package errors classifies failures by the layer that produced them.
package errors

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfig    Kind = "config"
	KindDomain    Kind = "domain"
	KindTransport Kind = "transport"
	KindPlatform  Kind = "platform"
	KindBootstrap Kind = "bootstrap"
	KindStorage   Kind = "storage"
	KindProvider  Kind = "provider"
	KindAudio     Kind = "audio"
	KindDevice    Kind = "device"
	KindUnknown   Kind = "unknown"
)

// Error carries a Kind and the operation that failed, named
// "<area>.<action>" (for example "ledger.settle").
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	head := "[" + string(e.Kind) + ":" + e.Op + "] " + e.Message
	if e.Cause == nil {
		return head
	}
	return head + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Errorf is New with a formatted message.
func Errorf(kind Kind, op, format string, args ...any) *Error {
	return New(kind, op, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and op to err. Nil stays nil, and an err already
// classified somewhere in its chain is returned as is.
func Wrap(kind Kind, op, message string, err error) error {
	switch {
	case err == nil:
		return nil
	case KindOf(err) != KindUnknown:
		return err
	}
	return &Error{Kind: kind, Op: op, Message: message, Cause: err}
}

// KindOf reports the kind of the outermost *Error in err's chain.
func KindOf(err error) Kind {
	var typed *Error
	if !errors.As(err, &typed) {
		return KindUnknown
	}
	return typed.Kind
}

func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
