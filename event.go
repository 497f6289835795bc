package notifyws

import (
	"encoding/json"
	"fmt"
)

// ConnectionState is the lifecycle state of a Channel.
type ConnectionState uint8

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

type (
	// Event is one of ConnectionEvent, NotificationEvent or ErrorEvent.
	// The set is closed: only this package can add variants.
	Event interface {
		Kind() EventKind
		event()
	}

	EventKind string

	// ConnectionEvent reports a lifecycle transition. Attempt is only set for
	// the reconnecting status; Message is only set for the failed status.
	ConnectionEvent struct {
		Status  ConnectionState
		Attempt *int
		Message string
	}

	// NotificationEvent carries a server-pushed payload, untouched.
	NotificationEvent struct {
		Payload json.RawMessage
	}

	// ErrorEvent reports a transport level error. It never changes state.
	ErrorEvent struct {
		Message string
		Cause   error
	}
)

const (
	KindConnection   EventKind = "connection"
	KindNotification EventKind = "notification"
	KindError        EventKind = "error"
)

func (ConnectionEvent) Kind() EventKind   { return KindConnection }
func (NotificationEvent) Kind() EventKind { return KindNotification }
func (ErrorEvent) Kind() EventKind        { return KindError }

func (ConnectionEvent) event()   {}
func (NotificationEvent) event() {}
func (ErrorEvent) event()        {}

func (e ConnectionEvent) String() string {
	if e.Attempt != nil {
		return fmt.Sprintf("ConnectionEvent{status=%s,attempt=%d}", e.Status, *e.Attempt)
	}
	if e.Message != "" {
		return fmt.Sprintf("ConnectionEvent{status=%s,message=%s}", e.Status, e.Message)
	}
	return fmt.Sprintf("ConnectionEvent{status=%s}", e.Status)
}

func (e NotificationEvent) String() string {
	return fmt.Sprintf("NotificationEvent{payload=%s}", e.Payload)
}

func (e ErrorEvent) String() string {
	return fmt.Sprintf("ErrorEvent{message=%s}", e.Message)
}

func (e ErrorEvent) Unwrap() error { return e.Cause }

func newConnectionEvent(status ConnectionState) ConnectionEvent {
	return ConnectionEvent{Status: status}
}

func newReconnectingEvent(attempt int) ConnectionEvent {
	return ConnectionEvent{Status: StateReconnecting, Attempt: &attempt}
}

func newFailedEvent(err error) ConnectionEvent {
	msg := ErrReconnectExhausted.Error()
	if err != nil {
		msg = err.Error()
	}
	return ConnectionEvent{Status: StateFailed, Message: msg}
}

func newNotificationEvent(payload []byte) NotificationEvent {
	// copy so later reuse of the transport buffer cannot mutate the event
	p := make(json.RawMessage, len(payload))
	copy(p, payload)
	return NotificationEvent{Payload: p}
}

func newErrorEvent(err error) ErrorEvent {
	if err == nil {
		return ErrorEvent{Message: "unknown transport error"}
	}
	return ErrorEvent{Message: err.Error(), Cause: err}
}
