package notifyws

import "context"

type (
	// Transport is one reconnecting connection to the notification server.
	Transport interface {
		// Open starts connecting in the background and returns immediately.
		// Calling Open on a closed transport is a no-op. Cancelling ctx stops
		// the transport silently, like Close.
		Open(ctx context.Context)

		// Close tears the transport down. It must not block and must be safe to
		// call from within a TransportHandler callback and more than once.
		Close()
	}

	// TransportHandler receives the lifecycle signals of a Transport. A transport
	// invokes it from a single goroutine at a time so signals form one sequence.
	TransportHandler interface {
		OnConnect()
		OnDisconnect(reason error)
		OnReconnectAttempt(attempt int)
		OnReconnectFailed(err error)
		OnNotification(payload []byte)
		OnError(err error)
	}

	// TransportFactory creates a transport that reports to handler.
	TransportFactory func(handler TransportHandler) Transport
)
