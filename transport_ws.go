package notifyws

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type waitFunc func(ctx context.Context, closeC CloseChan, d time.Duration) bool

// reconnectingTransport drives one Connection at a time and replaces it when it
// drops, waiting between attempts as the BackoffPolicy says. After
// policy.MaxAttempts failed attempts it reports reconnect_failed and stops.
type reconnectingTransport struct {
	logger      logger
	handler     TransportHandler
	connFactory ConnectionFactory
	policy      BackoffPolicy

	pingInterval            time.Duration
	keepAliveMessageFactory KeepAliveMessageFactory

	wait waitFunc

	openOnce  sync.Once
	closeOnce sync.Once
	closeC    CloseChan
	done      chan struct{}
}

func newReconnectingTransport(
	logger logger,
	handler TransportHandler,
	connFactory ConnectionFactory,
	policy BackoffPolicy,
	pingInterval time.Duration,
	keepAliveMessageFactory KeepAliveMessageFactory,
) *reconnectingTransport {
	if keepAliveMessageFactory == nil {
		keepAliveMessageFactory = PingKeepAlive
	}
	return &reconnectingTransport{
		logger: logger.WithField(
			"type", "transport_reconnect_exp_backoff",
		),
		handler:                 handler,
		connFactory:             connFactory,
		policy:                  policy,
		pingInterval:            pingInterval,
		keepAliveMessageFactory: keepAliveMessageFactory,
		wait:                    sleepCtx,
		closeC:                  make(CloseChan),
		done:                    make(chan struct{}),
	}
}

// NewReconnectingTransportFactory builds transports that dial through
// connFactory and reconnect according to policy. A zero pingInterval disables
// active keep-alive; server pings are always answered.
func NewReconnectingTransportFactory(
	logger logger,
	connFactory ConnectionFactory,
	policy BackoffPolicy,
	pingInterval time.Duration,
	keepAliveMessageFactory KeepAliveMessageFactory,
) TransportFactory {
	return func(handler TransportHandler) Transport {
		return newReconnectingTransport(
			logger,
			handler,
			connFactory,
			policy,
			pingInterval,
			keepAliveMessageFactory,
		)
	}
}

func (t *reconnectingTransport) Open(ctx context.Context) {
	if t.closed() {
		return
	}
	t.openOnce.Do(func() {
		go t.run(ctx)
	})
}

func (t *reconnectingTransport) Close() {
	t.closeOnce.Do(func() {
		close(t.closeC)
	})
}

func (t *reconnectingTransport) closed() bool {
	select {
	case <-t.closeC:
		return true
	default:
		return false
	}
}

func (t *reconnectingTransport) run(ctx context.Context) {
	defer close(t.done)

	var (
		attempts = 0
		lastErr  error
	)

	for {
		if attempts > 0 {
			if t.policy.Exhausted(attempts) {
				t.handler.OnReconnectFailed(errors.Wrapf(
					ErrReconnectExhausted, "after %d attempts: %v", attempts-1, lastErr,
				))
				return
			}

			ttw := t.policy.Delay(attempts)
			t.handler.OnReconnectAttempt(attempts)
			t.logger.Infof("reconnect attempt #%d in %s", attempts, ttw)
			if !t.wait(ctx, t.closeC, ttw) {
				t.logger.Debugln("stopped while waiting to reconnect")
				return
			}
		}

		recv := make(chan Message, 32)
		conn := t.connFactory(ctx, recv)

		if err := conn.Open(ctx); err != nil {
			conn.Close()
			lastErr = err

			var unrecoverable *ErrUnrecoverableConnection
			if errors.As(err, &unrecoverable) {
				t.logger.Errorf("giving up: %s", err)
				t.handler.OnReconnectFailed(err)
				return
			}

			if t.closed() || ctx.Err() != nil {
				return
			}

			t.logger.Infof("cannot connect due to %s", err)
			attempts++
			continue
		}

		attempts = 0
		lastErr = nil
		t.handler.OnConnect()

		reason := t.serve(ctx, conn, recv)
		if t.closed() || ctx.Err() != nil {
			t.logger.Debugln("stopped")
			return
		}

		t.handler.OnDisconnect(reason)
		lastErr = reason
		attempts = 1
	}
}

// serve pumps one connection until it closes. It returns why it closed.
func (t *reconnectingTransport) serve(ctx context.Context, conn Connection, recv <-chan Message) error {
	var ping <-chan time.Time
	if t.pingInterval > 0 {
		ticker := time.NewTicker(t.pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			return ErrTerminated
		case <-t.closeC:
			conn.Close()
			return ErrTerminated
		case <-conn.CloseChan():
			if err := conn.CloseErr(); err != nil {
				return err
			}
			return ErrConnectionClosed
		case <-ping:
			if err := conn.Write(t.keepAliveMessageFactory()); err != nil {
				t.logger.Warnf("cannot send keep-alive: %s", err)
			}
		case m := <-recv:
			t.handle(conn, m)
		}
	}
}

func (t *reconnectingTransport) handle(conn Connection, m Message) {
	if ok, err := replyPingWithPong(conn, m); ok {
		if err != nil {
			t.logger.Warnf("cannot answer ping: %s", err)
		}
		return
	}

	switch m.Type() {
	case DataMessage, BinaryMessage:
	case CloseError:
		t.logger.Infof("server closed the connection: %s", m)
		return
	default:
		return
	}

	env, err := DecodeEnvelope(m)
	if err != nil {
		t.handler.OnError(err)
		return
	}

	switch env.Event {
	case WireEventNotification:
		t.handler.OnNotification(env.Data)
	case WireEventError:
		t.handler.OnError(env.ServerError())
	default:
		t.logger.Debugf("ignoring %q event", env.Event)
	}
}

func sleepCtx(ctx context.Context, closeC CloseChan, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-closeC:
		return false
	case <-timer.C:
		return true
	}
}
