package notifyws

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/pkg/errors"
)

type (
	openConnectionParamsRepo interface {
		Get(ctx context.Context) (OpenConnectionParams, error)
	}

	OpenConnectionParams struct {
		URL    url.URL
		Header http.Header
	}

	// ErrAdapter classifies a failed handshake. Returning an
	// *ErrUnrecoverableConnection stops reconnection.
	ErrAdapter func(*websocket.Conn, *http.Response, error) error

	// ErrorAdapters replaces the default dial error classification.
	ErrorAdapters struct {
		OnDial ErrAdapter
	}

	// WsConnection represents a WebSocket connection.
	// It implements the Connection interface.
	WsConnection struct {
		errAdapters              ErrorAdapters
		openConnectionParamsRepo openConnectionParamsRepo
		logger                   logger
		dialer                   *websocket.Dialer
		conn                     *websocket.Conn
		closeChan                CloseChan
		closeOnce                sync.Once
		closeReason              error
		closeReasonOnce          sync.Once
		recv                     chan<- Message // recv messages to be received over the wire
		send                     chan Message   // send messages to be sent over the wire
	}
)

const writeTimeout = time.Second

// NewDialer returns a dialer whose handshake gives up after connectTimeout.
func NewDialer(connectTimeout time.Duration) *websocket.Dialer {
	return &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: connectTimeout,
	}
}

func NewWebsocketConnection(
	dialer *websocket.Dialer,
	openParamsRepo openConnectionParamsRepo,
	logger logger,
	recvChan chan<- Message,
	errorHandlers ErrorAdapters,
) *WsConnection {
	return &WsConnection{
		errAdapters:              errorHandlers,
		dialer:                   dialer,
		openConnectionParamsRepo: openParamsRepo,
		recv:                     recvChan,
		send:                     make(chan Message, 8),
		closeChan:                make(CloseChan),
		logger:                   logger.WithField("net", "ws_connection"),
	}
}

func NewWebsocketFactory(
	logger logger,
	dialer *websocket.Dialer,
	openConnectionParamsRepo openConnectionParamsRepo,
	errorHandlers ErrorAdapters,
) ConnectionFactory {
	return func(ctx context.Context, recvChan chan<- Message) Connection {
		return NewWebsocketConnection(
			dialer,
			openConnectionParamsRepo,
			logger,
			recvChan,
			errorHandlers,
		)
	}
}

// Write queues a message to be sent over the WebSocket connection.
func (w *WsConnection) Write(m Message) error {
	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	default:
	}

	select {
	case <-w.closeChan:
		return ErrConnectionClosed
	case w.send <- m:
		return nil
	}
}

// Close terminates the WebSocket connection.
// It ensures that all resources related to the connection are cleaned up.
func (w *WsConnection) Close() {
	w.setCloseReason(ErrTerminated)
	w.safeClose()
}

// Open dials the server. It blocks until the handshake succeeds or fails.
func (w *WsConnection) Open(ctx context.Context) error {
	return w.start(ctx)
}

// CloseChan returns a channel that will be closed when the WebSocket connection is closed.
func (w *WsConnection) CloseChan() CloseChan {
	return w.closeChan
}

// CloseErr returns an error that explains why the WebSocket connection was closed.
func (w *WsConnection) CloseErr() error {
	return w.closeReason
}

func (w *WsConnection) start(ctx context.Context) error {
	p, err := w.openConnectionParamsRepo.Get(ctx)

	if err != nil {
		w.logger.Errorf("cannot get connection params due to %s: ", err)
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	conn, resp, err := w.dialer.DialContext(ctx, p.URL.String(), p.Header)

	if err = w.handleDialError(p.URL, conn, resp, err); err != nil {
		w.logger.Errorf("connection err to %s: %s", p.URL.String(), err)
		if conn != nil {
			_ = conn.Close()
		}
		return err
	}

	w.logger.Debugf("success opening connection to %s", p.URL.String())

	w.conn = conn

	// Control frames are forwarded so the transport decides how to answer them.
	conn.SetPingHandler(func(appData string) error {
		w.logger.Debugln("<= [PING]")
		w.deliver(NewPingMessage([]byte(appData)))
		return nil
	})

	conn.SetPongHandler(func(appData string) error {
		w.logger.Debugln("<= [PONG]")
		w.deliver(NewPongMessage([]byte(appData)))
		return nil
	})

	conn.SetCloseHandler(func(code int, text string) error {
		w.logger.Debugln("<= [CLOSE]")
		w.deliver(NewCloseMessage(code, []byte(text)))
		return nil
	})

	go w.read()
	go w.write()

	return nil
}

func (w *WsConnection) deliver(m Message) {
	select {
	case <-w.closeChan:
	case w.recv <- m:
	}
}

func (w *WsConnection) read() {
	defer w.safeClose()

	for {
		messageType, bts, err := w.conn.ReadMessage()
		if err != nil {
			select {
			case <-w.closeChan:
				// closed from our side, the read error is a consequence
				return
			default:
			}

			w.logger.Errorf("error occurred on websocket read: %s", err)

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				w.setCloseReason(ErrConnectionClosed)
			} else {
				w.setCloseReason(errors.Wrap(
					ErrConnectionClosed,
					"error occurred on websocket read: "+err.Error(),
				))
			}
			return
		}
		// message types from ReadMessage are either binary or text
		switch messageType {
		case websocket.BinaryMessage:
			w.logger.Debugln("<= [BIN]")
			w.deliver(NewBinaryMessage(bts))
		default:
			w.logger.Debugf("<= [DATA] %s", string(bts))
			w.deliver(NewDataMessage(bts))
		}
	}
}

func (w *WsConnection) write() {
	defer w.safeClose()

	for {
		select {
		case <-w.closeChan:
			deadline := time.Now().Add(writeTimeout)
			_ = w.conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				deadline,
			)
			return
		case msg := <-w.send:
			deadline := time.Now().Add(writeTimeout)
			_ = w.conn.SetWriteDeadline(deadline)

			var err error

			switch msg.Type() {
			case PingMessage:
				w.logger.Debugln("=> [PING]")
				err = w.conn.WriteControl(websocket.PingMessage, msg.Data(), deadline)
				var ne net.Error
				if errors.As(err, &ne) && ne.Timeout() {
					err = nil
				}
			case PongMessage:
				w.logger.Debugln("=> [PONG]")
				err = w.conn.WriteControl(websocket.PongMessage, msg.Data(), deadline)
			case DataMessage:
				w.logger.Debugf("=> [DATA] %s", msg.Data())
				err = w.conn.WriteMessage(websocket.TextMessage, msg.Data())
			}

			if err != nil {
				if websocket.IsCloseError(err,
					websocket.CloseGoingAway,
					websocket.CloseAbnormalClosure,
				) {
					w.setCloseReason(ErrConnectionClosed)
				} else {
					w.setCloseReason(errors.Wrap(ErrConnectionClosed, err.Error()))
				}
				return
			}
		}
	}
}

func (w *WsConnection) safeClose() {
	w.closeOnce.Do(w.close)
}

func (w *WsConnection) close() {
	close(w.closeChan)
	if w.conn != nil {
		// give the writer a moment to send the close frame before the socket goes
		time.AfterFunc(writeTimeout, func() { _ = w.conn.Close() })
		_ = w.conn.SetReadDeadline(time.Now())
	}
}

func (w *WsConnection) setCloseReason(err error) {
	w.closeReasonOnce.Do(func() {
		w.closeReason = err
	})
}

func (w *WsConnection) handleDialError(
	u url.URL,
	conn *websocket.Conn,
	resp *http.Response,
	err error,
) error {
	if w.errAdapters.OnDial != nil {
		return w.errAdapters.OnDial(conn, resp, err)
	}

	// 1. Check HTTP errors first
	var msg string

	if resp != nil {
		if resp.Body != nil {
			bts, err := io.ReadAll(resp.Body)
			if err == nil {
				msg = string(bts)
			}
		}
		switch resp.StatusCode {
		case http.StatusTooManyRequests:
			return errors.Wrap(ErrRateLimit, msg)
		case http.StatusUnauthorized, http.StatusForbidden:
			return WrapErrorUnrecoverableConnection(errors.Wrap(ErrUnauthorized, msg), u)
		}
	}

	// 2. Network errors
	if err != nil {
		return errors.Wrap(ErrCannotConnect, err.Error())
	}

	return nil
}
