package notifyws

import (
	"context"
)

type (
	// Connection is a single, non reconnecting socket to the notification server.
	Connection interface {
		Write(m Message) error
		Open(ctx context.Context) error
		Close()
		CloseErr() error
		CloseChan() CloseChan
	}

	CloseChan chan struct{}

	ConnectionFactory func(ctx context.Context, recvChan chan<- Message) Connection
)
