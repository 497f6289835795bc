package notifyws

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"
)

// fakeTransport lets tests play the transport side: they call the handler
// directly to simulate wire signals.
type fakeTransport struct {
	handler TransportHandler

	mu     sync.Mutex
	opened int
	closed int
}

func (f *fakeTransport) Open(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened++
}

func (f *fakeTransport) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func (f *fakeTransport) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed > 0
}

type fakeTransportFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
}

func (f *fakeTransportFactory) New(handler TransportHandler) Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{handler: handler}
	f.transports = append(f.transports, t)
	return t
}

func (f *fakeTransportFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.transports)
}

func (f *fakeTransportFactory) Last() *fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.transports) == 0 {
		return nil
	}
	return f.transports[len(f.transports)-1]
}

// eventRecorder is a Listener that keeps what it receives.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) HandleEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) ConnectionEvents() []ConnectionEvent {
	var res []ConnectionEvent
	for _, e := range r.Events() {
		if ce, ok := e.(ConnectionEvent); ok {
			res = append(res, ce)
		}
	}
	return res
}

func (r *eventRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type mockListener struct {
	mock.Mock
}

func (m *mockListener) HandleEvent(e Event) {
	m.Called(e)
}
