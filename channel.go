package notifyws

import (
	"context"
	"sync"
	"time"
)

// Channel keeps a single logical subscription to server-pushed notifications
// across network interruptions. It owns at most one Transport at a time and fans
// every event out to the registered listeners.
//
// A process normally builds one Channel at startup, calls Connect once and
// Disconnect once at shutdown, and passes the Channel to whatever needs it.
type Channel struct {
	logger  logger
	factory TransportFactory
	policy  BackoffPolicy
	metrics *Metrics

	listeners *listenerSet

	// mu guards the connection state below.
	mu        sync.Mutex
	transport Transport
	cancel    context.CancelFunc
	gen       uint64
	state     ConnectionState
	connected bool
	attempt   int
	delay     time.Duration

	// queueMu guards the pending events. Lock order is mu, then queueMu.
	queueMu     sync.Mutex
	queue       []Event
	dispatching bool
}

func NewChannel(
	logger logger,
	factory TransportFactory,
	policy BackoffPolicy,
	metrics *Metrics,
) *Channel {
	if logger == nil {
		logger = NewNopLogger()
	}

	c := &Channel{
		logger:    logger.WithField("type", "notification_channel"),
		factory:   factory,
		policy:    policy,
		metrics:   metrics,
		listeners: newListenerSet(),
		state:     StateDisconnected,
		delay:     policy.Initial,
	}
	metrics.setState(StateDisconnected)
	return c
}

// Connect creates the transport and starts connecting. It returns immediately;
// progress is reported through ConnectionEvents. Calling Connect while a
// transport exists is a no-op. The transport keeps the values of ctx but not its
// cancellation: only Disconnect ends it.
func (c *Channel) Connect(ctx context.Context) {
	c.mu.Lock()
	if c.transport != nil {
		c.mu.Unlock()
		c.logger.Debugln("connect ignored, transport already exists")
		return
	}

	c.gen++
	tctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t := c.factory(&transportSink{channel: c, gen: c.gen})
	c.transport = t
	c.cancel = cancel
	c.connected = false
	c.attempt = 0
	c.delay = c.policy.Initial
	c.transitionLocked(StateConnecting, newConnectionEvent(StateConnecting))
	c.mu.Unlock()

	c.logger.Infoln("connecting")
	t.Open(tctx)
	c.drain()
}

// Disconnect tears the transport down, whatever the current state. Listeners
// stay registered. Calling it without a transport is a no-op.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	t, cancel := c.transport, c.cancel
	c.transport = nil
	c.cancel = nil
	c.gen++
	c.connected = false
	c.attempt = 0
	c.delay = c.policy.Initial
	if c.state != StateDisconnected {
		c.transitionLocked(StateDisconnected, newConnectionEvent(StateDisconnected))
	}
	c.mu.Unlock()

	if t != nil {
		c.logger.Infoln("disconnecting")
		t.Close()
		cancel()
	}
	c.drain()
}

// Subscribe registers l and returns the function that removes it again.
func (c *Channel) Subscribe(l Listener) UnsubscribeFunc {
	if l == nil {
		return func() {}
	}

	id := c.listeners.add(l)

	var once sync.Once
	return func() {
		once.Do(func() {
			c.listeners.remove(id)
		})
	}
}

// SubscribeFunc is Subscribe for plain functions.
func (c *Channel) SubscribeFunc(fn func(Event)) UnsubscribeFunc {
	if fn == nil {
		return func() {}
	}
	return c.Subscribe(ListenerFunc(fn))
}

func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *Channel) State() ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ReconnectDelay is the delay the backoff policy assigned to the latest
// reconnection attempt, or the initial delay when connected.
func (c *Channel) ReconnectDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

func (c *Channel) transitionLocked(s ConnectionState, ev ConnectionEvent) {
	c.state = s
	c.metrics.setState(s)
	c.enqueue(ev)
}

func (c *Channel) enqueue(ev Event) {
	c.queueMu.Lock()
	c.queue = append(c.queue, ev)
	c.queueMu.Unlock()
}

// drain delivers pending events. Only one goroutine delivers at a time; a caller
// that finds delivery in progress leaves its events to the active dispatcher,
// which keeps the sequence ordered and lets listeners call back into the channel.
func (c *Channel) drain() {
	c.queueMu.Lock()
	if c.dispatching {
		c.queueMu.Unlock()
		return
	}
	c.dispatching = true

	for len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.queueMu.Unlock()

		c.fanOut(ev)

		c.queueMu.Lock()
	}

	c.queue = nil
	c.dispatching = false
	c.queueMu.Unlock()
}

func (c *Channel) fanOut(ev Event) {
	c.metrics.incEvent(ev.Kind())

	for _, l := range c.listeners.snapshot() {
		c.deliver(l, ev)
	}
}

func (c *Channel) deliver(l Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.incListenerFault()
			c.logger.Errorf("listener fault while handling %s: %v", ev.Kind(), r)
		}
	}()

	l.HandleEvent(ev)
}

// signal applies fn to the channel state if the transport identified by gen is
// still the current one, then delivers whatever fn enqueued.
func (c *Channel) signal(gen uint64, name string, fn func() bool) {
	c.mu.Lock()
	if gen != c.gen || c.transport == nil {
		c.mu.Unlock()
		c.metrics.incDropped()
		c.logger.Debugf("dropping %s signal from stale transport", name)
		return
	}

	if !fn() {
		c.mu.Unlock()
		c.metrics.incDropped()
		c.logger.Debugf("dropping %s signal in state %s", name, c.State())
		return
	}
	c.mu.Unlock()

	c.drain()
}

func (c *Channel) onConnect(gen uint64) {
	c.signal(gen, "connect", func() bool {
		c.connected = true
		c.attempt = 0
		c.delay = c.policy.Initial
		c.transitionLocked(StateConnected, newConnectionEvent(StateConnected))
		return true
	})
}

func (c *Channel) onDisconnect(gen uint64, reason error) {
	if reason != nil {
		c.logger.Infof("transport disconnected: %s", reason)
	}
	c.signal(gen, "disconnect", func() bool {
		c.connected = false
		c.transitionLocked(StateDisconnected, newConnectionEvent(StateDisconnected))
		return true
	})
}

func (c *Channel) onReconnectAttempt(gen uint64, attempt int) {
	c.signal(gen, "reconnect_attempt", func() bool {
		c.connected = false
		c.attempt = attempt
		c.delay = c.policy.Delay(attempt)
		c.metrics.incReconnectAttempt()
		c.transitionLocked(StateReconnecting, newReconnectingEvent(attempt))
		return true
	})
}

func (c *Channel) onReconnectFailed(gen uint64, err error) {
	var exhausted Transport

	c.signal(gen, "reconnect_failed", func() bool {
		// The exhausted transport is released so that a later Connect builds a
		// fresh one.
		exhausted = c.transport
		if c.cancel != nil {
			c.cancel()
		}
		c.transport = nil
		c.cancel = nil
		c.gen++
		c.connected = false
		c.transitionLocked(StateFailed, newFailedEvent(err))
		return true
	})

	if exhausted != nil {
		c.logger.Warnf("giving up reconnecting after %d attempts", c.policy.MaxAttempts)
		exhausted.Close()
	}
}

func (c *Channel) onNotification(gen uint64, payload []byte) {
	c.signal(gen, "notification", func() bool {
		if c.state != StateConnected {
			return false
		}
		c.enqueue(newNotificationEvent(payload))
		return true
	})
}

func (c *Channel) onError(gen uint64, err error) {
	c.signal(gen, "error", func() bool {
		c.enqueue(newErrorEvent(err))
		return true
	})
}

// transportSink binds a transport to the generation it was created for, so that
// signals from a transport the channel has since let go of are discarded.
type transportSink struct {
	channel *Channel
	gen     uint64
}

func (s *transportSink) OnConnect() { s.channel.onConnect(s.gen) }

func (s *transportSink) OnDisconnect(reason error) { s.channel.onDisconnect(s.gen, reason) }

func (s *transportSink) OnReconnectAttempt(attempt int) {
	s.channel.onReconnectAttempt(s.gen, attempt)
}

func (s *transportSink) OnReconnectFailed(err error) { s.channel.onReconnectFailed(s.gen, err) }

func (s *transportSink) OnNotification(payload []byte) { s.channel.onNotification(s.gen, payload) }

func (s *transportSink) OnError(err error) { s.channel.onError(s.gen, err) }
