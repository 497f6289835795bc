package notifyws

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

type notificationLister interface {
	Unread(ctx context.Context) ([]Notification, error)
}

// CatchUp is a Listener that, each time the channel (re)connects, fetches the
// unread notifications over REST so that whatever was pushed while the socket
// was down is not lost to the application. Fetches are rate limited so that a
// flapping connection does not hammer the API; a skipped fetch is logged.
type CatchUp struct {
	logger  logger
	api     notificationLister
	limiter *rate.Limiter
	timeout time.Duration
	handle  func([]Notification)
}

// NewCatchUp allows one fetch per interval (and a burst of one). A zero interval
// disables limiting.
func NewCatchUp(
	logger logger,
	api notificationLister,
	interval time.Duration,
	handle func([]Notification),
) *CatchUp {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &CatchUp{
		logger:  logger.WithField("type", "catch_up"),
		api:     api,
		limiter: rate.NewLimiter(limit, 1),
		timeout: 10 * time.Second,
		handle:  handle,
	}
}

func (c *CatchUp) HandleEvent(e Event) {
	ce, ok := e.(ConnectionEvent)
	if !ok || ce.Status != StateConnected {
		return
	}

	if !c.limiter.Allow() {
		c.logger.Infoln("skipping catch-up, fetched recently")
		return
	}

	// Fetching runs off the delivery path: listeners are called synchronously and
	// a slow API must not hold back other events.
	go c.fetch()
}

func (c *CatchUp) fetch() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	items, err := c.api.Unread(ctx)
	if err != nil {
		c.logger.Errorf("catch-up failed: %s", err)
		return
	}

	c.logger.Debugf("catch-up fetched %d unread notifications", len(items))
	if c.handle != nil && len(items) > 0 {
		c.handle(items)
	}
}
