package notifyws

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fasthttp"
)

// Notification is a stored notification as returned by the REST API.
type Notification struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

type httpDoer interface {
	DoDeadline(req *fasthttp.Request, resp *fasthttp.Response, deadline time.Time) error
}

// NotificationsAPI talks to the REST endpoints used to reconcile state the live
// channel may have missed while it was disconnected.
type NotificationsAPI struct {
	logger  logger
	baseURL string
	tokens  TokenGetter
	client  httpDoer
	timeout time.Duration
}

func NewNotificationsAPI(
	logger logger,
	baseURL string,
	tokens TokenGetter,
	client *fasthttp.Client,
) (*NotificationsAPI, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Wrapf(ErrInvalidConfig, "api base url %q", baseURL)
	}
	if client == nil {
		client = &fasthttp.Client{Name: "notifyws"}
	}
	return &NotificationsAPI{
		logger:  logger.WithField("type", "notifications_api"),
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		client:  client,
		timeout: 10 * time.Second,
	}, nil
}

// List returns every notification of the current user (GET /notifications).
func (a *NotificationsAPI) List(ctx context.Context) ([]Notification, error) {
	var res []Notification

	body, err := a.do(ctx, fasthttp.MethodGet, "/notifications")
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errors.Wrap(err, "cannot decode notifications")
	}
	return res, nil
}

// Unread is List filtered down to unread notifications.
func (a *NotificationsAPI) Unread(ctx context.Context) ([]Notification, error) {
	all, err := a.List(ctx)
	if err != nil {
		return nil, err
	}

	res := all[:0]
	for _, n := range all {
		if !n.Read {
			res = append(res, n)
		}
	}
	return res, nil
}

// MarkRead flags one notification as read (PUT /notifications/{id}/read).
func (a *NotificationsAPI) MarkRead(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("notification id is required")
	}
	_, err := a.do(ctx, fasthttp.MethodPut, "/notifications/"+url.PathEscape(id)+"/read")
	return err
}

func (a *NotificationsAPI) do(ctx context.Context, method, path string) ([]byte, error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(method)
	req.SetRequestURI(a.baseURL + path)
	req.Header.Set("Accept", "application/json")

	if a.tokens != nil {
		token, err := a.tokens(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "cannot obtain token")
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	deadline := time.Now().Add(a.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := a.client.DoDeadline(req, resp, deadline); err != nil {
		a.logger.Errorf("%s %s failed: %s", method, path, err)
		return nil, errors.Wrapf(err, "%s %s", method, path)
	}

	status := resp.StatusCode()
	body := append([]byte(nil), resp.Body()...)

	if status < 200 || status >= 300 {
		apiErr := &APIError{StatusCode: status, Body: string(body)}
		switch status {
		case fasthttp.StatusUnauthorized, fasthttp.StatusForbidden:
			apiErr.err = ErrUnauthorized
		case fasthttp.StatusTooManyRequests:
			apiErr.err = ErrRateLimit
		}
		a.logger.Warnf("%s %s: status %d", method, path, status)
		return nil, apiErr
	}

	return body, nil
}
