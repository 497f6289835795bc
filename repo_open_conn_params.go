package notifyws

import (
	"context"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

type (
	OpenConnectionParamsGetter func(ctx context.Context) (OpenConnectionParams, error)

	// TokenGetter returns the bearer token to present on each dial. An empty token
	// means no Authorization header.
	TokenGetter func(ctx context.Context) (string, error)

	OpenConnectionParamsRepo struct {
		logger logger
		getter OpenConnectionParamsGetter
	}
)

func (r OpenConnectionParamsRepo) Get(
	ctx context.Context,
) (params OpenConnectionParams, err error) {
	params, err = r.getter(ctx)
	if err != nil {
		r.logger.Errorf("cannot fetch open connection params: %s", err)
	}
	return
}

func NewOpenConnectionParamsRepo(
	logger logger,
	getter OpenConnectionParamsGetter,
) OpenConnectionParamsRepo {
	return OpenConnectionParamsRepo{getter: getter, logger: logger}
}

// NewEndpointParamsGetter resolves rawURL once and asks tokens for a fresh token on
// every dial, so that a token refreshed by the identity provider is picked up on
// reconnect.
func NewEndpointParamsGetter(rawURL string, tokens TokenGetter) (OpenConnectionParamsGetter, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidConfig, "endpoint %q: %s", rawURL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, errors.Wrapf(ErrInvalidConfig, "endpoint %q: scheme must be ws or wss", rawURL)
	}

	return func(ctx context.Context) (OpenConnectionParams, error) {
		header := http.Header{}
		if tokens != nil {
			token, err := tokens(ctx)
			if err != nil {
				return OpenConnectionParams{}, errors.Wrap(err, "cannot obtain token")
			}
			if token != "" {
				header.Set("Authorization", "Bearer "+token)
			}
		}
		return OpenConnectionParams{URL: *u, Header: header}, nil
	}, nil
}

// StaticToken always returns token.
func StaticToken(token string) TokenGetter {
	return func(context.Context) (string, error) {
		return token, nil
	}
}
