// Package connect gates user actions behind an authenticated wallet. When an
// action is attempted without one, a connect request is posted to whoever
// owns the wallet connection flow.
package connect

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
)

var ErrNotAuthenticated = errors.New("not authenticated")

// Request asks the connection owner to connect and sign in a wallet.
type Request struct {
	Reason string
}

// AuthFunc reports whether the current user may act.
type AuthFunc func(ctx context.Context) (bool, error)

type Gate struct {
	requests chan<- Request
	authed   AuthFunc
	log      zerolog.Logger
}

// NewGate returns a gate posting connect requests to requests. Requests are
// dropped when nobody is ready to receive them.
func NewGate(requests chan<- Request, authed AuthFunc, log zerolog.Logger) *Gate {
	return &Gate{
		requests: requests,
		authed:   authed,
		log:      log.With().Str("component", "connect").Logger(),
	}
}

// SafeInvoke runs fn when the user is authenticated. Otherwise it posts a
// connect request and returns ErrNotAuthenticated.
func (g *Gate) SafeInvoke(ctx context.Context, reason string, fn func(ctx context.Context) error) error {
	ok, err := g.authed(ctx)
	if err != nil {
		return err
	}
	if ok {
		return fn(ctx)
	}

	select {
	case g.requests <- Request{Reason: reason}:
	default:
		g.log.Debug().Str("reason", reason).Msg("connect request dropped")
	}
	return ErrNotAuthenticated
}
