package connect

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func authed(ok bool, err error) AuthFunc {
	return func(context.Context) (bool, error) { return ok, err }
}

func TestSafeInvoke(t *testing.T) {
	ctx := context.Background()

	t.Run("authenticated runs", func(t *testing.T) {
		requests := make(chan Request, 1)
		g := NewGate(requests, authed(true, nil), zerolog.Nop())

		ran := false
		err := g.SafeInvoke(ctx, "vote", func(context.Context) error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		require.True(t, ran)
		require.Empty(t, requests)
	})

	t.Run("anonymous requests connect", func(t *testing.T) {
		requests := make(chan Request, 1)
		g := NewGate(requests, authed(false, nil), zerolog.Nop())

		err := g.SafeInvoke(ctx, "new thread", func(context.Context) error {
			t.Fatal("action must not run")
			return nil
		})
		require.ErrorIs(t, err, ErrNotAuthenticated)
		require.Equal(t, Request{Reason: "new thread"}, <-requests)
	})

	t.Run("full channel drops request", func(t *testing.T) {
		requests := make(chan Request)
		g := NewGate(requests, authed(false, nil), zerolog.Nop())
		err := g.SafeInvoke(ctx, "vote", func(context.Context) error { return nil })
		require.ErrorIs(t, err, ErrNotAuthenticated)
	})

	t.Run("status error", func(t *testing.T) {
		boom := errors.New("boom")
		g := NewGate(make(chan Request, 1), authed(false, boom), zerolog.Nop())
		err := g.SafeInvoke(ctx, "vote", func(context.Context) error { return nil })
		require.ErrorIs(t, err, boom)
	})

	t.Run("action error propagates", func(t *testing.T) {
		boom := errors.New("boom")
		g := NewGate(make(chan Request, 1), authed(true, nil), zerolog.Nop())
		err := g.SafeInvoke(ctx, "vote", func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	})
}
