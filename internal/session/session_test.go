package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/kv"
)

func makeToken(t *testing.T, address string, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   address,
		ExpiresAt: jwt.NewNumericDate(exp),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return token
}

type statusErr int

func (e statusErr) Error() string   { return fmt.Sprintf("status %d", int(e)) }
func (e statusErr) HTTPStatus() int { return int(e) }

type fakeBackend struct {
	t   *testing.T
	exp time.Duration

	mu           sync.Mutex
	challenges   int
	signins      int
	challengeErr error
	signinErr    error
	lastSig      string
}

func (b *fakeBackend) Challenge(ctx context.Context, address string) (forum.Challenge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.challenges++
	if b.challengeErr != nil {
		return forum.Challenge{}, b.challengeErr
	}
	return forum.Challenge{Message: "sign in as " + address, Expires: time.Now().Add(time.Minute).Unix()}, nil
}

func (b *fakeBackend) SignIn(ctx context.Context, address, signature string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signins++
	b.lastSig = signature
	if b.signinErr != nil {
		return "", b.signinErr
	}
	return makeToken(b.t, address, time.Now().Add(b.exp)), nil
}

func (b *fakeBackend) calls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.challenges + b.signins
}

type fakeSigner struct {
	address string
	err     error

	mu    sync.Mutex
	signs int
}

func (s *fakeSigner) Address(ctx context.Context) (string, error) {
	return s.address, nil
}

func (s *fakeSigner) SignMessage(ctx context.Context, message string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signs++
	if s.err != nil {
		return "", s.err
	}
	return "sig(" + message + ")", nil
}

func setup(t *testing.T, opts ...Option) (*Manager, *kv.MemoryStore, *fakeBackend) {
	t.Helper()
	store := kv.NewMemoryStore()
	backend := &fakeBackend{t: t, exp: time.Hour}
	m := NewManager(store, backend, opts...)
	t.Cleanup(m.Close)
	return m, store, backend
}

func TestAcquireUsesCachedCredential(t *testing.T) {
	ctx := context.Background()
	m, store, backend := setup(t)

	token := makeToken(t, "0xabc", time.Now().Add(time.Hour))
	require.NoError(t, store.Set(ctx, Namespace, "0xabc", token))

	signer := &fakeSigner{address: "0xabc"}
	cred, err := m.Acquire(ctx, signer, false)
	require.NoError(t, err)
	require.Equal(t, token, cred.Token)
	require.Equal(t, "0xabc", cred.Address)
	require.WithinDuration(t, time.Now().Add(time.Hour), cred.ExpiresAt, 2*time.Second)

	require.Zero(t, backend.calls())
	require.Zero(t, signer.signs)
}

func TestAcquireReplacesExpiredCredential(t *testing.T) {
	ctx := context.Background()
	m, store, backend := setup(t)

	stale := makeToken(t, "0xabc", time.Now().Add(-time.Minute))
	require.NoError(t, store.Set(ctx, Namespace, "0xabc", stale))

	signer := &fakeSigner{address: "0xabc"}
	cred, err := m.Acquire(ctx, signer, false)
	require.NoError(t, err)
	require.NotEqual(t, stale, cred.Token)
	require.Equal(t, 1, backend.challenges)
	require.Equal(t, 1, backend.signins)
	require.Equal(t, "sig(sign in as 0xabc)", backend.lastSig)

	stored, ok, err := store.Get(ctx, Namespace, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, cred.Token, stored)

	// the fresh credential is now served from cache
	again, err := m.Acquire(ctx, signer, false)
	require.NoError(t, err)
	require.Equal(t, cred.Token, again.Token)
	require.Equal(t, 2, backend.calls())
}

func TestAcquireForceRefresh(t *testing.T) {
	ctx := context.Background()
	m, store, backend := setup(t)

	require.NoError(t, store.Set(ctx, Namespace, "0xabc", makeToken(t, "0xabc", time.Now().Add(time.Hour))))
	_, err := m.Acquire(ctx, &fakeSigner{address: "0xabc"}, true)
	require.NoError(t, err)
	require.Equal(t, 2, backend.calls())
}

func TestAcquireErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("no wallet", func(t *testing.T) {
		m, _, _ := setup(t)
		_, err := m.Acquire(ctx, nil, false)
		require.ErrorIs(t, err, forum.ErrNoWallet)
	})

	t.Run("challenge failure", func(t *testing.T) {
		m, store, backend := setup(t)
		backend.challengeErr = statusErr(503)

		_, err := m.Acquire(ctx, &fakeSigner{address: "0xabc"}, false)
		var authErr *forum.AuthServerError
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, 503, authErr.Status)
		require.Equal(t, "challenge", authErr.Op)
		require.Equal(t, 1, backend.calls(), "failures are not retried")

		_, ok, _ := store.Get(ctx, Namespace, "0xabc")
		require.False(t, ok)
	})

	t.Run("verify failure", func(t *testing.T) {
		m, _, backend := setup(t)
		backend.signinErr = statusErr(401)

		_, err := m.Acquire(ctx, &fakeSigner{address: "0xabc"}, false)
		var authErr *forum.AuthServerError
		require.ErrorAs(t, err, &authErr)
		require.Equal(t, 401, authErr.Status)
		require.Equal(t, "verify", authErr.Op)
	})

	t.Run("transport failure", func(t *testing.T) {
		m, _, backend := setup(t)
		backend.challengeErr = errors.New("connection refused")

		_, err := m.Acquire(ctx, &fakeSigner{address: "0xabc"}, false)
		require.ErrorContains(t, err, "connection refused")
		var authErr *forum.AuthServerError
		require.False(t, errors.As(err, &authErr))
	})

	t.Run("signing rejected", func(t *testing.T) {
		m, _, backend := setup(t)
		declined := errors.New("user rejected request")

		_, err := m.Acquire(ctx, &fakeSigner{address: "0xabc", err: declined}, false)
		var rejected *forum.SigningRejectedError
		require.ErrorAs(t, err, &rejected)
		require.ErrorIs(t, err, declined)
		require.Equal(t, 0, backend.signins)
	})
}

func TestExpiryTimerClearsCredential(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := context.Background()
	store := kv.NewMemoryStore()
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	m := NewManager(store, &fakeBackend{t: t}, WithClock(func() time.Time {
		return exp.Add(-50 * time.Millisecond)
	}))
	defer m.Close()

	token := makeToken(t, "0xabc", exp)
	require.NoError(t, store.Set(ctx, Namespace, "0xabc", token))

	_, ok, err := m.Credential(ctx, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		_, ok, _ := store.Get(ctx, Namespace, "0xabc")
		return !ok
	}, 2*time.Second, 10*time.Millisecond)

	m.mu.Lock()
	require.Empty(t, m.creds)
	require.Empty(t, m.timers)
	m.mu.Unlock()

	// clearing is idempotent
	m.expire("0xabc", token)
}

func TestStaleTimerKeepsNewerToken(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setup(t)

	oldToken := makeToken(t, "0xabc", time.Now().Add(time.Hour))
	newToken := makeToken(t, "0xabc", time.Now().Add(2*time.Hour))
	require.NoError(t, store.Set(ctx, Namespace, "0xabc", oldToken))
	require.NoError(t, store.Set(ctx, Namespace, "0xabc", newToken))

	m.expire("0xabc", oldToken)

	cred, ok, err := m.Credential(ctx, "0xabc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, newToken, cred.Token)
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	m, store, backend := setup(t)
	signer := &fakeSigner{address: "0xabc"}

	_, err := m.Acquire(ctx, signer, false)
	require.NoError(t, err)
	require.NoError(t, m.Logout(ctx, "0xabc"))

	_, ok, _ := store.Get(ctx, Namespace, "0xabc")
	require.False(t, ok)
	_, ok, _ = m.Credential(ctx, "0xabc")
	require.False(t, ok)

	_, err = m.Acquire(ctx, signer, false)
	require.NoError(t, err)
	require.Equal(t, 4, backend.calls())
}

func TestWatchesOtherInstances(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	first := NewManager(store, &fakeBackend{t: t, exp: time.Hour})
	defer first.Close()
	second := NewManager(store, &fakeBackend{t: t, exp: time.Hour})
	defer second.Close()

	cred, err := second.Acquire(ctx, &fakeSigner{address: "0xabc"}, false)
	require.NoError(t, err)

	first.mu.Lock()
	seen := first.creds["0xabc"]
	first.mu.Unlock()
	require.Equal(t, cred.Token, seen.Token)

	require.NoError(t, second.Logout(ctx, "0xabc"))
	first.mu.Lock()
	_, ok := first.creds["0xabc"]
	first.mu.Unlock()
	require.False(t, ok)
}

func TestUnreadableCredentialIsDiscarded(t *testing.T) {
	ctx := context.Background()
	m, store, _ := setup(t)
	require.NoError(t, store.Set(ctx, Namespace, "0xabc", "not-a-jwt"))

	_, ok, err := m.Credential(ctx, "0xabc")
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, _ = store.Get(ctx, Namespace, "0xabc")
	require.False(t, ok)
}

func TestExpiryOf(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	got, err := ExpiryOf(makeToken(t, "0xabc", exp))
	require.NoError(t, err)
	require.True(t, exp.Equal(got))

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "0xabc"}).SignedString([]byte("k"))
	require.NoError(t, err)
	_, err = ExpiryOf(noExp)
	require.ErrorIs(t, err, ErrNoExpiry)
}

func TestSource(t *testing.T) {
	ctx := context.Background()
	m, _, _ := setup(t)

	address, token, err := Source{Manager: m, Signer: &fakeSigner{address: "0xabc"}}.Credential(ctx)
	require.NoError(t, err)
	require.Equal(t, "0xabc", address)
	require.NotEmpty(t, token)

	_, _, err = Source{Manager: m}.Credential(ctx)
	require.ErrorIs(t, err, forum.ErrNoWallet)
}
