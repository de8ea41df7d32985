// Package session caches the signed credentials that authenticate a wallet
// address with the backend.
//
// Credentials are obtained through a challenge/response flow: the backend
// issues a message, the wallet signs it, and the backend answers with a
// signed token. Tokens are persisted per address and reused until the
// expiry carried in their claims.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/rs/zerolog"

	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/kv"
	"github.com/daochan/daochan/internal/metrics"
)

// Namespace is the kv namespace credentials are stored under, keyed by
// address.
const Namespace = "credentials"

var ErrNoExpiry = errors.New("token carries no expiry")

// Signer is a connected wallet: it knows its address and can sign
// arbitrary messages.
type Signer interface {
	Address(ctx context.Context) (string, error)
	SignMessage(ctx context.Context, message string) (string, error)
}

// AuthBackend is the backend's sign-in surface.
type AuthBackend interface {
	Challenge(ctx context.Context, address string) (forum.Challenge, error)
	SignIn(ctx context.Context, address, signature string) (string, error)
}

type Credential struct {
	Address   string
	Token     string
	ExpiresAt time.Time
}

// Valid reports whether the credential can still be used at now.
func (c Credential) Valid(now time.Time) bool {
	return c.Token != "" && c.ExpiresAt.After(now)
}

// Manager owns the credentials of every address seen by this process. It is
// safe for concurrent use. Concurrent acquisitions for one address are not
// merged; the last one persisted wins.
type Manager struct {
	store   kv.Store
	backend AuthBackend
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	mu          sync.Mutex
	creds       map[string]Credential
	timers      map[string]*time.Timer
	closed      bool
	unsubscribe func()
}

type Option func(*Manager)

func WithLogger(log zerolog.Logger) Option {
	return func(m *Manager) {
		m.log = log.With().Str("component", "session").Logger()
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager returns a manager persisting into store. It watches store for
// credential changes made elsewhere until Close is called.
func NewManager(store kv.Store, backend AuthBackend, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		backend: backend,
		log:     zerolog.Nop(),
		now:     time.Now,
		creds:   make(map[string]Credential),
		timers:  make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.unsubscribe = store.Subscribe(m.onChange)
	return m
}

// Acquire returns a valid credential for the signer's address. A cached,
// unexpired credential is returned without contacting the backend or the
// wallet unless forceRefresh is set. Failures are not retried.
func (m *Manager) Acquire(ctx context.Context, signer Signer, forceRefresh bool) (Credential, error) {
	if signer == nil {
		return Credential{}, forum.ErrNoWallet
	}
	address, err := signer.Address(ctx)
	if err != nil {
		return Credential{}, fmt.Errorf("%w: %v", forum.ErrNoWallet, err)
	}
	if address == "" {
		return Credential{}, forum.ErrNoWallet
	}

	if !forceRefresh {
		cred, ok, err := m.Credential(ctx, address)
		if err != nil {
			return Credential{}, err
		}
		if ok {
			m.metrics.CredentialAcquired(metrics.ResultCached)
			return cred, nil
		}
	}

	cred, err := m.signIn(ctx, signer, address)
	if err != nil {
		m.metrics.CredentialAcquired(metrics.ResultFailed)
		m.log.Error().Err(err).Str("address", address).Msg("sign in failed")
		return Credential{}, err
	}
	m.metrics.CredentialAcquired(metrics.ResultSigned)
	return cred, nil
}

func (m *Manager) signIn(ctx context.Context, signer Signer, address string) (Credential, error) {
	challenge, err := m.backend.Challenge(ctx, address)
	if err != nil {
		return Credential{}, authError("challenge", err)
	}

	m.log.Info().Str("address", address).Msg("requesting message signature from wallet")
	signature, err := signer.SignMessage(ctx, challenge.Message)
	if err != nil {
		return Credential{}, &forum.SigningRejectedError{Address: address, Err: err}
	}

	token, err := m.backend.SignIn(ctx, address, signature)
	if err != nil {
		return Credential{}, authError("verify", err)
	}

	expiresAt, err := ExpiryOf(token)
	if err != nil {
		return Credential{}, err
	}
	cred := Credential{Address: address, Token: token, ExpiresAt: expiresAt}
	if !cred.Valid(m.now()) {
		return Credential{}, fmt.Errorf("backend issued an expired token for %s", address)
	}

	if err := m.store.Set(ctx, Namespace, address, token); err != nil {
		return Credential{}, fmt.Errorf("persist credential: %w", err)
	}
	m.remember(cred)
	return cred, nil
}

// authError turns a non-2xx answer into an AuthServerError.
func authError(op string, err error) error {
	var se interface{ HTTPStatus() int }
	if errors.As(err, &se) {
		return &forum.AuthServerError{Op: op, Status: se.HTTPStatus()}
	}
	return fmt.Errorf("auth %s: %w", op, err)
}

// Credential returns the cached credential for address. Expired entries are
// treated as absent and removed.
func (m *Manager) Credential(ctx context.Context, address string) (Credential, bool, error) {
	m.mu.Lock()
	cred, ok := m.creds[address]
	m.mu.Unlock()
	if ok && cred.Valid(m.now()) {
		return cred, true, nil
	}

	token, ok, err := m.store.Get(ctx, Namespace, address)
	if err != nil {
		return Credential{}, false, err
	}
	if !ok {
		return Credential{}, false, nil
	}

	expiresAt, err := ExpiryOf(token)
	cred = Credential{Address: address, Token: token, ExpiresAt: expiresAt}
	if err != nil || !cred.Valid(m.now()) {
		if err != nil {
			m.log.Warn().Err(err).Str("address", address).Msg("discarding unreadable credential")
		}
		m.clear(ctx, address, token)
		return Credential{}, false, nil
	}

	m.remember(cred)
	return cred, true, nil
}

// Logout invalidates the credential of address.
func (m *Manager) Logout(ctx context.Context, address string) error {
	m.forget(address, "")
	return m.store.Delete(ctx, Namespace, address)
}

// Close stops expiry timers and the storage watch.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	for address, t := range m.timers {
		t.Stop()
		delete(m.timers, address)
	}
	m.mu.Unlock()
	m.unsubscribe()
}

// remember caches cred and schedules its expiry.
func (m *Manager) remember(cred Credential) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if cur, ok := m.creds[cred.Address]; ok && cur.Token == cred.Token {
		return
	}
	if t, ok := m.timers[cred.Address]; ok {
		t.Stop()
	}

	m.creds[cred.Address] = cred
	address, token := cred.Address, cred.Token
	m.timers[address] = time.AfterFunc(cred.ExpiresAt.Sub(m.now()), func() {
		m.expire(address, token)
	})
}

// forget drops the in-memory credential of address. A non-empty token
// limits this to that token.
func (m *Manager) forget(address, token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.creds[address]
	if !ok || (token != "" && cur.Token != token) {
		return false
	}
	delete(m.creds, address)
	if t, ok := m.timers[address]; ok {
		t.Stop()
		delete(m.timers, address)
	}
	return true
}

func (m *Manager) expire(address, token string) {
	if !m.forget(address, token) {
		return
	}
	m.metrics.CredentialExpired()
	m.log.Info().Str("address", address).Msg("credential expired")
	m.clear(context.Background(), address, token)
}

// clear removes the stored credential of address if it still holds token.
func (m *Manager) clear(ctx context.Context, address, token string) {
	stored, ok, err := m.store.Get(ctx, Namespace, address)
	if err != nil {
		m.log.Warn().Err(err).Str("address", address).Msg("failed to read credential")
		return
	}
	if !ok || stored != token {
		return
	}
	if err := m.store.Delete(ctx, Namespace, address); err != nil {
		m.log.Warn().Err(err).Str("address", address).Msg("failed to clear credential")
	}
}

// onChange re-derives in-memory state from credential writes made by any
// store instance, including other processes.
func (m *Manager) onChange(c kv.Change) {
	if c.Namespace != Namespace {
		return
	}
	if c.Deleted {
		m.forget(c.Key, "")
		return
	}

	expiresAt, err := ExpiryOf(c.Value)
	cred := Credential{Address: c.Key, Token: c.Value, ExpiresAt: expiresAt}
	if err != nil || !cred.Valid(m.now()) {
		m.forget(c.Key, "")
		return
	}
	m.remember(cred)
}

// ExpiryOf reads the exp claim of a token. The signature is not verified;
// the backend does that on every request.
func ExpiryOf(token string) (time.Time, error) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// Source binds a manager to a connected wallet so the backend client can
// obtain credentials on demand.
type Source struct {
	Manager *Manager
	Signer  Signer
}

func (s Source) Credential(ctx context.Context) (string, string, error) {
	cred, err := s.Manager.Acquire(ctx, s.Signer, false)
	if err != nil {
		return "", "", err
	}
	return cred.Address, cred.Token, nil
}
