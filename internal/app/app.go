// Package app builds the client object graph from configuration and loads
// backend queries through the shared query cache.
package app

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/daochan/daochan/internal/client"
	"github.com/daochan/daochan/internal/config"
	"github.com/daochan/daochan/internal/connect"
	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/kv"
	"github.com/daochan/daochan/internal/ledger"
	"github.com/daochan/daochan/internal/metrics"
	"github.com/daochan/daochan/internal/querycache"
	"github.com/daochan/daochan/internal/session"
)

// App owns every long-lived client component. Close releases them.
type App struct {
	cfg      *config.Config
	log      zerolog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store    kv.Store
	ledger   *ledger.Ledger
	client   *client.Client
	sessions *session.Manager
	profiles *session.Profiles
	cache    *querycache.Cache
	gate     *connect.Gate
	requests chan connect.Request

	mu     sync.Mutex
	signer session.Signer
}

// Option customizes New.
type Option func(*options)

type options struct {
	store kv.Store
}

// WithStore uses store instead of opening the configured one. The app
// takes ownership and closes it.
func WithStore(store kv.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

func New(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		var err error
		if store, err = openStore(ctx, cfg, log); err != nil {
			return nil, err
		}
	}

	cache, err := querycache.New(cfg.QueryCacheSize)
	if err != nil {
		store.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		store.Close()
		return nil, err
	}

	c := client.New(cfg.APIBaseURL,
		client.WithRateLimit(rate.Limit(cfg.RequestRate), cfg.RequestBurst),
		client.WithLogger(log),
	)

	a := &App{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  m,
		store:    store,
		ledger:   ledger.New(store),
		client:   c,
		sessions: session.NewManager(store, c, session.WithLogger(log), session.WithMetrics(m)),
		profiles: session.NewProfiles(c, uint(max(cfg.ProfileRetries, 0)), cfg.ProfileRetryInterval),
		cache:    cache,
		requests: make(chan connect.Request, 1),
	}
	a.gate = connect.NewGate(a.requests, a.authenticated, log)
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (kv.Store, error) {
	if cfg.StorageURL != "" {
		return kv.NewRedisStore(ctx, cfg.StorageURL, log)
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StoragePath), 0o700); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	store, err := kv.NewSQLiteStore(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	return store, nil
}

func (a *App) Close() error {
	a.sessions.Close()
	return a.store.Close()
}

func (a *App) Client() *client.Client { return a.client }

func (a *App) Cache() *querycache.Cache { return a.cache }

// Registry holds the client's metrics.
func (a *App) Registry() *prometheus.Registry { return a.registry }

// ConnectRequests receives a request whenever a gated action is attempted
// without an authenticated wallet.
func (a *App) ConnectRequests() <-chan connect.Request { return a.requests }

// Connect makes signer the wallet used for authenticated calls.
func (a *App) Connect(signer session.Signer) {
	a.mu.Lock()
	a.signer = signer
	a.mu.Unlock()
	a.client.SetCredentials(session.Source{Manager: a.sessions, Signer: signer})
}

func (a *App) wallet() session.Signer {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signer
}

func (a *App) address(ctx context.Context) (string, error) {
	signer := a.wallet()
	if signer == nil {
		return "", forum.ErrNoWallet
	}
	address, err := signer.Address(ctx)
	if err != nil || address == "" {
		return "", forum.ErrNoWallet
	}
	return address, nil
}

// Status reports the connected wallet's authentication state.
func (a *App) Status(ctx context.Context) (session.Status, error) {
	return a.sessions.Status(ctx, a.wallet(), a.profiles)
}

func (a *App) authenticated(ctx context.Context) (bool, error) {
	st, err := a.Status(ctx)
	if err != nil {
		return false, err
	}
	return st.Authenticated, nil
}

// SignIn signs a fresh challenge with the connected wallet. A non-empty
// ensName is then set on the user's profile.
func (a *App) SignIn(ctx context.Context, ensName string) (session.Status, error) {
	cred, err := a.sessions.Acquire(ctx, a.wallet(), true)
	if err != nil {
		return session.Status{}, err
	}
	if ensName != "" {
		if _, err := a.client.UpdateUser(ctx, cred.Address, ensName); err != nil {
			return session.Status{}, fmt.Errorf("set ens name: %w", err)
		}
	}
	a.profiles.Forget(cred.Address)
	return a.Status(ctx)
}

// SignOut discards the connected wallet's credential.
func (a *App) SignOut(ctx context.Context) error {
	address, err := a.address(ctx)
	if err != nil {
		return err
	}
	a.profiles.Forget(address)
	return a.sessions.Logout(ctx, address)
}
