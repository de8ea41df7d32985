package session

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/daochan/daochan/internal/forum"
)

// UserFetcher loads user profiles from the backend.
type UserFetcher interface {
	GetUser(ctx context.Context, address string) (forum.Response[forum.User], error)
}

// Profiles caches user profiles for the life of the process. A user the
// backend has not hydrated yet is retried with exponential backoff.
type Profiles struct {
	fetcher  UserFetcher
	maxTries uint
	interval time.Duration

	mu    sync.Mutex
	users map[string]forum.User
}

func NewProfiles(fetcher UserFetcher, maxTries uint, initialInterval time.Duration) *Profiles {
	if maxTries == 0 {
		maxTries = 5
	}
	if initialInterval <= 0 {
		initialInterval = 500 * time.Millisecond
	}
	return &Profiles{
		fetcher:  fetcher,
		maxTries: maxTries,
		interval: initialInterval,
		users:    make(map[string]forum.User),
	}
}

// Load returns the hydrated profile of address. It fails with
// forum.ErrNotHydrated when the user is still not hydrated after the last
// try.
func (p *Profiles) Load(ctx context.Context, address string) (forum.User, error) {
	p.mu.Lock()
	u, ok := p.users[address]
	p.mu.Unlock()
	if ok {
		return u, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.interval

	u, err := backoff.Retry(ctx, func() (forum.User, error) {
		resp, err := p.fetcher.GetUser(ctx, address)
		if err != nil {
			return forum.User{}, backoff.Permanent(err)
		}
		if !resp.Data.Hydrated() {
			return forum.User{}, forum.ErrNotHydrated
		}
		return resp.Data, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(p.maxTries))
	if err != nil {
		return forum.User{}, err
	}

	p.mu.Lock()
	p.users[address] = u
	p.mu.Unlock()
	return u, nil
}

// Forget drops a cached profile.
func (p *Profiles) Forget(address string) {
	p.mu.Lock()
	delete(p.users, address)
	p.mu.Unlock()
}

// Status is the authentication state of the connected wallet.
type Status struct {
	Address       string
	Connected     bool
	Credential    *Credential
	User          *forum.User
	Authenticated bool
}

// Status reports whether signer is connected, holds a valid credential and
// owns a hydrated profile with an ENS name. Only a connected, signed-in
// user with an ENS name is authenticated. It never prompts the wallet.
func (m *Manager) Status(ctx context.Context, signer Signer, profiles *Profiles) (Status, error) {
	var st Status
	if signer == nil {
		return st, nil
	}
	address, err := signer.Address(ctx)
	if err != nil || address == "" {
		return st, nil
	}
	st.Address = address
	st.Connected = true

	cred, ok, err := m.Credential(ctx, address)
	if err != nil {
		return st, err
	}
	if ok {
		st.Credential = &cred
	}

	if profiles != nil {
		u, err := profiles.Load(ctx, address)
		switch {
		case err == nil:
			st.User = &u
		case errors.Is(err, forum.ErrNotHydrated), isNotFound(err):
		default:
			return st, err
		}
	}

	st.Authenticated = st.Credential != nil && st.User != nil && st.User.ENSName != ""
	return st, nil
}

// isNotFound reports a 404 from the backend, which means the user has never
// signed in.
func isNotFound(err error) bool {
	var se interface{ HTTPStatus() int }
	return errors.As(err, &se) && se.HTTPStatus() == http.StatusNotFound
}
