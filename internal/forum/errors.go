package forum

import (
	"errors"
	"fmt"
)

var (
	// ErrNoWallet is returned when an operation needs a signing capability
	// and none is connected.
	ErrNoWallet = errors.New("no wallet connected")

	// ErrNotHydrated is returned for a user whose ENS data the backend has
	// not finished enriching yet. Callers treat it as transient.
	ErrNotHydrated = errors.New("user not hydrated yet")
)

// SigningRejectedError wraps a failure of the signing capability, usually
// the user declining the request in their wallet.
type SigningRejectedError struct {
	Address string
	Err     error
}

func (e *SigningRejectedError) Error() string {
	return fmt.Sprintf("signing rejected for %s: %v", e.Address, e.Err)
}

func (e *SigningRejectedError) Unwrap() error {
	return e.Err
}

// AuthServerError reports a non-2xx answer from a challenge or verification
// call.
type AuthServerError struct {
	Op     string
	Status int
}

func (e *AuthServerError) Error() string {
	return fmt.Sprintf("auth %s failed with status %d", e.Op, e.Status)
}

// VoteRequestError reports a failed vote cast.
type VoteRequestError struct {
	Target   Target
	VoteType VoteType
	Err      error
}

func (e *VoteRequestError) Error() string {
	return fmt.Sprintf("vote %s on %s: %v", e.VoteType, e.Target, e.Err)
}

func (e *VoteRequestError) Unwrap() error {
	return e.Err
}
