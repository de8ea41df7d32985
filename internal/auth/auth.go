package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/daochan/daochan/internal/store"
	"github.com/daochan/daochan/internal/wallet"
)

var (
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrChallengeNotFound = errors.New("challenge expired or not found")
	ErrInvalidToken      = errors.New("invalid token")
)

// Service handles authentication operations
type Service struct {
	store        store.Store
	secret       []byte
	challengeTTL time.Duration
	tokenTTL     time.Duration
	now          func() time.Time
}

// NewService creates a new auth service. An empty secret is replaced by a
// random one, invalidating tokens across restarts.
func NewService(s store.Store, secret string, challengeTTL, tokenTTL time.Duration) (*Service, error) {
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, err
		}
	}
	return &Service{
		store:        s,
		secret:       key,
		challengeTTL: challengeTTL,
		tokenTTL:     tokenTTL,
		now:          time.Now,
	}, nil
}

// NormalizeAddress lowercases a wallet address after checking its form.
func NormalizeAddress(address string) (string, error) {
	address = strings.ToLower(address)
	if _, err := wallet.PublicKeyOf(address); err != nil {
		return "", ErrInvalidAddress
	}
	return address, nil
}

// CreateChallenge issues a message for address to sign
func (s *Service) CreateChallenge(ctx context.Context, address string) (*store.Challenge, error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	expiresAt := s.now().UTC().Add(s.challengeTTL).Truncate(time.Second)
	challenge := &store.Challenge{
		Address: address,
		Message: fmt.Sprintf("Sign in to daochan as %s\n\nNonce: %s\nExpires: %s",
			address, base64.URLEncoding.EncodeToString(nonce), expiresAt.Format(time.RFC3339)),
		ExpiresAt: expiresAt,
	}

	if err := s.store.CreateChallenge(ctx, challenge); err != nil {
		return nil, err
	}

	return challenge, nil
}

// VerifyAndCreateToken checks the signature of address's latest challenge
// and issues a signed token. The challenge is consumed.
func (s *Service) VerifyAndCreateToken(ctx context.Context, address, signature string) (string, time.Time, error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return "", time.Time{}, err
	}

	challenge, err := s.store.GetChallenge(ctx, address)
	if err != nil {
		return "", time.Time{}, err
	}
	if challenge == nil {
		return "", time.Time{}, ErrChallengeNotFound
	}

	if err := wallet.Verify(address, challenge.Message, signature); err != nil {
		return "", time.Time{}, ErrInvalidSignature
	}

	// Delete the used challenge
	s.store.DeleteChallenges(ctx, address)

	if _, err := s.store.EnsureUser(ctx, address); err != nil {
		return "", time.Time{}, err
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   address,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	}).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}

	return token, expiresAt, nil
}

// ValidateToken checks a token's signature and expiry and returns the
// address it was issued to.
func (s *Service) ValidateToken(tokenStr string) (string, error) {
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if claims.ExpiresAt == nil || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
