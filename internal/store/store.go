package store

import (
	"context"
	"errors"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidReply = errors.New("replied-to comment is not in this thread")
	ErrInvalidKind  = errors.New("invalid entity kind")
)

// Store defines the interface for data persistence
type Store interface {
	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	ListThreads(ctx context.Context, page Page) ([]*Thread, int, error) // returns threads and total count

	// Comments
	CreateComment(ctx context.Context, comment *Comment) error
	GetComment(ctx context.Context, id string) (*Comment, error)
	ListComments(ctx context.Context, threadID string, page Page) ([]*Comment, int, error)

	// Votes
	SetVote(ctx context.Context, vote *Vote) (int64, error) // returns the entity's new vote count

	// Users
	EnsureUser(ctx context.Context, address string) (*User, error)
	GetUser(ctx context.Context, address string) (*User, error)
	SetENSName(ctx context.Context, address, name string) error
	HydratePendingUsers(ctx context.Context) (int, error)

	// Images
	CreateImage(ctx context.Context, image *Image) error
	GetImage(ctx context.Context, fileName string) (*Image, error)

	// Auth
	CreateChallenge(ctx context.Context, challenge *Challenge) error
	GetChallenge(ctx context.Context, address string) (*Challenge, error)
	DeleteChallenges(ctx context.Context, address string) error
	DeleteExpiredChallenges(ctx context.Context) error

	// Lifecycle
	Close() error
}
