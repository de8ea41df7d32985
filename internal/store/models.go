package store

import "time"

// Entity kinds
const (
	KindThread  = "thread"
	KindComment = "comment"
)

type Thread struct {
	ID            string
	Author        string
	Title         string
	Content       string
	ImageFileName string
	Votes         int64
	CommentCount  int
	Deleted       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Comment struct {
	ID            string
	ThreadID      string
	Author        string
	Content       string
	ImageFileName string
	RepliedToID   string
	Votes         int64
	Deleted       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Vote is one address's vote on an entity. Value is +1, -1, or 0 for a
// withdrawn vote.
type Vote struct {
	Address    string
	EntityKind string
	EntityID   string
	Value      int
	UpdatedAt  time.Time
}

// User is created on first sign-in. HydratedAt stays nil until the profile
// has been enriched.
type User struct {
	Address    string
	ENSName    string
	Reputation int64
	CreatedAt  time.Time
	HydratedAt *time.Time
}

type Image struct {
	FileName    string
	Owner       string
	ContentType string
	Size        int64
	CreatedAt   time.Time
}

type Challenge struct {
	ID        string
	Address   string
	Message   string
	ExpiresAt time.Time
}

// Page selects a window of a listing.
type Page struct {
	Offset int
	Limit  int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}
	return p
}
