package forum

import (
	"fmt"
	"time"
)

// VoteType is the direction of a user's vote on an entity. The empty
// VoteType means no vote is known.
type VoteType string

const (
	Upvote   VoteType = "upvote"
	Downvote VoteType = "downvote"
	Unvote   VoteType = "unvote"
)

// Value maps a vote to the amount it contributes to an entity's count.
func (t VoteType) Value() int64 {
	switch t {
	case Upvote:
		return 1
	case Downvote:
		return -1
	default:
		return 0
	}
}

func (t VoteType) Valid() bool {
	switch t {
	case Upvote, Downvote, Unvote:
		return true
	default:
		return false
	}
}

// ParseVoteType validates a wire vote type.
func ParseVoteType(s string) (VoteType, error) {
	t := VoteType(s)
	if !t.Valid() {
		return "", fmt.Errorf("invalid vote type %q", s)
	}
	return t, nil
}

// EntityKind distinguishes the two votable entities.
type EntityKind string

const (
	KindThread  EntityKind = "thread"
	KindComment EntityKind = "comment"
)

// Target addresses a single votable entity. ThreadID is the parent thread
// for comments and equals ID for threads.
type Target struct {
	Kind     EntityKind
	ID       string
	ThreadID string
}

func ThreadTarget(id string) Target {
	return Target{Kind: KindThread, ID: id, ThreadID: id}
}

func CommentTarget(threadID, id string) Target {
	return Target{Kind: KindComment, ID: id, ThreadID: threadID}
}

func (t Target) String() string {
	return string(t.Kind) + ":" + t.ID
}

type Thread struct {
	ID        string    `json:"id"`
	User      User      `json:"user"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Image     *Image    `json:"image,omitempty"`
	Comments  []Comment `json:"comments,omitempty"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Votes     Count     `json:"votes"`
}

type Comment struct {
	ID               string    `json:"id"`
	User             User      `json:"user"`
	ThreadID         string    `json:"threadId"`
	Content          string    `json:"content"`
	Image            *Image    `json:"image,omitempty"`
	RepliedToComment *Comment  `json:"repliedToComment,omitempty"`
	IsDeleted        bool      `json:"isDeleted"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
	Votes            Count     `json:"votes"`
}

type User struct {
	Address    string     `json:"address"`
	ENSName    string     `json:"ensName,omitempty"`
	ENSAvatar  *Avatar    `json:"ensAvatar,omitempty"`
	Reputation Count      `json:"reputation"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  *time.Time `json:"updatedAt,omitempty"`
}

// Hydrated reports whether the backend has finished enriching the user with
// ENS data.
func (u User) Hydrated() bool {
	return u.UpdatedAt != nil && !u.UpdatedAt.IsZero()
}

type Avatar struct {
	FileName string `json:"fileName"`
	URL      string `json:"url"`
}

type Image struct {
	FileName     string `json:"fileName"`
	OriginalURL  string `json:"originalUrl"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

type UploadedImage struct {
	FileName    string `json:"fileName"`
	URL         string `json:"url"`
	ContentType string `json:"contentType"`
}

// Page describes the next page of a paginated listing.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Count  int `json:"count"`
}

// Response is the envelope every backend endpoint returns.
type Response[T any] struct {
	Data     T     `json:"data"`
	NextPage *Page `json:"nextPage,omitempty"`
}

type Challenge struct {
	Message string `json:"message"`
	Expires int64  `json:"expires"`
}

type Token struct {
	Token string `json:"token"`
}

// VoteRecord is the locally persisted vote of one address on one entity.
type VoteRecord struct {
	Address    string     `json:"address"`
	EntityID   string     `json:"entityId"`
	EntityKind EntityKind `json:"entityKind"`
	VoteType   VoteType   `json:"voteType"`
}
