package store

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "daochan-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := NewSQLiteStore(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(tmpFile.Name())
	}

	return store, cleanup
}

func mustUser(t *testing.T, s *SQLiteStore, address string) {
	t.Helper()
	if _, err := s.EnsureUser(context.Background(), address); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
}

func mustThread(t *testing.T, s *SQLiteStore, author, title string) *Thread {
	t.Helper()
	thread := &Thread{Author: author, Title: title, Content: title + " body"}
	if err := s.CreateThread(context.Background(), thread); err != nil {
		t.Fatalf("failed to create thread: %v", err)
	}
	return thread
}

func TestThreadCreate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	mustUser(t, store, "0xa")

	thread := mustThread(t, store, "0xa", "gm")
	if thread.ID == "" {
		t.Error("thread ID should be set after creation")
	}

	fetched, err := store.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("failed to get thread: %v", err)
	}
	if fetched == nil {
		t.Fatal("thread not found")
	}
	if fetched.Title != "gm" {
		t.Errorf("title mismatch: got %q, want %q", fetched.Title, "gm")
	}
	if fetched.Author != "0xa" {
		t.Errorf("author mismatch: got %q, want %q", fetched.Author, "0xa")
	}

	missing, err := store.GetThread(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("GetThread(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestThreadRequiresKnownAuthor(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	err := store.CreateThread(context.Background(), &Thread{Author: "0xghost", Title: "t", Content: "c"})
	if err == nil {
		t.Error("creating a thread for an unknown user should fail")
	}
}

func TestThreadList(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	mustUser(t, store, "0xa")

	base := time.Now().UTC().Add(-time.Hour)
	for i, title := range []string{"first", "second", "third"} {
		thread := &Thread{Author: "0xa", Title: title, Content: "c", CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := store.CreateThread(ctx, thread); err != nil {
			t.Fatalf("failed to create thread: %v", err)
		}
	}

	threads, total, err := store.ListThreads(ctx, Page{Offset: 0, Limit: 2})
	if err != nil {
		t.Fatalf("failed to list threads: %v", err)
	}
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if len(threads) != 2 {
		t.Fatalf("len(threads) = %d, want 2", len(threads))
	}
	if threads[0].Title != "third" || threads[1].Title != "second" {
		t.Errorf("order = %q, %q; want newest first", threads[0].Title, threads[1].Title)
	}

	threads, _, err = store.ListThreads(ctx, Page{Offset: 2, Limit: 2})
	if err != nil {
		t.Fatalf("failed to list threads: %v", err)
	}
	if len(threads) != 1 || threads[0].Title != "first" {
		t.Errorf("second page = %v, want [first]", threads)
	}
}

func TestCommentCreate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	mustUser(t, store, "0xa")
	thread := mustThread(t, store, "0xa", "gm")
	other := mustThread(t, store, "0xa", "gn")

	parent := &Comment{ThreadID: thread.ID, Author: "0xa", Content: "first"}
	if err := store.CreateComment(ctx, parent); err != nil {
		t.Fatalf("failed to create comment: %v", err)
	}

	reply := &Comment{ThreadID: thread.ID, Author: "0xa", Content: "reply", RepliedToID: parent.ID}
	if err := store.CreateComment(ctx, reply); err != nil {
		t.Fatalf("failed to create reply: %v", err)
	}

	tests := []struct {
		name    string
		comment *Comment
		wantErr error
	}{
		{"missing thread", &Comment{ThreadID: "nope", Author: "0xa", Content: "x"}, ErrNotFound},
		{"reply across threads", &Comment{ThreadID: other.ID, Author: "0xa", Content: "x", RepliedToID: parent.ID}, ErrInvalidReply},
		{"reply to missing comment", &Comment{ThreadID: thread.ID, Author: "0xa", Content: "x", RepliedToID: "nope"}, ErrInvalidReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.CreateComment(ctx, tt.comment); !errors.Is(err, tt.wantErr) {
				t.Errorf("CreateComment() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	fetched, err := store.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("failed to get thread: %v", err)
	}
	if fetched.CommentCount != 2 {
		t.Errorf("comment count = %d, want 2", fetched.CommentCount)
	}

	comments, total, err := store.ListComments(ctx, thread.ID, Page{Limit: 10})
	if err != nil {
		t.Fatalf("failed to list comments: %v", err)
	}
	if total != 2 || len(comments) != 2 {
		t.Fatalf("ListComments() = %d comments, total %d; want 2, 2", len(comments), total)
	}
	if comments[1].RepliedToID != parent.ID {
		t.Errorf("replied to = %q, want %q", comments[1].RepliedToID, parent.ID)
	}
}

func TestSetVote(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	mustUser(t, store, "0xauthor")
	mustUser(t, store, "0xvoter")
	thread := mustThread(t, store, "0xauthor", "gm")

	steps := []struct {
		voter string
		value int
		want  int64
	}{
		{"0xvoter", 1, 1},
		{"0xvoter", 1, 1},
		{"0xvoter", -1, -1},
		{"0xauthor", -1, -2},
		{"0xvoter", 0, -1},
	}
	for i, step := range steps {
		got, err := store.SetVote(ctx, &Vote{Address: step.voter, EntityKind: KindThread, EntityID: thread.ID, Value: step.value})
		if err != nil {
			t.Fatalf("step %d: SetVote() error = %v", i, err)
		}
		if got != step.want {
			t.Errorf("step %d: votes = %d, want %d", i, got, step.want)
		}
	}

	author, err := store.GetUser(ctx, "0xauthor")
	if err != nil {
		t.Fatalf("failed to get user: %v", err)
	}
	if author.Reputation != -1 {
		t.Errorf("reputation = %d, want -1", author.Reputation)
	}

	stored, err := store.GetThread(ctx, thread.ID)
	if err != nil {
		t.Fatalf("failed to get thread: %v", err)
	}
	if stored.Votes != -1 {
		t.Errorf("thread votes = %d, want -1", stored.Votes)
	}

	if _, err := store.SetVote(ctx, &Vote{Address: "0xvoter", EntityKind: KindComment, EntityID: "nope", Value: 1}); !errors.Is(err, ErrNotFound) {
		t.Errorf("vote on missing comment error = %v, want %v", err, ErrNotFound)
	}
	if _, err := store.SetVote(ctx, &Vote{Address: "0xvoter", EntityKind: "story", EntityID: thread.ID, Value: 1}); !errors.Is(err, ErrInvalidKind) {
		t.Errorf("vote on bad kind error = %v, want %v", err, ErrInvalidKind)
	}
}

func TestUserHydration(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	user, err := store.EnsureUser(ctx, "0xa")
	if err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if user.HydratedAt != nil {
		t.Error("new user should not be hydrated")
	}

	n, err := store.HydratePendingUsers(ctx)
	if err != nil || n != 1 {
		t.Fatalf("HydratePendingUsers() = %d, %v; want 1, nil", n, err)
	}
	n, _ = store.HydratePendingUsers(ctx)
	if n != 0 {
		t.Errorf("second HydratePendingUsers() = %d, want 0", n)
	}

	if err := store.SetENSName(ctx, "0xa", "alice.eth"); err != nil {
		t.Fatalf("SetENSName() error = %v", err)
	}
	user, _ = store.EnsureUser(ctx, "0xa")
	if user.ENSName != "alice.eth" || user.HydratedAt == nil {
		t.Errorf("user = %+v, want hydrated alice.eth", user)
	}

	if err := store.SetENSName(ctx, "0xnobody", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetENSName(unknown) error = %v, want %v", err, ErrNotFound)
	}
}

func TestImages(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	mustUser(t, store, "0xa")

	img := &Image{FileName: "abc.png", Owner: "0xa", ContentType: "image/png", Size: 42}
	if err := store.CreateImage(ctx, img); err != nil {
		t.Fatalf("failed to create image: %v", err)
	}

	thread := &Thread{Author: "0xa", Title: "pic", Content: "c", ImageFileName: "abc.png"}
	if err := store.CreateThread(ctx, thread); err != nil {
		t.Fatalf("failed to create thread with image: %v", err)
	}

	fetched, err := store.GetImage(ctx, "abc.png")
	if err != nil || fetched == nil {
		t.Fatalf("GetImage() = %v, %v", fetched, err)
	}
	if fetched.ContentType != "image/png" || fetched.Size != 42 {
		t.Errorf("image = %+v", fetched)
	}

	bad := &Thread{Author: "0xa", Title: "pic", Content: "c", ImageFileName: "missing.png"}
	if err := store.CreateThread(ctx, bad); err == nil {
		t.Error("thread referencing a missing image should fail")
	}
}

func TestChallengeCreate(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	challenge := &Challenge{Address: "0xa", Message: "sign me", ExpiresAt: time.Now().Add(5 * time.Minute)}
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("failed to create challenge: %v", err)
	}

	fetched, err := store.GetChallenge(ctx, "0xa")
	if err != nil {
		t.Fatalf("failed to get challenge: %v", err)
	}
	if fetched == nil || fetched.Message != "sign me" {
		t.Fatalf("challenge = %+v, want sign me", fetched)
	}

	if err := store.DeleteChallenges(ctx, "0xa"); err != nil {
		t.Fatalf("failed to delete challenges: %v", err)
	}
	fetched, _ = store.GetChallenge(ctx, "0xa")
	if fetched != nil {
		t.Error("challenge should be deleted")
	}
}

func TestChallengeExpired(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()

	challenge := &Challenge{Address: "0xa", Message: "old", ExpiresAt: time.Now().Add(-time.Minute)}
	if err := store.CreateChallenge(ctx, challenge); err != nil {
		t.Fatalf("failed to create challenge: %v", err)
	}

	fetched, err := store.GetChallenge(ctx, "0xa")
	if err != nil {
		t.Fatalf("failed to get challenge: %v", err)
	}
	if fetched != nil {
		t.Error("expired challenge should not be returned")
	}

	if err := store.DeleteExpiredChallenges(ctx); err != nil {
		t.Fatalf("failed to delete expired challenges: %v", err)
	}
}
