package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/kv"
)

func TestRecordAndLookup(t *testing.T) {
	ctx := context.Background()
	l := New(kv.NewMemoryStore())

	thread := forum.ThreadTarget("abc")
	comment := forum.CommentTarget("abc", "abc")

	voteType, err := l.Lookup(ctx, "0x1", thread)
	require.NoError(t, err)
	require.Equal(t, forum.VoteType(""), voteType)

	require.NoError(t, l.Record(ctx, "0x1", thread, forum.Upvote))
	require.NoError(t, l.Record(ctx, "0x1", comment, forum.Downvote))

	voteType, err = l.Lookup(ctx, "0x1", thread)
	require.NoError(t, err)
	require.Equal(t, forum.Upvote, voteType)

	// same id, different kind
	voteType, err = l.Lookup(ctx, "0x1", comment)
	require.NoError(t, err)
	require.Equal(t, forum.Downvote, voteType)

	// other addresses see nothing
	voteType, err = l.Lookup(ctx, "0x2", thread)
	require.NoError(t, err)
	require.Equal(t, forum.VoteType(""), voteType)

	require.NoError(t, l.Record(ctx, "0x1", thread, forum.Unvote))
	rec, ok, err := l.Get(ctx, "0x1", thread)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, forum.VoteRecord{Address: "0x1", EntityID: "abc", EntityKind: forum.KindThread, VoteType: forum.Unvote}, rec)
}

func TestRecordValidation(t *testing.T) {
	ctx := context.Background()
	l := New(kv.NewMemoryStore())

	require.Error(t, l.Record(ctx, "", forum.ThreadTarget("t"), forum.Upvote))
	require.Error(t, l.Record(ctx, "0x1", forum.ThreadTarget("t"), "sideways"))
}

func TestCorruptRecord(t *testing.T) {
	ctx := context.Background()
	store := kv.NewMemoryStore()
	require.NoError(t, store.Set(ctx, Namespace, "0x1:thread:t", "not json"))

	_, err := New(store).Lookup(ctx, "0x1", forum.ThreadTarget("t"))
	require.Error(t, err)
}
