package querycache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daochan/daochan/internal/forum"
)

func newCache(t *testing.T, size int) *Cache {
	t.Helper()
	c, err := New(size)
	require.NoError(t, err)
	return c
}

func thread(id, title string, votes int64) forum.Thread {
	return forum.Thread{ID: id, Title: title, Content: "content of " + title, Votes: forum.NewCount(votes)}
}

func comment(threadID, id string, votes int64) forum.Comment {
	return forum.Comment{ID: id, ThreadID: threadID, Content: "comment " + id, Votes: forum.NewCount(votes)}
}

func TestPatchThreadUpdatesListAndDetail(t *testing.T) {
	c := newCache(t, 0)

	c.SetThreads(ThreadsKey(), Pages[forum.Thread]{
		Pages: []forum.Response[[]forum.Thread]{
			{Data: []forum.Thread{thread("x", "first", 1), thread("abc", "Hello", 3)}, NextPage: &forum.Page{Offset: 2, Limit: 2, Count: 5}},
			{Data: []forum.Thread{thread("y", "third", 0)}},
		},
		PageParams: []int{0, 2},
	})
	c.SetThread(forum.Response[forum.Thread]{Data: thread("abc", "Hello", 3)})

	before, ok := c.Threads(ThreadsKey())
	require.True(t, ok)

	require.True(t, c.PatchVoteCount(forum.KindThread, "abc", "", forum.NewCount(7)))

	list, ok := c.Threads(ThreadsKey())
	require.True(t, ok)
	patched := list.Pages[0].Data[1]
	assert.Equal(t, "7", patched.Votes.String())
	assert.Equal(t, "Hello", patched.Title)
	assert.Equal(t, "content of Hello", patched.Content)

	// other entries and the page structure are untouched
	assert.Equal(t, "1", list.Pages[0].Data[0].Votes.String())
	assert.Equal(t, "third", list.Pages[1].Data[0].Title)
	assert.Equal(t, []int{0, 2}, list.PageParams)
	assert.Equal(t, &forum.Page{Offset: 2, Limit: 2, Count: 5}, list.Pages[0].NextPage)

	detail, ok := c.Thread("abc")
	require.True(t, ok)
	assert.Equal(t, "7", detail.Data.Votes.String())
	assert.Equal(t, "Hello", detail.Data.Title)
	assert.Equal(t, "content of Hello", detail.Data.Content)

	// values handed out earlier keep their old count
	assert.Equal(t, "3", before.Pages[0].Data[1].Votes.String())
}

func TestPatchMissingEntryIsNoop(t *testing.T) {
	c := newCache(t, 0)
	assert.False(t, c.PatchVoteCount(forum.KindThread, "nope", "", forum.NewCount(1)))
	assert.False(t, c.PatchVoteCount(forum.KindComment, "nope", "t1", forum.NewCount(1)))
	assert.False(t, c.Has(ThreadsKey()))
}

func TestPatchThreadOnlyCachedAsDetail(t *testing.T) {
	c := newCache(t, 0)
	c.SetThread(forum.Response[forum.Thread]{Data: thread("abc", "Hello", 0)})

	require.True(t, c.PatchVoteCount(forum.KindThread, "abc", "", forum.NewCount(-1)))
	detail, _ := c.Thread("abc")
	assert.Equal(t, "-1", detail.Data.Votes.String())
	_, ok := c.Threads(ThreadsKey())
	assert.False(t, ok)
}

func TestPatchComment(t *testing.T) {
	c := newCache(t, 0)
	c.SetComments(CommentsKey("t1"), Pages[forum.Comment]{
		Pages: []forum.Response[[]forum.Comment]{
			{Data: []forum.Comment{comment("t1", "c1", 0), comment("t1", "c2", 4)}},
			{Data: []forum.Comment{comment("t1", "c3", 2)}},
		},
		PageParams: []int{0, 2},
	})

	assert.False(t, c.PatchVoteCount(forum.KindComment, "c3", "other-thread", forum.NewCount(9)))
	require.True(t, c.PatchVoteCount(forum.KindComment, "c3", "t1", forum.NewCount(9)))

	pages, ok := c.Comments(CommentsKey("t1"))
	require.True(t, ok)
	assert.Equal(t, "9", pages.Pages[1].Data[0].Votes.String())
	assert.Equal(t, "comment c3", pages.Pages[1].Data[0].Content)
	assert.Equal(t, "4", pages.Pages[0].Data[1].Votes.String())
}

func TestHydratedThreadSeedsComments(t *testing.T) {
	c := newCache(t, 0)

	th := thread("t1", "Hydrated", 0)
	th.Comments = []forum.Comment{comment("t1", "c1", 1), comment("t1", "c2", 2)}
	c.SetThread(forum.Response[forum.Thread]{Data: th, NextPage: &forum.Page{Offset: 2, Limit: 2, Count: 3}})

	pages, ok := c.Comments(CommentsKey("t1"))
	require.True(t, ok)
	require.Len(t, pages.Pages, 1)
	assert.Len(t, pages.Pages[0].Data, 2)
	assert.Equal(t, 2, pages.Pages[0].NextPage.Offset)

	c.AppendComments(CommentsKey("t1"), forum.Response[[]forum.Comment]{Data: []forum.Comment{comment("t1", "c3", 0)}}, 2)
	require.True(t, c.PatchVoteCount(forum.KindComment, "c1", "t1", forum.NewCount(5)))

	detail, ok := c.Thread("t1")
	require.True(t, ok)
	require.Len(t, detail.Data.Comments, 2)
	assert.Equal(t, "5", detail.Data.Comments[0].Votes.String())

	pages, _ = c.Comments(CommentsKey("t1"))
	assert.Len(t, pages.Pages, 2)
	assert.Equal(t, []int{0, 2}, pages.PageParams)
}

func TestRefetchedThreadRefreshesCachedComments(t *testing.T) {
	c := newCache(t, 0)

	th := thread("t1", "Refetched", 0)
	th.Comments = []forum.Comment{comment("t1", "c1", 1)}
	c.SetThread(forum.Response[forum.Thread]{Data: th})

	c.Invalidate(ThreadKey("t1"))
	th.Comments = []forum.Comment{comment("t1", "c1", 5), comment("t1", "c9", 2)}
	c.SetThread(forum.Response[forum.Thread]{Data: th})

	pages, ok := c.Comments(CommentsKey("t1"))
	require.True(t, ok)
	require.Len(t, pages.Pages[0].Data, 1, "the cached list keeps its own pages")
	assert.Equal(t, "5", pages.Pages[0].Data[0].Votes.String())

	detail, ok := c.Thread("t1")
	require.True(t, ok)
	require.Len(t, detail.Data.Comments, 1)
	assert.Equal(t, "5", detail.Data.Comments[0].Votes.String())

	c.Invalidate(CommentsKey("t1"))
	assert.Empty(t, c.comments, "comments outside any list are not kept")
}

func TestAppendThreads(t *testing.T) {
	c := newCache(t, 0)
	c.AppendThreads(ThreadsKey(), forum.Response[[]forum.Thread]{Data: []forum.Thread{thread("a", "A", 0)}, NextPage: &forum.Page{Offset: 1, Limit: 1, Count: 2}}, 0)
	c.AppendThreads(ThreadsKey(), forum.Response[[]forum.Thread]{Data: []forum.Thread{thread("b", "B", 0)}}, 1)

	pages, ok := c.Threads(ThreadsKey())
	require.True(t, ok)
	require.Len(t, pages.Pages, 2)
	assert.Equal(t, "B", pages.Pages[1].Data[0].Title)
	assert.Equal(t, []int{0, 1}, pages.PageParams)
}

func TestEvictionDropsUnreferencedEntities(t *testing.T) {
	c := newCache(t, 2)

	c.SetThread(forum.Response[forum.Thread]{Data: thread("a", "A", 0)})
	c.SetThreads(ThreadsKey(), Pages[forum.Thread]{Pages: []forum.Response[[]forum.Thread]{{Data: []forum.Thread{thread("a", "A", 0), thread("b", "B", 0)}}}})

	// a third query evicts the oldest, the detail of "a"; "a" is still listed
	c.SetThread(forum.Response[forum.Thread]{Data: thread("c", "C", 0)})
	assert.False(t, c.Has(ThreadKey("a")))
	assert.True(t, c.PatchVoteCount(forum.KindThread, "a", "", forum.NewCount(1)))

	c.Invalidate(ThreadsKey())
	assert.False(t, c.PatchVoteCount(forum.KindThread, "a", "", forum.NewCount(2)))
	assert.False(t, c.PatchVoteCount(forum.KindThread, "b", "", forum.NewCount(2)))
	assert.True(t, c.PatchVoteCount(forum.KindThread, "c", "", forum.NewCount(2)))
	assert.Equal(t, 1, c.Len())
}

func TestReplacingQueryKeepsSharedEntities(t *testing.T) {
	c := newCache(t, 0)
	c.SetThreads(ThreadsKey(), Pages[forum.Thread]{Pages: []forum.Response[[]forum.Thread]{{Data: []forum.Thread{thread("a", "A", 0)}}}})
	c.SetThreads(ThreadsKey(), Pages[forum.Thread]{Pages: []forum.Response[[]forum.Thread]{{Data: []forum.Thread{thread("a", "A2", 4)}}}})

	pages, ok := c.Threads(ThreadsKey())
	require.True(t, ok)
	assert.Equal(t, "A2", pages.Pages[0].Data[0].Title)
	assert.Equal(t, "4", pages.Pages[0].Data[0].Votes.String())
}

func TestDoDeduplicatesConcurrentLoads(t *testing.T) {
	c := newCache(t, 0)

	var calls int32
	release := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once

	load := func() error {
		atomic.AddInt32(&calls, 1)
		once.Do(func() { close(started) })
		<-release
		return errors.New("backend down")
	}

	var wg sync.WaitGroup
	errs := make([]error, 5)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = c.Do(ThreadsKey(), load)
	}()
	<-started
	for i := 1; i < len(errs); i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.Do(ThreadsKey(), load)
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Less(t, atomic.LoadInt32(&calls), int32(len(errs)))
	for _, err := range errs {
		assert.EqualError(t, err, "backend down")
	}
}
