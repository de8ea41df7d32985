package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/daochan/daochan/internal/client"
	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/querycache"
	"github.com/daochan/daochan/internal/vote"
)

var ErrCommentNotFound = errors.New("comment not found")

func lastNext[T any](pages []forum.Response[[]T]) *forum.Page {
	if len(pages) == 0 {
		return nil
	}
	return pages[len(pages)-1].NextPage
}

// Threads returns the cached thread list, loading its first page if needed.
func (a *App) Threads(ctx context.Context) (querycache.Pages[forum.Thread], error) {
	key := querycache.ThreadsKey()
	if pages, ok := a.cache.Threads(key); ok {
		return pages, nil
	}
	if err := a.loadThreads(ctx, false); err != nil {
		return querycache.Pages[forum.Thread]{}, err
	}
	pages, _ := a.cache.Threads(key)
	return pages, nil
}

// MoreThreads appends the next page to the thread list. It reports false
// when there was no next page.
func (a *App) MoreThreads(ctx context.Context) (querycache.Pages[forum.Thread], bool, error) {
	key := querycache.ThreadsKey()
	before, _ := a.cache.Threads(key)
	if err := a.loadThreads(ctx, true); err != nil {
		return before, false, err
	}
	after, _ := a.cache.Threads(key)
	return after, len(after.Pages) > len(before.Pages), nil
}

// loadThreads fetches the page after the last cached one, or the first
// page when the list is not cached. Concurrent loads share one request.
func (a *App) loadThreads(ctx context.Context, more bool) error {
	key := querycache.ThreadsKey()
	return a.cache.Do(key, func() error {
		offset := 0
		if pages, ok := a.cache.Threads(key); ok {
			if !more {
				return nil
			}
			next := lastNext(pages.Pages)
			if next == nil {
				return nil
			}
			offset = next.Offset
		}
		resp, err := a.client.ListThreads(ctx, offset, a.cfg.PageLimit)
		if err != nil {
			return err
		}
		a.cache.AppendThreads(key, resp, offset)
		return nil
	})
}

// Thread returns a thread with the first page of its comments.
func (a *App) Thread(ctx context.Context, id string) (forum.Response[forum.Thread], error) {
	if resp, ok := a.cache.Thread(id); ok {
		return resp, nil
	}
	err := a.cache.Do(querycache.ThreadKey(id), func() error {
		if a.cache.Has(querycache.ThreadKey(id)) {
			return nil
		}
		resp, err := a.client.GetThread(ctx, id, 0, a.cfg.PageLimit)
		if err != nil {
			return err
		}
		a.cache.SetThread(resp)
		return nil
	})
	if err != nil {
		return forum.Response[forum.Thread]{}, err
	}
	resp, ok := a.cache.Thread(id)
	if !ok {
		return forum.Response[forum.Thread]{}, fmt.Errorf("thread %s evicted while loading", id)
	}
	return resp, nil
}

// Comments returns the cached comment list of a thread, loading its first
// page if needed.
func (a *App) Comments(ctx context.Context, threadID string) (querycache.Pages[forum.Comment], error) {
	key := querycache.CommentsKey(threadID)
	if pages, ok := a.cache.Comments(key); ok {
		return pages, nil
	}
	if err := a.loadComments(ctx, threadID, false); err != nil {
		return querycache.Pages[forum.Comment]{}, err
	}
	pages, _ := a.cache.Comments(key)
	return pages, nil
}

// MoreComments appends the next page to a thread's comment list.
func (a *App) MoreComments(ctx context.Context, threadID string) (querycache.Pages[forum.Comment], bool, error) {
	key := querycache.CommentsKey(threadID)
	before, _ := a.cache.Comments(key)
	if err := a.loadComments(ctx, threadID, true); err != nil {
		return before, false, err
	}
	after, _ := a.cache.Comments(key)
	return after, len(after.Pages) > len(before.Pages), nil
}

func (a *App) loadComments(ctx context.Context, threadID string, more bool) error {
	key := querycache.CommentsKey(threadID)
	return a.cache.Do(key, func() error {
		offset := 0
		if pages, ok := a.cache.Comments(key); ok {
			if !more {
				return nil
			}
			next := lastNext(pages.Pages)
			if next == nil {
				return nil
			}
			offset = next.Offset
		}
		resp, err := a.client.ListComments(ctx, threadID, offset, a.cfg.PageLimit)
		if err != nil {
			return err
		}
		a.cache.AppendComments(key, resp, offset)
		return nil
	})
}

// Refresh drops the thread list and, for each id, the thread and its
// comments, so the next read goes to the backend.
func (a *App) Refresh(threadIDs ...string) {
	a.cache.Invalidate(querycache.ThreadsKey())
	for _, id := range threadIDs {
		a.cache.Invalidate(querycache.ThreadKey(id))
		a.cache.Invalidate(querycache.CommentsKey(id))
	}
}

// CreateThread posts a thread as the signed-in user.
func (a *App) CreateThread(ctx context.Context, title, content string, img *client.ImageUpload) (forum.Thread, error) {
	var thread forum.Thread
	err := a.gate.SafeInvoke(ctx, "create thread", func(ctx context.Context) error {
		resp, err := a.client.CreateThread(ctx, title, content, img)
		if err != nil {
			return err
		}
		thread = resp.Data
		a.Refresh()
		return nil
	})
	return thread, err
}

// CreateComment posts a comment, or a reply when repliedToCommentID is
// set, as the signed-in user.
func (a *App) CreateComment(ctx context.Context, threadID, content, repliedToCommentID string, img *client.ImageUpload) (forum.Comment, error) {
	var comment forum.Comment
	err := a.gate.SafeInvoke(ctx, "create comment", func(ctx context.Context) error {
		resp, err := a.client.CreateComment(ctx, threadID, content, repliedToCommentID, img)
		if err != nil {
			return err
		}
		comment = resp.Data
		a.Refresh(threadID)
		return nil
	})
	return comment, err
}

// VoteController returns a controller for target seeded with the connected
// wallet's recorded vote. The caller must Close it.
func (a *App) VoteController(ctx context.Context, target forum.Target, count forum.Count, onChange func(vote.View)) (*vote.Controller, error) {
	c := vote.NewController(target, count, vote.Deps{
		Caster:   a.client,
		Ledger:   a.ledger,
		Patcher:  a.cache,
		Logger:   a.log,
		Metrics:  a.metrics,
		OnChange: onChange,
	})
	if address, err := a.address(ctx); err == nil {
		if err := c.SetViewer(ctx, address); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// Vote clicks voteType on target and waits for the backend to confirm.
// Clicking the active vote type again removes the vote.
func (a *App) Vote(ctx context.Context, target forum.Target, clicked forum.VoteType) (vote.View, error) {
	var view vote.View
	err := a.gate.SafeInvoke(ctx, "vote", func(ctx context.Context) error {
		count, err := a.voteCount(ctx, target)
		if err != nil {
			return err
		}
		c, err := a.VoteController(ctx, target, count, nil)
		if err != nil {
			return err
		}
		defer c.Close()

		done, err := c.Click(ctx, clicked)
		if err != nil {
			return err
		}
		if err := <-done; err != nil {
			return err
		}
		view = c.View()
		return nil
	})
	return view, err
}

// voteCount finds the confirmed count of target, loading comment pages
// until the comment is found.
func (a *App) voteCount(ctx context.Context, target forum.Target) (forum.Count, error) {
	if target.Kind == forum.KindThread {
		resp, err := a.Thread(ctx, target.ID)
		if err != nil {
			return forum.Count{}, err
		}
		return resp.Data.Votes, nil
	}

	pages, err := a.Comments(ctx, target.ThreadID)
	for {
		if err != nil {
			return forum.Count{}, err
		}
		for _, p := range pages.Pages {
			for _, cm := range p.Data {
				if cm.ID == target.ID {
					return cm.Votes, nil
				}
			}
		}
		var more bool
		pages, more, err = a.MoreComments(ctx, target.ThreadID)
		if err == nil && !more {
			return forum.Count{}, fmt.Errorf("%w: %s", ErrCommentNotFound, target.ID)
		}
	}
}
