// Package querycache is the client's shared cache of backend queries.
//
// Entities are normalized: each thread and comment is stored once by id and
// query entries ("threads", "threads/{id}", "comments/{threadId}") hold only
// id references plus pagination metadata. A patch to an entity is therefore
// visible through every query that lists it, which is what keeps the list
// and detail views of a voted entity in agreement without a refetch.
package querycache

import (
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sync/singleflight"

	"github.com/daochan/daochan/internal/forum"
)

const DefaultSize = 256

// Key identifies a query.
type Key []string

func ThreadsKey() Key                 { return Key{"threads"} }
func ThreadKey(id string) Key         { return Key{"threads", id} }
func CommentsKey(threadID string) Key { return Key{"comments", threadID} }

func (k Key) String() string {
	return strings.Join(k, "\x1f")
}

// Pages is the data of an infinite (paginated) query.
type Pages[T any] struct {
	Pages      []forum.Response[[]T]
	PageParams []int
}

type entityRef struct {
	kind forum.EntityKind
	id   string
}

type pageRef struct {
	ids  []string
	next *forum.Page
}

// listEntry and detailEntry are never modified after being stored.
type listEntry struct {
	kind   forum.EntityKind
	pages  []pageRef
	params []int
}

type detailEntry struct {
	id   string
	next *forum.Page
}

// Cache holds query results. It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	queries  *lru.Cache
	threads  map[string]forum.Thread
	comments map[string]forum.Comment
	refs     map[entityRef]int

	group singleflight.Group
}

// New returns a cache holding at most size queries; the least recently used
// query is dropped first.
func New(size int) (*Cache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c := &Cache{
		threads:  make(map[string]forum.Thread),
		comments: make(map[string]forum.Comment),
		refs:     make(map[entityRef]int),
	}
	queries, err := lru.NewWithEvict(size, c.evicted)
	if err != nil {
		return nil, err
	}
	c.queries = queries
	return c, nil
}

// evicted runs inside calls to c.queries, which only happen with c.mu held.
func (c *Cache) evicted(_ interface{}, value interface{}) {
	c.release(value)
}

func refsOf(value interface{}) []entityRef {
	switch e := value.(type) {
	case *listEntry:
		var refs []entityRef
		for _, p := range e.pages {
			for _, id := range p.ids {
				refs = append(refs, entityRef{kind: e.kind, id: id})
			}
		}
		return refs
	case *detailEntry:
		return []entityRef{{kind: forum.KindThread, id: e.id}}
	default:
		return nil
	}
}

func (c *Cache) retain(value interface{}) {
	for _, r := range refsOf(value) {
		c.refs[r]++
	}
}

func (c *Cache) release(value interface{}) {
	for _, r := range refsOf(value) {
		c.refs[r]--
		if c.refs[r] > 0 {
			continue
		}
		delete(c.refs, r)
		switch r.kind {
		case forum.KindThread:
			delete(c.threads, r.id)
		case forum.KindComment:
			delete(c.comments, r.id)
		}
	}
}

// store replaces the entry under key. The new entry is retained before the
// old one is released so shared entities survive the swap.
func (c *Cache) store(key Key, value interface{}) {
	c.retain(value)
	c.queries.Remove(key.String())
	c.queries.Add(key.String(), value)
}

func (c *Cache) putThread(t forum.Thread) {
	t.Comments = nil
	c.threads[t.ID] = t
}

func (c *Cache) putComment(cm forum.Comment) {
	c.comments[cm.ID] = cm
}

func copyPage(p *forum.Page) *forum.Page {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}

// Has reports whether a query is cached.
func (c *Cache) Has(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries.Contains(key.String())
}

// Len returns the number of cached queries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queries.Len()
}

// Invalidate drops a query so that the next read refetches it.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queries.Remove(key.String())
}

// Do runs fn for key unless a call for the same key is already running, in
// which case it waits for that call and returns its error.
func (c *Cache) Do(key Key, fn func() error) error {
	_, err, _ := c.group.Do(key.String(), func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

// SetThreads replaces a thread list query.
func (c *Cache) SetThreads(key Key, data Pages[forum.Thread]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &listEntry{kind: forum.KindThread, params: append([]int(nil), data.PageParams...)}
	for _, p := range data.Pages {
		e.pages = append(e.pages, c.threadPage(p))
	}
	c.store(key, e)
}

// AppendThreads adds the next page to a thread list query, creating the
// query if needed.
func (c *Cache) AppendThreads(key Key, page forum.Response[[]forum.Thread], param int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.appendTo(key, forum.KindThread, param)
	e.pages = append(e.pages, c.threadPage(page))
	c.store(key, e)
}

func (c *Cache) threadPage(p forum.Response[[]forum.Thread]) pageRef {
	ids := make([]string, len(p.Data))
	for i, t := range p.Data {
		c.putThread(t)
		ids[i] = t.ID
	}
	return pageRef{ids: ids, next: copyPage(p.NextPage)}
}

// Threads returns a thread list query.
func (c *Cache) Threads(key Key) (Pages[forum.Thread], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.list(key, forum.KindThread)
	if !ok {
		return Pages[forum.Thread]{}, false
	}
	out := Pages[forum.Thread]{PageParams: append([]int(nil), e.params...)}
	for _, p := range e.pages {
		data := make([]forum.Thread, len(p.ids))
		for i, id := range p.ids {
			data[i] = c.threads[id]
		}
		out.Pages = append(out.Pages, forum.Response[[]forum.Thread]{Data: data, NextPage: copyPage(p.next)})
	}
	return out, true
}

// SetThread stores a thread detail query. Comments hydrated into the thread
// seed the thread's comment list query when it is not cached yet; the
// response's next page then belongs to that comment list.
func (c *Cache) SetThread(resp forum.Response[forum.Thread]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := resp.Data
	if len(t.Comments) > 0 && !c.queries.Contains(CommentsKey(t.ID).String()) {
		c.store(CommentsKey(t.ID), &listEntry{
			kind:   forum.KindComment,
			pages:  []pageRef{c.commentPage(forum.Response[[]forum.Comment]{Data: t.Comments, NextPage: resp.NextPage})},
			params: []int{0},
		})
	} else {
		// Comments the cached list already holds take the fresher copy.
		for _, cm := range t.Comments {
			if c.refs[entityRef{kind: forum.KindComment, id: cm.ID}] > 0 {
				c.putComment(cm)
			}
		}
	}

	c.putThread(t)
	c.store(ThreadKey(t.ID), &detailEntry{id: t.ID, next: copyPage(resp.NextPage)})
}

// Thread returns a thread detail query. The thread's Comments carry the
// first cached page of its comment list.
func (c *Cache) Thread(id string) (forum.Response[forum.Thread], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v, ok := c.queries.Get(ThreadKey(id).String())
	if !ok {
		return forum.Response[forum.Thread]{}, false
	}
	e, ok := v.(*detailEntry)
	if !ok {
		return forum.Response[forum.Thread]{}, false
	}

	t := c.threads[e.id]
	if comments, ok := c.list(CommentsKey(id), forum.KindComment); ok && len(comments.pages) > 0 {
		first := comments.pages[0]
		t.Comments = make([]forum.Comment, len(first.ids))
		for i, cid := range first.ids {
			t.Comments[i] = c.comments[cid]
		}
	}
	return forum.Response[forum.Thread]{Data: t, NextPage: copyPage(e.next)}, true
}

// SetComments replaces a comment list query.
func (c *Cache) SetComments(key Key, data Pages[forum.Comment]) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := &listEntry{kind: forum.KindComment, params: append([]int(nil), data.PageParams...)}
	for _, p := range data.Pages {
		e.pages = append(e.pages, c.commentPage(p))
	}
	c.store(key, e)
}

// AppendComments adds the next page to a comment list query.
func (c *Cache) AppendComments(key Key, page forum.Response[[]forum.Comment], param int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.appendTo(key, forum.KindComment, param)
	e.pages = append(e.pages, c.commentPage(page))
	c.store(key, e)
}

func (c *Cache) commentPage(p forum.Response[[]forum.Comment]) pageRef {
	ids := make([]string, len(p.Data))
	for i, cm := range p.Data {
		c.putComment(cm)
		ids[i] = cm.ID
	}
	return pageRef{ids: ids, next: copyPage(p.NextPage)}
}

// Comments returns a comment list query.
func (c *Cache) Comments(key Key) (Pages[forum.Comment], bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.list(key, forum.KindComment)
	if !ok {
		return Pages[forum.Comment]{}, false
	}
	out := Pages[forum.Comment]{PageParams: append([]int(nil), e.params...)}
	for _, p := range e.pages {
		data := make([]forum.Comment, len(p.ids))
		for i, id := range p.ids {
			data[i] = c.comments[id]
		}
		out.Pages = append(out.Pages, forum.Response[[]forum.Comment]{Data: data, NextPage: copyPage(p.next)})
	}
	return out, true
}

func (c *Cache) list(key Key, kind forum.EntityKind) (*listEntry, bool) {
	v, ok := c.queries.Get(key.String())
	if !ok {
		return nil, false
	}
	e, ok := v.(*listEntry)
	if !ok || e.kind != kind {
		return nil, false
	}
	return e, true
}

// appendTo returns a fresh copy of the list under key with param appended.
func (c *Cache) appendTo(key Key, kind forum.EntityKind, param int) *listEntry {
	e := &listEntry{kind: kind}
	if old, ok := c.list(key, kind); ok {
		e.pages = append([]pageRef(nil), old.pages...)
		e.params = append([]int(nil), old.params...)
	}
	e.params = append(e.params, param)
	return e
}

// PatchVoteCount sets the vote count of a cached thread or comment. The
// stored entity is replaced by an updated copy, so values previously handed
// out are unaffected. A non-empty parentID must match a comment's thread.
// It reports whether the entity was cached; an uncached entity is not an
// error.
func (c *Cache) PatchVoteCount(kind forum.EntityKind, id, parentID string, count forum.Count) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch kind {
	case forum.KindThread:
		t, ok := c.threads[id]
		if !ok {
			return false
		}
		t.Votes = count
		c.threads[id] = t
		return true
	case forum.KindComment:
		cm, ok := c.comments[id]
		if !ok || (parentID != "" && cm.ThreadID != parentID) {
			return false
		}
		cm.Votes = count
		c.comments[id] = cm
		return true
	default:
		return false
	}
}
