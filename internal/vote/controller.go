package vote

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/metrics"
)

var (
	ErrVoteInFlight = errors.New("a vote on this entity is already in flight")
	ErrNoViewer     = errors.New("no viewer address set")
	ErrClosed       = errors.New("vote controller closed")
)

// Caster sends a vote to the backend.
type Caster interface {
	CastVote(ctx context.Context, target forum.Target, voteType forum.VoteType) error
}

// Ledger persists the viewer's confirmed votes.
type Ledger interface {
	Lookup(ctx context.Context, address string, target forum.Target) (forum.VoteType, error)
	Record(ctx context.Context, address string, target forum.Target, voteType forum.VoteType) error
}

// Patcher commits a confirmed count into every cached view of an entity.
type Patcher interface {
	PatchVoteCount(kind forum.EntityKind, id, parentID string, count forum.Count) bool
}

// Deps are the collaborators of a Controller. Caster, Ledger and Patcher are
// required.
type Deps struct {
	Caster  Caster
	Ledger  Ledger
	Patcher Patcher
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	// OnChange is called after every transition, outside the controller's
	// lock.
	OnChange func(View)
	// OnError receives failed casts as *forum.VoteRequestError.
	OnError func(error)
}

// View is what a rendered vote widget shows.
type View struct {
	Type    forum.VoteType
	Count   forum.Count
	Pending bool
	Loading bool
}

// Controller drives the vote state of one rendered entity. It lives as long
// as the view it backs and must be closed when the view goes away.
type Controller struct {
	target forum.Target
	deps   Deps
	log    zerolog.Logger

	mu         sync.Mutex
	state      State
	viewer     string
	inFlight   bool
	interacted bool
	closed     bool
}

// NewController returns a controller for target whose confirmed count is
// count.
func NewController(target forum.Target, count forum.Count, deps Deps) *Controller {
	return &Controller{
		target: target,
		deps:   deps,
		log:    deps.Logger.With().Str("component", "vote").Str("target", target.String()).Logger(),
		state:  NewState(count),
	}
}

// State returns a copy of the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// View returns what should be rendered now.
func (c *Controller) View() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

func (c *Controller) viewLocked() View {
	d := c.state.Display()
	return View{
		Type:    d.Type,
		Count:   d.Count,
		Pending: c.state.Pending != nil,
		Loading: c.inFlight,
	}
}

// SetViewer sets the address the controller votes as and seeds the active
// vote type from the ledger. Seeding is skipped once the viewer has clicked,
// since it would clobber an in-flight or confirmed vote.
func (c *Controller) SetViewer(ctx context.Context, address string) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.viewer = address
	if address == "" || c.interacted {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	voteType, err := c.deps.Ledger.Lookup(ctx, address, c.target)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.closed || c.interacted || c.viewer != address {
		c.mu.Unlock()
		return nil
	}
	c.state = Apply(c.state, SetActiveType{Type: voteType})
	view := c.viewLocked()
	c.mu.Unlock()

	c.changed(view)
	return nil
}

// Click handles a click on the upvote or downvote control. The returned
// channel receives the outcome of the backend call once it resolves. Clicks
// made while a previous vote is outstanding are refused with
// ErrVoteInFlight.
func (c *Controller) Click(ctx context.Context, clicked forum.VoteType) (<-chan error, error) {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return nil, ErrClosed
	case c.inFlight:
		c.mu.Unlock()
		return nil, ErrVoteInFlight
	case c.viewer == "":
		c.mu.Unlock()
		return nil, ErrNoViewer
	}

	voteType := Toggle(c.state.Active.Type, clicked)
	c.state = Apply(c.state, SetPending{Type: voteType})
	c.inFlight = true
	c.interacted = true
	viewer := c.viewer
	view := c.viewLocked()
	c.mu.Unlock()

	c.changed(view)

	done := make(chan error, 1)
	go func() {
		err := c.deps.Caster.CastVote(ctx, c.target, voteType)
		done <- c.resolve(ctx, viewer, voteType, err)
		close(done)
	}()
	return done, nil
}

func (c *Controller) resolve(ctx context.Context, viewer string, voteType forum.VoteType, castErr error) error {
	if castErr != nil {
		err := &forum.VoteRequestError{Target: c.target, VoteType: voteType, Err: castErr}
		c.log.Error().Err(castErr).Str("vote_type", string(voteType)).Msg("vote rejected")
		c.deps.Metrics.VoteResolved(string(c.target.Kind), metrics.OutcomeRejected)

		c.mu.Lock()
		c.inFlight = false
		if c.closed {
			c.mu.Unlock()
			return err
		}
		c.state = Apply(c.state, RejectPending{})
		view := c.viewLocked()
		c.mu.Unlock()

		c.changed(view)
		if c.deps.OnError != nil {
			c.deps.OnError(err)
		}
		return err
	}

	c.mu.Lock()
	pending := c.state.Pending
	if pending == nil {
		c.inFlight = false
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	// The ledger is written while the vote is still in flight so a second
	// click cannot overtake it.
	if err := c.deps.Ledger.Record(ctx, viewer, c.target, pending.Type); err != nil {
		c.log.Warn().Err(err).Msg("failed to record vote")
	}
	c.deps.Patcher.PatchVoteCount(c.target.Kind, c.target.ID, c.target.ThreadID, pending.Count)
	c.deps.Metrics.VoteResolved(string(c.target.Kind), metrics.OutcomeAccepted)

	c.mu.Lock()
	c.inFlight = false
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.state = Apply(c.state, AcceptPending{})
	view := c.viewLocked()
	c.mu.Unlock()

	c.changed(view)
	return nil
}

// Close detaches the controller from its view. Outstanding casts still
// complete and reach the ledger and the query cache, but no longer change
// the controller's state.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *Controller) changed(v View) {
	if c.deps.OnChange != nil {
		c.deps.OnChange(v)
	}
}
