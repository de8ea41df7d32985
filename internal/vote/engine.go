// Package vote renders a user's vote on a thread or comment optimistically.
//
// The user expects to see their vote immediately, and asking the backend
// whether they voted on every rendered entity would be slow. Votes are
// therefore cached in a local ledger and rendered through a pending vote
// that is accepted or rejected when the backend answers.
package vote

import (
	"fmt"

	"github.com/daochan/daochan/internal/forum"
)

// Tally is a vote type together with the count it produces.
type Tally struct {
	Type  forum.VoteType
	Count forum.Count
}

// State is the vote state of one entity for one viewer. Active is the last
// confirmed tally; Pending, when set, is the optimistic one awaiting the
// backend.
type State struct {
	Active  Tally
	Pending *Tally
}

// NewState returns the initial state for an entity whose confirmed count is
// count.
func NewState(count forum.Count) State {
	return State{Active: Tally{Type: forum.Unvote, Count: count}}
}

// Display returns the tally to render: the pending one when present.
func (s State) Display() Tally {
	if s.Pending != nil {
		return *s.Pending
	}
	return s.Active
}

// Event is a state transition. The concrete types are SetPending,
// SetActiveType, AcceptPending and RejectPending.
type Event interface {
	event()
}

// SetPending records the candidate vote as pending.
type SetPending struct {
	Type forum.VoteType
}

// SetActiveType seeds the active vote type from the ledger. An empty Type
// leaves the state unchanged.
type SetActiveType struct {
	Type forum.VoteType
}

// AcceptPending promotes the pending tally to active.
type AcceptPending struct{}

// RejectPending discards the pending tally.
type RejectPending struct{}

func (SetPending) event()    {}
func (SetActiveType) event() {}
func (AcceptPending) event() {}
func (RejectPending) event() {}

// Apply returns the state that results from e. It never modifies s.
func Apply(s State, e Event) State {
	switch e := e.(type) {
	case SetPending:
		delta := e.Type.Value() - s.Active.Type.Value()
		s.Pending = &Tally{Type: e.Type, Count: s.Active.Count.Add(delta)}
		return s
	case SetActiveType:
		if e.Type == "" {
			return s
		}
		s.Active.Type = e.Type
		return s
	case AcceptPending:
		if s.Pending == nil {
			return s
		}
		s.Active = *s.Pending
		s.Pending = nil
		return s
	case RejectPending:
		s.Pending = nil
		return s
	default:
		panic(fmt.Sprintf("vote: unknown event %T", e))
	}
}

// Toggle returns the vote a click on clicked produces: clicking the active
// direction again removes the vote.
func Toggle(active, clicked forum.VoteType) forum.VoteType {
	if active == clicked {
		return forum.Unvote
	}
	return clicked
}
