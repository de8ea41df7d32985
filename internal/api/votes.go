package api

import (
	"errors"
	"net/http"

	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/metrics"
	"github.com/daochan/daochan/internal/store"
)

// VoteResult is the entity's count after a vote.
type VoteResult struct {
	ID       string           `json:"id"`
	Kind     forum.EntityKind `json:"kind"`
	Votes    forum.Count      `json:"votes"`
	VoteType forum.VoteType   `json:"voteType"`
}

// VoteThread handles PUT /threads/{id}/votes/{voteType}
func (h *Handler) VoteThread(w http.ResponseWriter, r *http.Request) {
	h.castVote(w, r, forum.ThreadTarget(r.PathValue("id")))
}

// VoteComment handles PUT /threads/{id}/comments/{commentId}/votes/{voteType}
func (h *Handler) VoteComment(w http.ResponseWriter, r *http.Request) {
	target := forum.CommentTarget(r.PathValue("id"), r.PathValue("commentId"))

	comment, err := h.store.GetComment(r.Context(), target.ID)
	if err != nil {
		h.internalError(w, r, err, "failed to cast vote")
		return
	}
	if comment == nil || comment.ThreadID != target.ThreadID {
		writeError(w, http.StatusNotFound, "comment not found")
		return
	}

	h.castVote(w, r, target)
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request, target forum.Target) {
	allowed, retryAfter := h.checkRateLimit(r, "vote", h.cfg.VoteRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	voteType, err := forum.ParseVoteType(r.PathValue("voteType"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "voteType must be upvote, downvote or unvote")
		return
	}

	address := GetAddressFromContext(r.Context())
	votes, err := h.store.SetVote(r.Context(), &store.Vote{
		Address:    address,
		EntityKind: string(target.Kind),
		EntityID:   target.ID,
		Value:      int(voteType.Value()),
	})
	if err != nil {
		h.metrics.VoteResolved(string(target.Kind), metrics.OutcomeRejected)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, string(target.Kind)+" not found")
			return
		}
		h.internalError(w, r, err, "failed to cast vote")
		return
	}
	h.metrics.VoteResolved(string(target.Kind), metrics.OutcomeAccepted)

	h.log.Debug().
		Str("address", address).
		Stringer("target", target).
		Str("vote_type", string(voteType)).
		Int64("votes", votes).
		Msg("vote cast")

	writeData(w, http.StatusOK, VoteResult{
		ID:       target.ID,
		Kind:     target.Kind,
		Votes:    forum.NewCount(votes),
		VoteType: voteType,
	}, nil)
}
