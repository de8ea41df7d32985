package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/daochan/daochan/internal/store"
)

type CreateCommentRequest struct {
	ThreadID           string `json:"threadId"`
	Content            string `json:"content"`
	ImageFileName      string `json:"imageFileName,omitempty"`
	RepliedToCommentID string `json:"repliedToCommentId,omitempty"`
}

// ListComments handles GET /threads/{id}/comments
func (h *Handler) ListComments(w http.ResponseWriter, r *http.Request) {
	threadID := r.PathValue("id")

	thread, err := h.store.GetThread(r.Context(), threadID)
	if err != nil {
		h.internalError(w, r, err, "failed to list comments")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	page := h.pageParams(r)
	comments, total, err := h.store.ListComments(r.Context(), threadID, page)
	if err != nil {
		h.internalError(w, r, err, "failed to list comments")
		return
	}

	out, err := h.presentComments(h.users(r.Context()), comments)
	if err != nil {
		h.internalError(w, r, err, "failed to list comments")
		return
	}

	writeData(w, http.StatusOK, out, nextPage(page, total))
}

// CreateComment handles POST /threads/{id}/comments
func (h *Handler) CreateComment(w http.ResponseWriter, r *http.Request) {
	allowed, retryAfter := h.checkRateLimit(r, "comment", h.cfg.CommentRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	var req CreateCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	threadID := r.PathValue("id")
	if req.ThreadID != "" && req.ThreadID != threadID {
		writeError(w, http.StatusBadRequest, "threadId does not match the path")
		return
	}

	req.Content = strings.TrimSpace(req.Content)
	if req.Content == "" || len(req.Content) > maxContentLength {
		writeError(w, http.StatusBadRequest, "content is required and must be at most 20000 characters")
		return
	}

	address := GetAddressFromContext(r.Context())
	if !h.ownsImage(w, r, address, req.ImageFileName) {
		return
	}

	comment := &store.Comment{
		ThreadID:      threadID,
		Author:        address,
		Content:       req.Content,
		ImageFileName: req.ImageFileName,
		RepliedToID:   req.RepliedToCommentID,
	}
	if err := h.store.CreateComment(r.Context(), comment); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "thread not found")
		case errors.Is(err, store.ErrInvalidReply):
			writeError(w, http.StatusBadRequest, "replied-to comment not found in this thread")
		default:
			h.internalError(w, r, err, "failed to create comment")
		}
		return
	}

	out, err := h.presentComments(h.users(r.Context()), []*store.Comment{comment})
	if err != nil {
		h.internalError(w, r, err, "failed to create comment")
		return
	}
	writeData(w, http.StatusCreated, out[0], nil)
}
