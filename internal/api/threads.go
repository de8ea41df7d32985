package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/store"
)

const (
	maxTitleLength   = 200
	maxContentLength = 20000
)

type CreateThreadRequest struct {
	Title         string `json:"title"`
	Content       string `json:"content"`
	ImageFileName string `json:"imageFileName,omitempty"`
}

// ListThreads handles GET /threads
func (h *Handler) ListThreads(w http.ResponseWriter, r *http.Request) {
	page := h.pageParams(r)

	threads, total, err := h.store.ListThreads(r.Context(), page)
	if err != nil {
		h.internalError(w, r, err, "failed to list threads")
		return
	}

	u := h.users(r.Context())
	out := make([]forum.Thread, 0, len(threads))
	for _, t := range threads {
		ft, err := h.presentThread(u, t)
		if err != nil {
			h.internalError(w, r, err, "failed to list threads")
			return
		}
		out = append(out, ft)
	}

	writeData(w, http.StatusOK, out, nextPage(page, total))
}

// GetThread handles GET /threads/{id}. The requested page of comments is
// embedded and the next page, if any, is described.
func (h *Handler) GetThread(w http.ResponseWriter, r *http.Request) {
	thread, err := h.store.GetThread(r.Context(), r.PathValue("id"))
	if err != nil {
		h.internalError(w, r, err, "failed to get thread")
		return
	}
	if thread == nil {
		writeError(w, http.StatusNotFound, "thread not found")
		return
	}

	page := h.pageParams(r)
	comments, total, err := h.store.ListComments(r.Context(), thread.ID, page)
	if err != nil {
		h.internalError(w, r, err, "failed to get thread")
		return
	}

	u := h.users(r.Context())
	ft, err := h.presentThread(u, thread)
	if err != nil {
		h.internalError(w, r, err, "failed to get thread")
		return
	}
	if ft.Comments, err = h.presentComments(u, comments); err != nil {
		h.internalError(w, r, err, "failed to get thread")
		return
	}

	writeData(w, http.StatusOK, ft, nextPage(page, total))
}

// CreateThread handles POST /threads
func (h *Handler) CreateThread(w http.ResponseWriter, r *http.Request) {
	allowed, retryAfter := h.checkRateLimit(r, "thread", h.cfg.ThreadRateLimit)
	if !allowed {
		writeRateLimited(w, retryAfter)
		return
	}

	var req CreateThreadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	req.Title = strings.TrimSpace(req.Title)
	req.Content = strings.TrimSpace(req.Content)
	if req.Title == "" || len(req.Title) > maxTitleLength {
		writeError(w, http.StatusBadRequest, "title is required and must be at most 200 characters")
		return
	}
	if req.Content == "" || len(req.Content) > maxContentLength {
		writeError(w, http.StatusBadRequest, "content is required and must be at most 20000 characters")
		return
	}

	address := GetAddressFromContext(r.Context())
	if !h.ownsImage(w, r, address, req.ImageFileName) {
		return
	}

	thread := &store.Thread{
		Author:        address,
		Title:         req.Title,
		Content:       req.Content,
		ImageFileName: req.ImageFileName,
	}
	if err := h.store.CreateThread(r.Context(), thread); err != nil {
		h.internalError(w, r, err, "failed to create thread")
		return
	}

	ft, err := h.presentThread(h.users(r.Context()), thread)
	if err != nil {
		h.internalError(w, r, err, "failed to create thread")
		return
	}
	writeData(w, http.StatusCreated, ft, nil)
}

// ownsImage checks that an attached image was uploaded by address. It
// writes the error response itself.
func (h *Handler) ownsImage(w http.ResponseWriter, r *http.Request, address, fileName string) bool {
	if fileName == "" {
		return true
	}
	img, err := h.store.GetImage(r.Context(), fileName)
	if err != nil {
		h.internalError(w, r, err, "failed to look up image")
		return false
	}
	if img == nil || img.Owner != address {
		writeError(w, http.StatusBadRequest, "unknown image")
		return false
	}
	return true
}
