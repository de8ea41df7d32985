// Package api serves the daochan REST contract: paginated threads and
// comments, wallet sign-in, votes, image uploads and user profiles.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/daochan/daochan/internal/auth"
	"github.com/daochan/daochan/internal/config"
	"github.com/daochan/daochan/internal/forum"
	"github.com/daochan/daochan/internal/metrics"
	"github.com/daochan/daochan/internal/ratelimit"
	"github.com/daochan/daochan/internal/store"
)

// Handler holds dependencies for API handlers
type Handler struct {
	store   store.Store
	auth    *auth.Service
	limiter ratelimit.Limiter
	images  *ImageStore
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
}

// NewHandler creates a new API handler
func NewHandler(s store.Store, authSvc *auth.Service, limiter ratelimit.Limiter, images *ImageStore, cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{
		store:   s,
		auth:    authSvc,
		limiter: limiter,
		images:  images,
		cfg:     cfg,
		log:     log.With().Str("component", "api").Logger(),
		metrics: m,
	}
}

// Response helpers

type ErrorResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeData[T any](w http.ResponseWriter, status int, data T, next *forum.Page) {
	writeJSON(w, status, forum.Response[T]{Data: data, NextPage: next})
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message})
}

func writeRateLimited(w http.ResponseWriter, retryAfter int) {
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:      "rate limit exceeded",
		RetryAfter: retryAfter,
	})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	h.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg(message)
	writeError(w, http.StatusInternalServerError, message)
}

// Request helpers

func (h *Handler) getClientIP(r *http.Request) string {
	// Check X-Forwarded-For first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	// Check X-Real-IP
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	// Fall back to RemoteAddr
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}

func (h *Handler) getToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}

// checkRateLimit counts an action against the caller's address, or its IP
// when anonymous. A failing limiter lets the request through.
func (h *Handler) checkRateLimit(r *http.Request, action string, limit int) (bool, int) {
	key := action + ":"
	if address := GetAddressFromContext(r.Context()); address != "" {
		key += address
	} else {
		key += h.getClientIP(r)
	}

	d, err := h.limiter.Allow(r.Context(), key, ratelimit.Policy{Limit: limit, Window: h.cfg.RateLimitWindow})
	if err != nil {
		h.log.Warn().Err(err).Str("key", key).Msg("rate limiter unavailable")
		return true, 0
	}
	if !d.Allowed {
		return false, int(d.RetryAfter.Seconds()) + 1
	}
	return true, 0
}

// pageParams reads offset and limit query parameters.
func (h *Handler) pageParams(r *http.Request) store.Page {
	p := store.Page{Limit: h.cfg.PageLimit}
	if v, err := strconv.Atoi(r.URL.Query().Get("offset")); err == nil {
		p.Offset = v
	}
	if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil {
		p.Limit = v
	}
	return p.Normalize()
}

// nextPage describes the page after p, or nil when p was the last.
func nextPage(p store.Page, total int) *forum.Page {
	if p.Offset+p.Limit >= total {
		return nil
	}
	return &forum.Page{Offset: p.Offset + p.Limit, Limit: p.Limit, Count: total}
}

// Presenters

// users memoizes author lookups for one response.
type users struct {
	h    *Handler
	ctx  context.Context
	seen map[string]forum.User
}

func (h *Handler) users(ctx context.Context) *users {
	return &users{h: h, ctx: ctx, seen: make(map[string]forum.User)}
}

func (u *users) get(address string) (forum.User, error) {
	if user, ok := u.seen[address]; ok {
		return user, nil
	}
	user, err := u.h.store.GetUser(u.ctx, address)
	if err != nil {
		return forum.User{}, err
	}
	var out forum.User
	if user == nil {
		out = forum.User{Address: address, Reputation: forum.NewCount(0)}
	} else {
		out = presentUser(user)
	}
	u.seen[address] = out
	return out, nil
}

func presentUser(u *store.User) forum.User {
	return forum.User{
		Address:    u.Address,
		ENSName:    u.ENSName,
		Reputation: forum.NewCount(u.Reputation),
		CreatedAt:  u.CreatedAt,
		UpdatedAt:  u.HydratedAt,
	}
}

func (h *Handler) presentImage(fileName string) *forum.Image {
	if fileName == "" {
		return nil
	}
	url := h.images.URL(fileName)
	return &forum.Image{FileName: fileName, OriginalURL: url, ThumbnailURL: url}
}

func (h *Handler) presentThread(u *users, t *store.Thread) (forum.Thread, error) {
	author, err := u.get(t.Author)
	if err != nil {
		return forum.Thread{}, err
	}
	return forum.Thread{
		ID:        t.ID,
		User:      author,
		Title:     t.Title,
		Content:   t.Content,
		Image:     h.presentImage(t.ImageFileName),
		IsDeleted: t.Deleted,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
		Votes:     forum.NewCount(t.Votes),
	}, nil
}

// presentComments resolves replied-to comments within the page, fetching
// the ones that fall outside it.
func (h *Handler) presentComments(u *users, comments []*store.Comment) ([]forum.Comment, error) {
	byID := make(map[string]*store.Comment, len(comments))
	for _, c := range comments {
		byID[c.ID] = c
	}

	out := make([]forum.Comment, 0, len(comments))
	for _, c := range comments {
		fc, err := h.presentComment(u, c)
		if err != nil {
			return nil, err
		}
		if c.RepliedToID != "" {
			parent, ok := byID[c.RepliedToID]
			if !ok {
				if parent, err = h.store.GetComment(u.ctx, c.RepliedToID); err != nil {
					return nil, err
				}
			}
			if parent != nil {
				pc, err := h.presentComment(u, parent)
				if err != nil {
					return nil, err
				}
				fc.RepliedToComment = &pc
			}
		}
		out = append(out, fc)
	}
	return out, nil
}

func (h *Handler) presentComment(u *users, c *store.Comment) (forum.Comment, error) {
	author, err := u.get(c.Author)
	if err != nil {
		return forum.Comment{}, err
	}
	fc := forum.Comment{
		ID:        c.ID,
		User:      author,
		ThreadID:  c.ThreadID,
		Content:   c.Content,
		Image:     h.presentImage(c.ImageFileName),
		IsDeleted: c.Deleted,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
		Votes:     forum.NewCount(c.Votes),
	}
	if c.Deleted {
		fc.Content = ""
		fc.Image = nil
	}
	return fc, nil
}
