package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/daochan/daochan/internal/auth"
	"github.com/daochan/daochan/internal/store"
)

type UpdateUserRequest struct {
	ENSName string `json:"ensName"`
}

// GetUser handles GET /users/{address}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	address, err := auth.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}

	user, err := h.store.GetUser(r.Context(), address)
	if err != nil {
		h.internalError(w, r, err, "failed to get user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}

	writeData(w, http.StatusOK, presentUser(user), nil)
}

// UpdateUser handles PUT /users/{address}. Users may only name themselves.
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	address, err := auth.NormalizeAddress(r.PathValue("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	if address != GetAddressFromContext(r.Context()) {
		writeError(w, http.StatusForbidden, "cannot update another user")
		return
	}

	var req UpdateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.ENSName = strings.TrimSpace(req.ENSName)
	if len(req.ENSName) > 255 {
		writeError(w, http.StatusBadRequest, "ensName must be at most 255 characters")
		return
	}

	if err := h.store.SetENSName(r.Context(), address, req.ENSName); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		h.internalError(w, r, err, "failed to update user")
		return
	}

	h.GetUser(w, r)
}

// RunHydrator periodically completes the profiles of users created since
// the last run, until ctx is done.
func (h *Handler) RunHydrator(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := h.store.HydratePendingUsers(ctx)
			if err != nil {
				if ctx.Err() == nil {
					h.log.Warn().Err(err).Msg("hydrating users failed")
				}
				continue
			}
			if n > 0 {
				h.log.Debug().Int("users", n).Msg("hydrated users")
			}
			if err := h.store.DeleteExpiredChallenges(ctx); err != nil && ctx.Err() == nil {
				h.log.Warn().Err(err).Msg("deleting expired challenges failed")
			}
		}
	}
}
