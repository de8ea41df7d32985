package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/daochan/daochan/internal/auth"
	"github.com/daochan/daochan/internal/forum"
)

type SignInRequest struct {
	Signature string `json:"signature"`
}

// CreateChallenge handles GET and PUT /signin/{address}
func (h *Handler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	challenge, err := h.auth.CreateChallenge(r.Context(), r.PathValue("address"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidAddress) {
			writeError(w, http.StatusBadRequest, "invalid address")
			return
		}
		h.internalError(w, r, err, "failed to create challenge")
		return
	}

	writeData(w, http.StatusOK, forum.Challenge{
		Message: challenge.Message,
		Expires: challenge.ExpiresAt.Unix(),
	}, nil)
}

// SignIn handles POST /signin/{address}
func (h *Handler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Signature == "" {
		writeError(w, http.StatusBadRequest, "signature is required")
		return
	}

	address := r.PathValue("address")
	token, _, err := h.auth.VerifyAndCreateToken(r.Context(), address, req.Signature)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidAddress):
			writeError(w, http.StatusBadRequest, "invalid address")
		case errors.Is(err, auth.ErrChallengeNotFound):
			writeError(w, http.StatusBadRequest, "challenge expired or not found")
		case errors.Is(err, auth.ErrInvalidSignature):
			writeError(w, http.StatusUnauthorized, "invalid signature")
		default:
			h.internalError(w, r, err, "verification failed")
		}
		return
	}

	h.log.Info().Str("address", address).Msg("signed in")
	writeData(w, http.StatusOK, forum.Token{Token: token}, nil)
}
