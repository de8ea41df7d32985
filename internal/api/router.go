package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Routes registers every endpoint on a new mux. gatherer backs /metrics
// when non-nil.
func (h *Handler) Routes(gatherer prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	// Public reads
	mux.HandleFunc("GET /threads", h.ListThreads)
	mux.HandleFunc("GET /threads/{id}", h.GetThread)
	mux.HandleFunc("GET /threads/{id}/comments", h.ListComments)
	mux.HandleFunc("GET /users/{address}", h.GetUser)
	mux.HandleFunc("GET /images/{fileName}", h.ServeImage)

	// Sign-in flow (must be public to allow authentication)
	mux.HandleFunc("GET /signin/{address}", h.CreateChallenge)
	mux.HandleFunc("PUT /signin/{address}", h.CreateChallenge)
	mux.HandleFunc("POST /signin/{address}", h.SignIn)

	// Authenticated writes
	mux.HandleFunc("POST /threads", h.RequireAuth(h.CreateThread))
	mux.HandleFunc("POST /threads/{id}/comments", h.RequireAuth(h.CreateComment))
	mux.HandleFunc("PUT /threads/{id}/votes/{voteType}", h.RequireAuth(h.VoteThread))
	mux.HandleFunc("PUT /threads/{id}/comments/{commentId}/votes/{voteType}", h.RequireAuth(h.VoteComment))
	mux.HandleFunc("POST /images", h.RequireAuth(h.UploadImage))
	mux.HandleFunc("PUT /users/{address}", h.RequireAuth(h.UpdateUser))

	return mux
}
