package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/arbor/internal/forestservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *forestservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Forest and cache status.
	r.Get("/forest", h.Forest)
	r.Post("/forest/refresh", h.Refresh)
	r.Get("/status", h.Status)

	// Trees.
	r.Get("/trees/{uri}", h.GetTree)
	r.Post("/trees/{uri}/rename", h.RenameTree)
	r.Get("/search", h.Search)

	// Transclusion graph view and gestures.
	r.Get("/graph", h.Graph)
	r.Post("/graph/expand/{id}", h.ToggleExpand)
	r.Post("/graph/select/{id}", h.Select)
	r.Post("/graph/pin/{id}", h.TogglePin)
	r.Post("/graph/reveal/{id}", h.RevealPath)
	r.Post("/graph/expand-all", h.ExpandAll)
	r.Post("/graph/collapse-all", h.CollapseAll)
	r.Post("/graph/focus", h.SetFocus)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
