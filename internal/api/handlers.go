package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"github.com/starford/arbor/internal/apperr"
	"github.com/starford/arbor/internal/forestservice"
	"github.com/starford/arbor/internal/graph"
	"github.com/starford/arbor/internal/models"
)

// Handler holds API route handlers.
type Handler struct {
	svc *forestservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *forestservice.Service) *Handler {
	return &Handler{svc: svc}
}

// urlParam returns a path parameter, decoding escaped characters so URIs
// containing slashes survive OpenAPI clients.
func urlParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeError maps domain errors to status codes.
func writeError(w http.ResponseWriter, op string, err error, attrs ...any) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrPinLimitExceeded):
		writeJSON(w, http.StatusConflict, errorBody("pinned roots limit reached"))
	case errors.Is(err, apperr.ErrConflict):
		writeJSON(w, http.StatusConflict, errorBody("conflict"))
	default:
		slog.Error("api: "+op+" failed", append(attrs, slog.String("error", err.Error()))...)
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// Forest handles GET /api/forest.
//
//	@Summary		Get the current forest
//	@Tags			forest
//	@Produce		json
//	@Param			stale	query		bool	false	"Return the cached forest even while a refresh runs"
//	@Success		200		{object}	ForestResponse
//	@Security		BearerAuth
//	@Router			/forest [get]
func (h *Handler) Forest(w http.ResponseWriter, r *http.Request) {
	stale, _ := strconv.ParseBool(r.URL.Query().Get("stale"))
	writeJSON(w, http.StatusOK, forestResponse(h.svc.Forest(r.Context(), stale), h.svc))
}

// Refresh handles POST /api/forest/refresh.
//
//	@Summary		Force a forest refresh
//	@Tags			forest
//	@Produce		json
//	@Success		200	{object}	ForestResponse
//	@Security		BearerAuth
//	@Router			/forest/refresh [post]
func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, forestResponse(h.svc.Refresh(r.Context()), h.svc))
}

func forestResponse(forest models.Forest, svc *forestservice.Service) ForestResponse {
	trees := []models.Tree(forest)
	if trees == nil {
		trees = []models.Tree{}
	}
	return ForestResponse{Trees: trees, Total: len(trees), Status: svc.Status()}
}

// Status handles GET /api/status.
//
//	@Summary		Report cache freshness
//	@Tags			forest
//	@Produce		json
//	@Success		200	{object}	StatusResponse
//	@Security		BearerAuth
//	@Router			/status [get]
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	st := h.svc.Status()
	writeJSON(w, http.StatusOK, StatusResponse{Status: st, Display: st.String()})
}

// GetTree handles GET /api/trees/{uri}.
//
//	@Summary		Get one tree with its transclusions
//	@Tags			trees
//	@Produce		json
//	@Param			uri	path		string	true	"Tree URI"
//	@Success		200	{object}	TreeDetail
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/trees/{uri} [get]
func (h *Handler) GetTree(w http.ResponseWriter, r *http.Request) {
	uri := urlParam(r, "uri")
	d, err := h.svc.Tree(r.Context(), uri)
	if err != nil {
		writeError(w, "get tree", err, slog.String("uri", uri))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RenameTree handles POST /api/trees/{uri}/rename.
//
//	@Summary		Rewrite the title of a tree's source
//	@Tags			trees
//	@Accept			json
//	@Produce		json
//	@Param			uri		path		string			true	"Tree URI"
//	@Param			body	body		RenameRequest	true	"New title"
//	@Success		200		{object}	TreeDetail
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/trees/{uri}/rename [post]
func (h *Handler) RenameTree(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	uri := urlParam(r, "uri")

	var req RenameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Title == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("title is required"))
		return
	}
	d, err := h.svc.RequestRename(r.Context(), uri, req.Title)
	if err != nil {
		writeError(w, "rename tree", err, slog.String("uri", uri))
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across trees
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err, slog.String("query", q))
		return
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Graph handles GET /api/graph.
//
//	@Summary		Render the transclusion view
//	@Tags			graph
//	@Produce		json
//	@Param			current	query		string	false	"Tree the view is centred on"
//	@Success		200		{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph [get]
func (h *Handler) Graph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.graphResponse(r.URL.Query().Get("current")))
}

func (h *Handler) graphResponse(current string) GraphResponse {
	v := h.svc.Render(current)
	st := h.svc.ViewState()
	roots := v.Roots
	if roots == nil {
		roots = []graph.ViewNode{}
	}
	pinned := st.PinnedRootIDs
	if pinned == nil {
		pinned = []string{}
	}
	return GraphResponse{
		Roots:     roots,
		Current:   h.svc.Current(),
		FocusMode: st.FocusMode,
		Pinned:    pinned,
		MaxPinned: h.svc.MaxPinned(),
	}
}

// gesture runs fn and answers with the re-rendered view.
func (h *Handler) gesture(w http.ResponseWriter, op, id string, err error) {
	if err != nil {
		writeError(w, op, err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, h.graphResponse(""))
}

// ToggleExpand handles POST /api/graph/expand/{id}.
//
//	@Summary		Expand or collapse a tree in the view
//	@Tags			graph
//	@Produce		json
//	@Param			id	path		string	true	"Tree URI"
//	@Success		200	{object}	GraphResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graph/expand/{id} [post]
func (h *Handler) ToggleExpand(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	h.gesture(w, "expand", id, h.svc.ToggleExpand(id))
}

// Select handles POST /api/graph/select/{id}.
//
//	@Summary		Select a tree
//	@Tags			graph
//	@Produce		json
//	@Param			id	path		string	true	"Tree URI"
//	@Success		200	{object}	GraphResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graph/select/{id} [post]
func (h *Handler) Select(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	h.gesture(w, "select", id, h.svc.Select(id))
}

// TogglePin handles POST /api/graph/pin/{id}.
//
//	@Summary		Pin or unpin a root
//	@Tags			graph
//	@Produce		json
//	@Param			id	path		string	true	"Tree URI"
//	@Success		200	{object}	PinResponse
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graph/pin/{id} [post]
func (h *Handler) TogglePin(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	pinned, err := h.svc.TogglePin(id)
	if err != nil {
		writeError(w, "pin", err, slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, PinResponse{ID: id, Pinned: pinned})
}

// RevealPath handles POST /api/graph/reveal/{id}.
//
//	@Summary		Expand every ancestor of a tree
//	@Tags			graph
//	@Produce		json
//	@Param			id	path		string	true	"Tree URI"
//	@Success		200	{object}	GraphResponse
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graph/reveal/{id} [post]
func (h *Handler) RevealPath(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	h.gesture(w, "reveal", id, h.svc.RevealPath(id))
}

// ExpandAll handles POST /api/graph/expand-all.
//
//	@Summary		Expand every tree with children
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph/expand-all [post]
func (h *Handler) ExpandAll(w http.ResponseWriter, _ *http.Request) {
	h.gesture(w, "expand all", "", h.svc.ExpandAll())
}

// CollapseAll handles POST /api/graph/collapse-all.
//
//	@Summary		Collapse the view to its roots
//	@Tags			graph
//	@Produce		json
//	@Success		200	{object}	GraphResponse
//	@Security		BearerAuth
//	@Router			/graph/collapse-all [post]
func (h *Handler) CollapseAll(w http.ResponseWriter, _ *http.Request) {
	h.gesture(w, "collapse all", "", h.svc.CollapseAll())
}

// SetFocus handles POST /api/graph/focus.
//
//	@Summary		Turn focus mode on or off
//	@Tags			graph
//	@Produce		json
//	@Param			on	query		bool	true	"Focus mode"
//	@Success		200	{object}	GraphResponse
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/graph/focus [post]
func (h *Handler) SetFocus(w http.ResponseWriter, r *http.Request) {
	on, err := strconv.ParseBool(r.URL.Query().Get("on"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'on' must be a boolean"))
		return
	}
	h.gesture(w, "focus", "", h.svc.SetFocusMode(on))
}
