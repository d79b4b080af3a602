package api

import (
	"github.com/starford/arbor/internal/forestcache"
	"github.com/starford/arbor/internal/forestservice"
	"github.com/starford/arbor/internal/graph"
	"github.com/starford/arbor/internal/models"
)

// ForestResponse wraps the forest snapshot with the cache status.
type ForestResponse struct {
	Trees  []models.Tree      `json:"trees" validate:"required"`
	Total  int                `json:"total" example:"42" validate:"required"`
	Status forestcache.Status `json:"status" validate:"required"`
}

// StatusResponse reports cache freshness.
type StatusResponse struct {
	Status  forestcache.Status `json:"status" validate:"required"`
	Display string             `json:"display" example:"invalid(forester exited with status 1)"`
}

// TreeDetail is the full tree response type (aliased from the domain layer).
type TreeDetail = forestservice.TreeDetail

// SearchResult is a single search hit in the API response.
type SearchResult = forestservice.SearchHit

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// RenameRequest is the request body for renaming a tree.
type RenameRequest struct {
	Title string `json:"title" example:"Key lemma" validate:"required"`
}

// GraphResponse is the rendered transclusion view.
type GraphResponse struct {
	Roots     []graph.ViewNode `json:"roots" validate:"required"`
	Current   string           `json:"current,omitempty" example:"jms-0001"`
	FocusMode bool             `json:"focusMode"`
	Pinned    []string         `json:"pinned" validate:"required"`
	MaxPinned int              `json:"maxPinned" example:"5"`
}

// PinResponse reports the pin state after a toggle.
type PinResponse struct {
	ID     string `json:"id" example:"jms-0001"`
	Pinned bool   `json:"pinned"`
}
