package graph

// DefaultMaxPinned is the default bound on pinned roots.
const DefaultMaxPinned = 5

// ViewState is what the user has done to the graph view. It is persisted
// wholesale after every mutation.
type ViewState struct {
	ExpandedNodes  map[string]struct{}
	PinnedRootIDs  []string
	FocusMode      bool
	SelectedNodeID *string
}

// StateStore persists the view state.
type StateStore interface {
	LoadViewState() (*ViewState, error)
	SaveViewState(*ViewState) error
}

// NewViewState returns an empty state.
func NewViewState() *ViewState {
	return &ViewState{ExpandedNodes: make(map[string]struct{})}
}

// IsExpanded reports whether uri shows its children.
func (s ViewState) IsExpanded(uri string) bool {
	_, ok := s.ExpandedNodes[uri]
	return ok
}

// IsPinned reports whether uri is a pinned root.
func (s ViewState) IsPinned(uri string) bool {
	for _, p := range s.PinnedRootIDs {
		if p == uri {
			return true
		}
	}
	return false
}

// Expanded returns the expanded URIs, sorted.
func (s ViewState) Expanded() []string { return sortedKeys(s.ExpandedNodes) }

// Clone returns a deep copy.
func (s *ViewState) Clone() ViewState {
	c := ViewState{
		ExpandedNodes: make(map[string]struct{}, len(s.ExpandedNodes)),
		PinnedRootIDs: append([]string(nil), s.PinnedRootIDs...),
		FocusMode:     s.FocusMode,
	}
	for k := range s.ExpandedNodes {
		c.ExpandedNodes[k] = struct{}{}
	}
	if s.SelectedNodeID != nil {
		id := *s.SelectedNodeID
		c.SelectedNodeID = &id
	}
	return c
}

// Record is the persisted layout of a ViewState.
type Record struct {
	ExpandedNodes  []string `json:"expandedNodes"`
	PinnedRootIDs  []string `json:"pinnedRootIds"`
	FocusMode      bool     `json:"focusMode"`
	SelectedNodeID *string  `json:"selectedNodeId,omitempty"`
}

// ToRecord converts s to its persisted layout.
func (s *ViewState) ToRecord() Record {
	pinned := s.PinnedRootIDs
	if pinned == nil {
		pinned = []string{}
	}
	return Record{
		ExpandedNodes:  s.Expanded(),
		PinnedRootIDs:  pinned,
		FocusMode:      s.FocusMode,
		SelectedNodeID: s.SelectedNodeID,
	}
}

// FromRecord restores a ViewState. Duplicate pins are dropped and at most
// maxPinned pins are kept.
func FromRecord(r Record, maxPinned int) *ViewState {
	s := NewViewState()
	for _, uri := range r.ExpandedNodes {
		if uri != "" {
			s.ExpandedNodes[uri] = struct{}{}
		}
	}
	for _, uri := range r.PinnedRootIDs {
		if uri == "" || s.IsPinned(uri) {
			continue
		}
		if maxPinned > 0 && len(s.PinnedRootIDs) >= maxPinned {
			break
		}
		s.PinnedRootIDs = append(s.PinnedRootIDs, uri)
	}
	s.FocusMode = r.FocusMode
	if r.SelectedNodeID != nil && *r.SelectedNodeID != "" {
		id := *r.SelectedNodeID
		s.SelectedNodeID = &id
	}
	return s
}

func unpin(pins []string, uri string) []string {
	out := pins[:0:0]
	for _, p := range pins {
		if p != uri {
			out = append(out, p)
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
