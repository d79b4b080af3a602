package forestcache

import "time"

// State is the freshness of the cached forest.
type State int

// Cache states.
const (
	StateInvalid State = iota
	StateUpdating
	StateValid
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateValid:
		return "valid"
	case StateUpdating:
		return "updating"
	default:
		return "invalid"
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Status is reported out of band so callers can tell an empty forest from a
// failed fetch.
type Status struct {
	State     State     `json:"state"`
	Reason    string    `json:"reason,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// String renders the status the way a status bar would show it.
func (s Status) String() string {
	if s.State == StateInvalid && s.Reason != "" {
		return "invalid(" + s.Reason + ")"
	}
	return s.State.String()
}
