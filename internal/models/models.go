package models

import (
	"fmt"
	"sort"
	"time"
)

// SyncMark is the per-pass mark-and-sweep state of an entity or relationship
type SyncMark int

const (
	// MarkNone means not touched during the current pass
	MarkNone SyncMark = iota
	// MarkNew means first observed during the current pass
	MarkNew
	// MarkUpdated means observed again during the current pass
	MarkUpdated
)

// String returns the persisted name of the mark
func (m SyncMark) String() string {
	switch m {
	case MarkNew:
		return "new"
	case MarkUpdated:
		return "updated"
	default:
		return "none"
	}
}

// MarshalText implements encoding.TextMarshaler
func (m SyncMark) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *SyncMark) UnmarshalText(text []byte) error {
	switch string(text) {
	case "none", "":
		*m = MarkNone
	case "new":
		*m = MarkNew
	case "updated":
		*m = MarkUpdated
	default:
		return fmt.Errorf("unknown sync mark %q", text)
	}
	return nil
}

// Relationship is a directed edge from a child entity to its parent, scoped by
// the field name the child was reached through
type Relationship struct {
	ParentID   string   `json:"parent_id"`
	ParentType string   `json:"parent_type"`
	Field      string   `json:"field"`
	Mark       SyncMark `json:"mark"`
}

// RelationKey returns the bucket key used inside a child entity for edges
// into parents of the given kind through the given field
func RelationKey(parentKind, field string) string {
	return parentKind + ":" + field
}

// Base carries the fields shared by every stored entity
type Base struct {
	ID            string                    `json:"id"`
	Typename      string                    `json:"__typename"`
	Mark          SyncMark                  `json:"mark"`
	Relationships map[string][]Relationship `json:"relationships,omitempty"`
}

// Meta returns the shared entity fields
func (b *Base) Meta() *Base { return b }

// HasParent reports whether the bucket for key holds an edge to parentID
func (b *Base) HasParent(key, parentID string) bool {
	for _, rel := range b.Relationships[key] {
		if rel.ParentID == parentID {
			return true
		}
	}
	return false
}

// ParentIDs returns the parent ids held in the bucket for key
func (b *Base) ParentIDs(key string) []string {
	rels := b.Relationships[key]
	ids := make([]string, 0, len(rels))
	for _, rel := range rels {
		ids = append(ids, rel.ParentID)
	}
	return ids
}

// Entity is a stored representation of one remote object
type Entity interface {
	Meta() *Base
	Kind() *Kind
	fill(p Payload)
}

// Closeable is implemented by entities whose remote state can become terminal
type Closeable interface {
	Entity
	Terminal() bool
}

// Reactable is implemented by entities that carry a remote reaction count
type Reactable interface {
	Entity
	ReactionTotal() int
}

// Kind describes one entity type: its stored name, the remote typenames that
// map onto it and the minimum number of payload keys that count as real data
type Kind struct {
	Name      string
	Typenames []string
	MinKeys   int
	New       func() Entity
}

// Construct builds a new entity from a payload. It fails when the payload has
// no id or is a placeholder stub.
func (k *Kind) Construct(payload map[string]any) (Entity, bool) {
	id, _ := payload["id"].(string)
	if id == "" || len(payload) < k.MinKeys {
		return nil, false
	}
	e := k.New()
	b := e.Meta()
	b.ID = id
	b.Typename, _ = payload["__typename"].(string)
	e.fill(Payload(payload))
	return e, true
}

// Apply maps a payload onto an existing entity. Placeholder payloads are
// rejected and leave every field unchanged.
func Apply(e Entity, payload map[string]any) bool {
	if len(payload) < e.Kind().MinKeys {
		return false
	}
	if tn, ok := payload["__typename"].(string); ok && tn != "" {
		e.Meta().Typename = tn
	}
	e.fill(Payload(payload))
	return true
}

var (
	kinds      = map[string]*Kind{}
	byTypename = map[string]*Kind{}

	// structural typenames carry no entity of their own
	structural = map[string]bool{
		"PullRequestCommit": true,
		"Commit":            true,
		"Status":            true,
		"Team":              true,
		"Bot":               true,
		"Mannequin":         true,
	}
)

func register(k *Kind) *Kind {
	kinds[k.Name] = k
	for _, tn := range k.Typenames {
		byTypename[tn] = k
	}
	return k
}

// Kinds returns every registered kind ordered by name
func Kinds() []*Kind {
	out := make([]*Kind, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// KindByName returns the kind registered under a stored kind name
func KindByName(name string) (*Kind, bool) {
	k, ok := kinds[name]
	return k, ok
}

// Resolve maps a remote __typename onto a kind. The second result reports
// whether the typename is known at all (structural typenames are known but
// have no kind).
func Resolve(typename string) (*Kind, bool) {
	if k, ok := byTypename[typename]; ok {
		return k, true
	}
	return nil, structural[typename]
}

// SyncMetadata tracks the last successful sync for a scope
type SyncMetadata struct {
	Scope        string
	LastSyncTime time.Time
}

// SyncRun records the outcome of one completed update
type SyncRun struct {
	ID          string
	StartedAt   time.Time
	FinishedAt  time.Time
	FullPurge   bool
	Cost        int
	Remaining   int
	NodeCount   int
	Requests    int
	NewItems    int
	ClosedItems int
}
