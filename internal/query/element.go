// Package query builds GraphQL query text from declarative element trees and
// ingests the responses into a store, producing continuation queries for
// pages and id batches the response did not cover.
package query

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/wesm/github-mirror/internal/models"
)

// Element is one node of a query tree
type Element interface {
	// Name is the key the element's data appears under in a response
	Name() string
	// QueryText renders the element at its use site
	QueryText() string
	// Fragments returns every named fragment reachable from the element
	Fragments() []*Fragment

	// inline elements receive their enclosing object instead of a value
	// nested under their name
	inline() bool
	ingest(ic *ingestContext, parent models.Entity, data any, level int) []*Query
}

// Store is the write side of the entity store used during ingestion
type Store interface {
	// Upsert creates or refreshes the entity described by payload and links
	// it to parent through field. It returns nil when no entity results.
	Upsert(parent models.Entity, field string, kind *models.Kind, payload map[string]any) models.Entity
	SetCurrentUser(id string)
}

type ingestContext struct {
	store Store
	log   *slog.Logger
}

// resolve dispatches a node on its __typename. It returns the entity that
// children of the node hang off and whether the children should be visited.
func (ic *ingestContext) resolve(parent models.Entity, field string, node map[string]any, level int) (models.Entity, bool) {
	typename, _ := node["__typename"].(string)
	if typename == "" {
		return parent, true
	}
	kind, known := models.Resolve(typename)
	if kind == nil {
		if !known {
			ic.log.Warn("skipping unhandled type", "typename", typename, "field", field)
			return nil, false
		}
		return parent, true
	}
	e := ic.store.Upsert(parent, field, kind, node)
	if e == nil {
		return nil, false
	}
	if parent == nil && level == 0 && kind == models.UserKind {
		ic.store.SetCurrentUser(e.Meta().ID)
	}
	return e, true
}

func ingestChildren(ic *ingestContext, parent models.Entity, node map[string]any, children []Element, level int) []*Query {
	var conts []*Query
	for _, child := range children {
		if child.inline() {
			conts = append(conts, child.ingest(ic, parent, node, level)...)
			continue
		}
		v, ok := node[child.Name()]
		if !ok || v == nil {
			continue
		}
		conts = append(conts, child.ingest(ic, parent, v, level)...)
	}
	return conts
}

func childText(children []Element) string {
	parts := make([]string, 0, len(children))
	for _, c := range children {
		parts = append(parts, c.QueryText())
	}
	return strings.Join(parts, " ")
}

func childFragments(children []Element) []*Fragment {
	var out []*Fragment
	for _, c := range children {
		out = append(out, c.Fragments()...)
	}
	return out
}

// Field is a scalar leaf
type Field string

func (f Field) Name() string { return string(f) }

func (f Field) QueryText() string { return string(f) }

func (Field) Fragments() []*Fragment { return nil }

func (Field) inline() bool { return false }

func (Field) ingest(*ingestContext, models.Entity, any, int) []*Query { return nil }

// Fields is shorthand for a list of scalar leaves
func Fields(names ...string) []Element {
	out := make([]Element, len(names))
	for i, n := range names {
		out[i] = Field(n)
	}
	return out
}

// Fragment is a named field set bound to one remote type
type Fragment struct {
	name     string
	on       string
	children []Element
}

// NewFragment creates a fragment on the given remote type
func NewFragment(name, on string, children ...Element) *Fragment {
	return &Fragment{name: name, on: on, children: children}
}

func (f *Fragment) Name() string { return f.name }

func (f *Fragment) QueryText() string { return "..." + f.name }

func (f *Fragment) inline() bool { return true }

// Declaration renders the fragment definition
func (f *Fragment) Declaration() string {
	body := childText(f.children)
	if body != "" {
		body = " " + body
	}
	return fmt.Sprintf("fragment %s on %s { __typename%s }", f.name, f.on, body)
}

func (f *Fragment) Fragments() []*Fragment {
	return append([]*Fragment{f}, childFragments(f.children)...)
}

func (f *Fragment) ingest(ic *ingestContext, parent models.Entity, data any, level int) []*Query {
	node, ok := data.(map[string]any)
	if !ok {
		return nil
	}
	return ingestChildren(ic, parent, node, f.children, level)
}

// NodeHook observes the raw payload of every node a group resolves, along
// with the entity the group hangs off
type NodeHook func(parent models.Entity, node map[string]any)

// Group is a nested object or, when paged, a connection. Builders return
// copies; a group is never mutated after construction.
type Group struct {
	name     string
	alias    string
	args     string
	pageSize int
	last     bool
	cursor   string
	children []Element
	onNode   NodeHook
}

// NewGroup creates an object selection
func NewGroup(name string, children ...Element) *Group {
	return &Group{name: name, children: children}
}

// Paged returns a copy fetched as a connection in pages of n
func (g *Group) Paged(n int) *Group {
	c := *g
	c.pageSize = n
	c.last = false
	return &c
}

// Latest returns a copy fetching only the most recent connection entry
func (g *Group) Latest() *Group {
	c := *g
	c.last = true
	c.pageSize = 0
	return &c
}

// WithArgs returns a copy with extra field arguments, rendered verbatim
func (g *Group) WithArgs(args string) *Group {
	c := *g
	c.args = args
	return &c
}

// As returns a copy selected under an alias
func (g *Group) As(alias string) *Group {
	c := *g
	c.alias = alias
	return &c
}

// OnNode returns a copy that reports every node it ingests to fn
func (g *Group) OnNode(fn NodeHook) *Group {
	c := *g
	c.onNode = fn
	return &c
}

// Cursor returns the page cursor the group resumes after
func (g *Group) Cursor() string { return g.cursor }

func (g *Group) Name() string {
	if g.alias != "" {
		return g.alias
	}
	return g.name
}

func (g *Group) paged() bool { return g.pageSize > 0 || g.last }

func (g *Group) inline() bool { return false }

func (g *Group) QueryText() string {
	head := g.name
	if g.alias != "" {
		head = g.alias + ": " + g.name
	}
	var args []string
	if g.args != "" {
		args = append(args, g.args)
	}
	switch {
	case g.last:
		args = append(args, "last: 1")
	case g.pageSize > 0:
		args = append(args, "first: "+strconv.Itoa(g.pageSize))
		if g.cursor != "" {
			args = append(args, "after: "+strconv.Quote(g.cursor))
		}
	}
	if len(args) > 0 {
		head += "(" + strings.Join(args, ", ") + ")"
	}
	body := childText(g.children)
	if g.paged() {
		return head + " { edges { node { " + body + " } cursor } pageInfo { hasNextPage } }"
	}
	return head + " { " + body + " }"
}

func (g *Group) Fragments() []*Fragment { return childFragments(g.children) }

func (g *Group) ingest(ic *ingestContext, parent models.Entity, data any, level int) []*Query {
	switch v := data.(type) {
	case map[string]any:
		edges, ok := v["edges"].([]any)
		if !ok {
			return g.ingestNode(ic, parent, v, level)
		}
		var conts []*Query
		var cursor string
		for _, raw := range edges {
			edge, _ := raw.(map[string]any)
			if edge == nil {
				continue
			}
			if c, ok := edge["cursor"].(string); ok {
				cursor = c
			}
			if node, ok := edge["node"].(map[string]any); ok {
				conts = append(conts, g.ingestNode(ic, parent, node, level)...)
			}
		}
		pageInfo, _ := v["pageInfo"].(map[string]any)
		if more, _ := pageInfo["hasNextPage"].(bool); more && !g.last && cursor != "" {
			next := *g
			next.cursor = cursor
			conts = append(conts, &Query{
				Name:     g.name,
				Root:     &next,
				Parent:   parent,
				Field:    g.name,
				Subquery: true,
			})
		}
		return conts
	case []any:
		var conts []*Query
		for _, raw := range v {
			if node, ok := raw.(map[string]any); ok {
				conts = append(conts, g.ingestNode(ic, parent, node, level)...)
			}
		}
		return conts
	}
	return nil
}

func (g *Group) ingestNode(ic *ingestContext, parent models.Entity, node map[string]any, level int) []*Query {
	if g.onNode != nil {
		g.onNode(parent, node)
	}
	entity, ok := ic.resolve(parent, g.name, node, level)
	if !ok {
		return nil
	}
	return ingestChildren(ic, entity, node, g.children, level+1)
}

// BatchGroup fetches a fixed set of nodes by id. Only the current page of
// ids is rendered; the rest are carried by a continuation.
type BatchGroup struct {
	template *Group
	ids      []string
	pageSize int
	offset   int
	onNode   func(node map[string]any)
}

// NewBatch creates a batch over ids using template as the per-node
// selection. Ids are deduplicated and sorted.
func NewBatch(template *Group, ids []string, pageSize int) *BatchGroup {
	if pageSize <= 0 {
		pageSize = 1
	}
	seen := make(map[string]bool, len(ids))
	uniq := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Strings(uniq)
	return &BatchGroup{template: template, ids: uniq, pageSize: pageSize}
}

// OnNode returns a copy that reports every returned node to fn
func (b *BatchGroup) OnNode(fn func(node map[string]any)) *BatchGroup {
	c := *b
	c.onNode = fn
	return &c
}

// IDs returns the ids covered by this batch and its continuations
func (b *BatchGroup) IDs() []string { return b.ids }

// Page returns the ids rendered by this batch
func (b *BatchGroup) Page() []string {
	if len(b.ids) > b.pageSize {
		return b.ids[:b.pageSize]
	}
	return b.ids
}

func (b *BatchGroup) clone(i int, id string) *Group {
	c := *b.template
	c.alias = "b" + strconv.Itoa(b.offset+i)
	c.args = "id: " + strconv.Quote(id)
	return &c
}

func (b *BatchGroup) Name() string { return b.template.name }

func (b *BatchGroup) inline() bool { return true }

func (b *BatchGroup) Fragments() []*Fragment { return b.template.Fragments() }

func (b *BatchGroup) QueryText() string {
	page := b.Page()
	parts := make([]string, len(page))
	for i, id := range page {
		parts[i] = b.clone(i, id).QueryText()
	}
	return strings.Join(parts, " ")
}

func (b *BatchGroup) ingest(ic *ingestContext, parent models.Entity, data any, level int) []*Query {
	page := b.Page()
	var conts []*Query
	if rest := b.ids[len(page):]; len(rest) > 0 {
		next := *b
		next.ids = rest
		next.offset = b.offset + len(page)
		conts = append(conts, &Query{Name: b.Name(), Root: &next, Subquery: true})
	}
	container, _ := data.(map[string]any)
	for i, id := range page {
		clone := b.clone(i, id)
		node, ok := container[clone.Name()].(map[string]any)
		if !ok {
			continue
		}
		if b.onNode != nil {
			b.onNode(node)
		}
		conts = append(conts, clone.ingest(ic, parent, node, level+1)...)
	}
	return conts
}
