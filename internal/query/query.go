package query

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/wesm/github-mirror/internal/models"
)

const rateLimitSelection = "rateLimit { cost remaining resetAt nodeCount limit }"

// Query is one request/response round trip
type Query struct {
	// Name labels the query in logs and errors
	Name string
	Root Element
	// Parent scopes the root under node(id:) of an existing entity
	Parent models.Entity
	// Field is the parent field being traversed
	Field string
	// Subquery marks continuations, which log at debug level
	Subquery bool
}

// Text renders the full request text: the root selection, the rate limit
// selection and every reachable fragment declared once
func (q *Query) Text() string {
	root := q.Root.QueryText()
	if q.Parent != nil {
		meta := q.Parent.Meta()
		root = fmt.Sprintf("node(id: %s) { ... on %s { %s } }", strconv.Quote(meta.ID), meta.Typename, root)
	}

	var b strings.Builder
	b.WriteString("query { ")
	b.WriteString(root)
	b.WriteString(" ")
	b.WriteString(rateLimitSelection)
	b.WriteString(" }")
	for _, f := range uniqueFragments(q.Root) {
		b.WriteString("\n")
		b.WriteString(f.Declaration())
	}
	return b.String()
}

func uniqueFragments(e Element) []*Fragment {
	byName := map[string]*Fragment{}
	for _, f := range e.Fragments() {
		if _, ok := byName[f.name]; !ok {
			byName[f.name] = f
		}
	}
	out := make([]*Fragment, 0, len(byName))
	for _, f := range byName {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// Error reports a query that failed on every attempt of its retry budget
type Error struct {
	Query    string
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("query %s failed after %d attempts: %v", e.Query, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
