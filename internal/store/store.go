// Package store holds the mirrored entities in per-kind tables together with
// a global parent to children index, and implements the mark-and-sweep purge
// that runs at the end of every update.
package store

import (
	"fmt"
	"io"
	"log/slog"
	"sort"

	"github.com/wesm/github-mirror/internal/models"
)

type table struct {
	rows map[string]models.Entity
	// touched holds the ids whose mark changed since the last save
	touched map[string]struct{}
}

func newTable() *table {
	return &table{rows: map[string]models.Entity{}, touched: map[string]struct{}{}}
}

// Store is the normalized entity store. It is not safe for concurrent use;
// callers serialize writes.
type Store struct {
	tables      map[string]*table
	index       Index
	currentUser string
	log         *slog.Logger
}

// New creates an empty store with one table per registered kind
func New(log *slog.Logger) *Store {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Store{tables: map[string]*table{}, index: Index{}, log: log}
	for _, k := range models.Kinds() {
		s.tables[k.Name] = newTable()
	}
	return s
}

func (s *Store) table(kind string) *table {
	t, ok := s.tables[kind]
	if !ok {
		t = newTable()
		s.tables[kind] = t
	}
	return t
}

// Lookup returns the entity of the given kind with id
func (s *Store) Lookup(kind *models.Kind, id string) (models.Entity, bool) {
	return s.lookup(kind.Name, id)
}

func (s *Store) lookup(kind, id string) (models.Entity, bool) {
	e, ok := s.table(kind).rows[id]
	return e, ok
}

// Find returns the entity with id from whichever table holds it
func (s *Store) Find(id string) (models.Entity, bool) {
	for _, t := range s.tables {
		if e, ok := t.rows[id]; ok {
			return e, true
		}
	}
	return nil, false
}

// SetCurrentUser records the authenticated caller
func (s *Store) SetCurrentUser(id string) { s.currentUser = id }

// CurrentUser returns the authenticated caller recorded during this run
func (s *Store) CurrentUser() (*models.User, bool) {
	e, ok := s.lookup(models.UserKind.Name, s.currentUser)
	if !ok {
		return nil, false
	}
	return e.(*models.User), true
}

func (s *Store) setMark(e models.Entity, mark models.SyncMark) {
	b := e.Meta()
	t := s.table(e.Kind().Name)
	switch {
	case mark == models.MarkNone:
		b.Mark = models.MarkNone
		delete(t.touched, b.ID)
		return
	case mark == models.MarkUpdated && b.Mark == models.MarkNew:
		// first sighting this pass wins
	default:
		b.Mark = mark
	}
	t.touched[b.ID] = struct{}{}
}

// Upsert creates or refreshes the entity described by payload and, when
// parent is set, links it to parent through field. A placeholder payload
// refreshes the link and mark of a known entity but never its fields, and
// never creates one. It returns nil when no entity results.
func (s *Store) Upsert(parent models.Entity, field string, kind *models.Kind, payload map[string]any) models.Entity {
	id, _ := payload["id"].(string)
	if id == "" {
		return nil
	}
	t := s.table(kind.Name)
	if e, ok := t.rows[id]; ok {
		if parent != nil {
			s.Link(parent, field, e)
		}
		models.Apply(e, payload)
		s.setMark(e, models.MarkUpdated)
		return e
	}

	e, ok := kind.Construct(payload)
	if !ok {
		return nil
	}
	t.rows[id] = e
	s.setMark(e, models.MarkNew)
	if parent != nil {
		s.Link(parent, field, e)
	}
	return e
}

// Link records child under parent through field. Linking an existing pair
// again refreshes its mark instead of duplicating it.
func (s *Store) Link(parent models.Entity, field string, child models.Entity) {
	parentKind := parent.Kind().Name
	parentID := parent.Meta().ID
	cb := child.Meta()
	key := models.RelationKey(parentKind, field)

	rel := models.Relationship{ParentID: parentID, ParentType: parentKind, Field: field}
	for i, r := range cb.Relationships[key] {
		if r.ParentID == parentID {
			rel.Mark = models.MarkUpdated
			cb.Relationships[key][i] = rel
			s.index.add(parentID, field, cb.ID)
			return
		}
	}
	rel.Mark = models.MarkNew
	if cb.Relationships == nil {
		cb.Relationships = map[string][]models.Relationship{}
	}
	cb.Relationships[key] = append(cb.Relationships[key], rel)
	s.index.add(parentID, field, cb.ID)
}

// Unlink drops the link from child to parentID through field, whether or
// not the parent is still stored
func (s *Store) Unlink(parentKind *models.Kind, parentID, field string, child models.Entity) {
	cb := child.Meta()
	key := models.RelationKey(parentKind.Name, field)
	rels := cb.Relationships[key]
	kept := rels[:0]
	for _, r := range rels {
		if r.ParentID != parentID {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		delete(cb.Relationships, key)
	} else {
		cb.Relationships[key] = kept
	}
	s.index.remove(parentID, field, cb.ID)
}

// Children returns the ids linked under parentID through field
func (s *Store) Children(parentID, field string) []string {
	return s.index.children(parentID, field)
}

func (s *Store) markLink(child models.Entity, parentKind, parentID, field string, mark models.SyncMark) {
	rels := child.Meta().Relationships[models.RelationKey(parentKind, field)]
	for i := range rels {
		if rels[i].ParentID == parentID {
			rels[i].Mark = mark
		}
	}
}

func (s *Store) markOwnLinks(e models.Entity, mark models.SyncMark) {
	for _, rels := range e.Meta().Relationships {
		for i := range rels {
			rels[i].Mark = mark
		}
	}
}

// SetSyncMark marks entities of kind, together with their links to their
// parents. With ids set only those entities are marked. With alsoChildren
// every descendant reachable through the index is marked too, along with
// the link that reaches it.
func (s *Store) SetSyncMark(kind *models.Kind, mark models.SyncMark, alsoChildren bool, ids []string) {
	t := s.table(kind.Name)
	var targets []models.Entity
	if ids == nil {
		for _, e := range t.rows {
			targets = append(targets, e)
		}
	} else {
		for _, id := range ids {
			if e, ok := t.rows[id]; ok {
				targets = append(targets, e)
			}
		}
	}

	seen := map[string]bool{}
	for _, e := range targets {
		s.setMark(e, mark)
		s.markOwnLinks(e, mark)
		if alsoChildren {
			s.markTree(e, mark, seen)
		}
	}
}

func (s *Store) markTree(e models.Entity, mark models.SyncMark, seen map[string]bool) {
	id := e.Meta().ID
	if seen[id] {
		return
	}
	seen[id] = true
	for field := range s.index[id] {
		for _, childID := range s.index.children(id, field) {
			child, ok := s.Find(childID)
			if !ok {
				continue
			}
			s.setMark(child, mark)
			s.markLink(child, e.Kind().Name, id, field, mark)
			s.markTree(child, mark, seen)
		}
	}
}

// MarkChildren marks the children linked under parentID through field, and
// the links themselves, without descending further
func (s *Store) MarkChildren(parentID, field string, mark models.SyncMark) {
	parent, ok := s.Find(parentID)
	if !ok {
		return
	}
	for _, childID := range s.index.children(parentID, field) {
		child, ok := s.Find(childID)
		if !ok {
			continue
		}
		s.setMark(child, mark)
		s.markLink(child, parent.Kind().Name, parentID, field, mark)
	}
}

// PurgeUntouched removes every entity that was not touched this pass, and
// every touched entity whose remote state is terminal. onClose is called for
// the latter before removal. It returns the closed entities.
func (s *Store) PurgeUntouched(onClose func(models.Entity)) []models.Entity {
	var stale, closed []models.Entity
	for _, k := range models.Kinds() {
		for _, e := range s.table(k.Name).rows {
			switch e.Meta().Mark {
			case models.MarkNone:
				stale = append(stale, e)
			case models.MarkUpdated:
				if c, ok := e.(models.Closeable); ok && c.Terminal() {
					closed = append(closed, e)
				}
			}
		}
	}
	sortEntities(closed)
	for _, e := range closed {
		if onClose != nil {
			onClose(e)
		}
		s.remove(e)
	}
	for _, e := range stale {
		s.remove(e)
	}
	s.log.Info("purged untouched entities", "stale", len(stale), "closed", len(closed))
	return closed
}

func (s *Store) remove(e models.Entity) {
	b := e.Meta()
	t := s.table(e.Kind().Name)
	delete(t.rows, b.ID)
	delete(t.touched, b.ID)

	for _, rels := range b.Relationships {
		for _, r := range rels {
			s.index.remove(r.ParentID, r.Field, b.ID)
		}
	}

	kind := e.Kind().Name
	for field := range s.index[b.ID] {
		key := models.RelationKey(kind, field)
		for _, childID := range s.index.children(b.ID, field) {
			child, ok := s.Find(childID)
			if !ok {
				continue
			}
			cb := child.Meta()
			rels := cb.Relationships[key]
			kept := rels[:0]
			for _, r := range rels {
				if r.ParentID != b.ID {
					kept = append(kept, r)
				}
			}
			if len(kept) == 0 {
				delete(cb.Relationships, key)
			} else {
				cb.Relationships[key] = kept
			}
		}
	}
	delete(s.index, b.ID)
}

// PurgeStaleRelationships drops links that were not confirmed this pass and
// links whose parent no longer exists, then resets the marks of the
// surviving links. It returns the number of links dropped.
func (s *Store) PurgeStaleRelationships() int {
	dropped := 0
	for _, t := range s.tables {
		for id, e := range t.rows {
			b := e.Meta()
			for key, rels := range b.Relationships {
				kept := rels[:0]
				for _, r := range rels {
					if r.Mark == models.MarkNone {
						s.index.remove(r.ParentID, r.Field, id)
						dropped++
						continue
					}
					if _, ok := s.lookup(r.ParentType, r.ParentID); !ok {
						s.index.remove(r.ParentID, r.Field, id)
						dropped++
						continue
					}
					r.Mark = models.MarkNone
					kept = append(kept, r)
				}
				if len(kept) == 0 {
					delete(b.Relationships, key)
				} else {
					b.Relationships[key] = kept
				}
			}
		}
	}
	s.log.Info("purged stale relationships", "dropped", dropped)
	return dropped
}

// IDs returns the sorted ids held in the kind's table
func (s *Store) IDs(kind *models.Kind) []string {
	rows := s.table(kind.Name).rows
	ids := make([]string, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Count returns the number of entities of kind
func (s *Store) Count(kind *models.Kind) int {
	return len(s.table(kind.Name).rows)
}

// Select returns the entities of kind that satisfy pred, ordered by id. A
// nil pred selects everything.
func Select[T models.Entity](s *Store, kind *models.Kind, pred func(T) bool) []T {
	var out []T
	for _, id := range s.IDs(kind) {
		e, ok := s.tables[kind.Name].rows[id].(T)
		if !ok {
			continue
		}
		if pred == nil || pred(e) {
			out = append(out, e)
		}
	}
	return out
}

// Load replaces the store contents with the snapshot held by p. Every mark
// is reset to none and duplicate links are collapsed.
func (s *Store) Load(p Persister) error {
	snap, err := p.Load()
	if err != nil {
		return fmt.Errorf("failed to load store: %w", err)
	}
	s.tables = map[string]*table{}
	for _, k := range models.Kinds() {
		s.tables[k.Name] = newTable()
	}
	for kind, rows := range snap.Tables {
		t := s.table(kind)
		for id, e := range rows {
			b := e.Meta()
			if b.ID == "" {
				b.ID = id
			}
			b.Mark = models.MarkNone
			for key, rels := range b.Relationships {
				seen := map[string]bool{}
				uniq := rels[:0]
				for _, r := range rels {
					if seen[r.ParentID] {
						continue
					}
					seen[r.ParentID] = true
					r.Mark = models.MarkNone
					uniq = append(uniq, r)
				}
				b.Relationships[key] = uniq
			}
			t.rows[id] = e
		}
	}
	s.index = snap.Index
	if s.index == nil {
		s.index = Index{}
	}
	s.index.dedupe()
	return nil
}

// Save demotes every touched entity to none and writes the store through p
func (s *Store) Save(p Persister) error {
	for _, t := range s.tables {
		for id := range t.touched {
			if e, ok := t.rows[id]; ok {
				e.Meta().Mark = models.MarkNone
			}
		}
		t.touched = map[string]struct{}{}
	}

	snap := &Snapshot{Tables: map[string]map[string]models.Entity{}, Index: s.index}
	for kind, t := range s.tables {
		snap.Tables[kind] = t.rows
	}
	if err := p.Save(snap); err != nil {
		return fmt.Errorf("failed to save store: %w", err)
	}
	return nil
}

func sortEntities(es []models.Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].Meta().ID < es[j].Meta().ID })
}
