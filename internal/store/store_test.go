package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/wesm/github-mirror/internal/models"
)

func repoPayload(id string) map[string]any {
	return map[string]any{
		"id": id, "__typename": "Repository", "name": "r", "nameWithOwner": "o/" + id,
		"url": "https://github.com/o/r", "isArchived": false, "isPrivate": false,
	}
}

func prPayload(id, state string) map[string]any {
	return map[string]any{
		"id": id, "__typename": "PullRequest", "number": float64(1), "title": "title " + id, "body": "",
		"state": state, "url": "u", "createdAt": "2024-01-01T00:00:00Z", "updatedAt": "2024-01-01T00:00:00Z",
		"isDraft": false, "headRefName": "h", "baseRefName": "b",
	}
}

func labelPayload(id string) map[string]any {
	return map[string]any{"id": id, "__typename": "Label", "name": "bug", "color": "f00", "description": ""}
}

// seed builds R1 with pull requests P1 and P2 and label L1 on P1, then
// persists and reloads so every mark starts at none
func seed(t *testing.T) (*Store, *MemoryPersister) {
	t.Helper()
	s := New(nil)
	repo := s.Upsert(nil, "", models.RepoKind, repoPayload("R1"))
	p1 := s.Upsert(repo, "pullRequests", models.PullRequestKind, prPayload("P1", "OPEN"))
	s.Upsert(repo, "pullRequests", models.PullRequestKind, prPayload("P2", "OPEN"))
	s.Upsert(p1, "labels", models.LabelKind, labelPayload("L1"))

	mp := NewMemoryPersister()
	if err := s.Save(mp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded := New(nil)
	if err := loaded.Load(mp); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return loaded, mp
}

func mustLookup(t *testing.T, s *Store, kind *models.Kind, id string) models.Entity {
	t.Helper()
	e, ok := s.Lookup(kind, id)
	if !ok {
		t.Fatalf("%s %s not found", kind.Name, id)
	}
	return e
}

func TestUpsertMarks(t *testing.T) {
	s := New(nil)
	repo := s.Upsert(nil, "", models.RepoKind, repoPayload("R1"))
	if repo == nil {
		t.Fatal("Upsert returned nil for a full payload")
	}
	if got := repo.Meta().Mark; got != models.MarkNew {
		t.Errorf("mark after create = %v, want new", got)
	}
	s.Upsert(nil, "", models.RepoKind, repoPayload("R1"))
	if got := repo.Meta().Mark; got != models.MarkNew {
		t.Errorf("mark after second sighting = %v, want new", got)
	}

	if e := s.Upsert(repo, "pullRequests", models.PullRequestKind, map[string]any{"id": "PR_9", "__typename": "PullRequest"}); e != nil {
		t.Errorf("placeholder created %v", e.Meta().ID)
	}
	if s.Count(models.PullRequestKind) != 0 {
		t.Error("placeholder left a row behind")
	}
}

func TestUpsertIdempotent(t *testing.T) {
	s := New(nil)
	repo := s.Upsert(nil, "", models.RepoKind, repoPayload("R1"))
	for i := 0; i < 2; i++ {
		s.Upsert(repo, "pullRequests", models.PullRequestKind, prPayload("P1", "OPEN"))
	}
	pr := mustLookup(t, s, models.PullRequestKind, "P1").(*models.PullRequest)
	if pr.Title != "title P1" {
		t.Errorf("Title = %q", pr.Title)
	}
	if got := s.Children("R1", "pullRequests"); !reflect.DeepEqual(got, []string{"P1"}) {
		t.Errorf("Children() = %v, want [P1]", got)
	}
	rels := pr.Relationships[models.RelationKey("Repo", "pullRequests")]
	if len(rels) != 1 {
		t.Fatalf("bucket has %d entries, want 1", len(rels))
	}
	if rels[0].Mark != models.MarkUpdated {
		t.Errorf("relink mark = %v, want updated", rels[0].Mark)
	}
}

func TestPlaceholderRefreshesKnownEntity(t *testing.T) {
	s, _ := seed(t)
	repo := mustLookup(t, s, models.RepoKind, "R1")
	e := s.Upsert(repo, "pullRequests", models.PullRequestKind, map[string]any{"id": "P1", "__typename": "PullRequest"})
	if e == nil {
		t.Fatal("placeholder for a known id returned nil")
	}
	pr := e.(*models.PullRequest)
	if pr.Title != "title P1" {
		t.Errorf("Title = %q, want it unchanged", pr.Title)
	}
	if pr.Mark != models.MarkUpdated {
		t.Errorf("Mark = %v, want updated", pr.Mark)
	}
}

func TestFullPurgeRemovesUnobserved(t *testing.T) {
	s, _ := seed(t)
	repo := s.Upsert(nil, "", models.RepoKind, repoPayload("R1"))
	p1 := s.Upsert(repo, "pullRequests", models.PullRequestKind, prPayload("P1", "OPEN"))
	s.Upsert(p1, "labels", models.LabelKind, labelPayload("L1"))

	s.PurgeUntouched(nil)
	s.PurgeStaleRelationships()

	if _, ok := s.Lookup(models.PullRequestKind, "P2"); ok {
		t.Error("P2 survived a full purge")
	}
	if got := s.Children("R1", "pullRequests"); !reflect.DeepEqual(got, []string{"P1"}) {
		t.Errorf("Children(R1) = %v, want [P1]", got)
	}
	mp := NewMemoryPersister()
	if err := s.Save(mp); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if got := mustLookup(t, s, models.PullRequestKind, "P1").Meta().Mark; got != models.MarkNone {
		t.Errorf("P1 mark after save = %v, want none", got)
	}
}

func TestPurgeClosesTerminal(t *testing.T) {
	s, _ := seed(t)
	s.SetSyncMark(models.RepoKind, models.MarkUpdated, true, nil)
	repo := mustLookup(t, s, models.RepoKind, "R1")
	s.Upsert(repo, "pullRequests", models.PullRequestKind, prPayload("P2", "MERGED"))

	var notified []string
	closed := s.PurgeUntouched(func(e models.Entity) { notified = append(notified, e.Meta().ID) })
	if len(closed) != 1 || !reflect.DeepEqual(notified, []string{"P2"}) {
		t.Errorf("closed = %d, notified = %v; want P2", len(closed), notified)
	}
	if _, ok := s.Lookup(models.PullRequestKind, "P2"); ok {
		t.Error("merged P2 still stored")
	}
	if _, ok := s.Lookup(models.PullRequestKind, "P1"); !ok {
		t.Error("pre-marked P1 was removed")
	}
	if _, ok := s.Lookup(models.LabelKind, "L1"); !ok {
		t.Error("pre-marked descendant L1 was removed")
	}
}

func TestRemoveClearsIndexBothWays(t *testing.T) {
	s, _ := seed(t)
	s.SetSyncMark(models.RepoKind, models.MarkUpdated, false, nil)
	s.SetSyncMark(models.LabelKind, models.MarkUpdated, false, nil)
	s.SetSyncMark(models.PullRequestKind, models.MarkUpdated, false, []string{"P2"})

	s.PurgeUntouched(nil)

	if _, ok := s.index["P1"]; ok {
		t.Error("index still holds removed parent P1")
	}
	for _, id := range s.Children("R1", "pullRequests") {
		if id == "P1" {
			t.Error("index still holds removed child P1")
		}
	}
	label := mustLookup(t, s, models.LabelKind, "L1")
	if len(label.Meta().Relationships) != 0 {
		t.Errorf("label still linked: %v", label.Meta().Relationships)
	}
}

func TestPartialPassKeepsUntouched(t *testing.T) {
	s, _ := seed(t)
	// only P1 is refreshed, without its repo link
	s.Upsert(nil, "", models.PullRequestKind, prPayload("P1", "OPEN"))
	s.PurgeStaleRelationships()

	if s.Count(models.PullRequestKind) != 2 {
		t.Errorf("partial pass removed entities: %v", s.IDs(models.PullRequestKind))
	}
	if got := s.Children("R1", "pullRequests"); len(got) != 0 {
		t.Errorf("unconfirmed links survived: %v", got)
	}
}

func TestMarkChildrenKeepsLinks(t *testing.T) {
	s, _ := seed(t)
	s.MarkChildren("R1", "pullRequests", models.MarkUpdated)
	s.PurgeStaleRelationships()
	if got := s.Children("R1", "pullRequests"); !reflect.DeepEqual(got, []string{"P1", "P2"}) {
		t.Errorf("Children() = %v, want [P1 P2]", got)
	}
	if got := s.Children("P1", "labels"); len(got) != 0 {
		t.Errorf("unmarked grandchild link survived: %v", got)
	}
}

func TestUnlinkDropsBothSides(t *testing.T) {
	s, _ := seed(t)
	p2 := mustLookup(t, s, models.PullRequestKind, "P2")
	s.Unlink(models.RepoKind, "R1", "pullRequests", p2)

	if got := s.Children("R1", "pullRequests"); !reflect.DeepEqual(got, []string{"P1"}) {
		t.Errorf("Children(R1) = %v, want [P1]", got)
	}
	if p2.Meta().HasParent(models.RelationKey("Repo", "pullRequests"), "R1") {
		t.Error("P2 still holds its link to R1")
	}

	// a parent that is no longer stored can be unlinked too
	p1 := mustLookup(t, s, models.PullRequestKind, "P1")
	delete(s.tables[models.RepoKind.Name].rows, "R1")
	s.Unlink(models.RepoKind, "R1", "pullRequests", p1)
	if len(p1.Meta().Relationships) != 0 || len(s.Children("R1", "pullRequests")) != 0 {
		t.Errorf("P1 relationships = %v", p1.Meta().Relationships)
	}
}

func TestOrphanedRelationshipDropped(t *testing.T) {
	s, _ := seed(t)
	s.SetSyncMark(models.PullRequestKind, models.MarkUpdated, false, nil)
	delete(s.tables[models.RepoKind.Name].rows, "R1")
	s.PurgeStaleRelationships()
	pr := mustLookup(t, s, models.PullRequestKind, "P1")
	if pr.Meta().HasParent(models.RelationKey("Repo", "pullRequests"), "R1") {
		t.Error("link to missing repo survived")
	}
}

func TestLoadResetsMarksAndDedupes(t *testing.T) {
	s, mp := seed(t)
	for _, k := range models.Kinds() {
		for _, id := range s.IDs(k) {
			if m := mustLookup(t, s, k, id).Meta().Mark; m != models.MarkNone {
				t.Errorf("%s %s loaded with mark %v", k.Name, id, m)
			}
		}
	}

	var index Index
	data, _ := mp.File(RelationshipsFile)
	if err := json.Unmarshal(data, &index); err != nil {
		t.Fatalf("relationships.json: %v", err)
	}
	index["R1"]["pullRequests"] = append(index["R1"]["pullRequests"], "P1")
	tables, err := mp.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	p1 := tables.Tables["PullRequest"]["P1"].Meta()
	key := models.RelationKey("Repo", "pullRequests")
	p1.Relationships[key] = append(p1.Relationships[key], p1.Relationships[key][0])
	p1.Mark = models.MarkNew
	tables.Index = index
	if err := mp.Save(tables); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded := New(nil)
	if err := reloaded.Load(mp); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := reloaded.Children("R1", "pullRequests"); !reflect.DeepEqual(got, []string{"P1", "P2"}) {
		t.Errorf("Children() = %v, want [P1 P2]", got)
	}
	pr := mustLookup(t, reloaded, models.PullRequestKind, "P1").Meta()
	if len(pr.Relationships[key]) != 1 {
		t.Errorf("bucket has %d entries after load, want 1", len(pr.Relationships[key]))
	}
	if pr.Mark != models.MarkNone {
		t.Errorf("mark = %v after load, want none", pr.Mark)
	}
}

func TestJSONDirRoundTrip(t *testing.T) {
	s, _ := seed(t)
	dir := JSONDir{Dir: filepath.Join(t.TempDir(), "api.github.com")}
	if err := s.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	loaded := New(nil)
	if err := loaded.Load(dir); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	pr := mustLookup(t, loaded, models.PullRequestKind, "P1").(*models.PullRequest)
	if pr.Title != "title P1" || pr.CreatedAt.Year() != 2024 {
		t.Errorf("round trip lost fields: %+v", pr)
	}
	if got := loaded.Children("P1", "labels"); !reflect.DeepEqual(got, []string{"L1"}) {
		t.Errorf("Children(P1, labels) = %v", got)
	}

	empty := New(nil)
	if err := empty.Load(JSONDir{Dir: filepath.Join(t.TempDir(), "missing")}); err != nil {
		t.Fatalf("Load(missing) error = %v", err)
	}
	if empty.Count(models.RepoKind) != 0 {
		t.Error("empty directory produced rows")
	}
}

func TestJSONDirSwapsWholeDirectory(t *testing.T) {
	root := t.TempDir()
	dir := JSONDir{Dir: filepath.Join(root, "api.github.com")}

	s, _ := seed(t)
	if err := s.Save(dir); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	s.Upsert(nil, "", models.RepoKind, repoPayload("R2"))
	if err := s.Save(dir); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "api.github.com" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("leftover directories: %v", names)
	}

	// a save interrupted after moving the old directory aside still loads
	if err := os.Rename(dir.Dir, dir.Dir+".old"); err != nil {
		t.Fatal(err)
	}
	loaded := New(nil)
	if err := loaded.Load(dir); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got := loaded.IDs(models.RepoKind); !reflect.DeepEqual(got, []string{"R1", "R2"}) {
		t.Errorf("IDs(Repo) = %v, want [R1 R2]", got)
	}
	if err := loaded.Save(dir); err != nil {
		t.Fatalf("Save() after interruption error = %v", err)
	}
	if _, err := os.Stat(dir.Dir + ".old"); !os.IsNotExist(err) {
		t.Errorf("previous directory kept after save: %v", err)
	}
}

func TestSelect(t *testing.T) {
	s, _ := seed(t)
	open := Select(s, models.PullRequestKind, func(pr *models.PullRequest) bool { return pr.Title == "title P2" })
	if len(open) != 1 || open[0].ID != "P2" {
		t.Errorf("Select() = %v", open)
	}
	if all := Select[*models.PullRequest](s, models.PullRequestKind, nil); len(all) != 2 {
		t.Errorf("Select(nil) returned %d, want 2", len(all))
	}
}
