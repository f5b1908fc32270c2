package models

import (
	"encoding/json"
	"testing"

	"github.com/shurcooL/githubv4"
)

func prPayload(id, title, state string) map[string]any {
	return map[string]any{
		"id":          id,
		"__typename":  "PullRequest",
		"number":      float64(7),
		"title":       title,
		"body":        "",
		"state":       state,
		"url":         "https://github.com/o/r/pull/7",
		"createdAt":   "2024-01-02T03:04:05Z",
		"updatedAt":   "2024-01-03T03:04:05Z",
		"isDraft":     false,
		"headRefName": "feature",
		"baseRefName": "main",
		"author":      map[string]any{"login": "octocat"},
		"repository":  map[string]any{"id": "R1"},
		"reactions":   map[string]any{"totalCount": float64(2)},
	}
}

func TestConstructRejectsPlaceholder(t *testing.T) {
	stub := map[string]any{"id": "PR_9", "__typename": "PullRequest"}
	if e, ok := PullRequestKind.Construct(stub); ok || e != nil {
		t.Fatalf("Construct(stub) = %v, %v; want nil, false", e, ok)
	}

	noID := prPayload("", "x", "OPEN")
	if _, ok := PullRequestKind.Construct(noID); ok {
		t.Error("Construct without id succeeded")
	}
}

func TestConstructFillsFields(t *testing.T) {
	e, ok := PullRequestKind.Construct(prPayload("P1", "Add thing", "OPEN"))
	if !ok {
		t.Fatal("Construct failed on a full payload")
	}
	pr := e.(*PullRequest)
	if pr.ID != "P1" || pr.Typename != "PullRequest" {
		t.Errorf("base = %q/%q, want P1/PullRequest", pr.ID, pr.Typename)
	}
	if pr.Number != 7 {
		t.Errorf("Number = %d, want 7", pr.Number)
	}
	if pr.Author != "octocat" {
		t.Errorf("Author = %q, want %q", pr.Author, "octocat")
	}
	if pr.RepoID != "R1" {
		t.Errorf("RepoID = %q, want %q", pr.RepoID, "R1")
	}
	if pr.ReactionTotal() != 2 {
		t.Errorf("ReactionTotal() = %d, want 2", pr.ReactionTotal())
	}
	if pr.CreatedAt.Year() != 2024 {
		t.Errorf("CreatedAt = %v, want 2024", pr.CreatedAt)
	}
	if pr.Terminal() {
		t.Error("open pull request reported terminal")
	}
}

func TestApplyPlaceholderLeavesFields(t *testing.T) {
	e, _ := PullRequestKind.Construct(prPayload("P1", "Original", "OPEN"))
	stub := map[string]any{"id": "P1", "__typename": "PullRequest", "title": "Stub"}
	if Apply(e, stub) {
		t.Error("Apply(stub) = true, want false")
	}
	if got := e.(*PullRequest).Title; got != "Original" {
		t.Errorf("Title = %q, want %q", got, "Original")
	}

	if !Apply(e, prPayload("P1", "Renamed", "MERGED")) {
		t.Fatal("Apply(full) = false, want true")
	}
	pr := e.(*PullRequest)
	if pr.Title != "Renamed" {
		t.Errorf("Title = %q, want %q", pr.Title, "Renamed")
	}
	if pr.State != githubv4.PullRequestStateMerged || !pr.Terminal() {
		t.Errorf("State = %q, want MERGED and terminal", pr.State)
	}
}

func TestThresholds(t *testing.T) {
	want := map[string]int{
		"Org": 4, "Repo": 5, "PullRequest": 8, "Issue": 8, "Comment": 5, "Review": 5,
		"ReviewRequest": 3, "Label": 4, "Milestone": 4, "Status": 4, "Reaction": 4, "User": 4,
	}
	ks := Kinds()
	if len(ks) != len(want) {
		t.Fatalf("len(Kinds()) = %d, want %d", len(ks), len(want))
	}
	for _, k := range ks {
		if k.MinKeys != want[k.Name] {
			t.Errorf("%s.MinKeys = %d, want %d", k.Name, k.MinKeys, want[k.Name])
		}
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		typename string
		kind     string
		known    bool
	}{
		{"Repository", "Repo", true},
		{"IssueComment", "Comment", true},
		{"PullRequestReviewComment", "Comment", true},
		{"StatusContext", "Status", true},
		{"Commit", "", true},
		{"Team", "", true},
		{"Gist", "", false},
	}
	for _, tt := range tests {
		k, known := Resolve(tt.typename)
		name := ""
		if k != nil {
			name = k.Name
		}
		if name != tt.kind || known != tt.known {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.typename, name, known, tt.kind, tt.known)
		}
	}
}

func TestReviewRequestReviewer(t *testing.T) {
	e, ok := ReviewRequestKind.Construct(map[string]any{
		"id":                "RR1",
		"__typename":        "ReviewRequest",
		"requestedReviewer": map[string]any{"__typename": "Team", "slug": "core"},
	})
	if !ok {
		t.Fatal("Construct failed")
	}
	if got := e.(*ReviewRequest).Reviewer; got != "core" {
		t.Errorf("Reviewer = %q, want %q", got, "core")
	}
}

func TestSyncMarkJSON(t *testing.T) {
	rel := Relationship{ParentID: "R1", ParentType: "Repo", Field: "pullRequests", Mark: MarkUpdated}
	data, err := json.Marshal(rel)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var back Relationship
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if back != rel {
		t.Errorf("round trip = %+v, want %+v", back, rel)
	}
	var m SyncMark
	if err := m.UnmarshalText([]byte("bogus")); err == nil {
		t.Error("UnmarshalText(bogus) succeeded")
	}
}
