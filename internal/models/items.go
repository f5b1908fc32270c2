package models

import "github.com/shurcooL/githubv4"

// PullRequest represents a GitHub pull request
type PullRequest struct {
	Base
	Number      int                       `json:"number"`
	Title       string                    `json:"title"`
	Body        string                    `json:"body"`
	State       githubv4.PullRequestState `json:"state"`
	URL         string                    `json:"url"`
	CreatedAt   githubv4.DateTime         `json:"created_at"`
	UpdatedAt   githubv4.DateTime         `json:"updated_at"`
	IsDraft     bool                      `json:"is_draft"`
	HeadRefName string                    `json:"head_ref_name"`
	BaseRefName string                    `json:"base_ref_name"`
	Author      string                    `json:"author"`
	RepoID      string                    `json:"repo_id"`
	Reactions   int                       `json:"reactions"`
}

// PullRequestKind is the registered kind for pull requests
var PullRequestKind = register(&Kind{
	Name:      "PullRequest",
	Typenames: []string{"PullRequest"},
	MinKeys:   8,
	New:       func() Entity { return &PullRequest{} },
})

func (*PullRequest) Kind() *Kind { return PullRequestKind }

func (pr *PullRequest) fill(p Payload) {
	pr.Number = p.Int("number")
	pr.Title = p.String("title")
	pr.Body = p.String("body")
	pr.State = githubv4.PullRequestState(p.String("state"))
	pr.URL = p.String("url")
	pr.CreatedAt = p.Time("createdAt")
	pr.UpdatedAt = p.Time("updatedAt")
	pr.IsDraft = p.Bool("isDraft")
	pr.HeadRefName = p.String("headRefName")
	pr.BaseRefName = p.String("baseRefName")
	pr.Author = p.Object("author").String("login")
	pr.RepoID = p.Object("repository").String("id")
	pr.Reactions = p.Object("reactions").Int("totalCount")
}

// Terminal reports whether the pull request is closed or merged
func (pr *PullRequest) Terminal() bool {
	return pr.State == githubv4.PullRequestStateClosed || pr.State == githubv4.PullRequestStateMerged
}

// ReactionTotal returns the remote reaction count
func (pr *PullRequest) ReactionTotal() int { return pr.Reactions }

// Issue represents a GitHub issue
type Issue struct {
	Base
	Number    int                 `json:"number"`
	Title     string              `json:"title"`
	Body      string              `json:"body"`
	State     githubv4.IssueState `json:"state"`
	URL       string              `json:"url"`
	CreatedAt githubv4.DateTime   `json:"created_at"`
	UpdatedAt githubv4.DateTime   `json:"updated_at"`
	Author    string              `json:"author"`
	RepoID    string              `json:"repo_id"`
	Reactions int                 `json:"reactions"`
}

// IssueKind is the registered kind for issues
var IssueKind = register(&Kind{
	Name:      "Issue",
	Typenames: []string{"Issue"},
	MinKeys:   8,
	New:       func() Entity { return &Issue{} },
})

func (*Issue) Kind() *Kind { return IssueKind }

func (i *Issue) fill(p Payload) {
	i.Number = p.Int("number")
	i.Title = p.String("title")
	i.Body = p.String("body")
	i.State = githubv4.IssueState(p.String("state"))
	i.URL = p.String("url")
	i.CreatedAt = p.Time("createdAt")
	i.UpdatedAt = p.Time("updatedAt")
	i.Author = p.Object("author").String("login")
	i.RepoID = p.Object("repository").String("id")
	i.Reactions = p.Object("reactions").Int("totalCount")
}

// Terminal reports whether the issue is closed
func (i *Issue) Terminal() bool { return i.State == githubv4.IssueStateClosed }

// ReactionTotal returns the remote reaction count
func (i *Issue) ReactionTotal() int { return i.Reactions }

// Label represents a repository label attached to an item
type Label struct {
	Base
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// LabelKind is the registered kind for labels
var LabelKind = register(&Kind{
	Name:      "Label",
	Typenames: []string{"Label"},
	MinKeys:   4,
	New:       func() Entity { return &Label{} },
})

func (*Label) Kind() *Kind { return LabelKind }

func (l *Label) fill(p Payload) {
	l.Name = p.String("name")
	l.Color = p.String("color")
	l.Description = p.String("description")
}

// Milestone represents a repository milestone
type Milestone struct {
	Base
	Title  string                  `json:"title"`
	Number int                     `json:"number"`
	State  githubv4.MilestoneState `json:"state"`
	DueOn  githubv4.DateTime       `json:"due_on"`
}

// MilestoneKind is the registered kind for milestones
var MilestoneKind = register(&Kind{
	Name:      "Milestone",
	Typenames: []string{"Milestone"},
	MinKeys:   4,
	New:       func() Entity { return &Milestone{} },
})

func (*Milestone) Kind() *Kind { return MilestoneKind }

func (m *Milestone) fill(p Payload) {
	m.Title = p.String("title")
	m.Number = p.Int("number")
	m.State = githubv4.MilestoneState(p.String("state"))
	m.DueOn = p.Time("dueOn")
}

// Status represents one commit status context on the head of a pull request
type Status struct {
	Base
	Context     string               `json:"context"`
	State       githubv4.StatusState `json:"state"`
	Description string               `json:"description"`
	TargetURL   string               `json:"target_url"`
}

// StatusKind is the registered kind for status contexts
var StatusKind = register(&Kind{
	Name:      "Status",
	Typenames: []string{"StatusContext"},
	MinKeys:   4,
	New:       func() Entity { return &Status{} },
})

func (*Status) Kind() *Kind { return StatusKind }

func (s *Status) fill(p Payload) {
	s.Context = p.String("context")
	s.State = githubv4.StatusState(p.String("state"))
	s.Description = p.String("description")
	s.TargetURL = p.String("targetUrl")
}
