package models

import "github.com/shurcooL/githubv4"

// Comment represents an issue, pull request or review comment
type Comment struct {
	Base
	Body      string            `json:"body"`
	URL       string            `json:"url"`
	CreatedAt githubv4.DateTime `json:"created_at"`
	Author    string            `json:"author"`
	Reactions int               `json:"reactions"`
}

// CommentKind is the registered kind for comments
var CommentKind = register(&Kind{
	Name:      "Comment",
	Typenames: []string{"IssueComment", "PullRequestReviewComment"},
	MinKeys:   5,
	New:       func() Entity { return &Comment{} },
})

func (*Comment) Kind() *Kind { return CommentKind }

func (c *Comment) fill(p Payload) {
	c.Body = p.String("body")
	c.URL = p.String("url")
	c.CreatedAt = p.Time("createdAt")
	c.Author = p.Object("author").String("login")
	c.Reactions = p.Object("reactions").Int("totalCount")
}

// ReactionTotal returns the remote reaction count
func (c *Comment) ReactionTotal() int { return c.Reactions }

// Review represents a pull request review
type Review struct {
	Base
	State       githubv4.PullRequestReviewState `json:"state"`
	Body        string                          `json:"body"`
	URL         string                          `json:"url"`
	SubmittedAt githubv4.DateTime               `json:"submitted_at"`
	Author      string                          `json:"author"`
	// NeedsComments is set when the review carries inline comments that are
	// fetched in a separate pass
	NeedsComments bool `json:"needs_comments"`
}

// ReviewKind is the registered kind for reviews
var ReviewKind = register(&Kind{
	Name:      "Review",
	Typenames: []string{"PullRequestReview"},
	MinKeys:   5,
	New:       func() Entity { return &Review{} },
})

func (*Review) Kind() *Kind { return ReviewKind }

func (r *Review) fill(p Payload) {
	r.State = githubv4.PullRequestReviewState(p.String("state"))
	r.Body = p.String("body")
	r.URL = p.String("url")
	r.SubmittedAt = p.Time("submittedAt")
	r.Author = p.Object("author").String("login")
	r.NeedsComments = p.Object("comments").Int("totalCount") > 0
}

// ReviewRequest represents a pending review request on a pull request
type ReviewRequest struct {
	Base
	// Reviewer is a user login or a team slug
	Reviewer string `json:"reviewer"`
}

// ReviewRequestKind is the registered kind for review requests
var ReviewRequestKind = register(&Kind{
	Name:      "ReviewRequest",
	Typenames: []string{"ReviewRequest"},
	MinKeys:   3,
	New:       func() Entity { return &ReviewRequest{} },
})

func (*ReviewRequest) Kind() *Kind { return ReviewRequestKind }

func (rr *ReviewRequest) fill(p Payload) {
	reviewer := p.Object("requestedReviewer")
	rr.Reviewer = reviewer.String("login")
	if rr.Reviewer == "" {
		rr.Reviewer = reviewer.String("slug")
	}
}

// Reaction represents an emoji reaction
type Reaction struct {
	Base
	Content   githubv4.ReactionContent `json:"content"`
	CreatedAt githubv4.DateTime        `json:"created_at"`
	User      string                   `json:"user"`
}

// ReactionKind is the registered kind for reactions
var ReactionKind = register(&Kind{
	Name:      "Reaction",
	Typenames: []string{"Reaction"},
	MinKeys:   4,
	New:       func() Entity { return &Reaction{} },
})

func (*Reaction) Kind() *Kind { return ReactionKind }

func (r *Reaction) fill(p Payload) {
	r.Content = githubv4.ReactionContent(p.String("content"))
	r.CreatedAt = p.Time("createdAt")
	r.User = p.Object("user").String("login")
}
