package models

import "github.com/shurcooL/githubv4"

// Org represents a GitHub organization
type Org struct {
	Base
	Login string `json:"login"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// OrgKind is the registered kind for organizations
var OrgKind = register(&Kind{
	Name:      "Org",
	Typenames: []string{"Organization"},
	MinKeys:   4,
	New:       func() Entity { return &Org{} },
})

func (*Org) Kind() *Kind { return OrgKind }

func (o *Org) fill(p Payload) {
	o.Login = p.String("login")
	o.Name = p.String("name")
	o.URL = p.String("url")
}

// Repo represents a GitHub repository
type Repo struct {
	Base
	Name          string            `json:"name"`
	NameWithOwner string            `json:"name_with_owner"`
	URL           string            `json:"url"`
	IsArchived    bool              `json:"is_archived"`
	IsPrivate     bool              `json:"is_private"`
	UpdatedAt     githubv4.DateTime `json:"updated_at"`
}

// RepoKind is the registered kind for repositories
var RepoKind = register(&Kind{
	Name:      "Repo",
	Typenames: []string{"Repository"},
	MinKeys:   5,
	New:       func() Entity { return &Repo{} },
})

func (*Repo) Kind() *Kind { return RepoKind }

func (r *Repo) fill(p Payload) {
	r.Name = p.String("name")
	r.NameWithOwner = p.String("nameWithOwner")
	r.URL = p.String("url")
	r.IsArchived = p.Bool("isArchived")
	r.IsPrivate = p.Bool("isPrivate")
	r.UpdatedAt = p.Time("updatedAt")
}

// User represents a GitHub user
type User struct {
	Base
	Login string `json:"login"`
	Name  string `json:"name"`
	URL   string `json:"url"`
}

// UserKind is the registered kind for users
var UserKind = register(&Kind{
	Name:      "User",
	Typenames: []string{"User"},
	MinKeys:   4,
	New:       func() Entity { return &User{} },
})

func (*User) Kind() *Kind { return UserKind }

func (u *User) fill(p Payload) {
	u.Login = p.String("login")
	u.Name = p.String("name")
	u.URL = p.String("url")
}
