package sync

import (
	"github.com/wesm/github-mirror/internal/query"
)

// Field sets shared by every wave. Nested objects without __typename, such
// as author or repository, are read by the owning entity and never stored
// on their own.

func login(name string) *query.Group {
	return query.NewGroup(name, query.Field("login"))
}

func totalCount(name string) *query.Group {
	return query.NewGroup(name, query.Field("totalCount"))
}

var (
	userFields = query.NewFragment("UserFields", "User",
		query.Fields("id", "login", "name", "url")...)

	orgFields = query.NewFragment("OrgFields", "Organization",
		query.Fields("id", "login", "name", "url")...)

	repoFields = query.NewFragment("RepoFields", "Repository",
		query.Fields("id", "name", "nameWithOwner", "url", "isArchived", "isPrivate", "updatedAt")...)

	labelFields = query.NewFragment("LabelFields", "Label",
		query.Fields("id", "name", "color", "description")...)

	milestoneFields = query.NewFragment("MilestoneFields", "Milestone",
		query.Fields("id", "title", "number", "state", "dueOn")...)

	statusFields = query.NewFragment("StatusFields", "StatusContext",
		query.Fields("id", "context", "state", "description", "targetUrl")...)

	reactionFields = query.NewFragment("ReactionFields", "Reaction",
		append(query.Fields("id", "content", "createdAt"), login("user"))...)

	reviewerUser = query.NewFragment("ReviewerUser", "User", query.Field("login"))
	reviewerTeam = query.NewFragment("ReviewerTeam", "Team", query.Field("slug"))

	reviewRequestFields = query.NewFragment("ReviewRequestFields", "ReviewRequest",
		query.Field("id"),
		query.NewGroup("requestedReviewer", reviewerUser, reviewerTeam),
	)
)

func commentFields(name, on string) *query.Fragment {
	return query.NewFragment(name, on,
		append(query.Fields("id", "body", "url", "createdAt"),
			login("author"),
			totalCount("reactions"),
		)...)
}

var (
	issueCommentFields  = commentFields("IssueCommentFields", "IssueComment")
	reviewCommentFields = commentFields("ReviewCommentFields", "PullRequestReviewComment")

	reviewFields = query.NewFragment("ReviewFields", "PullRequestReview",
		append(query.Fields("id", "state", "body", "url", "submittedAt"),
			login("author"),
			totalCount("comments"),
		)...)
)

// itemFields lists what pull requests and issues share
func itemFields(pageSize int) []query.Element {
	return append(
		query.Fields("id", "number", "title", "body", "state", "url", "createdAt", "updatedAt"),
		login("author"),
		query.NewGroup("repository", query.Field("id")),
		totalCount("reactions"),
		query.NewGroup("labels", labelFields).Paged(pageSize),
		query.NewGroup("milestone", milestoneFields),
		query.NewGroup("comments", issueCommentFields).Paged(pageSize),
	)
}

func pullRequestFields(pageSize int) *query.Fragment {
	children := append(itemFields(pageSize),
		query.Field("isDraft"),
		query.Field("headRefName"),
		query.Field("baseRefName"),
		query.NewGroup("reviews", reviewFields).Paged(pageSize),
		query.NewGroup("reviewRequests", reviewRequestFields).Paged(pageSize),
		query.NewGroup("commits",
			query.NewGroup("commit",
				query.NewGroup("status",
					query.NewGroup("contexts", statusFields),
				),
			),
		).Latest(),
	)
	return query.NewFragment("PullRequestFields", "PullRequest", children...)
}

func issueFields(pageSize int) *query.Fragment {
	return query.NewFragment("IssueFields", "Issue", itemFields(pageSize)...)
}

// viewerTree selects the caller, their organizations with each
// organization's repositories, and the repositories they own or watch
func viewerTree(pageSize int) *query.Group {
	return query.NewGroup("viewer",
		userFields,
		query.NewGroup("organizations",
			orgFields,
			query.NewGroup("repositories", repoFields).Paged(pageSize),
		).Paged(pageSize),
		query.NewGroup("repositories", repoFields).
			WithArgs("ownerAffiliations: [OWNER]").
			Paged(pageSize),
		query.NewGroup("watching", repoFields).Paged(pageSize),
	)
}

// openItemIDs selects only the ids of a repository's open pull requests
// and issues. hook sees every node with its repository.
func openItemIDs(pageSize int, hook query.NodeHook) *query.Fragment {
	ids := query.Fields("id", "__typename")
	return query.NewFragment("OpenItemIds", "Repository",
		query.Field("id"),
		query.NewGroup("pullRequests", ids...).
			WithArgs("states: [OPEN]").
			Paged(pageSize).
			OnNode(hook),
		query.NewGroup("issues", ids...).
			WithArgs("states: [OPEN]").
			Paged(pageSize).
			OnNode(hook),
	)
}

func reviewComments(pageSize int) *query.Fragment {
	return query.NewFragment("ReviewComments", "PullRequestReview",
		query.Field("id"),
		query.NewGroup("comments", reviewCommentFields).Paged(pageSize),
	)
}

func reactionList(pageSize int) *query.Fragment {
	return query.NewFragment("ReactionList", "Reactable",
		query.Field("id"),
		query.NewGroup("reactions", reactionFields).Paged(pageSize),
	)
}

func byID(f *query.Fragment) *query.Group {
	return query.NewGroup("node", f)
}
