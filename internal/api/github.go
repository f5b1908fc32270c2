package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// GitHubClient represents a client for the GitHub REST API, used for lookups
// that do not spend GraphQL points
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a REST client for the host serving the given
// GraphQL endpoint
func NewGitHubClient(endpoint, token string) (*GitHubClient, error) {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	client := github.NewClient(tc)
	if base := RESTBaseURL(endpoint); base != "" {
		var err error
		client, err = client.WithEnterpriseURLs(base, base)
		if err != nil {
			return nil, fmt.Errorf("failed to configure enterprise URLs: %w", err)
		}
	}
	return &GitHubClient{client: client}, nil
}

// GraphQLRateLimit returns the GraphQL budget as reported by the REST
// rate_limit endpoint
func (c *GitHubClient) GraphQLRateLimit(ctx context.Context) (*RateLimit, error) {
	limits, _, err := c.client.RateLimit.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get rate limits: %w", err)
	}
	if limits == nil || limits.GraphQL == nil {
		return nil, fmt.Errorf("rate limit response has no graphql section")
	}
	return &RateLimit{
		Limit:     limits.GraphQL.Limit,
		Remaining: limits.GraphQL.Remaining,
		ResetAt:   limits.GraphQL.Reset.Time,
	}, nil
}

// RESTBaseURL derives the REST API base URL from a GraphQL endpoint. It is
// empty for public GitHub, where the client default applies.
func RESTBaseURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" || u.Host == "api.github.com" {
		return ""
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + "/api/v3/"
}
