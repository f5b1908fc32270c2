package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shurcooL/githubv4"
	"golang.org/x/oauth2"
)

// DefaultEndpoint is the public GitHub GraphQL endpoint
const DefaultEndpoint = "https://api.github.com/graphql"

// GraphQLClient represents a client for a GitHub GraphQL endpoint. Raw query
// text goes through Do; typed lookups go through githubv4.
type GraphQLClient struct {
	endpoint string
	http     *http.Client
	v4       *githubv4.Client
}

// NewGraphQLClient creates a client that authenticates every request with
// a bearer token
func NewGraphQLClient(endpoint, token string) *GraphQLClient {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	src := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(context.Background(), src)

	var v4 *githubv4.Client
	if isPublicGitHub(endpoint) {
		v4 = githubv4.NewClient(httpClient)
	} else {
		v4 = githubv4.NewEnterpriseClient(endpoint, httpClient)
	}
	return &GraphQLClient{endpoint: endpoint, http: httpClient, v4: v4}
}

// GraphQLError is one entry of a response's errors array
type GraphQLError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
	Path    []any  `json:"path,omitempty"`
}

// Response is the decoded envelope of a GraphQL response
type Response struct {
	Data    map[string]any `json:"data"`
	Errors  []GraphQLError `json:"errors,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Err returns the application error carried by the response, if any.
// NOT_FOUND errors that accompany a data object are tolerated: a node that
// vanished upstream simply comes back null.
func (r *Response) Err() error {
	if len(r.Errors) > 0 {
		if r.Data != nil && len(r.Tolerated()) == len(r.Errors) {
			return nil
		}
		return &Error{Kind: KindApplication, Message: r.Errors[0].Message}
	}
	if r.Message != "" && r.Data == nil {
		return &Error{Kind: KindApplication, Message: r.Message}
	}
	return nil
}

// Tolerated returns the messages of NOT_FOUND errors when data is present
func (r *Response) Tolerated() []string {
	if r.Data == nil {
		return nil
	}
	var msgs []string
	for _, e := range r.Errors {
		if e.Type == "NOT_FOUND" {
			msgs = append(msgs, e.Message)
		}
	}
	return msgs
}

// RateLimit is the rateLimit selection appended to every query
type RateLimit struct {
	Cost      int
	Remaining int
	NodeCount int
	Limit     int
	ResetAt   time.Time
}

// RateLimit extracts data.rateLimit. The second result is false when the
// response carried none.
func (r *Response) RateLimit() (RateLimit, bool) {
	raw, ok := r.Data["rateLimit"].(map[string]any)
	if !ok {
		return RateLimit{}, false
	}
	num := func(key string) int {
		f, _ := raw[key].(float64)
		return int(f)
	}
	rl := RateLimit{
		Cost:      num("cost"),
		Remaining: num("remaining"),
		NodeCount: num("nodeCount"),
		Limit:     num("limit"),
	}
	if s, ok := raw["resetAt"].(string); ok {
		rl.ResetAt, _ = time.Parse(time.RFC3339, s)
	}
	return rl, true
}

// Do posts query text and decodes the response. Every failure is returned
// as an *Error; the response is returned alongside application errors.
func (c *GraphQLClient) Do(ctx context.Context, query string) (*Response, error) {
	body, err := json.Marshal(map[string]string{"query": query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Kind: KindTransport, Err: err}
	}

	var out Response
	if err := json.Unmarshal(raw, &out); err != nil {
		if resp.StatusCode >= 300 {
			return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("unexpected status %s", resp.Status)}
		}
		return nil, &Error{Kind: KindProtocol, Err: err}
	}
	if resp.StatusCode >= 300 && out.Message == "" && len(out.Errors) == 0 {
		return nil, &Error{Kind: KindTransport, Message: fmt.Sprintf("unexpected status %s", resp.Status)}
	}
	if resp.StatusCode >= 300 && out.Message != "" {
		return &out, &Error{Kind: KindApplication, Message: out.Message}
	}
	if err := out.Err(); err != nil {
		return &out, err
	}
	return &out, nil
}

// Viewer represents the authenticated caller
type Viewer struct {
	ID    string
	Login string
	Name  string
}

// Viewer queries the authenticated caller through githubv4
func (c *GraphQLClient) Viewer(ctx context.Context) (*Viewer, error) {
	var query struct {
		Viewer struct {
			ID    githubv4.ID
			Login githubv4.String
			Name  githubv4.String
		}
	}
	if err := c.v4.Query(ctx, &query, nil); err != nil {
		return nil, fmt.Errorf("failed to query viewer: %w", err)
	}
	return &Viewer{
		ID:    fmt.Sprint(query.Viewer.ID),
		Login: string(query.Viewer.Login),
		Name:  string(query.Viewer.Name),
	}, nil
}

func isPublicGitHub(endpoint string) bool {
	u, err := url.Parse(endpoint)
	return err == nil && u.Host == "api.github.com"
}
