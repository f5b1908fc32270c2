package models

import (
	"encoding/json"
	"time"

	"github.com/shurcooL/githubv4"
)

// Payload is a decoded JSON object from a GraphQL response
type Payload map[string]any

// String returns the string stored under key, or "" when absent
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Int returns the number stored under key, or 0 when absent
func (p Payload) Int(key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case json.Number:
		n, _ := v.Int64()
		return int(n)
	}
	return 0
}

// Bool returns the boolean stored under key
func (p Payload) Bool(key string) bool {
	b, _ := p[key].(bool)
	return b
}

// Time parses the RFC3339 timestamp stored under key
func (p Payload) Time(key string) githubv4.DateTime {
	s := p.String(key)
	if s == "" {
		return githubv4.DateTime{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return githubv4.DateTime{}
	}
	return githubv4.DateTime{Time: t}
}

// Object returns the nested object stored under key. A missing or null value
// yields an empty payload.
func (p Payload) Object(key string) Payload {
	m, _ := p[key].(map[string]any)
	return Payload(m)
}
