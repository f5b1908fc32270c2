// Package sync runs the multi-wave update that mirrors the caller's
// repositories and their open items into the store.
package sync

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/wesm/github-mirror/internal/models"
	"github.com/wesm/github-mirror/internal/query"
	"github.com/wesm/github-mirror/internal/store"
)

// Wave names, in execution order
const (
	WaveRepositories   = "repositories"
	WaveDiscovery      = "discovery"
	WavePullRequests   = "pull-requests"
	WaveIssues         = "issues"
	WaveReviewComments = "review-comments"
	WaveReactions      = "reactions"
)

// DefaultPageSize is the connection page size and the batch size
const DefaultPageSize = 50

// Runner executes a query tree to completion
type Runner interface {
	Run(ctx context.Context, q *query.Query) error
	Stats() query.Stats
}

// Recorder stores sync bookkeeping outside the entity store
type Recorder interface {
	UpdateLastSyncTime(scope string, syncTime time.Time) error
	SaveRun(run *models.SyncRun) error
}

// Notifier is told about every item purged because it closed upstream
type Notifier interface {
	Closed(e models.Entity)
}

// LogNotifier reports closed items to a logger
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Closed(e models.Entity) {
	attrs := []any{"kind", e.Kind().Name, "id", e.Meta().ID}
	switch item := e.(type) {
	case *models.PullRequest:
		attrs = append(attrs, "number", item.Number, "title", item.Title, "state", item.State)
	case *models.Issue:
		attrs = append(attrs, "number", item.Number, "title", item.Title, "state", item.State)
	}
	n.Log.Info("item closed", attrs...)
}

// Options selects the waves of an update and the items it covers
type Options struct {
	Repos          bool
	Items          bool
	ReviewComments bool
	Reactions      bool

	// RepoFilter limits items to repositories with these owner/name values
	RepoFilter []string
	// ItemFilter limits items to these ids and skips discovery
	ItemFilter []string
	// OnlyNew limits items to those discovered but not yet stored
	OnlyNew bool
	// DryRun performs every wave in memory but persists nothing
	DryRun bool

	// RunID labels the run; one is generated when empty
	RunID string
}

// All selects every wave
func All() Options {
	return Options{Repos: true, Items: true, ReviewComments: true, Reactions: true}
}

// fullPurge reports whether the pass covers everything it could have seen
func (o Options) fullPurge() bool {
	return o.Repos && o.Items && o.ReviewComments && o.Reactions &&
		len(o.RepoFilter) == 0 && len(o.ItemFilter) == 0 && !o.OnlyNew
}

// Result summarizes a completed update
type Result struct {
	RunID     string
	Cost      int
	Remaining int
	NodeCount int
	Requests  int
	NewItems  int
	Closed    []string
	FullPurge bool
}

// WaveError reports the wave that aborted an update
type WaveError struct {
	Wave string
	Err  error
}

func (e *WaveError) Error() string {
	return fmt.Sprintf("%s wave failed: %v", e.Wave, e.Err)
}

func (e *WaveError) Unwrap() error { return e.Err }

// Syncer handles mirroring GitHub objects into the store
type Syncer struct {
	store     *store.Store
	runner    Runner
	persister store.Persister
	recorder  Recorder
	scope     string
	notifier  Notifier
	log       *slog.Logger
	pageSize  int
}

// New creates a new syncer
func New(st *store.Store, runner Runner, persister store.Persister, log *slog.Logger) *Syncer {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Syncer{
		store:     st,
		runner:    runner,
		persister: persister,
		notifier:  LogNotifier{Log: log},
		log:       log,
		pageSize:  DefaultPageSize,
	}
}

// SetPageSize sets the connection page size and batch size
func (s *Syncer) SetPageSize(n int) {
	if n < 1 {
		n = 1
	}
	if n > 100 {
		n = 100 // GitHub rejects larger pages
	}
	s.pageSize = n
}

// SetRecorder records completion times under scope and run history in r
func (s *Syncer) SetRecorder(scope string, r Recorder) {
	s.scope = scope
	s.recorder = r
}

// SetNotifier replaces the closed-item notifier
func (s *Syncer) SetNotifier(n Notifier) {
	s.notifier = n
}

type discovery struct {
	repo     string
	typename string
}

// pass holds the bookkeeping of one Update call
type pass struct {
	opts       Options
	discovered map[string]discovery
	// scope holds the item ids covered by the items waves, per kind
	scope map[string][]string
}

// itemKind ties an item kind to the repository field that lists it
type itemKind struct {
	kind     *models.Kind
	wave     string
	field    string
	typename string
	fields   func(pageSize int) *query.Fragment
}

var itemKinds = []itemKind{
	{models.PullRequestKind, WavePullRequests, "pullRequests", "PullRequest", pullRequestFields},
	{models.IssueKind, WaveIssues, "issues", "Issue", issueFields},
}

// Update runs the selected waves, purges what the pass proved stale and
// persists the store. Nothing is persisted when a wave fails.
func (s *Syncer) Update(ctx context.Context, opts Options) (*Result, error) {
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	started := time.Now()
	p := &pass{
		opts:       opts,
		discovered: map[string]discovery{},
		scope:      map[string][]string{},
	}
	s.log.Info("starting update",
		"repos", opts.Repos, "items", opts.Items,
		"review_comments", opts.ReviewComments, "reactions", opts.Reactions,
		"only_new", opts.OnlyNew, "dry_run", opts.DryRun)

	if err := s.repositories(ctx, p); err != nil {
		return nil, err
	}
	visible := s.visibleRepos(opts.RepoFilter)
	if err := s.discover(ctx, p, visible); err != nil {
		return nil, err
	}
	for _, ik := range itemKinds {
		if err := s.items(ctx, p, ik, visible); err != nil {
			return nil, err
		}
	}
	if err := s.reviewComments(ctx, p); err != nil {
		return nil, err
	}
	if err := s.reactions(ctx, p); err != nil {
		return nil, err
	}
	return s.finalize(p, started)
}

func (s *Syncer) run(ctx context.Context, wave string, q *query.Query) error {
	s.log.Info("running wave", "wave", wave)
	if err := s.runner.Run(ctx, q); err != nil {
		return &WaveError{Wave: wave, Err: err}
	}
	return nil
}

// repositories runs wave 1, or marks the accounts and repositories it
// would have refreshed
func (s *Syncer) repositories(ctx context.Context, p *pass) error {
	if !p.opts.Repos && s.store.Count(models.RepoKind) > 0 {
		for _, k := range []*models.Kind{models.OrgKind, models.RepoKind, models.UserKind} {
			s.store.SetSyncMark(k, models.MarkUpdated, false, nil)
		}
		return nil
	}
	q := &query.Query{Name: WaveRepositories, Root: viewerTree(s.pageSize)}
	return s.run(ctx, WaveRepositories, q)
}

// visibleRepos returns the ids of repositories confirmed this pass that
// pass the filter
func (s *Syncer) visibleRepos(filter []string) map[string]bool {
	allow := map[string]bool{}
	for _, name := range filter {
		allow[name] = true
	}
	visible := map[string]bool{}
	for _, repo := range store.Select[*models.Repo](s.store, models.RepoKind, nil) {
		if repo.Mark == models.MarkNone {
			continue
		}
		if len(allow) > 0 && !allow[repo.NameWithOwner] {
			continue
		}
		visible[repo.ID] = true
	}
	return visible
}

// discover runs wave 2, recording the ids of every open item in the
// visible repositories
func (s *Syncer) discover(ctx context.Context, p *pass, visible map[string]bool) error {
	if !p.opts.Items || len(p.opts.ItemFilter) > 0 || len(visible) == 0 {
		return nil
	}
	hook := func(parent models.Entity, node map[string]any) {
		id, _ := node["id"].(string)
		typename, _ := node["__typename"].(string)
		if id == "" || parent == nil {
			return
		}
		p.discovered[id] = discovery{repo: parent.Meta().ID, typename: typename}
	}
	scanned := 0
	batch := query.NewBatch(byID(openItemIDs(s.pageSize, hook)), keys(visible), s.pageSize).
		OnNode(func(map[string]any) { scanned++ })
	if err := s.run(ctx, WaveDiscovery, &query.Query{Name: WaveDiscovery, Root: batch}); err != nil {
		return err
	}
	s.log.Info("discovered open items", "items", len(p.discovered), "repositories", scanned)
	return nil
}

// itemRepo returns the repository an item belongs to, preferring the
// item's own repository field over the stored relationship
func itemRepo(e models.Entity, field string) string {
	switch item := e.(type) {
	case *models.PullRequest:
		if item.RepoID != "" {
			return item.RepoID
		}
	case *models.Issue:
		if item.RepoID != "" {
			return item.RepoID
		}
	}
	if parents := e.Meta().ParentIDs(models.RelationKey(models.RepoKind.Name, field)); len(parents) > 0 {
		return parents[0]
	}
	return ""
}

// itemScope picks the ids of one kind covered by this pass
func (s *Syncer) itemScope(p *pass, ik itemKind, visible map[string]bool) []string {
	var ids []string
	switch {
	case len(p.opts.ItemFilter) > 0:
		for _, id := range p.opts.ItemFilter {
			if _, ok := s.store.Lookup(ik.kind, id); ok {
				ids = append(ids, id)
			} else if _, elsewhere := s.store.Find(id); !elsewhere {
				ids = append(ids, id)
			}
		}
	case p.opts.OnlyNew:
		for id, d := range p.discovered {
			if _, ok := s.store.Lookup(ik.kind, id); !ok && d.typename == ik.typename {
				ids = append(ids, id)
			}
		}
	default:
		// Without a repository filter every stored item is covered, including
		// those whose repository was not confirmed this pass: fetching them by
		// id is the only way to learn they are gone.
		filtered := len(p.opts.RepoFilter) > 0
		for _, id := range s.store.IDs(ik.kind) {
			e, _ := s.store.Lookup(ik.kind, id)
			if repo := itemRepo(e, ik.field); !filtered || repo == "" || visible[repo] {
				ids = append(ids, id)
			}
		}
		for id, d := range p.discovered {
			if d.typename == ik.typename {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return dedupe(ids)
}

// items runs wave 3 for one kind and repairs repository links afterwards.
// Stored items outside the scope are marked so the purge keeps them.
func (s *Syncer) items(ctx context.Context, p *pass, ik itemKind, visible map[string]bool) error {
	scope := s.itemScope(p, ik, visible)
	p.scope[ik.kind.Name] = scope

	inScope := make(map[string]bool, len(scope))
	for _, id := range scope {
		inScope[id] = true
	}
	var outside, known []string
	for _, id := range s.store.IDs(ik.kind) {
		if inScope[id] {
			known = append(known, id)
		} else {
			outside = append(outside, id)
		}
	}
	if len(outside) > 0 {
		s.store.SetSyncMark(ik.kind, models.MarkUpdated, true, outside)
	}

	if !p.opts.Items {
		if len(known) > 0 {
			s.store.SetSyncMark(ik.kind, models.MarkUpdated, true, known)
		}
		return nil
	}
	if len(p.opts.ItemFilter) > 0 && len(known) > 0 {
		// discovery did not run, so nothing else confirms the repository links
		s.store.SetSyncMark(ik.kind, models.MarkUpdated, false, known)
	}
	if len(scope) == 0 {
		return nil
	}

	batch := query.NewBatch(byID(ik.fields(s.pageSize)), scope, s.pageSize)
	if err := s.run(ctx, ik.wave, &query.Query{Name: ik.wave, Root: batch}); err != nil {
		return err
	}
	s.repairRepoLinks(p, ik, scope)
	return nil
}

// repairRepoLinks links every fetched item to the repository it belongs to
// now, which the by-id fetch cannot establish on its own. Discovery wins over
// the item's repository field. Links to any other repository are dropped, and
// nothing is linked to a repository this pass did not confirm.
func (s *Syncer) repairRepoLinks(p *pass, ik itemKind, scope []string) {
	key := models.RelationKey(models.RepoKind.Name, ik.field)
	repaired := 0
	for _, id := range scope {
		e, ok := s.store.Lookup(ik.kind, id)
		if !ok {
			continue
		}
		repoID := itemRepo(e, ik.field)
		if d, found := p.discovered[id]; found {
			repoID = d.repo
		}
		repo, ok := s.store.Lookup(models.RepoKind, repoID)
		if !ok || repo.Meta().Mark == models.MarkNone {
			continue
		}
		for _, old := range e.Meta().ParentIDs(key) {
			if old != repoID {
				s.store.Unlink(models.RepoKind, old, ik.field, e)
			}
		}
		if !hasConfirmedLink(e, key) {
			repaired++
		}
		s.store.Link(repo, ik.field, e)
	}
	if repaired > 0 {
		s.log.Debug("repaired repository links", "wave", ik.wave, "items", repaired)
	}
}

// scopedItems returns the stored items covered by this pass
func (s *Syncer) scopedItems(p *pass) []models.Entity {
	var out []models.Entity
	for _, ik := range itemKinds {
		for _, id := range p.scope[ik.kind.Name] {
			if e, ok := s.store.Lookup(ik.kind, id); ok {
				out = append(out, e)
			}
		}
	}
	return out
}

// reviewComments runs wave 4 over reviews of covered pull requests that
// carry inline comments
func (s *Syncer) reviewComments(ctx context.Context, p *pass) error {
	covered := map[string]bool{}
	var ids []string
	for _, item := range s.scopedItems(p) {
		for _, rid := range s.store.Children(item.Meta().ID, "reviews") {
			e, ok := s.store.Lookup(models.ReviewKind, rid)
			if !ok || !e.(*models.Review).NeedsComments {
				continue
			}
			covered[rid] = true
			ids = append(ids, rid)
		}
	}
	if !p.opts.ReviewComments {
		covered = map[string]bool{}
		ids = nil
	}
	for _, rid := range s.store.IDs(models.ReviewKind) {
		if !covered[rid] {
			s.store.MarkChildren(rid, "comments", models.MarkUpdated)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	batch := query.NewBatch(byID(reviewComments(s.pageSize)), ids, s.pageSize)
	return s.run(ctx, WaveReviewComments, &query.Query{Name: WaveReviewComments, Root: batch})
}

// reactions runs wave 5 over covered reactables whose stored reactions do
// not match the remote count
func (s *Syncer) reactions(ctx context.Context, p *pass) error {
	if !p.opts.Reactions {
		s.store.SetSyncMark(models.ReactionKind, models.MarkUpdated, false, nil)
		return nil
	}

	var candidates []models.Entity
	for _, item := range s.scopedItems(p) {
		id := item.Meta().ID
		candidates = append(candidates, item)
		for _, cid := range s.store.Children(id, "comments") {
			if c, ok := s.store.Lookup(models.CommentKind, cid); ok {
				candidates = append(candidates, c)
			}
		}
		for _, rid := range s.store.Children(id, "reviews") {
			for _, cid := range s.store.Children(rid, "comments") {
				if c, ok := s.store.Lookup(models.CommentKind, cid); ok {
					candidates = append(candidates, c)
				}
			}
		}
	}

	covered := map[string]bool{}
	var ids []string
	for _, e := range candidates {
		r, ok := e.(models.Reactable)
		id := e.Meta().ID
		if !ok || covered[id] {
			continue
		}
		if r.ReactionTotal() != len(s.store.Children(id, "reactions")) {
			covered[id] = true
			ids = append(ids, id)
		}
	}
	for _, k := range []*models.Kind{models.PullRequestKind, models.IssueKind, models.CommentKind} {
		for _, id := range s.store.IDs(k) {
			if !covered[id] {
				s.store.MarkChildren(id, "reactions", models.MarkUpdated)
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	batch := query.NewBatch(byID(reactionList(s.pageSize)), ids, s.pageSize)
	return s.run(ctx, WaveReactions, &query.Query{Name: WaveReactions, Root: batch})
}

// finalize purges, persists and records the run
func (s *Syncer) finalize(p *pass, started time.Time) (*Result, error) {
	full := p.opts.fullPurge()
	res := &Result{RunID: p.opts.RunID, FullPurge: full}

	if full {
		for _, e := range s.store.PurgeUntouched(s.notifier.Closed) {
			res.Closed = append(res.Closed, e.Meta().ID)
		}
	}
	s.store.PurgeStaleRelationships()

	for _, k := range []*models.Kind{models.PullRequestKind, models.IssueKind} {
		for _, id := range s.store.IDs(k) {
			if e, _ := s.store.Lookup(k, id); e.Meta().Mark == models.MarkNew {
				res.NewItems++
			}
		}
	}

	stats := s.runner.Stats()
	res.Cost = stats.Cost
	res.Remaining = stats.Remaining
	res.NodeCount = stats.NodeCount
	res.Requests = stats.Requests

	if p.opts.DryRun {
		s.log.Info("dry run, not persisting", "new_items", res.NewItems, "closed", len(res.Closed))
		return res, nil
	}

	if err := s.store.Save(s.persister); err != nil {
		return nil, fmt.Errorf("failed to persist store: %w", err)
	}
	finished := time.Now()
	if s.recorder != nil {
		if err := s.recorder.UpdateLastSyncTime(s.scope, finished); err != nil {
			return nil, err
		}
		run := &models.SyncRun{
			ID:          res.RunID,
			StartedAt:   started,
			FinishedAt:  finished,
			FullPurge:   full,
			Cost:        res.Cost,
			Remaining:   res.Remaining,
			NodeCount:   res.NodeCount,
			Requests:    res.Requests,
			NewItems:    res.NewItems,
			ClosedItems: len(res.Closed),
		}
		if err := s.recorder.SaveRun(run); err != nil {
			return nil, err
		}
	}

	s.log.Info("update complete",
		"cost", res.Cost, "remaining", res.Remaining, "requests", res.Requests,
		"new_items", res.NewItems, "closed", len(res.Closed), "duration", time.Since(started).Round(time.Millisecond))
	return res, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// dedupe removes adjacent duplicates from a sorted slice
func dedupe(ids []string) []string {
	out := ids[:0]
	for i, id := range ids {
		if i == 0 || id != ids[i-1] {
			out = append(out, id)
		}
	}
	return out
}
