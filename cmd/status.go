package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wesm/github-mirror/internal/api"
	"github.com/wesm/github-mirror/internal/models"
	"github.com/wesm/github-mirror/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the local mirror holds and recent update runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getCfg(cmd)
		database, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer database.Close()

		st := store.New(nil)
		if err := st.Load(store.JSONDir{Dir: cfg.StoreDir()}); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		last, err := database.GetLastSyncTime(cfg.Host())
		if err != nil {
			return err
		}
		if last.IsZero() {
			fmt.Fprintf(out, "%s: never updated\n", cfg.Host())
		} else {
			fmt.Fprintf(out, "%s: last updated %s\n", cfg.Host(), humanize.Time(last))
		}

		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, k := range models.Kinds() {
			fmt.Fprintf(w, "  %s\t%s\n", k.Name, humanize.Comma(int64(st.Count(k))))
		}
		w.Flush()

		open := len(store.Select(st, models.PullRequestKind, func(pr *models.PullRequest) bool { return !pr.Terminal() }))
		drafts := len(store.Select(st, models.PullRequestKind, func(pr *models.PullRequest) bool { return pr.IsDraft }))
		fmt.Fprintf(out, "Open pull requests: %s (%s drafts)\n", humanize.Comma(int64(open)), humanize.Comma(int64(drafts)))

		runs, err := database.RecentRuns(5)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return nil
		}
		fmt.Fprintln(out, "Recent runs:")
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, run := range runs {
			kind := "partial"
			if run.FullPurge {
				kind = "full"
			}
			fmt.Fprintf(w, "  %s\t%s\t%s\tcost %d\t+%d\t-%d\t%s\n",
				run.ID[:min(8, len(run.ID))], humanize.Time(run.StartedAt), kind,
				run.Cost, run.NewItems, run.ClosedItems, run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		}
		return w.Flush()
	},
}

var rateLimitCmd = &cobra.Command{
	Use:   "ratelimit",
	Short: "Show the remaining GraphQL budget without spending any",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getCfg(cmd)
		client, err := api.NewGitHubClient(cfg.Endpoint, cfg.Token)
		if err != nil {
			return err
		}
		rl, err := client.GraphQLRateLimit(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "GraphQL: %s of %s remaining, resets %s\n",
			humanize.Comma(int64(rl.Remaining)), humanize.Comma(int64(rl.Limit)), humanize.Time(rl.ResetAt))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the account the configured token belongs to",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := getCfg(cmd)
		viewer, err := api.NewGraphQLClient(cfg.Endpoint, cfg.Token).Viewer(cmd.Context())
		if err != nil {
			return err
		}
		if viewer.Name != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s) %s\n", viewer.Login, viewer.Name, viewer.ID)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", viewer.Login, viewer.ID)
		}
		return nil
	},
}
