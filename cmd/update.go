package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/wesm/github-mirror/config"
	"github.com/wesm/github-mirror/internal/api"
	"github.com/wesm/github-mirror/internal/logging"
	"github.com/wesm/github-mirror/internal/query"
	"github.com/wesm/github-mirror/internal/store"
	"github.com/wesm/github-mirror/internal/sync"
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Refresh the local mirror from GitHub",
	Long: `Runs the update waves in order: repositories, open item discovery,
pull requests and issues, review comments and reactions. A pass that runs
every wave without filters also removes whatever it no longer saw.`,
	RunE: runUpdate,
}

func init() {
	addUpdateFlags(updateCmd)
}

func addUpdateFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.Bool("repos", true, "Refresh organizations and repositories")
	f.Bool("items", true, "Refresh pull requests and issues")
	f.Bool("review-comments", true, "Refresh inline review comments")
	f.Bool("reactions", true, "Refresh reactions")
	f.StringSlice("repo", nil, "Only update items of these repositories (owner/name)")
	f.StringSlice("item", nil, "Only update these item ids")
	f.Bool("only-new", false, "Only fetch items not yet mirrored")
	f.Bool("dry-run", false, "Run every wave without saving anything")
	f.Int("page-size", 0, "Connection and batch page size (default from config)")
}

func updateOptions(cmd *cobra.Command) (sync.Options, error) {
	f := cmd.Flags()
	var opts sync.Options
	opts.Repos, _ = f.GetBool("repos")
	opts.Items, _ = f.GetBool("items")
	opts.ReviewComments, _ = f.GetBool("review-comments")
	opts.Reactions, _ = f.GetBool("reactions")
	opts.RepoFilter, _ = f.GetStringSlice("repo")
	opts.ItemFilter, _ = f.GetStringSlice("item")
	opts.OnlyNew, _ = f.GetBool("only-new")
	opts.DryRun, _ = f.GetBool("dry-run")

	for _, name := range opts.RepoFilter {
		if parts := strings.Split(name, "/"); len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return opts, fmt.Errorf("invalid repository format %q, expected owner/name", name)
		}
	}
	if opts.OnlyNew && len(opts.ItemFilter) > 0 {
		return opts, fmt.Errorf("--only-new and --item cannot be combined")
	}
	return opts, nil
}

func runUpdate(cmd *cobra.Command, args []string) error {
	cfg := getCfg(cmd)
	if cfg.Token == "" {
		return fmt.Errorf("no GitHub token configured, set token or %s", config.EnvToken)
	}
	opts, err := updateOptions(cmd)
	if err != nil {
		return err
	}
	opts.RunID = uuid.NewString()

	log, closer, err := logging.New(cfg.Log, cmd.ErrOrStderr(), opts.RunID)
	if err != nil {
		return err
	}
	defer closer.Close()

	database, err := openDB(cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	st := store.New(log)
	persister := store.JSONDir{Dir: cfg.StoreDir()}
	if err := st.Load(persister); err != nil {
		return err
	}

	client := api.NewGraphQLClient(cfg.Endpoint, cfg.Token)
	runner := query.NewRunner(client, st, log, query.Options{
		Concurrency: cfg.Concurrency,
		Retries:     cfg.Retries,
	})
	syncer := sync.New(st, runner, persister, log)
	syncer.SetRecorder(cfg.Host(), database)

	pageSize := cfg.PageSize
	if n, _ := cmd.Flags().GetInt("page-size"); n > 0 {
		pageSize = n
	}
	if pageSize > 0 {
		syncer.SetPageSize(pageSize)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	start := time.Now()
	res, err := syncer.Update(ctx, opts)
	if err != nil {
		if ctx.Err() == context.Canceled {
			return fmt.Errorf("update interrupted, nothing saved")
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Update completed in %v\n", time.Since(start).Round(time.Millisecond))
	fmt.Fprintf(out, "  new items:     %s\n", humanize.Comma(int64(res.NewItems)))
	fmt.Fprintf(out, "  closed items:  %s\n", humanize.Comma(int64(len(res.Closed))))
	fmt.Fprintf(out, "  requests:      %s (cost %s, %s nodes)\n",
		humanize.Comma(int64(res.Requests)), humanize.Comma(int64(res.Cost)), humanize.Comma(int64(res.NodeCount)))
	if res.Remaining >= 0 {
		fmt.Fprintf(out, "  remaining:     %s\n", humanize.Comma(int64(res.Remaining)))
	}
	if !res.FullPurge {
		fmt.Fprintln(out, "  partial pass, nothing was purged")
	}
	if opts.DryRun {
		fmt.Fprintln(out, "  dry run, nothing was saved")
	}
	return nil
}
