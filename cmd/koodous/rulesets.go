// ABOUTME: Public ruleset commands and the local sample index
// ABOUTME: Lists ruleset matches and mirrors them into the Badger index with retries

package main

import (
	"context"
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-koodous/internal/index"
	"github.com/hikmaai-io/hikmaai-koodous/internal/retry"
	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

func parseRulesetID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid ruleset id %q", s)
	}
	return id, nil
}

func newRulesetCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ruleset",
		Short: "Inspect public rulesets and their matches",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <id>",
		Short: "Show public ruleset metadata",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			id, err := parseRulesetID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			rs, err := client.GetPublicRuleset(ctx, id)
			if err != nil {
				return err
			}
			return a.print(rs, func(w io.Writer) {
				fmt.Fprintf(w, "#%d %s by %s\n", rs.ID, rs.Name, rs.Analyst)
				if rs.Description != "" {
					fmt.Fprintf(w, "  %s\n", rs.Description)
				}
				fmt.Fprintf(w, "  created %s\n", rs.CreatedOn.Time().Format(time.RFC3339))
			})
		}),
	})

	cmd.AddCommand(newRulesetMatchesCmd(opts))
	cmd.AddCommand(newRulesetSyncCmd(opts))
	return cmd
}

func newRulesetMatchesCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "matches <id>",
		Short: "List samples matching a public ruleset",
		Long: `Without --limit only the first page of matches is listed. With --limit
pages are fetched lazily until that many samples are gathered.`,
		Args: cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			id, err := parseRulesetID(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			var apks []koodous.APK
			if limit <= 0 {
				apks, err = client.GetMatchesPublicRuleset(ctx, id)
				if err != nil {
					return err
				}
			} else {
				apks = make([]koodous.APK, 0, limit)
				for items, err := range client.IterMatchesPublicRuleset(ctx, id) {
					if err != nil {
						return err
					}
					apks = append(apks, items...)
					if len(apks) >= limit {
						apks = apks[:limit]
						break
					}
				}
			}

			return a.print(apks, func(w io.Writer) { printAPKs(w, apks) })
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "follow pages until this many matches")
	return cmd
}

func newRulesetSyncCmd(opts *rootOptions) *cobra.Command {
	var maxPages int

	cmd := &cobra.Command{
		Use:   "sync <id>...",
		Short: "Mirror ruleset matches into the local index",
		Long: `Sync walks the matches of each ruleset and stores them in the local
index. Transient failures restart the walk after an exponential backoff;
pages already indexed are not rewritten.`,
		Args: cobra.MinimumNArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			ids := make([]int64, 0, len(args))
			for _, arg := range args {
				id, err := parseRulesetID(arg)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			idx, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()

			pages := a.cfg.Sync.MaxPages
			if maxPages > 0 {
				pages = maxPages
			}
			rc := a.cfg.Sync.GetRetry()

			results := make([]*index.SyncResult, 0, len(ids))
			for _, id := range ids {
				res, err := index.Sync(ctx, client, idx, id, index.SyncOptions{
					MaxPages: pages,
					Backoff: retry.NewBackoff(retry.Config{
						MaxRetries:     rc.MaxRetries,
						InitialDelay:   rc.InitialDelay,
						MaxDelay:       rc.MaxDelay,
						Multiplier:     rc.Multiplier,
						JitterFraction: rc.JitterFraction,
					}),
					Logger: a.logger,
				})
				if err != nil {
					return fmt.Errorf("syncing ruleset %d: %w", id, err)
				}
				results = append(results, res)
			}

			return a.print(results, func(w io.Writer) {
				for _, r := range results {
					fmt.Fprintf(w, "ruleset %d: %d pages, %d samples, %d new", r.RulesetID, r.Pages, r.Samples, r.Added)
					if r.Restarts > 0 {
						fmt.Fprintf(w, " (%d restarts)", r.Restarts)
					}
					fmt.Fprintln(w)
				}
			})
		}),
	}

	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages per ruleset (default from config)")
	return cmd
}

func newIndexCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Query the local sample index",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get <sha256>",
		Short: "Show what the index holds for a sample",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			digest, err := koodous.ParseSHA256(args[0])
			if err != nil {
				return err
			}
			idx, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()

			entry, err := idx.Get(ctx, digest)
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("%s is not indexed", digest)
			}
			return a.print(entry, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s (%s)\n", entry.APK.SHA256, entry.APK.App, entry.APK.PackageName)
				fmt.Fprintf(w, "  rulesets: %v\n", entry.Rulesets)
				fmt.Fprintf(w, "  indexed:  %s\n", entry.IndexedAt.Format(time.RFC3339))
			})
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show index statistics",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			idx, err := a.openIndex(ctx)
			if err != nil {
				return err
			}
			defer idx.Close()

			stats, err := idx.Stats(ctx)
			if err != nil {
				return err
			}
			return a.print(stats, func(w io.Writer) {
				fmt.Fprintf(w, "samples:     %d\n", stats.Store.Samples)
				fmt.Fprintf(w, "memberships: %d\n", stats.Store.Memberships)
				fmt.Fprintf(w, "size:        %d bytes\n", stats.Store.SizeBytes)

				for _, id := range slices.Sorted(maps.Keys(stats.Store.Rulesets)) {
					fmt.Fprintf(w, "  ruleset %d: %d\n", id, stats.Store.Rulesets[id])
				}
			})
		}),
	})

	return cmd
}
