// ABOUTME: Analyst interaction commands: comments, votes and the current user
// ABOUTME: Mutating commands are recorded in the audit log

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

func newCommentsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comments",
		Short: "List, post and delete sample comments",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list <sha256>",
		Short: "List the comments on a sample",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			digest, err := koodous.ParseSHA256(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			comments, err := client.GetComments(ctx, digest)
			if err != nil {
				return err
			}
			return a.print(comments, func(w io.Writer) {
				if len(comments) == 0 {
					fmt.Fprintln(w, "no comments")
					return
				}
				for _, c := range comments {
					fmt.Fprintf(w, "#%d %s (%s)\n  %s\n", c.ID, c.Author.Username,
						c.CreatedOn.Time().Format("2006-01-02 15:04"), c.Text)
				}
			})
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "post <sha256> <text>...",
		Short: "Post a comment on a sample",
		Args:  cobra.MinimumNArgs(2),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			digest, err := koodous.ParseSHA256(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			comment, err := client.PostComment(ctx, digest, strings.Join(args[1:], " "))
			a.audit.LogComment(ctx, digest, err)
			if err != nil {
				return err
			}
			return a.print(comment, func(w io.Writer) {
				fmt.Fprintf(w, "posted comment #%d\n", comment.ID)
			})
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <comment-id>",
		Short: "Delete one of your comments",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("invalid comment id %q", args[0])
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			deleted, err := client.DeleteComment(ctx, id)
			a.audit.LogCommentDeletion(ctx, args[0], deleted, err)
			if err != nil {
				return err
			}
			if !deleted && !a.json {
				return fmt.Errorf("comment #%d not found", id)
			}

			out := struct {
				ID      int64 `json:"id"`
				Deleted bool  `json:"deleted"`
			}{id, deleted}
			return a.print(out, func(w io.Writer) {
				fmt.Fprintf(w, "deleted comment #%d\n", id)
			})
		}),
	})

	return cmd
}

func newVoteCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "vote <sha256> <positive|negative>",
		Short: "Vote on a sample",
		Args:  cobra.ExactArgs(2),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			digest, err := koodous.ParseSHA256(args[0])
			if err != nil {
				return err
			}
			kind, err := koodous.ParseVoteKind(args[1])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			result, err := client.VoteAPK(ctx, digest, kind)
			a.audit.LogVote(ctx, digest, string(kind), err)
			if err != nil {
				return err
			}
			return a.print(result, func(w io.Writer) {
				fmt.Fprintf(w, "voted %s on %s\n", result.Kind, digest)
			})
		}),
	}
}

func newVotesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "votes <sha256>",
		Short: "List the votes on a sample",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			digest, err := koodous.ParseSHA256(args[0])
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			votes, err := client.Votes(ctx, digest)
			if err != nil {
				return err
			}
			return a.print(votes, func(w io.Writer) {
				fmt.Fprintf(w, "%d votes\n", votes.Count)
				tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
				for _, v := range votes.Results {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", v.Kind, v.Analyst, v.CreatedOn.Time().Format("2006-01-02 15:04"))
				}
				tw.Flush()
			})
		}),
	}
}

func newWhoamiCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the analyst owning the API token",
		Args:  cobra.NoArgs,
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			user, err := client.MyUser(ctx)
			if err != nil {
				return err
			}
			return a.print(user, func(w io.Writer) {
				fmt.Fprintln(w, user.Username)
			})
		}),
	}
}
