// ABOUTME: Sample commands: hash, unpack, upload, download, search, analysis and analyze
// ABOUTME: Batch downloads run with bounded concurrency through errgroup

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hikmaai-io/hikmaai-koodous/pkg/apkfile"
	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

type hashResult struct {
	Path   string `json:"path"`
	SHA256 string `json:"sha256,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newHashCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "hash <file>...",
		Short: "Print the SHA-256 of local files",
		Args:  cobra.MinimumNArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			results := make([]hashResult, 0, len(args))
			var failed int
			for _, path := range args {
				digest, err := apkfile.SHA256(path)
				if err != nil {
					failed++
					results = append(results, hashResult{Path: path, Error: err.Error()})
					continue
				}
				results = append(results, hashResult{Path: path, SHA256: digest})
			}

			err := a.print(results, func(w io.Writer) {
				for _, r := range results {
					if r.Error != "" {
						fmt.Fprintf(w, "error  %s: %s\n", r.Path, r.Error)
						continue
					}
					fmt.Fprintf(w, "%s  %s\n", r.SHA256, r.Path)
				}
			})
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be hashed", failed, len(args))
			}
			return nil
		}),
	}
}

func newUnpackCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "unpack <src> <dst>",
		Short: "Write the logical content of a sample file",
		Long: `Unpack decompresses gzip-wrapped samples and extracts zip containers
holding a single file. APKs and other files are copied byte for byte.`,
		Args: cobra.ExactArgs(2),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			kind, err := apkfile.Unpack(args[0], args[1])
			if err != nil {
				return err
			}
			digest, err := apkfile.SHA256(args[1])
			if err != nil {
				return err
			}

			out := struct {
				Path   string `json:"path"`
				Kind   string `json:"kind"`
				SHA256 string `json:"sha256"`
			}{args[1], kind.String(), digest}
			return a.print(out, func(w io.Writer) {
				fmt.Fprintf(w, "%s  %s (%s)\n", digest, args[1], kind)
			})
		}),
	}
}

func newUploadCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file|->",
		Short: "Upload an APK to Koodous",
		Long: `Upload sends a local APK, or standard input when the argument is "-".
It fails when Koodous already holds the sample.`,
		Args: cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			var (
				digest string
				size   int64 = -1
			)
			if args[0] == "-" {
				digest, err = client.UploadReader(ctx, os.Stdin)
			} else {
				if info, statErr := os.Stat(args[0]); statErr == nil {
					size = info.Size()
				}
				digest, err = client.Upload(ctx, args[0])
				if errors.Is(err, koodous.ErrAlreadyExists) {
					digest, _ = apkfile.SHA256(args[0])
				}
			}
			a.audit.LogUpload(ctx, digest, size, err)
			if errors.Is(err, koodous.ErrAlreadyExists) && digest != "" {
				return fmt.Errorf("%w (sha256 %s)", err, digest)
			}
			if err != nil {
				return err
			}

			return a.print(map[string]string{"sha256": digest}, func(w io.Writer) {
				fmt.Fprintf(w, "uploaded %s\n", digest)
			})
		}),
	}
}

type downloadResult struct {
	SHA256 string `json:"sha256"`
	Path   string `json:"path,omitempty"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

func newDownloadCmd(opts *rootOptions) *cobra.Command {
	var (
		outputDir   string
		urlOnly     bool
		concurrency int
	)

	cmd := &cobra.Command{
		Use:   "download <sha256>...",
		Short: "Download samples by SHA-256",
		Long: `Download fetches each sample into the output directory, named by its
digest. Content is verified before it is written in place.

With --url only the signed, time-limited download URLs are printed.`,
		Args: cobra.MinimumNArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("creating output directory: %w", err)
			}

			results := make([]downloadResult, len(args))
			var mu sync.Mutex
			failed := 0

			g, gctx := errgroup.WithContext(ctx)
			g.SetLimit(max(concurrency, 1))
			for i, arg := range args {
				g.Go(func() error {
					res := downloadOne(gctx, client, arg, outputDir, urlOnly)
					results[i] = res
					if res.Error != "" {
						a.logger.WarnContext(gctx, "download failed", "sha256", arg, "error", res.Error)
						mu.Lock()
						failed++
						mu.Unlock()
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			err = a.print(results, func(w io.Writer) {
				for _, r := range results {
					switch {
					case r.Error != "":
						fmt.Fprintf(w, "error  %s: %s\n", r.SHA256, r.Error)
					case urlOnly:
						fmt.Fprintf(w, "%s  %s\n", r.SHA256, r.URL)
					default:
						fmt.Fprintf(w, "%s  %s\n", r.SHA256, r.Path)
					}
				}
			})
			if err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d downloads failed", failed, len(args))
			}
			return nil
		}),
	}

	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", ".", "directory to write samples to")
	cmd.Flags().BoolVar(&urlOnly, "url", false, "print download URLs instead of downloading")
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "parallel downloads")

	return cmd
}

func downloadOne(ctx context.Context, client *koodous.Client, arg, dir string, urlOnly bool) downloadResult {
	digest, err := koodous.ParseSHA256(arg)
	if err != nil {
		return downloadResult{SHA256: arg, Error: err.Error()}
	}

	if urlOnly {
		u, err := client.GetDownloadURL(ctx, digest)
		if err != nil {
			return downloadResult{SHA256: digest, Error: err.Error()}
		}
		return downloadResult{SHA256: digest, URL: u}
	}

	path := filepath.Join(dir, digest)
	if _, err := client.DownloadToFile(ctx, digest, path); err != nil {
		return downloadResult{SHA256: digest, Error: err.Error()}
	}
	return downloadResult{SHA256: digest, Path: path}
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the Koodous sample corpus",
		Long: `Search runs a Koodous query, for example:

  koodous search 'package_name:"com.example.app"'
  koodous search 'app:whatsapp AND rating:-5' --limit 100

Without --limit only the first page of results is shown.`,
		Args: cobra.MinimumNArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}

			var searchOpts []koodous.SearchOption
			if limit > 0 {
				searchOpts = append(searchOpts, koodous.WithLimit(limit))
			}
			apks, err := client.Search(ctx, strings.Join(args, " "), searchOpts...)
			if err != nil {
				return err
			}

			return a.print(apks, func(w io.Writer) { printAPKs(w, apks) })
		}),
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "follow pages until this many results")
	return cmd
}

// printAPKs renders sample summaries as a table.
func printAPKs(w io.Writer, apks []koodous.APK) {
	if len(apks) == 0 {
		fmt.Fprintln(w, "no samples")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SHA256\tAPP\tPACKAGE\tRATING\tDETECTED")
	for _, apk := range apks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%v\n", apk.SHA256, apk.App, apk.PackageName, apk.Rating, apk.Detected)
	}
	tw.Flush()
}

func newAnalysisCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analysis <sha256>",
		Short: "Print the analysis report of a sample",
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

			analysis, err := client.GetAnalysis(ctx, digest)
			if err != nil {
				return err
			}
			if analysis == nil {
				return fmt.Errorf("no sample %s on Koodous", digest)
			}

			// Reports are free-form, so text mode prints JSON too.
			a.json = true
			return a.print(analysis, nil)
		}),
	}
}

func newAnalyzeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <sha256>",
		Short: "Request analysis of a sample",
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

			accepted, err := client.Analyze(ctx, digest)
			a.audit.LogAnalysisRequest(ctx, digest, accepted, err)
			if err != nil {
				return err
			}

			out := struct {
				SHA256   string `json:"sha256"`
				Accepted bool   `json:"accepted"`
			}{digest, accepted}
			if !accepted && !a.json {
				return fmt.Errorf("analysis request for %s was not accepted", digest)
			}
			return a.print(out, func(w io.Writer) {
				fmt.Fprintf(w, "analysis requested for %s\n", digest)
			})
		}),
	}
}
