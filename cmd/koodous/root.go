// ABOUTME: Root command for the koodous CLI with global flags and shared setup
// ABOUTME: Loads config, builds the logger, metrics, audit log and API client for subcommands

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-koodous/internal/config"
	"github.com/hikmaai-io/hikmaai-koodous/internal/index"
	"github.com/hikmaai-io/hikmaai-koodous/internal/observability"
	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

const serviceName = "hikmaai-koodous"

// rootOptions holds the global flags.
type rootOptions struct {
	cfgFile   string
	logLevel  string
	logFormat string
	token     string
	baseURL   string
	dataDir   string
	json      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "koodous",
		Short: "Command line client for the Koodous APK analysis service",
		Long: `koodous talks to the Koodous REST API: upload and download APK
samples, search the corpus, read and request analyses, comment and vote on
samples, and list public ruleset matches.

Ruleset matches can be mirrored into a local Badger index, and the gateway
command answers sample lookups over NATS.

The API token is read from --token, KOODOUS_TOKEN or koodous.token in the
config file.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default: "+config.DefaultConfigPath()+")")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format (json, text)")
	cmd.PersistentFlags().StringVar(&opts.token, "token", "", "Koodous API token")
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "", "Koodous API base URL")
	cmd.PersistentFlags().StringVar(&opts.dataDir, "data-dir", "", "data directory for the local index")
	cmd.PersistentFlags().BoolVarP(&opts.json, "json", "j", false, "output results as JSON")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newHashCmd(opts))
	cmd.AddCommand(newUnpackCmd(opts))
	cmd.AddCommand(newUploadCmd(opts))
	cmd.AddCommand(newDownloadCmd(opts))
	cmd.AddCommand(newSearchCmd(opts))
	cmd.AddCommand(newAnalysisCmd(opts))
	cmd.AddCommand(newAnalyzeCmd(opts))
	cmd.AddCommand(newCommentsCmd(opts))
	cmd.AddCommand(newVoteCmd(opts))
	cmd.AddCommand(newVotesCmd(opts))
	cmd.AddCommand(newRulesetCmd(opts))
	cmd.AddCommand(newIndexCmd(opts))
	cmd.AddCommand(newWhoamiCmd(opts))
	cmd.AddCommand(newGatewayCmd(opts))
	cmd.AddCommand(newLookupCmd(opts))

	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "koodous version %s\n", version)
			fmt.Fprintf(w, "  Git SHA:    %s\n", gitSHA)
			fmt.Fprintf(w, "  Build Time: %s\n", buildTime)
		},
	}
}

// app is the per-invocation environment shared by subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.APIMetrics
	audit   *observability.AuditLogger
	tracing *observability.TracerProvider
	out     io.Writer
	json    bool
}

// setup loads configuration, applies flag overrides and builds the logger.
// Callers must defer close.
func (o *rootOptions) setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
	if o.token != "" {
		cfg.Koodous.Token = o.token
	}
	if o.baseURL != "" {
		cfg.Koodous.BaseURL = o.baseURL
	}
	if o.dataDir != "" {
		cfg.DataDir = o.dataDir
	}

	if _, err := observability.ParseLogLevel(cfg.Log.Level); err != nil {
		return nil, err
	}
	if !observability.ValidLogFormat(cfg.Log.Format) {
		return nil, fmt.Errorf("invalid log format %q (want json or text)", cfg.Log.Format)
	}

	logger := observability.NewLogger(observability.LoggingConfig{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
		Version:     version,
	}, cmd.ErrOrStderr())

	tp, err := observability.NewTracerProvider(cmd.Context(), observability.TracingConfig{
		Enabled:       cfg.Tracing.Enabled,
		ServiceName:   serviceName,
		Version:       version,
		Endpoint:      cfg.Tracing.Endpoint,
		Insecure:      cfg.Tracing.Insecure,
		SamplingRatio: cfg.Tracing.SamplingRatio,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		metrics: observability.NewAPIMetrics(),
		audit:   observability.NewAuditLogger(logger, actorName()),
		tracing: tp,
		out:     cmd.OutOrStdout(),
		json:    o.json,
	}, nil
}

// close flushes traces and logs call metrics at debug level.
func (a *app) close(ctx context.Context) {
	if snap := a.metrics.Snapshot(); snap.CallsTotal > 0 {
		a.logger.DebugContext(ctx, "api call metrics",
			slog.String("summary", snap.String()),
			slog.Any("latency", a.metrics.LatencyPercentiles()),
		)
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		a.logger.WarnContext(ctx, "failed to flush traces", slog.Any("error", err))
	}
}

// client builds an API client from the validated configuration.
func (a *app) client() (*koodous.Client, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	opts := []koodous.Option{
		koodous.WithBaseURL(a.cfg.Koodous.BaseURL),
		koodous.WithLogger(a.logger),
		koodous.WithRecorder(a.metrics),
		koodous.WithUserAgent(serviceName + "/" + version),
	}
	if a.tracing.Exporting() {
		opts = append(opts, koodous.WithTracer(a.tracing.Tracer()))
	}
	if a.cfg.Koodous.Timeout > 0 {
		opts = append(opts, koodous.WithTimeout(a.cfg.Koodous.Timeout))
	}
	if a.cfg.Koodous.PageSize > 0 {
		opts = append(opts, koodous.WithPageSize(a.cfg.Koodous.PageSize))
	}
	return koodous.New(a.cfg.Koodous.Token, opts...)
}

// openIndex opens the local sample index under the data directory.
func (a *app) openIndex(ctx context.Context) (*index.Index, error) {
	if err := os.MkdirAll(a.cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return index.Open(ctx, index.Config{
		Dir:    a.cfg.DataDir,
		Bloom:  index.DefaultBloomConfig(),
		Logger: a.logger,
	})
}

// print writes v as indented JSON in --json mode, otherwise calls text.
func (a *app) print(v any, text func(w io.Writer)) error {
	if a.json {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(a.out)
	return nil
}

// run wraps a subcommand body with setup and teardown.
func (o *rootOptions) run(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := o.setup(cmd)
		if err != nil {
			return err
		}
		ctx, _ := observability.EnsureCorrelationID(cmd.Context())
		defer a.close(ctx)
		return fn(ctx, a, args)
	}
}

// actorName identifies the local user in audit records.
func actorName() string {
	if u := strings.TrimSpace(os.Getenv("USER")); u != "" {
		return u
	}
	return "cli"
}
