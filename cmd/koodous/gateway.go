// ABOUTME: Gateway command serving sample lookups over NATS, and its lookup client
// ABOUTME: Runs NATS and HTTP fronts until SIGINT/SIGTERM, logging API call metrics on shutdown

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hikmaai-io/hikmaai-koodous/internal/api"
	"github.com/hikmaai-io/hikmaai-koodous/internal/gateway"
	"github.com/hikmaai-io/hikmaai-koodous/internal/resilience"
	"github.com/hikmaai-io/hikmaai-koodous/pkg/koodous"
)

// natsConfig maps the loaded configuration onto gateway settings.
func (a *app) natsConfig() (gateway.NATSConfig, error) {
	cfg := gateway.DefaultNATSConfig()
	if a.cfg.NATS.URL == "" {
		return cfg, errors.New("NATS URL is required (set nats.url or KOODOUS_NATS_URL)")
	}
	cfg.URL = a.cfg.NATS.URL
	if a.cfg.NATS.Subject != "" {
		cfg.Subject = a.cfg.NATS.Subject
	}
	if a.cfg.NATS.Queue != "" {
		cfg.QueueGroup = a.cfg.NATS.Queue
	}
	return cfg, nil
}

func newGatewayCmd(opts *rootOptions) *cobra.Command {
	var (
		natsURL   string
		httpAddr  string
		withIndex bool
	)

	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Answer sample lookups received over NATS",
		Long: `Start a gateway that subscribes to the lookup subject in a queue group
and answers each request with the Koodous analysis, votes and local index
entry of a sample.

Several gateways can share the queue group to spread the load.`,
		Args: cobra.NoArgs,
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			if natsURL != "" {
				a.cfg.NATS.URL = natsURL
			}
			natsCfg, err := a.natsConfig()
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}

			var (
				reader gateway.IndexReader
				statter api.IndexStatter
			)
			if withIndex {
				idx, err := a.openIndex(ctx)
				if err != nil {
					return err
				}
				defer idx.Close()
				reader, statter = idx, idx
			}

			breaker := gateway.NewBreaker(resilience.Config{})
			return runGateway(ctx, a, gatewayConfig{
				NATS:     natsCfg,
				HTTPAddr: httpAddr,
				Handler:  gateway.NewHandler(gateway.WithBreaker(client, breaker), reader, a.logger),
				Index:    statter,
				Breaker:  breaker,
			})
		}),
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default from config)")
	cmd.Flags().StringVar(&httpAddr, "http-addr", ":8080", "HTTP address for lookup, health and metrics (empty disables)")
	cmd.Flags().BoolVar(&withIndex, "with-index", true, "answer index includes from the local index")

	return cmd
}

type gatewayConfig struct {
	NATS     gateway.NATSConfig
	HTTPAddr string
	Handler  *gateway.Handler
	Index    api.IndexStatter
	Breaker  *resilience.CircuitBreaker
}

func runGateway(ctx context.Context, a *app, cfg gatewayConfig) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a.logger.InfoContext(ctx, "starting koodous gateway",
		slog.String("version", version),
		slog.String("nats_url", cfg.NATS.URL),
		slog.String("subject", cfg.NATS.Subject),
		slog.String("queue", cfg.NATS.QueueGroup),
		slog.String("http_addr", cfg.HTTPAddr),
	)

	nc := gateway.NewClient(cfg.NATS, cfg.Handler, a.logger)
	if err := nc.Connect(ctx); err != nil {
		return err
	}
	defer nc.Close()

	if err := nc.Subscribe(ctx); err != nil {
		return err
	}

	var httpServer *http.Server
	if cfg.HTTPAddr != "" {
		mux := http.NewServeMux()
		api.NewHandler(api.HandlerConfig{
			Lookup:  cfg.Handler,
			Index:   cfg.Index,
			Conn:    nc,
			Breaker: cfg.Breaker,
			Metrics: a.metrics,
		}).RegisterRoutes(mux)

		httpServer = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           api.LoggingMiddleware(a.logger, mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			a.logger.Info("starting HTTP server", slog.String("addr", cfg.HTTPAddr))
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("HTTP server error", slog.String("error", err.Error()))
				cancel()
			}
		}()
	}

	<-ctx.Done()
	a.logger.Info("shutting down gateway")

	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("HTTP server shutdown error", slog.String("error", err.Error()))
		}
	}

	snap := a.metrics.Snapshot()
	a.logger.Info("gateway metrics",
		slog.Int64("calls_total", snap.CallsTotal),
		slog.Int64("calls_succeeded", snap.CallsSucceeded),
		slog.Int64("client_errors", snap.ClientErrors),
		slog.Int64("server_errors", snap.ServerErrors),
		slog.Int64("transport_errors", snap.TransportErrors),
		slog.Int64("rate_limited", snap.RateLimited),
		slog.Any("latency", a.metrics.LatencyPercentiles()),
		slog.Any("circuit_breaker", cfg.Breaker.Statistics()),
	)
	for op, stat := range a.metrics.Operations() {
		a.logger.Info("gateway operation",
			slog.String("operation", op),
			slog.Int64("calls", stat.Calls),
			slog.Int64("failures", stat.Failures),
			slog.Int("last_status", stat.LastStatusCode),
			slog.Duration("avg_latency", stat.AverageLatency),
		)
	}
	return nil
}

func newLookupCmd(opts *rootOptions) *cobra.Command {
	var (
		natsURL string
		include []string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "lookup <sha256>",
		Short: "Ask a running gateway about a sample",
		Args:  cobra.ExactArgs(1),
		RunE: opts.run(func(ctx context.Context, a *app, args []string) error {
			if natsURL != "" {
				a.cfg.NATS.URL = natsURL
			}
			natsCfg, err := a.natsConfig()
			if err != nil {
				return err
			}

			conn, err := gateway.Dial(natsCfg, a.logger)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			resp, err := gateway.RequestLookup(ctx, conn, natsCfg.Subject, gateway.LookupRequest{
				SHA256:  args[0],
				Include: include,
			})
			if err != nil {
				return err
			}
			if err := a.print(resp, func(w io.Writer) { printLookup(w, resp) }); err != nil {
				return err
			}
			if resp.Status == gateway.StatusError || resp.Status == gateway.StatusInvalid {
				return fmt.Errorf("lookup %s: %s", resp.Status, resp.Error)
			}
			return nil
		}),
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default from config)")
	cmd.Flags().StringSliceVar(&include, "include", nil, "parts to include: analysis, votes, index")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for an answer")

	return cmd
}

func printLookup(w io.Writer, resp *gateway.LookupResponse) {
	fmt.Fprintf(w, "%s  %s\n", resp.SHA256, resp.Status)
	if resp.Analysis != nil {
		keys := slices.Sorted(maps.Keys(resp.Analysis))
		fmt.Fprintf(w, "  analysis: %d sections (%s)\n", len(keys), strings.Join(keys, ", "))
	}
	if resp.Votes != nil {
		var pos, neg int
		for _, v := range resp.Votes.Results {
			if v.Kind == koodous.VotePositive {
				pos++
			} else {
				neg++
			}
		}
		fmt.Fprintf(w, "  votes: %d positive, %d negative\n", pos, neg)
	}
	if resp.Indexed != nil {
		fmt.Fprintf(w, "  indexed: rulesets %v since %s\n", resp.Indexed.Rulesets, resp.Indexed.IndexedAt.Format(time.RFC3339))
	}
	if resp.Error != "" {
		fmt.Fprintf(w, "  error: %s (%s)\n", resp.Error, resp.ErrorCode)
	}
}
