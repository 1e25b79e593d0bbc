package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/sitechat/internal/api"
	"github.com/MikeSquared-Agency/sitechat/internal/config"
	"github.com/MikeSquared-Agency/sitechat/internal/crawl"
	"github.com/MikeSquared-Agency/sitechat/internal/hermes"
	"github.com/MikeSquared-Agency/sitechat/internal/metrics"
	"github.com/MikeSquared-Agency/sitechat/internal/orchestrator"
)

func newServeCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Serve the crawl, ask, history and settings endpoints. Crawls started over
the API are tracked in the background until they finish.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg.LogLevel, os.Stdout)
			slog.Info("sitechat starting", "port", cfg.Port, "store", cfg.StoreBackend)

			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, metrics.New(prometheus.DefaultRegisterer), true)
			if err != nil {
				slog.Error("startup failed", "error", err)
				return err
			}
			defer a.close()

			apiCfg := api.Config{
				Port:        cfg.Port,
				APIToken:    cfg.APIToken,
				CORSOrigins: cfg.CORSOrigins,
			}
			if a.hermes != nil {
				apiCfg.EventsConnected = a.hermes.Connected
			}
			srv := api.NewServer(apiCfg, a.svc, slog.Default())

			if a.hermes != nil {
				if err := a.hermes.Publish(hermes.SubjectAgentRegistered, map[string]any{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
					"port":      cfg.Port,
				}); err != nil {
					slog.Warn("failed to publish registration", "error", err)
				}
			}

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.Start(gctx)
			})
			// background crawl trackers stop while the HTTP server drains
			g.Go(func() error {
				<-gctx.Done()
				a.svc.Close()
				slog.Info("crawl tracking stopped")
				return nil
			})

			slog.Info("sitechat ready", "port", cfg.Port)
			err = g.Wait()
			slog.Info("sitechat stopped")
			return err
		},
	}
}

func newCrawlCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl a website and wait for it to finish",
		Long: `Submit a crawl of the given URL and poll it until it completes or fails.
The resulting pages replace the site's stored content and clear its conversation.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg.LogLevel, os.Stderr)
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, nil, true)
			if err != nil {
				return err
			}
			defer a.close()

			job, err := a.svc.StartCrawl(ctx, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "crawl %s started for %s\n", job.ID, job.Site)

			job, err = a.svc.AwaitCrawl(ctx, job.ID, func(j orchestrator.Job) {
				fmt.Fprintf(out, "%-9s %3.0f%% (%d/%d)\n", j.Status, j.Progress*100, j.Completed, j.Total)
			})
			if err != nil {
				return err
			}
			if job.Status == crawl.StatusFailed {
				return errors.New(job.Error)
			}
			fmt.Fprintf(out, "crawled %d pages from %s\n", job.Pages, job.Site)
			return nil
		},
	}
}

func newAskCmd(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <site> <question>",
		Short: "Ask a question about a crawled site",
		Long: `Stream an answer about a previously crawled site to stdout. The site is the
host name the crawl was started for, e.g. docs.example.com.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg.LogLevel, os.Stderr)
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, nil, true)
			if err != nil {
				return err
			}
			defer a.close()

			sink := &writerSink{w: cmd.OutOrStdout()}
			if err := a.svc.Ask(ctx, args[0], args[1], sink); err != nil {
				if sink.failed != "" {
					return errors.New(sink.failed)
				}
				return err
			}
			return nil
		},
	}
}

func newHistoryCmd(cfg config.Config) *cobra.Command {
	var reset bool
	cmd := &cobra.Command{
		Use:   "history <site>",
		Short: "Show or clear a site's conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(cfg.LogLevel, os.Stderr)
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, nil, reset)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if reset {
				if err := a.svc.ResetHistory(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "history cleared for %s\n", args[0])
				return nil
			}
			return printHistory(ctx, a.svc, args[0], out)
		},
	}
	cmd.Flags().BoolVar(&reset, "reset", false, "clear the conversation instead of printing it")
	return cmd
}

func printHistory(ctx context.Context, svc *orchestrator.Service, site string, out io.Writer) error {
	turns, err := svc.History(ctx, site)
	if err != nil {
		return err
	}
	if len(turns) == 0 {
		fmt.Fprintf(out, "no conversation for %s\n", site)
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(out, "%s: %s\n\n", t.Role, t.Content)
	}
	return nil
}

// writerSink prints deltas as they arrive.
type writerSink struct {
	w      io.Writer
	failed string
}

func (s *writerSink) OnDelta(text string) { fmt.Fprint(s.w, text) }
func (s *writerSink) OnDone()             { fmt.Fprintln(s.w) }
func (s *writerSink) OnError(message string) {
	s.failed = message
}
