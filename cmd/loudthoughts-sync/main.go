package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/loudthoughts/loudthoughts/internal/logger"
	"github.com/loudthoughts/loudthoughts/internal/provider"
	"github.com/loudthoughts/loudthoughts/internal/vaultsync"
)

var Version = "dev"

type options struct {
	baseURL      string
	token        string
	settingsPath string
	timeout      time.Duration
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "loudthoughts-sync",
		Short:         "Drain buffered voice notes into a markdown vault",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.baseURL, "base-url", envOrDefault("LOUDTHOUGHTS_BASE_URL", "http://127.0.0.1:8080"), "loudthoughts server base URL")
	flags.StringVar(&opts.token, "token", strings.TrimSpace(os.Getenv("LOUDTHOUGHTS_TOKEN")), "bearer token")
	flags.StringVar(&opts.settingsPath, "settings", envOrDefault("LOUDTHOUGHTS_SETTINGS", "loudthoughts.yaml"), "vault settings file")
	flags.DurationVar(&opts.timeout, "timeout", 15*time.Second, "per-request timeout")

	rootCmd.AddCommand(runCmd(opts))
	rootCmd.AddCommand(resyncCmd(opts))
	rootCmd.AddCommand(clearCmd(opts))
	return rootCmd
}

func runCmd(opts *options) *cobra.Command {
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Follow the buffer feed and apply notes as they arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			if app.templates != nil {
				go func() {
					if err := app.templates.Run(ctx); err != nil {
						app.log.Warn().Err(err).Msg("template watcher stopped")
					}
				}()
			}
			if metricsAddr != "" {
				go serveMetrics(ctx, metricsAddr, app.log)
			}
			app.log.Info().Str("base_url", opts.baseURL).Str("vault", app.settings.VaultDir).Msg("vault sync started")
			err = app.syncer.Run(ctx)
			app.log.Info().Msg("vault sync stopped")
			return err
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func resyncCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resync",
		Short: "Fetch the buffer once and apply every pending note",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newApp(opts)
			if err != nil {
				return err
			}
			result, err := app.syncer.Resync(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d, failed %d\n", len(result.Applied), len(result.Failed))
			failed := make([]string, 0, len(result.Failed))
			for id := range result.Failed {
				failed = append(failed, id)
			}
			sort.Strings(failed)
			for _, id := range failed {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s: %v\n", id, result.Failed[id])
			}
			if len(failed) > 0 {
				return errors.New("some notes were left pending")
			}
			return nil
		},
	}
}

func clearCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear [note-id...]",
		Short: "Remove notes from the buffer without writing them",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(opts)
			if err != nil {
				return err
			}
			syncer, err := vaultsync.NewSyncer(client, discardSink{}, vaultsync.SyncerOptions{Logger: zerolog.Nop()})
			if err != nil {
				return err
			}
			for _, id := range args {
				if err := syncer.Clear(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared %s\n", id)
			}
			return nil
		},
	}
}

type app struct {
	log       zerolog.Logger
	settings  vaultsync.Settings
	templates *vaultsync.TemplateWatcher
	syncer    *vaultsync.Syncer
}

func newApp(opts *options) (*app, error) {
	settings, err := vaultsync.LoadSettings(opts.settingsPath)
	if err != nil {
		return nil, err
	}
	log := logger.New("loudthoughts-sync")
	if settings.Debug {
		log = logger.WithLevel(log, "debug")
	} else {
		log = logger.WithLevel(log, "info")
	}

	var templates *vaultsync.TemplateWatcher
	var source vaultsync.TemplateSource
	if settings.UseCustomTemplate {
		templates, err = vaultsync.NewTemplateWatcher(filepath.Join(settings.VaultDir, settings.MarkdownTemplate), log)
		if err != nil {
			return nil, err
		}
		source = templates
	}
	sink, err := vaultsync.NewVaultSink(settings, source)
	if err != nil {
		return nil, err
	}
	client, err := newClient(opts)
	if err != nil {
		return nil, err
	}
	syncer, err := vaultsync.NewSyncer(client, sink, vaultsync.SyncerOptions{Logger: log})
	if err != nil {
		return nil, err
	}
	return &app{log: log, settings: settings, templates: templates, syncer: syncer}, nil
}

func newClient(opts *options) (*vaultsync.HTTPClient, error) {
	if strings.TrimSpace(opts.token) == "" {
		return nil, errors.New("token is required (--token or LOUDTHOUGHTS_TOKEN)")
	}
	timeout := opts.timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return vaultsync.NewHTTPClient(opts.baseURL, opts.token, &http.Client{Timeout: timeout}), nil
}

func serveMetrics(ctx context.Context, addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warn().Err(err).Str("addr", addr).Msg("metrics server failed")
	}
}

type discardSink struct{}

func (discardSink) Apply(context.Context, provider.Note) error {
	return nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}
