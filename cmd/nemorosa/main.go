// Command nemorosa cross-seeds local torrents against configured
// private-tracker sites: a one-shot sweep by default, or a
// long-running webhook/scheduler server with --server.
//
// Grounded on the teacher's cmd/qui/db_command.go cobra shape (flag
// vars bound with cmd.Flags().*Var, RunE returning error) generalized
// from a single subcommand into the root command's own flag set,
// since the teacher's own cmd/qui/main.go was not present in the
// retrieved slice.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gabrieldemian/nemorosa/internal/clientadapter"
	"github.com/gabrieldemian/nemorosa/internal/config"
	"github.com/gabrieldemian/nemorosa/internal/database"
	"github.com/gabrieldemian/nemorosa/internal/engine"
	"github.com/gabrieldemian/nemorosa/internal/scheduler"
	"github.com/gabrieldemian/nemorosa/internal/tracker"
	"github.com/gabrieldemian/nemorosa/internal/webhook"
)

type flags struct {
	configPath        string
	client            string
	noDownload        bool
	retryUndownloaded bool
	server            bool
	torrent           string
	host              string
	port              int
	loglevel          string
}

func main() {
	f := &flags{}

	cmd := &cobra.Command{
		Use:           "nemorosa",
		Short:         "Cross-seed matching and injection engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f)
		},
	}

	cmd.Flags().StringVar(&f.configPath, "config", "", "Path to config.yaml (defaults to the platform user-config path)")
	cmd.Flags().StringVar(&f.client, "client", "", "Override downloader.client")
	cmd.Flags().BoolVar(&f.noDownload, "no-download", false, "Override global.no_download")
	cmd.Flags().BoolVarP(&f.retryUndownloaded, "retry-undownloaded", "r", false, "Run the retry-undownloaded job once and exit")
	cmd.Flags().BoolVarP(&f.server, "server", "s", false, "Run as a long-lived webhook/scheduler server")
	cmd.Flags().StringVarP(&f.torrent, "torrent", "t", "", "Run the match/inject pipeline for a single infohash and exit")
	cmd.Flags().StringVar(&f.host, "host", "", "Override server.host")
	cmd.Flags().IntVar(&f.port, "port", 0, "Override server.port")
	cmd.Flags().StringVarP(&f.loglevel, "loglevel", "l", "", "Override global.loglevel")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *flags) error {
	configPath := f.configPath
	if configPath == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	cfg, err := config.Load(configPath)
	if errors.Is(err, config.ErrMissing) {
		if err := config.WriteDefault(configPath); err != nil {
			return err
		}
		fmt.Printf("nemorosa: wrote default config to %s — edit it and run again\n", configPath)
		return nil
	}
	if err != nil {
		return err
	}

	applyOverrides(cfg, f)

	logPath, err := config.LogPath()
	if err != nil {
		return err
	}
	if err := setupLogging(cfg.Global.LogLevel, logPath); err != nil {
		return err
	}

	if len(cfg.TargetSite) == 0 {
		return errors.New("nemorosa: no target_site configured — no API connections available")
	}

	adapter, err := clientadapter.New(clientadapter.Config{
		RawURL: cfg.Downloader.Client,
		Label:  cfg.Downloader.Label,
	})
	if err != nil {
		return fmt.Errorf("nemorosa: client adapter: %w", err)
	}
	if _, err := adapter.List(ctx, clientadapter.Fields{}); err != nil {
		return fmt.Errorf("nemorosa: client RPC connect failed: %w", err)
	}

	sites, err := buildSites(cfg.TargetSite)
	if err != nil {
		return fmt.Errorf("nemorosa: %w", err)
	}

	dbPath, err := config.DBPath()
	if err != nil {
		return err
	}
	db, err := database.Open(dbPath)
	if err != nil {
		return fmt.Errorf("nemorosa: open database: %w", err)
	}
	defer db.Close()

	trk := tracker.New(adapter, db)
	eng := engine.New(db, adapter, sites, trk, engine.Filters{
		NoDownload:     cfg.Global.NoDownload,
		ExcludeMP3:     cfg.Global.ExcludeMP3,
		CheckMusicOnly: cfg.Global.CheckMusicOnly,
		CheckTrackers:  cfg.Global.CheckTrackers,
	})

	switch {
	case f.server:
		return runServer(ctx, cfg, db, trk, eng)
	case f.torrent != "":
		return runSingle(ctx, eng, f.torrent)
	case f.retryUndownloaded:
		return runRetry(ctx, eng)
	default:
		return runSweep(ctx, eng)
	}
}

func applyOverrides(cfg *config.Config, f *flags) {
	if f.client != "" {
		cfg.Downloader.Client = f.client
	}
	if f.noDownload {
		cfg.Global.NoDownload = true
	}
	if f.host != "" {
		cfg.Server.Host = f.host
	}
	if f.port != 0 {
		cfg.Server.Port = f.port
	}
	if f.loglevel != "" {
		cfg.Global.LogLevel = f.loglevel
	}
}

func runSweep(ctx context.Context, eng *engine.Engine) error {
	stats, err := eng.Sweep(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("scanned", stats.Scanned).Int("found", stats.Found).Int("downloaded", stats.Downloaded).Msg("nemorosa: sweep complete")
	return nil
}

func runRetry(ctx context.Context, eng *engine.Engine) error {
	stats, err := eng.RetryUndownloaded(ctx)
	if err != nil {
		return err
	}
	log.Info().Int("scanned", stats.Scanned).Int("downloaded", stats.Downloaded).Msg("nemorosa: retry-undownloaded complete")
	return nil
}

func runSingle(ctx context.Context, eng *engine.Engine, infoHash string) error {
	result, err := eng.RunSingle(ctx, infoHash)
	if err != nil {
		return err
	}
	fmt.Printf("status=%s message=%q\n", result.Status, result.Message)
	return nil
}

// runServer starts the scheduler's search/cleanup jobs, the
// verification tracker's poll loop, and the webhook HTTP surface, and
// blocks until SIGINT/SIGTERM.
func runServer(parent context.Context, cfg *config.Config, db *database.DB, trk *tracker.Tracker, eng *engine.Engine) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	searchCadence, err := scheduler.ParseCadence(cfg.Server.SearchCadence)
	if err != nil {
		return err
	}
	cleanupCadence, err := scheduler.ParseCadence(cfg.Server.CleanupCadence)
	if err != nil {
		return err
	}

	sched := scheduler.New(db)
	sched.Register("search", searchCadence, func(ctx context.Context) error {
		_, err := eng.Sweep(ctx)
		return err
	})
	sched.Register("cleanup", cleanupCadence, func(ctx context.Context) error {
		_, err := eng.RetryUndownloaded(ctx)
		return err
	})
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("nemorosa: start scheduler: %w", err)
	}
	defer sched.Stop()

	trk.Start(ctx)
	defer trk.Stop()

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: webhook.Router(eng, cfg.Server.APIKey),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("nemorosa: webhook server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
