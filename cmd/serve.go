package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuxueshuxue/gitdash/internal/web"
)

var (
	serveAddr     string
	serveInterval string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard web server",
	Long: `Serve starts the GitDash web server. The dashboard page polls the
backend, which refreshes from GitHub in the background at a fixed
interval; a refresh button triggers one immediately.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
	serveCmd.Flags().StringVar(&serveInterval, "interval", "", "background refresh interval (e.g. 1m, 30s)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	interval, err := cfg.Defaults.RefreshInterval()
	if err != nil {
		return fmt.Errorf("invalid refresh_interval: %w", err)
	}
	if serveInterval != "" {
		interval, err = time.ParseDuration(serveInterval)
		if err != nil {
			return fmt.Errorf("invalid --interval %q: %w", serveInterval, err)
		}
	}

	if cfg.GitHub.Auth == "token" && cfg.GitHub.Token == "" {
		logger.Warn("GITHUB_TOKEN not set, API calls will be unauthenticated")
	}

	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Store.Close()

	restoreCache(c)

	dash := web.NewDashboard(c.Source, c.Engine,
		web.WithUsername(cfg.GitHub.Username),
		web.WithRepoLimit(cfg.Defaults.RepoLimit),
		web.WithDashboardLogger(logger),
	)
	server := web.NewServer(dash, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	// Background refresh loop. The first page load triggers the initial
	// refresh; the ticker keeps the snapshot current afterwards.
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := dash.Refresh(ctx); err != nil {
					logger.Warn("background refresh failed", "error", err)
				}
			}
		}
	}()

	httpServer := &http.Server{
		Addr:    addr,
		Handler: server.Handler(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("web server listening", "addr", addr, "interval", interval.String())
		serverErr <- httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("server stopped")
	return nil
}
