package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/spf13/cobra"

	"github.com/shuxueshuxue/gitdash/internal/engine"
	"github.com/shuxueshuxue/gitdash/internal/pubsub"
)

var (
	syncLimit int
	syncUser  string
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Refresh the activity cache without rendering",
	Long: `Sync fetches commits for your most recently active repositories and
updates the local cache. Repositories whose cached data is still
fresh are skipped. The dashboard and web server read from this cache.`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVar(&syncLimit, "limit", 0, "max repositories to sync (default from config)")
	syncCmd.Flags().StringVar(&syncUser, "user", "", "GitHub username (default: authenticated user)")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	limit := syncLimit
	if limit <= 0 {
		limit = cfg.Defaults.RepoLimit
	}
	username := syncUser
	if username == "" {
		username = cfg.GitHub.Username
	}

	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Store.Close()

	restoreCache(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := c.Source.ListRepositories(ctx, username, limit)
	if err != nil {
		return fmt.Errorf("listing repositories: %w", err)
	}
	if len(repos) == 0 {
		fmt.Println("No repositories found. Make sure GITHUB_TOKEN is set.")
		return nil
	}

	// Print per-repo progress from sync events while the batch runs.
	events := c.Broker.Subscribe(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportProgress(events)
	}()

	err = c.Engine.Sync(ctx, repos)

	cancel()
	wg.Wait()

	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	fmt.Printf("Synced %d repositories.\n", len(repos))
	return nil
}

// reportProgress prints one status line per repository as events arrive.
func reportProgress(events <-chan pubsub.Event[engine.SyncEvent]) {
	for evt := range events {
		switch evt.Type {
		case pubsub.Fetched:
			fmt.Fprintf(os.Stderr, "  %-40s %d commits (%s)\n",
				evt.Payload.Repo, evt.Payload.Fetched, evt.Payload.Status)
		case pubsub.Skipped:
			fmt.Fprintf(os.Stderr, "  %-40s fresh, skipped\n", evt.Payload.Repo)
		case pubsub.Failed:
			fmt.Fprintf(os.Stderr, "  %-40s FAILED: %s\n",
				evt.Payload.Repo, evt.Payload.Reason)
		}
	}
}
