package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuxueshuxue/gitdash/internal/board"
)

var (
	boardLimit int
	boardUser  string
	boardAsOf  string
)

const maxStateWidth = 48

var boardCmd = &cobra.Command{
	Use:   "board",
	Short: "Render the activity dashboard once",
	Long: `Board fetches your most recently active repositories, syncs their
commits, generates AI summaries, and prints a ranked activity table.

--as-of accepts an RFC 3339 timestamp and renders the board as if it
were that moment; cached data is reused but the scoring windows shift.`,
	Args: cobra.NoArgs,
	RunE: runBoard,
}

func init() {
	boardCmd.Flags().IntVar(&boardLimit, "limit", 0, "max repositories to include (default from config)")
	boardCmd.Flags().StringVar(&boardUser, "user", "", "GitHub username (default: authenticated user)")
	boardCmd.Flags().StringVar(&boardAsOf, "as-of", "", "virtual current time, RFC 3339 (e.g. 2026-08-20T12:00:00Z)")
	rootCmd.AddCommand(boardCmd)
}

func runBoard(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	asOf := time.Now().UTC()
	if boardAsOf != "" {
		asOf, err = time.Parse(time.RFC3339, boardAsOf)
		if err != nil {
			return fmt.Errorf("invalid --as-of %q: %w", boardAsOf, err)
		}
		asOf = asOf.UTC()
	}

	limit := boardLimit
	if limit <= 0 {
		limit = cfg.Defaults.RepoLimit
	}
	username := boardUser
	if username == "" {
		username = cfg.GitHub.Username
	}

	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Store.Close()

	restoreCache(c)

	ctx := context.Background()

	fmt.Fprintf(os.Stderr, "Fetching repositories...\n")
	repos, err := c.Source.ListRepositories(ctx, username, limit)
	if err != nil {
		return fmt.Errorf("listing repositories: %w", err)
	}
	if len(repos) == 0 {
		fmt.Println("No repositories found. Make sure GITHUB_TOKEN is set.")
		return nil
	}
	fmt.Fprintf(os.Stderr, "Found %d repositories, syncing...\n", len(repos))

	if err := c.Engine.Sync(ctx, repos); err != nil {
		logger.Warn("cache persistence failed", "error", err)
	}

	rows := board.ComputeRows(repos, c.Engine, asOf)
	renderBoard(rows, asOf)

	// Rate limit footer; skipped silently when the quota query fails.
	if remaining, limitTotal, reset, err := c.Source.RateLimit(ctx); err == nil {
		fmt.Printf("\nAPI rate limit: %d/%d remaining, resets at %s\n",
			remaining, limitTotal, reset.Local().Format("15:04:05"))
	}

	return nil
}

func renderBoard(rows []board.Row, asOf time.Time) {
	fmt.Printf("GitDash - %s\n\n", asOf.Format("2006-01-02 15:04:05 MST"))

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\t3D\t30D\tLANG\tSCORE\tWORKING STATE")
	fmt.Fprintln(w, "-------\t--\t---\t----\t-----\t-------------")

	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\t%s\n",
			r.Project, r.Count3d, r.Count30d, r.Language, r.Weight, clip(r.WorkingState, maxStateWidth))
	}
	w.Flush()

	fmt.Printf("\nTotal score: %d\n", board.TotalWeight(rows))
}

// clip shortens a string for single-line table display.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
