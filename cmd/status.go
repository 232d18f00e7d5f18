package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuxueshuxue/gitdash/internal/config"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache health overview",
	Long: `Display the state of the local activity cache: which repositories are
cached, how many commits each holds, when they were last fetched, and
the database file size.`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	logger := setupLogger()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	c, err := initComponents(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing components: %w", err)
	}
	defer c.Store.Close()

	records, err := c.Store.LoadEntries()
	if err != nil {
		return fmt.Errorf("reading cache: %w", err)
	}

	if len(records) == 0 {
		fmt.Println("Cache is empty.")
		fmt.Println("Run 'gitdash sync' or 'gitdash board' to populate it.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "REPOSITORY\tCOMMITS\tSUMMARY\tLAST FETCHED")
	fmt.Fprintln(w, "----------\t-------\t-------\t------------")

	totalCommits := 0
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n",
			rec.RepoID, len(rec.Changes), rec.SummaryStatus, formatTimeAgo(rec.FetchedAt))
		totalCommits += len(rec.Changes)
	}
	if len(records) > 1 {
		fmt.Fprintf(w, "TOTAL\t%d\t\t\n", totalCommits)
	}
	w.Flush()

	fmt.Println()
	dbPath := config.ExpandPath(cfg.Store.Path)
	if size, err := dbFileSize(dbPath); err != nil {
		fmt.Printf("Database: %s (size unknown)\n", dbPath)
	} else {
		fmt.Printf("Database: %s (%s)\n", dbPath, formatBytes(size))
	}

	return nil
}

// dbFileSize returns the size of the database file in bytes.
func dbFileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// formatTimeAgo formats a time as a human-readable relative string.
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)

	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		mins := int(d.Minutes())
		if mins == 1 {
			return "1 minute ago"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case d < 24*time.Hour:
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
