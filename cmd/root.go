package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuxueshuxue/gitdash/internal/config"
	"github.com/shuxueshuxue/gitdash/internal/engine"
	"github.com/shuxueshuxue/gitdash/internal/github"
	"github.com/shuxueshuxue/gitdash/internal/provider"
	"github.com/shuxueshuxue/gitdash/internal/pubsub"
	"github.com/shuxueshuxue/gitdash/internal/store"
	"github.com/shuxueshuxue/gitdash/internal/summary"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gitdash",
	Short: "Personal GitHub activity dashboard",
	Long: `GitDash tracks your recent GitHub activity: it syncs commits from your
most active repositories, summarizes what each project is working on
with an LLM, and ranks everything by a recency-weighted score.`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", fmt.Sprintf("config file (default %s)", defaultConfigPath()))
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gitdash/config.yaml"
	}
	return home + "/.gitdash/config.yaml"
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = defaultConfigPath()
	}
	return config.Load(path)
}

// components holds initialized components for use by subcommands.
type components struct {
	Config    *config.Config
	Store     *store.DB
	Source    *github.Client
	Completer provider.Completer
	Engine    *engine.Engine
	Broker    *pubsub.Broker[engine.SyncEvent]
	Logger    *slog.Logger
}

// initComponents creates all components from config.
func initComponents(cfg *config.Config, logger *slog.Logger) (*components, error) {
	c := &components{
		Config: cfg,
		Logger: logger,
	}

	// Open store
	db, err := store.Open(config.ExpandPath(cfg.Store.Path))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	c.Store = db

	// Create GitHub client
	var ghClient *github.Client
	switch cfg.GitHub.Auth {
	case "app":
		appID, err := strconv.ParseInt(cfg.GitHub.AppID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing app_id: %w", err)
		}
		installID, err := strconv.ParseInt(cfg.GitHub.InstallationID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing installation_id: %w", err)
		}
		gh, err := github.NewAppClient(appID, installID, []byte(cfg.GitHub.PrivateKey), cfg.GitHub.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("creating GitHub client: %w", err)
		}
		ghClient = github.NewClient(gh, logger)
	default:
		ghClient = github.NewClient(github.NewTokenClient(cfg.GitHub.Token), logger)
	}
	c.Source = ghClient

	// Create LLM provider
	switch cfg.Provider.LLM.Type {
	case "openai":
		c.Completer = provider.NewOpenAICompleter(cfg.Provider.LLM.APIKey, cfg.Provider.LLM.Model)
	case "anthropic":
		c.Completer = provider.NewAnthropicCompleter(cfg.Provider.LLM.APIKey, cfg.Provider.LLM.Model)
	case "ollama":
		c.Completer = provider.NewOllamaCompleter(cfg.Provider.LLM.URL, cfg.Provider.LLM.Model)
	case "":
		// No LLM provider configured; summaries degrade to a failure note.
	default:
		return nil, fmt.Errorf("unsupported LLM provider type: %q", cfg.Provider.LLM.Type)
	}

	timeout, err := cfg.Defaults.RequestTimeout()
	if err != nil {
		timeout = 30 * time.Second
	}

	var summarizer engine.Summarizer
	if c.Completer != nil {
		summarizer = summary.NewGenerator(c.Completer, timeout)
	}

	// Create broker and engine
	c.Broker = pubsub.NewBroker[engine.SyncEvent]()
	c.Engine = engine.New(c.Source, summarizer, db,
		engine.WithWindow(cfg.Defaults.FetchWindow()),
		engine.WithTimeout(timeout),
		engine.WithWorkers(cfg.Defaults.Workers),
		engine.WithBroker(c.Broker),
		engine.WithLogger(logger),
	)

	return c, nil
}

// restoreCache loads the persisted cache into the engine. Corruption is not
// fatal: the cache starts empty and the next sync rebuilds it.
func restoreCache(c *components) {
	if err := c.Engine.Restore(); err != nil {
		c.Logger.Warn("could not restore cache, starting empty", "error", err)
	}
}
