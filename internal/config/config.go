package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration.
type Config struct {
	GitHub   GitHubConfig   `yaml:"github"`
	Provider ProviderConfig `yaml:"provider"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
}

// GitHubConfig holds GitHub authentication settings. auth selects between a
// personal access token ("token", the default) and a GitHub App
// installation ("app").
type GitHubConfig struct {
	Auth           string `yaml:"auth"`
	Token          string `yaml:"token"`
	Username       string `yaml:"username"`
	AppID          string `yaml:"app_id"`
	InstallationID string `yaml:"installation_id"`
	PrivateKeyPath string `yaml:"private_key_path"`
	PrivateKey     string `yaml:"private_key"`
}

// LLMConfig holds settings for the summarization LLM.
type LLMConfig struct {
	Type   string `yaml:"type"`
	Model  string `yaml:"model"`
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
}

// ProviderConfig groups provider configs.
type ProviderConfig struct {
	LLM LLMConfig `yaml:"llm"`
}

// DefaultsConfig holds default operational parameters.
type DefaultsConfig struct {
	RefreshIntervalRaw string `yaml:"refresh_interval"`
	RequestTimeoutRaw  string `yaml:"request_timeout"`
	FetchWindowDays    int    `yaml:"fetch_window_days"`
	RepoLimit          int    `yaml:"repo_limit"`
	Workers            int    `yaml:"workers"`
}

// StoreConfig holds storage settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig holds web server settings.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// RefreshInterval returns the parsed background refresh interval.
func (d DefaultsConfig) RefreshInterval() (time.Duration, error) {
	if d.RefreshIntervalRaw == "" {
		return time.Minute, nil
	}
	return time.ParseDuration(d.RefreshIntervalRaw)
}

// RequestTimeout returns the parsed per-request timeout.
func (d DefaultsConfig) RequestTimeout() (time.Duration, error) {
	if d.RequestTimeoutRaw == "" {
		return 30 * time.Second, nil
	}
	return time.ParseDuration(d.RequestTimeoutRaw)
}

// FetchWindow returns the commit fetch lookback as a duration.
func (d DefaultsConfig) FetchWindow() time.Duration {
	return time.Duration(d.FetchWindowDays) * 24 * time.Hour
}

// envVarPattern matches ${VAR} patterns.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} placeholders with environment variable values.
// Returns an error if any referenced variable is not set.
func expandEnvVars(data []byte) ([]byte, error) {
	var missing []string

	result := envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		val, ok := os.LookupEnv(string(varName))
		if !ok {
			missing = append(missing, string(varName))
			return match
		}
		return []byte(val)
	})

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return result, nil
}

// Load reads and parses a config file from the given path. A missing file
// yields the defaults; the dashboard works with just GITHUB_TOKEN set.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := &Config{}
			applyDefaults(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses config from raw YAML bytes, expanding env vars and validating.
func Parse(data []byte) (*Config, error) {
	expanded, err := expandEnvVars(data)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.GitHub.Auth == "" {
		cfg.GitHub.Auth = "token"
	}
	if cfg.GitHub.Token == "" {
		cfg.GitHub.Token = os.Getenv("GITHUB_TOKEN")
	}
	if cfg.Defaults.RefreshIntervalRaw == "" {
		cfg.Defaults.RefreshIntervalRaw = "1m"
	}
	if cfg.Defaults.RequestTimeoutRaw == "" {
		cfg.Defaults.RequestTimeoutRaw = "30s"
	}
	if cfg.Defaults.FetchWindowDays == 0 {
		cfg.Defaults.FetchWindowDays = 30
	}
	if cfg.Defaults.RepoLimit == 0 {
		cfg.Defaults.RepoLimit = 15
	}
	if cfg.Defaults.Workers == 0 {
		cfg.Defaults.Workers = 5
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "~/.gitdash/gitdash.db"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8000"
	}
}

func validate(cfg *Config) error {
	switch cfg.GitHub.Auth {
	case "token", "app":
	default:
		return fmt.Errorf("unsupported github auth mode: %q", cfg.GitHub.Auth)
	}

	if _, err := time.ParseDuration(cfg.Defaults.RefreshIntervalRaw); err != nil {
		return fmt.Errorf("invalid refresh_interval %q: %w", cfg.Defaults.RefreshIntervalRaw, err)
	}
	if _, err := time.ParseDuration(cfg.Defaults.RequestTimeoutRaw); err != nil {
		return fmt.Errorf("invalid request_timeout %q: %w", cfg.Defaults.RequestTimeoutRaw, err)
	}

	if cfg.Defaults.FetchWindowDays < 0 {
		return fmt.Errorf("fetch_window_days must be positive, got %d", cfg.Defaults.FetchWindowDays)
	}
	if cfg.Defaults.RepoLimit < 0 {
		return fmt.Errorf("repo_limit must be positive, got %d", cfg.Defaults.RepoLimit)
	}

	validLLMTypes := map[string]bool{"openai": true, "ollama": true, "anthropic": true, "": true}
	if !validLLMTypes[cfg.Provider.LLM.Type] {
		return fmt.Errorf("unsupported LLM provider type: %s", cfg.Provider.LLM.Type)
	}

	return nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return home + path[1:]
		}
	}
	return path
}
