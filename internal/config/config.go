package config

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the application's configuration model. It captures the platform
// endpoint and identity, file locations, reply generation, and pacing.
type Config struct {
	Platform   PlatformConfig   `yaml:"platform"`
	Paths      PathsConfig      `yaml:"paths"`
	Reply      ReplyConfig      `yaml:"reply"`
	Audience   AudienceConfig   `yaml:"audience"`
	Engagement EngagementConfig `yaml:"engagement"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type PlatformConfig struct {
	// Name keys the credential store entry; one active credential per name.
	Name   string `yaml:"name"`
	PDSURL string `yaml:"pdsURL"`
	Handle string `yaml:"handle"`
	// App password for session issuance. If empty, read from PARLEY_APP_PASSWORD.
	AppPassword string `yaml:"appPassword"`
}

type PathsConfig struct {
	Credentials string `yaml:"credentials"`
	Ledger      string `yaml:"ledger"`
	ActionLog   string `yaml:"actionLog"`
	Voice       string `yaml:"voice"`
}

type ReplyConfig struct {
	Provider string `yaml:"provider"` // "anthropic" or "none"
	Model    string `yaml:"model"`
	// If empty, read from ANTHROPIC_API_KEY.
	APIKey string `yaml:"apiKey"`
	// Platform posting limit; oversized drafts are regenerated, then abstained.
	MaxChars    int `yaml:"maxChars"`
	MaxAttempts int `yaml:"maxAttempts"`
	// Only posts newer than this many hours are eligible for a reply.
	LookbackHours int `yaml:"lookbackHours"`
}

type AudienceConfig struct {
	// Discovery filters applied when pulling followers into the ledger.
	MinFollowers int  `yaml:"minFollowers"`
	VerifiedOnly bool `yaml:"verifiedOnly"`
	PageSize     int  `yaml:"pageSize"`
}

type EngagementConfig struct {
	// Max posted replies per hour and per day; 0 disables the bound.
	MaxPerHour int `yaml:"maxPerHour"`
	MaxPerDay  int `yaml:"maxPerDay"`
	// Quiet hours (UTC) during which visit invocations are no-ops.
	QuietHours []int `yaml:"quietHours"`
}

type MetricsConfig struct {
	// Listen address for /metrics and /health; empty disables the endpoint.
	Addr string `yaml:"addr"`
}

// Default returns a sensible default configuration.
func Default() Config {
	return Config{
		Platform: PlatformConfig{
			Name:   "bsky",
			PDSURL: "https://bsky.social",
		},
		Paths: PathsConfig{
			Credentials: "./credentials.json",
			Ledger:      "./accounts.csv",
			ActionLog:   "./parley.db",
			Voice:       "./voice.txt",
		},
		Reply: ReplyConfig{
			Provider:      "anthropic",
			Model:         "claude-sonnet-4-5",
			MaxChars:      300,
			MaxAttempts:   3,
			LookbackHours: 12,
		},
		Audience: AudienceConfig{
			MinFollowers: 0,
			VerifiedOnly: false,
			PageSize:     100,
		},
		Engagement: EngagementConfig{
			MaxPerHour: 6,
			MaxPerDay:  40,
			QuietHours: []int{0, 1, 2, 3, 4, 5},
		},
	}
}

// ResolveEnv fills in secret fields from environment variables if not set.
func (c *Config) ResolveEnv() {
	if c.Platform.AppPassword == "" {
		c.Platform.AppPassword = os.Getenv("PARLEY_APP_PASSWORD")
	}
	if c.Reply.APIKey == "" && c.Reply.Provider == "anthropic" {
		c.Reply.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	cfg.ResolveEnv()
	return cfg, nil
}

// Save writes YAML config to path, creating directories as needed.
func Save(path string, cfg Config) error {
	if path == "" {
		return errors.New("empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
