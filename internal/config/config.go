package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/italolelis/model_provisioner/internal/transfer"
	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	Workspace       string `envconfig:"WORKSPACE" default:"/workspace"`
	MaxParallel     int    `envconfig:"MAX_PARALLEL" default:"3"`
	LogLevel        string `envconfig:"LOG_LEVEL" default:"INFO"`
	ProvisioningLog string `envconfig:"PROVISIONING_LOG" default:"/var/log/portal/provisioning.log"`
	SkipFlagPath    string `envconfig:"SKIP_FLAG_PATH" default:"/.noprovisioning"`
	DBPath          string `envconfig:"DB_PATH"`

	DiscordWebhookURL string `envconfig:"DISCORD_WEBHOOK_URL"`

	HFToken      string `envconfig:"HF_TOKEN"`
	CivitaiToken string `envconfig:"CIVITAI_TOKEN"`

	HFModels      string `envconfig:"HF_MODELS"`
	CivitaiModels string `envconfig:"CIVITAI_MODELS"`
	WgetDownloads string `envconfig:"WGET_DOWNLOADS"`
	DefaultsFile  string `envconfig:"DEFAULTS_FILE"`

	RetryMaxAttempts int           `envconfig:"RETRY_MAX_ATTEMPTS" default:"5"`
	RetryMaxBackoff  time.Duration `envconfig:"RETRY_MAX_BACKOFF" default:"60s"`
	LockTimeout      time.Duration `envconfig:"LOCK_TIMEOUT" default:"5m"`
	RequestTimeout   time.Duration `envconfig:"REQUEST_TIMEOUT" default:"60s"`
	StaleTempAfter   time.Duration `envconfig:"STALE_TEMP_AFTER" default:"24h"`

	Provider struct {
		HubIdentityURL      string `split_words:"true" default:"https://huggingface.co/api/whoami-v2"`
		RegistryIdentityURL string `split_words:"true" default:"https://civitai.com/api/v1/models?hidden=1&limit=1"`
	}

	Telemetry struct {
		Enabled        bool   `default:"false"`
		MetricsAddress string `split_words:"true"`
		OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.MaxParallel < 1 {
		return nil, fmt.Errorf("MAX_PARALLEL must be at least 1, got %d", cfg.MaxParallel)
	}

	if cfg.RetryMaxAttempts < 1 {
		return nil, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", cfg.RetryMaxAttempts)
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Token returns the configured token for a provider kind.
func (c *Config) Token(kind transfer.Kind) string {
	switch kind {
	case transfer.KindHub:
		return c.HFToken
	case transfer.KindRegistry:
		return c.CivitaiToken
	default:
		return ""
	}
}

// Override returns the ";"-separated override list for a provider kind.
func (c *Config) Override(kind transfer.Kind) string {
	switch kind {
	case transfer.KindHub:
		return c.HFModels
	case transfer.KindRegistry:
		return c.CivitaiModels
	default:
		return c.WgetDownloads
	}
}

// OverrideEnv names the environment variable backing Override, for logging.
func OverrideEnv(kind transfer.Kind) string {
	switch kind {
	case transfer.KindHub:
		return "HF_MODELS"
	case transfer.KindRegistry:
		return "CIVITAI_MODELS"
	default:
		return "WGET_DOWNLOADS"
	}
}

// Defaults reads the built-in entries from DefaultsFile. Each line is
// "<kind> <source>|<destination>"; blank lines and "#" comments are ignored.
// A missing DefaultsFile setting yields no defaults.
func (c *Config) Defaults() (map[transfer.Kind][]string, error) {
	defaults := make(map[transfer.Kind][]string)

	if c.DefaultsFile == "" {
		return defaults, nil
	}

	f, err := os.Open(c.DefaultsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open defaults file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0

	for scanner.Scan() {
		line++

		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		kindName, entry, found := strings.Cut(text, " ")
		if !found {
			return nil, fmt.Errorf("defaults file %s:%d: expected \"<kind> <entry>\"", c.DefaultsFile, line)
		}

		kind, err := transfer.ParseKind(kindName)
		if err != nil {
			return nil, fmt.Errorf("defaults file %s:%d: %w", c.DefaultsFile, line, err)
		}

		defaults[kind] = append(defaults[kind], entry)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read defaults file: %w", err)
	}

	return defaults, nil
}
