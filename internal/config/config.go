package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"yomu/internal/commontypes"
)

// Config is the full runtime configuration, loaded once at startup and
// treated as read-only afterwards.
type Config struct {
	Schedule    string        `yaml:"schedule"`
	Timezone    string        `yaml:"timezone"`
	RunOnStart  bool          `yaml:"run_on_start"`
	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Filter     FilterConfig               `yaml:"filter"`
	Feed       FeedConfig                 `yaml:"feed"`
	OpenAI     OpenAIConfig               `yaml:"openai"`
	Slack      SlackConfig                `yaml:"slack"`
	Log        LogConfig                  `yaml:"log"`
	Categories []commontypes.FeedCategory `yaml:"categories"`
}

// FilterConfig holds the staleness and summarization thresholds.
type FilterConfig struct {
	MaxAge        time.Duration `yaml:"max_age"`
	SummarizeOver int           `yaml:"summarize_over"`
	// OnSummaryError is "fallback" (post the original body) or "skip".
	OnSummaryError string `yaml:"on_summary_error"`
}

// FeedConfig controls how feeds are downloaded.
type FeedConfig struct {
	UserAgent          string `yaml:"user_agent"`
	ExtractMissingBody bool   `yaml:"extract_missing_body"`
}

// OpenAIConfig configures the completion endpoint. Provider is "azure" or "openai".
type OpenAIConfig struct {
	Provider    string  `yaml:"provider"`
	Endpoint    string  `yaml:"endpoint"`
	APIKey      string  `yaml:"api_key"`
	APIVersion  string  `yaml:"api_version"`
	Deployment  string  `yaml:"deployment"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// SlackConfig holds the labels and date layout used in posted messages.
type SlackConfig struct {
	NoTitle    string `yaml:"no_title"`
	NoSummary  string `yaml:"no_summary"`
	ReadMore   string `yaml:"read_more"`
	DateFormat string `yaml:"date_format"`
}

// LogConfig configures the process logger; File enables rotated file output.
type LogConfig struct {
	Level      string `yaml:"level"`
	Encoding   string `yaml:"encoding"` // console or json
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Values of FilterConfig.OnSummaryError.
const (
	SummaryFallback = "fallback"
	SummarySkip     = "skip"
)

// Load reads .env (if present) into the process environment, then parses and
// validates the YAML file at path.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation, for inspecting a config whose secrets may
// not be set.
func Read(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config %s: %w", path, err)
	}
	return decode(data)
}

// Parse expands environment references in data, decodes and validates it.
func Parse(data []byte) (*Config, error) {
	cfg, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(expandEnv(data), cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}
	setDefaults(cfg)
	return cfg, nil
}

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} with the environment value. A bare $ is left
// alone so feed URLs such as OData queries survive.
func expandEnv(data []byte) []byte {
	return envRef.ReplaceAllFunc(data, func(ref []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(ref)[1])))
	})
}

func setDefaults(cfg *Config) {
	if cfg.Schedule == "" {
		cfg.Schedule = "0 0 8,20 * * *"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Asia/Tokyo"
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	if cfg.Filter.MaxAge == 0 {
		cfg.Filter.MaxAge = 12 * time.Hour
	}
	if cfg.Filter.SummarizeOver == 0 {
		cfg.Filter.SummarizeOver = 200
	}
	if cfg.Filter.OnSummaryError == "" {
		cfg.Filter.OnSummaryError = SummaryFallback
	}
	if cfg.Feed.UserAgent == "" {
		cfg.Feed.UserAgent = "yomu/1.0 (+RSS notifier)"
	}
	if cfg.OpenAI.Provider == "" {
		cfg.OpenAI.Provider = "azure"
	}
	if cfg.OpenAI.APIVersion == "" && cfg.OpenAI.Provider == "azure" {
		cfg.OpenAI.APIVersion = "2024-08-01-preview"
	}
	if cfg.OpenAI.Deployment == "" {
		cfg.OpenAI.Deployment = "gpt-4o-mini"
	}
	if cfg.Slack.NoTitle == "" {
		cfg.Slack.NoTitle = "タイトルなし"
	}
	if cfg.Slack.NoSummary == "" {
		cfg.Slack.NoSummary = "本文なし"
	}
	if cfg.Slack.ReadMore == "" {
		cfg.Slack.ReadMore = "詳細を見る"
	}
	if cfg.Slack.DateFormat == "" {
		cfg.Slack.DateFormat = "2006-01-02 15:04 MST"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "console"
	}

	// env expansion often leaves stray whitespace around secrets
	cfg.OpenAI.APIKey = strings.TrimSpace(cfg.OpenAI.APIKey)
	cfg.OpenAI.Endpoint = strings.TrimSpace(cfg.OpenAI.Endpoint)
	for i := range cfg.Categories {
		cfg.Categories[i].Webhook = strings.TrimSpace(cfg.Categories[i].Webhook)
	}
}

// Validate checks the invariants the pipeline relies on.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	switch c.Filter.OnSummaryError {
	case SummaryFallback, SummarySkip:
	default:
		return fmt.Errorf("filter.on_summary_error must be %q or %q, got %q",
			SummaryFallback, SummarySkip, c.Filter.OnSummaryError)
	}
	switch c.OpenAI.Provider {
	case "azure":
		if c.OpenAI.Endpoint == "" {
			return errors.New("openai.endpoint is required for the azure provider")
		}
	case "openai":
	default:
		return fmt.Errorf("unknown openai.provider %q", c.OpenAI.Provider)
	}
	if c.OpenAI.APIKey == "" {
		return errors.New("openai.api_key is required")
	}

	if len(c.Categories) == 0 {
		return errors.New("at least one category is required")
	}
	categories := make(map[string]bool)
	sources := make(map[string]string)
	for _, cat := range c.Categories {
		if cat.Category == "" {
			return errors.New("category name is required")
		}
		if categories[cat.Category] {
			return fmt.Errorf("duplicate category %q", cat.Category)
		}
		categories[cat.Category] = true

		if cat.Webhook == "" {
			return fmt.Errorf("category %q has no webhook (is its environment variable set?)", cat.Category)
		}
		for _, src := range cat.Sources {
			if src.URL == "" {
				return fmt.Errorf("source %q in category %q has no url", src.Name, cat.Category)
			}
			if owner, ok := sources[src.URL]; ok {
				return fmt.Errorf("source %s is listed in both %q and %q", src.URL, owner, cat.Category)
			}
			sources[src.URL] = cat.Category
		}
	}
	return nil
}

// Location returns the configured timezone. Validate has already checked it.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
