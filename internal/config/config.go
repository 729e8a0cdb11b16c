// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration.
type Config struct {
	Logger     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	Provider   ProviderConfig   `mapstructure:"provider" yaml:"provider"`
	Controller ControllerConfig `mapstructure:"controller" yaml:"controller"`
	Memory     MemoryConfig     `mapstructure:"memory" yaml:"memory"`
	Tally      TallyConfig      `mapstructure:"tally" yaml:"tally"`
	Audit      AuditConfig      `mapstructure:"audit" yaml:"audit"`
	Browser    BrowserConfig    `mapstructure:"browser" yaml:"browser"`
}

// LoggerConfig controls the zap logger bootstrap.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // "console" or "json"
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// ProviderConfig configures the hosted language-model capabilities.
type ProviderConfig struct {
	APIKey         string        `mapstructure:"api_key" yaml:"api_key"`
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	Model          string        `mapstructure:"model" yaml:"model"`
	EmbeddingModel string        `mapstructure:"embedding_model" yaml:"embedding_model"`
	APITimeout     time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	// ContextLimit is the model's input budget in tokens. Prompts are
	// truncated client-side to stay under it.
	ContextLimit int `mapstructure:"context_limit" yaml:"context_limit"`
	// MaxRetryElapsed bounds the exponential-backoff retry window for
	// transient provider failures.
	MaxRetryElapsed time.Duration `mapstructure:"max_retry_elapsed" yaml:"max_retry_elapsed"`
	// RequestsPerSecond rate-limits outgoing provider calls. Zero disables
	// the limiter.
	RequestsPerSecond float64 `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// ControllerConfig tunes the dialogue state machine.
type ControllerConfig struct {
	// MaxElements caps how many ranked page elements survive prioritization.
	MaxElements int `mapstructure:"max_elements" yaml:"max_elements"`
	// ElementTopK is how many candidate target elements are scored.
	ElementTopK int `mapstructure:"element_topk" yaml:"element_topk"`
	// ExampleTopK is how many past examples are retrieved as few-shot
	// guidance for each scoring prompt.
	ExampleTopK int `mapstructure:"example_topk" yaml:"example_topk"`
	// AmbiguityMargin: when the top two element scores are within this
	// fraction of each other the controller asks instead of guessing.
	AmbiguityMargin float64 `mapstructure:"ambiguity_margin" yaml:"ambiguity_margin"`
	// GenerateTokens is the budget for the free-text payload of a type
	// command.
	GenerateTokens int `mapstructure:"generate_tokens" yaml:"generate_tokens"`
}

// MemoryConfig locates the example store.
type MemoryConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// TallyConfig locates the response tally table.
type TallyConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// AuditConfig controls the raw prompt/response audit log.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Dir     string `mapstructure:"dir" yaml:"dir"`
}

// BrowserConfig configures the chromedp crawler.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	StartPage         string        `mapstructure:"start_page" yaml:"start_page"`
}

// SetDefaults initializes default values for all configuration parameters.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "webpilot")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)

	v.SetDefault("provider.model", "gpt-3.5-turbo-instruct")
	v.SetDefault("provider.embedding_model", "text-embedding-3-small")
	v.SetDefault("provider.api_timeout", 60*time.Second)
	v.SetDefault("provider.context_limit", 2048)
	v.SetDefault("provider.max_retry_elapsed", 2*time.Minute)
	v.SetDefault("provider.requests_per_second", 5.0)

	v.SetDefault("controller.max_elements", 50)
	v.SetDefault("controller.element_topk", 5)
	v.SetDefault("controller.example_topk", 2)
	v.SetDefault("controller.ambiguity_margin", 0.1)
	v.SetDefault("controller.generate_tokens", 20)

	v.SetDefault("memory.path", "examples.json")
	v.SetDefault("tally.path", "responses.csv")

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.dir", "response_logs")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.navigation_timeout", 30*time.Second)
	v.SetDefault("browser.start_page", "https://www.google.com")
}

// Load reads the configuration from the given file (optional), the working
// directory and the WEBPILOT_* environment, layered over defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("webpilot")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("WEBPILOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind environment variables for keys that have no default. AutomaticEnv
	// only resolves keys viper already knows about, so env-only settings such
	// as the credentials need explicit binds.
	v.BindEnv("provider.api_key", "WEBPILOT_PROVIDER_API_KEY")
	v.BindEnv("provider.endpoint", "WEBPILOT_PROVIDER_ENDPOINT")
	v.BindEnv("logger.log_file", "WEBPILOT_LOGGER_LOG_FILE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate rejects configurations the rest of the system cannot run with.
// A missing API key is a fatal configuration error: it aborts session startup
// and is never surfaced mid-flow.
func (c *Config) Validate() error {
	if c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required (set WEBPILOT_PROVIDER_API_KEY)")
	}
	if c.Provider.ContextLimit <= 0 {
		return fmt.Errorf("provider.context_limit must be positive, got %d", c.Provider.ContextLimit)
	}
	if c.Controller.MaxElements <= 0 {
		return fmt.Errorf("controller.max_elements must be positive, got %d", c.Controller.MaxElements)
	}
	return nil
}
