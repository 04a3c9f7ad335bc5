package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harrison/webpilot/internal/models"
	"gopkg.in/yaml.v3"
)

// ExecutionConfig controls the agent loop.
type ExecutionConfig struct {
	Mode           models.ExecutionMode `yaml:"mode"`
	MaxIterations  int                  `yaml:"max_iterations"`
	RetryAttempts  int                  `yaml:"retry_attempts"`
	DefaultTimeout time.Duration        `yaml:"default_timeout"`
	HistorySize    int                  `yaml:"history_size"` // bounded task-context history
}

// LLMConfig configures the Anthropic Messages client.
type LLMConfig struct {
	Model            string        `yaml:"model"`
	MaxTokens        int           `yaml:"max_tokens"`
	Temperature      float64       `yaml:"temperature"`
	APIKeyEnv        string        `yaml:"api_key_env"`
	BaseURL          string        `yaml:"base_url"`
	Timeout          time.Duration `yaml:"timeout"`
	RateLimitMaxWait time.Duration `yaml:"rate_limit_max_wait"`
	MaxRetries       int           `yaml:"max_retries"`
}

// BrowserConfig locates the Chrome DevTools endpoint.
type BrowserConfig struct {
	CDPURL         string        `yaml:"cdp_url"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// LedgerConfig selects the run ledger backend.
type LedgerConfig struct {
	Backend string `yaml:"backend"` // sqlite | json
	Path    string `yaml:"path"`
}

// TemplatesConfig locates instruction templates and the task catalog.
type TemplatesConfig struct {
	Dir           string `yaml:"dir"`
	TasksFile     string `yaml:"tasks_file"`
	SaveGenerated bool   `yaml:"save_generated"`
}

// DownloadConfig tunes expiring-resource discovery and transfer.
type DownloadConfig struct {
	OutputDir        string        `yaml:"output_dir"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxAttempts      int           `yaml:"max_attempts"`
	ResourceHosts    []string      `yaml:"resource_hosts"`
	ControlWords     []string      `yaml:"control_words"`
	ReactDelay       time.Duration `yaml:"react_delay"`
	DiscoveryTimeout time.Duration `yaml:"discovery_timeout"`
}

// FormSubmitConfig tunes the multi-strategy form submitter.
type FormSubmitConfig struct {
	SuccessTimeout time.Duration `yaml:"success_timeout"`
}

// AnalysisConfig tunes the failure-pattern analyzer.
type AnalysisConfig struct {
	FailureThreshold float64 `yaml:"failure_threshold"`
	MaxRuns          int     `yaml:"max_runs"` // ledger entries loaded per analysis
}

// Config is the full webpilot configuration.
type Config struct {
	Execution       ExecutionConfig  `yaml:"execution"`
	LLM             LLMConfig        `yaml:"llm"`
	Browser         BrowserConfig    `yaml:"browser"`
	Ledger          LedgerConfig     `yaml:"ledger"`
	Templates       TemplatesConfig  `yaml:"templates"`
	Download        DownloadConfig   `yaml:"download"`
	FormSubmit      FormSubmitConfig `yaml:"form_submit"`
	Analysis        AnalysisConfig   `yaml:"analysis"`
	LogLevel        string           `yaml:"log_level"`
	LogDir          string           `yaml:"log_dir"`
	MetricsTextfile string           `yaml:"metrics_textfile"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Execution: ExecutionConfig{
			Mode:           models.ModeFast,
			MaxIterations:  200,
			RetryAttempts:  3,
			DefaultTimeout: 30 * time.Second,
			HistorySize:    20,
		},
		LLM: LLMConfig{
			Model:            "claude-sonnet-4-20250514",
			MaxTokens:        8192,
			Temperature:      0.5,
			APIKeyEnv:        "ANTHROPIC_API_KEY",
			BaseURL:          "https://api.anthropic.com/v1",
			Timeout:          2 * time.Minute,
			RateLimitMaxWait: 5 * time.Minute,
			MaxRetries:       3,
		},
		Browser: BrowserConfig{
			CDPURL:         "http://localhost:9222",
			ConnectTimeout: 10 * time.Second,
		},
		Ledger: LedgerConfig{
			Backend: "sqlite",
		},
		Templates: TemplatesConfig{
			Dir:           "templates",
			SaveGenerated: true,
		},
		Download: DownloadConfig{
			OutputDir:        "downloads",
			Timeout:          90 * time.Second,
			MaxAttempts:      5,
			ResourceHosts:    []string{"amazonaws.com"},
			ControlWords:     []string{"download"},
			ReactDelay:       2 * time.Second,
			DiscoveryTimeout: 30 * time.Second,
		},
		FormSubmit: FormSubmitConfig{
			SuccessTimeout: 5 * time.Second,
		},
		Analysis: AnalysisConfig{
			FailureThreshold: 0.5,
			MaxRuns:          50,
		},
		LogLevel: "info",
	}
}

// durationField pairs a YAML duration string with its destination.
type durationField struct {
	name  string
	value string
	dst   *time.Duration
}

// LoadConfig reads path over the defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are written as strings ("30s"), so decode through a mirror.
	type yamlConfig struct {
		Execution struct {
			Mode           string `yaml:"mode"`
			MaxIterations  int    `yaml:"max_iterations"`
			RetryAttempts  int    `yaml:"retry_attempts"`
			DefaultTimeout string `yaml:"default_timeout"`
			HistorySize    int    `yaml:"history_size"`
		} `yaml:"execution"`
		LLM struct {
			Model            string   `yaml:"model"`
			MaxTokens        int      `yaml:"max_tokens"`
			Temperature      *float64 `yaml:"temperature"`
			APIKeyEnv        string   `yaml:"api_key_env"`
			BaseURL          string   `yaml:"base_url"`
			Timeout          string   `yaml:"timeout"`
			RateLimitMaxWait string   `yaml:"rate_limit_max_wait"`
			MaxRetries       *int     `yaml:"max_retries"`
		} `yaml:"llm"`
		Browser struct {
			CDPURL         string `yaml:"cdp_url"`
			ConnectTimeout string `yaml:"connect_timeout"`
		} `yaml:"browser"`
		Ledger    LedgerConfig `yaml:"ledger"`
		Templates struct {
			Dir           string `yaml:"dir"`
			TasksFile     string `yaml:"tasks_file"`
			SaveGenerated *bool  `yaml:"save_generated"`
		} `yaml:"templates"`
		Download struct {
			OutputDir        string   `yaml:"output_dir"`
			Timeout          string   `yaml:"timeout"`
			MaxAttempts      int      `yaml:"max_attempts"`
			ResourceHosts    []string `yaml:"resource_hosts"`
			ControlWords     []string `yaml:"control_words"`
			ReactDelay       string   `yaml:"react_delay"`
			DiscoveryTimeout string   `yaml:"discovery_timeout"`
		} `yaml:"download"`
		FormSubmit struct {
			SuccessTimeout string `yaml:"success_timeout"`
		} `yaml:"form_submit"`
		Analysis struct {
			FailureThreshold *float64 `yaml:"failure_threshold"`
			MaxRuns          int      `yaml:"max_runs"`
		} `yaml:"analysis"`
		LogLevel        string `yaml:"log_level"`
		LogDir          string `yaml:"log_dir"`
		MetricsTextfile string `yaml:"metrics_textfile"`
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if y.Execution.Mode != "" {
		mode, err := models.ParseExecutionMode(y.Execution.Mode)
		if err != nil {
			return nil, err
		}
		cfg.Execution.Mode = mode
	}
	setInt(&cfg.Execution.MaxIterations, y.Execution.MaxIterations)
	setInt(&cfg.Execution.RetryAttempts, y.Execution.RetryAttempts)
	setInt(&cfg.Execution.HistorySize, y.Execution.HistorySize)

	setString(&cfg.LLM.Model, y.LLM.Model)
	setInt(&cfg.LLM.MaxTokens, y.LLM.MaxTokens)
	if y.LLM.Temperature != nil {
		cfg.LLM.Temperature = *y.LLM.Temperature
	}
	setString(&cfg.LLM.APIKeyEnv, y.LLM.APIKeyEnv)
	setString(&cfg.LLM.BaseURL, y.LLM.BaseURL)
	if y.LLM.MaxRetries != nil {
		cfg.LLM.MaxRetries = *y.LLM.MaxRetries
	}

	setString(&cfg.Browser.CDPURL, y.Browser.CDPURL)

	setString(&cfg.Ledger.Backend, y.Ledger.Backend)
	setString(&cfg.Ledger.Path, y.Ledger.Path)

	setString(&cfg.Templates.Dir, y.Templates.Dir)
	setString(&cfg.Templates.TasksFile, y.Templates.TasksFile)
	if y.Templates.SaveGenerated != nil {
		cfg.Templates.SaveGenerated = *y.Templates.SaveGenerated
	}

	setString(&cfg.Download.OutputDir, y.Download.OutputDir)
	setInt(&cfg.Download.MaxAttempts, y.Download.MaxAttempts)
	if len(y.Download.ResourceHosts) > 0 {
		cfg.Download.ResourceHosts = y.Download.ResourceHosts
	}
	if len(y.Download.ControlWords) > 0 {
		cfg.Download.ControlWords = y.Download.ControlWords
	}

	if y.Analysis.FailureThreshold != nil {
		cfg.Analysis.FailureThreshold = *y.Analysis.FailureThreshold
	}
	setInt(&cfg.Analysis.MaxRuns, y.Analysis.MaxRuns)

	setString(&cfg.LogLevel, y.LogLevel)
	setString(&cfg.LogDir, y.LogDir)
	setString(&cfg.MetricsTextfile, y.MetricsTextfile)

	durations := []durationField{
		{"execution.default_timeout", y.Execution.DefaultTimeout, &cfg.Execution.DefaultTimeout},
		{"llm.timeout", y.LLM.Timeout, &cfg.LLM.Timeout},
		{"llm.rate_limit_max_wait", y.LLM.RateLimitMaxWait, &cfg.LLM.RateLimitMaxWait},
		{"browser.connect_timeout", y.Browser.ConnectTimeout, &cfg.Browser.ConnectTimeout},
		{"download.timeout", y.Download.Timeout, &cfg.Download.Timeout},
		{"download.react_delay", y.Download.ReactDelay, &cfg.Download.ReactDelay},
		{"download.discovery_timeout", y.Download.DiscoveryTimeout, &cfg.Download.DiscoveryTimeout},
		{"form_submit.success_timeout", y.FormSubmit.SuccessTimeout, &cfg.FormSubmit.SuccessTimeout},
	}
	for _, f := range durations {
		if f.value == "" {
			continue
		}
		d, err := time.ParseDuration(f.value)
		if err != nil {
			return nil, fmt.Errorf("invalid %s format %q: %w", f.name, f.value, err)
		}
		*f.dst = d
	}

	return cfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}

// LoadConfigFromDir loads config.yaml from dir.
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, "config.yaml"))
}

// MergeWithFlags overrides file values with CLI flags. Nil pointers mean the
// flag was not set.
func (c *Config) MergeWithFlags(mode *string, maxIterations *int, logLevel *string, ledgerBackend *string) error {
	if mode != nil && *mode != "" {
		m, err := models.ParseExecutionMode(*mode)
		if err != nil {
			return err
		}
		c.Execution.Mode = m
	}
	if maxIterations != nil && *maxIterations > 0 {
		c.Execution.MaxIterations = *maxIterations
	}
	if logLevel != nil && *logLevel != "" {
		c.LogLevel = *logLevel
	}
	if ledgerBackend != nil && *ledgerBackend != "" {
		c.Ledger.Backend = *ledgerBackend
	}
	return nil
}

// ResolvePaths fills empty path settings relative to home.
func (c *Config) ResolvePaths(home string) {
	if c.LogDir == "" {
		c.LogDir = filepath.Join(home, "logs")
	}
	if c.Ledger.Path == "" {
		if strings.EqualFold(c.Ledger.Backend, "json") {
			c.Ledger.Path = filepath.Join(home, "ledger")
		} else {
			c.Ledger.Path = filepath.Join(home, "ledger", "runs.db")
		}
	}
	if c.Templates.TasksFile == "" {
		c.Templates.TasksFile = filepath.Join(c.Templates.Dir, "tasks.yaml")
	}
}

// APIKey reads the model API key from the configured environment variable.
func (c *Config) APIKey() string {
	return os.Getenv(c.LLM.APIKeyEnv)
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	if _, err := models.ParseExecutionMode(string(c.Execution.Mode)); err != nil {
		return err
	}
	if c.Execution.MaxIterations <= 0 {
		return fmt.Errorf("execution.max_iterations must be positive, got %d", c.Execution.MaxIterations)
	}
	if c.Execution.HistorySize < 0 {
		return fmt.Errorf("execution.history_size must be non-negative, got %d", c.Execution.HistorySize)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm.max_tokens must be positive, got %d", c.LLM.MaxTokens)
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 1 {
		return fmt.Errorf("llm.temperature must be between 0 and 1, got %v", c.LLM.Temperature)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must be non-negative, got %d", c.LLM.MaxRetries)
	}
	switch strings.ToLower(c.Ledger.Backend) {
	case "sqlite", "json":
	default:
		return fmt.Errorf("ledger.backend must be sqlite or json, got %q", c.Ledger.Backend)
	}
	if c.Download.MaxAttempts < 1 {
		return fmt.Errorf("download.max_attempts must be at least 1, got %d", c.Download.MaxAttempts)
	}
	if len(c.Download.ResourceHosts) == 0 {
		return fmt.Errorf("download.resource_hosts must not be empty")
	}
	positive := map[string]time.Duration{
		"download.timeout":            c.Download.Timeout,
		"form_submit.success_timeout": c.FormSubmit.SuccessTimeout,
		"execution.default_timeout":   c.Execution.DefaultTimeout,
	}
	for name, d := range positive {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.Analysis.FailureThreshold < 0 || c.Analysis.FailureThreshold > 1 {
		return fmt.Errorf("analysis.failure_threshold must be between 0 and 1, got %v", c.Analysis.FailureThreshold)
	}
	switch strings.ToLower(c.LogLevel) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	return nil
}
