// Package config holds the settings document: endpoint, model, timeouts, default
// headers and output constraints. Every value can be overridden per call.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath         = "config/settings.yaml"
	DefaultDotEnvPath   = ".env"
	DefaultTemplatesDir = "config/prompts"

	DefaultEndpoint = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	DefaultModel    = "qwen-max"
)

// APIKeyEnv lists the environment variables consulted for the API key, in order.
var APIKeyEnv = []string{"RECAST_API_KEY", "DASHSCOPE_API_KEY", "BAILIAN_API_KEY"}

type Config struct {
	TemplatesDir string           `yaml:"templates_dir"`
	Fetch        FetchConfig      `yaml:"fetch"`
	Extract      ExtractConfig    `yaml:"extract"`
	Completion   CompletionConfig `yaml:"completion"`
	Output       OutputConfig     `yaml:"output"`
}

type FetchConfig struct {
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
}

type ExtractConfig struct {
	// MaxLength is the hard cap, in characters, of the text handed to the model.
	MaxLength int    `yaml:"max_length"`
	Mode      string `yaml:"mode"`
}

type CompletionConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	MaxTokens   int64         `yaml:"max_tokens"`
	MaxAttempts int           `yaml:"max_attempts"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
}

type OutputConfig struct {
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		TemplatesDir: DefaultTemplatesDir,
		Fetch: FetchConfig{
			Timeout: 30 * time.Second,
			Headers: map[string]string{
				"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
				"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8",
				"Accept-Language":           "zh-CN,zh;q=0.9,en;q=0.8",
				"DNT":                       "1",
				"Upgrade-Insecure-Requests": "1",
			},
			MaxBodyBytes: 10 << 20,
		},
		Extract: ExtractConfig{
			MaxLength: 50000,
			Mode:      "text",
		},
		Completion: CompletionConfig{
			Endpoint:    DefaultEndpoint,
			Model:       DefaultModel,
			Timeout:     60 * time.Second,
			Temperature: 0.7,
			TopP:        0.8,
			MaxTokens:   2000,
			MaxAttempts: 3,
			RetryDelay:  time.Second,
		},
		Output: OutputConfig{
			Format: "markdown",
		},
	}
}

// Load reads the settings document at path on top of the defaults. A missing file
// is only tolerated when optional is set.
func Load(path string, optional bool) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) && optional {
			return cfg, nil
		}
		return nil, errors.Wrapf(err, "failed to read settings %s", path)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to parse settings %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid settings %s", path)
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	switch {
	case c.Fetch.Timeout <= 0:
		return errors.New("fetch.timeout must be positive")
	case c.Fetch.MaxBodyBytes <= 0:
		return errors.New("fetch.max_body_bytes must be positive")
	case c.Extract.MaxLength < 0:
		return errors.New("extract.max_length must not be negative")
	case c.Completion.Endpoint == "":
		return errors.New("completion.endpoint is required")
	case c.Completion.Model == "":
		return errors.New("completion.model is required")
	case c.Completion.Timeout <= 0:
		return errors.New("completion.timeout must be positive")
	case c.Completion.MaxAttempts < 1:
		return errors.New("completion.max_attempts must be at least 1")
	case c.Completion.RetryDelay < 0:
		return errors.New("completion.retry_delay must not be negative")
	}

	return nil
}

// LoadDotEnv adds the variables of an env file to the process environment. Variables
// that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to load env file %s", path)
	}

	return nil
}

// APIKey returns explicit if set, otherwise the first non-empty APIKeyEnv variable.
func APIKey(explicit string) string {
	if explicit != "" {
		return explicit
	}

	for _, name := range APIKeyEnv {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}

	return ""
}
