// Package config loads agriplan settings from a YAML file, defaults and
// AGRIPLAN_ environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rcliao/agriplan/internal/condense"
	"github.com/rcliao/agriplan/internal/llm"
	"github.com/rcliao/agriplan/internal/model"
	"github.com/rcliao/agriplan/internal/orchestrator"
	"github.com/rcliao/agriplan/internal/prompt"
)

type Config struct {
	Logging LoggingConfig          `mapstructure:"logging"`
	LLM     LLMConfig              `mapstructure:"llm"`
	Weather WeatherConfig          `mapstructure:"weather"`
	Prompt  PromptConfig           `mapstructure:"prompt"`
	Memory  MemoryConfig           `mapstructure:"memory"`
	Session SessionConfig          `mapstructure:"session"`
	Stages  map[string]StageConfig `mapstructure:"stages"`
	Vision  VisionConfig           `mapstructure:"vision"`
	Server  ServerConfig           `mapstructure:"server"`
	Tracing TracingConfig          `mapstructure:"tracing"`
}

type LoggingConfig struct {
	Mode  string `mapstructure:"mode"` // dev or prod
	Level string `mapstructure:"level"`
}

type LLMConfig struct {
	Text   Endpoint    `mapstructure:"text"`
	Vision Endpoint    `mapstructure:"vision"`
	Retry  RetryConfig `mapstructure:"retry"`
}

// Endpoint is one OpenAI-compatible chat completions service.
// ReasonModel is used by stages with reason set; only the text
// endpoint reads it.
type Endpoint struct {
	BaseURL     string `mapstructure:"base_url"`
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	ReasonModel string `mapstructure:"reason_model"`
	MaxTokens   int    `mapstructure:"max_tokens"`
}

type RetryConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts"`
	BackoffBase       time.Duration `mapstructure:"backoff_base"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	BackoffCap        time.Duration `mapstructure:"backoff_cap"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout"`
}

type WeatherConfig struct {
	Host        string        `mapstructure:"host"`
	APIKey      string        `mapstructure:"api_key"`
	Timeout     time.Duration `mapstructure:"timeout"`
	HorizonDays int           `mapstructure:"horizon_days"`
}

type PromptConfig struct {
	// FieldBudget is the rune limit for each field value and memory summary.
	FieldBudget int `mapstructure:"field_budget"`
	// SummaryBudget is the rune limit for condensed memory summaries.
	SummaryBudget int `mapstructure:"summary_budget"`
}

type MemoryConfig struct {
	Backend string       `mapstructure:"backend"` // memory, sqlite or redis
	SQLite  SQLiteConfig `mapstructure:"sqlite"`
	Redis   RedisConfig  `mapstructure:"redis"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Prefix   string        `mapstructure:"prefix"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type SessionConfig struct {
	IdleTTL       time.Duration `mapstructure:"idle_ttl"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// StageConfig overrides the policy of one stage, keyed part1..part3.
type StageConfig struct {
	Required    []string `mapstructure:"required"`
	Temperature float64  `mapstructure:"temperature"`
	HorizonDays int      `mapstructure:"horizon_days"`
	MaxTokens   int      `mapstructure:"max_tokens"`
	Reason      bool     `mapstructure:"reason"`
}

type VisionConfig struct {
	// PreAnalysis runs growth/disease/summary prompts on the crop photo
	// before Part3 is composed.
	PreAnalysis bool `mapstructure:"pre_analysis"`
	// SendImage sends the photo itself with the Part3 question.
	SendImage   bool `mapstructure:"send_image"`
	MaxSide     int  `mapstructure:"max_side"`
	JPEGQuality int  `mapstructure:"jpeg_quality"`
}

type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	BodyLimit       string        `mapstructure:"body_limit"`
}

type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.mode", "prod")
	v.SetDefault("logging.level", "")

	v.SetDefault("llm.text.base_url", "https://api.deepseek.com")
	v.SetDefault("llm.text.api_key", "")
	v.SetDefault("llm.text.model", "deepseek-chat")
	v.SetDefault("llm.text.reason_model", orchestrator.DefaultPolicy().ReasonModel)
	v.SetDefault("llm.text.max_tokens", 0)
	v.SetDefault("llm.vision.base_url", "https://api.siliconflow.cn/v1")
	v.SetDefault("llm.vision.api_key", "")
	v.SetDefault("llm.vision.model", "Qwen/Qwen2.5-VL-72B-Instruct")
	v.SetDefault("llm.vision.max_tokens", 0)

	rc := llm.DefaultRetryConfig()
	v.SetDefault("llm.retry.max_attempts", rc.MaxAttempts)
	v.SetDefault("llm.retry.backoff_base", rc.BackoffBase)
	v.SetDefault("llm.retry.backoff_multiplier", rc.BackoffMultiplier)
	v.SetDefault("llm.retry.backoff_cap", rc.MaxBackoff)
	v.SetDefault("llm.retry.attempt_timeout", rc.AttemptTimeout)

	v.SetDefault("weather.host", "https://devapi.qweather.com")
	v.SetDefault("weather.api_key", "")
	v.SetDefault("weather.timeout", 8*time.Second)
	v.SetDefault("weather.horizon_days", 7)

	v.SetDefault("prompt.field_budget", prompt.DefaultFieldBudget)
	v.SetDefault("prompt.summary_budget", condense.DefaultBudget)

	v.SetDefault("memory.backend", "sqlite")
	v.SetDefault("memory.sqlite.path", defaultDBPath())
	v.SetDefault("memory.redis.addr", "localhost:6379")
	v.SetDefault("memory.redis.password", "")
	v.SetDefault("memory.redis.db", 0)
	v.SetDefault("memory.redis.prefix", "agriplan:")
	v.SetDefault("memory.redis.ttl", 0)

	v.SetDefault("session.idle_ttl", 2*time.Hour)
	v.SetDefault("session.sweep_interval", time.Minute)

	for st, sp := range orchestrator.DefaultPolicy().Stages {
		key := "stages." + st.String()
		names := make([]string, len(sp.Required))
		for i, r := range sp.Required {
			names[i] = r.String()
		}
		v.SetDefault(key+".required", names)
		v.SetDefault(key+".temperature", sp.Temperature)
		v.SetDefault(key+".horizon_days", sp.HorizonDays)
		v.SetDefault(key+".max_tokens", sp.MaxTokens)
		v.SetDefault(key+".reason", sp.Reason)
	}

	v.SetDefault("vision.pre_analysis", true)
	v.SetDefault("vision.send_image", true)
	v.SetDefault("vision.max_side", 1024)
	v.SetDefault("vision.jpeg_quality", 80)

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.body_limit", "12M")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "agriplan")
	v.SetDefault("tracing.sample_ratio", 1.0)
}

func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "agriplan.db"
	}
	return filepath.Join(home, ".agriplan", "memory.db")
}

// Load reads the config file at path, or searches for agriplan.yaml in
// ., ./config and $HOME/.agriplan when path is empty. A missing file in
// search mode is not an error; defaults and environment apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("agriplan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".agriplan"))
		}
	}

	v.SetEnvPrefix("AGRIPLAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validHorizon(d int) bool { return d == 7 || d == 30 }

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if !validHorizon(c.Weather.HorizonDays) {
		return fmt.Errorf("weather.horizon_days must be 7 or 30, got %d", c.Weather.HorizonDays)
	}
	if c.Prompt.FieldBudget < prompt.MinBudget {
		return fmt.Errorf("prompt.field_budget must be >= %d, got %d", prompt.MinBudget, c.Prompt.FieldBudget)
	}
	if c.Prompt.SummaryBudget < prompt.MinBudget {
		return fmt.Errorf("prompt.summary_budget must be >= %d, got %d", prompt.MinBudget, c.Prompt.SummaryBudget)
	}
	if c.LLM.Retry.MaxAttempts < 1 {
		return fmt.Errorf("llm.retry.max_attempts must be >= 1, got %d", c.LLM.Retry.MaxAttempts)
	}
	switch c.Memory.Backend {
	case "memory", "sqlite", "redis":
	default:
		return fmt.Errorf("memory.backend must be memory, sqlite or redis, got %q", c.Memory.Backend)
	}
	for name, sc := range c.Stages {
		if _, err := model.ParseStage(name); err != nil {
			return fmt.Errorf("stages: %w", err)
		}
		if sc.HorizonDays != 0 && !validHorizon(sc.HorizonDays) {
			return fmt.Errorf("stages.%s.horizon_days must be 7 or 30, got %d", name, sc.HorizonDays)
		}
		for _, r := range sc.Required {
			v, err := model.ParseVariant(r)
			if err != nil {
				return fmt.Errorf("stages.%s.required: %w", name, err)
			}
			if !v.Fusable() {
				return fmt.Errorf("stages.%s.required: variant %s is not supported", name, v)
			}
		}
	}
	return nil
}

// Retry converts the retry section.
func (c *Config) Retry() llm.RetryConfig {
	r := c.LLM.Retry
	return llm.RetryConfig{
		MaxAttempts:       r.MaxAttempts,
		BackoffBase:       r.BackoffBase,
		BackoffMultiplier: r.BackoffMultiplier,
		MaxBackoff:        r.BackoffCap,
		AttemptTimeout:    r.AttemptTimeout,
	}
}

// Policy builds the orchestrator policy. Stages missing from the config
// keep their defaults.
func (c *Config) Policy() (orchestrator.Policy, error) {
	p := orchestrator.DefaultPolicy()
	p.Summary = condense.Options{Budget: c.Prompt.SummaryBudget}
	p.SendImage = c.Vision.SendImage
	if c.LLM.Text.ReasonModel != "" {
		p.ReasonModel = c.LLM.Text.ReasonModel
	}
	for name, sc := range c.Stages {
		st, err := model.ParseStage(name)
		if err != nil {
			return p, err
		}
		sp := p.Stages[st]
		if sc.Required != nil {
			sp.Required = sp.Required[:0:0]
			for _, r := range sc.Required {
				v, err := model.ParseVariant(r)
				if err != nil {
					return p, err
				}
				sp.Required = append(sp.Required, v)
			}
		}
		if sc.Temperature > 0 {
			sp.Temperature = sc.Temperature
		}
		if sc.HorizonDays > 0 {
			sp.HorizonDays = sc.HorizonDays
		}
		if sc.MaxTokens > 0 {
			sp.MaxTokens = sc.MaxTokens
		}
		sp.Reason = sc.Reason
		p.Stages[st] = sp
	}
	return p, nil
}
