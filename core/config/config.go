// Package config loads layered configuration: compiled-in defaults, an
// optional YAML file, the OS environment (a .env file is loaded into it
// first for local development), and finally CLI flags. Each layer
// overrides the previous one field by field.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/basegraphhq/dossier/internal/model"
)

// OTelConfig controls optional OpenTelemetry export.
type OTelConfig struct {
	ServiceName  string `yaml:"service_name" mapstructure:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint" mapstructure:"otlp_endpoint"`
}

// Enabled reports whether OTel export should be configured: an explicit
// endpoint opts in.
func (o OTelConfig) Enabled() bool {
	return o.OTLPEndpoint != ""
}

// SourceConfig is the per-source override block recognized under
// `sources.<id>`.
type SourceConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`
}

// LLMConfig configures the model and per-call timeout.
type LLMConfig struct {
	Model     string `yaml:"model" mapstructure:"model"`
	TimeoutS  int    `yaml:"timeout_s" mapstructure:"timeout_s"`
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`
}

// Timeout returns LLMConfig.TimeoutS as a time.Duration.
func (l LLMConfig) Timeout() time.Duration {
	return time.Duration(l.TimeoutS) * time.Second
}

// Config is the fully merged configuration for one dossier run.
type Config struct {
	Env             string                  `yaml:"env" mapstructure:"env"`
	LLM             LLMConfig               `yaml:"llm" mapstructure:"llm"`
	Sources         map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
	Limits          model.Constraints       `yaml:"limits" mapstructure:"limits"`
	FilterThreshold int                     `yaml:"filter_threshold" mapstructure:"filter_threshold"`
	OutDir          string                  `yaml:"out_dir" mapstructure:"out_dir"`
	OTel            OTelConfig              `yaml:"otel" mapstructure:"otel"`
}

// Error is raised for an unknown top-level key at load time; an unknown
// key inside a known section fails the decode step instead. Either way a
// misspelled option fails fast instead of being silently ignored.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "config: " + e.Msg }

// Defaults returns the compiled-in baseline every layer overrides.
func Defaults() Config {
	return Config{
		Env: "development",
		LLM: LLMConfig{
			Model:     "gpt-4o-mini",
			TimeoutS:  180,
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Sources: map[string]SourceConfig{},
		Limits: model.Constraints{
			MaxDepth:             3,
			MaxTime:              20 * time.Minute,
			MaxGoals:             40,
			MaxCostUSD:           5.0,
			MaxConcurrent:        4,
			DefaultResultLimit:   10,
			MaxRetriesPerGoal:    2,
			FilterThreshold:      6,
			MinResultsToContinue: 1,
		},
		FilterThreshold: 0, // 0 = inherit limits.filter_threshold
		OutDir:          "./runs",
	}
}

// Load merges defaults, an optional YAML file, and the process
// environment (after loading a .env file into it). CLI flags are merged
// separately by the caller, since flag parsing belongs to cmd/dossier.
func Load(filePath string) (Config, error) {
	cfg := Defaults()

	_ = godotenv.Load() // optional; missing .env is not an error

	if filePath != "" {
		data, err := os.ReadFile(filePath)
		if err != nil {
			if os.IsNotExist(err) {
				applyEnvOverrides(&cfg)
				return cfg, nil
			}
			return cfg, fmt.Errorf("read config file: %w", err)
		}

		var raw map[string]any
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
		// filter.threshold is the nested spelling of the top-level
		// filter_threshold key.
		if filter, ok := raw["filter"].(map[string]any); ok {
			for k, v := range filter {
				if k != "threshold" {
					return cfg, &Error{Msg: fmt.Sprintf("unknown configuration key %q", "filter."+k)}
				}
				raw["filter_threshold"] = v
			}
			delete(raw, "filter")
		}
		if err := validateKnownKeys(raw); err != nil {
			return cfg, err
		}

		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &cfg,
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			TagName:          "mapstructure",
		})
		if err != nil {
			return cfg, fmt.Errorf("build config decoder: %w", err)
		}
		if err := decoder.Decode(raw); err != nil {
			return cfg, fmt.Errorf("decode config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	// The standalone filter threshold key is shorthand for the limits
	// field the agent actually enforces.
	if cfg.FilterThreshold > 0 {
		cfg.Limits.FilterThreshold = cfg.FilterThreshold
	}
	return cfg, nil
}

var knownTopLevelKeys = map[string]bool{
	"env": true, "llm": true, "sources": true, "limits": true,
	"filter_threshold": true, "out_dir": true, "otel": true,
}

func validateKnownKeys(raw map[string]any) error {
	for k := range raw {
		if !knownTopLevelKeys[k] {
			return &Error{Msg: fmt.Sprintf("unknown configuration key %q", k)}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("DOSSIER_ENV"); ok {
		cfg.Env = v
	}
	if v, ok := os.LookupEnv("DOSSIER_LLM_MODEL"); ok {
		cfg.LLM.Model = v
	}
	if v, ok := os.LookupEnv("DOSSIER_OUT_DIR"); ok {
		cfg.OutDir = v
	}
	if v, ok := os.LookupEnv("DOSSIER_OTLP_ENDPOINT"); ok {
		cfg.OTel.OTLPEndpoint = v
	}
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}
