package config

import (
	"fmt"
	"os"
	"strconv"
)

type Config struct {
	Server  ServerConfig
	Ollama  OllamaConfig
	Cloud   CloudConfig
	Storage StorageConfig
	Agent   AgentConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
	// APIToken guards the management endpoints. Empty disables auth, which
	// is acceptable for the default loopback-only listener.
	APIToken string
}

type OllamaConfig struct {
	BaseURL string
	// DeepModel handles analysis-heavy turns and structured profile calls.
	DeepModel string
}

type CloudConfig struct {
	// OpenRouterAPIKey enables the cloud conversational backend. Optional:
	// with only Ollama configured the assistant still runs, fully local.
	OpenRouterAPIKey string
	Model            string
}

type StorageConfig struct {
	DataDir string
}

type AgentConfig struct {
	// MaxBatchTasks and MaxBatchSize bound debrief summary batches.
	MaxBatchTasks int
	MaxBatchSize  int
	// MinConfidence is the advisory floor for accepting profile merges.
	MinConfidence float64
	// DiscloseInsights appends profile insights to chat responses.
	DiscloseInsights bool
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4600,
		},
		Ollama: OllamaConfig{
			BaseURL:   "http://localhost:11434",
			DeepModel: "mistral-nemo",
		},
		Cloud: CloudConfig{
			Model: "anthropic/claude-sonnet-4",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Agent: AgentConfig{
			MaxBatchTasks: 10,
			MaxBatchSize:  2000,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key   string
	typ   keyType
	env   string
	apply func(cfg *Config, v any)
}

var specs = []keySpec{
	{
		key: "server.port", typ: kInt, env: "AIDE_SERVER_PORT",
		apply: func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
	},
	{
		key: "server.api_token", typ: kString, env: "AIDE_API_TOKEN",
		apply: func(cfg *Config, v any) { cfg.Server.APIToken = v.(string) },
	},
	{
		key: "ollama.base_url", typ: kString, env: "AIDE_OLLAMA_BASE_URL",
		apply: func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
	},
	{
		key: "ollama.deep_model", typ: kString, env: "AIDE_OLLAMA_DEEP_MODEL",
		apply: func(cfg *Config, v any) { cfg.Ollama.DeepModel = v.(string) },
	},
	{
		key: "cloud.openrouter_api_key", typ: kString, env: "AIDE_OPENROUTER_API_KEY",
		apply: func(cfg *Config, v any) { cfg.Cloud.OpenRouterAPIKey = v.(string) },
	},
	{
		key: "cloud.model", typ: kString, env: "AIDE_CLOUD_MODEL",
		apply: func(cfg *Config, v any) { cfg.Cloud.Model = v.(string) },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AIDE_STORAGE_DATA_DIR",
		apply: func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
	},
	{
		key: "agent.max_batch_tasks", typ: kInt, env: "AIDE_AGENT_MAX_BATCH_TASKS",
		apply: func(cfg *Config, v any) { cfg.Agent.MaxBatchTasks = v.(int) },
	},
	{
		key: "agent.max_batch_size", typ: kInt, env: "AIDE_AGENT_MAX_BATCH_SIZE",
		apply: func(cfg *Config, v any) { cfg.Agent.MaxBatchSize = v.(int) },
	},
	{
		key: "agent.min_confidence", typ: kFloat, env: "AIDE_AGENT_MIN_CONFIDENCE",
		apply: func(cfg *Config, v any) { cfg.Agent.MinConfidence = v.(float64) },
	},
	{
		key: "agent.disclose_insights", typ: kBool, env: "AIDE_AGENT_DISCLOSE_INSIGHTS",
		apply: func(cfg *Config, v any) { cfg.Agent.DiscloseInsights = v.(bool) },
	},
	{
		key: "log.level", typ: kString, env: "AIDE_LOG_LEVEL",
		apply: func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
	},
}

// Load reads configuration from the JSON config file at
// $XDG_CONFIG_HOME/aide/config.json, then applies AIDE_* environment
// variable overrides. Neither reasoning backend is strictly required here;
// backend availability is checked at startup.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
