package config

import (
	"testing"
)

type mapBackend struct {
	strings map[string]string
	ints    map[string]int
}

func (m *mapBackend) GetString(key string) (string, bool, error) {
	v, ok := m.strings[key]
	return v, ok, nil
}

func (m *mapBackend) GetInt(key string) (int, bool, error) {
	v, ok := m.ints[key]
	return v, ok, nil
}

func (m *mapBackend) SetString(key, val string) error { return nil }
func (m *mapBackend) SetInt(key string, val int) error { return nil }
func (m *mapBackend) Delete(key string) error          { return nil }

func TestLoadDefaults(t *testing.T) {
	cfg, err := loadWith(&mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("port = %d, want 4600", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://localhost:11434" {
		t.Errorf("ollama base = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Agent.MaxBatchTasks != 10 || cfg.Agent.MaxBatchSize != 2000 {
		t.Errorf("batch bounds = %d/%d, want 10/2000", cfg.Agent.MaxBatchTasks, cfg.Agent.MaxBatchSize)
	}
	if cfg.Cloud.OpenRouterAPIKey != "" {
		t.Errorf("api key should default empty, got %q", cfg.Cloud.OpenRouterAPIKey)
	}
}

func TestLoadBackendValues(t *testing.T) {
	b := &mapBackend{
		strings: map[string]string{
			"cloud.openrouter_api_key": "sk-test",
			"ollama.deep_model":        "qwen3",
			"agent.min_confidence":     "0.6",
			"agent.disclose_insights":  "true",
		},
		ints: map[string]int{
			"server.port":           9999,
			"agent.max_batch_tasks": 5,
		},
	}
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("port = %d, want 9999", cfg.Server.Port)
	}
	if cfg.Cloud.OpenRouterAPIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Cloud.OpenRouterAPIKey)
	}
	if cfg.Ollama.DeepModel != "qwen3" {
		t.Errorf("deep model = %q", cfg.Ollama.DeepModel)
	}
	if cfg.Agent.MinConfidence != 0.6 {
		t.Errorf("min confidence = %v, want 0.6", cfg.Agent.MinConfidence)
	}
	if !cfg.Agent.DiscloseInsights {
		t.Error("disclose_insights should be true")
	}
	if cfg.Agent.MaxBatchTasks != 5 {
		t.Errorf("max batch tasks = %d, want 5", cfg.Agent.MaxBatchTasks)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIDE_SERVER_PORT", "7001")
	t.Setenv("AIDE_OLLAMA_BASE_URL", "http://remote:11434")
	t.Setenv("AIDE_AGENT_MIN_CONFIDENCE", "0.85")
	t.Setenv("AIDE_AGENT_DISCLOSE_INSIGHTS", "1")

	b := &mapBackend{ints: map[string]int{"server.port": 9999}}
	cfg, err := loadWith(b)
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 7001 {
		t.Errorf("env override lost: port = %d, want 7001", cfg.Server.Port)
	}
	if cfg.Ollama.BaseURL != "http://remote:11434" {
		t.Errorf("ollama base = %q", cfg.Ollama.BaseURL)
	}
	if cfg.Agent.MinConfidence != 0.85 {
		t.Errorf("min confidence = %v, want 0.85", cfg.Agent.MinConfidence)
	}
	if !cfg.Agent.DiscloseInsights {
		t.Error("disclose_insights should be true")
	}
}

func TestEnvOverrideBadValueKeepsDefault(t *testing.T) {
	t.Setenv("AIDE_SERVER_PORT", "not-a-number")
	cfg, err := loadWith(&mapBackend{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Server.Port != 4600 {
		t.Errorf("port = %d, want default 4600", cfg.Server.Port)
	}
}
