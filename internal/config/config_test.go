package config

import (
	"strings"
	"testing"
	"time"

	"github.com/crossmindhq/consensus/internal/providers"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BACKEND_API_KEYS", "token-a, token-b")
}

func TestLoadDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q", cfg.ListenAddr)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if len(cfg.BackendAPIKeys) != 2 || cfg.BackendAPIKeys[1] != "token-b" {
		t.Errorf("BackendAPIKeys = %v", cfg.BackendAPIKeys)
	}
	if cfg.ModelsPath != "models.yaml" {
		t.Errorf("ModelsPath = %q", cfg.ModelsPath)
	}
	if cfg.Cache.TTL != time.Hour {
		t.Errorf("Cache.TTL = %v", cfg.Cache.TTL)
	}
	if cfg.Cache.EmbeddingTTL != 24*time.Hour {
		t.Errorf("Cache.EmbeddingTTL = %v", cfg.Cache.EmbeddingTTL)
	}
	if cfg.Engine.RequestTimeout != 30*time.Second {
		t.Errorf("Engine.RequestTimeout = %v", cfg.Engine.RequestTimeout)
	}
	if cfg.Engine.MaxConcurrent != 10 || cfg.Engine.MinSuccess != 2 || cfg.Engine.MaxRetries != 2 {
		t.Errorf("Engine = %+v", cfg.Engine)
	}
	if cfg.Engine.LowThreshold != 0.85 || cfg.Engine.HighThreshold != 0.90 {
		t.Errorf("thresholds = %v / %v", cfg.Engine.LowThreshold, cfg.Engine.HighThreshold)
	}
	if cfg.Server.MaxInflight != 256 {
		t.Errorf("Server.MaxInflight = %d", cfg.Server.MaxInflight)
	}
	if len(cfg.Server.AllowedOrigins) != 0 {
		t.Errorf("AllowedOrigins should default empty, got %v", cfg.Server.AllowedOrigins)
	}
	if cfg.Rates.ConsensusPerMin != 60 || cfg.Rates.BatchPerMin != 12 || cfg.Rates.ReadPerMin != 300 {
		t.Errorf("Rates = %+v", cfg.Rates)
	}
	if cfg.Embedding.Provider != "local" {
		t.Errorf("Embedding.Provider = %q", cfg.Embedding.Provider)
	}
}

func TestLoadRequiresBackendKeys(t *testing.T) {
	t.Setenv("BACKEND_API_KEYS", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error without BACKEND_API_KEYS")
	}
	if !strings.Contains(err.Error(), "BACKEND_API_KEYS") {
		t.Errorf("error should name the missing variable: %v", err)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{"bad log level", map[string]string{"LOG_LEVEL": "verbose"}, "LOG_LEVEL"},
		{"bad embedding provider", map[string]string{"EMBEDDING_PROVIDER": "cloud"}, "EMBEDDING_PROVIDER"},
		{"remote embedding without key", map[string]string{"EMBEDDING_PROVIDER": "remote"}, "OPENAI_API_KEY"},
		{"zero timeout", map[string]string{"REQUEST_TIMEOUT_SECONDS": "0"}, "REQUEST_TIMEOUT_SECONDS"},
		{"zero fanout", map[string]string{"MAX_CONCURRENT_REQUESTS": "0"}, "MAX_CONCURRENT_REQUESTS"},
		{"zero min success", map[string]string{"MIN_SUCCESS": "0"}, "MIN_SUCCESS"},
		{"negative retries", map[string]string{"MAX_RETRIES": "-1"}, "MAX_RETRIES"},
		{"threshold out of range", map[string]string{"LOW_CONSENSUS_THRESHOLD": "1.5"}, "LOW_CONSENSUS_THRESHOLD"},
		{"inverted thresholds", map[string]string{
			"LOW_CONSENSUS_THRESHOLD":  "0.95",
			"HIGH_CONSENSUS_THRESHOLD": "0.90",
		}, "LOW_CONSENSUS_THRESHOLD"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tc.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q should mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadRemoteEmbeddingWithKey(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EMBEDDING_PROVIDER", "remote")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.Provider != "remote" || cfg.Embedding.Model != "text-embedding-3-small" {
		t.Errorf("Embedding = %+v", cfg.Embedding)
	}
}

func TestSplitList(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a,b,c", 3},
		{" a , , b ", 2},
	}
	for _, tc := range cases {
		if got := splitList(tc.in); len(got) != tc.want {
			t.Errorf("splitList(%q) = %v, want %d items", tc.in, got, tc.want)
		}
	}
}

const sampleModelsYAML = `
default_models: [gpt-4o, claude-sonnet]
models:
  gpt-4o:
    provider_kind: openai-chat
    model_name: gpt-4o
    credential_ref: OPENAI_API_KEY
    max_tokens: 2048
    temperature: 0.6
    enabled: true
    cost_per_1k_tokens: 0.01
    display_name: GPT-4o
    specialties: [reasoning, coding]
  claude-sonnet:
    provider_kind: anthropic-messages
    model_name: claude-sonnet
    credential_ref: ANTHROPIC_API_KEY
    enabled: true
  ernie-4:
    provider_kind: baidu-ernie
    model_name: completions_pro
    credential_ref: ERNIE_API_KEY
    secret_ref: ERNIE_SECRET_KEY
    enabled: true
`

func TestParseModels(t *testing.T) {
	env := map[string]string{
		"OPENAI_API_KEY":    "sk-openai",
		"ANTHROPIC_API_KEY": "sk-anthropic",
		"ERNIE_API_KEY":     "ernie-key",
		"ERNIE_SECRET_KEY":  "ernie-secret",
	}
	lookup := func(k string) string { return env[k] }

	descs, defaults, err := parseModels([]byte(sampleModelsYAML), lookup)
	if err != nil {
		t.Fatalf("parseModels: %v", err)
	}
	if len(descs) != 3 {
		t.Fatalf("expected 3 descriptors, got %d", len(descs))
	}
	if len(defaults) != 2 || defaults[0] != "gpt-4o" {
		t.Errorf("defaults = %v", defaults)
	}

	byID := make(map[string]*providers.ModelDescriptor, len(descs))
	for _, d := range descs {
		byID[d.ID] = d
	}

	gpt := byID["gpt-4o"]
	if gpt == nil || gpt.Credential != "sk-openai" || !gpt.Enabled {
		t.Fatalf("gpt-4o = %+v", gpt)
	}
	if gpt.MaxTokens != 2048 || gpt.Temperature != 0.6 {
		t.Errorf("gpt-4o overrides not applied: %+v", gpt)
	}

	claude := byID["claude-sonnet"]
	if claude.MaxTokens != 1024 || claude.Temperature != 0.7 {
		t.Errorf("defaults not applied: %+v", claude)
	}
	if claude.DisplayName != "claude-sonnet" {
		t.Errorf("display name should default to the id, got %q", claude.DisplayName)
	}

	ernie := byID["ernie-4"]
	if ernie.Credential != "ernie-key" || ernie.CredentialSecret != "ernie-secret" || !ernie.Enabled {
		t.Errorf("ernie-4 = %+v", ernie)
	}
}

func TestParseModelsMissingCredentialDisables(t *testing.T) {
	lookup := func(string) string { return "" }

	descs, _, err := parseModels([]byte(sampleModelsYAML), lookup)
	if err != nil {
		t.Fatalf("parseModels: %v", err)
	}
	for _, d := range descs {
		if d.Enabled {
			t.Errorf("model %q should be disabled without a credential", d.ID)
		}
	}
}

func TestParseModelsMissingErnieSecretDisables(t *testing.T) {
	env := map[string]string{"ERNIE_API_KEY": "ernie-key"}
	lookup := func(k string) string { return env[k] }

	descs, _, err := parseModels([]byte(sampleModelsYAML), lookup)
	if err != nil {
		t.Fatalf("parseModels: %v", err)
	}
	for _, d := range descs {
		if d.ID == "ernie-4" && d.Enabled {
			t.Error("ernie model should be disabled without its secret")
		}
	}
}

func TestParseModelsRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no models", "default_models: []\nmodels: {}\n"},
		{"missing kind", "models:\n  m:\n    model_name: x\n    credential_ref: K\n"},
		{"missing model name", "models:\n  m:\n    provider_kind: openai-chat\n    credential_ref: K\n"},
		{"missing credential ref", "models:\n  m:\n    provider_kind: openai-chat\n    model_name: x\n"},
		{"duplicate id", "models:\n  m:\n    provider_kind: openai-chat\n    model_name: x\n    credential_ref: K\n  m:\n    provider_kind: openai-chat\n    model_name: y\n    credential_ref: K\n"},
		{"not yaml", "{{{"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, err := parseModels([]byte(tc.yaml), func(string) string { return "k" }); err == nil {
				t.Error("expected error")
			}
		})
	}
}
