// Package config loads taskforge's YAML configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"taskforge/internal/logging"
)

// DefaultPath is the config file location relative to the project root.
const DefaultPath = ".taskforge/config.yaml"

// Config holds all taskforge configuration.
type Config struct {
	Project   ProjectConfig   `yaml:"project"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Context   ContextConfig   `yaml:"context"`
	Compiler  CompilerConfig  `yaml:"compiler"`
	Training  TrainingConfig  `yaml:"training"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Store     StoreConfig     `yaml:"store"`
	Logging   logging.Config  `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Server    ServerConfig    `yaml:"server"`
}

// ProjectConfig describes the on-disk artifact layout.
type ProjectConfig struct {
	FunctionsDir string `yaml:"functions_dir"`
	LibsDir      string `yaml:"libs_dir"`
	TasksDir     string `yaml:"tasks_dir"`
	StateDir     string `yaml:"state_dir"` // generated code and metadata
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"` // empty disables the HTTP listener
}

// ServerConfig configures the MCP server surface.
type ServerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Project: ProjectConfig{
			FunctionsDir: "functions",
			LibsDir:      "libs",
			TasksDir:     "tasks",
			StateDir:     ".taskforge",
		},
		LLM: LLMConfig{
			Provider:     "gemini",
			Model:        "gemini-2.5-flash",
			Timeout:      "120s",
			MaxToolTurns: 6,
		},
		Embedding: EmbeddingConfig{
			Provider:  "genai",
			Model:     "gemini-embedding-001",
			TaskType:  "SEMANTIC_SIMILARITY",
			CacheSize: 4096,
			RedisTTL:  "168h",
		},
		Retrieval: RetrievalConfig{
			K:          10,
			TaskWeight: 0.8,
			DepWeight:  0.2,
			Backend:    "exact",
		},
		Context: ContextConfig{
			ModelContextLimit:  128000,
			ReserveTokens:      4096,
			TokenizerCacheSize: 8,
			TokenizerRecycle:   1000,
		},
		Compiler: CompilerConfig{
			MaxAttempts: 3,
		},
		Training: TrainingConfig{
			BatchSize:           4,
			MaxAttempts:         5,
			MaxNoImprovement:    2,
			DimensionWeights:    map[string]float64{"correctness": 5, "instruction_compliance": 3},
			DefaultWeight:       1,
			RetrieveExamples:    true,
			PersistWithoutMatch: true,
		},
		Sandbox: SandboxConfig{
			Backend:     "yaegi",
			Timeout:     "30s",
			DockerImage: "golang:1.24-alpine",
		},
		Store: StoreConfig{
			Driver: "sqlite",
			DSN:    ".taskforge/examples.db",
		},
		Logging: logging.Config{
			Level: "info",
		},
		Server: ServerConfig{
			Name:    "taskforge",
			Version: "0.3.0",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	// GEMINI_API_KEY wins when both are set.
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = c.LLM.APIKey
	}

	if dsn := os.Getenv("TASKFORGE_DB"); dsn != "" {
		c.Store.DSN = dsn
	}
	if driver := os.Getenv("TASKFORGE_STORE_DRIVER"); driver != "" {
		c.Store.Driver = driver
	}
	if url := os.Getenv("TASKFORGE_REDIS_URL"); url != "" {
		c.Embedding.RedisURL = url
	}
	if backend := os.Getenv("TASKFORGE_SANDBOX"); backend != "" {
		c.Sandbox.Backend = backend
	}
	if level := os.Getenv("TASKFORGE_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetSandboxTimeout returns the per-execution timeout.
func (c *Config) GetSandboxTimeout() time.Duration {
	return parseDuration(c.Sandbox.Timeout, 30*time.Second)
}

// GetEmbeddingCacheTTL returns how long shared cache entries live.
func (c *Config) GetEmbeddingCacheTTL() time.Duration {
	return parseDuration(c.Embedding.RedisTTL, 7*24*time.Hour)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate checks settings that would otherwise fail deep inside a run.
// It does not require an API key; commands that call the model check that
// themselves via RequireAPIKey.
func (c *Config) Validate() error {
	if !contains(ValidStoreDrivers, c.Store.Driver) {
		return fmt.Errorf("invalid store driver: %s (valid: %v)", c.Store.Driver, ValidStoreDrivers)
	}
	if !contains(ValidSandboxBackends, c.Sandbox.Backend) {
		return fmt.Errorf("invalid sandbox backend: %s (valid: %v)", c.Sandbox.Backend, ValidSandboxBackends)
	}
	if !contains(ValidRetrievalBackends, c.Retrieval.Backend) {
		return fmt.Errorf("invalid retrieval backend: %s (valid: %v)", c.Retrieval.Backend, ValidRetrievalBackends)
	}
	if c.Retrieval.K < 1 {
		return fmt.Errorf("retrieval.k must be positive, got %d", c.Retrieval.K)
	}
	if c.Retrieval.TaskWeight < 0 || c.Retrieval.DepWeight < 0 {
		return fmt.Errorf("retrieval weights must be non-negative")
	}
	if c.Training.BatchSize < 1 || c.Training.MaxAttempts < 1 {
		return fmt.Errorf("training.batch_size and training.max_attempts must be positive")
	}
	if c.Context.ModelContextLimit <= c.Context.ReserveTokens {
		return fmt.Errorf("context.model_context_limit (%d) must exceed reserve_tokens (%d)",
			c.Context.ModelContextLimit, c.Context.ReserveTokens)
	}
	return nil
}

// RequireAPIKey fails when no model credentials are configured.
func (c *Config) RequireAPIKey() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set GEMINI_API_KEY or GOOGLE_API_KEY)")
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
