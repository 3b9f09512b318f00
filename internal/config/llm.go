package config

// LLMConfig configures the completion model.
type LLMConfig struct {
	Provider     string `yaml:"provider"`
	APIKey       string `yaml:"api_key"`
	Model        string `yaml:"model"`
	Timeout      string `yaml:"timeout"`
	MaxToolTurns int    `yaml:"max_tool_turns"` // tool round-trips per generation
}

// EmbeddingConfig configures the embedding engine and its caches.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // genai
	APIKey    string `yaml:"api_key"`  // defaults to llm.api_key
	Model     string `yaml:"model"`
	TaskType  string `yaml:"task_type"`
	CacheSize int    `yaml:"cache_size"` // in-process LRU entries, 0 disables
	RedisURL  string `yaml:"redis_url"`  // optional shared cache
	RedisTTL  string `yaml:"redis_ttl"`
}

// ContextConfig configures prompt budgeting.
type ContextConfig struct {
	ModelContextLimit  int    `yaml:"model_context_limit"`
	ReserveTokens      int    `yaml:"reserve_tokens"` // held back for the response
	Tokenizer          string `yaml:"tokenizer"`      // empty selects by model name
	TokenizerCacheSize int    `yaml:"tokenizer_cache_size"`
	TokenizerRecycle   int    `yaml:"tokenizer_recycle"` // uses before an instance is rebuilt
}

// Budget is the token budget available to the prompt.
func (c ContextConfig) Budget() int {
	return c.ModelContextLimit - c.ReserveTokens
}
