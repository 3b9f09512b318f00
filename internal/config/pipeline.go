package config

// ValidRetrievalBackends lists the supported nearest-neighbour backends.
var ValidRetrievalBackends = []string{"exact", "hnsw"}

// ValidSandboxBackends lists the supported code executors.
var ValidSandboxBackends = []string{"yaegi", "docker"}

// ValidStoreDrivers lists the database/sql drivers the example store accepts.
var ValidStoreDrivers = []string{"sqlite", "pgx"}

// RetrievalConfig configures example retrieval.
type RetrievalConfig struct {
	K          int     `yaml:"k"`
	TaskWeight float64 `yaml:"task_weight"`
	DepWeight  float64 `yaml:"dep_weight"`
	Backend    string  `yaml:"backend"` // exact, hnsw
}

// CompilerConfig configures task compilation.
type CompilerConfig struct {
	MaxAttempts int `yaml:"max_attempts"` // attempts to get parseable code
}

// TrainingConfig configures the generate-execute-judge loop.
type TrainingConfig struct {
	BatchSize        int                `yaml:"batch_size"`
	MaxAttempts      int                `yaml:"max_attempts"`
	MaxNoImprovement int                `yaml:"max_no_improvement"`
	DimensionWeights map[string]float64 `yaml:"dimension_weights"`
	DefaultWeight    float64            `yaml:"default_weight"`
	RetrieveExamples bool               `yaml:"retrieve_examples"`
	// PersistWithoutMatch keeps the best candidate when no expected answer
	// matched, provided it scored positive and passed correctness.
	PersistWithoutMatch bool `yaml:"persist_without_match"`
}

// SandboxConfig configures code execution.
type SandboxConfig struct {
	Backend         string   `yaml:"backend"` // yaegi, docker
	Timeout         string   `yaml:"timeout"`
	AllowedPackages []string `yaml:"allowed_packages"` // empty uses the built-in allowlist
	DockerImage     string   `yaml:"docker_image"`
}

// StoreConfig configures the example store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite, pgx
	DSN    string `yaml:"dsn"`
}
