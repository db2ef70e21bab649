package domain

// Config holds the complete Kestrel configuration.
type Config struct {
	Server ServerConfig `json:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository"`
	Cache      CacheConfig      `json:"cache"`
	EventBus   EventBusConfig   `json:"eventBus"`
	Registry   RegistryConfig   `json:"registry"`
	Pipeline   PipelineConfig   `json:"pipeline"`

	// Observability
	Logging LoggingConfig `json:"logging"`
	Tracing TracingConfig `json:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  int    `json:"readTimeout"`  // seconds
	WriteTimeout int    `json:"writeTimeout"` // seconds
}

// RegistryConfig holds model registry storage settings.
type RegistryConfig struct {
	// Root is the directory holding the trained/ and production/ slots.
	Root string `json:"root"`
}

// PipelineConfig holds scoring and verification defaults.
type PipelineConfig struct {
	// ArtifactDir is the root for run-scoped stage CSV artifacts.
	ArtifactDir string `json:"artifactDir"`

	// Scoring weights and cutoff. Weights are in [0,1]; the threshold is
	// inclusive on the Review side.
	PEPWeight           float64 `json:"pepWeight"`
	SanctionsWeight     float64 `json:"sanctionsWeight"`
	EscalationThreshold float64 `json:"escalationThreshold"`

	// Seed for the KYC verification simulator's random source.
	VerificationSeed int64 `json:"verificationSeed"`

	// Columns masked by the anonymizer, and whether the free-text notes
	// column is dropped entirely before masking.
	MaskColumns []string `json:"maskColumns"`
	DropNotes   bool     `json:"dropNotes"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
	Endpoint    string `json:"endpoint"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity is the free tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the paid tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./kestrel.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Registry: RegistryConfig{
			Root: "./models",
		},
		Pipeline: PipelineConfig{
			ArtifactDir:         "./runs",
			PEPWeight:           0.2,
			SanctionsWeight:     0.3,
			EscalationThreshold: 70,
			VerificationSeed:    42,
			MaskColumns:         []string{FieldFullName, FieldDocumentID, FieldEmail, FieldPhone, FieldAddress},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "kestrel",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "kestrel",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
