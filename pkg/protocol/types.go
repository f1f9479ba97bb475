package protocol

// Config represents the root configuration of the bridge daemon.
type Config struct {
	Version       string              `yaml:"version" koanf:"version"`
	Bridge        BridgeConfig        `yaml:"bridge" koanf:"bridge"`
	Store         StoreConfig         `yaml:"store" koanf:"store"`
	Timing        TimingConfig        `yaml:"timing" koanf:"timing"`
	Enrichment    EnrichmentConfig    `yaml:"enrichment" koanf:"enrichment"`
	Control       ControlConfig       `yaml:"control" koanf:"control"`
	Observability ObservabilityConfig `yaml:"observability" koanf:"observability"`
}

type BridgeConfig struct {
	OrchURL         string `yaml:"orch_url" koanf:"orch_url"`
	Auth            string `yaml:"auth" koanf:"auth"`                         // "Bearer <token>"
	CredentialsFile string `yaml:"credentials_file" koanf:"credentials_file"` // AUTH / ORCH_URL for auto-connect
	WorkspaceID     string `yaml:"workspace_id" koanf:"workspace_id"`
	Client          string `yaml:"client" koanf:"client"`
	ClientVersion   string `yaml:"client_version" koanf:"client_version"`
}

type StoreConfig struct {
	EnvPath    string `yaml:"env_path" koanf:"env_path"`       // The .env synchronised with the orchestrator
	StorageDir string `yaml:"storage_dir" koanf:"storage_dir"` // Reported as STORAGE_DIR
}

type TimingConfig struct {
	HeartbeatInterval string `yaml:"heartbeat_interval" koanf:"heartbeat_interval"`
	SnapshotDelay     string `yaml:"snapshot_delay" koanf:"snapshot_delay"`
	BackoffInitial    string `yaml:"backoff_initial" koanf:"backoff_initial"`
	BackoffMax        string `yaml:"backoff_max" koanf:"backoff_max"`
	HandshakeTimeout  string `yaml:"handshake_timeout" koanf:"handshake_timeout"`
}

type EnrichmentConfig struct {
	URL     string `yaml:"url" koanf:"url"`
	Timeout string `yaml:"timeout" koanf:"timeout"`
}

type ControlConfig struct {
	SocketPath string `yaml:"socket_path" koanf:"socket_path"`
}

type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metrics_addr" koanf:"metrics_addr"`
	LogLevel    string `yaml:"log_level" koanf:"log_level"`
	LogFormat   string `yaml:"log_format" koanf:"log_format"`
}

// Personal.AI order the ending
