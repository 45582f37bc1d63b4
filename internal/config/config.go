package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds redactai configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Users      []UserConfig     `yaml:"users"`
	Detection  DetectionConfig  `yaml:"detection"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	Audit      AuditConfig      `yaml:"audit"`
	Notify     NotifyConfig     `yaml:"notify"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"` // HTTP listen address, e.g. ":8080"
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	MaxInFlight     int           `yaml:"max_in_flight"`
}

// UserConfig maps API keys to one identity.
type UserConfig struct {
	ID                string   `yaml:"id"`
	Email             string   `yaml:"email"`
	NotificationEmail string   `yaml:"notification_email"`
	APIKeys           []string `yaml:"api_keys"`
	APIKeyEnv         string   `yaml:"api_key_env"` // e.g. "REDACTAI_KEY_ALICE"
}

type DetectionConfig struct {
	MaxTextBytes     int             `yaml:"max_text_bytes"`
	EntropyThreshold float64         `yaml:"entropy_threshold"`
	EntropyMinLength int             `yaml:"entropy_min_length"`
	DisableEntropy   bool            `yaml:"disable_entropy"`
	ExtraPatterns    []PatternConfig `yaml:"extra_patterns"`
}

type PatternConfig struct {
	Name     string `yaml:"name"`
	Category string `yaml:"category"` // one of the secret categories, e.g. "api_key"
	Pattern  string `yaml:"pattern"`
}

type ClassifierConfig struct {
	// ModelDir empty means regex-only operation.
	ModelDir          string        `yaml:"model_dir"`
	Required          bool          `yaml:"required"`
	Timeout           time.Duration `yaml:"timeout"`
	Workers           int           `yaml:"workers"`
	IntraThreads      int           `yaml:"intra_threads"`
	InterThreads      int           `yaml:"inter_threads"`
	SharedLibraryPath string        `yaml:"shared_library_path"`
	ManifestPublicKey string        `yaml:"manifest_public_key"` // base64 or hex ed25519
	// DisableAutoTrain stops a seed model being fitted into an empty model_dir.
	DisableAutoTrain  bool          `yaml:"disable_auto_train"`
}

type ScoringConfig struct {
	WarnThreshold  int `yaml:"warn_threshold"`
	BlockThreshold int `yaml:"block_threshold"`
	// HighSeverityBonus below zero disables the bonus.
	HighSeverityBonus int                `yaml:"high_severity_bonus"`
	CategoryWeights   map[string]float64 `yaml:"category_weights"`
}

type AuditConfig struct {
	Path          string `yaml:"path"`
	ExcerptLength int    `yaml:"excerpt_length"`
	LogLevel      string `yaml:"log_level"` // silent | error | warn | info
	HistoryLimit  int    `yaml:"history_limit"`
	JournalMode   string `yaml:"journal_mode"`
}

type NotifyConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	Workers         int           `yaml:"workers"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
	Sinks           []SinkConfig  `yaml:"sinks"`
}

type SinkConfig struct {
	Type                 string            `yaml:"type"` // file_jsonl | webhook | smtp | log
	Path                 string            `yaml:"path"`
	URL                  string            `yaml:"url"`
	Headers              map[string]string `yaml:"headers"`
	Timeout              time.Duration     `yaml:"timeout"`
	AllowPrivateNetworks bool              `yaml:"allow_private_networks"`
	SMTP                 SMTPConfig        `yaml:"smtp"`
}

type SMTPConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	Username    string   `yaml:"username"`
	PasswordEnv string   `yaml:"password_env"`
	From        string   `yaml:"from"`
	To          []string `yaml:"to"`
	RequireTLS  bool     `yaml:"require_tls"`
}

type TelemetryConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
	Protocol string `yaml:"protocol"` // grpc | http
}

// Load reads configuration from a YAML file.
// If the file doesn't exist, it returns a default config and no error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultConfig(), nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

func defaultConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8080"
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 10 * time.Second
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = 30 * time.Second
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = 60 * time.Second
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = 10 * time.Second
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = 1 << 20
	}
	if s.MaxInFlight == 0 {
		s.MaxInFlight = 64
	}

	d := &cfg.Detection
	if d.MaxTextBytes == 0 {
		d.MaxTextBytes = 100_000
	}
	if d.EntropyThreshold == 0 {
		d.EntropyThreshold = 4.5
	}
	if d.EntropyMinLength == 0 {
		d.EntropyMinLength = 20
	}

	if cfg.Classifier.Timeout == 0 {
		cfg.Classifier.Timeout = 2 * time.Second
	}

	sc := &cfg.Scoring
	if sc.WarnThreshold == 0 {
		sc.WarnThreshold = 40
	}
	if sc.BlockThreshold == 0 {
		sc.BlockThreshold = 70
	}
	if sc.HighSeverityBonus == 0 {
		sc.HighSeverityBonus = 15
	}
	if len(sc.CategoryWeights) == 0 {
		sc.CategoryWeights = DefaultCategoryWeights(sc.WarnThreshold, sc.BlockThreshold)
	}

	a := &cfg.Audit
	if a.Path == "" {
		a.Path = "data/audit.db"
	}
	if a.ExcerptLength == 0 {
		a.ExcerptLength = 100
	}
	if a.LogLevel == "" {
		a.LogLevel = "warn"
	}
	if a.HistoryLimit == 0 {
		a.HistoryLimit = 20
	}
	if a.JournalMode == "" {
		a.JournalMode = "WAL"
	}

	n := &cfg.Notify
	if n.QueueSize == 0 {
		n.QueueSize = 256
	}
	if n.Workers == 0 {
		n.Workers = 2
	}
	if n.ShutdownTimeout == 0 {
		n.ShutdownTimeout = 5 * time.Second
	}
	if n.DeliveryTimeout == 0 {
		n.DeliveryTimeout = 30 * time.Second
	}
	if len(n.Sinks) == 0 {
		n.Sinks = []SinkConfig{{Type: "log"}}
	}
	for i := range n.Sinks {
		if n.Sinks[i].Type == "smtp" && n.Sinks[i].SMTP.Port == 0 {
			n.Sinks[i].SMTP.Port = 587
		}
	}

	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
}
