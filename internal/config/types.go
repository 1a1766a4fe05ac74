package config

import "time"

// Config is the complete jobrelay configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	HTTP          HTTPConfig          `yaml:"http"`
	Storage       StorageConfig       `yaml:"storage"`
	Spool         SpoolConfig         `yaml:"spool"`
	Slack         SlackConfig         `yaml:"slack"`
	Jobber        JobberConfig        `yaml:"jobber"`
	Dedupe        DedupeConfig        `yaml:"dedupe"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Metrics       MetricsConfig       `yaml:"metrics"`

	// SourcePath and SourceHash identify the file this config was loaded from.
	SourcePath string `yaml:"-"`
	SourceHash string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// HTTPConfig defines the webhook listener.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	// MaxBodySize accepts plain bytes or a KB/MB/GB suffix.
	MaxBodySize string `yaml:"max_body_size"`
}

// StorageConfig selects the record store.
type StorageConfig struct {
	Driver   string `yaml:"driver"` // sqlite | postgres
	Path     string `yaml:"path"`
	DSN      string `yaml:"dsn"`
	MaxConns int    `yaml:"max_conns"`
}

// SpoolConfig locates the SQLite notification outbox.
type SpoolConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

type SlackConfig struct {
	SigningSecret   string        `yaml:"signing_secret"`
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	BotToken        string        `yaml:"bot_token"`
	APIBaseURL      string        `yaml:"api_base_url"`
	NotifyChannel   string        `yaml:"notify_channel"`
}

type JobberConfig struct {
	WebhookSecret  string          `yaml:"webhook_secret"`
	APIKey         string          `yaml:"api_key"`
	BaseURL        string          `yaml:"base_url"`
	GraphQLVersion string          `yaml:"graphql_version"`
	Timeout        time.Duration   `yaml:"timeout"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests"`
	Window      time.Duration `yaml:"window"`
}

// DedupeConfig controls replay suppression of chat deliveries. An empty RedisURL
// selects the in-process store.
type DedupeConfig struct {
	RedisURL string        `yaml:"redis_url"`
	TTL      time.Duration `yaml:"ttl"`
}

type NotificationsConfig struct {
	Policy       string             `yaml:"policy"` // first | all
	Transitions  []TransitionConfig `yaml:"transitions"`
	NATS         NATSConfig         `yaml:"nats"`
	PollInterval time.Duration      `yaml:"poll_interval"`
}

// TransitionConfig maps a status change of an entity to a notification kind.
type TransitionConfig struct {
	EntityType string `yaml:"entity_type"`
	To         string `yaml:"to"`
	Kind       string `yaml:"kind"`
}

type NATSConfig struct {
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// ChecksumManifest is the .checksums file written next to a config file.
type ChecksumManifest struct {
	Version     int               `yaml:"version"`
	GeneratedAt string            `yaml:"generated_at"`
	Hashes      map[string]string `yaml:"hashes"`
}

// Defaults returns the configuration used for any field the file leaves unset.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:        "jobrelay",
			Environment: "development",
			LogLevel:    "info",
			LogFormat:   "json",
		},
		HTTP: HTTPConfig{
			Listen:      "127.0.0.1:8080",
			MaxBodySize: "1MB",
		},
		Storage: StorageConfig{
			Driver:   "sqlite",
			Path:     "./data/jobrelay.db",
			MaxConns: 10,
		},
		Spool: SpoolConfig{
			Path:      "./data/spool.db",
			Retention: 7 * 24 * time.Hour,
		},
		Slack: SlackConfig{
			FreshnessWindow: 300 * time.Second,
			APIBaseURL:      "https://slack.com/api",
		},
		Jobber: JobberConfig{
			BaseURL:        "https://api.getjobber.com",
			GraphQLVersion: "2023-11-15",
			Timeout:        30 * time.Second,
			RateLimit: RateLimitConfig{
				MaxRequests: 2500,
				Window:      300 * time.Second,
			},
		},
		Dedupe: DedupeConfig{
			TTL: time.Hour,
		},
		Notifications: NotificationsConfig{
			Policy: "first",
			Transitions: []TransitionConfig{
				{EntityType: "JOB", To: "completed", Kind: "job_completed"},
				{EntityType: "INVOICE", To: "paid", Kind: "invoice_paid"},
			},
			NATS:         NATSConfig{SubjectPrefix: "jobrelay.notifications"},
			PollInterval: 2 * time.Second,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// IsProduction reports whether the service runs in the production environment.
func (c *Config) IsProduction() bool {
	return c.Service.Environment == "production"
}
