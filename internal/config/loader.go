package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads, interpolates, defaults and validates the config file at configPath.
// A directory is taken to contain config.yaml. When a .checksums manifest sits next
// to the file, the file must match it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}
	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	if err := verifyConfigHash(absPath); err != nil {
		return nil, err
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	hash, err := ComputeBlake3Hash(absPath)
	if err != nil {
		return nil, err
	}
	cfg.SourcePath = absPath
	cfg.SourceHash = hash
	return cfg, nil
}

// DiscoverConfigPath finds the config file by checking standard locations.
// Priority order: $JOBRELAY_CONFIG, ~/.config/jobrelay/config.yaml, /etc/jobrelay/config.yaml, ./config.yaml
func DiscoverConfigPath() (string, error) {
	if p := os.Getenv("JOBRELAY_CONFIG"); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if homeDir, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(homeDir, ".config", "jobrelay", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	if _, err := os.Stat("/etc/jobrelay/config.yaml"); err == nil {
		return "/etc/jobrelay/config.yaml", nil
	}

	if _, err := os.Stat("./config.yaml"); err == nil {
		return "./config.yaml", nil
	}

	return "", fmt.Errorf("no config found (checked: $JOBRELAY_CONFIG, ~/.config/jobrelay, /etc/jobrelay, ./config.yaml)")
}

func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	// Decode over the defaults so omitted keys, including booleans, keep them.
	cfg := Defaults()
	if err := yaml.Unmarshal([]byte(interpolated), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// applyConfigDefaults fills values that were set explicitly empty.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.Environment == "" {
		cfg.Service.Environment = defaults.Service.Environment
	}
	cfg.Service.LogLevel = strings.ToLower(cfg.Service.LogLevel)
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.HTTP.Listen == "" {
		cfg.HTTP.Listen = defaults.HTTP.Listen
	}
	if cfg.HTTP.MaxBodySize == "" {
		cfg.HTTP.MaxBodySize = defaults.HTTP.MaxBodySize
	}

	cfg.Storage.Driver = strings.ToLower(cfg.Storage.Driver)
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaults.Storage.Driver
	}
	if cfg.Storage.MaxConns <= 0 {
		cfg.Storage.MaxConns = defaults.Storage.MaxConns
	}

	if cfg.Slack.FreshnessWindow == 0 {
		cfg.Slack.FreshnessWindow = defaults.Slack.FreshnessWindow
	}
	if cfg.Jobber.Timeout == 0 {
		cfg.Jobber.Timeout = defaults.Jobber.Timeout
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = defaults.Dedupe.TTL
	}
	if cfg.Notifications.Policy == "" {
		cfg.Notifications.Policy = defaults.Notifications.Policy
	}
	if cfg.Notifications.PollInterval == 0 {
		cfg.Notifications.PollInterval = defaults.Notifications.PollInterval
	}
	if cfg.Spool.Retention == 0 {
		cfg.Spool.Retention = defaults.Spool.Retention
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		// If not found, leave the placeholder (will fail validation if required)
		return match
	})
}

// validate performs validation on the configuration.
func validate(cfg *Config) error {
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if _, err := ParseSize(cfg.HTTP.MaxBodySize); err != nil {
		return fmt.Errorf("http.max_body_size %q: %w", cfg.HTTP.MaxBodySize, err)
	}

	switch cfg.Storage.Driver {
	case "sqlite":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage.path is required for the sqlite driver")
		}
	case "postgres":
		if cfg.Storage.DSN == "" {
			return fmt.Errorf("storage.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver must be sqlite or postgres (got %q)", cfg.Storage.Driver)
	}
	if cfg.Spool.Path == "" {
		return fmt.Errorf("spool.path is required")
	}

	for _, secret := range []struct{ key, value string }{
		{"slack.signing_secret", cfg.Slack.SigningSecret},
		{"slack.bot_token", cfg.Slack.BotToken},
		{"jobber.webhook_secret", cfg.Jobber.WebhookSecret},
		{"jobber.api_key", cfg.Jobber.APIKey},
		{"storage.dsn", cfg.Storage.DSN},
		{"dedupe.redis_url", cfg.Dedupe.RedisURL},
		{"notifications.nats.url", cfg.Notifications.NATS.URL},
	} {
		if err := checkUnresolvedEnvVar(secret.key, secret.value); err != nil {
			return err
		}
	}

	if cfg.Slack.SigningSecret == "" {
		return fmt.Errorf("slack.signing_secret is required")
	}
	if cfg.Slack.FreshnessWindow < 0 {
		return fmt.Errorf("slack.freshness_window must not be negative")
	}
	if cfg.IsProduction() && cfg.Jobber.WebhookSecret == "" {
		return fmt.Errorf("jobber.webhook_secret is required when service.environment is production")
	}
	if cfg.Jobber.RateLimit.MaxRequests < 0 {
		return fmt.Errorf("jobber.rate_limit.max_requests must not be negative")
	}
	if cfg.Jobber.RateLimit.MaxRequests > 0 && cfg.Jobber.RateLimit.Window <= 0 {
		return fmt.Errorf("jobber.rate_limit.window must be positive")
	}

	if cfg.Dedupe.TTL < 0 {
		return fmt.Errorf("dedupe.ttl must not be negative")
	}

	if p := cfg.Notifications.Policy; p != "first" && p != "all" {
		return fmt.Errorf("notifications.policy must be first or all (got %q)", p)
	}
	for i, tr := range cfg.Notifications.Transitions {
		switch strings.ToUpper(tr.EntityType) {
		case "CLIENT", "JOB", "INVOICE":
		default:
			return fmt.Errorf("notifications.transitions[%d].entity_type must be CLIENT, JOB or INVOICE (got %q)", i, tr.EntityType)
		}
		if tr.To == "" {
			return fmt.Errorf("notifications.transitions[%d].to is required", i)
		}
		if tr.Kind == "" {
			return fmt.Errorf("notifications.transitions[%d].kind is required", i)
		}
	}
	if cfg.Notifications.PollInterval < 0 {
		return fmt.Errorf("notifications.poll_interval must not be negative")
	}

	return nil
}

func checkUnresolvedEnvVar(key, value string) error {
	if matches := envVarPattern.FindStringSubmatch(value); len(matches) > 1 {
		return fmt.Errorf("%s: environment variable ${%s} is not set", key, matches[1])
	}
	return nil
}

// ParseSize parses size strings like "1MB", "512KB" or "1048576" to bytes.
func ParseSize(size string) (int64, error) {
	upper := strings.ToUpper(strings.TrimSpace(size))
	multiplier := int64(1)

	switch {
	case strings.HasSuffix(upper, "KB"):
		multiplier = 1024
		upper = strings.TrimSuffix(upper, "KB")
	case strings.HasSuffix(upper, "MB"):
		multiplier = 1024 * 1024
		upper = strings.TrimSuffix(upper, "MB")
	case strings.HasSuffix(upper, "GB"):
		multiplier = 1024 * 1024 * 1024
		upper = strings.TrimSuffix(upper, "GB")
	}

	value, err := strconv.ParseInt(strings.TrimSpace(upper), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value: %w", err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("size must be positive")
	}

	result := value * multiplier
	if result/multiplier != value {
		return 0, fmt.Errorf("size too large")
	}
	return result, nil
}
