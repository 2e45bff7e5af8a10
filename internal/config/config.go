package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/samber/lo"
	"github.com/spf13/viper"
)

var (
	mu     sync.Mutex
	active *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/lead-sentinel/")
	v.AddConfigPath("$HOME/.lead-sentinel/")

	// Environment variable overrides
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, config)

	// API_BASE_URL mirrors the dashboard's build-time variable
	if err := v.BindEnv("upstream.base_url", "SENTINEL_UPSTREAM_BASE_URL", "API_BASE_URL"); err != nil {
		return nil, fmt.Errorf("failed to bind upstream env: %w", err)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	active = v
	mu.Unlock()

	return config, nil
}

// setDefaults registers the keys that may be overridden from the environment.
// AutomaticEnv only resolves keys viper already knows about.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.port", cfg.Server.Port)
	v.SetDefault("server.token_service", cfg.Server.TokenService)
	v.SetDefault("privacy.enabled", cfg.Privacy.Enabled)
	v.SetDefault("privacy.detectors", cfg.Privacy.Detectors)
	v.SetDefault("upstream.base_url", cfg.Upstream.BaseURL)
	v.SetDefault("upstream.timeout", cfg.Upstream.Timeout)
	v.SetDefault("database.url", cfg.Database.URL)
	v.SetDefault("cache.enabled", cfg.Cache.Enabled)
	v.SetDefault("cache.redis_url", cfg.Cache.RedisURL)
	v.SetDefault("rate_limit.enabled", cfg.RateLimit.Enabled)
	v.SetDefault("rate_limit.trust_proxy_headers", cfg.RateLimit.TrustProxyHeaders)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("websocket.username", cfg.WebSocket.Username)
	v.SetDefault("websocket.password", cfg.WebSocket.Password)
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if !lo.Contains([]string{"debug", "info", "warn", "error"}, config.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	known := []string{"all", "email", "phone", "name"}
	for _, detector := range config.Privacy.Detectors {
		if !lo.Contains(known, strings.ToLower(detector)) {
			return fmt.Errorf("unknown detector: %s (must be one of %s)", detector, strings.Join(known, ", "))
		}
	}

	if config.Upstream.BaseURL == "" {
		config.Upstream.BaseURL = DefaultUpstreamBaseURL
	}
	u, err := url.Parse(config.Upstream.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream base url: %q", config.Upstream.BaseURL)
	}
	config.Upstream.BaseURL = strings.TrimRight(config.Upstream.BaseURL, "/")

	if config.Server.TokenService && config.Database.URL == "" {
		return fmt.Errorf("token service requires database.url")
	}

	if config.RateLimit.Enabled && config.RateLimit.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate limit: %d requests per minute", config.RateLimit.RequestsPerMin)
	}

	if config.ETL.BatchSize <= 0 || config.ETL.WorkerCount <= 0 {
		return fmt.Errorf("etl batch_size and worker_count must be positive")
	}

	return nil
}

// Watch starts watching the configuration file for changes.
// Invalid reloads are reported through onError and otherwise ignored.
func Watch(callback func(*Config), onError func(error)) error {
	mu.Lock()
	v := active
	mu.Unlock()

	if v == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if v.ConfigFileUsed() == "" {
		return fmt.Errorf("no configuration file to watch")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("failed to unmarshal %s: %w", e.Name, err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			onError(fmt.Errorf("invalid configuration in %s: %w", e.Name, err))
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
