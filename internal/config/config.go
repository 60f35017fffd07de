package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Engine        EngineConfig
	Hub           HubConfig
	Preferences   PreferencesConfig
	Catalog       CatalogConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
	Auth          AuthConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type EngineConfig struct {
	// DatabasePath is empty for an in-memory engine.
	DatabasePath string
	Threads      int
	MemoryLimit  string
	BatchSize    int
	EnableHTTPFS bool
}

type HubConfig struct {
	DatasetsServerURL string
	APIToken          string
	Timeout           time.Duration
	// Dataset is loaded at startup when LoadViewsOnStartup is set.
	Dataset string
}

type PreferencesConfig struct {
	LoadViewsOnStartup bool
	ShowExplorer       bool
}

// CatalogConfig points at the Postgres database holding preferences. An
// empty DSN keeps preferences in memory.
type CatalogConfig struct {
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// ObjectStoreConfig configures the bucket that receives result exports. An
// empty Endpoint disables exports.
type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

type AuthConfig struct {
	Required   bool
	StaticKeys string
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("HFSQL_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid HFSQL_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "HFSQL_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "HFSQL_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "HFSQL_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "HFSQL_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "HFSQL_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "HFSQL_ENGINE_DATABASE_PATH", &cfg.Engine.DatabasePath) },
		func() error { return applyInt(lookup, "HFSQL_ENGINE_THREADS", &cfg.Engine.Threads) },
		func() error { return applyString(lookup, "HFSQL_ENGINE_MEMORY_LIMIT", &cfg.Engine.MemoryLimit) },
		func() error { return applyInt(lookup, "HFSQL_ENGINE_BATCH_SIZE", &cfg.Engine.BatchSize) },
		func() error { return applyBool(lookup, "HFSQL_ENGINE_ENABLE_HTTPFS", &cfg.Engine.EnableHTTPFS) },
		func() error { return applyString(lookup, "HFSQL_HUB_DATASETS_SERVER_URL", &cfg.Hub.DatasetsServerURL) },
		func() error { return applyString(lookup, "HFSQL_HUB_API_TOKEN", &cfg.Hub.APIToken) },
		func() error { return applyDuration(lookup, "HFSQL_HUB_TIMEOUT", &cfg.Hub.Timeout) },
		func() error { return applyString(lookup, "HFSQL_HUB_DATASET", &cfg.Hub.Dataset) },
		func() error {
			return applyBool(lookup, "HFSQL_PREFERENCES_LOAD_VIEWS_ON_STARTUP", &cfg.Preferences.LoadViewsOnStartup)
		},
		func() error {
			return applyBool(lookup, "HFSQL_PREFERENCES_SHOW_EXPLORER", &cfg.Preferences.ShowExplorer)
		},
		func() error { return applyString(lookup, "HFSQL_CATALOG_DSN", &cfg.Catalog.DSN) },
		func() error { return applyInt(lookup, "HFSQL_CATALOG_MAX_OPEN_CONNS", &cfg.Catalog.MaxOpenConns) },
		func() error { return applyInt(lookup, "HFSQL_CATALOG_MAX_IDLE_CONNS", &cfg.Catalog.MaxIdleConns) },
		func() error {
			return applyDuration(lookup, "HFSQL_CATALOG_CONN_MAX_IDLE_TIME", &cfg.Catalog.ConnMaxIdleTime)
		},
		func() error {
			return applyDuration(lookup, "HFSQL_CATALOG_CONN_MAX_LIFETIME", &cfg.Catalog.ConnMaxLifetime)
		},
		func() error { return applyDuration(lookup, "HFSQL_CATALOG_PING_TIMEOUT", &cfg.Catalog.PingTimeout) },
		func() error { return applyString(lookup, "HFSQL_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "HFSQL_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "HFSQL_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "HFSQL_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error {
			return applyString(lookup, "HFSQL_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey)
		},
		func() error { return applyBool(lookup, "HFSQL_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "HFSQL_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "HFSQL_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyBool(lookup, "HFSQL_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "HFSQL_LOG_LEVEL", &cfg.Observability.LogLevel) },
		func() error { return applyBool(lookup, "HFSQL_AUTH_REQUIRED", &cfg.Auth.Required) },
		func() error { return applyString(lookup, "HFSQL_AUTH_STATIC_KEYS", &cfg.Auth.StaticKeys) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	if cfg.Service.Name == "" {
		return Config{}, fmt.Errorf("service name is required")
	}
	if cfg.HTTP.Address == "" {
		return Config{}, fmt.Errorf("http address is required")
	}
	if cfg.Engine.BatchSize <= 0 {
		return Config{}, fmt.Errorf("engine batch size must be positive")
	}
	if cfg.Engine.Threads < 0 {
		return Config{}, fmt.Errorf("engine threads must not be negative")
	}
	if cfg.Hub.DatasetsServerURL == "" {
		return Config{}, fmt.Errorf("datasets server url is required")
	}
	return cfg, nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "hfsql-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		Engine: EngineConfig{
			DatabasePath: "",
			BatchSize:    2048,
			EnableHTTPFS: true,
		},
		Hub: HubConfig{
			DatasetsServerURL: "https://datasets-server.huggingface.co",
			Timeout:           15 * time.Second,
		},
		Preferences: PreferencesConfig{
			LoadViewsOnStartup: true,
			ShowExplorer:       true,
		},
		Catalog: CatalogConfig{
			DSN:             "",
			MaxOpenConns:    4,
			MaxIdleConns:    1,
			ConnMaxIdleTime: 5 * time.Minute,
			ConnMaxLifetime: 30 * time.Minute,
			PingTimeout:     5 * time.Second,
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "",
			Region:           "us-east-1",
			Bucket:           "hfsql-exports",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
		Auth: AuthConfig{
			Required:   false,
			StaticKeys: "",
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Engine.EnableHTTPFS = false
		cfg.Preferences.LoadViewsOnStartup = false
		cfg.Observability.LogLevel = slog.LevelWarn
		cfg.Auth.Required = false
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Auth.Required = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
