package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("hfsql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Auth.Required {
		t.Fatal("Auth.Required should default to false in dev")
	}
	if cfg.Engine.BatchSize != 2048 {
		t.Fatalf("Engine.BatchSize = %d", cfg.Engine.BatchSize)
	}
	if cfg.Engine.DatabasePath != "" {
		t.Fatalf("Engine.DatabasePath = %q, want in-memory", cfg.Engine.DatabasePath)
	}
	if !cfg.Engine.EnableHTTPFS {
		t.Fatal("Engine.EnableHTTPFS should default to true in dev")
	}
	if cfg.Hub.DatasetsServerURL != "https://datasets-server.huggingface.co" {
		t.Fatalf("Hub.DatasetsServerURL = %q", cfg.Hub.DatasetsServerURL)
	}
	if cfg.Hub.Timeout != 15*time.Second {
		t.Fatalf("Hub.Timeout = %s", cfg.Hub.Timeout)
	}
	if !cfg.Preferences.LoadViewsOnStartup || !cfg.Preferences.ShowExplorer {
		t.Fatalf("Preferences = %+v, want both enabled", cfg.Preferences)
	}
	if cfg.Catalog.DSN != "" {
		t.Fatalf("Catalog.DSN = %q, want empty", cfg.Catalog.DSN)
	}
	if cfg.ObjectStore.Endpoint != "" {
		t.Fatalf("ObjectStore.Endpoint = %q, want empty", cfg.ObjectStore.Endpoint)
	}
	if cfg.ObjectStore.Bucket != "hfsql-exports" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
}

func TestLoadTestProfileDisablesNetworkDefaults(t *testing.T) {
	cfg, err := Load("hfsql-api", mapLookup(map[string]string{"HFSQL_PROFILE": "test"}))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Engine.EnableHTTPFS {
		t.Fatal("Engine.EnableHTTPFS should default to false in test")
	}
	if cfg.Preferences.LoadViewsOnStartup {
		t.Fatal("Preferences.LoadViewsOnStartup should default to false in test")
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
}

func TestLoadProdProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"HFSQL_PROFILE": "prod"})
	cfg, err := Load("hfsql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileProd {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileProd)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required should default to true in prod")
	}
	if cfg.Observability.LogLevel != slog.LevelInfo {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL should default to true in prod")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket should default to false in prod")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"HFSQL_PROFILE":                           "test",
		"HFSQL_SERVICE_NAME":                      "hfsql-custom",
		"HFSQL_HTTP_ADDR":                         ":9999",
		"HFSQL_HTTP_READ_TIMEOUT":                 "2s",
		"HFSQL_HTTP_WRITE_TIMEOUT":                "3s",
		"HFSQL_LOG_LEVEL":                         "error",
		"HFSQL_AUTH_REQUIRED":                     "true",
		"HFSQL_AUTH_STATIC_KEYS":                  "k1:alice:query_runner",
		"HFSQL_ENGINE_DATABASE_PATH":              "/tmp/hfsql.duckdb",
		"HFSQL_ENGINE_THREADS":                    "4",
		"HFSQL_ENGINE_MEMORY_LIMIT":               "2GB",
		"HFSQL_ENGINE_BATCH_SIZE":                 "500",
		"HFSQL_ENGINE_ENABLE_HTTPFS":              "true",
		"HFSQL_HUB_DATASETS_SERVER_URL":           "http://localhost:9001",
		"HFSQL_HUB_API_TOKEN":                     "hf_secret",
		"HFSQL_HUB_TIMEOUT":                       "21s",
		"HFSQL_HUB_DATASET":                       "squad",
		"HFSQL_PREFERENCES_LOAD_VIEWS_ON_STARTUP": "true",
		"HFSQL_PREFERENCES_SHOW_EXPLORER":         "false",
		"HFSQL_CATALOG_DSN":                       "postgres://example",
		"HFSQL_CATALOG_MAX_OPEN_CONNS":            "42",
		"HFSQL_CATALOG_MAX_IDLE_CONNS":            "17",
		"HFSQL_CATALOG_PING_TIMEOUT":              "3s",
		"HFSQL_OBJECTSTORE_ENDPOINT":              "s3.example.com",
		"HFSQL_OBJECTSTORE_BUCKET":                "hfsql-prod",
		"HFSQL_OBJECTSTORE_REGION":                "us-west-2",
		"HFSQL_OBJECTSTORE_ACCESS_KEY":            "abc",
		"HFSQL_OBJECTSTORE_SECRET_KEY":            "def",
		"HFSQL_OBJECTSTORE_USE_SSL":               "true",
		"HFSQL_OBJECTSTORE_PREFIX":                "exports",
		"HFSQL_OBJECTSTORE_AUTO_CREATE_BUCKET":    "false",
	})
	cfg, err := Load("hfsql-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "hfsql-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if !cfg.Auth.Required {
		t.Fatal("Auth.Required = false, want true")
	}
	if cfg.Auth.StaticKeys != "k1:alice:query_runner" {
		t.Fatalf("StaticKeys = %q", cfg.Auth.StaticKeys)
	}
	if cfg.Engine.DatabasePath != "/tmp/hfsql.duckdb" {
		t.Fatalf("Engine.DatabasePath = %q", cfg.Engine.DatabasePath)
	}
	if cfg.Engine.Threads != 4 {
		t.Fatalf("Engine.Threads = %d", cfg.Engine.Threads)
	}
	if cfg.Engine.MemoryLimit != "2GB" {
		t.Fatalf("Engine.MemoryLimit = %q", cfg.Engine.MemoryLimit)
	}
	if cfg.Engine.BatchSize != 500 {
		t.Fatalf("Engine.BatchSize = %d", cfg.Engine.BatchSize)
	}
	if !cfg.Engine.EnableHTTPFS {
		t.Fatal("Engine.EnableHTTPFS = false, want true")
	}
	if cfg.Hub.DatasetsServerURL != "http://localhost:9001" {
		t.Fatalf("Hub.DatasetsServerURL = %q", cfg.Hub.DatasetsServerURL)
	}
	if cfg.Hub.APIToken != "hf_secret" {
		t.Fatalf("Hub.APIToken = %q", cfg.Hub.APIToken)
	}
	if cfg.Hub.Timeout != 21*time.Second {
		t.Fatalf("Hub.Timeout = %s", cfg.Hub.Timeout)
	}
	if cfg.Hub.Dataset != "squad" {
		t.Fatalf("Hub.Dataset = %q", cfg.Hub.Dataset)
	}
	if !cfg.Preferences.LoadViewsOnStartup {
		t.Fatal("Preferences.LoadViewsOnStartup = false, want true")
	}
	if cfg.Preferences.ShowExplorer {
		t.Fatal("Preferences.ShowExplorer = true, want false")
	}
	if cfg.Catalog.DSN != "postgres://example" {
		t.Fatalf("Catalog.DSN = %q", cfg.Catalog.DSN)
	}
	if cfg.Catalog.MaxOpenConns != 42 {
		t.Fatalf("Catalog.MaxOpenConns = %d", cfg.Catalog.MaxOpenConns)
	}
	if cfg.Catalog.MaxIdleConns != 17 {
		t.Fatalf("Catalog.MaxIdleConns = %d", cfg.Catalog.MaxIdleConns)
	}
	if cfg.Catalog.PingTimeout != 3*time.Second {
		t.Fatalf("Catalog.PingTimeout = %s", cfg.Catalog.PingTimeout)
	}
	if cfg.ObjectStore.Endpoint != "s3.example.com" {
		t.Fatalf("ObjectStore.Endpoint = %q", cfg.ObjectStore.Endpoint)
	}
	if cfg.ObjectStore.Bucket != "hfsql-prod" {
		t.Fatalf("ObjectStore.Bucket = %q", cfg.ObjectStore.Bucket)
	}
	if cfg.ObjectStore.Prefix != "exports" {
		t.Fatalf("ObjectStore.Prefix = %q", cfg.ObjectStore.Prefix)
	}
	if !cfg.ObjectStore.UseSSL {
		t.Fatal("ObjectStore.UseSSL = false, want true")
	}
	if cfg.ObjectStore.AutoCreateBucket {
		t.Fatal("ObjectStore.AutoCreateBucket = true, want false")
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"HFSQL_PROFILE": "oops"},
		{"HFSQL_HTTP_READ_TIMEOUT": "NaN"},
		{"HFSQL_CATALOG_MAX_OPEN_CONNS": "oops"},
		{"HFSQL_ENGINE_BATCH_SIZE": "oops"},
		{"HFSQL_ENGINE_BATCH_SIZE": "0"},
		{"HFSQL_ENGINE_THREADS": "-1"},
		{"HFSQL_ENGINE_ENABLE_HTTPFS": "maybe"},
		{"HFSQL_HUB_TIMEOUT": "soon"},
		{"HFSQL_HUB_DATASETS_SERVER_URL": " "},
		{"HFSQL_AUTH_REQUIRED": "not-bool"},
		{"HFSQL_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("hfsql-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
