package config

import (
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/stackbound/varstore/internal/db"
)

// Config is the full server configuration.
type Config struct {
	// Storage selects the backing store: "postgres" or "memory".
	Storage string
	// ListenAddr is the HTTP listen address.
	ListenAddr string
	// CORSOrigin is the allowed browser origin.
	CORSOrigin string
	// MigrationsPath points at the SQL migration files.
	MigrationsPath string
	// BootstrapAdmin names the user created with a global admin grant on an
	// empty store, so the first grants can be issued.
	BootstrapAdmin string
	Database       db.Config
}

// Default returns the configuration used when no file or env overrides
// exist.
func Default() Config {
	return Config{
		Storage:        "postgres",
		ListenAddr:     ":8080",
		CORSOrigin:     "http://localhost:3000",
		MigrationsPath: "./migrations",
		BootstrapAdmin: "admin",
		Database:       db.DefaultConfig(),
	}
}

// Load reads config.yaml from configPath, applying VARSTORE_-prefixed
// environment overrides on top of the defaults.
func Load(configPath string, logger *zap.Logger) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("VARSTORE")

	v.BindEnv("storage")
	v.BindEnv("server.listen")
	v.BindEnv("server.cors_origin")
	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")

	if err := v.ReadInConfig(); err != nil {
		logger.Info("no config.yaml found, using defaults and env vars")
	} else {
		logger.Info("loaded config.yaml", zap.String("file", v.ConfigFileUsed()))
	}

	if v.IsSet("storage") {
		cfg.Storage = v.GetString("storage")
	}
	if v.IsSet("server.listen") {
		cfg.ListenAddr = v.GetString("server.listen")
	}
	if v.IsSet("server.cors_origin") {
		cfg.CORSOrigin = v.GetString("server.cors_origin")
	}
	if v.IsSet("server.migrations_path") {
		cfg.MigrationsPath = v.GetString("server.migrations_path")
	}
	if v.IsSet("bootstrap.admin") {
		cfg.BootstrapAdmin = v.GetString("bootstrap.admin")
	}
	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	return cfg, nil
}
