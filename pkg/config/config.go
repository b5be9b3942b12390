package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the quest server.
type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	JWT      JWTConfig
	Quests   QuestsConfig
	Log      LogConfig
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// AutoMigrate applies pending migrations when the server starts.
	AutoMigrate bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host              string
	Port              int
	CORSAllowOrigins  string
	RateLimitMax      int
	RateLimitDuration time.Duration
}

// JWTConfig holds session token settings.
type JWTConfig struct {
	Secret            string
	SessionExpiration time.Duration
}

// QuestsConfig selects the quest registry. An empty path means the
// embedded default map.
type QuestsConfig struct {
	RegistryPath string
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level    string
	Encoding string
}

// LoadConfig loads configuration from environment variables and defaults.
// Environment variables are uppercase with underscores, e.g. DB_PATH.
func LoadConfig() (*Config, error) {
	v := viper.New()

	setDefaults(v)
	bindEnv(v)
	v.AutomaticEnv()

	if err := validateRequired(v); err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Path:            v.GetString("db_path"),
			MaxOpenConns:    v.GetInt("db_max_open_conns"),
			MaxIdleConns:    v.GetInt("db_max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("db_conn_max_lifetime"),
			ConnMaxIdleTime: v.GetDuration("db_conn_max_idle_time"),
			AutoMigrate:     v.GetBool("db_auto_migrate"),
		},
		Server: ServerConfig{
			Host:              v.GetString("server_host"),
			Port:              v.GetInt("server_port"),
			CORSAllowOrigins:  v.GetString("server_cors_allow_origins"),
			RateLimitMax:      v.GetInt("server_rate_limit_max"),
			RateLimitDuration: v.GetDuration("server_rate_limit_duration"),
		},
		JWT: JWTConfig{
			Secret:            v.GetString("jwt_secret"),
			SessionExpiration: v.GetDuration("jwt_session_expiration"),
		},
		Quests: QuestsConfig{
			RegistryPath: v.GetString("quests_registry_path"),
		},
		Log: LogConfig{
			Level:    v.GetString("log_level"),
			Encoding: v.GetString("log_encoding"),
		},
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("db_path", "./treasure-map.db")
	v.SetDefault("db_max_open_conns", 5)
	v.SetDefault("db_max_idle_conns", 2)
	v.SetDefault("db_conn_max_lifetime", 5*time.Minute)
	v.SetDefault("db_conn_max_idle_time", 2*time.Minute)
	v.SetDefault("db_auto_migrate", true)

	// Server defaults
	v.SetDefault("server_host", "0.0.0.0")
	v.SetDefault("server_port", 8080)
	v.SetDefault("server_cors_allow_origins", "*")
	v.SetDefault("server_rate_limit_max", 120)
	v.SetDefault("server_rate_limit_duration", time.Minute)

	// A learner session usually spans a school term.
	v.SetDefault("jwt_session_expiration", 90*24*time.Hour)

	v.SetDefault("quests_registry_path", "")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_encoding", "json")
}

func bindEnv(v *viper.Viper) {
	// Database
	_ = v.BindEnv("db_path", "DB_PATH")
	_ = v.BindEnv("db_max_open_conns", "DB_MAX_OPEN_CONNS")
	_ = v.BindEnv("db_max_idle_conns", "DB_MAX_IDLE_CONNS")
	_ = v.BindEnv("db_conn_max_lifetime", "DB_CONN_MAX_LIFETIME")
	_ = v.BindEnv("db_conn_max_idle_time", "DB_CONN_MAX_IDLE_TIME")
	_ = v.BindEnv("db_auto_migrate", "DB_AUTO_MIGRATE")

	// Server
	_ = v.BindEnv("server_host", "SERVER_HOST")
	_ = v.BindEnv("server_port", "SERVER_PORT")
	_ = v.BindEnv("server_cors_allow_origins", "SERVER_CORS_ALLOW_ORIGINS")
	_ = v.BindEnv("server_rate_limit_max", "SERVER_RATE_LIMIT_MAX")
	_ = v.BindEnv("server_rate_limit_duration", "SERVER_RATE_LIMIT_DURATION")

	// JWT
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")
	_ = v.BindEnv("jwt_session_expiration", "JWT_SESSION_EXPIRATION")

	// Quests
	_ = v.BindEnv("quests_registry_path", "QUESTS_REGISTRY_PATH")

	// Logging
	_ = v.BindEnv("log_level", "LOG_LEVEL")
	_ = v.BindEnv("log_encoding", "LOG_ENCODING")
}

func validateRequired(v *viper.Viper) error {
	if v.GetString("jwt_secret") == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.JWT.SessionExpiration <= 0 {
		return fmt.Errorf("JWT_SESSION_EXPIRATION must be a positive duration")
	}
	if cfg.Server.RateLimitMax <= 0 {
		return fmt.Errorf("SERVER_RATE_LIMIT_MAX must be positive, got %d", cfg.Server.RateLimitMax)
	}
	return nil
}
