package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

//go:embed config.yml
var embeddedConfig []byte

// DevelopmentJWTSecret is the signing key shipped in config.yml for local work only.
const DevelopmentJWTSecret = "dev-only-change-me"

const (
	ModeDevelopment = "development"
	ModeProduction  = "production"

	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// JWTConfig holds everything the token issuer needs.
type JWTConfig struct {
	SecretKey      string        `mapstructure:"secretKey"`
	Issuer         string        `mapstructure:"issuer"`
	AccessTokenTTL time.Duration `mapstructure:"accessTokenTTL"`
}

type PostgresConfig struct {
	Host              string `mapstructure:"host"`
	Password          string `mapstructure:"password"`
	Port              string `mapstructure:"port"`
	Username          string `mapstructure:"username"`
	DB                string `mapstructure:"db"`
	SSLMODE           string `mapstructure:"SSLMODE"`
	MaxConns          int32  `mapstructure:"maxConns"`
	MAXCONWAITINGTIME int    `mapstructure:"MAXCONWAITINGTIME"`
}

type SQLiteConfig struct {
	Path string `mapstructure:"path"`
}

type SecurityConfig struct {
	BcryptCost      int           `mapstructure:"bcryptCost"`
	HashWorkers     int           `mapstructure:"hashWorkers"`
	RequireToken    bool          `mapstructure:"requireToken"`
	LoginRateLimit  int           `mapstructure:"loginRateLimit"`
	LoginRateWindow time.Duration `mapstructure:"loginRateWindow"`
}

type Config struct {
	Mode   string `mapstructure:"mode"`
	Dotenv string `mapstructure:"dotenv"`
	Server struct {
		HTTPPort       string        `mapstructure:"HTTPPort"`
		Timeout        time.Duration `mapstructure:"HTTPTimeout"`
		AllowedOrigins []string      `mapstructure:"allowedOrigins"`
	} `mapstructure:"server"`
	Repositories struct {
		Driver   string         `mapstructure:"driver"`
		Postgres PostgresConfig `mapstructure:"postgres"`
		SQLite   SQLiteConfig   `mapstructure:"sqlite"`
	} `mapstructure:"repositories"`
	JWT           JWTConfig      `mapstructure:"jwt"`
	Security      SecurityConfig `mapstructure:"security"`
	Observability struct {
		ServiceName string `mapstructure:"serviceName"`
		MetricsPort string `mapstructure:"metricsPort"`
	} `mapstructure:"observability"`
	Broker struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
		Queue   string `mapstructure:"queue"`
	} `mapstructure:"broker"`
}

// envBindings maps config keys to the plain environment variables operators already use.
var envBindings = map[string]string{
	"mode":                           "APP_ENV",
	"server.HTTPPort":                "PORT",
	"repositories.driver":            "DB_DRIVER",
	"repositories.postgres.host":     "DB_HOST",
	"repositories.postgres.port":     "DB_PORT",
	"repositories.postgres.username": "DB_USER",
	"repositories.postgres.password": "DB_PASSWORD",
	"repositories.postgres.db":       "DB_NAME",
	"repositories.sqlite.path":       "SQLITE_PATH",
	"jwt.secretKey":                  "JWT_SECRET",
	"broker.url":                     "AMQP_URL",
}

func InitConfig() (Config, error) {
	var config Config
	v := viper.New()

	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AddConfigPath("/app/config")

	v.SetConfigName("config")
	v.SetConfigType("yml")

	err := v.ReadInConfig()
	if err != nil {
		fmt.Printf("Warning: Failed to find file-based config: %s. Falling back to embedded config.\n", err)
		if err = v.ReadConfig(bytes.NewReader(embeddedConfig)); err != nil {
			return Config{}, fmt.Errorf("failed to read embedded config: %w", err)
		}
	}

	for key, env := range envBindings {
		if err = v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind env %s: %w", env, err)
		}
	}

	if err = v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err = config.Validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

// Validate rejects settings that would make the service insecure or unusable.
// Development defaults are only tolerated outside production mode.
func (c *Config) Validate() error {
	var errs []error

	switch c.Repositories.Driver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown repositories.driver %q", c.Repositories.Driver))
	}

	if c.JWT.SecretKey == "" {
		errs = append(errs, errors.New("jwt.secretKey must be set"))
	}
	if c.JWT.AccessTokenTTL < time.Hour || c.JWT.AccessTokenTTL > 24*time.Hour {
		errs = append(errs, fmt.Errorf("jwt.accessTokenTTL must be between 1h and 24h, got %s", c.JWT.AccessTokenTTL))
	}

	if c.IsProduction() {
		if c.JWT.SecretKey == DevelopmentJWTSecret {
			errs = append(errs, errors.New("development jwt secret cannot be used in production"))
		}
		if c.Repositories.Driver == DriverPostgres && c.Repositories.Postgres.Password == "" {
			errs = append(errs, errors.New("database password must be set in production"))
		}
		if c.Repositories.Driver == DriverMemory {
			errs = append(errs, errors.New("memory driver cannot be used in production"))
		}
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Mode, ModeProduction)
}
