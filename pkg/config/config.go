package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config is the full service configuration, read from the environment
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Email    EmailConfig
	Session  SessionConfig
	TwoFA    TwoFAConfig

	PersistenceType       string `env:"PERSISTENCE_TYPE" env-default:"postgres"`
	DataDir               string `env:"TWOFA_DATA_DIR" env-default:"data"`
	PendingLoginStore     string `env:"PENDING_LOGIN_STORE" env-default:"memory"`
	PasswordHashAlgorithm string `env:"PASSWORD_HASH_ALGORITHM" env-default:"bcrypt"`

	// QueryTimeout bounds each account store call
	QueryTimeout string `env:"DB_QUERY_TIMEOUT" env-default:"PT5S"`

	LogFormat string `env:"LOG_FORMAT" env-default:"text"`
	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
}

// Load reads the optional env files, then the environment. Variables already
// set in the environment win over the files.
func Load(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
		slog.Info("Loaded environment file", "path", file)
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return cfg, nil
}

// Validate checks every group the selected backends need
func (c Config) Validate() error {
	validators := []Validator{
		c.Server.validate,
		c.Session.validate,
		c.TwoFA.validate,
		c.Email.validate,
		func() ValidationErrors {
			return CollectErrors(
				RequireOneOf("PERSISTENCE_TYPE", c.PersistenceType, []string{"postgres", "file", "memory"}),
				RequireOneOf("PENDING_LOGIN_STORE", c.PendingLoginStore, []string{"redis", "memory"}),
				RequireOneOf("PASSWORD_HASH_ALGORITHM", strings.ToLower(c.PasswordHashAlgorithm), []string{"bcrypt", "argon2id"}),
				RequireOneOf("LOG_FORMAT", c.LogFormat, []string{"text", "json"}),
				requireDuration("DB_QUERY_TIMEOUT", c.QueryTimeout, 100*time.Millisecond, time.Minute),
			)
		},
	}
	switch c.PersistenceType {
	case "postgres":
		validators = append(validators, c.Database.validate)
	case "file":
		validators = append(validators, func() ValidationErrors {
			return CollectErrors(RequireNonEmpty("TWOFA_DATA_DIR", c.DataDir))
		})
	}
	if c.PendingLoginStore == "redis" {
		validators = append(validators, func() ValidationErrors {
			return CollectErrors(RequireNonEmpty("REDIS_ADDR", c.Redis.Addr))
		})
	}
	return Validate(validators...)
}

// QueryTimeoutDuration returns the parsed DB_QUERY_TIMEOUT
func (c Config) QueryTimeoutDuration() (time.Duration, error) {
	return ParseDuration(c.QueryTimeout)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info
func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}
