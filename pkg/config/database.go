package config

import (
	"fmt"
	"net/url"
)

// DatabaseConfig holds PostgreSQL connection settings, used when
// PERSISTENCE_TYPE=postgres
type DatabaseConfig struct {
	Host     string `env:"TWOFA_PG_HOST" env-default:"localhost"`
	Port     uint16 `env:"TWOFA_PG_PORT" env-default:"5432"`
	Database string `env:"TWOFA_PG_DATABASE" env-default:"twofa_db"`
	User     string `env:"TWOFA_PG_USER" env-default:"twofa"`
	Password string `env:"TWOFA_PG_PASSWORD" env-default:"pwd"`
	Schema   string `env:"TWOFA_PG_SCHEMA" env-default:"public"`
	SSLMode  string `env:"TWOFA_PG_SSLMODE" env-default:"disable"`
}

// ToDatabaseURL converts the config to a PostgreSQL connection URL
func (d DatabaseConfig) ToDatabaseURL() string {
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   fmt.Sprintf("%s:%d", d.Host, d.Port),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	q.Set("sslmode", d.SSLMode)
	q.Set("search_path", d.Schema+",public")
	u.RawQuery = q.Encode()
	return u.String()
}

func (d DatabaseConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireNonEmpty("TWOFA_PG_HOST", d.Host),
		RequireNonEmpty("TWOFA_PG_DATABASE", d.Database),
		RequireValidPort("TWOFA_PG_PORT", d.Port),
	)
}

// RedisConfig points at the Redis server holding pending logins, used TOTP
// steps and revoked sessions when PENDING_LOGIN_STORE=redis
type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" env-default:"0"`
}
