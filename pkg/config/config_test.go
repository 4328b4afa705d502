package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"PT20M", 20 * time.Minute},
		{"pt15m", 15 * time.Minute},
		{"PT1H30M", 90 * time.Minute},
		{"20m", 20 * time.Minute},
		{" 10s ", 10 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDuration(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	for _, bad := range []string{"", "PTXM", "twenty"} {
		_, err := ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.PersistenceType)
	assert.Equal(t, "memory", cfg.PendingLoginStore)
	assert.Equal(t, "simple-twofa", cfg.TwoFA.Issuer)
	assert.Equal(t, 10, cfg.TwoFA.BackupCodeCount)
	assert.Equal(t, 2, cfg.TwoFA.BackupLowThreshold)
	assert.Equal(t, "/2fa/setup", cfg.TwoFA.SetupPath)
	assert.Empty(t, cfg.TwoFA.AllowPaths)
	assert.True(t, cfg.Session.CookieSecure)

	ttl, err := cfg.TwoFA.ResetCodeTTLDuration()
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, ttl)

	pending, err := cfg.TwoFA.PendingLoginTTLDuration()
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, pending)

	assert.Equal(t, 10*time.Second, cfg.Email.ToSMTPConfig().Timeout)
	queryTimeout, err := cfg.QueryTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, queryTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte(
		"TWOFA_ISSUER=Example Corp\nTWOFA_ALLOW_PATHS=/login,/assets/\nPERSISTENCE_TYPE=memory\n",
	), 0o600))
	t.Setenv("SESSION_SECRET", testSecret)
	// already set variables win over the file
	t.Setenv("PERSISTENCE_TYPE", "file")
	t.Cleanup(func() {
		os.Unsetenv("TWOFA_ISSUER")
		os.Unsetenv("TWOFA_ALLOW_PATHS")
	})

	cfg, err := Load(envFile, filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	assert.Equal(t, "Example Corp", cfg.TwoFA.Issuer)
	assert.Equal(t, []string{"/login", "/assets/"}, cfg.TwoFA.AllowPaths)
	assert.Equal(t, "file", cfg.PersistenceType)
}

func TestValidate(t *testing.T) {
	base := func(t *testing.T) Config {
		t.Setenv("SESSION_SECRET", testSecret)
		t.Setenv("PERSISTENCE_TYPE", "memory")
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing session secret", func(c *Config) { c.Session.Secret = "" }, "SESSION_SECRET"},
		{"short session secret", func(c *Config) { c.Session.Secret = "short" }, "SESSION_SECRET"},
		{"reset ttl too short", func(c *Config) { c.TwoFA.ResetCodeTTL = "PT14M" }, "TWOFA_RESET_CODE_TTL"},
		{"reset ttl too long", func(c *Config) { c.TwoFA.ResetCodeTTL = "31m" }, "TWOFA_RESET_CODE_TTL"},
		{"reset ttl garbage", func(c *Config) { c.TwoFA.ResetCodeTTL = "soon" }, "TWOFA_RESET_CODE_TTL"},
		{"threshold above count", func(c *Config) { c.TwoFA.BackupLowThreshold = 11 }, "TWOFA_BACKUP_CODE_LOW_THRESHOLD"},
		{"relative setup path", func(c *Config) { c.TwoFA.SetupPath = "2fa/setup" }, "TWOFA_SETUP_PATH"},
		{"unknown persistence", func(c *Config) { c.PersistenceType = "sqlite" }, "PERSISTENCE_TYPE"},
		{"unknown hash", func(c *Config) { c.PasswordHashAlgorithm = "md5" }, "PASSWORD_HASH_ALGORITHM"},
		{"postgres needs host", func(c *Config) { c.PersistenceType = "postgres"; c.Database.Host = "" }, "TWOFA_PG_HOST"},
		{"redis needs addr", func(c *Config) { c.PendingLoginStore = "redis"; c.Redis.Addr = "" }, "REDIS_ADDR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base(t)
			require.NoError(t, cfg.Validate())
			tt.mutate(&cfg)

			err := cfg.Validate()
			require.Error(t, err)
			var verrs ValidationErrors
			require.True(t, errors.As(err, &verrs))
			fields := make([]string, 0, len(verrs))
			for _, v := range verrs {
				fields = append(fields, v.Field)
			}
			assert.Contains(t, fields, tt.field)
		})
	}

	t.Run("reset ttl bounds are inclusive", func(t *testing.T) {
		cfg := base(t)
		for _, ttl := range []string{"PT15M", "PT30M"} {
			cfg.TwoFA.ResetCodeTTL = ttl
			assert.NoError(t, cfg.Validate(), ttl)
		}
	})
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, "DEBUG", Config{LogLevel: "debug"}.SlogLevel().String())
	assert.Equal(t, "INFO", Config{LogLevel: "nonsense"}.SlogLevel().String())
}

func TestDatabaseURL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5433, Database: "twofa", User: "u", Password: "p@ss", Schema: "auth", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p%40ss@db:5433/twofa?search_path=auth%2Cpublic&sslmode=disable", d.ToDatabaseURL())
}
