// Package config reads the service configuration from the environment.
//
// Each concern has its own struct with cleanenv env/env-default tags, and
// Config groups them. Load applies an optional .env file through godotenv,
// then cleanenv.ReadEnv. Durations are strings so they can be written either
// as ISO-8601 ("PT20M") or in Go syntax ("20m"); ParseDuration handles both.
//
//	cfg, err := config.Load(".env")
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err // config.ValidationErrors lists every bad field
//	}
//	ttl, _ := cfg.TwoFA.ResetCodeTTLDuration()
//
// Validate only checks the groups the selected backends use, so a memory
// deployment needs no database or Redis settings. The reset code TTL must
// stay between 15 and 30 minutes and SESSION_SECRET must be set.
package config
