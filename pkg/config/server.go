package config

import "time"

// ServerConfig holds the HTTP listener settings
type ServerConfig struct {
	Addr            string   `env:"HTTP_ADDR" env-default:":4000"`
	AllowedOrigins  []string `env:"CORS_ALLOWED_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`
	ReadTimeout     string   `env:"HTTP_READ_TIMEOUT" env-default:"PT15S"`
	WriteTimeout    string   `env:"HTTP_WRITE_TIMEOUT" env-default:"PT15S"`
	RequestTimeout  string   `env:"HTTP_REQUEST_TIMEOUT" env-default:"PT30S"`
	ShutdownTimeout string   `env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"PT20S"`
}

// Timeouts returns the parsed read, write, request and shutdown timeouts.
// Call Validate first; unparsable values come back as zero.
func (s ServerConfig) Timeouts() (read, write, request, shutdown time.Duration) {
	read, _ = ParseDuration(s.ReadTimeout)
	write, _ = ParseDuration(s.WriteTimeout)
	request, _ = ParseDuration(s.RequestTimeout)
	shutdown, _ = ParseDuration(s.ShutdownTimeout)
	return read, write, request, shutdown
}

func (s ServerConfig) validate() ValidationErrors {
	return CollectErrors(
		RequireNonEmpty("HTTP_ADDR", s.Addr),
		requireDuration("HTTP_READ_TIMEOUT", s.ReadTimeout, time.Second, 0),
		requireDuration("HTTP_WRITE_TIMEOUT", s.WriteTimeout, time.Second, 0),
		requireDuration("HTTP_REQUEST_TIMEOUT", s.RequestTimeout, time.Second, 0),
		requireDuration("HTTP_SHUTDOWN_TIMEOUT", s.ShutdownTimeout, time.Second, 0),
	)
}
