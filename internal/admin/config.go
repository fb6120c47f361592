package admin

import "os"

// Config gates the admin surface per spec (§4.J): full_rebuild only runs in
// development, or in production when the caller presents a matching
// confirmation secret. Loaded the same way internal/policy/config.go reads
// ENVIRONMENT.
type Config struct {
	Environment        string
	ConfirmationSecret string
}

// LoadConfig reads ENVIRONMENT and ADMIN_CONFIRMATION_SECRET from the
// process environment.
func LoadConfig() *Config {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	return &Config{
		Environment:        env,
		ConfirmationSecret: os.Getenv("ADMIN_CONFIRMATION_SECRET"),
	}
}
