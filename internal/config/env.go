package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// ApplyEnvOverrides layers environment variables over the parsed config.
// A .env file in the working directory is honored if present.
//
// Secrets (the Postgres DSN, the Redis password) should come from the
// environment rather than the YAML file.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	_ = godotenv.Load()

	if v := getenv("POSTGRES_DSN"); v != "" {
		cfg.Postgres.DSN = v
	}
	if v := getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
}

func getenv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}
