package config

import (
	"os"
	"time"
)

// Server captures process-level configuration.
type Server struct {
	Addr        string
	DatabaseURL string
	RedisURL    string
	AdminToken  string
	LogLevel    string
}

// HouseholdingLockTTL bounds how long a clustering run may hold the exclusive
// run lock before it is considered abandoned.
var HouseholdingLockTTL = 10 * time.Minute

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	addr := os.Getenv("HEARTH_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		// Development default - must be overridden in production.
		adminToken = "dev-admin-token"
	}

	return Server{
		Addr:        addr,
		DatabaseURL: os.Getenv("DATABASE_URL"),
		RedisURL:    os.Getenv("REDIS_URL"),
		AdminToken:  adminToken,
		LogLevel:    os.Getenv("LOG_LEVEL"),
	}
}
