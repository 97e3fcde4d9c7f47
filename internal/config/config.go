// Package config loads application configuration from environment variables.
// A .env file in the working directory, when present, is read first; values
// already set in the environment win.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.
type Config struct {
	Env             string // application environment (dev, test, prod)
	Port            string // HTTP port to listen on
	LogLevel        string // zerolog level name
	DBUser          string
	DBPass          string // may be empty
	DBHost          string
	DBPort          string
	DBName          string
	JWTSecret       string // secret used to sign JWTs
	AccessTTLMin    int    // access token time-to-live in minutes
	RefreshTTLDays  int    // refresh token time-to-live in days
	BcryptCost      int    // bcrypt cost for password hashing
	RabbitURL       string // AMQP broker url for occupancy events
	EventsEnabled   bool   // publish occupancy events after each mutation
	OccupancyLogDir string // directory the consume command writes occupancy.log to

	RateLimit RateLimitConfig
	Cache     CacheConfig
}

// Load reads .env (if any) and the environment.  Every missing or malformed
// required variable is reported in the returned error.
func Load() (Config, error) {
	_ = godotenv.Load()

	var l loader
	cfg := Config{
		Env:             l.must("APP_ENV"),
		Port:            l.must("APP_PORT"),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		DBUser:          l.must("DB_USER"),
		DBPass:          os.Getenv("DB_PASS"),
		DBHost:          l.must("DB_HOST"),
		DBPort:          l.must("DB_PORT"),
		DBName:          l.must("DB_NAME"),
		JWTSecret:       l.must("JWT_SECRET"),
		AccessTTLMin:    l.mustInt("ACCESS_TOKEN_TTL_MIN"),
		RefreshTTLDays:  l.mustInt("REFRESH_TOKEN_TTL_DAYS"),
		BcryptCost:      l.mustInt("BCRYPT_COST"),
		RabbitURL:       rabbitURL(),
		EventsEnabled:   envBool("EVENTS_ENABLED", true),
		OccupancyLogDir: getenv("OCCUPANCY_LOG_DIR", "logs"),
		RateLimit:       LoadRateLimitConfig(),
		Cache:           LoadCacheConfig(),
	}
	return cfg, errors.Join(l.errs...)
}

// LoadDatabase reads only the variables needed to reach MySQL.  The migrate
// command uses it so schema changes do not require the full API config.
func LoadDatabase() (Config, error) {
	_ = godotenv.Load()

	var l loader
	cfg := Config{
		Env:      getenv("APP_ENV", "dev"),
		LogLevel: getenv("LOG_LEVEL", "info"),
		DBUser:   l.must("DB_USER"),
		DBPass:   os.Getenv("DB_PASS"),
		DBHost:   l.must("DB_HOST"),
		DBPort:   l.must("DB_PORT"),
		DBName:   l.must("DB_NAME"),
	}
	return cfg, errors.Join(l.errs...)
}

// IsDev reports whether the service runs in a development environment.
func (c Config) IsDev() bool { return c.Env == "dev" || c.Env == "development" }

func rabbitURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

type loader struct{ errs []error }

// must retrieves the value of a required environment variable.
func (l *loader) must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		l.errs = append(l.errs, fmt.Errorf("missing required env var: %s", key))
	}
	return v
}

// mustInt is like must() but converts the retrieved string into an integer.
func (l *loader) mustInt(key string) int {
	s := l.must(key)
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("invalid int for %s: %q", key, s))
	}
	return n
}
