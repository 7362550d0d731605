// Package config loads service settings from a .env file, the environment
// and an optional YAML roster.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"riderdispatch/internal/fleet"
	"riderdispatch/internal/model"
)

type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	RosterPath  string

	Depot            model.GeoPoint
	TickInterval     time.Duration
	ReleaseThreshold time.Duration
	MaxBatchSize     int
	MaxClusterSize   int
	Estimator        fleet.Estimator
	// BatchBufferSet is false when BATCH_TIME_BUFFER fell back to its default.
	BatchBufferSet bool

	RateRPS   float64
	RateBurst int

	AuthMode       string // none | dev | hmac
	AuthHMACSecret string

	WebhookMaxAttempts int

	Roster Roster
}

// Load reads .env (if present) and then the environment. A roster file named
// by ROSTER_PATH is loaded too; its depot wins over DEPOT_LAT/DEPOT_LNG.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load .env: %w", err)
		}
		log.Println("No .env file found, using environment")
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	var errs []error
	envErr := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	def := fleet.DefaultEstimator()
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RosterPath:     os.Getenv("ROSTER_PATH"),
		AuthMode:       strings.ToLower(getEnv("AUTH_MODE", "dev")),
		AuthHMACSecret: os.Getenv("AUTH_HMAC_SECRET"),
	}

	var err error
	cfg.TickInterval, err = getEnvDuration("TICK_INTERVAL", time.Minute)
	envErr(err)
	cfg.ReleaseThreshold, err = getEnvDuration("RELEASE_THRESHOLD", fleet.DefaultReleaseThreshold)
	envErr(err)
	cfg.MaxBatchSize, err = getEnvInt("MAX_BATCH_SIZE", 3)
	envErr(err)
	cfg.MaxClusterSize, err = getEnvInt("MAX_CLUSTER_SIZE", 5)
	envErr(err)
	cfg.RateRPS, err = getEnvFloat("RATE_RPS", 20)
	envErr(err)
	cfg.RateBurst, err = getEnvInt("RATE_BURST", 40)
	envErr(err)
	cfg.WebhookMaxAttempts, err = getEnvInt("WEBHOOK_MAX_ATTEMPTS", 10)
	envErr(err)

	cfg.Estimator = def
	cfg.Estimator.AverageSpeedKmh, err = getEnvFloat("AVERAGE_SPEED_KMH", def.AverageSpeedKmh)
	envErr(err)
	cfg.Estimator.MinutesPerKm, err = getEnvFloat("MINUTES_PER_KM", def.MinutesPerKm)
	envErr(err)
	cfg.Estimator.SingleBuffer, err = getEnvFloat("SINGLE_TIME_BUFFER", def.SingleBuffer)
	envErr(err)
	_, cfg.BatchBufferSet = os.LookupEnv("BATCH_TIME_BUFFER")
	cfg.Estimator.BatchBuffer, err = getEnvFloat("BATCH_TIME_BUFFER", def.BatchBuffer)
	envErr(err)

	lat, latErr := getEnvFloat("DEPOT_LAT", 0)
	lng, lngErr := getEnvFloat("DEPOT_LNG", 0)
	envErr(latErr)
	envErr(lngErr)
	_, hasLat := os.LookupEnv("DEPOT_LAT")
	_, hasLng := os.LookupEnv("DEPOT_LNG")
	depotSet := hasLat && hasLng
	cfg.Depot = model.GeoPoint{Lat: lat, Lng: lng}

	if cfg.RosterPath != "" {
		r, err := LoadRoster(cfg.RosterPath)
		if err != nil {
			errs = append(errs, err)
		} else {
			cfg.Roster = r
			if r.Depot != nil {
				cfg.Depot, depotSet = *r.Depot, true
			}
		}
	}

	if !depotSet {
		errs = append(errs, errors.New("depot location is required: set DEPOT_LAT and DEPOT_LNG or a depot in the roster file"))
	}
	errs = append(errs, cfg.validate()...)
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func (c *Config) validate() []error {
	var errs []error
	if c.Depot.Lat < -90 || c.Depot.Lat > 90 || c.Depot.Lng < -180 || c.Depot.Lng > 180 {
		errs = append(errs, fmt.Errorf("depot %v is out of range", c.Depot))
	}
	if c.MaxBatchSize < 1 || c.MaxClusterSize < 1 {
		errs = append(errs, errors.New("MAX_BATCH_SIZE and MAX_CLUSTER_SIZE must be positive"))
	}
	if c.Estimator.AverageSpeedKmh <= 0 {
		errs = append(errs, errors.New("AVERAGE_SPEED_KMH must be positive"))
	}
	if c.Estimator.SingleBuffer < 1 || c.Estimator.BatchBuffer < 1 {
		errs = append(errs, errors.New("time buffers must be at least 1"))
	}
	if c.TickInterval <= 0 || c.ReleaseThreshold <= 0 {
		errs = append(errs, errors.New("TICK_INTERVAL and RELEASE_THRESHOLD must be positive"))
	}
	switch c.AuthMode {
	case "none", "dev":
	case "hmac":
		if c.AuthHMACSecret == "" {
			errs = append(errs, errors.New("AUTH_HMAC_SECRET is required when AUTH_MODE=hmac"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUTH_MODE %q", c.AuthMode))
	}
	return errs
}

// LogWarnings reports settings that are running on a questionable default.
func (c *Config) LogWarnings() {
	if !c.BatchBufferSet {
		log.Printf("config warning: BATCH_TIME_BUFFER not set; using %.2f for batch trip estimates", c.Estimator.BatchBuffer)
	}
	if c.AuthMode == "none" {
		log.Printf("config warning: AUTH_MODE=none; mutating endpoints are unauthenticated")
	}
}

// String masks secrets.
func (c *Config) String() string {
	return fmt.Sprintf("Config{port=%s depot=%.5f,%.5f postgres=%t redis=%t tick=%s release=%s auth=%s}",
		c.Port, c.Depot.Lat, c.Depot.Lng, c.DatabaseURL != "", c.RedisURL != "", c.TickInterval, c.ReleaseThreshold, c.AuthMode)
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		n, err := strconv.Atoi(value)
		if err != nil {
			return defaultVal, fmt.Errorf("invalid integer for %s: %w", key, err)
		}
		return n, nil
	}
	return defaultVal, nil
}

func getEnvFloat(key string, defaultVal float64) (float64, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return defaultVal, fmt.Errorf("invalid number for %s: %w", key, err)
		}
		return f, nil
	}
	return defaultVal, nil
}

func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		d, err := time.ParseDuration(value)
		if err != nil {
			return defaultVal, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		return d, nil
	}
	return defaultVal, nil
}
