// README: Config loader: .env file, then environment, then command-line flags.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

type MatchingConfig struct {
	DefaultRadiusKm float64
	// ClaimAttempts bounds how many candidates dispatch tries before giving up.
	ClaimAttempts int
	// Index selects the spatial index: "none", "grid" or "redis".
	Index       string
	GridCellDeg float64
}

type PresenceConfig struct {
	Retention      time.Duration
	ReaperInterval time.Duration
	// PingRate is the sustained presence updates per second allowed per worker.
	PingRate  float64
	PingBurst int
}

type RoutesConfig struct {
	TTL        time.Duration
	MapsAPIKey string
}

type Config struct {
	HTTP struct {
		Addr string
	}
	// Store selects the realtime backend: "firebase", "redis" or "memory".
	Store    string
	Firebase struct {
		DatabaseURL     string
		CredentialsFile string
		ProjectID       string
	}
	Redis struct {
		Addr string
	}
	DB struct {
		DSN string
	}
	AMQP struct {
		URL      string
		Exchange string
	}
	Log struct {
		Level  string
		Format string
	}
	Matching MatchingConfig
	Presence PresenceConfig
	Routes   RoutesConfig
}

// Load reads configuration in order: .env (if present) → environment → flags.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(".env"); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: .env not loaded: %v", err)
	}

	var cfg Config
	cfg.HTTP.Addr = envOrDefault("FLEETLOC_HTTP_ADDR", ":8080")
	cfg.Store = envOrDefault("FLEETLOC_STORE", "firebase")
	cfg.Firebase.DatabaseURL = os.Getenv("FLEETLOC_FIREBASE_DATABASE_URL")
	cfg.Firebase.CredentialsFile = os.Getenv("FLEETLOC_FIREBASE_CREDENTIALS_FILE")
	cfg.Firebase.ProjectID = os.Getenv("FLEETLOC_FIREBASE_PROJECT_ID")
	cfg.Redis.Addr = envOrDefault("FLEETLOC_REDIS_ADDR", "localhost:6379")
	cfg.DB.DSN = os.Getenv("FLEETLOC_DB_DSN")
	cfg.AMQP.URL = os.Getenv("FLEETLOC_AMQP_URL")
	cfg.AMQP.Exchange = envOrDefault("FLEETLOC_AMQP_EXCHANGE", "delivery_topic")
	cfg.Log.Level = envOrDefault("FLEETLOC_LOG_LEVEL", "info")
	cfg.Log.Format = envOrDefault("FLEETLOC_LOG_FORMAT", "json")

	cfg.Matching.DefaultRadiusKm = envOrDefaultFloat("FLEETLOC_MATCH_RADIUS_KM", 50)
	cfg.Matching.ClaimAttempts = envOrDefaultInt("FLEETLOC_MATCH_CLAIM_ATTEMPTS", 5)
	cfg.Matching.Index = envOrDefault("FLEETLOC_MATCH_INDEX", "none")
	cfg.Matching.GridCellDeg = envOrDefaultFloat("FLEETLOC_MATCH_GRID_CELL_DEG", 0.01)

	cfg.Presence.Retention = envOrDefaultDuration("FLEETLOC_PRESENCE_RETENTION", 24*time.Hour)
	cfg.Presence.ReaperInterval = envOrDefaultDuration("FLEETLOC_REAPER_INTERVAL", 10*time.Minute)
	cfg.Presence.PingRate = envOrDefaultFloat("FLEETLOC_PING_RATE", 1)
	cfg.Presence.PingBurst = envOrDefaultInt("FLEETLOC_PING_BURST", 5)

	cfg.Routes.TTL = envOrDefaultDuration("FLEETLOC_ROUTE_TTL", 7*24*time.Hour)
	cfg.Routes.MapsAPIKey = os.Getenv("FLEETLOC_MAPS_API_KEY")

	fs := pflag.NewFlagSet("fleetloc", pflag.ContinueOnError)
	fs.StringVarP(&cfg.HTTP.Addr, "addr", "a", cfg.HTTP.Addr, "HTTP listen address")
	fs.StringVar(&cfg.Store, "store", cfg.Store, "realtime store backend (firebase|redis|memory)")
	fs.StringVar(&cfg.Matching.Index, "index", cfg.Matching.Index, "spatial index (none|grid|redis)")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "log level (debug|info|warn|error)")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	switch c.Store {
	case "firebase":
		if c.Firebase.DatabaseURL == "" {
			return fmt.Errorf("FLEETLOC_FIREBASE_DATABASE_URL is required for the firebase store")
		}
	case "redis", "memory":
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	switch c.Matching.Index {
	case "none", "grid", "redis":
	default:
		return fmt.Errorf("unknown spatial index %q", c.Matching.Index)
	}
	if c.Matching.DefaultRadiusKm <= 0 {
		return fmt.Errorf("invalid match radius: %v", c.Matching.DefaultRadiusKm)
	}
	if c.Matching.ClaimAttempts <= 0 {
		return fmt.Errorf("invalid claim attempts: %d", c.Matching.ClaimAttempts)
	}
	if c.Presence.ReaperInterval <= 0 || c.Presence.Retention <= 0 {
		return fmt.Errorf("presence retention and reaper interval must be positive")
	}
	return nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
