// Package config loads application configuration from environment variables.
package config

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Upstream connection.
	UpstreamBaseURL  string
	ServicePrincipal string
	ServiceSecret    string
	// SecretKey is the 32-byte AES-256 key protecting stored caller secrets,
	// hex-encoded in VEGGW_SECRET_KEY. Nil disables credential storage.
	SecretKey        []byte
	ConnectTimeout   time.Duration
	RequestTimeout   time.Duration
	MaxRetries       int
	UpstreamTimeZone string

	// Scope defaults.
	DefaultRegions []string
	PlannerRegions []string
	Organizations  []string
	GroupRegionMap map[string][]string

	// Snapshot refresh schedule (cron expression; empty disables the scheduler).
	RefreshSchedule string
	RefreshOps      []string

	ListenAddr string

	// Database.
	DBDriver string // "sqlite" or "postgres"
	DBPath   string // sqlite file path
	DBDSN    string // postgres DSN
}

// defaultGroupRegionMap is used when VEGGW_GROUP_REGION_MAP is not set. It maps
// upstream security-group names (domain prefix already stripped) to the region
// codes their members may query.
var defaultGroupRegionMap = map[string][]string{
	"VEG_PLANNERS":    {"CENTRAL", "HARRISBURG"},
	"VEG_SUPERVISORS": {"CENTRAL", "HARRISBURG", "LANCASTER", "LEHIGH"},
	"VEG_ADMINS":      {"CENTRAL", "HARRISBURG", "LANCASTER", "LEHIGH", "SCRANTON"},
}

// HasServiceCredential reports whether the shared service account is
// configured. Callers without stored credentials cannot reach the upstream
// unless it is.
func (c *Config) HasServiceCredential() bool {
	return c.ServicePrincipal != "" && c.ServiceSecret != ""
}

// Load reads configuration from environment variables and returns a validated
// Config. A .env file in the working directory is loaded first when present.
// Required: VEGGW_UPSTREAM_BASE_URL. Everything else carries defaults suited
// to local development.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		UpstreamBaseURL:  os.Getenv("VEGGW_UPSTREAM_BASE_URL"),
		ServicePrincipal: os.Getenv("VEGGW_SERVICE_PRINCIPAL"),
		ServiceSecret:    os.Getenv("VEGGW_SERVICE_SECRET"),
		ConnectTimeout:   getDuration("VEGGW_CONNECT_TIMEOUT", 5*time.Second),
		RequestTimeout:   getDuration("VEGGW_REQUEST_TIMEOUT", 60*time.Second),
		MaxRetries:       getInt("VEGGW_MAX_RETRIES", 5),
		UpstreamTimeZone: getString("VEGGW_UPSTREAM_TZ", "Eastern Standard Time"),
		DefaultRegions:   getList("VEGGW_DEFAULT_REGIONS", []string{"CENTRAL", "HARRISBURG", "LANCASTER", "LEHIGH", "SCRANTON"}),
		PlannerRegions:   getList("VEGGW_PLANNER_REGIONS", []string{"CENTRAL"}),
		Organizations:    getList("VEGGW_ORGANIZATIONS", []string{"Asplundh"}),
		RefreshSchedule:  os.Getenv("VEGGW_REFRESH_SCHEDULE"),
		RefreshOps:       getList("VEGGW_REFRESH_OPS", []string{"system_metrics", "regional_metrics"}),
		ListenAddr:       getString("VEGGW_LISTEN_ADDR", "127.0.0.1:8080"),
		DBDriver:         getString("VEGGW_DB_DRIVER", "sqlite"),
		DBPath:           getString("VEGGW_DB_PATH", "veggateway.db"),
		DBDSN:            os.Getenv("VEGGW_DB_DSN"),
	}

	groupMap, err := getGroupMap("VEGGW_GROUP_REGION_MAP")
	if err != nil {
		return nil, err
	}
	cfg.GroupRegionMap = groupMap

	key, err := getSecretKey("VEGGW_SECRET_KEY")
	if err != nil {
		return nil, err
	}
	cfg.SecretKey = key

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.UpstreamBaseURL == "" {
		return fmt.Errorf("VEGGW_UPSTREAM_BASE_URL is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("VEGGW_MAX_RETRIES must be >= 0, got %d", c.MaxRetries)
	}
	if c.DBDriver != "sqlite" && c.DBDriver != "postgres" {
		return fmt.Errorf("unsupported database driver %q", c.DBDriver)
	}
	if c.DBDriver == "postgres" && c.DBDSN == "" {
		return fmt.Errorf("VEGGW_DB_DSN is required when VEGGW_DB_DRIVER=postgres")
	}
	if len(c.Organizations) == 0 {
		return fmt.Errorf("VEGGW_ORGANIZATIONS must not be empty")
	}
	if len(c.DefaultRegions) == 0 {
		return fmt.Errorf("VEGGW_DEFAULT_REGIONS must not be empty")
	}
	return nil
}

func getString(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

// getList parses a comma-separated environment variable into a slice,
// trimming whitespace and dropping empty entries.
func getList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}

	var out []string
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if out == nil {
		return fallback
	}
	return out
}

// getSecretKey decodes a hex-encoded AES-256 key. Unset means credential
// storage is disabled; a set but malformed key is a configuration error, not
// something to silently ignore.
func getSecretKey(key string) ([]byte, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil, nil
	}

	decoded, err := hex.DecodeString(v)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid hex: %w", key, err)
	}
	if len(decoded) != 32 {
		return nil, fmt.Errorf("%s must decode to 32 bytes, got %d", key, len(decoded))
	}
	return decoded, nil
}

// getGroupMap parses a JSON object of group name to region codes, e.g.
// {"VEG_PLANNERS":["CENTRAL","HARRISBURG"]}. Falls back to the built-in map
// when unset.
func getGroupMap(key string) (map[string][]string, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultGroupRegionMap, nil
	}

	var m map[string][]string
	if err := json.Unmarshal([]byte(v), &m); err != nil {
		return nil, fmt.Errorf("%s has invalid JSON: %w", key, err)
	}
	return m, nil
}
