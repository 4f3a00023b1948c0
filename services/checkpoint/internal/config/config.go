package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config location; CHECKPOINT_CONFIG overrides it.
var ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                    string   `yaml:"port"`
	APIPrefix               string   `yaml:"apiPrefix"`
	LogLevel                string   `yaml:"logLevel"`
	DatabaseDriver          string   `yaml:"databaseDriver"`
	DatabaseURL             string   `yaml:"databaseURL"`
	RedisAddr               string   `yaml:"redisAddr"`
	RedisPassword           string   `yaml:"redisPassword"`
	TokenBackend            string   `yaml:"tokenBackend"`
	TokenSecret             string   `yaml:"tokenSecret"`
	TokenTTL                string   `yaml:"tokenTTL"`
	RequireAuth             bool     `yaml:"requireAuth"`
	StorageBackend          string   `yaml:"storageBackend"`
	MediaDir                string   `yaml:"mediaDir"`
	PublicBaseURL           string   `yaml:"publicBaseURL"`
	MinioEndpoint           string   `yaml:"minioEndpoint"`
	MinioAccessKey          string   `yaml:"minioAccessKey"`
	MinioSecretKey          string   `yaml:"minioSecretKey"`
	MinioBucket             string   `yaml:"minioBucket"`
	MinioUseSSL             bool     `yaml:"minioUseSSL"`
	MinioPresignExpiry      string   `yaml:"minioPresignExpiry"`
	MaxUploadBytes          int64    `yaml:"maxUploadBytes"`
	EventsBackend           string   `yaml:"eventsBackend"`
	EventsStream            string   `yaml:"eventsStream"`
	AMQPURL                 string   `yaml:"amqpURL"`
	AMQPExchange            string   `yaml:"amqpExchange"`
	// LoginRateLimitPerMinute is nil when unset; 0 or less disables throttling.
	LoginRateLimitPerMinute *int     `yaml:"loginRateLimitPerMinute"`
	TrustedProxyCIDRs       []string `yaml:"trustedProxyCIDRs"`
	CORSAllowedOrigins      []string `yaml:"corsAllowedOrigins"`
}

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"

	TokensDatabase = "database"
	TokensRedis    = "redis"
	TokensJWT      = "jwt"
	TokensMemory   = "memory"

	StorageLocal = "local"
	StorageMinio = "minio"

	EventsNone  = "none"
	EventsRedis = "redis"
	EventsAMQP  = "amqp"

	defaultMaxUploadBytes = 10 << 20
	defaultLoginLimit     = 10
	defaultTokenTTL       = 24 * time.Hour
)

// Load reads config from path (defaults to ConfigPath). A missing file is
// tolerated so a container can be configured from the environment alone.
func Load(path string) (FileConfig, error) {
	_ = godotenv.Load()

	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
		if v := os.Getenv("CHECKPOINT_CONFIG"); v != "" {
			path = v
		}
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return cfg, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	strVars := map[string]*string{
		"PORT":                 &cfg.Port,
		"API_PREFIX":           &cfg.APIPrefix,
		"LOG_LEVEL":            &cfg.LogLevel,
		"DATABASE_DRIVER":      &cfg.DatabaseDriver,
		"DATABASE_URL":         &cfg.DatabaseURL,
		"REDIS_ADDR":           &cfg.RedisAddr,
		"REDIS_PASSWORD":       &cfg.RedisPassword,
		"TOKEN_BACKEND":        &cfg.TokenBackend,
		"TOKEN_SECRET":         &cfg.TokenSecret,
		"TOKEN_TTL":            &cfg.TokenTTL,
		"STORAGE_BACKEND":      &cfg.StorageBackend,
		"MEDIA_DIR":            &cfg.MediaDir,
		"PUBLIC_BASE_URL":      &cfg.PublicBaseURL,
		"MINIO_ENDPOINT":       &cfg.MinioEndpoint,
		"MINIO_ACCESS_KEY":     &cfg.MinioAccessKey,
		"MINIO_SECRET_KEY":     &cfg.MinioSecretKey,
		"MINIO_BUCKET":         &cfg.MinioBucket,
		"MINIO_PRESIGN_EXPIRY": &cfg.MinioPresignExpiry,
		"EVENTS_BACKEND":       &cfg.EventsBackend,
		"EVENTS_STREAM":        &cfg.EventsStream,
		"AMQP_URL":             &cfg.AMQPURL,
		"AMQP_EXCHANGE":        &cfg.AMQPExchange,
	}
	for name, dst := range strVars {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	if v, ok := envBool("MINIO_USE_SSL"); ok {
		cfg.MinioUseSSL = v
	}
	if v, ok := envBool("REQUIRE_AUTH"); ok {
		cfg.RequireAuth = v
	}
	if v := os.Getenv("MAX_UPLOAD_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.MaxUploadBytes = n
		}
	}
	if v := os.Getenv("LOGIN_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LoginRateLimitPerMinute = &n
		}
	}
	if v := os.Getenv("TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		cfg.CORSAllowedOrigins = splitCSV(v)
	}
}

func applyDefaults(cfg *FileConfig) {
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api"
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = DriverPostgres
	}
	if cfg.TokenBackend == "" {
		cfg.TokenBackend = TokensDatabase
	}
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = StorageLocal
	}
	if cfg.StorageBackend == StorageLocal && cfg.MediaDir == "" {
		cfg.MediaDir = "media"
	}
	if cfg.EventsBackend == "" {
		cfg.EventsBackend = EventsNone
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUploadBytes
	}
	if cfg.LoginRateLimitPerMinute == nil {
		limit := defaultLoginLimit
		cfg.LoginRateLimitPerMinute = &limit
	}
	cfg.DatabaseDriver = strings.ToLower(cfg.DatabaseDriver)
	cfg.TokenBackend = strings.ToLower(cfg.TokenBackend)
	cfg.StorageBackend = strings.ToLower(cfg.StorageBackend)
	cfg.EventsBackend = strings.ToLower(cfg.EventsBackend)
}

func validateConfig(cfg FileConfig) error {
	switch cfg.DatabaseDriver {
	case DriverPostgres, DriverSQLite:
		if cfg.DatabaseURL == "" {
			return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("config: unknown databaseDriver %q", cfg.DatabaseDriver)
	}

	switch cfg.TokenBackend {
	case TokensDatabase:
		if cfg.DatabaseDriver == DriverMemory {
			return errors.New("config: tokenBackend database needs a sql databaseDriver")
		}
	case TokensRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for tokenBackend redis")
		}
	case TokensJWT:
		if len(cfg.TokenSecret) < 32 {
			return errors.New("config: tokenSecret must be at least 32 characters for tokenBackend jwt")
		}
	case TokensMemory:
	default:
		return fmt.Errorf("config: unknown tokenBackend %q", cfg.TokenBackend)
	}
	if _, err := parseDuration(cfg.TokenTTL); err != nil {
		return fmt.Errorf("config: tokenTTL: %w", err)
	}

	switch cfg.StorageBackend {
	case StorageLocal:
	case StorageMinio:
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for storageBackend minio")
		}
		if _, err := parseDuration(cfg.MinioPresignExpiry); err != nil {
			return fmt.Errorf("config: minioPresignExpiry: %w", err)
		}
	default:
		return fmt.Errorf("config: unknown storageBackend %q", cfg.StorageBackend)
	}

	switch cfg.EventsBackend {
	case EventsNone:
	case EventsRedis:
		if cfg.RedisAddr == "" {
			return errors.New("config: redisAddr is required for eventsBackend redis")
		}
	case EventsAMQP:
		if cfg.AMQPURL == "" {
			return errors.New("config: amqpURL is required for eventsBackend amqp")
		}
	default:
		return fmt.Errorf("config: unknown eventsBackend %q", cfg.EventsBackend)
	}
	if !strings.HasPrefix(cfg.APIPrefix, "/") {
		return errors.New("config: apiPrefix must start with /")
	}
	return nil
}

// TokenLifetime returns the configured token TTL, 24h when unset.
func (c FileConfig) TokenLifetime() time.Duration {
	d, _ := parseDuration(c.TokenTTL)
	if d <= 0 {
		return defaultTokenTTL
	}
	return d
}

// LoginLimit returns the login attempts allowed per minute per client IP.
func (c FileConfig) LoginLimit() int {
	if c.LoginRateLimitPerMinute == nil {
		return defaultLoginLimit
	}
	return *c.LoginRateLimitPerMinute
}

// PresignExpiry returns 0 when object URLs should be public rather than signed.
func (c FileConfig) PresignExpiry() time.Duration {
	d, _ := parseDuration(c.MinioPresignExpiry)
	return d
}

func parseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, errors.New("must not be negative")
	}
	return d, nil
}

func envBool(name string) (bool, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
