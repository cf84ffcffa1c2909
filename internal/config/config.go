package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Admission store backends
const (
	AdmissionStoreMemory   = "memory"
	AdmissionStorePostgres = "postgres"
	AdmissionStoreRedis    = "redis"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	Admission AdmissionConfig
	Redis     RedisConfig
	MFA       MFAConfig
	Google    GoogleConfig
	Email     EmailConfig
	Audit     AuditConfig
	Bootstrap BootstrapConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AutoMigrate       bool
}

type ServerConfig struct {
	Host           string
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret           string
	JWTIssuer           string
	JWTAudience         string
	SessionTTL          time.Duration
	ChallengeTTL        time.Duration
	RateLimitPerMinute  int
	TimingBaseDelayMs   int
	TimingRandomDelayMs int
}

// BackoffStep locks a client out for Lockout once it reaches MinFailures.
type BackoffStep struct {
	MinFailures int
	Lockout     time.Duration
}

type AdmissionConfig struct {
	Store            string
	IdleWindow       time.Duration
	Steps            []BackoffStep
	StoreTimeout     time.Duration
	MemoryMaxEntries int
	SweepInterval    time.Duration
}

type RedisConfig struct {
	URL       string
	KeyPrefix string
}

type MFAConfig struct {
	Issuer          string
	EncryptionKey   []byte
	EnforceOnHashed bool
}

type GoogleConfig struct {
	ClientID string
}

// Simulated reports whether delegated logins skip ID-token verification.
func (g GoogleConfig) Simulated() bool {
	return g.ClientID == ""
}

type EmailConfig struct {
	AWSRegion   string
	FromAddress string
}

// Enabled reports whether SES delivery is configured.
func (e EmailConfig) Enabled() bool {
	return e.AWSRegion != "" && e.FromAddress != ""
}

type AuditConfig struct {
	RetentionDays int
}

type BootstrapConfig struct {
	AdminUsername string
	AdminEmail    string
	AdminPassword string
}

// DefaultBackoffSteps is 3:30s, 5:1m, 10:5m, 20:15m.
func DefaultBackoffSteps() []BackoffStep {
	return []BackoffStep{
		{MinFailures: 3, Lockout: 30 * time.Second},
		{MinFailures: 5, Lockout: time.Minute},
		{MinFailures: 10, Lockout: 5 * time.Minute},
		{MinFailures: 20, Lockout: 15 * time.Minute},
	}
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	steps := DefaultBackoffSteps()
	if raw := os.Getenv("ADMISSION_STEPS"); raw != "" {
		parsed, err := ParseBackoffSteps(raw)
		if err != nil {
			return nil, fmt.Errorf("ADMISSION_STEPS: %w", err)
		}
		steps = parsed
	}

	mfaKey, err := parseEncryptionKey(getEnv("MFA_ENCRYPTION_KEY", ""))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "garage"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			AutoMigrate:       getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", ""),
			Port:           getEnv("SERVER_PORT", getEnv("PORT", "8080")),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:           jwtSecret,
			JWTIssuer:           getEnv("JWT_ISSUER", "garage-api"),
			JWTAudience:         getEnv("JWT_AUDIENCE", "garage-app"),
			SessionTTL:          getEnvAsDuration("SESSION_TTL", 2*time.Minute),
			ChallengeTTL:        getEnvAsDuration("CHALLENGE_TTL", 5*time.Minute),
			RateLimitPerMinute:  getEnvAsInt("AUTH_RATE_LIMIT_PER_MINUTE", 20),
			TimingBaseDelayMs:   getEnvAsInt("TIMING_BASE_DELAY_MS", 100),
			TimingRandomDelayMs: getEnvAsInt("TIMING_RANDOM_DELAY_MS", 50),
		},
		Admission: AdmissionConfig{
			Store:            strings.ToLower(getEnv("ADMISSION_STORE", AdmissionStorePostgres)),
			IdleWindow:       getEnvAsDuration("ADMISSION_IDLE_WINDOW", 15*time.Minute),
			Steps:            steps,
			StoreTimeout:     getEnvAsDuration("ADMISSION_STORE_TIMEOUT", 500*time.Millisecond),
			MemoryMaxEntries: getEnvAsInt("ADMISSION_MEMORY_MAX_ENTRIES", 10000),
			SweepInterval:    getEnvAsDuration("ADMISSION_SWEEP_INTERVAL", time.Minute),
		},
		Redis: RedisConfig{
			URL:       getEnv("REDIS_URL", ""),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", "garage:admission:"),
		},
		MFA: MFAConfig{
			Issuer:          getEnv("MFA_ISSUER", "Garage"),
			EncryptionKey:   mfaKey,
			EnforceOnHashed: getEnvAsBool("MFA_ENFORCE_ON_HASHED", true),
		},
		Google: GoogleConfig{
			ClientID: getEnv("GOOGLE_CLIENT_ID", ""),
		},
		Email: EmailConfig{
			AWSRegion:   getEnv("AWS_REGION", ""),
			FromAddress: getEnv("EMAIL_FROM", ""),
		},
		Audit: AuditConfig{
			RetentionDays: getEnvAsInt("AUDIT_RETENTION_DAYS", 0),
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: getEnv("ADMIN_USERNAME", ""),
			AdminEmail:    getEnv("ADMIN_EMAIL", ""),
			AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	switch cfg.Admission.Store {
	case AdmissionStoreMemory, AdmissionStorePostgres:
	case AdmissionStoreRedis:
		if cfg.Redis.URL == "" {
			return nil, fmt.Errorf("REDIS_URL is required when ADMISSION_STORE=redis")
		}
	default:
		return nil, fmt.Errorf("ADMISSION_STORE must be one of memory, postgres, redis (got %q)", cfg.Admission.Store)
	}

	if env == "production" && cfg.Google.Simulated() {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID is required in production environment")
	}

	if cfg.Auth.SessionTTL <= 0 {
		return nil, fmt.Errorf("SESSION_TTL must be positive")
	}

	return cfg, nil
}

// ParseBackoffSteps parses "3:30s,5:1m" into steps sorted by MinFailures.
func ParseBackoffSteps(raw string) ([]BackoffStep, error) {
	var steps []BackoffStep
	for _, part := range splitList(raw) {
		count, lockout, ok := strings.Cut(part, ":")
		if !ok {
			return nil, fmt.Errorf("step %q is not failures:duration", part)
		}
		n, err := strconv.Atoi(strings.TrimSpace(count))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("step %q has an invalid failure count", part)
		}
		d, err := time.ParseDuration(strings.TrimSpace(lockout))
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("step %q has an invalid lockout", part)
		}
		steps = append(steps, BackoffStep{MinFailures: n, Lockout: d})
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("no steps given")
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].MinFailures < steps[j].MinFailures })
	return steps, nil
}

func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY is required")
	}
	key, err := hex.DecodeString(raw)
	if err != nil || len(key) != 32 {
		return nil, fmt.Errorf("MFA_ENCRYPTION_KEY must be 64 hex characters")
	}
	return key, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if strings.Contains(secretLower, weak) && env == "production" {
			return fmt.Errorf("JWT_SECRET cannot contain a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Addr is the listen address for http.Server.
func (c *ServerConfig) Addr() string {
	return c.Host + ":" + c.Port
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if origins := splitList(getEnv("ALLOWED_ORIGINS", "")); len(origins) > 0 || env == "production" {
		return origins
	}

	return []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}
}
