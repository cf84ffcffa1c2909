package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMFAKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "local-signing-key-32-characters!")
	t.Setenv("DB_PASSWORD", "test")
	t.Setenv("MFA_ENCRYPTION_KEY", testMFAKey)
}

func TestLoad_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Minute, cfg.Auth.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Auth.ChallengeTTL)
	assert.Equal(t, "garage-api", cfg.Auth.JWTIssuer)
	assert.Equal(t, "garage-app", cfg.Auth.JWTAudience)
	assert.Equal(t, AdmissionStorePostgres, cfg.Admission.Store)
	assert.Equal(t, 15*time.Minute, cfg.Admission.IdleWindow)
	assert.Equal(t, DefaultBackoffSteps(), cfg.Admission.Steps)
	assert.Equal(t, 500*time.Millisecond, cfg.Admission.StoreTimeout)
	assert.Len(t, cfg.MFA.EncryptionKey, 32)
	assert.True(t, cfg.MFA.EnforceOnHashed)
	assert.True(t, cfg.Google.Simulated())
	assert.False(t, cfg.Email.Enabled())
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestServerConfig_Timeouts(t *testing.T) {
	tests := []struct {
		name     string
		env      map[string]string
		expected [3]time.Duration
	}{
		{
			name:     "defaults",
			expected: [3]time.Duration{15 * time.Second, 15 * time.Second, 60 * time.Second},
		},
		{
			name: "custom values",
			env: map[string]string{
				"SERVER_READ_TIMEOUT":  "30s",
				"SERVER_WRITE_TIMEOUT": "45s",
				"SERVER_IDLE_TIMEOUT":  "120s",
			},
			expected: [3]time.Duration{30 * time.Second, 45 * time.Second, 120 * time.Second},
		},
		{
			name:     "invalid duration falls back to default",
			env:      map[string]string{"SERVER_READ_TIMEOUT": "not-a-duration"},
			expected: [3]time.Duration{15 * time.Second, 15 * time.Second, 60 * time.Second},
		},
		{
			name:     "zero is honored",
			env:      map[string]string{"SERVER_READ_TIMEOUT": "0s"},
			expected: [3]time.Duration{0, 15 * time.Second, 60 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load()
			require.NoError(t, err)

			assert.Equal(t, tt.expected[0], cfg.Server.ReadTimeout)
			assert.Equal(t, tt.expected[1], cfg.Server.WriteTimeout)
			assert.Equal(t, tt.expected[2], cfg.Server.IdleTimeout)
		})
	}
}

func TestLoad_RequiredValues(t *testing.T) {
	tests := []struct {
		name    string
		unset   string
		env     map[string]string
		wantErr string
	}{
		{name: "missing JWT secret", unset: "JWT_SECRET", wantErr: "JWT_SECRET is required"},
		{name: "missing DB password", unset: "DB_PASSWORD", wantErr: "DB_PASSWORD is required"},
		{name: "missing MFA key", unset: "MFA_ENCRYPTION_KEY", wantErr: "MFA_ENCRYPTION_KEY is required"},
		{name: "short MFA key", env: map[string]string{"MFA_ENCRYPTION_KEY": "abcd"}, wantErr: "64 hex characters"},
		{name: "short JWT secret", env: map[string]string{"JWT_SECRET": "short"}, wantErr: "at least 16 characters"},
		{name: "redis without URL", env: map[string]string{"ADMISSION_STORE": "redis"}, wantErr: "REDIS_URL is required"},
		{name: "unknown store", env: map[string]string{"ADMISSION_STORE": "etcd"}, wantErr: "ADMISSION_STORE must be one of"},
		{name: "bad steps", env: map[string]string{"ADMISSION_STEPS": "3-30s"}, wantErr: "ADMISSION_STEPS"},
		{name: "simulated google in production", env: map[string]string{"ENV": "production", "JWT_SECRET": "q8Xv2LrT9mWzN4pK7sJd1hGf6cYb3aEu"}, wantErr: "GOOGLE_CLIENT_ID is required"},
		{name: "zero session ttl", env: map[string]string{"SESSION_TTL": "0s"}, wantErr: "SESSION_TTL must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			if tt.unset != "" {
				t.Setenv(tt.unset, "")
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := Load()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateJWTSecret_Production(t *testing.T) {
	assert.Error(t, validateJWTSecret(strings.Repeat("k", 20), "production"))
	assert.Error(t, validateJWTSecret("changeme-changeme-changeme-changeme", "production"))
	assert.NoError(t, validateJWTSecret("q8Xv2LrT9mWzN4pK7sJd1hGf6cYb3aEu", "production"))
}

func TestLoad_ProductionWithGoogleClient(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "q8Xv2LrT9mWzN4pK7sJd1hGf6cYb3aEu")
	t.Setenv("GOOGLE_CLIENT_ID", "1234.apps.googleusercontent.com")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Google.Simulated())
}

func TestParseBackoffSteps(t *testing.T) {
	steps, err := ParseBackoffSteps("10:5m, 3:30s,5:1m")
	require.NoError(t, err)
	assert.Equal(t, []BackoffStep{
		{MinFailures: 3, Lockout: 30 * time.Second},
		{MinFailures: 5, Lockout: time.Minute},
		{MinFailures: 10, Lockout: 5 * time.Minute},
	}, steps)

	for _, bad := range []string{"", "3", "x:30s", "3:soon", "0:30s", "3:-1s"} {
		_, err := ParseBackoffSteps(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoad_RedisStore(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ADMISSION_STORE", "Redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, AdmissionStoreRedis, cfg.Admission.Store)
	assert.Equal(t, "garage:admission:", cfg.Redis.KeyPrefix)
}

func TestParseAllowedOrigins(t *testing.T) {
	t.Setenv("ALLOWED_ORIGINS", "")
	assert.Empty(t, parseAllowedOrigins("production"))
	assert.Contains(t, parseAllowedOrigins("development"), "http://localhost:3000")

	t.Setenv("ALLOWED_ORIGINS", "https://garage.example.com, https://admin.garage.example.com")
	assert.Equal(t,
		[]string{"https://garage.example.com", "https://admin.garage.example.com"},
		parseAllowedOrigins("production"))
}
