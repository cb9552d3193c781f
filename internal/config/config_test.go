package config

import (
	"encoding/base64"
	"os"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Env:                "development",
		Port:               "8375",
		DBDriver:           "sqlite",
		DBPath:             "parley.db",
		TracingSampleRatio: 1,
	}
}

func TestConfig_Validate(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"sqlite without path", func(c *Config) { c.DBPath = "" }, true},
		{"postgres without host", func(c *Config) { c.DBDriver = "postgres"; c.DBName = "parley" }, true},
		{"valid psk", func(c *Config) { c.DecryptorPSK = key }, false},
		{"short psk", func(c *Config) { c.DecryptorPSK = base64.StdEncoding.EncodeToString([]byte("short")) }, true},
		{"psk not base64", func(c *Config) { c.DecryptorPSK = "%%%" }, true},
		{"sample ratio out of range", func(c *Config) { c.TracingSampleRatio = 2 }, true},
		{"production postgres default password", func(c *Config) {
			c.Env = "production"
			c.DBDriver = "postgres"
			c.DBHost = "db"
			c.DBName = "parley"
			c.DBPassword = "password"
			c.DBSSLMode = "require"
		}, true},
		{"production postgres without ssl", func(c *Config) {
			c.Env = "prod"
			c.DBDriver = "postgres"
			c.DBHost = "db"
			c.DBName = "parley"
			c.DBPassword = "a-much-better-secret"
			c.DBSSLMode = "disable"
		}, true},
		{"production postgres", func(c *Config) {
			c.Env = "production"
			c.DBDriver = "postgres"
			c.DBHost = "db"
			c.DBName = "parley"
			c.DBPassword = "a-much-better-secret"
			c.DBSSLMode = "verify-full"
		}, false},
		{"production sqlite", func(c *Config) { c.Env = "production" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_DecryptorKey(t *testing.T) {
	c := validConfig()
	assert.Nil(t, c.DecryptorKey())

	raw := []byte(strings.Repeat("x", 32))
	c.DecryptorPSK = base64.StdEncoding.EncodeToString(raw)
	assert.Equal(t, raw, c.DecryptorKey())
}

func TestLoadConfig_Environment(t *testing.T) {
	defer os.Unsetenv("APP_ENV")
	defer os.Unsetenv("DB_DRIVER")
	defer os.Unsetenv("DB_SSLMODE")
	defer os.Unsetenv("PORT")
	defer viper.Reset()

	os.Setenv("APP_ENV", "test")
	os.Setenv("DB_DRIVER", "  SQLite ")
	os.Setenv("DB_SSLMODE", "  DISABLE  ")
	os.Setenv("PORT", "9000")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, "disable", c.DBSSLMode)
	assert.Equal(t, "9000", c.Port)
	assert.Equal(t, 30, c.OverviewCacheTTLSeconds)
	assert.True(t, c.MetricsEnabled)
	assert.False(t, c.IsProduction())
}
