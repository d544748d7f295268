// Package config holds the service configuration. Values come from an
// optional TOML file, overridden by environment variables (see the README for
// the full list); a .env file in the working directory is honoured for
// development setups. The loaded configuration is reached through Config().
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// DBConfig holds the MariaDB connection parameters.
type DBConfig struct {
	Host              string        `toml:"host" validate:"required_without=SocketPath"`
	Name              string        `toml:"name" validate:"required"`
	User              string        `toml:"user" validate:"required"`
	Password          string        `toml:"password"`
	SocketPath        string        `toml:"socket_path"`
	ConnectionTimeout time.Duration `toml:"-"`
	MaxColumns        int           `toml:"max_columns" validate:"gt=0"`
}

// ConfigParam holds all configuration for the query server and admin CLI.
type ConfigParam struct {
	HTTPPort string `toml:"http_port"`

	DB DBConfig `toml:"db"`

	// Admission control. Zero disables the corresponding check.
	CPUThrottle time.Duration `toml:"-"`
	DBThrottle  int           `toml:"db_throttle"`

	// CacheAllow enables the immutable cache headers on version-explicit
	// responses. Disable behind shared caches that cannot honour Cache-Tag.
	CacheAllow bool `toml:"cache_allow"`

	AssetStore       string `toml:"asset_store"`
	AssetStoreBucket string `toml:"asset_store_bucket"`

	SlackChannelURL string `toml:"slack_channel_url"`
	LogLevel        string `toml:"log_level"`
	ExternalLog     string `toml:"external_log"`
	LoaderIOToken   string `toml:"-"`
}

var cfg *ConfigParam

// Config returns the loaded configuration. Load or TestInit must have run.
func Config() *ConfigParam {
	return cfg
}

func defaults() *ConfigParam {
	return &ConfigParam{
		HTTPPort: "80",
		DB: DBConfig{
			Host:              "localhost",
			Name:              "ddf",
			User:              "ddf",
			ConnectionTimeout: 5 * time.Second,
			MaxColumns:        1000,
		},
		CPUThrottle: 200 * time.Millisecond,
		DBThrottle:  5,
		CacheAllow:  true,
		AssetStore:  "s3",
		LogLevel:    "info",
	}
}

// Load reads the optional TOML file at path (empty path skips it), applies
// environment overrides, and validates the result.
func Load(path string) error {
	// A .env next to the binary is a development convenience; absence is fine.
	_ = godotenv.Load()

	c := defaults()
	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("error reading config file: %v", err)
		}
		if _, err := toml.Decode(string(content), c); err != nil {
			return fmt.Errorf("error parsing config file: %v", err)
		}
	}
	applyEnv(c)

	if err := validate(c); err != nil {
		return err
	}
	cfg = c
	return nil
}

func applyEnv(c *ConfigParam) {
	setString(&c.HTTPPort, "HTTP_PORT")
	setString(&c.DB.Host, "DB_HOST")
	setString(&c.DB.Name, "DB_NAME")
	setString(&c.DB.User, "DB_USER")
	setString(&c.DB.Password, "DB_PWD")
	setString(&c.DB.SocketPath, "DB_SOCKET_PATH")
	setSeconds(&c.DB.ConnectionTimeout, "DB_CONNECTION_TIMEOUT")
	setInt(&c.DB.MaxColumns, "DB_MAX_COLUMNS")
	setMillis(&c.CPUThrottle, "CPU_THROTTLE")
	setInt(&c.DBThrottle, "DB_THROTTLE")
	setBool(&c.CacheAllow, "CACHE_ALLOW")
	setString(&c.AssetStore, "ASSET_STORE")
	setString(&c.AssetStoreBucket, "ASSET_STORE_BUCKET")
	setString(&c.SlackChannelURL, "SLACK_CHANNEL_URL")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.ExternalLog, "EXTERNAL_LOG")
	setString(&c.LoaderIOToken, "LOADER_IO_TOKEN")
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setSeconds(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func setMillis(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

func validate(c *ConfigParam) error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %v", err)
	}
	if _, err := strconv.Atoi(c.HTTPPort); err != nil {
		return fmt.Errorf("invalid HTTP_PORT: %q", c.HTTPPort)
	}
	return nil
}

// DSN returns the go-sql-driver connection string for the configured
// database. parseTime makes DATETIME columns scan into time.Time.
func (c *ConfigParam) DSN() string {
	auth := c.DB.User
	if c.DB.Password != "" {
		auth += ":" + c.DB.Password
	}
	if c.DB.SocketPath != "" {
		return fmt.Sprintf("%s@unix(%s)/%s?parseTime=true", auth, c.DB.SocketPath, c.DB.Name)
	}
	return fmt.Sprintf("%s@tcp(%s)/%s?parseTime=true", auth, c.DB.Host, c.DB.Name)
}

var isTest = false

// IsTest reports whether the process runs under the test harness. Admission
// control is disabled in test mode.
func IsTest() bool {
	return isTest
}

// SetTestMode toggles test mode.
func SetTestMode(test bool) {
	isTest = test
}

// TestInit loads a default configuration for tests and enables test mode.
func TestInit() {
	isTest = true
	c := defaults()
	c.DB.Name = "ddf_test"
	c.AssetStore = "local"
	applyEnv(c)
	cfg = c
}
