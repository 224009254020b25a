package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	DefaultAPIURL      = "http://127.0.0.1:7333"
	DefaultDBFileName  = ".dealfiles.db"
	DefaultBlobDirName = ".dealfiles-blobs"
	DefaultLogLevel    = "info"
	DefaultLogFormat   = "text"

	CatalogDriverSQLite   = "sqlite"
	CatalogDriverPostgres = "postgres"

	DefaultMaxUploadBytes     int64 = 100 * 1024 * 1024
	DefaultMultipartMaxMemory int64 = 8 * 1024 * 1024
	DefaultOrphanGrace              = "24h"

	configFileName           = ".dealfiles.toml"
	dotEnvFileName           = ".env"
	configDirEnvKey          = "DEALFILES_CONFIG_DIR"
	trustProjectConfigEnvKey = "DEALFILES_TRUST_PROJECT_CONFIG"
)

// BlobConfig locates the blob store.
type BlobConfig struct {
	Root string `toml:"root"`
}

// CatalogConfig selects the attachment catalog backend.
type CatalogConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// UploadConfig bounds multipart uploads and the orphan sweep.
type UploadConfig struct {
	MaxUploadBytes     int64  `toml:"max_upload_bytes"`
	MultipartMaxMemory int64  `toml:"multipart_max_memory"`
	OrphanGrace        string `toml:"orphan_grace"`
}

// Config defines runtime configuration for dealfiles.
type Config struct {
	APIURL    string        `toml:"api_url"`
	DBPath    string        `toml:"db_path"`
	LogLevel  string        `toml:"log_level"`
	LogFormat string        `toml:"log_format"`
	Blobs     BlobConfig    `toml:"blobs"`
	Catalog   CatalogConfig `toml:"catalog"`
	Uploads   UploadConfig  `toml:"uploads"`

	// APIToken comes from DEALFILES_API_TOKEN only and is never written to disk.
	APIToken                 string `toml:"-"`
	TrustedProjectConfigPath string `toml:"-"`
}

// Default returns default configuration values.
func Default() Config {
	return Config{
		APIURL:    DefaultAPIURL,
		DBPath:    "",
		LogLevel:  DefaultLogLevel,
		LogFormat: DefaultLogFormat,
		Catalog: CatalogConfig{
			Driver: CatalogDriverSQLite,
		},
		Uploads: UploadConfig{
			MaxUploadBytes:     DefaultMaxUploadBytes,
			MultipartMaxMemory: DefaultMultipartMaxMemory,
			OrphanGrace:        DefaultOrphanGrace,
		},
	}
}

// OrphanGraceDuration returns uploads.orphan_grace as a duration.
func (c *Config) OrphanGraceDuration() time.Duration {
	parsed, err := time.ParseDuration(strings.TrimSpace(c.Uploads.OrphanGrace))
	if err != nil || parsed <= 0 {
		parsed, _ = time.ParseDuration(DefaultOrphanGrace)
	}
	return parsed
}

func loadFile(path string, cfg *Config) error {
	_, err := loadFileIfExists(path, cfg)
	return err
}

func loadFileIfExists(path string, cfg *Config) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	if info.IsDir() {
		return false, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return false, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return true, nil
}

// loadDotEnv reads .env from the working directory into the process
// environment. Variables already set win; a missing file is fine.
func loadDotEnv() error {
	err := godotenv.Load(dotEnvFileName)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", dotEnvFileName, err)
	}
	return nil
}

func overrideConfigPath() (string, bool) {
	dir := strings.TrimSpace(os.Getenv(configDirEnvKey))
	if dir == "" {
		return "", false
	}
	return filepath.Join(dir, configFileName), true
}

func trustProjectConfig() bool {
	raw := strings.TrimSpace(os.Getenv(trustProjectConfigEnvKey))
	if raw == "" {
		return false
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false
	}
	return value
}

var allowedKeys = []string{
	"api_url",
	"db_path",
	"log_level",
	"log_format",
	"blobs.root",
	"catalog.driver",
	"catalog.dsn",
	"uploads.max_upload_bytes",
	"uploads.multipart_max_memory",
	"uploads.orphan_grace",
}

var keyDescriptions = map[string]string{
	"api_url":                      "server URL the CLI talks to and srv listens on",
	"db_path":                      "SQLite catalog file",
	"log_level":                    "debug, info, warn or error",
	"log_format":                   "text or json",
	"blobs.root":                   "directory holding attachment bytes (default: next to db_path)",
	"catalog.driver":               "sqlite or postgres",
	"catalog.dsn":                  "postgres connection string",
	"uploads.max_upload_bytes":     "largest accepted upload body in bytes",
	"uploads.multipart_max_memory": "bytes of a multipart upload kept in memory before spilling to disk",
	"uploads.orphan_grace":         "minimum age before the sweep may delete an unreferenced blob",
}

// KeyDescription returns a one-line description of a config key.
func KeyDescription(key string) string {
	return keyDescriptions[key]
}

// KeyValues returns the accepted values of an enumerated key, or nil.
func KeyValues(key string) []string {
	switch key {
	case "catalog.driver":
		return []string{CatalogDriverSQLite, CatalogDriverPostgres}
	case "log_format":
		return []string{"text", "json"}
	case "log_level":
		return []string{"debug", "info", "warn", "error"}
	default:
		return nil
	}
}

// Redacted returns the value of key with any password in catalog.dsn masked.
func (c *Config) Redacted(key string) (string, error) {
	value, err := c.Get(key)
	if err != nil || key != "catalog.dsn" || value == "" {
		return value, err
	}
	parsed, parseErr := url.Parse(value)
	if parseErr != nil || parsed.User == nil {
		return value, nil
	}
	if _, ok := parsed.User.Password(); ok {
		parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
	}
	return parsed.String(), nil
}

// AllowedKeys returns the set of valid config keys.
func AllowedKeys() []string {
	return allowedKeys
}

// IsAllowedKey checks if a key is a valid config key.
func IsAllowedKey(key string) bool {
	for _, k := range allowedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the value of a config key.
func (c *Config) Get(key string) (string, error) {
	switch key {
	case "api_url":
		return c.APIURL, nil
	case "db_path":
		return c.DBPath, nil
	case "log_level":
		return c.LogLevel, nil
	case "log_format":
		return c.LogFormat, nil
	case "blobs.root":
		return c.Blobs.Root, nil
	case "catalog.driver":
		return c.Catalog.Driver, nil
	case "catalog.dsn":
		return c.Catalog.DSN, nil
	case "uploads.max_upload_bytes":
		return strconv.FormatInt(c.Uploads.MaxUploadBytes, 10), nil
	case "uploads.multipart_max_memory":
		return strconv.FormatInt(c.Uploads.MultipartMaxMemory, 10), nil
	case "uploads.orphan_grace":
		return c.Uploads.OrphanGrace, nil
	default:
		return "", fmt.Errorf("unknown key: %s", key)
	}
}

// GlobalPath returns the path to the global config file.
func GlobalPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, configFileName), nil
}

// ProjectPath returns the path to the project config file.
func ProjectPath() (string, error) {
	if path, ok := overrideConfigPath(); ok {
		return path, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(cwd, configFileName), nil
}

// SetKey reads the TOML file at path, sets key=value, and writes it back.
func SetKey(path, key, value string) error {
	if !IsAllowedKey(key) {
		return fmt.Errorf("unknown key: %s", key)
	}

	data := make(map[string]any)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, &data); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
	}

	parsedValue, err := parseSetValue(key, value)
	if err != nil {
		return err
	}
	if err := setNestedKey(data, strings.Split(key, "."), parsedValue); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(data)
}

// Load reads .env, then trusted config files, then applies env overrides.
func Load() (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := Default()

	if overridePath, ok := overrideConfigPath(); ok {
		if err := loadFile(overridePath, &cfg); err != nil {
			return nil, err
		}
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			if err := loadFile(filepath.Join(home, configFileName), &cfg); err != nil {
				return nil, err
			}
		}

		if trustProjectConfig() {
			if cwd, err := os.Getwd(); err == nil {
				projectPath := filepath.Join(cwd, configFileName)
				info, statErr := os.Stat(projectPath)
				switch {
				case statErr == nil && !info.IsDir():
					if err := loadFile(projectPath, &cfg); err != nil {
						return nil, err
					}
					cfg.TrustedProjectConfigPath = projectPath
				case statErr != nil && !os.IsNotExist(statErr):
					return nil, statErr
				}
			}
		}
	}

	if cfg.DBPath == "" {
		if cwd, err := os.Getwd(); err == nil {
			cfg.DBPath = filepath.Join(cwd, DefaultDBFileName)
		}
	}

	if apiURL := os.Getenv("DEALFILES_API_URL"); apiURL != "" {
		cfg.APIURL = apiURL
	}
	if dbPath := os.Getenv("DEALFILES_DB"); dbPath != "" {
		cfg.DBPath = dbPath
	}
	if root := os.Getenv("DEALFILES_BLOB_ROOT"); root != "" {
		cfg.Blobs.Root = root
	}
	if driver := os.Getenv("DEALFILES_CATALOG_DRIVER"); driver != "" {
		cfg.Catalog.Driver = driver
	}
	if dsn := os.Getenv("DEALFILES_CATALOG_DSN"); dsn != "" {
		cfg.Catalog.DSN = dsn
	}
	cfg.APIToken = strings.TrimSpace(os.Getenv("DEALFILES_API_TOKEN"))

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func parseSetValue(key, value string) (any, error) {
	value = strings.TrimSpace(value)
	switch key {
	case "uploads.max_upload_bytes", "uploads.multipart_max_memory":
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive integer", key)
		}
		return parsed, nil
	case "uploads.orphan_grace":
		parsed, err := time.ParseDuration(value)
		if err != nil || parsed <= 0 {
			return nil, fmt.Errorf("%s must be a positive duration such as 24h", key)
		}
		return value, nil
	case "catalog.driver":
		driver, err := normalizeDriver(value)
		if err != nil {
			return nil, err
		}
		return driver, nil
	case "log_format":
		format, err := normalizeLogFormat(value)
		if err != nil {
			return nil, err
		}
		return format, nil
	default:
		return value, nil
	}
}

func setNestedKey(data map[string]any, parts []string, value any) error {
	if len(parts) == 0 {
		return fmt.Errorf("invalid config key")
	}
	if len(parts) == 1 {
		data[parts[0]] = value
		return nil
	}
	childRaw, ok := data[parts[0]]
	if !ok {
		child := map[string]any{}
		data[parts[0]] = child
		return setNestedKey(child, parts[1:], value)
	}
	child, ok := childRaw.(map[string]any)
	if !ok {
		return fmt.Errorf("cannot set nested key %q", strings.Join(parts, "."))
	}
	return setNestedKey(child, parts[1:], value)
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.LogLevel) == "" {
		c.LogLevel = DefaultLogLevel
	}
	format, err := normalizeLogFormat(c.LogFormat)
	if err != nil {
		return err
	}
	c.LogFormat = format

	driver, err := normalizeDriver(c.Catalog.Driver)
	if err != nil {
		return err
	}
	c.Catalog.Driver = driver
	if driver == CatalogDriverPostgres && strings.TrimSpace(c.Catalog.DSN) == "" {
		return fmt.Errorf("catalog.dsn is required when catalog.driver is %s", CatalogDriverPostgres)
	}

	if strings.TrimSpace(c.Blobs.Root) == "" && c.DBPath != "" {
		c.Blobs.Root = filepath.Join(filepath.Dir(c.DBPath), DefaultBlobDirName)
	}

	if c.Uploads.MaxUploadBytes <= 0 {
		c.Uploads.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.Uploads.MultipartMaxMemory <= 0 {
		c.Uploads.MultipartMaxMemory = DefaultMultipartMaxMemory
	}
	if strings.TrimSpace(c.Uploads.OrphanGrace) == "" {
		c.Uploads.OrphanGrace = DefaultOrphanGrace
	}
	if parsed, err := time.ParseDuration(strings.TrimSpace(c.Uploads.OrphanGrace)); err != nil || parsed <= 0 {
		return fmt.Errorf("uploads.orphan_grace %q is not a positive duration", c.Uploads.OrphanGrace)
	}
	return nil
}

func normalizeDriver(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", CatalogDriverSQLite:
		return CatalogDriverSQLite, nil
	case CatalogDriverPostgres, "postgresql":
		return CatalogDriverPostgres, nil
	default:
		return "", fmt.Errorf("unsupported catalog.driver %q (want sqlite or postgres)", value)
	}
}

func normalizeLogFormat(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "text":
		return "text", nil
	case "json":
		return "json", nil
	default:
		return "", fmt.Errorf("unsupported log_format %q (want text or json)", value)
	}
}
