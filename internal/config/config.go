// =============================================================================
// ICBU Broker - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing the broker
// configuration.
//
// CONFIGURATION SOURCES (later wins):
//   1. Built-in defaults (applyDefaults)
//   2. The YAML file (config.yaml)
//   3. Environment variables prefixed with BROKER_, e.g.
//      BROKER_ALIBABA_APP_SECRET or BROKER_REDIS_ADDR
//
// Secrets such as the app secret and the Redis password are expected to come
// from the environment in deployed setups.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "BROKER"

// DefaultConfigPath is used when no --config flag is given. A missing file
// at this path is not an error.
const DefaultConfigPath = "config.yaml"

// =============================================================================
// CONFIGURATION STRUCTURE
// =============================================================================

// Config holds the whole broker configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Logging LoggingConfig `yaml:"logging"`
	CORS    CORSConfig    `yaml:"cors"`
	Alibaba AlibabaConfig `yaml:"alibaba"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	YouTube YouTubeConfig `yaml:"youtube"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// Host is the listen address. Default: "0.0.0.0"
	Host string `yaml:"host"`

	// Port is the listen port. Default: 5000
	Port int `yaml:"port"`

	// Mode is the gin mode: debug, release or test. Default: "release"
	Mode string `yaml:"mode"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Default: "info"
	Level string `yaml:"level"`

	// File is an optional JSON log file written next to console output.
	File string `yaml:"file"`
}

// CORSConfig lists the browser origins allowed to call /api/*.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AlibabaConfig holds the ICBU Open Platform settings.
type AlibabaConfig struct {
	AppKey    string `yaml:"app_key"`
	AppSecret string `yaml:"app_secret"`

	// OAuthBaseURL hosts /oauth/authorize.
	OAuthBaseURL string `yaml:"oauth_base_url"`

	// APIURL is the business API gateway.
	APIURL string `yaml:"api_url"`

	// TokenURL is the gateway used for /auth/token/create and /refresh.
	TokenURL string `yaml:"token_url"`

	// RedirectURI is registered with the app and receives ?code=.
	RedirectURI string `yaml:"redirect_uri"`

	PartnerID string `yaml:"partner_id"`

	DefaultSellerID   string `yaml:"default_seller_id"`
	DefaultCategoryID string `yaml:"default_category_id"`
	Language          string `yaml:"language"`

	// DescriptionFormat is "html" or "markdown" for the superText column.
	DescriptionFormat string `yaml:"description_format"`

	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig selects the key-value backend for tokens and tasks.
type StoreConfig struct {
	// Backend is "memory" or "redis". Default: "memory"
	Backend string `yaml:"backend"`

	TokenPrefix     string        `yaml:"token_prefix"`
	TaskPrefix      string        `yaml:"task_prefix"`
	DefaultTokenTTL time.Duration `yaml:"default_token_ttl"`
	TaskTTL         time.Duration `yaml:"task_ttl"`
}

// RedisConfig holds the Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// YouTubeConfig controls the downloader.
type YouTubeConfig struct {
	DownloadDir    string `yaml:"download_dir"`
	Proxy          string `yaml:"proxy"`
	Binary         string `yaml:"binary"`
	DefaultQuality string `yaml:"default_quality"`

	// Retention removes download directories untouched for longer than
	// this. Zero keeps everything.
	Retention time.Duration `yaml:"retention"`
}

// =============================================================================
// CONFIGURATION LOADING
// =============================================================================

// Load reads path, applies defaults and environment overrides and validates
// the result. A missing file at DefaultConfigPath falls back to defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}

	var config Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyDefaults(&config)
	applyEnv(&config, newEnv())

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns a validated configuration built from defaults only.
func Default() *Config {
	var config Config
	applyDefaults(&config)
	return &config
}

// applyDefaults sets default values for unset fields.
func applyDefaults(config *Config) {
	if config.Server.Host == "" {
		config.Server.Host = "0.0.0.0"
	}
	if config.Server.Port == 0 {
		config.Server.Port = 5000
	}
	if config.Server.Mode == "" {
		config.Server.Mode = "release"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	if len(config.CORS.AllowedOrigins) == 0 {
		config.CORS.AllowedOrigins = []string{"http://localhost:5173"}
	}

	if config.Alibaba.OAuthBaseURL == "" {
		config.Alibaba.OAuthBaseURL = "https://openapi-auth.alibaba.com"
	}
	if config.Alibaba.APIURL == "" {
		config.Alibaba.APIURL = "https://openapi-api.alibaba.com/rest"
	}
	if config.Alibaba.TokenURL == "" {
		config.Alibaba.TokenURL = "https://openapi-api.alibaba.com/rest"
	}
	if config.Alibaba.PartnerID == "" {
		config.Alibaba.PartnerID = "iop-sdk-go"
	}
	if config.Alibaba.Language == "" {
		config.Alibaba.Language = "en_US"
	}
	if config.Alibaba.DescriptionFormat == "" {
		config.Alibaba.DescriptionFormat = "html"
	}
	if config.Alibaba.Timeout == 0 {
		config.Alibaba.Timeout = 30 * time.Second
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "memory"
	}
	if config.Store.TokenPrefix == "" {
		config.Store.TokenPrefix = "alibaba_token:"
	}
	if config.Store.TaskPrefix == "" {
		config.Store.TaskPrefix = "youtube_task:"
	}
	if config.Store.DefaultTokenTTL == 0 {
		config.Store.DefaultTokenTTL = 24 * time.Hour
	}
	if config.Store.TaskTTL == 0 {
		config.Store.TaskTTL = 7 * 24 * time.Hour
	}

	if config.Redis.Addr == "" {
		config.Redis.Addr = "localhost:6379"
	}

	if config.YouTube.DownloadDir == "" {
		config.YouTube.DownloadDir = "./downloads"
	}
	if config.YouTube.Binary == "" {
		config.YouTube.Binary = "yt-dlp"
	}
	if config.YouTube.DefaultQuality == "" {
		config.YouTube.DefaultQuality = "720p"
	}
}

// validate checks the configuration for errors.
func validate(config *Config) error {
	if config.Server.Port < 1 || config.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", config.Server.Port)
	}

	switch config.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("server.mode must be debug, release or test, got %q", config.Server.Mode)
	}

	switch strings.ToLower(config.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", config.Logging.Level)
	}

	switch config.Store.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", config.Store.Backend)
	}

	switch config.Alibaba.DescriptionFormat {
	case "html", "markdown":
	default:
		return fmt.Errorf("alibaba.description_format must be html or markdown, got %q", config.Alibaba.DescriptionFormat)
	}

	if config.YouTube.Retention < 0 {
		return fmt.Errorf("youtube.retention must not be negative")
	}

	if config.Redis.DB < 0 {
		return fmt.Errorf("redis.db must not be negative")
	}

	return nil
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// newEnv returns a viper instance reading BROKER_* variables, with "."
// mapped to "_" so that alibaba.app_secret reads BROKER_ALIBABA_APP_SECRET.
func newEnv() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// applyEnv copies every set environment variable over the file values.
func applyEnv(config *Config, v *viper.Viper) {
	stringVars := map[string]*string{
		"server.host":                 &config.Server.Host,
		"server.mode":                 &config.Server.Mode,
		"logging.level":               &config.Logging.Level,
		"logging.file":                &config.Logging.File,
		"alibaba.app_key":             &config.Alibaba.AppKey,
		"alibaba.app_secret":          &config.Alibaba.AppSecret,
		"alibaba.oauth_base_url":      &config.Alibaba.OAuthBaseURL,
		"alibaba.api_url":             &config.Alibaba.APIURL,
		"alibaba.token_url":           &config.Alibaba.TokenURL,
		"alibaba.redirect_uri":        &config.Alibaba.RedirectURI,
		"alibaba.partner_id":          &config.Alibaba.PartnerID,
		"alibaba.default_seller_id":   &config.Alibaba.DefaultSellerID,
		"alibaba.default_category_id": &config.Alibaba.DefaultCategoryID,
		"alibaba.language":            &config.Alibaba.Language,
		"alibaba.description_format":  &config.Alibaba.DescriptionFormat,
		"store.backend":               &config.Store.Backend,
		"store.token_prefix":          &config.Store.TokenPrefix,
		"store.task_prefix":           &config.Store.TaskPrefix,
		"redis.addr":                  &config.Redis.Addr,
		"redis.password":              &config.Redis.Password,
		"youtube.download_dir":        &config.YouTube.DownloadDir,
		"youtube.proxy":               &config.YouTube.Proxy,
		"youtube.binary":              &config.YouTube.Binary,
		"youtube.default_quality":     &config.YouTube.DefaultQuality,
	}
	for key, target := range stringVars {
		if v.IsSet(key) {
			*target = v.GetString(key)
		}
	}

	ints := map[string]*int{
		"server.port": &config.Server.Port,
		"redis.db":    &config.Redis.DB,
	}
	for key, target := range ints {
		if v.IsSet(key) {
			*target = v.GetInt(key)
		}
	}

	durations := map[string]*time.Duration{
		"alibaba.timeout":         &config.Alibaba.Timeout,
		"store.default_token_ttl": &config.Store.DefaultTokenTTL,
		"store.task_ttl":          &config.Store.TaskTTL,
		"youtube.retention":       &config.YouTube.Retention,
	}
	for key, target := range durations {
		if v.IsSet(key) {
			*target = v.GetDuration(key)
		}
	}

	if v.IsSet("cors.allowed_origins") {
		origins := make([]string, 0)
		for _, o := range strings.Split(v.GetString("cors.allowed_origins"), ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		config.CORS.AllowedOrigins = origins
	}
}

// =============================================================================
// MASKED DUMP
// =============================================================================

var sensitiveKeys = []string{"PASSWORD", "SECRET", "APP_KEY", "ACCESS_TOKEN", "CREDENTIAL"}

// MaskValue hides sensitive values: abc****xyz for long values, *** for
// short ones. Only the last dotted segment of key is inspected. Credentials
// embedded in URL values, such as a proxy, are replaced by ****.
func MaskValue(key, value string) string {
	if i := strings.LastIndex(key, "."); i >= 0 {
		key = key[i+1:]
	}
	upper := strings.ToUpper(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(upper, s) {
			if value == "" {
				return ""
			}
			if len(value) > 6 {
				return value[:3] + "****" + value[len(value)-3:]
			}
			return "***"
		}
	}
	if strings.Contains(value, "@") {
		if u, err := url.Parse(value); err == nil && u.User != nil && u.Host != "" {
			u.User = nil
			return strings.Replace(u.String(), "//", "//****@", 1)
		}
	}
	return value
}

// Masked returns the configuration as flat dotted keys with secrets masked.
func (c *Config) Masked() map[string]string {
	raw := map[string]string{
		"server.host":                 c.Server.Host,
		"server.port":                 fmt.Sprint(c.Server.Port),
		"server.mode":                 c.Server.Mode,
		"logging.level":               c.Logging.Level,
		"logging.file":                c.Logging.File,
		"cors.allowed_origins":        strings.Join(c.CORS.AllowedOrigins, ","),
		"alibaba.app_key":             c.Alibaba.AppKey,
		"alibaba.app_secret":          c.Alibaba.AppSecret,
		"alibaba.oauth_base_url":      c.Alibaba.OAuthBaseURL,
		"alibaba.api_url":             c.Alibaba.APIURL,
		"alibaba.token_url":           c.Alibaba.TokenURL,
		"alibaba.redirect_uri":        c.Alibaba.RedirectURI,
		"alibaba.partner_id":          c.Alibaba.PartnerID,
		"alibaba.default_seller_id":   c.Alibaba.DefaultSellerID,
		"alibaba.default_category_id": c.Alibaba.DefaultCategoryID,
		"alibaba.language":            c.Alibaba.Language,
		"alibaba.description_format":  c.Alibaba.DescriptionFormat,
		"alibaba.timeout":             c.Alibaba.Timeout.String(),
		"store.backend":               c.Store.Backend,
		"store.token_prefix":          c.Store.TokenPrefix,
		"store.task_prefix":           c.Store.TaskPrefix,
		"store.default_token_ttl":     c.Store.DefaultTokenTTL.String(),
		"store.task_ttl":              c.Store.TaskTTL.String(),
		"redis.addr":                  c.Redis.Addr,
		"redis.password":              c.Redis.Password,
		"redis.db":                    fmt.Sprint(c.Redis.DB),
		"youtube.download_dir":        c.YouTube.DownloadDir,
		"youtube.proxy":               c.YouTube.Proxy,
		"youtube.binary":              c.YouTube.Binary,
		"youtube.default_quality":     c.YouTube.DefaultQuality,
		"youtube.retention":           c.YouTube.Retention.String(),
	}

	masked := make(map[string]string, len(raw))
	for k, v := range raw {
		masked[k] = MaskValue(k, v)
	}
	return masked
}

// MaskedKeys returns the keys of Masked in sorted order.
func (c *Config) MaskedKeys() []string {
	m := c.Masked()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
