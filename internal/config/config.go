package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// UserAgent is sent on every upstream request.
const UserAgent = "krishimitra/1.0"

// Vertex selects the Vertex AI backend instead of the Gemini API key backend.
type Vertex struct {
	Project           string `json:"project"`
	Location          string `json:"location"`
	OAuthCredsFile    string `json:"oauthCredsFile"`
	OAuthClientID     string `json:"oauthClientId"`
	OAuthClientSecret string `json:"oauthClientSecret"`
}

type Config struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	LogLevel string `json:"logLevel"`

	GeminiAPIKey  string  `json:"geminiApiKey"`
	GeminiBaseURL string  `json:"geminiBaseUrl"`
	Vertex        *Vertex `json:"vertex"`
	// ModelPriority is walked in order; the first model present in the live listing wins.
	ModelPriority []string `json:"modelPriority"`
	// DefaultModel is used when the model listing cannot be fetched or is empty.
	DefaultModel string `json:"defaultModel"`
	// ModelCacheTTLSeconds caches a resolved selection. Zero fetches the listing on every request.
	ModelCacheTTLSeconds int    `json:"modelCacheTtlSeconds"`
	RedisURL             string `json:"redisUrl"`
	// DirectoryRetries is the number of extra listing attempts on transport faults. Nil means 1; 0 disables retries.
	DirectoryRetries     *int   `json:"directoryRetries"`
	RequestBaseDelay     int    `json:"requestBaseDelay"`
	AITimeoutSeconds     int    `json:"aiTimeoutSeconds"`

	WeatherAPIKey         string `json:"weatherApiKey"`
	WeatherBaseURL        string `json:"weatherBaseUrl"`
	WeatherLanguage       string `json:"weatherLanguage"`
	WeatherTimeoutSeconds int    `json:"weatherTimeoutSeconds"`
	DefaultCity           string `json:"defaultCity"`

	SQLitePath        string `json:"sqlitePath"`
	SessionSecret     string `json:"sessionSecret"`
	SessionTTLMinutes int    `json:"sessionTtlMinutes"`

	// Proxy is an optional upstream proxy URL. Must be http or socks5.
	// Example: "http://127.0.0.1:8080" or "socks5://127.0.0.1:1080"
	Proxy string `json:"proxy"`
	// RequestMaxBodyBytes limits incoming request size; image uploads count against it.
	RequestMaxBodyBytes int64 `json:"requestMaxBodyBytes"`
	// MaxConcurrentRequests limits concurrent in-flight requests for lightweight backpressure.
	MaxConcurrentRequests int   `json:"maxConcurrentRequests"`
	MaxImageBytes         int64 `json:"maxImageBytes"`
}

// envOverrides maps environment variables onto secret-bearing fields. Values
// from the environment win over the file so secrets can stay out of it.
var envOverrides = []struct {
	name string
	set  func(*Config, string)
}{
	{"GEMINI_API_KEY", func(c *Config, v string) { c.GeminiAPIKey = v }},
	{"WEATHER_API_KEY", func(c *Config, v string) { c.WeatherAPIKey = v }},
	{"SESSION_SECRET", func(c *Config, v string) { c.SessionSecret = v }},
	{"REDIS_URL", func(c *Config, v string) { c.RedisURL = v }},
}

// LoadConfig reads the JSON config at path, loads a .env file next to the
// working directory when present, applies environment overrides and defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err == nil {
		logrus.Debug("loaded environment from .env")
	}
	b, err := os.ReadFile(path)
	logrus.Infof("loading config from %s", path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		// Typical error: "json: unknown field \"foo\""
		var se *json.SyntaxError
		if !errors.As(err, &se) {
			msg := err.Error()
			const p = "json: unknown field \""
			if i := strings.Index(msg, p); i >= 0 {
				rest := msg[i+len(p):]
				if j := strings.IndexByte(rest, '"'); j >= 0 {
					return cfg, fmt.Errorf("unknown config key: %s", rest[:j])
				}
			}
		}
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	for _, o := range envOverrides {
		if v := strings.TrimSpace(os.Getenv(o.name)); v != "" {
			o.set(&cfg, v)
		}
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// ApplyDefaults fills zero-valued fields.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = 5000
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.DirectoryRetries == nil {
		n := 1
		c.DirectoryRetries = &n
	}
	if c.RequestBaseDelay == 0 {
		c.RequestBaseDelay = 250
	}
	if c.AITimeoutSeconds == 0 {
		c.AITimeoutSeconds = 60
	}
	if c.WeatherBaseURL == "" {
		c.WeatherBaseURL = "https://api.openweathermap.org"
	}
	if c.WeatherLanguage == "" {
		c.WeatherLanguage = "en"
	}
	if c.WeatherTimeoutSeconds == 0 {
		c.WeatherTimeoutSeconds = 10
	}
	if c.DefaultCity == "" {
		c.DefaultCity = "Jabalpur"
	}
	if c.SQLitePath == "" {
		c.SQLitePath = "./data/krishimitra.db"
	}
	if c.SessionTTLMinutes == 0 {
		c.SessionTTLMinutes = 7 * 24 * 60
	}
	if c.RequestMaxBodyBytes == 0 {
		// 16 MiB by default
		c.RequestMaxBodyBytes = 16 * 1024 * 1024
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = 64
	}
	if c.MaxImageBytes == 0 {
		c.MaxImageBytes = 8 * 1024 * 1024
	}
}

func (c Config) Validate(cfgPath string) error {
	if c.Vertex == nil && c.GeminiAPIKey == "" {
		return fmt.Errorf("geminiApiKey (or GEMINI_API_KEY) must be set in config file %s", cfgPath)
	}
	if c.Vertex != nil {
		if c.GeminiAPIKey != "" {
			return fmt.Errorf("geminiApiKey and vertex are mutually exclusive")
		}
		if c.Vertex.Project == "" || c.Vertex.Location == "" {
			return fmt.Errorf("vertex.project and vertex.location must be set")
		}
		if c.Vertex.OAuthCredsFile == "" {
			return fmt.Errorf("vertex.oauthCredsFile must be set")
		}
	}
	if c.WeatherAPIKey == "" {
		return fmt.Errorf("weatherApiKey (or WEATHER_API_KEY) must be set in config file %s", cfgPath)
	}
	if c.SessionSecret == "" {
		return fmt.Errorf("sessionSecret (or SESSION_SECRET) must be set in config file %s", cfgPath)
	}
	// Fail when sessionSecret equals the default placeholder from example file.
	if c.SessionSecret == "UNSAFE-SECRET-REPLACE" {
		return fmt.Errorf("sessionSecret must be changed from default placeholder")
	}
	if c.DirectoryRetries != nil && *c.DirectoryRetries < 0 {
		return fmt.Errorf("directoryRetries must not be negative")
	}
	if c.ModelCacheTTLSeconds < 0 {
		return fmt.Errorf("modelCacheTtlSeconds must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid logLevel: %w", err)
	}
	if c.Proxy != "" {
		u, err := url.Parse(c.Proxy)
		if err != nil {
			return fmt.Errorf("invalid proxy URL: %w", err)
		}
		switch u.Scheme {
		case "http", "socks5":
			// ok
		default:
			return fmt.Errorf("proxy scheme must be http or socks5")
		}
		if u.Host == "" {
			return fmt.Errorf("proxy URL must include host:port")
		}
	}
	return nil
}

// ProxyURL parses the configured proxy, nil when unset.
func (c Config) ProxyURL() (*url.URL, error) {
	if c.Proxy == "" {
		return nil, nil
	}
	u, err := url.Parse(c.Proxy)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	return u, nil
}

// DirectoryRetryCount is the configured retry count, 1 when unset.
func (c Config) DirectoryRetryCount() int {
	if c.DirectoryRetries == nil {
		return 1
	}
	return *c.DirectoryRetries
}

func (c Config) ModelCacheTTL() time.Duration {
	return time.Duration(c.ModelCacheTTLSeconds) * time.Second
}

func (c Config) AITimeout() time.Duration {
	return time.Duration(c.AITimeoutSeconds) * time.Second
}

func (c Config) WeatherTimeout() time.Duration {
	return time.Duration(c.WeatherTimeoutSeconds) * time.Second
}

func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}
