package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerAddr         string
	TrustProxy         bool
	SiteOrigin         string   // site recorded on events; derived from the request when empty
	ForwardDestination string   // upstream for the reverse proxy; 404 when empty
	Outputs            []string // enabled sinks: log, kafka, postgres, sqlite, http
	MaxBodyBytes       int64    // bytes for /api/detect payloads
	ConfigFile         string

	SuspicionThreshold      float64
	HighConfidenceThreshold float64

	SessionWindow      time.Duration
	SessionMaxRequests int
	SessionMaxKeys     int

	EmitQueueSize int
	EmitAll       bool // emit human verdicts too, not only bots
}

// fileConfig mirrors Config for the optional YAML overlay. Pointer fields
// distinguish "absent" from zero values.
type fileConfig struct {
	ServerAddr         *string  `yaml:"server_addr"`
	TrustProxy         *bool    `yaml:"trust_proxy"`
	SiteOrigin         *string  `yaml:"site_origin"`
	ForwardDestination *string  `yaml:"forward_destination"`
	Outputs            []string `yaml:"outputs"`
	MaxBodyBytes       *int64   `yaml:"max_body_bytes"`

	Thresholds struct {
		Suspicion      *float64 `yaml:"suspicion"`
		HighConfidence *float64 `yaml:"high_confidence"`
	} `yaml:"thresholds"`

	Session struct {
		Window      *string `yaml:"window"`
		MaxRequests *int    `yaml:"max_requests"`
		MaxKeys     *int    `yaml:"max_keys"`
	} `yaml:"session"`

	Emit struct {
		QueueSize *int  `yaml:"queue_size"`
		All       *bool `yaml:"all"`
	} `yaml:"emit"`
}

func getOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getBool(k string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	switch v {
	case "1", "t", "true", "y", "yes":
		return true
	case "0", "f", "false", "n", "no":
		return false
	}
	return def
}
func getInt64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}
func getFloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
	}
	return def
}
func getDuration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}

func getStringSlice(k, def string) []string {
	v := os.Getenv(k)
	if v == "" {
		v = def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func Load() Config {
	return Config{
		ServerAddr:         getOr("SERVER_ADDR", ":19890"),
		TrustProxy:         getBool("TRUST_PROXY", false),
		SiteOrigin:         getOr("SITE_ORIGIN", ""),
		ForwardDestination: getOr("FORWARD_DESTINATION", ""),
		Outputs:            getStringSlice("OUTPUTS", "log"), // default to log only
		MaxBodyBytes:       getInt64("MAX_BODY_BYTES", 1<<20),
		ConfigFile:         getOr("CONFIG_FILE", ""),

		SuspicionThreshold:      getFloat("SUSPICION_THRESHOLD", 0.6),
		HighConfidenceThreshold: getFloat("HIGH_CONFIDENCE_THRESHOLD", 0.85),

		SessionWindow:      getDuration("SESSION_WINDOW", 5*time.Minute),
		SessionMaxRequests: int(getInt64("SESSION_MAX_REQUESTS", 20)),
		SessionMaxKeys:     int(getInt64("SESSION_MAX_KEYS", 50000)),

		EmitQueueSize: int(getInt64("EMIT_QUEUE_SIZE", 1024)),
		EmitAll:       getBool("EMIT_ALL", false),
	}
}

// LoadWithFile loads the environment and, when CONFIG_FILE is set, applies
// the YAML file on top of it.
func LoadWithFile() (Config, error) {
	cfg := Load()
	if cfg.ConfigFile == "" {
		return cfg, nil
	}
	if err := cfg.LoadFile(cfg.ConfigFile); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadFile overlays the keys present in the YAML file at path.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if fc.ServerAddr != nil {
		c.ServerAddr = *fc.ServerAddr
	}
	if fc.TrustProxy != nil {
		c.TrustProxy = *fc.TrustProxy
	}
	if fc.SiteOrigin != nil {
		c.SiteOrigin = *fc.SiteOrigin
	}
	if fc.ForwardDestination != nil {
		c.ForwardDestination = *fc.ForwardDestination
	}
	if fc.Outputs != nil {
		c.Outputs = fc.Outputs
	}
	if fc.MaxBodyBytes != nil {
		c.MaxBodyBytes = *fc.MaxBodyBytes
	}
	if fc.Thresholds.Suspicion != nil {
		c.SuspicionThreshold = *fc.Thresholds.Suspicion
	}
	if fc.Thresholds.HighConfidence != nil {
		c.HighConfidenceThreshold = *fc.Thresholds.HighConfidence
	}
	if fc.Session.Window != nil {
		d, err := time.ParseDuration(*fc.Session.Window)
		if err != nil {
			return fmt.Errorf("parse session.window: %w", err)
		}
		c.SessionWindow = d
	}
	if fc.Session.MaxRequests != nil {
		c.SessionMaxRequests = *fc.Session.MaxRequests
	}
	if fc.Session.MaxKeys != nil {
		c.SessionMaxKeys = *fc.Session.MaxKeys
	}
	if fc.Emit.QueueSize != nil {
		c.EmitQueueSize = *fc.Emit.QueueSize
	}
	if fc.Emit.All != nil {
		c.EmitAll = *fc.Emit.All
	}
	c.ConfigFile = path
	return nil
}
