// Package config loads the operator-provided pipeline configuration: a
// YAML file for feed sources, whitelist and thresholds, with env-var
// overrides for addresses and broker endpoints. The file is reloadable
// without restart.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"threatpipe/internal/feed"
	"threatpipe/internal/lifecycle"
)

// Config is the full pipeline configuration.
type Config struct {
	HTTPAddr    string `yaml:"http_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
	DataDir     string `yaml:"data_dir"`
	NATSURL     string `yaml:"nats_url"`

	Kafka struct {
		Brokers        []string `yaml:"brokers"`
		TelemetryTopic string   `yaml:"telemetry_topic"`
		SIEMTopic      string   `yaml:"siem_topic"`
		Group          string   `yaml:"group"`
	} `yaml:"kafka"`

	Detection struct {
		MinConfidence float64 `yaml:"min_confidence"`
	} `yaml:"detection"`

	Merge struct {
		Additive bool `yaml:"additive"`
	} `yaml:"merge"`

	Aging struct {
		Decay           float64       `yaml:"decay"`
		SweepInterval   feed.Duration `yaml:"sweep_interval"`
		ArchiveInterval feed.Duration `yaml:"archive_interval"`
	} `yaml:"aging"`

	Respond struct {
		AutoThreshold   float64       `yaml:"auto_threshold"`
		SuppressFloor   float64       `yaml:"suppress_floor"`
		MaxAttempts     uint64        `yaml:"max_attempts"`
		ActionTimeout   feed.Duration `yaml:"action_timeout"`
		CollaboratorURL string        `yaml:"collaborator_url"`
	} `yaml:"respond"`

	Enrich struct {
		Timeout            feed.Duration     `yaml:"timeout"`
		CacheSize          int               `yaml:"cache_size"`
		CacheTTL           feed.Duration     `yaml:"cache_ttl"`
		ReputationURL      string            `yaml:"reputation_url"`
		ReputationTokenEnv string            `yaml:"reputation_token_env"`
		GeoTable           map[string]string `yaml:"geo_table"`
	} `yaml:"enrich"`

	Hot struct {
		Capacity int `yaml:"capacity"`
	} `yaml:"hot"`

	Feeds     []feed.Source              `yaml:"feeds"`
	Whitelist []lifecycle.WhitelistEntry `yaml:"whitelist"`
}

// Load reads the YAML file at path and applies env overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getEnv("TP_HTTP_ADDR", c.HTTPAddr)
	c.MetricsAddr = getEnv("TP_METRICS_ADDR", c.MetricsAddr)
	c.DataDir = getEnv("TP_DATA_DIR", c.DataDir)
	c.NATSURL = getEnv("TP_NATS_URL", c.NATSURL)
	if v := os.Getenv("TP_KAFKA_BROKERS"); v != "" {
		c.Kafka.Brokers = strings.Split(v, ",")
	}
}

func (c *Config) applyDefaults() {
	if c.HTTPAddr == "" {
		c.HTTPAddr = ":8080"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.Hot.Capacity <= 0 {
		c.Hot.Capacity = 100000
	}
	if c.Detection.MinConfidence <= 0 {
		c.Detection.MinConfidence = 0.6
	}
	if c.Kafka.Group == "" {
		c.Kafka.Group = "threatpipe"
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Feeds))
	for _, src := range c.Feeds {
		if src.Name == "" {
			return fmt.Errorf("feed source with empty name")
		}
		if _, dup := seen[src.Name]; dup {
			return fmt.Errorf("duplicate feed source %q", src.Name)
		}
		seen[src.Name] = struct{}{}
		if src.URL == "" {
			return fmt.Errorf("feed source %s: empty url", src.Name)
		}
	}
	return nil
}

func getEnv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
