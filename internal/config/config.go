package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML structure for the service.
type Config struct {
	Redis      RedisConf      `yaml:"redis"`
	Streams    StreamsConf    `yaml:"streams"`
	Consumer   ConsumerConf   `yaml:"consumer"`
	Retry      RetryConf      `yaml:"retry"`
	Automation AutomationConf `yaml:"automation"`
}

// RedisConf holds broker connection settings.
type RedisConf struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StreamsConf names the three logical streams.
type StreamsConf struct {
	Domain    string `yaml:"domain"`
	Technical string `yaml:"technical"`
	Failed    string `yaml:"failed"`
}

// ConsumerConf holds read-loop tunables.
type ConsumerConf struct {
	// ClaimIdleMs is the pending-idle threshold before a message may be
	// claimed from another consumer.
	ClaimIdleMs int `yaml:"claim_idle_ms"`
}

// RetryConf configures the per-message backoff policy.
type RetryConf struct {
	MaxAttempts int `yaml:"max_attempts"`
	InitialMs   int `yaml:"initial_ms"`
	CapMs       int `yaml:"cap_ms"`
}

// AutomationConf configures the rule engine binding.
type AutomationConf struct {
	// ConsumerName is this instance's name within the automation group;
	// defaults to the hostname.
	ConsumerName string `yaml:"consumer_name"`
	// EventTypes filters which events reach the engine; empty = all.
	EventTypes []string `yaml:"event_types"`
	// RulesFile is the YAML rule definitions path.
	RulesFile string `yaml:"rules_file"`
}

// Load reads and parses the config file, applying defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Streams.Domain == "" {
		c.Streams.Domain = "events:domain"
	}
	if c.Streams.Technical == "" {
		c.Streams.Technical = "events:technical"
	}
	if c.Streams.Failed == "" {
		c.Streams.Failed = "events:failed"
	}
	if c.Consumer.ClaimIdleMs == 0 {
		c.Consumer.ClaimIdleMs = 60000
	}
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = 5
	}
	if c.Retry.InitialMs == 0 {
		c.Retry.InitialMs = 1000
	}
	if c.Retry.CapMs == 0 {
		c.Retry.CapMs = 30000
	}
	if c.Automation.ConsumerName == "" {
		host, err := os.Hostname()
		if err != nil || host == "" {
			host = "pulse"
		}
		c.Automation.ConsumerName = host
	}
	if c.Automation.RulesFile == "" {
		c.Automation.RulesFile = "configs/rules.yaml"
	}
}

// Validate rejects configurations that cannot work.
func Validate(c *Config) error {
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	names := []string{c.Streams.Domain, c.Streams.Technical, c.Streams.Failed}
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if strings.TrimSpace(n) == "" {
			return fmt.Errorf("stream names must be non-empty")
		}
		if seen[n] {
			return fmt.Errorf("stream name %q used twice", n)
		}
		seen[n] = true
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.InitialMs < 1 {
		return fmt.Errorf("retry.initial_ms must be positive")
	}
	return nil
}

// ClaimIdle returns the claim threshold as a duration.
func (c *ConsumerConf) ClaimIdle() time.Duration {
	return time.Duration(c.ClaimIdleMs) * time.Millisecond
}

// Backoff returns the retry schedule as durations.
func (c *RetryConf) Backoff() (initial, max time.Duration) {
	return time.Duration(c.InitialMs) * time.Millisecond, time.Duration(c.CapMs) * time.Millisecond
}
