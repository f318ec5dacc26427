package config

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/veesix-networks/cmopt122/pkg/ipv4"
	"github.com/veesix-networks/cmopt122/pkg/logger"
	"gopkg.in/yaml.v3"
)

const (
	DefaultQueueNum      = 67
	DefaultMaxQueueLen   = 1024
	DefaultMaxPacketLen  = 0xFFFF
	DefaultWriteTimeout  = 15 * time.Millisecond
	DefaultListenAddress = ":9122"
	DefaultAuditTTL      = time.Hour

	// A DHCP reply needs the IPv4, UDP and BOOTP headers plus the cookie.
	minPacketLen = 20 + 8 + 240
)

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(logger.LogLevelInfo)
	}
	if c.Queue.Num == 0 {
		c.Queue.Num = DefaultQueueNum
	}
	if c.Queue.MaxQueueLen == 0 {
		c.Queue.MaxQueueLen = DefaultMaxQueueLen
	}
	if c.Queue.MaxPacketLen == 0 {
		c.Queue.MaxPacketLen = DefaultMaxPacketLen
	}
	if c.Queue.WriteTimeout == 0 {
		c.Queue.WriteTimeout = DefaultWriteTimeout
	}
	if c.Checksum == "" {
		c.Checksum = ipv4.ChecksumRecompute
	}
	if c.Metrics.ListenAddress == "" {
		c.Metrics.ListenAddress = DefaultListenAddress
	}
	if c.Audit.TTL == 0 {
		c.Audit.TTL = DefaultAuditTTL
	}
}

func (c *Config) Validate() error {
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format: unsupported format '%s'", c.Logging.Format)
	}

	if !logger.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("logging.level: unknown level '%s'", c.Logging.Level)
	}
	for name, level := range c.Logging.Components {
		if !logger.ValidLevel(level) {
			return fmt.Errorf("logging.components.%s: unknown level '%s'", name, level)
		}
	}

	if c.Queue.MaxPacketLen < minPacketLen {
		return fmt.Errorf("queue.max_packet_len: %d is too small to hold a dhcp reply", c.Queue.MaxPacketLen)
	}

	if c.Queue.WriteTimeout < 0 {
		return fmt.Errorf("queue.write_timeout: must not be negative")
	}

	seen := make(map[string]bool, len(c.Queue.Interfaces))
	for i, name := range c.Queue.Interfaces {
		if name == "" {
			return fmt.Errorf("queue.interfaces[%d]: empty interface name", i)
		}
		if seen[name] {
			return fmt.Errorf("queue.interfaces[%d]: duplicate interface '%s'", i, name)
		}
		seen[name] = true
	}

	if !c.Checksum.Valid() {
		return fmt.Errorf("checksum: unknown mode '%s'", c.Checksum)
	}

	if c.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(c.Metrics.ListenAddress); err != nil {
			return fmt.Errorf("metrics.listen_address: %w", err)
		}
	}

	if c.Audit.TTL < 0 {
		return fmt.Errorf("audit.ttl: must not be negative")
	}

	return nil
}

func (c *Config) LogComponents() map[string]logger.LogLevel {
	out := make(map[string]logger.LogLevel, len(c.Logging.Components))
	for name, level := range c.Logging.Components {
		out[name] = logger.LogLevel(level)
	}
	return out
}
