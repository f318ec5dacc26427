package config

import (
	"time"

	"github.com/veesix-networks/cmopt122/pkg/ipv4"
)

type Config struct {
	Logging  Logging           `yaml:"logging"`
	Queue    Queue             `yaml:"queue"`
	Checksum ipv4.ChecksumMode `yaml:"checksum,omitempty"`
	Metrics  Metrics           `yaml:"metrics,omitempty"`
	Audit    Audit             `yaml:"audit,omitempty"`
}

type Logging struct {
	Format     string            `yaml:"format"`
	Level      string            `yaml:"level"`
	Components map[string]string `yaml:"components,omitempty"`
}

// Queue describes the netfilter queue the daemon binds to. Traffic is steered
// into it by an iptables/nftables rule owned by the operator, e.g.
//
//	iptables -t mangle -A POSTROUTING -p udp --sport 67 -j NFQUEUE --queue-num 67 --queue-bypass
type Queue struct {
	Num          uint16        `yaml:"num"`
	MaxQueueLen  uint32        `yaml:"max_queue_len,omitempty"`
	MaxPacketLen uint32        `yaml:"max_packet_len,omitempty"`
	FailOpen     *bool         `yaml:"fail_open,omitempty"`
	WriteTimeout time.Duration `yaml:"write_timeout,omitempty"`
	Namespace    string        `yaml:"namespace,omitempty"`
	Interfaces   []string      `yaml:"interfaces,omitempty"`
}

func (q Queue) IsFailOpen() bool {
	return q.FailOpen == nil || *q.FailOpen
}

type Metrics struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address,omitempty"`
}

type Audit struct {
	Enabled bool          `yaml:"enabled"`
	TTL     time.Duration `yaml:"ttl,omitempty"`
}
