package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/reversinet/link/internal/protocol"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Peer     PeerConfig     `toml:"peer" yaml:"peer"`
	Network  NetworkConfig  `toml:"network" yaml:"network"`
	Sequence SequenceConfig `toml:"sequence" yaml:"sequence"`
	Logging  LoggingConfig  `toml:"logging" yaml:"logging"`
	Journal  JournalConfig  `toml:"journal" yaml:"journal"`
	Script   ScriptConfig   `toml:"script" yaml:"script"`
}

type PeerConfig struct {
	Name         string `toml:"name" yaml:"name"`
	RejectReason string `toml:"reject_reason" yaml:"reject_reason"` // syn of the busy-server rejection
}

type NetworkConfig struct {
	BindAddress    string        `toml:"bind_address" yaml:"bind_address"`
	ConnectTimeout time.Duration `toml:"connect_timeout" yaml:"connect_timeout"`
	RejectTimeout  time.Duration `toml:"reject_timeout" yaml:"reject_timeout"`
	WriteTimeout   time.Duration `toml:"write_timeout" yaml:"write_timeout"`
	ReadChunkSize  int           `toml:"read_chunk_size" yaml:"read_chunk_size"`
	InQueueSize    int           `toml:"in_queue_size" yaml:"in_queue_size"`
	OutQueueSize   int           `toml:"out_queue_size" yaml:"out_queue_size"`
	EventQueueSize int           `toml:"event_queue_size" yaml:"event_queue_size"`
	AcceptBacklog  int           `toml:"accept_backlog" yaml:"accept_backlog"`
	MaxFrameSize   int           `toml:"max_frame_size" yaml:"max_frame_size"`
}

// SequenceConfig holds the per-role starting offsets of the sequence
// counters. The two origins must differ by one so the peers interleave.
type SequenceConfig struct {
	ClientOrigin int `toml:"client_origin" yaml:"client_origin"`
	ServerOrigin int `toml:"server_origin" yaml:"server_origin"`
	Stride       int `toml:"stride" yaml:"stride"`
}

type LoggingConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"` // "json" or "console"
}

// JournalConfig enables the Postgres match journal when DSN is set.
type JournalConfig struct {
	DSN           string        `toml:"dsn" yaml:"dsn"`
	MaxConns      int           `toml:"max_conns" yaml:"max_conns"`
	BufferSize    int           `toml:"buffer_size" yaml:"buffer_size"`
	BatchSize     int           `toml:"batch_size" yaml:"batch_size"`
	FlushInterval time.Duration `toml:"flush_interval" yaml:"flush_interval"`
}

type ScriptConfig struct {
	Path string `toml:"path" yaml:"path"`
}

// For returns the sequence settings of one role.
func (c SequenceConfig) For(role protocol.Role) protocol.SequenceConfig {
	origin := c.ClientOrigin
	if role == protocol.RoleServer {
		origin = c.ServerOrigin
	}
	return protocol.SequenceConfig{Origin: origin, Stride: c.Stride}
}

// Load reads a TOML file, or YAML when the extension is .yaml/.yml, over
// the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadOptional is Load, except that a missing file yields the defaults.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Defaults(), nil
	}
	return cfg, err
}

func (c *Config) Validate() error {
	if c.Sequence.Stride <= 0 {
		return fmt.Errorf("sequence.stride must be positive, got %d", c.Sequence.Stride)
	}
	if d := c.Sequence.ClientOrigin - c.Sequence.ServerOrigin; d != 1 && d != -1 {
		return fmt.Errorf("sequence origins must differ by one, got client=%d server=%d",
			c.Sequence.ClientOrigin, c.Sequence.ServerOrigin)
	}
	if c.Network.ConnectTimeout <= 0 {
		return fmt.Errorf("network.connect_timeout must be positive")
	}
	if c.Network.MaxFrameSize <= 0 {
		return fmt.Errorf("network.max_frame_size must be positive")
	}
	return nil
}

func Defaults() *Config {
	return &Config{
		Peer: PeerConfig{
			RejectReason: "server already in use",
		},
		Network: NetworkConfig{
			BindAddress:    "0.0.0.0:0",
			ConnectTimeout: 3 * time.Second,
			RejectTimeout:  3 * time.Second,
			WriteTimeout:   10 * time.Second,
			ReadChunkSize:  4096,
			InQueueSize:    64,
			OutQueueSize:   64,
			EventQueueSize: 64,
			AcceptBacklog:  8,
			MaxFrameSize:   1 << 20,
		},
		Sequence: SequenceConfig{
			ClientOrigin: protocol.ClientOrigin,
			ServerOrigin: protocol.ServerOrigin,
			Stride:       protocol.DefaultStride,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Journal: JournalConfig{
			MaxConns:      4,
			BufferSize:    256,
			BatchSize:     32,
			FlushInterval: 2 * time.Second,
		},
	}
}
