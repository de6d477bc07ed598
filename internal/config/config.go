package config

import (
	"fmt"
	"time"

	"github.com/corvusdb/corvus/internal/cnet"
	tls_config "github.com/corvusdb/corvus/internal/config/tls"
	"github.com/corvusdb/corvus/internal/observability"
)

type Config struct {
	Log           LogConfig            `yaml:"log"`
	Server        ServerConfig         `yaml:"server"`
	Observability observability.Config `yaml:"observability"`
}

type ServerConfig struct {
	Addr            string               `yaml:"addr"`
	WriteDeadline   time.Duration        `yaml:"write_deadline"`
	ShutdownTimeout time.Duration        `yaml:"shutdown_timeout"`
	CommandHandlers int                  `yaml:"command_handlers"`
	TLS             tls_config.TLSConfig `yaml:"tls"`

	CachedObjects      int    `yaml:"cached_objects"`
	ResultSetFetchSize int    `yaml:"result_set_fetch_size"`
	IOBufferSize       int    `yaml:"io_buffer_size"`
	MaxPacketSize      int    `yaml:"max_packet_size"`
	BaseDir            string `yaml:"base_dir"`
	IfExists           bool   `yaml:"if_exists"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	Type  string `yaml:"type"`
}

func (c *Config) SetDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":9210"
	}

	if c.Server.WriteDeadline == 0 {
		c.Server.WriteDeadline = 10 * time.Second
	}

	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.Server.CommandHandlers == 0 {
		c.Server.CommandHandlers = 16
	}

	if c.Server.CachedObjects == 0 {
		c.Server.CachedObjects = 64
	}

	if c.Server.ResultSetFetchSize == 0 {
		c.Server.ResultSetFetchSize = 100
	}

	if c.Server.IOBufferSize == 0 {
		c.Server.IOBufferSize = 4096
	}

	if c.Server.MaxPacketSize == 0 {
		c.Server.MaxPacketSize = 16 * 1024 * 1024
	}
}

// ParseServerConfig resolves the yaml config into the server's runtime
// config, including TLS material.
func (c *Config) ParseServerConfig() (*cnet.ServerConfig, error) {
	tlsConf, err := c.Server.TLS.Parse()
	if err != nil {
		return nil, fmt.Errorf("parse TLS conf: %w", err)
	}

	return &cnet.ServerConfig{
		Addr:            c.Server.Addr,
		WriteDeadline:   c.Server.WriteDeadline,
		ShutdownTimeout: c.Server.ShutdownTimeout,
		CommandHandlers: c.Server.CommandHandlers,
		TLS:             tlsConf,
		Conn: cnet.Options{
			CachedObjects:      c.Server.CachedObjects,
			ResultSetFetchSize: c.Server.ResultSetFetchSize,
			IOBufferSize:       c.Server.IOBufferSize,
			MaxPacketSize:      c.Server.MaxPacketSize,
			BaseDir:            c.Server.BaseDir,
			IfExists:           c.Server.IfExists,
		},
	}, nil
}
