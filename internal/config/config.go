// Package config loads the server configuration from retroboard.json
// and fills in defaults for anything the file leaves unset.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// ConfigFileName is the default configuration file name.
const ConfigFileName = "retroboard.json"

// Defaults for unset fields.
const (
	DefaultAddress   = ":8080"
	DefaultStaticDir = "static"
	DefaultNamespace = "retroboard"

	defaultReadBufferSize  = 4096
	defaultWriteBufferSize = 4096
	defaultSendBuffer      = 64
	defaultWriteTimeout    = 10 // seconds
	defaultShutdownTimeout = 10 // seconds
)

// DefaultColumns is the classic retro column set used when the file
// does not configure its own.
var DefaultColumns = []string{"went-well", "to-improve", "action-items"}

// Config is the retroboard.json schema.
type Config struct {
	// Address is the host:port the server listens on.
	Address string `json:"address,omitempty"`

	// StaticDir is the directory of entry-page assets served at /.
	StaticDir string `json:"staticDir,omitempty"`

	// Columns is the board's fixed column set, in display order.
	Columns []string `json:"columns,omitempty"`

	// MetricsNamespace prefixes all Prometheus metric names.
	MetricsNamespace string `json:"metricsNamespace,omitempty"`

	// ReadBufferSize and WriteBufferSize size the WebSocket buffers.
	ReadBufferSize  int `json:"readBufferSize,omitempty"`
	WriteBufferSize int `json:"writeBufferSize,omitempty"`

	// SendBuffer is the per-session outbound queue length. A session
	// that falls this far behind the broadcast stream is dropped and
	// recovers via snapshot on rejoin.
	SendBuffer int `json:"sendBuffer,omitempty"`

	// WriteTimeoutSeconds bounds a single WebSocket write.
	WriteTimeoutSeconds int `json:"writeTimeoutSeconds,omitempty"`

	// ShutdownTimeoutSeconds bounds graceful shutdown.
	ShutdownTimeoutSeconds int `json:"shutdownTimeoutSeconds,omitempty"`
}

// Default returns a fully populated default configuration.
func Default() *Config {
	return &Config{
		Address:                DefaultAddress,
		StaticDir:              DefaultStaticDir,
		Columns:                append([]string(nil), DefaultColumns...),
		MetricsNamespace:       DefaultNamespace,
		ReadBufferSize:         defaultReadBufferSize,
		WriteBufferSize:        defaultWriteBufferSize,
		SendBuffer:             defaultSendBuffer,
		WriteTimeoutSeconds:    defaultWriteTimeout,
		ShutdownTimeoutSeconds: defaultShutdownTimeout,
	}
}

// Load reads the configuration file at path. A missing file is not an
// error: defaults are returned. Unset fields are defaulted.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var file Config
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.merge(&file)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) merge(o *Config) {
	if o.Address != "" {
		c.Address = o.Address
	}
	if o.StaticDir != "" {
		c.StaticDir = o.StaticDir
	}
	if len(o.Columns) > 0 {
		c.Columns = append([]string(nil), o.Columns...)
	}
	if o.MetricsNamespace != "" {
		c.MetricsNamespace = o.MetricsNamespace
	}
	if o.ReadBufferSize > 0 {
		c.ReadBufferSize = o.ReadBufferSize
	}
	if o.WriteBufferSize > 0 {
		c.WriteBufferSize = o.WriteBufferSize
	}
	if o.SendBuffer > 0 {
		c.SendBuffer = o.SendBuffer
	}
	if o.WriteTimeoutSeconds > 0 {
		c.WriteTimeoutSeconds = o.WriteTimeoutSeconds
	}
	if o.ShutdownTimeoutSeconds > 0 {
		c.ShutdownTimeoutSeconds = o.ShutdownTimeoutSeconds
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if len(c.Columns) == 0 {
		return fmt.Errorf("config: at least one column is required")
	}
	seen := make(map[string]struct{}, len(c.Columns))
	for _, col := range c.Columns {
		if col == "" {
			return fmt.Errorf("config: column identifiers must not be empty")
		}
		if _, dup := seen[col]; dup {
			return fmt.Errorf("config: duplicate column %q", col)
		}
		seen[col] = struct{}{}
	}
	return nil
}

// WriteTimeout returns the per-write deadline.
func (c *Config) WriteTimeout() time.Duration {
	return time.Duration(c.WriteTimeoutSeconds) * time.Second
}

// ShutdownTimeout returns the graceful shutdown bound.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.ShutdownTimeoutSeconds) * time.Second
}
