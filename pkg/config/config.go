package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/srg/blepeer/internal/gatt"
)

// Output formats understood by the CLI renderers.
const (
	FormatTree = "tree"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Pools sizes the record arenas shared by all peers.
type Pools struct {
	Peers           int `yaml:"peers" json:"peers" default:"8"`
	Services        int `yaml:"services" json:"services" default:"64"`
	Characteristics int `yaml:"characteristics" json:"characteristics" default:"256"`
	Descriptors     int `yaml:"descriptors" json:"descriptors" default:"256"`
}

// Config holds application configuration
type Config struct {
	LogLevel         logrus.Level  `yaml:"-" json:"log_level"`
	LogLevelName     string        `yaml:"log_level" json:"-" default:"info"`
	Pools            Pools         `yaml:"pools" json:"pools"`
	EventQueueDepth  int           `yaml:"event_queue_depth" json:"event_queue_depth" default:"64"`
	EventHistory     int           `yaml:"event_history" json:"event_history" default:"1024"`
	ProcedureTimeout time.Duration `yaml:"procedure_timeout" json:"procedure_timeout" default:"10s"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout" json:"connect_timeout" default:"30s"`
	ScanDuration     time.Duration `yaml:"scan_duration" json:"scan_duration" default:"10s"`
	OutputFormat     string        `yaml:"output_format" json:"output_format" default:"tree"`
}

// DefaultConfig returns default configuration values
func DefaultConfig() *Config {
	cfg := &Config{}
	defaults.SetDefaults(cfg)
	cfg.LogLevel = logrus.InfoLevel
	return cfg
}

// Load overlays the YAML file at path onto the defaults. Fields absent from the
// file keep their default values. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := cfg.Parse(data); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Parse overlays YAML data onto c and validates the result.
func (c *Config) Parse(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}

	level, err := logrus.ParseLevel(c.LogLevelName)
	if err != nil {
		return err
	}
	c.LogLevel = level
	c.OutputFormat = strings.ToLower(c.OutputFormat)

	return c.Validate()
}

// Validate rejects capacities and limits the registry cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if err := c.Capacity().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.EventQueueDepth <= 0 {
		errs = append(errs, fmt.Errorf("event_queue_depth must be positive, got %d", c.EventQueueDepth))
	}
	if c.EventHistory <= 0 {
		errs = append(errs, fmt.Errorf("event_history must be positive, got %d", c.EventHistory))
	}
	if c.ProcedureTimeout <= 0 {
		errs = append(errs, fmt.Errorf("procedure_timeout must be positive, got %s", c.ProcedureTimeout))
	}
	if c.ConnectTimeout <= 0 {
		errs = append(errs, fmt.Errorf("connect_timeout must be positive, got %s", c.ConnectTimeout))
	}
	if c.ScanDuration < 0 {
		errs = append(errs, fmt.Errorf("scan_duration must not be negative, got %s", c.ScanDuration))
	}
	switch c.OutputFormat {
	case FormatTree, FormatJSON, FormatYAML:
	default:
		errs = append(errs, fmt.Errorf("unsupported output_format %q", c.OutputFormat))
	}
	return errors.Join(errs...)
}

// Capacity converts the pool sizes to registry capacities.
func (c *Config) Capacity() gatt.Capacity {
	return gatt.Capacity{
		MaxPeers:           c.Pools.Peers,
		MaxServices:        c.Pools.Services,
		MaxCharacteristics: c.Pools.Characteristics,
		MaxDescriptors:     c.Pools.Descriptors,
	}
}

// NewLogger creates a configured logger instance
func (c *Config) NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(c.LogLevel)

	// Use structured logging format
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339,
	})

	return logger
}
