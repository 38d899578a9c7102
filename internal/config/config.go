// Package config holds the settings of a blockdb database instance and
// loads them from HCL files.
package config

import (
	"fmt"
	"math"
	"os"
	"time"

	"github.com/hashicorp/hcl"

	"blockdb/internal/logger"
)

// Config is the full configuration of a database instance.
type Config struct {
	Directory   string
	BlockSize   int32
	BufferCount int32
	LogFile     string
	MaxWait     time.Duration
	MetricsAddr string
	Log         logger.Config
}

// minBlockSize leaves room for a log block boundary plus a commit record.
const minBlockSize = 64

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Directory:   "blockdb-data",
		BlockSize:   400,
		BufferCount: 8,
		LogFile:     "blockdb.log",
		MaxWait:     10 * time.Second,
		Log: logger.Config{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads an HCL file and overrides the fields it names.
func (c *Config) Load(path string) error {
	return c.LoadExcept(path, nil)
}

// LoadExcept is like Load but leaves alone the variables for which isSet
// reports true. The command line uses it so that explicit flags win over
// the file.
func (c *Config) LoadExcept(path string, isSet func(name string) bool) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := c.decode(b, isSet); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func (c *Config) decode(b []byte, isSet func(name string) bool) error {
	var raw map[string]interface{}
	if err := hcl.Decode(&raw, string(b)); err != nil {
		return err
	}

	for name, val := range raw {
		if isSet != nil && isSet(name) {
			continue
		}
		if err := c.Set(name, val); err != nil {
			return err
		}
	}
	return nil
}

// Set assigns one variable by its config-file name.
func (c *Config) Set(name string, val interface{}) error {
	var err error
	switch name {
	case "directory":
		c.Directory, err = toString(name, val)
	case "log_file":
		c.LogFile, err = toString(name, val)
	case "metrics_addr":
		c.MetricsAddr, err = toString(name, val)
	case "log_level":
		c.Log.Level, err = toString(name, val)
	case "log_format":
		c.Log.Format, err = toString(name, val)
	case "log_output":
		c.Log.OutputFile, err = toString(name, val)
	case "block_size":
		c.BlockSize, err = toInt32(name, val)
	case "buffer_count":
		c.BufferCount, err = toInt32(name, val)
	case "max_wait":
		var s string
		if s, err = toString(name, val); err == nil {
			c.MaxWait, err = time.ParseDuration(s)
			if err != nil {
				err = fmt.Errorf("%s: %w", name, err)
			}
		}
	default:
		err = fmt.Errorf("%s is not a config variable", name)
	}
	return err
}

// Validate reports the first setting that cannot be used.
func (c *Config) Validate() error {
	switch {
	case c.Directory == "":
		return fmt.Errorf("directory must be set")
	case c.BlockSize < minBlockSize:
		return fmt.Errorf("block_size must be at least %d, got %d", minBlockSize, c.BlockSize)
	case c.BufferCount < 1:
		return fmt.Errorf("buffer_count must be at least 1, got %d", c.BufferCount)
	case c.LogFile == "":
		return fmt.Errorf("log_file must be set")
	case c.MaxWait <= 0:
		return fmt.Errorf("max_wait must be positive, got %s", c.MaxWait)
	}
	return nil
}

func toString(name string, val interface{}) (string, error) {
	s, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("%s: expected string value; got %v", name, val)
	}
	return s, nil
}

func toInt32(name string, val interface{}) (int32, error) {
	switch n := val.(type) {
	case int:
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
		return 0, fmt.Errorf("%s: %d is out of range", name, n)
	case int64:
		if n >= math.MinInt32 && n <= math.MaxInt32 {
			return int32(n), nil
		}
		return 0, fmt.Errorf("%s: %d is out of range", name, n)
	case float64:
		if n == float64(int32(n)) {
			return int32(n), nil
		}
	}
	return 0, fmt.Errorf("%s: expected integer value; got %v", name, val)
}
