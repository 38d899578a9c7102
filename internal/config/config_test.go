package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, int32(400), c.BlockSize)
	assert.Equal(t, int32(8), c.BufferCount)
	assert.Equal(t, 10*time.Second, c.MaxWait)
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockdb.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
directory = "/var/lib/blockdb"
block_size = 4096
buffer_count = 64
max_wait = "250ms"
log_level = "debug"
log_format = "json"
`), 0644))

	c := Default()
	require.NoError(t, c.Load(path))
	require.NoError(t, c.Validate())

	assert.Equal(t, "/var/lib/blockdb", c.Directory)
	assert.Equal(t, int32(4096), c.BlockSize)
	assert.Equal(t, int32(64), c.BufferCount)
	assert.Equal(t, 250*time.Millisecond, c.MaxWait)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "json", c.Log.Format)
	assert.Equal(t, "blockdb.log", c.LogFile, "unset variables keep their defaults")
}

func TestLoad_Errors(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown variable", `colour = "blue"`},
		{"wrong type", `block_size = "big"`},
		{"bad duration", `max_wait = "soon"`},
		{"bad syntax", `block_size = {`},
		{"unterminated string", `directory = "/var/lib`},
		{"too large", `block_size = 5000000000`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			assert.Error(t, c.decode([]byte(tc.body), nil))
		})
	}

	c := Default()
	assert.Error(t, c.Load(filepath.Join(t.TempDir(), "missing.hcl")))
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty directory", func(c *Config) { c.Directory = "" }},
		{"tiny block", func(c *Config) { c.BlockSize = 16 }},
		{"no buffers", func(c *Config) { c.BufferCount = 0 }},
		{"empty log file", func(c *Config) { c.LogFile = "" }},
		{"zero wait", func(c *Config) { c.MaxWait = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Default()
			tc.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestLoadExcept(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockdb.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
block_size = 4096
buffer_count = 64
`), 0644))

	c := Default()
	c.BufferCount = 3 // given on the command line
	require.NoError(t, c.LoadExcept(path, func(name string) bool { return name == "buffer_count" }))

	assert.Equal(t, int32(4096), c.BlockSize)
	assert.Equal(t, int32(3), c.BufferCount)
}
