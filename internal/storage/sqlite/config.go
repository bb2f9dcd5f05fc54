package sqlite

import (
	"fmt"
	"strings"
)

type Config struct {
	DatabasePath  string
	BusyTimeoutMS int
}

func (c *Config) Validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database path is required")
	}
	if c.BusyTimeoutMS < 0 {
		return fmt.Errorf("busy timeout must not be negative")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

// GetConnectionString appends go-sqlite3 DSN parameters to the path
func (c *Config) GetConnectionString() string {
	timeout := c.BusyTimeoutMS
	if timeout == 0 {
		timeout = 5000
	}
	sep := "?"
	if strings.Contains(c.DatabasePath, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%s_busy_timeout=%d", c.DatabasePath, sep, timeout)
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./melody_map.db",
	}
}
