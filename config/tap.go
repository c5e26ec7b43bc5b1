package config

import (
	"path/filepath"

	"github.com/projecteru2/pupa/utils"
)

// EnsureTapDirs creates the directories required by the TAP network provider.
func (c *Config) EnsureTapDirs() error {
	return utils.EnsureDirs(c.tapDBDir())
}

func (c *Config) tapDir() string   { return filepath.Join(c.RootDir, "tap") }
func (c *Config) tapDBDir() string { return filepath.Join(c.tapDir(), "db") }

// TapIndexFile and TapIndexLock are the TAP allocation index store paths.
func (c *Config) TapIndexFile() string { return filepath.Join(c.tapDBDir(), "taps.json") }
func (c *Config) TapIndexLock() string { return filepath.Join(c.tapDBDir(), "taps.lock") }
