// Package config resolves storage settings with the precedence
// CLI flag > environment > config file > default.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/ldi/butler/internal/storage"
)

// Environment variables honored at resolve time.
const (
	EnvFormat = "BUTLER_FORMAT"
	EnvDir    = "BUTLER_DIR"
)

type storageSection struct {
	Format string `toml:"format,omitempty"`
	Dir    string `toml:"dir,omitempty"`
}

type fileConfig struct {
	Storage storageSection `toml:"storage"`
}

// Config wraps the on-disk TOML file plus the resolution rules. A missing or
// unreadable file behaves as an empty one.
type Config struct {
	path string
	file fileConfig
}

// DefaultPath returns ~/.butler/config.toml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".butler", "config.toml")
	}
	return filepath.Join(home, ".butler", "config.toml")
}

// Load reads the default config file.
func Load() *Config {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads a specific config file. Decode errors are swallowed so a
// broken config never blocks the CLI; the file simply contributes nothing.
func LoadFrom(path string) *Config {
	c := &Config{path: path}
	if _, err := toml.DecodeFile(path, &c.file); err != nil {
		c.file = fileConfig{}
	}
	return c
}

// Format resolves the storage format. cliFormat wins when it names a valid
// format; invalid values fall through to the next source.
func (c *Config) Format(cliFormat string) storage.Format {
	for _, candidate := range []string{cliFormat, os.Getenv(EnvFormat), c.file.Storage.Format} {
		if f, ok := storage.ParseFormat(candidate); ok {
			return f
		}
	}
	return storage.FormatFrontmatter
}

// StorageDir resolves the task directory.
func (c *Config) StorageDir(cliDir string) string {
	if cliDir != "" {
		return cliDir
	}
	if dir := os.Getenv(EnvDir); dir != "" {
		return dir
	}
	if c.file.Storage.Dir != "" {
		return c.file.Storage.Dir
	}
	return filepath.Join(filepath.Dir(c.path), "tasks")
}

// Get returns the file value for a dotted key like "storage.format".
func (c *Config) Get(key string) (string, bool) {
	switch key {
	case "storage.format":
		return c.file.Storage.Format, c.file.Storage.Format != ""
	case "storage.dir":
		return c.file.Storage.Dir, c.file.Storage.Dir != ""
	}
	return "", false
}

// Set updates a dotted key in memory. Save persists it.
func (c *Config) Set(key, value string) error {
	switch key {
	case "storage.format":
		if _, ok := storage.ParseFormat(value); !ok {
			return fmt.Errorf("invalid format %q: must be %q or %q",
				value, storage.FormatFrontmatter, storage.FormatHybrid)
		}
		c.file.Storage.Format = value
	case "storage.dir":
		c.file.Storage.Dir = value
	default:
		return fmt.Errorf("unknown config key: %s", key)
	}
	return nil
}

// All returns every set file value, keyed by dotted name.
func (c *Config) All() map[string]string {
	out := map[string]string{}
	if c.file.Storage.Format != "" {
		out["storage.format"] = c.file.Storage.Format
	}
	if c.file.Storage.Dir != "" {
		out["storage.dir"] = c.file.Storage.Dir
	}
	return out
}

// Save writes the config file, creating its directory on first use.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	f, err := os.Create(c.path)
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(c.file); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
