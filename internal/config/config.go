// Package config reads the tuplex configuration file.
//
//	backend = "sqlite"
//	database = "shop.db"
//	format = "json"
//	verbosity = 1
//	collation = "nb"
//	cache_size = 256
//
// Every key is optional; missing keys keep their defaults.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
	errors "gopkg.in/src-d/go-errors.v1"

	"github.com/roach88/tuplex/internal/tuple"
)

// DefaultFile is read when no file is named and it exists in the working
// directory.
const DefaultFile = "tuplex.toml"

// ErrInvalid is returned for configurations with unknown keys or values
// out of range.
var ErrInvalid = errors.NewKind("invalid config %s: %s")

// IsInvalid reports whether err is, or wraps, ErrInvalid.
func IsInvalid(err error) bool { return tuple.IsKind(ErrInvalid, err) }

// Backends and Formats list the accepted values of Backend and Format.
var (
	Backends = []string{"memory", "sqlite"}
	Formats  = []string{"text", "json"}
)

// Config holds the settings shared by all commands.
type Config struct {
	// Backend executes plans: memory or sqlite.
	Backend string `toml:"backend"`
	// Database is the SQLite path of the sqlite backend.
	Database string `toml:"database"`
	// Format is the output format: text or json.
	Format string `toml:"format"`
	// Verbosity is the log level; 0 logs errors only.
	Verbosity int `toml:"verbosity"`
	// Collation is a BCP 47 tag ordering strings in memory sorts.
	// Empty orders by bytes.
	Collation string `toml:"collation"`
	// CacheSize is the number of compiled plans kept. 0 disables the cache.
	CacheSize int `toml:"cache_size"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Backend:   "memory",
		Database:  ":memory:",
		Format:    "text",
		CacheSize: 128,
	}
}

// Load returns the defaults overlaid with the file at path. An empty path
// reads DefaultFile if it exists and otherwise returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat(DefaultFile); err != nil {
			return cfg, nil
		}
		path = DefaultFile
	}

	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return Config{}, ErrInvalid.New(path, "unknown keys "+strings.Join(keys, ", "))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the values of c.
func (c Config) Validate() error {
	if !slices.Contains(Backends, c.Backend) {
		return ErrInvalid.New("backend", fmt.Sprintf("%q is not one of %v", c.Backend, Backends))
	}
	if !slices.Contains(Formats, c.Format) {
		return ErrInvalid.New("format", fmt.Sprintf("%q is not one of %v", c.Format, Formats))
	}
	if c.Verbosity < 0 {
		return ErrInvalid.New("verbosity", "must not be negative")
	}
	if c.CacheSize < 0 {
		return ErrInvalid.New("cache_size", "must not be negative")
	}
	if c.Backend == "sqlite" && c.Database == "" {
		return ErrInvalid.New("database", "required by the sqlite backend")
	}
	if _, err := c.Collator(); err != nil {
		return err
	}
	return nil
}

// Collator returns the collator for Collation, or nil if it is empty.
func (c Config) Collator() (*collate.Collator, error) {
	if c.Collation == "" {
		return nil, nil
	}
	tag, err := language.Parse(c.Collation)
	if err != nil {
		return nil, ErrInvalid.New("collation", err.Error())
	}
	return collate.New(tag), nil
}
