package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load assembles the configuration of a process: the defaults, then the file
// at path when there is one, then the environment read through getenv.
func Load(path string, getenv func(string) string) (cfg Config, err error) {
	cfg = New()

	if path != "" {
		if cfg, err = ParseFile(path); err != nil {
			return
		}
	}

	if getenv != nil {
		cfg.ApplyEnvironment(getenv)
	}

	return
}

// ParseFile reads a .yml or .yaml configuration file.
func ParseFile(path string) (Config, error) {
	if ext := strings.ToLower(filepath.Ext(path)); ext != ".yml" && ext != ".yaml" {
		return Config{}, fmt.Errorf("unsupported config file '%s', expected .y(a)ml", path)
	}

	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, errors.Wrap(err, "reading config file")
	}

	return Parse(b)
}

// Parse decodes a YAML document on top of the defaults. An empty document
// yields the defaults.
func Parse(b []byte) (cfg Config, err error) {
	cfg = New()

	if err = yaml.Unmarshal(b, &cfg); err != nil {
		err = errors.Wrap(err, "decoding config")
	}

	return
}
