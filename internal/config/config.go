// Package config loads tool configuration by merging three layers:
// environment variables, an optional per-directory YAML file, and built-in
// defaults. Higher layers win field by field.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FileName is the per-directory configuration file searched by Load.
const FileName = ".envault.yaml"

// Config holds the tool settings. Every field can come from the
// environment (ENVAULT_ prefixed), the YAML file, or the default.
type Config struct {
	// VaultFile overrides the envelope file name. Empty means the vault
	// is named after its directory.
	VaultFile string `yaml:"vaultFile" env:"VAULT_FILE"`

	// EnvFile is the shared plaintext env file.
	EnvFile string `yaml:"envFile" env:"ENV_FILE"`

	// LocalEnvFile is the local-only env file overlaying EnvFile.
	LocalEnvFile string `yaml:"localEnvFile" env:"LOCAL_ENV_FILE"`

	// Actor is the identity recorded in envelope metadata and audit
	// entries.
	Actor string `yaml:"actor" env:"ACTOR"`
}

func defaults() Config {
	return Config{
		EnvFile:      ".env",
		LocalEnvFile: ".env.local",
	}
}

// Load resolves the configuration for dir. Environment variables beat the
// directory's YAML file, which beats the defaults. A missing YAML file is
// not an error; a malformed one is.
func Load(dir string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "ENVAULT_"}); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse environment: %w", err)
	}

	fileCfg, err := fromFile(filepath.Join(dir, FileName))
	if err != nil {
		return Config{}, err
	}

	for _, layer := range []Config{fileCfg, defaults()} {
		if err := mergo.Merge(&cfg, layer); err != nil {
			return Config{}, fmt.Errorf("config: failed to merge layers: %w", err)
		}
	}
	return cfg, nil
}

func fromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: failed to parse %s: %w", path, err)
	}
	return cfg, nil
}
