package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. YAML config file (explicit path, CODERELAY_CONFIG env, ./config.yaml,
//     /etc/coderelay/config.yaml)
//  3. Environment variable overrides, including the legacy variable names
//     from the Python agent (E2B_API_KEY, GCP_PROJECT_ID, ...)
//  4. File reference resolution (_file suffix)
//
// Validation is a separate step (Config.Validate) so callers can prompt
// for missing values interactively before validating.
func Load(configPath string) (*Config, error) {
	// Start with defaults.
	cfg := Defaults()

	// Discover and load YAML config file.
	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	// Apply environment variable overrides.
	applyEnvOverrides(&cfg)

	// Resolve _file references.
	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	return &cfg, nil
}

// discoverConfigFile finds the config file path using the discovery order:
// 1. Explicit configPath argument
// 2. CODERELAY_CONFIG environment variable
// 3. ./config.yaml in the current directory
// 4. /etc/coderelay/config.yaml
//
// Returns empty string if no config file is found.
func discoverConfigFile(configPath string) string {
	// Explicit path takes priority.
	if configPath != "" {
		return configPath
	}

	// Check CODERELAY_CONFIG env var.
	if envPath := os.Getenv("CODERELAY_CONFIG"); envPath != "" {
		return envPath
	}

	// Check common locations.
	candidates := []string{
		"config.yaml",
		"/etc/coderelay/config.yaml",
	}
	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// loadYAMLFile reads and parses a YAML file into the Config struct.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides maps environment variables to config fields. The
// legacy names are the ones the original dotenv-based agent used, kept
// so existing .env setups keep working; CODERELAY_* names take priority.
func applyEnvOverrides(cfg *Config) {
	// Legacy env var mappings.
	if v := os.Getenv("E2B_API_KEY"); v != "" {
		cfg.Executor.Sandbox.APIKey = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		cfg.Model.Project = v
	}
	if v := os.Getenv("GCP_LOCATION"); v != "" {
		cfg.Model.Location = v
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv("VM_IP"); v != "" {
		cfg.Executor.VM.Host = v
	}
	if v := os.Getenv("VM_USERNAME"); v != "" {
		cfg.Executor.VM.User = v
	}
	if v := os.Getenv("VM_NAME"); v != "" {
		cfg.Executor.VM.Name = v
	}
	if v := os.Getenv("VM_ZONE"); v != "" {
		cfg.Executor.VM.Zone = v
	}

	// Structured CODERELAY_* mappings.
	if v := os.Getenv("CODERELAY_BACKEND"); v != "" {
		cfg.Executor.Backend = v
	}
	if v := os.Getenv("CODERELAY_MODEL_API_KEY"); v != "" {
		cfg.Model.APIKey = v
	}
	if v := os.Getenv("CODERELAY_SANDBOX_API_KEY"); v != "" {
		cfg.Executor.Sandbox.APIKey = v
	}
	if v := os.Getenv("CODERELAY_SANDBOX_URL"); v != "" {
		cfg.Executor.Sandbox.URL = v
	}
	if v := os.Getenv("CODERELAY_SANDBOX_TEMPLATE"); v != "" {
		cfg.Executor.Sandbox.Template = v
	}
	if v := os.Getenv("CODERELAY_SANDBOX_NAMESPACE"); v != "" {
		cfg.Executor.Sandbox.Namespace = v
	}
	if v := os.Getenv("CODERELAY_VM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Executor.VM.Port = port
		}
	}
	if v := os.Getenv("CODERELAY_METRICS_LISTEN"); v != "" {
		cfg.Observability.Metrics.Enabled = true
		cfg.Observability.Metrics.Listen = v
	}
}

// resolveFileReferences reads _file fields and populates the corresponding
// value fields. For each field ending in _file, if the value field is empty
// and the file field is set, the file is read, whitespace is trimmed, and
// the value field is populated.
func resolveFileReferences(cfg *Config) error {
	// model.api_key_file -> model.api_key
	if cfg.Model.APIKeyFile != "" && cfg.Model.APIKey == "" {
		val, err := readSecretFile(cfg.Model.APIKeyFile)
		if err != nil {
			return fmt.Errorf("model.api_key_file: %w", err)
		}
		cfg.Model.APIKey = val
	}

	// executor.sandbox.api_key_file -> executor.sandbox.api_key
	if cfg.Executor.Sandbox.APIKeyFile != "" && cfg.Executor.Sandbox.APIKey == "" {
		val, err := readSecretFile(cfg.Executor.Sandbox.APIKeyFile)
		if err != nil {
			return fmt.Errorf("executor.sandbox.api_key_file: %w", err)
		}
		cfg.Executor.Sandbox.APIKey = val
	}

	return nil
}

// readSecretFile reads a file and returns its content with surrounding
// whitespace trimmed.
func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
