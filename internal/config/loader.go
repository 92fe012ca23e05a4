package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.SocketPath == "" {
		errs = append(errs, errors.New("server.socket_path is required"))
	}

	// Models
	if len(cfg.Models.AllowedRoots) == 0 {
		errs = append(errs, errors.New("models.allowed_roots must list at least one directory"))
	}
	if cfg.Models.SecretEnv == "" {
		slog.Warn("models.secret_env is empty; encrypted model files cannot be decrypted")
	}
	backendNamesSeen := make(map[string]int, len(cfg.Models.Backends))
	for i, be := range cfg.Models.Backends {
		prefix := fmt.Sprintf("models.backends[%d]", i)
		if be.Format == "" {
			errs = append(errs, fmt.Errorf("%s.format is required", prefix))
		}
		if be.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if be.Format != "" {
			if prev, ok := backendNamesSeen[be.Format]; ok {
				errs = append(errs, fmt.Errorf("%s.format %q is a duplicate of models.backends[%d]", prefix, be.Format, prev))
			}
			backendNamesSeen[be.Format] = i
		}
	}

	// Queue
	if cfg.Queue.MaxDepth < 0 {
		errs = append(errs, errors.New("queue.max_depth must be non-negative"))
	}
	if cfg.Queue.Workers < 0 {
		errs = append(errs, errors.New("queue.workers must be non-negative"))
	}

	// Auth
	if cfg.Auth.TokenEnv == "" {
		slog.Warn("auth.token_env is empty; the handshake secret must be supplied some other way")
	}
	if cfg.Auth.RateLimit.MaxFailures < 0 {
		errs = append(errs, errors.New("auth.rate_limit.max_failures must be non-negative"))
	}

	// Memory
	if cfg.Memory.MaxKVBytes < 0 {
		errs = append(errs, errors.New("memory.max_kv_bytes must be non-negative"))
	}
	if cfg.Memory.MaxConcurrentGenerations < 0 {
		errs = append(errs, errors.New("memory.max_concurrent_generations must be non-negative"))
	}

	// Security
	if cfg.Security.MaxOutputChars < 0 {
		errs = append(errs, errors.New("security.max_output_chars must be non-negative"))
	}
	for i, p := range cfg.Security.InjectionPatterns {
		prefix := fmt.Sprintf("security.injection_patterns[%d]", i)
		if p.Text == "" {
			errs = append(errs, fmt.Errorf("%s.text is required", prefix))
		}
		if p.Weight <= 0 {
			errs = append(errs, fmt.Errorf("%s.weight must be positive", prefix))
		}
	}
	for i, p := range cfg.Security.SanitizerPatterns {
		if p == "" {
			errs = append(errs, fmt.Errorf("security.sanitizer_patterns[%d] must not be empty", i))
		}
	}

	return errors.Join(errs...)
}
