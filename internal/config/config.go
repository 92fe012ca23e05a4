// Package config provides the configuration schema, loader, and backend
// factory registry for the Hearthlink inference runtime.
package config

import "time"

// Config is the root configuration structure for the runtime.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Models   ModelsConfig   `yaml:"models"`
	Queue    QueueConfig    `yaml:"queue"`
	Auth     AuthConfig     `yaml:"auth"`
	Memory   MemoryConfig   `yaml:"memory"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig holds process-level settings for the runtime.
type ServerConfig struct {
	// SocketPath is the filesystem path of the Unix domain socket the
	// runtime listens on.
	SocketPath string `yaml:"socket_path"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised logging levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ModelsConfig configures the model registry's filesystem allow-list,
// decryption secret, and drain behaviour on unload.
type ModelsConfig struct {
	// AllowedRoots lists the directories model files must resolve under.
	// Required; Load rejects any path outside these roots.
	AllowedRoots []string `yaml:"allowed_roots"`

	// SecretEnv names the environment variable holding the shared secret
	// used to derive the AES-256 key for encrypted ("HLGCM"-magic) model
	// files. The secret itself is never written to the config file.
	SecretEnv string `yaml:"secret_env"`

	// DrainTimeout bounds how long Unload waits for in-flight references
	// to a handle to drop before giving up.
	DrainTimeout time.Duration `yaml:"drain_timeout"`

	// Backends lists the backend constructors to register, keyed by the
	// format each entry handles.
	Backends []BackendEntry `yaml:"backends"`
}

// BackendEntry selects and configures one backend constructor. Format is
// the key under which the constructor is registered in a [FactoryRegistry]
// to build the [registry.BackendFactory] used for every model file matching
// Format.
type BackendEntry struct {
	// Format is the model file family this entry handles (e.g. "gguf",
	// "onnx", "reference"). Dispatch matches a loaded model's file
	// extension against this value; there is no per-model override.
	Format string `yaml:"format"`

	// Name labels the constructor implementation for that format (e.g. a
	// specific kernel backend). Validation requires it, but the constructor
	// is chosen by Format alone.
	Name string `yaml:"name"`

	// Options holds backend-specific configuration values not covered by
	// the standard fields above.
	Options map[string]any `yaml:"options"`
}

// QueueConfig sizes the inference request queue and its worker pool.
type QueueConfig struct {
	// MaxDepth bounds how many requests may wait in the queue at once.
	// Requests submitted past this depth are rejected immediately.
	MaxDepth int `yaml:"max_depth"`

	// Workers is the number of concurrent worker goroutines draining the
	// queue.
	Workers int `yaml:"workers"`
}

// AuthConfig configures handshake authentication and session lifecycle.
type AuthConfig struct {
	// TokenEnv names the environment variable holding the shared handshake
	// secret. The secret itself is never written to the config file.
	TokenEnv string `yaml:"token_env"`

	// IdleTimeout is how long a session may go without a request before
	// the sweep goroutine removes it.
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// SweepInterval is how often the idle sweep runs.
	SweepInterval time.Duration `yaml:"sweep_interval"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the per-source failed-handshake budget.
type RateLimitConfig struct {
	// MaxFailures is the number of failed handshakes within Window before
	// a source is cooled down.
	MaxFailures int `yaml:"max_failures"`

	// Window is the sliding interval over which failures accumulate.
	Window time.Duration `yaml:"window"`

	// Cooldown is how long a rate-limited source is rejected outright.
	Cooldown time.Duration `yaml:"cooldown"`
}

// MemoryConfig sizes the prompt cache, output cache, and KV page table.
type MemoryConfig struct {
	// PromptCacheSize is the maximum number of warmed prefixes retained.
	PromptCacheSize int `yaml:"prompt_cache_size"`

	// PromptCacheTTL is how long a warmed prefix stays valid before it must
	// be re-prefilled.
	PromptCacheTTL time.Duration `yaml:"prompt_cache_ttl"`

	// OutputCacheSize is the maximum number of deduplicated responses
	// retained.
	OutputCacheSize int `yaml:"output_cache_size"`

	// OutputCacheTTL is how long a cached response may be served before
	// the request must be re-run.
	OutputCacheTTL time.Duration `yaml:"output_cache_ttl"`

	// MaxKVBytes bounds total KV-cache page allocation across all
	// sequences. Zero means unbounded.
	MaxKVBytes int64 `yaml:"max_kv_bytes"`

	// MaxConcurrentGenerations bounds how many decode loops may run at
	// once, independent of queue depth.
	MaxConcurrentGenerations int64 `yaml:"max_concurrent_generations"`
}

// SecurityConfig configures the output sanitizer, injection filter, and PII
// detector applied to prompts and generated text.
type SecurityConfig struct {
	// SanitizerBlocklist is a set of literal phrases stripped from output.
	SanitizerBlocklist []string `yaml:"sanitizer_blocklist"`

	// SanitizerPatterns is a set of regular expressions whose matches are
	// redacted from output.
	SanitizerPatterns []string `yaml:"sanitizer_patterns"`

	// MaxOutputChars truncates output past this length. Zero means no
	// truncation.
	MaxOutputChars int `yaml:"max_output_chars"`

	// StreamBoundaryChars is how many trailing characters of a stream
	// sanitizer's buffer are held back to avoid splitting a pattern match
	// across chunk boundaries.
	StreamBoundaryChars int `yaml:"stream_boundary_chars"`

	// InjectionThreshold is the minimum cumulative weighted score at which
	// an input is flagged as a prompt injection attempt.
	InjectionThreshold float64 `yaml:"injection_threshold"`

	// InjectionPatterns lists the weighted substrings contributing to the
	// injection score.
	InjectionPatterns []InjectionPatternConfig `yaml:"injection_patterns"`
}

// InjectionPatternConfig mirrors security.Pattern for YAML decoding.
type InjectionPatternConfig struct {
	Text     string  `yaml:"text"`
	Weight   float64 `yaml:"weight"`
	Category string  `yaml:"category"`
}
