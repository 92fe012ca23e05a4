package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked individually;
// everything else lands in RestartRequired.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SecurityChanged reports whether any SecurityConfig field changed.
	// Diff only reports the change: the sanitizer, injection filter, and
	// PII detector are built once at startup and nothing rebuilds them.
	SecurityChanged bool

	// RateLimitChanged reports whether Auth.RateLimit changed. Diff only
	// reports the change: the rate limiter's budget is fixed when the
	// authenticator is built at startup.
	RateLimitChanged bool

	// RestartRequired lists the dotted field groups that changed but
	// cannot be applied without restarting the process, because the
	// components they configure are sized once at startup.
	RestartRequired []string
}

// Changed reports whether old and new differ in any field, whether
// hot-reloadable or not.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || d.SecurityChanged || d.RateLimitChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed. Queue sizing,
// the worker pool, the model allow-list, and the listening socket are all
// established at startup and are listed under RestartRequired; log level,
// security, and rate-limit changes are reported individually. Diff only
// classifies the change and applies nothing itself.
func Diff(old, new *Config) ConfigDiff {
	var d ConfigDiff

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if !reflect.DeepEqual(old.Security, new.Security) {
		d.SecurityChanged = true
	}
	if !reflect.DeepEqual(old.Auth.RateLimit, new.Auth.RateLimit) {
		d.RateLimitChanged = true
	}

	if old.Server.SocketPath != new.Server.SocketPath {
		d.RestartRequired = append(d.RestartRequired, "server.socket_path")
	}
	if !reflect.DeepEqual(old.Queue, new.Queue) {
		d.RestartRequired = append(d.RestartRequired, "queue")
	}
	if !reflect.DeepEqual(old.Models, new.Models) {
		d.RestartRequired = append(d.RestartRequired, "models")
	}
	if !reflect.DeepEqual(old.Memory, new.Memory) {
		d.RestartRequired = append(d.RestartRequired, "memory")
	}
	if old.Auth.TokenEnv != new.Auth.TokenEnv {
		d.RestartRequired = append(d.RestartRequired, "auth.token_env")
	}
	if old.Auth.IdleTimeout != new.Auth.IdleTimeout || old.Auth.SweepInterval != new.Auth.SweepInterval {
		d.RestartRequired = append(d.RestartRequired, "auth.idle_timeout/sweep_interval")
	}

	return d
}
