// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint/Uint64: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// Uint64 gibt eine Funktion zurueck, die einen uint64 mit Default-Wert liest
func Uint64(key string, defaultValue uint64) func() uint64 {
	return func() uint64 {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return n
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"AUGPIPE_DEBUG":          {"AUGPIPE_DEBUG", LogLevel(), "Show additional debug information (e.g. AUGPIPE_DEBUG=1)"},
		"AUGPIPE_SEED":           {"AUGPIPE_SEED", Seed(), "Seed of the parameter service, -1 for a random seed (default 1)"},
		"AUGPIPE_NUM_THREADS":    {"AUGPIPE_NUM_THREADS", NumThreads(), "Number of CPU stage worker threads (default: available CPUs)"},
		"AUGPIPE_CPU_QUEUE":      {"AUGPIPE_CPU_QUEUE", CPUQueue(), "Depth of the host batch prefetch queue (default 2)"},
		"AUGPIPE_GPU_QUEUE":      {"AUGPIPE_GPU_QUEUE", GPUQueue(), "Depth of the device batch prefetch queue (default: cpu queue depth)"},
		"AUGPIPE_EXEC_PIPELINED": {"AUGPIPE_EXEC_PIPELINED", ExecPipelined(true), "Prefill the prefetch queues in the background"},
		"AUGPIPE_EXEC_ASYNC":     {"AUGPIPE_EXEC_ASYNC", ExecAsync(true), "Serve run calls from the prefilled queues"},
		"AUGPIPE_OUTPUT_MEMORY":  {"AUGPIPE_OUTPUT_MEMORY", OutputMemory(), "Placement of output tensors: host or device"},
		"AUGPIPE_EMULATE_GPU":    {"AUGPIPE_EMULATE_GPU", EmulateGPU(), "Register an emulated gpu backend"},
		"AUGPIPE_DEVICE_MEMORY":  {"AUGPIPE_DEVICE_MEMORY", DeviceMemory(), "Limit of the device memory arena in bytes (0 = unlimited)"},
		"AUGPIPE_HOST":           {"AUGPIPE_HOST", Host(), "Address of the status server (default 127.0.0.1:11535)"},
		"AUGPIPE_ORIGINS":        {"AUGPIPE_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
