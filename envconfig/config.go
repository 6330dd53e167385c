// config.go - Haupt-Konfigurationsfunktionen fuer augpipe
//
// Dieses Modul enthaelt:
// - LogLevel: Gibt Log-Level zurueck (AUGPIPE_DEBUG)
// - Seed: Gibt den Seed des Parameter-Service zurueck (AUGPIPE_SEED)
// - OutputMemory: Gibt die Platzierung der Ausgabe-Tensoren zurueck (AUGPIPE_OUTPUT_MEMORY)
// - DeviceMemory: Gibt die Groesse der Device-Arena zurueck (AUGPIPE_DEVICE_MEMORY)
// - Host: Gibt die Adresse des Status-Servers zurueck (AUGPIPE_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (AUGPIPE_ORIGINS)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Feature-Flags, Queue- und Thread-Variablen
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
)

// Host gibt host:port des Status-Servers zurueck
// Konfigurierbar via AUGPIPE_HOST
// Default: 127.0.0.1:11535
func Host() string {
	defaultPort := "11535"

	s := strings.TrimSpace(Var("AUGPIPE_HOST"))
	s = strings.TrimPrefix(s, "http://")
	s, _, _ = strings.Cut(s, "/")

	host, port, err := net.SplitHostPort(s)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(s, "[]")); ip != nil {
			host = ip.String()
		} else if s != "" {
			host = s
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return net.JoinHostPort(host, port)
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via AUGPIPE_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("AUGPIPE_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via AUGPIPE_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("AUGPIPE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Seed gibt den Seed fuer den Parameter-Service zurueck
// Konfigurierbar via AUGPIPE_SEED
// -1 bedeutet zufaelliger Seed, Default: 1
func Seed() int64 {
	if s := Var("AUGPIPE_SEED"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			return n
		}
		slog.Warn("invalid environment variable, using default", "key", "AUGPIPE_SEED", "value", s, "default", 1)
	}

	return 1
}

// OutputMemory gibt die gewuenschte Platzierung der Ausgabe-Tensoren zurueck
// Konfigurierbar via AUGPIPE_OUTPUT_MEMORY ("host" oder "device")
// Leer = abhaengig vom Backend
func OutputMemory() string {
	return strings.ToLower(Var("AUGPIPE_OUTPUT_MEMORY"))
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
