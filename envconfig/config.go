// config.go - Haupt-Konfigurationsfunktionen fuer den Estimator
//
// Dieses Modul enthaelt:
// - WorkDir: Arbeitsverzeichnis fuer Checkpoints und Summaries (ESTIMATOR_WORKDIR)
// - Master: Adresse des Koordinations-Masters (ESTIMATOR_MASTER)
// - Role: Rolle dieses Prozesses, chief oder worker (ESTIMATOR_ROLE)
// - BoardHost: Adresse des Board-Servers (ESTIMATOR_BOARD_HOST)
// - AllowedOrigins: Erlaubte CORS-Origins fuer den Board-Server (ESTIMATOR_ORIGINS)
// - LogLevel: Gibt Log-Level zurueck (ESTIMATOR_DEBUG)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Checkpoint-, Summary- und Logging-Intervalle
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

// WorkDir gibt das Arbeitsverzeichnis zurueck
// Konfigurierbar via ESTIMATOR_WORKDIR
// Default: leer (keine Checkpoints, keine Summaries)
func WorkDir() string {
	return Var("ESTIMATOR_WORKDIR")
}

// Master gibt die Master-Adresse fuer verteilte Koordination zurueck
// Konfigurierbar via ESTIMATOR_MASTER
// Default: leer (lokale Ausfuehrung)
func Master() string {
	return Var("ESTIMATOR_MASTER")
}

// Role gibt die Rolle dieses Prozesses zurueck
// Konfigurierbar via ESTIMATOR_ROLE
// Werte: chief (Default), worker
func Role() string {
	switch s := strings.ToLower(Var("ESTIMATOR_ROLE")); s {
	case "", "chief":
		return "chief"
	case "worker":
		return "worker"
	default:
		slog.Warn("invalid role, using default", "role", s, "default", "chief")
		return "chief"
	}
}

// BoardHost gibt Host und Port fuer den Board-Server zurueck
// Konfigurierbar via ESTIMATOR_BOARD_HOST
// Default: 127.0.0.1:6006
func BoardHost() string {
	defaultPort := "6006"

	s := strings.TrimSpace(Var("ESTIMATOR_BOARD_HOST"))
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

// AllowedOrigins gibt erlaubte Origins fuer den Board-Server zurueck
// Konfigurierbar via ESTIMATOR_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("ESTIMATOR_ORIGINS"); s != "" {
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
// Konfigurierbar via ESTIMATOR_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("ESTIMATOR_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// Var gibt eine Environment-Variable zurueck
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}
