// Modul: config.go
// Beschreibung: Modell-Konfiguration mit typisierten Parametern.
// Werte stammen aus YAML und haben deshalb gemischte numerische Typen.

package model

import (
	"log/slog"
	"strconv"
)

// Config is passed to a model constructor.
type Config struct {
	Name       string         `yaml:"name"`
	Params     map[string]any `yaml:"params"`
	RandomSeed int64          `yaml:"-"`
}

// String gibt einen string-Wert zurueck
func (c Config) String(key string, defaultValue ...string) string {
	switch v := c.Params[key].(type) {
	case string:
		return v
	case nil:
	default:
		slog.Debug("parameter with type not found", "key", key, "type", v)
	}
	return append(defaultValue, "")[0]
}

// Int gibt einen int-Wert zurueck
func (c Config) Int(key string, defaultValue ...int) int {
	switch v := c.Params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return append(defaultValue, 0)[0]
}

// Float gibt einen float64-Wert zurueck
func (c Config) Float(key string, defaultValue ...float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return append(defaultValue, 0)[0]
}
