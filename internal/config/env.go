package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// GetEnv returns the environment variable value or a default.
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetIntEnv returns an integer environment variable or a default.
func GetIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GetDurationEnv returns a duration environment variable or a default.
func GetDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetListEnv splits a comma separated environment variable, dropping blank entries.
func GetListEnv(key string) []string {
	return ParseList(os.Getenv(key))
}

// GetMapEnv parses a "k1=v1,k2=v2" environment variable.
// Entries without "=" are skipped.
func GetMapEnv(key string) map[string]string {
	return ParseMap(os.Getenv(key), ",")
}

// ParseList splits s on commas, trimming whitespace and dropping blank entries.
func ParseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseMap parses "k1=v1<sep>k2=v2" into a map, trimming keys and values.
func ParseMap(s, sep string) map[string]string {
	out := make(map[string]string)
	for _, part := range strings.Split(s, sep) {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			continue
		}
		if k = strings.TrimSpace(k); k != "" {
			out[k] = strings.TrimSpace(v)
		}
	}
	return out
}
