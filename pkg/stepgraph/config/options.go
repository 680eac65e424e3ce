package config

import "time"

// Options wraps a provider-specific map for typed extraction.
// Accessors return the default when a key is missing or of the wrong type.
type Options map[string]any

// String returns the string value for key, or defaultVal.
func (o Options) String(key, defaultVal string) string {
	if s, ok := o[key].(string); ok {
		return s
	}
	return defaultVal
}

// Duration returns the duration for key, or defaultVal.
// Strings are parsed with time.ParseDuration; numbers are seconds.
func (o Options) Duration(key string, defaultVal time.Duration) time.Duration {
	switch v := o[key].(type) {
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	}
	return defaultVal
}

// Int returns the integer for key, or defaultVal. Floats with a fractional
// part are rejected.
func (o Options) Int(key string, defaultVal int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		if v == float64(int(v)) {
			return int(v)
		}
	}
	return defaultVal
}

// Float returns the float for key, or defaultVal.
func (o Options) Float(key string, defaultVal float64) float64 {
	switch v := o[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return defaultVal
}

// Has reports whether key is set.
func (o Options) Has(key string) bool {
	_, ok := o[key]
	return ok
}
