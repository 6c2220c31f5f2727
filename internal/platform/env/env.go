// Package env reads typed configuration values from the process environment.
// All variables for this service share the TS_ prefix; lookups take the bare
// name and the package prepends the prefix.
package env

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Prefix is prepended to every variable name before lookup.
const Prefix = "TS_"

func lookup(name string) (string, bool) {
	return os.LookupEnv(Prefix + name)
}

func String(name string, def string) string {
	if v, ok := lookup(name); ok {
		return v
	}
	return def
}

func Duration(name string, def time.Duration) (time.Duration, error) {
	if v, ok := lookup(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s%s: %w", Prefix, name, err)
		}
		return d, nil
	}
	return def, nil
}

func Bool(name string, def bool) (bool, error) {
	if v, ok := lookup(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return false, fmt.Errorf("parse %s%s: %w", Prefix, name, err)
		}
		return b, nil
	}
	return def, nil
}

func Int(name string, def int) (int, error) {
	if v, ok := lookup(name); ok {
		i, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("parse %s%s: %w", Prefix, name, err)
		}
		return i, nil
	}
	return def, nil
}
