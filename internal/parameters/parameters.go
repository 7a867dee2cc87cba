// Package parameters handles the configuration strings used to select and tune league components
// (matchmaking strategies, weightings, roles), e.g.: "pfsp:weighting=squared".
//
// A configuration string is a module name, optionally followed by a colon and a comma-separated
// list of key=value pairs. A key without a value is a flag (interpreted as true for bools).
package parameters

import (
	"github.com/janpfeifer/leagueGo/internal/generics"
	"github.com/pkg/errors"
	"slices"
	"strconv"
	"strings"
)

// Params represent generic configuration parameters.
type Params map[string]string

// NewFromConfigString create params from the user's configuration string (the part after the colon).
// Empty entries are ignored.
// See GetParamOr and PopParamOr to parse values from this map.
func NewFromConfigString(config string) Params {
	params := make(Params)
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		subParts := strings.SplitN(part, "=", 2) // Split into up to 2 parts to handle '=' in values
		if len(subParts) == 1 {
			params[subParts[0]] = ""
		} else {
			params[subParts[0]] = subParts[1]
		}
	}
	return params
}

// SplitModuleConfig splits a configuration like "pfsp:weighting=squared" into the module name ("pfsp")
// and its parameters ({"weighting": "squared"}).
func SplitModuleConfig(config string) (name string, params Params) {
	config = strings.TrimSpace(config)
	name = config
	rest := ""
	if idx := strings.Index(config, ":"); idx != -1 {
		name = config[:idx]
		rest = config[idx+1:]
	}
	return strings.TrimSpace(name), NewFromConfigString(rest)
}

// CheckAllUsed returns an error listing the parameters that were not consumed (with PopParamOr).
// Use it after parsing a module configuration to catch typos.
func CheckAllUsed(moduleName string, params Params) error {
	if len(params) == 0 {
		return nil
	}
	unused := slices.Collect(generics.SortedKeys(params))
	return errors.Errorf("unknown parameter(s) for %q: %s", moduleName, strings.Join(unused, ", "))
}

// PopParamOr is like GetParamOr, but it also deletes from the params map the retrieved parameter.
func PopParamOr[T interface {
	bool | int | int64 | float64 | string
}](params Params, key string, defaultValue T) (T, error) {
	value, err := GetParamOr(params, key, defaultValue)
	if err != nil {
		return value, err
	}
	delete(params, key)
	return value, nil
}

// GetParamOr attempts to parse a parameter to the given type if the key is present, or returns the defaultValue
// if not.
//
// For bool types, a key without a value is interpreted as true.
func GetParamOr[T interface {
	bool | int | int64 | float64 | string
}](params Params, key string, defaultValue T) (T, error) {
	value, exists := params[key]
	if !exists {
		return defaultValue, nil
	}
	var t T
	toT := func(v any) T { return v.(T) }
	switch any(defaultValue).(type) {
	case string:
		return toT(value), nil
	case int:
		if value == "" {
			return defaultValue, nil
		}
		parsedValue, err := strconv.Atoi(value)
		if err != nil {
			return t, errors.Wrapf(err, "failed to parse configuration %s=%q to int", key, value)
		}
		return toT(parsedValue), nil
	case int64:
		if value == "" {
			return defaultValue, nil
		}
		// Accept "2e9" style values for step counts.
		parsedValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return t, errors.Wrapf(err, "failed to parse configuration %s=%q to int64", key, value)
		}
		return toT(int64(parsedValue)), nil
	case float64:
		if value == "" {
			return defaultValue, nil
		}
		parsedValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return t, errors.Wrapf(err, "failed to parse configuration %s=%q to float", key, value)
		}
		return toT(parsedValue), nil
	case bool:
		lower := strings.ToLower(value)
		if value == "" || lower == "true" || value == "1" { // Empty value is considered "true"
			return toT(true), nil
		}
		if lower == "false" || value == "0" {
			return toT(false), nil
		}
		return defaultValue, errors.Errorf("failed to parse configuration %s=%q to bool", key, value)
	}
	return defaultValue, nil
}
