package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

var durationType = reflect.TypeOf(time.Duration(0))

// SecondsOrDurationHook decodes time.Duration fields from either a bare number
// of seconds (5, 0.5, "10") or a Go duration string ("1m30s").
func SecondsOrDurationHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}

		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return secondsToDuration(reflect.ValueOf(data).Float()), nil
		case reflect.String:
			s := strings.TrimSpace(reflect.ValueOf(data).String())
			if s == "" {
				return time.Duration(0), nil
			}
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return secondsToDuration(f), nil
			}
			d, err := time.ParseDuration(s)
			if err != nil {
				return nil, fmt.Errorf("invalid duration %q: %w", s, err)
			}
			return d, nil
		default:
			return data, nil
		}
	}
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// ExpandString replaces ${VAR} references with environment values.
// A reference to an unset variable is an error; an empty but set variable is not.
func ExpandString(s string) (string, error) {
	var missing []string
	out := envRefPattern.ReplaceAllStringFunc(s, func(ref string) string {
		name := envRefPattern.FindStringSubmatch(ref)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return ref
		}
		return value
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("environment variable %s is not set", strings.Join(missing, ", "))
	}
	return out, nil
}

// ExpandEnv expands ${VAR} references in every string (and string list)
// setting held by v.
func ExpandEnv(v *viper.Viper) error {
	for _, key := range v.AllKeys() {
		switch value := v.Get(key).(type) {
		case string:
			if !strings.Contains(value, "${") {
				continue
			}
			expanded, err := ExpandString(value)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			v.Set(key, expanded)
		case []any:
			changed := false
			out := make([]any, len(value))
			for i, item := range value {
				out[i] = item
				s, ok := item.(string)
				if !ok || !strings.Contains(s, "${") {
					continue
				}
				expanded, err := ExpandString(s)
				if err != nil {
					return fmt.Errorf("%s[%d]: %w", key, i, err)
				}
				out[i] = expanded
				changed = true
			}
			if changed {
				v.Set(key, out)
			}
		}
	}
	return nil
}
