package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Load reads .env (if present), merges the YAML files in order, applies
// environment overrides and decodes the result on top of Default.
//
// Environment variables are mapped to nested keys by splitting the name after
// the prefix on double underscores: STICKERDL_RESOLVER__FETCH_TIMEOUT=10s sets
// resolver.fetch_timeout.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(errors.Cause(err)) {
		return Config{}, errors.Wrap(err, "load .env")
	}

	data, err := Collect(EnvironPrefix, os.Environ(), files...)
	if err != nil {
		return Config{}, err
	}

	config := Default()
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, errors.Wrap(err, "decode config")
	}

	config.normalize()
	return config, nil
}

// Collect merges YAML files and environment overrides into a single YAML document.
func Collect(prefix string, env []string, files ...string) ([]byte, error) {
	global := make(map[string]interface{})
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}

		config := make(map[string]interface{})
		if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
			return nil, errors.Wrapf(err, "read expanded config %s", file)
		}

		if global, err = merge(global, config); err != nil {
			return nil, errors.Wrapf(err, "merge config %s", file)
		}
	}

	overrides, err := environ(prefix, env)
	if err != nil {
		return nil, err
	}

	if global, err = merge(global, overrides); err != nil {
		return nil, errors.Wrap(err, "merge environment")
	}

	data, err := yaml.Marshal(global)
	return data, errors.Wrap(err, "encode global config")
}

func environ(prefix string, lines []string) (map[string]interface{}, error) {
	m := make(map[string]interface{})
	for _, line := range lines {
		if !strings.HasPrefix(line, prefix) {
			continue
		}

		line = line[len(prefix):]
		equals := strings.Index(line, "=")
		if equals <= 0 {
			continue
		}

		key, value := line[:equals], line[equals+1:]
		keyTokens := strings.Split(key, "__")
		keyTokensLastIdx := len(keyTokens) - 1
		entry := m
		for i, keyToken := range keyTokens {
			if keyToken == "" {
				break
			}

			keyToken = strings.ToLower(keyToken)
			if i == keyTokensLastIdx {
				if ev, ok := entry[keyToken]; ok {
					if _, ok := ev.(map[string]interface{}); ok {
						return nil, errors.Errorf("env var %s conflicts with section %s", key, keyToken)
					}
				}

				entry[keyToken] = scalar(value)
				break
			}

			next, ok := entry[keyToken].(map[string]interface{})
			if !ok {
				next = make(map[string]interface{})
				entry[keyToken] = next
			}

			entry = next
		}
	}

	return m, nil
}

func scalar(value string) interface{} {
	if v, err := strconv.ParseInt(value, 10, 64); err == nil {
		return v
	} else if v, err := strconv.ParseFloat(value, 64); err == nil {
		return v
	} else if v, err := strconv.ParseBool(value); err == nil {
		return v
	}

	return value
}

func merge(a, b map[string]interface{}) (map[string]interface{}, error) {
	for k, v := range b {
		av, ok := a[k]
		if !ok {
			a[k] = v
			continue
		}

		mav, aIsMap := av.(map[string]interface{})
		mv, bIsMap := v.(map[string]interface{})
		switch {
		case aIsMap && bIsMap:
			merged, err := merge(mav, mv)
			if err != nil {
				return nil, err
			}

			a[k] = merged
		case !aIsMap && !bIsMap:
			a[k] = v
		default:
			return nil, errors.Errorf("configuration keys %s must have the same type", k)
		}
	}

	return a, nil
}
