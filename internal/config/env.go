package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
	yaml "go.yaml.in/yaml/v3"
)

// EnvPrefix is the prefix of environment overrides.
//
// RESTARTBOT_TELEGRAM__TOKEN=... overrides telegram.token;
// "__" separates nesting levels.
const EnvPrefix = "RESTARTBOT_"

// rawJSON feeds already-coerced JSON bytes to koanf.
type rawJSON []byte

func (r rawJSON) ReadBytes() ([]byte, error) { return r, nil }

func (r rawJSON) Read() (map[string]interface{}, error) {
	return nil, fmt.Errorf("rawJSON provider does not support Read()")
}

func hasEnvOverrides() bool {
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, EnvPrefix) {
			return true
		}
	}
	return false
}

// applyEnvOverlay merges RESTARTBOT_* variables over the JSON document.
// Values are typed like YAML scalars, so "true", "3" and "[1,2]" become
// bool, number and list respectively.
func applyEnvOverlay(jb []byte) ([]byte, error) {
	if !hasEnvOverrides() {
		return jb, nil
	}

	k := koanf.New(".")
	if err := k.Load(rawJSON(jb), json.Parser()); err != nil {
		return nil, fmt.Errorf("env overlay: load base: %w", err)
	}

	prefix := strings.ToLower(EnvPrefix)
	cb := func(key, value string) (string, interface{}) {
		key = strings.TrimPrefix(strings.ToLower(key), prefix)
		key = strings.ReplaceAll(key, "__", ".")
		if key == "" {
			return "", nil
		}
		return key, typedEnvValue(value)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", cb), nil); err != nil {
		return nil, fmt.Errorf("env overlay: %w", err)
	}

	out, err := k.Marshal(json.Parser())
	if err != nil {
		return nil, fmt.Errorf("env overlay: marshal: %w", err)
	}
	return out, nil
}

func typedEnvValue(raw string) interface{} {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	var v any
	if err := yaml.Unmarshal([]byte(s), &v); err != nil || v == nil {
		return raw
	}
	switch v.(type) {
	case map[string]any, map[any]any:
		// objects are not overridable as a whole
		return raw
	}
	return normalizeYAML(v)
}
