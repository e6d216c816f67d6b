package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/DeafMist/topic-radar/internal/topics"
)

// ParamsSection is the top-level key holding topic modelling options.
const ParamsSection = "model_topics"

type paramsFile struct {
	ModelTopics yaml.Node `yaml:"model_topics"`
}

// LoadParams reads topic modelling parameters from the model_topics section
// of a YAML file, starting from topics.DefaultParams. Other sections of the
// file are ignored. A missing file yields the defaults. APP_<KEY> environment
// variables override top-level scalars. Every problem with the options is
// reported as a *topics.ConfigurationError.
func LoadParams(path string) (topics.Params, error) {
	p := topics.DefaultParams()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return p, fmt.Errorf("read params %s: %w", path, err)
	default:
		if err := decodeParams(data, &p); err != nil {
			return p, err
		}
	}

	if err := applyEnvOverrides(&p); err != nil {
		return p, err
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

// ParseParams decodes a YAML document the same way LoadParams does, without
// environment overrides.
func ParseParams(data []byte) (topics.Params, error) {
	p := topics.DefaultParams()
	if err := decodeParams(data, &p); err != nil {
		return p, err
	}
	return p, p.Validate()
}

func decodeParams(data []byte, p *topics.Params) error {
	var file paramsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return &topics.ConfigurationError{Key: ParamsSection, Reason: err.Error()}
	}
	if file.ModelTopics.Kind == 0 {
		return nil
	}

	var raw map[string]any
	if err := file.ModelTopics.Decode(&raw); err != nil {
		return &topics.ConfigurationError{Key: ParamsSection, Reason: "must be a mapping"}
	}
	if err := topics.CheckKeys(raw); err != nil {
		return err
	}

	section, err := yaml.Marshal(&file.ModelTopics)
	if err != nil {
		return fmt.Errorf("re-encode %s: %w", ParamsSection, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(section))
	dec.KnownFields(true)
	if err := dec.Decode(p); err != nil {
		return &topics.ConfigurationError{Key: ParamsSection, Reason: err.Error()}
	}
	return nil
}

func applyEnvOverrides(p *topics.Params) error {
	if err := overrideInt("days", &p.Days); err != nil {
		return err
	}
	if err := overrideInt("reps", &p.Reps); err != nil {
		return err
	}
	if err := overrideInt("workers", &p.Workers); err != nil {
		return err
	}
	if raw, ok := lookupOverride("topic_merge_delta"); ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return malformed("topic_merge_delta", raw, "a number")
		}
		p.TopicMergeDelta = v
	}
	if raw, ok := lookupOverride("seed"); ok {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return malformed("seed", raw, "an unsigned integer")
		}
		p.Seed = v
	}
	if raw, ok := lookupOverride("timeout"); ok {
		v, err := time.ParseDuration(raw)
		if err != nil {
			return malformed("timeout", raw, "a duration")
		}
		p.Timeout = v
	}
	return nil
}

func overrideInt(key string, dst *int) error {
	raw, ok := lookupOverride(key)
	if !ok {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return malformed(key, raw, "an integer")
	}
	*dst = v
	return nil
}

// EnvKey is the environment variable that overrides a top-level parameter.
func EnvKey(key string) string {
	return "APP_" + strings.ToUpper(key)
}

func lookupOverride(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvKey(key))
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func malformed(key, raw, want string) error {
	return &topics.ConfigurationError{Key: key, Value: raw, Reason: EnvKey(key) + " is not " + want}
}
