// Package config reads run configurations from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"policysim/internal/pipeline"
	"policysim/internal/policy"
)

// Template is a runnable starting config with a single policy.
func Template() pipeline.Config {
	cfg := pipeline.Defaults()
	cfg.Policies = []policy.Config{{Name: "lockdown", Effect: -0.15, Start: 40, End: 45}}
	return cfg
}

// Load reads path over pipeline.Defaults. Unknown keys are rejected.
func Load(path string) (pipeline.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return pipeline.Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Parse(data []byte) (pipeline.Config, error) {
	cfg := pipeline.Defaults()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return pipeline.Config{}, err
	}
	return cfg, nil
}

// Write stores cfg as YAML, for example as a starting template.
func Write(path string, cfg pipeline.Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
