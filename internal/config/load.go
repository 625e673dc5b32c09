package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load reads, validates, and defaults a campaign file.
//
// Order matters: schema validation runs on the raw YAML (so positions in
// error messages point at the file the user wrote), defaults fill the
// gaps, environment overrides win last.
func Load(path string) (*Campaign, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, &SchemaError{Code: ErrCodeNotFound, Message: fmt.Sprintf("campaign file not found: %s", path)}
	}
	if err != nil {
		return nil, &SchemaError{Code: ErrCodeGeneric, Message: fmt.Sprintf("read campaign: %v", err)}
	}

	if errs := ValidateBytes(path, data); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var c Campaign
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, &SchemaError{Code: ErrCodeSyntax, Message: fmt.Sprintf("decode campaign: %v", err)}
	}

	applyDefaults(&c)
	applyEnv(&c)

	if errs := validateCross(&c); len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return &c, nil
}

// applyEnv overlays ABFE_* environment variables. A .env file next to
// the working directory is honored but never required; explicit process
// environment still wins over .env (godotenv does not overwrite).
func applyEnv(c *Campaign) {
	_ = godotenv.Load()

	if v := os.Getenv("ABFE_ENGINE_BINARY"); v != "" {
		c.Engine.Binary = v
	}
	if v := os.Getenv("ABFE_ESTIMATOR"); v != "" {
		c.Engine.Estimator = v
	}
	if v := os.Getenv("ABFE_LEDGER"); v != "" {
		c.Ledger = v
	}
	if v := os.Getenv("ABFE_PARTITION"); v != "" {
		c.Cluster.Partition = v
	}
	if v := os.Getenv("ABFE_ACCOUNT"); v != "" {
		c.Cluster.Account = v
	}
	if v := os.Getenv("ABFE_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cluster.Jobs = n
		}
	}
}
