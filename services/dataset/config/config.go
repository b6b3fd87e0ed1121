// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates the dataset pipeline configuration.
//
// Configuration is YAML, validated fail-fast at load time so a bad ratio or
// missing salt variable surfaces before any sample is touched. Secrets (the
// anonymization salt, signing secrets) are never stored in the file itself;
// the file names the environment variable that carries them.
package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianData/services/dataset/split"
)

var (
	// ErrMissingSaltEnv is returned when anonymization is enabled but the
	// configured salt environment variable is unset or empty.
	ErrMissingSaltEnv = errors.New("anonymization salt environment variable is not set")

	// ErrMissingSignerEnv is returned when signing is enabled but the
	// configured key environment variable is unset or empty.
	ErrMissingSignerEnv = errors.New("signer key environment variable is not set")
)

// AnonymizeConfig selects the fields to anonymize and how.
type AnonymizeConfig struct {
	// Enabled turns anonymization on. All other fields are ignored when
	// false.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Fields lists the sample field names to rewrite.
	Fields []string `yaml:"fields" json:"fields"`

	// Method is one of hash_sha256, hash_blake2, redact, tokenize.
	Method string `yaml:"method" json:"method"`

	// SaltEnv names the environment variable holding the salt. The salt
	// value itself never appears in configuration files.
	SaltEnv string `yaml:"salt_env" json:"salt_env"`
}

// Salt reads the salt from the configured environment variable.
func (c *AnonymizeConfig) Salt() (string, error) {
	if !c.Enabled {
		return "", nil
	}
	salt := os.Getenv(c.SaltEnv)
	if salt == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingSaltEnv, c.SaltEnv)
	}
	return salt, nil
}

// SignerConfig selects the manifest signing identity and key source.
type SignerConfig struct {
	// Enabled turns manifest signing on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Algorithm is one of HMAC-SHA256, Ed25519, RSA-SHA256.
	Algorithm string `yaml:"algorithm" json:"algorithm"`

	// SignerID identifies who signed (a CI pipeline, a release bot).
	SignerID string `yaml:"signer_id" json:"signer_id"`

	// KeyEnv names the environment variable holding the key material:
	// the shared secret for HMAC, or a path to the key file for
	// Ed25519/RSA.
	KeyEnv string `yaml:"key_env" json:"key_env"`
}

// Key reads the key material reference from the configured environment
// variable.
func (c *SignerConfig) Key() (string, error) {
	if !c.Enabled {
		return "", nil
	}
	key := os.Getenv(c.KeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingSignerEnv, c.KeyEnv)
	}
	return key, nil
}

// PipelineConfig is the full dataset pipeline configuration.
type PipelineConfig struct {
	// DatasetName names the dataset all versions belong to.
	DatasetName string `yaml:"dataset_name" json:"dataset_name" validate:"required"`

	// BaseDir is the version store root.
	BaseDir string `yaml:"base_dir" json:"base_dir" validate:"required"`

	// SchemaVersion is stamped into lineage and manifests.
	SchemaVersion string `yaml:"schema_version" json:"schema_version" validate:"required"`

	// Split configures the deterministic partitioning stage.
	Split split.Config `yaml:"split" json:"split"`

	// Anonymize configures the PII rewriting stage.
	Anonymize AnonymizeConfig `yaml:"anonymize" json:"anonymize"`

	// Signer configures manifest signing.
	Signer SignerConfig `yaml:"signer" json:"signer"`

	// LogLevel is debug, info, warn, or error. Defaults to info.
	LogLevel string `yaml:"log_level" json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

var pipelineValidator = validator.New(validator.WithRequiredStructEnabled())

// Load reads and validates a pipeline configuration file.
//
// Description:
//
//	Parses YAML with strict field checking (unknown keys are errors, they
//	are almost always typos) and validates the result. Fails on the first
//	problem; a config that loads is a config the pipeline can run with,
//	except for environment-carried secrets which are resolved at use.
func Load(path string) (*PipelineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

// Parse validates a raw YAML document.
func Parse(data []byte) (*PipelineConfig, error) {
	cfg := &PipelineConfig{
		LogLevel: "info",
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := pipelineValidator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.Split.Validate(); err != nil {
		return nil, err
	}
	if cfg.Anonymize.Enabled {
		if len(cfg.Anonymize.Fields) == 0 {
			return nil, errors.New("anonymization enabled with no fields configured")
		}
		if cfg.Anonymize.SaltEnv == "" {
			return nil, errors.New("anonymization enabled without salt_env")
		}
	}
	if cfg.Signer.Enabled {
		if cfg.Signer.SignerID == "" {
			return nil, errors.New("signing enabled without signer_id")
		}
		if cfg.Signer.KeyEnv == "" {
			return nil, errors.New("signing enabled without key_env")
		}
	}
	return cfg, nil
}

// Hash fingerprints the configuration for provenance.
//
// The hash covers the JSON serialization of the config, which excludes any
// secret values since those live in the environment.
func (c *PipelineConfig) Hash() string {
	data, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:16]
}
