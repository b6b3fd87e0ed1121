// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// Dataset names and version strings become file system paths under the
// version store, and field names are interpolated into structured logs and
// reports. Validating them at the boundary prevents path traversal and keeps
// on-disk layouts portable.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// datasetNamePattern matches safe dataset names: they become directory
// components and log labels. Lowercase alphanumerics plus internal
// underscores and hyphens, 1-64 characters.
var datasetNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)

// versionPattern matches vMAJOR.MINOR.PATCH with no leading zeros padding
// tricks (v01.0.0 is rejected).
var versionPattern = regexp.MustCompile(`^v(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)$`)

// fieldNamePattern matches sample field names used for stratification,
// grouping, and anonymization targeting.
var fieldNamePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,63}$`)

// ValidateDatasetName checks a dataset name for use as a path component.
//
// Valid names are 1-64 characters of lowercase alphanumerics, underscores,
// and hyphens, starting with an alphanumeric. This rules out path
// separators, dots, and anything else that could escape the base directory.
func ValidateDatasetName(name string) error {
	if name == "" {
		return fmt.Errorf("dataset name cannot be empty")
	}
	if !datasetNamePattern.MatchString(name) {
		return fmt.Errorf("invalid dataset name: %q (must be 1-64 lowercase alphanumerics, underscores, or hyphens)", name)
	}
	return nil
}

// ValidateVersionString checks a vMAJOR.MINOR.PATCH version identifier.
//
// Version strings become directory names, so the same path safety applies
// as for dataset names.
func ValidateVersionString(version string) error {
	if version == "" {
		return fmt.Errorf("version cannot be empty")
	}
	if !versionPattern.MatchString(version) {
		return fmt.Errorf("invalid version: %q (must be vMAJOR.MINOR.PATCH)", version)
	}
	return nil
}

// ValidateFieldName checks a sample field name.
func ValidateFieldName(name string) error {
	if name == "" {
		return fmt.Errorf("field name cannot be empty")
	}
	if !fieldNamePattern.MatchString(name) {
		return fmt.Errorf("invalid field name: %q (must be 1-64 word characters, not starting with a digit)", name)
	}
	return nil
}

// ValidateFieldNames validates multiple field names, listing every invalid
// one so configuration errors surface in a single pass.
func ValidateFieldNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateFieldName(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid field names: %v", invalid)
	}
	return nil
}

// SanitizeDatasetName normalizes and validates a dataset name. Returns the
// lowercase trimmed name if valid.
func SanitizeDatasetName(name string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if err := ValidateDatasetName(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
