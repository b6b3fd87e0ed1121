// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package version manages named, immutable dataset versions on disk.
//
// A dataset version is a set of sample splits plus its provenance record and
// signed manifest, persisted once into a per-version directory. Creating a
// version never mutates an existing one; the only mutable state is the
// lifecycle status in the version index (versions.json), which is rewritten
// atomically on every change.
package version

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianData/services/dataset/lineage"
	"github.com/AleutianAI/AleutianData/services/dataset/manifest"
	"github.com/AleutianAI/AleutianData/services/dataset/sample"
)

// Sentinel errors for version management.
var (
	// ErrVersionNotFound is returned when the requested version is absent
	// from the index.
	ErrVersionNotFound = errors.New("version not found")

	// ErrVersionExists is returned when creating a version whose identifier
	// is already in the index.
	ErrVersionExists = errors.New("version already exists")

	// ErrInvalidVersion is returned for version strings that are not
	// vMAJOR.MINOR.PATCH.
	ErrInvalidVersion = errors.New("invalid version string")

	// ErrInvalidTransition is returned for a disallowed status change.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrNoSamples is returned when creating a version with no samples in
	// any split.
	ErrNoSamples = errors.New("no samples provided")
)

// Status is the lifecycle state of a dataset version.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusPending    Status = "pending"
	StatusValidated  Status = "validated"
	StatusReleased   Status = "released"
	StatusDeprecated Status = "deprecated"
	StatusArchived   Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusValidated, StatusReleased,
		StatusDeprecated, StatusArchived:
		return true
	default:
		return false
	}
}

// statusTransitions is the explicit lifecycle state machine:
// draft -> pending -> validated -> released, with deprecated/archived side
// branches from any post-draft state. Status never changes implicitly.
var statusTransitions = map[Status][]Status{
	StatusDraft:      {StatusPending},
	StatusPending:    {StatusValidated, StatusDeprecated, StatusArchived},
	StatusValidated:  {StatusReleased, StatusDeprecated, StatusArchived},
	StatusReleased:   {StatusDeprecated, StatusArchived},
	StatusDeprecated: {StatusArchived},
	StatusArchived:   {},
}

// CanTransition reports whether s may move to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range statusTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// ProvenanceRecord ties one dataset version to its lineage, build
// environment, and integrity hashes. It is the value stored per version in
// the versions.json index.
type ProvenanceRecord struct {
	Version       string                  `json:"version"`
	DatasetName   string                  `json:"dataset_name"`
	Description   string                  `json:"description,omitempty"`
	Status        Status                  `json:"status"`
	ParentVersion string                  `json:"parent_version,omitempty"`
	Tags          []string                `json:"tags,omitempty"`
	ContentHash   string                  `json:"content_hash"`
	ManifestHash  string                  `json:"manifest_hash"`
	SampleCount   int                     `json:"sample_count"`
	SplitCounts   map[string]int          `json:"split_counts"`
	CreatedAt     time.Time               `json:"created_at"`
	UpdatedAt     time.Time               `json:"updated_at"`
	Lineage       *lineage.DatasetLineage `json:"lineage,omitempty"`
	BuildInfo     *lineage.BuildInfo      `json:"build_info,omitempty"`
}

// DatasetVersion is one persisted dataset version loaded into memory.
type DatasetVersion struct {
	Version    string                     `json:"version"`
	Splits     map[string][]sample.Sample `json:"splits"`
	Provenance *ProvenanceRecord          `json:"provenance"`
	Manifest   *manifest.DatasetManifest  `json:"manifest"`
}

// Samples returns all samples across splits in split-name order.
func (v *DatasetVersion) Samples() []sample.Sample {
	names := make([]string, 0, len(v.Splits))
	for name := range v.Splits {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []sample.Sample
	for _, name := range names {
		out = append(out, v.Splits[name]...)
	}
	return out
}

// VerifyReport is the outcome of end-to-end version verification.
type VerifyReport struct {
	Version        string   `json:"version"`
	Valid          bool     `json:"valid"`
	ContentValid   bool     `json:"content_valid"`
	ManifestValid  bool     `json:"manifest_valid"`
	SignatureValid bool     `json:"signature_valid"`
	Errors         []string `json:"errors,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

func (r *VerifyReport) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Diff is the sample-level difference between two versions.
type Diff struct {
	VersionA     string   `json:"version_a"`
	VersionB     string   `json:"version_b"`
	ContentHashA string   `json:"content_hash_a"`
	ContentHashB string   `json:"content_hash_b"`
	Added        []string `json:"added"`
	Removed      []string `json:"removed"`
	Unchanged    int      `json:"unchanged"`
}

// Identical reports whether the two versions share the same content hash.
func (d *Diff) Identical() bool {
	return d.ContentHashA == d.ContentHashB
}

// ComputeContentHash fingerprints a dataset's sample population.
//
// Description:
//
//	Builds one "id|label|genuine-flag" tuple per sample, sorts the tuples
//	by ID, and hashes the joined result. Split assignment is deliberately
//	excluded: two versions holding the same samples have the same content
//	hash even if the split boundaries moved. Samples without a genuine
//	flag contribute "?" so an absent flag and an explicit "false" hash
//	apart.
func ComputeContentHash(splits map[string][]sample.Sample) string {
	var tuples []string
	for _, samples := range splits {
		for i := range samples {
			s := &samples[i]
			genuine := s.Field(sample.ColIsGenuine)
			if genuine == "" {
				genuine = "?"
			}
			tuples = append(tuples, s.ID+"|"+
				strconv.FormatFloat(s.Label, 'f', 6, 64)+"|"+
				genuine)
		}
	}
	sort.Strings(tuples)
	sum := sha256.Sum256([]byte(strings.Join(tuples, "\n")))
	return hex.EncodeToString(sum[:])
}

// ParseVersion parses a vMAJOR.MINOR.PATCH string.
//
// Components are unsigned decimal with no leading zeros, the same grammar
// validation.ValidateVersionString accepts, so a version that parses here is
// also a valid directory name.
func ParseVersion(v string) (major, minor, patch int, err error) {
	if !strings.HasPrefix(v, "v") {
		return 0, 0, 0, fmt.Errorf("%w: %q must start with 'v'", ErrInvalidVersion, v)
	}
	parts := strings.Split(v[1:], ".")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: %q is not vMAJOR.MINOR.PATCH", ErrInvalidVersion, v)
	}
	nums := make([]int, 3)
	for i, p := range parts {
		if !canonicalNumber(p) {
			return 0, 0, 0, fmt.Errorf("%w: %q has non-canonical component %q", ErrInvalidVersion, v, p)
		}
		n, convErr := strconv.Atoi(p)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q has non-numeric component %q", ErrInvalidVersion, v, p)
		}
		nums[i] = n
	}
	return nums[0], nums[1], nums[2], nil
}

// canonicalNumber reports whether p is "0" or a digit string without a
// leading zero. Signs and whitespace, which strconv.Atoi would accept, are
// rejected.
func canonicalNumber(p string) bool {
	if p == "" || (len(p) > 1 && p[0] == '0') {
		return false
	}
	for _, c := range p {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// compareVersionStrings orders two valid version strings numerically.
func compareVersionStrings(a, b string) int {
	amaj, amin, apat, errA := ParseVersion(a)
	bmaj, bmin, bpat, errB := ParseVersion(b)
	if errA != nil || errB != nil {
		return strings.Compare(a, b)
	}
	if amaj != bmaj {
		return amaj - bmaj
	}
	if amin != bmin {
		return amin - bmin
	}
	return apat - bpat
}

// bumpPatch returns v with its patch component incremented.
func bumpPatch(v string) (string, error) {
	major, minor, patch, err := ParseVersion(v)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("v%d.%d.%d", major, minor, patch+1), nil
}
