// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package lineage records where dataset content came from and what was done
// to it.
//
// A Tracker accumulates SourceRecords and TransformRecords over the life of
// one build and finalizes them into a DatasetLineage whose final hash is a
// pure function of (source content hashes, transform config hashes, schema
// version) - recomputable at any time for verification.
//
// Source types and transform types are closed sets: adding a variant means
// adding a constant here, not registering a handler at run time.
package lineage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// SourceType classifies where ingested data came from.
type SourceType string

const (
	SourceLocalFile   SourceType = "local_file"
	SourceObjectStore SourceType = "object_store"
	SourceAPI         SourceType = "api"
	SourceDatabase    SourceType = "database"
	SourceSynthetic   SourceType = "synthetic"
	SourceDerived     SourceType = "derived"
)

// Valid reports whether t is a known source type.
func (t SourceType) Valid() bool {
	switch t {
	case SourceLocalFile, SourceObjectStore, SourceAPI, SourceDatabase, SourceSynthetic, SourceDerived:
		return true
	default:
		return false
	}
}

// TransformType classifies one pipeline stage.
type TransformType string

const (
	TransformIngestion         TransformType = "ingestion"
	TransformPreprocessing     TransformType = "preprocessing"
	TransformAugmentation      TransformType = "augmentation"
	TransformAnonymization     TransformType = "anonymization"
	TransformLabeling          TransformType = "labeling"
	TransformSplitting         TransformType = "splitting"
	TransformFeatureExtraction TransformType = "feature_extraction"
	TransformFiltering         TransformType = "filtering"
	TransformMerging           TransformType = "merging"
)

// Valid reports whether t is a known transform type.
func (t TransformType) Valid() bool {
	switch t {
	case TransformIngestion, TransformPreprocessing, TransformAugmentation,
		TransformAnonymization, TransformLabeling, TransformSplitting,
		TransformFeatureExtraction, TransformFiltering, TransformMerging:
		return true
	default:
		return false
	}
}

// SourceRecord describes one ingested data source. Append-only: one record
// per source, never mutated after creation.
type SourceRecord struct {
	SourceID    string     `json:"source_id"`
	SourceType  SourceType `json:"source_type"`
	Location    string     `json:"location"`
	ContentHash string     `json:"content_hash"`
	RecordCount int        `json:"record_count"`
	AccessedAt  time.Time  `json:"accessed_at"`
}

// TransformRecord describes one pipeline stage. Append-only.
type TransformRecord struct {
	TransformID   string        `json:"transform_id"`
	TransformType TransformType `json:"transform_type"`
	Description   string        `json:"description"`

	// ConfigHash fingerprints the transform parameters. Two transforms with
	// identical parameters share a ConfigHash even when recorded
	// independently, which is what makes version-to-version diffing of
	// "what changed" possible.
	ConfigHash string `json:"config_hash"`

	InputHash   string    `json:"input_hash,omitempty"`
	OutputHash  string    `json:"output_hash,omitempty"`
	InputCount  int       `json:"input_count"`
	OutputCount int       `json:"output_count"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Success     bool      `json:"success"`
	ErrorMsg    string    `json:"error_message,omitempty"`
}

// Duration returns the elapsed transform time.
func (t *TransformRecord) Duration() time.Duration {
	return t.CompletedAt.Sub(t.StartedAt)
}

// BuildInfo is an immutable snapshot of the executing environment, captured
// once per lineage.
type BuildInfo struct {
	Commit    string    `json:"commit"`
	Branch    string    `json:"branch"`
	Dirty     bool      `json:"dirty"`
	GoVersion string    `json:"go_version"`
	Hostname  string    `json:"hostname"`
	Username  string    `json:"username"`
	Platform  string    `json:"platform"`
	Timestamp time.Time `json:"timestamp"`
}

// DatasetLineage aggregates everything known about one dataset build.
type DatasetLineage struct {
	LineageID      string            `json:"lineage_id"`
	DatasetName    string            `json:"dataset_name"`
	DatasetVersion string            `json:"dataset_version"`
	SchemaVersion  string            `json:"schema_version"`
	Sources        []SourceRecord    `json:"sources"`
	Transforms     []TransformRecord `json:"transforms"`
	BuildInfo      BuildInfo         `json:"build_info"`

	// Warnings records non-fatal events such as skipped sources.
	Warnings []string `json:"warnings,omitempty"`

	// FinalHash is a pure function of (source content hashes, transform
	// config hashes, schema version); see ComputeFinalHash.
	FinalHash   string `json:"final_hash"`
	SampleCount int    `json:"sample_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// ComputeFinalHash recomputes the canonical lineage fingerprint.
//
// The hash covers source content hashes (in order), transform config hashes
// (in order), and the schema version, serialized as sorted-key JSON. Anyone
// holding the lineage can recompute it and compare against FinalHash.
func (l *DatasetLineage) ComputeFinalHash() string {
	sources := make([]string, len(l.Sources))
	for i, s := range l.Sources {
		sources[i] = s.ContentHash
	}
	transforms := make([]string, len(l.Transforms))
	for i, t := range l.Transforms {
		transforms[i] = t.ConfigHash
	}

	doc := map[string]any{
		"sources":        sources,
		"transforms":     transforms,
		"schema_version": l.SchemaVersion,
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("lineage: final hash marshal: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify reports whether FinalHash matches a fresh recomputation.
func (l *DatasetLineage) Verify() bool {
	return l.FinalHash != "" && l.FinalHash == l.ComputeFinalHash()
}

// ConfigHashLength is the hex length of transform config hashes.
const ConfigHashLength = 16

// ConfigHash fingerprints a transform's parameters.
//
// Serialized as sorted-key JSON so identical parameter sets hash identically
// regardless of how the map was built.
func ConfigHash(config map[string]any) string {
	if len(config) == 0 {
		config = map[string]any{}
	}
	data, err := json.Marshal(config)
	if err != nil {
		// Non-serializable config values are a programming error; hash the
		// error text so the record still carries something stable.
		data = []byte(err.Error())
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:ConfigHashLength]
}
