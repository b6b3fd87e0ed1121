// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sample defines the labeled training record consumed by the dataset
// core and the label-annotation interchange format.
//
// A Sample is opaque to the rest of the pipeline: an identifier, a flat set
// of string fields, a scalar label, and optional category keys used for
// stratification. How features or labels were computed is not this package's
// concern - upstream ingestion hands over a flat list and the dataset core
// only ever mutates string fields when anonymization is invoked explicitly.
package sample

import (
	"sort"
)

// Sample is one labeled training record (metadata and label only, never raw
// media). The ID must be unique within a dataset.
type Sample struct {
	// ID uniquely identifies the sample within its dataset.
	ID string `json:"id"`

	// Fields holds scalar/string attributes (document type, issue date, ...).
	// Anonymization rewrites values in place for the configured field names.
	Fields map[string]string `json:"fields"`

	// Label is the training target.
	Label float64 `json:"label"`

	// CategoryKeys lists the field names usable as stratification keys.
	CategoryKeys []string `json:"category_keys,omitempty"`
}

// Field returns the value for name, or "" if absent.
func (s *Sample) Field(name string) string {
	if s.Fields == nil {
		return ""
	}
	return s.Fields[name]
}

// Clone returns a deep copy of the sample.
//
// The dataset core never mutates caller-owned samples except during explicit
// anonymization; Clone is for callers that want to keep the originals.
func (s Sample) Clone() Sample {
	out := s
	if s.Fields != nil {
		out.Fields = make(map[string]string, len(s.Fields))
		for k, v := range s.Fields {
			out.Fields[k] = v
		}
	}
	if s.CategoryKeys != nil {
		out.CategoryKeys = append([]string(nil), s.CategoryKeys...)
	}
	return out
}

// SortByID sorts samples lexicographically by ID in place.
//
// Every deterministic operation in the dataset core (splitting, content
// hashing) starts from this ordering so results are independent of input
// ordering.
func SortByID(samples []Sample) {
	sort.Slice(samples, func(i, j int) bool {
		return samples[i].ID < samples[j].ID
	})
}

// IDs returns the sample IDs in input order.
func IDs(samples []Sample) []string {
	out := make([]string, len(samples))
	for i := range samples {
		out[i] = samples[i].ID
	}
	return out
}

// SortedIDs returns the sample IDs sorted lexicographically.
func SortedIDs(samples []Sample) []string {
	out := IDs(samples)
	sort.Strings(out)
	return out
}
