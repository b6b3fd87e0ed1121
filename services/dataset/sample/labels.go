// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sample

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Label CSV interchange columns.
const (
	ColSampleID   = "sample_id"
	ColTrustScore = "trust_score"
	ColIsGenuine  = "is_genuine"
	ColFraudType  = "fraud_type"
	ColAnnotator  = "annotator_id"
	ColNotes      = "notes"
)

var (
	// ErrMissingColumn is returned when a required CSV column is absent.
	ErrMissingColumn = errors.New("missing required column")

	// ErrEmptyLabelFile is returned when the CSV has no header row.
	ErrEmptyLabelFile = errors.New("label file is empty")
)

// LabelRecord is one row of the label-annotation interchange format.
type LabelRecord struct {
	SampleID    string  `json:"sample_id"`
	TrustScore  float64 `json:"trust_score"`
	IsGenuine   bool    `json:"is_genuine"`
	FraudType   string  `json:"fraud_type,omitempty"`
	AnnotatorID string  `json:"annotator_id,omitempty"`
	Notes       string  `json:"notes,omitempty"`
}

// RowError records a non-fatal parse failure for one CSV row.
//
// Rows that fail to parse are skipped and reported so a batch of annotations
// can be loaded past individual bad rows, matching the skip-and-continue
// semantics used elsewhere in the pipeline.
type RowError struct {
	// Line is the 1-based line number in the CSV (header is line 1).
	Line int `json:"line"`

	// Err is the underlying error.
	Err error `json:"error"`
}

// Error implements the error interface.
func (e RowError) Error() string {
	return fmt.Sprintf("label row %d: %v", e.Line, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e RowError) Unwrap() error {
	return e.Err
}

// LabelSet is the result of loading a label CSV.
type LabelSet struct {
	// Records holds all successfully parsed rows, in file order.
	Records []LabelRecord

	// Errors holds per-row parse failures. A non-empty Errors with a
	// non-empty Records means a partial load.
	Errors []RowError
}

// ByID indexes the records by sample ID. Later rows win on duplicates.
func (ls *LabelSet) ByID() map[string]LabelRecord {
	out := make(map[string]LabelRecord, len(ls.Records))
	for _, r := range ls.Records {
		out[r.SampleID] = r
	}
	return out
}

// ParseBool parses the interchange format's boolean encoding.
//
// Accepts {true, 1, yes, y} case-insensitively as truthy; everything else,
// including the empty string, is falsy.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "y":
		return true
	default:
		return false
	}
}

// LoadLabels reads the label-annotation CSV from r.
//
// Description:
//
//	Parses the header to locate required and optional columns, then reads
//	rows. Required columns are sample_id and trust_score; is_genuine,
//	fraud_type, annotator_id and notes are optional. Rows with a missing ID
//	or an unparseable trust score are recorded in LabelSet.Errors and
//	skipped.
//
// Outputs:
//
//	*LabelSet - Parsed records plus per-row errors. Never nil on nil error.
//	error - Non-nil only for structural failures (empty file, missing
//	        required column, unreadable CSV).
func LoadLabels(r io.Reader) (*LabelSet, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmptyLabelFile
	}
	if err != nil {
		return nil, fmt.Errorf("read label header: %w", err)
	}

	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{ColSampleID, ColTrustScore} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingColumn, required)
		}
	}

	get := func(row []string, col string) string {
		idx, ok := cols[col]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[idx])
	}

	set := &LabelSet{}
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			set.Errors = append(set.Errors, RowError{Line: line, Err: err})
			continue
		}

		id := get(row, ColSampleID)
		if id == "" {
			set.Errors = append(set.Errors, RowError{Line: line, Err: errors.New("empty sample_id")})
			continue
		}

		score, err := strconv.ParseFloat(get(row, ColTrustScore), 64)
		if err != nil {
			set.Errors = append(set.Errors, RowError{Line: line, Err: fmt.Errorf("bad trust_score: %w", err)})
			continue
		}

		set.Records = append(set.Records, LabelRecord{
			SampleID:    id,
			TrustScore:  score,
			IsGenuine:   ParseBool(get(row, ColIsGenuine)),
			FraudType:   get(row, ColFraudType),
			AnnotatorID: get(row, ColAnnotator),
			Notes:       get(row, ColNotes),
		})
	}

	return set, nil
}

// ApplyLabels merges a label set onto samples by ID.
//
// The trust score becomes the sample label; is_genuine and fraud_type are
// written into the sample fields so downstream stratification can key on
// them. Samples without a matching record are left untouched. Returns the
// number of samples updated.
func ApplyLabels(samples []Sample, labels *LabelSet) int {
	byID := labels.ByID()
	updated := 0
	for i := range samples {
		rec, ok := byID[samples[i].ID]
		if !ok {
			continue
		}
		samples[i].Label = rec.TrustScore
		if samples[i].Fields == nil {
			samples[i].Fields = make(map[string]string, 2)
		}
		samples[i].Fields[ColIsGenuine] = strconv.FormatBool(rec.IsGenuine)
		if rec.FraudType != "" {
			samples[i].Fields[ColFraudType] = rec.FraudType
		}
		updated++
	}
	return updated
}
