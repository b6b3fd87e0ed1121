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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLabels(t *testing.T) {
	t.Run("parses required and optional columns", func(t *testing.T) {
		csv := "sample_id,trust_score,is_genuine,fraud_type,annotator_id,notes\n" +
			"s1,0.95,true,,ann-1,clean scan\n" +
			"s2,0.10,no,photo_substitution,ann-2,\n"

		set, err := LoadLabels(strings.NewReader(csv))
		require.NoError(t, err)
		require.Len(t, set.Records, 2)
		assert.Empty(t, set.Errors)

		assert.Equal(t, "s1", set.Records[0].SampleID)
		assert.Equal(t, 0.95, set.Records[0].TrustScore)
		assert.True(t, set.Records[0].IsGenuine)

		assert.False(t, set.Records[1].IsGenuine)
		assert.Equal(t, "photo_substitution", set.Records[1].FraudType)
	})

	t.Run("missing required column fails fast", func(t *testing.T) {
		csv := "sample_id,quality\ns1,0.5\n"
		_, err := LoadLabels(strings.NewReader(csv))
		require.ErrorIs(t, err, ErrMissingColumn)
	})

	t.Run("empty file", func(t *testing.T) {
		_, err := LoadLabels(strings.NewReader(""))
		require.ErrorIs(t, err, ErrEmptyLabelFile)
	})

	t.Run("bad rows are skipped and reported", func(t *testing.T) {
		csv := "sample_id,trust_score\n" +
			"s1,0.9\n" +
			",0.5\n" +
			"s3,not-a-number\n" +
			"s4,0.2\n"

		set, err := LoadLabels(strings.NewReader(csv))
		require.NoError(t, err)
		assert.Len(t, set.Records, 2)
		require.Len(t, set.Errors, 2)
		assert.Equal(t, 3, set.Errors[0].Line)
		assert.Equal(t, 4, set.Errors[1].Line)
	})

	t.Run("optional columns may be absent entirely", func(t *testing.T) {
		csv := "sample_id,trust_score\ns1,1.0\n"
		set, err := LoadLabels(strings.NewReader(csv))
		require.NoError(t, err)
		require.Len(t, set.Records, 1)
		assert.False(t, set.Records[0].IsGenuine)
	})
}

func TestParseBool(t *testing.T) {
	truthy := []string{"true", "TRUE", "True", "1", "yes", "YES", "y", "Y", " y "}
	for _, v := range truthy {
		assert.True(t, ParseBool(v), "ParseBool(%q)", v)
	}
	falsy := []string{"", "false", "0", "no", "n", "maybe", "2"}
	for _, v := range falsy {
		assert.False(t, ParseBool(v), "ParseBool(%q)", v)
	}
}

func TestApplyLabels(t *testing.T) {
	samples := []Sample{
		{ID: "s1", Fields: map[string]string{"doc_type": "passport"}},
		{ID: "s2"},
		{ID: "s3"},
	}
	set := &LabelSet{Records: []LabelRecord{
		{SampleID: "s1", TrustScore: 0.8, IsGenuine: true},
		{SampleID: "s2", TrustScore: 0.1, IsGenuine: false, FraudType: "screen_recapture"},
		{SampleID: "missing", TrustScore: 0.5},
	}}

	updated := ApplyLabels(samples, set)
	assert.Equal(t, 2, updated)

	assert.Equal(t, 0.8, samples[0].Label)
	assert.Equal(t, "true", samples[0].Fields[ColIsGenuine])
	assert.Equal(t, "passport", samples[0].Fields["doc_type"], "existing fields preserved")

	assert.Equal(t, "false", samples[1].Fields[ColIsGenuine])
	assert.Equal(t, "screen_recapture", samples[1].Fields[ColFraudType])

	assert.Zero(t, samples[2].Label, "unmatched sample untouched")
	assert.Nil(t, samples[2].Fields)
}

func TestSortByID(t *testing.T) {
	samples := []Sample{{ID: "c"}, {ID: "a"}, {ID: "b"}}
	SortByID(samples)
	assert.Equal(t, []string{"a", "b", "c"}, IDs(samples))
}
