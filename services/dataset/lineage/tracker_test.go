// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package lineage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testBuildInfo avoids shelling out to git in unit tests.
func testBuildInfo() BuildInfo {
	return BuildInfo{
		Commit:    "deadbeef",
		Branch:    "main",
		GoVersion: "go1.25.3",
		Hostname:  "test-host",
		Username:  "tester",
		Platform:  "linux/amd64",
		Timestamp: time.Now().UTC(),
	}
}

func newTestTracker(t *testing.T) *Tracker {
	t.Helper()
	return NewTracker(context.Background(), "docs", "v1.0.0", "1.0",
		WithBuildInfo(testBuildInfo()))
}

func TestTracker_LineageID(t *testing.T) {
	tr1 := newTestTracker(t)
	tr2 := newTestTracker(t)

	assert.True(t, strings.HasPrefix(tr1.LineageID(), "docs_v1.0.0_"))
	assert.NotEqual(t, tr1.LineageID(), tr2.LineageID(),
		"same-second builds must get distinct lineage IDs")
}

func TestTracker_AddSource(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	rec, err := tr.AddSource(ctx, SourceLocalFile, "file:///data/batch1.json", "abc123", 500)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.SourceID)
	assert.False(t, rec.AccessedAt.IsZero())

	_, err = tr.AddSource(ctx, SourceType("ftp"), "ftp://x", "h", 1)
	require.ErrorIs(t, err, ErrInvalidSourceType)
}

func TestTracker_ConfigHashStable(t *testing.T) {
	// Identical parameters recorded independently must share a config hash,
	// regardless of map construction order.
	h1 := ConfigHash(map[string]any{"seed": 42, "ratio": "0.7", "strategy": "stratified"})
	h2 := ConfigHash(map[string]any{"strategy": "stratified", "ratio": "0.7", "seed": 42})
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, ConfigHashLength)

	h3 := ConfigHash(map[string]any{"seed": 43, "ratio": "0.7", "strategy": "stratified"})
	assert.NotEqual(t, h1, h3)
}

func TestTracker_TransformContext(t *testing.T) {
	t.Run("success path", func(t *testing.T) {
		tr := newTestTracker(t)
		ctx := context.Background()

		err := tr.Track(ctx, TransformSplitting, "stratified split",
			map[string]any{"seed": 42},
			func(tx *Transform) error {
				tx.SetCounts(100, 100).SetHashes("in-hash", "out-hash")
				return nil
			})
		require.NoError(t, err)

		l, err := tr.Finalize("", 100)
		require.NoError(t, err)
		require.Len(t, l.Transforms, 1)
		rec := l.Transforms[0]
		assert.True(t, rec.Success)
		assert.Equal(t, 100, rec.InputCount)
		assert.Equal(t, "out-hash", rec.OutputHash)
		assert.False(t, rec.CompletedAt.IsZero())
	})

	t.Run("failure is recorded and error propagates", func(t *testing.T) {
		tr := newTestTracker(t)
		ctx := context.Background()
		boom := errors.New("corrupt batch")

		err := tr.Track(ctx, TransformIngestion, "load batch", nil,
			func(tx *Transform) error {
				return boom
			})
		require.ErrorIs(t, err, boom, "original error must reach the caller")

		l, err := tr.Finalize("", 0)
		require.NoError(t, err)
		require.Len(t, l.Transforms, 1)
		assert.False(t, l.Transforms[0].Success)
		assert.Equal(t, "corrupt batch", l.Transforms[0].ErrorMsg)
	})

	t.Run("End is idempotent", func(t *testing.T) {
		tr := newTestTracker(t)
		ctx := context.Background()

		tx := tr.Begin(TransformFiltering, "drop unlabeled", nil)
		tx.End(ctx, nil)
		tx.End(ctx, errors.New("late error")) // must not double-record

		l, err := tr.Finalize("", 0)
		require.NoError(t, err)
		require.Len(t, l.Transforms, 1)
		assert.True(t, l.Transforms[0].Success)
	})
}

func TestTracker_Finalize(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	_, err := tr.AddSource(ctx, SourceSynthetic, "generator://v2", "hash-a", 200)
	require.NoError(t, err)
	require.NoError(t, tr.Track(ctx, TransformLabeling, "apply annotations",
		map[string]any{"annotator": "batch-7"}, func(tx *Transform) error { return nil }))

	l, err := tr.Finalize("", 200)
	require.NoError(t, err)
	assert.Equal(t, 200, l.SampleCount)
	assert.Len(t, l.FinalHash, 64)
	assert.True(t, l.Verify(), "final hash must be recomputable from the lineage")

	// Tamper: changing a source content hash must break verification.
	l.Sources[0].ContentHash = "hash-b"
	assert.False(t, l.Verify())

	// Sealed tracker rejects further records.
	_, err = tr.AddSource(ctx, SourceLocalFile, "file:///late", "h", 1)
	require.ErrorIs(t, err, ErrFinalized)
	_, err = tr.Finalize("", 0)
	require.ErrorIs(t, err, ErrFinalized)
}

func TestTracker_Warnings(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()

	tr.AddWarning(ctx, "source %s unreachable, skipped", "s3://bucket/batch2")

	l, err := tr.Finalize("", 0)
	require.NoError(t, err)
	require.Len(t, l.Warnings, 1)
	assert.Contains(t, l.Warnings[0], "batch2")
}

func TestDatasetLineage_FinalHashIsPure(t *testing.T) {
	l := &DatasetLineage{
		SchemaVersion: "1.0",
		Sources:       []SourceRecord{{ContentHash: "a"}, {ContentHash: "b"}},
		Transforms:    []TransformRecord{{ConfigHash: "c1"}},
	}
	h1 := l.ComputeFinalHash()

	// Fields outside the fingerprint must not affect the hash.
	l.DatasetName = "renamed"
	l.SampleCount = 9999
	assert.Equal(t, h1, l.ComputeFinalHash())

	l.SchemaVersion = "2.0"
	assert.NotEqual(t, h1, l.ComputeFinalHash())
}
