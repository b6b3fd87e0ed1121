// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package version

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianData/services/dataset/manifest"
	"github.com/AleutianAI/AleutianData/services/dataset/sample"
)

func testSplits(n int) map[string][]sample.Sample {
	train := make([]sample.Sample, 0, n)
	for i := 0; i < n; i++ {
		train = append(train, sample.Sample{
			ID:     fmt.Sprintf("s-%03d", i),
			Fields: map[string]string{"doc_type": "passport", "is_genuine": "true"},
			Label:  0.9,
		})
	}
	val := []sample.Sample{{
		ID:     "s-val",
		Fields: map[string]string{"doc_type": "id_card", "is_genuine": "false"},
		Label:  0.2,
	}}
	return map[string][]sample.Sample{"train": train, "validation": val}
}

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), "docs", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreateVersion_AutoVersioning(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	v1, err := m.CreateVersion(ctx, testSplits(5), CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v1.0.0", v1.Version, "empty store starts at v1.0.0")

	v2, err := m.CreateVersion(ctx, testSplits(6), CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, "v1.0.1", v2.Version, "patch bump from highest existing")

	v3, err := m.CreateVersion(ctx, testSplits(7), CreateOptions{ParentVersion: "v1.0.0"})
	require.NoError(t, err)
	assert.Equal(t, "v1.0.2", v3.Version,
		"parent's successor is taken, bump continues until free")
}

func TestCreateVersion_ExplicitAndDuplicate(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	_, err := m.CreateVersion(ctx, testSplits(3), CreateOptions{Version: "v2.1.0"})
	require.NoError(t, err)

	_, err = m.CreateVersion(ctx, testSplits(3), CreateOptions{Version: "v2.1.0"})
	require.ErrorIs(t, err, ErrVersionExists)

	_, err = m.CreateVersion(ctx, testSplits(3), CreateOptions{Version: "2.1.0"})
	require.ErrorIs(t, err, ErrInvalidVersion)

	_, err = m.CreateVersion(ctx, testSplits(3), CreateOptions{Version: "v01.0.0"})
	require.ErrorIs(t, err, ErrInvalidVersion)

	_, err = m.CreateVersion(ctx, nil, CreateOptions{})
	require.ErrorIs(t, err, ErrNoSamples)
}

func TestCreateVersion_PersistsAllDocuments(t *testing.T) {
	dir := t.TempDir()
	m, err := NewManager(dir, "docs")
	require.NoError(t, err)
	defer m.Close()

	v, err := m.CreateVersion(context.Background(), testSplits(4), CreateOptions{
		Description: "initial import",
		Tags:        []string{"baseline"},
	})
	require.NoError(t, err)

	for _, name := range []string{"dataset.json", "provenance.json", "manifest.json"} {
		_, statErr := os.Stat(filepath.Join(dir, v.Version, name))
		assert.NoError(t, statErr, name)
	}
	_, err = os.Stat(filepath.Join(dir, "versions.json"))
	assert.NoError(t, err)

	// dataset.json carries the split-annotated samples and content hash.
	data, err := os.ReadFile(filepath.Join(dir, v.Version, "dataset.json"))
	require.NoError(t, err)
	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, v.Provenance.ContentHash, doc["content_hash"])
	assert.Len(t, doc["samples"], 5)
}

func TestContentHash_SplitIndependent(t *testing.T) {
	splits := testSplits(10)
	h1 := ComputeContentHash(splits)

	// Move a sample from train to validation; the population is unchanged.
	moved := map[string][]sample.Sample{
		"train":      splits["train"][1:],
		"validation": append([]sample.Sample{splits["train"][0]}, splits["validation"]...),
	}
	assert.Equal(t, h1, ComputeContentHash(moved))

	// Changing a label changes the hash.
	splits["train"][0].Label = 0.1
	assert.NotEqual(t, h1, ComputeContentHash(splits))
}

func TestLoadVersion_RoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.CreateVersion(ctx, testSplits(5), CreateOptions{})
	require.NoError(t, err)

	loaded, err := m.LoadVersion(ctx, created.Version)
	require.NoError(t, err)
	assert.Equal(t, created.Provenance.ContentHash, loaded.Provenance.ContentHash)
	assert.Equal(t, created.Manifest.ManifestHash, loaded.Manifest.ManifestHash)
	assert.Len(t, loaded.Splits["train"], 5)
	assert.Len(t, loaded.Splits["validation"], 1)

	_, err = m.LoadVersion(ctx, "v9.9.9")
	require.ErrorIs(t, err, ErrVersionNotFound)
}

func TestVerifyVersion_Clean(t *testing.T) {
	secret := []byte("ci-secret")
	verifier := manifest.NewVerifier()
	verifier.TrustHMACSecret("ci", secret)

	m := newTestManager(t,
		WithSigner(manifest.NewHMACSigner("ci", secret)),
		WithVerifier(verifier))
	ctx := context.Background()

	v, err := m.CreateVersion(ctx, testSplits(5), CreateOptions{})
	require.NoError(t, err)

	report, err := m.VerifyVersion(ctx, v.Version)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.True(t, report.ContentValid)
	assert.True(t, report.ManifestValid)
	assert.True(t, report.SignatureValid)
	assert.Empty(t, report.Errors)
}

func TestVerifyVersion_UnsignedStore(t *testing.T) {
	// No signer, no trust store: verification is hash-only and the missing
	// signature is a warning, not a failure.
	m := newTestManager(t)
	ctx := context.Background()

	v, err := m.CreateVersion(ctx, testSplits(4), CreateOptions{})
	require.NoError(t, err)

	report, err := m.VerifyVersion(ctx, v.Version)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.True(t, report.ContentValid)
	assert.True(t, report.ManifestValid)
	assert.False(t, report.SignatureValid)
	assert.Empty(t, report.Errors)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "not signed")
}

func TestVerifyVersion_DetectsTamperedDataset(t *testing.T) {
	dir := t.TempDir()
	secret := []byte("ci-secret")
	verifier := manifest.NewVerifier()
	verifier.TrustHMACSecret("ci", secret)

	m, err := NewManager(dir, "docs",
		WithSigner(manifest.NewHMACSigner("ci", secret)),
		WithVerifier(verifier))
	require.NoError(t, err)
	defer m.Close()
	ctx := context.Background()

	v, err := m.CreateVersion(ctx, testSplits(5), CreateOptions{})
	require.NoError(t, err)

	// Flip one label in the persisted dataset document.
	path := filepath.Join(dir, v.Version, "dataset.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc datasetDocument
	require.NoError(t, json.Unmarshal(data, &doc))
	doc.Samples[0].Label = 0.01
	tampered, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	report, err := m.VerifyVersion(ctx, v.Version)
	require.NoError(t, err, "integrity failures are reported, not returned")
	assert.False(t, report.Valid)
	assert.False(t, report.ContentValid)
	assert.NotEmpty(t, report.Errors)
}

func TestCompareVersions(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	v1, err := m.CreateVersion(ctx, testSplits(5), CreateOptions{})
	require.NoError(t, err)

	splits := testSplits(5)
	// Drop one sample, add two new ones.
	splits["train"] = splits["train"][1:]
	splits["train"] = append(splits["train"],
		sample.Sample{ID: "s-new-1", Label: 0.8},
		sample.Sample{ID: "s-new-2", Label: 0.7})
	v2, err := m.CreateVersion(ctx, splits, CreateOptions{ParentVersion: v1.Version})
	require.NoError(t, err)

	diff, err := m.CompareVersions(ctx, v1.Version, v2.Version)
	require.NoError(t, err)
	assert.Equal(t, []string{"s-new-1", "s-new-2"}, diff.Added)
	assert.Equal(t, []string{"s-000"}, diff.Removed)
	assert.Equal(t, 5, diff.Unchanged)
	assert.False(t, diff.Identical())

	same, err := m.CompareVersions(ctx, v1.Version, v1.Version)
	require.NoError(t, err)
	assert.True(t, same.Identical())
	assert.Empty(t, same.Added)
}

func TestUpdateStatus_StateMachine(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	v, err := m.CreateVersion(ctx, testSplits(3), CreateOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, v.Provenance.Status)

	// Happy path: draft -> pending -> validated -> released.
	for _, next := range []Status{StatusPending, StatusValidated, StatusReleased} {
		require.NoError(t, m.UpdateStatus(ctx, v.Version, next))
	}
	prov, err := m.GetProvenance(v.Version)
	require.NoError(t, err)
	assert.Equal(t, StatusReleased, prov.Status)

	// Released can only move to deprecated/archived.
	err = m.UpdateStatus(ctx, v.Version, StatusDraft)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.NoError(t, m.UpdateStatus(ctx, v.Version, StatusDeprecated))
	require.NoError(t, m.UpdateStatus(ctx, v.Version, StatusArchived))

	// Archived is terminal.
	err = m.UpdateStatus(ctx, v.Version, StatusReleased)
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestUpdateStatus_NoSkipping(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	v, err := m.CreateVersion(ctx, testSplits(3), CreateOptions{})
	require.NoError(t, err)

	err = m.UpdateStatus(ctx, v.Version, StatusReleased)
	require.ErrorIs(t, err, ErrInvalidTransition, "draft cannot jump to released")
}

func TestListVersions_SemanticOrder(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	for _, ver := range []string{"v1.0.0", "v1.0.10", "v1.0.2", "v2.0.0"} {
		_, err := m.CreateVersion(ctx, testSplits(2), CreateOptions{Version: ver})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"v1.0.0", "v1.0.2", "v1.0.10", "v2.0.0"}, m.ListVersions(),
		"numeric ordering, not lexicographic")
}

func TestManager_IndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	m1, err := NewManager(dir, "docs")
	require.NoError(t, err)
	v, err := m1.CreateVersion(ctx, testSplits(3), CreateOptions{Tags: []string{"baseline"}})
	require.NoError(t, err)
	require.NoError(t, m1.Close())

	m2, err := NewManager(dir, "docs")
	require.NoError(t, err)
	defer m2.Close()

	prov, err := m2.GetProvenance(v.Version)
	require.NoError(t, err)
	assert.Equal(t, v.Provenance.ContentHash, prov.ContentHash)
	assert.Equal(t, []string{"baseline"}, prov.Tags)

	loaded, err := m2.LoadVersion(ctx, v.Version)
	require.NoError(t, err)
	assert.Len(t, loaded.Splits["train"], 3)
}

func TestParseVersion(t *testing.T) {
	major, minor, patch, err := ParseVersion("v2.13.4")
	require.NoError(t, err)
	assert.Equal(t, []int{2, 13, 4}, []int{major, minor, patch})

	major, minor, patch, err = ParseVersion("v0.0.0")
	require.NoError(t, err)
	assert.Equal(t, []int{0, 0, 0}, []int{major, minor, patch})

	// Leading zeros and signs parse under strconv.Atoi but are not valid
	// version directory names, so they must be rejected here too.
	for _, bad := range []string{
		"2.13.4", "v2.13", "v2.13.4.1", "va.b.c", "v-1.0.0",
		"v01.0.0", "v1.00.0", "v+1.0.0", "v1. 0.0", "v1..0",
	} {
		_, _, _, err := ParseVersion(bad)
		assert.ErrorIs(t, err, ErrInvalidVersion, bad)
	}
}
