// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Builder accumulates content hashes and assembles a DatasetManifest.
//
// # Thread Safety
//
// Builder is safe for concurrent use; AddSamplesParallel fans out hashing
// internally and entries are always re-sorted to canonical order in Build,
// so concurrency cannot change the resulting manifest hash.
type Builder struct {
	mu          sync.Mutex
	entries     []ContentHash
	splitCounts map[string]int
}

// NewBuilder creates an empty Builder.
func NewBuilder() *Builder {
	return &Builder{splitCounts: make(map[string]int)}
}

// hashBytes computes the full hex SHA-256 of data.
func hashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// AddSample hashes one sample's serialized bytes and records its split.
func (b *Builder) AddSample(id string, data []byte, split string) {
	entry := ContentHash{
		ItemID:    id,
		ItemType:  ItemSample,
		Algorithm: HashAlgorithm,
		Value:     hashBytes(data),
		SizeBytes: int64(len(data)),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
	b.splitCounts[split]++
}

// AddLabel hashes one label blob.
func (b *Builder) AddLabel(id string, data []byte) {
	b.add(id, ItemLabel, data)
}

// AddFeature hashes one feature blob.
func (b *Builder) AddFeature(id string, data []byte) {
	b.add(id, ItemFeature, data)
}

func (b *Builder) add(id string, itemType ItemType, data []byte) {
	entry := ContentHash{
		ItemID:    id,
		ItemType:  itemType,
		Algorithm: HashAlgorithm,
		Value:     hashBytes(data),
		SizeBytes: int64(len(data)),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, entry)
}

// SampleInput is one item for AddSamplesParallel.
type SampleInput struct {
	ID    string
	Data  []byte
	Split string
}

// AddSamplesParallel hashes many samples concurrently.
//
// Description:
//
//	Hashing each item is independent, so the work fans out across
//	GOMAXPROCS goroutines. Results are collected into a slice indexed by
//	input position and appended in one locked batch; Build re-sorts
//	entries canonically, so the manifest hash is identical to sequential
//	AddSample calls.
//
// Inputs:
//   - ctx: Cancels outstanding hashing.
//   - inputs: Items to hash. May be empty.
//
// Outputs:
//   - error: Only a context cancellation; hashing itself cannot fail.
func (b *Builder) AddSamplesParallel(ctx context.Context, inputs []SampleInput) error {
	if len(inputs) == 0 {
		return nil
	}

	results := make([]ContentHash, len(inputs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	for i := range inputs {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			in := inputs[i]
			results[i] = ContentHash{
				ItemID:    in.ID,
				ItemType:  ItemSample,
				Algorithm: HashAlgorithm,
				Value:     hashBytes(in.Data),
				SizeBytes: int64(len(in.Data)),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("parallel sample hashing: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = append(b.entries, results...)
	for _, in := range inputs {
		b.splitCounts[in.Split]++
	}
	return nil
}

// BuildOption customizes the assembled manifest.
type BuildOption func(*DatasetManifest)

// WithBuildConfigHash records the pipeline config fingerprint.
func WithBuildConfigHash(hash string) BuildOption {
	return func(m *DatasetManifest) { m.BuildConfigHash = hash }
}

// WithSourceManifests records upstream manifest IDs for derived datasets.
func WithSourceManifests(ids ...string) BuildOption {
	return func(m *DatasetManifest) { m.SourceManifests = append([]string(nil), ids...) }
}

// WithTransformChain records the lineage transform IDs applied, in order.
func WithTransformChain(ids ...string) BuildOption {
	return func(m *DatasetManifest) { m.TransformChain = append([]string(nil), ids...) }
}

// WithSchemaVersion overrides the default schema version.
func WithSchemaVersion(v string) BuildOption {
	return func(m *DatasetManifest) { m.SchemaVersion = v }
}

// DefaultSchemaVersion is stamped on manifests unless overridden.
const DefaultSchemaVersion = "1.0"

// Build assembles the manifest from accumulated entries.
//
// Description:
//
//	Sorts entries canonically by (item type, item ID), stamps identity and
//	schema fields, and computes the manifest hash. The result is unsigned;
//	pass it to a Signer next. The builder can keep accumulating after
//	Build; each call snapshots the current state.
func (b *Builder) Build(datasetName, datasetVersion string, opts ...BuildOption) *DatasetManifest {
	b.mu.Lock()
	entries := make([]ContentHash, len(b.entries))
	copy(entries, b.entries)
	splitCounts := make(map[string]int, len(b.splitCounts))
	for k, v := range b.splitCounts {
		splitCounts[k] = v
	}
	b.mu.Unlock()

	SortContentHashes(entries)

	totalSamples := 0
	for _, e := range entries {
		if e.ItemType == ItemSample {
			totalSamples++
		}
	}

	m := &DatasetManifest{
		ManifestID:     uuid.NewString(),
		DatasetName:    datasetName,
		DatasetVersion: datasetVersion,
		ContentHashes:  entries,
		TotalSamples:   totalSamples,
		SplitCounts:    splitCounts,
		SchemaVersion:  DefaultSchemaVersion,
		BuildTimestamp: time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.SchemaHash = ComputeSchemaHash(m.SchemaVersion, m.DatasetName)
	m.ManifestHash = ComputeManifestHash(m)
	return m
}
