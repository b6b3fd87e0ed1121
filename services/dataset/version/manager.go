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
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianData/pkg/validation"
	"github.com/AleutianAI/AleutianData/services/dataset/lineage"
	"github.com/AleutianAI/AleutianData/services/dataset/manifest"
	"github.com/AleutianAI/AleutianData/services/dataset/sample"
)

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	createDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dataset_version_create_duration_seconds",
		Help:    "Time to create and persist a dataset version",
		Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"status"})

	versionOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataset_version_operations_total",
		Help: "Total version manager operations by type and status",
	}, []string{"operation", "status"})

	verifyResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dataset_version_verify_results_total",
		Help: "Verification outcomes by result",
	}, []string{"result"})
)

// -----------------------------------------------------------------------------
// Tracer
// -----------------------------------------------------------------------------

var versionTracer = otel.Tracer("dataset.version")

// -----------------------------------------------------------------------------
// Manager
// -----------------------------------------------------------------------------

// Manager creates, loads, verifies, and diffs dataset versions under one
// base directory.
//
// # Thread Safety
//
// The in-memory index is guarded by a mutex, so one Manager is safe for
// concurrent readers. Concurrent WRITERS to the same base path (multiple
// processes creating versions) are out of scope: callers needing concurrent
// builds must use distinct base directories or external locking.
type Manager struct {
	baseDir     string
	datasetName string
	logger      *slog.Logger
	signer      *manifest.Signer
	verifier    *manifest.Verifier

	mu    sync.RWMutex
	index map[string]*ProvenanceRecord

	watcher     *fsnotify.Watcher
	watcherDone chan struct{}
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithSigner enables manifest signing on CreateVersion.
func WithSigner(s *manifest.Signer) ManagerOption {
	return func(m *Manager) { m.signer = s }
}

// WithVerifier sets the trust store used by VerifyVersion. Without one,
// signature checks fall back to embedded keys where available.
func WithVerifier(v *manifest.Verifier) ManagerOption {
	return func(m *Manager) { m.verifier = v }
}

// NewManager opens (creating if needed) a version store at baseDir.
//
// Description:
//
//	Ensures the base directory exists, loads the versions.json index, and
//	starts an fsnotify watcher so external index rewrites are picked up.
//	Call Close when done to release the watcher.
func NewManager(baseDir, datasetName string, opts ...ManagerOption) (*Manager, error) {
	if err := validation.ValidateDatasetName(datasetName); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}

	m := &Manager{
		baseDir:     baseDir,
		datasetName: datasetName,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}

	index, err := loadIndex(baseDir)
	if err != nil {
		return nil, err
	}
	m.index = index

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create index watcher: %w", err)
	}
	if err := watcher.Add(baseDir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch base directory: %w", err)
	}
	m.watcher = watcher
	m.watcherDone = make(chan struct{})
	go m.watchIndex()

	m.logger.Info("version manager opened",
		slog.String("base_dir", baseDir),
		slog.String("dataset", datasetName),
		slog.Int("versions", len(index)))
	return m, nil
}

// Close stops the index watcher. The on-disk state needs no shutdown.
func (m *Manager) Close() error {
	if m.watcher == nil {
		return nil
	}
	err := m.watcher.Close()
	<-m.watcherDone
	m.watcher = nil
	return err
}

// CreateOptions parameterizes CreateVersion. All fields are optional.
type CreateOptions struct {
	// Version pins the version string (vMAJOR.MINOR.PATCH). Empty means
	// auto-bump the patch from ParentVersion, or from the highest existing
	// version, or v1.0.0 for an empty store.
	Version string

	Description   string
	Tags          []string
	ParentVersion string

	// Lineage attaches the finalized lineage of the build that produced
	// these splits.
	Lineage *lineage.DatasetLineage

	// BuildConfigHash fingerprints the pipeline configuration.
	BuildConfigHash string
}

// CreateVersion persists a new immutable dataset version.
//
// Description:
//
//	Resolves the version identifier (rejecting duplicates), computes the
//	split-independent content hash, builds and optionally signs the
//	manifest, then writes dataset.json, provenance.json, manifest.json and
//	lineage.json into a fresh per-version directory before atomically
//	updating the index. The new version starts in status draft.
//
// Outputs:
//   - *DatasetVersion: The created version with provenance and manifest.
//   - error: ErrNoSamples, ErrVersionExists, ErrInvalidVersion, or an I/O
//     error. On error nothing is added to the index, though a partially
//     written version directory may remain for inspection.
func (m *Manager) CreateVersion(ctx context.Context, splits map[string][]sample.Sample, opts CreateOptions) (*DatasetVersion, error) {
	start := time.Now()
	ctx, span := versionTracer.Start(ctx, "version.Create",
		trace.WithAttributes(attribute.String("dataset.name", m.datasetName)))
	defer span.End()

	v, err := m.createVersion(ctx, splits, opts)
	status := "success"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(
			attribute.String("dataset.version", v.Version),
			attribute.Int("dataset.samples", v.Provenance.SampleCount),
		)
	}
	createDurationHistogram.WithLabelValues(status).Observe(time.Since(start).Seconds())
	versionOperationsTotal.WithLabelValues("create", status).Inc()
	return v, err
}

func (m *Manager) createVersion(ctx context.Context, splits map[string][]sample.Sample, opts CreateOptions) (*DatasetVersion, error) {
	total := 0
	for _, s := range splits {
		total += len(s)
	}
	if total == 0 {
		return nil, ErrNoSamples
	}

	ver, err := m.resolveVersion(opts.Version, opts.ParentVersion)
	if err != nil {
		return nil, err
	}

	contentHash := ComputeContentHash(splits)

	schemaVersion := manifest.DefaultSchemaVersion
	if opts.Lineage != nil && opts.Lineage.SchemaVersion != "" {
		schemaVersion = opts.Lineage.SchemaVersion
	}

	man, err := m.buildManifest(ctx, ver, schemaVersion, splits, opts)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	prov := &ProvenanceRecord{
		Version:       ver,
		DatasetName:   m.datasetName,
		Description:   opts.Description,
		Status:        StatusDraft,
		ParentVersion: opts.ParentVersion,
		Tags:          append([]string(nil), opts.Tags...),
		ContentHash:   contentHash,
		ManifestHash:  man.ManifestHash,
		SampleCount:   total,
		SplitCounts:   man.SplitCounts,
		CreatedAt:     now,
		UpdatedAt:     now,
		Lineage:       opts.Lineage,
	}
	if opts.Lineage != nil {
		prov.BuildInfo = &opts.Lineage.BuildInfo
	}

	if err := m.persistVersion(ver, schemaVersion, contentHash, splits, prov, man); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.index[ver] = prov
	err = m.saveIndexLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.logger.Info("dataset version created",
		slog.String("version", ver),
		slog.Int("samples", total),
		slog.String("content_hash", contentHash[:12]),
		slog.Bool("signed", man.Signature != nil))

	return &DatasetVersion{
		Version:    ver,
		Splits:     splits,
		Provenance: prov,
		Manifest:   man,
	}, nil
}

// resolveVersion picks the version identifier for a new version.
func (m *Manager) resolveVersion(requested, parent string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if requested != "" {
		if _, _, _, err := ParseVersion(requested); err != nil {
			return "", err
		}
		if _, exists := m.index[requested]; exists {
			return "", fmt.Errorf("%w: %s", ErrVersionExists, requested)
		}
		return requested, nil
	}

	base := parent
	if base == "" {
		for v := range m.index {
			if base == "" || compareVersionStrings(v, base) > 0 {
				base = v
			}
		}
	}
	if base == "" {
		return "v1.0.0", nil
	}

	// Bump until free: the parent's direct successor may already exist when
	// several versions derive from the same parent.
	next, err := bumpPatch(base)
	if err != nil {
		return "", err
	}
	for {
		if _, exists := m.index[next]; !exists {
			return next, nil
		}
		if next, err = bumpPatch(next); err != nil {
			return "", err
		}
	}
}

// buildManifest hashes every sample and assembles the (optionally signed)
// manifest for a new version.
func (m *Manager) buildManifest(ctx context.Context, ver, schemaVersion string, splits map[string][]sample.Sample, opts CreateOptions) (*manifest.DatasetManifest, error) {
	b := manifest.NewBuilder()

	var inputs []manifest.SampleInput
	for splitName, samples := range splits {
		for i := range samples {
			data, err := json.Marshal(samples[i])
			if err != nil {
				return nil, fmt.Errorf("serialize sample %s: %w", samples[i].ID, err)
			}
			inputs = append(inputs, manifest.SampleInput{
				ID:    samples[i].ID,
				Data:  data,
				Split: splitName,
			})
		}
	}
	if err := b.AddSamplesParallel(ctx, inputs); err != nil {
		return nil, err
	}

	buildOpts := []manifest.BuildOption{manifest.WithSchemaVersion(schemaVersion)}
	if opts.BuildConfigHash != "" {
		buildOpts = append(buildOpts, manifest.WithBuildConfigHash(opts.BuildConfigHash))
	}
	if opts.Lineage != nil {
		ids := make([]string, 0, len(opts.Lineage.Transforms))
		for _, tf := range opts.Lineage.Transforms {
			ids = append(ids, tf.TransformID)
		}
		buildOpts = append(buildOpts, manifest.WithTransformChain(ids...))
	}

	man := b.Build(m.datasetName, ver, buildOpts...)
	if m.signer != nil {
		if err := m.signer.Sign(man); err != nil {
			return nil, fmt.Errorf("sign manifest: %w", err)
		}
	}
	return man, nil
}

// persistVersion writes the four per-version documents into a fresh
// directory.
func (m *Manager) persistVersion(ver, schemaVersion, contentHash string, splits map[string][]sample.Sample, prov *ProvenanceRecord, man *manifest.DatasetManifest) error {
	dir := m.versionDir(ver)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create version directory: %w", err)
	}

	doc := datasetDocument{
		Version:       ver,
		SchemaVersion: schemaVersion,
		Splits:        make(map[string]int, len(splits)),
		ContentHash:   contentHash,
	}
	splitNames := make([]string, 0, len(splits))
	for name := range splits {
		splitNames = append(splitNames, name)
	}
	sort.Strings(splitNames)
	for _, name := range splitNames {
		doc.Splits[name] = len(splits[name])
		for i := range splits[name] {
			doc.Samples = append(doc.Samples, persistedSample{
				Sample: splits[name][i],
				Split:  name,
			})
		}
	}

	if err := writeJSONAtomic(filepath.Join(dir, datasetFile), doc); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, provenanceFile), prov); err != nil {
		return err
	}
	if err := writeJSONAtomic(filepath.Join(dir, manifestFile), man); err != nil {
		return err
	}
	if prov.Lineage != nil {
		if err := writeJSONAtomic(filepath.Join(dir, lineageFile), prov.Lineage); err != nil {
			return err
		}
	}
	return nil
}

// LoadVersion reconstructs a version from disk.
//
// Outputs:
//   - error: ErrVersionNotFound when the version is absent from the index,
//     or an I/O/parse error for corrupt on-disk state.
func (m *Manager) LoadVersion(ctx context.Context, ver string) (*DatasetVersion, error) {
	_, span := versionTracer.Start(ctx, "version.Load")
	defer span.End()
	span.SetAttributes(attribute.String("dataset.version", ver))

	m.mu.RLock()
	prov, ok := m.index[ver]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, ver)
	}

	dir := m.versionDir(ver)

	var doc datasetDocument
	if err := readJSON(filepath.Join(dir, datasetFile), &doc); err != nil {
		return nil, fmt.Errorf("load dataset document for %s: %w", ver, err)
	}
	var man manifest.DatasetManifest
	if err := readJSON(filepath.Join(dir, manifestFile), &man); err != nil {
		return nil, fmt.Errorf("load manifest for %s: %w", ver, err)
	}

	splits := make(map[string][]sample.Sample)
	for _, ps := range doc.Samples {
		splits[ps.Split] = append(splits[ps.Split], ps.Sample)
	}

	versionOperationsTotal.WithLabelValues("load", "success").Inc()
	return &DatasetVersion{
		Version:    ver,
		Splits:     splits,
		Provenance: prov,
		Manifest:   &man,
	}, nil
}

// VerifyVersion is the end-to-end tamper and corruption detector.
//
// Description:
//
//	Loads the version from disk, recomputes the content hash from the
//	loaded samples and the manifest hash from the loaded manifest, and
//	compares both against the stored provenance values. The signature is
//	checked when present. Mismatches are reported, never repaired.
//
// Outputs:
//   - *VerifyReport: Per-check results plus specific error strings; Valid
//     only when every check passes.
//   - error: Only for loading failures (version not found, unreadable
//     files); integrity failures go in the report.
func (m *Manager) VerifyVersion(ctx context.Context, ver string) (*VerifyReport, error) {
	ctx, span := versionTracer.Start(ctx, "version.Verify")
	defer span.End()
	span.SetAttributes(attribute.String("dataset.version", ver))

	v, err := m.LoadVersion(ctx, ver)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		verifyResultsTotal.WithLabelValues("load_error").Inc()
		return nil, err
	}

	report := &VerifyReport{Version: ver}

	recomputedContent := ComputeContentHash(v.Splits)
	if recomputedContent == v.Provenance.ContentHash {
		report.ContentValid = true
	} else {
		report.addError("content hash mismatch: stored %s, recomputed %s",
			v.Provenance.ContentHash, recomputedContent)
	}

	verifier := m.verifier
	if verifier == nil {
		verifier = manifest.NewVerifier()
	}
	manReport := verifier.Verify(v.Manifest)
	report.ManifestValid = manReport.HashValid

	// A signature is only demanded when one is present or a trust store is
	// configured; an unsigned store degrades to hash-only verification with
	// a warning.
	signatureRequired := v.Manifest.Signature != nil || m.verifier != nil
	if signatureRequired {
		report.SignatureValid = manReport.SignatureValid
		report.Errors = append(report.Errors, manReport.Errors...)
		report.Warnings = append(report.Warnings, manReport.Warnings...)
	} else {
		report.Warnings = append(report.Warnings, "manifest is not signed")
		for _, e := range manReport.Errors {
			if !strings.Contains(e, "not signed") {
				report.Errors = append(report.Errors, e)
			}
		}
		report.Warnings = append(report.Warnings, manReport.Warnings...)
	}

	if v.Manifest.ManifestHash != v.Provenance.ManifestHash {
		report.ManifestValid = false
		report.addError("manifest hash differs from provenance: manifest %s, provenance %s",
			v.Manifest.ManifestHash, v.Provenance.ManifestHash)
	}

	report.Valid = report.ContentValid && report.ManifestValid &&
		(!signatureRequired || report.SignatureValid)

	result := "valid"
	if !report.Valid {
		result = "invalid"
		span.SetStatus(codes.Error, "verification failed")
	}
	verifyResultsTotal.WithLabelValues(result).Inc()
	m.logger.Info("version verified",
		slog.String("version", ver),
		slog.Bool("valid", report.Valid),
		slog.Int("errors", len(report.Errors)))
	return report, nil
}

// CompareVersions diffs the sample populations of two versions.
func (m *Manager) CompareVersions(ctx context.Context, verA, verB string) (*Diff, error) {
	a, err := m.LoadVersion(ctx, verA)
	if err != nil {
		return nil, err
	}
	b, err := m.LoadVersion(ctx, verB)
	if err != nil {
		return nil, err
	}

	idsA := make(map[string]bool)
	for _, s := range a.Samples() {
		idsA[s.ID] = true
	}
	idsB := make(map[string]bool)
	for _, s := range b.Samples() {
		idsB[s.ID] = true
	}

	diff := &Diff{
		VersionA:     verA,
		VersionB:     verB,
		ContentHashA: a.Provenance.ContentHash,
		ContentHashB: b.Provenance.ContentHash,
	}
	for id := range idsB {
		if idsA[id] {
			diff.Unchanged++
		} else {
			diff.Added = append(diff.Added, id)
		}
	}
	for id := range idsA {
		if !idsB[id] {
			diff.Removed = append(diff.Removed, id)
		}
	}
	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)

	versionOperationsTotal.WithLabelValues("compare", "success").Inc()
	return diff, nil
}

// UpdateStatus moves a version through its lifecycle.
//
// Description:
//
//	Applies the explicit state machine (draft -> pending -> validated ->
//	released, with deprecated/archived side branches). This is the only
//	way status changes; there is no automatic promotion. The index and the
//	version's provenance.json are both rewritten.
func (m *Manager) UpdateStatus(ctx context.Context, ver string, next Status) error {
	_, span := versionTracer.Start(ctx, "version.UpdateStatus")
	defer span.End()

	if !next.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTransition, next)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	prov, ok := m.index[ver]
	if !ok {
		return fmt.Errorf("%w: %s", ErrVersionNotFound, ver)
	}
	if !prov.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, prov.Status, next)
	}

	prev := prov.Status
	prov.Status = next
	prov.UpdatedAt = time.Now().UTC()

	if err := writeJSONAtomic(filepath.Join(m.versionDir(ver), provenanceFile), prov); err != nil {
		prov.Status = prev
		return err
	}
	if err := m.saveIndexLocked(); err != nil {
		return err
	}

	m.logger.Info("version status updated",
		slog.String("version", ver),
		slog.String("from", string(prev)),
		slog.String("to", string(next)))
	versionOperationsTotal.WithLabelValues("update_status", "success").Inc()
	return nil
}

// ListVersions returns all known version identifiers in ascending semantic
// order.
func (m *Manager) ListVersions() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.index))
	for v := range m.index {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool {
		return compareVersionStrings(out[i], out[j]) < 0
	})
	return out
}

// GetProvenance returns the index record for a version.
func (m *Manager) GetProvenance(ver string) (*ProvenanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prov, ok := m.index[ver]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrVersionNotFound, ver)
	}
	return prov, nil
}
