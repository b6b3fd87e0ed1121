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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrFinalized is returned when records are added after Finalize.
	ErrFinalized = errors.New("lineage already finalized")

	// ErrInvalidSourceType is returned for an unrecognized source type.
	ErrInvalidSourceType = errors.New("invalid source type")

	// ErrInvalidTransformType is returned for an unrecognized transform type.
	ErrInvalidTransformType = errors.New("invalid transform type")
)

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithLogger sets the tracker's logger.
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) { t.logger = logger }
}

// WithJournal attaches a write-ahead journal. Every appended record is
// persisted immediately so provenance survives a crash that happens before
// Finalize.
func WithJournal(j *Journal) TrackerOption {
	return func(t *Tracker) { t.journal = j }
}

// WithBuildInfo overrides the captured build info (used in tests).
func WithBuildInfo(info BuildInfo) TrackerOption {
	return func(t *Tracker) { t.buildInfo = info }
}

// Tracker accumulates sources and transforms over the life of one build.
//
// # Thread Safety
//
// Tracker is safe for concurrent use. Records are appended under a mutex;
// BuildInfo is captured once at construction and never changes.
type Tracker struct {
	lineageID     string
	name          string
	version       string
	schemaVersion string
	buildInfo     BuildInfo
	logger        *slog.Logger
	journal       *Journal

	mu         sync.Mutex
	sources    []SourceRecord
	transforms []TransformRecord
	warnings   []string
	finalized  bool
}

// NewTracker creates a Tracker for one dataset build.
//
// The lineage ID is generated once here as
// "{name}_{version}_{timestamp}_{shortHash}" so that two builds of the same
// dataset version in the same second still get distinct lineages.
func NewTracker(ctx context.Context, name, version, schemaVersion string, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		lineageID: fmt.Sprintf("%s_%s_%d_%s",
			name, version, time.Now().UTC().Unix(), uuid.NewString()[:8]),
		name:          name,
		version:       version,
		schemaVersion: schemaVersion,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.buildInfo.Timestamp.IsZero() {
		t.buildInfo = CaptureBuildInfo(ctx)
	}
	return t
}

// LineageID returns the generated lineage identifier.
func (t *Tracker) LineageID() string {
	return t.lineageID
}

// AddSource appends one source record.
func (t *Tracker) AddSource(ctx context.Context, sourceType SourceType, location, contentHash string, recordCount int) (SourceRecord, error) {
	if !sourceType.Valid() {
		return SourceRecord{}, fmt.Errorf("%w: %q", ErrInvalidSourceType, sourceType)
	}

	rec := SourceRecord{
		SourceID:    uuid.NewString(),
		SourceType:  sourceType,
		Location:    location,
		ContentHash: contentHash,
		RecordCount: recordCount,
		AccessedAt:  time.Now().UTC(),
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return SourceRecord{}, ErrFinalized
	}
	t.sources = append(t.sources, rec)
	t.journalAppend(ctx, entrySource, rec)
	return rec, nil
}

// AddWarning records a non-fatal event, such as a skipped source, so
// skip-and-continue orchestration still leaves an audit trail.
func (t *Tracker) AddWarning(ctx context.Context, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return
	}
	t.warnings = append(t.warnings, msg)
	t.journalAppend(ctx, entryWarning, msg)
	t.logger.Warn("lineage warning recorded",
		slog.String("lineage_id", t.lineageID),
		slog.String("warning", msg),
	)
}

// AddTransform appends a completed transform record directly.
//
// Most callers should prefer Begin/End so timing and failure capture are
// handled for them; AddTransform exists for replaying externally recorded
// stages.
func (t *Tracker) AddTransform(ctx context.Context, rec TransformRecord) (TransformRecord, error) {
	if !rec.TransformType.Valid() {
		return TransformRecord{}, fmt.Errorf("%w: %q", ErrInvalidTransformType, rec.TransformType)
	}
	if rec.TransformID == "" {
		rec.TransformID = uuid.NewString()
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return TransformRecord{}, ErrFinalized
	}
	t.transforms = append(t.transforms, rec)
	t.journalAppend(ctx, entryTransform, rec)
	return rec, nil
}

// Transform is a scoped transform context. Obtain one with Begin, do the
// work, then call End exactly once. End is idempotent, so a deferred End
// after an explicit one is harmless.
type Transform struct {
	tracker *Tracker
	rec     TransformRecord
	once    sync.Once
}

// Begin opens a transform context and stamps its start time.
func (t *Tracker) Begin(transformType TransformType, description string, config map[string]any) *Transform {
	return &Transform{
		tracker: t,
		rec: TransformRecord{
			TransformID:   uuid.NewString(),
			TransformType: transformType,
			Description:   description,
			ConfigHash:    ConfigHash(config),
			StartedAt:     time.Now().UTC(),
		},
	}
}

// SetCounts records input/output record counts.
func (tx *Transform) SetCounts(in, out int) *Transform {
	tx.rec.InputCount = in
	tx.rec.OutputCount = out
	return tx
}

// SetHashes records input/output content hashes.
func (tx *Transform) SetHashes(in, out string) *Transform {
	tx.rec.InputHash = in
	tx.rec.OutputHash = out
	return tx
}

// End finalizes the transform record exactly once.
//
// Description:
//
//	Stamps the completion time. When err is non-nil the record is marked
//	success=false with the error message captured - the record is never
//	lost on failure, and the caller keeps the original error to propagate.
//
// Outputs:
//
//	TransformRecord - The finalized record as appended to the tracker.
func (tx *Transform) End(ctx context.Context, err error) TransformRecord {
	tx.once.Do(func() {
		tx.rec.CompletedAt = time.Now().UTC()
		tx.rec.Success = err == nil
		if err != nil {
			tx.rec.ErrorMsg = err.Error()
		}

		tx.tracker.mu.Lock()
		defer tx.tracker.mu.Unlock()
		if tx.tracker.finalized {
			tx.tracker.logger.Warn("transform ended after lineage finalize, record dropped",
				slog.String("transform_id", tx.rec.TransformID))
			return
		}
		tx.tracker.transforms = append(tx.tracker.transforms, tx.rec)
		tx.tracker.journalAppend(ctx, entryTransform, tx.rec)
	})
	return tx.rec
}

// Track runs fn inside a transform context.
//
// The record always lands in the tracker, success or failure, and fn's
// error is returned unchanged.
func (t *Tracker) Track(ctx context.Context, transformType TransformType, description string, config map[string]any, fn func(tx *Transform) error) error {
	tx := t.Begin(transformType, description, config)
	err := fn(tx)
	tx.End(ctx, err)
	return err
}

// Finalize seals the tracker and returns the lineage.
//
// Description:
//
//	Computes the final hash when finalHash is empty (see
//	DatasetLineage.ComputeFinalHash), stamps the sample count, and marks
//	the tracker finalized; subsequent appends fail with ErrFinalized.
func (t *Tracker) Finalize(finalHash string, sampleCount int) (*DatasetLineage, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized {
		return nil, ErrFinalized
	}
	t.finalized = true

	l := &DatasetLineage{
		LineageID:      t.lineageID,
		DatasetName:    t.name,
		DatasetVersion: t.version,
		SchemaVersion:  t.schemaVersion,
		Sources:        append([]SourceRecord(nil), t.sources...),
		Transforms:     append([]TransformRecord(nil), t.transforms...),
		Warnings:       append([]string(nil), t.warnings...),
		BuildInfo:      t.buildInfo,
		SampleCount:    sampleCount,
		CreatedAt:      time.Now().UTC(),
	}
	if finalHash == "" {
		finalHash = l.ComputeFinalHash()
	}
	l.FinalHash = finalHash
	return l, nil
}

// journalAppend persists one record to the journal if one is attached.
// Journal failures degrade to a log line; in-memory lineage remains intact.
// Caller must hold t.mu.
func (t *Tracker) journalAppend(ctx context.Context, kind entryKind, payload any) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Append(ctx, t.lineageID, kind, payload); err != nil {
		t.logger.Warn("lineage journal append failed",
			slog.String("lineage_id", t.lineageID),
			slog.String("kind", string(kind)),
			slog.String("error", err.Error()),
		)
	}
}
