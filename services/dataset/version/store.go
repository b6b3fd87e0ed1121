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
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/AleutianData/services/dataset/sample"
)

// On-disk file names. One directory per version, immutable after creation;
// only the index file is ever rewritten.
const (
	indexFile      = "versions.json"
	datasetFile    = "dataset.json"
	provenanceFile = "provenance.json"
	manifestFile   = "manifest.json"
	lineageFile    = "lineage.json"
)

// persistedSample is one sample row in dataset.json, annotated with its
// split assignment.
type persistedSample struct {
	sample.Sample
	Split string `json:"split"`
}

// datasetDocument is the dataset.json shape.
type datasetDocument struct {
	Version       string            `json:"version"`
	SchemaVersion string            `json:"schema_version"`
	Splits        map[string]int    `json:"splits"`
	ContentHash   string            `json:"content_hash"`
	Samples       []persistedSample `json:"samples"`
}

// writeJSONAtomic marshals v and writes it via a temp file and rename, so a
// concurrent reader never observes a partially written document.
func writeJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", filepath.Base(path), err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// readJSON loads a JSON document from path into v.
func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// versionDir returns the per-version directory path.
func (m *Manager) versionDir(version string) string {
	return filepath.Join(m.baseDir, version)
}

// loadIndex reads versions.json into a fresh map. A missing index file is an
// empty dataset, not an error.
func loadIndex(baseDir string) (map[string]*ProvenanceRecord, error) {
	index := make(map[string]*ProvenanceRecord)
	err := readJSON(filepath.Join(baseDir, indexFile), &index)
	if os.IsNotExist(err) {
		return index, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load version index: %w", err)
	}
	return index, nil
}

// saveIndexLocked rewrites versions.json atomically. Caller holds m.mu.
func (m *Manager) saveIndexLocked() error {
	if err := writeJSONAtomic(filepath.Join(m.baseDir, indexFile), m.index); err != nil {
		return fmt.Errorf("save version index: %w", err)
	}
	return nil
}

// watchIndex reloads the in-memory index when versions.json is rewritten by
// another process.
//
// The manager assumes a single writer per base path; the watcher exists so a
// long-lived read-mostly manager (a verification daemon, the CLI in watch
// mode) observes versions created elsewhere. Reloading after our own rename
// is harmless since the file is the source of truth.
func (m *Manager) watchIndex() {
	defer close(m.watcherDone)
	indexPath := filepath.Join(m.baseDir, indexFile)

	for {
		select {
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != indexPath {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			index, err := loadIndex(m.baseDir)
			if err != nil {
				m.logger.Warn("version index reload failed",
					slog.String("path", indexPath),
					slog.String("error", err.Error()))
				continue
			}
			m.mu.Lock()
			m.index = index
			m.mu.Unlock()
			m.logger.Debug("version index reloaded",
				slog.Int("versions", len(index)))

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("version index watcher error",
				slog.String("error", err.Error()))
		}
	}
}
