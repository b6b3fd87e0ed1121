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
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"sync"
	"sync/atomic"

	dgbadger "github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianData/services/dataset/storage/badger"
)

var (
	// ErrJournalClosed is returned when operations are called on a closed
	// journal.
	ErrJournalClosed = errors.New("journal is closed")

	// ErrJournalCorrupted is returned when a journal entry fails its CRC
	// check during replay.
	ErrJournalCorrupted = errors.New("journal entry corrupted (CRC mismatch)")
)

// entryKind tags what a journal entry carries.
type entryKind string

const (
	entrySource    entryKind = "source"
	entryTransform entryKind = "transform"
	entryWarning   entryKind = "warning"
)

// Entry is one replayed journal record.
type Entry struct {
	// Kind is "source", "transform" or "warning".
	Kind string `json:"kind"`

	// Seq is the append sequence number, monotonically increasing.
	Seq uint64 `json:"seq"`

	// Payload is the JSON-encoded record; decode into SourceRecord,
	// TransformRecord or string per Kind.
	Payload json.RawMessage `json:"payload"`
}

// journalEntry is the on-disk encoding: payload plus a CRC over it.
type journalEntry struct {
	Kind    entryKind       `json:"kind"`
	Payload json.RawMessage `json:"payload"`
	CRC     uint32          `json:"crc"`
}

// Journal is a BadgerDB-backed write-ahead record of lineage events.
//
// Records are appended as they happen, before the lineage is finalized, so
// a crash mid-build loses at most the record being written. Entries carry a
// CRC-32 so corruption is detected at replay rather than silently absorbed
// into a rebuilt lineage.
//
// # Thread Safety
//
// Journal is safe for concurrent use.
type Journal struct {
	db     *badger.DB
	seq    atomic.Uint64
	mu     sync.Mutex
	closed bool
}

// NewJournal creates a journal over an opened badger DB.
//
// The journal resumes its sequence counter from the highest sequence already
// present across all lineages, so reopening after a crash continues rather
// than overwrites.
func NewJournal(ctx context.Context, db *badger.DB) (*Journal, error) {
	j := &Journal{db: db}

	err := db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		// Key order interleaves lineage IDs, so the lexicographically last
		// key does not carry the highest sequence; take the maximum over
		// every key.
		prefix := []byte("lineage/")
		var maxSeq uint64
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if len(key) < 8 {
				continue
			}
			if seq := binary.BigEndian.Uint64(key[len(key)-8:]); seq > maxSeq {
				maxSeq = seq
			}
		}
		j.seq.Store(maxSeq)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("init journal sequence: %w", err)
	}
	return j, nil
}

// entryKey builds "lineage/{lineageID}/{seq as big-endian uint64}" so keys
// iterate in append order.
func entryKey(lineageID string, seq uint64) []byte {
	key := make([]byte, 0, len("lineage/")+len(lineageID)+1+8)
	key = append(key, []byte("lineage/"+lineageID+"/")...)
	var seqBytes [8]byte
	binary.BigEndian.PutUint64(seqBytes[:], seq)
	return append(key, seqBytes[:]...)
}

// Append persists one lineage event.
func (j *Journal) Append(ctx context.Context, lineageID string, kind entryKind, payload any) error {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return ErrJournalClosed
	}
	j.mu.Unlock()

	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal journal payload: %w", err)
	}

	entry := journalEntry{
		Kind:    kind,
		Payload: raw,
		CRC:     crc32.ChecksumIEEE(raw),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}

	seq := j.seq.Add(1)
	return j.db.WithTxn(ctx, func(txn *dgbadger.Txn) error {
		return txn.Set(entryKey(lineageID, seq), data)
	})
}

// Replay returns all entries for a lineage in append order.
//
// Description:
//
//	Iterates the lineage's key range, validating each entry's CRC. A CRC
//	failure aborts the replay with ErrJournalCorrupted - a partially
//	trusted lineage is worse than a missing one.
func (j *Journal) Replay(ctx context.Context, lineageID string) ([]Entry, error) {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return nil, ErrJournalClosed
	}
	j.mu.Unlock()

	prefix := []byte("lineage/" + lineageID + "/")
	var entries []Entry

	err := j.db.WithReadTxn(ctx, func(txn *dgbadger.Txn) error {
		opts := dgbadger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.Key()
			var seq uint64
			if len(key) >= 8 {
				seq = binary.BigEndian.Uint64(key[len(key)-8:])
			}

			err := item.Value(func(val []byte) error {
				var entry journalEntry
				if err := json.Unmarshal(val, &entry); err != nil {
					return fmt.Errorf("%w: %v", ErrJournalCorrupted, err)
				}
				if crc32.ChecksumIEEE(entry.Payload) != entry.CRC {
					return fmt.Errorf("%w: seq %d", ErrJournalCorrupted, seq)
				}
				entries = append(entries, Entry{
					Kind:    string(entry.Kind),
					Seq:     seq,
					Payload: entry.Payload,
				})
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Close marks the journal closed. The underlying DB is owned by the caller
// and is not closed here.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.closed = true
	return nil
}
