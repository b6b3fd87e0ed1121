// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package manifest builds, signs and verifies content-addressed dataset
// manifests.
//
// A manifest lists every item in a dataset version with its SHA-256 hash.
// The manifest hash covers a deterministic sorted-key JSON serialization of
// the content fields - the signature is excluded from the hash input by
// construction, so a signature can be replaced or re-issued without changing
// the underlying content fingerprint.
//
// Signing and verification are separated: a Signer holds private key
// material, a Verifier holds only public/shared keys and never mutates the
// manifest it checks.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Sentinel errors for manifest operations.
var (
	// ErrUnknownAlgorithm is returned for an unrecognized signature
	// algorithm.
	ErrUnknownAlgorithm = errors.New("unknown signature algorithm")

	// ErrNoSigningKey is returned when the signer lacks key material for
	// the requested algorithm.
	ErrNoSigningKey = errors.New("no signing key configured")

	// ErrNotSigned is returned when signature verification is requested on
	// an unsigned manifest.
	ErrNotSigned = errors.New("manifest is not signed")

	// ErrUnknownItemType is returned for an unrecognized content item type.
	ErrUnknownItemType = errors.New("unknown item type")
)

// ItemType classifies one manifest entry.
type ItemType string

const (
	ItemSample  ItemType = "sample"
	ItemLabel   ItemType = "label"
	ItemFeature ItemType = "feature"
)

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	switch t {
	case ItemSample, ItemLabel, ItemFeature:
		return true
	default:
		return false
	}
}

// HashAlgorithm is the content hash algorithm identifier persisted with
// each entry. Only SHA-256 is produced today; the field exists so stored
// manifests remain self-describing if that ever changes.
const HashAlgorithm = "sha256"

// ContentHash is one manifest entry: a content-addressed item.
type ContentHash struct {
	ItemID    string   `json:"item_id"`
	ItemType  ItemType `json:"item_type"`
	Algorithm string   `json:"hash_algorithm"`
	Value     string   `json:"hash_value"`
	SizeBytes int64    `json:"size_bytes"`
}

// SignatureAlgorithm selects the manifest signature scheme.
type SignatureAlgorithm string

const (
	// AlgorithmHMACSHA256 uses a per-signer shared secret.
	AlgorithmHMACSHA256 SignatureAlgorithm = "HMAC-SHA256"

	// AlgorithmEd25519 embeds the public key in the signature record for
	// self-contained, though less trusted, verification.
	AlgorithmEd25519 SignatureAlgorithm = "Ed25519"

	// AlgorithmRSASHA256 signs with RSA PKCS#1 v1.5 over SHA-256.
	AlgorithmRSASHA256 SignatureAlgorithm = "RSA-SHA256"
)

// Valid reports whether a is a known signature algorithm.
func (a SignatureAlgorithm) Valid() bool {
	switch a {
	case AlgorithmHMACSHA256, AlgorithmEd25519, AlgorithmRSASHA256:
		return true
	default:
		return false
	}
}

// Signature is the detached signature over a manifest hash.
type Signature struct {
	Algorithm SignatureAlgorithm `json:"algorithm"`
	SignerID  string             `json:"signer_id"`

	// PublicKey is base64, present for Ed25519 and RSA so the manifest can
	// be verified without a trust store (flagged as weaker by the verifier).
	PublicKey string `json:"public_key,omitempty"`

	// Value is the base64 signature over "manifest_hash|signer_id|timestamp".
	Value string `json:"signature"`

	Timestamp time.Time `json:"timestamp"`
}

// SignedMessage builds the byte string a signature covers.
func (s *Signature) SignedMessage(manifestHash string) []byte {
	return []byte(manifestHash + "|" + s.SignerID + "|" + s.Timestamp.UTC().Format(time.RFC3339))
}

// DatasetManifest is the content-addressed listing of one dataset version.
type DatasetManifest struct {
	ManifestID     string         `json:"manifest_id"`
	DatasetName    string         `json:"dataset_name"`
	DatasetVersion string         `json:"dataset_version"`
	ContentHashes  []ContentHash  `json:"content_hashes"`
	TotalSamples   int            `json:"total_samples"`
	SplitCounts    map[string]int `json:"split_counts"`
	SchemaVersion  string         `json:"schema_version"`
	SchemaHash     string         `json:"schema_hash"`
	BuildTimestamp time.Time      `json:"build_timestamp"`

	// BuildConfigHash fingerprints the pipeline configuration that produced
	// this version.
	BuildConfigHash string `json:"build_config_hash,omitempty"`

	// SourceManifests lists upstream manifest IDs for derived datasets.
	SourceManifests []string `json:"source_manifests,omitempty"`

	// TransformChain lists the lineage transform IDs applied, in order.
	TransformChain []string `json:"transform_chain,omitempty"`

	// Signature is nil until the manifest is signed.
	Signature *Signature `json:"signature,omitempty"`

	// ManifestHash is sha256 over the canonical serialization of the
	// content fields; see ComputeManifestHash. Excludes Signature and
	// itself.
	ManifestHash string `json:"manifest_hash,omitempty"`
}

// SortContentHashes orders entries canonically by (item type, item ID).
//
// Any parallel hashing must pass through this before a hash-of-hashes is
// computed, so concurrency can never change a hash output.
func SortContentHashes(entries []ContentHash) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ItemType != entries[j].ItemType {
			return entries[i].ItemType < entries[j].ItemType
		}
		return entries[i].ItemID < entries[j].ItemID
	})
}

// ComputeManifestHash computes the canonical content fingerprint.
//
// Description:
//
//	Serializes {manifest_id, dataset_name, dataset_version,
//	content_hashes[], total_samples, split_counts, schema_version,
//	build_timestamp} as sorted-key JSON and returns the full 64-hex
//	SHA-256. Signature and ManifestHash are excluded by construction,
//	which is what makes re-signing hash-stable.
//
// Thread Safety: Read-only; safe to call concurrently.
func ComputeManifestHash(m *DatasetManifest) string {
	hashes := make([]map[string]any, len(m.ContentHashes))
	for i, ch := range m.ContentHashes {
		hashes[i] = map[string]any{
			"item_id":        ch.ItemID,
			"item_type":      string(ch.ItemType),
			"hash_algorithm": ch.Algorithm,
			"hash_value":     ch.Value,
			"size_bytes":     ch.SizeBytes,
		}
	}

	splitCounts := m.SplitCounts
	if splitCounts == nil {
		splitCounts = map[string]int{}
	}

	// encoding/json emits map keys in sorted order, giving the
	// deterministic layout the fingerprint depends on.
	doc := map[string]any{
		"manifest_id":     m.ManifestID,
		"dataset_name":    m.DatasetName,
		"dataset_version": m.DatasetVersion,
		"content_hashes":  hashes,
		"total_samples":   m.TotalSamples,
		"split_counts":    splitCounts,
		"schema_version":  m.SchemaVersion,
		"build_timestamp": m.BuildTimestamp.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(fmt.Sprintf("manifest: hash marshal: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SchemaHashLength is the hex length of schema hashes.
const SchemaHashLength = 16

// ComputeSchemaHash fingerprints the (schema version, dataset name) pair.
func ComputeSchemaHash(schemaVersion, datasetName string) string {
	sum := sha256.Sum256([]byte(schemaVersion + datasetName))
	return hex.EncodeToString(sum[:])[:SchemaHashLength]
}
