// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package anonymize transforms identifying string fields into salted hashes,
// tokens, or redactions before a dataset version is persisted.
//
// All methods are deterministic given identical (field, value, salt, method),
// so re-running a pipeline with the same salt reproduces the same anonymized
// dataset bit for bit.
//
// # Security Considerations
//
// The salt is never logged by this package; only its SHA-256 fingerprint is
// exposed for audit trails. The tokenize method is a stable bijective mapping,
// NOT a cryptographic construction - it protects against casual inspection
// only and must not be used where hash-based methods are required.
package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/crypto/blake2b"

	"github.com/AleutianAI/AleutianData/services/dataset/sample"
)

// Method selects the anonymization transform.
type Method string

const (
	// MethodHashSHA256 replaces the value with sha256(salt||value)
	// truncated to 16 hex characters.
	MethodHashSHA256 Method = "hash_sha256"

	// MethodHashBlake2 replaces the value with an 8-byte keyed-less BLAKE2b
	// digest of salt||value, hex encoded.
	MethodHashBlake2 Method = "hash_blake2"

	// MethodRedact replaces the value with a constant sentinel.
	MethodRedact Method = "redact"

	// MethodTokenize replaces the value with a sequential token that is
	// stable within one Anonymizer's lifetime. Not cryptographically secure.
	MethodTokenize Method = "tokenize"
)

// RedactedSentinel is the constant produced by MethodRedact.
const RedactedSentinel = "[REDACTED]"

// hashTruncLen is the hex length kept for hash_sha256 output.
const hashTruncLen = 16

// Anonymizer applies deterministic PII-safe transforms to string fields.
//
// # Thread Safety
//
// Anonymizer is safe for concurrent use; the token table is guarded by a
// mutex.
type Anonymizer struct {
	salt   string
	logger *slog.Logger

	mu        sync.Mutex
	tokens    map[string]string // value -> token, scoped to this instance
	nextToken int
}

// New creates an Anonymizer with the given salt.
//
// A nil logger falls back to slog.Default(). The salt itself is stored in
// memory only and never written to any log or persisted artifact.
func New(salt string, logger *slog.Logger) *Anonymizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Anonymizer{
		salt:   salt,
		logger: logger,
		tokens: make(map[string]string),
	}
}

// SaltFingerprint returns sha256(salt) for audit records.
//
// The fingerprint lets two runs prove they used the same salt without
// revealing it.
func (a *Anonymizer) SaltFingerprint() string {
	sum := sha256.Sum256([]byte(a.salt))
	return hex.EncodeToString(sum[:])
}

// Anonymize transforms a single field value.
//
// Description:
//
//	Applies the requested method to value. Unknown methods log a warning and
//	fall back to hash_sha256 - plaintext is never returned for an
//	unrecognized method.
//
// Inputs:
//   - field: Field name, included in the fallback warning for audit.
//   - value: The plaintext to transform. Empty values pass through unchanged.
//   - method: One of the Method constants.
//
// Outputs:
//   - string: The anonymized value.
func (a *Anonymizer) Anonymize(field, value string, method Method) string {
	if value == "" {
		return ""
	}

	switch method {
	case MethodHashSHA256:
		return a.hashSHA256(value)
	case MethodHashBlake2:
		return a.hashBlake2(value)
	case MethodRedact:
		return RedactedSentinel
	case MethodTokenize:
		return a.tokenize(value)
	default:
		a.logger.Warn("unknown anonymization method, falling back to hash_sha256",
			slog.String("field", field),
			slog.String("method", string(method)),
		)
		return a.hashSHA256(value)
	}
}

// AnonymizeSamples rewrites the named fields across all samples in place.
//
// Only the listed fields are touched; samples without a given field are
// skipped. Returns the number of field values rewritten.
func (a *Anonymizer) AnonymizeSamples(samples []sample.Sample, fields []string, method Method) int {
	rewritten := 0
	for i := range samples {
		for _, f := range fields {
			v, ok := samples[i].Fields[f]
			if !ok || v == "" {
				continue
			}
			samples[i].Fields[f] = a.Anonymize(f, v, method)
			rewritten++
		}
	}
	return rewritten
}

func (a *Anonymizer) hashSHA256(value string) string {
	sum := sha256.Sum256([]byte(a.salt + value))
	return hex.EncodeToString(sum[:])[:hashTruncLen]
}

func (a *Anonymizer) hashBlake2(value string) string {
	// 8-byte digest is enough for field-level pseudonyms while keeping the
	// anonymized dataset compact.
	h, err := blake2b.New(8, nil)
	if err != nil {
		// Only reachable for invalid digest sizes; 8 is always valid.
		return a.hashSHA256(value)
	}
	h.Write([]byte(a.salt + value))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *Anonymizer) tokenize(value string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if tok, ok := a.tokens[value]; ok {
		return tok
	}
	a.nextToken++
	tok := fmt.Sprintf("TOK_%06d", a.nextToken)
	a.tokens[value] = tok
	return tok
}

// TokenCount reports the size of the instance token table.
func (a *Anonymizer) TokenCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.tokens)
}
