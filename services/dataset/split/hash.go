// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package split

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// HashLength is the hex length of split, combined and reproducibility hashes.
const HashLength = 16

// MembershipHash fingerprints one split's membership.
//
// The hash is sha256 over the sorted sample IDs joined with "|", truncated
// to HashLength hex characters. Sorting makes the hash independent of the
// order samples were assigned.
func MembershipHash(ids []string) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "|")))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// CombinedHash fingerprints a full split result from its three membership
// hashes.
func CombinedHash(trainHash, valHash, testHash string) string {
	sum := sha256.Sum256([]byte(trainHash + "|" + valHash + "|" + testHash))
	return hex.EncodeToString(sum[:])[:HashLength]
}

// ReproducibilityHash fingerprints the split inputs and config, independent
// of the RNG implementation.
//
// Description:
//
//	Computes sha256 over a sorted-key JSON document of the sorted sample
//	IDs, seed, strategy and ratios. Two runs with identical inputs and
//	config share this hash, so reproducibility can be asserted against a
//	stored value before re-running a possibly expensive split.
//
//	Ratios are serialized with fixed 6-decimal formatting so the JSON is
//	byte-stable across platforms.
func ReproducibilityHash(ids []string, cfg Config) string {
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	// encoding/json serializes map keys in sorted order, which gives us the
	// deterministic layout the hash depends on.
	doc := map[string]any{
		"sample_ids": sorted,
		"seed":       cfg.Seed,
		"strategy":   string(cfg.Strategy),
		"ratios": []string{
			fmt.Sprintf("%.6f", cfg.TrainRatio),
			fmt.Sprintf("%.6f", cfg.ValRatio),
			fmt.Sprintf("%.6f", cfg.TestRatio),
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		// Marshalling a map of strings and ints cannot fail.
		panic(fmt.Sprintf("split: reproducibility hash marshal: %v", err))
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:HashLength]
}
