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
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianData/services/dataset/sample"
)

// Canonical split names used in persisted artifacts.
const (
	SplitTrain      = "train"
	SplitValidation = "validation"
	SplitTest       = "test"
)

// Result holds the three subsets and their verification hashes.
//
// CreatedAt is result metadata only; no partitioning decision ever consults
// the wall clock.
type Result struct {
	Train      []sample.Sample `json:"train"`
	Validation []sample.Sample `json:"validation"`
	Test       []sample.Sample `json:"test"`

	// Counts maps split name to subset size.
	Counts map[string]int `json:"counts"`

	// SplitHashes maps split name to its membership hash.
	SplitHashes map[string]string `json:"split_hashes"`

	// CombinedHash fingerprints all three membership hashes together.
	CombinedHash string `json:"combined_hash"`

	// ReproducibilityHash fingerprints (input IDs, seed, strategy, ratios)
	// independent of the RNG stream. See ReproducibilityHash.
	ReproducibilityHash string `json:"reproducibility_hash"`

	Strategy  Strategy  `json:"strategy"`
	Seed      int64     `json:"seed"`
	CreatedAt time.Time `json:"created_at"`
}

// Overlap returns sample IDs that appear in more than one split.
//
// A correct Result always returns an empty slice; the check exists so
// verification reports can state the no-overlap invariant explicitly.
func (r *Result) Overlap() []string {
	seen := make(map[string]int)
	for _, s := range r.Train {
		seen[s.ID]++
	}
	for _, s := range r.Validation {
		seen[s.ID]++
	}
	for _, s := range r.Test {
		seen[s.ID]++
	}
	var dup []string
	for id, n := range seen {
		if n > 1 {
			dup = append(dup, id)
		}
	}
	sort.Strings(dup)
	return dup
}

// Split partitions samples per cfg.
//
// Description:
//
//	Pure function of (samples, cfg): samples are copied and sorted by ID
//	before any strategy runs, and all randomness comes from an explicit RNG
//	seeded with cfg.Seed. Two calls with the same inputs produce identical
//	results, including all hashes.
//
// Inputs:
//   - samples: The full sample set. Not mutated.
//   - cfg: A validated Config. Invalid configs fail here before any work.
//
// Outputs:
//   - *Result: The partitioned subsets with verification hashes. Never nil
//     on nil error. An empty input yields an empty Result without consulting
//     the RNG.
//   - error: Configuration errors, or ErrSplitTooSmall when a split falls
//     below cfg.MinSamplesPerSplit.
//
// Thread Safety: Safe for concurrent use; no shared state between calls.
func Split(samples []sample.Sample, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sorted := make([]sample.Sample, len(samples))
	copy(sorted, samples)
	sample.SortByID(sorted)

	res := &Result{
		Train:      []sample.Sample{},
		Validation: []sample.Sample{},
		Test:       []sample.Sample{},
		Strategy:   cfg.Strategy,
		Seed:       cfg.Seed,
		CreatedAt:  time.Now().UTC(),
	}

	if len(sorted) > 0 {
		rng := rand.New(rand.NewSource(cfg.Seed))
		var err error
		switch cfg.Strategy {
		case StrategyRandom:
			res.Train, res.Validation, res.Test = splitRandom(sorted, cfg, rng)
		case StrategyStratified:
			res.Train, res.Validation, res.Test = splitStratified(sorted, cfg, rng)
		case StrategyTemporal:
			res.Train, res.Validation, res.Test = splitTemporal(sorted, cfg)
		case StrategyGroup:
			res.Train, res.Validation, res.Test = splitGroup(sorted, cfg, rng)
		default:
			err = fmt.Errorf("%w: %q", ErrUnknownStrategy, cfg.Strategy)
		}
		if err != nil {
			return nil, err
		}
	}

	res.Counts = map[string]int{
		SplitTrain:      len(res.Train),
		SplitValidation: len(res.Validation),
		SplitTest:       len(res.Test),
	}
	res.SplitHashes = map[string]string{
		SplitTrain:      MembershipHash(sample.IDs(res.Train)),
		SplitValidation: MembershipHash(sample.IDs(res.Validation)),
		SplitTest:       MembershipHash(sample.IDs(res.Test)),
	}
	res.CombinedHash = CombinedHash(
		res.SplitHashes[SplitTrain],
		res.SplitHashes[SplitValidation],
		res.SplitHashes[SplitTest],
	)
	res.ReproducibilityHash = ReproducibilityHash(sample.IDs(sorted), cfg)

	if len(sorted) > 0 && cfg.MinSamplesPerSplit > 0 {
		for name, n := range res.Counts {
			if n < cfg.MinSamplesPerSplit {
				return nil, fmt.Errorf("%w: %s has %d, want >= %d",
					ErrSplitTooSmall, name, n, cfg.MinSamplesPerSplit)
			}
		}
	}

	return res, nil
}

// splitRandom permutes the index space and slices at ratio boundaries.
func splitRandom(sorted []sample.Sample, cfg Config, rng *rand.Rand) (train, val, test []sample.Sample) {
	n := len(sorted)
	perm := rng.Perm(n)

	nTrain := int(math.Floor(float64(n) * cfg.TrainRatio))
	nVal := int(math.Floor(float64(n) * cfg.ValRatio))

	pick := func(idx []int) []sample.Sample {
		out := make([]sample.Sample, 0, len(idx))
		for _, i := range idx {
			out = append(out, sorted[i])
		}
		return out
	}

	train = pick(perm[:nTrain])
	val = pick(perm[nTrain : nTrain+nVal])
	test = pick(perm[nTrain+nVal:])
	return train, val, test
}

// splitStratified splits each stratum independently by ratio.
//
// Strata are visited in sorted key order so the RNG consumption order, and
// therefore the result, is deterministic.
func splitStratified(sorted []sample.Sample, cfg Config, rng *rand.Rand) (train, val, test []sample.Sample) {
	strata := make(map[string][]int)
	for i := range sorted {
		k := stratumKey(&sorted[i], cfg.StratifyBy)
		strata[k] = append(strata[k], i)
	}

	keys := make([]string, 0, len(strata))
	for k := range strata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	train = []sample.Sample{}
	val = []sample.Sample{}
	test = []sample.Sample{}
	for _, k := range keys {
		group := strata[k]
		perm := rng.Perm(len(group))
		nTrain, nVal := stratumCounts(len(group), cfg)
		for pos, pi := range perm {
			s := sorted[group[pi]]
			switch {
			case pos < nTrain:
				train = append(train, s)
			case pos < nTrain+nVal:
				val = append(val, s)
			default:
				test = append(test, s)
			}
		}
	}
	return train, val, test
}

// stratumKey builds the composite stratification key for one sample.
func stratumKey(s *sample.Sample, fields []string) string {
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = s.Field(f)
	}
	return strings.Join(parts, "|")
}

// stratumCounts applies ratio floors plus the minimum-one-per-split rule for
// strata of size >= 3. Smaller strata keep plain floors and may leave a
// split empty (documented small-sample policy).
func stratumCounts(n int, cfg Config) (nTrain, nVal int) {
	nTrain = int(math.Floor(float64(n) * cfg.TrainRatio))
	nVal = int(math.Floor(float64(n) * cfg.ValRatio))
	if n < 3 {
		return nTrain, nVal
	}

	if nTrain < 1 {
		nTrain = 1
	}
	if nVal < 1 {
		nVal = 1
	}
	// Keep at least one for test, shrinking the larger of the other two.
	for n-nTrain-nVal < 1 {
		if nTrain >= nVal && nTrain > 1 {
			nTrain--
		} else if nVal > 1 {
			nVal--
		} else {
			break
		}
	}
	return nTrain, nVal
}

// splitTemporal slices contiguously by ascending timestamp. Earliest samples
// train, latest test; no RNG so the future can never leak into training.
func splitTemporal(sorted []sample.Sample, cfg Config) (train, val, test []sample.Sample) {
	type keyed struct {
		s       sample.Sample
		numeric bool
		num     int64
		raw     string
	}

	keyedSamples := make([]keyed, len(sorted))
	for i, s := range sorted {
		raw := s.Field(cfg.TimestampField)
		num, ok := parseTimestamp(raw)
		keyedSamples[i] = keyed{s: s, numeric: ok, num: num, raw: raw}
	}

	sort.SliceStable(keyedSamples, func(i, j int) bool {
		a, b := keyedSamples[i], keyedSamples[j]
		if a.numeric && b.numeric {
			if a.num != b.num {
				return a.num < b.num
			}
		} else if a.raw != b.raw {
			return a.raw < b.raw
		}
		return a.s.ID < b.s.ID
	})

	n := len(keyedSamples)
	nTrain := int(math.Floor(float64(n) * cfg.TrainRatio))
	nVal := int(math.Floor(float64(n) * cfg.ValRatio))

	ordered := make([]sample.Sample, n)
	for i, k := range keyedSamples {
		ordered[i] = k.s
	}
	return ordered[:nTrain], ordered[nTrain : nTrain+nVal], ordered[nTrain+nVal:]
}

// parseTimestamp accepts RFC 3339 or unix seconds. The boolean is false for
// anything else, in which case the caller orders lexicographically.
func parseTimestamp(v string) (int64, bool) {
	if ts, err := time.Parse(time.RFC3339, v); err == nil {
		return ts.UnixNano(), true
	}
	if sec, err := strconv.ParseInt(v, 10, 64); err == nil {
		return sec * int64(time.Second), true
	}
	return 0, false
}

// splitGroup shuffles group keys and assigns whole groups to splits by
// cumulative sample count against the ratio targets.
func splitGroup(sorted []sample.Sample, cfg Config, rng *rand.Rand) (train, val, test []sample.Sample) {
	groups := make(map[string][]sample.Sample)
	for _, s := range sorted {
		k := s.Field(cfg.GroupBy)
		groups[k] = append(groups[k], s)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rng.Shuffle(len(keys), func(i, j int) {
		keys[i], keys[j] = keys[j], keys[i]
	})

	n := len(sorted)
	trainTarget := float64(n) * cfg.TrainRatio
	valTarget := float64(n) * (cfg.TrainRatio + cfg.ValRatio)

	train = []sample.Sample{}
	val = []sample.Sample{}
	test = []sample.Sample{}
	assigned := 0
	for _, k := range keys {
		g := groups[k]
		switch {
		case float64(assigned) < trainTarget:
			train = append(train, g...)
		case float64(assigned) < valTarget:
			val = append(val, g...)
		default:
			test = append(test, g...)
		}
		assigned += len(g)
	}
	return train, val, test
}
