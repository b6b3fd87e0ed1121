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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianData/services/dataset/sample"
)

// makeDocSamples builds n samples alternating between id_card and passport.
func makeDocSamples(n int) []sample.Sample {
	out := make([]sample.Sample, n)
	for i := 0; i < n; i++ {
		docType := "id_card"
		if i%2 == 1 {
			docType = "passport"
		}
		out[i] = sample.Sample{
			ID:    fmt.Sprintf("s%03d", i),
			Label: float64(i) / float64(n),
			Fields: map[string]string{
				"doc_type": docType,
				"holder":   fmt.Sprintf("h%02d", i/4),
				"captured": fmt.Sprintf("%d", 1700000000+i*3600),
			},
		}
	}
	return out
}

func stratifiedConfig(seed int64) Config {
	return Config{
		TrainRatio: 0.7, ValRatio: 0.15, TestRatio: 0.15,
		Strategy:   StrategyStratified,
		StratifyBy: []string{"doc_type"},
		Seed:       seed,
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Run("ratio sum must be one", func(t *testing.T) {
		_, err := NewConfig(Config{
			TrainRatio: 0.7, ValRatio: 0.2, TestRatio: 0.2,
			Strategy: StrategyRandom,
		})
		require.ErrorIs(t, err, ErrInvalidRatios)
	})

	t.Run("tolerance permits float wobble", func(t *testing.T) {
		_, err := NewConfig(Config{
			TrainRatio: 0.7, ValRatio: 0.15, TestRatio: 0.15 + 5e-7,
			Strategy: StrategyRandom,
		})
		require.NoError(t, err)
	})

	t.Run("unknown strategy", func(t *testing.T) {
		_, err := NewConfig(Config{
			TrainRatio: 0.8, ValRatio: 0.1, TestRatio: 0.1,
			Strategy: Strategy("chronological"),
		})
		require.ErrorIs(t, err, ErrUnknownStrategy)
	})

	t.Run("strategy-specific requirements", func(t *testing.T) {
		base := Config{TrainRatio: 0.8, ValRatio: 0.1, TestRatio: 0.1}

		cfg := base
		cfg.Strategy = StrategyStratified
		_, err := NewConfig(cfg)
		require.ErrorIs(t, err, ErrMissingStratifyBy)

		cfg = base
		cfg.Strategy = StrategyGroup
		_, err = NewConfig(cfg)
		require.ErrorIs(t, err, ErrMissingGroupBy)

		cfg = base
		cfg.Strategy = StrategyTemporal
		_, err = NewConfig(cfg)
		require.ErrorIs(t, err, ErrMissingTimestampField)
	})
}

func TestSplit_Deterministic(t *testing.T) {
	samples := makeDocSamples(100)
	cfg := stratifiedConfig(42)

	r1, err := Split(samples, cfg)
	require.NoError(t, err)
	r2, err := Split(samples, cfg)
	require.NoError(t, err)

	assert.Equal(t, r1.CombinedHash, r2.CombinedHash)
	assert.Equal(t, r1.ReproducibilityHash, r2.ReproducibilityHash)
	assert.Equal(t, r1.SplitHashes, r2.SplitHashes)
	assert.Equal(t, sample.IDs(r1.Train), sample.IDs(r2.Train))
}

func TestSplit_InputOrderIndependent(t *testing.T) {
	samples := makeDocSamples(60)
	shuffled := make([]sample.Sample, len(samples))
	copy(shuffled, samples)
	rand.New(rand.NewSource(99)).Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	cfg := stratifiedConfig(7)
	r1, err := Split(samples, cfg)
	require.NoError(t, err)
	r2, err := Split(shuffled, cfg)
	require.NoError(t, err)

	assert.Equal(t, r1.CombinedHash, r2.CombinedHash,
		"split must not depend on input ordering")
}

func TestSplit_SeedChangesResult(t *testing.T) {
	samples := makeDocSamples(100)

	r1, err := Split(samples, stratifiedConfig(42))
	require.NoError(t, err)
	r2, err := Split(samples, stratifiedConfig(43))
	require.NoError(t, err)

	assert.NotEqual(t, r1.CombinedHash, r2.CombinedHash)
	assert.NotEqual(t, r1.ReproducibilityHash, r2.ReproducibilityHash,
		"seed is part of the reproducibility fingerprint")
}

func TestSplit_NoOverlap(t *testing.T) {
	samples := makeDocSamples(101)
	for _, strategy := range []Strategy{StrategyRandom, StrategyStratified, StrategyTemporal, StrategyGroup} {
		t.Run(string(strategy), func(t *testing.T) {
			cfg := Config{
				TrainRatio: 0.7, ValRatio: 0.15, TestRatio: 0.15,
				Strategy:       strategy,
				StratifyBy:     []string{"doc_type"},
				GroupBy:        "holder",
				TimestampField: "captured",
				Seed:           42,
			}
			res, err := Split(samples, cfg)
			require.NoError(t, err)

			assert.Empty(t, res.Overlap())
			total := len(res.Train) + len(res.Validation) + len(res.Test)
			assert.Equal(t, len(samples), total, "every sample lands in exactly one split")
		})
	}
}

func TestSplit_StratifiedCoverage(t *testing.T) {
	// 100 samples, doc_type evenly split between id_card and passport.
	samples := makeDocSamples(100)
	res, err := Split(samples, stratifiedConfig(42))
	require.NoError(t, err)

	countByType := func(subset []sample.Sample) map[string]int {
		out := map[string]int{}
		for _, s := range subset {
			out[s.Fields["doc_type"]]++
		}
		return out
	}

	for name, subset := range map[string][]sample.Sample{
		SplitTrain: res.Train, SplitValidation: res.Validation, SplitTest: res.Test,
	} {
		byType := countByType(subset)
		assert.Positive(t, byType["id_card"], "%s must contain id_card", name)
		assert.Positive(t, byType["passport"], "%s must contain passport", name)
	}
}

func TestSplit_StratifiedSmallGroups(t *testing.T) {
	t.Run("stratum of three lands one per split", func(t *testing.T) {
		samples := []sample.Sample{
			{ID: "a", Fields: map[string]string{"doc_type": "visa"}},
			{ID: "b", Fields: map[string]string{"doc_type": "visa"}},
			{ID: "c", Fields: map[string]string{"doc_type": "visa"}},
		}
		res, err := Split(samples, stratifiedConfig(1))
		require.NoError(t, err)
		assert.Len(t, res.Train, 1)
		assert.Len(t, res.Validation, 1)
		assert.Len(t, res.Test, 1)
	})

	t.Run("stratum below three may leave splits empty", func(t *testing.T) {
		samples := []sample.Sample{
			{ID: "a", Fields: map[string]string{"doc_type": "visa"}},
			{ID: "b", Fields: map[string]string{"doc_type": "visa"}},
		}
		res, err := Split(samples, stratifiedConfig(1))
		require.NoError(t, err)
		total := len(res.Train) + len(res.Validation) + len(res.Test)
		assert.Equal(t, 2, total)
	})
}

func TestSplit_TemporalNoFutureLeakage(t *testing.T) {
	samples := makeDocSamples(40)
	cfg := Config{
		TrainRatio: 0.5, ValRatio: 0.25, TestRatio: 0.25,
		Strategy:       StrategyTemporal,
		TimestampField: "captured",
		Seed:           42, // ignored by temporal
	}
	res, err := Split(samples, cfg)
	require.NoError(t, err)
	require.NotEmpty(t, res.Train)
	require.NotEmpty(t, res.Test)

	maxTS := func(subset []sample.Sample) string {
		max := ""
		for _, s := range subset {
			if v := s.Fields["captured"]; v > max {
				max = v
			}
		}
		return max
	}
	minTS := func(subset []sample.Sample) string {
		min := ""
		for _, s := range subset {
			if v := s.Fields["captured"]; min == "" || v < min {
				min = v
			}
		}
		return min
	}

	assert.LessOrEqual(t, maxTS(res.Train), minTS(res.Validation))
	assert.LessOrEqual(t, maxTS(res.Validation), minTS(res.Test))
}

func TestSplit_GroupAtomicity(t *testing.T) {
	samples := makeDocSamples(80)
	cfg := Config{
		TrainRatio: 0.7, ValRatio: 0.15, TestRatio: 0.15,
		Strategy: StrategyGroup,
		GroupBy:  "holder",
		Seed:     42,
	}
	res, err := Split(samples, cfg)
	require.NoError(t, err)

	groupSplit := map[string]string{}
	record := func(name string, subset []sample.Sample) {
		for _, s := range subset {
			g := s.Fields["holder"]
			if prev, ok := groupSplit[g]; ok {
				assert.Equal(t, prev, name, "group %s straddles %s and %s", g, prev, name)
			}
			groupSplit[g] = name
		}
	}
	record(SplitTrain, res.Train)
	record(SplitValidation, res.Validation)
	record(SplitTest, res.Test)
}

func TestSplit_EmptyInput(t *testing.T) {
	res, err := Split(nil, stratifiedConfig(42))
	require.NoError(t, err)
	assert.Empty(t, res.Train)
	assert.Empty(t, res.Validation)
	assert.Empty(t, res.Test)
	assert.NotEmpty(t, res.CombinedHash, "hashes are still computed for empty results")
}

func TestSplit_MinSamplesPerSplit(t *testing.T) {
	samples := makeDocSamples(10)
	cfg := Config{
		TrainRatio: 0.8, ValRatio: 0.1, TestRatio: 0.1,
		Strategy:           StrategyRandom,
		Seed:               42,
		MinSamplesPerSplit: 2,
	}
	_, err := Split(samples, cfg)
	require.ErrorIs(t, err, ErrSplitTooSmall)
}

func TestReproducibilityHash_IgnoresOrdering(t *testing.T) {
	cfg := stratifiedConfig(42)
	h1 := ReproducibilityHash([]string{"a", "b", "c"}, cfg)
	h2 := ReproducibilityHash([]string{"c", "a", "b"}, cfg)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, HashLength)
}
