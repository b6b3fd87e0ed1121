// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package split partitions a sample set into train/validation/test subsets
// deterministically.
//
// Given the same samples and config (including the seed), two independent
// runs on any machine produce bit-identical splits. Determinism is achieved
// by sorting samples by ID before any partitioning, using an explicit seeded
// RNG (never a shared or global one), and hashing the resulting membership
// in canonical order.
//
// # Small-Group Stratification Policy
//
// For stratified splits, strata with at least 3 samples are guaranteed one
// sample in every split. Strata with fewer than 3 samples may be entirely
// absent from validation or test. This is a pragmatic small-sample policy,
// not a distribution guarantee.
package split

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// Sentinel errors for split configuration and execution.
var (
	// ErrInvalidRatios is returned when the three ratios do not sum to 1.0
	// within RatioTolerance.
	ErrInvalidRatios = errors.New("split ratios must sum to 1.0")

	// ErrUnknownStrategy is returned for an unrecognized split strategy.
	ErrUnknownStrategy = errors.New("unknown split strategy")

	// ErrMissingStratifyBy is returned when the stratified strategy is
	// selected without stratification fields.
	ErrMissingStratifyBy = errors.New("stratified strategy requires stratify_by fields")

	// ErrMissingGroupBy is returned when the group strategy is selected
	// without a group_by field.
	ErrMissingGroupBy = errors.New("group strategy requires a group_by field")

	// ErrMissingTimestampField is returned when the temporal strategy is
	// selected without a timestamp field.
	ErrMissingTimestampField = errors.New("temporal strategy requires a timestamp field")

	// ErrSplitTooSmall is returned when a resulting split falls below
	// Config.MinSamplesPerSplit.
	ErrSplitTooSmall = errors.New("split smaller than configured minimum")
)

// RatioTolerance is the permitted deviation of the ratio sum from 1.0.
const RatioTolerance = 1e-6

// Strategy selects the partitioning algorithm.
type Strategy string

const (
	// StrategyRandom permutes all samples and slices at ratio boundaries.
	StrategyRandom Strategy = "random"

	// StrategyStratified splits each stratum independently so categorical
	// proportions are preserved across subsets.
	StrategyStratified Strategy = "stratified"

	// StrategyTemporal slices contiguously by ascending timestamp, keeping
	// the future out of the training split. No RNG is involved.
	StrategyTemporal Strategy = "temporal"

	// StrategyGroup assigns whole groups atomically to one split so a
	// logical entity never appears on both sides of a boundary.
	StrategyGroup Strategy = "group"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyRandom, StrategyStratified, StrategyTemporal, StrategyGroup:
		return true
	default:
		return false
	}
}

// Config describes one deterministic split. Immutable once validated;
// construct via NewConfig so invalid ratios fail fast, never mid-pipeline.
type Config struct {
	// TrainRatio, ValRatio and TestRatio must sum to 1.0 ± RatioTolerance.
	TrainRatio float64 `json:"train_ratio" yaml:"train_ratio" validate:"gte=0,lte=1"`
	ValRatio   float64 `json:"val_ratio" yaml:"val_ratio" validate:"gte=0,lte=1"`
	TestRatio  float64 `json:"test_ratio" yaml:"test_ratio" validate:"gte=0,lte=1"`

	// Strategy selects the partitioning algorithm.
	Strategy Strategy `json:"strategy" yaml:"strategy" validate:"required"`

	// StratifyBy lists the sample fields whose composite value defines a
	// stratum. Required for StrategyStratified.
	StratifyBy []string `json:"stratify_by,omitempty" yaml:"stratify_by"`

	// Seed feeds the explicit RNG. Identical seeds reproduce identical
	// splits.
	Seed int64 `json:"seed" yaml:"seed"`

	// GroupBy names the field whose value defines an atomic group.
	// Required for StrategyGroup.
	GroupBy string `json:"group_by,omitempty" yaml:"group_by"`

	// TimestampField names the field carrying the sample timestamp.
	// Required for StrategyTemporal. Values may be RFC 3339 or unix
	// seconds; anything else is ordered lexicographically.
	TimestampField string `json:"timestamp_field,omitempty" yaml:"timestamp_field"`

	// MinSamplesPerSplit, when positive, rejects results where any split of
	// a non-empty input ends up smaller than this.
	MinSamplesPerSplit int `json:"min_samples_per_split,omitempty" yaml:"min_samples_per_split" validate:"gte=0"`
}

var configValidator = validator.New(validator.WithRequiredStructEnabled())

// NewConfig validates and returns a Config.
//
// Validation failures surface at construction so a bad ratio sum can never
// reach Split mid-pipeline.
func NewConfig(cfg Config) (Config, error) {
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ratio sum, strategy, and strategy-specific fields.
func (c Config) Validate() error {
	if err := configValidator.Struct(c); err != nil {
		return fmt.Errorf("split config: %w", err)
	}

	sum := c.TrainRatio + c.ValRatio + c.TestRatio
	if math.Abs(sum-1.0) > RatioTolerance {
		return fmt.Errorf("%w: got %.6f", ErrInvalidRatios, sum)
	}

	if !c.Strategy.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownStrategy, c.Strategy)
	}

	switch c.Strategy {
	case StrategyStratified:
		if len(c.StratifyBy) == 0 {
			return ErrMissingStratifyBy
		}
	case StrategyGroup:
		if c.GroupBy == "" {
			return ErrMissingGroupBy
		}
	case StrategyTemporal:
		if c.TimestampField == "" {
			return ErrMissingTimestampField
		}
	}

	return nil
}
