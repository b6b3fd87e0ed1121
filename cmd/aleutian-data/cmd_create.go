// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianData/services/dataset/anonymize"
	"github.com/AleutianAI/AleutianData/services/dataset/config"
	"github.com/AleutianAI/AleutianData/services/dataset/lineage"
	"github.com/AleutianAI/AleutianData/services/dataset/manifest"
	"github.com/AleutianAI/AleutianData/services/dataset/sample"
	"github.com/AleutianAI/AleutianData/services/dataset/split"
	"github.com/AleutianAI/AleutianData/services/dataset/version"
)

var (
	samplesPath   string
	labelsPath    string
	pinVersion    string
	description   string
	tags          []string
	parentVersion string

	createCmd = &cobra.Command{
		Use:   "create",
		Short: "Create a new dataset version from a sample file",
		Long: `Runs the full pipeline: loads samples (and optional label annotations),
anonymizes configured fields, performs the deterministic split, records
lineage, and persists a new signed dataset version.`,
		RunE: runCreate,
	}
)

func init() {
	createCmd.Flags().StringVar(&samplesPath, "samples", "", "JSON file holding the sample array (required)")
	createCmd.Flags().StringVar(&labelsPath, "labels", "", "optional label-annotation CSV")
	createCmd.Flags().StringVar(&pinVersion, "version", "", "pin the version string instead of auto-bumping")
	createCmd.Flags().StringVar(&description, "description", "", "human-readable version description")
	createCmd.Flags().StringSliceVar(&tags, "tag", nil, "tags to attach (repeatable)")
	createCmd.Flags().StringVar(&parentVersion, "parent", "", "parent version for derived datasets")
	createCmd.MarkFlagRequired("samples")
}

func runCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	samples, err := loadSamples(samplesPath)
	if err != nil {
		return err
	}

	tracker := lineage.NewTracker(ctx, cfg.DatasetName, pinVersion, cfg.SchemaVersion,
		lineage.WithLogger(logger.Slog()))
	if _, err := tracker.AddSource(ctx, lineage.SourceLocalFile,
		"file://"+samplesPath, hashFile(samplesPath), len(samples)); err != nil {
		return err
	}

	if labelsPath != "" {
		if err := applyLabelFile(ctx, tracker, samples, labelsPath); err != nil {
			return err
		}
	}

	if cfg.Anonymize.Enabled {
		salt, err := cfg.Anonymize.Salt()
		if err != nil {
			return err
		}
		anon := anonymize.New(salt, logger.Slog())
		err = tracker.Track(ctx, lineage.TransformAnonymization, "anonymize PII fields",
			map[string]any{
				"fields":           cfg.Anonymize.Fields,
				"method":           cfg.Anonymize.Method,
				"salt_fingerprint": anon.SaltFingerprint(),
			},
			func(tx *lineage.Transform) error {
				anon.AnonymizeSamples(samples, cfg.Anonymize.Fields,
					anonymize.Method(cfg.Anonymize.Method))
				tx.SetCounts(len(samples), len(samples))
				return nil
			})
		if err != nil {
			return err
		}
	}

	var result *split.Result
	err = tracker.Track(ctx, lineage.TransformSplitting, "deterministic split",
		map[string]any{
			"strategy":    string(cfg.Split.Strategy),
			"seed":        cfg.Split.Seed,
			"train_ratio": cfg.Split.TrainRatio,
			"val_ratio":   cfg.Split.ValRatio,
			"test_ratio":  cfg.Split.TestRatio,
		},
		func(tx *lineage.Transform) error {
			var splitErr error
			result, splitErr = split.Split(samples, cfg.Split)
			if splitErr != nil {
				return splitErr
			}
			tx.SetCounts(len(samples), len(samples))
			tx.SetHashes("", result.CombinedHash)
			return nil
		})
	if err != nil {
		return err
	}

	splits := map[string][]sample.Sample{
		split.SplitTrain:      result.Train,
		split.SplitValidation: result.Validation,
		split.SplitTest:       result.Test,
	}

	lin, err := tracker.Finalize("", len(samples))
	if err != nil {
		return err
	}

	managerOpts := []version.ManagerOption{version.WithLogger(logger.Slog())}
	if cfg.Signer.Enabled {
		signer, err := buildSigner(&cfg.Signer)
		if err != nil {
			return err
		}
		managerOpts = append(managerOpts, version.WithSigner(signer))
	}

	mgr, err := version.NewManager(cfg.BaseDir, cfg.DatasetName, managerOpts...)
	if err != nil {
		return err
	}
	defer mgr.Close()

	created, err := mgr.CreateVersion(ctx, splits, version.CreateOptions{
		Version:         pinVersion,
		Description:     description,
		Tags:            tags,
		ParentVersion:   parentVersion,
		Lineage:         lin,
		BuildConfigHash: cfg.Hash(),
	})
	if err != nil {
		return err
	}

	if stdoutIsTerminal() {
		fmt.Printf("Created %s: %d samples (train %d / validation %d / test %d)\n",
			created.Version, created.Provenance.SampleCount,
			len(result.Train), len(result.Validation), len(result.Test))
		fmt.Printf("  content hash  %s\n", created.Provenance.ContentHash)
		fmt.Printf("  manifest hash %s\n", created.Provenance.ManifestHash)
	} else {
		fmt.Println(created.Version)
	}
	return nil
}

// loadSamples reads a JSON array of samples.
func loadSamples(path string) ([]sample.Sample, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read samples: %w", err)
	}
	var samples []sample.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("parse samples: %w", err)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("sample file %s is empty", path)
	}
	return samples, nil
}

// applyLabelFile merges CSV annotations onto the samples, recording the
// labeling transform and any skipped rows as lineage warnings.
func applyLabelFile(ctx context.Context, tracker *lineage.Tracker, samples []sample.Sample, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()

	labels, err := sample.LoadLabels(f)
	if err != nil {
		return fmt.Errorf("load labels: %w", err)
	}
	for _, rowErr := range labels.Errors {
		tracker.AddWarning(ctx, "label row skipped: %v", rowErr)
	}

	return tracker.Track(ctx, lineage.TransformLabeling, "apply label annotations",
		map[string]any{"labels_file": path, "rows": len(labels.Records)},
		func(tx *lineage.Transform) error {
			updated := sample.ApplyLabels(samples, labels)
			tx.SetCounts(len(samples), updated)
			return nil
		})
}

// hashFile fingerprints a source file for lineage. An unreadable file hashes
// to "unknown"; the read error will surface again when the file is parsed.
func hashFile(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return "unknown"
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// buildSigner constructs the configured manifest signer. HMAC secrets come
// straight from the environment; Ed25519 keys are file paths (the env var
// carries the path, the file carries the base64 key from keygen).
func buildSigner(sc *config.SignerConfig) (*manifest.Signer, error) {
	key, err := sc.Key()
	if err != nil {
		return nil, err
	}
	switch manifest.SignatureAlgorithm(sc.Algorithm) {
	case manifest.AlgorithmHMACSHA256:
		return manifest.NewHMACSigner(sc.SignerID, []byte(key)), nil
	case manifest.AlgorithmEd25519:
		raw, err := os.ReadFile(key)
		if err != nil {
			return nil, fmt.Errorf("read signing key %s: %w", key, err)
		}
		priv, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil || len(priv) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("signing key %s is not a base64 Ed25519 private key", key)
		}
		return manifest.NewEd25519Signer(sc.SignerID, ed25519.PrivateKey(priv)), nil
	default:
		return nil, fmt.Errorf("unsupported signer algorithm %q", sc.Algorithm)
	}
}
