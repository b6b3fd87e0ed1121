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
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianData/services/dataset/config"
	"github.com/AleutianAI/AleutianData/services/dataset/manifest"
	"github.com/AleutianAI/AleutianData/services/dataset/version"
)

var (
	verifyCmd = &cobra.Command{
		Use:   "verify <version>",
		Short: "Verify a version's content hash, manifest hash, and signature",
		Long: `Loads the version from disk, recomputes every hash, and checks the
signature against the configured trust store. Exits nonzero when any check
fails, so CI gates can consume the result directly.`,
		Args: cobra.ExactArgs(1),
		RunE: runVerify,
	}

	listCmd = &cobra.Command{
		Use:   "list",
		Short: "List all versions with status and sample counts",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}

	diffCmd = &cobra.Command{
		Use:   "diff <version-a> <version-b>",
		Short: "Show the sample-level difference between two versions",
		Args:  cobra.ExactArgs(2),
		RunE:  runDiff,
	}

	statusCmd = &cobra.Command{
		Use:   "status <version> <state>",
		Short: "Move a version through its lifecycle (draft, pending, validated, released, deprecated, archived)",
		Args:  cobra.ExactArgs(2),
		RunE:  runStatus,
	}

	jsonOutput bool
)

func init() {
	verifyCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the full report as JSON")
	diffCmd.Flags().BoolVar(&jsonOutput, "json", false, "emit the diff as JSON")
}

// openManager builds a read-side Manager with the trust store implied by the
// signer configuration.
func openManager(cfg *config.PipelineConfig) (*version.Manager, error) {
	opts := []version.ManagerOption{version.WithLogger(logger.Slog())}
	if cfg.Signer.Enabled {
		verifier, err := buildVerifier(&cfg.Signer)
		if err != nil {
			return nil, err
		}
		opts = append(opts, version.WithVerifier(verifier))
	}
	return version.NewManager(cfg.BaseDir, cfg.DatasetName, opts...)
}

// buildVerifier loads the trust store for the configured signer. For
// Ed25519 the public key is expected next to the private key with a .pub
// suffix; a missing .pub file falls back to embedded-key verification. A
// missing key environment variable degrades to an empty trust store rather
// than failing, so read-only commands still work.
func buildVerifier(sc *config.SignerConfig) (*manifest.Verifier, error) {
	v := manifest.NewVerifier()
	key, err := sc.Key()
	if err != nil {
		logger.Warn("signer key unavailable, verification will use embedded keys only",
			"key_env", sc.KeyEnv)
		return v, nil
	}
	switch manifest.SignatureAlgorithm(sc.Algorithm) {
	case manifest.AlgorithmHMACSHA256:
		v.TrustHMACSecret(sc.SignerID, []byte(key))
	case manifest.AlgorithmEd25519:
		raw, err := os.ReadFile(key + ".pub")
		if err != nil {
			return v, nil
		}
		pub, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil || len(pub) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key %s.pub is not a base64 Ed25519 key", key)
		}
		v.TrustEd25519Key(sc.SignerID, ed25519.PublicKey(pub))
	}
	return v, nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig()
	if err != nil {
		return err
	}
	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	report, err := mgr.VerifyVersion(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
	} else {
		fmt.Printf("%s: valid=%v content=%v manifest=%v signature=%v\n",
			report.Version, report.Valid, report.ContentValid,
			report.ManifestValid, report.SignatureValid)
		for _, e := range report.Errors {
			fmt.Printf("  error: %s\n", e)
		}
		for _, w := range report.Warnings {
			fmt.Printf("  warning: %s\n", w)
		}
	}

	if !report.Valid {
		return fmt.Errorf("version %s failed verification", args[0])
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig()
	if err != nil {
		return err
	}
	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	versions := mgr.ListVersions()
	if len(versions) == 0 {
		if stdoutIsTerminal() {
			fmt.Println("No versions found.")
		}
		return nil
	}

	for _, v := range versions {
		prov, err := mgr.GetProvenance(v)
		if err != nil {
			return err
		}
		if stdoutIsTerminal() {
			fmt.Printf("%-12s %-11s %6d samples  %s\n",
				v, prov.Status, prov.SampleCount, prov.CreatedAt.Format("2006-01-02"))
		} else {
			fmt.Println(v)
		}
	}
	return nil
}

func runDiff(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig()
	if err != nil {
		return err
	}
	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	diff, err := mgr.CompareVersions(cmd.Context(), args[0], args[1])
	if err != nil {
		return err
	}

	if jsonOutput {
		out, _ := json.MarshalIndent(diff, "", "  ")
		fmt.Println(string(out))
		return nil
	}

	if diff.Identical() {
		fmt.Printf("%s and %s have identical content\n", diff.VersionA, diff.VersionB)
		return nil
	}
	fmt.Printf("%s -> %s: +%d -%d (%d unchanged)\n",
		diff.VersionA, diff.VersionB, len(diff.Added), len(diff.Removed), diff.Unchanged)
	for _, id := range diff.Added {
		fmt.Printf("  + %s\n", id)
	}
	for _, id := range diff.Removed {
		fmt.Printf("  - %s\n", id)
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadPipelineConfig()
	if err != nil {
		return err
	}
	mgr, err := openManager(cfg)
	if err != nil {
		return err
	}
	defer mgr.Close()

	if err := mgr.UpdateStatus(cmd.Context(), args[0], version.Status(args[1])); err != nil {
		return err
	}
	fmt.Printf("%s -> %s\n", args[0], args[1])
	return nil
}
