// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command aleutian-data manages versioned, verifiable training datasets.
//
// Usage:
//
//	aleutian-data create --config pipeline.yaml --samples samples.json [--labels labels.csv]
//	aleutian-data verify v1.0.2 --config pipeline.yaml
//	aleutian-data list --config pipeline.yaml
//	aleutian-data diff v1.0.1 v1.0.2 --config pipeline.yaml
//	aleutian-data status v1.0.2 released --config pipeline.yaml
//	aleutian-data keygen --out signing-key
//
// Secrets never live in the config file: the anonymization salt and signing
// key are read from the environment variables the config names.
package main

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianData/pkg/logging"
	"github.com/AleutianAI/AleutianData/services/dataset/config"
)

var (
	rootCmd = &cobra.Command{
		Use:   "aleutian-data",
		Short: "Versioned, verifiable training-dataset management",
		Long: `aleutian-data turns an unordered collection of labeled samples into a
versioned, auditable dataset artifact: deterministic splits, PII-safe
anonymization, full lineage, and a signed content-addressed manifest.`,
		SilenceUsage: true,
	}

	configPath string
	logLevel   string

	logger *logging.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "pipeline.yaml", "pipeline configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (debug, info, warn, error)")

	rootCmd.AddCommand(createCmd, verifyCmd, listCmd, diffCmd, statusCmd, keygenCmd)
}

// loadPipelineConfig reads the config file and builds the process logger.
func loadPipelineConfig() (*config.PipelineConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	level := cfg.LogLevel
	if logLevel != "" {
		level = logLevel
	}
	logger = logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		Service: "dataset",
	})
	return cfg, nil
}

// stdoutIsTerminal reports whether stdout is a TTY; when it is not, output
// stays plain so it pipes cleanly.
func stdoutIsTerminal() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
