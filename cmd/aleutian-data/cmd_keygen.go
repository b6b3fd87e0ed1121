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
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianData/services/dataset/manifest"
)

var (
	keyOut string

	keygenCmd = &cobra.Command{
		Use:   "keygen",
		Short: "Generate an Ed25519 manifest-signing key pair",
		Long: `Writes the private key to <out> (mode 0600) and the public key to
<out>.pub, both base64. Point the signer key_env variable at the private key
path; verifiers read the .pub file next to it.`,
		Args: cobra.NoArgs,
		RunE: runKeygen,
	}
)

func init() {
	keygenCmd.Flags().StringVar(&keyOut, "out", "signing-key", "output path for the private key")
}

func runKeygen(cmd *cobra.Command, args []string) error {
	pub, priv, err := manifest.GenerateEd25519KeyPair()
	if err != nil {
		return err
	}

	if _, err := os.Stat(keyOut); err == nil {
		return fmt.Errorf("refusing to overwrite existing key %s", keyOut)
	}

	privB64 := base64.StdEncoding.EncodeToString(priv)
	if err := os.WriteFile(keyOut, []byte(privB64), 0o600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	pubB64 := base64.StdEncoding.EncodeToString(pub)
	if err := os.WriteFile(keyOut+".pub", []byte(pubB64), 0o644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}

	fmt.Printf("Wrote %s and %s.pub\n", keyOut, keyOut)
	return nil
}
