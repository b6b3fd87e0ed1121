// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manifest

import (
	"crypto"
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"time"
)

// Signer signs manifest hashes with one signer identity and algorithm.
//
// The signed message is "manifest_hash|signer_id|timestamp", so a signature
// binds who signed, what they signed, and when. Signing populates only the
// ManifestHash and Signature fields; content fields are never touched.
type Signer struct {
	algorithm SignatureAlgorithm
	signerID  string

	hmacSecret  []byte
	ed25519Priv ed25519.PrivateKey
	rsaPriv     *rsa.PrivateKey
}

// NewHMACSigner creates a signer using a per-signer shared secret.
func NewHMACSigner(signerID string, secret []byte) *Signer {
	return &Signer{
		algorithm:  AlgorithmHMACSHA256,
		signerID:   signerID,
		hmacSecret: append([]byte(nil), secret...),
	}
}

// NewEd25519Signer creates a signer using an Ed25519 private key. The
// public key is embedded in each signature record for self-contained
// verification.
func NewEd25519Signer(signerID string, priv ed25519.PrivateKey) *Signer {
	return &Signer{
		algorithm:   AlgorithmEd25519,
		signerID:    signerID,
		ed25519Priv: priv,
	}
}

// NewRSASigner creates a signer using an RSA private key (PKCS#1 v1.5 over
// SHA-256).
func NewRSASigner(signerID string, priv *rsa.PrivateKey) *Signer {
	return &Signer{
		algorithm: AlgorithmRSASHA256,
		signerID:  signerID,
		rsaPriv:   priv,
	}
}

// SignerID returns the signer identity stamped into signatures.
func (s *Signer) SignerID() string {
	return s.signerID
}

// Algorithm returns the configured signature algorithm.
func (s *Signer) Algorithm() SignatureAlgorithm {
	return s.algorithm
}

// Sign computes the manifest hash and attaches a signature.
//
// Description:
//
//	Recomputes ManifestHash from the content fields (so stale or missing
//	hashes cannot be signed), then signs
//	"manifest_hash|signer_id|timestamp". Re-signing an already signed
//	manifest replaces the signature; the manifest hash is unchanged
//	because the signature is excluded from its input.
//
// Outputs:
//   - error: ErrNoSigningKey when key material is missing, or the
//     underlying crypto error.
func (s *Signer) Sign(m *DatasetManifest) error {
	m.ManifestHash = ComputeManifestHash(m)

	sig := &Signature{
		Algorithm: s.algorithm,
		SignerID:  s.signerID,
		Timestamp: time.Now().UTC(),
	}
	msg := sig.SignedMessage(m.ManifestHash)

	switch s.algorithm {
	case AlgorithmHMACSHA256:
		if len(s.hmacSecret) == 0 {
			return fmt.Errorf("%w: HMAC secret", ErrNoSigningKey)
		}
		mac := hmac.New(sha256.New, s.hmacSecret)
		mac.Write(msg)
		sig.Value = base64.StdEncoding.EncodeToString(mac.Sum(nil))

	case AlgorithmEd25519:
		if len(s.ed25519Priv) == 0 {
			return fmt.Errorf("%w: Ed25519 private key", ErrNoSigningKey)
		}
		sig.Value = base64.StdEncoding.EncodeToString(ed25519.Sign(s.ed25519Priv, msg))
		pub := s.ed25519Priv.Public().(ed25519.PublicKey)
		sig.PublicKey = base64.StdEncoding.EncodeToString(pub)

	case AlgorithmRSASHA256:
		if s.rsaPriv == nil {
			return fmt.Errorf("%w: RSA private key", ErrNoSigningKey)
		}
		digest := sha256.Sum256(msg)
		raw, err := rsa.SignPKCS1v15(rand.Reader, s.rsaPriv, crypto.SHA256, digest[:])
		if err != nil {
			return fmt.Errorf("rsa sign: %w", err)
		}
		sig.Value = base64.StdEncoding.EncodeToString(raw)
		pubDER, err := x509.MarshalPKIXPublicKey(&s.rsaPriv.PublicKey)
		if err != nil {
			return fmt.Errorf("marshal rsa public key: %w", err)
		}
		sig.PublicKey = base64.StdEncoding.EncodeToString(pubDER)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s.algorithm)
	}

	m.Signature = sig
	return nil
}

// GenerateEd25519KeyPair creates a fresh signing key pair.
func GenerateEd25519KeyPair() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return pub, priv, nil
}
