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
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"fmt"
	"sync"
	"time"
)

// MaxSignatureAge is the signature age past which verification emits a
// warning (not an error).
const MaxSignatureAge = 365 * 24 * time.Hour

// Report is the outcome of verifying one manifest.
//
// Verification never throws for integrity failures: a report collects every
// specific problem so batch verification across many versions can continue
// past individual failures.
type Report struct {
	// Valid is true only when both the hash and the signature check out.
	Valid bool `json:"valid"`

	// HashValid reports whether the recomputed manifest hash matches the
	// stored one.
	HashValid bool `json:"hash_valid"`

	// SignatureValid reports whether the signature verifies over the
	// recomputed hash.
	SignatureValid bool `json:"signature_valid"`

	// UsedEmbeddedKey is true when verification fell back to the public
	// key embedded in the signature record instead of a trust-store key.
	// Embedded keys prove internal consistency, not signer identity.
	UsedEmbeddedKey bool `json:"used_embedded_key,omitempty"`

	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

func (r *Report) addError(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *Report) addWarning(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// Verifier checks manifest hashes and signatures.
//
// A Verifier holds only public keys and shared secrets, keyed by signer ID
// (the trust store). When a signer is unknown, Ed25519 and RSA manifests
// can still be checked against their embedded public key; the report flags
// that weaker trust model.
//
// # Thread Safety
//
// Verify is read-only over the manifest and safe for concurrent use. Trust
// store mutation is guarded by a mutex.
type Verifier struct {
	mu          sync.RWMutex
	hmacSecrets map[string][]byte
	ed25519Keys map[string]ed25519.PublicKey
	rsaKeys     map[string]*rsa.PublicKey
}

// NewVerifier creates a Verifier with an empty trust store.
func NewVerifier() *Verifier {
	return &Verifier{
		hmacSecrets: make(map[string][]byte),
		ed25519Keys: make(map[string]ed25519.PublicKey),
		rsaKeys:     make(map[string]*rsa.PublicKey),
	}
}

// TrustHMACSecret registers a shared secret for a signer ID.
func (v *Verifier) TrustHMACSecret(signerID string, secret []byte) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.hmacSecrets[signerID] = append([]byte(nil), secret...)
}

// TrustEd25519Key registers a public key for a signer ID.
func (v *Verifier) TrustEd25519Key(signerID string, pub ed25519.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.ed25519Keys[signerID] = pub
}

// TrustRSAKey registers a public key for a signer ID.
func (v *Verifier) TrustRSAKey(signerID string, pub *rsa.PublicKey) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rsaKeys[signerID] = pub
}

// Verify checks a manifest's hash and signature.
//
// Description:
//
//	Recomputes the manifest hash independently and compares it to the
//	stored value, then validates the signature over the recomputed hash.
//	The manifest is never mutated; Verify is safe to call repeatedly and
//	concurrently. All failures are reported, none are auto-corrected.
func (v *Verifier) Verify(m *DatasetManifest) *Report {
	report := &Report{}

	recomputed := ComputeManifestHash(m)
	if m.ManifestHash == "" {
		report.addError("manifest hash is empty")
	} else if recomputed != m.ManifestHash {
		report.addError("manifest hash mismatch: stored %s, recomputed %s",
			m.ManifestHash, recomputed)
	} else {
		report.HashValid = true
	}

	v.verifySignature(m, recomputed, report)

	report.Valid = report.HashValid && report.SignatureValid
	return report
}

func (v *Verifier) verifySignature(m *DatasetManifest, recomputedHash string, report *Report) {
	sig := m.Signature
	if sig == nil {
		report.addError("%v", ErrNotSigned)
		return
	}

	// The signature covers the recomputed hash, not the stored one, so a
	// tampered manifest fails both checks independently.
	msg := sig.SignedMessage(recomputedHash)

	raw, err := base64.StdEncoding.DecodeString(sig.Value)
	if err != nil {
		report.addError("signature is not valid base64: %v", err)
		return
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	switch sig.Algorithm {
	case AlgorithmHMACSHA256:
		secret, ok := v.hmacSecrets[sig.SignerID]
		if !ok {
			// HMAC has no embedded-key fallback: the secret is the trust.
			report.addError("no HMAC secret for signer %q", sig.SignerID)
			return
		}
		mac := hmac.New(sha256.New, secret)
		mac.Write(msg)
		if hmac.Equal(mac.Sum(nil), raw) {
			report.SignatureValid = true
		} else {
			report.addError("HMAC signature mismatch for signer %q", sig.SignerID)
		}

	case AlgorithmEd25519:
		pub, ok := v.ed25519Keys[sig.SignerID]
		if !ok {
			pub, ok = embeddedEd25519Key(sig, report)
			if !ok {
				return
			}
		}
		if ed25519.Verify(pub, msg, raw) {
			report.SignatureValid = true
		} else {
			report.addError("Ed25519 signature mismatch for signer %q", sig.SignerID)
		}

	case AlgorithmRSASHA256:
		pub, ok := v.rsaKeys[sig.SignerID]
		if !ok {
			pub, ok = embeddedRSAKey(sig, report)
			if !ok {
				return
			}
		}
		digest := sha256.Sum256(msg)
		if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], raw); err != nil {
			report.addError("RSA signature mismatch for signer %q: %v", sig.SignerID, err)
		} else {
			report.SignatureValid = true
		}

	default:
		report.addError("%v: %q", ErrUnknownAlgorithm, sig.Algorithm)
		return
	}

	if report.SignatureValid && time.Since(sig.Timestamp) > MaxSignatureAge {
		report.addWarning("signature from %s is older than one year",
			sig.Timestamp.UTC().Format(time.RFC3339))
	}
}

// embeddedEd25519Key parses the signature's embedded public key, flagging
// the weaker trust model in the report.
func embeddedEd25519Key(sig *Signature, report *Report) (ed25519.PublicKey, bool) {
	if sig.PublicKey == "" {
		report.addError("no trusted key for signer %q and no embedded key", sig.SignerID)
		return nil, false
	}
	keyBytes, err := base64.StdEncoding.DecodeString(sig.PublicKey)
	if err != nil || len(keyBytes) != ed25519.PublicKeySize {
		report.addError("embedded Ed25519 key for signer %q is malformed", sig.SignerID)
		return nil, false
	}
	report.UsedEmbeddedKey = true
	report.addWarning("verified with embedded key for signer %q; identity not established by trust store", sig.SignerID)
	return ed25519.PublicKey(keyBytes), true
}

// embeddedRSAKey parses the signature's embedded public key, flagging the
// weaker trust model in the report.
func embeddedRSAKey(sig *Signature, report *Report) (*rsa.PublicKey, bool) {
	if sig.PublicKey == "" {
		report.addError("no trusted key for signer %q and no embedded key", sig.SignerID)
		return nil, false
	}
	der, err := base64.StdEncoding.DecodeString(sig.PublicKey)
	if err != nil {
		report.addError("embedded RSA key for signer %q is malformed", sig.SignerID)
		return nil, false
	}
	parsed, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		report.addError("embedded RSA key for signer %q does not parse: %v", sig.SignerID, err)
		return nil, false
	}
	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		report.addError("embedded key for signer %q is not RSA", sig.SignerID)
		return nil, false
	}
	report.UsedEmbeddedKey = true
	report.addWarning("verified with embedded key for signer %q; identity not established by trust store", sig.SignerID)
	return pub, true
}
