package config

import (
	"crypto/ed25519"
	"encoding/base64"
	"fmt"
	"os"
)

// embeddedPublicKey is the issuer's Ed25519 verification key baked
// into the binary at release time. Field deployments verify licenses
// against this key with no network access; EMV_LICENSE_PUBLIC_KEY or
// the license.public_key config entry override it for staging.
const embeddedPublicKey = "8y0bRJwxNrYmiHIEJYYSE7THFAFpC5BY9T5J7jWpcbo="

// VerificationKey resolves the active license verification key.
// Resolution order: explicit override argument, environment, embedded
// release key.
func VerificationKey(override string) (ed25519.PublicKey, error) {
	encoded := override
	if encoded == "" {
		encoded = os.Getenv("EMV_LICENSE_PUBLIC_KEY")
	}
	if encoded == "" {
		encoded = embeddedPublicKey
	}
	return DecodePublicKey(encoded)
}

// DecodePublicKey parses a base64-encoded raw Ed25519 public key.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid public key encoding: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("invalid public key size: got %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	return ed25519.PublicKey(raw), nil
}
