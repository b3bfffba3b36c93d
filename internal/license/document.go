package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"

	"emvcli/internal/canonjson"
)

// Program identifies the product a license authorizes.
type Program struct {
	ProgramID       string `json:"program_id" validate:"required"`
	AuthorizationID string `json:"authorization_id"`
}

// Subject identifies the organization holding the grant.
type Subject struct {
	OrgID string `json:"org_id" validate:"required"`
}

// Entitlements lists the feature grants carried by a license.
type Entitlements struct {
	Features []string `json:"features"`
}

// Document is a signed license grant. The signature covers the
// canonical JSON form of every field except Signature itself.
type Document struct {
	LicenseID          string       `json:"license_id" validate:"required"`
	Program            Program      `json:"program" validate:"required"`
	Subject            Subject      `json:"subject" validate:"required"`
	Roles              []string     `json:"roles"`
	Entitlements       Entitlements `json:"entitlements"`
	Expiry             time.Time    `json:"expiry" validate:"required"`
	DeviceFingerprints []string     `json:"device_fingerprints,omitempty"`
	Signature          string       `json:"signature,omitempty"`
}

var validate = validator.New()

// ParseDocument decodes and structurally validates a license document.
// A malformed document fails here, at the boundary, instead of
// surfacing as a missing field deep inside verification.
func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	if err := validate.Struct(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return &doc, nil
}

// LoadDocument reads and parses a license document from disk.
func LoadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read license file: %w", err)
	}
	return ParseDocument(data)
}

// SignedPayload returns the canonical bytes the issuer signed: the
// document with the signature field stripped, keys sorted, no
// whitespace. Any deviation here breaks verification, so this is the
// only place the payload is assembled.
func (d *Document) SignedPayload() ([]byte, error) {
	unsigned := *d
	unsigned.Signature = ""
	return canonjson.Marshal(&unsigned)
}

// Sign computes and attaches the Ed25519 signature over the canonical
// payload. Used by issuance tooling and the self-test path; field
// clients only ever verify.
func (d *Document) Sign(key ed25519.PrivateKey) error {
	payload, err := d.SignedPayload()
	if err != nil {
		return err
	}
	d.Signature = base64.StdEncoding.EncodeToString(ed25519.Sign(key, payload))
	return nil
}
