package license

import "errors"

// Typed errors for license persistence and parsing. Verification
// outcomes are values (VerificationResult), not errors; these cover
// the cases where no usable document exists at all.
var (
	// ErrNotInstalled is returned by Store.Load when no license has
	// been installed yet.
	ErrNotInstalled = errors.New("no license installed")

	// ErrMalformedDocument is returned when a license document fails
	// to parse or is missing required fields.
	ErrMalformedDocument = errors.New("malformed license document")
)

// Verification failure reasons. These are part of the CLI contract
// and must stay stable for shell automation.
const (
	ReasonBadSignature        = "bad_signature"
	ReasonExpired             = "expired"
	ReasonWrongProgram        = "wrong_program"
	ReasonDeviceNotAuthorized = "device_not_authorized"
)
