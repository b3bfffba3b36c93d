// Package license implements offline verification of signed license
// grants and their local persistence.
//
// A license document is issued and signed centrally, delivered to the
// field once, and from then on re-verified on every use against the
// embedded public key: signature over the canonical JSON form,
// expiry, program scope, and optionally a device fingerprint
// allowlist. Verification never calls home and never trusts a
// previous verification.
package license
