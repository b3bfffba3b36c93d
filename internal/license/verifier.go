package license

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"log/slog"
	"slices"
	"time"
)

// VerificationResult is the outcome of a license check. Failures are
// reported as values with a stable reason string, never as opaque
// errors, so the CLI can print them and exit non-zero.
type VerificationResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

func pass() VerificationResult           { return VerificationResult{OK: true} }
func fail(reason string) VerificationResult { return VerificationResult{OK: false, Reason: reason} }

// Verifier validates license documents entirely offline against a
// fixed public key.
type Verifier struct {
	key             ed25519.PublicKey
	requiredProgram string
	now             func() time.Time
	cache           *ResultCache
	logger          *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithRequiredProgram makes Verify reject licenses whose program_id
// differs from the given one.
func WithRequiredProgram(programID string) VerifierOption {
	return func(v *Verifier) { v.requiredProgram = programID }
}

// WithClock overrides the time source, for expiry tests.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) { v.now = now }
}

// WithCache attaches a result cache. Entries are keyed on a digest of
// both payload and signature, so a tampered document can never hit the
// entry of its untampered original. Expiry is still re-checked on
// every call.
func WithCache(cache *ResultCache) VerifierOption {
	return func(v *Verifier) { v.cache = cache }
}

// WithLogger sets the logger used for verification diagnostics.
func WithLogger(logger *slog.Logger) VerifierOption {
	return func(v *Verifier) { v.logger = logger }
}

// NewVerifier creates a Verifier for the given public key.
func NewVerifier(key ed25519.PublicKey, opts ...VerifierOption) *Verifier {
	v := &Verifier{
		key:    key,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify runs the offline checks in order: signature, expiry, program
// scope. The first failing check wins, so a tampered document reports
// bad_signature even when it is also expired.
func (v *Verifier) Verify(doc *Document) VerificationResult {
	if !v.checkSignature(doc) {
		v.logger.Warn("license signature verification failed",
			slog.String("license_id", doc.LicenseID))
		return fail(ReasonBadSignature)
	}

	if !v.now().Before(doc.Expiry) {
		v.logger.Warn("license expired",
			slog.String("license_id", doc.LicenseID),
			slog.Time("expiry", doc.Expiry))
		return fail(ReasonExpired)
	}

	if v.requiredProgram != "" && doc.Program.ProgramID != v.requiredProgram {
		v.logger.Warn("license program mismatch",
			slog.String("license_id", doc.LicenseID),
			slog.String("program_id", doc.Program.ProgramID),
			slog.String("required", v.requiredProgram))
		return fail(ReasonWrongProgram)
	}

	return pass()
}

// checkSignature validates the Ed25519 signature over the canonical
// payload, consulting the cache for the expensive part only.
func (v *Verifier) checkSignature(doc *Document) bool {
	sig, err := base64.StdEncoding.DecodeString(doc.Signature)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	payload, err := doc.SignedPayload()
	if err != nil {
		return false
	}

	var key string
	if v.cache != nil {
		key = cacheKey(payload, sig)
		if ok, hit := v.cache.Get(key); hit {
			return ok
		}
	}

	ok := ed25519.Verify(v.key, payload, sig)

	if v.cache != nil {
		v.cache.Set(key, ok)
	}
	return ok
}

func cacheKey(payload, sig []byte) string {
	h := sha256.New()
	h.Write(payload)
	h.Write(sig)
	return hex.EncodeToString(h.Sum(nil))
}

// RequireDeviceFingerprint checks the device binding of a license.
// Binding is opt-in per license: a document without fingerprints
// passes for any device. This check is deliberately separate from
// Verify so callers enforce it only where configured, and failures
// stay distinguishable for diagnostics.
func RequireDeviceFingerprint(doc *Document, fingerprint string) VerificationResult {
	if len(doc.DeviceFingerprints) == 0 {
		return pass()
	}
	if slices.Contains(doc.DeviceFingerprints, fingerprint) {
		return pass()
	}
	return fail(ReasonDeviceNotAuthorized)
}
