// Package license implements the License Verifier (§4.8): offline
// Signed License activation, status classification, trial
// initialization, and feature/vertical gating. Grounded on the teacher's
// infrastructure/globalsigner (Ed25519-style signature verification
// wiring) and middleware/serviceauth.go's fail-closed authorization
// posture — every gating query defaults to false/disabled on any
// ambiguity rather than fail-open.
package license

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	domainlicense "github.com/lukeeterna/fluxion-core/domain/license"
	"github.com/lukeeterna/fluxion-core/infrastructure/database"
	fluxerrors "github.com/lukeeterna/fluxion-core/infrastructure/errors"
	"github.com/lukeeterna/fluxion-core/infrastructure/fingerprint"
	fluxhex "github.com/lukeeterna/fluxion-core/infrastructure/hex"
	"github.com/lukeeterna/fluxion-core/infrastructure/licensestore"
	"github.com/lukeeterna/fluxion-core/infrastructure/logging"
	"github.com/lukeeterna/fluxion-core/infrastructure/metrics"
)

// embeddedPublicKeyHex is the Ed25519 public key the verifier trusts,
// embedded as a compile-time constant (§4.8, §9 "keeps its public-key
// material as a compile-time constant"). Signing keys never ship with
// this binary.
const embeddedPublicKeyHex = "3981c25665b3173121417d061c7c0abb73f357c7aca2cfd6ff1a26e3e5f5e8ab"

// DefaultTrialDays is the configured trial window length (§6.4).
const DefaultTrialDays = 30

// FingerprintFunc computes the current host's hardware fingerprint.
type FingerprintFunc func() (string, error)

// ClockFunc returns the current instant; overridable in tests.
type ClockFunc func() time.Time

// Verifier is the License Verifier.
type Verifier struct {
	store       licensestore.Store
	publicKey   ed25519.PublicKey
	fingerprint FingerprintFunc
	clock       ClockFunc
	trialDays   int
	log         *logging.Logger
	metrics     *metrics.Metrics
}

// Option configures a Verifier at construction time.
type Option func(*Verifier)

// WithPublicKey overrides the embedded public key. Production callers
// never need this; it exists so tests can verify against envelopes
// signed with a throwaway test keypair (P7/P8/L1 scenarios).
func WithPublicKey(pub ed25519.PublicKey) Option {
	return func(v *Verifier) { v.publicKey = pub }
}

// WithFingerprint overrides the hardware-fingerprint source.
func WithFingerprint(f FingerprintFunc) Option {
	return func(v *Verifier) { v.fingerprint = f }
}

// WithClock overrides the verifier's notion of "now".
func WithClock(c ClockFunc) Option {
	return func(v *Verifier) { v.clock = c }
}

// WithTrialDays overrides the trial window length (default 30, §6.4).
func WithTrialDays(days int) Option {
	return func(v *Verifier) { v.trialDays = days }
}

// WithLogger attaches a structured logger.
func WithLogger(l *logging.Logger) Option {
	return func(v *Verifier) { v.log = l }
}

// WithMetrics attaches a Prometheus collector set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(v *Verifier) { v.metrics = m }
}

// New constructs a Verifier over the embedded public key and the given
// license cache store.
func New(store licensestore.Store, opts ...Option) (*Verifier, error) {
	pub, err := fluxhex.DecodeString(embeddedPublicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decode embedded public key: %w", err)
	}

	v := &Verifier{
		store:       store,
		publicKey:   ed25519.PublicKey(pub),
		fingerprint: fingerprint.Current,
		clock:       time.Now,
		trialDays:   DefaultTrialDays,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// CanonicalEncode returns the canonical serialization the Ed25519
// signature is computed over: encoding/json.Marshal over a struct with a
// fixed field order, which is deterministic given domainlicense.Payload's
// frozen definition (§6.1, L1).
func CanonicalEncode(payload domainlicense.Payload) ([]byte, error) {
	return json.Marshal(payload)
}

// ActivationError is the structured result of a failed activate() call
// (§7 LicenseError taxonomy).
type ActivationError = fluxerrors.FluxionError

// Activate parses envelopeBytes, verifies the format version, the
// Ed25519 signature, the hardware-fingerprint binding, and (if present)
// expiry, then persists the envelope in the single-row license cache.
// Any failure leaves the cache untouched (§4.8, §7).
func (v *Verifier) Activate(ctx context.Context, envelopeBytes []byte) error {
	var envelope domainlicense.Envelope
	if err := json.Unmarshal(envelopeBytes, &envelope); err != nil {
		return fluxerrors.New(fluxerrors.ErrCodeLicenseFormatMismatch, "malformed license envelope").WithDetails("parse_error", err.Error())
	}

	if envelope.License.Version != domainlicense.FormatVersion {
		v.recordActivation("format_mismatch")
		return fluxerrors.LicenseFormatMismatch(envelope.License.Version, domainlicense.FormatVersion)
	}

	canonical, err := CanonicalEncode(envelope.License)
	if err != nil {
		return fluxerrors.RepositorySerializationError("license_payload", err)
	}

	sig, err := base64.StdEncoding.DecodeString(envelope.Signature)
	if err != nil {
		v.recordActivation("signature_invalid")
		v.logCrypto(ctx, "verify_signature", false, err)
		return fluxerrors.LicenseSignatureInvalid()
	}

	if !ed25519.Verify(v.publicKey, canonical, sig) {
		v.recordActivation("signature_invalid")
		v.logCrypto(ctx, "verify_signature", false, fluxerrors.LicenseSignatureInvalid())
		return fluxerrors.LicenseSignatureInvalid()
	}
	v.logCrypto(ctx, "verify_signature", true, nil)

	currentFingerprint, err := v.fingerprint()
	if err != nil {
		return fmt.Errorf("compute hardware fingerprint: %w", err)
	}
	if fluxhex.Normalize(currentFingerprint) != fluxhex.Normalize(envelope.License.HardwareFingerprint) {
		v.recordActivation("hardware_mismatch")
		v.logSecurity(ctx, "license_hardware_mismatch", map[string]interface{}{"license_id": envelope.License.LicenseID})
		return fluxerrors.LicenseHardwareMismatch()
	}

	if err := database.ValidateEmail(stringOrEmpty(envelope.License.LicenseeEmail)); err != nil {
		v.recordActivation("format_mismatch")
		return fluxerrors.LicenseFormatMismatch("licensee_email", "valid_email")
	}

	now := v.clock()
	if envelope.License.ExpiresAt != nil && !now.Before(*envelope.License.ExpiresAt) {
		v.recordActivation("expired")
		return fluxerrors.LicenseExpired()
	}

	issuedAt := envelope.License.IssuedAt
	cached := licensestore.Cached{
		Fingerprint:      currentFingerprint,
		Tier:             envelope.License.Tier,
		Status:           domainlicense.StatusValid,
		LicenseID:        envelope.License.LicenseID,
		RawEnvelope:      string(envelopeBytes),
		Signature:        envelope.Signature,
		LicenseeName:     envelope.License.LicenseeName,
		LicenseeEmail:    envelope.License.LicenseeEmail,
		EnabledVerticals: envelope.License.EnabledVerticals,
		Features:         envelope.License.Features,
		MaxOperators:     envelope.License.MaxOperators,
		IssuedAt:         &issuedAt,
		ExpiryDate:       envelope.License.ExpiresAt,
		UpdatedAt:        now,
	}

	if err := v.store.Save(ctx, cached); err != nil {
		return err
	}

	v.recordActivation("success")
	if v.log != nil {
		v.log.Info(ctx, "license activated", map[string]interface{}{"license_id": envelope.License.LicenseID, "tier": string(envelope.License.Tier)})
	}
	return nil
}

func (v *Verifier) recordActivation(outcome string) {
	v.metrics.RecordLicenseActivation(outcome)
}

func (v *Verifier) logCrypto(ctx context.Context, operation string, success bool, err error) {
	if v.log == nil {
		return
	}
	v.log.LogCryptoOperation(ctx, operation, success, err)
}

func (v *Verifier) logSecurity(ctx context.Context, eventType string, details map[string]interface{}) {
	if v.log == nil {
		return
	}
	v.log.LogSecurityEvent(ctx, eventType, details)
}

// StatusResult is the caller-facing result of status() (§4.8).
type StatusResult struct {
	Status        domainlicense.Status
	Tier          domainlicense.Tier
	DaysRemaining *int
	Perpetual     bool
}

// ensureInitialized creates the Trial cache row if none exists yet
// (§4.8 Trial initialization).
func (v *Verifier) ensureInitialized(ctx context.Context) (*licensestore.Cached, error) {
	cached, err := v.store.Load(ctx)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		return cached, nil
	}

	now := v.clock()
	trialEnds := now.AddDate(0, 0, v.trialDays)
	currentFingerprint, err := v.fingerprint()
	if err != nil {
		return nil, fmt.Errorf("compute hardware fingerprint: %w", err)
	}

	fresh := licensestore.Cached{
		Fingerprint:      currentFingerprint,
		Tier:             domainlicense.TierTrial,
		Status:           domainlicense.StatusTrial,
		Features:         domainlicense.TrialFeatures(),
		EnabledVerticals: []string{},
		TrialStartedAt:   &now,
		TrialEndsAt:      &trialEnds,
		UpdatedAt:        now,
	}
	if err := v.store.Save(ctx, fresh); err != nil {
		return nil, err
	}
	return &fresh, nil
}

// Status loads the cached license and classifies it (§4.8).
func (v *Verifier) Status(ctx context.Context) (StatusResult, error) {
	cached, err := v.ensureInitialized(ctx)
	if err != nil {
		return StatusResult{}, err
	}
	if cached == nil {
		return StatusResult{Status: domainlicense.StatusNoLicense}, nil
	}

	now := v.clock()
	currentFingerprint, err := v.fingerprint()
	if err != nil {
		return StatusResult{}, fmt.Errorf("compute hardware fingerprint: %w", err)
	}

	if !strings.EqualFold(cached.Fingerprint, currentFingerprint) {
		return StatusResult{Status: domainlicense.StatusHardwareMismatch, Tier: cached.Tier}, nil
	}

	if cached.Tier == domainlicense.TierTrial {
		if cached.TrialEndsAt == nil || !now.Before(*cached.TrialEndsAt) {
			return StatusResult{Status: domainlicense.StatusTrialExpired, Tier: cached.Tier}, nil
		}
		remaining := int(cached.TrialEndsAt.Sub(now).Hours() / 24)
		return StatusResult{Status: domainlicense.StatusTrial, Tier: cached.Tier, DaysRemaining: &remaining}, nil
	}

	if cached.ExpiryDate == nil {
		return StatusResult{Status: domainlicense.StatusValid, Tier: cached.Tier, Perpetual: true}, nil
	}
	if !now.Before(*cached.ExpiryDate) {
		return StatusResult{Status: domainlicense.StatusExpired, Tier: cached.Tier}, nil
	}
	remaining := int(cached.ExpiryDate.Sub(now).Hours() / 24)
	return StatusResult{Status: domainlicense.StatusValid, Tier: cached.Tier, DaysRemaining: &remaining}, nil
}

// FeatureEnabled consults the cached license's feature flags. Returns
// false whenever status is not Valid/Trial — fail-closed, never fail-open
// (§4.8 feature_enabled).
func (v *Verifier) FeatureEnabled(ctx context.Context, flag FeatureFlag) (bool, error) {
	statusResult, err := v.Status(ctx)
	if err != nil {
		return false, err
	}
	if statusResult.Status != domainlicense.StatusValid && statusResult.Status != domainlicense.StatusTrial {
		return false, nil
	}

	cached, err := v.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if cached == nil {
		return false, nil
	}

	switch flag {
	case FeatureVoiceAgent:
		return cached.Features.VoiceAgent, nil
	case FeatureWhatsAppAI:
		return cached.Features.WhatsAppAI, nil
	case FeatureRAGChat:
		return cached.Features.RAGChat, nil
	case FeatureEInvoicing:
		return cached.Features.EInvoicing, nil
	case FeatureLoyaltyAdvanced:
		return cached.Features.LoyaltyAdvanced, nil
	case FeatureAPIAccess:
		return cached.Features.APIAccess, nil
	default:
		return false, nil
	}
}

// FeatureFlag names one of the boolean feature flags in §3.5's Features
// record (max_verticals is numeric and read via MaxVerticals()).
type FeatureFlag string

const (
	FeatureVoiceAgent      FeatureFlag = "voice_agent"
	FeatureWhatsAppAI      FeatureFlag = "whatsapp_ai"
	FeatureRAGChat         FeatureFlag = "rag_chat"
	FeatureEInvoicing      FeatureFlag = "einvoicing"
	FeatureLoyaltyAdvanced FeatureFlag = "loyalty_advanced"
	FeatureAPIAccess       FeatureFlag = "api_access"
)

// MaxVerticals returns the cached license's max_verticals feature value.
func (v *Verifier) MaxVerticals(ctx context.Context) (int, error) {
	cached, err := v.store.Load(ctx)
	if err != nil {
		return 0, err
	}
	if cached == nil {
		return 0, nil
	}
	return cached.Features.MaxVerticals, nil
}

// VerticalEnabled reports whether tag is enabled: Enterprise
// unconditionally true, otherwise membership in enabled-verticals
// (§4.8 vertical_enabled).
func (v *Verifier) VerticalEnabled(ctx context.Context, tag string) (bool, error) {
	cached, err := v.store.Load(ctx)
	if err != nil {
		return false, err
	}
	if cached == nil {
		return false, nil
	}
	if cached.Tier == domainlicense.TierEnterprise {
		return true, nil
	}
	for _, enabled := range cached.EnabledVerticals {
		if enabled == tag {
			return true, nil
		}
	}
	return false, nil
}

// Deactivate clears the cached license and re-initializes a Trial row
// (§4.8 deactivate()).
func (v *Verifier) Deactivate(ctx context.Context) error {
	if err := v.store.Clear(ctx); err != nil {
		return err
	}
	_, err := v.ensureInitialized(ctx)
	return err
}

// TierInfo returns the static tier pricing/feature-summary table
// (Expansion, §4.8).
func (v *Verifier) TierInfo() []domainlicense.TierInfo {
	return domainlicense.TierCatalog()
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
