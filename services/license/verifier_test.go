package license

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	domainlicense "github.com/lukeeterna/fluxion-core/domain/license"
	fluxerrors "github.com/lukeeterna/fluxion-core/infrastructure/errors"
	"github.com/lukeeterna/fluxion-core/infrastructure/licensestore"
	"github.com/lukeeterna/fluxion-core/infrastructure/storage"
)

// testSeedHex is a throwaway Ed25519 seed used only to sign test fixture
// envelopes; it has no relationship to any production signing key.
const testSeedHex = "176514ab643bb36c263edd4b9d1b5c01ddcda94f8c73f9d2435c2a2102b13084"

func testKeypair(t *testing.T) (ed25519.PrivateKey, ed25519.PublicKey) {
	t.Helper()
	seed, err := hex.DecodeString(testSeedHex)
	if err != nil {
		t.Fatalf("decode test seed: %v", err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return priv, pub
}

func newTestStore(t *testing.T) licensestore.Store {
	t.Helper()
	dir := t.TempDir()
	ctx := context.Background()
	engine, err := storage.Open(ctx, filepath.Join(dir, "fluxion.db"))
	if err != nil {
		t.Fatalf("storage.Open() error = %v", err)
	}
	t.Cleanup(func() { engine.Close() })
	return licensestore.New(engine.DB())
}

func signEnvelope(t *testing.T, priv ed25519.PrivateKey, payload domainlicense.Payload) []byte {
	t.Helper()
	canonical, err := CanonicalEncode(payload)
	if err != nil {
		t.Fatalf("CanonicalEncode() error = %v", err)
	}
	sig := ed25519.Sign(priv, canonical)
	envelope := domainlicense.Envelope{
		License:   payload,
		Signature: base64.StdEncoding.EncodeToString(sig),
	}
	out, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return out
}

func basePayload(fingerprint string, now time.Time) domainlicense.Payload {
	return domainlicense.Payload{
		Version:             domainlicense.FormatVersion,
		LicenseID:           "lic-001",
		Tier:                domainlicense.TierPro,
		IssuedAt:            now,
		ExpiresAt:           nil,
		HardwareFingerprint: fingerprint,
		EnabledVerticals:    []string{"salon"},
		MaxOperators:        5,
		Features: domainlicense.Features{
			VoiceAgent:   true,
			WhatsAppAI:   true,
			EInvoicing:   true,
			MaxVerticals: 1,
		},
	}
}

const fixedFingerprint = "fingerprint-aaa"

func fixedFingerprintFunc() (string, error) { return fixedFingerprint, nil }

// S6 — activation succeeds against a validly signed envelope bound to the
// current fingerprint, and gates features on afterward.
func TestActivateSuccessAndFeatureGating(t *testing.T) {
	priv, pub := testKeypair(t)
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	v, err := New(store,
		WithPublicKey(pub),
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	envelope := signEnvelope(t, priv, basePayload(fixedFingerprint, now))

	ctx := context.Background()
	if err := v.Activate(ctx, envelope); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	status, err := v.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Status != domainlicense.StatusValid {
		t.Errorf("Status = %+v, want Valid", status)
	}
	if !status.Perpetual {
		t.Error("expected perpetual license (no expiry)")
	}

	enabled, err := v.FeatureEnabled(ctx, FeatureVoiceAgent)
	if err != nil {
		t.Fatalf("FeatureEnabled() error = %v", err)
	}
	if !enabled {
		t.Error("expected voice_agent feature enabled")
	}

	disabled, err := v.FeatureEnabled(ctx, FeatureLoyaltyAdvanced)
	if err != nil {
		t.Fatalf("FeatureEnabled() error = %v", err)
	}
	if disabled {
		t.Error("expected loyalty_advanced feature disabled")
	}
}

// P7/S9 — a tampered payload (signature no longer matches) must be rejected
// and must never touch the cache.
func TestActivateRejectsTamperedPayload(t *testing.T) {
	priv, pub := testKeypair(t)
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	v, err := New(store,
		WithPublicKey(pub),
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	envelope := signEnvelope(t, priv, basePayload(fixedFingerprint, now))

	var decoded domainlicense.Envelope
	if err := json.Unmarshal(envelope, &decoded); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	decoded.License.Tier = domainlicense.TierEnterprise // tamper after signing
	tampered, err := json.Marshal(decoded)
	if err != nil {
		t.Fatalf("marshal tampered envelope: %v", err)
	}

	ctx := context.Background()
	err = v.Activate(ctx, tampered)
	if !fluxerrors.HasCode(err, fluxerrors.ErrCodeLicenseSignatureInvalid) {
		t.Fatalf("Activate() error = %v, want LICENSE_SIGNATURE_INVALID", err)
	}

	cached, loadErr := store.Load(ctx)
	if loadErr != nil {
		t.Fatalf("Load() error = %v", loadErr)
	}
	if cached != nil {
		t.Error("cache must remain untouched after a rejected activation")
	}
}

// P8 — a validly signed envelope bound to a different machine's fingerprint
// must be rejected regardless of signature validity.
func TestActivateRejectsFingerprintMismatch(t *testing.T) {
	priv, pub := testKeypair(t)
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	v, err := New(store,
		WithPublicKey(pub),
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	envelope := signEnvelope(t, priv, basePayload("some-other-machine", now))

	ctx := context.Background()
	err = v.Activate(ctx, envelope)
	if !fluxerrors.HasCode(err, fluxerrors.ErrCodeLicenseHardwareMismatch) {
		t.Fatalf("Activate() error = %v, want LICENSE_HARDWARE_MISMATCH", err)
	}
}

func TestActivateRejectsExpiredLicense(t *testing.T) {
	priv, pub := testKeypair(t)
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	past := now.Add(-24 * time.Hour)

	v, err := New(store,
		WithPublicKey(pub),
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	payload := basePayload(fixedFingerprint, now)
	payload.ExpiresAt = &past
	envelope := signEnvelope(t, priv, payload)

	ctx := context.Background()
	err = v.Activate(ctx, envelope)
	if !fluxerrors.HasCode(err, fluxerrors.ErrCodeLicenseExpired) {
		t.Fatalf("Activate() error = %v, want LICENSE_EXPIRED", err)
	}
}

func TestActivateRejectsFormatMismatch(t *testing.T) {
	priv, pub := testKeypair(t)
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	v, err := New(store,
		WithPublicKey(pub),
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	payload := basePayload(fixedFingerprint, now)
	payload.Version = "99"
	envelope := signEnvelope(t, priv, payload)

	ctx := context.Background()
	err = v.Activate(ctx, envelope)
	if !fluxerrors.HasCode(err, fluxerrors.ErrCodeLicenseFormatMismatch) {
		t.Fatalf("Activate() error = %v, want LICENSE_FORMAT_MISMATCH", err)
	}
}

// L1 — CanonicalEncode must be deterministic across repeated calls for the
// same payload value (the property the Ed25519 signature relies on).
func TestCanonicalEncodeDeterministic(t *testing.T) {
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	payload := basePayload(fixedFingerprint, now)

	first, err := CanonicalEncode(payload)
	if err != nil {
		t.Fatalf("CanonicalEncode() error = %v", err)
	}
	second, err := CanonicalEncode(payload)
	if err != nil {
		t.Fatalf("CanonicalEncode() error = %v", err)
	}
	if string(first) != string(second) {
		t.Error("CanonicalEncode must be deterministic for identical payloads")
	}
}

// Trial initialization: Status() on a never-activated store creates and
// returns a Trial row with every feature enabled.
func TestStatusInitializesTrialWhenNoLicenseCached(t *testing.T) {
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	v, err := New(store,
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return now }),
		WithTrialDays(14),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	status, err := v.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Status != domainlicense.StatusTrial {
		t.Errorf("Status = %+v, want Trial", status)
	}
	if status.DaysRemaining == nil || *status.DaysRemaining != 14 {
		t.Errorf("DaysRemaining = %+v, want 14", status.DaysRemaining)
	}

	enabled, err := v.FeatureEnabled(ctx, FeatureRAGChat)
	if err != nil {
		t.Fatalf("FeatureEnabled() error = %v", err)
	}
	if !enabled {
		t.Error("expected all features enabled during trial")
	}
}

func TestStatusReportsTrialExpired(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	clock := start
	v, err := New(store,
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return clock }),
		WithTrialDays(1),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	ctx := context.Background()
	if _, err := v.Status(ctx); err != nil {
		t.Fatalf("Status() error = %v", err)
	}

	clock = start.AddDate(0, 0, 2)
	status, err := v.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Status != domainlicense.StatusTrialExpired {
		t.Errorf("Status = %+v, want TrialExpired", status)
	}
}

func TestStatusReportsHardwareMismatch(t *testing.T) {
	priv, pub := testKeypair(t)
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	activateFingerprint := fixedFingerprint
	currentFingerprint := activateFingerprint

	v, err := New(store,
		WithPublicKey(pub),
		WithFingerprint(func() (string, error) { return currentFingerprint, nil }),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	envelope := signEnvelope(t, priv, basePayload(activateFingerprint, now))
	ctx := context.Background()
	if err := v.Activate(ctx, envelope); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	currentFingerprint = "a-different-machine"
	status, err := v.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Status != domainlicense.StatusHardwareMismatch {
		t.Errorf("Status = %+v, want HardwareMismatch", status)
	}
}

func TestVerticalEnabled(t *testing.T) {
	priv, pub := testKeypair(t)
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	v, err := New(store,
		WithPublicKey(pub),
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	envelope := signEnvelope(t, priv, basePayload(fixedFingerprint, now))
	ctx := context.Background()
	if err := v.Activate(ctx, envelope); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	enabled, err := v.VerticalEnabled(ctx, "salon")
	if err != nil {
		t.Fatalf("VerticalEnabled() error = %v", err)
	}
	if !enabled {
		t.Error("expected salon vertical enabled")
	}

	disabled, err := v.VerticalEnabled(ctx, "barber")
	if err != nil {
		t.Fatalf("VerticalEnabled() error = %v", err)
	}
	if disabled {
		t.Error("expected barber vertical disabled")
	}
}

func TestDeactivateClearsLicenseAndReturnsToTrial(t *testing.T) {
	priv, pub := testKeypair(t)
	store := newTestStore(t)
	now := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

	v, err := New(store,
		WithPublicKey(pub),
		WithFingerprint(fixedFingerprintFunc),
		WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	envelope := signEnvelope(t, priv, basePayload(fixedFingerprint, now))
	ctx := context.Background()
	if err := v.Activate(ctx, envelope); err != nil {
		t.Fatalf("Activate() error = %v", err)
	}

	if err := v.Deactivate(ctx); err != nil {
		t.Fatalf("Deactivate() error = %v", err)
	}

	status, err := v.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Status != domainlicense.StatusTrial {
		t.Errorf("Status after Deactivate = %+v, want Trial", status)
	}
}

func TestTierInfoReturnsFourTiers(t *testing.T) {
	store := newTestStore(t)
	v, err := New(store)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if got := len(v.TierInfo()); got != 4 {
		t.Errorf("TierInfo() returned %d entries, want 4", got)
	}
}
