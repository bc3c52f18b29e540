// Package license defines the Signed License payload and envelope shape
// (§3.5): the data the License Verifier parses, signs over, and gates
// feature access against. The package is deliberately dumb — it holds no
// verification logic (that lives in services/license) so that the wire
// shape can be unit-tested independently of Ed25519 and the fingerprint.
package license

import "time"

// Tier is one of the four commercial tiers a Signed License can carry.
type Tier string

const (
	TierTrial      Tier = "trial"
	TierBase       Tier = "base"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// ValidTier reports whether s names one of the four recognized tiers.
func ValidTier(s string) bool {
	switch Tier(s) {
	case TierTrial, TierBase, TierPro, TierEnterprise:
		return true
	default:
		return false
	}
}

// Features is the feature-flags record bound to a license (§3.5).
type Features struct {
	VoiceAgent      bool `json:"voice_agent"`
	WhatsAppAI      bool `json:"whatsapp_ai"`
	RAGChat         bool `json:"rag_chat"`
	EInvoicing      bool `json:"einvoicing"`
	LoyaltyAdvanced bool `json:"loyalty_advanced"`
	APIAccess       bool `json:"api_access"`
	MaxVerticals    int  `json:"max_verticals"`
}

// TrialFeatures grants every evaluation feature (§4.8 Trial initialization:
// "the trial grants the Trial feature flags (all features enabled for
// evaluation)").
func TrialFeatures() Features {
	return Features{
		VoiceAgent:      true,
		WhatsAppAI:      true,
		RAGChat:         true,
		EInvoicing:      true,
		LoyaltyAdvanced: true,
		APIAccess:       true,
		MaxVerticals:    0,
	}
}

// Payload is the signed envelope's payload (§3.5, §6.1). Field order is
// frozen: it is the canonicalization the signature is computed over (L1,
// §6.1 canonical-encoding note).
type Payload struct {
	Version             string     `json:"version"`
	LicenseID           string     `json:"license_id"`
	Tier                Tier       `json:"tier"`
	IssuedAt            time.Time  `json:"issued_at"`
	ExpiresAt           *time.Time `json:"expires_at"`
	HardwareFingerprint string     `json:"hardware_fingerprint"`
	LicenseeName        *string    `json:"licensee_name"`
	LicenseeEmail       *string    `json:"licensee_email"`
	EnabledVerticals    []string   `json:"enabled_verticals"`
	MaxOperators        int        `json:"max_operators"`
	Features            Features   `json:"features"`
}

// FormatVersion is the only format version this build of the verifier
// accepts (§4.8 "reject on format version mismatch").
const FormatVersion = "1"

// Envelope is the top-level signed JSON object (§6.1).
type Envelope struct {
	License   Payload `json:"license"`
	Signature string  `json:"signature"`
}

// Status is the License Verifier's classification of the cached license
// (§4.8 status()).
type Status string

const (
	StatusValid            Status = "Valid"
	StatusTrial             Status = "Trial"
	StatusTrialExpired      Status = "TrialExpired"
	StatusExpired           Status = "Expired"
	StatusHardwareMismatch  Status = "HardwareMismatch"
	StatusNoLicense         Status = "NoLicense"
)

// VerticalEnabled reports whether tag is enabled under p's tier and
// enabled-verticals list. Enterprise is unconditionally true (§4.8
// vertical_enabled).
func (p Payload) VerticalEnabled(tag string) bool {
	if p.Tier == TierEnterprise {
		return true
	}
	for _, v := range p.EnabledVerticals {
		if v == tag {
			return true
		}
	}
	return false
}

// TierInfo is the static, read-only UI metadata table the CLI/shell uses
// to render a pricing table (§4.8 Expansion, grounded on
// original_source/commands/license_ed25519.rs get_tier_info_ed25519). It
// has no bearing on feature gating.
type TierInfo struct {
	Tier        Tier
	DisplayName string
	PriceAnchor string
	Summary     string
}

// TierCatalog is the fixed tier→metadata table.
func TierCatalog() []TierInfo {
	return []TierInfo{
		{Tier: TierTrial, DisplayName: "Trial", PriceAnchor: "free for 30 days", Summary: "All features enabled for evaluation"},
		{Tier: TierBase, DisplayName: "Base", PriceAnchor: "entry tier", Summary: "Core appointment management, no AI add-ons"},
		{Tier: TierPro, DisplayName: "Pro", PriceAnchor: "mid tier", Summary: "Adds voice agent, WhatsApp AI, e-invoicing"},
		{Tier: TierEnterprise, DisplayName: "Enterprise", PriceAnchor: "custom", Summary: "All verticals, all features, unbounded operators"},
	}
}
