package billing

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/entitlements"
	"github.com/ManuelReschke/pixelfox-billing/internal/pkg/env"
)

type VerificationMode string

const (
	// VerificationStrict checks the envelope signature against the configured public key.
	VerificationStrict VerificationMode = "strict"
	// VerificationStructural only checks token shape and bundle id. Never allowed in prod.
	VerificationStructural VerificationMode = "structural"
)

const (
	DefaultGracePeriod     = 30 * 24 * time.Hour
	DefaultDeletionHorizon = 90 * 24 * time.Hour
	DefaultCASAttempts     = 3
)

// defaultProductTiers is used when PRODUCT_TIERS is not set.
const defaultProductTiers = "com.pixelfox.lite.monthly=lite,com.pixelfox.standard.monthly=standard,com.pixelfox.pro.monthly=pro,com.pixelfox.storage.addon=addon"

// Config holds the billing reconciliation configuration
type Config struct {
	BundleID         string
	VerificationMode VerificationMode
	PublicKeyPEM     string
	ProductTiers     map[string]string
	GracePeriod      time.Duration
	DeletionHorizon  time.Duration
	CASAttempts      int
	Production       bool
}

// LoadConfig loads billing configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		BundleID:         strings.TrimSpace(env.GetEnv("APPSTORE_BUNDLE_ID", "")),
		VerificationMode: VerificationMode(strings.ToLower(strings.TrimSpace(env.GetEnv("WEBHOOK_VERIFICATION_MODE", string(VerificationStrict))))),
		GracePeriod:      env.GetDuration("BILLING_GRACE_PERIOD", DefaultGracePeriod),
		DeletionHorizon:  env.GetDuration("BILLING_DELETION_HORIZON", DefaultDeletionHorizon),
		CASAttempts:      env.GetInt("BILLING_CAS_ATTEMPTS", DefaultCASAttempts),
		Production:       env.IsProd(),
	}

	pem, err := loadPublicKeyPEM()
	if err != nil {
		return nil, err
	}
	config.PublicKeyPEM = pem

	tiers, err := ParseProductTiers(env.GetEnv("PRODUCT_TIERS", defaultProductTiers))
	if err != nil {
		return nil, err
	}
	config.ProductTiers = tiers

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the configuration for settings that must never reach a running service.
func (c *Config) Validate() error {
	if c.BundleID == "" {
		return errors.New("APPSTORE_BUNDLE_ID is required")
	}
	switch c.VerificationMode {
	case VerificationStrict:
	case VerificationStructural:
		if c.Production {
			return errors.New("WEBHOOK_VERIFICATION_MODE=structural is not allowed when APP_ENV=prod")
		}
	default:
		return fmt.Errorf("unknown WEBHOOK_VERIFICATION_MODE %q", c.VerificationMode)
	}
	if len(c.ProductTiers) == 0 {
		return errors.New("PRODUCT_TIERS must map at least one product id")
	}
	if c.GracePeriod <= 0 || c.DeletionHorizon <= 0 {
		return errors.New("grace period and deletion horizon must be positive")
	}
	if c.CASAttempts < 1 {
		c.CASAttempts = DefaultCASAttempts
	}
	return nil
}

// ParseProductTiers parses "productId=tier" pairs separated by commas.
func ParseProductTiers(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		productID, tier, ok := strings.Cut(pair, "=")
		productID = strings.TrimSpace(productID)
		if !ok || productID == "" {
			return nil, fmt.Errorf("invalid PRODUCT_TIERS entry %q", pair)
		}
		plan, known := entitlements.ParsePlan(tier)
		if !known || plan == entitlements.PlanFree {
			return nil, fmt.Errorf("PRODUCT_TIERS entry %q maps to unsupported tier %q", productID, tier)
		}
		out[productID] = string(plan)
	}
	return out, nil
}

func loadPublicKeyPEM() (string, error) {
	if inline := strings.TrimSpace(env.GetEnv("APPSTORE_PUBLIC_KEY", "")); inline != "" {
		// Single-line env values carry escaped newlines.
		return strings.ReplaceAll(inline, `\n`, "\n"), nil
	}
	path := strings.TrimSpace(env.GetEnv("APPSTORE_PUBLIC_KEY_PATH", ""))
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read APPSTORE_PUBLIC_KEY_PATH: %w", err)
	}
	return string(data), nil
}
