package billing

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failure reasons.
const (
	ReasonMalformedToken       = "MALFORMED_TOKEN"
	ReasonBundleMismatch       = "BUNDLE_MISMATCH"
	ReasonKeyNotConfigured     = "VERIFICATION_KEY_NOT_CONFIGURED"
	ReasonSignatureInvalid     = "SIGNATURE_INVALID"
	ReasonUnsupportedAlgorithm = "UNSUPPORTED_ALGORITHM"
)

var allowedAlgorithms = []string{jwt.SigningMethodES256.Alg(), jwt.SigningMethodRS256.Alg()}

// VerifyResult is the outcome of checking a signed envelope.
type VerifyResult struct {
	Valid  bool
	Reason string
}

// Verifier checks provider JWS envelopes and decodes their claims.
type Verifier struct {
	mode     VerificationMode
	bundleID string
	key      crypto.PublicKey
	parser   *jwt.Parser
}

// NewVerifier builds a verifier from cfg. A missing public key is not an error:
// strict verification then fails closed on every envelope.
func NewVerifier(cfg *Config) (*Verifier, error) {
	v := &Verifier{
		mode:     cfg.VerificationMode,
		bundleID: strings.TrimSpace(cfg.BundleID),
		parser: jwt.NewParser(
			jwt.WithValidMethods(allowedAlgorithms),
			jwt.WithJSONNumber(),
		),
	}
	if v.mode == "" {
		v.mode = VerificationStrict
	}
	if strings.TrimSpace(cfg.PublicKeyPEM) != "" {
		key, err := parsePublicKey([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, err
		}
		v.key = key
	}
	return v, nil
}

func (v *Verifier) Mode() VerificationMode {
	return v.mode
}

// Verify checks the outer envelope. It has no side effects.
func (v *Verifier) Verify(raw string) VerifyResult {
	raw = strings.TrimSpace(raw)
	if strings.Count(raw, ".") != 2 {
		return VerifyResult{Reason: ReasonMalformedToken}
	}
	token, claims, err := v.parseUnverified(raw)
	if err != nil {
		return VerifyResult{Reason: ReasonMalformedToken}
	}
	if !v.bundleMatches(claims) {
		return VerifyResult{Reason: ReasonBundleMismatch}
	}
	if v.mode == VerificationStructural {
		return VerifyResult{Valid: true}
	}
	if v.key == nil {
		return VerifyResult{Reason: ReasonKeyNotConfigured}
	}
	if !isAllowedAlgorithm(token) {
		return VerifyResult{Reason: ReasonUnsupportedAlgorithm}
	}
	if _, err := v.parser.Parse(raw, v.keyFunc); err != nil {
		return VerifyResult{Reason: ReasonSignatureInvalid}
	}
	return VerifyResult{Valid: true}
}

// DecodeClaims unmarshals the payload of a signed token into dst. In strict
// mode the signature is checked first.
func (v *Verifier) DecodeClaims(raw string, dst interface{}) error {
	raw = strings.TrimSpace(raw)
	var claims jwt.MapClaims
	if v.mode == VerificationStrict {
		if v.key == nil {
			return errors.New(ReasonKeyNotConfigured)
		}
		token, err := v.parser.Parse(raw, v.keyFunc)
		if err != nil {
			return fmt.Errorf("%s: %w", ReasonSignatureInvalid, err)
		}
		claims, _ = token.Claims.(jwt.MapClaims)
	} else {
		_, c, err := v.parseUnverified(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", ReasonMalformedToken, err)
		}
		claims = c
	}

	data, err := json.Marshal(claims)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

func (v *Verifier) parseUnverified(raw string) (*jwt.Token, jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	token, _, err := v.parser.ParseUnverified(raw, claims)
	// An unknown alg still yields decoded claims; the algorithm is judged separately.
	if err != nil && !errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, nil, err
	}
	if token == nil {
		return nil, nil, jwt.ErrTokenMalformed
	}
	return token, claims, nil
}

func (v *Verifier) bundleMatches(claims jwt.MapClaims) bool {
	data, ok := claims["data"].(map[string]interface{})
	if !ok {
		return false
	}
	bundleID, _ := data["bundleId"].(string)
	return bundleID != "" && bundleID == v.bundleID
}

func (v *Verifier) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodECDSA:
		if k, ok := v.key.(*ecdsa.PublicKey); ok {
			return k, nil
		}
	case *jwt.SigningMethodRSA:
		if k, ok := v.key.(*rsa.PublicKey); ok {
			return k, nil
		}
	}
	return nil, fmt.Errorf("key does not match algorithm %v", token.Header["alg"])
}

func isAllowedAlgorithm(token *jwt.Token) bool {
	alg, _ := token.Header["alg"].(string)
	for _, a := range allowedAlgorithms {
		if alg == a {
			return true
		}
	}
	return false
}

func parsePublicKey(pemBytes []byte) (crypto.PublicKey, error) {
	if k, err := jwt.ParseECPublicKeyFromPEM(pemBytes); err == nil {
		return k, nil
	}
	k, err := jwt.ParseRSAPublicKeyFromPEM(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse verification public key: %w", err)
	}
	return k, nil
}
