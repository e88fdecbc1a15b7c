package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"campaignfund/internal/types"
)

// Verification is the result of checking a webhook signature.
type Verification int

const (
	VerifyInvalid Verification = iota
	VerifyValid
	// VerifyBypassed means no secret was configured, so nothing was checked.
	VerifyBypassed
)

func (v Verification) String() string {
	switch v {
	case VerifyValid:
		return "valid"
	case VerifyBypassed:
		return "bypassed"
	default:
		return "invalid"
	}
}

// RazorpayVerifier checks X-Razorpay-Signature, the hex HMAC-SHA256 of the
// raw request body keyed by the webhook secret.
type RazorpayVerifier struct{}

// Verify compares in constant time. An empty secret bypasses the check; an
// empty signature with a secret set is invalid.
func (RazorpayVerifier) Verify(payload []byte, signature string, secret types.SecretString) Verification {
	if !secret.IsSet() {
		return VerifyBypassed
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return VerifyInvalid
	}

	got, err := hex.DecodeString(signature)
	if err != nil {
		return VerifyInvalid
	}
	if hmac.Equal(got, Sign(payload, secret)) {
		return VerifyValid
	}
	return VerifyInvalid
}

// Sign returns the raw HMAC-SHA256 of payload.
func Sign(payload []byte, secret types.SecretString) []byte {
	mac := hmac.New(sha256.New, []byte(secret.Unmask()))
	mac.Write(payload)
	return mac.Sum(nil)
}

// SignHex is Sign hex-encoded, as sent in X-Razorpay-Signature.
func SignHex(payload []byte, secret types.SecretString) string {
	return hex.EncodeToString(Sign(payload, secret))
}

var _ SignatureVerifier = RazorpayVerifier{}
