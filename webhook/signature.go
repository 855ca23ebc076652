package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the HMAC of the raw, unparsed body.
// The header is either a bare hex digest or a comma separated list whose
// last element carries the digest, e.g. "t=1700000000,v0=<hex>".
func VerifySignature(body []byte, header, secret string) bool {
	if secret == "" || strings.TrimSpace(header) == "" {
		return false
	}

	parts := strings.Split(header, ",")
	sig := strings.TrimSpace(parts[len(parts)-1])
	if i := strings.IndexByte(sig, '='); i >= 0 {
		sig = sig[i+1:]
	}

	got, err := hex.DecodeString(strings.ToLower(sig))
	if err != nil || len(got) != sha256.Size {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
