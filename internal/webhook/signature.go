package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// SignSHA512 returns the lowercase hex HMAC-SHA512 of body.
func SignSHA512(body []byte, secret string) string {
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySHA512 checks a hex HMAC-SHA512 signature in constant time.
func VerifySHA512(body []byte, secret, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	got, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// PayloadHash is the fallback event id for providers that send none.
func PayloadHash(body []byte) string {
	sum := sha256.Sum256(body)
	return "hash:" + hex.EncodeToString(sum[:])
}
