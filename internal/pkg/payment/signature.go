package payment

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// signBase joins the params as k=v pairs in key order, skipping empty values
// and the signature fields themselves. Both gateway dialects sign over this
// canonical form.
func signBase(params map[string]string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "sign" || k == "sign_type" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	return strings.Join(pairs, "&")
}

// MD5Sign computes the legacy gateway signature: the canonical param string
// with the secret appended, hashed with MD5, lowercase hex.
func MD5Sign(params map[string]string, secret string) string {
	sum := md5.Sum([]byte(signBase(params) + secret))
	return hex.EncodeToString(sum[:])
}

// VerifyMD5Sign checks a gateway-provided MD5 signature in constant time.
func VerifyMD5Sign(params map[string]string, secret, signature string) bool {
	sig := strings.ToLower(strings.TrimSpace(signature))
	if sig == "" || secret == "" {
		return false
	}
	expected := MD5Sign(params, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// HMACSHA256Sign computes an HMAC-SHA256 signature over the canonical param
// string, keyed with the channel secret, uppercase hex.
func HMACSHA256Sign(params map[string]string, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(signBase(params)))
	return strings.ToUpper(hex.EncodeToString(mac.Sum(nil)))
}

// VerifyHMACSHA256Sign checks a gateway-provided HMAC-SHA256 signature in
// constant time.
func VerifyHMACSHA256Sign(params map[string]string, secret, signature string) bool {
	sig := strings.ToUpper(strings.TrimSpace(signature))
	if sig == "" || secret == "" {
		return false
	}
	expected := HMACSHA256Sign(params, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}
