package webhook

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// SignatureHeader carries the gateway's HMAC over the request.
const SignatureHeader = "X-Provider-Signature"

// VerifySignature checks a webhook signature: the canonical string is the
// exact request URL followed by every form key/value in lexicographic key
// order with no separators, HMAC-SHA1 signed with the account secret and
// base64 encoded. Mismatch is a normal unauthorized outcome, never an error.
func VerifySignature(secret, requestURL string, params url.Values, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	expected := ComputeSignature(secret, requestURL, params)
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ComputeSignature builds the canonical payload and signs it. Exposed so
// tests and outbound callback registration can produce valid signatures.
func ComputeSignature(secret, requestURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var payload strings.Builder
	payload.WriteString(requestURL)
	for _, key := range keys {
		for _, value := range params[key] {
			payload.WriteString(key)
			payload.WriteString(value)
		}
	}

	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(payload.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
