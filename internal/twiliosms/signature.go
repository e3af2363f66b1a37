package twiliosms

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/url"
	"sort"
)

// ValidateSignature checks the X-Twilio-Signature header against the expected
// HMAC-SHA1 of the request URL concatenated with the form parameters sorted
// lexicographically by key.
// Reference: https://www.twilio.com/docs/usage/security#validating-requests
//
// If authToken is empty, verification trivially passes. This permissive mode is
// intended for local development and tests only.
func ValidateSignature(requestURL string, form url.Values, authToken, signature string) bool {
	if authToken == "" {
		return true
	}
	expected := ComputeSignature(requestURL, form, authToken)
	// hmac.Equal is constant-time and never short-circuits on first mismatch.
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ComputeSignature returns the signature Twilio would send for the given URL
// and form. Exposed for tests and for signing synthetic local requests.
func ComputeSignature(requestURL string, form url.Values, authToken string) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	validation := requestURL
	for _, k := range keys {
		// Twilio signs the first value of each form field.
		validation += k + form.Get(k)
	}

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(validation))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
