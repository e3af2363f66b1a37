package twiliosms

import (
	"net/url"
	"testing"
)

const testAuthToken = "12345abcdef"

func testForm() url.Values {
	form := url.Values{}
	form.Set("From", "+15555550123")
	form.Set("To", "+15555550100")
	form.Set("Body", "STOP")
	form.Set("MessagingServiceSid", "MG123")
	return form
}

func TestValidateSignatureRoundTrip(t *testing.T) {
	reqURL := "https://example.com/webhooks/twilio/inbound"
	form := testForm()
	sig := ComputeSignature(reqURL, form, testAuthToken)
	if !ValidateSignature(reqURL, form, testAuthToken, sig) {
		t.Error("valid signature rejected")
	}
}

func TestValidateSignatureTamperedBody(t *testing.T) {
	reqURL := "https://example.com/webhooks/twilio/inbound"
	form := testForm()
	sig := ComputeSignature(reqURL, form, testAuthToken)

	form.Set("Body", "START")
	if ValidateSignature(reqURL, form, testAuthToken, sig) {
		t.Error("tampered body accepted")
	}
}

func TestValidateSignatureTamperedHeader(t *testing.T) {
	reqURL := "https://example.com/webhooks/twilio/inbound"
	form := testForm()
	sig := ComputeSignature(reqURL, form, testAuthToken)

	tampered := []byte(sig)
	tampered[0] ^= 0x01
	if ValidateSignature(reqURL, form, testAuthToken, string(tampered)) {
		t.Error("tampered header accepted")
	}
}

// Flipping a byte at any position must fail identically; the comparison is a
// full-length constant-time check, not a prefix scan.
func TestValidateSignatureMismatchPositionInsensitive(t *testing.T) {
	reqURL := "https://example.com/webhooks/twilio/inbound"
	form := testForm()
	sig := ComputeSignature(reqURL, form, testAuthToken)

	for i := 0; i < len(sig); i++ {
		tampered := []byte(sig)
		tampered[i] ^= 0x01
		if ValidateSignature(reqURL, form, testAuthToken, string(tampered)) {
			t.Errorf("signature with byte %d flipped accepted", i)
		}
	}
}

func TestValidateSignatureWrongURL(t *testing.T) {
	form := testForm()
	sig := ComputeSignature("https://example.com/webhooks/twilio/inbound", form, testAuthToken)
	if ValidateSignature("https://example.com/webhooks/twilio/status", form, testAuthToken, sig) {
		t.Error("signature for a different URL accepted")
	}
}

func TestValidateSignaturePermissiveWithoutSecret(t *testing.T) {
	// No configured auth token means verification trivially passes.
	if !ValidateSignature("https://example.com/x", testForm(), "", "garbage") {
		t.Error("permissive mode should accept any signature when no secret is configured")
	}
}

func TestValidateSignatureSortsFormKeys(t *testing.T) {
	reqURL := "https://example.com/webhooks/twilio/inbound"
	// Same fields, different insertion order: signature must be identical.
	a := url.Values{}
	a.Set("Body", "hi")
	a.Set("From", "+1")
	b := url.Values{}
	b.Set("From", "+1")
	b.Set("Body", "hi")
	if ComputeSignature(reqURL, a, testAuthToken) != ComputeSignature(reqURL, b, testAuthToken) {
		t.Error("signature depends on form insertion order")
	}
}
