package authcore

import (
	"strings"
	"testing"
	"time"
)

func rfcTOTPManager(digits, skew int) *totpManager {
	return newTOTPManager(TwoFactorConfig{
		Issuer: "authcore-test",
		Digits: digits,
		Period: 30,
		Skew:   skew,
	})
}

// RFC 6238 Appendix B test vectors, SHA-1 rows.
func TestVerifyCodeRFCVectors(t *testing.T) {
	secret := []byte("12345678901234567890")
	vectors := []struct {
		unix int64
		code string
	}{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	}

	m := rfcTOTPManager(8, 0)
	for _, v := range vectors {
		now := time.Unix(v.unix, 0)
		valid, counter, err := m.VerifyCode(secret, v.code, now)
		if err != nil {
			t.Fatalf("t=%d: %v", v.unix, err)
		}
		if !valid {
			t.Errorf("t=%d: code %s rejected", v.unix, v.code)
		}
		if want := v.unix / 30; counter != want {
			t.Errorf("t=%d: counter = %d, want %d", v.unix, counter, want)
		}
	}
}

func TestVerifyCodeSkewWindow(t *testing.T) {
	secret := []byte("12345678901234567890")
	m := rfcTOTPManager(8, 1)

	// Codes for t=59 live in counter 1. One step later they are still inside
	// the skew window; two steps later they are not.
	oneStepLate := time.Unix(59+30, 0)
	valid, _, err := m.VerifyCode(secret, "94287082", oneStepLate)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !valid {
		t.Error("code one step old rejected despite skew of 1")
	}

	twoStepsLate := time.Unix(59+60, 0)
	valid, _, err = m.VerifyCode(secret, "94287082", twoStepsLate)
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if valid {
		t.Error("code two steps old accepted beyond the skew window")
	}
}

func TestVerifyCodeRejectsMalformed(t *testing.T) {
	secret := []byte("12345678901234567890")
	m := rfcTOTPManager(6, 1)

	for _, code := range []string{"", "12345", "1234567", "12345a", "abcdef"} {
		valid, _, err := m.VerifyCode(secret, code, time.Unix(59, 0))
		if err != nil {
			t.Fatalf("code %q: %v", code, err)
		}
		if valid {
			t.Errorf("malformed code %q accepted", code)
		}
	}
}

func TestVerifyCodeTrimsWhitespace(t *testing.T) {
	secret := []byte("12345678901234567890")
	m := rfcTOTPManager(8, 0)

	valid, _, err := m.VerifyCode(secret, "  94287082  ", time.Unix(59, 0))
	if err != nil {
		t.Fatalf("verify failed: %v", err)
	}
	if !valid {
		t.Error("padded code rejected")
	}
}

func TestVerifyCodeEmptySecret(t *testing.T) {
	m := rfcTOTPManager(6, 1)

	if _, _, err := m.VerifyCode(nil, "123456", time.Now()); err == nil {
		t.Error("empty secret accepted")
	}
}

func TestGenerateSecret(t *testing.T) {
	m := rfcTOTPManager(6, 1)

	raw, encoded, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(raw) != totpSecretBytes {
		t.Errorf("secret length = %d, want %d", len(raw), totpSecretBytes)
	}
	if encoded == "" || strings.Contains(encoded, "=") {
		t.Errorf("encoded secret %q should be unpadded base32", encoded)
	}

	_, second, err := m.GenerateSecret()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if encoded == second {
		t.Error("secrets must not repeat")
	}
}

func TestProvisionURI(t *testing.T) {
	m := rfcTOTPManager(6, 1)

	uri := m.ProvisionURI("JBSWY3DPEHPK3PXP", "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/") {
		t.Errorf("uri = %q", uri)
	}
	for _, want := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=authcore-test", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, want) {
			t.Errorf("uri missing %q: %s", want, uri)
		}
	}
}
