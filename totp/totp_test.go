package totp

import (
	"strings"
	"testing"
	"time"
)

func rfcEngine(t *testing.T, algorithm string) *Engine {
	t.Helper()
	e, err := New(Config{Issuer: "authcore", Digits: 8, Period: 30, Algorithm: algorithm, Skew: 0})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return e
}

type rfcVector struct {
	ts   int64
	code string
}

func checkVectors(t *testing.T, e *Engine, secret []byte, cases []rfcVector) {
	t.Helper()
	for _, tc := range cases {
		ok, _, err := e.Verify(secret, tc.code, time.Unix(tc.ts, 0))
		if err != nil || !ok {
			t.Fatalf("vector failed at t=%d, ok=%v err=%v", tc.ts, ok, err)
		}
		got, err := e.Code(secret, time.Unix(tc.ts, 0))
		if err != nil || got != tc.code {
			t.Fatalf("Code at t=%d = %q, %v; want %q", tc.ts, got, err, tc.code)
		}
	}
}

func TestVerifyRFCVectorsSHA1(t *testing.T) {
	checkVectors(t, rfcEngine(t, "SHA1"), []byte("12345678901234567890"), []rfcVector{
		{59, "94287082"},
		{1111111109, "07081804"},
		{1111111111, "14050471"},
		{1234567890, "89005924"},
		{2000000000, "69279037"},
		{20000000000, "65353130"},
	})
}

func TestVerifyRFCVectorsSHA256(t *testing.T) {
	checkVectors(t, rfcEngine(t, "SHA256"), []byte("12345678901234567890123456789012"), []rfcVector{
		{59, "46119246"},
		{1111111109, "68084774"},
		{1111111111, "67062674"},
		{1234567890, "91819424"},
		{2000000000, "90698825"},
		{20000000000, "77737706"},
	})
}

func TestVerifyRFCVectorsSHA512(t *testing.T) {
	checkVectors(t, rfcEngine(t, "SHA512"), []byte("1234567890123456789012345678901234567890123456789012345678901234"), []rfcVector{
		{59, "90693936"},
		{1111111109, "25091201"},
		{1111111111, "99943326"},
		{1234567890, "93441116"},
		{2000000000, "38618901"},
		{20000000000, "47863826"},
	})
}

func TestDriftWindow(t *testing.T) {
	e, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	secret := []byte("12345678901234567890")
	at := time.Unix(1234567890, 0)
	code, err := e.Code(secret, at)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}

	if ok, _, _ := e.Verify(secret, code, at.Add(29*time.Second)); !ok {
		t.Fatal("expected code accepted 29s later")
	}
	if ok, _, _ := e.Verify(secret, code, at.Add(-29*time.Second)); !ok {
		t.Fatal("expected code accepted 29s earlier")
	}
	if ok, _, _ := e.Verify(secret, code, at.Add(91*time.Second)); ok {
		t.Fatal("expected code rejected 91s later")
	}
	if ok, _, _ := e.Verify(secret, code, at.Add(-91*time.Second)); ok {
		t.Fatal("expected code rejected 91s earlier")
	}
}

func TestVerifyReturnsMatchedCounter(t *testing.T) {
	e, _ := New(DefaultConfig())
	secret := []byte("12345678901234567890")
	now := time.Unix(1234567890, 0)
	prev := now.Add(-30 * time.Second)

	code, err := e.Code(secret, prev)
	if err != nil {
		t.Fatalf("Code: %v", err)
	}
	ok, counter, err := e.Verify(secret, code, now)
	if err != nil || !ok {
		t.Fatalf("expected adjacent step accepted, ok=%v err=%v", ok, err)
	}
	if counter != e.Counter(prev) {
		t.Fatalf("counter = %d, want %d", counter, e.Counter(prev))
	}
}

func TestWrongDigitsRejected(t *testing.T) {
	e, _ := New(DefaultConfig())
	secret := []byte("12345678901234567890")
	for _, code := range []string{"12345678", "12345", "12a456", ""} {
		ok, _, err := e.Verify(secret, code, time.Now())
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", code, err)
		}
		if ok {
			t.Fatalf("expected %q rejected", code)
		}
	}
}

func TestGenerateSecretRoundTrip(t *testing.T) {
	e, _ := New(DefaultConfig())
	s, err := e.GenerateSecret()
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if len(s.Raw) != defaultSecretBytes {
		t.Fatalf("secret length = %d", len(s.Raw))
	}
	raw, err := DecodeSecret(strings.ToLower(s.Base32))
	if err != nil {
		t.Fatalf("DecodeSecret: %v", err)
	}
	if string(raw) != string(s.Raw) {
		t.Fatal("decoded secret mismatch")
	}
	if _, err := DecodeSecret("!!!"); err == nil {
		t.Fatal("expected invalid base32 to fail")
	}
}

func TestProvisionURI(t *testing.T) {
	e, _ := New(DefaultConfig())
	uri := e.ProvisionURI("JBSWY3DPEHPK3PXP", "alice@example.com")
	if !strings.HasPrefix(uri, "otpauth://totp/authcore:alice@example.com?") {
		t.Fatalf("unexpected uri %q", uri)
	}
	for _, part := range []string{"secret=JBSWY3DPEHPK3PXP", "issuer=authcore", "digits=6", "period=30", "algorithm=SHA1"} {
		if !strings.Contains(uri, part) {
			t.Fatalf("uri %q missing %q", uri, part)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	bad := []Config{
		{Digits: 5, Period: 30},
		{Digits: 6, Period: 0},
		{Digits: 6, Period: 30, Skew: 9},
		{Digits: 6, Period: 30, Algorithm: "MD5"},
		{Digits: 6, Period: 30, SecretBytes: 8},
	}
	for i, cfg := range bad {
		if _, err := New(cfg); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

func TestVerifyWindowClampsAtEpoch(t *testing.T) {
	e, err := New(Config{Digits: 6, Period: 30, Skew: 1, Algorithm: "sha256"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	secret := []byte("12345678901234567890123456789012")
	epoch := time.Unix(0, 0)

	next, _ := e.Code(secret, epoch.Add(30*time.Second))
	ok, counter, err := e.Verify(secret, " "+next+" ", epoch)
	if err != nil || !ok || counter != 1 {
		t.Fatalf("next step at epoch: ok=%v counter=%d err=%v", ok, counter, err)
	}

	far, _ := e.Code(secret, epoch.Add(60*time.Second))
	if ok, _, _ := e.Verify(secret, far, epoch); ok {
		t.Fatal("expected code two steps ahead rejected")
	}
}
