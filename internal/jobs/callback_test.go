package jobs

import (
	"errors"
	"strings"
	"testing"
	"time"

	"creatorhub/internal/domain"
)

func TestCallbackTokenRoundTrip(t *testing.T) {
	tokens := NewCallbackTokens(testSecret, time.Hour)
	token, err := tokens.Issue("u1", domain.ProviderLipSync)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	owner, err := tokens.Verify(token, domain.ProviderLipSync)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if owner != "u1" {
		t.Fatalf("owner = %s", owner)
	}
}

func TestCallbackTokenRejections(t *testing.T) {
	tokens := NewCallbackTokens(testSecret, time.Hour)
	token, err := tokens.Issue("u1", domain.ProviderLipSync)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	if _, err := tokens.Verify(token, domain.ProviderTTS); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("provider mismatch: %v", err)
	}
	if _, err := tokens.Verify("", domain.ProviderLipSync); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("empty token: %v", err)
	}
	other := NewCallbackTokens("another-secret", time.Hour)
	if _, err := other.Verify(token, domain.ProviderLipSync); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("wrong secret: %v", err)
	}

	expired := NewCallbackTokens(testSecret, time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	stale, err := expired.Issue("u1", domain.ProviderLipSync)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := tokens.Verify(stale, domain.ProviderLipSync); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("expired token: %v", err)
	}
}

func TestCallbackURL(t *testing.T) {
	got := CallbackURL("https://api.example.test/", domain.ProviderTTS, "a.b+c")
	if got != "https://api.example.test/v1/webhooks/tts?token=a.b%2Bc" {
		t.Fatalf("CallbackURL = %s", got)
	}
}

func TestBodySignature(t *testing.T) {
	body := []byte(`{"jobId":"j1","status":"completed"}`)
	header := SignBody("whsec", body)
	if !strings.HasPrefix(header, "sha256=") {
		t.Fatalf("header = %s", header)
	}
	if err := VerifyBodySignature("whsec", body, header); err != nil {
		t.Fatalf("VerifyBodySignature: %v", err)
	}
	if err := VerifyBodySignature("whsec", append(body, ' '), header); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("tampered body: %v", err)
	}
	if err := VerifyBodySignature("whsec", body, "md5=abc"); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("bad prefix: %v", err)
	}
	if err := VerifyBodySignature("whsec", body, "sha256=zz"); !errors.Is(err, domain.ErrAuth) {
		t.Fatalf("bad hex: %v", err)
	}
}
