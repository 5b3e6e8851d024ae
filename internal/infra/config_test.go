package infra

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("PUBLIC_BASE_URL", "")
	t.Setenv("WEBHOOK_TOKEN_SECRET", "")
	t.Setenv("CHARGE_ON_COMPLETION", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StoreDriver != StoreMemory {
		t.Fatalf("StoreDriver = %q, want %q", cfg.StoreDriver, StoreMemory)
	}
	if cfg.PublicBaseURL != "http://localhost:8080" {
		t.Fatalf("PublicBaseURL = %q", cfg.PublicBaseURL)
	}
	if cfg.WebhookTokenSecret != "test-secret" {
		t.Fatalf("WebhookTokenSecret should fall back to JWT_SECRET, got %q", cfg.WebhookTokenSecret)
	}
	if cfg.ProviderTimeout != 30*time.Second {
		t.Fatalf("ProviderTimeout = %s", cfg.ProviderTimeout)
	}
	if len(cfg.ChargeOnCompletion) != 0 {
		t.Fatalf("explicit empty CHARGE_ON_COMPLETION should clear the list, got %#v", cfg.ChargeOnCompletion)
	}
}

func TestLoadConfigChargeOnCompletionDefault(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if len(cfg.ChargeOnCompletion) != 1 || cfg.ChargeOnCompletion[0] != "lipsync" {
		t.Fatalf("ChargeOnCompletion = %#v, want [lipsync]", cfg.ChargeOnCompletion)
	}
}

func TestLoadConfigInheritsPortInPublicBaseURL(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("PORT", "1919")
	t.Setenv("PUBLIC_BASE_URL", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.PublicBaseURL != "http://localhost:1919" {
		t.Fatalf("PublicBaseURL = %q, want http://localhost:1919", cfg.PublicBaseURL)
	}
}

func TestLoadConfigRequiresDatabaseURLForPostgres(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when DATABASE_URL is missing")
	}
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("STORE_DRIVER", "firestore")

	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

func TestLoadConfigRequiresJWTSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when JWT_SECRET is missing")
	}
}

func TestMissingProviderCredentials(t *testing.T) {
	cfg := &Config{TTS: ProviderConfig{APIKey: "k"}}
	missing := cfg.MissingProviderCredentials()
	if len(missing) != 2 || missing[0] != "captioning" || missing[1] != "lipsync" {
		t.Fatalf("MissingProviderCredentials() = %#v", missing)
	}
}

func TestLoadConfigRequiresOIDCAudience(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("OIDC_ISSUER", "https://id.example.com/")
	t.Setenv("OIDC_AUDIENCE", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected error when OIDC_AUDIENCE is missing")
	}

	t.Setenv("OIDC_AUDIENCE", "creatorhub")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.OIDCIssuer != "https://id.example.com" {
		t.Fatalf("OIDCIssuer = %q", cfg.OIDCIssuer)
	}
}
