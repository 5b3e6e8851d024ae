// Package credentials stores provider API keys in the integration_tokens table.
// Keys found in the environment always take precedence.
package credentials

import (
	"context"
	"errors"
	"strings"

	"creatorhub/internal/infra"
	"creatorhub/internal/sqlinline"
)

// Credential is the stored API key and optional webhook signing secret of a provider.
type Credential struct {
	APIKey        string
	WebhookSecret string
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Lookup returns the stored credential of provider. A missing row yields an empty Credential.
func (s *Store) Lookup(ctx context.Context, provider string) (Credential, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectProviderCredential, strings.ToLower(strings.TrimSpace(provider)))
	var cred Credential
	if err := row.Scan(&cred.APIKey, &cred.WebhookSecret); err != nil {
		if infra.IsNoRows(err) {
			return Credential{}, nil
		}
		return Credential{}, err
	}
	cred.APIKey = strings.TrimSpace(cred.APIKey)
	cred.WebhookSecret = strings.TrimSpace(cred.WebhookSecret)
	return cred, nil
}

func (s *Store) Save(ctx context.Context, provider string, cred Credential) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return errors.New("provider is required")
	}
	key := strings.TrimSpace(cred.APIKey)
	if key == "" {
		return errors.New(provider + " api key is required")
	}
	_, err := s.sql.Exec(ctx, sqlinline.QUpsertProviderCredential, provider, key, strings.TrimSpace(cred.WebhookSecret))
	return err
}

// Fill completes cfg with stored credentials for every provider whose API key
// is not set in the environment.
func (s *Store) Fill(ctx context.Context, cfg *infra.Config) error {
	targets := map[string]*infra.ProviderConfig{
		"captioning": &cfg.Captioning,
		"lipsync":    &cfg.LipSync,
		"tts":        &cfg.TTS,
	}
	for _, name := range cfg.MissingProviderCredentials() {
		cred, err := s.Lookup(ctx, name)
		if err != nil {
			return err
		}
		target := targets[name]
		target.APIKey = cred.APIKey
		if target.WebhookSecret == "" {
			target.WebhookSecret = cred.WebhookSecret
		}
	}
	return nil
}
