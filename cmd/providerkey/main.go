package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
	"creatorhub/internal/infra/credentials"
)

func main() {
	var (
		keyFlag      string
		secretFlag   string
		providerFlag string
	)
	flag.StringVar(&providerFlag, "provider", "", "provider to configure (captioning, lipsync or tts)")
	flag.StringVar(&keyFlag, "key", "", "API key for the provider (falls back to <PROVIDER>_API_KEY)")
	flag.StringVar(&secretFlag, "webhook-secret", "", "optional webhook signing secret (falls back to <PROVIDER>_WEBHOOK_SECRET)")
	flag.Parse()

	provider, ok := domain.ParseProvider(providerFlag)
	if !ok {
		fmt.Fprintf(os.Stderr, "unsupported provider %q\n", providerFlag)
		os.Exit(1)
	}
	envPrefix := strings.ToUpper(string(provider))

	key := strings.TrimSpace(keyFlag)
	if key == "" {
		key = strings.TrimSpace(os.Getenv(envPrefix + "_API_KEY"))
	}
	if key == "" {
		fmt.Fprintf(os.Stderr, "%s API key is required via -key or %s_API_KEY\n", envPrefix, envPrefix)
		os.Exit(1)
	}
	secret := strings.TrimSpace(secretFlag)
	if secret == "" {
		secret = strings.TrimSpace(os.Getenv(envPrefix + "_WEBHOOK_SECRET"))
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		fmt.Fprintln(os.Stderr, "DATABASE_URL is required")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create pool: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	logger := infra.NewLogger("cli").With().Str("cmd", "providerkey").Str("provider", string(provider)).Logger()
	store := credentials.NewStore(infra.NewSQLRunner(pool, logger))

	if err := store.Save(ctx, string(provider), credentials.Credential{APIKey: key, WebhookSecret: secret}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to persist %s credentials: %v\n", provider, err)
		os.Exit(1)
	}

	fmt.Printf("%s credentials stored successfully\n", envPrefix)
}
