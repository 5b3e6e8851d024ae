package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"creatorhub/internal/adapter/repo"
	"creatorhub/internal/adapter/sqlite"
	"creatorhub/internal/domain"
	"creatorhub/internal/infra"
)

func main() {
	var (
		ownerFlag        string
		setFlag          int
		addFlag          int
		subscriptionFlag string
		sqliteFlag       string
	)

	flag.StringVar(&ownerFlag, "owner", "", "owner ID of the account")
	flag.IntVar(&setFlag, "set", -1, "set the credit balance to this value (negative keeps the current balance)")
	flag.IntVar(&addFlag, "add", 0, "add (or with a negative value remove) credits")
	flag.StringVar(&subscriptionFlag, "subscription", "keep", "subscription state: active, inactive or keep")
	flag.StringVar(&sqliteFlag, "sqlite", "", "path of a sqlite store (defaults to postgres at DATABASE_URL)")
	flag.Parse()

	owner := strings.TrimSpace(ownerFlag)
	if owner == "" {
		exitWithError(errors.New("-owner is required"))
	}
	subscription := strings.ToLower(strings.TrimSpace(subscriptionFlag))
	switch subscription {
	case "active", "inactive", "keep":
	default:
		exitWithError(fmt.Errorf("unsupported subscription state %q", subscriptionFlag))
	}
	if setFlag < 0 && addFlag == 0 && subscription == "keep" {
		exitWithError(errors.New("nothing to do: pass -set, -add or -subscription"))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ledger, closeStore, err := openLedger(ctx, strings.TrimSpace(sqliteFlag))
	if err != nil {
		exitWithError(err)
	}
	defer closeStore()

	account, err := ledger.GetAccount(ctx, owner)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		account = &domain.Account{OwnerID: owner, SubscriptionActive: true}
	case err != nil:
		exitWithError(fmt.Errorf("failed to load account: %w", err))
	}

	if setFlag >= 0 || subscription != "keep" {
		if setFlag >= 0 {
			account.Credits = setFlag
		}
		if subscription != "keep" {
			account.SubscriptionActive = subscription == "active"
		}
		if err := ledger.UpsertAccount(ctx, *account); err != nil {
			exitWithError(fmt.Errorf("failed to update account: %w", err))
		}
	}
	if addFlag != 0 {
		if account, err = ledger.AddCredits(ctx, owner, addFlag); err != nil {
			exitWithError(fmt.Errorf("failed to add credits: %w", err))
		}
	}

	fmt.Printf("Account %s: credits=%d subscription_active=%t\n", account.OwnerID, account.Credits, account.SubscriptionActive)
}

func openLedger(ctx context.Context, sqlitePath string) (domain.LedgerStore, func(), error) {
	if sqlitePath != "" {
		store, err := sqlite.Open(ctx, sqlitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	}

	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect database: %w", err)
	}
	logger := infra.NewLogger("cli").With().Str("cmd", "credits").Logger()
	runner := infra.NewSQLRunner(pool, logger)
	if err := repo.EnsureSchema(ctx, runner); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo.NewLedgerRepository(runner), pool.Close, nil
}

func exitWithError(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
