package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"creatorhub/internal/adapter"
	"creatorhub/internal/domain"
	"creatorhub/internal/http/handlers"
	httpapi "creatorhub/internal/http/httpapi"
	"creatorhub/internal/infra"
	"creatorhub/internal/infra/oidc"
	"creatorhub/internal/jobs"
	"creatorhub/internal/notify"
	"creatorhub/internal/providers/media"
	"creatorhub/internal/regen"
	"creatorhub/internal/usage"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, err := adapter.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to open store")
	}
	defer stores.Close()

	if stores.Credentials != nil {
		if err := stores.Credentials.Fill(ctx, cfg); err != nil {
			logger.Warn().Err(err).Msg("api: failed to load provider credentials from store")
		}
	}

	simulated := cfg.SimulateProviders
	if missing := cfg.MissingProviderCredentials(); !simulated && len(missing) > 0 {
		logger.Warn().Strs("providers", missing).Msg("api: provider api keys missing, using simulated providers")
		simulated = true
	}

	creators := map[domain.Provider]media.Creator{}
	if !simulated {
		creators, err = newCreators(cfg, &logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to configure providers")
		}
	}

	ledger := usage.NewLedger(stores.Ledger, logger)
	tokens := jobs.NewCallbackTokens(cfg.WebhookTokenSecret, 0)
	notifier := newNotifier(cfg, logger)
	receiver := jobs.NewWebhookReceiver(stores.Jobs, ledger, notifier, logger)

	dispatcher := jobs.NewDispatcher(context.WithoutCancel(ctx), receiver, cfg.DispatchWorkers, logger)
	submitter := jobs.NewSubmitter(stores.Jobs, ledger, creators, tokens, dispatcher, jobs.SubmitterConfig{
		Simulated:          simulated,
		PublicBaseURL:      cfg.PublicBaseURL,
		ProviderTimeout:    cfg.ProviderTimeout,
		ChargeOnCompletion: chargeOnCompletion(cfg, logger),
	}, logger)
	regenerations := regen.NewService(regen.NewGate(stores.Regenerations, logger), submitter)

	app := &handlers.App{
		Submitter:     submitter,
		Jobs:          stores.Jobs,
		Ledger:        ledger,
		Receiver:      receiver,
		Callbacks:     tokens,
		Regenerations: regenerations,
		WebhookSecrets: map[domain.Provider]string{
			domain.ProviderCaptioning: cfg.Captioning.WebhookSecret,
			domain.ProviderLipSync:    cfg.LipSync.WebhookSecret,
			domain.ProviderTTS:        cfg.TTS.WebhookSecret,
		},
		Ping:   stores.Ping,
		Logger: logger,
	}
	routerOpts := httpapi.Options{
		JWTSecret:       cfg.JWTSecret,
		CORSOrigins:     cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Logger:          logger,
	}
	if cfg.OIDCIssuer != "" {
		routerOpts.IdentityVerifier = oidc.NewKeySet(cfg.OIDCIssuer, cfg.OIDCAudience)
		logger.Info().Str("issuer", cfg.OIDCIssuer).Msg("accepting external identity tokens")
	}
	router := httpapi.NewRouter(app, routerOpts)
	server := infra.NewHTTPServer(cfg, router)

	if cfg.SweeperEnabled {
		sweeper := jobs.NewSweeper(stores.Jobs, notifier, cfg.JobStaleAfter, cfg.SweepInterval, logger)
		go func() {
			if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("api: sweeper stopped")
			}
		}()
	}

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Str("store", stores.Driver).
			Bool("simulated", simulated).
			Msg("api: listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("api: http server failed")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("api: failed to shutdown server")
	}
	if err := dispatcher.Close(); err != nil {
		logger.Error().Err(err).Msg("api: dispatcher drain failed")
	}
	logger.Info().Msg("api: stopped")
}

func newCreators(cfg *infra.Config, logger *infra.Logger) (map[domain.Provider]media.Creator, error) {
	settings := map[domain.Provider]infra.ProviderConfig{
		domain.ProviderCaptioning: cfg.Captioning,
		domain.ProviderLipSync:    cfg.LipSync,
		domain.ProviderTTS:        cfg.TTS,
	}
	httpClient := &http.Client{Timeout: cfg.ProviderTimeout + 5*time.Second}
	creators := make(map[domain.Provider]media.Creator, len(settings))
	for provider, pc := range settings {
		client, err := media.NewClient(media.Options{
			Provider:   provider,
			APIKey:     pc.APIKey,
			BaseURL:    pc.BaseURL,
			HTTPClient: httpClient,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		creators[provider] = client
	}
	return creators, nil
}

func newNotifier(cfg *infra.Config, logger infra.Logger) domain.Notifier {
	notifiers := notify.Multi{notify.NewLog(logger)}
	if cfg.NotifyWebhookURL != "" {
		notifiers = append(notifiers, notify.NewHTTP(cfg.NotifyWebhookURL, &http.Client{Timeout: 10 * time.Second}))
	}
	return notifiers
}

func chargeOnCompletion(cfg *infra.Config, logger infra.Logger) []domain.Provider {
	var out []domain.Provider
	for _, name := range cfg.ChargeOnCompletion {
		provider, ok := domain.ParseProvider(name)
		if !ok {
			logger.Warn().Str("provider", name).Msg("api: ignoring unknown provider in CHARGE_ON_COMPLETION")
			continue
		}
		out = append(out, provider)
	}
	return out
}
