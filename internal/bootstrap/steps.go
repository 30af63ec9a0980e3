package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"voice-server-go/internal/domain/call"
	"voice-server-go/internal/domain/eventbus"
	"voice-server-go/internal/domain/ledger"
	"voice-server-go/internal/domain/tts"
	"voice-server-go/internal/domain/tts/infrastructure/adapters"
	"voice-server-go/internal/domain/tts/infrastructure/cache"
	"voice-server-go/internal/domain/voice"
	platformconfig "voice-server-go/internal/platform/config"
	platformlogging "voice-server-go/internal/platform/logging"
	platformobservability "voice-server-go/internal/platform/observability"
	platformstorage "voice-server-go/internal/platform/storage"
	httptransport "voice-server-go/internal/transport/http"
	"voice-server-go/internal/transport/ws"
)

const (
	usageWorkers       = 4
	credentialSubject  = "browser-call"
	defaultLedgerPrice = 0.10
)

func loadConfigStep(_ context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().
		WithDotEnv(state.opts.DotEnv).
		WithPath(state.opts.ConfigPath).
		Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	state.configPath = result.Path
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	cfg := state.config.Log
	logger, err := platformlogging.New(platformlogging.Config{
		Level:    cfg.Level,
		Dir:      cfg.Dir,
		Filename: cfg.File,
		Console:  state.opts.Console,
	})
	if err != nil {
		return err
	}
	state.logger = logger
	state.closers = append(state.closers, func() { _ = logger.Close() })

	if state.configPath != "" {
		logger.InfoTag("BOOT", "config loaded from %s", state.configPath)
	} else {
		logger.InfoTag("BOOT", "no config file found, using defaults")
	}
	return nil
}

func setupObservabilityStep(ctx context.Context, state *appState) error {
	metrics, shutdown, err := platformobservability.Setup(ctx, platformobservability.Config{
		Enabled: state.config.Server.Metrics,
	}, state.logger.Slog())
	if err != nil {
		return err
	}
	state.metrics = metrics
	state.observabilityShutdown = shutdown
	logger := state.logger
	state.closers = append(state.closers, func() {
		if err := shutdown(context.Background()); err != nil {
			logger.WarnTag("OBSERVABILITY", "shutdown failed: %v", err)
		}
	})
	return nil
}

func initDatabaseStep(_ context.Context, state *appState) error {
	db, err := platformstorage.Open(state.config.Storage.DSN)
	if err != nil {
		return err
	}
	state.db = db
	logger := state.logger
	state.closers = append(state.closers, func() {
		if err := platformstorage.Close(db); err != nil {
			logger.WarnTag("STORAGE", "close database: %v", err)
		}
	})
	if err := platformstorage.Migrate(db); err != nil {
		return err
	}
	logger.InfoTag("STORAGE", "database ready at %s", state.config.Storage.DSN)
	return nil
}

func startEventBusStep(_ context.Context, state *appState) error {
	bus := eventbus.New(usageWorkers, state.logger)
	bus.Start()
	state.bus = bus
	// stopping drains queued usage before the database closes
	state.closers = append(state.closers, bus.Stop)
	return nil
}

func initLedgerStep(_ context.Context, state *appState) error {
	cfg := state.config.Ledger
	repo := platformstorage.NewLedgerRepository(state.db)
	accumulator := ledger.NewAccumulator(repo, marketPrice(cfg), state.logger)
	if err := accumulator.Attach(state.bus); err != nil {
		return fmt.Errorf("attach ledger to event bus: %w", err)
	}
	state.ledgerRepo = repo
	state.settler = ledger.NewSettler(repo, cfg.CycleDays, state.logger)
	return nil
}

func initVoiceStep(_ context.Context, state *appState) error {
	cfg := state.config.Voice
	table := voice.DefaultTable()
	if cfg.TablePath != "" {
		loaded, err := voice.LoadTable(cfg.TablePath)
		if err != nil {
			return err
		}
		table = loaded
	}
	resolver, err := voice.NewResolver(table, os.DirFS(cfg.AssetRoot), state.logger)
	if err != nil {
		return err
	}
	state.resolver = resolver
	return nil
}

func initTTSStep(_ context.Context, state *appState) error {
	cfg := state.config
	logger := state.logger

	providers, err := adapters.NewRegistry().Build(cfg.TTS.Order, cfg.TTS.Providers, logger)
	if err != nil {
		return err
	}

	opts := []tts.Option{
		tts.WithReferences(state.resolver),
		tts.WithUsage(state.bus),
		tts.WithMetrics(state.metrics),
	}
	if cfg.Cache.Addr != "" {
		resultCache, closeCache, err := cache.NewRedis(cache.Config{
			Addr:     cfg.Cache.Addr,
			Password: cfg.Cache.Password,
			DB:       cfg.Cache.DB,
			Prefix:   cfg.Cache.Prefix,
			TTL:      cfg.Cache.TTL,
		})
		if err != nil {
			// synthesis works without the cache
			logger.WarnTag("TTS", "result cache disabled: %v", err)
		} else {
			opts = append(opts, tts.WithCache(resultCache))
			state.closers = append(state.closers, func() { _ = closeCache() })
			logger.InfoTag("TTS", "result cache at %s", cfg.Cache.Addr)
		}
	}

	state.orchestrator = tts.NewOrchestrator(tts.Chain(providers, cfg.TTS.AttemptTimeout), logger, opts...)
	logger.InfoTag("TTS", "provider chain %v", cfg.TTS.Order)
	return nil
}

func initCallStep(_ context.Context, state *appState) error {
	cfg := state.config.Call
	logger := state.logger

	switch {
	case cfg.CredentialURL != "":
		state.credentials = &call.HTTPCredentialSource{URL: cfg.CredentialURL}
	case cfg.JWTSecret != "":
		state.credentials = call.NewJWTCredentialSource(cfg.JWTSecret, cfg.JWTIssuer, credentialSubject, cfg.CredentialTTL)
	default:
		logger.WarnTag("CALL", "no credential source configured, live calls disabled")
		return nil
	}

	state.dialer = &ws.Dialer{
		URL:              cfg.UpstreamURL,
		HandshakeTimeout: cfg.HandshakeTimeout,
		Logger:           logger,
	}
	bridge := &ws.CallBridge{
		Config:      callConfig(state.config),
		Credentials: state.credentials,
		Dialer:      state.dialer,
		Usage:       state.bus,
		Metrics:     state.metrics,
		Logger:      logger,
	}
	state.hub = ws.NewHub(logger, state.config.Call.MaxCalls)
	state.wsRouter = ws.NewRouter(state.hub, logger, ws.RouterOptions{
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
	state.wsRouter.SetHandlerBuilder(bridge.Build)
	return nil
}

func initHTTPStep(_ context.Context, state *appState) error {
	cfg := state.config
	logger := state.logger

	router, err := httptransport.Build(httptransport.Options{
		Config:    cfg,
		Logger:    logger,
		Metrics:   state.metrics,
		VoiceRoot: cfg.Voice.AssetRoot,
	})
	if err != nil {
		return err
	}

	var upgrade http.HandlerFunc
	if state.wsRouter != nil {
		upgrade = state.wsRouter.Handle
	}

	orchestrator := state.orchestrator
	hub := state.hub
	httptransport.NewTTSHandler(orchestrator, logger).RegisterRoutes(router)
	httptransport.NewCallHandler(state.credentials, upgrade, logger).RegisterRoutes(router)
	httptransport.NewLedgerHandler(state.ledgerRepo, state.settler, marketPrice(cfg.Ledger), logger).RegisterRoutes(router)
	httptransport.NewHealthHandler(
		func() []string {
			infos := orchestrator.Providers()
			names := make([]string, 0, len(infos))
			for _, info := range infos {
				names = append(names, info.Name)
			}
			return names
		},
		func() int {
			if hub == nil {
				return 0
			}
			return hub.Count()
		},
	).RegisterRoutes(router)

	state.router = router
	return nil
}

func callConfig(cfg *platformconfig.Config) call.Config {
	c := cfg.Call
	return call.Config{
		Model:            c.Model,
		VoiceName:        c.VoiceName,
		UpstreamRate:     c.UpstreamRate,
		FrameSize:        c.FrameSize,
		HandshakeTimeout: c.HandshakeTimeout,
		DrainTimeout:     c.DrainTimeout,
	}
}

func marketPrice(cfg platformconfig.LedgerConfig) float64 {
	if cfg.MarketPriceUSD > 0 {
		return cfg.MarketPriceUSD
	}
	return defaultLedgerPrice
}
