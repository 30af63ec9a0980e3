package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"voice-server-go/internal/domain/call"
	"voice-server-go/internal/domain/eventbus"
	"voice-server-go/internal/domain/ledger"
	"voice-server-go/internal/domain/ledger/repository"
	"voice-server-go/internal/domain/tts"
	"voice-server-go/internal/domain/voice"
	platformconfig "voice-server-go/internal/platform/config"
	platformerrors "voice-server-go/internal/platform/errors"
	platformlogging "voice-server-go/internal/platform/logging"
	platformobservability "voice-server-go/internal/platform/observability"
	httptransport "voice-server-go/internal/transport/http"
	"voice-server-go/internal/transport/ws"
)

const shutdownTimeout = 15 * time.Second

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

// Options tune how the application is assembled.
type Options struct {
	// ConfigPath overrides the default config file location.
	ConfigPath string
	// DotEnv loads a .env file before reading config.
	DotEnv bool
	// Console replaces stdout for console logging.
	Console io.Writer
}

type appState struct {
	opts Options

	config                *platformconfig.Config
	configPath            string
	logger                *platformlogging.Logger
	metrics               *platformobservability.Metrics
	observabilityShutdown platformobservability.ShutdownFunc

	db  *gorm.DB
	bus *eventbus.Bus

	ledgerRepo repository.LedgerRepository
	settler    *ledger.Settler

	resolver     *voice.Resolver
	orchestrator *tts.Orchestrator

	credentials call.CredentialSource
	dialer      *ws.Dialer
	hub         *ws.Hub
	wsRouter    *ws.Router

	router *httptransport.Router

	closers []func()
}

// App is the assembled service graph. Commands that do not serve HTTP use
// it directly.
type App struct {
	state *appState
	steps []initStep
}

func (a *App) Config() *platformconfig.Config          { return a.state.config }
func (a *App) Logger() *platformlogging.Logger         { return a.state.logger }
func (a *App) Orchestrator() *tts.Orchestrator         { return a.state.orchestrator }
func (a *App) Ledger() repository.LedgerRepository     { return a.state.ledgerRepo }
func (a *App) Settler() *ledger.Settler                { return a.state.settler }
func (a *App) Credentials() call.CredentialSource      { return a.state.credentials }
func (a *App) Usage() eventbus.Publisher               { return a.state.bus }
func (a *App) Metrics() *platformobservability.Metrics { return a.state.metrics }
func (a *App) Router() *httptransport.Router           { return a.state.router }
func (a *App) Handler() http.Handler                   { return a.state.router.Engine }

// Dialer is nil when live calls are not configured.
func (a *App) Dialer() call.Dialer {
	if a.state.dialer == nil {
		return nil
	}
	return a.state.dialer
}

func (a *App) ActiveCalls() int {
	if a.state.hub == nil {
		return 0
	}
	return a.state.hub.Count()
}

// CallConfig is the session configuration derived from the call section.
func (a *App) CallConfig() call.Config {
	return callConfig(a.state.config)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	s := a.state
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// Prepare runs the init graph without starting any listener.
func Prepare(ctx context.Context, opts Options) (*App, error) {
	state := &appState{opts: opts}
	steps := InitGraph()
	if err := executeInitSteps(ctx, steps, state); err != nil {
		app := &App{state: state}
		app.Close()
		return nil, err
	}
	return &App{state: state, steps: steps}, nil
}

// Run starts the whole service lifecycle: load config, build dependencies,
// serve until SIGINT or SIGTERM, then shut down gracefully.
func Run(ctx context.Context, opts Options) error {
	app, err := Prepare(ctx, opts)
	if err != nil {
		return err
	}
	defer app.Close()

	state := app.state
	logger := state.logger
	if state.config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	logBootstrapGraph(app.steps, logger)

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(rootCtx)

	// a failed server cancels groupCtx, which ends the wait as a signal would
	signalCtx, stop := signal.NotifyContext(groupCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	return waitForShutdown(signalCtx, cancel, logger, group)
}

func logBootstrapGraph(steps []initStep, logger *platformlogging.Logger) {
	if logger == nil {
		return
	}
	logger.InfoTag("BOOT", "init graph overview")
	for _, step := range steps {
		if len(step.DependsOn) == 0 {
			logger.InfoTag("BOOT", "%s: %s", step.ID, step.Title)
			continue
		}
		logger.InfoTag("BOOT", "%s: %s (after %v)", step.ID, step.Title, step.DependsOn)
	}
	logger.InfoTag("BOOT", "starting services")
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init-provider",
			Title:     "Initialise logging provider",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initLoggingStep,
		},
		{
			ID:        "observability:setup-hooks",
			Title:     "Set up observability hooks",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindPlatform,
			Execute:   setupObservabilityStep,
		},
		{
			ID:        "storage:init-database",
			Title:     "Initialise database",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   initDatabaseStep,
		},
		{
			ID:        "eventbus:start",
			Title:     "Start usage event bus",
			DependsOn: []string{"logging:init-provider"},
			Kind:      platformerrors.KindDomain,
			Execute:   startEventBusStep,
		},
		{
			ID:        "ledger:init",
			Title:     "Initialise usage ledger",
			DependsOn: []string{"storage:init-database", "eventbus:start"},
			Kind:      platformerrors.KindDomain,
			Execute:   initLedgerStep,
		},
		{
			ID:        "voice:init-resolver",
			Title:     "Initialise voice reference resolver",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindDomain,
			Execute:   initVoiceStep,
		},
		{
			ID:        "tts:init-orchestrator",
			Title:     "Initialise synthesis orchestrator",
			DependsOn: []string{"voice:init-resolver", "eventbus:start", "observability:setup-hooks"},
			Kind:      platformerrors.KindProvider,
			Execute:   initTTSStep,
		},
		{
			ID:        "call:init",
			Title:     "Initialise live call transport",
			DependsOn: []string{"eventbus:start", "observability:setup-hooks"},
			Kind:      platformerrors.KindTransport,
			Execute:   initCallStep,
		},
		{
			ID:        "http:init-router",
			Title:     "Initialise HTTP router",
			DependsOn: []string{"tts:init-orchestrator", "ledger:init", "call:init"},
			Kind:      platformerrors.KindTransport,
			Execute:   initHTTPStep,
		},
	}
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (*http.Server, error) {
	config := state.config
	logger := state.logger
	if state.router == nil {
		return nil, platformerrors.New(platformerrors.KindBootstrap, "http:start", "router not initialised")
	}

	httpServer := &http.Server{
		Addr:              config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler:           state.router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if state.hub != nil {
		g.Go(func() error {
			state.hub.Watch(groupCtx, config.Call.IdleTimeout)
			return nil
		})
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			if state.hub != nil {
				state.hub.CloseAll(ws.ErrSessionShutdown)
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "http shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "http server stopped")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "http server failed: %v", err)
			return err
		}
		return nil
	})

	return httpServer, nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "shutting down: %v", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "shutdown finished with error: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(shutdownTimeout):
		logger.ErrorTag("BOOT", "shutdown timed out, forcing exit")
		return errors.New("shutdown timed out")
	}
	return nil
}
