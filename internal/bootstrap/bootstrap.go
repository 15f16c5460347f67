// Package bootstrap wires configuration, logging, the domain services and
// the HTTP server, and owns the process lifecycle.
package bootstrap

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	evbus "github.com/asaskevich/EventBus"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"voicestudio-server/internal/domain/audio"
	"voicestudio-server/internal/domain/synthesis"
	"voicestudio-server/internal/domain/training"
	"voicestudio-server/internal/domain/voice"
	platformconfig "voicestudio-server/internal/platform/config"
	platformerrors "voicestudio-server/internal/platform/errors"
	platformlogging "voicestudio-server/internal/platform/logging"
	httptransport "voicestudio-server/internal/transport/http"
	"voicestudio-server/internal/util/work"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config *platformconfig.Config
	logger *platformlogging.Logger

	pool         *work.Pool
	bus          evbus.Bus
	analyzer     *audio.Analyzer
	conditioner  *audio.Conditioner
	registry     *voice.Registry
	orchestrator *training.Orchestrator
	synth        *synthesis.Service
}

// Run starts the whole service lifecycle: configuration, dependencies,
// HTTP server and graceful shutdown.
func Run(ctx context.Context) error {
	state := &appState{}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}
	defer logger.Close()
	defer state.pool.Stop()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	logger.InfoTag("BOOT", "service stopped")
	return nil
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
				return platformerrors.Newf(
					platformerrors.KindBootstrap,
					step.ID,
					"dependency %s not satisfied", dep,
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
			if stderrors.As(err, &typed) {
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

// InitGraph lists the initialisation steps in dependency order.
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
			ID:        "storage:create-directories",
			Title:     "Create data directories",
			DependsOn: []string{"config:load", "logging:init-provider"},
			Kind:      platformerrors.KindStorage,
			Execute:   createDirectoriesStep,
		},
		{
			ID:        "components:init",
			Title:     "Initialise domain components",
			DependsOn: []string{"storage:create-directories"},
			Kind:      platformerrors.KindBootstrap,
			Execute:   initComponentsStep,
		},
	}
}

func loadConfigStep(_ context.Context, state *appState) error {
	loader := platformconfig.NewLoader(os.Getenv("VOICESTUDIO_CONFIG"))
	result, err := loader.Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	return nil
}

func initLoggingStep(_ context.Context, state *appState) error {
	if state.config == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"logging:init-provider",
			"config not loaded",
		)
	}

	logger, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindBootstrap, "logging:init-provider",
			"failed to initialize logging provider", err)
	}
	state.logger = logger
	logger.InfoTag("BOOT", "logging ready [%s]", state.config.Log.Level)
	return nil
}

func createDirectoriesStep(_ context.Context, state *appState) error {
	paths := state.config.Paths
	for _, dir := range []string{paths.Uploads, paths.Outputs, paths.Voices, paths.Models} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return platformerrors.Wrap(platformerrors.KindStorage, "storage:create-directories",
				fmt.Sprintf("create %s", dir), err)
		}
	}
	state.logger.InfoTag("BOOT", "data directories ready")
	return nil
}

func initComponentsStep(_ context.Context, state *appState) error {
	cfg := state.config
	logger := state.logger

	state.pool = work.NewPool(cfg.Pool.Workers)
	state.bus = evbus.New()
	state.conditioner = audio.NewConditioner(cfg.Audio.SampleRate, cfg.Audio.MinDuration, cfg.Audio.MaxDuration, logger)
	state.analyzer = audio.NewAnalyzer(cfg.Audio.SampleRate, logger)

	state.registry = voice.NewRegistry(cfg.Paths.Voices, state.conditioner, logger)
	if err := state.registry.Initialize(); err != nil {
		return err
	}

	stepDelay := parseDurationOrWarn(logger, cfg.Training.StepDelay, "training.step_delay")
	if stepDelay <= 0 {
		stepDelay = 2 * time.Second
	}
	state.orchestrator = training.NewOrchestrator(
		state.analyzer, state.conditioner, state.registry, state.pool, state.bus, stepDelay, logger)

	engine := synthesis.NewExecEngine(cfg.Synthesis.EngineCommand, cfg.Synthesis.EngineArgs, logger)
	if !engine.Ready() {
		logger.WarnTag("BOOT", "synthesis engine %q not found on PATH, tts requests will fail",
			cfg.Synthesis.EngineCommand)
	}
	state.synth = synthesis.NewService(engine, state.pool,
		cfg.Paths.Voices, cfg.Paths.Outputs,
		cfg.Synthesis.DefaultReference, cfg.Synthesis.DefaultLanguage, cfg.Synthesis.Languages, logger)

	logger.InfoTag("BOOT", "domain components ready")
	return nil
}

func parseDurationOrWarn(logger *platformlogging.Logger, value, field string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		logger.WarnTag("CONFIG", "cannot parse %s value %q: %v", field, value, err)
		return 0
	}
	if duration <= 0 {
		logger.WarnTag("CONFIG", "%s must be positive, got %s", field, value)
		return 0
	}
	return duration
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) error {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config: config,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	router := httpRouter.Engine

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, httptransport.APIResponse{
			Success: false,
			Data:    gin.H{},
			Message: "not found",
			Code:    http.StatusNotFound,
		})
	})

	service, err := httptransport.NewService(config, state.registry, state.orchestrator, state.synth, logger)
	if err != nil {
		return platformerrors.Wrap(platformerrors.KindTransport, "http:new-service",
			"failed to create http service", err)
	}
	service.Register(httpRouter)

	httpServer := &http.Server{
		Addr:    config.Server.IP + ":" + strconv.Itoa(config.Server.Port),
		Handler: router,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "server listening on http://%s", httpServer.Addr)

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "server shutdown failed: %v", err)
			} else {
				logger.InfoTag("HTTP", "server shut down cleanly")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "server failed: %v", err)
			return err
		}
		return nil
	})

	return nil
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *platformlogging.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("BOOT", "shutdown signal received, cleaning up")

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("BOOT", "error during shutdown: %v", err)
			return err
		}
		logger.InfoTag("BOOT", "all services stopped")
	case <-time.After(15 * time.Second):
		logger.ErrorTag("BOOT", "shutdown timed out, forcing exit")
		return stderrors.New("shutdown timed out")
	}
	return nil
}
