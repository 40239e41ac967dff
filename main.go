package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Conceptual-Machines/magda-composer/internal/agent"
	"github.com/Conceptual-Machines/magda-composer/internal/api"
	"github.com/Conceptual-Machines/magda-composer/internal/api/handlers"
	"github.com/Conceptual-Machines/magda-composer/internal/audio"
	"github.com/Conceptual-Machines/magda-composer/internal/composition"
	"github.com/Conceptual-Machines/magda-composer/internal/config"
	"github.com/Conceptual-Machines/magda-composer/internal/llm"
	"github.com/Conceptual-Machines/magda-composer/internal/logger"
	"github.com/Conceptual-Machines/magda-composer/internal/metrics"
	"github.com/Conceptual-Machines/magda-composer/internal/observability"
	"github.com/Conceptual-Machines/magda-composer/internal/runtime"
	"github.com/Conceptual-Machines/magda-composer/internal/storage"
	"github.com/Conceptual-Machines/magda-composer/internal/tools"
	"github.com/getsentry/sentry-go"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
)

const (
	sentryFlushTimeout    = 2 * time.Second
	shutdownTimeout       = 10 * time.Second
	environmentProduction = "production"
)

// releaseVersion is set via ldflags during build
var releaseVersion = "dev"

// GetVersion returns the current release version
func GetVersion() string {
	return releaseVersion
}

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize Sentry
	if cfg.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			Environment:      cfg.Environment,
			Release:          "magda-composer@" + releaseVersion,
			EnableTracing:    true,
			TracesSampleRate: 1.0,
			EnableLogs:       true,
			Debug:            cfg.Environment != environmentProduction,
			BeforeSend: func(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
				if event.Request != nil {
					event.Request.Headers = filterSensitiveHeaders(event.Request.Headers)
				}
				return event
			},
		}); err != nil {
			log.Printf("Failed to initialize Sentry: %v", err)
		} else {
			log.Printf("✅ Sentry initialized (environment: %s, release: %s)", cfg.Environment, releaseVersion)
			defer sentry.Flush(sentryFlushTimeout)
		}
	} else {
		log.Println("⚠️  Sentry not configured (SENTRY_DSN not set)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cloudwatch, err := metrics.NewClient(ctx, cfg.Environment, cfg.CloudWatchNamespace)
	if err != nil {
		log.Printf("Failed to initialize CloudWatch: %v", err)
	}
	recorder := metrics.NewRecorder(metrics.NewSentryMetrics(), cloudwatch)
	langfuse := observability.NewLangfuse(ctx, cfg.LangfuseEnabled, cfg.LangfuseSecretKey, cfg.LangfuseHost)

	// Tool runtime over the live document
	seed := time.Now().UnixNano()
	catalog := tools.NewCatalog(composition.New(), tools.WithSeed(seed))
	rt := runtime.New(runtime.WithRecorder(recorder))
	defer rt.Close()
	toolsHandler := handlers.NewToolsHandler()
	if err := rt.InstallBridge(toolsHandler); err != nil {
		log.Fatal("Failed to install tool bridge:", err)
	}
	rt.RegisterAll(catalog.Definitions())

	// Audio: software mixer paced to the configured output
	engine := audio.NewEngine(cfg.SampleRate)
	out, err := audio.NewOutput(ctx, cfg.AudioOutput, cfg.SampleRate)
	if err != nil {
		log.Fatal("Failed to open audio output:", err)
	}
	driver := audio.NewDriver(engine, out)
	driver.Start()
	defer driver.Close()

	var instruments audio.InstrumentProvider
	schedulerOpts := []audio.SchedulerOption{
		audio.WithLookahead(cfg.Lookahead()),
		audio.WithTickInterval(cfg.SchedulerInterval()),
	}
	if cfg.SampleBankDir != "" {
		bank := audio.NewSampleBank(cfg.SampleBankDir, cfg.SampleRate)
		instruments = bank
		schedulerOpts = append(schedulerOpts, audio.WithInstrumentProvider(bank))
	}
	scheduler := audio.NewScheduler(engine, schedulerOpts...)
	scheduler.OnEnded(func() {
		logger.Info("Playback finished", nil)
	})
	defer scheduler.Stop()

	// Every successful mutation reaches the player; this runs on the
	// runtime worker so reading the document here is safe
	rt.SubscribeToolCalls(func(rec runtime.ToolCallRecord) {
		if !rec.OK || rec.ReadOnly {
			return
		}
		scheduler.UpdateComposition(catalog.Composition().Clone())
	})

	// Agent loop
	factory := llm.NewProviderFactory(cfg.OpenAIAPIKey, cfg.GeminiAPIKey)
	model := cfg.LLMModel
	if model == "" {
		model = llm.DefaultModel(cfg.LLMProvider)
	}
	provider, err := factory.GetProvider(ctx, model, cfg.LLMProvider)
	if err != nil {
		logger.Warn("No default LLM provider, runs must name one", logger.Fields{"error": err.Error()})
	}
	composer := agent.New(rt, provider, agent.Config{
		Model:     model,
		MaxTurns:  cfg.AgentMaxTurns,
		CallDelay: cfg.CallDelay(),
	},
		agent.WithRecorder(recorder),
		agent.WithLangfuse(langfuse),
		agent.WithProviderResolver(factory.GetProvider),
		agent.WithStateFunc(func(ctx context.Context) tools.Result {
			var res tools.Result
			if err := rt.Exec(ctx, func() { res = tools.StateSummary(catalog.Composition()) }); err != nil {
				return tools.Result{"error": err.Error()}
			}
			return res
		}),
	)
	defer composer.Stop()

	store, err := storage.New(ctx, cfg)
	if err != nil {
		sentry.CaptureException(err)
		log.Fatal("Failed to open run storage:", err)
	}
	defer store.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := api.SetupRouter(api.Deps{
		Config: cfg,
		Studio: &handlers.Studio{
			Runtime:     rt,
			Catalog:     catalog,
			Agent:       composer,
			Player:      scheduler,
			Seed:        seed,
			SampleRate:  cfg.SampleRate,
			MaxRender:   cfg.MaxRender(),
			Instruments: instruments,
		},
		Tools:    toolsHandler,
		Store:    store,
		Recorder: recorder,
	}, GetVersion())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// event streams end when the process is signalled
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Printf("🚀 Starting server on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sentry.CaptureException(err)
			log.Fatal("Failed to start server:", err)
		}
	}()

	<-ctx.Done()
	log.Println("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
}

func filterSensitiveHeaders(headers map[string]string) map[string]string {
	filtered := make(map[string]string)
	sensitiveKeys := map[string]bool{
		"authorization": true,
		"cookie":        true,
		"x-api-key":     true,
	}

	for k, v := range headers {
		if sensitiveKeys[k] {
			filtered[k] = "[REDACTED]"
		} else {
			filtered[k] = v
		}
	}
	return filtered
}
