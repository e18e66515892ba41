package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/kamaleddin/threadify/app_config"
	"github.com/kamaleddin/threadify/canonical"
	"github.com/kamaleddin/threadify/generate"
	"github.com/kamaleddin/threadify/lengthcheck"
	"github.com/kamaleddin/threadify/notifier"
	"github.com/kamaleddin/threadify/orchestrator"
	"github.com/kamaleddin/threadify/poster"
	"github.com/kamaleddin/threadify/scraper"
	"github.com/kamaleddin/threadify/server"
	"github.com/kamaleddin/threadify/server/middlewares"
	"github.com/kamaleddin/threadify/store"
	"github.com/kamaleddin/threadify/utils"
	"github.com/kamaleddin/threadify/utils/dotenv"
	Flag "github.com/kamaleddin/threadify/utils/flag"
	Logger "github.com/kamaleddin/threadify/utils/log"
	"golang.org/x/oauth2"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
)

func cleanup() {
	utils.CloseProfiler()
	utils.CloseTracer()
	Logger.Log.Info("api server shutdown")
}

func oauthEndpointConfig() *oauth2.Config {
	clientId := os.Getenv("X_CLIENT_ID")
	if clientId == "" {
		return nil
	}
	return &oauth2.Config{
		ClientID:     clientId,
		ClientSecret: os.Getenv("X_CLIENT_SECRET"),
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://twitter.com/i/oauth2/authorize",
			TokenURL:  "https://api.twitter.com/2/oauth2/token",
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
}

func main() {
	Flag.ParseFlags()
	defer cleanup()

	if err := dotenv.LoadDotEnvs(); err != nil {
		panic(err)
	}

	if utils.IsProdEnv() {
		utils.InitTracer()
		utils.InitProfiler()
	}

	cfg := app_config.ParseThreadifyAppConfig(*Flag.ConfigPath)

	db, err := store.GetDBConnection()
	if err != nil {
		Logger.Log.Fatalf("cannot connect to database: %v", err)
	}
	store.DatabaseSetupAndMigration(db)
	runStore := store.NewGormStore(db)

	eventBus := gochannel.NewGoChannel(
		gochannel.Config{},
		watermill.NewStdLogger(false, false),
	)

	pipeline := generate.NewPipeline(
		scraper.NewScraper(),
		generate.NewExtractiveGenerator(),
		lengthcheck.NewClient(cfg.LENGTH_SERVICE_URL),
	)

	metrics := orchestrator.NewMetrics()
	publisher := orchestrator.
		NewPostingOrchestrator(runStore, poster.NewXClient(nil, oauthEndpointConfig()), cfg).
		WithMetrics(metrics)
	machine := orchestrator.
		NewMachine(runStore, canonical.NewCanonicalizer(), pipeline, publisher, cfg).
		WithEvents(orchestrator.NewEventPublisher(eventBus)).
		WithMetrics(metrics)

	if published, err := store.GetPublishedUrlStore(); err != nil {
		Logger.Log.Warnf("redis unavailable, duplicate pre-check disabled: %v", err)
	} else {
		machine.WithPublishedCache(published)
	}

	scheduler := orchestrator.NewScheduler(machine, cfg.GLOBAL_CONCURRENCY)

	ctx, cancel := context.WithCancel(context.Background())
	engine := orchestrator.NewEngine(
		[]orchestrator.Module{
			scheduler,
			notifier.NewSlackNotifier("slack_notifier", eventBus),
		},
		ctx, cancel, eventBus,
	)

	engineDone := make(chan struct{})
	go func() {
		engine.Run()
		close(engineDone)
	}()

	middlewares.Setup(runStore)

	// Default with the Logger and Recovery middleware already attached.
	router := gin.Default()
	router.Use(cors.Default())
	router.Use(gintrace.Middleware(*Flag.ServiceName))

	router.GET("/healthz", server.Healthz)

	api := router.Group("/")
	if !*Flag.IsDevelopment {
		api.Use(middlewares.ApiToken())
	}
	handlers := &server.Handlers{Store: runStore, Machine: machine, Scheduler: scheduler}
	handlers.Register(api)

	srv := &http.Server{Addr: ":8080", Handler: router}
	go func() {
		Logger.Log.Info("api server starts up")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			Logger.Log.Fatalf("api server crashed: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	engine.Shutdown()
	<-engineDone
	if err := srv.Shutdown(context.Background()); err != nil {
		Logger.Log.Errorf("api server forced to stop: %v", err)
	}
}
