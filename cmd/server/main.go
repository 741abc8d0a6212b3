package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/buildforge/buildforge/modules"
	"github.com/buildforge/buildforge/modules/requests"
	"github.com/buildforge/buildforge/modules/requests/infrastructure/access"
	"github.com/buildforge/buildforge/modules/requests/infrastructure/backend"
	"github.com/buildforge/buildforge/modules/requests/infrastructure/cache"
	"github.com/buildforge/buildforge/modules/requests/infrastructure/persistence"
	"github.com/buildforge/buildforge/modules/requests/services"
	"github.com/buildforge/buildforge/pkg/application"
	"github.com/buildforge/buildforge/pkg/authz"
	"github.com/buildforge/buildforge/pkg/composables"
	"github.com/buildforge/buildforge/pkg/configuration"
	"github.com/buildforge/buildforge/pkg/eventbus"
	"github.com/buildforge/buildforge/pkg/jobs"
	"github.com/buildforge/buildforge/pkg/metrics"
	"github.com/buildforge/buildforge/pkg/middleware"
)

func main() {
	conf := configuration.Use()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	if err != nil {
		logger.WithError(err).Fatal("failed to create database pool")
	}
	defer pool.Close()
	if err := persistence.EnsureSchema(ctx, pool); err != nil {
		logger.WithError(err).Fatal("failed to apply schema")
	}

	authzService, err := authz.NewService(authz.Config{
		ModelPath:  conf.Authz.ModelPath,
		PolicyPath: conf.Authz.PolicyPath,
		Logger:     logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize authorization")
	}

	queue := jobs.NewQueue(jobs.Options{
		Workers:     conf.Jobs.Workers,
		MaxAttempts: conf.Jobs.MaxAttempts,
		Logger:      logger,
	})
	defer queue.Stop()

	backendClient := backend.NewClient(conf.DiffBackend, logger)
	redisClient := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	defer func() { _ = redisClient.Close() }()

	app := application.New(&application.ApplicationOptions{
		Pool:     pool,
		EventBus: eventbus.NewEventPublisher(logger),
		Jobs:     queue,
		Logger:   logger,
	})
	if err := application.Load(app, modules.BuiltIn(requests.ModuleOptions{
		Authorizer: access.NewCasbinAuthorizer(authzService),
		Applier:    backendClient,
		Backend:    backendClient,
		Cache:      cache.NewRedisDiffCache(redisClient, 24*time.Hour),
	})...); err != nil {
		logger.WithError(err).Fatal("failed to load modules")
	}
	app.RegisterControllers(metrics.NewPrometheusController())

	authenticator, err := middleware.LoadTokens(conf.TokensPath)
	if err != nil {
		logger.WithError(err).Fatal("failed to load auth tokens")
	}
	app.RegisterMiddleware(
		middleware.LogRequests(logger),
		middleware.ProvidePool(pool),
		authenticator.ProvideUser(),
	)

	router := mux.NewRouter()
	router.Use(app.Middleware()...)
	for _, controller := range app.Controllers() {
		controller.Register(router)
		logger.WithField("namespace", controller.Key()).Info("registered controller")
	}

	workflow := app.Service(services.Workflow{}).(*services.Workflow)
	repo := persistence.NewRequestRepository()
	scheduler := services.NewAcceptScheduler(
		repo,
		workflow,
		time.Duration(conf.Scheduler.IntervalSeconds)*time.Second,
		logger,
	)
	go scheduler.Run(composables.WithPool(ctx, pool))

	server := &http.Server{
		Addr:         conf.ServerAddr,
		Handler:      cors.AllowAll().Handler(router),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.WithField("addr", conf.ServerAddr).Info("server listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Fatal("server failed")
	}
}
