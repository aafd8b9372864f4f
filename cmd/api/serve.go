package main

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-praktikum-api/internal/config"
	"github.com/noah-isme/gema-praktikum-api/internal/database"
	"github.com/noah-isme/gema-praktikum-api/internal/grading"
	"github.com/noah-isme/gema-praktikum-api/internal/handler"
	"github.com/noah-isme/gema-praktikum-api/internal/judging"
	"github.com/noah-isme/gema-praktikum-api/internal/middleware"
	"github.com/noah-isme/gema-praktikum-api/internal/repository"
	"github.com/noah-isme/gema-praktikum-api/internal/router"
	"github.com/noah-isme/gema-praktikum-api/internal/service"
	"github.com/noah-isme/gema-praktikum-api/internal/utils"
	"github.com/noah-isme/gema-praktikum-api/pkg/judge"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API, the judge worker pool and the status broker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			return serve(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func serve(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		redisClient, err = database.ConnectRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	} else {
		logger.Warn().Msg("redis url not set; recap cache disabled")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = database.ConnectNATS(cfg.NATSURL, cfg.AppName)
		if err != nil {
			return err
		}
		defer natsConn.Close()
	} else {
		logger.Warn().Msg("nats url not set; judge queue and status events stay in process")
	}

	engine, err := judge.NewHTTPClient(judge.Config{
		BaseURL: cfg.JudgeURL,
		APIKey:  cfg.JudgeAPIKey,
		Timeout: cfg.JudgeTimeout,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	validate := utils.NewValidator()

	submissionRepo := repository.NewSubmissionRepository(db)
	problemRepo := repository.NewProblemRepository(db)
	praktikumRepo := repository.NewPraktikumRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	options := grading.DefaultOptions()
	options.PenalizeMissingSubmissions = cfg.PenalizeMissing

	activityService := service.NewActivityService(activityRepo, validate, logger)
	recapService := service.NewRecapService(praktikumRepo, submissionRepo, redisClient, cfg.RecapCacheTTL, options, logger)
	broker := service.NewStatusBroker(natsConn, cfg.ChannelBase, logger)
	worker := service.NewJudgeWorker(submissionRepo, problemRepo, engine, natsConn, service.JudgeWorkerConfig{
		Workers:      cfg.WorkerCount,
		QueueSize:    cfg.WorkerQueueSize,
		Retries:      cfg.WorkerRetries,
		RetryBackoff: cfg.WorkerRetryBackoff,
		ChannelBase:  cfg.ChannelBase,
	}, logger)

	submissionService := service.NewSubmissionService(service.SubmissionServiceDeps{
		Submissions: submissionRepo,
		Problems:    problemRepo,
		Praktikums:  praktikumRepo,
		Dispatcher:  worker,
		Broker:      broker,
		Recaps:      recapService,
		Activity:    activityService,
		Validator:   validate,
	}, judging.Config{
		PendingInterval:  cfg.PollPendingInterval,
		JudgingInterval:  cfg.PollJudgingInterval,
		Timeout:          cfg.PollTimeout,
		TransportRetries: cfg.PollTransportRetries,
	}, logger)

	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	broker.Start(workerCtx)
	worker.Start(workerCtx)

	if resumed, err := submissionService.ResumePending(ctx); err != nil {
		logger.Error().Err(err).Int("resumed", resumed).Msg("failed to resume unfinished submissions")
	}

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})
	middleware.Register(app, middleware.Config{Logger: &logger, AllowOrigins: cfg.CORSOrigins})
	router.Register(app, cfg, router.Dependencies{
		SubmissionHandler: handler.NewSubmissionHandler(submissionService, logger),
		RecapHandler:      handler.NewRecapHandler(recapService, praktikumRepo, cfg.RecapTimeout, logger),
		ActivityHandler:   handler.NewActivityHandler(activityService, logger),
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
		SubmitLimiter:     middleware.RateLimit("submit", cfg.SubmitRateLimit, cfg.SubmitRateWindow),
		Metrics:           true,
	})

	listenErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddress()).Msg("http server listening")
		listenErr <- app.Listen(cfg.HTTPAddress())
	}()

	select {
	case <-ctx.Done():
	case err := <-listenErr:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if err := submissionService.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("poll loops did not stop in time")
	}
	stopWorkers()
	worker.Wait()

	logger.Info().Msg("server stopped")
	return nil
}
