package main

import (
	"context"
	crypto_rand "crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medcrm/medcrm/internal/config"
	"github.com/medcrm/medcrm/internal/domain/calendarplan"
	"github.com/medcrm/medcrm/internal/domain/contingent"
	"github.com/medcrm/medcrm/internal/domain/contract"
	"github.com/medcrm/medcrm/internal/domain/doctor"
	"github.com/medcrm/medcrm/internal/domain/emergency"
	"github.com/medcrm/medcrm/internal/domain/examination"
	"github.com/medcrm/medcrm/internal/domain/expertise"
	"github.com/medcrm/medcrm/internal/domain/healthplan"
	"github.com/medcrm/medcrm/internal/domain/identity"
	"github.com/medcrm/medcrm/internal/domain/queue"
	"github.com/medcrm/medcrm/internal/domain/referral"
	"github.com/medcrm/medcrm/internal/domain/routesheet"
	"github.com/medcrm/medcrm/internal/platform/auth"
	"github.com/medcrm/medcrm/internal/platform/blobstore"
	"github.com/medcrm/medcrm/internal/platform/db"
	"github.com/medcrm/medcrm/internal/platform/middleware"
	"github.com/medcrm/medcrm/internal/platform/notification"
	"github.com/medcrm/medcrm/internal/platform/otp"
	"github.com/medcrm/medcrm/internal/platform/websocket"
	"github.com/medcrm/medcrm/migrations"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medcrm-server",
		Short: "Occupational medical examination CRM API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(contractsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Deliver queued WhatsApp notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			concurrency, _ := cmd.Flags().GetInt("concurrency")
			return runWorker(concurrency)
		},
	}
	cmd.Flags().Int("concurrency", 10, "Number of tasks processed in parallel")
	return cmd
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Up(ctx)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Printf("Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				statuses, err := m.Status(ctx)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
				fmt.Println("---------- ---------------------------------------- ---------- --------------------")
				for _, s := range statuses {
					status := "pending"
					appliedAt := ""
					if s.Applied {
						status = "applied"
						if s.AppliedAt != nil {
							appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
						}
					}
					fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
				}
				return nil
			})
		},
	})

	downCmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back the last applied migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, _ := cmd.Flags().GetInt("steps")
			return withMigrator(func(ctx context.Context, m *db.Migrator) error {
				count, err := m.Down(ctx, steps)
				if err != nil {
					return fmt.Errorf("rollback failed: %w", err)
				}
				fmt.Printf("Rolled back %d migration(s).\n", count)
				return nil
			})
		},
	}
	downCmd.Flags().Int("steps", 1, "Number of migrations to roll back")
	cmd.AddCommand(downCmd)

	return cmd
}

func contractsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "contracts",
		Short: "Contract maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "link",
		Short: "Link contracts carrying only an employer BIN to registered employers",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg.Env)
			ctx := context.Background()
			pool, err := openPool(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer pool.Close()

			svc := contract.NewService(
				contract.NewContractRepoPG(pool),
				contract.NewHistoryRepoPG(pool),
				identity.NewUserRepoPG(pool),
				db.NewTxRunner(pool),
				notification.NewInlineNotifier(notification.NewLogSender(logger)),
				blobstore.NewInMemoryBlobStore(),
				cfg.FrontendURL,
				logger,
			)
			n, err := svc.LinkUnlinkedContracts(ctx, nil)
			if err != nil {
				return err
			}
			fmt.Printf("Linked %d contract(s).\n", n)
			return nil
		},
	})
	return cmd
}

func withMigrator(fn func(ctx context.Context, m *db.Migrator) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, db.NewMigrator(pool, migrations.FS))
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func openPool(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	var opts []db.PoolOption
	if cfg.DBLogQueries {
		opts = append(opts, db.WithQueryLogging(logger))
	}
	return db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns, opts...)
}

func redisOpt(cfg *config.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

// newSender returns the Green API client when credentials are configured and
// a logging stub otherwise.
func newSender(cfg *config.Config, logger zerolog.Logger) notification.Sender {
	if cfg.WhatsAppConfigured() {
		return notification.NewWhatsAppSender(cfg.GreenAPIURL, cfg.GreenAPIInstance, cfg.GreenAPIToken)
	}
	logger.Warn().Msg("GREEN_API credentials not set, WhatsApp messages will only be logged")
	return notification.NewLogSender(logger)
}

func newBlobStore(dir string) (blobstore.BlobStore, error) {
	if dir == "" {
		return blobstore.NewInMemoryBlobStore(), nil
	}
	return blobstore.NewDirBlobStore(dir)
}

// resolveSigningKey returns the configured token signing key or, when it is
// empty, a random 32-byte key. The second return value is true when a random
// key was generated.
func resolveSigningKey(configured string) ([]byte, bool, error) {
	if configured != "" {
		return []byte(configured), false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("generate signing key: %w", err)
	}
	return []byte(hex.EncodeToString(key)), true, nil
}

func runWorker(concurrency int) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)

	worker := notification.NewWorker(redisOpt(cfg), concurrency, newSender(cfg, logger), logger)
	if err := worker.Start(); err != nil {
		return fmt.Errorf("start worker: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	worker.Stop()
	return nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Env)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Database
	pool, err := openPool(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	// Redis backs OTP codes and, with NOTIFY_ASYNC, the notification queue.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	var notifier notification.Notifier
	if cfg.NotifyAsync {
		client := asynq.NewClient(redisOpt(cfg))
		defer client.Close()
		notifier = notification.NewQueueNotifier(client, logger)
	} else {
		notifier = notification.NewInlineNotifier(newSender(cfg, logger))
	}

	blobs, err := newBlobStore(cfg.BlobDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open blob store")
	}

	signingKey, generated, err := resolveSigningKey(cfg.AuthSigningKey)
	if err != nil {
		return err
	}
	if generated {
		logger.Warn().Msg("AUTH_SIGNING_KEY not set, tokens are signed with a random key and expire on restart")
	}
	jwtCfg := auth.JWTConfig{Issuer: cfg.AuthIssuer, SigningKey: signingKey, Skipper: auth.AuthSkipper}

	// Echo server
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", auth.DevUserHeader, auth.DevRoleHeader},
	}))
	e.Use(middleware.BodyLimit("2M", "20M"))
	if cfg.ResolvedAuthMode() == "development" {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/health/db", db.HealthHandler(pool, db.Check{
		Name: "redis",
		Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	}))

	apiV1 := e.Group("/api/v1")
	rateLimitCfg := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))
	apiV1.Use(middleware.RequestTimeout(60 * time.Second))
	apiV1.Use(middleware.Audit(logger))

	// Repositories
	tx := db.NewTxRunner(pool)
	users := identity.NewUserRepoPG(pool)
	planRepo := calendarplan.NewPlanRepoPG(pool)

	// Services
	tokens := auth.NewTokenIssuer(signingKey, cfg.AuthIssuer, cfg.AuthTokenTTL)
	identitySvc := identity.NewService(users, otp.NewRedisStore(rdb), notifier, tokens, cfg.OTPTTL, logger)
	doctorSvc := doctor.NewService(doctor.NewDoctorRepoPG(pool), users)
	contractSvc := contract.NewService(contract.NewContractRepoPG(pool), contract.NewHistoryRepoPG(pool), users, tx,
		notifier, blobs, cfg.FrontendURL, logger)
	identitySvc.SetEmployerLinker(contractSvc)
	contingentSvc := contingent.NewService(contingent.NewEmployeeRepoPG(pool), users, doctorSvc, tx, logger)
	routeSheetSvc := routesheet.NewService(
		routesheet.NewRouteSheetRepoPG(pool),
		routesheet.NewLaboratoryTestRepoPG(pool),
		routesheet.NewFunctionalTestRepoPG(pool),
		contingentSvc, doctorSvc, planRepo, users, tx, nil, cfg.FrontendURL, logger,
	)
	calendarPlanSvc := calendarplan.NewService(planRepo, routeSheetSvc, contingentSvc, contractSvc, users, logger)
	referralSvc := referral.NewService(referral.NewReferralRepoPG(pool), users, logger)
	expertiseSvc := expertise.NewService(expertise.NewExpertiseRepoPG(pool), routeSheetSvc, referralSvc, users, tx, logger)
	examinationSvc := examination.NewService(examination.NewExaminationRepoPG(pool), users, contingentSvc,
		routeSheetSvc, expertiseSvc, logger)
	hub := websocket.NewHub(logger)
	queueSvc := queue.NewService(queue.NewQueueRepoPG(pool), routeSheetSvc, doctorSvc, hub, tx, logger)
	emergencySvc := emergency.NewService(emergency.NewNotificationRepoPG(pool), users, contingentSvc, notifier, logger)
	healthPlanSvc := healthplan.NewService(healthplan.NewPlanRepoPG(pool), healthplan.NewRecommendationRepoPG(pool), logger)

	// Routes
	identity.NewHandler(identitySvc).RegisterRoutes(apiV1)
	doctor.NewHandler(doctorSvc).RegisterRoutes(apiV1)
	contract.NewHandler(contractSvc).RegisterRoutes(apiV1)
	contingent.NewHandler(contingentSvc).RegisterRoutes(apiV1)
	routesheet.NewHandler(routeSheetSvc).RegisterRoutes(apiV1)
	calendarplan.NewHandler(calendarPlanSvc).RegisterRoutes(apiV1)
	referral.NewHandler(referralSvc).RegisterRoutes(apiV1)
	expertise.NewHandler(expertiseSvc).RegisterRoutes(apiV1)
	examination.NewHandler(examinationSvc).RegisterRoutes(apiV1)
	queue.NewHandler(queueSvc).RegisterRoutes(apiV1)
	emergency.NewHandler(emergencySvc).RegisterRoutes(apiV1)
	healthplan.NewHandler(healthPlanSvc).RegisterRoutes(apiV1)
	blobstore.NewBlobHandler(blobs).RegisterRoutes(apiV1)
	websocket.NewQueueBoardHandler(hub, logger, cfg.CORSOrigins).RegisterRoutes(e.Group(""))

	// Periodic BIN link sweep
	scheduler := cron.New()
	if cfg.LinkSweepSchedule != "" {
		_, err := scheduler.AddFunc(cfg.LinkSweepSchedule, func() {
			n, err := contractSvc.LinkUnlinkedContracts(ctx, nil)
			if err != nil {
				logger.Error().Err(err).Msg("contract link sweep failed")
				return
			}
			logger.Debug().Int("linked", n).Msg("contract link sweep finished")
		})
		if err != nil {
			return fmt.Errorf("invalid LINK_SWEEP_SCHEDULE %q: %w", cfg.LinkSweepSchedule, err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("auth_mode", cfg.ResolvedAuthMode()).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		scheduler.Start()
		<-gctx.Done()
		<-scheduler.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
