package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/campusclinic/clinicq/internal/config"
	"github.com/campusclinic/clinicq/internal/domain/account"
	"github.com/campusclinic/clinicq/internal/domain/messaging"
	"github.com/campusclinic/clinicq/internal/domain/record"
	"github.com/campusclinic/clinicq/internal/domain/scheduling"
	"github.com/campusclinic/clinicq/internal/platform/auth"
	"github.com/campusclinic/clinicq/internal/platform/blobstore"
	"github.com/campusclinic/clinicq/internal/platform/db"
	"github.com/campusclinic/clinicq/internal/platform/idcheck"
	"github.com/campusclinic/clinicq/internal/platform/middleware"
	"github.com/campusclinic/clinicq/internal/platform/notification"
	"github.com/campusclinic/clinicq/internal/platform/web"
	"github.com/campusclinic/clinicq/internal/platform/websocket"
	"github.com/campusclinic/clinicq/migrations"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "clinic-server",
		Short: "Campus clinic appointment and queue server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(emailCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and the queue worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
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

			count, err := db.NewMigrator(pool, migrations.FS).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			printMigrationStatus(statuses)
			return nil
		},
	})

	return cmd
}

func printMigrationStatus(statuses []db.MigrationStatus) {
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
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed accounts",
	}

	staffCmd := &cobra.Command{
		Use:   "staff",
		Short: "Create or reset a clinic staff account",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := account.CreateStaffInput{}
			in.Email, _ = cmd.Flags().GetString("email")
			in.Password, _ = cmd.Flags().GetString("password")
			in.FirstName, _ = cmd.Flags().GetString("first-name")
			in.LastName, _ = cmd.Flags().GetString("last-name")
			in.Position, _ = cmd.Flags().GetString("position")
			in.Role, _ = cmd.Flags().GetString("role")
			if in.Password == "" {
				in.Password = os.Getenv("SEED_STAFF_PASSWORD")
			}

			return withApp(func(ctx context.Context, a *app) error {
				sf, created, err := a.accounts.EnsureStaff(ctx, in)
				if err != nil {
					return err
				}
				verb := "Updated"
				if created {
					verb = "Created"
				}
				fmt.Printf("%s %s account %s (%s)\n", verb, sf.Role, sf.Email, sf.ID)
				return nil
			})
		},
	}
	staffCmd.Flags().String("email", "", "Staff email address")
	staffCmd.Flags().String("password", "", "Password (defaults to $SEED_STAFF_PASSWORD)")
	staffCmd.Flags().String("first-name", "Clinic", "First name")
	staffCmd.Flags().String("last-name", "Administrator", "Last name")
	staffCmd.Flags().String("position", "Nurse", "Position")
	staffCmd.Flags().String("role", auth.RoleAdmin, "Role: staff or admin")
	cmd.AddCommand(staffCmd)

	return cmd
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "assign",
		Short: "Assign queue numbers to confirmed appointments whose slot has started",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(ctx context.Context, a *app) error {
				n, err := a.scheduling.AssignDue(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Assigned %d queue number(s).\n", n)
				return nil
			})
		},
	})
	return cmd
}

func emailCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email",
		Short: "Email delivery",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "worker",
		Short: "Deliver emails queued on SQS",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.EmailQueue != "sqs" {
				return errors.New("EMAIL_QUEUE is not \"sqs\"; nothing to drain")
			}
			logger := newLogger(cfg)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return fmt.Errorf("load aws config: %w", err)
			}
			worker := notification.NewOutboxWorker(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL, directEmailSender(cfg, logger), logger)
			return worker.Run(ctx)
		},
	})
	return cmd
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// app holds the services shared by the server and the maintenance commands.
type app struct {
	cfg        *config.Config
	logger     zerolog.Logger
	pool       *pgxpool.Pool
	sessions   *auth.SessionManager
	hub        *websocket.Hub
	notifier   *notification.Notifier
	accounts   *account.Service
	records    *record.Service
	messaging  *messaging.Service
	scheduling *scheduling.Service
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()
	a, err := buildApp(ctx, cfg, newLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func buildApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*app, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("connected to database")

	var awsCfg *aws.Config
	loadAWS := func() (aws.Config, error) {
		if awsCfg == nil {
			c, err := awsconfig.LoadDefaultConfig(ctx)
			if err != nil {
				return aws.Config{}, fmt.Errorf("load aws config: %w", err)
			}
			awsCfg = &c
		}
		return *awsCfg, nil
	}

	store, err := newSessionStore(ctx, cfg)
	if err != nil {
		pool.Close()
		return nil, err
	}
	sessions := auth.NewSessionManager(store, cfg.SessionCookieName, cfg.SessionTTL, cfg.SessionCookieSecure)

	emailSender := directEmailSender(cfg, logger)
	if cfg.EmailQueue == "sqs" {
		c, err := loadAWS()
		if err != nil {
			pool.Close()
			return nil, err
		}
		emailSender = notification.NewSQSOutbox(sqs.NewFromConfig(c), cfg.SQSQueueURL)
	}
	var smsSender notification.SMSSender
	if cfg.SMSDriver == "twilio" {
		smsSender = notification.NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFrom)
	}
	notifier := notification.NewNotifier(emailSender, smsSender, notification.NewTemplateEngine(cfg.EmailFromName), logger)

	var blobs blobstore.Store
	switch cfg.StorageDriver {
	case "s3":
		c, err := loadAWS()
		if err != nil {
			pool.Close()
			return nil, err
		}
		client := s3.NewFromConfig(c, func(o *s3.Options) { o.UsePathStyle = cfg.S3UsePathStyle })
		blobs = blobstore.NewS3Store(client, cfg.S3Bucket, cfg.S3Prefix)
	default:
		local, err := blobstore.NewLocalStore(cfg.StorageLocalDir)
		if err != nil {
			pool.Close()
			return nil, err
		}
		blobs = local
	}

	var validator idcheck.Validator = idcheck.NoopValidator{}
	if cfg.VisionAPIURL != "" {
		validator = idcheck.NewOCRValidator(idcheck.NewVisionClient(cfg.VisionAPIURL, cfg.VisionAPIKey))
	}

	txm := db.NewTxManager(pool)
	hub := websocket.NewHub(logger)

	accounts := account.NewService(
		account.NewUsertypeRepoPG(pool), account.NewStudentRepoPG(pool), account.NewStaffRepoPG(pool), txm,
		auth.NewTokenIssuer([]byte(cfg.TokenSigningKey)), store, notifier, blobs, validator,
		account.Options{AppBaseURL: cfg.AppBaseURL, ClinicName: cfg.EmailFromName, IDValidationRequired: cfg.IDValidationRequired},
		logger,
	)
	records := record.NewService(record.NewPrecordRepoPG(pool), record.NewHistoryRepoPG(pool), txm, logger)
	msgs := messaging.NewService(messaging.NewNotificationRepoPG(pool), messaging.NewMessageRepoPG(pool), hub, logger)
	sched := scheduling.NewService(scheduling.Deps{
		Schedules:    scheduling.NewScheduleRepoPG(pool),
		Appointments: scheduling.NewAppointmentRepoPG(pool),
		Tx:           txm,
		Records:      records,
		Patients:     &patientDirectory{accounts: accounts},
		Notifier:     notifier,
		Inbox:        msgs,
		Publisher:    hub,
		Location:     loc,
		Logger:       logger,
	})

	return &app{
		cfg:        cfg,
		logger:     logger,
		pool:       pool,
		sessions:   sessions,
		hub:        hub,
		notifier:   notifier,
		accounts:   accounts,
		records:    records,
		messaging:  msgs,
		scheduling: sched,
	}, nil
}

func (a *app) Close() {
	if err := a.sessions.Store().Close(); err != nil {
		a.logger.Warn().Err(err).Msg("close session store")
	}
	a.pool.Close()
}

func newSessionStore(ctx context.Context, cfg *config.Config) (auth.Store, error) {
	if cfg.SessionStore == "redis" {
		return auth.NewRedisStore(ctx, cfg.RedisURL)
	}
	return auth.NewMemoryStore(), nil
}

func directEmailSender(cfg *config.Config, logger zerolog.Logger) notification.EmailSender {
	switch cfg.EmailDriver {
	case "api":
		return notification.NewAPISender(cfg.EmailAPIURL, cfg.EmailAPIKey, cfg.EmailFrom, cfg.EmailFromName)
	case "smtp":
		return notification.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUsername, cfg.SMTPPassword, cfg.EmailFrom, cfg.EmailFromName)
	default:
		return notification.NewLogSender(logger)
	}
}

func runServer() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()

	e, err := newServer(a)
	if err != nil {
		return err
	}

	worker := scheduling.NewQueueWorker(a.scheduling, cfg.QueuePollInterval, logger)
	go worker.Start(ctx)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(a *app) (*echo.Echo, error) {
	cfg, logger := a.cfg, a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.HTTPErrorHandler(logger)

	renderer, err := web.NewRenderer()
	if err != nil {
		return nil, err
	}
	e.Renderer = renderer

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders(cfg.IsProduction()))
	e.Use(middleware.BodyLimit("1M", "6M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders:     []string{"Content-Type", "X-Request-ID"},
		AllowCredentials: true,
	}))
	e.Use(a.sessions.Load())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/health/db", db.HealthHandler(a.pool))

	limiter := middleware.RateLimit(rateLimitConfig(cfg))

	apiV1 := e.Group("/api/v1")
	account.NewHandler(a.accounts, a.sessions).RegisterRoutes(apiV1, limiter)
	scheduling.NewHandler(a.scheduling).RegisterRoutes(apiV1)
	record.NewHandler(a.records).RegisterRoutes(apiV1)
	messaging.NewHandler(a.messaging).RegisterRoutes(apiV1)

	websocket.NewHandler(a.hub, a.sessions, a.messaging, cfg.CORSOrigins).RegisterRoutes(e)
	web.NewBoardHandler(&boardSource{svc: a.scheduling}, cfg.EmailFromName).RegisterRoutes(e)

	return e, nil
}

func rateLimitConfig(cfg *config.Config) middleware.RateLimitConfig {
	rl := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rl.RequestsPerSecond <= 0 || rl.BurstSize <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	return rl
}

// patientDirectory implements scheduling.PatientDirectory over student
// accounts.
type patientDirectory struct {
	accounts interface {
		GetStudent(ctx context.Context, id uuid.UUID) (*account.Student, error)
	}
}

func (d *patientDirectory) Patient(ctx context.Context, studentID uuid.UUID) (*scheduling.Patient, error) {
	s, err := d.accounts.GetStudent(ctx, studentID)
	if err != nil {
		return nil, err
	}
	p := &scheduling.Patient{Name: s.FullName(), Email: s.Email}
	if s.Phone != nil {
		p.Phone = *s.Phone
	}
	return p, nil
}

// boardSource implements web.BoardSource from the live queue view.
type boardSource struct {
	svc interface {
		QueueView(ctx context.Context, scheduleID uuid.UUID) (*scheduling.QueueView, error)
	}
}

func (b *boardSource) Board(ctx context.Context, scheduleID uuid.UUID) (*web.Board, error) {
	v, err := b.svc.QueueView(ctx, scheduleID)
	if errors.Is(err, scheduling.ErrScheduleNotFound) {
		return nil, web.ErrBoardNotFound
	}
	if err != nil {
		return nil, err
	}
	return &web.Board{
		Date:         v.Schedule.Date.Format("Monday, January 2, 2006"),
		StartTime:    v.Schedule.StartTime.String(),
		EndTime:      v.Schedule.EndTime.String(),
		NowServing:   v.NowServing,
		Next:         v.Next,
		WaitingCount: v.WaitingCount,
		UpdatedAt:    time.Now(),
	}, nil
}
