package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/iliyamo/hospital-bed-manager/internal/config"
	"github.com/iliyamo/hospital-bed-manager/internal/database"
	"github.com/iliyamo/hospital-bed-manager/internal/handler"
	"github.com/iliyamo/hospital-bed-manager/internal/middleware"
	"github.com/iliyamo/hospital-bed-manager/internal/model"
	"github.com/iliyamo/hospital-bed-manager/internal/queue"
	"github.com/iliyamo/hospital-bed-manager/internal/repository"
	"github.com/iliyamo/hospital-bed-manager/internal/router"
	"github.com/iliyamo/hospital-bed-manager/internal/service"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "server",
		Short: "Hospital bed occupancy API",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(consumeCmd())
	rootCmd.AddCommand(userCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(cfg config.Config) zerolog.Logger {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel)); err == nil && cfg.LogLevel != "" {
		logger = logger.Level(lvl)
	}
	return logger
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func runServer(ctx context.Context, cfg config.Config, logger zerolog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := database.OpenConfig(cfg)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	logger.Info().Msg("connected to database")

	opts := []service.Option{service.WithLogger(logger)}

	// Redis is optional: without it rate limiting and caching are off.
	var rateLimit, cache echo.MiddlewareFunc
	if rdb, err := config.NewRedisClient(ctx); err != nil {
		logger.Warn().Err(err).Msg("redis unavailable, rate limit and cache disabled")
	} else {
		defer rdb.Close()
		rateLimit = middleware.NewTokenBucket(cfg.RateLimit, rdb, logger)
		if cfg.Cache.Enabled {
			cache = middleware.NewRedisCache(cfg.Cache, rdb)
			opts = append(opts, service.WithCacheInvalidator(middleware.NewCacheInvalidator(cfg.Cache, rdb)))
		}
	}
	if cfg.EventsEnabled {
		opts = append(opts, service.WithEvents(queue.NewPublisher(cfg.RabbitURL, logger)))
	}

	store := repository.NewSQLStore(db)
	registry := service.NewBedRegistry(store, opts...)
	occupancy := service.NewOccupancyService(store, opts...)
	stats := service.NewStatsAggregator(store)

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg,
		repository.NewUserRepo(db), repository.NewTokenRepo(db)), cfg.JWTSecret)
	router.RegisterAdmin(e, router.Admin{
		Beds:      handler.NewBedHandler(registry),
		Occupancy: handler.NewOccupancyHandler(occupancy, stats),
		JWTSecret: cfg.JWTSecret,
		RateLimit: rateLimit,
		Cache:     cache,
	})

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
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
			cfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			db, err := database.OpenConfig(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			count, err := database.NewMigrator(db).Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadDatabase()
			if err != nil {
				return err
			}
			db, err := database.OpenConfig(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			statuses, err := database.NewMigrator(db).Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-30s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				state, at := "pending", ""
				if s.Applied {
					state = "applied"
					at = s.AppliedAt.Format(time.RFC3339)
				}
				fmt.Fprintf(out, "%-10d %-30s %-10s %s\n", s.Version, s.Name, state, at)
			}
			return nil
		},
	})
	return cmd
}

func consumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "consume",
		Short: "Append occupancy events from RabbitMQ to the occupancy log",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(cfg)
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			c := queue.NewConsumer(cfg.RabbitURL, cfg.OccupancyLogDir, logger)
			logger.Info().Str("dir", cfg.OccupancyLogDir).Msg("occupancy consumer started")
			if err := c.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			logger.Info().Msg("occupancy consumer stopped")
			return nil
		},
	}
}

// userCmd creates accounts from the command line.  It is the only way to
// create ADMIN users; self-registration never grants that role.
func userCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
	}
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user account",
		RunE: func(cmd *cobra.Command, args []string) error {
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			role, _ := cmd.Flags().GetString("role")
			if strings.TrimSpace(email) == "" || password == "" {
				return errors.New("--email and --password are required")
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			db, err := database.OpenConfig(cfg)
			if err != nil {
				return err
			}
			defer db.Close()

			id, err := repository.NewUserRepo(db).Create(cmd.Context(), email, password, role, cfg.BcryptCost)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d (%s)\n", id, model.NormalizeRole(role))
			return nil
		},
	}
	create.Flags().String("email", "", "Account email")
	create.Flags().String("password", "", "Account password")
	create.Flags().String("role", model.RoleAdmin, "ADMIN, DOCTOR, PATIENT or STAFF")
	cmd.AddCommand(create)
	return cmd
}
