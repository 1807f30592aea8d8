package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"heads-or-tails/config"
	"heads-or-tails/handlers"
	"heads-or-tails/logging"
	"heads-or-tails/middleware"
	"heads-or-tails/registry"
	"heads-or-tails/services"
	"heads-or-tails/utils"
	"heads-or-tails/workers"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/inconshreveable/log15"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cmd := &cobra.Command{
		Use:          "heads-or-tails",
		Short:        "Commit-reveal coin-flip escrow service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			return run(path)
		},
	}
	cmd.Flags().StringP("config", "c", "", "TOML config file (default $"+config.EnvConfigPath+")")

	if err := cmd.Execute(); err != nil {
		log15.Crit("❌ service stopped", "err", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return errors.Wrap(err, "load config")
	}
	logging.Setup(cfg.Log)
	log := logging.New("module", "main")

	db, err := gorm.Open(postgres.Open(cfg.Database.URL), &gorm.Config{TranslateError: true})
	if err != nil {
		return errors.Wrap(err, "failed to connect to database")
	}
	reg := registry.NewGormRegistry(db)
	if err := reg.Migrate(); err != nil {
		return errors.Wrap(err, "failed to migrate database")
	}

	rules, err := rulesFrom(cfg.Game)
	if err != nil {
		return err
	}
	clock := clockwork.NewRealClock()
	svc := services.NewCoinFlipService(reg, rules, clock)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Archive.Bucket != "" {
		store, err := utils.NewObjectStore(ctx, utils.R2Options{
			AccountID:       cfg.Archive.AccountID,
			AccessKeyID:     cfg.Archive.AccessKeyID,
			AccessKeySecret: cfg.Archive.AccessKeySecret,
			Bucket:          cfg.Archive.Bucket,
			Endpoint:        cfg.Archive.Endpoint,
		})
		if err != nil {
			return errors.Wrap(err, "failed to initialize R2 client")
		}
		svc.Archive = store
		log.Info("archiving ended games", "bucket", cfg.Archive.Bucket)
	}

	if cfg.Ledger.URL != "" {
		ledger := workers.NewLedgerClient(cfg.Ledger.URL, cfg.Ledger.Token, cfg.Ledger.Timeout.Duration)
		dispatcher := workers.NewTransferDispatcher(reg, ledger, clock, cfg.Ledger.PollInterval.Duration, cfg.Ledger.BatchSize)
		svc.Payouts = dispatcher
		go dispatcher.Run(ctx)
	} else {
		log.Warn("⚠️ LEDGER_URL not set, transfers stay pending in the outbox")
	}

	if cfg.Cleaner.Interval.Duration > 0 {
		sched, err := svc.StartCleanerScheduler(ctx, cfg.Cleaner.Interval.Duration)
		if err != nil {
			return errors.Wrap(err, "start cleaner scheduler")
		}
		defer func() { _ = sched.Shutdown() }()
	}

	app := fiber.New(fiber.Config{
		BodyLimit:             64 * 1024,
		DisableStartupMessage: true,
	})

	// 🔐❗ GLOBAL: Only Gateway requests allowed
	app.Use(middleware.GatewayAuthMiddleware(cfg.HTTP.ServiceToken))
	app.Use(cors.New(cors.Config{
		AllowOrigins:     strings.Join(cfg.HTTP.AllowedOrigins, ","),
		AllowMethods:     "GET,POST,OPTIONS,HEAD",
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Request-ID, X-User-ID, X-User-Roles, X-Attached-Deposit",
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	handlers.SetupCoinFlipRoutes(app, svc)

	go func() {
		if err := app.Listen(cfg.HTTP.Addr); err != nil {
			log.Error("server error", "err", err)
			stop()
		}
	}()
	log.Info("✅ coin-flip service running", "addr", cfg.HTTP.Addr, "reveal_timeout", rules.RevealTimeout, "min_stake", rules.MinStake)

	<-ctx.Done()
	log.Info("shutting down server...")
	return app.ShutdownWithTimeout(10 * time.Second)
}

func rulesFrom(g config.Game) (services.Rules, error) {
	lo, err := g.MinStakeUnits()
	if err != nil {
		return services.Rules{}, err
	}
	hi, err := g.MaxStakeUnits()
	if err != nil {
		return services.Rules{}, err
	}
	return services.Rules{
		MinStake:           lo,
		MaxStake:           hi,
		RevealTimeout:      g.RevealTimeout.Duration,
		UnitDecimals:       g.UnitDecimals,
		Admins:             g.Admins,
		InitializedForfeit: g.InitializedForfeit,
	}, nil
}
