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

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/amintahir16/lpg-gas-app-sub004/internal/config"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/domain"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/httpapi"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/logger"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/metrics"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/sequence"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/service"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store"
	"github.com/amintahir16/lpg-gas-app-sub004/internal/store/memory"
	pgstore "github.com/amintahir16/lpg-gas-app-sub004/internal/store/postgres"
)

func main() {
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfg config.Config

	root := &cobra.Command{
		Use:           "lpg-core",
		Short:         "Transactional core for LPG cylinder distribution",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg = config.Load()
			logCfg := logger.DefaultConfig()
			logCfg.Level, logCfg.Format = cfg.LogLevel, cfg.LogFormat
			return logger.Setup(logCfg)
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the Postgres schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cfg)
		},
	}

	reconcile := &cobra.Command{
		Use:   "reconcile",
		Short: "Compare every cached account balance with its ledger",
		Example: `  lpg-core reconcile
  lpg-core reconcile --repair`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repair, _ := cmd.Flags().GetBool("repair")
			return runReconcile(cmd.Context(), cfg, repair)
		},
	}
	reconcile.Flags().Bool("repair", false, "Rewrite drifted balances from the ledger")

	root.AddCommand(serve, migrate, reconcile)
	root.RunE = serve.RunE
	return root
}

// app holds everything a command needs plus the closers to release it.
type app struct {
	store   store.Store
	service *service.Service
	metrics *metrics.Collector
	closers []func() error
}

func (a *app) Close(log zerolog.Logger) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn().Err(err).Msg("close error")
		}
	}
}

func bootstrap(ctx context.Context, cfg config.Config) (*app, error) {
	log := logger.WithComponent("bootstrap")
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	a := &app{metrics: metrics.New()}

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback: %w", err)
		}
		a.store = pg
		a.closers = append(a.closers, pg.Close)
		log.Info().Msg("repository: postgres")
	} else {
		a.store = memory.NewSeeded()
		log.Info().Msg("repository: in-memory")
	}

	var counter sequence.CounterStore = a.store
	if cfg.RedisAddr != "" {
		redisCounter := sequence.NewRedisCounter(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCounter.Ping(ctx); err != nil {
			a.Close(log)
			_ = redisCounter.Close()
			// Falling back to the store counter could reissue numbers Redis
			// already handed out.
			return nil, fmt.Errorf("redis counter unavailable and REDIS_ADDR is set: %w", err)
		}
		counter = redisCounter
		a.closers = append(a.closers, redisCounter.Close)
		log.Info().Msg("sequence counter: redis")
	} else {
		log.Info().Msg("sequence counter: store")
	}

	allocator := sequence.NewAllocator(counter,
		sequence.WithLocation(loc),
		sequence.WithBreaker(sequence.BreakerConfig{ConsecutiveFailures: cfg.BreakerFailures, OpenTimeout: cfg.BreakerTimeout}),
		sequence.WithLogger(logger.WithComponent("sequence")),
		sequence.WithFailureHook(a.metrics.AllocationFailed),
	)
	a.service = service.New(a.store, allocator,
		service.WithMetrics(a.metrics),
		service.WithLogger(logger.WithComponent("coordinator")),
	)
	return a, nil
}

func runServe(ctx context.Context, cfg config.Config) error {
	log := logger.WithComponent("server")
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(log)

	if pg, ok := a.store.(*pgstore.Store); ok {
		if err := pg.Migrate(ctx); err != nil {
			return err
		}
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, a.store, logger.WithComponent("auth"))
	api := httpapi.New(a.service, auth, cfg.AllowedOrigin,
		httpapi.WithMetricsHandler(a.metrics.Handler()),
		httpapi.WithLogger(logger.WithComponent("http")),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Address()).Str("timezone", cfg.BusinessTimezone).Msg("lpg core listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sig:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	log.Info().Msg("server stopped")
	return nil
}

func runMigrate(ctx context.Context, cfg config.Config) error {
	if cfg.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required for migrate")
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pg.Close()

	if err := pg.Migrate(ctx); err != nil {
		return err
	}
	log := logger.WithComponent("migrate")
	log.Info().Msg("schema applied")
	return nil
}

func runReconcile(ctx context.Context, cfg config.Config, repair bool) error {
	log := logger.WithComponent("reconcile")
	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close(log)

	// The CLI runs with operator shell access, so it acts as admin.
	ctx = service.WithActor(ctx, domain.Actor{Username: "cli", Role: domain.RoleAdmin})
	drifted, err := a.service.ReconcileAll(ctx, repair)
	if err != nil {
		return err
	}
	for _, report := range drifted {
		log.Warn().
			Str("account", report.AccountID).
			Str("cached_balance", report.CachedBalance.String()).
			Str("folded_balance", report.FoldedBalance.String()).
			Bool("repaired", report.Repaired).
			Msg("balance drift")
	}
	log.Info().Int("drifted", len(drifted)).Bool("repair", repair).Msg("reconcile finished")
	if len(drifted) > 0 && !repair {
		return fmt.Errorf("%d accounts drifted from their ledgers", len(drifted))
	}
	return nil
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if len(cfg.ManagerPIN) < 6 {
		return fmt.Errorf("MANAGER_PIN must be set and at least 6 digits")
	}
	if err := validatePINStrength(cfg.ManagerPIN); err != nil {
		return fmt.Errorf("MANAGER_PIN is too weak: %w", err)
	}
	return nil
}

// validatePINStrength rejects PINs that are all the same digit,
// sequential (ascending or descending), or from a known-weak list.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"222222": true, "333333": true, "444444": true, "555555": true,
		"666666": true, "777777": true, "888888": true, "999999": true,
		"121212": true, "112233": true, "123123": true,
	}
	if known[pin] {
		return fmt.Errorf("common PIN not allowed")
	}

	allSame := true
	for i := 1; i < len(pin); i++ {
		if pin[i] != pin[0] {
			allSame = false
			break
		}
	}
	if allSame {
		return fmt.Errorf("all-same-digit PIN not allowed")
	}

	ascending, descending := true, true
	for i := 1; i < len(pin); i++ {
		diff := int(pin[i]) - int(pin[i-1])
		if diff != 1 {
			ascending = false
		}
		if diff != -1 {
			descending = false
		}
	}
	if ascending || descending {
		return fmt.Errorf("sequential PIN not allowed")
	}

	return nil
}
