package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"ragefit/pos/internal/config"
	"ragefit/pos/internal/domain"
	"ragefit/pos/internal/events"
	"ragefit/pos/internal/httpapi"
	"ragefit/pos/internal/inventory"
	"ragefit/pos/internal/logger"
	"ragefit/pos/internal/printer"
	"ragefit/pos/internal/printq"
	"ragefit/pos/internal/service"
	"ragefit/pos/internal/store"
	"ragefit/pos/internal/store/memory"
	pgstore "ragefit/pos/internal/store/postgres"
)

type serveOptions struct {
	migrate  bool
	seedDemo bool
}

func newServeCmd(a *app) *cobra.Command {
	var opts serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the register and its HTTP command surface",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), a.cfg, opts)
		},
	}
	cmd.Flags().BoolVar(&opts.migrate, "migrate", false, "apply Postgres migrations before starting")
	cmd.Flags().BoolVar(&opts.seedDemo, "seed-demo", false, "load the demo catalog into an empty Postgres inventory")
	return cmd
}

func serve(ctx context.Context, cfg config.Config, opts serveOptions) error {
	if err := validateSecurityConfig(cfg); err != nil {
		return fmt.Errorf("invalid security configuration: %w", err)
	}
	log := logger.WithComponent("server")

	bootCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	closers := make([]func() error, 0, 3)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn().Err(err).Msg("close error")
			}
		}
	}()

	repo, closeRepo, err := openRepository(bootCtx, cfg, opts, log)
	if err != nil {
		return err
	}
	closers = append(closers, closeRepo)

	bus := events.NewBus(logger.WithComponent("events"))
	publishers := events.Fanout{bus}
	var journal printq.Journal = printq.NoopJournal{}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(bootCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, print queue is not journaled and changes stay local")
			_ = client.Close()
		} else {
			bridge := events.NewRedisBridge(client, cfg.RegisterID, logger.WithComponent("events"))
			publishers = append(publishers, bridge)
			journal = printq.NewRedisJournal(client, cfg.RegisterID)
			closers = append(closers, client.Close, bridge.Close)
			log.Info().Str("addr", cfg.RedisAddr).Msg("print journal: redis")
		}
	}

	repo = store.Notifying(repo, publishers)
	engine := service.New(repo, inventory.NewLedger(repo.Inventory()), service.Options{
		Branding: brandingFrom(cfg),
		Location: loadLocation(cfg.Timezone),
		Logger:   logger.WithComponent("service"),
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, cfg.ManagerPIN, repo.Users(), logger.WithComponent("auth"))

	connector, err := printerConnector(cfg)
	if err != nil {
		return err
	}
	queueLog := logger.WithComponent("printq")
	delay := printDelay(cfg)
	api := httpapi.New(engine, auth, httpapi.Options{
		AllowedOrigin: cfg.AllowedOrigin,
		NewQueue: func(ctx context.Context) (*printq.Queue, error) {
			q := printq.New(printq.Options{Delay: delay, Journal: journal, Publisher: publishers, Logger: queueLog})
			if err := q.Restore(ctx); err != nil {
				_ = q.Close()
				return nil, err
			}
			return q, nil
		},
		Printer: connector,
		Bus:     bus,
		Logger:  logger.WithComponent("httpapi"),
	})

	// Streams hang off baseCtx so shutdown can end them.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	server.RegisterOnShutdown(cancelBase)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Address()).Str("register", cfg.RegisterID).Msg("POS register listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("shutdown error")
	}
	if err := api.Close(); err != nil {
		log.Warn().Err(err).Msg("close sessions")
	}
	log.Info().Msg("server stopped")
	return nil
}

// openRepository picks Postgres when DATABASE_URL is set and the seeded
// in-memory store otherwise. A configured but unreachable database is
// fatal rather than silently falling back.
func openRepository(ctx context.Context, cfg config.Config, opts serveOptions, log zerolog.Logger) (store.Repository, func() error, error) {
	if cfg.DatabaseURL == "" {
		log.Warn().Msg("repository: in-memory, data is lost on exit")
		repo := memory.NewSeeded()
		return repo, repo.Close, nil
	}

	if opts.migrate {
		if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
	}
	pg, err := pgstore.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("postgres unavailable and DATABASE_URL is set: %w", err)
	}
	if err := seedIfEmpty(ctx, pg, memory.NewSeeded(), opts.seedDemo, log); err != nil {
		_ = pg.Close()
		return nil, nil, err
	}
	log.Info().Msg("repository: postgres")
	return pg, pg.Close, nil
}

// seedIfEmpty copies the seed operator accounts into an empty users table,
// and the demo catalog into an empty inventory when withCatalog is set.
func seedIfEmpty(ctx context.Context, dst store.Repository, seed store.Repository, withCatalog bool, log zerolog.Logger) error {
	users, err := dst.Users().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("check operators: %w", err)
	}
	if len(users) == 0 {
		if err := copyAll(ctx, seed.Users(), dst.Users()); err != nil {
			return fmt.Errorf("seed operators: %w", err)
		}
		log.Info().Msg("seeded operator accounts")
	}
	if !withCatalog {
		return nil
	}
	items, err := dst.Inventory().GetAll(ctx)
	if err != nil {
		return fmt.Errorf("check inventory: %w", err)
	}
	if len(items) == 0 {
		if err := copyAll(ctx, seed.Inventory(), dst.Inventory()); err != nil {
			return fmt.Errorf("seed inventory: %w", err)
		}
		log.Info().Msg("seeded demo catalog")
	}
	return nil
}

func copyAll[T store.Record](ctx context.Context, from, to store.Table[T]) error {
	records, err := from.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, record := range records {
		if err := to.Add(ctx, record); err != nil && !errors.Is(err, store.ErrConflict) {
			return err
		}
	}
	return nil
}

func printerConnector(cfg config.Config) (printer.Connector, error) {
	switch cfg.PrinterKind {
	case "", "none":
		return nil, nil
	case "usb":
		return printer.DeviceConnector{Path: cfg.PrinterDevice}, nil
	case "file":
		return printer.DeviceConnector{Path: cfg.PrinterDevice, Append: true}, nil
	default:
		return nil, fmt.Errorf("unknown PRINTER_KIND %q (want none, usb or file)", cfg.PrinterKind)
	}
}

// printDelay maps PRINT_JOB_DELAY_MS onto the queue option, where an
// explicit 0 turns the pause off.
func printDelay(cfg config.Config) time.Duration {
	if cfg.PrintJobDelayMS == 0 {
		return printq.NoDelay
	}
	return time.Duration(cfg.PrintJobDelayMS) * time.Millisecond
}

func brandingFrom(cfg config.Config) domain.Branding {
	return domain.Branding{
		BusinessName:   cfg.BusinessName,
		Address:        cfg.BusinessAddress,
		CurrencyPrefix: cfg.CurrencyPrefix,
	}
}

// loadLocation falls back to UTC for an unknown zone name.
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		logger.WithComponent("server").Warn().Err(err).Str("timezone", name).Msg("unknown timezone, using UTC")
		return time.UTC
	}
	return loc
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

// validatePINStrength rejects PINs that repeat one digit, run in sequence,
// or appear on a short list of common choices.
func validatePINStrength(pin string) error {
	known := map[string]bool{
		"123456": true, "654321": true, "000000": true, "111111": true,
		"121212": true, "112233": true, "123123": true, "696969": true,
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
