package main

import (
	"context"
	"errors"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BrandonDHaskell/lockgate/internal/config"
	"github.com/BrandonDHaskell/lockgate/internal/db"
	"github.com/BrandonDHaskell/lockgate/internal/grpcapi"
	"github.com/BrandonDHaskell/lockgate/internal/httpapi"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/service"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store/memory"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store/sqlite"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/types"
	"github.com/BrandonDHaskell/lockgate/internal/telemetry"
)

func main() {
	logger := log.New(os.Stdout, "lockgate-server ", log.LstdFlags|log.LUTC)

	// Load .env file for local development. In production, env vars are set directly.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Printf(".env not loaded: %v", err)
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, "lockgate-server", cfg.OTLPEndpoint)
	if err != nil {
		logger.Printf("tracing disabled: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	// Stores
	var (
		state    store.StateStore
		accounts store.AccountStore
	)
	switch cfg.StoreBackend {
	case "memory":
		ms := memory.NewStateStore()
		defer ms.Close()
		for _, id := range cfg.Lockers {
			if err := ms.Set(ctx, store.Join(service.LockersPath, id, "open"), types.CommandIdle); err != nil {
				logger.Fatalf("seed locker %s: %v", id, err)
			}
		}
		state, accounts = ms, memory.NewAccountStore()

	default:
		conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
		if err != nil {
			logger.Fatalf("db: %v", err)
		}
		defer conn.Close()

		if cfg.Env == "dev" {
			if err := db.SeedDev(ctx, conn, db.SeedDevOptions{Lockers: cfg.Lockers}); err != nil {
				logger.Fatalf("seed: %v", err)
			}
		}

		writer := db.NewWorker(conn)
		defer writer.Close()

		ss := sqlite.NewStateStore(conn, writer)
		defer ss.Close()
		// lockctl and other processes write to the same file.
		ss.WatchExternal(ctx, cfg.ExternalPollInterval, logger)

		state, accounts = ss, sqlite.NewAccountStore(conn, writer)
	}

	// Services
	creds := service.NewCredentialService(accounts, state, service.CredentialConfig{
		PrivilegedEmail: cfg.PrivilegedEmail,
	}, logger)
	if cfg.Env == "dev" && cfg.DevAdminEmail != "" {
		seedAdmin(ctx, creds, cfg, logger)
	}

	gw := service.NewGateway(cfg.Lockers, service.MachineConfig{
		UnlockDwell:    cfg.UnlockDwell,
		RelockDwell:    cfg.RelockDwell,
		ProximityLabel: cfg.ProximityLabel,
	}, state, nil, service.AccessPolicy{}, logger)
	defer gw.Close()

	for _, id := range gw.IDs() {
		m, _ := gw.Locker(id)
		m.Subscribe(func(c types.StatusChange) {
			if c.Err != nil {
				logger.Printf("locker %s: %s: %v", c.LockerID, c.Status, c.Err)
				return
			}
			logger.Printf("locker %s: %s method=%s actor=%q", c.LockerID, c.Status, c.Method, c.Actor)
		})
	}

	watchdog := service.NewCommandWatchdog(gw, state, service.WatchdogConfig{
		Interval: cfg.WatchInterval,
	}, logger)
	watchdog.Start(ctx)
	defer watchdog.Stop()

	history := service.NewHistoryReader(state, logger)
	tokens := service.NewTokenIssuer([]byte(cfg.TokenSecret), cfg.TokenTTL)

	// HTTP
	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:      logger,
		Addr:        cfg.HTTPAddr,
		Gateway:     gw,
		History:     history,
		Credentials: creds,
		Profiles:    service.NewProfileService(state, logger),
		Tokens:      tokens,
	})

	go func() {
		logger.Printf("http listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil {
			logger.Printf("http server error: %v", err)
			stop()
		}
	}()

	// gRPC
	gs, health := grpcapi.NewGRPCServer(grpcapi.Dependencies{
		Logger:  logger,
		Gateway: gw,
		History: history,
		Tokens:  tokens,
	})
	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		logger.Fatalf("grpc listen: %v", err)
	}
	go func() {
		logger.Printf("grpc listening on %s", cfg.GRPCAddr)
		if err := gs.Serve(lis); err != nil {
			logger.Printf("grpc server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	health.Shutdown()
	_ = srv.Shutdown(shutdownCtx)

	// Watch streams only end when their clients leave.
	stopped := make(chan struct{})
	go func() {
		gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		gs.Stop()
	}
}

func seedAdmin(ctx context.Context, creds *service.CredentialService, cfg config.Config, logger *log.Logger) {
	_, err := creds.Register(ctx, cfg.DevAdminEmail, cfg.DevAdminPassword, "Admin")
	switch {
	case err == nil:
		logger.Printf("dev admin %s created", cfg.DevAdminEmail)
	case errors.Is(err, store.ErrEmailTaken):
	default:
		logger.Printf("dev admin seed: %v", err)
	}
}
