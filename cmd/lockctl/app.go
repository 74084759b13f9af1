package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log"

	"github.com/BrandonDHaskell/lockgate/internal/config"
	"github.com/BrandonDHaskell/lockgate/internal/db"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/service"
	"github.com/BrandonDHaskell/lockgate/internal/lockgate/store/sqlite"
)

// app is the core wired against the shared database for one invocation.
type app struct {
	cfg    config.Config
	logger *log.Logger
	out    io.Writer

	conn    *sql.DB
	writer  *db.Worker
	state   *sqlite.StateStore
	creds   *service.CredentialService
	session *service.Session
}

func openApp(ctx context.Context, cfg config.Config, stdout, stderr io.Writer, verbose bool) (*app, error) {
	logOut := io.Discard
	if verbose {
		logOut = stderr
	}
	logger := log.New(logOut, "lockctl ", log.LstdFlags|log.LUTC)

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.DBPath, err)
	}
	writer := db.NewWorker(conn)
	state := sqlite.NewStateStore(conn, writer)
	creds := service.NewCredentialService(sqlite.NewAccountStore(conn, writer), state, service.CredentialConfig{
		PrivilegedEmail: cfg.PrivilegedEmail,
	}, logger)

	return &app{
		cfg:     cfg,
		logger:  logger,
		out:     stdout,
		conn:    conn,
		writer:  writer,
		state:   state,
		creds:   creds,
		session: service.NewSession(creds),
	}, nil
}

func (a *app) Close() {
	a.state.Close()
	a.writer.Close()
	_ = a.conn.Close()
}

func (a *app) machineConfig(lockerID string) service.MachineConfig {
	return service.MachineConfig{
		LockerID:       lockerID,
		UnlockDwell:    a.cfg.UnlockDwell,
		RelockDwell:    a.cfg.RelockDwell,
		ProximityLabel: a.cfg.ProximityLabel,
	}
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}
