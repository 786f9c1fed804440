package main

import (
	"chatter/auth"
	"chatter/infrastructure/relay"
	"chatter/internal"
	"chatter/moderation"
	"chatter/observability"
	"chatter/repositories"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires the relay and blocks until a signal or a server failure.
// Deferred cleanups run before main exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.RelayConfig
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Database (BadgerDB)
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	// 3. Auth, Moderation & Repositories
	signer, err := auth.NewSigner(config.JWTSecret, config.AuthTokenDuration)
	if err != nil {
		return fmt.Errorf("signer error: %w", err)
	}
	replacement, err := internal.CharacterRune(config.CharacterReplacement)
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	moderator, err := moderation.NewModerator(config.Dictionary(), replacement)
	if err != nil {
		return fmt.Errorf("moderator error: %w", err)
	}
	server := relay.NewServer(log, relay.Config{
		HistoryLimit:     config.HistoryLimit,
		MaxContentLength: config.MaxContentLength,
		WriteTimeout:     config.WriteTimeout,
		SendQueueSize:    config.SendQueueSize,
		Moderator:        moderator,
		Monitor:          observability.NewMonitor(log),
	},
		signer,
		repositories.NewUserRepository(db),
		repositories.NewRoomRepository(db),
		repositories.NewMessageRepository(db, log, config.LimitMessages),
	)

	router := chi.NewRouter()
	router.Mount("/", server.Router())
	if config.EnableInspect {
		router.Handle("/debug/inspect", internal.InspectHandler(db, internal.DefaultMapper))
		router.Handle("/debug/stats", server.StatsHandler())
		log.Warn("Debug endpoints enabled", "paths", []string{"/debug/inspect", "/debug/stats"})
	}

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. HTTP Server Setup
	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	httpServer := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting relay", "address", address, "at", time.Now().UTC())
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server error: %w", err)
		}
	}()

	// 6. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 7. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	server.Hub().Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Forced shutdown", "error", err)
	}
	log.Info("Relay stopped cleanly")
	return nil
}
