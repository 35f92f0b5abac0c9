package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Netflix/go-env"
	"github.com/blugelabs/bluge"
	"github.com/dgraph-io/badger/v4"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"

	"chatd/domain/event"
	"chatd/images"
	"chatd/moderation"
	"chatd/observability"
	"chatd/repositories"
	"chatd/runtime"
	"chatd/runtime/workers"
	"chatd/search"
	"chatd/services"
	"chatd/transport/rest"
	"chatd/transport/ws"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run initializes all components, manages the server lifecycle, and
// centralizes error reporting, so every defer (database close, index
// close) executes before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config Config
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

	// 3. Search index (Bluge)
	writer, err := bluge.OpenWriter(bluge.DefaultConfig(config.SearchIndexPath))
	if err != nil {
		return fmt.Errorf("search index opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing search index...")
		_ = writer.Close()
	}()

	// 4. Repositories
	userRepository, err := repositories.NewUserRepository(db, log)
	if err != nil {
		return err
	}
	defer func() { _ = userRepository.Close() }()

	messageRepository, err := repositories.NewMessageRepository(db, log)
	if err != nil {
		return err
	}
	defer func() { _ = messageRepository.Close() }()

	// Sessions do not survive a restart, so persisted online flags from
	// the previous run are stale by definition.
	if err = userRepository.ResetAllOnline(); err != nil {
		return fmt.Errorf("online state reset failed: %w", err)
	}

	// 5. Moderation
	words, err := moderation.DefaultWords()
	if err != nil {
		return fmt.Errorf("moderation word list: %w", err)
	}
	censor, err := moderation.NewCensor(words, config.ModerationCharReplacement)
	if err != nil {
		return fmt.Errorf("moderation setup failed: %w", err)
	}

	// 6. Core services
	events := make(chan event.DomainEvent, config.EventBufferSize)
	hub := ws.NewHub(log)
	registry := runtime.NewRegistry(userRepository, log)
	messageService := services.NewMessageService(log, userRepository, messageRepository, hub, censor, events)
	lifecycleService := services.NewLifecycleService(log, registry, userRepository, messageService, hub, events)
	historyService := services.NewHistoryService(log, userRepository, messageRepository)
	imageService := images.NewService(log, config.UploadDir, config.MaxImageBytes)
	index := search.NewIndex(writer, log)
	stats := observability.NewStats(log)

	// 7. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 8. Background workers
	sup := workers.NewSupervisor(log)
	sup.Add(workers.NewEventFanout(log, events, config.SinkTimeout, index, stats))

	supDone := make(chan struct{})
	go func() {
		defer close(supDone)
		sup.Run(ctx)
	}()

	// 9. HTTP surface (REST + websocket)
	router := mux.NewRouter()
	router.Handle("/ws", ws.NewHandler(log, hub, lifecycleService, messageService, historyService))
	rest.NewServer(log, lifecycleService, historyService, imageService, index, stats).Routes(router)

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	server := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		log.Info("Starting HTTP server", "address", address, "at", time.Now().UTC())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	// 10. Wait for Stop or Error
	select {
	case <-ctx.Done():
		log.Info("Shutting down gracefully...")
	case err := <-errChan:
		return err
	}

	// 11. Final Cleanup
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown incomplete", "error", err)
	}
	<-supDone
	log.Info("Program stopped cleanly")

	return nil
}
