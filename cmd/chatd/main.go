package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"roomsync/attachment"
	"roomsync/errors"
	"roomsync/identity"
	"roomsync/internal"
	"roomsync/moderation"
	"roomsync/notification"
	"roomsync/repositories"
	"roomsync/runtime"
	"roomsync/runtime/workers"
	"roomsync/search"
	"roomsync/services"
	"roomsync/session"

	"github.com/Netflix/go-env"
	"github.com/dgraph-io/badger/v4"
	"github.com/joho/godotenv"
	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and returns once they all stopped, so that
// deferred cleanups run before the process exits.
func run() error {
	// 1. Configuration & Logger
	_ = godotenv.Load()
	var config internal.Config
	if _, err := env.UnmarshalFromEnviron(&config); err != nil {
		return fmt.Errorf("config error: %w", err)
	}
	log := logs.GetLoggerFromString(config.LogLevel)

	// 2. Stores
	db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
		WithLoggingLevel(badger.WARNING))
	if err != nil {
		return fmt.Errorf("database opening failed: %w", err)
	}
	defer func() {
		log.Info("Closing BadgerDB...")
		_ = db.Close()
	}()

	clock, err := repositories.NewClock(db)
	if err != nil {
		return fmt.Errorf("clock: %w", err)
	}
	defer func() { _ = clock.Close() }()

	index, err := search.OpenIndex(config.BlugeFilepath, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("Closing search index...")
		_ = index.Close()
	}()

	// 3. Core
	chats := repositories.NewChatRepository(db, log)
	messages := repositories.NewMessageRepository(db, clock, log, config.LimitMessages)
	feed := repositories.NewFeedRepository(db, log)

	engine := runtime.NewEngine(log, feed)
	engine.RegisterSink(index)
	defer engine.Stop()

	aggregates := services.NewAggregates(chats, log)
	messageLog := services.NewMessageLog(messages, aggregates, engine, log).WithIndex(index)
	if config.CensoredDir != "" {
		moderator, err := loadModerator(config, log)
		if err != nil {
			return err
		}
		messageLog.WithModerator(moderator)
	}
	directory := services.NewDirectory(chats, clock, engine, log)

	blobs, err := attachment.NewDiskStore(config.BlobDir)
	if err != nil {
		return err
	}
	attacher := attachment.NewAttacher(blobs, config.MaxAttachmentSize, log)
	verifier := identity.NewVerifier([]byte(config.JWTSecret), config.JWTIssuer)
	sessions := session.NewManager(verifier, identity.NewMemoryDirectory(), directory, messageLog,
		attacher, notification.NewLogSink(log), log)

	// 4. Background workers
	sup := workers.NewSupervisor(log).WithRestartDelay(config.RestartInterval)
	sup.Add(
		workers.NewFeedWorker(log, feed, engine),
		workers.NewReconcileWorker(log, aggregates, config.ReconcileInterval),
		workers.NewJanitorWorker(log, chats, config.JanitorInterval),
		workers.NewProcessStatsWorker(log, config.MetricInterval),
	)

	// 5. Servers
	grpcServer := grpc.NewServer(grpc.UnaryInterceptor(identity.UnaryInterceptor(verifier,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_List_FullMethodName,
	)))
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/rooms", roomsHandler(directory, log))
	mux.HandleFunc("POST /rooms/{chatID}/files", uploadHandler(sessions, config.MaxAttachmentSize, log))
	metricsServer := &http.Server{Addr: config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	address := fmt.Sprintf("%s:%d", config.Host, config.Port)
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", address, err)
	}

	// 6. Lifecycle
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sup.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := engine.WaitLive(ctx); err != nil {
			return nil
		}
		log.Info("Change feed live, serving")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		return nil
	})
	g.Go(func() error {
		log.Info("Starting gRPC server", "address", address)
		if err := grpcServer.Serve(listener); err != nil && !stderrors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("Starting metrics server", "address", config.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down gracefully...")
		healthServer.Shutdown()
		grpcServer.GracefulStop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		sup.Stop()
		return nil
	})

	err = g.Wait()
	log.Info("Program stopped", "error", err)
	return err
}

func loadModerator(config internal.Config, log *slog.Logger) (*moderation.Moderator, error) {
	char, err := internal.CharacterRune(config.CharReplacement)
	if err != nil {
		return nil, err
	}
	list, err := moderation.LoadWords(os.DirFS(config.CensoredDir), ".")
	if err != nil {
		return nil, fmt.Errorf("load censored words: %w", err)
	}
	log.Info("Censored words loaded", "words", len(list.Words), "languages", list.Languages)
	return moderation.NewModerator(list.Words, char, log)
}

// roomsHandler lists the room directory with its aggregates, for operators.
func roomsHandler(directory services.IDirectory, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := directory.ListRooms(r.Context())
		if err != nil {
			log.Error("Listing rooms failed", "error", err)
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(rooms)
	}
}

// uploadHandler stores the request body as a file message of the room, on
// behalf of the bearer of the Authorization token.
func uploadHandler(sessions *session.Manager, maxSize int64, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			http.Error(w, "missing bearer token", http.StatusUnauthorized)
			return
		}
		s, err := sessions.Open(r.Context(), token)
		if err != nil {
			writeError(w, err)
			return
		}
		defer s.Close()

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSize+1))
		if err != nil {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		msg, err := s.SendFile(r.Context(), r.PathValue("chatID"), r.URL.Query().Get("name"), data)
		if err != nil {
			log.Debug("Upload rejected", "user_id", s.Principal.UserID, "error", err)
			writeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(msg)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, errors.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, errors.ErrTransient):
		status = http.StatusServiceUnavailable
	}
	http.Error(w, err.Error(), status)
}
