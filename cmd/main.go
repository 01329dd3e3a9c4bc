/*
Package main is the entry point for the chat server.

It loads configuration, initializes the global logger, opens the credential backend,
starts the presence coordinator and the HTTP server, and shuts everything down in order
on SIGINT or SIGTERM.
*/
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fnchat/internal/app/chat"
	"fnchat/internal/app/db"
	"fnchat/internal/app/identity"
	"fnchat/internal/app/room"
	"fnchat/internal/app/storage"
	"fnchat/internal/app/user"
	"fnchat/internal/configs"
	"fnchat/internal/handler"
	"fnchat/internal/pkg/logx"
)

func main() {
	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.IsDevelopment())
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Int("port", cfg.Port).
		Strs("allowed_origins", cfg.AllowedOrigins).
		Dur("away_timeout", cfg.AwayTimeout).
		Str("credentials_backend", cfg.CredentialsBackend).
		Msg("Configuration loaded successfully")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rooms := room.Default()
	if cfg.RoomsFile != "" {
		if rooms, err = room.LoadFile(cfg.RoomsFile); err != nil {
			logx.Fatal(err, "Failed to load rooms", "file", cfg.RoomsFile)
		}
	}

	roles := user.DefaultRoleBook()
	if cfg.RolesFile != "" {
		if roles, err = user.LoadRoles(cfg.RolesFile); err != nil {
			logx.Fatal(err, "Failed to load roles", "file", cfg.RolesFile)
		}
	}

	backend, closeBackend, err := openCredentialBackend(ctx, cfg)
	if err != nil {
		logx.Fatal(err, "Failed to open credential backend", "backend", cfg.CredentialsBackend)
	}
	defer closeBackend()

	store, err := identity.NewStore(ctx, backend)
	if err != nil {
		logx.Fatal(err, "Failed to load credentials")
	}

	coordinator := chat.NewCoordinator(chat.Options{
		Rooms:       rooms,
		Roles:       roles,
		Protected:   store,
		AwayTimeout: cfg.AwayTimeout,
	})

	coordCtx, stopCoordinator := context.WithCancel(context.Background())
	coordDone := make(chan struct{})
	go func() {
		coordinator.Run(coordCtx)
		close(coordDone)
	}()

	router := handler.Router(&handler.AppDeps{
		Coordinator: coordinator,
		Identity:    store,
		Config:      cfg,
	})

	serverAddr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		logx.Info("Chat server starting", "addr", serverAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Fatal(err, "Server failed to start")
		}
	}()

	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logx.Error(err, "Server forced to shutdown")
	}

	// Closing every connection queue ends the remaining websocket pumps.
	stopCoordinator()
	<-coordDone

	store.Flush()

	logx.Info("Server gracefully stopped.")
}

// openCredentialBackend returns the configured backend and a function releasing its resources.
func openCredentialBackend(ctx context.Context, cfg *configs.AppConfig) (identity.Backend, func(), error) {
	switch cfg.CredentialsBackend {
	case configs.BackendPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, nil, err
		}
		return identity.NewPostgresBackend(pool), pool.Close, nil

	case configs.BackendS3:
		objects, err := storage.NewObjectStore(ctx, storage.ServiceConfig{
			S3BucketName:      cfg.S3BucketName,
			S3Endpoint:        cfg.S3Endpoint,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return identity.NewObjectBackend(objects, cfg.S3CredentialsKey), func() {}, nil

	default:
		return identity.NewFileBackend(cfg.CredentialsFile), func() {}, nil
	}
}
