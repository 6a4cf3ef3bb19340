package main

import (
	"context"
	"errors"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"okolitsa/internal/config"
	"okolitsa/internal/dispatch"
	"okolitsa/internal/filestore"
	"okolitsa/internal/http"
	"okolitsa/internal/push"
	"okolitsa/internal/storage"
	"okolitsa/internal/ws"
)

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	blobs, err := filestore.NewLocalBlobStore(cfg.UploadsPath)
	if err != nil {
		return err
	}

	var pushSender dispatch.PushSender
	if cfg.PushEnabled() {
		pushSender = push.NewWebPush(bbStorage, cfg.VAPIDPublic, cfg.VAPIDPrivate, cfg.VAPIDSubject)
	} else {
		log.Println("VAPID keys not configured, web push disabled")
	}

	hub := ws.NewHub(ctx, bbStorage, blobs, pushSender)

	apiServer := http.NewAPIServer(hub, blobs, cfg.APIAddr)

	g, gCtx := errgroup.WithContext(ctx)

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		log.Println("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("API server shutdown error: %v", err)
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
