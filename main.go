package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Itypecode/E-DAV/pkg/app"
	"github.com/Itypecode/E-DAV/pkg/config"
	"github.com/Itypecode/E-DAV/pkg/store"
	"github.com/Itypecode/E-DAV/process/sweeper"
	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.Load()
	if err := cfg.RequireDB(); err != nil {
		log.Fatal(err)
	}

	// `./notes-server migrate` runs the schema migration and exits. Useful for CI or manual DB setup.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		cfg.DBAutoMigrate = true
		if _, err := store.Open(cfg); err != nil {
			log.Fatalf("failed to connect database: %v", err)
		}
		log.Println("migration completed")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	if cfg.StallSweepCron != "" {
		sw := &sweeper.Sweeper{Store: a.Store, After: cfg.StallAfter, Limit: 100}
		if cfg.StallSweepResume {
			sw.Resumer = a.Runner
		}
		c, err := sw.Schedule(cfg.StallSweepCron)
		if err != nil {
			log.Fatalf("stall sweep: %v", err)
		}
		defer c.Stop()
	}

	r := gin.Default()
	setupRoutes(r, &server{
		store:    a.Store,
		intake:   a.Intake,
		objects:  a.Objects,
		auth:     authConfig{secret: cfg.JWTSecret, audience: cfg.JWTAudience, ttl: cfg.TokenTTL},
		maxBytes: cfg.MaxUploadBytes,
	})

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		log.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	if err := a.Close(shutdownCtx); err != nil {
		log.Printf("close: %v", err)
	}
}
