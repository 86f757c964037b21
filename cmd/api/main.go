package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"flyttribe.org/internal/auth"
	"flyttribe.org/internal/config"
	"flyttribe.org/internal/httpapi"
	"flyttribe.org/internal/obs"
	"flyttribe.org/internal/rpc"
)

var (
	version = "0.3.1"
	commit  = "unknown"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.PGDSN == "" {
		log.Fatal("FLYT_PG_DSN is required: the claims store is the source of truth")
	}

	db, err := sql.Open("pgx", cfg.PGDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := auth.NewPGStore(db)
	codec, err := auth.NewCodec(string(cfg.Secret), cfg.SessionTTL)
	if err != nil {
		log.Fatalf("codec: %v", err)
	}
	verifier := auth.NewVerifier(store, cfg.RefreshInterval,
		auth.WithInvalidationHook(obs.ObserveSessionInvalidation),
		auth.WithReadHook(obs.ObserveClaimsRead))
	svc := rpc.NewService(store, rpc.WithDenialHook(obs.ObserveGuardDenial))

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, codec, verifier, cfg.Providers, cfg.DefaultProvider, cfg.BootstrapSecret)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	obs.LogEvent("info", "starting", map[string]any{
		"service": "flyt-api",
		"version": version,
		"addr":    srv.Addr,
	})

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	obs.LogEvent("info", "shutting_down", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	_ = db.Close()
	obs.LogEvent("info", "stopped", nil)
}
