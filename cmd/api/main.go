package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/auth"
	"gatehouse.org/internal/config"
	"gatehouse.org/internal/httpapi"
	"gatehouse.org/internal/obs"
	"gatehouse.org/internal/query"
	"gatehouse.org/internal/store/denylist"
	"gatehouse.org/internal/store/pg"
)

var (
	version = "0.3.0"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	if cfg.PostgresDSN == "" {
		log.Fatal("GATEHOUSE_PG_DSN must be set")
	}
	store, err := pg.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	var dl *denylist.Denylist
	if cfg.RedisAddr != "" {
		dl = denylist.Open(cfg.RedisAddr)
		defer dl.Close()
	}

	svc, err := auth.NewService(store, cfg.JWTSecret,
		auth.WithIssuer(cfg.Issuer),
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	registry, err := httpapi.DefaultRegistry()
	if err != nil {
		log.Fatalf("resources: %v", err)
	}

	probe := httpapi.ReadyProbe{DB: store.DB(), Denylist: dl}
	api := httpapi.New(httpapi.Deps{
		Auth:      svc,
		Engine:    query.NewEngine(pg.NewSearcher(store.DB())),
		Trail:     audit.New(store.Audit()),
		Denylist:  dl,
		Resources: registry,
		Ready:     probe,
		Version:   version,
	})

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.MaxBodyBytes(
						httpapi.RateLimit(rootCtx, api.Handler(), cfg.RateLimitBurst, cfg.RateLimitPerSecond),
						cfg.MaxBodyBytes,
					),
				),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var grpcSrv *httpapi.GRPCServer
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = httpapi.NewGRPCServer(probe)
		go func() {
			log.Printf("gRPC health on %s", cfg.GRPCAddr)
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	log.Printf("Starting gatehouse-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.Stop()
	}
	log.Println("Stopped")
}
