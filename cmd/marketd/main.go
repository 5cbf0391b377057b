package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/example/stakemarket/internal/api"
	"github.com/example/stakemarket/internal/bootstrap"
	"github.com/example/stakemarket/internal/observability"
)

func main() {
	port := strings.TrimSpace(os.Getenv("MARKET_PORT"))
	if port == "" {
		port = "8080"
	}

	shutdownTrace, err := observability.InitTracingFromEnv("stakemarket")
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}
	defer func() { _ = shutdownTrace(context.Background()) }()

	cp, err := bootstrap.NewControlPlaneFromEnv()
	if err != nil {
		log.Fatalf("bootstrap control plane: %v", err)
	}
	server := api.NewServer(cp.Registry, cp.Ledger, cp.Votes, cp.Pool, cp.Reputation, cp.Evidence)

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: server.Handler(),
	}

	go func() {
		log.Printf("marketd listening on :%s", port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("marketd failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
