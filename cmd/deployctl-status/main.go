// Command deployctl-status serves a read-only HTTP view of a target's
// currently deployed state — the optional outer surface over history.
// CurrentState for dashboards and uptime checks that don't want to shell
// out to the deployctl CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/vitaliisemenov/deployctl/internal/config"
	"github.com/vitaliisemenov/deployctl/pkg/logger"
)

const defaultAddr = ":8090"

func main() {
	cfg, err := config.Load(os.Getenv("DEPLOYCTL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "deployctl-status: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})

	srv, err := newServer(cfg, log)
	if err != nil {
		log.Error("failed to initialize status server", "error", err)
		os.Exit(1)
	}
	defer srv.Close()

	addr := os.Getenv("DEPLOYCTL_STATUS_ADDR")
	if addr == "" {
		addr = defaultAddr
	}

	router := mux.NewRouter()
	router.Use(logger.LoggingMiddleware(log))
	router.HandleFunc("/healthz", srv.handleHealthz).Methods(http.MethodGet)
	router.HandleFunc("/status", srv.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/status/{target}", srv.handleStatus).Methods(http.MethodGet)

	httpSrv := &http.Server{Addr: addr, Handler: router}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		log.Info("deployctl-status listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
}
