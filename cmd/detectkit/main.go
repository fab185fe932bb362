package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alexeiveselov92/detectkit/internal/dbadapter"
	"github.com/alexeiveselov92/detectkit/internal/store"
)

// main wires the internal namespace (dbadapter, store, operational
// metrics) and exposes them for a caller to drive — selector parsing,
// profile/metric YAML loading, and the run/init/test-alert CLI verbs of
// spec.md §6 are explicitly out of scope and live in a separate wrapper
// that constructs config.MetricConfig values and calls
// internal/pipeline.Pipeline.Run directly.
func main() {
	dbPath := os.Getenv("DETECTKIT_DB_PATH")
	if dbPath == "" {
		dbPath = "detectkit.duckdb"
	}

	db, err := dbadapter.OpenDuckDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to open DuckDB: %v", err)
	}
	log.Printf("Connected to DuckDB: %s", dbPath)

	st := store.New(db)
	if err := st.EnsureTables(context.Background()); err != nil {
		log.Fatalf("Failed to ensure internal tables: %v", err)
	}

	addr := os.Getenv("DETECTKIT_METRICS_ADDR")
	if addr == "" {
		addr = ":9102"
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		log.Printf("Serving operational metrics on %s/metrics", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Metrics server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Metrics server forced to shutdown: %v", err)
	}

	if err := db.Close(); err != nil {
		log.Printf("Error closing DuckDB: %v", err)
	}

	log.Println("detectkit exited")
}

func init() {
	fmt.Println(`
      _      _            _   _     _ _
   __| | ___| |_ ___  ___| |_| | __(_) |_
  / _` + "`" + ` |/ _ \ __/ _ \/ __| __| |/ /| | __|
 | (_| |  __/ ||  __/ (__| |_|   < | | |_
  \__,_|\___|\__\___|\___|\__|_|\_\|_|\__|`)
}
