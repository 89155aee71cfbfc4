/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the lodging ledger server. Handles
  configuration, dependency wiring, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Optionally seed demo reference data
  4. Configure HTTP router
  5. Start server with graceful shutdown

CONFIGURATION:
  -port    HTTP server port (default: 8080, env PORT)
  -db      SQLite database path (default: bills.db, env DB_PATH)
           Use ":memory:" for an in-memory database
  -seed    Insert demo employees, hotels and rates on startup

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/warp/lodging-ledger/api"
	"github.com/warp/lodging-ledger/billing"
	"github.com/warp/lodging-ledger/store/sqlite"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envString("DB_PATH", "bills.db"), "SQLite database path")
	seed := flag.Bool("seed", false, "insert demo employees, hotels and rates")
	flag.Parse()

	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	if *seed {
		if err := seedDemoData(context.Background(), store); err != nil {
			log.Fatalf("Failed to seed demo data: %v", err)
		}
		log.Println("Seeded demo employees, hotels and rates")
	}

	handler := api.NewHandler(store)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	// Start server in background
	go func() {
		log.Printf("Server listening on :%d (db: %s)", *port, *dbPath)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// seedDemoData inserts a small fixture set so the API is usable out of
// the box during development.
func seedDemoData(ctx context.Context, store *sqlite.Store) error {
	employees := []billing.Employee{
		{ID: "emp-alice", Name: "Alice Zhang", Email: "alice@example.com", Active: true},
		{ID: "emp-bob", Name: "Bob Keller", Email: "bob@example.com", Active: true},
		{ID: "emp-carol", Name: "Carol Mendes", Email: "carol@example.com", Active: true},
	}
	for _, e := range employees {
		if err := store.SaveEmployee(ctx, e); err != nil {
			return err
		}
	}

	hotels := []struct {
		hotel billing.Hotel
		rate  string
	}{
		{billing.Hotel{ID: "hotel-harbor", Name: "Harbor View", Location: "Qingdao"}, "280"},
		{billing.Hotel{ID: "hotel-central", Name: "Central Plaza", Location: "Chengdu"}, "350"},
	}
	for _, h := range hotels {
		if err := store.SaveHotel(ctx, h.hotel); err != nil {
			return err
		}
		nightly, err := decimal.NewFromString(h.rate)
		if err != nil {
			return err
		}
		if err := store.SaveRate(ctx, billing.RoomRate{
			ID:      uuid.NewString(),
			HotelID: h.hotel.ID,
			Nightly: nightly,
			Current: true,
		}); err != nil {
			return err
		}
	}
	return nil
}
