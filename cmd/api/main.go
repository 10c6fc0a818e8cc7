package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mkarpov/foliosync/internal/config"
	"github.com/mkarpov/foliosync/internal/database"
	"github.com/mkarpov/foliosync/internal/handlers"
	"github.com/mkarpov/foliosync/internal/models"
	"github.com/mkarpov/foliosync/internal/reconciler"
	"github.com/mkarpov/foliosync/internal/websocket"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// 2. Pick the document store
	var (
		db    *database.DB
		store reconciler.DocumentStore
	)

	switch cfg.StoreMode {
	case "memory":
		log.Println("📦 Using in-memory document store (data is not persisted)")
		store = reconciler.NewMemoryStore()
	default:
		// Detects Embedded vs External automatically
		db, err = database.Connect(cfg.Database)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		// db.Close() is called manually in the shutdown handler below

		log.Println("🚀 Synchronizing database schema...")
		err = db.AutoMigrate(
			&models.UserAuth{},
			&models.PortfolioDocument{},
		)
		if err != nil {
			log.Printf("⚠️ Migration warning: %v\n", err)
		} else {
			log.Println("✅ Schema synchronized successfully")
		}

		store = reconciler.NewGormStore(db.DB)
	}

	// 3. Device notification hub
	hub := websocket.NewHub()
	go hub.Run()

	// 4. Reconciler and HTTP router
	rec := reconciler.New(store, hub)
	router := handlers.NewRouter(db, cfg, rec, hub)

	// 5. Start server with graceful shutdown
	port := cfg.Port
	if port == "" {
		port = "3210"
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		log.Printf("🚀 Server starting on port %s [store: %s]\n", port, cfg.StoreMode)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	sig := <-shutdown
	log.Printf("\n⚠️  Received signal: %v. Shutting down gracefully...\n", sig)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ HTTP server shutdown error: %v", err)
	}

	if db != nil {
		if err := db.Close(); err != nil {
			log.Printf("⚠️ Database shutdown error: %v", err)
		}
	}

	log.Println("✅ Shutdown complete")
}
