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

	"draftsync/internal/api"
	"draftsync/internal/config"
	"draftsync/internal/db"
	"draftsync/internal/models"
	"draftsync/internal/repository"
	"draftsync/internal/services/collaboration"
	"draftsync/internal/telemetry"
)

// documentStore is the union of what the relay needs from document storage:
// the REST handlers' CRUD plus the persister's content write-through. Both
// the Postgres and in-memory repositories satisfy it.
type documentStore interface {
	Create(ctx context.Context, doc *models.DocumentCreate) (*models.Document, error)
	GetByID(ctx context.Context, id string) (*models.Document, error)
	List(ctx context.Context, limit, offset int) ([]*models.Document, error)
	Update(ctx context.Context, id string, update *models.DocumentUpdate) (*models.Document, error)
	UpdateContent(ctx context.Context, id string, content string) error
	Delete(ctx context.Context, id string) error
	HardDelete(ctx context.Context, id string) error
}

type updateStore interface {
	Append(ctx context.Context, documentID, userID string, payload []byte, version int64) error
	History(ctx context.Context, documentID string) ([]*models.UpdateRecord, error)
	Since(ctx context.Context, documentID, afterID string) ([]*models.UpdateRecord, error)
	Latest(ctx context.Context, documentID string) (*models.UpdateRecord, error)
	Trim(ctx context.Context, documentID string, keepCount int) error
}

func main() {
	log.Println("🚀 Starting draftsync relay...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing comes up first so everything after it is on a span.
	jaegerShutdown, err := telemetry.InitJaeger("draftsync-relay", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Storage. Postgres when reachable, otherwise the in-memory
	// repositories so a laptop relay works with no database at all.
	var (
		docRepo    documentStore
		updateRepo updateStore
	)
	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Printf("⚠️  Database unavailable: %v", err)
		log.Println("⚠️  Falling back to in-memory storage (documents vanish on restart)")
		docRepo = repository.NewMemoryDocumentRepository()
		updateRepo = repository.NewMemoryUpdateRepository()
	} else {
		defer database.Close()
		docRepo = repository.NewDocumentRepository(database.DB)
		updateRepo = repository.NewUpdateRepository(database.DB)
	}

	// Write-behind persistence pool for accepted edits.
	persister := collaboration.NewPersister(docRepo, updateRepo, cfg.PersistWorkers, cfg.PersistQueueSize)
	persister.Start()

	hub := collaboration.NewHub()
	hub.SetPersister(persister)

	// Optional cross-instance fanout over Redis pub/sub.
	var fanout *collaboration.Fanout
	if cfg.RedisAddr != "" {
		fanout, err = collaboration.NewFanout(cfg.RedisAddr, hub)
		if err != nil {
			log.Printf("⚠️  Redis unavailable: %v (running single-instance)", err)
			fanout = nil
		} else {
			hub.SetFanout(fanout)
		}
	}

	hub.Start()
	if fanout != nil {
		fanout.Start()
	}

	authFn := func(token string) (string, string, bool) {
		user, ok := cfg.UserForToken(token)
		if !ok {
			return "", "", false
		}
		return user.Username, user.Username, true
	}
	wsHandler := collaboration.NewWebSocketHandler(hub, docRepo, updateRepo, authFn)

	handler := api.NewHandler(docRepo, hub, wsHandler, cfg)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Relay listening on http://%s", addr)
		log.Printf("📚 Endpoints:")
		log.Printf("   POST   /api/v1/auth/login                - Exchange credentials for a token")
		log.Printf("   POST   /api/v1/documents/                - Create document")
		log.Printf("   GET    /api/v1/documents/                - List documents")
		log.Printf("   GET    /api/v1/documents/:id             - Get document")
		log.Printf("   PUT    /api/v1/documents/:id             - Update document")
		log.Printf("   DELETE /api/v1/documents/:id             - Delete document (soft)")
		log.Printf("   GET    /api/v1/documents/:id/presence    - Active editors")
		log.Printf("   WS     /ws/documents/:id?token=...       - Live editing socket")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down relay...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// The hub goes down before the persister: its loop is the only thing
	// submitting jobs, and the persister flushes whatever is queued.
	hub.Shutdown()
	persister.Shutdown()
	if fanout != nil {
		fanout.Close()
	}

	log.Println("✓ Relay shutdown complete")
}
