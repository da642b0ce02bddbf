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

	"orgo-sync-server/internal/audit"
	"orgo-sync-server/internal/config"
	"orgo-sync-server/internal/domain"
	"orgo-sync-server/internal/handler"
	"orgo-sync-server/internal/middleware"
	"orgo-sync-server/internal/nodelock"
	"orgo-sync-server/internal/repository"
	"orgo-sync-server/internal/service"
	"orgo-sync-server/internal/websocket"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.Logging.Level == "debug" {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	couchURL := fmt.Sprintf("http://%s:%s@%s:%s",
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Host,
		cfg.Database.Port,
	)

	client, err := kivik.New("couch", couchURL)
	if err != nil {
		log.Fatalf("Failed to connect to CouchDB: %v", err)
	}

	exists, err := client.DBExists(context.Background(), cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to check database existence: %v", err)
	}

	if !exists {
		if err := client.CreateDB(context.Background(), cfg.Database.Name); err != nil {
			log.Fatalf("Failed to create database: %v", err)
		}
		log.Printf("Created database: %s", cfg.Database.Name)
	}

	nodeRepo := repository.NewNodeRepository(client, cfg.Database.Name)
	taskRepo := repository.NewTaskRepository(client, cfg.Database.Name)
	sessionRepo := repository.NewSessionRepository(client, cfg.Database.Name)

	baseURL := fmt.Sprintf("%s/%s", couchURL, cfg.Database.Name)
	nodeKeyRepo := repository.NewNodeKeyRepository(baseURL)
	conflictRepo := repository.NewConflictRepository(baseURL)

	// WebSocket Manager
	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerTenant,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	go wsManager.Run()

	sink := audit.Multi(audit.NewLogSink(), audit.NewBroadcastSink(wsManager))
	locks := nodelock.NewManager(cfg.Sync.LockTTL)

	nodeService := service.NewNodeService(nodeRepo, cfg.Sync.EnrollmentSecretHash)
	nodeKeyService := service.NewNodeKeyService(nodeKeyRepo, nodeRepo)
	sessionService := service.NewSessionService(sessionRepo, sink)
	conflictService := service.NewConflictService(conflictRepo, sink)
	taskService := service.NewTaskService(taskRepo)

	applier := service.NewChangeApplier(taskRepo, conflictService, service.ApplierOptions{
		RequireVersion: cfg.Sync.RequireVersion,
	})
	snapshotService := service.NewSnapshotService(taskRepo, cfg.Sync.SnapshotPageSize)
	syncService := service.NewSyncService(nodeService, sessionService, applier, snapshotService, locks, cfg.Sync.UploadWorkers)

	wsManager.SetMessageHandler(handler.NewWebSocketMessageHandler())

	// Sessions whose agent went silent are failed in the background.
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go sessionService.RunReaper(reaperCtx, cfg.Sync.ReapInterval, cfg.Sync.SessionTimeout)

	nodeHandler := handler.NewNodeHandler(nodeService, nodeKeyService)
	nodeKeyHandler := handler.NewNodeKeyHandler(nodeKeyService)
	taskHandler := handler.NewTaskHandler(taskService)
	syncHandler := handler.NewSyncHandler(syncService, sessionService, conflictService)
	wsHandler := handler.NewWebSocketHandler(wsManager, cfg.JWT.Secret)

	r := mux.NewRouter()

	r.Use(middleware.LoggerMiddleware())
	r.Use(middleware.CORSMiddleware(
		cfg.CORS.AllowedOrigins,
		cfg.CORS.AllowedMethods,
		cfg.CORS.AllowedHeaders,
	))

	api := r.PathPrefix("/api/v1").Subrouter()

	protected := api.PathPrefix("").Subrouter()
	protected.Use(middleware.AuthMiddleware(cfg.JWT.Secret))

	protected.HandleFunc("/nodes/register", nodeHandler.Register).Methods("POST", "OPTIONS")
	protected.HandleFunc("/nodes", nodeHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/nodes/{id}", nodeHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/nodes/{id}/retire", nodeHandler.Retire).Methods("POST", "OPTIONS")

	protected.HandleFunc("/nodes/{id}/keys", nodeKeyHandler.Issue).Methods("POST", "OPTIONS")
	protected.HandleFunc("/nodes/{id}/keys", nodeKeyHandler.ListForNode).Methods("GET", "OPTIONS")
	protected.HandleFunc("/keys/{id}/revoke", nodeKeyHandler.Revoke).Methods("POST", "OPTIONS")

	protected.HandleFunc("/sync/run", syncHandler.Run).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/upload", syncHandler.Upload).Methods("POST", "OPTIONS")
	protected.HandleFunc("/sync/snapshot", syncHandler.Snapshot).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/sessions", syncHandler.ListSessions).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/sessions/{id}", syncHandler.GetSession).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts", syncHandler.ListConflicts).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts/{id}", syncHandler.GetConflict).Methods("GET", "OPTIONS")
	protected.HandleFunc("/sync/conflicts/{id}/resolve", syncHandler.ResolveConflict).Methods("POST", "OPTIONS")

	protected.HandleFunc("/tasks", taskHandler.Create).Methods("POST", "OPTIONS")
	protected.HandleFunc("/tasks", taskHandler.List).Methods("GET", "OPTIONS")
	protected.HandleFunc("/tasks/{id}", taskHandler.Get).Methods("GET", "OPTIONS")
	protected.HandleFunc("/tasks/{id}", taskHandler.Update).Methods("PUT", "OPTIONS")
	protected.HandleFunc("/tasks/{id}", taskHandler.Cancel).Methods("DELETE", "OPTIONS")

	// These routes use node access keys (nsk_xxxxx) instead of JWT
	agent := api.PathPrefix("/agent").Subrouter()
	agent.Use(middleware.NodeKeyAuthMiddleware(nodeKeyService))
	agent.HandleFunc("/me", nodeKeyHandler.Me).Methods("GET", "OPTIONS")

	agentSync := agent.PathPrefix("/sync").Subrouter()
	agentSync.Use(middleware.NodeKeyScopeMiddleware(domain.ScopeSyncUpload))
	agentSync.HandleFunc("", syncHandler.AgentSync).Methods("POST", "OPTIONS")

	r.HandleFunc("/ws", wsHandler.HandleConnection)

	// Health endpoint
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/", rootHandler).Methods("GET")

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting Orgo Sync Server on %s (env: %s)", addr, cfg.Server.Env)
		log.Printf("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	stopReaper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped gracefully")
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy","service":"orgo-sync-server"}`))
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"message":"Orgo Sync Server API","version":"1.0.0","endpoints":{"/api/v1/nodes/register":"POST (protected)","/api/v1/sync/run":"POST (protected)","/api/v1/agent/sync":"POST (node key)"}}`))
}
