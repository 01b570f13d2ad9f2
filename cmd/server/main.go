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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"

	"github.com/jyf2100/agent-sandbox/internal/config"
	"github.com/jyf2100/agent-sandbox/internal/engine/docker"
	"github.com/jyf2100/agent-sandbox/internal/handler"
	"github.com/jyf2100/agent-sandbox/internal/logfile"
	"github.com/jyf2100/agent-sandbox/internal/middleware"
	"github.com/jyf2100/agent-sandbox/internal/ports"
	"github.com/jyf2100/agent-sandbox/internal/sandbox"
	"github.com/jyf2100/agent-sandbox/internal/version"
	"github.com/jyf2100/agent-sandbox/internal/workspace"
)

func main() {
	// Load .env file if present
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if cfg.LogFile != "" {
		if err := logfile.Truncate(cfg.LogFile); err != nil {
			log.Printf("Warning: failed to truncate log file: %v", err)
		}
		if err := logfile.RedirectStdoutStderr(cfg.LogFile); err != nil {
			log.Printf("Warning: failed to redirect stdout/stderr: %v", err)
		}
	}

	if cfg.StdinKeepalive {
		go watchStdin()
	}

	log.Printf("Sandbox orchestrator version %s", version.Get())

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	engineClient, err := docker.New(cfg.DockerHost)
	if err != nil {
		log.Fatalf("Failed to initialize container engine client: %v", err)
	}
	defer func() { _ = engineClient.Close() }()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := engineClient.Ping(pingCtx); err != nil {
		log.Fatalf("Container engine unreachable: %v", err)
	}
	pingCancel()

	allocator := ports.NewDefault()
	manager := sandbox.NewManager(engineClient, allocator, cfg.SandboxImage, cfg.DockerNetwork)

	initCtx, initCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := manager.Init(initCtx); err != nil {
		log.Fatalf("Failed to initialize shared bridge network: %v", err)
	}
	initCancel()

	adapter := workspace.New(manager)

	manager.StartCleanupSweep(cfg.CleanupInterval, cfg.CleanupErrorBackoff)
	log.Printf("Reclamation sweep started (interval=%s, error backoff=%s)", cfg.CleanupInterval, cfg.CleanupErrorBackoff)

	h := handler.New(adapter, workspace.CreateOptions{})

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SanitizedLogger)
	r.Use(chimiddleware.Recoverer)

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
			Debug:            cfg.CORSDebug,
		}))
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	h.Mount(r)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		log.Printf("Sandbox orchestrator listening on port %d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down...")

	manager.StopCleanupSweep()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// watchStdin exits the process once stdin is closed, letting a parent
// process (e.g. a Tauri sidecar supervisor) detect its own death and tear
// down this server without an explicit signal.
func watchStdin() {
	buf := make([]byte, 1)
	for {
		if _, err := os.Stdin.Read(buf); err != nil {
			log.Println("stdin closed, exiting")
			os.Exit(0)
		}
	}
}
