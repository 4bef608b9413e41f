// Command server is the entry point for the real-time chat delivery core:
// it wires the Postgres store, Redis-backed cache, presence registry,
// typing tracker, rate limiter, pub/sub bridge, and durable delivery queue
// together behind the WebSocket hub, then serves the narrow HTTP surface
// SPEC_FULL.md §6 names (/ws, /health, /health/ready, /metrics) with
// graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chatcore/internal/attachments"
	"chatcore/internal/authgate"
	"chatcore/internal/cache"
	"chatcore/internal/config"
	"chatcore/internal/coordinator"
	"chatcore/internal/database"
	"chatcore/internal/delivery"
	"chatcore/internal/handlers"
	"chatcore/internal/metrics"
	"chatcore/internal/presence"
	"chatcore/internal/pubsub"
	"chatcore/internal/ratelimit"
	"chatcore/internal/realtime"
	"chatcore/internal/typing"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Critical error loading configuration: %v", err)
	}

	// --- Dependency Injection ---
	db, err := database.New(cfg.DatabaseURL, cfg.DatabaseReplicaURL)
	if err != nil {
		log.Fatalf("Critical error! Failed to connect to the database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatalf("Critical error during database migration: %v", err)
	}

	kv, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("Critical error! Failed to connect to redis: %v", err)
	}
	defer kv.Close()

	gate, err := authgate.New(cfg.JWTAccessSecret, cfg.JWTIssuer, cfg.JWTAudience)
	if err != nil {
		log.Fatalf("Critical error: failed to create auth gate: %v", err)
	}

	attachmentSvc, err := attachments.New(cfg.S3, db)
	if err != nil {
		log.Fatalf("Critical error: failed to create attachments service: %v", err)
	}

	nodeID := nodeIdentity()

	hub := realtime.NewHub()
	go hub.Run()

	workerCount := cfg.DeliveryWorkerCount
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	// coordinator.Coordinator implements both delivery.Deliverer and
	// pubsub's TypingSink/PresenceSink, but bridge and queue must exist
	// before the Coordinator does (the Coordinator depends on both). A
	// late-bound indirection breaks that construction-order cycle: bridge
	// and queue hold a pointer to this box, and the box is filled in once
	// the Coordinator is built.
	var coordBox coordinatorBox

	bridge := pubsub.New(kv, nodeID, hub, &coordBox, &coordBox)
	presenceReg := presence.New(kv, bridge, cfg.PresenceGraceWindow, cfg.InfraCallTimeout)
	typingTracker := typing.New(kv, bridge, cfg.TypingTTL, cfg.InfraCallTimeout)
	limiter := ratelimit.New(kv, cfg.InfraCallTimeout)
	queue := delivery.New(kv, &coordBox, workerCount, cfg.DeliveryMaxAttempts, cfg.DeliveryRetryBackoff, cfg.InfraCallTimeout, nodeID)

	coord := coordinator.New(db, hub, bridge, queue, limiter, presenceReg, cfg.InfraCallTimeout)
	coord = coord.WithTyping(typingTracker).WithAttachments(attachmentSvc)
	coordBox.set(coord)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := queue.EnsureGroup(ctx); err != nil {
		log.Fatalf("Critical error: failed to ensure delivery consumer group: %v", err)
	}
	go queue.Run(ctx)
	go bridge.SubscribePattern(ctx, "chat:*")
	go bridge.SubscribePresence(ctx)
	go sampleFleetMetrics(ctx, queue, presenceReg, cfg.InfraCallTimeout)

	wsHandler := handlers.NewWSHandler(hub, db, coord, presenceReg, cfg.SocketWriteWait, cfg.SocketPongWait, cfg.CORSAllowedOrigins)
	healthHandler := &handlers.HealthHandler{DB: db, Cache: kv}

	router := setupRouter(cfg, gate, wsHandler, healthHandler)
	srv := &http.Server{Addr: cfg.ServerAddr, Handler: router}

	go func() {
		log.Printf("Server is ready for connections and listening on %s", cfg.ServerAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed with error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("Shutdown signal received. Starting graceful shutdown...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Error during graceful server shutdown: %v", err)
	}
	queue.Stop()
	log.Println("Exiting.")
}

func setupRouter(cfg *config.AppConfig, gate *authgate.AuthGate, ws *handlers.WSHandler, health *handlers.HealthHandler) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimiddleware.Logger, chimiddleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   splitCSV(cfg.CORSAllowedOrigins),
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Origin"},
		MaxAge:           cfg.CORSMaxAge,
	}).Handler)

	r.Get("/health", health.Live)
	r.Get("/health/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(handlers.AuthMiddleware(gate))
		r.Get("/ws", ws.ServeWs)
	})

	return r
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

func nodeIdentity() string {
	host, err := os.Hostname()
	if err != nil {
		host = "node"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// sampleFleetMetrics periodically samples gauges that are cheap to read but
// not worth updating on every event (queue depth, online-user count).
func sampleFleetMetrics(ctx context.Context, queue *delivery.Queue, reg *presence.Registry, callTimeout time.Duration) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sampleCtx, cancel := context.WithTimeout(ctx, callTimeout)
			if depth, err := queue.Depth(sampleCtx); err == nil {
				metrics.DeliveryQueueDepth.Set(float64(depth))
			}
			if online, err := reg.OnlineUsers(sampleCtx); err == nil {
				metrics.PresenceOnlineUsers.Set(float64(len(online)))
			}
			cancel()
		}
	}
}
