package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"regexp"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/jaydenbeard/gotham-party-one/internal/authn"
	"github.com/jaydenbeard/gotham-party-one/internal/config"
	"github.com/jaydenbeard/gotham-party-one/internal/gate"
	"github.com/jaydenbeard/gotham-party-one/internal/httpapi"
	"github.com/jaydenbeard/gotham-party-one/internal/middleware"
	"github.com/jaydenbeard/gotham-party-one/internal/registry"
	"github.com/jaydenbeard/gotham-party-one/internal/scratch"
	"github.com/jaydenbeard/gotham-party-one/internal/security"
	"github.com/jaydenbeard/gotham-party-one/internal/store"
)

// db_name is validated alphanumeric-only so it can be used directly as a
// Postgres schema/table-namespace fragment without quoting.
var dbNamePattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

func main() {
	cfg := config.Load()

	if !dbNamePattern.MatchString(cfg.DBName) {
		log.Fatalf("FATAL: db_name %q must be alphanumeric only", cfg.DBName)
	}

	log.Printf("🚀 Starting party-one ECDSA threshold-signing service: %s", cfg.ServerID)

	sessionStore, err := newSessionStore(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize session store: %v", err)
	}
	defer func() {
		if err := sessionStore.Close(); err != nil {
			log.Printf("Warning: failed to close session store: %v", err)
		}
	}()

	scratchStore, err := scratch.NewRedisStoreFromEnv()
	if err != nil {
		log.Fatalf("Failed to connect to scratch store: %v", err)
	}
	defer func() {
		if err := scratchStore.Close(); err != nil {
			log.Printf("Warning: failed to close scratch store: %v", err)
		}
	}()

	authzGate := gate.New(sessionStore, scratchStore)

	authenticator, err := authn.New(cfg.AuthMode)
	if err != nil {
		log.Fatalf("Failed to initialize authenticator: %v", err)
	}

	auditDB, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		log.Fatalf("Failed to open audit database connection: %v", err)
	}
	defer func() {
		if err := auditDB.Close(); err != nil {
			log.Printf("Warning: failed to close audit database: %v", err)
		}
	}()
	auditLogger := security.NewAuditLogger(auditDB)

	// Initialize service registry (Consul)
	serviceRegistry, err := registry.NewConsulRegistry(cfg.ConsulURL, cfg.ServerID, cfg.ServerPort)
	if err != nil {
		log.Fatalf("Failed to connect to Consul: %v", err)
	}
	if err := serviceRegistry.Register(); err != nil {
		log.Fatalf("Failed to register service: %v", err)
	}

	// Initialize key rotation scheduler
	keyRotationScheduler := security.NewKeyRotationScheduler()
	keyRotationScheduler.SetRotationInterval(24 * time.Hour)
	keyRotationScheduler.Start()

	server := httpapi.NewServer(sessionStore, scratchStore, authzGate, auditLogger, authenticator)

	skipAuth := func(r *http.Request) bool {
		return r.URL.Path == "/health" || r.URL.Path == "/metrics"
	}
	router := server.Routes(middleware.AuthMiddleware(authenticator, skipAuth))
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	rateLimitClient := redis.NewClient(&redis.Options{Addr: elastiCacheAddr(cfg.ElastiCacheURL)})
	enhancedRateLimiter := middleware.NewEnhancedRateLimiter(cfg.RateLimits, rateLimitClient)
	enhancedRateLimiter.SetEndpointStrictMode("POST /ecdsa/keygen/first", true)
	enhancedRateLimiter.SetEndpointStrictMode("POST /ecdsa/keygen_v2/first", true)
	enhancedRateLimiter.SetEndpointStrictMode("POST /ecdsa/rotate/{id}/first", true)

	// CORS configuration - this is a machine-to-machine API fronted by
	// party-two's backend, not a browser client, so origins are wide open
	// and auth is carried entirely in the Authorization/x-customer-id headers.
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "x-customer-id"},
		AllowCredentials: false,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           corsHandler.Handler(enhancedRateLimiter.Middleware(router)),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second, // Prevents Slowloris attacks (gosec G112)
	}

	go func() {
		log.Printf("📡 party-one listening on port %s", cfg.ServerPort)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	log.Printf("🛑 Received signal %v - starting graceful shutdown...", sig)

	// Step 1: Immediately deregister from service discovery so the load
	// balancer stops routing new sessions here.
	log.Println("📤 Deregistering from service discovery...")
	if err := serviceRegistry.Deregister(); err != nil {
		log.Printf("Warning: Failed to deregister from service discovery: %v", err)
	} else {
		log.Println("✅ Deregistered from service discovery")
	}

	// Step 2: Wait for the load balancer's health check to notice.
	log.Println("⏳ Waiting 5 seconds for load balancer to update...")
	time.Sleep(5 * time.Second)

	// Step 3: Stop accepting new connections and drain in-flight protocol
	// rounds. A round holds the per-customer Coordinator lock for its
	// duration, so Shutdown blocking on it is what "drain" means here.
	log.Println("🔌 Stopping HTTP server (draining in-flight protocol rounds)...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Printf("Warning: HTTP server shutdown error: %v", err)
	}

	log.Println("⏹️ Stopping key rotation scheduler...")
	keyRotationScheduler.Stop()

	log.Println("✅ Server stopped gracefully - safe to restart")
}

func newSessionStore(cfg *config.Config) (store.Store, error) {
	masterSecret := []byte(cfg.SealingKey)
	switch cfg.StoreBackend {
	case "postgres":
		return store.NewPostgresStore(cfg.PostgresURL, cfg.DBName, masterSecret)
	default:
		return store.NewSQLiteStore(cfg.SQLitePath, masterSecret)
	}
}

// elastiCacheAddr is a thin passthrough today: ELASTICACHE_URL is already a
// bare host:port in every environment this service runs in.
func elastiCacheAddr(url string) string {
	if url == "" {
		return "localhost:6379"
	}
	return url
}
