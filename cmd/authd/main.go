// Command authd wires the library's pieces into a runnable demo
// service: OIDC discovery/validation over one or more audiences, a
// first-party API-key store, usage tracking, health monitoring, and an
// offline-resilient front door, exposed over a small HTTP surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"golang.org/x/crypto/bcrypt"

	"github.com/hivewarden-like/idpguard/internal/adminapi"
	"github.com/hivewarden-like/idpguard/internal/admintoken"
	"github.com/hivewarden-like/idpguard/internal/apikey"
	"github.com/hivewarden-like/idpguard/internal/cache/memcache"
	"github.com/hivewarden-like/idpguard/internal/cache/rediscache"
	"github.com/hivewarden-like/idpguard/internal/idpconfig"
	"github.com/hivewarden-like/idpguard/internal/monitoring"
	"github.com/hivewarden-like/idpguard/internal/multiclient"
	"github.com/hivewarden-like/idpguard/internal/oidc"
	"github.com/hivewarden-like/idpguard/internal/ports"
	"github.com/hivewarden-like/idpguard/internal/resilience"
	"github.com/hivewarden-like/idpguard/internal/storage/postgres"
	"github.com/hivewarden-like/idpguard/internal/telemetry"
	"github.com/hivewarden-like/idpguard/internal/transport"
	"github.com/hivewarden-like/idpguard/internal/types"
)

// apiKeyBcryptCost mirrors internal/apikey's own cost factor; kept
// local since that constant is unexported.
const apiKeyBcryptCost = 12

// version is stamped at build time via -ldflags; left as a plain
// default here since this binary has no release pipeline of its own.
var version = "dev"

func main() {
	logger := telemetry.NewZerologLogger(os.Getenv("ENV") != "production")
	metrics := telemetry.NewPrometheusCollector(prometheus.NewRegistry())

	logger.Info("authd starting", map[string]any{"version": version})

	clientsPath := os.Getenv("IDPGUARD_CLIENTS_FILE")
	if clientsPath == "" {
		clientsPath = "clients.yaml"
	}
	mcCfg, err := idpconfig.Load(clientsPath)
	if err != nil {
		logger.Error("failed to load client configuration", err, nil)
		os.Exit(1)
	}
	logger.Info("client configuration loaded", map[string]any{
		"realm":        mcCfg.Realm,
		"frontend_url": mcCfg.FrontendURL,
		"api_base_url": mcCfg.APIBaseURL,
	})

	ctx := context.Background()

	pool, err := postgres.New(ctx, postgres.Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		PoolProfile: os.Getenv("DB_POOL_PROFILE"),
	})
	if err != nil {
		logger.Error("failed to connect to database", err, nil)
		os.Exit(1)
	}
	defer pool.Close()

	apiKeyRepo := postgres.NewApiKeyRepository(pool)

	cache, stopCache, err := buildCache(logger)
	if err != nil {
		logger.Error("failed to construct cache backend", err, nil)
		os.Exit(1)
	}
	defer stopCache()

	httpClient := transport.New(transport.Config{})
	factory := multiclient.New(oidc.Deps{Http: httpClient, Cache: cache, Metrics: metrics, Logger: logger})
	if err := factory.Init(ctx, mcCfg); err != nil {
		logger.Error("every OIDC audience failed to initialize", err, nil)
		os.Exit(1)
	}
	defer factory.Shutdown()
	for name, ferr := range factory.Failed() {
		logger.Warn("OIDC audience unavailable at startup", map[string]any{"audience": name, "error": ferr.Error()})
	}

	frontendClient, ok := factory.Client("frontend")
	if !ok {
		logger.Error("frontend audience is required but unavailable", fmt.Errorf("no frontend client"), nil)
		os.Exit(1)
	}

	resilientFrontend := resilience.New(frontendClient, metrics, logger, resilience.Config{
		AnonymousModeEnabled: os.Getenv("IDPGUARD_ANONYMOUS_MODE") == "true",
		AnonymousPermissions: []string{"read:public"},
	})
	defer resilientFrontend.Stop()

	var adminClient *adminapi.Client
	if serviceClient, ok := factory.Client("service"); ok {
		tokenProvider := admintoken.New(serviceClient, nil)
		adminClient = adminapi.New(httpClient, tokenProvider, logger, adminapi.Config{
			ServerURL: mcCfg.ServerURL,
			Realm:     mcCfg.Realm,
		})
		adminClient.SetSessionRevoker(frontendClient)
	} else {
		logger.Warn("service audience unavailable, admin API client disabled", nil)
	}

	usageTracker := monitoring.NewUsageTracker(apiKeyRepo, metrics, logger, monitoring.UsageConfig{})
	defer usageTracker.Stop()

	keyStorage := apikey.NewStorage(apiKeyRepo, cache, metrics, logger, apikey.StorageConfig{})
	keyOps := apikey.NewOperations(keyStorage, cache, metrics, logger, usageTracker)
	keyGenerator := apikey.NewGenerator(metrics, logger)

	healthSubs := newSnapshotHub()
	healthMonitor := monitoring.NewHealthMonitor(apiKeyRepo, cache, metrics, logger, monitoring.HealthConfig{}, func(s types.SystemHealth) {
		healthSubs.broadcast(s)
	})
	healthCtx, cancelHealth := context.WithCancel(ctx)
	healthMonitor.StartContinuousMonitoring(healthCtx)
	defer func() {
		cancelHealth()
		healthMonitor.Stop()
	}()

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	corsOrigins := []string{"http://localhost:5173", "http://localhost:3000"}
	if envOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); envOrigins != "" {
		corsOrigins = splitTrimmed(envOrigins)
	} else if mcCfg.FrontendURL != "" {
		corsOrigins = []string{mcCfg.FrontendURL}
	}
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	r.Get("/healthz", healthzHandler(healthMonitor))
	r.Get("/healthz/stream", healthStreamHandler(healthSubs, logger))

	r.Route("/api/keys", func(r chi.Router) {
		r.Use(apiKeyAuthMiddleware(keyOps))
		r.Post("/", createAPIKeyHandler(keyGenerator, keyStorage))
		r.Post("/{id}/revoke", revokeAPIKeyHandler(keyOps))
		r.Get("/{id}/security", analyzeKeySecurityHandler(keyOps))
	})

	if adminClient != nil {
		r.Route("/admin/users", func(r chi.Router) {
			r.Use(bearerAuthMiddleware(resilientFrontend))
			r.Get("/search", adminSearchUsersHandler(adminClient))
		})
	}

	port := envInt("PORT", 8443)
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("listening", map[string]any{"port": port})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", err, nil)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", err, nil)
	}
	logger.Info("exited gracefully", nil)
}

// buildCache selects memcache or rediscache based on REDIS_URL, and
// returns a stop function releasing whichever backend was chosen.
func buildCache(logger ports.Logger) (ports.CacheService, func(), error) {
	if url := os.Getenv("REDIS_URL"); url != "" {
		c, err := rediscache.New(rediscache.Config{URL: url, KeyPrefix: "idpguard"})
		if err != nil {
			return nil, nil, err
		}
		logger.Info("using redis cache backend", nil)
		return c, func() { _ = c.Close() }, nil
	}
	c := memcache.New(memcache.DefaultCapacity)
	logger.Info("using in-process cache backend", nil)
	return c, c.Stop, nil
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// --- HTTP handlers ---

func healthzHandler(m *monitoring.HealthMonitor) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapshot := m.PerformHealthCheck(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if snapshot.Status != "healthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(snapshot)
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func healthStreamHandler(hub *snapshotHub, logger ports.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := wsUpgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("health stream upgrade failed", map[string]any{"error": err.Error()})
			return
		}
		defer conn.Close()

		updates := hub.subscribe()
		defer hub.unsubscribe(updates)

		for snapshot := range updates {
			if err := conn.WriteJSON(snapshot); err != nil {
				return
			}
		}
	}
}

// snapshotHub fans out health snapshots to every connected websocket
// client without blocking the health monitor's own publish call.
type snapshotHub struct {
	register   chan chan types.SystemHealth
	unregister chan chan types.SystemHealth
	publish    chan types.SystemHealth
}

func newSnapshotHub() *snapshotHub {
	h := &snapshotHub{
		register:   make(chan chan types.SystemHealth),
		unregister: make(chan chan types.SystemHealth),
		publish:    make(chan types.SystemHealth),
	}
	go h.run()
	return h
}

func (h *snapshotHub) run() {
	subs := map[chan types.SystemHealth]struct{}{}
	for {
		select {
		case ch := <-h.register:
			subs[ch] = struct{}{}
		case ch := <-h.unregister:
			delete(subs, ch)
			close(ch)
		case snapshot := <-h.publish:
			for ch := range subs {
				select {
				case ch <- snapshot:
				default:
				}
			}
		}
	}
}

func (h *snapshotHub) subscribe() chan types.SystemHealth {
	ch := make(chan types.SystemHealth, 4)
	h.register <- ch
	return ch
}

func (h *snapshotHub) unsubscribe(ch chan types.SystemHealth) {
	h.unregister <- ch
}

func (h *snapshotHub) broadcast(s types.SystemHealth) {
	h.publish <- s
}

type contextKey string

const userContextKey contextKey = "authd.user"

// apiKeyAuthMiddleware authenticates requests via the X-API-Key header
// against the first-party key store.
func apiKeyAuthMiddleware(ops *apikey.Operations) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				http.Error(w, "missing X-API-Key", http.StatusUnauthorized)
				return
			}
			result := ops.ValidateAPIKey(r.Context(), key)
			if !result.Success {
				http.Error(w, result.Error, http.StatusUnauthorized)
				return
			}
			ctx := contextWithUser(r.Context(), result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerAuthMiddleware authenticates requests via a standard bearer
// token against the resilience-wrapped OIDC client.
func bearerAuthMiddleware(client *resilience.Client) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if token == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			result := client.ValidateToken(r.Context(), token)
			if !result.Success {
				http.Error(w, result.Error, http.StatusUnauthorized)
				return
			}
			ctx := contextWithUser(r.Context(), result.User)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func contextWithUser(ctx context.Context, user *types.UserInfo) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func createAPIKeyHandler(gen *apikey.Generator, storage *apikey.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string   `json:"user_id"`
			Name   string   `json:"name"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			http.Error(w, "user_id is required", http.StatusBadRequest)
			return
		}

		plaintext := gen.Generate("ak")
		hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), apiKeyBcryptCost)
		if err != nil {
			http.Error(w, "failed to hash key", http.StatusInternalServerError)
			return
		}

		now := time.Now()
		record := &types.ApiKey{
			ID:            uuid.NewString(),
			Name:          req.Name,
			UserID:        req.UserID,
			KeyHash:       string(hash),
			KeyIdentifier: apikey.KeyIdentifier(plaintext),
			KeyPreview:    apikey.KeyPreview(plaintext),
			Scopes:        req.Scopes,
			IsActive:      true,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := storage.CreateAPIKey(r.Context(), record); err != nil {
			http.Error(w, "failed to store key", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"key": plaintext, "id": record.ID})
	}
}

func revokeAPIKeyHandler(ops *apikey.Operations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		result, err := ops.RevokeKey(r.Context(), apikey.RevokeRequest{KeyID: id, RevokedBy: "api"})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	}
}

func analyzeKeySecurityHandler(ops *apikey.Operations) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		analysis, err := ops.AnalyzeKeySecurity(r.Context(), id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(analysis)
	}
}

func adminSearchUsersHandler(client *adminapi.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		query := r.URL.Query().Get("q")
		users, err := client.SearchUsers(r.Context(), query, 20)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(users)
	}
}
