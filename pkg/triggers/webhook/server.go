// Package webhook provides the HTTP webhook trigger with a shared server:
// every webhook trigger node registers a path on one listener instead of
// binding its own port. Caller-supplied Idempotency-Key headers are
// deduplicated through Redis so retried deliveries start at most one run.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orchid-run/orchid/pkg/protocol"
)

const (
	Source = "webhook"

	// IdempotencyKeyHeader carries the caller's delivery key. Absent
	// header means every delivery is treated as a distinct event.
	IdempotencyKeyHeader = "Idempotency-Key"

	dedupKeyPrefix = "orchid:webhook:dedup:"
	dedupTTL       = 24 * time.Hour
)

type route struct {
	workflowID string
	nodeID     string
	method     string
	callback   protocol.TriggerCallback
	logger     *slog.Logger
}

// Server is the shared HTTP listener for all webhook triggers of a trigger
// process. Dedup is optional: a nil client disables delivery deduplication.
type Server struct {
	server  *http.Server
	routes  map[string]*route
	mu      sync.RWMutex
	logger  *slog.Logger
	addr    string
	dedup   *redis.Client
	started bool

	done     chan struct{}
	doneOnce sync.Once
}

func NewServer(addr string, dedup *redis.Client, logger *slog.Logger) *Server {
	return &Server{
		routes: make(map[string]*route),
		logger: logger.With("module", "webhook_server"),
		addr:   addr,
		dedup:  dedup,
		done:   make(chan struct{}),
	}
}

func (s *Server) Register(path string, rt *route) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.routes[path]; exists {
		return fmt.Errorf("webhook path %s already registered by workflow %s", path, existing.workflowID)
	}

	s.routes[path] = rt
	s.logger.Info("Registered webhook route", "path", path, "workflow_id", rt.workflowID)

	return nil
}

func (s *Server) Unregister(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rt, exists := s.routes[path]; exists {
		delete(s.routes, path)
		s.logger.Info("Unregistered webhook route", "path", path, "workflow_id", rt.workflowID)
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)

	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		s.logger.Info("Starting webhook HTTP server", "addr", s.server.Addr)

		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Webhook server failed", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()

		if err := s.Stop(context.Background()); err != nil {
			s.logger.Error("Failed to stop webhook server", "error", err)
		}
	}()

	s.started = true

	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started || s.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	s.started = false
	s.doneOnce.Do(func() { close(s.done) })
	s.logger.Info("Webhook server stopped")

	return nil
}

func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) RouteCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.routes)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	rt, exists := s.routes[r.URL.Path]
	s.mu.RUnlock()

	if !exists {
		http.Error(w, "webhook path not found", http.StatusNotFound)

		return
	}

	if rt.method != "" && r.Method != rt.method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		rt.logger.Error("Failed to read webhook body", "error", err)
		http.Error(w, "failed to read request body", http.StatusBadRequest)

		return
	}

	defer func() {
		if err := r.Body.Close(); err != nil {
			rt.logger.Error("Failed to close request body", "error", err)
		}
	}()

	idempotencyKey := r.Header.Get(IdempotencyKeyHeader)
	if idempotencyKey == "" {
		idempotencyKey = uuid.New().String()
	}

	fresh, err := s.claimDelivery(r.Context(), idempotencyKey)
	if err != nil {
		rt.logger.Error("Webhook dedup check failed", "error", err)
		http.Error(w, "delivery deduplication unavailable", http.StatusServiceUnavailable)

		return
	}

	if !fresh {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "duplicate",
			"idempotency_key": idempotencyKey,
		})

		return
	}

	fire := protocol.TriggerFire{
		WorkflowID:     rt.workflowID,
		Source:         Source,
		Data:           requestData(r, body, rt.nodeID),
		IdempotencyKey: idempotencyKey,
	}

	go func() {
		if err := rt.callback(context.Background(), fire); err != nil {
			rt.logger.Error("Webhook callback failed", "error", err, "idempotency_key", idempotencyKey)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":          "accepted",
		"idempotency_key": idempotencyKey,
	})
}

// claimDelivery reserves the delivery key. The first claim wins; everyone
// else sees a duplicate until the TTL passes.
func (s *Server) claimDelivery(ctx context.Context, key string) (bool, error) {
	if s.dedup == nil {
		return true, nil
	}

	return s.dedup.SetNX(ctx, dedupKeyPrefix+key, 1, dedupTTL).Result()
}

func requestData(r *http.Request, body []byte, nodeID string) map[string]any {
	var bodyData any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &bodyData); err != nil {
			bodyData = string(body)
		}
	}

	headers := make(map[string]any)

	for name, values := range r.Header {
		if len(values) == 1 {
			headers[name] = values[0]
		} else {
			headers[name] = values
		}
	}

	query := make(map[string]any)

	for name, values := range r.URL.Query() {
		if len(values) == 1 {
			query[name] = values[0]
		} else {
			query[name] = values
		}
	}

	return map[string]any{
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"method":      r.Method,
		"path":        r.URL.Path,
		"query":       query,
		"headers":     headers,
		"body":        bodyData,
		"remote_addr": r.RemoteAddr,
		"node_id":     nodeID,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}
