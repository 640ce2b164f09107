package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"actlog/internal/activity"
	"actlog/internal/api"
	"actlog/internal/config"
	"actlog/internal/logging"
	"actlog/internal/store"
	"actlog/internal/tracing"
)

const (
	maxRequestBody   = 1 << 20
	defaultListLimit = 50
	maxListLimit     = 1000

	// Optional headers the web application sets to attribute activity when
	// the body omits the actor.
	headerActorID   = "X-Actor-Id"
	headerActorRole = "X-Actor-Role"
	headerRequestID = "X-Request-Id"
)

type apiServer struct {
	bind   string
	token  string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:   strings.TrimSpace(cfg.Paths.APIBind),
		token:  cfg.Paths.APIToken,
		logger: logging.NewComponentLogger(logger, "api-server"),
		daemon: d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ErrorLog:          slog.NewLogLogger(srv.logger.Handler(), slog.LevelWarn),
	}
	return srv
}

func (s *apiServer) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/activity", s.instrument("/api/activity", authMiddleware(s.token, s.handleActivity)))
	mux.HandleFunc("/api/flush", s.instrument("/api/flush", authMiddleware(s.token, s.handleFlush)))
	mux.HandleFunc("/api/status", s.instrument("/api/status", authMiddleware(s.token, s.handleStatus)))
	if s.daemon.metrics != nil {
		mux.Handle("/metrics", s.daemon.metrics.Handler())
	}
	return mux
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil || s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check api_bind and restart the daemon"),
			)
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop(ctx context.Context) {
	if s == nil || s.listener == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		_ = s.server.Close()
	}
	s.listener = nil
}

func (s *apiServer) address() string {
	if s == nil || s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// instrument assigns a request ID, attaches the actor headers to the context,
// and counts the response status.
func (s *apiServer) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get(headerRequestID))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)

		ctx := logging.WithRequestID(r.Context(), requestID)
		if actorID := strings.TrimSpace(r.Header.Get(headerActorID)); actorID != "" {
			ctx = activity.WithActor(ctx, activity.Actor{
				ID:   actorID,
				Role: strings.TrimSpace(r.Header.Get(headerActorRole)),
			})
		}

		ctx, span := tracing.StartSpan(ctx, "api "+route,
			semconv.HTTPRequestMethodKey.String(r.Method),
			semconv.HTTPRouteKey.String(route),
		)
		defer span.End()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next(rec, r.WithContext(ctx))

		tracing.RecordStatus(span, rec.status)
		s.daemon.metrics.ObserveRequest(route, rec.status)
		logging.WithContext(ctx, s.logger).Debug("api request",
			logging.String("method", r.Method),
			logging.String("route", route),
			logging.Int("status", rec.status),
			logging.Duration("elapsed", time.Since(start)),
		)
	}
}

func (s *apiServer) handleActivity(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleSubmit(w, r)
	case http.MethodGet:
		s.handleList(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req api.ActivityRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := decoder.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	opts, err := req.Options()
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := activity.Validate(opts); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := s.daemon.recorder.LogActivity(r.Context(), opts)
	if id == "" {
		s.writeError(w, http.StatusInternalServerError, "activity was not recorded")
		return
	}
	s.writeJSON(w, http.StatusAccepted, api.ActivityAccepted{ID: id, QueueSize: s.daemon.queue.Size()})
}

func (s *apiServer) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	records, err := s.daemon.ListActivity(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, api.ActivityListResponse{Records: api.FromRecords(records)})
}

func parseListFilter(r *http.Request) (store.Filter, error) {
	q := r.URL.Query()
	filter := store.Filter{
		ActorID: strings.TrimSpace(q.Get("actor")),
		Limit:   defaultListLimit,
		Newest:  true,
	}
	if value := strings.TrimSpace(q.Get("action")); value != "" {
		action, err := activity.ParseAction(value)
		if err != nil {
			return store.Filter{}, err
		}
		filter.Action = action
	}
	if value := strings.TrimSpace(q.Get("resource")); value != "" {
		resource, err := activity.ParseResourceType(value)
		if err != nil {
			return store.Filter{}, err
		}
		filter.ResourceType = resource
	}
	if value := strings.TrimSpace(q.Get("limit")); value != "" {
		limit, err := strconv.Atoi(value)
		if err != nil || limit <= 0 {
			return store.Filter{}, fmt.Errorf("invalid limit %q", value)
		}
		filter.Limit = min(limit, maxListLimit)
	}
	switch strings.TrimSpace(q.Get("failed")) {
	case "", "0", "false":
	default:
		failed := false
		filter.Success = &failed
	}
	return filter, nil
}

func (s *apiServer) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	report := s.daemon.Flush(r.Context())
	s.writeJSON(w, http.StatusOK, api.FromFlushReport(report, s.daemon.queue.Size()))
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())
	payload := api.StatusResponse{
		Running:      status.Running,
		PID:          status.PID,
		LockFilePath: status.LockFilePath,
		Queue: api.QueueStatus{
			Size:            status.QueueSize,
			Flushing:        status.Flushing,
			MaxBatchSize:    status.QueueConfig.MaxBatchSize,
			MaxRetries:      status.QueueConfig.MaxRetries,
			FlushIntervalMs: status.QueueConfig.FlushInterval.Milliseconds(),
		},
		Storage: api.FromStorage(status.Health, status.Stats),
	}
	if !status.StartedAt.IsZero() {
		payload.StartedAt = status.StartedAt.UTC().Format(time.RFC3339)
	}
	if status.StorageError != "" {
		payload.Storage.Healthy = false
		payload.Storage.Error = status.StorageError
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, api.ErrorResponse{Error: message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
