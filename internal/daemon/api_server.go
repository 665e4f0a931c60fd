package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ipoddock/internal/api"
	"ipoddock/internal/config"
	"ipoddock/internal/logging"
	"ipoddock/internal/queue"
	"ipoddock/internal/services"
	"ipoddock/internal/syncer"
)

const (
	defaultFailureLimit = 50
	maxFailureLimit     = 1000
	maxFormFieldBytes   = 4 << 10
)

type apiServer struct {
	bind      string
	logger    *slog.Logger
	daemon    *Daemon
	maxUpload int64
	handler   http.Handler

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	if cfg == nil || d == nil {
		return nil
	}
	bind := strings.TrimSpace(cfg.API.Bind)
	if bind == "" {
		return nil
	}
	srv := &apiServer{
		bind:      bind,
		logger:    logging.NewComponentLogger(logger, "api-server"),
		daemon:    d,
		maxUpload: cfg.MaxUploadBytes(),
	}
	srv.handler = srv.routes(cfg.API.Token, cfg.API.SyncPerMin)
	return srv
}

func (s *apiServer) routes(token string, syncPerMin int) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(requestContext)
	r.Use(chimiddleware.Recoverer)

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware(token))

		r.Get("/api/status", s.handleStatus)
		r.Route("/api/queue", func(r chi.Router) {
			r.Get("/", s.handleListQueue)
			r.Post("/", s.handleUpload)
			r.Delete("/", s.handleClearQueue)
			r.Post("/delete", s.handleEnqueueDelete)
			r.Get("/health", s.handleHealth)
			r.Delete("/{id}", s.handleRemoveItem)
		})
		r.Get("/api/tracks", s.handleListTracks)
		r.Get("/api/failures", s.handleListFailures)
		r.Delete("/api/failures", s.handleClearFailures)

		syncRoute := r.With()
		if syncPerMin > 0 {
			syncRoute = r.With(httprate.Limit(syncPerMin, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(s.handleRateLimited),
			))
		}
		syncRoute.Post("/api/sync", s.handleSync)
	})
	return r
}

// requestContext copies chi's request id into the services context so
// downstream log lines carry it as correlation_id.
func requestContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := chimiddleware.GetReqID(r.Context()); id != "" {
			r = r.WithContext(services.WithRequestID(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

func (s *apiServer) start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	server := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.mu.Lock()
	s.listener = listener
	s.server = server
	s.mu.Unlock()

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.ErrorWithContext(s.logger, "api server error", "api_server_failed", logging.Error(err))
		}
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	if s == nil {
		return
	}
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()
	if server == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (s *apiServer) addr() string {
	if s == nil {
		return ""
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	st := s.daemon.Status(r.Context())
	payload := api.DaemonStatus{
		Running:      st.Running,
		PID:          st.PID,
		QueueDBPath:  st.QueueDBPath,
		LockFilePath: st.LockFilePath,
		Connection:   api.FromSnapshot(st.Connection),
		SyncState:    string(st.SyncState),
		SyncRunning:  st.SyncRunning,
		Queue:        api.FromStats(st.Queue),
		Dependencies: api.FromDependencies(st.Dependencies),
	}
	if st.LastSession != nil {
		last := api.FromSessionResult(*st.LastSession)
		payload.LastSession = &last
	}
	if st.QueueErr != nil {
		logging.WarnWithContext(logging.WithContext(r.Context(), s.logger), "queue stats unavailable", "queue_stats_failed",
			logging.Error(st.QueueErr),
			logging.String(logging.FieldImpact, "status reports an empty queue"),
		)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *apiServer) handleListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.daemon.ListQueue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.QueueListResponse{Items: api.FromQueueItems(items)})
}

func (s *apiServer) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "multipart/form-data" {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "expected multipart/form-data", nil))
		return
	}
	reader, err := r.MultipartReader()
	if err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "read multipart body", err))
		return
	}

	// Fields precede the file part; the file streams straight into staging.
	var req queue.EnqueueRequest
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "missing file part", nil))
			return
		}
		if err != nil {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "upload", "read multipart part", err))
			return
		}
		if part.FormName() == "file" {
			req.OriginalName = part.FileName()
			item, err := s.daemon.Upload(r.Context(), req, part)
			_ = part.Close()
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			s.writeJSON(w, http.StatusCreated, api.QueueItemResponse{Item: api.FromQueueItem(item)})
			return
		}
		if err := applyUploadField(&req, part); err != nil {
			_ = part.Close()
			s.writeError(w, r, err)
			return
		}
		_ = part.Close()
	}
}

func applyUploadField(req *queue.EnqueueRequest, part *multipart.Part) error {
	data, err := io.ReadAll(io.LimitReader(part, maxFormFieldBytes))
	if err != nil {
		return services.Wrap(services.ErrValidation, "api", "upload", "read form field", err)
	}
	value := strings.TrimSpace(string(data))
	switch part.FormName() {
	case "category":
		category, err := queue.ParseCategory(value)
		if err != nil {
			return services.Wrap(services.ErrValidation, "api", "upload", "", err)
		}
		req.Category = category
	case "playlist":
		req.Playlist = value
	case "title":
		req.Metadata.Title = value
	case "artist":
		req.Metadata.Artist = value
	case "album":
		req.Metadata.Album = value
	case "genre":
		req.Metadata.Genre = value
	case "track_number":
		if value == "" {
			return nil
		}
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return services.Wrap(services.ErrValidation, "api", "upload", fmt.Sprintf("invalid track_number %q", value), nil)
		}
		req.Metadata.TrackNumber = n
	}
	return nil
}

func (s *apiServer) handleEnqueueDelete(w http.ResponseWriter, r *http.Request) {
	var body api.DeleteRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxFormFieldBytes)).Decode(&body); err != nil {
		s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "enqueue delete", "decode request body", err))
		return
	}
	item, err := s.daemon.EnqueueDelete(r.Context(), body.TrackID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, api.QueueItemResponse{Item: api.FromQueueItem(item)})
}

func (s *apiServer) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	removed, err := s.daemon.RemoveItem(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if !removed {
		s.writeError(w, r, services.Wrap(services.ErrNotFound, "api", "remove", fmt.Sprintf("queue item %q not found", id), nil))
		return
	}
	s.writeJSON(w, http.StatusOK, api.RemoveResponse{Removed: true})
}

func (s *apiServer) handleClearQueue(w http.ResponseWriter, r *http.Request) {
	removed, err := s.daemon.ClearQueue(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.daemon.DatabaseHealth(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromDatabaseHealth(health))
}

func (s *apiServer) handleListFailures(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailureLimit
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, r, services.Wrap(services.ErrValidation, "api", "failures", fmt.Sprintf("invalid limit %q", raw), nil))
			return
		}
		limit = min(parsed, maxFailureLimit)
	}
	failures, err := s.daemon.ListFailures(r.Context(), limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FailureListResponse{Failures: api.FromFailures(failures)})
}

func (s *apiServer) handleListTracks(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.daemon.ListTracks(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.TrackListResponse{Tracks: api.FromTracks(tracks)})
}

func (s *apiServer) handleClearFailures(w http.ResponseWriter, r *http.Request) {
	removed, err := s.daemon.ClearFailures(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.ClearResponse{Removed: removed})
}

func (s *apiServer) handleSync(w http.ResponseWriter, r *http.Request) {
	wait := r.URL.Query().Get("wait") == "1" || strings.EqualFold(r.URL.Query().Get("wait"), "true")
	res, started := s.daemon.TriggerSync(r.Context(), wait, syncer.ReasonAPI)
	if !wait {
		code := http.StatusAccepted
		if !started {
			code = http.StatusOK
		}
		s.writeJSON(w, code, api.SyncResponse{Started: started})
		return
	}
	converted := api.FromSessionResult(res)
	s.writeJSON(w, http.StatusOK, api.SyncResponse{Started: started, Result: &converted})
}

func (s *apiServer) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusTooManyRequests, api.ErrorResponse{Error: "too many sync requests", Kind: "rate_limited"})
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

func (s *apiServer) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusForError(err)
	kind := services.Classify(err)
	if errors.Is(err, ErrSessionActive) {
		kind = "session_active"
	}
	if code >= http.StatusInternalServerError {
		logging.ErrorWithContext(logging.WithContext(r.Context(), s.logger), "api request failed", "api_request_failed",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.String(logging.FieldErrorKind, kind),
			logging.Error(err),
		)
	}
	s.writeJSON(w, code, api.ErrorResponse{Error: err.Error(), Kind: kind})
}

func statusForError(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrSessionActive), errors.Is(err, services.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, services.ErrDeviceNotFound):
		return http.StatusServiceUnavailable
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
