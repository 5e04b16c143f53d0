package api

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/MikeSquared-Agency/tally/internal/config"
	"github.com/MikeSquared-Agency/tally/internal/export"
	"github.com/MikeSquared-Agency/tally/internal/processor"
	"github.com/MikeSquared-Agency/tally/internal/provider"
	"github.com/MikeSquared-Agency/tally/internal/roster"
	"github.com/MikeSquared-Agency/tally/internal/settings"
)

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Processor    *processor.Processor
	Registry     *provider.Registry
	Participants roster.Store
	Activity     roster.ActivityStore
	Settings     settings.Store
	SettingsKey  string
	Logger       *zap.Logger
}

type Server struct {
	router  *chi.Mux
	deps    Deps
	limiter *rate.Limiter
	logger  *zap.Logger
	http    *http.Server

	// serialises settings read-modify-write
	settingsMu sync.Mutex
}

func NewServer(port int, cfg config.APIConfig, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.SettingsKey == "" {
		deps.SettingsKey = settings.DefaultKey
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(requestLogger(deps.Logger))
	router.Use(middleware.Recoverer)

	origins := cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	s := &Server{
		router: router,
		deps:   deps,
		logger: deps.Logger,
		http: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	router.Get("/health", s.health)
	router.Handle("/metrics", promhttp.Handler())

	router.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuthMiddleware(cfg.Token))

		r.Get("/providers", s.listProviders)
		r.Post("/providers/test", s.testConnection)

		r.Get("/settings", s.getSettings)
		r.Put("/settings", s.putSettings)
		r.Post("/settings/provider", s.switchProvider)

		r.Get("/participants", s.listParticipants)
		r.Delete("/participants/{id}", s.removeParticipant)

		r.With(s.rateLimit).Post("/extractions", s.extract)
		r.Get("/export", s.export)
	})

	return s
}

// Start blocks until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server starting", zap.String("addr", s.http.Addr))
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// BearerAuthMiddleware rejects requests without the expected bearer token.
// An empty token disables the check.
func BearerAuthMiddleware(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeJSON(w, http.StatusTooManyRequests, errorBody{
				Error: "too many extraction requests, try again shortly",
				Kind:  string(provider.KindRateLimit),
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.Catalog())
}

func (s *Server) testConnection(w http.ResponseWriter, r *http.Request) {
	var cfg provider.Config
	if !decode(w, r, &cfg) {
		return
	}

	// The settings screen only ever sees masked keys.
	if stored, err := s.loadSettings(r.Context()); err == nil {
		candidate := settings.Settings{AIProvider: cfg}
		if err := candidate.RestoreKeys(stored); err != nil {
			s.writeError(w, err)
			return
		}
		cfg = candidate.AIProvider
	}

	writeJSON(w, http.StatusOK, processor.TestConnection(r.Context(), s.deps.Registry, cfg))
}

type settingsResponse struct {
	Settings   settings.Settings `json:"settings"`
	Configured bool              `json:"configured"`
	Error      string            `json:"error,omitempty"`
}

func (s *Server) getSettings(w http.ResponseWriter, r *http.Request) {
	st, err := s.loadSettings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	_, configured := s.deps.Processor.Active()
	writeJSON(w, http.StatusOK, settingsResponse{Settings: st.Redacted(), Configured: configured})
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.Settings
	if !decode(w, r, &next) {
		return
	}
	if !s.deps.Registry.IsSupported(next.AIProvider.Provider) {
		s.writeError(w, &provider.Error{
			Kind:    provider.KindConfiguration,
			Message: "unknown AI provider: " + next.AIProvider.Provider,
		})
		return
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	prev, err := s.loadSettings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := next.RestoreKeys(prev); err != nil {
		s.writeError(w, err)
		return
	}
	next.SetActive(next.AIProvider)

	s.commitSettings(w, r, next)
}

type switchRequest struct {
	Provider string `json:"provider"`
}

func (s *Server) switchProvider(w http.ResponseWriter, r *http.Request) {
	var req switchRequest
	if !decode(w, r, &req) {
		return
	}

	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	st, err := s.loadSettings(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if err := st.SwitchProvider(req.Provider, s.deps.Registry); err != nil {
		s.writeError(w, err)
		return
	}

	s.commitSettings(w, r, st)
}

// commitSettings persists st and reconfigures the processor when the
// active provider has a key. A rejected config is reported, not fatal.
func (s *Server) commitSettings(w http.ResponseWriter, r *http.Request, st settings.Settings) {
	if err := settings.Save(r.Context(), s.deps.Settings, s.deps.SettingsKey, st); err != nil {
		s.writeError(w, err)
		return
	}

	resp := settingsResponse{Settings: st.Redacted()}
	if st.AIProvider.APIKey != "" {
		if err := s.deps.Processor.Configure(st.AIProvider); err != nil {
			resp.Error = err.Error()
		} else {
			resp.Configured = true
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listParticipants(w http.ResponseWriter, r *http.Request) {
	ps, err := s.deps.Participants.LoadAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	roster.SortByName(ps)
	if ps == nil {
		ps = []roster.Participant{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (s *Server) removeParticipant(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid participant id"})
		return
	}
	if err := s.deps.Participants.Remove(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type extractRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "text is required"})
		return
	}

	lang := req.Language
	if lang == "" {
		if st, err := s.loadSettings(r.Context()); err == nil {
			lang = st.Language
		}
	}

	res, err := s.deps.Processor.Ingest(r.Context(), req.Text, lang)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	if format != "csv" && format != "xlsx" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "format must be csv or xlsx"})
		return
	}

	ps, err := s.deps.Participants.LoadAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	recs, err := s.deps.Activity.LoadAll(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	rows := export.Rows(ps, recs)
	lang := r.URL.Query().Get("lang")

	var buf bytes.Buffer
	contentType := "text/csv; charset=utf-8"
	if format == "xlsx" {
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		err = export.WriteXLSX(&buf, rows, lang)
	} else {
		err = export.WriteCSV(&buf, rows, lang)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="publishers.%s"`, format))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) loadSettings(ctx context.Context) (settings.Settings, error) {
	return settings.Load(ctx, s.deps.Settings, s.deps.SettingsKey, s.deps.Registry)
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

var statusForKind = map[provider.Kind]int{
	provider.KindConfiguration:  http.StatusBadRequest,
	provider.KindAuth:           http.StatusUnauthorized,
	provider.KindPermission:     http.StatusForbidden,
	provider.KindNotFound:       http.StatusNotFound,
	provider.KindRateLimit:      http.StatusTooManyRequests,
	provider.KindResponseFormat: http.StatusUnprocessableEntity,
	provider.KindTransient:      http.StatusServiceUnavailable,
	provider.KindNetwork:        http.StatusBadGateway,
	provider.KindUnknown:        http.StatusInternalServerError,
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := provider.KindOf(err)
	status := statusForKind[kind]
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("kind", string(kind)), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Kind: string(kind)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
