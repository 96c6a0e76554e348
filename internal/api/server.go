package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/bnema/waybar-pulse/internal/auth"
	"github.com/bnema/waybar-pulse/internal/logger"
	"github.com/bnema/waybar-pulse/internal/metrics"
	"github.com/bnema/waybar-pulse/internal/refresh"
)

const DefaultListenAddr = "127.0.0.1:7317"

// Auth is the part of the orchestrator the API drives
type Auth interface {
	Status() auth.Status
	StartDeviceFlow()
	ConfirmAuthorization()
	Logout()
}

type Refresher interface {
	Refresh(ctx context.Context) error
}

type Snapshot interface {
	LastUpdated() (time.Time, bool)
}

// Server is the daemon's local control surface
type Server struct {
	auth      Auth
	refresher Refresher
	snapshot  Snapshot
	metrics   *metrics.Metrics
	now       func() time.Time

	httpServer *http.Server
	router     chi.Router
}

type Options struct {
	Addr    string
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func New(a Auth, refresher Refresher, snapshot Snapshot, opts Options) *Server {
	s := &Server{
		auth:      a,
		refresher: refresher,
		snapshot:  snapshot,
		metrics:   opts.Metrics,
		now:       opts.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}

	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.instrument)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/start", s.handleAuthStart)
		r.Post("/confirm", s.handleAuthConfirm)
		r.Post("/logout", s.handleAuthLogout)
	})
	r.With(middleware.Timeout(45 * time.Second)).Post("/refresh", s.handleRefresh)
	r.Method(http.MethodGet, "/metrics", s.metrics.Handler())

	return r
}

// Handler exposes the router, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on the configured address until ctx is done
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.httpServer.Addr, err)
	}
	logger.Info("Control API listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down control API: %w", err)
		}
		return nil
	}
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := s.now()

		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		s.metrics.RecordHTTPRequest(route, r.Method, strconv.Itoa(status))
		logger.Debug("API request",
			"method", r.Method,
			"route", route,
			"status", status,
			"duration", s.now().Sub(start).String(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type healthResponse struct {
	Status string `json:"status"`
	Time   string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Time:   s.now().UTC().Format(time.RFC3339),
	})
}

type profileResponse struct {
	Login     string `json:"login"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
}

type statusResponse struct {
	State           string           `json:"state"`
	Authenticated   bool             `json:"authenticated"`
	Message         string           `json:"message,omitempty"`
	UserCode        string           `json:"user_code,omitempty"`
	VerificationURI string           `json:"verification_uri,omitempty"`
	FlowID          string           `json:"flow_id,omitempty"`
	Profile         *profileResponse `json:"profile,omitempty"`
	LastUpdated     string           `json:"last_updated,omitempty"`
}

func (s *Server) currentStatus() statusResponse {
	st := s.auth.Status()
	resp := statusResponse{
		State:           st.State.String(),
		Authenticated:   st.IsAuthenticated(),
		Message:         st.Message,
		UserCode:        st.UserCode,
		VerificationURI: st.VerificationURI,
		FlowID:          st.FlowID,
	}
	if st.Profile != nil {
		resp.Profile = &profileResponse{
			Login:     st.Profile.Login,
			Name:      st.Profile.DisplayName,
			AvatarURL: st.Profile.AvatarURL,
		}
	}
	if s.snapshot != nil {
		if last, ok := s.snapshot.LastUpdated(); ok {
			resp.LastUpdated = last.UTC().Format(time.RFC3339)
		}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.currentStatus())
}

func (s *Server) handleAuthStart(w http.ResponseWriter, r *http.Request) {
	s.auth.StartDeviceFlow()
	writeJSON(w, http.StatusAccepted, s.currentStatus())
}

func (s *Server) handleAuthConfirm(w http.ResponseWriter, r *http.Request) {
	s.auth.ConfirmAuthorization()
	writeJSON(w, http.StatusAccepted, s.currentStatus())
}

func (s *Server) handleAuthLogout(w http.ResponseWriter, r *http.Request) {
	s.auth.Logout()
	writeJSON(w, http.StatusOK, s.currentStatus())
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Status().IsAuthenticated() {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "not authenticated"})
		return
	}

	if err := s.refresher.Refresh(r.Context()); err != nil {
		if errors.Is(err, refresh.ErrSuperseded) {
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
			return
		}
		logger.Warn("Refresh via API failed", "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, s.currentStatus())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("Failed to write response", "error", err)
	}
}
