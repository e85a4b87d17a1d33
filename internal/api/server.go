package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/voicedesk/voicedesk/internal/api/middleware"
	"github.com/voicedesk/voicedesk/internal/config"
	"github.com/voicedesk/voicedesk/internal/database"
	"github.com/voicedesk/voicedesk/internal/telephony"
	"github.com/voicedesk/voicedesk/internal/ticketing"
	"github.com/voicedesk/voicedesk/internal/voice"
)

// Server holds HTTP handler dependencies and the chi router.
type Server struct {
	router *chi.Mux
	cfg    *config.Config

	telephony *telephony.Service
	ticketing *ticketing.Service
	voice     *voice.Service
	calls     database.CallLogRepository
	metrics   database.MetricsRepository

	promHandler http.Handler
	limiter     *middleware.IPRateLimiter
}

// NewServer creates the HTTP handler with all routes mounted.
// promHandler serves GET /metrics and may be nil to disable the endpoint.
func NewServer(
	cfg *config.Config,
	tel *telephony.Service,
	tick *ticketing.Service,
	speech *voice.Service,
	calls database.CallLogRepository,
	metrics database.MetricsRepository,
	promHandler http.Handler,
) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		cfg:         cfg,
		telephony:   tel,
		ticketing:   tick,
		voice:       speech,
		calls:       calls,
		metrics:     metrics,
		promHandler: promHandler,
		limiter:     middleware.NewIPRateLimiter(middleware.DefaultRateLimitConfig()),
	}

	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close stops the rate limiter's background cleanup.
func (s *Server) Close() {
	s.limiter.Stop()
}

// routes configures all middleware and mounts all route groups.
func (s *Server) routes() {
	r := s.router

	// Global middleware stack.
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.StructuredLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.CORS(middleware.ParseCORSOrigins(s.cfg.CORSOrigins)))
	r.Use(middleware.RateLimit(s.limiter))

	r.Get("/api/ping", s.handlePing)

	r.Route("/api/sip", func(r chi.Router) {
		r.Post("/test", s.handleTelephonyTest)
		r.Post("/register", s.handleTelephonyRegister)
		r.Post("/unregister", s.handleTelephonyUnregister)
		r.Get("/status", s.handleTelephonyStatus)
		r.Post("/simulate-call", s.handleSimulateCall)
		r.Post("/end-call", s.handleEndCall)
	})

	r.Route("/api/1c", func(r chi.Router) {
		r.Post("/test", s.handleTicketingTest)
		r.Post("/connect", s.handleTicketingConnect)
		r.Post("/tickets", s.handleCreateTicket)
		r.Get("/tickets", s.handleListTickets)
		r.Get("/status", s.handleTicketingStatus)
	})

	r.Route("/api/voice", func(r chi.Router) {
		r.Post("/initialize", s.handleVoiceInitialize)
		r.Post("/synthesize", s.handleSynthesize)
		r.Post("/recognize", s.handleRecognize)
		r.Post("/test", s.handleVoiceSelfTest)
		r.Get("/status", s.handleVoiceStatus)
		r.Put("/config", s.handleVoiceConfig)
	})

	r.Route("/api/logs/calls", func(r chi.Router) {
		r.Get("/", s.handleListCallLogs)
		r.Post("/", s.handleCreateCallLog)
		r.Put("/{callID}", s.handleUpdateCallLog)
	})

	r.Get("/api/dashboard/stats", s.handleDashboardStats)
	r.Get("/api/metrics", s.handleGetMetrics)
	r.Post("/api/metrics", s.handleInsertMetrics)

	if s.promHandler != nil {
		r.Handle("/metrics", s.promHandler)
	}

	slog.Info("api routes mounted")
}

// handlePing returns the API greeting banner.
func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	writeResult(w, http.StatusOK, map[string]any{
		"message": "VoiceDesk API Сервер v1.0 - Готов к работе!",
	})
}
