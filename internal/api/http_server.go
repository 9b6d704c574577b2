package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"carecoop/internal/config"
	"carecoop/internal/service"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 1 << 20

// Pinger reports whether the storage backend is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HTTPServer exposes the scheduling service as a JSON API.
type HTTPServer struct {
	cfg    config.APIConfig
	svc    *service.BookingService
	health Pinger
	server *http.Server
	auth   *HTTPAuth
	logger *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc *service.BookingService, health Pinger, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http_api").Logger()
	srv := &HTTPServer{cfg: cfg, svc: svc, health: health, logger: &l}
	srv.auth = NewHTTPAuth(cfg)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)

	mux.HandleFunc("GET /api/v1/slots", srv.handleSlots)
	mux.HandleFunc("POST /api/v1/conflicts", srv.handleCheckConflicts)

	mux.HandleFunc("GET /api/v1/bookings", srv.handleListBookings)
	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreateBooking)
	mux.HandleFunc("GET /api/v1/bookings/{id}", srv.handleGetBooking)
	mux.HandleFunc("PUT /api/v1/bookings/{id}", srv.handleUpdateBooking)
	mux.HandleFunc("DELETE /api/v1/bookings/{id}", srv.handleDeleteBooking)
	mux.HandleFunc("POST /api/v1/bookings/{id}/status", srv.handleChangeStatus)

	mux.HandleFunc("POST /api/v1/recurrences/preview", srv.handlePreviewRecurrence)
	mux.HandleFunc("POST /api/v1/recurrences", srv.handleCommitRecurrence)

	mux.HandleFunc("GET /api/v1/absences", srv.handleListAbsences)
	mux.HandleFunc("POST /api/v1/absences", srv.handleAddAbsence)
	mux.HandleFunc("DELETE /api/v1/absences/{id}", srv.handleRemoveAbsence)

	mux.HandleFunc("GET /api/v1/time/end", srv.handleEndTime)
	mux.HandleFunc("GET /api/v1/time/duration", srv.handleDuration)

	mux.HandleFunc("GET /api/v1/export/roster", srv.handleExportRoster)
	mux.HandleFunc("POST /api/v1/roster/resync", srv.handleResyncRoster)
	mux.HandleFunc("POST /api/v1/roster/export", srv.handleSaveRosterExport)

	handler := loggingMiddleware(srv.logger, corsMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler returns the fully wrapped handler.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
