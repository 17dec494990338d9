package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/solar-pump-controller/internal/flow"
	"github.com/thatsimonsguy/solar-pump-controller/internal/model"
	"github.com/thatsimonsguy/solar-pump-controller/internal/relay"
	"github.com/thatsimonsguy/solar-pump-controller/internal/status"
	"github.com/thatsimonsguy/solar-pump-controller/internal/temperature"
)

type RelayService interface {
	SetState(relay.State) error
	Snapshot() (relay.Snapshot, error)
}

type TemperatureService interface {
	Snapshot() (temperature.Data, error)
	Reset() error
}

type FlowService interface {
	Snapshot() flow.Data
}

type ControllerService interface {
	Policy() model.PumpPolicy
	SafetyArmed() bool
}

type Server struct {
	relay       RelayService
	temperature TemperatureService
	flow        FlowService
	controller  ControllerService
	httpServer  *http.Server
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// NewServer builds the API. flow and controller may be nil; their endpoints
// then answer 404.
func NewServer(r RelayService, t TemperatureService, f FlowService, c ControllerService) *Server {
	return &Server{
		relay:       r,
		temperature: t,
		flow:        f,
		controller:  c,
	}
}

// Handler returns the routed API wrapped with CORS headers.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter().StrictSlash(true)

	router.HandleFunc("/api/status", s.getStatus).Methods(http.MethodGet)

	router.HandleFunc("/relay", s.getRelay).Methods(http.MethodGet)
	router.HandleFunc("/relay/{state:on|off}", s.getRelayState).Methods(http.MethodGet)
	router.HandleFunc("/relay/{state:on|off}", s.setRelayState).Methods(http.MethodPut)

	router.HandleFunc("/temperature", s.getTemperature).Methods(http.MethodGet)
	router.HandleFunc("/temperature/{channel:1|2|delta}", s.getTemperatureChannel).Methods(http.MethodGet)
	router.HandleFunc("/temperature/readings", s.resetTemperature).Methods(http.MethodDelete)

	router.HandleFunc("/flow", s.getFlow).Methods(http.MethodGet)
	router.HandleFunc("/flow/current_cycle", s.getFlowCycle).Methods(http.MethodGet)
	router.HandleFunc("/flow/totals", s.getFlowTotals).Methods(http.MethodGet)

	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	})
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not found")
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		router.ServeHTTP(w, r)
	})
}

// Start serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Start(ctx context.Context, port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("address", addr).Msg("Starting REST API server")
		errCh <- s.httpServer.ListenAndServe()
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
			return fmt.Errorf("shutdown api server: %w", err)
		}
		log.Info().Msg("REST API server stopped")
		return nil
	}
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	doc, err := status.Collect(s.sources())
	if err != nil {
		log.Warn().Err(err).Msg("Status document is missing sections")
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) sources() status.Sources {
	src := status.Sources{Relay: s.relay, Temperature: s.temperature}
	if s.flow != nil {
		src.Flow = s.flow
	}
	if s.controller != nil {
		src.Controller = s.controller
	}
	return src
}

func (s *Server) getRelay(w http.ResponseWriter, r *http.Request) {
	snap, err := s.relay.Snapshot()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read relay")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status.FromRelay(snap))
}

func (s *Server) getRelayState(w http.ResponseWriter, r *http.Request) {
	state, err := relay.ParseState(mux.Vars(r)["state"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	snap, err := s.relay.Snapshot()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read relay")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status.FromRelayState(snap, state))
}

func (s *Server) setRelayState(w http.ResponseWriter, r *http.Request) {
	state, err := relay.ParseState(mux.Vars(r)["state"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	err = s.relay.SetState(state)
	switch {
	case err == nil:
		log.Info().Str("state", state.String()).Msg("Relay set via API")
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, relay.ErrAlreadyInState):
		writeError(w, http.StatusConflict, err.Error())
	default:
		log.Error().Err(err).Str("state", state.String()).Msg("Failed to set relay via API")
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) getTemperature(w http.ResponseWriter, r *http.Request) {
	data, err := s.temperature.Snapshot()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read temperature sensor")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status.FromTemperature(data))
}

func (s *Server) getTemperatureChannel(w http.ResponseWriter, r *http.Request) {
	data, err := s.temperature.Snapshot()
	if err != nil {
		log.Error().Err(err).Msg("Failed to read temperature sensor")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var ch temperature.Channel
	switch mux.Vars(r)["channel"] {
	case "1":
		ch = data.Probe1
	case "2":
		ch = data.Probe2
	default:
		ch = data.Delta
	}
	writeJSON(w, http.StatusOK, status.FromChannel(ch))
}

func (s *Server) resetTemperature(w http.ResponseWriter, r *http.Request) {
	if err := s.temperature.Reset(); err != nil {
		log.Error().Err(err).Msg("Failed to reset temperature statistics")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	log.Info().Msg("Temperature statistics reset via API")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getFlow(w http.ResponseWriter, r *http.Request) {
	if s.flow == nil {
		writeError(w, http.StatusNotFound, "Flow sensor not configured")
		return
	}
	writeJSON(w, http.StatusOK, status.FromFlow(s.flow.Snapshot()))
}

func (s *Server) getFlowCycle(w http.ResponseWriter, r *http.Request) {
	if s.flow == nil {
		writeError(w, http.StatusNotFound, "Flow sensor not configured")
		return
	}
	writeJSON(w, http.StatusOK, status.FromFlowCycle(s.flow.Snapshot().CurrentCycle))
}

func (s *Server) getFlowTotals(w http.ResponseWriter, r *http.Request) {
	if s.flow == nil {
		writeError(w, http.StatusNotFound, "Flow sensor not configured")
		return
	}
	writeJSON(w, http.StatusOK, status.FromFlowTotals(s.flow.Snapshot().Totals))
}

func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Warn().Err(err).Msg("Failed to encode API response")
	}
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}
