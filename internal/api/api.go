package api

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/cell-balancer/db"
	"github.com/thatsimonsguy/cell-balancer/internal/command"
	"github.com/thatsimonsguy/cell-balancer/internal/model"
)

const defaultSessionLimit = 20

type Server struct {
	db      *sql.DB
	channel *command.Channel
}

type IdentifyRequest struct {
	Count uint8 `json:"count"`
}

type SettingsRequest struct {
	Calibration               *float64 `json:"calibration,omitempty"`
	BypassTemperatureSetPoint *int     `json:"bypass_temperature_setpoint,omitempty"`
	BypassThresholdMV         *uint16  `json:"bypass_threshold_mv,omitempty"`
}

type SettingsResponse struct {
	Config  model.CellConfig `json:"config"`
	Clamped []string         `json:"clamped,omitempty"`
}

type SessionResponse struct {
	StartedAt string           `json:"started_at"`
	EndedAt   string           `json:"ended_at"`
	Reason    model.StopReason `json:"reason"`
	ChargeMAh float32          `json:"charge_mah"`
	PeakTempC int16            `json:"peak_temp_c"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func NewServer(database *sql.DB, channel *command.Channel) *Server {
	return &Server{
		db:      database,
		channel: channel,
	}
}

// Handler returns the API routes behind the CORS wrapper.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/identify", s.handleIdentify)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/charge/reset", s.handleChargeReset)
	mux.HandleFunc("/api/sessions", s.handleSessions)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		mux.ServeHTTP(w, r)
	})
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf("0.0.0.0:%d", port)
	log.Info().Str("address", addr).Msg("Starting REST API server")

	return http.ListenAndServe(addr, s.Handler())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.writeJSON(w, http.StatusOK, s.channel.Status())
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req IdentifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}
	if req.Count == 0 {
		s.writeError(w, http.StatusBadRequest, "Count must be between 1 and 255")
		return
	}

	s.channel.RequestIdentify(req.Count)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.channel.Settings())
	case http.MethodPut:
		s.setSettings(w, r)
	default:
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) setSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	cfg := s.channel.Settings()
	if req.Calibration != nil {
		cfg.Calibration = *req.Calibration
	}
	if req.BypassTemperatureSetPoint != nil {
		cfg.BypassTemperatureSetPoint = *req.BypassTemperatureSetPoint
	}
	if req.BypassThresholdMV != nil {
		cfg.BypassThresholdMV = *req.BypassThresholdMV
	}

	clamped, err := s.channel.ApplySettings(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to apply cell settings")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Strs("clamped", clamped).Msg("Cell settings updated via API")
	s.writeJSON(w, http.StatusOK, SettingsResponse{Config: s.channel.Settings(), Clamped: clamped})
}

func (s *Server) handleChargeReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.channel.RequestChargeReset()
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			s.writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	sessions, err := db.ListBalanceSessions(s.db, limit)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list balance sessions")
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	response := make([]SessionResponse, 0, len(sessions))
	for _, session := range sessions {
		response = append(response, SessionResponse{
			StartedAt: session.StartedAt.UTC().Format(time.RFC3339),
			EndedAt:   session.EndedAt.UTC().Format(time.RFC3339),
			Reason:    session.Reason,
			ChargeMAh: session.ChargeMAh,
			PeakTempC: session.PeakTempC,
		})
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponse{Error: message})
}
