package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/store"
)

// AdminDependencies wires the central HTTP surface.
type AdminDependencies struct {
	Logger  *log.Logger
	Addr    string
	Central store.CentralStore
}

// AdminServer is the operator-facing API at the center: vehicle registry
// CRUD, gate fleet overview, access history and dashboard stats.
type AdminServer struct {
	httpServer *http.Server
	logger     *log.Logger
	central    store.CentralStore
}

func NewAdminServer(d AdminDependencies) *AdminServer {
	mux := http.NewServeMux()

	s := &AdminServer{
		logger:  d.Logger,
		central: d.Central,
	}

	mux.HandleFunc("GET /v1/vehicles", s.handleListVehicles)
	mux.HandleFunc("POST /v1/vehicles", s.handlePutVehicle)
	mux.HandleFunc("GET /v1/gates", s.handleListGates)
	mux.HandleFunc("GET /v1/access_logs", s.handleAccessLogs)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *AdminServer) Handler() http.Handler { return s.httpServer.Handler }

func (s *AdminServer) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type vehicleView struct {
	PlateNumber  string  `json:"plate_number"`
	OwnerName    string  `json:"owner_name"`
	IsAuthorized bool    `json:"is_authorized"`
	ValidFrom    string  `json:"valid_from"`
	ValidUntil   *string `json:"valid_until"`
	LastModified string  `json:"last_modified"`
}

type vehicleUpsert struct {
	PlateNumber  string  `json:"plate_number"`
	OwnerName    string  `json:"owner_name"`
	IsAuthorized bool    `json:"is_authorized"`
	ValidFrom    string  `json:"valid_from,omitempty"`
	ValidUntil   *string `json:"valid_until,omitempty"`
}

type gateView struct {
	GateID            string  `json:"gate_id"`
	Location          string  `json:"location"`
	Status            string  `json:"status"`
	LastOnline        *string `json:"last_online"`
	LocalCacheUpdated *string `json:"local_cache_updated"`
}

type accessLogView struct {
	ID              string  `json:"id"`
	PlateNumber     string  `json:"plate_number"`
	GateID          string  `json:"gate_id"`
	AccessGranted   bool    `json:"access_granted"`
	ConfidenceScore float64 `json:"confidence_score"`
	Accessing       bool    `json:"accessing"`
	Timestamp       string  `json:"timestamp"`
}

type statsView struct {
	TotalVehicles           int `json:"total_vehicles"`
	TotalAttemptsToday      int `json:"total_attempts_today"`
	SuccessfulAttemptsToday int `json:"successful_attempts_today"`
	TotalGates              int `json:"total_gates"`
	OnlineGates             int `json:"online_gates"`
}

func (s *AdminServer) handleListVehicles(w http.ResponseWriter, r *http.Request) {
	recs, err := s.central.ListVehicles(r.Context())
	if err != nil {
		s.logger.Printf("list vehicles: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	out := make([]vehicleView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, vehicleToView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) handlePutVehicle(w http.ResponseWriter, r *http.Request) {
	var req vehicleUpsert
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.PlateNumber) == "" {
		writeError(w, http.StatusBadRequest, "invalid_plate", "plate_number is required")
		return
	}

	rec := store.VehicleRecord{
		PlateNumber:  strings.TrimSpace(req.PlateNumber),
		OwnerName:    req.OwnerName,
		IsAuthorized: req.IsAuthorized,
	}
	if req.ValidFrom != "" {
		t, err := time.Parse(time.RFC3339, req.ValidFrom)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_valid_from", "valid_from must be RFC3339")
			return
		}
		rec.ValidFrom = t.UTC()
	}
	if req.ValidUntil != nil {
		t, err := time.Parse(time.RFC3339, *req.ValidUntil)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_valid_until", "valid_until must be RFC3339")
			return
		}
		u := t.UTC()
		rec.ValidUntil = &u
	}

	if err := s.central.PutVehicle(r.Context(), rec); err != nil {
		if errors.Is(err, store.ErrInvalidValidity) {
			writeError(w, http.StatusBadRequest, "invalid_validity", err.Error())
			return
		}
		s.logger.Printf("put vehicle %s: %v", rec.PlateNumber, err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	stored, err := s.central.VehicleByPlate(r.Context(), rec.PlateNumber)
	if err != nil || stored == nil {
		writeJSON(w, http.StatusOK, map[string]string{"plate_number": rec.PlateNumber})
		return
	}
	writeJSON(w, http.StatusOK, vehicleToView(*stored))
}

func (s *AdminServer) handleListGates(w http.ResponseWriter, r *http.Request) {
	recs, err := s.central.ListGates(r.Context())
	if err != nil {
		s.logger.Printf("list gates: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	out := make([]gateView, 0, len(recs))
	for _, g := range recs {
		out = append(out, gateView{
			GateID:            g.GateID,
			Location:          g.Location,
			Status:            g.Status,
			LastOnline:        optTime(g.LastOnline),
			LocalCacheUpdated: optTime(g.LocalCacheUpdated),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) handleAccessLogs(w http.ResponseWriter, r *http.Request) {
	gateID := r.URL.Query().Get("gate_id")

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	recs, err := s.central.AccessLogs(r.Context(), gateID, limit)
	if err != nil {
		s.logger.Printf("access logs: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	out := make([]accessLogView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, accessLogView{
			ID:              rec.ID,
			PlateNumber:     rec.PlateNumber,
			GateID:          rec.GateID,
			AccessGranted:   rec.AccessGranted,
			ConfidenceScore: rec.ConfidenceScore,
			Accessing:       rec.Accessing,
			Timestamp:       rec.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *AdminServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.central.DashboardStats(r.Context())
	if err != nil {
		s.logger.Printf("stats: %v", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}
	writeJSON(w, http.StatusOK, statsView{
		TotalVehicles:           stats.TotalVehicles,
		TotalAttemptsToday:      stats.TotalAttemptsToday,
		SuccessfulAttemptsToday: stats.SuccessfulAttemptsToday,
		TotalGates:              stats.TotalGates,
		OnlineGates:             stats.OnlineGates,
	})
}

func (s *AdminServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func vehicleToView(rec store.VehicleRecord) vehicleView {
	v := vehicleView{
		PlateNumber:  rec.PlateNumber,
		OwnerName:    rec.OwnerName,
		IsAuthorized: rec.IsAuthorized,
		ValidFrom:    rec.ValidFrom.UTC().Format(time.RFC3339),
		LastModified: rec.LastModified.UTC().Format(time.RFC3339),
	}
	if rec.ValidUntil != nil {
		s := rec.ValidUntil.UTC().Format(time.RFC3339)
		v.ValidUntil = &s
	}
	return v
}

func optTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
