package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/service"
	"github.com/plategate/gatesync/internal/gatesync/store"
	"github.com/plategate/gatesync/internal/gatesync/types"
)

// GateDependencies wires the gate-local HTTP surface the camera pipeline
// calls after plate recognition.
type GateDependencies struct {
	Logger   *log.Logger
	Addr     string
	Decision *service.DecisionEngine
}

type GateServer struct {
	httpServer *http.Server
	logger     *log.Logger
	decision   *service.DecisionEngine
}

func NewGateServer(d GateDependencies) *GateServer {
	mux := http.NewServeMux()

	s := &GateServer{
		logger:   d.Logger,
		decision: d.Decision,
	}

	mux.HandleFunc("POST /v1/access", s.handleAccess)
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *GateServer) Handler() http.Handler { return s.httpServer.Handler }

func (s *GateServer) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *GateServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *GateServer) handleAccess(w http.ResponseWriter, r *http.Request) {
	var req types.DecisionRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()

	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}

	d, err := s.decision.Decide(r.Context(), req.PlateNumber, req.Confidence)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidPlate):
			writeError(w, http.StatusBadRequest, "invalid_plate", err.Error())
		case errors.Is(err, store.ErrUnavailable):
			// Fail closed: the barrier stays down when the cache cannot
			// answer.
			s.logger.Printf("access %s: %v", req.PlateNumber, err)
			writeError(w, http.StatusServiceUnavailable, "store_unavailable", "local store unavailable, access denied")
		default:
			s.logger.Printf("access %s: %v", req.PlateNumber, err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, types.DecisionResponse{
		PlateNumber:   req.PlateNumber,
		AccessGranted: d.Granted,
		Confidence:    d.Confidence,
		Accessing:     d.Accessing,
		ServerTime:    time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *GateServer) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
