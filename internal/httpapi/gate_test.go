package httpapi_test

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/plategate/gatesync/internal/gatesync/service"
	"github.com/plategate/gatesync/internal/gatesync/store"
	"github.com/plategate/gatesync/internal/gatesync/store/memory"
	"github.com/plategate/gatesync/internal/httpapi"
)

func newGateHandler(t *testing.T) (http.Handler, *memory.VehicleStore, *memory.EventStore) {
	t.Helper()

	vehicles := memory.NewVehicleStore()
	events := memory.NewEventStore()
	srv := httpapi.NewGateServer(httpapi.GateDependencies{
		Logger:   log.New(io.Discard, "", 0),
		Addr:     ":0",
		Decision: service.NewDecisionEngine("gate-main", vehicles, events),
	})
	return srv.Handler(), vehicles, events
}

func postAccess(t *testing.T, handler http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/v1/access", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGateAccess_GrantsAuthorizedPlate(t *testing.T) {
	handler, vehicles, events := newGateHandler(t)

	from := time.Now().UTC().Add(-time.Hour)
	err := vehicles.UpsertVehicles(context.Background(), []store.VehicleRecord{{
		PlateNumber:  "1234ABC",
		IsAuthorized: true,
		ValidFrom:    from,
		LastModified: from,
	}})
	if err != nil {
		t.Fatalf("UpsertVehicles: %v", err)
	}

	rec := postAccess(t, handler, `{"plate_number":"1234ABC","confidence":0.93}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["access_granted"] != true || resp["accessing"] != true {
		t.Fatalf("expected granted entering, got %v", resp)
	}

	if len(events.Events()) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(events.Events()))
	}
}

func TestGateAccess_DeniesUnknownPlate(t *testing.T) {
	handler, _, events := newGateHandler(t)

	rec := postAccess(t, handler, `{"plate_number":"0000AAA","confidence":0.9}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var resp map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["access_granted"] != false {
		t.Fatalf("expected denial, got %v", resp)
	}

	// The denial is queued for upload like any other attempt.
	if len(events.Events()) != 1 {
		t.Fatalf("expected 1 queued event, got %d", len(events.Events()))
	}
}

func TestGateAccess_StoreDownFailsClosed(t *testing.T) {
	handler, vehicles, _ := newGateHandler(t)
	vehicles.FailAll = true

	rec := postAccess(t, handler, `{"plate_number":"1234ABC","confidence":0.9}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestGateAccess_RejectsBadJSON(t *testing.T) {
	handler, _, _ := newGateHandler(t)

	rec := postAccess(t, handler, `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGateAccess_RejectsEmptyPlate(t *testing.T) {
	handler, _, _ := newGateHandler(t)

	rec := postAccess(t, handler, `{"plate_number":"","confidence":0.9}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
