package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/tillpoint/api/internal/platform/display"
	"github.com/tillpoint/api/internal/pricing"
)

type stubSnapshots map[string]display.Event

func (s stubSnapshots) Latest(_ context.Context, terminalID string) (display.Event, error) {
	if terminalID == "broken" {
		return display.Event{}, errors.New("redis down")
	}
	event, ok := s[terminalID]
	if !ok {
		return display.Event{}, display.ErrSnapshotNotFound
	}
	return event, nil
}

func TestDisplayHandlersLatest(t *testing.T) {
	snapshots := stubSnapshots{
		"till-1": {ID: "evt-1", Kind: display.KindQuote, TerminalID: "till-1", Sequence: 9, Totals: pricing.OrderTotals{Total: 22000}},
	}
	router := NewRouter(WithDisplayRoutes(NewDisplayHandlers(snapshots).Routes))

	rr := serve(t, router, http.MethodGet, "/api/v1/displays/till-1", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var event display.Event
	if err := json.Unmarshal(rr.Body.Bytes(), &event); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if event.Sequence != 9 || event.Totals.Total != 22000 {
		t.Fatalf("unexpected event %+v", event)
	}

	if rr := serve(t, router, http.MethodGet, "/api/v1/displays/till-2", "", nil); rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if rr := serve(t, router, http.MethodGet, "/api/v1/displays/broken", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}

func TestDisplayHandlersWithoutStore(t *testing.T) {
	router := NewRouter(WithDisplayRoutes(NewDisplayHandlers(nil).Routes))

	if rr := serve(t, router, http.MethodGet, "/api/v1/displays/till-1", "", nil); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rr.Code)
	}
}
