package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"benchd/internal/catalog"
	"benchd/internal/engine"
	"benchd/internal/instrument"
	"benchd/internal/model"
	"benchd/internal/record"
	"benchd/pkg/types"
)

type fixedClients int

func (n fixedClients) ClientCount() int { return int(n) }

func testMux(t *testing.T, withCatalog bool) http.Handler {
	t.Helper()
	reg := model.NewRegistry()
	model.RegisterBuiltins(reg, instrument.NewBench(zerolog.Nop()), zerolog.Nop())

	var cat *catalog.Store
	if withCatalog {
		var err error
		cat, err = catalog.Open(":memory:")
		if err != nil {
			t.Fatalf("opening catalog: %v", err)
		}
		if err := cat.Seed(); err != nil {
			t.Fatalf("seeding catalog: %v", err)
		}
		t.Cleanup(func() { _ = cat.Close() })
	}

	eng := engine.New(engine.Config{
		Registry: reg,
		Records:  record.NewMemoryStore(),
		Bench:    instrument.NewBench(zerolog.Nop()),
		Log:      zerolog.Nop(),
	})
	return NewMux(Config{
		Engine:   eng,
		Clients:  fixedClients(3),
		Registry: reg,
		Catalog:  cat,
		Log:      zerolog.Nop(),
	})
}

func doGet(t *testing.T, mux http.Handler, path string, wantStatus int, out any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("GET %s: status %d, want %d (body %s)", path, rec.Code, wantStatus, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("GET %s: decoding body: %v", path, err)
		}
	}
}

func TestHealthz(t *testing.T) {
	mux := testMux(t, false)
	var body map[string]string
	doGet(t, mux, "/healthz", http.StatusOK, &body)
	if body["status"] != "ok" {
		t.Fatalf("healthz body = %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	mux := testMux(t, false)
	var resp types.StatusResponse
	doGet(t, mux, "/status", http.StatusOK, &resp)
	if resp.State != types.StatusIdle || resp.TestRunning {
		t.Fatalf("status = %+v", resp)
	}
	if resp.ConnectedClients != 3 {
		t.Fatalf("connected_clients = %d", resp.ConnectedClients)
	}
}

func TestModelsEndpoint(t *testing.T) {
	mux := testMux(t, false)
	var resp types.ModelsResponse
	doGet(t, mux, "/models", http.StatusOK, &resp)
	if len(resp.Models) != 2 || resp.Models[0] != "ModelA" || resp.Models[1] != "ModelC" {
		t.Fatalf("models = %v", resp.Models)
	}
}

func TestCatalogBrowse(t *testing.T) {
	mux := testMux(t, true)

	var models []types.NamedRef
	doGet(t, mux, "/catalog/models", http.StatusOK, &models)
	if len(models) != 2 || models[0].Name != "ModelA" {
		t.Fatalf("catalog models = %v", models)
	}

	var stages []types.NamedRef
	doGet(t, mux, "/catalog/models/1/stages", http.StatusOK, &stages)
	if len(stages) != 2 || stages[1].Name != "Final" {
		t.Fatalf("stages = %v", stages)
	}

	var bands []types.NamedRef
	doGet(t, mux, "/catalog/models/2/bands", http.StatusOK, &bands)
	if len(bands) != 2 {
		t.Fatalf("bands = %v", bands)
	}

	var temps []types.NamedRef
	doGet(t, mux, "/catalog/stages/2/temperatures", http.StatusOK, &temps)
	if len(temps) != 3 || temps[0].Name != "25C" || temps[2].Name != "75C" {
		t.Fatalf("temperatures = %v", temps)
	}

	var cases []types.NamedRef
	doGet(t, mux, "/catalog/testcases?model_id=1&band_id=1&temperature_id=1", http.StatusOK, &cases)
	if len(cases) != 3 {
		t.Fatalf("test cases = %v", cases)
	}
}

func TestCatalogBadRequests(t *testing.T) {
	mux := testMux(t, true)

	var e types.ErrorResponse
	doGet(t, mux, "/catalog/models/abc/stages", http.StatusBadRequest, &e)
	if e.Code != http.StatusBadRequest {
		t.Fatalf("error = %+v", e)
	}
	doGet(t, mux, "/catalog/testcases?model_id=1&band_id=1", http.StatusBadRequest, &e)
	if e.Error != "temperature_id is required" {
		t.Fatalf("error = %+v", e)
	}
}

func TestCatalogNotConfigured(t *testing.T) {
	mux := testMux(t, false)
	var e types.ErrorResponse
	doGet(t, mux, "/catalog/models", http.StatusNotFound, &e)
	if e.Error != "catalog not configured" {
		t.Fatalf("error = %+v", e)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	mux := testMux(t, false)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("metrics body is empty")
	}
}

func TestEmptyCatalogResultIsJSONArray(t *testing.T) {
	mux := testMux(t, true)
	req := httptest.NewRequest(http.MethodGet, "/catalog/models/99/stages", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := rec.Body.String(); got != "[]\n" {
		t.Fatalf("body = %q, want empty JSON array", got)
	}
}

func TestRoutePatternKeepsLabelCardinalityLow(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/catalog/models/42/bands", nil)
	if got := routePatternOrPath(req); got != "/catalog/models/42/bands" {
		t.Fatalf("fallback pattern = %q", got)
	}
}
