package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openbmc/pel-logd/internal/manager"
	"github.com/openbmc/pel-logd/internal/repository"
)

// mockManager is a test double for Manager.
type mockManager struct {
	createErr     error
	ffdcCreateErr error
	eraseErr      error
	created       []manager.CreateRequest
	ffdcCreated   []manager.CreateRequest
	erased        []uint32
	hwPresent     map[string]bool
	ffdcPelID     uint32
	ffdcObmcLogID uint32
}

func (m *mockManager) Create(_ context.Context, req manager.CreateRequest) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, req)
	return nil
}

func (m *mockManager) CreatePELWithFFDCFiles(_ context.Context, req manager.CreateRequest) (uint32, uint32, error) {
	if m.ffdcCreateErr != nil {
		return 0, 0, m.ffdcCreateErr
	}
	m.ffdcCreated = append(m.ffdcCreated, req)
	return m.ffdcPelID, m.ffdcObmcLogID, nil
}

func (m *mockManager) Erase(obmcLogID uint32) error {
	if m.eraseErr != nil {
		return m.eraseErr
	}
	m.erased = append(m.erased, obmcLogID)
	return nil
}

func (m *mockManager) HardwarePresent(inventoryPath string) bool {
	return m.hwPresent[inventoryPath]
}

// mockRepository is a test double for Repository.
type mockRepository struct {
	entries []repository.Summary
	attrs   map[uint32]*repository.PELAttributes
	data    map[uint32][]byte
	pelID   map[uint32]uint32
	jsons   map[uint32]map[string]any
}

func (m *mockRepository) List() []repository.Summary { return m.entries }

func (m *mockRepository) Get(obmcLogID uint32) (*repository.PELAttributes, bool) {
	a, ok := m.attrs[obmcLogID]
	return a, ok
}

func (m *mockRepository) PELIDForOBMC(obmcLogID uint32) (uint32, bool) {
	id, ok := m.pelID[obmcLogID]
	return id, ok
}

func (m *mockRepository) ObmcIDForPELID(pelID uint32) (uint32, bool) {
	for obmcID, id := range m.pelID {
		if id == pelID {
			return obmcID, true
		}
	}
	return 0, false
}

func (m *mockRepository) ReadPEL(obmcLogID uint32) ([]byte, error) {
	d, ok := m.data[obmcLogID]
	if !ok {
		return nil, fmt.Errorf("no data for %d", obmcLogID)
	}
	return d, nil
}

func (m *mockRepository) GetPELJSON(obmcLogID uint32) (map[string]any, error) {
	d, ok := m.jsons[obmcLogID]
	if !ok {
		return nil, fmt.Errorf("no PEL JSON for %d", obmcLogID)
	}
	return d, nil
}

// newTestServer creates a Server backed by the mock dependencies and returns
// its HTTP handler with JWT middleware disabled (pubKey = nil).
func newTestServer(mgr *mockManager, repo *mockRepository) http.Handler {
	srv := NewServer(mgr, repo)
	return NewRouter(srv, nil)
}

func TestHandleHealthzReturns200(t *testing.T) {
	h := newTestServer(&mockManager{}, &mockRepository{})
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("body is not valid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status=ok, got %q", body["status"])
	}
}

func TestHandleListPELsReturnsEntries(t *testing.T) {
	repo := &mockRepository{entries: []repository.Summary{
		{OBMCLogID: 1, PELID: 0x50000001, Severity: 0x40, SizeOnDisk: 200},
	}}
	h := newTestServer(&mockManager{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pels", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var out []pelSummary
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].OBMCLogID != 1 {
		t.Fatalf("unexpected body: %+v", out)
	}
}

func TestHandleGetPELUnknownIDReturns404(t *testing.T) {
	h := newTestServer(&mockManager{}, &mockRepository{attrs: map[uint32]*repository.PELAttributes{}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pels/42", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleGetPELRawReturnsBytes(t *testing.T) {
	repo := &mockRepository{
		attrs: map[uint32]*repository.PELAttributes{1: {Severity: 0x40}},
		data:  map[uint32][]byte{1: []byte("raw-pel-data")},
	}
	h := newTestServer(&mockManager{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pels/1?raw=true", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "raw-pel-data" {
		t.Fatalf("unexpected body: %q", rec.Body.String())
	}
}

func TestHandleCreatePELRequiresMessage(t *testing.T) {
	h := newTestServer(&mockManager{}, &mockRepository{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/pels", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCreatePELDelegatesToManager(t *testing.T) {
	mgr := &mockManager{}
	h := newTestServer(mgr, &mockRepository{})

	body := []byte(`{"message":"xyz.openbmc_project.Power.Fault","obmc_log_id":5}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pels", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(mgr.created) != 1 || mgr.created[0].OBMCLogID != 5 {
		t.Fatalf("expected manager.Create called with obmc log id 5, got %+v", mgr.created)
	}
}

func TestHandleErasePELDelegatesToManager(t *testing.T) {
	mgr := &mockManager{}
	h := newTestServer(mgr, &mockRepository{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/pels/3", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(mgr.erased) != 1 || mgr.erased[0] != 3 {
		t.Fatalf("expected manager.Erase called with 3, got %v", mgr.erased)
	}
}

func TestHandleGetPELJSONReturnsDocument(t *testing.T) {
	repo := &mockRepository{jsons: map[uint32]map[string]any{1: {"eventId": "BD612030 00000001"}}}
	h := newTestServer(&mockManager{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pels/1/json", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetPELIdFromBMCLogIdAndReverse(t *testing.T) {
	repo := &mockRepository{pelID: map[uint32]uint32{1: 0x50000001}}
	h := newTestServer(&mockManager{}, repo)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/pels/1/pel-id", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/api/v1/pel-ids/1342177281/obmc-log-id", nil)
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec2.Code, rec2.Body.String())
	}
}

func TestHandleHardwarePresentDelegatesToManager(t *testing.T) {
	mgr := &mockManager{hwPresent: map[string]bool{"/system/chassis/motherboard": true}}
	h := newTestServer(mgr, &mockRepository{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/hardware-present?path=/system/chassis/motherboard", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]bool
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body["present"] {
		t.Fatal("expected present = true")
	}
}

func TestHandleCreatePELWithFFDCFilesDelegatesToManager(t *testing.T) {
	mgr := &mockManager{ffdcPelID: 0x50000002, ffdcObmcLogID: 9}
	h := newTestServer(mgr, &mockRepository{})

	body := []byte(`{"message":"xyz.openbmc_project.Power.Fault","obmc_log_id":9,"ffdc_files":[{"component_id":1,"subtype":2,"version":3,"data":"ZmZkYw=="}]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/pels/ffdc", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(mgr.ffdcCreated) != 1 || len(mgr.ffdcCreated[0].FFDCFiles) != 1 {
		t.Fatalf("expected one FFDC file forwarded, got %+v", mgr.ffdcCreated)
	}
}

func TestHandleErasePELBadIDReturns400(t *testing.T) {
	h := newTestServer(&mockManager{}, &mockRepository{})

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/pels/not-a-number", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
