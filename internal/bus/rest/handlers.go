package rest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openbmc/pel-logd/internal/manager"
	"github.com/openbmc/pel-logd/internal/pel/section"
)

// Server holds the dependencies needed by the REST handlers.
type Server struct {
	mgr  Manager
	repo Repository
}

// NewServer creates a new Server wired to mgr and repo.
func NewServer(mgr Manager, repo Repository) *Server {
	return &Server{mgr: mgr, repo: repo}
}

// pelSummary is the JSON shape returned for each entry in GET /api/v1/pels.
type pelSummary struct {
	OBMCLogID  uint32 `json:"obmc_log_id"`
	PELID      uint32 `json:"pel_id"`
	Creator    byte   `json:"creator"`
	Severity   uint8  `json:"severity"`
	SizeOnDisk int64  `json:"size_on_disk"`
	HostState  uint8  `json:"host_state"`
	HMCState   uint8  `json:"hmc_state"`
}

// handleHealthz responds to GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// handleListPELs responds to GET /api/v1/pels.
func (s *Server) handleListPELs(w http.ResponseWriter, r *http.Request) {
	entries := s.repo.List()
	out := make([]pelSummary, 0, len(entries))
	for _, e := range entries {
		out = append(out, pelSummary{
			OBMCLogID:  e.OBMCLogID,
			PELID:      e.PELID,
			Creator:    byte(e.Creator),
			Severity:   uint8(e.Severity),
			SizeOnDisk: e.SizeOnDisk,
			HostState:  uint8(e.HostState),
			HMCState:   uint8(e.HMCState),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(out)
}

// handleGetPEL responds to GET /api/v1/pels/{id}. Pass ?raw=true to receive
// the PEL's raw bytes as application/octet-stream instead of its attributes.
func (s *Server) handleGetPEL(w http.ResponseWriter, r *http.Request) {
	id, ok := parseObmcID(w, r)
	if !ok {
		return
	}

	attrs, ok := s.repo.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no PEL with that obmc log id")
		return
	}

	if r.URL.Query().Get("raw") == "true" {
		data, err := s.repo.ReadPEL(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read PEL bytes")
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(pelSummary{
		OBMCLogID:  id,
		Creator:    byte(attrs.Creator),
		Severity:   uint8(attrs.Severity),
		SizeOnDisk: attrs.SizeOnDisk,
		HostState:  uint8(attrs.HostState),
		HMCState:   uint8(attrs.HMCState),
	})
}

// handleGetPELJSON responds to GET /api/v1/pels/{id}/json with the
// reconstituted PEL rendered as JSON (the GetPELJSON bus operation).
func (s *Server) handleGetPELJSON(w http.ResponseWriter, r *http.Request) {
	id, ok := parseObmcID(w, r)
	if !ok {
		return
	}
	doc, err := s.repo.GetPELJSON(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "no PEL with that obmc log id")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(doc)
}

// handleGetPELIdFromBMCLogId responds to GET /api/v1/pels/{id}/pel-id.
func (s *Server) handleGetPELIdFromBMCLogId(w http.ResponseWriter, r *http.Request) {
	id, ok := parseObmcID(w, r)
	if !ok {
		return
	}
	pelID, ok := s.repo.PELIDForOBMC(id)
	if !ok {
		writeError(w, http.StatusNotFound, "no PEL with that obmc log id")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]uint32{"pel_id": pelID})
}

// handleGetBMCLogIdFromPELId responds to GET /api/v1/pel-ids/{id}/obmc-log-id.
func (s *Server) handleGetBMCLogIdFromPELId(w http.ResponseWriter, r *http.Request) {
	pelIDStr := chi.URLParam(r, "id")
	pelID64, err := strconv.ParseUint(pelIDStr, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'id' must be a non-negative integer")
		return
	}
	obmcID, ok := s.repo.ObmcIDForPELID(uint32(pelID64))
	if !ok {
		writeError(w, http.StatusNotFound, "no PEL with that pel id")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]uint32{"obmc_log_id": obmcID})
}

// handleHardwarePresent responds to GET /api/v1/hardware-present?path=....
func (s *Server) handleHardwarePresent(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, "'path' query parameter is required")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]bool{"present": s.mgr.HardwarePresent(path)})
}

// createPELWithFFDCRequest is the JSON body accepted by
// POST /api/v1/pels/ffdc.
type createPELWithFFDCRequest struct {
	Message        string            `json:"message"`
	OBMCLogID      uint32            `json:"obmc_log_id"`
	Severity       uint8             `json:"severity"`
	AdditionalData map[string]string `json:"additional_data"`
	Associations   []string          `json:"associations"`
	FFDCFiles      []struct {
		ComponentID uint16 `json:"component_id"`
		Subtype     uint8  `json:"subtype"`
		Version     uint8  `json:"version"`
		Data        []byte `json:"data"`
	} `json:"ffdc_files"`
}

// handleCreatePELWithFFDCFiles responds to POST /api/v1/pels/ffdc.
func (s *Server) handleCreatePELWithFFDCFiles(w http.ResponseWriter, r *http.Request) {
	var body createPELWithFFDCRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "'message' is required")
		return
	}

	files := make([]manager.FFDCFile, 0, len(body.FFDCFiles))
	for _, f := range body.FFDCFiles {
		files = append(files, manager.FFDCFile{
			ComponentID: f.ComponentID,
			Subtype:     f.Subtype,
			Version:     f.Version,
			Data:        f.Data,
		})
	}

	req := manager.CreateRequest{
		Message:        body.Message,
		OBMCLogID:      body.OBMCLogID,
		Timestamp:      time.Now().UTC(),
		Severity:       section.Severity(body.Severity),
		AdditionalData: body.AdditionalData,
		Associations:   body.Associations,
		FFDCFiles:      files,
	}

	pelID, obmcLogID, err := s.mgr.CreatePELWithFFDCFiles(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create PEL")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]uint32{"pel_id": pelID, "obmc_log_id": obmcLogID})
}

// createPELRequest is the JSON body accepted by POST /api/v1/pels.
type createPELRequest struct {
	Message        string            `json:"message"`
	OBMCLogID      uint32            `json:"obmc_log_id"`
	Severity       uint8             `json:"severity"`
	AdditionalData map[string]string `json:"additional_data"`
	Associations   []string          `json:"associations"`
}

// handleCreatePEL responds to POST /api/v1/pels.
func (s *Server) handleCreatePEL(w http.ResponseWriter, r *http.Request) {
	var body createPELRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "'message' is required")
		return
	}

	req := manager.CreateRequest{
		Message:        body.Message,
		OBMCLogID:      body.OBMCLogID,
		Timestamp:      time.Now().UTC(),
		Severity:       section.Severity(body.Severity),
		AdditionalData: body.AdditionalData,
		Associations:   body.Associations,
	}

	if err := s.mgr.Create(r.Context(), req); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create PEL")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "created"})
}

// handleErasePEL responds to DELETE /api/v1/pels/{id}.
func (s *Server) handleErasePEL(w http.ResponseWriter, r *http.Request) {
	id, ok := parseObmcID(w, r)
	if !ok {
		return
	}
	if err := s.mgr.Erase(id); err != nil {
		writeError(w, http.StatusNotFound, "failed to erase PEL")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseObmcID(w http.ResponseWriter, r *http.Request) (uint32, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(idStr, 10, 32)
	if err != nil {
		writeError(w, http.StatusBadRequest, "'id' must be a non-negative integer")
		return 0, false
	}
	return uint32(id), true
}
