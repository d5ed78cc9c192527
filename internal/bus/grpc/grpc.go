// Package grpc implements the manager-level gRPC bus surface (spec §6):
// create/erase a PEL-backed event log entry (optionally with attached FFDC
// files), fetch a PEL's raw bytes or rendered JSON, map between a PEL's own
// id and its OBMC log id, check hardware presence, and relay host
// acknowledgement/rejection for a PEL already in flight.
//
// The Server type satisfies the PELServiceServer interface generated from
// proto/pel.proto and wires together the manager (create/erase/ack/reject/
// hardware-present) and the repository (read-only attribute/byte/JSON/id
// lookups).
//
// Grounded on internal/server/grpc/{server,alert_service}.go: narrow
// locally-declared interfaces over the concrete dependency types, and
// status.Errorf error mapping instead of returning bare errors.
package grpc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openbmc/pel-logd/internal/manager"
	"github.com/openbmc/pel-logd/internal/pel/section"
	"github.com/openbmc/pel-logd/internal/repository"
	pelpb "github.com/openbmc/pel-logd/proto/pel"
)

// Manager is the subset of manager.Manager's methods the gRPC server calls.
// Defined as an interface so tests can substitute a fake.
type Manager interface {
	Create(ctx context.Context, req manager.CreateRequest) error
	CreatePELWithFFDCFiles(ctx context.Context, req manager.CreateRequest) (pelID, obmcLogID uint32, err error)
	Erase(obmcLogID uint32) error
	HostAck(pelID uint32) error
	HostReject(pelID uint32, reason string) error
	HardwarePresent(inventoryPath string) bool
}

// Repository is the subset of repository.Repository's methods the gRPC
// server's read-only RPCs need.
type Repository interface {
	Get(obmcID uint32) (*repository.PELAttributes, bool)
	PELIDForOBMC(obmcID uint32) (uint32, bool)
	ObmcIDForPELID(pelID uint32) (uint32, bool)
	ReadPEL(obmcID uint32) ([]byte, error)
	GetPELJSON(obmcID uint32) (map[string]any, error)
}

// Server implements pelpb.PELServiceServer.
type Server struct {
	pelpb.UnimplementedPELServiceServer

	mgr    Manager
	repo   Repository
	logger *slog.Logger
}

// NewServer creates a Server wired to mgr and repo.
func NewServer(mgr Manager, repo Repository, logger *slog.Logger) *Server {
	return &Server{mgr: mgr, repo: repo, logger: logger}
}

// CreatePEL handles the CreatePEL RPC.
func (s *Server) CreatePEL(ctx context.Context, req *pelpb.CreatePELRequest) (*pelpb.CreatePELResponse, error) {
	if req.Message == "" {
		return nil, status.Error(codes.InvalidArgument, "message is required")
	}

	var ts time.Time
	if req.TimestampUnixNs > 0 {
		ts = time.Unix(0, req.TimestampUnixNs).UTC()
	} else {
		ts = time.Now().UTC()
	}

	creq := manager.CreateRequest{
		Message:        req.Message,
		OBMCLogID:      req.ObmcLogId,
		Timestamp:      ts,
		Severity:       section.Severity(req.Severity),
		AdditionalData: req.AdditionalData,
		Associations:   req.Associations,
	}

	if err := s.mgr.Create(ctx, creq); err != nil {
		s.logger.Error("grpc: CreatePEL failed",
			slog.String("message", req.Message), slog.Any("error", err))
		return nil, status.Errorf(codes.Internal, "create PEL: %v", err)
	}

	s.logger.Info("grpc: PEL created",
		slog.String("message", req.Message), slog.Uint64("obmc_log_id", uint64(req.ObmcLogId)))
	return &pelpb.CreatePELResponse{}, nil
}

// CreatePELWithFFDCFiles handles the CreatePELWithFFDCFiles RPC.
func (s *Server) CreatePELWithFFDCFiles(ctx context.Context, req *pelpb.CreatePELWithFFDCFilesRequest) (*pelpb.CreatePELWithFFDCFilesResponse, error) {
	if req.Message == "" {
		return nil, status.Error(codes.InvalidArgument, "message is required")
	}

	var ts time.Time
	if req.TimestampUnixNs > 0 {
		ts = time.Unix(0, req.TimestampUnixNs).UTC()
	} else {
		ts = time.Now().UTC()
	}

	files := make([]manager.FFDCFile, 0, len(req.FfdcFiles))
	for _, f := range req.FfdcFiles {
		files = append(files, manager.FFDCFile{
			ComponentID: uint16(f.ComponentId),
			Subtype:     uint8(f.Subtype),
			Version:     uint8(f.Version),
			Data:        f.Data,
		})
	}

	creq := manager.CreateRequest{
		Message:        req.Message,
		OBMCLogID:      req.ObmcLogId,
		Timestamp:      ts,
		Severity:       section.Severity(req.Severity),
		AdditionalData: req.AdditionalData,
		Associations:   req.Associations,
		FFDCFiles:      files,
	}

	pelID, obmcLogID, err := s.mgr.CreatePELWithFFDCFiles(ctx, creq)
	if err != nil {
		s.logger.Error("grpc: CreatePELWithFFDCFiles failed",
			slog.String("message", req.Message), slog.Any("error", err))
		return nil, status.Errorf(codes.Internal, "create PEL with FFDC: %v", err)
	}

	return &pelpb.CreatePELWithFFDCFilesResponse{PelId: pelID, ObmcLogId: obmcLogID}, nil
}

// ErasePEL handles the ErasePEL RPC.
func (s *Server) ErasePEL(_ context.Context, req *pelpb.ErasePELRequest) (*pelpb.ErasePELResponse, error) {
	if err := s.mgr.Erase(req.ObmcLogId); err != nil {
		return nil, status.Errorf(codes.NotFound, "erase PEL %d: %v", req.ObmcLogId, err)
	}
	return &pelpb.ErasePELResponse{}, nil
}

// GetPELFromOBMCLogID handles the GetPELFromOBMCLogID RPC.
func (s *Server) GetPELFromOBMCLogID(_ context.Context, req *pelpb.GetPELFromOBMCLogIDRequest) (*pelpb.GetPELFromOBMCLogIDResponse, error) {
	attrs, ok := s.repo.Get(req.ObmcLogId)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no PEL with obmc log id %d", req.ObmcLogId)
	}
	pelID, _ := s.repo.PELIDForOBMC(req.ObmcLogId)
	data, err := s.repo.ReadPEL(req.ObmcLogId)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "read PEL %d: %v", req.ObmcLogId, err)
	}

	return &pelpb.GetPELFromOBMCLogIDResponse{
		PelBytes:   data,
		PelId:      pelID,
		Creator:    uint32(attrs.Creator),
		Severity:   uint32(attrs.Severity),
		SizeOnDisk: attrs.SizeOnDisk,
	}, nil
}

// GetPELJSON handles the GetPELJSON RPC, returning the reconstituted PEL
// rendered as a JSON document (the bus analogue of peltool -f).
func (s *Server) GetPELJSON(_ context.Context, req *pelpb.GetPELJSONRequest) (*pelpb.GetPELJSONResponse, error) {
	doc, err := s.repo.GetPELJSON(req.ObmcLogId)
	if err != nil {
		return nil, status.Errorf(codes.NotFound, "get PEL JSON %d: %v", req.ObmcLogId, err)
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "marshal PEL JSON %d: %v", req.ObmcLogId, err)
	}
	return &pelpb.GetPELJSONResponse{Json: string(data)}, nil
}

// GetPELIdFromBMCLogId handles the GetPELIdFromBMCLogId RPC.
func (s *Server) GetPELIdFromBMCLogId(_ context.Context, req *pelpb.GetPELIdFromBMCLogIdRequest) (*pelpb.GetPELIdFromBMCLogIdResponse, error) {
	pelID, ok := s.repo.PELIDForOBMC(req.ObmcLogId)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no PEL with obmc log id %d", req.ObmcLogId)
	}
	return &pelpb.GetPELIdFromBMCLogIdResponse{PelId: pelID}, nil
}

// GetBMCLogIdFromPELId handles the GetBMCLogIdFromPELId RPC.
func (s *Server) GetBMCLogIdFromPELId(_ context.Context, req *pelpb.GetBMCLogIdFromPELIdRequest) (*pelpb.GetBMCLogIdFromPELIdResponse, error) {
	obmcID, ok := s.repo.ObmcIDForPELID(req.PelId)
	if !ok {
		return nil, status.Errorf(codes.NotFound, "no PEL with pel id %d", req.PelId)
	}
	return &pelpb.GetBMCLogIdFromPELIdResponse{ObmcLogId: obmcID}, nil
}

// HardwarePresent handles the HardwarePresent RPC.
func (s *Server) HardwarePresent(_ context.Context, req *pelpb.HardwarePresentRequest) (*pelpb.HardwarePresentResponse, error) {
	return &pelpb.HardwarePresentResponse{Present: s.mgr.HardwarePresent(req.InventoryPath)}, nil
}

// HostAck handles the HostAck RPC.
func (s *Server) HostAck(_ context.Context, req *pelpb.HostAckRequest) (*pelpb.HostAckResponse, error) {
	if err := s.mgr.HostAck(req.PelId); err != nil {
		return nil, status.Errorf(codes.NotFound, "host ack %d: %v", req.PelId, err)
	}
	return &pelpb.HostAckResponse{}, nil
}

// HostReject handles the HostReject RPC.
func (s *Server) HostReject(_ context.Context, req *pelpb.HostRejectRequest) (*pelpb.HostRejectResponse, error) {
	if err := s.mgr.HostReject(req.PelId, req.Reason); err != nil {
		return nil, status.Errorf(codes.NotFound, "host reject %d: %v", req.PelId, err)
	}
	return &pelpb.HostRejectResponse{}, nil
}
