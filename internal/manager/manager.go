// Package manager is the daemon's central orchestrator: it dispatches
// incoming create requests to the raw-PEL, eSEL, or message-registry
// construction path, applies the hostboot-duplicate and quiesce-on-error
// policies, and wires the repository, registry, and extension hooks
// together (spec §4, §7).
//
// Grounded on manager.cpp (original_source) for the dispatch and policy
// logic; composed the way internal/agent/agent.go wires its components —
// a single struct built via functional options with one clear lifecycle.
package manager

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/openbmc/pel-logd/internal/audit"
	"github.com/openbmc/pel-logd/internal/extension"
	"github.com/openbmc/pel-logd/internal/pel/assembler"
	"github.com/openbmc/pel-logd/internal/pel/registry"
	"github.com/openbmc/pel-logd/internal/pel/section"
	"github.com/openbmc/pel-logd/internal/pel/srcbuilder"
	"github.com/openbmc/pel-logd/internal/repository"
)

// defaultLogMessage is the registry entry name used when the requested
// message has no matching entry, mirroring manager.cpp's fallback so a
// PEL (with at least generic callouts) is still produced for debugging.
const defaultLogMessage = "xyz.openbmc_project.Logging.Error.Default"

// eselPELOffset is the byte offset into an ASCII eSEL hex-pair string
// where the actual PEL data begins (manager.cpp's eselToRawData).
const eselPELOffset = 16 * 3

// CreateRequest mirrors the fields an OpenBMC event log create carries
// (spec §4.6/§7): a human message name, the assigned OBMC log id, the
// event's severity/timestamp, and free-form additional data. A raw PEL or
// an eSEL string delivered via AdditionalData short-circuits registry
// construction, exactly as manager.cpp's create() does.
type CreateRequest struct {
	Message        string
	OBMCLogID      uint32
	Timestamp      time.Time
	Severity       section.Severity
	AdditionalData map[string]string
	Associations   []string
	FFDCFiles      []FFDCFile
}

// FFDCFile is one caller-supplied FFDC file attached to a create request,
// stamped into the synthesized PEL as an ExtendedUserData section (spec
// §4.7, src FFDC support; grounded on manager.cpp's createPELWithFFDCFiles).
type FFDCFile struct {
	ComponentID uint16
	Subtype     uint8
	Version     uint8
	Data        []byte
}

const (
	adKeyRawPEL = "_PEL_RAWDATA_FILE_PATH"
	adKeyESEL   = "ESEL"
)

// Notifier is the subset of internal/notifier.Notifier the manager needs:
// asynchronously handing a freshly created PEL's bytes to the host.
type Notifier interface {
	Notify(ctx context.Context, pel []byte) error
}

// DeliveryQueue is the subset of internal/queue.Queue the manager needs:
// durably persisting a PEL for host delivery so a daemon restart between
// commit and a successful Notify doesn't lose it. When configured, it is
// used instead of the fire-and-forget Notifier goroutine.
type DeliveryQueue interface {
	Enqueue(ctx context.Context, obmcLogID, pelID uint32, data []byte) error
}

// DataInterface supplies the system context the manager needs beyond what
// srcbuilder requires to resolve callouts: the machine identity and
// firmware version fields stamped into every synthesized PEL's
// ExtendedUserHeader, and the manufacturing-mode flag (spec §4.4, §7;
// grounded on DataInterface/data_interface.hpp, original_source).
type DataInterface interface {
	srcbuilder.DataInterface

	MachineTypeModel() string
	MachineSerial() string
	ServerFWVersion() string
	SubsystemFWVersion() string
	ManufacturingMode() bool
	HardwarePresent(inventoryPath string) bool
}

// QuiesceFunc is called when a created PEL's severity and the
// quiesce-on-error policy together require halting host firmware
// progression (manager.cpp's checkPelAndQuiesce).
type QuiesceFunc func(obmcLogID uint32)

// Manager is the create/erase orchestrator.
type Manager struct {
	registry  *registry.Registry
	repo      *repository.Repository
	idAlloc   *repository.IDAllocator
	dataIface DataInterface
	ext       *extension.Registry
	logger    *slog.Logger

	notifier      Notifier
	deliveryQueue DeliveryQueue
	audit         *audit.Logger

	badPELPath     string
	quiesceOnError bool
	quiesce        QuiesceFunc

	creatorVersion string
}

// Option configures a Manager at construction time.
type Option func(*Manager) error

// New creates a Manager. reg, repo, and di are required; everything else
// is optional and defaults to a no-op.
func New(reg *registry.Registry, repo *repository.Repository, idAlloc *repository.IDAllocator, di DataInterface, logger *slog.Logger, opts ...Option) (*Manager, error) {
	m := &Manager{
		registry:       reg,
		repo:           repo,
		idAlloc:        idAlloc,
		dataIface:      di,
		ext:            extension.Default,
		logger:         logger,
		creatorVersion: "1.0",
	}
	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// WithNotifier registers the host notifier used to push newly created
// PELs to the host asynchronously.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) error { m.notifier = n; return nil }
}

// WithDeliveryQueue routes newly created PELs through a durable delivery
// queue (internal/queue) instead of a direct fire-and-forget Notify
// goroutine, so a daemon restart doesn't drop a PEL that was committed but
// never made it to the host.
func WithDeliveryQueue(q DeliveryQueue) Option {
	return func(m *Manager) error { m.deliveryQueue = q; return nil }
}

// WithAuditLogger records a tamper-evident, hash-chained audit trail entry
// for every create, erase, host-ack, and host-reject operation the manager
// handles. Optional; when unset, no audit trail is kept.
func WithAuditLogger(l *audit.Logger) Option {
	return func(m *Manager) error { m.audit = l; return nil }
}

func (m *Manager) logAudit(ev audit.Event) {
	if m.audit == nil {
		return
	}
	if _, err := m.audit.AppendEvent(ev); err != nil {
		m.logger.Warn("manager: failed appending audit entry", slog.Any("error", err))
	}
}

// WithExtensionRegistry overrides the process-wide default hook registry,
// primarily for test isolation.
func WithExtensionRegistry(ext *extension.Registry) Option {
	return func(m *Manager) error { m.ext = ext; return nil }
}

// WithBadPELPath sets where malformed incoming PELs are saved for debug
// (manager.cpp writes a single "badPEL" file, overwriting the previous one).
func WithBadPELPath(path string) Option {
	return func(m *Manager) error { m.badPELPath = path; return nil }
}

// WithQuiesceOnError enables the quiesce-on-error policy: a non-informational,
// non-recovered, non-hostboot-originated PEL triggers fn.
func WithQuiesceOnError(fn QuiesceFunc) Option {
	return func(m *Manager) error {
		m.quiesceOnError = true
		m.quiesce = fn
		return nil
	}
}

// WithCreatorVersion sets the BMC creator subsystem version string stamped
// into synthesized PELs' PrivateHeader. Defaults to "1.0".
func WithCreatorVersion(v string) Option {
	return func(m *Manager) error { m.creatorVersion = v; return nil }
}

// Create dispatches an event-log create to the raw-PEL, eSEL, or
// registry-driven construction path (manager.cpp's Manager::create).
func (m *Manager) Create(ctx context.Context, req CreateRequest) error {
	if rawPath, ok := req.AdditionalData[adKeyRawPEL]; ok && rawPath != "" {
		return m.addRawPEL(ctx, rawPath, req.OBMCLogID)
	}
	if esel, ok := req.AdditionalData[adKeyESEL]; ok && esel != "" {
		return m.addESELPEL(ctx, esel, req.OBMCLogID)
	}
	return m.createPEL(ctx, req)
}

func (m *Manager) addRawPEL(ctx context.Context, rawPelPath string, obmcLogID uint32) error {
	data, err := os.ReadFile(rawPelPath)
	if err != nil {
		m.logger.Error("manager: raw PEL file unreadable",
			slog.String("path", rawPelPath), slog.Any("error", err))
		return fmt.Errorf("manager: read raw PEL %s: %w", rawPelPath, err)
	}
	if err := m.addPEL(ctx, data, obmcLogID); err != nil {
		return err
	}
	_ = os.Remove(rawPelPath)
	return nil
}

// addESELPEL decodes a "50 48 00 ab ..." hex-pair string (manager.cpp's
// eselToRawData) and hands the resulting bytes to addPEL.
func (m *Manager) addESELPEL(ctx context.Context, esel string, obmcLogID uint32) error {
	if len(esel) <= eselPELOffset {
		return fmt.Errorf("manager: eSEL data too short, length = %d", len(esel))
	}

	var data []byte
	for i := eselPELOffset; i+1 < len(esel); i += 3 {
		var b byte
		if _, err := fmt.Sscanf(esel[i:i+2], "%02x", &b); err != nil {
			return fmt.Errorf("manager: eSEL data malformed at offset %d: %w", i, err)
		}
		data = append(data, b)
	}
	return m.addPEL(ctx, data, obmcLogID)
}

// addPEL reconstitutes a raw (externally-built) PEL, applies the
// hostboot-duplicate check, assigns an id for every other creator, and adds
// it to the repository (manager.cpp's Manager::addPEL).
func (m *Manager) addPEL(ctx context.Context, data []byte, obmcLogID uint32) error {
	pel, err := assembler.FromBytes(data)
	if err != nil || !pel.Valid() {
		m.saveBadPEL(data, obmcLogID)
		if delErr := m.scheduleObmcLogDelete(obmcLogID); delErr != nil {
			m.logger.Warn("manager: failed to delete OBMC log for bad PEL", slog.Any("error", delErr))
		}
		return fmt.Errorf("manager: invalid PEL received for obmc log %d", obmcLogID)
	}

	pel.PrivateHeader.OBMCLogID = obmcLogID

	if pel.PrivateHeader.Creator == section.CreatorHostboot {
		if m.repo.HasPELID(pel.PrivateHeader.ID) {
			m.logger.Warn("manager: duplicate hostboot PEL, archiving",
				slog.Uint64("pel_id", uint64(pel.PrivateHeader.ID)))
			if err := m.repo.ArchivePEL(pel); err != nil {
				m.logger.Warn("manager: failed archiving duplicate hostboot PEL", slog.Any("error", err))
			}
			return nil
		}
	} else {
		id, err := m.idAlloc.Next()
		if err != nil {
			return fmt.Errorf("manager: allocate log id: %w", err)
		}
		pel.PrivateHeader.ID = id
		pel.PrivateHeader.PlatformLogID = id
	}

	return m.commit(ctx, pel)
}

// createPEL builds a PEL from the message registry, falling back to
// defaultLogMessage when the requested message has no entry (manager.cpp's
// Manager::createPEL).
func (m *Manager) createPEL(ctx context.Context, req CreateRequest) error {
	entry, err := m.registry.LookupByName(req.Message)
	ad := req.AdditionalData
	if err != nil {
		m.logger.Error("manager: event not found in PEL message registry",
			slog.String("message", req.Message))

		entry, err = m.registry.LookupByName(defaultLogMessage)
		if err != nil {
			return fmt.Errorf("manager: default registry entry missing: %w", err)
		}

		ad = cloneAD(req.AdditionalData)
		ad["ERROR"] = req.Message
	}

	id, err := m.idAlloc.Next()
	if err != nil {
		return fmt.Errorf("manager: allocate log id: %w", err)
	}

	params := assembler.SynthesisParams{
		LogID:          id,
		OBMCLogID:      req.OBMCLogID,
		Creator:        section.CreatorBMC,
		CreatorVersion: m.creatorVersion,
		MachineTypeModel: m.dataIface.MachineTypeModel(),
		MachineSerial:    m.dataIface.MachineSerial(),
		ServerFWVersion:  m.dataIface.ServerFWVersion(),
		SubsystemFWVer:   m.dataIface.SubsystemFWVersion(),
		MfgMode:          m.dataIface.ManufacturingMode(),
	}

	pel, err := assembler.FromRegistryEntry(entry, ad, m.dataIface, params)
	if err != nil {
		return fmt.Errorf("manager: synthesize PEL for %s: %w", req.Message, err)
	}

	return m.commit(ctx, pel)
}

// CreatePELWithFFDCFiles synthesizes a PEL the same way as Create's
// registry-driven path, additionally embedding each of req.FFDCFiles as its
// own ExtendedUserData section, and reports back the ids the commit assigned
// (manager.cpp's FFDC-carrying create overload).
func (m *Manager) CreatePELWithFFDCFiles(ctx context.Context, req CreateRequest) (pelID, obmcLogID uint32, err error) {
	entry, err := m.registry.LookupByName(req.Message)
	ad := req.AdditionalData
	if err != nil {
		m.logger.Error("manager: event not found in PEL message registry",
			slog.String("message", req.Message))

		entry, err = m.registry.LookupByName(defaultLogMessage)
		if err != nil {
			return 0, 0, fmt.Errorf("manager: default registry entry missing: %w", err)
		}

		ad = cloneAD(req.AdditionalData)
		ad["ERROR"] = req.Message
	}

	id, err := m.idAlloc.Next()
	if err != nil {
		return 0, 0, fmt.Errorf("manager: allocate log id: %w", err)
	}

	params := assembler.SynthesisParams{
		LogID:            id,
		OBMCLogID:        req.OBMCLogID,
		Creator:          section.CreatorBMC,
		CreatorVersion:   m.creatorVersion,
		MachineTypeModel: m.dataIface.MachineTypeModel(),
		MachineSerial:    m.dataIface.MachineSerial(),
		ServerFWVersion:  m.dataIface.ServerFWVersion(),
		SubsystemFWVer:   m.dataIface.SubsystemFWVersion(),
		MfgMode:          m.dataIface.ManufacturingMode(),
	}

	pel, err := assembler.FromRegistryEntry(entry, ad, m.dataIface, params)
	if err != nil {
		return 0, 0, fmt.Errorf("manager: synthesize PEL for %s: %w", req.Message, err)
	}

	for _, f := range req.FFDCFiles {
		pel.AppendOptional(section.NewExtendedUserData(f.ComponentID, f.Subtype, f.Version, byte(section.CreatorBMC), f.Data))
	}

	if err := m.commit(ctx, pel); err != nil {
		return 0, 0, err
	}
	return pel.PrivateHeader.ID, pel.PrivateHeader.OBMCLogID, nil
}

// HardwarePresent reports whether the inventory path carries present
// hardware, backing the HardwarePresent bus operation callers use before
// attaching a CALLOUT_INVENTORY_PATH to a create request (data_interface.hpp's
// isPresent).
func (m *Manager) HardwarePresent(inventoryPath string) bool {
	return m.dataIface.HardwarePresent(inventoryPath)
}

// commit adds pel to the repository, runs the post-create hook and
// quiesce-on-error policy, and kicks off an async host notification.
func (m *Manager) commit(ctx context.Context, pel *assembler.PEL) error {
	pruned, err := m.repo.Add(pel, m.isolatedSet())
	if err != nil {
		m.logger.Error("manager: unable to add PEL to repository", slog.Any("error", err))
		return fmt.Errorf("manager: add PEL: %w", err)
	}
	for _, id := range pruned {
		m.ext.RunPostDelete(id)
	}

	m.ext.RunPostCreate(pel.PrivateHeader.OBMCLogID)
	m.checkQuiesce(pel)
	m.logAudit(audit.Event{Op: "create", OBMCLogID: pel.PrivateHeader.OBMCLogID, PELID: pel.PrivateHeader.ID, EventID: pel.EventID()})

	switch {
	case m.deliveryQueue != nil:
		if err := m.deliveryQueue.Enqueue(ctx, pel.PrivateHeader.OBMCLogID, pel.PrivateHeader.ID, pel.Bytes()); err != nil {
			m.logger.Warn("manager: failed to enqueue PEL for host delivery", slog.Any("error", err))
		}
	case m.notifier != nil:
		go func() {
			correlationID := uuid.New().String()
			if err := m.notifier.Notify(ctx, pel.Bytes()); err != nil {
				m.logger.Warn("manager: host notification failed",
					slog.String("correlation_id", correlationID), slog.Any("error", err))
				return
			}
			if err := m.repo.SetHostState(pel.PrivateHeader.OBMCLogID, section.TransAcked); err != nil {
				m.logger.Warn("manager: failed recording host ack", slog.Any("error", err))
			}
		}()
	}

	return nil
}

// checkQuiesce implements manager.cpp's checkPelAndQuiesce: only
// non-informational, non-recovered PELs not from hostboot can trigger a
// quiesce, and only when the policy is enabled.
func (m *Manager) checkQuiesce(pel *assembler.PEL) {
	if !m.quiesceOnError || m.quiesce == nil {
		return
	}
	sev := pel.UserHeader.Severity
	if sev == section.SeverityInformational || sev == section.SeverityRecovered {
		return
	}
	if pel.PrivateHeader.Creator == section.CreatorHostboot {
		return
	}
	m.quiesce(pel.PrivateHeader.OBMCLogID)
}

// saveBadPEL persists malformed incoming PEL bytes to a single,
// overwritten-each-time file for field debugging (manager.cpp keeps only
// the latest "badPEL" file rather than risk filling the repository with
// unparseable data).
func (m *Manager) saveBadPEL(data []byte, obmcLogID uint32) {
	if m.badPELPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.badPELPath), 0o755); err != nil {
		m.logger.Warn("manager: cannot create badPEL dir", slog.Any("error", err))
		return
	}
	if err := os.WriteFile(m.badPELPath, data, 0o644); err != nil {
		m.logger.Warn("manager: cannot write badPEL file", slog.Any("error", err))
	}
	m.logger.Error("manager: invalid PEL received from host",
		slog.Uint64("obmc_log_id", uint64(obmcLogID)), slog.Int("size", len(data)))
}

// scheduleObmcLogDelete is a placeholder hook for deleting the OBMC event
// log entry that accompanied an unusable PEL; phosphor-logging's log
// manager owns that deletion in the original, so here it is surfaced only
// via the post-delete extension hook for whatever subsystem scheduled it.
func (m *Manager) scheduleObmcLogDelete(obmcLogID uint32) error {
	m.ext.RunPostDelete(obmcLogID)
	return nil
}

// Erase removes a PEL from the repository by its OBMC log id
// (manager.cpp's Manager::erase).
func (m *Manager) Erase(obmcLogID uint32) error {
	if err := m.repo.Remove(obmcLogID); err != nil {
		return fmt.Errorf("manager: erase %d: %w", obmcLogID, err)
	}
	m.ext.RunPostDelete(obmcLogID)
	m.logAudit(audit.Event{Op: "erase", OBMCLogID: obmcLogID})
	return nil
}

// IsDeleteProhibited reports whether obmcLogID may not currently be
// manually deleted, per any registered extension hook (e.g. hardware
// isolation guard records).
func (m *Manager) IsDeleteProhibited(obmcLogID uint32) bool {
	return m.ext.IsDeleteProhibited(obmcLogID)
}

// HostAck records that the host has successfully processed the PEL with
// the given PEL id (manager.cpp's Manager::hostAck).
func (m *Manager) HostAck(pelID uint32) error {
	obmcID, ok := m.repo.ObmcIDForPELID(pelID)
	if !ok {
		return fmt.Errorf("manager: no PEL with id %d", pelID)
	}
	if err := m.repo.SetHostState(obmcID, section.TransAcked); err != nil {
		return err
	}
	m.logAudit(audit.Event{Op: "host_ack", OBMCLogID: obmcID, PELID: pelID})
	return nil
}

// HostReject records that the host rejected the PEL with the given PEL id
// (manager.cpp's Manager::hostReject). The PEL's transmission state is left
// at TransSent so the next reconciliation pass can retry or archive it.
func (m *Manager) HostReject(pelID uint32, reason string) error {
	obmcID, ok := m.repo.ObmcIDForPELID(pelID)
	if !ok {
		return fmt.Errorf("manager: no PEL with id %d", pelID)
	}
	m.logger.Warn("manager: host rejected PEL",
		slog.Uint64("pel_id", uint64(pelID)), slog.String("reason", reason))
	if err := m.repo.SetHostState(obmcID, section.TransSent); err != nil {
		return err
	}
	m.logAudit(audit.Event{Op: "host_reject", OBMCLogID: obmcID, PELID: pelID, Reason: reason})
	return nil
}

func (m *Manager) isolatedSet() map[uint32]bool {
	ids := m.ext.ListIsolatedLogIDs()
	if len(ids) == 0 {
		return nil
	}
	set := make(map[uint32]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func cloneAD(ad map[string]string) map[string]string {
	out := make(map[string]string, len(ad)+1)
	for k, v := range ad {
		out[k] = v
	}
	return out
}
