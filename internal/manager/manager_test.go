package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/openbmc/pel-logd/internal/audit"
	"github.com/openbmc/pel-logd/internal/extension"
	"github.com/openbmc/pel-logd/internal/pel/registry"
	"github.com/openbmc/pel-logd/internal/pel/section"
	"github.com/openbmc/pel-logd/internal/repository"
)

const testRegistryJSON = `{
  "version": 1,
  "PELs": [
    {
      "name": "xyz.openbmc_project.Power.Fault",
      "subsystem": "power_supply",
      "severity": "unrecoverable",
      "action_flags": ["service_action", "report"],
      "src": {"reason_code": 8240, "type": "BD"},
      "documentation": {"description": "power supply fault", "message": "A power supply has failed"}
    },
    {
      "name": "xyz.openbmc_project.Logging.Error.Default",
      "subsystem": "bmc",
      "severity": "informational",
      "action_flags": ["report"],
      "src": {"reason_code": 1, "type": "11"},
      "documentation": {"description": "generic", "message": "generic error"}
    }
  ]
}`

type fakeDataIface struct{}

func (fakeDataIface) SystemType() string              { return "rainier" }
func (fakeDataIface) CompatibleSystemNames() []string { return []string{"rainier"} }
func (fakeDataIface) MachineTypeModel() string        { return "9105-22A" }
func (fakeDataIface) MachineSerial() string           { return "SN12345" }
func (fakeDataIface) ServerFWVersion() string         { return "v2.1" }
func (fakeDataIface) SubsystemFWVersion() string      { return "v2.1-sub" }
func (fakeDataIface) ManufacturingMode() bool         { return false }
func (fakeDataIface) MotherboardCCIN() string         { return "" }
func (fakeDataIface) RawProgressSRC() []byte          { return nil }

func (fakeDataIface) GetLocationCode(inventoryPath string) (string, error) {
	return "", fmt.Errorf("fakeDataIface: no inventory entry for %q", inventoryPath)
}

func (fakeDataIface) GetHWCalloutFields(inventoryPath string) (partNumber, ccin, serialNumber string, err error) {
	return "", "", "", fmt.Errorf("fakeDataIface: no inventory entry for %q", inventoryPath)
}

func (fakeDataIface) HardwarePresent(inventoryPath string) bool {
	return false
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent int
}

func (f *fakeNotifier) Notify(_ context.Context, _ []byte) error {
	f.mu.Lock()
	f.sent++
	f.mu.Unlock()
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) (*Manager, *repository.Repository) {
	t.Helper()
	dir := t.TempDir()

	reg, err := registry.Parse(strings.NewReader(testRegistryJSON))
	if err != nil {
		t.Fatalf("registry.Parse: %v", err)
	}

	repo, err := repository.New(repository.Config{
		LogDir:      filepath.Join(dir, "logs"),
		ArchiveDir:  filepath.Join(dir, "archive"),
		DBPath:      filepath.Join(dir, "attrs.db"),
		MaxRepoSize: 1 << 20,
		MaxNumPELs:  1000,
	}, testLogger())
	if err != nil {
		t.Fatalf("repository.New: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	idAlloc := repository.NewIDAllocator(filepath.Join(dir, "next_id"))

	m, err := New(reg, repo, idAlloc, fakeDataIface{}, testLogger(),
		WithExtensionRegistry(extension.New()),
		WithBadPELPath(filepath.Join(dir, "badPEL")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m, repo
}

func TestCreateFromRegistryAddsToRepository(t *testing.T) {
	m, repo := newTestManager(t)

	err := m.Create(context.Background(), CreateRequest{
		Message:   "xyz.openbmc_project.Power.Fault",
		OBMCLogID: 1,
		Severity:  section.SeverityUnrecoverable,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := repo.Get(1); !ok {
		t.Fatal("expected PEL attributes for obmc log 1")
	}
}

func TestCreateFallsBackToDefaultMessage(t *testing.T) {
	m, repo := newTestManager(t)

	err := m.Create(context.Background(), CreateRequest{
		Message:   "xyz.openbmc_project.Does.Not.Exist",
		OBMCLogID: 2,
		Severity:  section.SeverityInformational,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := repo.Get(2); !ok {
		t.Fatal("expected fallback PEL to be added")
	}
}

func TestEraseRemovesFromRepositoryAndRunsHook(t *testing.T) {
	m, repo := newTestManager(t)
	if err := m.Create(context.Background(), CreateRequest{
		Message:   "xyz.openbmc_project.Power.Fault",
		OBMCLogID: 3,
		Severity:  section.SeverityUnrecoverable,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	var deletedID uint32
	m.ext.RegisterPostDelete(func(id uint32) { deletedID = id })

	if err := m.Erase(3); err != nil {
		t.Fatalf("Erase: %v", err)
	}
	if _, ok := repo.Get(3); ok {
		t.Fatal("expected PEL removed")
	}
	if deletedID != 3 {
		t.Fatalf("deletedID = %d, want 3", deletedID)
	}
}

func TestIsDeleteProhibitedDelegatesToExtensionHook(t *testing.T) {
	m, _ := newTestManager(t)
	m.ext.RegisterDeleteProhibitionQuery(func(id uint32) bool { return id == 9 })

	if !m.IsDeleteProhibited(9) {
		t.Fatal("expected 9 to be prohibited")
	}
	if m.IsDeleteProhibited(10) {
		t.Fatal("expected 10 to be permitted")
	}
}

func TestCreateNotifiesHostAsynchronously(t *testing.T) {
	m, repo := newTestManager(t)
	fn := &fakeNotifier{}
	m.notifier = fn

	err := m.Create(context.Background(), CreateRequest{
		Message:   "xyz.openbmc_project.Power.Fault",
		OBMCLogID: 4,
		Severity:  section.SeverityUnrecoverable,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The notifier goroutine is fire-and-forget; just confirm the PEL
	// landed so HostAck/HostReject have something to act on.
	if _, ok := repo.Get(4); !ok {
		t.Fatal("expected PEL to be added despite async notification")
	}
}

type fakeDeliveryQueue struct {
	mu       sync.Mutex
	enqueued []struct {
		obmcLogID uint32
		pelID     uint32
	}
}

func (f *fakeDeliveryQueue) Enqueue(_ context.Context, obmcLogID, pelID uint32, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, struct {
		obmcLogID uint32
		pelID     uint32
	}{obmcLogID, pelID})
	return nil
}

func TestCreateEnqueuesForDeliveryWhenQueueConfigured(t *testing.T) {
	m, repo := newTestManager(t)
	dq := &fakeDeliveryQueue{}
	m.deliveryQueue = dq
	fn := &fakeNotifier{}
	m.notifier = fn

	err := m.Create(context.Background(), CreateRequest{
		Message:   "xyz.openbmc_project.Power.Fault",
		OBMCLogID: 7,
		Severity:  section.SeverityUnrecoverable,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, ok := repo.Get(7); !ok {
		t.Fatal("expected PEL to be added to the repository")
	}

	dq.mu.Lock()
	n := len(dq.enqueued)
	var got struct {
		obmcLogID uint32
		pelID     uint32
	}
	if n > 0 {
		got = dq.enqueued[0]
	}
	dq.mu.Unlock()

	if n != 1 {
		t.Fatalf("enqueued %d PELs, want 1", n)
	}
	if got.obmcLogID != 7 {
		t.Errorf("enqueued obmcLogID = %d, want 7", got.obmcLogID)
	}

	fn.mu.Lock()
	sent := fn.sent
	fn.mu.Unlock()
	if sent != 0 {
		t.Errorf("notifier.Notify called %d times, want 0 when a delivery queue is configured", sent)
	}
}

func TestCreateAndEraseAppendAuditEntries(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t)

	logger, err := audit.Open(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("audit.Open: %v", err)
	}
	m.audit = logger

	if err := m.Create(context.Background(), CreateRequest{
		Message:   "xyz.openbmc_project.Power.Fault",
		OBMCLogID: 9,
		Severity:  section.SeverityUnrecoverable,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Erase(9); err != nil {
		t.Fatalf("Erase: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "audit.log"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d audit lines, want 2: %s", len(lines), data)
	}
	if !strings.Contains(lines[0], `"op":"create"`) {
		t.Errorf("first audit line = %q, want op create", lines[0])
	}
	if !strings.Contains(lines[1], `"op":"erase"`) {
		t.Errorf("second audit line = %q, want op erase", lines[1])
	}
}

func TestHostAckAndHostRejectRequireKnownPELID(t *testing.T) {
	m, _ := newTestManager(t)
	if err := m.HostAck(0xdeadbeef); err == nil {
		t.Fatal("expected error for unknown PEL id")
	}
	if err := m.HostReject(0xdeadbeef, "bad"); err == nil {
		t.Fatal("expected error for unknown PEL id")
	}
}
