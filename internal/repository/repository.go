// Package repository implements the bounded, pruned on-disk PEL store
// (spec §5): an in-memory attribute index keyed by LogID, a durable SQLite
// mirror so the index survives a restart without re-parsing every PEL file,
// size/count-based pruning across four PEL categories, and archive-before-
// delete semantics. Reconciliation against files deleted out-of-band is
// handled by the inotify watcher in reconcile_linux.go.
package repository

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/openbmc/pel-logd/internal/pel/assembler"
	"github.com/openbmc/pel-logd/internal/pel/section"
	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Repository is the durable, bounded PEL store.
type Repository struct {
	logDir     string
	archiveDir string
	logger     *slog.Logger

	db *sql.DB

	mu        sync.Mutex
	attrs     map[uint32]*PELAttributes // keyed by OBMC log id
	pelToObmc map[uint32]uint32         // PEL id -> OBMC id
	sizes     repoSizes
	retention Retention
}

// Config configures a new Repository.
type Config struct {
	LogDir      string
	ArchiveDir  string
	DBPath      string
	MaxRepoSize int64
	MaxNumPELs  int
}

const ddl = `
CREATE TABLE IF NOT EXISTS pel_attributes (
    obmc_id       INTEGER PRIMARY KEY,
    pel_id        INTEGER NOT NULL,
    path          TEXT    NOT NULL,
    creator       INTEGER NOT NULL,
    severity      INTEGER NOT NULL,
    action_flags  INTEGER NOT NULL,
    size_on_disk  INTEGER NOT NULL,
    host_state    INTEGER NOT NULL DEFAULT 0,
    hmc_state     INTEGER NOT NULL DEFAULT 0,
    event_id      TEXT    NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pel_attributes_pel_id ON pel_attributes (pel_id);
`

// New opens (or creates) the repository's SQLite attribute mirror at
// cfg.DBPath, creates the log/archive directories, and replays any existing
// rows into the in-memory index (spec §5).
func New(cfg Config, logger *slog.Logger) (*Repository, error) {
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		return nil, fmt.Errorf("repository: create log dir: %w", err)
	}
	if err := os.MkdirAll(cfg.ArchiveDir, 0o755); err != nil {
		return nil, fmt.Errorf("repository: create archive dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("repository: open %q: %w", cfg.DBPath, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(ddl); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("repository: apply schema: %w", err)
	}

	r := &Repository{
		logDir:     cfg.LogDir,
		archiveDir: cfg.ArchiveDir,
		logger:     logger,
		db:         db,
		attrs:      make(map[uint32]*PELAttributes),
		pelToObmc:  make(map[uint32]uint32),
		retention:  Retention{MaxRepoSize: cfg.MaxRepoSize, MaxNumPELs: cfg.MaxNumPELs},
	}
	if err := r.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) loadIndex() error {
	rows, err := r.db.Query(`SELECT obmc_id, pel_id, path, creator, severity, action_flags, size_on_disk, host_state, hmc_state, event_id FROM pel_attributes`)
	if err != nil {
		return fmt.Errorf("repository: load index: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var obmcID, pelID uint32
		var creator, severity, hostState, hmcState int
		var actionFlags uint16
		var sizeOnDisk int64
		var path, eventID string
		if err := rows.Scan(&obmcID, &pelID, &path, &creator, &severity, &actionFlags, &sizeOnDisk, &hostState, &hmcState, &eventID); err != nil {
			return fmt.Errorf("repository: scan index row: %w", err)
		}
		a := &PELAttributes{
			Path:        path,
			Creator:     section.CreatorID(creator),
			Severity:    section.Severity(severity),
			ActionFlags: actionFlags,
			SizeOnDisk:  sizeOnDisk,
			HostState:   section.TransmissionState(hostState),
			HMCState:    section.TransmissionState(hmcState),
			EventID:     eventID,
		}
		r.attrs[obmcID] = a
		r.pelToObmc[pelID] = obmcID
		r.sizes.apply(a, true)
	}
	return rows.Err()
}

// Close releases the repository's database handle.
func (r *Repository) Close() error { return r.db.Close() }

// Add writes pel to disk, records its attributes, and prunes the
// repository if it is now over its configured bounds. It returns the OBMC
// log ids that pruning removed, if any (spec §5).
func (r *Repository) Add(pel *assembler.PEL, isolated map[uint32]bool) ([]uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	path := filepath.Join(r.logDir, fileName(pel))
	data := pel.Bytes()
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("repository: write %s: %w", path, err)
	}

	a := &PELAttributes{
		Path:        path,
		Creator:     section.CreatorID(pel.PrivateHeader.Creator),
		Severity:    pel.UserHeader.Severity,
		ActionFlags: pel.UserHeader.ActionFlags,
		SizeOnDisk:  int64(len(data)),
		EventID:     pel.EventID(),
	}

	obmcID := pel.PrivateHeader.OBMCLogID
	pelID := pel.PrivateHeader.ID

	if _, err := r.db.Exec(
		`INSERT OR REPLACE INTO pel_attributes (obmc_id, pel_id, path, creator, severity, action_flags, size_on_disk, host_state, hmc_state, event_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		obmcID, pelID, a.Path, a.Creator, a.Severity, a.ActionFlags, a.SizeOnDisk, a.HostState, a.HMCState, a.EventID,
	); err != nil {
		return nil, fmt.Errorf("repository: persist attributes: %w", err)
	}

	r.attrs[obmcID] = a
	r.pelToObmc[pelID] = obmcID
	r.sizes.apply(a, true)

	return r.prune(isolated), nil
}

// writeFileAtomic writes data to a temp file in the same directory as path
// then renames it into place, unlinking the temp file on any failure so a
// crash or write error never leaves a partial PEL file visible under its
// final name (spec §4.6/§5).
func writeFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			os.Remove(tmpName)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmpName, path); err != nil {
		return err
	}
	return nil
}

// Get returns the attributes for the PEL with the given OBMC log id.
func (r *Repository) Get(obmcID uint32) (*PELAttributes, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attrs[obmcID]
	return a, ok
}

// Len returns the number of PELs currently tracked.
func (r *Repository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attrs)
}

// Summary is a read-only snapshot of one tracked PEL's attributes, keyed by
// OBMC log id, for operator-facing listing (the REST bus surface).
type Summary struct {
	OBMCLogID uint32
	PELID     uint32
	Creator   section.CreatorID
	Severity  section.Severity
	SizeOnDisk int64
	HostState section.TransmissionState
	HMCState  section.TransmissionState
	EventID   string
}

// List returns a snapshot of every PEL currently tracked.
func (r *Repository) List() []Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Summary, 0, len(r.attrs))
	for obmcID, a := range r.attrs {
		pelID := uint32(0)
		for id, oid := range r.pelToObmc {
			if oid == obmcID {
				pelID = id
				break
			}
		}
		out = append(out, Summary{
			OBMCLogID:  obmcID,
			PELID:      pelID,
			Creator:    a.Creator,
			Severity:   a.Severity,
			SizeOnDisk: a.SizeOnDisk,
			HostState:  a.HostState,
			HMCState:   a.HMCState,
			EventID:    a.EventID,
		})
	}
	return out
}

// HasPELID reports whether a PEL with the given PEL id (not OBMC log id)
// is already tracked, used by the hostboot duplicate-PEL check (spec §4.6).
func (r *Repository) HasPELID(pelID uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pelToObmc[pelID]
	return ok
}

// ObmcIDForPELID maps a PEL id to its OBMC log id.
func (r *Repository) ObmcIDForPELID(pelID uint32) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	obmcID, ok := r.pelToObmc[pelID]
	return obmcID, ok
}

// PELIDForOBMC maps an OBMC log id back to its PEL id, the reverse of
// ObmcIDForPELID, used by the gRPC/REST bus surfaces to report a PEL's
// platform log id alongside its raw bytes.
func (r *Repository) PELIDForOBMC(obmcID uint32) (uint32, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pelID, id := range r.pelToObmc {
		if id == obmcID {
			return pelID, true
		}
	}
	return 0, false
}

// ReadPEL returns the raw on-disk bytes for the PEL tracked under obmcID.
func (r *Repository) ReadPEL(obmcID uint32) ([]byte, error) {
	r.mu.Lock()
	a, ok := r.attrs[obmcID]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("repository: no PEL with obmc id %d", obmcID)
	}
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("repository: read %s: %w", a.Path, err)
	}
	return data, nil
}

// GetPELJSON reconstitutes the PEL tracked under obmcID and renders it as a
// JSON-able map, backing the GetPELJSON bus operation (the Go analogue of
// peltool's -f/--file JSON dump).
func (r *Repository) GetPELJSON(obmcID uint32) (map[string]any, error) {
	data, err := r.ReadPEL(obmcID)
	if err != nil {
		return nil, err
	}
	pel, err := assembler.FromBytes(data)
	if err != nil {
		return nil, fmt.Errorf("repository: parse PEL for obmc id %d: %w", obmcID, err)
	}
	return pel.JSON(), nil
}

// SetHostState updates the host transmission state recorded for obmcID,
// used once the host notifier reports success or rejection (spec §6).
func (r *Repository) SetHostState(obmcID uint32, state section.TransmissionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attrs[obmcID]
	if !ok {
		return fmt.Errorf("repository: no PEL with obmc id %d", obmcID)
	}
	a.HostState = state
	if _, err := r.db.Exec(`UPDATE pel_attributes SET host_state = ? WHERE obmc_id = ?`, state, obmcID); err != nil {
		return fmt.Errorf("repository: update host state: %w", err)
	}
	return nil
}

// SetHMCState updates the HMC acknowledgement state recorded for obmcID.
func (r *Repository) SetHMCState(obmcID uint32, state section.TransmissionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attrs[obmcID]
	if !ok {
		return fmt.Errorf("repository: no PEL with obmc id %d", obmcID)
	}
	a.HMCState = state
	if _, err := r.db.Exec(`UPDATE pel_attributes SET hmc_state = ? WHERE obmc_id = ?`, state, obmcID); err != nil {
		return fmt.Errorf("repository: update hmc state: %w", err)
	}
	return nil
}

// Remove archives (if archiving is possible) and deletes the PEL with the
// given OBMC log id, removing it from the index.
func (r *Repository) Remove(obmcID uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(obmcID)
}

// removeLocked assumes r.mu is held.
func (r *Repository) removeLocked(obmcID uint32) error {
	a, ok := r.attrs[obmcID]
	if !ok {
		return nil
	}

	if err := r.archiveLocked(a); err != nil {
		r.logger.Warn("repository: archive failed, deleting anyway",
			slog.String("path", a.Path), slog.Any("error", err))
	}
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repository: remove %s: %w", a.Path, err)
	}
	if _, err := r.db.Exec(`DELETE FROM pel_attributes WHERE obmc_id = ?`, obmcID); err != nil {
		return fmt.Errorf("repository: delete attribute row: %w", err)
	}

	r.sizes.apply(a, false)
	delete(r.attrs, obmcID)
	for pelID, id := range r.pelToObmc {
		if id == obmcID {
			delete(r.pelToObmc, pelID)
			break
		}
	}
	return nil
}

// archiveLocked copies the PEL's file to the archive directory before
// deletion, matching the archive-before-unlink behavior in repository.cpp.
func (r *Repository) archiveLocked(a *PELAttributes) error {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return err
	}
	dest := filepath.Join(r.archiveDir, filepath.Base(a.Path))
	return os.WriteFile(dest, data, 0o644)
}

// ArchivePEL writes pel's bytes directly to the archive directory without
// touching the attribute index, for PELs rejected before ever being added
// to the repository (a duplicate hostboot PEL, for instance, never gets a
// tracked entry under its obmc log id, so Remove would have nothing to
// archive — matching repository.cpp's archivePEL(*pel), which archives the
// PEL object handed to it directly rather than an existing repo entry).
func (r *Repository) ArchivePEL(pel *assembler.PEL) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	dest := filepath.Join(r.archiveDir, fileName(pel))
	return os.WriteFile(dest, pel.Bytes(), 0o644)
}

// reconcileDeletedLocked removes an attribute-index entry for a file the
// filesystem reports as already gone (spec §5's inotify reconciliation):
// no archive attempt, since the file is unavailable to copy.
func (r *Repository) reconcileDeletedLocked(path string) {
	for obmcID, a := range r.attrs {
		if a.Path != path {
			continue
		}
		if _, err := r.db.Exec(`DELETE FROM pel_attributes WHERE obmc_id = ?`, obmcID); err != nil {
			r.logger.Warn("repository: reconcile delete failed", slog.Any("error", err))
		}
		r.sizes.apply(a, false)
		delete(r.attrs, obmcID)
		for pelID, id := range r.pelToObmc {
			if id == obmcID {
				delete(r.pelToObmc, pelID)
				break
			}
		}
		return
	}
}

func fileName(pel *assembler.PEL) string {
	prefix := pel.PrivateHeader.CreateTimestamp.FilenamePrefix()
	return fmt.Sprintf("%s_%08x", prefix, pel.PrivateHeader.ID)
}
