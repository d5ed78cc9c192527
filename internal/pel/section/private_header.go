package section

import (
	"github.com/openbmc/pel-logd/internal/stream"
)

// PrivateHeaderVersion is the fixed version byte for PrivateHeader.
const PrivateHeaderVersion uint8 = 0x01

// PrivateHeaderSize is the fixed flattened size of a PrivateHeader.
const PrivateHeaderSize = 48

// CreatorID identifies the subsystem that created a PEL (spec §3).
type CreatorID = byte

const (
	CreatorBMC             CreatorID = 'O'
	CreatorHostboot        CreatorID = 'B'
	CreatorHypervisor      CreatorID = 'H'
	CreatorPartitionFW     CreatorID = 'L'
	CreatorPowerControl    CreatorID = 'C'
	CreatorSLIC            CreatorID = 'S'
	CreatorFSP             CreatorID = 'F'
)

// LogType is the PrivateHeader log-type byte.
type LogType uint8

const (
	LogTypeInformational LogType = 0
	LogTypeCommonInfo    LogType = 0x01
)

// PrivateHeader is always the first section in a PEL (spec §3).
type PrivateHeader struct {
	hdr Header

	CreateTimestamp  BCDTime
	CommitTimestamp  BCDTime
	Creator          CreatorID
	LogType          LogType
	SectionCount     uint8
	OBMCLogID        uint32
	CreatorVersion   [8]byte
	PlatformLogID    uint32
	ID               uint32

	valid bool
}

// NewPrivateHeader constructs a PrivateHeader for a freshly synthesized PEL.
// Per spec §3, plid == id on synthesis.
func NewPrivateHeader(id, obmcID uint32, creator CreatorID, createTS, commitTS BCDTime, creatorVersion string) *PrivateHeader {
	var cv [8]byte
	copy(cv[:], creatorVersion)
	return &PrivateHeader{
		hdr: Header{
			ID:          IDPrivateHeader,
			Size:        PrivateHeaderSize,
			Version:     PrivateHeaderVersion,
			SubType:     0,
			ComponentID: 0,
		},
		CreateTimestamp: createTS,
		CommitTimestamp: commitTS,
		Creator:         creator,
		LogType:         LogTypeInformational,
		SectionCount:    2,
		OBMCLogID:       obmcID,
		CreatorVersion:  cv,
		PlatformLogID:   id,
		ID:              id,
		valid:           true,
	}
}

func (p *PrivateHeader) SectionHeader() Header { return p.hdr }
func (p *PrivateHeader) Valid() bool            { return p.valid }
func (p *PrivateHeader) FlattenedSize() int     { return PrivateHeaderSize }

// SetSectionCount updates the section count field once the assembler knows
// the final optional-section count (2 + len(optional)).
func (p *PrivateHeader) SetSectionCount(n uint8) { p.SectionCount = n }

func (p *PrivateHeader) Flatten(w *stream.Stream) {
	p.hdr.Flatten(w)
	p.CreateTimestamp.Flatten(w)
	p.CommitTimestamp.Flatten(w)
	w.WriteU8(p.Creator)
	w.WriteU8(uint8(p.LogType))
	w.WriteU8(p.SectionCount)
	w.WritePad(1) // reserved
	w.WriteU32(p.OBMCLogID)
	w.WriteN(p.CreatorVersion[:])
	w.WriteU32(p.PlatformLogID)
	w.WriteU32(p.ID)
}

// NewPrivateHeaderFromStream unflattens a PrivateHeader, including its
// 8-byte common header; like every section codec it reads its own header
// (the factory only peeks the id), and the assembler's "from bytes" path
// calls it directly.
func NewPrivateHeaderFromStream(r *stream.Stream) *PrivateHeader {
	p := &PrivateHeader{}
	hdr, err := ReadHeader(r)
	if err != nil {
		return p
	}
	p.hdr = hdr
	if !hdr.Valid() || hdr.ID != IDPrivateHeader {
		return p
	}

	ct, err := ReadBCDTime(r)
	if err != nil {
		return p
	}
	mt, err := ReadBCDTime(r)
	if err != nil {
		return p
	}
	creator, err := r.ReadU8()
	if err != nil {
		return p
	}
	logType, err := r.ReadU8()
	if err != nil {
		return p
	}
	secCount, err := r.ReadU8()
	if err != nil {
		return p
	}
	if _, err := r.ReadN(1); err != nil { // reserved
		return p
	}
	obmcID, err := r.ReadU32()
	if err != nil {
		return p
	}
	cv, err := r.ReadN(8)
	if err != nil {
		return p
	}
	plid, err := r.ReadU32()
	if err != nil {
		return p
	}
	id, err := r.ReadU32()
	if err != nil {
		return p
	}

	p.CreateTimestamp = ct
	p.CommitTimestamp = mt
	p.Creator = creator
	p.LogType = LogType(logType)
	p.SectionCount = secCount
	p.OBMCLogID = obmcID
	copy(p.CreatorVersion[:], cv)
	p.PlatformLogID = plid
	p.ID = id

	p.valid = p.validate()
	return p
}

func (p *PrivateHeader) validate() bool {
	if p.hdr.Version != PrivateHeaderVersion {
		return false
	}
	if p.SectionCount < 2 {
		return false
	}
	return true
}

func (p *PrivateHeader) JSON() map[string]any {
	return map[string]any{
		"id":             p.ID,
		"plid":           p.PlatformLogID,
		"obmcLogId":      p.OBMCLogID,
		"creator":        string(p.Creator),
		"sectionCount":   p.SectionCount,
		"createTimestamp": p.CreateTimestamp.Time(),
		"commitTimestamp": p.CommitTimestamp.Time(),
	}
}
