package section

import (
	"fmt"
	"strings"

	"github.com/openbmc/pel-logd/internal/stream"
)

const ExtendedUserHeaderVersion uint8 = 0x01

// SymptomIDMaxLen is the spec-mandated bound (spec §3): <=80 bytes,
// NUL-terminated, 4-byte padded.
const SymptomIDMaxLen = 80

// ExtendedUserHeader carries machine identity, firmware versions, reference
// time, and symptom id (spec §3).
type ExtendedUserHeader struct {
	hdr Header

	MachineTypeModel string // <=8 chars
	MachineSerial    string // <=12 chars
	ServerFWVersion  string // <=16 chars
	SubsystemFWVer   string // <=16 chars
	RefTime          BCDTime
	SymptomID        string // <=80 chars

	valid bool
}

func symptomIDFlattenedLen(s string) int {
	n := len(s) + 1 // NUL terminator
	return Align4(n)
}

func (e *ExtendedUserHeader) FlattenedSize() int {
	return HeaderSize + 8 + 12 + 16 + 16 + 8 + symptomIDFlattenedLen(truncSymptomID(e.SymptomID))
}

func truncSymptomID(s string) string {
	if len(s) > SymptomIDMaxLen-1 {
		return s[:SymptomIDMaxLen-1]
	}
	return s
}

func NewExtendedUserHeader(mtm, serial, serverFW, subsysFW string, refTime BCDTime, symptomID string) *ExtendedUserHeader {
	e := &ExtendedUserHeader{
		hdr: Header{
			ID:      IDExtendedUserHeader,
			Version: ExtendedUserHeaderVersion,
		},
		MachineTypeModel: mtm,
		MachineSerial:    serial,
		ServerFWVersion:  serverFW,
		SubsystemFWVer:   subsysFW,
		RefTime:          refTime,
		SymptomID:        truncSymptomID(symptomID),
		valid:            true,
	}
	e.hdr.Size = uint16(e.FlattenedSize())
	return e
}

func (e *ExtendedUserHeader) SectionHeader() Header { return e.hdr }
func (e *ExtendedUserHeader) Valid() bool            { return e.valid }

func (e *ExtendedUserHeader) Flatten(w *stream.Stream) {
	e.hdr.Size = uint16(e.FlattenedSize())
	e.hdr.Flatten(w)
	w.WriteN(padTrunc(e.MachineTypeModel, 8))
	w.WriteN(padTrunc(e.MachineSerial, 12))
	w.WriteN(padTrunc(e.ServerFWVersion, 16))
	w.WriteN(padTrunc(e.SubsystemFWVer, 16))
	e.RefTime.Flatten(w)

	sym := truncSymptomID(e.SymptomID)
	total := symptomIDFlattenedLen(sym)
	b := make([]byte, total)
	copy(b, sym) // remaining bytes already NUL (zero value)
	w.WriteN(b)
}

func NewExtendedUserHeaderFromStream(r *stream.Stream) *ExtendedUserHeader {
	e := &ExtendedUserHeader{}
	hdr, err := ReadHeader(r)
	if err != nil {
		return e
	}
	e.hdr = hdr
	if !hdr.Valid() || hdr.ID != IDExtendedUserHeader {
		return e
	}
	mtm, err := r.ReadN(8)
	if err != nil {
		return e
	}
	serial, err := r.ReadN(12)
	if err != nil {
		return e
	}
	serverFW, err := r.ReadN(16)
	if err != nil {
		return e
	}
	subsysFW, err := r.ReadN(16)
	if err != nil {
		return e
	}
	refTime, err := ReadBCDTime(r)
	if err != nil {
		return e
	}

	consumed := HeaderSize + 8 + 12 + 16 + 16 + 8
	symLen := int(hdr.Size) - consumed
	if symLen < 0 {
		return e
	}
	symBytes, err := r.ReadN(symLen)
	if err != nil {
		return e
	}

	e.MachineTypeModel = trimNUL(mtm)
	e.MachineSerial = trimNUL(serial)
	e.ServerFWVersion = trimNUL(serverFW)
	e.SubsystemFWVer = trimNUL(subsysFW)
	e.RefTime = refTime
	e.SymptomID = trimNUL(symBytes)
	e.valid = e.hdr.Version == ExtendedUserHeaderVersion
	return e
}

func (e *ExtendedUserHeader) JSON() map[string]any {
	return map[string]any{
		"machineTypeModel": e.MachineTypeModel,
		"machineSerial":    e.MachineSerial,
		"symptomId":        e.SymptomID,
	}
}

// BuildSymptomID constructs the symptom-id string described in spec §3:
// the first 8 ASCII chars of the SRC, underscore-joined with hex-formatted
// hex-words listed in the registry (default: word 3).
func BuildSymptomID(srcAscii string, hexWords []uint32, wordNums []int) string {
	prefix := srcAscii
	if len(prefix) > 8 {
		prefix = prefix[:8]
	}
	prefix = strings.TrimSpace(prefix)
	if len(wordNums) == 0 {
		wordNums = []int{3}
	}
	parts := []string{prefix}
	for _, n := range wordNums {
		idx := n - 2 // hexWords[0] is hex word 2
		if idx < 0 || idx >= len(hexWords) {
			continue
		}
		parts = append(parts, fmt.Sprintf("%08X", hexWords[idx]))
	}
	return strings.Join(parts, "_")
}
