package section

import (
	"bytes"

	"github.com/openbmc/pel-logd/internal/stream"
)

// FRUKind is the tagged-union discriminant for FRUIdentity (spec §3).
type FRUKind uint8

const (
	FRUKindHardware        FRUKind = 1
	FRUKindProcedure       FRUKind = 2
	FRUKindSymbolic        FRUKind = 3
	FRUKindSymbolicTrusted FRUKind = 4
)

// fruDataSize is the size of the kind-specific payload area; the same bytes
// carry different meaning depending on Kind, mirroring the tagged union in
// spec §3 (this is the Go analogue of the C++ union over raw storage).
const fruDataSize = 28

// FRUIdentitySize is the fixed flattened size of an FRUIdentity.
const FRUIdentitySize = 4 + fruDataSize // 32

// FRUIdentity is a tagged union of the four FRU-identifying variants
// described in spec §3.
type FRUIdentity struct {
	Kind FRUKind

	// Hardware fields (FRUKindHardware).
	PartNumber   string // <=7 chars
	CCIN         string // <=4 chars
	SerialNumber string // <=12 chars

	// Maintenance procedure (FRUKindProcedure): exactly 7 chars.
	MaintenanceProcedure string

	// Symbolic FRU name (FRUKindSymbolic, FRUKindSymbolicTrusted).
	SymbolicFRU string // <=7 chars

	// TrustedLocationCode is only meaningful for FRUKindSymbolicTrusted.
	TrustedLocationCode string // <=21 chars
}

func (f *FRUIdentity) Flatten(w *stream.Stream) {
	w.WriteU8(uint8(f.Kind))
	w.WriteU8(0) // flags reserved for future presence bits
	w.WritePad(2)

	var data [fruDataSize]byte
	switch f.Kind {
	case FRUKindHardware:
		copy(data[0:7], padTrunc(f.PartNumber, 7))
		copy(data[7:11], padTrunc(f.CCIN, 4))
		copy(data[11:23], padTrunc(f.SerialNumber, 12))
	case FRUKindProcedure:
		copy(data[0:7], padTrunc(f.MaintenanceProcedure, 7))
	case FRUKindSymbolic:
		copy(data[0:7], padTrunc(f.SymbolicFRU, 7))
	case FRUKindSymbolicTrusted:
		copy(data[0:7], padTrunc(f.SymbolicFRU, 7))
		copy(data[7:28], padTrunc(f.TrustedLocationCode, 21))
	}
	w.WriteN(data[:])
}

func ReadFRUIdentity(r *stream.Stream) (*FRUIdentity, error) {
	kind, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadN(3); err != nil { // flags + reserved
		return nil, err
	}
	data, err := r.ReadN(fruDataSize)
	if err != nil {
		return nil, err
	}
	f := &FRUIdentity{Kind: FRUKind(kind)}
	switch f.Kind {
	case FRUKindHardware:
		f.PartNumber = trimNUL(data[0:7])
		f.CCIN = trimNUL(data[7:11])
		f.SerialNumber = trimNUL(data[11:23])
	case FRUKindProcedure:
		f.MaintenanceProcedure = trimNUL(data[0:7])
	case FRUKindSymbolic:
		f.SymbolicFRU = trimNUL(data[0:7])
	case FRUKindSymbolicTrusted:
		f.SymbolicFRU = trimNUL(data[0:7])
		f.TrustedLocationCode = trimNUL(data[7:28])
	}
	return f, nil
}

func padTrunc(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func trimNUL(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}
