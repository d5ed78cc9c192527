package section

import "github.com/openbmc/pel-logd/internal/stream"

const FailingMTMSVersion uint8 = 0x01

// FailingMTMSSize is the fixed flattened size of a FailingMTMS section.
const FailingMTMSSize = HeaderSize + 8 + 12

// FailingMTMS is a snapshot of the reporting machine's type/model/serial at
// PEL creation time (spec §3).
type FailingMTMS struct {
	hdr Header

	MachineTypeModel string // <=8 chars
	MachineSerial    string // <=12 chars

	valid bool
}

func NewFailingMTMS(mtm, serial string) *FailingMTMS {
	return &FailingMTMS{
		hdr: Header{
			ID:      IDFailingMTMS,
			Version: FailingMTMSVersion,
			Size:    FailingMTMSSize,
		},
		MachineTypeModel: mtm,
		MachineSerial:    serial,
		valid:            true,
	}
}

func (f *FailingMTMS) SectionHeader() Header { return f.hdr }
func (f *FailingMTMS) Valid() bool            { return f.valid }
func (f *FailingMTMS) FlattenedSize() int     { return FailingMTMSSize }

func (f *FailingMTMS) Flatten(w *stream.Stream) {
	f.hdr.Flatten(w)
	w.WriteN(padTrunc(f.MachineTypeModel, 8))
	w.WriteN(padTrunc(f.MachineSerial, 12))
}

func NewFailingMTMSFromStream(r *stream.Stream) *FailingMTMS {
	f := &FailingMTMS{}
	hdr, err := ReadHeader(r)
	if err != nil {
		return f
	}
	f.hdr = hdr
	if !hdr.Valid() || hdr.ID != IDFailingMTMS {
		return f
	}
	mtm, err := r.ReadN(8)
	if err != nil {
		return f
	}
	serial, err := r.ReadN(12)
	if err != nil {
		return f
	}
	f.MachineTypeModel = trimNUL(mtm)
	f.MachineSerial = trimNUL(serial)
	f.valid = f.hdr.Version == FailingMTMSVersion
	return f
}

func (f *FailingMTMS) JSON() map[string]any {
	return map[string]any{
		"machineTypeModel": f.MachineTypeModel,
		"machineSerial":    f.MachineSerial,
	}
}
