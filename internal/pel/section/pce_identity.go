package section

import "github.com/openbmc/pel-logd/internal/stream"

// PCEIdentitySize is the fixed flattened size of a PCEIdentity.
const PCEIdentitySize = 4 + 8 + 32 // header + MTM + enclosure name

// PCEIdentity records the machine type/model and enclosure name of the
// physical confinement entity a callout refers to (spec §3).
type PCEIdentity struct {
	MTM           string // machine type/model, <=8 chars
	EnclosureName string // <=32 chars
}

func (p *PCEIdentity) Flatten(w *stream.Stream) {
	w.WriteU8(0) // type placeholder, reserved
	w.WritePad(3)
	w.WriteN(padTrunc(p.MTM, 8))
	w.WriteN(padTrunc(p.EnclosureName, 32))
}

func ReadPCEIdentity(r *stream.Stream) (*PCEIdentity, error) {
	if _, err := r.ReadN(4); err != nil {
		return nil, err
	}
	mtm, err := r.ReadN(8)
	if err != nil {
		return nil, err
	}
	enc, err := r.ReadN(32)
	if err != nil {
		return nil, err
	}
	return &PCEIdentity{MTM: trimNUL(mtm), EnclosureName: trimNUL(enc)}, nil
}
