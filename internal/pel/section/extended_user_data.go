package section

import "github.com/openbmc/pel-logd/internal/stream"

const ExtendedUserDataVersion uint8 = 0x01

// ExtendedUserDataMinSize is the spec-mandated shrink floor: 16 bytes
// (8-byte header + 4-byte creator-id field + 4-byte minimum body).
const ExtendedUserDataMinSize = 16

// ExtendedUserData is like UserData but also carries the originating
// creator-id so downstream parsers can dispatch (spec §3).
type ExtendedUserData struct {
	hdr       Header
	CreatorID byte
	Data      []byte

	valid bool
}

func NewExtendedUserData(componentID uint16, subtype uint8, version uint8, creator byte, data []byte) *ExtendedUserData {
	padded := alignData(data)
	e := &ExtendedUserData{
		hdr: Header{
			ID:          IDExtendedUserData,
			Version:     version,
			SubType:     subtype,
			ComponentID: componentID,
		},
		CreatorID: creator,
		Data:      padded,
		valid:     true,
	}
	e.hdr.Size = uint16(HeaderSize + 4 + len(padded))
	return e
}

func (e *ExtendedUserData) SectionHeader() Header { return e.hdr }
func (e *ExtendedUserData) Valid() bool            { return e.valid }
func (e *ExtendedUserData) FlattenedSize() int     { return HeaderSize + 4 + len(e.Data) }

func (e *ExtendedUserData) Flatten(w *stream.Stream) {
	e.hdr.Size = uint16(e.FlattenedSize())
	e.hdr.Flatten(w)
	w.WriteU8(e.CreatorID)
	w.WritePad(3)
	w.WriteN(e.Data)
}

// Shrink implements section.Shrinkable.
func (e *ExtendedUserData) Shrink(newSize int) bool {
	bodyBudget := newSize - HeaderSize - 4
	minBody := ExtendedUserDataMinSize - HeaderSize - 4
	aligned := (bodyBudget / 4) * 4
	if aligned < minBody {
		return false
	}
	if aligned >= len(e.Data) {
		return true
	}
	e.Data = e.Data[:aligned]
	e.hdr.Size = uint16(e.FlattenedSize())
	return true
}

func NewExtendedUserDataFromStream(r *stream.Stream) *ExtendedUserData {
	e := &ExtendedUserData{}
	hdr, err := ReadHeader(r)
	if err != nil {
		return e
	}
	e.hdr = hdr
	if !hdr.Valid() || hdr.ID != IDExtendedUserData {
		return e
	}
	creator, err := r.ReadU8()
	if err != nil {
		return e
	}
	if _, err := r.ReadN(3); err != nil {
		return e
	}
	bodyLen := int(hdr.Size) - HeaderSize - 4
	if bodyLen < 0 {
		return e
	}
	data, err := r.ReadN(bodyLen)
	if err != nil {
		return e
	}
	e.CreatorID = creator
	e.Data = data
	e.valid = hdr.Size >= ExtendedUserDataMinSize
	return e
}

func (e *ExtendedUserData) JSON() map[string]any {
	return map[string]any{
		"creatorId":   string(e.CreatorID),
		"componentId": e.hdr.ComponentID,
		"size":        e.hdr.Size,
	}
}
