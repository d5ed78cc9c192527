package section

import "github.com/openbmc/pel-logd/internal/stream"

const UserDataVersion uint8 = 0x01

// UserDataMinSize is the spec-mandated shrink floor (spec §3): 12 bytes
// (8-byte header + 4-byte minimum body).
const UserDataMinSize = 12

// UserDataFormat values used by the assembler to tag FFDC payload encoding
// (spec §4.5 step 7).
type UserDataFormat uint8

const (
	UserDataFormatJSON UserDataFormat = iota
	UserDataFormatCBOR
	UserDataFormatText
	UserDataFormatCustom
)

// UserData is an opaque, component-tagged payload (spec §3).
type UserData struct {
	hdr  Header
	Data []byte

	valid bool
}

// NewUserData constructs a UserData section; data is 4-byte aligned
// (NUL-padded) on construction.
func NewUserData(componentID uint16, subtype uint8, version uint8, data []byte) *UserData {
	padded := alignData(data)
	u := &UserData{
		hdr: Header{
			ID:          IDUserData,
			Version:     version,
			SubType:     subtype,
			ComponentID: componentID,
		},
		Data:  padded,
		valid: true,
	}
	u.hdr.Size = uint16(HeaderSize + len(padded))
	return u
}

func alignData(data []byte) []byte {
	n := Align4(len(data))
	if n == len(data) {
		out := make([]byte, n)
		copy(out, data)
		return out
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}

func (u *UserData) SectionHeader() Header { return u.hdr }
func (u *UserData) Valid() bool            { return u.valid }
func (u *UserData) FlattenedSize() int     { return HeaderSize + len(u.Data) }

func (u *UserData) Flatten(w *stream.Stream) {
	u.hdr.Size = uint16(u.FlattenedSize())
	u.hdr.Flatten(w)
	w.WriteN(u.Data)
}

// Shrink implements section.Shrinkable (spec §4.2): reduces the body to the
// largest 4-byte-aligned size <= newSize-header that is still >=
// UserDataMinSize-header, or returns false unchanged.
func (u *UserData) Shrink(newSize int) bool {
	bodyBudget := newSize - HeaderSize
	minBody := UserDataMinSize - HeaderSize
	aligned := (bodyBudget / 4) * 4
	if aligned < minBody {
		return false
	}
	if aligned >= len(u.Data) {
		return true // already fits; no-op, counts as success (idempotent)
	}
	u.Data = u.Data[:aligned]
	u.hdr.Size = uint16(HeaderSize + len(u.Data))
	return true
}

func NewUserDataFromStream(r *stream.Stream) *UserData {
	u := &UserData{}
	hdr, err := ReadHeader(r)
	if err != nil {
		return u
	}
	u.hdr = hdr
	if !hdr.Valid() || hdr.ID != IDUserData {
		return u
	}
	bodyLen := int(hdr.Size) - HeaderSize
	if bodyLen < 0 {
		return u
	}
	data, err := r.ReadN(bodyLen)
	if err != nil {
		return u
	}
	u.Data = data
	u.valid = hdr.Size >= UserDataMinSize
	return u
}

func (u *UserData) JSON() map[string]any {
	return map[string]any{
		"componentId": u.hdr.ComponentID,
		"subType":     u.hdr.SubType,
		"size":        u.hdr.Size,
	}
}
