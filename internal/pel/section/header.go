// Package section implements the binary codec for every PEL section type:
// flatten/unflatten symmetry, per-section validation, and the section
// factory that dispatches on a section's 2-byte id. Every concrete section
// is a plain struct implementing Section; there is no runtime base-class
// hierarchy, per the PEL assembler design note in the repository's
// DESIGN.md (tagged union, not inheritance).
package section

import (
	"github.com/openbmc/pel-logd/internal/stream"
)

// Section ids. These are stable on-wire identifiers; two ASCII characters
// packed big-endian into a uint16, matching the convention used throughout
// the PEL format (e.g. "PH" == PrivateHeader).
const (
	IDPrivateHeader      uint16 = 0x5048 // "PH"
	IDUserHeader         uint16 = 0x5548 // "UH"
	IDPrimarySRC         uint16 = 0x5053 // "PS"
	IDExtendedUserHeader uint16 = 0x4548 // "EH"
	IDFailingMTMS        uint16 = 0x4D54 // "MT"
	IDUserData           uint16 = 0x5544 // "UD"
	IDExtendedUserData   uint16 = 0x4544 // "ED"
)

// HeaderSize is the fixed 8-byte size of every section header.
const HeaderSize = 8

// Header is the common 8-byte prefix of every PEL section (spec §3).
type Header struct {
	ID          uint16
	Size        uint16 // includes this header
	Version     uint8
	SubType     uint8
	ComponentID uint16
}

// Flatten writes the header to w.
func (h Header) Flatten(w *stream.Stream) {
	w.WriteU16(h.ID)
	w.WriteU16(h.Size)
	w.WriteU8(h.Version)
	w.WriteU8(h.SubType)
	w.WriteU16(h.ComponentID)
}

// ReadHeader reads an 8-byte section header from r.
func ReadHeader(r *stream.Stream) (Header, error) {
	var h Header
	id, err := r.ReadU16()
	if err != nil {
		return h, err
	}
	size, err := r.ReadU16()
	if err != nil {
		return h, err
	}
	ver, err := r.ReadU8()
	if err != nil {
		return h, err
	}
	sub, err := r.ReadU8()
	if err != nil {
		return h, err
	}
	comp, err := r.ReadU16()
	if err != nil {
		return h, err
	}
	h = Header{ID: id, Size: size, Version: ver, SubType: sub, ComponentID: comp}
	return h, nil
}

// Valid reports whether the header's declared size meets the spec-mandated
// minimum of 8 bytes (the header itself).
func (h Header) Valid() bool {
	return h.Size >= HeaderSize
}

// PeekID returns the 2-byte section id at r's current offset without
// advancing the cursor. ok is false if fewer than 2 bytes remain.
func PeekID(r *stream.Stream) (id uint16, ok bool) {
	b, err := r.PeekN(2)
	if err != nil {
		return 0, false
	}
	return uint16(b[0])<<8 | uint16(b[1]), true
}

// Section is implemented by every concrete PEL section type.
type Section interface {
	// Flatten writes the section (header + body) to w.
	Flatten(w *stream.Stream)
	// FlattenedSize is the authoritative on-wire size; must equal
	// SectionHeader().Size after a successful Flatten.
	FlattenedSize() int
	// Valid reports whether this section passed validation on unflatten (or
	// was constructed by this process and is therefore always valid).
	Valid() bool
	// SectionHeader returns the section's header.
	SectionHeader() Header
	// JSON returns a map of fields suitable for embedding in a human-facing
	// dump. It never fails; best-effort only.
	JSON() map[string]any
}

// Shrinkable is implemented by section types whose body can be truncated
// in-place to fit a size budget (spec §4.2).
type Shrinkable interface {
	Section
	// Shrink reduces the section to the largest 4-byte-aligned size <=
	// newSize that is still >= the section's minimum size. It returns false
	// and leaves the section unchanged if no such size exists.
	Shrink(newSize int) bool
}

// Align4 rounds n up to the next multiple of 4.
func Align4(n int) int {
	if rem := n % 4; rem != 0 {
		return n + (4 - rem)
	}
	return n
}
