package section

import (
	"github.com/openbmc/pel-logd/internal/stream"
)

const SRCVersion uint8 = 0x02

// SRCHexWordCount is 8 (spec §3): the registry/builder-addressable "hex
// word 2" through "hex word 9", indices 0-7 respectively. There is no
// separate reserved format word on the wire.
const SRCHexWordCount = 8

// SRCFixedPrefixSize is the fixed 48-byte prefix (8-byte section header +
// 8-byte fixed fields + 32 bytes of hex words) preceding the 32-byte ASCII
// reference string, for an 80-byte SRC section total (spec §3/§8).
const SRCFixedPrefixSize = HeaderSize + 8 + SRCHexWordCount*4

// SRCWordCountField is the value stamped into the on-wire "hex word count"
// byte: for backward compatibility with pre-PEL SRC formats this is always
// one more than the actual number of hex words carried (src.hpp's
// hexWordCount()), even though only SRCHexWordCount words are present.
const SRCWordCountField = SRCHexWordCount + 1

// SRC flag bits.
const (
	SRCFlagAdditionalSections uint8 = 1 << 0 // "additional sub-sections follow"
)

// Error-status bits within hex word 5 (spec §3).
const (
	HexWord5Checkstop    uint32 = 1 << 0
	HexWord5Deconfigured uint32 = 1 << 1
	HexWord5Guarded      uint32 = 1 << 2
	HexWord5TerminateFW  uint32 = 1 << 3
)

// SRC is the primary System Reference Code section (spec §3).
type SRC struct {
	hdr Header

	Flags       uint8
	HexWords    [SRCHexWordCount]uint32 // index 0..7 == hex word 2..9
	AsciiString string                   // 32 bytes significant
	Callouts    *Callouts

	valid bool
}

func NewSRC(subType uint8) *SRC {
	return &SRC{
		hdr: Header{
			ID:      IDPrimarySRC,
			Version: SRCVersion,
			SubType: subType,
		},
		valid: true,
	}
}

// HexWord returns hex word n (2..9).
func (s *SRC) HexWord(n int) uint32 {
	if n < 2 || n > 9 {
		return 0
	}
	return s.HexWords[n-2]
}

// SetHexWord sets hex word n (2..9).
func (s *SRC) SetHexWord(n int, v uint32) {
	if n < 2 || n > 9 {
		return
	}
	s.HexWords[n-2] = v
}

func (s *SRC) SectionHeader() Header { return s.hdr }
func (s *SRC) Valid() bool            { return s.valid }

func (s *SRC) FlattenedSize() int {
	size := SRCFixedPrefixSize + AsciiStringLen
	if s.Callouts != nil && len(s.Callouts.List) > 0 {
		size += s.Callouts.FlattenedSize()
	}
	return size
}

func (s *SRC) Flatten(w *stream.Stream) {
	flags := s.Flags
	if s.Callouts != nil && len(s.Callouts.List) > 0 {
		flags |= SRCFlagAdditionalSections
	}
	s.hdr.Size = uint16(s.FlattenedSize())
	s.hdr.Flatten(w)

	w.WriteU8(SRCVersion)
	w.WriteU8(flags)
	w.WritePad(1)
	w.WriteU8(SRCWordCountField)
	w.WritePad(2)
	w.WriteU16(s.hdr.Size)
	for _, hw := range s.HexWords {
		w.WriteU32(hw)
	}

	w.WriteN(padTrunc(s.AsciiString, AsciiStringLen))

	if flags&SRCFlagAdditionalSections != 0 {
		s.Callouts.Flatten(w)
	}
}

func NewSRCFromStream(r *stream.Stream) *SRC {
	s := &SRC{}
	hdr, err := ReadHeader(r)
	if err != nil {
		return s
	}
	s.hdr = hdr
	if !hdr.Valid() || hdr.ID != IDPrimarySRC {
		return s
	}

	ver, err := r.ReadU8()
	if err != nil {
		return s
	}
	flags, err := r.ReadU8()
	if err != nil {
		return s
	}
	if _, err := r.ReadN(1); err != nil {
		return s
	}
	wordCount, err := r.ReadU8()
	if err != nil {
		return s
	}
	if _, err := r.ReadN(2); err != nil {
		return s
	}
	if _, err := r.ReadU16(); err != nil { // size (redundant with hdr.Size)
		return s
	}
	for i := 0; i < SRCHexWordCount; i++ {
		v, err := r.ReadU32()
		if err != nil {
			return s
		}
		s.HexWords[i] = v
	}

	ascii, err := r.ReadN(AsciiStringLen)
	if err != nil {
		return s
	}

	s.Flags = flags
	s.AsciiString = SanitizeAsciiString(trimNUL(ascii))
	if len(s.AsciiString) < AsciiStringLen {
		s.AsciiString += stringOfSpaces(AsciiStringLen - len(s.AsciiString))
	}

	if flags&SRCFlagAdditionalSections != 0 {
		co, err := ReadCallouts(r)
		if err != nil {
			return s
		}
		s.Callouts = co
	}

	_ = ver
	_ = wordCount
	s.valid = s.validate()
	return s
}

func (s *SRC) validate() bool {
	return s.hdr.Version == SRCVersion
}

func stringOfSpaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}

func (s *SRC) JSON() map[string]any {
	m := map[string]any{
		"asciiString": s.AsciiString,
		"hexWords":    s.HexWords,
	}
	if s.Callouts != nil {
		m["numCallouts"] = len(s.Callouts.List)
	}
	return m
}
