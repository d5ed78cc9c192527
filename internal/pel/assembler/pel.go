// Package assembler builds and validates complete PELs: the ordered section
// list behind the PrivateHeader/UserHeader pair, constructed either from raw
// bytes (reconstitution) or from a registry entry (synthesis). Construction
// follows the functional-option shape used elsewhere in the teacher module
// for optional components (grounded on internal/agent/agent.go's
// WithWatchers/WithQueue/WithTransport pattern).
package assembler

import (
	"fmt"
	"strings"
	"time"

	"github.com/openbmc/pel-logd/internal/pel/registry"
	"github.com/openbmc/pel-logd/internal/pel/section"
	"github.com/openbmc/pel-logd/internal/pel/srcbuilder"
	"github.com/openbmc/pel-logd/internal/stream"
)

// FFDCPreprocessor is an injectable hook for PHAL/SBE-FFDC-specific data
// massaging before it is embedded as a UserData section. A build that does
// not need PHAL support uses passthroughFFDC (spec's non-goals exclude SBE
// register decoding, but the seam stays so one can be wired in later).
type FFDCPreprocessor interface {
	Process(raw []byte) ([]byte, error)
}

type passthroughFFDC struct{}

func (passthroughFFDC) Process(raw []byte) ([]byte, error) { return raw, nil }

// PassthroughFFDC returns the default no-op FFDCPreprocessor.
func PassthroughFFDC() FFDCPreprocessor { return passthroughFFDC{} }

// PEL is a fully assembled Platform Event Log: the two mandatory sections
// plus any ordered optional sections (spec §2).
type PEL struct {
	PrivateHeader *section.PrivateHeader
	UserHeader    *section.UserHeader
	Optional      []section.Section
}

// Option configures a PEL under construction. Options can fail (e.g. SRC
// construction can fail to resolve callouts), so unlike the teacher's pure
// Option func(*Agent), these return an error.
type Option func(*PEL) error

// WithSRC adds the primary SRC section.
func WithSRC(src *section.SRC) Option {
	return func(p *PEL) error {
		p.Optional = append(p.Optional, src)
		return nil
	}
}

// WithExtendedUserHeader adds the extended user header section.
func WithExtendedUserHeader(euh *section.ExtendedUserHeader) Option {
	return func(p *PEL) error {
		p.Optional = append(p.Optional, euh)
		return nil
	}
}

// WithFailingMTMS adds the failing-MTMS section.
func WithFailingMTMS(mtms *section.FailingMTMS) Option {
	return func(p *PEL) error {
		p.Optional = append(p.Optional, mtms)
		return nil
	}
}

// WithUserData appends a UserData section, running raw through pp first.
func WithUserData(componentID uint16, subtype, version uint8, raw []byte, pp FFDCPreprocessor) Option {
	return func(p *PEL) error {
		if pp == nil {
			pp = PassthroughFFDC()
		}
		data, err := pp.Process(raw)
		if err != nil {
			return fmt.Errorf("assembler: FFDC preprocess: %w", err)
		}
		p.Optional = append(p.Optional, section.NewUserData(componentID, subtype, version, data))
		return nil
	}
}

// WithExtendedUserData appends an ExtendedUserData section.
func WithExtendedUserData(componentID uint16, subtype, version uint8, creator byte, raw []byte) Option {
	return func(p *PEL) error {
		p.Optional = append(p.Optional, section.NewExtendedUserData(componentID, subtype, version, creator, raw))
		return nil
	}
}

// New assembles a PEL from an already-built PrivateHeader/UserHeader pair
// plus any optional sections, applying the ordering and section-count
// invariants (spec §2, §4.6).
func New(ph *section.PrivateHeader, uh *section.UserHeader, opts ...Option) (*PEL, error) {
	p := &PEL{PrivateHeader: ph, UserHeader: uh}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	p.fixup()
	return p, nil
}

// fixup applies the rule-check-and-fix pass: section count, event-type vs.
// severity invariant (spec §3, §4.6).
func (p *PEL) fixup() {
	p.PrivateHeader.SetSectionCount(uint8(2 + len(p.Optional)))
	p.UserHeader.FixEventType(false)
}

// AppendOptional adds an already-built section (e.g. additional FFDC
// UserData attached after initial synthesis) and refreshes the
// PrivateHeader's section count to match.
func (p *PEL) AppendOptional(s section.Section) {
	p.Optional = append(p.Optional, s)
	p.PrivateHeader.SetSectionCount(uint8(2 + len(p.Optional)))
}

// Sections returns every section in on-wire order: PrivateHeader,
// UserHeader, then the optional sections in the order they were added.
func (p *PEL) Sections() []section.Section {
	out := make([]section.Section, 0, 2+len(p.Optional))
	out = append(out, p.PrivateHeader, p.UserHeader)
	out = append(out, p.Optional...)
	return out
}

// FlattenedSize returns the total on-wire byte size of the PEL.
func (p *PEL) FlattenedSize() int {
	total := 0
	for _, s := range p.Sections() {
		total += s.FlattenedSize()
	}
	return total
}

// Flatten serializes the PEL to w in on-wire order.
func (p *PEL) Flatten(w *stream.Stream) {
	for _, s := range p.Sections() {
		s.Flatten(w)
	}
}

// Bytes returns the flattened PEL as a standalone byte slice.
func (p *PEL) Bytes() []byte {
	w := stream.NewWriter(p.FlattenedSize())
	p.Flatten(w)
	return w.Bytes()
}

// Valid reports whether every section making up the PEL parsed/constructed
// successfully (spec §4.2).
func (p *PEL) Valid() bool {
	if !p.PrivateHeader.Valid() || !p.UserHeader.Valid() {
		return false
	}
	for _, s := range p.Optional {
		if !s.Valid() {
			return false
		}
	}
	return true
}

// ID returns the PEL's own log id (the PrivateHeader ID field).
func (p *PEL) ID() uint32 { return p.PrivateHeader.ID }

// JSON returns a human-facing dump of the whole PEL: the mandatory
// PrivateHeader/UserHeader JSON under "privateHeader"/"userHeader", an
// "eventId" field, and a "sections" map holding each optional section's own
// JSON() keyed by its section id in hex (e.g. "0x5053" for the primary
// SRC), mirroring how `peltool -f` renders a PEL one section at a time. A
// later optional section with the same id replaces an earlier one in the map.
func (p *PEL) JSON() map[string]any {
	out := map[string]any{
		"privateHeader": p.PrivateHeader.JSON(),
		"userHeader":    p.UserHeader.JSON(),
		"eventId":       p.EventID(),
	}
	sections := make(map[string]any, len(p.Optional))
	for _, s := range p.Optional {
		key := fmt.Sprintf("0x%04X", s.SectionHeader().ID)
		sections[key] = s.JSON()
	}
	out["sections"] = sections
	return out
}

// PrimarySRC returns the PEL's primary SRC section, or nil if it carries
// none (a PEL built without WithSRC, e.g. a raw/eSEL passthrough whose
// first section isn't an SRC).
func (p *PEL) PrimarySRC() *section.SRC {
	for _, s := range p.Optional {
		if src, ok := s.(*section.SRC); ok {
			return src
		}
	}
	return nil
}

// EventID formats the PEL's primary SRC as the symptom string OpenBMC's
// event log surface exposes: the ASCII reference string with trailing
// spaces trimmed, followed by each hex word as a space-separated 8-digit
// uppercase hex number (manager.cpp's getEventId). Returns "" if the PEL
// has no primary SRC.
func (p *PEL) EventID() string {
	src := p.PrimarySRC()
	if src == nil {
		return ""
	}
	refcode := strings.TrimRight(src.AsciiString, " ")
	var b strings.Builder
	b.WriteString(refcode)
	for _, w := range src.HexWords {
		fmt.Fprintf(&b, " %08X", w)
	}
	return sanitizeEventID(b.String())
}

// sanitizeEventID replaces any byte outside printable ASCII (except tab
// and newline) with a space, mirroring manager.cpp's sanitizeFieldForDBus
// so the string is always safe to carry over D-Bus-shaped surfaces.
func sanitizeEventID(s string) string {
	b := []byte(s)
	for i, c := range b {
		if (c < ' ' || c > '~') && c != '\n' && c != '\t' {
			b[i] = ' '
		}
	}
	return string(b)
}

// FromBytes reconstitutes a PEL from a raw buffer previously produced by
// Flatten (spec §4.2): PrivateHeader and UserHeader are mandatory and must
// come first, in order; everything after is read via the section factory
// until the buffer is exhausted or a section fails to parse (the invalid
// section is kept as the last optional section).
func FromBytes(data []byte) (*PEL, error) {
	r := stream.New(data)

	ph := section.NewPrivateHeaderFromStream(r)
	if !ph.Valid() {
		return nil, fmt.Errorf("assembler: invalid or missing PrivateHeader")
	}
	uh := section.NewUserHeaderFromStream(r)
	if !uh.Valid() {
		return nil, fmt.Errorf("assembler: invalid or missing UserHeader")
	}

	p := &PEL{PrivateHeader: ph, UserHeader: uh}
	for r.Remaining() > 0 {
		sec := section.NewSectionFromStream(r)
		p.Optional = append(p.Optional, sec)
		if !sec.Valid() {
			break
		}
	}
	return p, nil
}

// SynthesisParams carries everything FromRegistryEntry needs beyond the
// entry/additional-data pair: log identity and creator context (spec §4.4).
type SynthesisParams struct {
	LogID          uint32
	OBMCLogID      uint32
	Creator        section.CreatorID
	CreatorVersion string
	MfgMode        bool

	MachineTypeModel string
	MachineSerial    string
	ServerFWVersion  string
	SubsystemFWVer   string
}

// FromRegistryEntry synthesizes a new PEL from a message-registry entry,
// the additional data the caller attached to the event, and the system
// context needed to resolve severity/callout overrides (spec §4.4). It is
// the registry-driven twin of FromBytes.
func FromRegistryEntry(entry *registry.Entry, additionalData map[string]string, di srcbuilder.DataInterface, params SynthesisParams) (*PEL, error) {
	src, err := srcbuilder.Build(entry, additionalData, di)
	if err != nil {
		return nil, fmt.Errorf("assembler: build SRC: %w", err)
	}

	cls, err := entry.Resolve(di.SystemType(), params.MfgMode)
	if err != nil {
		return nil, fmt.Errorf("assembler: resolve classification: %w", err)
	}

	now := section.NewBCDTime(time.Now())
	ph := section.NewPrivateHeader(params.LogID, params.OBMCLogID, params.Creator, now, now, params.CreatorVersion)

	uh := section.NewUserHeader(cls.Subsystem, cls.Severity, cls.EventType, cls.ActionFlags)
	uh.FixEventType(entry.EventType != "")

	symptomID := section.BuildSymptomID(src.AsciiString, src.HexWords[:], entry.SRC.SymptomIDFields)
	euh := section.NewExtendedUserHeader(
		params.MachineTypeModel, params.MachineSerial, params.ServerFWVersion, params.SubsystemFWVer, now, symptomID,
	)

	return New(ph, uh, WithSRC(src), WithExtendedUserHeader(euh))
}
