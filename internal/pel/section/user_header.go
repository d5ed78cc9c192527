package section

import (
	"github.com/openbmc/pel-logd/internal/stream"
)

const UserHeaderVersion uint8 = 0x01

// UserHeaderSize is the fixed flattened size of a UserHeader.
const UserHeaderSize = 24

// Subsystem is the reporting subsystem byte (spec §3, pel_values.cpp).
type Subsystem uint8

const (
	SubsystemBMC         Subsystem = 0x37
	SubsystemPowerSupply Subsystem = 0x40
	SubsystemProcessor   Subsystem = 0x10
	SubsystemMemory      Subsystem = 0x14
	SubsystemIOSubsystem Subsystem = 0x1B
	SubsystemOther       Subsystem = 0x70
)

// Severity values (spec §3, §4.4 "critical, system terminating" = 0x51).
type Severity uint8

const (
	SeverityInformational        Severity = 0x00
	SeverityRecovered            Severity = 0x10
	SeverityPredictive           Severity = 0x20
	SeverityUnrecoverable        Severity = 0x40
	SeverityCritical             Severity = 0x50
	SeverityCriticalSystemTerm   Severity = 0x51
	SeveritySymptomRecovered     Severity = 0x11
	SeveritySymptomPredictive    Severity = 0x21
	SeveritySymptomUnrecoverable Severity = 0x41
	SeveritySymptomCritical      Severity = 0x71
)

// EventType values.
type EventType uint8

const (
	EventTypeNotApplicable EventType = 0x00
	EventTypeInformational EventType = 0x01
	EventTypeMisc          EventType = 0x08
)

// EventScope values.
type EventScope uint8

const (
	EventScopeSingle  EventScope = 0x01
	EventScopeEntire  EventScope = 0x03
)

// Action flag bits (16-bit bitfield, spec §3).
const (
	ActionFlagServiceAction    uint16 = 0x8000
	ActionFlagReport           uint16 = 0x4000
	ActionFlagDontReport       uint16 = 0x0800 // hidden flag referenced by §4.6 isServiceableSev
	ActionFlagHWCallout        uint16 = 0x2000
	ActionFlagCallHome         uint16 = 0x0200
	ActionFlagTermNeeded       uint16 = 0x1000
	ActionFlagHidden           uint16 = ActionFlagDontReport
)

// TransmissionState tracks delivery status to a consumer (spec GLOSSARY).
type TransmissionState uint8

const (
	TransNew  TransmissionState = 0x00
	TransSent TransmissionState = 0x01
	TransAcked TransmissionState = 0x02
)

// UserHeader carries the classification fields every PEL needs (spec §3).
type UserHeader struct {
	hdr Header

	Subsystem         Subsystem
	EventScope        EventScope
	Severity          Severity
	EventType         EventType
	ActionFlags       uint16
	HostTransState    TransmissionState
	HMCTransState     TransmissionState

	valid bool
}

func NewUserHeader(sub Subsystem, sev Severity, et EventType, actionFlags uint16) *UserHeader {
	return &UserHeader{
		hdr: Header{
			ID:      IDUserHeader,
			Size:    UserHeaderSize,
			Version: UserHeaderVersion,
		},
		Subsystem:   sub,
		EventScope:  EventScopeSingle,
		Severity:    sev,
		EventType:   et,
		ActionFlags: actionFlags,
		valid:       true,
	}
}

func (u *UserHeader) SectionHeader() Header { return u.hdr }
func (u *UserHeader) Valid() bool            { return u.valid }
func (u *UserHeader) FlattenedSize() int     { return UserHeaderSize }

func (u *UserHeader) Flatten(w *stream.Stream) {
	u.hdr.Flatten(w)
	w.WriteU8(uint8(u.Subsystem))
	w.WriteU8(uint8(u.EventScope))
	w.WriteU8(uint8(u.Severity))
	w.WriteU8(uint8(u.EventType))
	w.WritePad(4) // reserved
	w.WriteU16(u.ActionFlags)
	w.WritePad(2) // reserved
	w.WriteU8(uint8(u.HostTransState))
	w.WriteU8(uint8(u.HMCTransState))
	w.WritePad(2) // reserved
}

func NewUserHeaderFromStream(r *stream.Stream) *UserHeader {
	u := &UserHeader{}
	hdr, err := ReadHeader(r)
	if err != nil {
		return u
	}
	u.hdr = hdr
	if !hdr.Valid() || hdr.ID != IDUserHeader {
		return u
	}
	sub, err := r.ReadU8()
	if err != nil {
		return u
	}
	scope, err := r.ReadU8()
	if err != nil {
		return u
	}
	sev, err := r.ReadU8()
	if err != nil {
		return u
	}
	et, err := r.ReadU8()
	if err != nil {
		return u
	}
	if _, err := r.ReadN(4); err != nil {
		return u
	}
	af, err := r.ReadU16()
	if err != nil {
		return u
	}
	if _, err := r.ReadN(2); err != nil {
		return u
	}
	hts, err := r.ReadU8()
	if err != nil {
		return u
	}
	hmcs, err := r.ReadU8()
	if err != nil {
		return u
	}
	if _, err := r.ReadN(2); err != nil {
		return u
	}

	u.Subsystem = Subsystem(sub)
	u.EventScope = EventScope(scope)
	u.Severity = Severity(sev)
	u.EventType = EventType(et)
	u.ActionFlags = af
	u.HostTransState = TransmissionState(hts)
	u.HMCTransState = TransmissionState(hmcs)
	u.valid = u.validate()
	return u
}

// validate checks the header version only. The informational/recovered
// event-type invariant (spec §3) is not checked on unflatten; FixEventType
// applies it when a PEL is built.
func (u *UserHeader) validate() bool {
	if u.hdr.Version != UserHeaderVersion {
		return false
	}
	return true
}

// FixEventType applies the §3 invariant: informational/recovered severities
// force an informational event type, unless overridden is true.
func (u *UserHeader) FixEventType(overridden bool) {
	if overridden {
		return
	}
	if u.Severity == SeverityInformational || u.Severity == SeverityRecovered {
		u.EventType = EventTypeInformational
	}
}

func (u *UserHeader) JSON() map[string]any {
	return map[string]any{
		"subsystem":   u.Subsystem,
		"severity":    u.Severity,
		"eventType":   u.EventType,
		"actionFlags": u.ActionFlags,
	}
}
