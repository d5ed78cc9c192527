// Package registry loads the message-registry JSON and resolves event
// names/reason codes to entry descriptors, including callout resolution
// (spec §4.3). The callout JSON itself is kept opaque (json.RawMessage)
// per the design note in spec §9: resolving it eagerly into a rich schema
// would trade away the flexibility the registry format depends on.
package registry

import (
	"fmt"

	"github.com/openbmc/pel-logd/internal/pel/section"
)

// ErrInvalidRegistryValue is returned when an enumerated name in the
// registry JSON does not match a known value table entry (spec §4.3, §7).
type ErrInvalidRegistryValue struct {
	Field string
	Value string
}

func (e *ErrInvalidRegistryValue) Error() string {
	return fmt.Sprintf("registry: invalid %s value %q", e.Field, e.Value)
}

// subsystemNames maps registry subsystem names to their SRC byte value,
// trimmed to the subset the core touches (ported from pel_values.cpp, see
// DESIGN.md / SPEC_FULL.md §C.1).
var subsystemNames = map[string]section.Subsystem{
	"bmc":          section.SubsystemBMC,
	"power_supply": section.SubsystemPowerSupply,
	"processor":    section.SubsystemProcessor,
	"memory":       section.SubsystemMemory,
	"io_subsystem": section.SubsystemIOSubsystem,
	"other":        section.SubsystemOther,
}

// severityNames maps registry severity names to UserHeader severity bytes.
var severityNames = map[string]section.Severity{
	"informational":         section.SeverityInformational,
	"recovered":             section.SeverityRecovered,
	"predictive":            section.SeverityPredictive,
	"unrecoverable":         section.SeverityUnrecoverable,
	"critical":              section.SeverityCritical,
	"critical_system_term":  section.SeverityCriticalSystemTerm,
	"symptom_recovered":     section.SeveritySymptomRecovered,
	"symptom_predictive":    section.SeveritySymptomPredictive,
	"symptom_unrecoverable": section.SeveritySymptomUnrecoverable,
	"symptom_critical":      section.SeveritySymptomCritical,
}

// actionFlagNames maps registry action-flag names to their bit value.
var actionFlagNames = map[string]uint16{
	"service_action": section.ActionFlagServiceAction,
	"report":         section.ActionFlagReport,
	"dont_report":    section.ActionFlagDontReport,
	"hw_callout":     section.ActionFlagHWCallout,
	"call_home":      section.ActionFlagCallHome,
	"term_needed":    section.ActionFlagTermNeeded,
}

// eventTypeNames maps registry event-type names to UserHeader event types.
var eventTypeNames = map[string]section.EventType{
	"not_applicable": section.EventTypeNotApplicable,
	"informational":  section.EventTypeInformational,
	"misc":           section.EventTypeMisc,
}

// priorityNames maps registry priority characters to the callout priority
// byte. Kept as a table (rather than a direct cast) so an unrecognized
// priority string fails with ErrInvalidRegistryValue instead of silently
// truncating.
var priorityNames = map[string]section.CalloutPriority{
	"H": section.PriorityHigh,
	"M": section.PriorityMedium,
	"A": section.PriorityMediumGroupA,
	"B": section.PriorityMediumGroupB,
	"C": section.PriorityMediumGroupC,
	"L": section.PriorityLow,
}

// symbolicFRUNames maps a registry-friendly symbolic FRU name to the raw
// FRU callout code stamped into the callout's FRU identity
// (src.cpp's pv::symbolicFRUs translation table, restricted to the subset
// this registry declares).
var symbolicFRUNames = map[string]string{
	"service_docs":     "SVCDOCS",
	"next_level_support": "NEXTLVL",
	"bmc_code":         "BMC_CODE",
	"power_supply":     "PS_FRU",
}

// LookupSymbolicFRU translates a registry symbolic FRU name to its raw FRU
// code. Exported for srcbuilder's callout resolution.
func LookupSymbolicFRU(name string) (string, error) {
	v, ok := symbolicFRUNames[name]
	if !ok {
		return "", &ErrInvalidRegistryValue{Field: "symbolic_fru", Value: name}
	}
	return v, nil
}

func lookupSubsystem(name string) (section.Subsystem, error) {
	v, ok := subsystemNames[name]
	if !ok {
		return 0, &ErrInvalidRegistryValue{Field: "subsystem", Value: name}
	}
	return v, nil
}

// ValidSubsystemByte reports whether b is one of the registry's known
// subsystem byte values. Used by srcbuilder to validate a PEL_SUBSYSTEM
// additional-data override before stamping it over the ASCII string's "SS"
// field (src.cpp's setSubsystem).
func ValidSubsystemByte(b section.Subsystem) bool {
	for _, v := range subsystemNames {
		if v == b {
			return true
		}
	}
	return false
}

func lookupSeverity(name string) (section.Severity, error) {
	v, ok := severityNames[name]
	if !ok {
		return 0, &ErrInvalidRegistryValue{Field: "severity", Value: name}
	}
	return v, nil
}

func lookupActionFlags(names []string) (uint16, error) {
	var flags uint16
	for _, n := range names {
		v, ok := actionFlagNames[n]
		if !ok {
			return 0, &ErrInvalidRegistryValue{Field: "action_flags", Value: n}
		}
		flags |= v
	}
	return flags, nil
}

func lookupEventType(name string) (section.EventType, error) {
	v, ok := eventTypeNames[name]
	if !ok {
		return 0, &ErrInvalidRegistryValue{Field: "event_type", Value: name}
	}
	return v, nil
}

func lookupPriority(name string) (section.CalloutPriority, error) {
	return LookupPriority(name)
}

// LookupPriority maps a registry priority character to its callout priority
// byte. Exported for srcbuilder's device-callout resolution, which shares
// the same value table.
func LookupPriority(name string) (section.CalloutPriority, error) {
	v, ok := priorityNames[name]
	if !ok {
		return 0, &ErrInvalidRegistryValue{Field: "priority", Value: name}
	}
	return v, nil
}
