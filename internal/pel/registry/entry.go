package registry

import (
	"encoding/json"

	"github.com/openbmc/pel-logd/internal/pel/section"
)

// SeverityOverride lets an entry specify a severity for a particular system
// type, falling back to the entry's Severity when the reporting system
// doesn't match any override (spec §4.3, registry.cpp getSeverity).
type SeverityOverride struct {
	System string `json:"system"`
	Value  string `json:"severity"`
}

// SRCMeta is the registry-declared SRC shape for an entry: its reason code,
// its two-character SRC type, the hex words it sets, and which hex words
// feed the symptom id (spec §3, §4.4). The subsystem stamped into the ASCII
// string comes from the entry's classification, not from SRCMeta.
type SRCMeta struct {
	ReasonCode      uint16 `json:"reason_code"`
	Type            string `json:"type"` // two-char SRC type, e.g. "BD"
	SymptomIDFields []int  `json:"symptom_id_fields,omitempty"`

	// Words are static hex-word values (word number "2".."9" -> value),
	// applied before WordsFromAD so an AD-sourced word always wins.
	Words map[string]uint32 `json:"words,omitempty"`

	// WordsFromAD maps a hex-word number (as a string, "2".."9") to the
	// name of an additional-data key whose value, parsed with base-0 rules
	// (decimal, or hex with a "0x" prefix), becomes that word (spec §4.4's
	// debug-data accumulation).
	WordsFromAD map[string]string `json:"words_from_ad,omitempty"`

	// CheckstopFlag and DeconfigFlag set the corresponding hex word 5
	// error-status bits unconditionally for this entry (src.cpp's
	// regEntry.src.checkstopFlag / deconfigFlag).
	CheckstopFlag bool `json:"checkstop,omitempty"`
	DeconfigFlag  bool `json:"deconfig,omitempty"`

	// TerminateFWFlag sets the hex word 5 "terminate firmware" bit,
	// generalizing checkstopFlag/deconfigFlag's fixed-at-registry-time
	// wiring to the third error-status bit src.cpp's getJSON reads back
	// (spec §3's SRC error-status bits).
	TerminateFWFlag bool `json:"terminate_fw,omitempty"`
}

// Documentation carries the human-facing strings the registry attaches to an
// entry. MessageArgSources indexes into the caller-supplied additional data
// to format Message (spec §4.3).
type Documentation struct {
	Description    string   `json:"description"`
	Message        string   `json:"message"`
	MessageArgSources []string `json:"message_arg_sources,omitempty"`
}

// JournalCapture is the registry's journal-capture request (journal_capture.cpp
// in original_source). It is parsed and kept on the Entry only: the
// assembler does not read it, so no journal snapshot is attached to a PEL.
type JournalCapture struct {
	NumLines int      `json:"num_lines,omitempty"`
	Units    []string `json:"units,omitempty"`
}

// Entry is one parsed message-registry record (spec §4.3).
type Entry struct {
	Name        string   `json:"name"`
	Subsystem   string   `json:"subsystem"`
	Severity    string   `json:"severity,omitempty"`
	Severities  []SeverityOverride `json:"severities,omitempty"`
	ActionFlags []string `json:"action_flags,omitempty"`
	EventType   string   `json:"event_type,omitempty"`

	MfgSeverity    string   `json:"mfg_severity,omitempty"`
	MfgActionFlags []string `json:"mfg_action_flags,omitempty"`

	SRC           SRCMeta        `json:"src"`
	Documentation Documentation  `json:"documentation"`

	// Callouts is kept opaque: its shape varies by whether it's keyed by
	// additional-data value or by system type (spec §4.3), and the builder
	// resolves it with the raw caller context rather than a fixed schema.
	Callouts               json.RawMessage `json:"callouts,omitempty"`
	CalloutsWhenNoADMatch  json.RawMessage `json:"callouts_when_no_ad_match,omitempty"`

	Journal *JournalCapture `json:"journal_capture,omitempty"`
}

// resolvedClassification is what Resolve produces: the concrete UserHeader
// fields to stamp, after applying system-type and manufacturing-mode
// overrides.
type resolvedClassification struct {
	Subsystem   section.Subsystem
	Severity    section.Severity
	EventType   section.EventType
	ActionFlags uint16
}

// Resolve computes an Entry's UserHeader classification for a given system
// type string (e.g. the BMC's compatible system name) and manufacturing-mode
// flag (spec §4.3's severity/action-flag override rules).
func (e *Entry) Resolve(systemType string, mfgMode bool) (resolvedClassification, error) {
	var out resolvedClassification

	sub, err := lookupSubsystem(e.Subsystem)
	if err != nil {
		return out, err
	}
	out.Subsystem = sub

	sevName := e.Severity
	for _, ov := range e.Severities {
		if ov.System == systemType {
			sevName = ov.Value
			break
		}
	}
	if mfgMode && e.MfgSeverity != "" {
		sevName = e.MfgSeverity
	}
	sev, err := lookupSeverity(sevName)
	if err != nil {
		return out, err
	}
	out.Severity = sev

	flagNames := e.ActionFlags
	if mfgMode && len(e.MfgActionFlags) > 0 {
		flagNames = e.MfgActionFlags
	}
	flags, err := lookupActionFlags(flagNames)
	if err != nil {
		return out, err
	}
	out.ActionFlags = flags

	if e.EventType != "" {
		et, err := lookupEventType(e.EventType)
		if err != nil {
			return out, err
		}
		out.EventType = et
	}

	return out, nil
}
