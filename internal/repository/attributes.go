package repository

import (
	"github.com/openbmc/pel-logd/internal/pel/section"
)

// LogID is the bijective key the repository indexes PELs by: a PEL always
// has a platform log id (PELID), and may additionally carry the host's own
// OpenBMC-side log id once one is assigned (spec GLOSSARY).
type LogID struct {
	PELID  uint32
	OBMCID uint32
}

// PELAttributes is the in-memory metadata the repository keeps per PEL,
// independent of the on-disk file contents, so pruning and lookups never
// need to re-parse a PEL from disk (spec §5; ported from repository.hpp's
// PELAttributes).
type PELAttributes struct {
	Path        string
	Creator     section.CreatorID
	Severity    section.Severity
	ActionFlags uint16
	SizeOnDisk  int64

	HostState section.TransmissionState
	HMCState  section.TransmissionState

	// EventID is the primary SRC's symptom string (manager.cpp's
	// getEventId): the trimmed ASCII reference string followed by each hex
	// word as an 8-digit hex number, e.g. "BD612030 00000055 00000010 ..."
	// with all eight hex words present.
	// Empty for a PEL with no primary SRC.
	EventID string
}

// isServiceableSev reports whether a is "serviceable" for sizing/pruning
// purposes: predictive/unrecoverable/critical severities always are;
// recovered/symptom_recovered are unless explicitly hidden; the remaining
// symptom severities always are (ported from Repository::isServiceableSev).
func isServiceableSev(a *PELAttributes) bool {
	sevType := a.Severity & 0xF0
	switch sevType {
	case section.Severity(0x20), section.Severity(0x40), section.Severity(0x50):
		return true
	}
	if (sevType == section.Severity(0x10) || a.Severity == section.SeveritySymptomRecovered) &&
		a.ActionFlags&section.ActionFlagHidden == 0 {
		return true
	}
	switch a.Severity {
	case section.SeveritySymptomPredictive, section.SeveritySymptomUnrecoverable, section.SeveritySymptomCritical:
		return true
	}
	return false
}

// repoSizes tracks running byte totals per category, mirroring
// Repository::_sizes so size-limit checks are O(1).
type repoSizes struct {
	total             int64
	bmcInfo           int64
	bmcServiceable    int64
	nonBMCInfo        int64
	nonBMCServiceable int64
}

func (s *repoSizes) apply(a *PELAttributes, added bool) {
	delta := a.SizeOnDisk
	if !added {
		delta = -delta
	}
	s.total = clampNonNeg(s.total + delta)

	bmc := a.Creator == section.CreatorBMC
	serviceable := isServiceableSev(a)

	switch {
	case bmc && !serviceable:
		s.bmcInfo = clampNonNeg(s.bmcInfo + delta)
	case bmc && serviceable:
		s.bmcServiceable = clampNonNeg(s.bmcServiceable + delta)
	case !bmc && !serviceable:
		s.nonBMCInfo = clampNonNeg(s.nonBMCInfo + delta)
	case !bmc && serviceable:
		s.nonBMCServiceable = clampNonNeg(s.nonBMCServiceable + delta)
	}
}

func clampNonNeg(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
