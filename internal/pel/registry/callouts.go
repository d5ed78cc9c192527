package registry

import (
	"encoding/json"
	"errors"

	"github.com/openbmc/pel-logd/internal/pel/section"
)

// ErrNoCallouts is returned when neither the additional-data-keyed lookup
// nor the system-scoped fallback produces any callout for the current
// context (spec §4.3).
var ErrNoCallouts = errors.New("registry: no callouts resolved for this context")

// CalloutSpec is one entry in a registry callout list. System/Systems scope
// the entry to a reporting system type; an entry with neither is the
// fallback-of-last-resort within its list (see the System/Systems mixing
// rule in DESIGN.md). Exported so srcbuilder can apply symbolic-FRU-name
// translation and trusted-location resolution, which need additional-data
// and DataInterface access this package doesn't have (spec §4.4).
type CalloutSpec struct {
	System  string   `json:"system,omitempty"`
	Systems []string `json:"systems,omitempty"`

	Priority string `json:"priority"`
	LocCode  string `json:"loc_code,omitempty"`

	Procedure          string `json:"procedure,omitempty"`
	SymbolicFRU        string `json:"symbolic_fru,omitempty"`
	SymbolicFRUTrusted bool   `json:"symbolic_fru_trusted,omitempty"`

	PartNumber   string `json:"part_number,omitempty"`
	CCIN         string `json:"ccin,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// adKeyedCallouts is the additional-data-keyed registry callout shape: the
// caller's additional-data entry named ADName selects one of ADValues.
type adKeyedCallouts struct {
	ADName   string                    `json:"ad_name"`
	ADValues map[string][]CalloutSpec  `json:"ad_values"`
}

// ResolveCallouts implements the spec §4.3 three-step algorithm: try the
// additional-data-keyed form first, then a flat system-scoped list, falling
// back to fallback (the entry's CalloutsWhenNoADMatch) when neither yields a
// match.
func ResolveCallouts(raw, fallback json.RawMessage, systemType string, additionalData map[string]string) ([]*section.Callout, error) {
	specs, err := ResolveCalloutSpecs(raw, fallback, systemType, additionalData)
	if err != nil {
		return nil, err
	}
	return buildCallouts(specs)
}

// ResolveCalloutSpecs resolves the raw registry callout JSON for this entry
// and context, without translating the result into section.Callout values.
// srcbuilder uses this directly when it needs to apply symbolic-FRU-name
// translation or trusted-location resolution before building the final
// callouts (spec §4.4).
func ResolveCalloutSpecs(raw, fallback json.RawMessage, systemType string, additionalData map[string]string) ([]CalloutSpec, error) {
	specs, err := resolveSpecs(raw, systemType, additionalData)
	if err == nil {
		return specs, nil
	}
	if len(fallback) == 0 {
		return nil, ErrNoCallouts
	}
	return resolveSpecs(fallback, systemType, additionalData)
}

func resolveSpecs(raw json.RawMessage, systemType string, additionalData map[string]string) ([]CalloutSpec, error) {
	if len(raw) == 0 {
		return nil, ErrNoCallouts
	}

	var keyed adKeyedCallouts
	if err := json.Unmarshal(raw, &keyed); err == nil && keyed.ADName != "" {
		val, present := additionalData[keyed.ADName]
		if !present {
			return nil, ErrNoCallouts
		}
		list, ok := keyed.ADValues[val]
		if !ok {
			return nil, ErrNoCallouts
		}
		return selectBySystem(list, systemType), nil
	}

	var flat []CalloutSpec
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	selected := selectBySystem(flat, systemType)
	if len(selected) == 0 {
		return nil, ErrNoCallouts
	}
	return selected, nil
}

// selectBySystem applies the System/Systems mixing rule: an entry whose
// System equals systemType, or whose Systems contains systemType, is
// selected. If nothing matches, entries that name no system at all (the
// fallback-of-last-resort) are selected instead.
func selectBySystem(list []CalloutSpec, systemType string) []CalloutSpec {
	var matched, unscoped []CalloutSpec
	for _, c := range list {
		scoped := c.System != "" || len(c.Systems) > 0
		if !scoped {
			unscoped = append(unscoped, c)
			continue
		}
		if c.System == systemType {
			matched = append(matched, c)
			continue
		}
		for _, s := range c.Systems {
			if s == systemType {
				matched = append(matched, c)
				break
			}
		}
	}
	if len(matched) > 0 {
		return matched
	}
	return unscoped
}

func buildCallouts(specs []CalloutSpec) ([]*section.Callout, error) {
	out := make([]*section.Callout, 0, len(specs))
	for _, s := range specs {
		co, err := BuildCallout(s, "", "")
		if err != nil {
			return nil, err
		}
		out = append(out, co)
	}
	return out, nil
}

// BuildCallout builds a single section.Callout from a resolved registry
// spec (src.cpp's addRegistryCallout). symbolicFRU, when non-empty,
// overrides the raw FRU code stamped for a SymbolicFRU spec -- srcbuilder
// resolves the registry's friendly name via LookupSymbolicFRU before
// calling this. trustedLocCode, when non-empty, overrides the callout's
// location code for a SymbolicFRUTrusted spec with the inventory path's
// resolved location (src.cpp's "first trusted symbolic FRU callout gets
// the inventory path's location code" rule).
func BuildCallout(s CalloutSpec, symbolicFRU, trustedLocCode string) (*section.Callout, error) {
	pri, err := lookupPriority(s.Priority)
	if err != nil {
		return nil, err
	}
	co := &section.Callout{
		Priority:     pri,
		LocationCode: s.LocCode,
	}
	switch {
	case s.Procedure != "":
		co.FRU = &section.FRUIdentity{
			Kind:                 section.FRUKindProcedure,
			MaintenanceProcedure: s.Procedure,
		}
	case s.SymbolicFRU != "":
		kind := section.FRUKindSymbolic
		fru := s.SymbolicFRU
		if symbolicFRU != "" {
			fru = symbolicFRU
		}
		if s.SymbolicFRUTrusted {
			kind = section.FRUKindSymbolicTrusted
			if trustedLocCode != "" {
				co.LocationCode = trustedLocCode
			}
		}
		co.FRU = &section.FRUIdentity{
			Kind:        kind,
			SymbolicFRU: fru,
		}
	case s.PartNumber != "" || s.CCIN != "" || s.SerialNumber != "":
		co.FRU = &section.FRUIdentity{
			Kind:         section.FRUKindHardware,
			PartNumber:   s.PartNumber,
			CCIN:         s.CCIN,
			SerialNumber: s.SerialNumber,
		}
	}
	return co, nil
}
