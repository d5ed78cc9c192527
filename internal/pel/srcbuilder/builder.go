// Package srcbuilder assembles a primary SRC section from a registry entry
// plus the caller's additional data, following the construction algorithm
// in spec §4.4 (grounded on src.cpp in original_source).
package srcbuilder

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/openbmc/pel-logd/internal/pel/registry"
	"github.com/openbmc/pel-logd/internal/pel/section"
)

// progressCodeOffset and progressCodeLen locate the 8 ASCII hex digits a raw
// progress SRC buffer carries at a fixed offset (src.cpp's getProgressCode).
const (
	progressCodeOffset = 40
	progressCodeLen    = 8
)

// DataInterface supplies the system context the builder needs to resolve
// per-system severity/callouts, device callouts, and hardware-inventory
// fields, mirroring the DataInterface abstraction in original_source's pel
// code (kept as a Go interface so tests can supply a fake rather than a
// real D-Bus/sysfs/VPD lookup).
type DataInterface interface {
	// SystemType returns the compatible system name used for severity and
	// callout overrides (e.g. "rainier").
	SystemType() string
	// CompatibleSystemNames returns the full compatible-names list used to
	// locate a device-callout JSON file, most to least specific.
	CompatibleSystemNames() []string

	// MotherboardCCIN returns the 4-character customer card identification
	// number stamped into hex word 3 of a hardware-creator SRC, or "" if
	// unknown (src.cpp's setMotherboardCCIN).
	MotherboardCCIN() string
	// RawProgressSRC returns the raw bytes of the last-known boot progress
	// SRC, or nil if none is available. The 8 ASCII hex digits at
	// progressCodeOffset become hex word 4 (src.cpp's getProgressCode).
	RawProgressSRC() []byte
	// GetLocationCode resolves an inventory path (as carried in a
	// CALLOUT_INVENTORY_PATH additional-data value) to its physical
	// location code.
	GetLocationCode(inventoryPath string) (string, error)
	// GetHWCalloutFields resolves an inventory path to the part number,
	// CCIN, and serial number a hardware FRU callout needs.
	GetHWCalloutFields(inventoryPath string) (partNumber, ccin, serialNumber string, err error)
}

// jsonCallout is the caller-supplied callout shape carried in the
// CALLOUT_JSON additional-data value: a JSON array of callouts the caller
// resolved itself rather than leaving to the registry (src.cpp's
// addJSONCallouts, ported from util::getJSONCallouts).
type jsonCallout struct {
	Procedure           string `json:"Procedure,omitempty"`
	SymbolicFRU         string `json:"SymbolicFRU,omitempty"`
	TrustedLocationCode bool   `json:"TrustedLocationCode,omitempty"`
	LocationCode        string `json:"LocationCode,omitempty"`
	InventoryPath       string `json:"InventoryPath,omitempty"`
	Priority            string `json:"Priority,omitempty"`
	PartNumber          string `json:"PartNumber,omitempty"`
	CCIN                string `json:"CCIN,omitempty"`
	SerialNumber        string `json:"SerialNumber,omitempty"`
	Deconfigured        bool   `json:"Deconfigured,omitempty"`
	Guarded             bool   `json:"Guarded,omitempty"`
}

// Build constructs an SRC section for entry, given the additional data the
// caller attached to the event being logged. This follows src.cpp's
// constructor step order: classification, ASCII reference string, static
// and AD-sourced hex words (CCIN, progress code, error-status bits, then
// registry/AD words), callouts (inventory hardware callout, registry
// callouts with symbolic-FRU resolution, device callouts, caller-supplied
// JSON callouts), and finally the PEL_SUBSYSTEM override.
func Build(entry *registry.Entry, additionalData map[string]string, di DataInterface) (*section.SRC, error) {
	cls, err := entry.Resolve(di.SystemType(), additionalData["MFG_MODE"] == "1")
	if err != nil {
		return nil, fmt.Errorf("srcbuilder: resolve classification: %w", err)
	}

	src := section.NewSRC(0)
	src.AsciiString = section.BuildAsciiString(entry.SRC.Type, byte(cls.Subsystem), entry.SRC.ReasonCode)

	applyMotherboardCCIN(src, di)
	applyProgressCode(src, di)
	applyErrorStatusBits(src, entry, additionalData)

	if err := applyWords(src, entry, additionalData); err != nil {
		return nil, err
	}

	callouts, err := resolveAllCallouts(src, entry, additionalData, di)
	if err != nil && err != registry.ErrNoCallouts {
		return nil, fmt.Errorf("srcbuilder: resolve callouts: %w", err)
	}
	if len(callouts) > 0 {
		src.Callouts = section.NewCallouts(callouts)
	}

	if err := applySubsystemOverride(src, additionalData); err != nil {
		return nil, err
	}

	return src, nil
}

// applyMotherboardCCIN stamps the motherboard CCIN into the upper 16 bits
// of hex word 3 (src.cpp's setMotherboardCCIN), applied before
// entry.SRC.Words so a registry-declared word 3 still wins.
func applyMotherboardCCIN(src *section.SRC, di DataInterface) {
	ccin := di.MotherboardCCIN()
	if ccin == "" {
		return
	}
	v, err := strconv.ParseUint(ccin, 16, 16)
	if err != nil {
		return
	}
	src.SetHexWord(3, uint32(v)<<16)
}

// applyProgressCode extracts the 8 ASCII hex digits at progressCodeOffset
// from the raw progress SRC and stamps them into hex word 4 (src.cpp's
// getProgressCode/setProgressCode). A nil or too-short buffer leaves word 4
// untouched.
func applyProgressCode(src *section.SRC, di DataInterface) {
	raw := di.RawProgressSRC()
	if len(raw) < progressCodeOffset+progressCodeLen {
		return
	}
	digits := raw[progressCodeOffset : progressCodeOffset+progressCodeLen]
	v, err := strconv.ParseUint(string(digits), 16, 32)
	if err != nil {
		return
	}
	src.SetHexWord(4, uint32(v))
}

// applyErrorStatusBits sets the checkstop/deconfigured/terminate-fw bits in
// hex word 5 from the registry entry's static flags (src.cpp's
// regEntry.src.checkstopFlag/deconfigFlag and the terminate-fw bit read
// back from additional data). The guarded bit is set only by callouts, so
// it is left alone here.
func applyErrorStatusBits(src *section.SRC, entry *registry.Entry, additionalData map[string]string) {
	var bits uint32
	if entry.SRC.CheckstopFlag {
		bits |= section.HexWord5Checkstop
	}
	if entry.SRC.DeconfigFlag {
		bits |= section.HexWord5Deconfigured
	}
	if entry.SRC.TerminateFWFlag || additionalData["TERMINATE_FW"] == "1" {
		bits |= section.HexWord5TerminateFW
	}
	if bits != 0 {
		src.SetHexWord(5, src.HexWord(5)|bits)
	}
}

func applyWords(src *section.SRC, entry *registry.Entry, additionalData map[string]string) error {
	for numStr, v := range entry.SRC.Words {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return fmt.Errorf("srcbuilder: bad word number %q: %w", numStr, err)
		}
		src.SetHexWord(n, v)
	}
	for numStr, adKey := range entry.SRC.WordsFromAD {
		n, err := strconv.Atoi(numStr)
		if err != nil {
			return fmt.Errorf("srcbuilder: bad word number %q: %w", numStr, err)
		}
		raw, ok := additionalData[adKey]
		if !ok {
			continue
		}
		v, err := strconv.ParseUint(raw, 0, 32)
		if err != nil {
			return fmt.Errorf("srcbuilder: additional data %q not numeric: %w", adKey, err)
		}
		src.SetHexWord(n, uint32(v))
	}
	return nil
}

// applySubsystemOverride implements the PEL_SUBSYSTEM additional-data
// override: a caller-supplied subsystem byte, if present and one of the
// registry's known subsystem values, replaces the "SS" pair already
// stamped into the ASCII reference string (src.cpp's setSubsystem).
func applySubsystemOverride(src *section.SRC, additionalData map[string]string) error {
	raw, ok := additionalData["PEL_SUBSYSTEM"]
	if !ok {
		return nil
	}
	v, err := strconv.ParseUint(raw, 16, 8)
	if err != nil {
		return fmt.Errorf("srcbuilder: PEL_SUBSYSTEM %q not a hex byte: %w", raw, err)
	}
	sub := section.Subsystem(v)
	if !registry.ValidSubsystemByte(sub) {
		return fmt.Errorf("srcbuilder: PEL_SUBSYSTEM %q is not a known subsystem value", raw)
	}
	src.AsciiString = section.SetAsciiStringSubsystem(src.AsciiString, byte(sub))
	return nil
}

// resolveAllCallouts implements src.cpp's addCallouts order: a hardware
// callout from CALLOUT_INVENTORY_PATH (unless the first registry callout
// is a trusted symbolic FRU, which takes the inventory path's location
// code for itself instead), then registry-declared callouts with
// symbolic-FRU-name translation, then device-path callouts, then any
// caller-supplied CALLOUT_JSON callouts.
func resolveAllCallouts(src *section.SRC, entry *registry.Entry, additionalData map[string]string, di DataInterface) ([]*section.Callout, error) {
	var out []*section.Callout

	invPath, hasInv := additionalData["CALLOUT_INVENTORY_PATH"]

	specs, specErr := registry.ResolveCalloutSpecs(entry.Callouts, entry.CalloutsWhenNoADMatch, di.SystemType(), additionalData)
	if specErr != nil && specErr != registry.ErrNoCallouts {
		return nil, specErr
	}

	firstTrustsInventory := specErr == nil && len(specs) > 0 && specs[0].SymbolicFRU != "" && specs[0].SymbolicFRUTrusted && hasInv

	if hasInv && !firstTrustsInventory {
		co, err := buildInventoryHardwareCallout(di, invPath, additionalData["CALLOUT_PRIORITY"])
		if err != nil {
			return nil, fmt.Errorf("srcbuilder: inventory callout: %w", err)
		}
		out = append(out, co)
	}

	if specErr == nil {
		for i, s := range specs {
			symbolicFRU := ""
			if s.SymbolicFRU != "" {
				if code, err := registry.LookupSymbolicFRU(s.SymbolicFRU); err == nil {
					symbolicFRU = code
				}
			}
			trustedLoc := ""
			if i == 0 && firstTrustsInventory {
				if loc, err := di.GetLocationCode(invPath); err == nil {
					trustedLoc = loc
				}
			}
			co, err := registry.BuildCallout(s, symbolicFRU, trustedLoc)
			if err != nil {
				return nil, err
			}
			out = append(out, co)
		}
	} else if !hasInv {
		devPath, hasDevPath := additionalData["CALLOUT_DEVICE_PATH"]
		if hasDevPath {
			errnoValue := 0
			if raw, ok := additionalData["ERRNO"]; ok {
				if n, convErr := strconv.Atoi(raw); convErr == nil {
					errnoValue = n
				}
			}
			devCallouts, err := ResolveDeviceCallouts(di.CompatibleSystemNames(), devPath, errnoValue)
			if err != nil && err != registry.ErrNoCallouts {
				return nil, err
			}
			out = append(out, devCallouts...)
		}
	}

	jsonCallouts, err := resolveJSONCallouts(src, additionalData, di)
	if err != nil {
		return nil, err
	}
	out = append(out, jsonCallouts...)

	if len(out) == 0 {
		return nil, registry.ErrNoCallouts
	}
	return out, nil
}

// buildInventoryHardwareCallout resolves invPath via the DataInterface's
// inventory lookups into a hardware FRU callout (src.cpp's
// addInventoryCallout).
func buildInventoryHardwareCallout(di DataInterface, invPath, priority string) (*section.Callout, error) {
	if priority == "" {
		priority = "H"
	}
	pri, err := registry.LookupPriority(priority)
	if err != nil {
		return nil, err
	}
	loc, err := di.GetLocationCode(invPath)
	if err != nil {
		return nil, err
	}
	pn, ccin, sn, err := di.GetHWCalloutFields(invPath)
	if err != nil {
		return nil, err
	}
	return &section.Callout{
		Priority:     pri,
		LocationCode: loc,
		FRU: &section.FRUIdentity{
			Kind:         section.FRUKindHardware,
			PartNumber:   pn,
			CCIN:         ccin,
			SerialNumber: sn,
		},
	}, nil
}

// resolveJSONCallouts parses the CALLOUT_JSON additional-data value, if
// present, into caller-supplied callouts (src.cpp's addJSONCallouts). Each
// callout can independently mark the SRC as carrying a deconfigured or
// guarded FRU via hex word 5's error-status bits -- applyErrorStatusBits
// only covers the registry-declared bits, so those are folded in here.
func resolveJSONCallouts(src *section.SRC, additionalData map[string]string, di DataInterface) ([]*section.Callout, error) {
	raw, ok := additionalData["CALLOUT_JSON"]
	if !ok || raw == "" {
		return nil, nil
	}
	var entries []jsonCallout
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("srcbuilder: parse CALLOUT_JSON: %w", err)
	}

	out := make([]*section.Callout, 0, len(entries))
	for _, e := range entries {
		priority := e.Priority
		if priority == "" {
			priority = "M"
		}
		pri, err := registry.LookupPriority(priority)
		if err != nil {
			return nil, err
		}
		locCode := e.LocationCode
		if locCode == "" && e.InventoryPath != "" {
			if loc, err := di.GetLocationCode(e.InventoryPath); err == nil {
				locCode = loc
			}
		}
		co := &section.Callout{Priority: pri, LocationCode: locCode}
		switch {
		case e.Procedure != "":
			co.FRU = &section.FRUIdentity{Kind: section.FRUKindProcedure, MaintenanceProcedure: e.Procedure}
		case e.SymbolicFRU != "":
			kind := section.FRUKindSymbolic
			if e.TrustedLocationCode {
				kind = section.FRUKindSymbolicTrusted
			}
			co.FRU = &section.FRUIdentity{Kind: kind, SymbolicFRU: e.SymbolicFRU}
		case e.PartNumber != "" || e.CCIN != "" || e.SerialNumber != "":
			co.FRU = &section.FRUIdentity{
				Kind:         section.FRUKindHardware,
				PartNumber:   e.PartNumber,
				CCIN:         e.CCIN,
				SerialNumber: e.SerialNumber,
			}
		}
		var bits uint32
		if e.Deconfigured {
			bits |= section.HexWord5Deconfigured
		}
		if e.Guarded {
			bits |= section.HexWord5Guarded
		}
		if bits != 0 {
			src.SetHexWord(5, src.HexWord(5)|bits)
		}
		out = append(out, co)
	}
	return out, nil
}
