package srcbuilder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/openbmc/pel-logd/internal/pel/registry"
	"github.com/openbmc/pel-logd/internal/pel/section"
)

// basePath and debugPath mirror device_callouts.cpp's read-only data path
// and its debug override: the debug path is always checked first so a
// developer can drop a replacement file in place without rebuilding the
// image (spec §C.4 / DESIGN.md "debug registry path override").
var (
	basePath  = "/usr/share/phosphor-logging/device-callouts"
	debugPath = "/etc/phosphor-logging/device-callouts"
)

// SetPaths overrides the base/debug device-callout directories, for tests.
func SetPaths(base, debug string) {
	basePath = base
	debugPath = debug
}

const calloutFileSuffix = "_dev_callouts.json"

// deviceCalloutFile is the JSON shape for one compatible-system's device
// callout file: each entry matches a device path by prefix and optionally
// restricts to one errno value.
type deviceCalloutFile struct {
	Entries []deviceCalloutEntry `json:"callouts"`
}

type deviceCalloutEntry struct {
	DevPathPrefix string `json:"dev_path_prefix"`
	Errno         *int   `json:"errno,omitempty"`

	Priority     string `json:"priority"`
	LocCode      string `json:"loc_code"`
	PartNumber   string `json:"part_number,omitempty"`
	CCIN         string `json:"ccin,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

func findDeviceCalloutFile(compatibleList []string) (string, error) {
	for _, name := range compatibleList {
		filename := name + calloutFileSuffix
		if p := filepath.Join(debugPath, filename); fileExists(p) {
			return p, nil
		}
		if p := filepath.Join(basePath, filename); fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("srcbuilder: no device-callout file for %v", compatibleList)
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// ResolveDeviceCallouts loads the device-callout JSON for the given
// compatible-system list and returns the callouts matching devPath and
// errnoValue (spec §C.4, ported from device_callouts.cpp's getCallouts).
func ResolveDeviceCallouts(compatibleList []string, devPath string, errnoValue int) ([]*section.Callout, error) {
	path, err := findDeviceCalloutFile(compatibleList)
	if err != nil {
		return nil, registry.ErrNoCallouts
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("srcbuilder: read %s: %w", path, err)
	}
	var file deviceCalloutFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("srcbuilder: parse %s: %w", path, err)
	}

	var matched []deviceCalloutEntry
	bestPrefixLen := -1
	for _, e := range file.Entries {
		if !strings.HasPrefix(devPath, e.DevPathPrefix) {
			continue
		}
		if e.Errno != nil && *e.Errno != errnoValue {
			continue
		}
		if len(e.DevPathPrefix) > bestPrefixLen {
			bestPrefixLen = len(e.DevPathPrefix)
			matched = []deviceCalloutEntry{e}
		} else if len(e.DevPathPrefix) == bestPrefixLen {
			matched = append(matched, e)
		}
	}
	if len(matched) == 0 {
		return nil, registry.ErrNoCallouts
	}

	out := make([]*section.Callout, 0, len(matched))
	for _, e := range matched {
		pri, err := registry.LookupPriority(e.Priority)
		if err != nil {
			return nil, err
		}
		out = append(out, &section.Callout{
			Priority:     pri,
			LocationCode: e.LocCode,
			FRU: &section.FRUIdentity{
				Kind:         section.FRUKindHardware,
				PartNumber:   e.PartNumber,
				CCIN:         e.CCIN,
				SerialNumber: e.SerialNumber,
			},
		})
	}
	return out, nil
}
