package srcbuilder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openbmc/pel-logd/internal/pel/registry"
	"github.com/openbmc/pel-logd/internal/pel/section"
)

type fakeDataInterface struct {
	systemType string
	compatible []string

	motherboardCCIN string
	rawProgressSRC  []byte
	inventory       map[string][4]string // loc, partNumber, ccin, serial
}

func (f fakeDataInterface) SystemType() string              { return f.systemType }
func (f fakeDataInterface) CompatibleSystemNames() []string { return f.compatible }
func (f fakeDataInterface) MotherboardCCIN() string          { return f.motherboardCCIN }
func (f fakeDataInterface) RawProgressSRC() []byte           { return f.rawProgressSRC }

func (f fakeDataInterface) GetLocationCode(inventoryPath string) (string, error) {
	item, ok := f.inventory[inventoryPath]
	if !ok {
		return "", fmt.Errorf("no inventory entry for %q", inventoryPath)
	}
	return item[0], nil
}

func (f fakeDataInterface) GetHWCalloutFields(inventoryPath string) (partNumber, ccin, serialNumber string, err error) {
	item, ok := f.inventory[inventoryPath]
	if !ok {
		return "", "", "", fmt.Errorf("no inventory entry for %q", inventoryPath)
	}
	return item[1], item[2], item[3], nil
}

func TestBuildAppliesRegistryClassificationAndWords(t *testing.T) {
	entry := &registry.Entry{
		Subsystem: "bmc",
		Severity:  "unrecoverable",
		ActionFlags: []string{"report"},
		SRC: registry.SRCMeta{
			ReasonCode: 0x2030,
			Type:       "BD",
			Words: map[string]uint32{
				"3": 0x11112222,
			},
			WordsFromAD: map[string]string{
				"4": "FAIL_COUNT",
			},
		},
	}

	di := fakeDataInterface{systemType: "everest"}
	src, err := Build(entry, map[string]string{"FAIL_COUNT": "5"}, di)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if src.HexWord(3) != 0x11112222 {
		t.Fatalf("HexWord(3) = %x", src.HexWord(3))
	}
	if src.HexWord(4) != 5 {
		t.Fatalf("HexWord(4) = %x, want 5", src.HexWord(4))
	}
	if !strings.HasPrefix(src.AsciiString, "BD372030") {
		t.Fatalf("AsciiString = %q", src.AsciiString)
	}
}

func TestBuildFallsBackToDeviceCallouts(t *testing.T) {
	dir := t.TempDir()
	SetPaths(dir, filepath.Join(dir, "debug-does-not-exist"))
	t.Cleanup(func() { SetPaths("/usr/share/phosphor-logging/device-callouts", "/etc/phosphor-logging/device-callouts") })

	fileContents := `{
	  "callouts": [
	    {"dev_path_prefix": "/sys/bus/i2c", "priority": "H", "loc_code": "Ufcs-P0", "part_number": "ABC0001"},
	    {"dev_path_prefix": "/sys/bus/i2c/devices/3-0050", "priority": "M", "loc_code": "Ufcs-P0-C3", "part_number": "ABC0002"}
	  ]
	}`
	if err := os.WriteFile(filepath.Join(dir, "everest_dev_callouts.json"), []byte(fileContents), 0o644); err != nil {
		t.Fatal(err)
	}

	entry := &registry.Entry{
		Subsystem: "bmc",
		Severity:  "unrecoverable",
		ActionFlags: []string{"report"},
		SRC: registry.SRCMeta{ReasonCode: 0x3001, Type: "11"},
	}
	di := fakeDataInterface{systemType: "everest", compatible: []string{"everest"}}
	src, err := Build(entry, map[string]string{
		"CALLOUT_DEVICE_PATH": "/sys/bus/i2c/devices/3-0050/eeprom",
	}, di)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if src.Callouts == nil || len(src.Callouts.List) != 1 {
		t.Fatalf("Callouts = %+v", src.Callouts)
	}
	// The longer, more specific dev_path_prefix should win.
	if src.Callouts.List[0].LocationCode != "Ufcs-P0-C3" {
		t.Fatalf("LocationCode = %q, want Ufcs-P0-C3 (most specific prefix)", src.Callouts.List[0].LocationCode)
	}
}

func TestBuildAppliesMotherboardCCINAndProgressCode(t *testing.T) {
	entry := &registry.Entry{
		Subsystem: "bmc",
		Severity:  "unrecoverable",
		SRC:       registry.SRCMeta{ReasonCode: 0x1001, Type: "BD"},
	}
	di := fakeDataInterface{
		systemType:      "everest",
		motherboardCCIN: "2D2D",
		rawProgressSRC:  append(make([]byte, progressCodeOffset), []byte("0011223300000000")...),
	}
	src, err := Build(entry, nil, di)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if want := uint32(0x2D2D) << 16; src.HexWord(3) != want {
		t.Fatalf("HexWord(3) = %x, want %x", src.HexWord(3), want)
	}
	if src.HexWord(4) != 0x00112233 {
		t.Fatalf("HexWord(4) = %x, want 112233", src.HexWord(4))
	}
}

func TestBuildAppliesErrorStatusBits(t *testing.T) {
	entry := &registry.Entry{
		Subsystem: "bmc",
		Severity:  "critical",
		SRC: registry.SRCMeta{
			ReasonCode:    0x1002,
			Type:          "BD",
			CheckstopFlag: true,
			DeconfigFlag:  true,
		},
	}
	di := fakeDataInterface{systemType: "everest"}
	src, err := Build(entry, nil, di)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	want := section.HexWord5Checkstop | section.HexWord5Deconfigured
	if src.HexWord(5) != want {
		t.Fatalf("HexWord(5) = %x, want %x", src.HexWord(5), want)
	}
}

func TestBuildResolvesInventoryHardwareCallout(t *testing.T) {
	entry := &registry.Entry{
		Subsystem: "bmc",
		Severity:  "unrecoverable",
		SRC:       registry.SRCMeta{ReasonCode: 0x1003, Type: "BD"},
	}
	di := fakeDataInterface{
		systemType: "everest",
		inventory: map[string][4]string{
			"/system/chassis/motherboard": {"Ufcs-P0", "PN1234", "CCIN", "SN001"},
		},
	}
	src, err := Build(entry, map[string]string{
		"CALLOUT_INVENTORY_PATH": "/system/chassis/motherboard",
		"CALLOUT_PRIORITY":       "H",
	}, di)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if src.Callouts == nil || len(src.Callouts.List) != 1 {
		t.Fatalf("Callouts = %+v", src.Callouts)
	}
	co := src.Callouts.List[0]
	if co.LocationCode != "Ufcs-P0" || co.FRU.PartNumber != "PN1234" {
		t.Fatalf("callout = %+v", co)
	}
}

func TestBuildAppliesPELSubsystemOverride(t *testing.T) {
	entry := &registry.Entry{
		Subsystem: "bmc",
		Severity:  "unrecoverable",
		SRC:       registry.SRCMeta{ReasonCode: 0x1004, Type: "BD"},
	}
	di := fakeDataInterface{systemType: "everest"}
	src, err := Build(entry, map[string]string{"PEL_SUBSYSTEM": "40"}, di)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !strings.HasPrefix(src.AsciiString, "BD401004") {
		t.Fatalf("AsciiString = %q, want subsystem overridden to 40", src.AsciiString)
	}
}

func TestBuildResolvesJSONCallouts(t *testing.T) {
	entry := &registry.Entry{
		Subsystem: "bmc",
		Severity:  "unrecoverable",
		SRC:       registry.SRCMeta{ReasonCode: 0x1005, Type: "BD"},
	}
	di := fakeDataInterface{systemType: "everest"}
	src, err := Build(entry, map[string]string{
		"CALLOUT_JSON": `[{"Procedure":"svc_docs_bmc_code","Priority":"H","Deconfigured":true}]`,
	}, di)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if src.Callouts == nil || len(src.Callouts.List) != 1 {
		t.Fatalf("Callouts = %+v", src.Callouts)
	}
	if src.Callouts.List[0].FRU.MaintenanceProcedure != "svc_docs_bmc_code" {
		t.Fatalf("callout = %+v", src.Callouts.List[0])
	}
	if src.HexWord(5)&section.HexWord5Deconfigured == 0 {
		t.Fatalf("HexWord(5) = %x, want deconfigured bit set", src.HexWord(5))
	}
}

func TestBuildWithNoCalloutsSucceeds(t *testing.T) {
	entry := &registry.Entry{
		Subsystem: "bmc",
		Severity:  "informational",
		SRC:       registry.SRCMeta{ReasonCode: 0x1, Type: "11"},
	}
	di := fakeDataInterface{systemType: "everest"}
	src, err := Build(entry, nil, di)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if src.Callouts != nil {
		t.Fatalf("expected no callouts, got %+v", src.Callouts)
	}
}
