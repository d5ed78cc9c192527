package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrEntryNotFound is returned by LookupByName/LookupByReasonCode when no
// entry matches.
var ErrEntryNotFound = errors.New("registry: entry not found")

// document is the top-level shape of the message-registry JSON file: a
// version tag (parsed but not checked) plus the entry list, matching
// the phosphor-logging message_registry.json layout (original_source).
type document struct {
	Version int     `json:"version"`
	Entries []Entry `json:"PELs"`
}

// Registry holds the parsed message registry, indexed for both of the
// lookups the builder needs (spec §4.3): by event-log message name, and by
// 4-hex-digit reason code string.
type Registry struct {
	byName       map[string]*Entry
	byReasonCode map[string]*Entry
}

// Load parses a message-registry JSON file from path.
func Load(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("registry: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse parses a message-registry JSON document from r.
func Parse(r io.Reader) (*Registry, error) {
	var doc document
	dec := json.NewDecoder(r)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("registry: decode: %w", err)
	}

	reg := &Registry{
		byName:       make(map[string]*Entry, len(doc.Entries)),
		byReasonCode: make(map[string]*Entry, len(doc.Entries)),
	}
	for i := range doc.Entries {
		e := &doc.Entries[i]
		reg.byName[e.Name] = e
		reg.byReasonCode[reasonCodeKey(e.SRC.ReasonCode)] = e
	}
	return reg, nil
}

func reasonCodeKey(code uint16) string {
	return fmt.Sprintf("%04X", code)
}

// LookupByName finds an entry by its registry event-log message name
// (spec §4.3).
func (r *Registry) LookupByName(name string) (*Entry, error) {
	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: name %q", ErrEntryNotFound, name)
	}
	return e, nil
}

// LookupByReasonCode finds an entry by its SRC reason code (e.g. 0x2030,
// keyed internally as the 4-hex-digit string "2030"), used when reconstructing a PEL's registry entry from a
// raw SRC that arrived without a name (spec §4.3).
func (r *Registry) LookupByReasonCode(code uint16) (*Entry, error) {
	e, ok := r.byReasonCode[reasonCodeKey(code)]
	if !ok {
		return nil, fmt.Errorf("%w: reason code %04X", ErrEntryNotFound, code)
	}
	return e, nil
}

// Len returns the number of entries loaded.
func (r *Registry) Len() int { return len(r.byName) }
