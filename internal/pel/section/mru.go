package section

import "github.com/openbmc/pel-logd/internal/stream"

// MRUEntry is one manufacturing replaceable unit reference (spec §3).
type MRUEntry struct {
	ID       uint32
	Priority byte
}

// MRU is an ordered list of manufacturing replaceable units.
type MRU struct {
	Entries []MRUEntry
}

func (m *MRU) FlattenedSize() int {
	return 4 + 8*len(m.Entries)
}

func (m *MRU) Flatten(w *stream.Stream) {
	w.WriteU8(uint8(len(m.Entries)))
	w.WritePad(3)
	for _, e := range m.Entries {
		w.WriteU32(e.ID)
		w.WriteU8(e.Priority)
		w.WritePad(3)
	}
}

func ReadMRU(r *stream.Stream) (*MRU, error) {
	count, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	if _, err := r.ReadN(3); err != nil {
		return nil, err
	}
	m := &MRU{}
	for i := 0; i < int(count); i++ {
		id, err := r.ReadU32()
		if err != nil {
			return nil, err
		}
		pri, err := r.ReadU8()
		if err != nil {
			return nil, err
		}
		if _, err := r.ReadN(3); err != nil {
			return nil, err
		}
		m.Entries = append(m.Entries, MRUEntry{ID: id, Priority: pri})
	}
	return m, nil
}
