package section

import "github.com/openbmc/pel-logd/internal/stream"

// Generic preserves the raw bytes of a section whose id the factory does
// not recognize, so the enclosing PEL can still round-trip (spec §4.2).
type Generic struct {
	hdr  Header
	Body []byte

	valid bool
}

func (g *Generic) SectionHeader() Header { return g.hdr }
func (g *Generic) Valid() bool            { return g.valid }
func (g *Generic) FlattenedSize() int     { return HeaderSize + len(g.Body) }

func (g *Generic) Flatten(w *stream.Stream) {
	g.hdr.Flatten(w)
	w.WriteN(g.Body)
}

// NewGenericInvalid builds a Generic section marked invalid, used when fewer
// than 2 bytes remain for the factory to even peek an id (spec §4.2).
func NewGenericInvalid() *Generic {
	return &Generic{valid: false}
}

func NewGenericFromStream(r *stream.Stream) *Generic {
	g := &Generic{}
	hdr, err := ReadHeader(r)
	if err != nil {
		g.valid = false
		return g
	}
	g.hdr = hdr
	if !hdr.Valid() {
		return g
	}
	bodyLen := int(hdr.Size) - HeaderSize
	if bodyLen < 0 {
		return g
	}
	body, err := r.ReadN(bodyLen)
	if err != nil {
		return g
	}
	g.Body = body
	g.valid = true
	return g
}

func (g *Generic) JSON() map[string]any {
	return map[string]any{
		"id":   g.hdr.ID,
		"size": g.hdr.Size,
	}
}
