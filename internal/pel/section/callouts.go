package section

import "github.com/openbmc/pel-logd/internal/stream"

// CalloutPriority is the priority character of a callout (spec §3).
type CalloutPriority byte

const (
	PriorityHigh        CalloutPriority = 'H'
	PriorityMedium      CalloutPriority = 'M'
	PriorityMediumGroupA CalloutPriority = 'A'
	PriorityMediumGroupB CalloutPriority = 'B'
	PriorityMediumGroupC CalloutPriority = 'C'
	PriorityLow         CalloutPriority = 'L'
)

// Callout bit flags.
const (
	CalloutHasFRUIdentity uint8 = 1 << 0
	CalloutHasPCEIdentity uint8 = 1 << 1
	CalloutHasMRU         uint8 = 1 << 2
)

// Callout is one entry in a Callouts sub-section (spec §3).
type Callout struct {
	Priority     CalloutPriority
	Flags        uint8
	LocationCode string // <=80 chars

	FRU *FRUIdentity
	PCE *PCEIdentity
	MRU *MRU
}

const calloutLocCodeLen = 80

func (c *Callout) flattenedFlags() uint8 {
	f := c.Flags
	if c.FRU != nil {
		f |= CalloutHasFRUIdentity
	}
	if c.PCE != nil {
		f |= CalloutHasPCEIdentity
	}
	if c.MRU != nil {
		f |= CalloutHasMRU
	}
	return f
}

func (c *Callout) flattenedSize() int {
	size := 4 + calloutLocCodeLen // size(2)+priority+flags + location code
	if c.FRU != nil {
		size += FRUIdentitySize
	}
	if c.PCE != nil {
		size += PCEIdentitySize
	}
	if c.MRU != nil {
		size += c.MRU.FlattenedSize()
	}
	return size
}

func (c *Callout) Flatten(w *stream.Stream) {
	w.WriteU16(uint16(c.flattenedSize()))
	w.WriteU8(byte(c.Priority))
	w.WriteU8(c.flattenedFlags())
	w.WriteN(padTrunc(c.LocationCode, calloutLocCodeLen))
	if c.FRU != nil {
		c.FRU.Flatten(w)
	}
	if c.PCE != nil {
		c.PCE.Flatten(w)
	}
	if c.MRU != nil {
		c.MRU.Flatten(w)
	}
}

func ReadCallout(r *stream.Stream) (*Callout, error) {
	size, err := r.ReadU16()
	if err != nil {
		return nil, err
	}
	pri, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	flags, err := r.ReadU8()
	if err != nil {
		return nil, err
	}
	loc, err := r.ReadN(calloutLocCodeLen)
	if err != nil {
		return nil, err
	}
	c := &Callout{
		Priority:     CalloutPriority(pri),
		Flags:        flags &^ (CalloutHasFRUIdentity | CalloutHasPCEIdentity | CalloutHasMRU),
		LocationCode: trimNUL(loc),
	}
	if flags&CalloutHasFRUIdentity != 0 {
		fru, err := ReadFRUIdentity(r)
		if err != nil {
			return nil, err
		}
		c.FRU = fru
	}
	if flags&CalloutHasPCEIdentity != 0 {
		pce, err := ReadPCEIdentity(r)
		if err != nil {
			return nil, err
		}
		c.PCE = pce
	}
	if flags&CalloutHasMRU != 0 {
		mru, err := ReadMRU(r)
		if err != nil {
			return nil, err
		}
		c.MRU = mru
	}
	_ = size
	return c, nil
}

// Callouts is the optional SRC sub-section carrying an ordered list of up to
// N callouts, bounded by the enclosing section's size limit (spec §3).
type Callouts struct {
	hdr     Header
	List    []*Callout
}

const calloutsHeaderVersion uint8 = 0x01

func NewCallouts(list []*Callout) *Callouts {
	c := &Callouts{List: list}
	c.hdr = Header{
		Version: calloutsHeaderVersion,
		SubType: uint8(len(list)),
		Size:    uint16(c.flattenedBodySize() + HeaderSize),
	}
	return c
}

func (c *Callouts) flattenedBodySize() int {
	total := 0
	for _, co := range c.List {
		total += co.flattenedSize()
	}
	return total
}

func (c *Callouts) FlattenedSize() int { return int(c.hdr.Size) }

func (c *Callouts) Flatten(w *stream.Stream) {
	c.hdr.Size = uint16(c.flattenedBodySize() + HeaderSize)
	c.hdr.SubType = uint8(len(c.List))
	c.hdr.Flatten(w)
	for _, co := range c.List {
		co.Flatten(w)
	}
}

func ReadCallouts(r *stream.Stream) (*Callouts, error) {
	hdr, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}
	c := &Callouts{hdr: hdr}
	count := int(hdr.SubType)
	for i := 0; i < count; i++ {
		co, err := ReadCallout(r)
		if err != nil {
			return nil, err
		}
		c.List = append(c.List, co)
	}
	return c, nil
}
