package section

import "github.com/openbmc/pel-logd/internal/stream"

// NewSectionFromStream peeks the 2-byte section id at r's current offset
// and dispatches to the concrete codec (spec §4.2). An unknown id yields a
// Generic section that preserves bytes. If fewer than 2 bytes remain, it
// returns a Generic section marked invalid without consuming anything.
func NewSectionFromStream(r *stream.Stream) Section {
	id, ok := PeekID(r)
	if !ok {
		return NewGenericInvalid()
	}
	switch id {
	case IDPrivateHeader:
		return NewPrivateHeaderFromStream(r)
	case IDUserHeader:
		return NewUserHeaderFromStream(r)
	case IDPrimarySRC:
		return NewSRCFromStream(r)
	case IDExtendedUserHeader:
		return NewExtendedUserHeaderFromStream(r)
	case IDFailingMTMS:
		return NewFailingMTMSFromStream(r)
	case IDUserData:
		return NewUserDataFromStream(r)
	case IDExtendedUserData:
		return NewExtendedUserDataFromStream(r)
	default:
		return NewGenericFromStream(r)
	}
}
