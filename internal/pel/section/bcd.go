package section

import (
	"fmt"
	"time"

	"github.com/openbmc/pel-logd/internal/stream"
)

// BCDTime is the 8-byte binary-coded-decimal date/time tuple used for
// PrivateHeader's create/commit timestamps and ExtendedUserHeader's
// reference time (spec GLOSSARY "BCD time").
type BCDTime struct {
	YearMSB   uint8
	YearLSB   uint8
	Month     uint8
	Day       uint8
	Hour      uint8
	Minute    uint8
	Second    uint8
	Hundredth uint8
}

func toBCD(v int) uint8 {
	return uint8((v/10)<<4 | (v % 10))
}

func fromBCD(v uint8) int {
	return int(v>>4)*10 + int(v&0x0F)
}

// NewBCDTime converts a wall-clock time to BCD form (UTC).
func NewBCDTime(t time.Time) BCDTime {
	t = t.UTC()
	year := t.Year()
	return BCDTime{
		YearMSB:   toBCD(year / 100),
		YearLSB:   toBCD(year % 100),
		Month:     toBCD(int(t.Month())),
		Day:       toBCD(t.Day()),
		Hour:      toBCD(t.Hour()),
		Minute:    toBCD(t.Minute()),
		Second:    toBCD(t.Second()),
		Hundredth: toBCD(t.Nanosecond() / 10000000),
	}
}

// Time converts back to a time.Time in UTC.
func (b BCDTime) Time() time.Time {
	year := fromBCD(b.YearMSB)*100 + fromBCD(b.YearLSB)
	return time.Date(year, time.Month(fromBCD(b.Month)), fromBCD(b.Day),
		fromBCD(b.Hour), fromBCD(b.Minute), fromBCD(b.Second),
		fromBCD(b.Hundredth)*10000000, time.UTC)
}

// Flatten writes the 8 BCD bytes.
func (b BCDTime) Flatten(w *stream.Stream) {
	w.WriteU8(b.YearMSB)
	w.WriteU8(b.YearLSB)
	w.WriteU8(b.Month)
	w.WriteU8(b.Day)
	w.WriteU8(b.Hour)
	w.WriteU8(b.Minute)
	w.WriteU8(b.Second)
	w.WriteU8(b.Hundredth)
}

// ReadBCDTime reads 8 BCD bytes.
func ReadBCDTime(r *stream.Stream) (BCDTime, error) {
	var b BCDTime
	bs, err := r.ReadN(8)
	if err != nil {
		return b, err
	}
	b = BCDTime{bs[0], bs[1], bs[2], bs[3], bs[4], bs[5], bs[6], bs[7]}
	return b, nil
}

// FilenamePrefix formats the BCD time as the 16 hex digit filename prefix
// used by the repository (spec §6 "On-disk PEL filename").
func (b BCDTime) FilenamePrefix() string {
	return fmt.Sprintf("%02X%02X%02X%02X%02X%02X%02X%02X",
		b.YearMSB, b.YearLSB, b.Month, b.Day, b.Hour, b.Minute, b.Second, b.Hundredth)
}
