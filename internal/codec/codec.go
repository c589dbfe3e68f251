// internal/codec/codec.go
package codec

import (
	"fmt"
	"math"
	"strings"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
)

// Decoded is the outcome of decoding one poll group.
// A register appears in exactly one of the two maps.
type Decoded struct {
	Values map[string]any
	Errors map[string]error
}

// Decode applies every register's conversion to its slice of words.
// words[0] is the register at address start. A failing register is
// reported in Errors and does not stop the rest of the group.
func Decode(start uint16, regs []*registermap.Register, words []uint16) Decoded {
	out := Decoded{
		Values: make(map[string]any, len(regs)),
		Errors: map[string]error{},
	}
	for _, r := range regs {
		if r.Address < start || int(r.Address-start)+int(r.Count) > len(words) {
			out.Errors[r.Name] = decodingErr(r.Name, "range %d+%d outside block %d+%d", r.Address, r.Count, start, len(words))
			continue
		}
		off := int(r.Address - start)
		v, err := DecodeRegister(r, words[off:off+int(r.Count)])
		if err != nil {
			out.Errors[r.Name] = err
			continue
		}
		out.Values[r.Name] = v
	}
	return out
}

// DecodeRegister converts exactly r.Count words into the register's value.
func DecodeRegister(r *registermap.Register, w []uint16) (any, error) {
	if len(w) != int(r.Count) {
		return nil, decodingErr(r.Name, "need %d words, got %d", r.Count, len(w))
	}

	switch r.Conversion {
	case registermap.ConvRaw:
		u := joinWords(w)
		if u > math.MaxInt64 {
			return nil, decodingErr(r.Name, "value %d exceeds int64", u)
		}
		return int64(u), nil

	case registermap.ConvSigned:
		return int64(int16(w[0])), nil

	case registermap.ConvScaled:
		return float64(joinWords(w)) / r.Scale, nil

	case registermap.ConvSignedScaled:
		return float64(int16(w[0])) / r.Scale, nil

	case registermap.ConvSecondsSinceBoot:
		return int64(uint32(w[0])<<16 | uint32(w[1])), nil

	case registermap.ConvASCII:
		b := make([]byte, 0, 2*len(w))
		for _, x := range w {
			b = append(b, byte(x>>8), byte(x))
		}
		for _, c := range b {
			if c > 0x7f {
				return nil, decodingErr(r.Name, "non-ascii byte 0x%02x", c)
			}
		}
		return strings.TrimRight(string(b), "\x00"), nil

	case registermap.ConvHex:
		var sb strings.Builder
		for _, x := range w {
			fmt.Fprintf(&sb, "%04X", x)
		}
		return sb.String(), nil

	case registermap.ConvEnum:
		name, ok := r.Enum[int(w[0])]
		if !ok {
			return nil, decodingErr(r.Name, "undefined enum value %d", w[0])
		}
		return name, nil

	case registermap.ConvFlags:
		return decodeFlags(r, w)

	case registermap.ConvPortField:
		return decodePortField(r, w), nil

	case registermap.ConvBool:
		return w[0] != 0, nil

	case registermap.ConvFloat32:
		return float64(math.Float32frombits(uint32(w[0])<<16 | uint32(w[1]))), nil

	case registermap.ConvWords:
		out := make([]int64, len(w))
		for i, x := range w {
			out[i] = int64(x)
		}
		return out, nil
	}

	return nil, decodingErr(r.Name, "no decoder for %s", r.Conversion)
}

// ---- flags ----

// flag i is bit i counted from the least significant bit of the last word.
func flagBit(w []uint16, i int) bool {
	word := len(w) - 1 - i/16
	return w[word]&(1<<(uint(i)%16)) != 0
}

func decodeFlags(r *registermap.Register, w []uint16) (any, error) {
	set := []string{}
	total := 16 * len(w)
	for i := 0; i < total; i++ {
		if !flagBit(w, i) {
			continue
		}
		if i >= len(r.Flags) {
			return nil, decodingErr(r.Name, "bit %d set but not defined", i)
		}
		set = append(set, r.Flags[i])
	}
	return set, nil
}

// ---- port fields ----

func portBits(r *registermap.Register, x uint16) uint16 {
	mask := uint16(1)<<r.Field.Width() - 1
	return (x >> r.Field.Shift()) & mask
}

func decodePortField(r *registermap.Register, w []uint16) any {
	if r.Field.TriState() {
		out := make([]TriState, len(w))
		for i, x := range w {
			switch TriState(portBits(r, x)) {
			case On:
				out[i] = On
			case Off:
				out[i] = Off
			default:
				out[i] = Unset
			}
		}
		return out
	}
	out := make([]bool, len(w))
	for i, x := range w {
		out[i] = portBits(r, x) != 0
	}
	return out
}

func joinWords(w []uint16) uint64 {
	var u uint64
	for _, x := range w {
		u = u<<16 | uint64(x)
	}
	return u
}
