// internal/codec/encode.go
package codec

import (
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
)

// Encode converts a value into exactly r.Count words.
// Values outside the register's domain fail with ErrEncoding; nothing is truncated.
func Encode(r *registermap.Register, v any) ([]uint16, error) {
	switch r.Conversion {
	case registermap.ConvRaw:
		n, ok := toInt(v)
		if !ok {
			return nil, encodingErr(r.Name, "want integer, got %T", v)
		}
		if n < 0 || (r.Count < 4 && uint64(n) >= 1<<(16*uint(r.Count))) {
			return nil, encodingErr(r.Name, "%d does not fit %d words", n, r.Count)
		}
		return splitWords(uint64(n), r.Count), nil

	case registermap.ConvSigned:
		n, ok := toInt(v)
		if !ok {
			return nil, encodingErr(r.Name, "want integer, got %T", v)
		}
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, encodingErr(r.Name, "%d outside int16", n)
		}
		return []uint16{uint16(int16(n))}, nil

	case registermap.ConvScaled:
		f, ok := toFloat(v)
		if !ok {
			return nil, encodingErr(r.Name, "want number, got %T", v)
		}
		raw := math.Round(f * r.Scale)
		if raw < 0 || raw >= math.Ldexp(1, 16*int(r.Count)) || math.IsNaN(raw) {
			return nil, encodingErr(r.Name, "%v outside scaled range", f)
		}
		return splitWords(uint64(raw), r.Count), nil

	case registermap.ConvSignedScaled:
		f, ok := toFloat(v)
		if !ok {
			return nil, encodingErr(r.Name, "want number, got %T", v)
		}
		raw := math.Round(f * r.Scale)
		if raw < math.MinInt16 || raw > math.MaxInt16 || math.IsNaN(raw) {
			return nil, encodingErr(r.Name, "%v outside scaled int16 range", f)
		}
		return []uint16{uint16(int16(raw))}, nil

	case registermap.ConvSecondsSinceBoot:
		n, ok := toInt(v)
		if !ok || n < 0 || n > math.MaxUint32 {
			return nil, encodingErr(r.Name, "%v is not a 32-bit second count", v)
		}
		return splitWords(uint64(n), 2), nil

	case registermap.ConvASCII:
		s, ok := v.(string)
		if !ok {
			return nil, encodingErr(r.Name, "want string, got %T", v)
		}
		if len(s) > 2*int(r.Count) {
			return nil, encodingErr(r.Name, "%d characters do not fit %d words", len(s), r.Count)
		}
		b := make([]byte, 2*int(r.Count))
		for i := 0; i < len(s); i++ {
			if s[i] > 0x7f || s[i] == 0 {
				return nil, encodingErr(r.Name, "character 0x%02x not encodable", s[i])
			}
			b[i] = s[i]
		}
		out := make([]uint16, r.Count)
		for i := range out {
			out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
		}
		return out, nil

	case registermap.ConvHex:
		s, ok := v.(string)
		if !ok || len(s) != 4*int(r.Count) {
			return nil, encodingErr(r.Name, "want %d hex digits", 4*r.Count)
		}
		// decode renders upper case only
		if s != strings.ToUpper(s) {
			return nil, encodingErr(r.Name, "want upper-case hex digits, got %q", s)
		}
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, encodingErr(r.Name, "%v", err)
		}
		out := make([]uint16, r.Count)
		for i := range out {
			out[i] = uint16(b[2*i])<<8 | uint16(b[2*i+1])
		}
		return out, nil

	case registermap.ConvEnum:
		return encodeEnum(r, v)

	case registermap.ConvFlags:
		return encodeFlags(r, v)

	case registermap.ConvPortField:
		return encodePortField(r, v)

	case registermap.ConvBool:
		b, ok := v.(bool)
		if !ok {
			return nil, encodingErr(r.Name, "want bool, got %T", v)
		}
		if b {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil

	case registermap.ConvFloat32:
		f, ok := toFloat(v)
		if !ok {
			return nil, encodingErr(r.Name, "want number, got %T", v)
		}
		if math.IsNaN(f) {
			return nil, encodingErr(r.Name, "NaN is not encodable")
		}
		if math.Abs(f) > math.MaxFloat32 {
			return nil, encodingErr(r.Name, "%v overflows float32", f)
		}
		return splitWords(uint64(math.Float32bits(float32(f))), 2), nil

	case registermap.ConvWords:
		items, ok := toSlice(v)
		if !ok || len(items) != int(r.Count) {
			return nil, encodingErr(r.Name, "want %d integers", r.Count)
		}
		out := make([]uint16, r.Count)
		for i, it := range items {
			n, ok := toInt(it)
			if !ok || n < 0 || n > math.MaxUint16 {
				return nil, encodingErr(r.Name, "element %d: %v is not a 16-bit word", i, it)
			}
			out[i] = uint16(n)
		}
		return out, nil
	}

	return nil, encodingErr(r.Name, "no encoder for %s", r.Conversion)
}

func encodeEnum(r *registermap.Register, v any) ([]uint16, error) {
	if s, ok := v.(string); ok {
		for k, name := range r.Enum {
			if strings.EqualFold(name, s) {
				return []uint16{uint16(k)}, nil
			}
		}
		return nil, encodingErr(r.Name, "unknown enum name %q", s)
	}
	n, ok := toInt(v)
	if !ok {
		return nil, encodingErr(r.Name, "want enum name or value, got %T", v)
	}
	if _, ok := r.Enum[int(n)]; !ok || n < 0 || n > math.MaxUint16 {
		return nil, encodingErr(r.Name, "undefined enum value %d", n)
	}
	return []uint16{uint16(n)}, nil
}

func encodeFlags(r *registermap.Register, v any) ([]uint16, error) {
	out := make([]uint16, r.Count)
	set := func(i int) {
		word := len(out) - 1 - i/16
		out[word] |= 1 << (uint(i) % 16)
	}

	if n, ok := toInt(v); ok {
		if n < 0 || (len(r.Flags) < 63 && uint64(n) >= 1<<uint(len(r.Flags))) {
			return nil, encodingErr(r.Name, "mask 0x%x has bits beyond %d flags", n, len(r.Flags))
		}
		for i := 0; i < len(r.Flags); i++ {
			if uint64(n)&(1<<uint(i)) != 0 {
				set(i)
			}
		}
		return out, nil
	}

	items, ok := toSlice(v)
	if !ok {
		return nil, encodingErr(r.Name, "want flag names or mask, got %T", v)
	}
	for _, it := range items {
		name, ok := it.(string)
		if !ok {
			return nil, encodingErr(r.Name, "flag %v is not a name", it)
		}
		idx := -1
		for i, f := range r.Flags {
			if f == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, encodingErr(r.Name, "unknown flag %q", name)
		}
		set(idx)
	}
	return out, nil
}

// encodePortField builds one word per port carrying only the selected field.
// A tri-state Unset leaves the field zero so firmware keeps the current setting.
func encodePortField(r *registermap.Register, v any) ([]uint16, error) {
	states, err := portStates(r, v)
	if err != nil {
		return nil, err
	}
	out := make([]uint16, r.Count)
	for i, s := range states {
		var bits uint16
		if r.Field.TriState() {
			bits = uint16(s)
		} else if s == On {
			bits = 1
		}
		out[i] = bits << r.Field.Shift()
	}
	return out, nil
}

func portStates(r *registermap.Register, v any) ([]TriState, error) {
	n := int(r.Count)
	var out []TriState

	switch t := v.(type) {
	case []TriState:
		out = append(out, t...)
	case []bool:
		for _, b := range t {
			out = append(out, TriStateOf(&b))
		}
	case []*bool:
		for _, b := range t {
			out = append(out, TriStateOf(b))
		}
	default:
		items, ok := toSlice(v)
		if !ok {
			return nil, encodingErr(r.Name, "want %d per-port values, got %T", n, v)
		}
		for i, it := range items {
			switch b := it.(type) {
			case nil:
				out = append(out, Unset)
			case bool:
				out = append(out, TriStateOf(&b))
			case TriState:
				out = append(out, b)
			default:
				return nil, encodingErr(r.Name, "port %d: %v is not a boolean", i+1, it)
			}
		}
	}

	if len(out) != n {
		return nil, encodingErr(r.Name, "want %d per-port values, got %d", n, len(out))
	}
	for i, s := range out {
		if s != Unset && s != On && s != Off {
			return nil, encodingErr(r.Name, "port %d: invalid state %d", i+1, s)
		}
		if s == Unset && !r.Field.TriState() {
			return nil, encodingErr(r.Name, "port %d: %s takes true or false", i+1, r.Field)
		}
	}
	return out, nil
}

// ---- value coercion ----

func splitWords(u uint64, count uint16) []uint16 {
	out := make([]uint16, count)
	for i := int(count) - 1; i >= 0; i-- {
		out[i] = uint16(u)
		u >>= 16
	}
	return out
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), n <= math.MaxInt64
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), n <= math.MaxInt64
	case float64:
		if n != math.Trunc(n) || math.Abs(n) > 1<<53 {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	if i, ok := toInt(v); ok {
		return float64(i), true
	}
	return 0, false
}

func toSlice(v any) ([]any, bool) {
	switch s := v.(type) {
	case []any:
		return s, true
	case []string:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []int:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	case []int64:
		out := make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
		return out, true
	}
	return nil, false
}
