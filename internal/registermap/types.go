// internal/registermap/types.go
package registermap

import (
	"fmt"
	"sort"
)

// Kind is the closed set of controller classes found on a PaSD bus.
type Kind int

const (
	KindHub       Kind = iota + 1 // FNDH
	KindSecondary                 // smartbox
	KindComms                     // FNCC
)

var kindNames = map[Kind]string{
	KindHub:       "fndh",
	KindSecondary: "smartbox",
	KindComms:     "fncc",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// ParseKind maps a register-map document key to a Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// DataType is the application-level type a register decodes to.
type DataType string

const (
	TypeInt      DataType = "int"
	TypeFloat    DataType = "float"
	TypeBool     DataType = "bool"
	TypeString   DataType = "string"
	TypeEnum     DataType = "enum"
	TypeBitfield DataType = "bitfield"
)

// Conversion identifies the pure function used to turn raw words into a value.
type Conversion int

const (
	ConvRaw              Conversion = iota + 1 // unsigned big-endian integer over all words
	ConvSigned                                 // int16
	ConvScaled                                 // unsigned / scale
	ConvSignedScaled                           // int16 / scale
	ConvSecondsSinceBoot                       // uint32 seconds
	ConvASCII                                  // two characters per word
	ConvHex                                    // words rendered as upper-case hex
	ConvEnum                                   // value -> name
	ConvFlags                                  // set bits -> names
	ConvPortField                              // one word per port, field selected by PortField
	ConvBool                                   // non-zero
	ConvFloat32                                // IEEE-754 over two words
	ConvWords                                  // one unsigned integer per word
)

type conversionSpec struct {
	name  string
	words uint16 // 0 = any
	types []DataType
}

var conversions = map[Conversion]conversionSpec{
	ConvRaw:              {"raw", 0, []DataType{TypeInt}},
	ConvSigned:           {"signed", 1, []DataType{TypeInt}},
	ConvScaled:           {"scaled", 0, []DataType{TypeFloat}},
	ConvSignedScaled:     {"signed_scaled", 1, []DataType{TypeFloat}},
	ConvSecondsSinceBoot: {"seconds_since_boot", 2, []DataType{TypeInt}},
	ConvASCII:            {"ascii", 0, []DataType{TypeString}},
	ConvHex:              {"hex", 0, []DataType{TypeString}},
	ConvEnum:             {"enum", 1, []DataType{TypeEnum}},
	ConvFlags:            {"flags", 0, []DataType{TypeBitfield}},
	ConvPortField:        {"port_field", 0, []DataType{TypeBool}},
	ConvBool:             {"bool", 1, []DataType{TypeBool}},
	ConvFloat32:          {"float32", 2, []DataType{TypeFloat}},
	ConvWords:            {"words", 0, []DataType{TypeInt}},
}

func (c Conversion) String() string {
	if s, ok := conversions[c]; ok {
		return s.name
	}
	return fmt.Sprintf("conversion(%d)", int(c))
}

// ParseConversion resolves a conversion id from the register-map document.
func ParseConversion(s string) (Conversion, error) {
	for c, spec := range conversions {
		if spec.name == s {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownConversion, s)
}

// PortField selects one logical field inside a per-port status word.
type PortField int

const (
	FieldNone           PortField = iota
	FieldEnable                   // bit 15
	FieldOnline                   // bit 14
	FieldDesiredOnline            // bits 13-12, DSON
	FieldDesiredOffline           // bits 11-10, DSOFF
	FieldForcing                  // bits 9-8, TO
	FieldSensed                   // bit 7, power sensed (hub) / breaker tripped (smartbox)
	FieldPower                    // bit 6
)

var fieldLayout = map[PortField]struct {
	name  string
	shift uint
	width uint
}{
	FieldEnable:         {"enable", 15, 1},
	FieldOnline:         {"online", 14, 1},
	FieldDesiredOnline:  {"desired_online", 12, 2},
	FieldDesiredOffline: {"desired_offline", 10, 2},
	FieldForcing:        {"forcing", 8, 2},
	FieldSensed:         {"sensed", 7, 1},
	FieldPower:          {"power", 6, 1},
}

func (f PortField) String() string {
	if l, ok := fieldLayout[f]; ok {
		return l.name
	}
	return "none"
}

// Shift is the bit offset of the field within a port word.
func (f PortField) Shift() uint { return fieldLayout[f].shift }

// Width is the number of bits the field occupies.
func (f PortField) Width() uint { return fieldLayout[f].width }

// TriState reports whether the field carries unset/off/on rather than a single bit.
func (f PortField) TriState() bool { return fieldLayout[f].width == 2 }

// ParsePortField resolves a field selector name.
func ParsePortField(s string) (PortField, error) {
	for f, l := range fieldLayout {
		if l.name == s {
			return f, nil
		}
	}
	return FieldNone, fmt.Errorf("unknown port field %q", s)
}

// Thresholds is the default four-point alarm tuple of an analogue register.
type Thresholds struct {
	HighAlarm   float64 `json:"high_alarm"`
	HighWarning float64 `json:"high_warning"`
	LowWarning  float64 `json:"low_warning"`
	LowAlarm    float64 `json:"low_alarm"`
}

// Valid checks high_alarm >= high_warning >= low_warning >= low_alarm.
func (t Thresholds) Valid() bool {
	return t.HighAlarm >= t.HighWarning && t.HighWarning >= t.LowWarning && t.LowWarning >= t.LowAlarm
}

// Band is the result of a raw threshold comparison.
type Band int

const (
	BandOK Band = iota
	BandWarning
	BandAlarm
)

func (b Band) String() string {
	switch b {
	case BandWarning:
		return "WARNING"
	case BandAlarm:
		return "ALARM"
	default:
		return "OK"
	}
}

// Classify compares v against the tuple. Limits are inclusive.
func (t Thresholds) Classify(v float64) Band {
	switch {
	case v >= t.HighAlarm || v <= t.LowAlarm:
		return BandAlarm
	case v >= t.HighWarning || v <= t.LowWarning:
		return BandWarning
	default:
		return BandOK
	}
}

// Register describes one named register of a controller kind.
type Register struct {
	Name       string
	Address    uint16
	Count      uint16
	Type       DataType
	Static     bool
	Writable   bool
	Conversion Conversion
	Unit       string
	Scale      float64
	Field      PortField
	Enum       map[int]string
	Flags      []string
	Thresholds *Thresholds
	Aliases    []string
}

// End is the last address covered by the register (inclusive).
func (r *Register) End() uint32 {
	return uint32(r.Address) + uint32(r.Count) - 1
}

// Overlaps reports whether the two address ranges intersect.
func (r *Register) Overlaps(o *Register) bool {
	return !(r.End() < uint32(o.Address) || uint32(r.Address) > o.End())
}

// AliasOf reports a deliberate alias: same range, both disambiguated by a field selector.
func (r *Register) AliasOf(o *Register) bool {
	return r.Address == o.Address && r.Count == o.Count &&
		r.Field != FieldNone && o.Field != FieldNone
}

// ControllerKind is one kind resolved at one protocol revision. Immutable.
type ControllerKind struct {
	Kind      Kind
	Revision  int
	Station   uint8
	Ports     int
	Registers []*Register

	byName map[string]*Register
}

func newControllerKind(kind Kind, revision int, station uint8, ports int, regs []*Register) *ControllerKind {
	ck := &ControllerKind{
		Kind:      kind,
		Revision:  revision,
		Station:   station,
		Ports:     ports,
		Registers: regs,
		byName:    make(map[string]*Register, len(regs)),
	}
	for _, r := range regs {
		ck.byName[r.Name] = r
		for _, a := range r.Aliases {
			ck.byName[a] = r
		}
	}
	return ck
}

// Lookup finds a register by canonical name or alias.
func (k *ControllerKind) Lookup(name string) (*Register, bool) {
	r, ok := k.byName[name]
	return r, ok
}

// Static returns the read-once registers in address order.
func (k *ControllerKind) Static() []*Register {
	return k.filter(func(r *Register) bool { return r.Static })
}

// Dynamic returns the registers re-read every cycle in address order.
func (k *ControllerKind) Dynamic() []*Register {
	return k.filter(func(r *Register) bool { return !r.Static })
}

// SharingRange returns every register decoded from exactly the same words as r
// (r included), so that one read refreshes all aliased fields.
func (k *ControllerKind) SharingRange(r *Register) []*Register {
	return k.filter(func(o *Register) bool {
		return o == r || (o.Address == r.Address && o.Count == r.Count)
	})
}

func (k *ControllerKind) filter(keep func(*Register) bool) []*Register {
	var out []*Register
	for _, r := range k.Registers {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}
