// internal/simulator/populate.go
package simulator

import (
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/codec"
	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
)

// Populate fills station with plausible readings for every register of ck:
// thresholds mid-band, enums and flags at their zero state, ports enabled
// and online. It returns the registers it could not encode.
func (b *Bus) Populate(station uint8, ck *registermap.ControllerKind) []string {
	var skipped []string

	for _, r := range ck.Registers {
		v, ok := sample(ck, r)
		if !ok {
			continue
		}
		words, err := codec.Encode(r, v)
		if err != nil {
			skipped = append(skipped, r.Name)
			continue
		}
		b.Set(station, r.Address, words...)
	}

	if ck.Ports > 0 {
		for _, r := range ck.Registers {
			if r.Conversion != registermap.ConvPortField {
				continue
			}
			b.Ports(station, r.Address, r.Count)
			words := make([]uint16, r.Count)
			for i := range words {
				words[i] = withPower(bitEnable | bitOnline)
			}
			b.Set(station, r.Address, words...)
			break
		}
	}
	return skipped
}

func sample(ck *registermap.ControllerKind, r *registermap.Register) (any, bool) {
	switch {
	case r.Name == "modbus_register_map_revision":
		return int64(ck.Revision), true
	case r.Conversion == registermap.ConvPortField:
		return nil, false
	case r.Thresholds != nil:
		return (r.Thresholds.HighWarning + r.Thresholds.LowWarning) / 2, true
	}

	switch r.Conversion {
	case registermap.ConvEnum:
		for k := range r.Enum {
			if k == 0 {
				return 0, true
			}
		}
		return nil, false
	case registermap.ConvFlags:
		return []string{}, true
	case registermap.ConvASCII, registermap.ConvHex:
		return nil, false
	case registermap.ConvScaled, registermap.ConvSignedScaled, registermap.ConvFloat32:
		return 1.0, true
	case registermap.ConvBool:
		return false, true
	case registermap.ConvWords:
		out := make([]any, r.Count)
		for i := range out {
			out[i] = 0
		}
		return out, true
	default:
		return 1, true
	}
}
