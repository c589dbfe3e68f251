// internal/registermap/validate.go
package registermap

import (
	"fmt"
)

// validateKind checks one resolved revision.
// It performs declarative validation only and MUST NOT mutate the kind.
func validateKind(ck *ControllerKind) error {
	// ------------------------------------------------------------
	// NAMES AND ALIASES
	// ------------------------------------------------------------

	owner := make(map[string]string)
	for _, r := range ck.Registers {
		names := append([]string{r.Name}, r.Aliases...)
		for _, n := range names {
			if prev, exists := owner[n]; exists {
				return fmt.Errorf("%w: %q used by %q and %q", ErrDuplicateRegister, n, prev, r.Name)
			}
			owner[n] = r.Name
		}
	}

	// ------------------------------------------------------------
	// PER-REGISTER SHAPE
	// ------------------------------------------------------------

	for _, r := range ck.Registers {
		spec, ok := conversions[r.Conversion]
		if !ok {
			return fmt.Errorf("%w: register %q", ErrUnknownConversion, r.Name)
		}
		if spec.words != 0 && r.Count != spec.words {
			return fmt.Errorf("register %q: %s needs %d words, declared %d", r.Name, r.Conversion, spec.words, r.Count)
		}

		switch r.Conversion {
		case ConvRaw:
			if r.Count > 4 {
				return fmt.Errorf("register %q: raw integers span at most 4 words", r.Name)
			}
		case ConvScaled:
			if r.Count > 2 {
				return fmt.Errorf("register %q: scaled values span at most 2 words", r.Name)
			}
		case ConvEnum:
			if len(r.Enum) == 0 {
				return fmt.Errorf("register %q: enum without values", r.Name)
			}
		case ConvFlags:
			if len(r.Flags) == 0 || len(r.Flags) > 16*int(r.Count) {
				return fmt.Errorf("register %q: %d flags do not fit %d words", r.Name, len(r.Flags), r.Count)
			}
		case ConvPortField:
			if ck.Ports == 0 || int(r.Count) != ck.Ports {
				return fmt.Errorf("register %q: port field spans %d words, kind has %d ports", r.Name, r.Count, ck.Ports)
			}
		}

		if r.Thresholds != nil && !r.Thresholds.Valid() {
			return fmt.Errorf("%w: register %q %+v", ErrBadThresholds, r.Name, *r.Thresholds)
		}
	}

	// ------------------------------------------------------------
	// ADDRESS GEOMETRY
	// ------------------------------------------------------------

	type span struct {
		start uint32
		end   uint32
		reg   *Register
	}

	var spans []span
	for _, r := range ck.Registers {
		for _, s := range spans {
			// overlap check (inclusive), deliberate field aliasing excepted
			if r.AliasOf(s.reg) && r.Static != s.reg.Static {
				return fmt.Errorf("%w: aliases %q and %q disagree on static", ErrAddressOverlap, r.Name, s.reg.Name)
			}
			if r.Overlaps(s.reg) && !r.AliasOf(s.reg) {
				return fmt.Errorf(
					"%w: %q range=%d-%d overlaps %q range=%d-%d",
					ErrAddressOverlap,
					r.Name, r.Address, r.End(),
					s.reg.Name, s.start, s.end,
				)
			}
		}
		spans = append(spans, span{start: uint32(r.Address), end: r.End(), reg: r})
	}

	return nil
}
