// internal/simulator/ports.go
package simulator

const (
	bitEnable  = 0x8000
	bitOnline  = 0x4000
	maskDSON   = 0x3000
	maskDSOFF  = 0x0C00
	maskTO     = 0x0300
	bitSensed  = 0x0080
	bitPower   = 0x0040
	stateOn    = 0b11
	stateOff   = 0b10
	shiftDSON  = 12
	shiftDSOFF = 10
	shiftTO    = 8
)

type portBlock struct {
	start uint16
	n     uint16
}

func (p portBlock) contains(a uint16) bool {
	return a >= p.start && a < p.start+p.n
}

// Ports marks n words at start on station as port status words.
// Writes to them follow firmware rules instead of plain stores.
func (b *Bus) Ports(station uint8, start, n uint16) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ports[station] = portBlock{start: start, n: n}
}

// mergePortWord applies a written port word to the current one.
// Two-bit override fields of 00 keep their current setting; a set
// sensed bit acts as a breaker reset. The power bit is recomputed.
func mergePortWord(cur, w uint16) uint16 {
	next := cur
	for _, m := range []uint16{maskDSON, maskDSOFF, maskTO} {
		if w&m != 0 {
			next = next&^m | w&m
		}
	}
	if w&bitSensed != 0 {
		next &^= bitSensed
	}
	return withPower(next)
}

func withPower(w uint16) uint16 {
	to := (w & maskTO) >> shiftTO
	dson := (w & maskDSON) >> shiftDSON
	dsoff := (w & maskDSOFF) >> shiftDSOFF

	on := false
	switch {
	case w&bitEnable == 0:
		on = false
	case to == stateOn:
		on = true
	case to == stateOff:
		on = false
	case w&bitOnline != 0:
		on = dson == stateOn
	default:
		on = dsoff == stateOn
	}

	if on {
		return w | bitPower
	}
	return w &^ bitPower
}
