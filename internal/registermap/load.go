// internal/registermap/load.go
package registermap

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---- document shape ----

type rawRegister struct {
	Address    *int           `yaml:"address"`
	Size       int            `yaml:"size"`
	Type       string         `yaml:"type"`
	Conversion string         `yaml:"conversion"`
	Static     bool           `yaml:"static"`
	Writable   bool           `yaml:"writable"`
	Unit       string         `yaml:"unit"`
	Scale      float64        `yaml:"scale"`
	Field      string         `yaml:"field"`
	Values     map[int]string `yaml:"values"`
	Flags      []string       `yaml:"flags"`
	Thresholds []float64      `yaml:"default_thresholds"`
	Aliases    []string       `yaml:"aliases"`
}

type rawKind struct {
	Station      int       `yaml:"station"`
	Ports        int       `yaml:"ports"`
	BaseRevision int       `yaml:"base_revision"`
	Registers    yaml.Node `yaml:"registers"`
	Revisions    yaml.Node `yaml:"register_map_revisions"`
}

// ---- catalog ----

type definition struct {
	kind      Kind
	base      int
	revisions []int
	resolved  map[int]*ControllerKind
}

// Catalog holds every controller kind resolved at every declared revision.
// It is immutable after Load and safe for concurrent use.
type Catalog struct {
	defs map[Kind]*definition
}

// LoadFile reads and validates a register-map document from disk.
func LoadFile(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Load(b)
}

// Load parses and validates a register-map document.
// Every revision of every kind is resolved and validated up front.
func Load(data []byte) (*Catalog, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("registermap: parse: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, errors.New("registermap: empty document")
	}
	top := doc.Content[0]
	if top.Kind != yaml.MappingNode {
		return nil, errors.New("registermap: top level must be a mapping of controller kinds")
	}

	c := &Catalog{defs: make(map[Kind]*definition)}

	for i := 0; i+1 < len(top.Content); i += 2 {
		name := top.Content[i].Value
		kind, err := ParseKind(name)
		if err != nil {
			return nil, err
		}
		if _, dup := c.defs[kind]; dup {
			return nil, fmt.Errorf("registermap: controller kind %q defined twice", name)
		}

		var rk rawKind
		if err := top.Content[i+1].Decode(&rk); err != nil {
			return nil, fmt.Errorf("registermap: %s: %w", name, err)
		}

		def, err := buildDefinition(kind, rk)
		if err != nil {
			return nil, fmt.Errorf("registermap: %s: %w", name, err)
		}
		c.defs[kind] = def
	}

	return c, nil
}

func buildDefinition(kind Kind, rk rawKind) (*definition, error) {
	if rk.Station < 0 || rk.Station > 255 {
		return nil, fmt.Errorf("station %d out of range", rk.Station)
	}
	if rk.Ports < 0 {
		return nil, fmt.Errorf("ports %d out of range", rk.Ports)
	}
	base := rk.BaseRevision
	if base == 0 {
		base = 1
	}

	baseRegs, err := parseRegisters(&rk.Registers)
	if err != nil {
		return nil, err
	}

	overlays := map[int][]*Register{}
	if rk.Revisions.Kind == yaml.MappingNode {
		n := &rk.Revisions
		for i := 0; i+1 < len(n.Content); i += 2 {
			rev, err := strconv.Atoi(n.Content[i].Value)
			if err != nil {
				return nil, fmt.Errorf("revision key %q: %w", n.Content[i].Value, err)
			}
			if rev <= base {
				return nil, fmt.Errorf("%w: overlay %d must be newer than base %d", ErrUnknownRevision, rev, base)
			}
			if _, dup := overlays[rev]; dup {
				return nil, fmt.Errorf("revision %d defined twice", rev)
			}
			regs, err := parseRegisters(n.Content[i+1])
			if err != nil {
				return nil, fmt.Errorf("revision %d: %w", rev, err)
			}
			overlays[rev] = regs
		}
	}

	def := &definition{
		kind:      kind,
		base:      base,
		revisions: []int{base},
		resolved:  map[int]*ControllerKind{},
	}

	ck := newControllerKind(kind, base, uint8(rk.Station), rk.Ports, baseRegs)
	if err := validateKind(ck); err != nil {
		return nil, fmt.Errorf("revision %d: %w", base, err)
	}
	def.resolved[base] = ck

	revs := make([]int, 0, len(overlays))
	for r := range overlays {
		revs = append(revs, r)
	}
	sort.Ints(revs)

	prev := baseRegs
	for _, r := range revs {
		merged := mergeOverlay(prev, overlays[r])
		ck := newControllerKind(kind, r, uint8(rk.Station), rk.Ports, merged)
		if err := validateKind(ck); err != nil {
			return nil, fmt.Errorf("revision %d: %w", r, err)
		}
		def.resolved[r] = ck
		def.revisions = append(def.revisions, r)
		prev = merged
	}

	return def, nil
}

// mergeOverlay applies overrides in place (keeping declaration order) and appends additions.
// Overlays never delete.
func mergeOverlay(base, overlay []*Register) []*Register {
	out := make([]*Register, len(base))
	copy(out, base)

	idx := make(map[string]int, len(out))
	for i, r := range out {
		idx[r.Name] = i
	}
	for _, r := range overlay {
		if i, ok := idx[r.Name]; ok {
			out[i] = r
			continue
		}
		idx[r.Name] = len(out)
		out = append(out, r)
	}
	return out
}

// parseRegisters walks an ordered mapping so duplicate names are caught
// and declaration order is preserved.
func parseRegisters(n *yaml.Node) ([]*Register, error) {
	if n == nil || n.Kind == 0 {
		return nil, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, errors.New("registers must be a mapping")
	}

	seen := map[string]bool{}
	var out []*Register
	for i := 0; i+1 < len(n.Content); i += 2 {
		name := n.Content[i].Value
		if seen[name] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateRegister, name)
		}
		seen[name] = true

		var rr rawRegister
		if err := n.Content[i+1].Decode(&rr); err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
		r, err := toRegister(name, rr)
		if err != nil {
			return nil, fmt.Errorf("register %q: %w", name, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func toRegister(name string, rr rawRegister) (*Register, error) {
	if rr.Address == nil {
		return nil, errors.New("address required")
	}
	if *rr.Address < 0 || *rr.Address > 0xFFFF {
		return nil, fmt.Errorf("address %d out of range", *rr.Address)
	}
	size := rr.Size
	if size == 0 {
		size = 1
	}
	if size < 0 || size > 125 {
		return nil, fmt.Errorf("size %d out of range", size)
	}
	if *rr.Address+size-1 > 0xFFFF {
		return nil, fmt.Errorf("address range %d+%d exceeds register space", *rr.Address, size)
	}

	conv, err := ParseConversion(rr.Conversion)
	if err != nil {
		return nil, err
	}
	spec := conversions[conv]

	typ := DataType(rr.Type)
	if typ == "" {
		typ = spec.types[0]
	}
	allowed := false
	for _, t := range spec.types {
		if t == typ {
			allowed = true
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: %s cannot produce type %q", ErrUnknownConversion, conv, typ)
	}

	r := &Register{
		Name:       name,
		Address:    uint16(*rr.Address),
		Count:      uint16(size),
		Type:       typ,
		Static:     rr.Static,
		Writable:   rr.Writable,
		Conversion: conv,
		Unit:       rr.Unit,
		Scale:      rr.Scale,
		Enum:       rr.Values,
		Flags:      rr.Flags,
		Aliases:    rr.Aliases,
	}

	if conv == ConvScaled || conv == ConvSignedScaled {
		if r.Scale == 0 {
			r.Scale = 1
		}
		if r.Scale < 0 {
			return nil, fmt.Errorf("scale %v must be positive", r.Scale)
		}
	}

	if conv == ConvPortField {
		f, err := ParsePortField(rr.Field)
		if err != nil {
			return nil, err
		}
		r.Field = f
	} else if rr.Field != "" {
		return nil, fmt.Errorf("field selector %q only valid with port_field", rr.Field)
	}

	if rr.Thresholds != nil {
		if len(rr.Thresholds) != 4 {
			return nil, fmt.Errorf("%w: need 4 values, got %d", ErrBadThresholds, len(rr.Thresholds))
		}
		r.Thresholds = &Thresholds{
			HighAlarm:   rr.Thresholds[0],
			HighWarning: rr.Thresholds[1],
			LowWarning:  rr.Thresholds[2],
			LowAlarm:    rr.Thresholds[3],
		}
	}

	return r, nil
}

// ---- lookups ----

// Resolve returns kind merged with every overlay up to and including revision.
// Revision 0 selects the base map.
func (c *Catalog) Resolve(kind Kind, revision int) (*ControllerKind, error) {
	def, ok := c.defs[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
	if revision == 0 {
		revision = def.base
	}
	ck, ok := def.resolved[revision]
	if !ok {
		return nil, fmt.Errorf("%w: %s revision %d", ErrUnknownRevision, kind, revision)
	}
	return ck, nil
}

// Revisions lists the known revisions of kind in ascending order.
func (c *Catalog) Revisions(kind Kind) []int {
	def, ok := c.defs[kind]
	if !ok {
		return nil
	}
	out := make([]int, len(def.revisions))
	copy(out, def.revisions)
	return out
}

// Kinds lists the kinds present in the catalog.
func (c *Catalog) Kinds() []Kind {
	out := make([]Kind, 0, len(c.defs))
	for k := range c.defs {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
