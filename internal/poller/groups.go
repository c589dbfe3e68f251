// internal/poller/groups.go
package poller

import (
	"fmt"
	"sort"

	"github.com/ska-telescope/ska-low-mccs-pasd-sub000/internal/registermap"
)

// maxReadWords is the Modbus limit for one read holding registers request.
const maxReadWords = 125

// Group is one contiguous block read in a single transaction.
// Registers sharing a range (field aliases) always land in the same group.
type Group struct {
	Start     uint16
	Count     uint16
	Static    bool
	Registers []*registermap.Register
}

func (g *Group) String() string {
	kind := "dynamic"
	if g.Static {
		kind = "static"
	}
	return fmt.Sprintf("%s@%d+%d", kind, g.Start, g.Count)
}

func (g *Group) end() uint32 { return uint32(g.Start) + uint32(g.Count) - 1 }

// buildGroups packs registers into contiguous blocks of at most maxReadWords.
// Static and dynamic registers never share a block.
func buildGroups(kind *registermap.ControllerKind) (static, dynamic []*Group) {
	return pack(kind.Static(), true), pack(kind.Dynamic(), false)
}

func pack(regs []*registermap.Register, static bool) []*Group {
	sorted := append([]*registermap.Register(nil), regs...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Address < sorted[j].Address })

	var out []*Group
	var cur *Group
	for _, r := range sorted {
		if cur != nil {
			contiguous := uint32(r.Address) <= cur.end()+1
			end := cur.end()
			if r.End() > end {
				end = r.End()
			}
			if contiguous && end-uint32(cur.Start)+1 <= maxReadWords {
				cur.Count = uint16(end - uint32(cur.Start) + 1)
				cur.Registers = append(cur.Registers, r)
				continue
			}
		}
		cur = &Group{Start: r.Address, Count: r.Count, Static: static, Registers: []*registermap.Register{r}}
		out = append(out, cur)
	}
	return out
}

// rangeGroup reads exactly the words behind r, refreshing every alias of it.
func rangeGroup(kind *registermap.ControllerKind, r *registermap.Register) *Group {
	return &Group{Start: r.Address, Count: r.Count, Static: r.Static, Registers: kind.SharingRange(r)}
}
