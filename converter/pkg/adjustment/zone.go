package adjustment

import "sort"

// Zone is a named group of locations. It covers a location set when every member
// is present in that set.
type Zone struct {
	Name    string
	Members map[string]struct{}
}

func NewZone(name string, members ...string) Zone {
	z := Zone{Name: name, Members: make(map[string]struct{}, len(members))}
	for _, m := range members {
		z.Members[m] = struct{}{}
	}
	return z
}

func (z Zone) Size() int {
	return len(z.Members)
}

// CoveredBy reports whether every member of z is in set. Empty zones never cover.
func (z Zone) CoveredBy(set map[string]struct{}) bool {
	if len(z.Members) == 0 || len(z.Members) > len(set) {
		return false
	}
	for m := range z.Members {
		if _, ok := set[m]; !ok {
			return false
		}
	}
	return true
}

// Zones maps zone name to zone.
type Zones map[string]Zone

// Add merges members into the named zone, creating it if needed.
func (zs Zones) Add(name string, members ...string) {
	z, ok := zs[name]
	if !ok {
		z = NewZone(name)
	}
	for _, m := range members {
		z.Members[m] = struct{}{}
	}
	zs[name] = z
}

// BySize returns the zones largest first, ties broken by name.
func (zs Zones) BySize() []Zone {
	out := make([]Zone, 0, len(zs))
	for _, z := range zs {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Size() != out[j].Size() {
			return out[i].Size() > out[j].Size()
		}
		return out[i].Name < out[j].Name
	})
	return out
}
