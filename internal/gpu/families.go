package gpu

import "errors"

// FamilyCaps are the capabilities of one queue family.
type FamilyCaps struct {
	Graphics bool
	Compute  bool
	Transfer bool
	Present  bool
}

// SelectFamilies picks a family for each queue kind. Compute prefers a
// family without graphics support and falls back to any compute family;
// transfer prefers a transfer-only family. Graphics and present take the
// first family that supports them.
func SelectFamilies(caps []FamilyCaps) (Families, error) {
	graphics, ok := firstFamily(caps, func(c FamilyCaps) bool { return c.Graphics })
	if !ok {
		return Families{}, errors.New("no graphics queue family")
	}
	present, ok := firstFamily(caps, func(c FamilyCaps) bool { return c.Present })
	if !ok {
		return Families{}, errors.New("no present queue family")
	}
	compute, ok := firstFamily(caps, func(c FamilyCaps) bool { return c.Compute && !c.Graphics })
	if !ok {
		if compute, ok = firstFamily(caps, func(c FamilyCaps) bool { return c.Compute }); !ok {
			return Families{}, errors.New("no compute queue family")
		}
	}
	transfer, ok := firstFamily(caps, func(c FamilyCaps) bool { return c.Transfer && !c.Graphics && !c.Compute })
	if !ok {
		if transfer, ok = firstFamily(caps, func(c FamilyCaps) bool { return c.Transfer }); !ok {
			transfer = graphics
		}
	}
	return Families{
		Graphics: graphics,
		Compute:  compute,
		Transfer: transfer,
		Present:  present,
	}, nil
}

func firstFamily(caps []FamilyCaps, match func(FamilyCaps) bool) (Family, bool) {
	for i, c := range caps {
		if match(c) {
			return Family(i), true
		}
	}
	return 0, false
}

// Unique returns the distinct families in f, graphics first.
func (f Families) Unique() []Family {
	var out []Family
	seen := make(map[Family]bool)
	for _, fam := range []Family{f.Graphics, f.Compute, f.Transfer, f.Present} {
		if !seen[fam] {
			seen[fam] = true
			out = append(out, fam)
		}
	}
	return out
}
