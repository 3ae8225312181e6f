package balance

import "sort"

// Item is one element of the collection being balanced.
type Item struct {
	ID   string
	Type string
}

type group struct {
	label string
	ids   []string
	first int // input position of the first member
}

// Balance returns the ids of items interleaved by type label according to p.
// The input slice is not modified.
func Balance(items []Item, p Policy) ([]string, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return []string{}, nil
	}

	groups, err := groupItems(items)
	if err != nil {
		return nil, err
	}
	rotation, err := rotationOrder(groups, p)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(items))
	cursors := make([]int, len(rotation))
	for len(out) < len(items) {
		for i, g := range rotation {
			if cursors[i] < len(g.ids) {
				out = append(out, g.ids[cursors[i]])
				cursors[i]++
			}
		}
	}
	return out, nil
}

func groupItems(items []Item) ([]*group, error) {
	byLabel := make(map[string]*group)
	seenIDs := make(map[string]struct{}, len(items))
	var groups []*group

	for i, it := range items {
		if it.Type == "" {
			return nil, &MissingTypeFieldError{ItemID: it.ID}
		}
		if _, dup := seenIDs[it.ID]; dup {
			return nil, &DuplicateItemError{ItemID: it.ID}
		}
		seenIDs[it.ID] = struct{}{}

		g, ok := byLabel[it.Type]
		if !ok {
			g = &group{label: it.Type, first: i}
			byLabel[it.Type] = g
			groups = append(groups, g) // first-seen order
		}
		g.ids = append(g.ids, it.ID)
	}
	return groups, nil
}

func rotationOrder(groups []*group, p Policy) ([]*group, error) {
	out := make([]*group, len(groups))
	copy(out, groups)

	switch p.Kind {
	case FirstSeen:
		return out, nil
	case FrequencyAscending:
		sort.SliceStable(out, func(i, j int) bool { return len(out[i].ids) < len(out[j].ids) })
		return out, nil
	case Alphabetical:
		sort.Slice(out, func(i, j int) bool { return out[i].label < out[j].label })
		return out, nil
	case Explicit:
		return explicitOrder(groups, p)
	default:
		return nil, p.Validate()
	}
}

func explicitOrder(groups []*group, p Policy) ([]*group, error) {
	byLabel := make(map[string]*group, len(groups))
	for _, g := range groups {
		byLabel[g.label] = g
	}

	out := make([]*group, 0, len(groups))
	listed := make(map[string]struct{}, len(p.Order))
	for _, l := range p.Order {
		listed[l] = struct{}{}
		g, ok := byLabel[l]
		if !ok {
			if p.IgnoreUnknown {
				continue
			}
			return nil, &InvalidPolicyError{Label: l, Reason: "not present in the data"}
		}
		out = append(out, g)
	}
	for _, g := range groups {
		if _, ok := listed[g.label]; !ok {
			out = append(out, g)
		}
	}
	return out, nil
}
