package balance

import (
	"fmt"
	"strings"
)

// Kind selects how the rotation order of type labels is resolved.
type Kind int

const (
	// FirstSeen orders labels by the position of their first occurrence.
	FirstSeen Kind = iota
	// FrequencyAscending puts the rarest labels first; ties keep first-seen order.
	FrequencyAscending
	// Alphabetical orders labels byte-wise.
	Alphabetical
	// Explicit uses Policy.Order, followed by any unlisted labels in first-seen order.
	Explicit
)

func (k Kind) String() string {
	switch k {
	case FirstSeen:
		return "first-seen"
	case FrequencyAscending:
		return "frequency"
	case Alphabetical:
		return "alphabetical"
	case Explicit:
		return "explicit"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Policy is the type-order policy. The zero value is FirstSeen.
type Policy struct {
	Kind  Kind
	Order []string // Explicit only

	// IgnoreUnknown lets an Explicit order name labels that are absent from
	// the data. Without it such a label is an InvalidPolicyError.
	IgnoreUnknown bool
}

func FirstSeenPolicy() Policy    { return Policy{Kind: FirstSeen} }
func FrequencyPolicy() Policy    { return Policy{Kind: FrequencyAscending} }
func AlphabeticalPolicy() Policy { return Policy{Kind: Alphabetical} }

// ExplicitPolicy rotates the given labels in order.
func ExplicitPolicy(labels ...string) Policy {
	return Policy{Kind: Explicit, Order: append([]string(nil), labels...)}
}

// AllowUnknown returns a copy of p that skips Explicit labels missing from the data.
func (p Policy) AllowUnknown() Policy {
	p.IgnoreUnknown = true
	p.Order = append([]string(nil), p.Order...)
	return p
}

// ParsePolicy maps a policy name (as printed by Kind.String) and an optional
// explicit order to a Policy. An empty name is FirstSeen.
func ParsePolicy(name string, order []string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "first-seen", "first_seen", "firstseen":
		return FirstSeenPolicy(), nil
	case "frequency", "frequency-ascending", "frequency_ascending":
		return FrequencyPolicy(), nil
	case "alphabetical", "alpha":
		return AlphabeticalPolicy(), nil
	case "explicit":
		p := ExplicitPolicy(order...)
		if err := p.Validate(); err != nil {
			return Policy{}, err
		}
		return p, nil
	default:
		return Policy{}, &InvalidPolicyError{Reason: fmt.Sprintf("unknown policy %q", name)}
	}
}

// Validate checks the policy on its own, without looking at any data.
func (p Policy) Validate() error {
	switch p.Kind {
	case FirstSeen, FrequencyAscending, Alphabetical:
		if len(p.Order) > 0 {
			return &InvalidPolicyError{Reason: p.Kind.String() + " policy does not take an explicit order"}
		}
		return nil
	case Explicit:
		if len(p.Order) == 0 {
			return &InvalidPolicyError{Reason: "explicit policy needs at least one label"}
		}
		seen := make(map[string]struct{}, len(p.Order))
		for _, l := range p.Order {
			if l == "" {
				return &InvalidPolicyError{Reason: "explicit policy contains an empty label"}
			}
			if _, dup := seen[l]; dup {
				return &InvalidPolicyError{Label: l, Reason: "listed more than once"}
			}
			seen[l] = struct{}{}
		}
		return nil
	default:
		return &InvalidPolicyError{Reason: fmt.Sprintf("unknown policy kind %d", int(p.Kind))}
	}
}

// Descriptor is the policy's contribution to a cache fingerprint.
func (p Policy) Descriptor() map[string]any {
	d := map[string]any{"policy": p.Kind.String()}
	if p.Kind == Explicit {
		d["order"] = append([]string(nil), p.Order...)
		if p.IgnoreUnknown {
			d["ignore_unknown"] = true
		}
	}
	return d
}
