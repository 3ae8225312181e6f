package balance

import "fmt"

// InvalidPolicyError reports a type-order policy that cannot be applied.
type InvalidPolicyError struct {
	Label  string // offending label, empty when the policy itself is malformed
	Reason string
}

func (e *InvalidPolicyError) Error() string {
	if e.Label == "" {
		return "balance: invalid policy: " + e.Reason
	}
	return fmt.Sprintf("balance: invalid policy: label %q: %s", e.Label, e.Reason)
}

// MissingTypeFieldError reports an item whose type label cannot be resolved.
type MissingTypeFieldError struct {
	ItemID string
	Field  string
}

func (e *MissingTypeFieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("balance: item %q has no type label", e.ItemID)
	}
	return fmt.Sprintf("balance: item %q has no value for type field %q", e.ItemID, e.Field)
}

// DuplicateItemError reports an id that appears more than once in the input.
type DuplicateItemError struct {
	ItemID string
}

func (e *DuplicateItemError) Error() string {
	return fmt.Sprintf("balance: duplicate item id %q", e.ItemID)
}
