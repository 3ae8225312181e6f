// Package balance computes a type-balanced ordering of tagged items.
//
// Items are grouped by their type label (each group keeps its input order),
// the labels are arranged into a rotation order chosen by a Policy, and the
// output is built by sweeping that rotation repeatedly, taking one item from
// every group that still has items left. A group that runs out drops out of
// later sweeps without blocking the others.
//
//	items:  1:video 2:image 3:video 4:image 5:article
//	policy: FirstSeen (video, image, article)
//	output: 1 2 5 3 4
//
// The result is always a permutation of the input ids.
package balance
