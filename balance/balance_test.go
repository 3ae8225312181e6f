package balance

import (
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"testing"
)

func items(pairs ...string) []Item {
	out := make([]Item, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, Item{ID: pairs[i], Type: pairs[i+1]})
	}
	return out
}

var mixed = items("1", "video", "2", "image", "3", "video", "4", "image", "5", "article")

func TestBalanceFirstSeenScenario(t *testing.T) {
	got, err := Balance(mixed, FirstSeenPolicy())
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	want := []string{"1", "2", "5", "3", "4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBalanceZeroPolicyIsFirstSeen(t *testing.T) {
	a, _ := Balance(mixed, Policy{})
	b, _ := Balance(mixed, FirstSeenPolicy())
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("zero policy %v differs from first-seen %v", a, b)
	}
}

func TestBalancePolicies(t *testing.T) {
	in := items(
		"a1", "article",
		"v1", "video", "v2", "video", "v3", "video",
		"i1", "image", "i2", "image",
	)
	tests := []struct {
		name   string
		policy Policy
		want   []string
	}{
		{"first-seen", FirstSeenPolicy(), []string{"a1", "v1", "i1", "v2", "i2", "v3"}},
		{"frequency", FrequencyPolicy(), []string{"a1", "i1", "v1", "i2", "v2", "v3"}},
		{"alphabetical", AlphabeticalPolicy(), []string{"a1", "i1", "v1", "i2", "v2", "v3"}},
		{"explicit", ExplicitPolicy("video", "image", "article"), []string{"v1", "i1", "a1", "v2", "i2", "v3"}},
		{"explicit-partial", ExplicitPolicy("image"), []string{"i1", "a1", "v1", "i2", "v2", "v3"}},
		{"explicit-unknown-allowed", ExplicitPolicy("podcast", "video").AllowUnknown(), []string{"v1", "a1", "i1", "v2", "i2", "v3"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Balance(in, tc.policy)
			if err != nil {
				t.Fatalf("Balance: %v", err)
			}
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("got %v want %v", got, tc.want)
			}
		})
	}
}

func TestBalanceFrequencyTiesKeepFirstSeen(t *testing.T) {
	in := items("b1", "b", "a1", "a", "c1", "c", "c2", "c")
	got, err := Balance(in, FrequencyPolicy())
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b1", "a1", "c1", "c2"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestBalanceEdgeCases(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		got, err := Balance(nil, FirstSeenPolicy())
		if err != nil {
			t.Fatal(err)
		}
		if got == nil || len(got) != 0 {
			t.Fatalf("want empty non-nil slice, got %#v", got)
		}
	})
	t.Run("empty-explicit-data", func(t *testing.T) {
		got, err := Balance([]Item{}, ExplicitPolicy("video"))
		if err != nil || len(got) != 0 {
			t.Fatalf("got %v err %v", got, err)
		}
	})
	t.Run("single-type-keeps-order", func(t *testing.T) {
		in := items("3", "x", "1", "x", "2", "x")
		got, _ := Balance(in, AlphabeticalPolicy())
		if !reflect.DeepEqual(got, []string{"3", "1", "2"}) {
			t.Fatalf("got %v", got)
		}
	})
	t.Run("uniform-types", func(t *testing.T) {
		in := items("1", "a", "2", "b", "3", "c", "4", "a", "5", "b", "6", "c")
		got, _ := Balance(in, FirstSeenPolicy())
		if !reflect.DeepEqual(got, []string{"1", "2", "3", "4", "5", "6"}) {
			t.Fatalf("got %v", got)
		}
	})
}

func TestBalanceErrors(t *testing.T) {
	t.Run("explicit-unknown-label", func(t *testing.T) {
		_, err := Balance(mixed, ExplicitPolicy("video", "podcast"))
		var pe *InvalidPolicyError
		if !errors.As(err, &pe) || pe.Label != "podcast" {
			t.Fatalf("want InvalidPolicyError for podcast, got %v", err)
		}
	})
	t.Run("explicit-empty", func(t *testing.T) {
		_, err := Balance(mixed, Policy{Kind: Explicit})
		var pe *InvalidPolicyError
		if !errors.As(err, &pe) {
			t.Fatalf("want InvalidPolicyError, got %v", err)
		}
	})
	t.Run("explicit-duplicate", func(t *testing.T) {
		_, err := Balance(mixed, ExplicitPolicy("video", "video"))
		var pe *InvalidPolicyError
		if !errors.As(err, &pe) || pe.Label != "video" {
			t.Fatalf("want InvalidPolicyError for video, got %v", err)
		}
	})
	t.Run("order-on-non-explicit", func(t *testing.T) {
		_, err := Balance(mixed, Policy{Kind: Alphabetical, Order: []string{"x"}})
		var pe *InvalidPolicyError
		if !errors.As(err, &pe) {
			t.Fatalf("want InvalidPolicyError, got %v", err)
		}
	})
	t.Run("missing-type", func(t *testing.T) {
		_, err := Balance(items("1", "video", "2", ""), FirstSeenPolicy())
		var me *MissingTypeFieldError
		if !errors.As(err, &me) || me.ItemID != "2" {
			t.Fatalf("want MissingTypeFieldError for 2, got %v", err)
		}
	})
	t.Run("duplicate-id", func(t *testing.T) {
		_, err := Balance(items("1", "video", "1", "image"), FirstSeenPolicy())
		var de *DuplicateItemError
		if !errors.As(err, &de) || de.ItemID != "1" {
			t.Fatalf("want DuplicateItemError, got %v", err)
		}
	})
}

// Output is a permutation of the input and identical across runs.
func TestBalancePermutationAndDeterminism(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	labels := []string{"a", "b", "c", "d", "e"}
	policies := []Policy{FirstSeenPolicy(), FrequencyPolicy(), AlphabeticalPolicy(), ExplicitPolicy("c", "a")}

	for round := 0; round < 50; round++ {
		n := r.Intn(200)
		in := make([]Item, n)
		for i := range in {
			in[i] = Item{ID: fmt.Sprintf("id-%d", i), Type: labels[r.Intn(1+r.Intn(len(labels)))]}
		}
		for _, p := range policies {
			p = p.AllowUnknown()
			got, err := Balance(in, p)
			if err != nil {
				t.Fatalf("round %d policy %v: %v", round, p.Kind, err)
			}
			again, _ := Balance(in, p)
			if !reflect.DeepEqual(got, again) {
				t.Fatalf("non-deterministic output for %v", p.Kind)
			}
			assertPermutation(t, in, got)
		}
	}
}

// Within any prefix no label gets more than one rotation ahead of a label
// that still has items left.
func TestBalanceRotationFairness(t *testing.T) {
	in := items("a1", "a", "a2", "a", "a3", "a", "a4", "a", "b1", "b", "b2", "b", "c1", "c")
	got, err := Balance(in, FirstSeenPolicy())
	if err != nil {
		t.Fatal(err)
	}
	typeOf := map[string]string{}
	total := map[string]int{}
	for _, it := range in {
		typeOf[it.ID] = it.Type
		total[it.Type]++
	}
	taken := map[string]int{}
	for _, id := range got {
		taken[typeOf[id]]++
		for l, n := range taken {
			for other, m := range taken {
				if l == other || m >= total[other] {
					continue
				}
				if n-m > 1 {
					t.Fatalf("label %s is %d ahead of unfinished %s in %v", l, n-m, other, got)
				}
			}
		}
	}
}

func assertPermutation(t *testing.T, in []Item, out []string) {
	t.Helper()
	if len(in) != len(out) {
		t.Fatalf("length mismatch: in=%d out=%d", len(in), len(out))
	}
	a := make([]string, len(in))
	for i, it := range in {
		a[i] = it.ID
	}
	b := append([]string(nil), out...)
	sort.Strings(a)
	sort.Strings(b)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("output is not a permutation of the input")
	}
}
