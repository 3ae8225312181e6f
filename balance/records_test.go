package balance

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestRecords(t *testing.T) {
	recs := []map[string]any{
		{"id": float64(1), "kind": "video"},
		{"id": "x-2", "kind": " image "},
		{"id": 3, "kind": "video"},
	}
	got, err := Records(recs, "id", "kind")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	want := []Item{{"1", "video"}, {"x-2", "image"}, {"3", "video"}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestRecordsMissingType(t *testing.T) {
	cases := []map[string]any{
		{"id": "1"},
		{"id": "1", "kind": nil},
		{"id": "1", "kind": "  "},
	}
	for _, rec := range cases {
		_, err := Records([]map[string]any{rec}, "id", "kind")
		var me *MissingTypeFieldError
		if !errors.As(err, &me) || me.Field != "kind" || me.ItemID != "1" {
			t.Fatalf("record %v: want MissingTypeFieldError, got %v", rec, err)
		}
	}
	if _, err := Records([]map[string]any{{"id": "1", "kind": "a"}}, "id", ""); err == nil {
		t.Fatalf("empty type field should fail")
	}
	if _, err := Records([]map[string]any{{"kind": "a"}}, "", "kind"); err == nil {
		t.Fatalf("missing id should fail")
	}
}

func TestRecordsNumberTextIsKept(t *testing.T) {
	recs := []map[string]any{
		{"id": json.Number("1"), "kind": "video"},
		{"id": json.Number("1.0"), "kind": "video"},
	}
	got, err := Records(recs, "id", "kind")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	if got[0].ID != "1" || got[1].ID != "1.0" {
		t.Fatalf("ids %q %q", got[0].ID, got[1].ID)
	}

	// float64 decoding loses the distinction
	_, err = Balance(mustRecords(t, []map[string]any{
		{"id": float64(1), "kind": "video"},
		{"id": "1", "kind": "post"},
	}), FirstSeenPolicy())
	var de *DuplicateItemError
	if !errors.As(err, &de) {
		t.Fatalf("want DuplicateItemError, got %v", err)
	}
}

func mustRecords(t *testing.T, recs []map[string]any) []Item {
	t.Helper()
	items, err := Records(recs, "id", "kind")
	if err != nil {
		t.Fatalf("Records: %v", err)
	}
	return items
}
