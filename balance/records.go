package balance

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Records turns generic records (decoded JSON rows, query results) into
// Items. idField and typeField name the keys holding the identity and the
// type label. Non-string values are formatted with fmt, and json.Number
// keeps its source text. Ids are compared as text: 1 and "1" are the same
// item, and so are float64(1) and 1. Decode with json.Decoder.UseNumber to
// keep 1 and 1.0 apart.
func Records(records []map[string]any, idField, typeField string) ([]Item, error) {
	if idField == "" {
		idField = "id"
	}
	items := make([]Item, 0, len(records))
	for i, r := range records {
		rawID, ok := r[idField]
		if !ok || rawID == nil {
			return nil, fmt.Errorf("balance: record %d has no %q field", i, idField)
		}
		id := stringify(rawID)

		if typeField == "" {
			return nil, &MissingTypeFieldError{ItemID: id}
		}
		rawType, ok := r[typeField]
		if !ok || rawType == nil {
			return nil, &MissingTypeFieldError{ItemID: id, Field: typeField}
		}
		label := strings.TrimSpace(stringify(rawType))
		if label == "" {
			return nil, &MissingTypeFieldError{ItemID: id, Field: typeField}
		}
		items = append(items, Item{ID: id, Type: label})
	}
	return items, nil
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		// encoding/json decodes every number as float64
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprint(t)
	default:
		return fmt.Sprint(t)
	}
}
