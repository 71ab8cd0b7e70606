package action

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
	"github.com/tidwall/gjson"
)

// ExtractField pulls one field out of a rule's event/action data by a
// simple dotted path (e.g. "transaction.amount") — the common case when
// building a template's data set from the event that triggered a match.
func ExtractField(data map[string]any, path string) (any, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("action: marshaling data for extraction: %w", err)
	}
	res := gjson.GetBytes(b, path)
	if !res.Exists() {
		return nil, fmt.Errorf("action: path %q not found", path)
	}
	return res.Value(), nil
}

// Query runs a gojq expression against data, for descriptors that need
// more than a dotted path (filtering/mapping over nested structures before
// handing the result to the template).
func Query(data map[string]any, expr string) (any, error) {
	q, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("action: parsing query %q: %w", expr, err)
	}
	iter := q.Run(data)
	v, ok := iter.Next()
	if !ok {
		return nil, fmt.Errorf("action: query %q produced no result", expr)
	}
	if err, ok := v.(error); ok {
		return nil, fmt.Errorf("action: query %q failed: %w", expr, err)
	}
	return v, nil
}
