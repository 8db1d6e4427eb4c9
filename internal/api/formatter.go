package api

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Row is one flat record of a response, keys in the order the server sent
// them.
type Row = orderedmap.OrderedMap[string, any]

// FormatCSV parses a CSV body with a header line. An empty body yields no
// rows.
func FormatCSV(resp *Response) ([]*Row, error) {
	if resp == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil, nil
	}
	cr := csv.NewReader(bytes.NewReader(resp.Body))
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	var rows []*Row
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}
		row := orderedmap.New[string, any](len(header))
		for i, name := range header {
			row.Set(name, rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FormatJSON parses a body holding an array of objects, or a single object.
// Nested values are flattened to their JSON text.
func FormatJSON(resp *Response) ([]*Row, error) {
	if resp == nil {
		return nil, nil
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return nil, nil
	}

	var rows []*Row
	switch body[0] {
	case '[':
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, fmt.Errorf("failed to decode json rows: %w", err)
		}
	case '{':
		row := orderedmap.New[string, any]()
		if err := json.Unmarshal(body, row); err != nil {
			return nil, fmt.Errorf("failed to decode json row: %w", err)
		}
		rows = []*Row{row}
	default:
		return nil, fmt.Errorf("unexpected json document starting with %q", body[0])
	}

	out := rows[:0]
	for _, row := range rows {
		if row == nil {
			continue
		}
		if err := flatten(row); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, nil
}

func flatten(row *Row) error {
	for p := row.Oldest(); p != nil; p = p.Next() {
		switch p.Value.(type) {
		case map[string]any, []any:
			b, err := json.Marshal(p.Value)
			if err != nil {
				return err
			}
			p.Value = string(b)
		}
	}
	return nil
}

// FieldAt returns the key and value at position i of row.
func FieldAt(row *Row, i int) (string, any, bool) {
	if row == nil || i < 0 {
		return "", nil, false
	}
	p := row.Oldest()
	for ; p != nil && i > 0; i-- {
		p = p.Next()
	}
	if p == nil {
		return "", nil, false
	}
	return p.Key, p.Value, true
}
