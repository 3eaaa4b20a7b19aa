package druid

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ReshapeRows turns a header-row tabular result into ordered per-row
// mappings. Row 0 carries the column names; rows 1..n carry the values in
// parallel positions. An empty input yields an empty result with no header.
func ReshapeRows(rows [][]any) *QueryResult {
	if len(rows) == 0 {
		return &QueryResult{Rows: []map[string]any{}, ColumnOrder: []string{}}
	}

	header := make([]string, len(rows[0]))
	for i, cell := range rows[0] {
		if s, ok := cell.(string); ok {
			header[i] = s
		} else {
			header[i] = fmt.Sprint(cell)
		}
	}

	out := make([]map[string]any, 0, len(rows)-1)
	for _, row := range rows[1:] {
		record := make(map[string]any, len(header))
		for i, col := range header {
			if i < len(row) {
				record[col] = row[i]
			} else {
				record[col] = nil
			}
		}
		out = append(out, record)
	}

	if len(out) == 0 {
		return &QueryResult{Rows: []map[string]any{}, ColumnOrder: []string{}}
	}
	return &QueryResult{Rows: out, ColumnOrder: header}
}

// FlattenSegmentMap flattens the coordinator's keyed segment map (datasource
// name -> object embedding a "segments" array) into one uniform sequence.
// Order is document key order, then within-key array order, making the
// function idempotent and order-stable for identical input. An absent
// segments sub-array is treated as empty.
func FlattenSegmentMap(data []byte) ([]Segment, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("decode segment map: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("decode segment map: expected object, got %v", tok)
	}

	var out []Segment
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("decode segment map key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("decode segment map: non-string key %v", keyTok)
		}

		var entry struct {
			Segments []Segment `json:"segments"`
		}
		if err := dec.Decode(&entry); err != nil {
			return nil, fmt.Errorf("decode segment map entry %q: %w", key, err)
		}
		for _, seg := range entry.Segments {
			if seg.Datasource == "" {
				seg.Datasource = key
			}
			out = append(out, seg)
		}
	}

	if out == nil {
		out = []Segment{}
	}
	return out, nil
}

// buildDatasourceMetadata is the fan-in step of GetDatasourceMetadata. The
// size and count aggregates are grounded on the segment list alone and are
// computed even for zero segments. props and cols come from degradable
// sub-fetches and may be nil.
func buildDatasourceMetadata(name string, segments []Segment, props *datasourceProperties, cols []ColumnInfo) *DatasourceMetadata {
	md := &DatasourceMetadata{
		ID:        name,
		Intervals: []string{},
		Columns:   []ColumnInfo{},
	}
	for _, seg := range segments {
		md.TotalSizeBytes += seg.SizeBytes
	}
	md.SegmentCount = len(segments)
	if props != nil {
		if len(props.Segments.Intervals) > 0 {
			md.Intervals = props.Segments.Intervals
		}
		md.QueryGranularity = props.QueryGranularity
		md.SegmentGranularity = props.SegmentGranularity
		md.Rollup = props.Rollup
	}
	if len(cols) > 0 {
		md.Columns = cols
	}
	return md
}
