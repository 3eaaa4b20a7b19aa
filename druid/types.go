package druid

import "encoding/json"

// QueryResult is a reshaped SQL result: one ordered mapping per data row.
// ColumnOrder preserves the header order for display; it is empty iff Rows
// is empty.
type QueryResult struct {
	Rows        []map[string]any `json:"rows"`
	ColumnOrder []string         `json:"columnOrder"`
}

// Segment is an immutable partition of a datasource's stored data. Segments
// are read-only facts fetched per call and never cached.
type Segment struct {
	Datasource string `json:"dataSource"`
	Interval   string `json:"interval"`
	Version    string `json:"version"`
	Partition  int    `json:"partition"`
	SizeBytes  int64  `json:"sizeBytes"`
}

// UnmarshalJSON accepts both wire spellings the coordinator uses for the
// partition number ("partitionNum" on ?full listings, "partition" on the
// simplified shape) and maps "size" onto SizeBytes.
func (s *Segment) UnmarshalJSON(data []byte) error {
	var w struct {
		DataSource   string `json:"dataSource"`
		Interval     string `json:"interval"`
		Version      string `json:"version"`
		Partition    *int   `json:"partition"`
		PartitionNum *int   `json:"partitionNum"`
		Size         int64  `json:"size"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Datasource = w.DataSource
	s.Interval = w.Interval
	s.Version = w.Version
	switch {
	case w.PartitionNum != nil:
		s.Partition = *w.PartitionNum
	case w.Partition != nil:
		s.Partition = *w.Partition
	default:
		s.Partition = 0
	}
	s.SizeBytes = w.Size
	return nil
}

// ColumnInfo describes one column of a datasource.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// DatasourceMetadata aggregates a single call's fan-in over segments,
// datasource properties, and column introspection. It is never persisted.
type DatasourceMetadata struct {
	ID                 string       `json:"id"`
	Intervals          []string     `json:"intervals"`
	Columns            []ColumnInfo `json:"columns"`
	TotalSizeBytes     int64        `json:"totalSizeBytes"`
	SegmentCount       int          `json:"segmentCount"`
	QueryGranularity   string       `json:"queryGranularity,omitempty"`
	SegmentGranularity string       `json:"segmentGranularity,omitempty"`
	Rollup             bool         `json:"rollup"`
}

// Status is the upstream health report.
type Status struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// datasourceProperties is the coordinator's per-datasource document. The
// interval list and the granularity fields ride on it.
type datasourceProperties struct {
	Name     string `json:"name"`
	Segments struct {
		Intervals []string `json:"intervals"`
	} `json:"segments"`
	QueryGranularity   string `json:"queryGranularity"`
	SegmentGranularity string `json:"segmentGranularity"`
	Rollup             bool   `json:"rollup"`
}
