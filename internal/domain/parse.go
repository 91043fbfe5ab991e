package domain

import (
	"math"
	"strconv"
	"strings"
)

// Required export columns.
const (
	ColumnDescription = "description"
	ColumnMetric      = "metric"
	ColumnAttribute   = "attribute"
	ColumnValue       = "value"
)

// ParseStats counts rows seen by ParseRecords.
type ParseStats struct {
	Total   int
	Parsed  int
	Dropped int
	// Missing names required columns absent from the header. Every row is
	// dropped when it is non-empty.
	Missing []string
}

// ParseRecords turns the raw table into typed records. Rows that are too short
// or whose value is not numeric are skipped and counted. The first row's value,
// when numeric, is returned as the cumulative total.
//
// Parsing never fails. A header without the required columns matches no row,
// so every row is dropped and the missing names are reported in the stats.
func ParseRecords(t Table) ([]Record, int64, ParseStats) {
	stats := ParseStats{Total: len(t.Rows)}
	if len(t.Rows) == 0 {
		return []Record{}, 0, stats
	}

	idx, missing := columnIndex(t.Columns)
	if len(missing) > 0 {
		stats.Dropped = stats.Total
		stats.Missing = missing
		return []Record{}, 0, stats
	}

	var total int64
	records := make([]Record, 0, len(t.Rows))
	for i, row := range t.Rows {
		rec, ok := parseRow(row, idx)
		if i == 0 && ok {
			total = int64(math.Round(rec.Value))
		}
		if !ok {
			stats.Dropped++
			continue
		}
		records = append(records, rec)
	}
	stats.Parsed = len(records)
	return records, total, stats
}

type columns struct {
	description, metric, attribute, value int
}

// columnIndex locates the required columns and returns the names it could not find.
func columnIndex(header []string) (columns, []string) {
	pos := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, seen := pos[key]; !seen {
			pos[key] = i
		}
	}

	var missing []string
	lookup := func(name string) int {
		i, ok := pos[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}
	c := columns{
		description: lookup(ColumnDescription),
		metric:      lookup(ColumnMetric),
		attribute:   lookup(ColumnAttribute),
		value:       lookup(ColumnValue),
	}
	return c, missing
}

func parseRow(row []string, c columns) (Record, bool) {
	width := max(c.description, c.metric, c.attribute, c.value) + 1
	if len(row) < width {
		return Record{}, false
	}
	value, ok := parseValue(row[c.value])
	if !ok {
		return Record{}, false
	}
	return Record{
		Description: strings.TrimSpace(row[c.description]),
		Metric:      strings.TrimSpace(row[c.metric]),
		DateLabel:   strings.TrimSpace(row[c.attribute]),
		Value:       value,
	}, true
}

// parseValue accepts plain and thousands-separated numbers ("1,234.5").
func parseValue(s string) (float64, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
