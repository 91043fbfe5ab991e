package domain

import (
	"time"

	"gopkg.in/guregu/null.v3"
)

// Table is the raw row sequence handed over by a source. Columns holds the
// header row; each row is matched to it by position.
type Table struct {
	Columns []string
	Rows    [][]string
}

// Export is one read of the source: its decoded table and a digest of the raw
// bytes, so a scheduler can tell when nothing changed between reads.
type Export struct {
	Table       Table
	Fingerprint string
}

// Record is one typed row of the export.
type Record struct {
	Description string
	Metric      string
	DateLabel   string
	Value       float64
}

// DatedValue is a raw category entry keyed by its normalized date.
type DatedValue struct {
	Date  string    // canonical "MM-DD" key
	Day   time.Time // zero when the label could not be parsed
	Value float64
}

// Series holds one entry per canonical date index. An invalid entry means the
// day was not reported.
type Series []null.Float

// CanonicalAxis is the ordered list of date keys every series is aligned to.
type CanonicalAxis []string

// ReconciliationResult is the normalized output of one ingestion cycle. Dates,
// Cases, Hospitalizations, and Deaths always have equal length.
type ReconciliationResult struct {
	Total            int64         `json:"total"`
	Dates            CanonicalAxis `json:"dates"`
	Cases            Series        `json:"cases"`
	Hospitalizations Series        `json:"hospitalizations"`
	Deaths           Series        `json:"deaths"`
}

// EmptyResult is the "no data" result: zero total and empty, non-nil arrays.
func EmptyResult() ReconciliationResult {
	return ReconciliationResult{
		Dates:            CanonicalAxis{},
		Cases:            Series{},
		Hospitalizations: Series{},
		Deaths:           Series{},
	}
}

// Report summarizes data quality for one cycle.
type Report struct {
	RowsTotal     int `json:"rows_total"`
	RowsParsed    int `json:"rows_parsed"`
	RowsDropped   int `json:"rows_dropped"`
	RowsUnmatched int `json:"rows_unmatched"`

	// MissingColumns names required header columns the export lacked. When
	// set, every row was dropped and the result is empty.
	MissingColumns []string `json:"missing_columns,omitempty"`

	HospitalizationOffset int `json:"hospitalization_offset"`
	DeathOffset           int `json:"death_offset"`

	NullHospitalizations int `json:"null_hospitalizations"`
	NullDeaths           int `json:"null_deaths"`

	// Reordered lists categories whose rows arrived out of date order and
	// were sorted.
	Reordered []string `json:"reordered,omitempty"`
}
