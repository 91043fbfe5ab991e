// Package domain reconciles a state public-health export into one date-aligned
// table of case, hospitalization, and death counts.
//
// # Data Source
//
// The export is a flat spreadsheet (CSV or XLSX) published on a schedule by the
// state health department. Every row carries four named columns:
//
//	description, metric, attribute, value
//
// Many unrelated tables are stacked into the one sheet; a (description, metric)
// pair identifies which logical table a row belongs to, and attribute holds the
// row's date label. The first data row is the statewide cumulative case count
// and is surfaced separately as the result total.
//
// # Categories
//
// Three logical tables are extracted, each by exact (description, metric) match:
//
//	cases             daily new cases by onset date / three-day moving average
//	hospitalizations  cumulative hospitalized by onset date / cases
//	deaths            deaths by date of death / deaths
//
// The Colorado preset uses the long-form strings found in the state's own
// export. See [DefaultCategories] and [ColoradoCategories].
//
// # Date Keys
//
// Date labels arrive as "2020-04-02", "4/2/2020", "04/02/20" and similar.
// They are normalized to a canonical "MM-DD" key so that alignment across
// categories is a plain string comparison. See [NormalizeDateKey].
//
// # Alignment
//
// The cases table defines the canonical axis. Hospitalization and death feeds
// start at different days and occasionally skip days, so each is merged onto
// the axis with a single forward cursor that advances only on a key match:
//
//	axis    03-01 03-02 03-03 03-04
//	deaths  03-01       03-03 03-04
//	out     0     null  v     v
//
// Index 0 is always seeded with 0. Hospitalizations are cumulative and are
// differenced against the previous raw entry. A feed that never resynchronizes
// yields trailing nulls; that is degraded data, not an error.
//
// # Smoothing
//
// Each aligned series is replaced by a trailing moving average (7 days by
// default) rounded half away from zero. The axis is truncated to match: the
// window covering indexes i..i+w-1 is labeled with the date at i+w-1.
//
// # Nulls
//
// Null means "not reported". The averaging step counts a missing day as zero
// unless [NullSkip] is selected.
package domain
