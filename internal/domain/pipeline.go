package domain

import (
	"github.com/samber/lo"
	"gopkg.in/guregu/null.v3"
)

// DefaultWindow is the moving-average width applied to every series.
const DefaultWindow = 7

// Options carries everything one reconciliation needs. It is passed per call;
// nothing is held in package state.
type Options struct {
	Categories            Categories
	HospitalizationOffset Offset
	DeathOffset           Offset
	Window                int
	NullPolicy            NullPolicy
}

// DefaultOptions returns auto-detected offsets, the default categories, and a
// 7-day window.
func DefaultOptions() Options {
	return Options{
		Categories:            DefaultCategories(),
		HospitalizationOffset: AutoOffset,
		DeathOffset:           AutoOffset,
		Window:                DefaultWindow,
		NullPolicy:            NullAsZero,
	}
}

// Reconcile runs one ingestion cycle: parse, extract, align, smooth. It is
// pure; the same table and options always yield the same result.
//
// Reconcile never fails. Data-quality problems, including a header that lacks
// a required column, show up as dropped rows, nulls, or an empty result and
// are counted in the Report.
func Reconcile(t Table, opts Options) (ReconciliationResult, Report) {
	records, total, stats := ParseRecords(t)

	report := Report{
		RowsTotal:      stats.Total,
		RowsParsed:     stats.Parsed,
		RowsDropped:    stats.Dropped,
		MissingColumns: stats.Missing,
	}
	if len(records) == 0 {
		return EmptyResult(), report
	}

	ex := ExtractSeries(records, opts.Categories)
	report.RowsUnmatched = ex.Unmatched
	report.Reordered = ex.Reordered

	hosp, hOff := ReconcileHospitalizations(ex.Axis, ex.Hospitalizations, opts.HospitalizationOffset)
	deaths, dOff := ReconcileDeaths(ex.Axis, ex.Deaths, opts.DeathOffset)
	report.HospitalizationOffset = hOff
	report.DeathOffset = dOff
	report.NullHospitalizations = countNull(hosp)
	report.NullDeaths = countNull(deaths)

	window := opts.Window
	if window <= 0 {
		window = len(ex.Axis)
	}

	result := ReconciliationResult{
		Total:            total,
		Dates:            truncateAxis(ex.Axis, window),
		Cases:            SmoothWith(ex.Cases, window, opts.NullPolicy),
		Hospitalizations: SmoothWith(hosp, window, opts.NullPolicy),
		Deaths:           SmoothWith(deaths, window, opts.NullPolicy),
	}
	return result, report
}

// truncateAxis labels each full window with its last day, dropping the first
// window-1 dates.
func truncateAxis(axis CanonicalAxis, window int) CanonicalAxis {
	if window <= 0 || len(axis) < window {
		return CanonicalAxis{}
	}
	out := make(CanonicalAxis, len(axis)-window+1)
	copy(out, axis[window-1:])
	return out
}

func countNull(s Series) int {
	return lo.CountBy(s, func(v null.Float) bool { return !v.Valid })
}
