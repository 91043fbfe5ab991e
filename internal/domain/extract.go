package domain

import (
	"fmt"
	"sort"

	"github.com/samber/lo"
	"gopkg.in/guregu/null.v3"
)

// Category identifies one logical table inside the export by exact
// (description, metric) match.
type Category struct {
	Description string
	Metric      string
}

func (c Category) matches(r Record) bool {
	return r.Description == c.Description && r.Metric == c.Metric
}

// Categories selects the three tables that feed the result.
type Categories struct {
	Cases            Category
	Hospitalizations Category
	Deaths           Category
}

// DefaultCategories returns the normalized category strings.
func DefaultCategories() Categories {
	return Categories{
		Cases:            Category{Description: "daily new cases by onset date", Metric: "three-day moving average"},
		Hospitalizations: Category{Description: "cumulative hospitalized by onset date", Metric: "cases"},
		Deaths:           Category{Description: "deaths by date of death", Metric: "deaths"},
	}
}

// ColoradoCategories returns the strings used by the Colorado state export.
func ColoradoCategories() Categories {
	return Categories{
		Cases: Category{
			Description: "Cases of COVID-19 in Colorado by Date of Illness Onset",
			Metric:      "Three-Day Moving Average Of Cases",
		},
		Hospitalizations: Category{
			Description: "Cumulative Number of Hospitalized Cases of COVID-19 in Colorado by Date of Illness Onset",
			Metric:      "Cases",
		},
		Deaths: Category{
			Description: "Number of Deaths From COVID-19 in Colorado by Date of Death - By Day",
			Metric:      "Deaths",
		},
	}
}

// CategoriesByPreset resolves a preset name ("default" or "colorado").
func CategoriesByPreset(name string) (Categories, error) {
	switch name {
	case "", "default":
		return DefaultCategories(), nil
	case "colorado":
		return ColoradoCategories(), nil
	default:
		return Categories{}, fmt.Errorf("unknown category preset %q", name)
	}
}

// Category names used in reports.
const (
	CategoryCases            = "cases"
	CategoryHospitalizations = "hospitalizations"
	CategoryDeaths           = "deaths"
)

// Extraction holds the three raw series split out of the record list.
type Extraction struct {
	Axis             CanonicalAxis
	Cases            Series
	Hospitalizations []DatedValue // cumulative
	Deaths           []DatedValue // daily
	Unmatched        int
	Reordered        []string
}

// ExtractSeries classifies records into the three categories, keeping
// encounter order. A category whose dates are not non-decreasing is stable
// sorted by date when every entry has a parsed date; otherwise it is left in
// encounter order.
func ExtractSeries(records []Record, cats Categories) Extraction {
	var cases, hosp, deaths []DatedValue
	unmatched := 0

	for _, r := range records {
		key, day := NormalizeDateKey(r.DateLabel)
		dv := DatedValue{Date: key, Day: day, Value: r.Value}
		switch {
		case cats.Cases.matches(r):
			cases = append(cases, dv)
		case cats.Hospitalizations.matches(r):
			hosp = append(hosp, dv)
		case cats.Deaths.matches(r):
			deaths = append(deaths, dv)
		default:
			unmatched++
		}
	}

	var reordered []string
	for _, c := range []struct {
		name   string
		values []DatedValue
	}{
		{CategoryCases, cases},
		{CategoryHospitalizations, hosp},
		{CategoryDeaths, deaths},
	} {
		if sortByDay(c.values) {
			reordered = append(reordered, c.name)
		}
	}

	return Extraction{
		Axis: lo.Map(cases, func(dv DatedValue, _ int) string { return dv.Date }),
		Cases: lo.Map(cases, func(dv DatedValue, _ int) null.Float {
			return null.FloatFrom(dv.Value)
		}),
		Hospitalizations: hosp,
		Deaths:           deaths,
		Unmatched:        unmatched,
		Reordered:        reordered,
	}
}

// sortByDay sorts values in place when they are out of order and fully dated.
// It reports whether a sort happened.
func sortByDay(values []DatedValue) bool {
	inOrder := sort.SliceIsSorted(values, func(i, j int) bool {
		return values[i].Day.Before(values[j].Day)
	})
	if inOrder {
		return false
	}
	if lo.SomeBy(values, func(dv DatedValue) bool { return dv.Day.IsZero() }) {
		return false
	}
	sort.SliceStable(values, func(i, j int) bool {
		return values[i].Day.Before(values[j].Day)
	})
	return true
}
