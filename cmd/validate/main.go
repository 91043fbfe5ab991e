// Command validate checks an export file and, optionally, an expected result
// fixture against the reconciliation contract: the header carries every
// required column, each category is in date order, every emitted array has the
// axis length, deaths are raw counts, and the result matches the fixture.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -export data/mock/covid19_export.csv \
//	  -expected data/mock/covid19_expected.json
package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/samber/lo"

	"github.com/couchcryptid/covid-trend-etl/internal/adapter/source"
	"github.com/couchcryptid/covid-trend-etl/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	exportPath := flag.String("export", "", "path to the export file (.csv or .xlsx)")
	expectedPath := flag.String("expected", "", "optional path to the expected result JSON")
	preset := flag.String("preset", "default", "category preset: default or colorado")
	window := flag.Int("window", domain.DefaultWindow, "moving-average window")
	flag.Parse()

	if *exportPath == "" {
		flag.Usage()
		os.Exit(1)
	}

	os.Exit(run(*exportPath, *expectedPath, *preset, *window))
}

func run(exportPath, expectedPath, preset string, window int) int {
	fmt.Println("=== Export Integrity Validation ===")
	fmt.Println()

	cats, err := domain.CategoriesByPreset(preset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		return 1
	}

	table, err := loadTable(exportPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load export: %v\n", err)
		return 1
	}

	opts := domain.DefaultOptions()
	opts.Categories = cats
	opts.Window = window

	phases := []*phase{validateStructure(table, cats)}

	result, rep := domain.Reconcile(table, opts)
	phases = append(phases, validateInvariants(table, cats, result, rep, window))
	if expectedPath != "" {
		phases = append(phases, validateExpected(result, expectedPath))
	}

	return printReport(phases)
}

func loadTable(path string) (domain.Table, error) {
	format, err := source.ResolveFormat(path, source.FormatAuto)
	if err != nil {
		return domain.Table{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Table{}, err
	}
	return source.Decode(data, format, "")
}

type namedCategory struct {
	name     string
	category domain.Category
}

// namedCategories lists the categories in report order.
func namedCategories(cats domain.Categories) []namedCategory {
	return []namedCategory{
		{domain.CategoryCases, cats.Cases},
		{domain.CategoryHospitalizations, cats.Hospitalizations},
		{domain.CategoryDeaths, cats.Deaths},
	}
}

// validateStructure checks the header and that each category's dates are parseable and ordered.
func validateStructure(table domain.Table, cats domain.Categories) *phase {
	p := &phase{name: "Export structure"}

	records, _, stats := domain.ParseRecords(table)
	if len(stats.Missing) > 0 {
		p.errorf("header lacks required columns: %v", stats.Missing)
		return p
	}
	if stats.Parsed == 0 {
		p.errorf("no parseable rows out of %d", stats.Total)
	}

	for _, c := range namedCategories(cats) {
		name, cat := c.name, c.category
		matched := lo.Filter(records, func(r domain.Record, _ int) bool {
			return r.Description == cat.Description && r.Metric == cat.Metric
		})
		if len(matched) == 0 {
			p.errorf("%s: no rows for %q / %q", name, cat.Description, cat.Metric)
			continue
		}
		var prev string
		for i, r := range matched {
			key, day := domain.NormalizeDateKey(r.DateLabel)
			if day.IsZero() {
				p.errorf("%s row %d: unparseable date %q", name, i, r.DateLabel)
				continue
			}
			if prev != "" && day.Format("2006-01-02") < prev {
				p.errorf("%s row %d: %s is earlier than the previous row", name, i, key)
			}
			prev = day.Format("2006-01-02")
		}
	}
	return p
}

// validateInvariants re-checks the contract on the reconciled output.
func validateInvariants(table domain.Table, cats domain.Categories, result domain.ReconciliationResult, rep domain.Report, window int) *phase {
	p := &phase{name: "Reconciliation invariants"}

	n := len(result.Dates)
	for _, s := range []struct {
		name   string
		series domain.Series
	}{
		{domain.CategoryCases, result.Cases},
		{domain.CategoryHospitalizations, result.Hospitalizations},
		{domain.CategoryDeaths, result.Deaths},
	} {
		if len(s.series) != n {
			p.errorf("%s has %d entries, axis has %d", s.name, len(s.series), n)
		}
	}

	// Unsmoothed deaths must be the raw daily values wherever they are reported.
	raw := domain.Options{
		Categories:            cats,
		HospitalizationOffset: domain.AutoOffset,
		DeathOffset:           domain.AutoOffset,
		Window:                1,
	}
	daily, _ := domain.Reconcile(table, raw)
	records, _, _ := domain.ParseRecords(table)
	ex := domain.ExtractSeries(records, cats)
	byDate := lo.Associate(ex.Deaths, func(d domain.DatedValue) (string, float64) { return d.Date, d.Value })
	for i, v := range daily.Deaths {
		if i == 0 || !v.Valid {
			continue
		}
		want, ok := byDate[daily.Dates[i]]
		if !ok {
			p.errorf("deaths on %s reported but absent from the feed", daily.Dates[i])
		} else if want != v.Float64 {
			p.errorf("deaths on %s: got %g, feed has %g", daily.Dates[i], v.Float64, want)
		}
	}

	if window > 0 && len(daily.Dates) >= window && n != len(daily.Dates)-window+1 {
		p.errorf("axis has %d days, want %d for window %d", n, len(daily.Dates)-window+1, window)
	}

	fmt.Printf("Rows: total=%d parsed=%d dropped=%d unmatched=%d\n",
		rep.RowsTotal, rep.RowsParsed, rep.RowsDropped, rep.RowsUnmatched)
	fmt.Printf("Offsets: hospitalizations=%d deaths=%d; null days: hospitalizations=%d deaths=%d\n",
		rep.HospitalizationOffset, rep.DeathOffset, rep.NullHospitalizations, rep.NullDeaths)
	return p
}

// validateExpected compares the result byte-for-byte with the fixture after re-encoding.
func validateExpected(result domain.ReconciliationResult, path string) *phase {
	p := &phase{name: "Expected result parity"}

	data, err := os.ReadFile(path)
	if err != nil {
		p.errorf("read expected: %v", err)
		return p
	}
	var expected domain.ReconciliationResult
	if err := json.Unmarshal(data, &expected); err != nil {
		p.errorf("decode expected: %v", err)
		return p
	}

	got, err := json.Marshal(result)
	if err != nil {
		p.errorf("encode result: %v", err)
		return p
	}
	want, err := json.Marshal(expected)
	if err != nil {
		p.errorf("encode expected: %v", err)
		return p
	}
	if !bytes.Equal(got, want) {
		p.errorf("result differs from %s", path)
	}
	return p
}

func printReport(phases []*phase) int {
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}
