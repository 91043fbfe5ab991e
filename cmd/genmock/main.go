// Command genmock writes a synthetic public-health export with the same shape
// as the state's daily file, plus the reconciled result the service produces
// for it. The pair is used as a fixture by tests and local runs.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data/mock/covid19_export.csv \
//	  -result-out data/mock/covid19_expected.json \
//	  -days 60 -seed 7
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/xuri/excelize/v2"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
)

var header = []string{"description", "metric", "attribute", "value"}

type params struct {
	start      time.Time
	days       int
	seed       uint64
	hospLead   int
	deathGapAt int
	cats       domain.Categories
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "", "output path for the export (.csv or .xlsx)")
	resultOut := flag.String("result-out", "", "optional output path for the reconciled result JSON")
	days := flag.Int("days", 60, "number of days on the cases axis")
	start := flag.String("start", "2020-03-01", "first day of the cases axis")
	seed := flag.Uint64("seed", 1, "random seed")
	preset := flag.String("preset", "default", "category strings: default or colorado")
	window := flag.Int("window", domain.DefaultWindow, "window used for -result-out")
	flag.Parse()

	if *out == "" {
		flag.Usage()
		return fmt.Errorf("missing required flag: -out")
	}
	if *days < 2 {
		return fmt.Errorf("-days must be at least 2")
	}
	startDay, err := time.Parse("2006-01-02", *start)
	if err != nil {
		return fmt.Errorf("parse -start: %w", err)
	}
	cats, err := domain.CategoriesByPreset(*preset)
	if err != nil {
		return err
	}

	p := params{
		start:      startDay,
		days:       *days,
		seed:       *seed,
		hospLead:   3,
		deathGapAt: 11,
		cats:       cats,
	}
	rows := generate(p)
	log.Printf("generated %d rows over %d days", len(rows), p.days)

	if err := writeExport(*out, rows); err != nil {
		return fmt.Errorf("writing export: %w", err)
	}
	log.Printf("wrote export: %s", *out)

	if *resultOut == "" {
		return nil
	}

	opts := domain.DefaultOptions()
	opts.Categories = cats
	opts.Window = *window
	result, report := domain.Reconcile(domain.Table{Columns: header, Rows: rows}, opts)
	if err := writeJSON(*resultOut, result); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	log.Printf("wrote result: %s", *resultOut)

	printStats(result, report)
	return nil
}

// generate builds the export rows: a summary row first, then the cases feed
// on the axis, a cumulative hospitalization feed that starts hospLead days
// early, and a daily deaths feed with every deathGapAt-th day missing.
func generate(p params) [][]string {
	rng := rand.New(rand.NewPCG(p.seed, p.seed^0x9e3779b97f4a7c15))
	label := func(d int) string { return p.start.AddDate(0, 0, d).Format("01/02/2006") }

	cases := make([]float64, p.days)
	var total float64
	for d := range cases {
		cases[d] = epidemicCurve(d, p.days, 400) + float64(rng.IntN(15))
		total += cases[d]
	}

	rows := [][]string{
		{"state data summary", "cumulative cases", label(p.days - 1), formatValue(total)},
		{"state data summary", "people tested", label(p.days - 1), "n/a"},
	}

	for d, c := range cases {
		rows = append(rows, []string{p.cats.Cases.Description, p.cats.Cases.Metric, label(d), formatValue(c)})
	}

	var hosp float64
	for d := -p.hospLead; d < p.days; d++ {
		hosp += math.Round(epidemicCurve(d, p.days, 40)) + float64(rng.IntN(3))
		rows = append(rows, []string{p.cats.Hospitalizations.Description, p.cats.Hospitalizations.Metric, label(d), formatValue(hosp)})
	}

	for d := 0; d < p.days; d++ {
		if p.deathGapAt > 0 && d > 0 && d%p.deathGapAt == 0 {
			continue
		}
		deaths := math.Round(epidemicCurve(d-5, p.days, 12)) + float64(rng.IntN(2))
		rows = append(rows, []string{p.cats.Deaths.Description, p.cats.Deaths.Metric, label(d), formatValue(deaths)})
	}
	return rows
}

// epidemicCurve is a bell curve peaking mid-range at height peak.
func epidemicCurve(day, days int, peak float64) float64 {
	mid := float64(days) / 2
	width := float64(days) / 6
	x := float64(day) - mid
	return math.Round(peak * math.Exp(-(x*x)/(2*width*width)))
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func writeExport(path string, rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		return writeWorkbook(path, rows)
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Sync()
}

func writeWorkbook(path string, rows [][]string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	all := append([][]string{header}, rows...)
	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]any, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return err
		}
	}
	return f.SaveAs(path)
}

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

func printStats(result domain.ReconciliationResult, report domain.Report) {
	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Total: %d\n", result.Total)
	fmt.Printf("Rows: total=%d parsed=%d dropped=%d unmatched=%d\n",
		report.RowsTotal, report.RowsParsed, report.RowsDropped, report.RowsUnmatched)
	fmt.Printf("Offsets: hospitalizations=%d deaths=%d\n", report.HospitalizationOffset, report.DeathOffset)
	fmt.Printf("Null days: hospitalizations=%d deaths=%d\n", report.NullHospitalizations, report.NullDeaths)
	fmt.Printf("Smoothed days: %d", len(result.Dates))
	if n := len(result.Dates); n > 0 {
		fmt.Printf(" (%s .. %s)", result.Dates[0], result.Dates[n-1])
	}
	fmt.Println()
}
