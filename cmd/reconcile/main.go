// Command reconcile runs a single reconciliation over an export file and
// prints the result as JSON. It shares the service's parsing and smoothing,
// so its output matches what the service would publish for the same file.
//
// Usage:
//
//	go run ./cmd/reconcile --window 7 --preset colorado data/covid19_export.csv
package main

import (
	"fmt"
	"os"

	json "github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	"github.com/urfave/cli/v2"

	"github.com/couchcryptid/covid-trend-etl/internal/adapter/source"
	"github.com/couchcryptid/covid-trend-etl/internal/config"
	"github.com/couchcryptid/covid-trend-etl/internal/domain"
	"github.com/couchcryptid/covid-trend-etl/internal/observability"
	"github.com/couchcryptid/covid-trend-etl/internal/pipeline"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "reconcile:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:      "reconcile",
		Usage:     "reconcile a public-health export into aligned, smoothed series",
		ArgsUsage: "EXPORT_FILE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "format", Value: string(source.FormatAuto), Usage: "csv, xlsx, or auto"},
			&cli.StringFlag{Name: "sheet", Usage: "xlsx sheet name (first sheet when empty)"},
			&cli.IntFlag{Name: "window", Value: domain.DefaultWindow, Usage: "moving-average window in days"},
			&cli.StringFlag{Name: "null-policy", Value: "zero", Usage: "zero or skip"},
			&cli.StringFlag{Name: "hosp-offset", Value: "auto", Usage: "hospitalization cursor start or auto"},
			&cli.StringFlag{Name: "death-offset", Value: "auto", Usage: "death cursor start or auto"},
			&cli.StringFlag{Name: "preset", Value: "default", Usage: "category preset: default or colorado"},
			&cli.StringFlag{Name: "region", Value: "Colorado", Usage: "region label for the headline"},
			&cli.BoolFlag{Name: "snapshot", Usage: "print the full snapshot including the report"},
			&cli.BoolFlag{Name: "pretty", Usage: "indent the JSON output"},
			&cli.BoolFlag{Name: "verbose", Usage: "log progress to stderr"},
		},
		Action: run,
	}
}

func run(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("expected exactly one EXPORT_FILE argument", 2)
	}

	opts, err := optionsFromFlags(c)
	if err != nil {
		return err
	}

	level := "warn"
	if c.Bool("verbose") {
		level = "debug"
	}
	logger := observability.NewLogger(c.App.ErrWriter, level, "text")
	metrics := observability.NewUnregisteredMetrics()

	src := source.NewFileSource(source.Config{
		Path:     c.Args().First(),
		Format:   source.Format(c.String("format")),
		Sheet:    c.String("sheet"),
		Attempts: 1,
	}, logger)
	tfm := pipeline.NewTransformer(opts, c.String("region"), clockwork.NewRealClock(), logger, metrics)

	ctx := c.Context
	exp, err := src.Fetch(ctx)
	if err != nil {
		return err
	}
	snap, err := tfm.Transform(ctx, exp)
	if err != nil {
		return err
	}

	var out any = snap.Result
	if c.Bool("snapshot") {
		out = snap
	}
	return writeJSON(c, out)
}

func optionsFromFlags(c *cli.Context) (domain.Options, error) {
	cats, err := domain.CategoriesByPreset(c.String("preset"))
	if err != nil {
		return domain.Options{}, err
	}
	policy, err := domain.ParseNullPolicy(c.String("null-policy"))
	if err != nil {
		return domain.Options{}, err
	}
	hosp, err := config.ParseOffset("--hosp-offset", c.String("hosp-offset"))
	if err != nil {
		return domain.Options{}, err
	}
	death, err := config.ParseOffset("--death-offset", c.String("death-offset"))
	if err != nil {
		return domain.Options{}, err
	}
	if c.Int("window") < 1 {
		return domain.Options{}, fmt.Errorf("--window must be at least 1")
	}
	return domain.Options{
		Categories:            cats,
		HospitalizationOffset: hosp,
		DeathOffset:           death,
		Window:                c.Int("window"),
		NullPolicy:            policy,
	}, nil
}

func writeJSON(c *cli.Context, v any) error {
	var (
		data []byte
		err  error
	)
	if c.Bool("pretty") {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	data = append(data, '\n')
	_, err = c.App.Writer.Write(data)
	return err
}
