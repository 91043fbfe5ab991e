package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/covid-trend-etl/internal/adapter/source"
	"github.com/couchcryptid/covid-trend-etl/internal/domain"
)

func testParams() params {
	return params{
		start:      time.Date(2020, time.March, 1, 0, 0, 0, 0, time.UTC),
		days:       60,
		seed:       7,
		hospLead:   3,
		deathGapAt: 11,
		cats:       domain.DefaultCategories(),
	}
}

func TestGenerate_ReconcilesWithAutoOffsets(t *testing.T) {
	rows := generate(testParams())

	// 2 summary rows, 60 cases, 63 hospitalizations, 55 deaths
	require.Len(t, rows, 2+60+63+55)

	opts := domain.DefaultOptions()
	result, report := domain.Reconcile(domain.Table{Columns: header, Rows: rows}, opts)

	assert.Equal(t, 4, report.HospitalizationOffset)
	assert.Equal(t, 1, report.DeathOffset)
	assert.Equal(t, 0, report.NullHospitalizations)
	assert.Equal(t, 5, report.NullDeaths)
	assert.Equal(t, 1, report.RowsDropped)
	assert.Len(t, result.Dates, 60-domain.DefaultWindow+1)
	assert.Equal(t, "03-07", result.Dates[0])
	assert.Positive(t, result.Total)
}

func TestGenerate_Deterministic(t *testing.T) {
	assert.Equal(t, generate(testParams()), generate(testParams()))

	other := testParams()
	other.seed = 8
	assert.NotEqual(t, generate(testParams()), generate(other))
}

func TestWriteExport_RoundTripsThroughSource(t *testing.T) {
	rows := generate(testParams())

	for _, name := range []string{"export.csv", "export.xlsx"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, writeExport(path, rows))

			format, err := source.ResolveFormat(path, source.FormatAuto)
			require.NoError(t, err)
			data := readFile(t, path)
			table, err := source.Decode(data, format, "")
			require.NoError(t, err)

			assert.Equal(t, header, table.Columns)
			assert.Equal(t, rows, table.Rows)
		})
	}
}

func readFile(t *testing.T, path string) []byte {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}
