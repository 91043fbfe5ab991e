package source

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

var header = []string{"description", "metric", "attribute", "value"}

func newSource(t *testing.T, cfg Config) *FileSource {
	t.Helper()
	cfg.Delay = time.Millisecond
	return NewFileSource(cfg, slog.Default())
}

func TestFetch_CSV(t *testing.T) {
	src := newSource(t, Config{Path: filepath.Join("testdata", "export.csv"), Attempts: 1})

	exp, err := src.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, header, exp.Table.Columns)
	require.Len(t, exp.Table.Rows, 12)
	assert.Equal(t, []string{"state data summary", "cumulative cases", "04/10/2020", "1430"}, exp.Table.Rows[0])
	assert.Equal(t, []string{"state data summary", "tested", "04/10/2020", "1,200"}, exp.Table.Rows[11])
	assert.Len(t, exp.Fingerprint, 16)
}

func TestFetch_FingerprintTracksContent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "export.csv")
	require.NoError(t, os.WriteFile(path, []byte("description,metric,attribute,value\na,b,2020-04-01,1\n"), 0o600))

	src := newSource(t, Config{Path: path, Attempts: 1})

	first, err := src.Fetch(context.Background())
	require.NoError(t, err)
	again, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.Fingerprint, again.Fingerprint)

	require.NoError(t, os.WriteFile(path, []byte("description,metric,attribute,value\na,b,2020-04-01,2\n"), 0o600))
	changed, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.Fingerprint, changed.Fingerprint)
}

func TestFetch_XLSX(t *testing.T) {
	path := writeWorkbook(t, "Sheet1")
	src := newSource(t, Config{Path: path, Attempts: 1})

	exp, err := src.Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, header, exp.Table.Columns)
	require.Len(t, exp.Table.Rows, 2)
	assert.Equal(t, []string{"deaths by date of death", "deaths", "2020-04-02", "3"}, exp.Table.Rows[1])
}

func TestFetch_XLSXNamedSheet(t *testing.T) {
	path := writeWorkbook(t, "Data")

	src := newSource(t, Config{Path: path, Sheet: "Data", Attempts: 1})
	exp, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Len(t, exp.Table.Rows, 2)

	missing := newSource(t, Config{Path: path, Sheet: "Nope", Attempts: 1})
	_, err = missing.Fetch(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Nope")
}

func TestFetch_MissingFileRetriesThenFails(t *testing.T) {
	src := newSource(t, Config{Path: filepath.Join(t.TempDir(), "gone.csv"), Attempts: 3})

	_, err := src.Fetch(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestFetch_RecoversWhenFileAppears(t *testing.T) {
	path := filepath.Join(t.TempDir(), "late.csv")
	cfg := Config{Path: path, Attempts: 5}
	src := NewFileSource(cfg, slog.Default())
	src.cfg.Delay = 50 * time.Millisecond

	go func() {
		time.Sleep(20 * time.Millisecond)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, []byte("description,metric,attribute,value\n"), 0o600); err == nil {
			_ = os.Rename(tmp, path)
		}
	}()

	exp, err := src.Fetch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, header, exp.Table.Columns)
	assert.Empty(t, exp.Table.Rows)
}

func TestFetch_UnsupportedExtension(t *testing.T) {
	src := newSource(t, Config{Path: "export.json", Attempts: 1})
	_, err := src.Fetch(context.Background())
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResolveFormat(t *testing.T) {
	tests := []struct {
		path    string
		format  Format
		want    Format
		wantErr bool
	}{
		{"a.csv", FormatAuto, FormatCSV, false},
		{"a.TXT", "", FormatCSV, false},
		{"a.xlsx", FormatAuto, FormatXLSX, false},
		{"a.dat", FormatCSV, FormatCSV, false},
		{"a.csv", "XLSX", FormatXLSX, false},
		{"a.dat", FormatAuto, "", true},
		{"a.csv", "parquet", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.path+"/"+string(tt.format), func(t *testing.T) {
			got, err := ResolveFormat(tt.path, tt.format)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecode_EmptyCSV(t *testing.T) {
	table, err := Decode(nil, FormatCSV, "")
	require.NoError(t, err)
	assert.Empty(t, table.Columns)
	assert.Empty(t, table.Rows)
}

func writeWorkbook(t *testing.T, sheet string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	if sheet != "Sheet1" {
		idx, err := f.NewSheet(sheet)
		require.NoError(t, err)
		f.SetActiveSheet(idx)
		require.NoError(t, f.DeleteSheet("Sheet1"))
	}

	rows := [][]any{
		{"description", "metric", "attribute", "value"},
		{"state data summary", "cumulative cases", "04/10/2020", "1430"},
		{"deaths by date of death", "deaths", "2020-04-02", "3"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "export.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}
