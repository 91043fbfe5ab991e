// Package source reads the public-health export from disk and decodes it into
// a domain.Table. Delimited text and spreadsheet exports are supported.
package source

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/xuri/excelize/v2"
	"github.com/zeebo/xxh3"

	"github.com/couchcryptid/covid-trend-etl/internal/domain"
)

// ErrUnsupportedFormat is returned when the export format cannot be determined
// or is not one of the supported encodings.
var ErrUnsupportedFormat = errors.New("unsupported export format")

// Format identifies how an export file is encoded.
type Format string

const (
	FormatAuto Format = "auto"
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// Config describes where the export lives and how to read it.
type Config struct {
	Path     string
	Format   Format
	Sheet    string
	Attempts uint
	Delay    time.Duration
}

// FileSource reads an export file with retries and decodes it.
// It implements pipeline.Source.
type FileSource struct {
	cfg    Config
	logger *slog.Logger
}

// NewFileSource creates a FileSource. Attempts below 1 are raised to 1 and a
// zero delay defaults to 200ms between attempts.
func NewFileSource(cfg Config, logger *slog.Logger) *FileSource {
	if cfg.Attempts < 1 {
		cfg.Attempts = 1
	}
	if cfg.Delay <= 0 {
		cfg.Delay = 200 * time.Millisecond
	}
	if cfg.Format == "" {
		cfg.Format = FormatAuto
	}
	return &FileSource{cfg: cfg, logger: logger}
}

// Fetch reads and decodes the export. The fingerprint is computed over the raw
// file bytes so an unchanged file yields an unchanged fingerprint.
func (s *FileSource) Fetch(ctx context.Context) (domain.Export, error) {
	format, err := ResolveFormat(s.cfg.Path, s.cfg.Format)
	if err != nil {
		return domain.Export{}, err
	}

	var data []byte
	err = retry.Do(
		func() error {
			b, readErr := os.ReadFile(s.cfg.Path)
			if readErr != nil {
				return readErr
			}
			data = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(s.cfg.Attempts),
		retry.Delay(s.cfg.Delay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.logger.Warn("read export failed, retrying",
				"path", s.cfg.Path, "attempt", n+1, "error", err)
		}),
	)
	if err != nil {
		return domain.Export{}, fmt.Errorf("read export %s: %w", s.cfg.Path, err)
	}

	table, err := Decode(data, format, s.cfg.Sheet)
	if err != nil {
		return domain.Export{}, fmt.Errorf("decode export %s: %w", s.cfg.Path, err)
	}

	s.logger.Debug("export read", "path", s.cfg.Path, "format", format, "bytes", len(data), "rows", len(table.Rows))
	return domain.Export{Table: table, Fingerprint: Fingerprint(data)}, nil
}

// ResolveFormat picks the decoder for path. FormatAuto chooses by file extension.
func ResolveFormat(path string, f Format) (Format, error) {
	switch Format(strings.ToLower(string(f))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatAuto, "":
		switch strings.ToLower(filepath.Ext(path)) {
		case ".csv", ".txt":
			return FormatCSV, nil
		case ".xlsx", ".xlsm":
			return FormatXLSX, nil
		}
		return "", fmt.Errorf("%w: cannot infer from %q", ErrUnsupportedFormat, path)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// Decode converts raw export bytes into a table. The first row is the header.
func Decode(data []byte, f Format, sheet string) (domain.Table, error) {
	switch f {
	case FormatCSV:
		return decodeCSV(bytes.NewReader(data))
	case FormatXLSX:
		return decodeXLSX(data, sheet)
	}
	return domain.Table{}, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

// Fingerprint returns a stable hex digest of the raw export bytes.
func Fingerprint(data []byte) string {
	return fmt.Sprintf("%016x", xxh3.Hash(data))
}

func decodeCSV(r io.Reader) (domain.Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return domain.Table{}, fmt.Errorf("parse csv: %w", err)
	}
	return splitHeader(rows), nil
}

func decodeXLSX(data []byte, sheet string) (domain.Table, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return domain.Table{}, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return domain.Table{}, nil
		}
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return domain.Table{}, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	return splitHeader(rows), nil
}

func splitHeader(rows [][]string) domain.Table {
	if len(rows) == 0 {
		return domain.Table{}
	}
	return domain.Table{Columns: rows[0], Rows: rows[1:]}
}
