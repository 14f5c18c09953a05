// Package importer loads prospects and messages from CSV or XLSX files and
// exports the outbox as CSV.
package importer

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/text/encoding/charmap"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Table is a header row plus data rows.
type Table struct {
	Header   []string
	Rows     [][]string
	Encoding string
}

// ReadFile reads a .csv or .xlsx file into a Table.
func ReadFile(path string) (*Table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "importer: read csv")
		}
		return ReadCSV(data)
	case ".xlsx":
		return ReadXLSX(path)
	default:
		return nil, eris.Errorf("importer: unsupported file type %q", filepath.Ext(path))
	}
}

// ReadCSV decodes data as UTF-8, then Latin-1, then Windows-1252 and parses it.
// Latin-1 is rejected when it would produce C1 control characters, which
// in practice means the file is Windows-1252.
func ReadCSV(data []byte) (*Table, error) {
	text, enc, err := decode(data)
	if err != nil {
		return nil, err
	}

	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, eris.Wrap(err, "importer: parse csv")
	}
	t := tableFrom(records)
	t.Encoding = enc
	return t, nil
}

func decode(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, utf8BOM)), "utf-8", nil
	}
	if s, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil && !hasC1(s) {
		return string(s), "latin-1", nil
	}
	s, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", eris.Wrap(err, "importer: decode csv")
	}
	return string(s), "cp1252", nil
}

func hasC1(b []byte) bool {
	for _, r := range string(b) {
		if r >= 0x80 && r <= 0x9F {
			return true
		}
	}
	return false
}

// ReadXLSX reads the first sheet of an XLSX workbook.
func ReadXLSX(path string) (*Table, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "importer: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.New("importer: xlsx has no sheets")
	}

	var records [][]string
	for _, row := range f.Sheets[0].Rows {
		if row == nil {
			continue
		}
		cells := make([]string, len(row.Cells))
		for j, cell := range row.Cells {
			cells[j] = cell.String()
		}
		records = append(records, cells)
	}
	t := tableFrom(records)
	t.Encoding = "xlsx"
	return t, nil
}

func tableFrom(records [][]string) *Table {
	t := &Table{}
	if len(records) == 0 {
		return t
	}
	t.Header = records[0]
	for _, rec := range records[1:] {
		blank := true
		for _, v := range rec {
			if strings.TrimSpace(v) != "" {
				blank = false
				break
			}
		}
		if !blank {
			t.Rows = append(t.Rows, rec)
		}
	}
	return t
}

// Cell returns row[idx] trimmed, or "" when idx is out of range.
func Cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
