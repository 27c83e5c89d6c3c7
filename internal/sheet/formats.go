package sheet

import (
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

func openXLSX(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	w := &Workbook{Path: path, format: formatXLSX, xlsx: f}
	for _, name := range f.GetSheetList() {
		records, err := f.GetRows(name)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("read sheet %q: %w", name, err), f.Close())
		}
		w.Sheets = append(w.Sheets, newSheet(name, records))
	}
	return w, nil
}

// saveXLSX writes the normalized header and the result columns into the
// opened file, leaving every other cell and its styling untouched.
func (w *Workbook) saveXLSX(path string) error {
	f := w.xlsx
	if f == nil {
		f = excelize.NewFile()
		defer f.Close()
	}
	for _, s := range w.Sheets {
		if len(s.Header) == 0 {
			continue
		}
		if idx, _ := f.GetSheetIndex(s.Name); idx < 0 {
			if _, err := f.NewSheet(s.Name); err != nil {
				return fmt.Errorf("create sheet %q: %w", s.Name, err)
			}
		}
		header := make([]any, len(s.Header))
		for i, h := range s.Header {
			header[i] = h
		}
		if err := f.SetSheetRow(s.Name, "A1", &header); err != nil {
			return fmt.Errorf("write header of %q: %w", s.Name, err)
		}
		cols := []int{s.Column(ColumnEmail), s.Column(ColumnEmailSource)}
		for i, row := range s.Rows {
			for _, col := range cols {
				if col < 0 {
					continue
				}
				cell, err := excelize.CoordinatesToCellName(col+1, i+2)
				if err != nil {
					return fmt.Errorf("cell name: %w", err)
				}
				if err := f.SetCellStr(s.Name, cell, s.cell(row, col)); err != nil {
					return fmt.Errorf("write %s!%s: %w", s.Name, cell, err)
				}
			}
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}

func openCSV(path string) (*Workbook, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv %s: %w", path, err)
	}
	if len(records) > 0 && len(records[0]) > 0 {
		records[0][0] = strings.TrimPrefix(records[0][0], "\ufeff")
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &Workbook{
		Path:   path,
		Sheets: []*Sheet{newSheet(name, records)},
		format: formatCSV,
	}, nil
}

func (w *Workbook) saveCSV(path string) (err error) {
	if len(w.Sheets) == 0 {
		return errors.New("workbook has no sheets")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close csv %s: %w", path, cerr)
		}
	}()

	s := w.Sheets[0]
	out := csv.NewWriter(file)
	if err := out.Write(s.Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, row := range s.Rows {
		padded := make([]string, len(s.Header))
		copy(padded, row)
		if err := out.Write(padded); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	out.Flush()
	if err := out.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
