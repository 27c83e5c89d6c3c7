// Package sheet reads lead workbooks (.xlsx or .csv), lists the rows that
// still need an email, and writes outcomes back.
package sheet

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/gorkemkurban/email-scraper/internal/crawler"
)

// Canonical column names.
const (
	ColumnWebsite     = "Website"
	ColumnEmail       = "Email"
	ColumnEmailSource = "Email Source"
	ColumnCompany     = "Company Name"
)

// headerAliases maps lower-cased, trimmed headers to canonical names.
var headerAliases = map[string]string{
	"websitesi":         ColumnWebsite,
	"websites":          ColumnWebsite,
	"web sitesi":        ColumnWebsite,
	"website":           ColumnWebsite,
	"web site":          ColumnWebsite,
	"url":               ColumnWebsite,
	"e-posta":           ColumnEmail,
	"eposta":            ColumnEmail,
	"e-mail":            ColumnEmail,
	"email":             ColumnEmail,
	"mail":              ColumnEmail,
	"telefon":           "Phone",
	"phone":             "Phone",
	"firma adı":         ColumnCompany,
	"firma adi":         ColumnCompany,
	"şirket adı":        ColumnCompany,
	"sirket adi":        ColumnCompany,
	"company":           ColumnCompany,
	"company name":      ColumnCompany,
	"adres":             "Address",
	"address":           "Address",
	"sektör":            "Sector",
	"sektor":            "Sector",
	"sector":            "Sector",
	"google maps linki": "Google Maps URL",
	"google maps link":  "Google Maps URL",
	"googlemapsurl":     "Google Maps URL",
	"maps link":         "Google Maps URL",
	"email source":      ColumnEmailSource,
}

// NormalizeHeader maps localized or variant headers to canonical names.
// Unknown headers are returned trimmed but otherwise untouched.
func NormalizeHeader(h string) string {
	trimmed := strings.TrimSpace(h)
	if canonical, ok := headerAliases[strings.ToLower(trimmed)]; ok {
		return canonical
	}
	return trimmed
}

type format int

const (
	formatXLSX format = iota
	formatCSV
)

// Sheet is one table of a workbook. Row numbers are spreadsheet row
// numbers: the header is row 1, the first data row is row 2.
type Sheet struct {
	Name   string
	Header []string
	Rows   [][]string
}

// Column returns the index of the canonical column, or -1.
func (s *Sheet) Column(name string) int {
	for i, h := range s.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// ensureColumn returns the index of name, appending it when missing.
func (s *Sheet) ensureColumn(name string) int {
	if idx := s.Column(name); idx >= 0 {
		return idx
	}
	s.Header = append(s.Header, name)
	return len(s.Header) - 1
}

func (s *Sheet) cell(row []string, col int) string {
	if col < 0 || col >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[col])
}

// Row is a data row that still needs an email.
type Row struct {
	Key     crawler.RowKey
	Website string
	Company string
}

// Workbook is an opened input file.
type Workbook struct {
	Path   string
	Sheets []*Sheet

	format format
	xlsx   *excelize.File
}

// ErrUnsupportedFormat is returned for extensions other than .xlsx, .xlsm, or .csv.
var ErrUnsupportedFormat = errors.New("unsupported workbook format")

// Open reads every sheet of path.
func Open(path string) (*Workbook, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return openXLSX(path)
	case ".csv":
		return openCSV(path)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}
}

func newSheet(name string, records [][]string) *Sheet {
	s := &Sheet{Name: name}
	if len(records) == 0 {
		return s
	}
	width := 0
	for _, rec := range records {
		width = max(width, len(rec))
	}
	for _, h := range records[0] {
		s.Header = append(s.Header, NormalizeHeader(h))
	}
	// Cells past the last named column get blank headers so they survive
	// the save and added columns land after them.
	for len(s.Header) < width {
		s.Header = append(s.Header, "")
	}
	for _, rec := range records[1:] {
		row := make([]string, width)
		copy(row, rec)
		s.Rows = append(s.Rows, row)
	}
	return s
}

// Pending lists rows with a website and no email, across all sheets.
func (w *Workbook) Pending() []Row {
	var out []Row
	for _, s := range w.Sheets {
		site := s.Column(ColumnWebsite)
		if site < 0 {
			continue
		}
		email := s.Column(ColumnEmail)
		company := s.Column(ColumnCompany)
		for i, row := range s.Rows {
			website := s.cell(row, site)
			if website == "" || s.cell(row, email) != "" {
				continue
			}
			out = append(out, Row{
				Key:     crawler.RowKey{Sheet: s.Name, Row: i + 2},
				Website: website,
				Company: s.cell(row, company),
			})
		}
	}
	return out
}

// Counts reports rows with a website and rows already holding an email.
func (w *Workbook) Counts() (withWebsite, prefilled int) {
	for _, s := range w.Sheets {
		site, email := s.Column(ColumnWebsite), s.Column(ColumnEmail)
		if site < 0 {
			continue
		}
		for _, row := range s.Rows {
			if s.cell(row, site) == "" {
				continue
			}
			withWebsite++
			if s.cell(row, email) != "" {
				prefilled++
			}
		}
	}
	return withWebsite, prefilled
}

// Apply writes outcomes into the Email and Email Source columns, adding
// them when missing. Outcomes for unknown rows are ignored; the count of
// applied outcomes is returned.
func (w *Workbook) Apply(outcomes []crawler.Outcome) int {
	byName := make(map[string]*Sheet, len(w.Sheets))
	for _, s := range w.Sheets {
		byName[s.Name] = s
	}
	applied := 0
	for _, o := range outcomes {
		s, ok := byName[o.Key.Sheet]
		idx := o.Key.Row - 2
		if !ok || idx < 0 || idx >= len(s.Rows) {
			continue
		}
		email := s.ensureColumn(ColumnEmail)
		source := s.ensureColumn(ColumnEmailSource)
		row := s.Rows[idx]
		for len(row) < len(s.Header) {
			row = append(row, "")
		}
		row[email] = o.EmailCell()
		row[source] = o.SourceCell()
		s.Rows[idx] = row
		applied++
	}
	return applied
}

// Save writes the workbook to path in the input format.
func (w *Workbook) Save(path string) error {
	switch w.format {
	case formatCSV:
		return w.saveCSV(path)
	default:
		return w.saveXLSX(path)
	}
}

// Close releases the underlying file handle.
func (w *Workbook) Close() error {
	if w.xlsx == nil {
		return nil
	}
	if err := w.xlsx.Close(); err != nil {
		return fmt.Errorf("close workbook: %w", err)
	}
	return nil
}

// OutputPath derives the default output file name: "<stem>_output<ext>".
func OutputPath(input string) string {
	ext := filepath.Ext(input)
	return strings.TrimSuffix(input, ext) + "_output" + ext
}
