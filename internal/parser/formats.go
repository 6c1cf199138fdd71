package parser

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/gocarina/gocsv"
	"github.com/shakinm/xlsReader/xls"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"
)

// Format is a supported spreadsheet container.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

var (
	zipMagic = []byte("PK\x03\x04")
	oleMagic = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// ErrUnsupportedFormat is returned for content that is not xlsx, xls or csv.
var ErrUnsupportedFormat = errors.New("unsupported spreadsheet format")

// DetectFormat picks the container format from the file name, falling back
// to the leading bytes of data.
func DetectFormat(name string, data []byte) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".xls":
		return FormatXLS, nil
	case ".csv", ".txt":
		return FormatCSV, nil
	}

	switch {
	case bytes.HasPrefix(data, zipMagic):
		return FormatXLSX, nil
	case bytes.HasPrefix(data, oleMagic):
		return FormatXLS, nil
	case len(data) > 0 && looksLikeText(data):
		return FormatCSV, nil
	}
	return "", fmt.Errorf("DetectFormat: %s: %w", name, ErrUnsupportedFormat)
}

func looksLikeText(data []byte) bool {
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	return bytes.IndexByte(sample, 0) < 0
}

// sourceRow is one physical row. Num is its 1-based line or row number in
// the file, so blank lines the reader drops still count.
type sourceRow struct {
	Num   int
	Cells []string
}

// rowSource yields raw rows of the first sheet, header included.
type rowSource struct {
	sheet string
	rows  iter.Seq2[sourceRow, error]
}

func openRows(format Format, data []byte) (*rowSource, error) {
	switch format {
	case FormatXLSX:
		return xlsxRows(data)
	case FormatXLS:
		return xlsRows(data)
	case FormatCSV:
		return csvRows(data)
	}
	return nil, ErrUnsupportedFormat
}

// xlsxRows streams the first sheet. Cells are read raw so numeric amounts
// keep machine notation and dates arrive as serial numbers.
func xlsxRows(data []byte) (*rowSource, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xlsxRows: open workbook: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, fmt.Errorf("xlsxRows: workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("xlsxRows: open sheet %q: %w", sheet, err)
	}

	seq := func(yield func(sourceRow, error) bool) {
		defer f.Close()
		defer rows.Close()
		num := 0
		for rows.Next() {
			num++
			cols, err := rows.Columns(excelize.Options{RawCellValue: true})
			if err != nil {
				yield(sourceRow{}, fmt.Errorf("xlsxRows: read row %d: %w", num, err))
				return
			}
			if !yield(sourceRow{Num: num, Cells: cols}, nil) {
				return
			}
		}
		if err := rows.Error(); err != nil {
			yield(sourceRow{}, fmt.Errorf("xlsxRows: iterate rows: %w", err))
		}
	}
	return &rowSource{sheet: sheet, rows: seq}, nil
}

// xlsRows reads the legacy BIFF format. The reader loads the whole workbook,
// rows are still handed out one at a time.
func xlsRows(data []byte) (*rowSource, error) {
	workbook, err := xls.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("xlsRows: open workbook: %w", err)
	}

	sheets := workbook.GetSheets()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsRows: workbook has no sheets")
	}
	sheet := sheets[0]

	seq := func(yield func(sourceRow, error) bool) {
		for i, row := range sheet.GetRows() {
			var cells []string
			for _, cell := range row.GetCols() {
				cells = append(cells, cell.GetString())
			}
			if !yield(sourceRow{Num: i + 1, Cells: cells}, nil) {
				return
			}
		}
	}
	return &rowSource{sheet: sheet.GetName(), rows: seq}, nil
}

// csvRows reads delimited text. Windows-1252 input (common for pt-BR
// exports) is transcoded to UTF-8, and the delimiter is ';' when the header
// line has more semicolons than commas. encoding/csv skips empty lines, so
// row numbers come from the reader's field positions rather than a counter.
func csvRows(data []byte) (*rowSource, error) {
	data = bytes.TrimPrefix(data, utf8BOM)

	var in io.Reader = bytes.NewReader(data)
	if !utf8.Valid(data) {
		in = transform.NewReader(in, charmap.Windows1252.NewDecoder())
	}

	reader := gocsv.LazyCSVReader(in)
	positions, _ := reader.(*csv.Reader)
	if positions != nil {
		positions.Comma = sniffDelimiter(data)
		positions.FieldsPerRecord = -1
	}

	seq := func(yield func(sourceRow, error) bool) {
		num := 0
		for {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(sourceRow{}, fmt.Errorf("csvRows: read record: %w", err))
				return
			}
			num++
			if positions != nil {
				num, _ = positions.FieldPos(0)
			}
			if !yield(sourceRow{Num: num, Cells: record}, nil) {
				return
			}
		}
	}
	return &rowSource{sheet: "csv", rows: seq}, nil
}

func sniffDelimiter(data []byte) rune {
	line := data
	if idx := bytes.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}
