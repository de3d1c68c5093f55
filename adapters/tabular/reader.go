package tabular

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"didlab/domain/panel"
	"didlab/internal"
	"didlab/internal/errors"

	"github.com/tidwall/gjson"
	"github.com/xuri/excelize/v2"
)

// DefaultSheet is read from workbooks unless another sheet is configured
const DefaultSheet = "Sheet1"

// Reader loads CSV, XLSX and JSON-records files into typed frames
type Reader struct {
	sheet    string
	dataPath string
	coercer  *TypeCoercer
	logger   *internal.Logger
}

// Option customises a Reader
type Option func(*Reader)

// WithSheet selects the workbook sheet
func WithSheet(name string) Option {
	return func(r *Reader) { r.sheet = name }
}

// WithDataPath selects the records array inside a JSON document, in gjson
// path syntax (e.g. "data.rows"). Empty means the document root.
func WithDataPath(path string) Option {
	return func(r *Reader) { r.dataPath = path }
}

// WithCoercer replaces the default type coercer
func WithCoercer(c *TypeCoercer) Option {
	return func(r *Reader) { r.coercer = c }
}

// NewReader creates a reader. A nil logger discards output.
func NewReader(logger *internal.Logger, opts ...Option) *Reader {
	if logger == nil {
		logger = internal.NewNopLogger()
	}
	r := &Reader{
		sheet:   DefaultSheet,
		coercer: NewTypeCoercer(DefaultCoercionConfig()),
		logger:  logger.Named("tabular"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// FormatFromPath infers the format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	case ".json":
		return FormatJSON, nil
	default:
		return "", errors.InvalidInput(fmt.Sprintf("unsupported file type %q (expected .csv, .xlsx or .json)", ext))
	}
}

// Load reads a file and coerces its columns
func (r *Reader) Load(ctx context.Context, path string) (*panel.Frame, error) {
	raw, err := r.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	return r.coercer.CoerceTable(raw)
}

// Decode reads an in-memory upload and coerces its columns
func (r *Reader) Decode(ctx context.Context, src io.Reader, format string) (*panel.Frame, error) {
	raw, err := r.Read(ctx, src, Format(strings.ToLower(format)))
	if err != nil {
		return nil, err
	}
	return r.coercer.CoerceTable(raw)
}

// ReadFile reads a file without type coercion
func (r *Reader) ReadFile(ctx context.Context, path string) (*RawTable, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(fmt.Sprintf("input file %s", path))
		}
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	r.logger.Debug("reading %s file %s", format, path)
	return r.Read(ctx, f, format)
}

// Read parses src in the given format without type coercion
func (r *Reader) Read(ctx context.Context, src io.Reader, format Format) (*RawTable, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		table *RawTable
		err   error
	)
	switch format {
	case FormatCSV:
		table, err = r.readCSV(src)
	case FormatXLSX:
		table, err = r.readXLSX(src)
	case FormatJSON:
		table, err = r.readJSON(src)
	default:
		return nil, errors.InvalidInput(fmt.Sprintf("unsupported format %q", format))
	}
	if err != nil {
		return nil, err
	}

	r.logger.Info("%s input read in %.2fms (%d columns, %d rows)",
		strings.ToUpper(string(format)), float64(time.Since(start).Nanoseconds())/1e6, len(table.Headers), len(table.Rows))
	return table, nil
}

func (r *Reader) readCSV(src io.Reader) (*RawTable, error) {
	reader := csv.NewReader(src)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to read CSV: %w", err))
	}
	return processRows(rows, "CSV")
}

func (r *Reader) readXLSX(src io.Reader) (*RawTable, error) {
	f, err := excelize.OpenReader(src)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to open workbook: %w", err))
	}
	defer f.Close()

	sheet := r.sheet
	sheets := f.GetSheetList()
	if !contains(sheets, sheet) {
		if len(sheets) == 0 {
			return nil, errors.InvalidInput("workbook has no sheets")
		}
		r.logger.Warn("sheet %q not found, reading %q", sheet, sheets[0])
		sheet = sheets[0]
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, fmt.Errorf("failed to read sheet %s: %w", sheet, err))
	}
	return processRows(rows, "workbook")
}

// readJSON accepts an array of flat objects. Headers are the union of keys
// in first-seen order; absent keys and nulls are empty cells.
func (r *Reader) readJSON(src io.Reader) (*RawTable, error) {
	body, err := io.ReadAll(src)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read JSON input")
	}
	body = bytes.TrimSpace(body)
	if !gjson.ValidBytes(body) {
		return nil, errors.InvalidInput("input is not valid JSON")
	}

	records := gjson.ParseBytes(body)
	if r.dataPath != "" {
		records = gjson.GetBytes(body, r.dataPath)
		if !records.Exists() {
			return nil, errors.InvalidInput(fmt.Sprintf("data path %q not found in JSON input", r.dataPath))
		}
	}
	if records.IsObject() {
		records = gjson.Parse("[" + records.Raw + "]")
	}
	if !records.IsArray() {
		return nil, errors.InvalidInput("JSON input must be an array of records")
	}

	index := make(map[string]int)
	var headers []string
	var cells []map[string]string
	var bad error
	records.ForEach(func(_, rec gjson.Result) bool {
		if !rec.IsObject() {
			bad = errors.InvalidInput(fmt.Sprintf("JSON record %d is not an object", len(cells)))
			return false
		}
		row := make(map[string]string)
		rec.ForEach(func(key, val gjson.Result) bool {
			k := strings.TrimSpace(key.String())
			if _, ok := index[k]; !ok {
				index[k] = len(headers)
				headers = append(headers, k)
			}
			row[k] = jsonCell(val)
			return true
		})
		cells = append(cells, row)
		return true
	})
	if bad != nil {
		return nil, bad
	}
	if len(cells) == 0 {
		return nil, errors.InvalidInput("JSON input must have at least one record")
	}

	table := &RawTable{Headers: headers, Rows: make([][]string, len(cells))}
	for i, row := range cells {
		out := make([]string, len(headers))
		for j, h := range headers {
			out[j] = row[h]
		}
		table.Rows[i] = out
	}
	return table, nil
}

func jsonCell(v gjson.Result) string {
	switch v.Type {
	case gjson.Null:
		return ""
	case gjson.String:
		return strings.TrimSpace(v.Str)
	case gjson.Number:
		return v.Raw
	default:
		return v.String()
	}
}

// processRows takes the first row as the header and pads short rows
func processRows(rows [][]string, source string) (*RawTable, error) {
	if len(rows) < 2 {
		return nil, errors.InvalidInput(fmt.Sprintf("%s input must have a header row and at least one data row", source))
	}

	headers := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		headers[i] = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
	}

	table := &RawTable{Headers: headers}
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		out := make([]string, len(headers))
		for j := 0; j < len(headers) && j < len(row); j++ {
			out[j] = strings.TrimSpace(row[j])
		}
		table.Rows = append(table.Rows, out)
	}
	return table, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
