package tabular

// RawTable is a rectangular table of trimmed cell text in source order.
// Short rows are padded with empty cells.
type RawTable struct {
	Headers []string
	Rows    [][]string
}

// Format names a supported input encoding
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)
