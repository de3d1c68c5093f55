package tabular

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"didlab/domain/panel"
	"didlab/internal/errors"
)

// TypeCoercer decides one kind per column from the share of cells that parse
// as numbers or timestamps, then converts every cell to that kind. Cells that
// do not parse under the chosen kind become missing.
type TypeCoercer struct {
	config CoercionConfig
}

// CoercionConfig defines the coercion thresholds and rules
type CoercionConfig struct {
	NumericThreshold   float64  `json:"numeric_threshold"`   // share of non-empty cells that must parse as numbers
	TimestampThreshold float64  `json:"timestamp_threshold"` // share of non-empty cells that must parse as timestamps
	NormalizeStrings   bool     `json:"normalize_strings"`   // collapse whitespace in text cells
	MissingTokens      []string `json:"missing_tokens"`      // case-insensitive tokens read as missing
}

// DefaultCoercionConfig returns sensible defaults
func DefaultCoercionConfig() CoercionConfig {
	return CoercionConfig{
		NumericThreshold:   0.8,
		TimestampThreshold: 0.8,
		NormalizeStrings:   true,
		MissingTokens:      []string{"", "na", "n/a", "nan", "null", "none"},
	}
}

// NewTypeCoercer creates a coercer with the given config
func NewTypeCoercer(config CoercionConfig) *TypeCoercer {
	return &TypeCoercer{config: config}
}

// ColumnAnalysis is the parse census for one column
type ColumnAnalysis struct {
	Name           string     `json:"name"`
	ValidCount     int        `json:"valid_count"`
	NumericCount   int        `json:"numeric_count"`
	TimestampCount int        `json:"timestamp_count"`
	Kind           panel.Kind `json:"kind"`
}

// CoerceTable converts a raw table into a typed frame
func (c *TypeCoercer) CoerceTable(raw *RawTable) (*panel.Frame, error) {
	if raw == nil || len(raw.Headers) == 0 {
		return nil, errors.InvalidInput("table has no columns")
	}

	cols := make([]panel.Column, len(raw.Headers))
	for j, name := range raw.Headers {
		if name == "" {
			name = fmt.Sprintf("column_%d", j+1)
		}
		cells := make([]string, len(raw.Rows))
		for i, row := range raw.Rows {
			if j < len(row) {
				cells[i] = row[j]
			}
		}
		cols[j] = c.CoerceColumn(name, cells)
	}

	frame, err := panel.NewFrame(cols...)
	if err != nil {
		return nil, errors.WithCode(errors.CodeInvalidInput, err)
	}
	return frame, nil
}

// CoerceColumn types one column of raw cells
func (c *TypeCoercer) CoerceColumn(name string, cells []string) panel.Column {
	analysis := c.AnalyzeColumn(name, cells)
	col := panel.Column{Name: name, Kind: analysis.Kind, Values: make([]panel.Value, len(cells))}
	for i, raw := range cells {
		col.Values[i] = c.CoerceValue(raw, analysis.Kind)
	}
	return col
}

// AnalyzeColumn counts how many non-missing cells parse as each kind and
// picks numbers first, then timestamps, then text.
func (c *TypeCoercer) AnalyzeColumn(name string, cells []string) ColumnAnalysis {
	a := ColumnAnalysis{Name: name, Kind: panel.KindText}
	for _, raw := range cells {
		if c.isMissing(raw) {
			continue
		}
		a.ValidCount++
		if _, ok := c.tryParseNumeric(raw); ok {
			a.NumericCount++
		}
		if _, ok := panel.ParseTimestamp(strings.TrimSpace(raw)); ok {
			a.TimestampCount++
		}
	}
	if a.ValidCount == 0 {
		a.Kind = panel.KindMissing
		return a
	}

	valid := float64(a.ValidCount)
	switch {
	case float64(a.NumericCount)/valid >= c.config.NumericThreshold:
		a.Kind = panel.KindNumber
	case float64(a.TimestampCount)/valid >= c.config.TimestampThreshold:
		a.Kind = panel.KindTimestamp
	}
	return a
}

// CoerceValue converts one cell to the column's kind
func (c *TypeCoercer) CoerceValue(raw string, kind panel.Kind) panel.Value {
	if c.isMissing(raw) {
		return panel.Missing()
	}
	switch kind {
	case panel.KindNumber:
		if f, ok := c.tryParseNumeric(raw); ok {
			return panel.Number(f)
		}
		return panel.Missing()
	case panel.KindTimestamp:
		if t, ok := panel.ParseTimestamp(strings.TrimSpace(raw)); ok {
			return panel.Timestamp(t)
		}
		return panel.Missing()
	case panel.KindText:
		return panel.Text(c.normalizeString(raw))
	default:
		return panel.Missing()
	}
}

func (c *TypeCoercer) isMissing(raw string) bool {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, tok := range c.config.MissingTokens {
		if v == tok {
			return true
		}
	}
	return v == ""
}

// tryParseNumeric parses numbers with strict rules. Handles parentheses for
// negatives, currency symbols, percent signs and European decimals.
func (c *TypeCoercer) tryParseNumeric(strVal string) (float64, bool) {
	cleanVal := strings.TrimSpace(strVal)
	if cleanVal == "" {
		return 0, false
	}

	// (123) -> -123
	isNegative := false
	if strings.HasPrefix(cleanVal, "(") && strings.HasSuffix(cleanVal, ")") {
		cleanVal = strings.TrimSuffix(strings.TrimPrefix(cleanVal, "("), ")")
		isNegative = true
	}

	for _, symbol := range []string{"$", "€", "£", "¥", "USD", "EUR", "GBP", "JPY"} {
		cleanVal = strings.ReplaceAll(cleanVal, symbol, "")
	}
	cleanVal = strings.TrimSpace(strings.ReplaceAll(cleanVal, "%", ""))

	hasComma := strings.Contains(cleanVal, ",")
	hasPeriod := strings.Contains(cleanVal, ".")
	hasSpace := strings.Contains(cleanVal, " ")

	switch {
	case hasComma && (hasPeriod || hasSpace):
		// 1.234,56 or 1 234,56 when the part after the last comma is short
		commaIdx := strings.LastIndex(cleanVal, ",")
		afterComma := cleanVal[commaIdx+1:]
		if len(afterComma) <= 2 && strings.Trim(afterComma, "0123456789") == "" {
			cleanVal = strings.ReplaceAll(cleanVal, ".", "")
			cleanVal = strings.ReplaceAll(cleanVal, " ", "")
			cleanVal = strings.ReplaceAll(cleanVal, ",", ".")
		} else {
			cleanVal = strings.ReplaceAll(cleanVal, ",", "")
			cleanVal = strings.ReplaceAll(cleanVal, " ", "")
		}
	case hasComma:
		if thousands.MatchString(cleanVal) {
			cleanVal = strings.ReplaceAll(cleanVal, ",", "")
		} else {
			cleanVal = strings.ReplaceAll(cleanVal, ",", ".")
		}
	default:
		cleanVal = strings.ReplaceAll(cleanVal, " ", "")
	}

	if isNegative {
		cleanVal = "-" + cleanVal
	}

	val, err := strconv.ParseFloat(cleanVal, 64)
	if err != nil || math.IsInf(val, 0) || math.IsNaN(val) {
		return 0, false
	}
	return val, true
}

var (
	thousands  = regexp.MustCompile(`^-?\d{1,3}(,\d{3})+$`)
	whitespace = regexp.MustCompile(`\s+`)
)

// normalizeString trims, collapses whitespace and strips control characters.
// Case is kept: treatment labels and group keys are reported verbatim.
func (c *TypeCoercer) normalizeString(s string) string {
	s = strings.TrimSpace(s)
	if !c.config.NormalizeStrings {
		return s
	}
	s = whitespace.ReplaceAllString(s, " ")
	return strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, s)
}
