package panel

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind is the coerced type of a cell.
type Kind int

const (
	KindMissing Kind = iota
	KindNumber
	KindTimestamp
	KindText
)

func (k Kind) String() string {
	switch k {
	case KindNumber:
		return "number"
	case KindTimestamp:
		return "timestamp"
	case KindText:
		return "text"
	default:
		return "missing"
	}
}

// Value is a single coerced cell. Exactly one of Num, Time, Text is meaningful,
// selected by Kind.
type Value struct {
	Kind Kind
	Num  float64
	Time time.Time
	Text string
}

// Missing returns the missing value
func Missing() Value { return Value{} }

// Number wraps a float; NaN is treated as missing
func Number(f float64) Value {
	if math.IsNaN(f) {
		return Value{}
	}
	return Value{Kind: KindNumber, Num: f}
}

// Timestamp wraps a time, normalised to UTC
func Timestamp(t time.Time) Value { return Value{Kind: KindTimestamp, Time: t.UTC()} }

// Text wraps a string; the empty string is treated as missing
func Text(s string) Value {
	if s == "" {
		return Value{}
	}
	return Value{Kind: KindText, Text: s}
}

// IsMissing reports whether the cell carries no value
func (v Value) IsMissing() bool { return v.Kind == KindMissing }

// String renders the value as a label. Used for treatment arms, cluster keys
// and categorical levels.
func (v Value) String() string {
	switch v.Kind {
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'g', -1, 64)
	case KindTimestamp:
		return v.Time.Format(time.RFC3339Nano)
	case KindText:
		return v.Text
	default:
		return ""
	}
}

// Numeric returns the numeric encoding of the value: numbers as-is and
// timestamps as Unix nanoseconds. Text and missing values have none.
func (v Value) Numeric() (float64, bool) {
	switch v.Kind {
	case KindNumber:
		return v.Num, true
	case KindTimestamp:
		return float64(v.Time.UnixNano()), true
	default:
		return 0, false
	}
}

// Equal reports value equality within the same kind
func (v Value) Equal(o Value) bool { return Compare(v, o) == 0 }

// Compare orders values. Missing sorts first; values of different kinds are
// ordered by kind so that mixed columns still sort deterministically.
func Compare(a, b Value) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	switch a.Kind {
	case KindNumber:
		switch {
		case a.Num < b.Num:
			return -1
		case a.Num > b.Num:
			return 1
		}
		return 0
	case KindTimestamp:
		return a.Time.Compare(b.Time)
	case KindText:
		switch {
		case a.Text < b.Text:
			return -1
		case a.Text > b.Text:
			return 1
		}
		return 0
	default:
		return 0
	}
}

// MarshalJSON writes numbers as JSON numbers, timestamps and text as strings
// and missing as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindNumber:
		if math.IsInf(v.Num, 0) {
			return json.Marshal(v.String())
		}
		return json.Marshal(v.Num)
	case KindTimestamp, KindText:
		return json.Marshal(v.String())
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON reverses MarshalJSON. Strings in RFC3339 form come back as
// timestamps, so a text cell holding such a string is read as a timestamp.
func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch x := raw.(type) {
	case nil:
		*v = Missing()
	case float64:
		*v = Number(x)
	case string:
		switch x {
		case "+Inf":
			*v = Number(math.Inf(1))
		case "-Inf":
			*v = Number(math.Inf(-1))
		default:
			if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
				*v = Timestamp(t)
			} else {
				*v = Text(x)
			}
		}
	default:
		return fmt.Errorf("cannot decode %s as a cell value", string(data))
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
	"2006/01/02",
	"02-Jan-2006",
}

// ParseTimestamp tries the supported calendar layouts in order.
func ParseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ParseAs interprets raw text with the given column kind. It is used for
// values supplied out of band, such as a configured cutover.
func ParseAs(raw string, kind Kind) (Value, error) {
	switch kind {
	case KindNumber:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%q is not a number", raw)
		}
		return Number(f), nil
	case KindTimestamp:
		t, ok := ParseTimestamp(raw)
		if !ok {
			return Value{}, fmt.Errorf("%q is not a recognised timestamp", raw)
		}
		return Timestamp(t), nil
	default:
		return Text(raw), nil
	}
}
