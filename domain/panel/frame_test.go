package panel

import (
	"encoding/json"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFrameRejectsRaggedColumns(t *testing.T) {
	_, err := NewFrame(
		Column{Name: "a", Kind: KindNumber, Values: []Value{Number(1), Number(2)}},
		Column{Name: "b", Kind: KindNumber, Values: []Value{Number(1)}},
	)
	require.Error(t, err)

	_, err = NewFrame(
		Column{Name: "a", Values: []Value{Number(1)}},
		Column{Name: "a", Values: []Value{Number(2)}},
	)
	require.Error(t, err)
}

func TestFrameLookup(t *testing.T) {
	f, err := NewFrame(
		Column{Name: "week", Kind: KindNumber, Values: []Value{Number(1), Number(2)}},
		Column{Name: "arm", Kind: KindText, Values: []Value{Text("a"), Text("b")}},
	)
	require.NoError(t, err)

	assert.Equal(t, 2, f.Len())
	assert.Equal(t, []string{"week", "arm"}, f.Names())
	assert.True(t, f.Has("arm"))
	assert.Equal(t, []string{"outcome", "group"}, f.Missing("week", "outcome", "group"))

	col, ok := f.Column("arm")
	require.True(t, ok)
	assert.Equal(t, "b", col.Values[1].String())
}

func TestCompareOrdersMixedKinds(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	values := []Value{
		Text("b"),
		Timestamp(t0.Add(time.Hour)),
		Number(3),
		Missing(),
		Timestamp(t0),
		Number(-1),
		Text("a"),
	}
	sort.SliceStable(values, func(i, j int) bool { return Compare(values[i], values[j]) < 0 })

	assert.True(t, values[0].IsMissing())
	assert.Equal(t, -1.0, values[1].Num)
	assert.Equal(t, 3.0, values[2].Num)
	assert.Equal(t, t0, values[3].Time)
	assert.Equal(t, "a", values[5].Text)
}

func TestValueNumericEncoding(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	n, ok := Timestamp(ts).Numeric()
	require.True(t, ok)
	assert.Equal(t, float64(ts.UnixNano()), n)

	_, ok = Text("x").Numeric()
	assert.False(t, ok)
	assert.True(t, Number(nanValue()).IsMissing())
	assert.True(t, Text("").IsMissing())
}

func TestValueJSON(t *testing.T) {
	b, err := json.Marshal([]Value{Number(1.5), Text("x"), Missing()})
	require.NoError(t, err)
	assert.JSONEq(t, `[1.5,"x",null]`, string(b))

	var back []Value
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, []Value{Number(1.5), Text("x"), Missing()}, back)

	stamp := Timestamp(time.Date(2024, 3, 4, 5, 6, 7, 0, time.UTC))
	b, err = json.Marshal(stamp)
	require.NoError(t, err)
	var decoded Value
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.True(t, stamp.Equal(decoded))
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}
