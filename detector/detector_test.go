package detector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/GrainArc/GeoClassify/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckFloat(t *testing.T) {
	cases := []struct {
		a, b float64
		want bool
	}{
		{1.0, 1.00, true},
		{1.23456, 1.2, true},
		{1.25, 1.3, true},
		{1.24, 1.2, true},
		{1.29, 1.2, true},
		{1.1, 1.2, false},
		{1.21, 1.23, false},
		{-2.345, -2.35, true},
		{9.96, 10, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CheckFloat(tc.a, tc.b), "%v vs %v", tc.a, tc.b)
		assert.Equal(t, tc.want, CheckFloat(tc.b, tc.a), "%v vs %v", tc.b, tc.a)
	}
}

func TestCountDecimals(t *testing.T) {
	assert.Equal(t, 0, CountDecimals(12))
	assert.Equal(t, 2, CountDecimals(0.25))
	assert.Equal(t, 5, CountDecimals(1.23456))
}

func TestCheckArrays(t *testing.T) {
	assert.True(t, CheckArrayFloat([]float64{1.0, 2.0}, []float64{2.0, 1.0}))
	assert.False(t, CheckArrayFloat([]float64{1.0, 2.0}, []float64{1.0}))
	assert.True(t, CheckArrayFloat([]float64{1.234, 5}, []float64{1.23, 5}))
	assert.True(t, CheckArrayInt([]int64{1, 1}, []int64{1, 2}))
	assert.False(t, CheckArrayInt([]int64{3, 1}, []int64{1, 2}))
	assert.True(t, CheckArrayText([]string{"B ", "a"}, []string{"A", "b"}))
}

func TestCheckText(t *testing.T) {
	assert.True(t, CheckText(" Foo ", "foo"))
	assert.True(t, CheckText("STRASSE", "strasse"))
	assert.False(t, CheckText("foo", "bar"))
}

func TestValueOf(t *testing.T) {
	assert.Equal(t, Value{Kind: KindInt, Int: 3}, ValueOf(json.Number("3")))
	assert.Equal(t, Value{Kind: KindFloat, Float: 3.5}, ValueOf(json.Number("3.5")))
	assert.Equal(t, Value{Kind: KindInt, Int: 4}, ValueOf(4.0))
	assert.True(t, ValueOf("  ").Null)
	assert.True(t, ValueOf(nil).Null)

	arr := ValueOf([]interface{}{json.Number("1"), json.Number("2.5")})
	assert.Equal(t, KindFloatArray, arr.Kind)
	assert.Equal(t, []float64{1, 2.5}, arr.Floats)

	mixed := ValueOf([]interface{}{"a", json.Number("1")})
	assert.Equal(t, []string{"a", "1"}, mixed.Texts)
}

func TestEqualAcrossKinds(t *testing.T) {
	assert.True(t, Equal(ValueOf(2), ValueOf(2.0)))
	assert.True(t, Equal(ValueOf(2), Value{Kind: KindFloat, Float: 2.0}))
	assert.False(t, Equal(ValueOf("2"), ValueOf(2)))
	assert.True(t, Equal(Value{Null: true}, Value{Null: true}))
}

func TestFilterColumns(t *testing.T) {
	cols := FilterColumns([]Column{
		{Name: "name", Kind: KindText},
		{Name: "Shape_Area", Kind: KindFloat},
		{Name: "gml_id", Kind: KindText},
		{Name: "updated", Kind: KindText, SourceType: "timestamp with time zone"},
		{Name: "height", Kind: KindFloat},
	})
	require.Len(t, cols, 2)
	assert.Equal(t, "name", cols[0].Name)
	assert.Equal(t, "height", cols[1].Name)
}

func TestInferColumns(t *testing.T) {
	cols := InferColumns(map[uint64]map[string]interface{}{
		1: {"a": json.Number("1"), "b": "x", "c": nil},
		2: {"a": json.Number("1.5"), "b": json.Number("2")},
	})
	require.Len(t, cols, 3)
	assert.Equal(t, Column{Name: "a", Kind: KindFloat}, cols[0])
	assert.Equal(t, Column{Name: "b", Kind: KindText}, cols[1])
	assert.Equal(t, Column{Name: "c", Kind: KindText}, cols[2])
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func input(ts time.Time, rows map[uint64]map[string]interface{}) Input {
	mapping := map[uint64]uint64{}
	for fid := range rows {
		mapping[fid] = fid + 100
	}
	return Input{CollectionID: 1, SourceID: uint(ts.Day()), Timestamp: ts, Mapping: mapping, Rows: rows}
}

func TestDetectIdempotent(t *testing.T) {
	store := NewMemorySnapshots()
	d := New(store)
	ctx := context.Background()
	rows := map[uint64]map[string]interface{}{
		1: {"height": json.Number("12.5"), "name": "Tower", "tags": []interface{}{"a", "b"}},
		2: {"height": json.Number("3"), "name": nil},
	}

	first, err := d.Detect(ctx, input(day(1), rows))
	require.NoError(t, err)
	assert.True(t, first.HasNewData)
	assert.Len(t, first.Changes, 4)
	for _, c := range first.Changes {
		assert.Equal(t, ChangeInitial, c.Kind)
	}
	store.Append(1, day(1), first.Changes)

	second, err := d.Detect(ctx, input(day(1), rows))
	require.NoError(t, err)
	assert.False(t, second.HasNewData)
	assert.Empty(t, second.Changes)
}

func TestDetectTolerantChanges(t *testing.T) {
	store := NewMemorySnapshots()
	d := New(store)
	ctx := context.Background()

	first, err := d.Detect(ctx, input(day(1), map[uint64]map[string]interface{}{
		1: {"height": json.Number("12.54"), "name": "Tower", "tags": []interface{}{"a", "b"}},
	}))
	require.NoError(t, err)
	store.Append(1, day(1), first.Changes)

	// 精度降低、大小写与数组顺序变化都不算新数据
	same, err := d.Detect(ctx, input(day(2), map[uint64]map[string]interface{}{
		1: {"height": json.Number("12.5"), "name": " TOWER", "tags": []interface{}{"b", "a"}},
	}))
	require.NoError(t, err)
	assert.False(t, same.HasNewData)

	changed, err := d.Detect(ctx, input(day(3), map[uint64]map[string]interface{}{
		1: {"height": json.Number("13.1"), "name": "Tower", "tags": []interface{}{"b", "a"}},
	}))
	require.NoError(t, err)
	require.Len(t, changed.Changes, 1)
	c := changed.Changes[0]
	assert.Equal(t, ChangeChanged, c.Kind)
	assert.Equal(t, Key{CollectionID: 1, FID: 101, Column: "height"}, c.Key)
	assert.Equal(t, 13.1, c.Value.Float)
	require.NotNil(t, c.Previous)
	assert.Equal(t, 12.54, c.Previous.Float)
}

func TestDetectBracketing(t *testing.T) {
	store := NewMemorySnapshots()
	d := New(store)
	ctx := context.Background()
	row := func(v string) map[uint64]map[string]interface{} {
		return map[uint64]map[string]interface{}{1: {"status": v}}
	}

	res, err := d.Detect(ctx, input(day(10), row("open")))
	require.NoError(t, err)
	store.Append(10, day(10), res.Changes)

	// 晚到的历史数据与后一快照相同，不记录
	res, err = d.Detect(ctx, input(day(5), row(" OPEN")))
	require.NoError(t, err)
	assert.False(t, res.HasNewData)

	// 晚到且不同的历史数据
	res, err = d.Detect(ctx, input(day(5), row("planned")))
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeBackfill, res.Changes[0].Kind)
	require.NotNil(t, res.Changes[0].Previous)
	assert.Equal(t, "open", res.Changes[0].Previous.Text)
	store.Append(5, day(5), res.Changes)

	// 同一时间戳不同值必须记录
	res, err = d.Detect(ctx, input(day(10), row("closed")))
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeDuplicate, res.Changes[0].Kind)
	assert.Equal(t, "open", res.Changes[0].Previous.Text)

	// 与最近的前一快照比较
	res, err = d.Detect(ctx, input(day(7), row("Planned")))
	require.NoError(t, err)
	assert.False(t, res.HasNewData)
}

func TestDetectBackfillToleratesPrecision(t *testing.T) {
	store := NewMemorySnapshots()
	d := New(store)
	ctx := context.Background()
	row := func(v string) map[uint64]map[string]interface{} {
		return map[uint64]map[string]interface{}{1: {"height": json.Number(v)}}
	}

	res, err := d.Detect(ctx, input(day(10), row("12.5")))
	require.NoError(t, err)
	store.Append(10, day(10), res.Changes)

	res, err = d.Detect(ctx, input(day(5), row("12.54")))
	require.NoError(t, err)
	assert.False(t, res.HasNewData)
	assert.Empty(t, res.Changes)

	res, err = d.Detect(ctx, input(day(5), row("11.9")))
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, ChangeBackfill, res.Changes[0].Kind)
	assert.Equal(t, 12.5, res.Changes[0].Previous.Float)
}

func TestDetectMissingTimestamp(t *testing.T) {
	_, err := New(NewMemorySnapshots()).Detect(context.Background(), Input{})
	assert.True(t, errs.IsInput(err))
}
