package detector

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind 属性值类型
type Kind string

const (
	KindInt        Kind = "int"
	KindFloat      Kind = "float"
	KindText       Kind = "text"
	KindIntArray   Kind = "int_array"
	KindFloatArray Kind = "float_array"
	KindTextArray  Kind = "text_array"
)

// IsArray 是否数组类型
func (k Kind) IsArray() bool {
	return k == KindIntArray || k == KindFloatArray || k == KindTextArray
}

// Value 一个带类型的属性值，Null 为 true 时其余字段无意义
type Value struct {
	Kind   Kind
	Null   bool
	Int    int64
	Float  float64
	Text   string
	Ints   []int64
	Floats []float64
	Texts  []string
}

// Equal 按类型做容差比较，类型不同时不相等（整数与浮点之间按浮点比较）
func Equal(next, prev Value) bool {
	if next.Null || prev.Null {
		return next.Null == prev.Null
	}
	switch {
	case next.Kind == KindInt && prev.Kind == KindInt:
		return CheckInt(next.Int, prev.Int)
	case isNumber(next.Kind) && isNumber(prev.Kind):
		return CheckFloat(next.asFloat(), prev.asFloat())
	case next.Kind == KindText && prev.Kind == KindText:
		return CheckText(next.Text, prev.Text)
	case next.Kind == KindIntArray && prev.Kind == KindIntArray:
		return CheckArrayInt(next.Ints, prev.Ints)
	case isNumberArray(next.Kind) && isNumberArray(prev.Kind):
		return CheckArrayFloat(next.asFloats(), prev.asFloats())
	case next.Kind == KindTextArray && prev.Kind == KindTextArray:
		return CheckArrayText(next.Texts, prev.Texts)
	}
	return false
}

func isNumber(k Kind) bool      { return k == KindInt || k == KindFloat }
func isNumberArray(k Kind) bool { return k == KindIntArray || k == KindFloatArray }

func (v Value) asFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

func (v Value) asFloats() []float64 {
	if v.Kind == KindFloatArray {
		return v.Floats
	}
	out := make([]float64, len(v.Ints))
	for i, n := range v.Ints {
		out[i] = float64(n)
	}
	return out
}

// Interface 转为可序列化的值
func (v Value) Interface() interface{} {
	if v.Null {
		return nil
	}
	switch v.Kind {
	case KindInt:
		return v.Int
	case KindFloat:
		return v.Float
	case KindText:
		return v.Text
	case KindIntArray:
		return v.Ints
	case KindFloatArray:
		return v.Floats
	case KindTextArray:
		return v.Texts
	}
	return nil
}

// ValueOf 从解码后的属性值推断类型
// json.Number 保留原始文本，带小数点或指数的视为浮点
func ValueOf(raw interface{}) Value {
	switch x := raw.(type) {
	case nil:
		return Value{Null: true}
	case Value:
		return x
	case json.Number:
		return numberValue(string(x))
	case int:
		return Value{Kind: KindInt, Int: int64(x)}
	case int32:
		return Value{Kind: KindInt, Int: int64(x)}
	case int64:
		return Value{Kind: KindInt, Int: x}
	case uint64:
		if x <= math.MaxInt64 {
			return Value{Kind: KindInt, Int: int64(x)}
		}
		return Value{Kind: KindFloat, Float: float64(x)}
	case float32:
		return floatValue(float64(x))
	case float64:
		return floatValue(x)
	case bool:
		return Value{Kind: KindText, Text: strconv.FormatBool(x)}
	case string:
		if strings.TrimSpace(x) == "" {
			return Value{Null: true}
		}
		return Value{Kind: KindText, Text: x}
	case []interface{}:
		return arrayValue(x)
	case []string:
		return Value{Kind: KindTextArray, Texts: x}
	case []int64:
		return Value{Kind: KindIntArray, Ints: x}
	case []float64:
		return Value{Kind: KindFloatArray, Floats: x}
	}
	return Value{Kind: KindText, Text: fmt.Sprint(raw)}
}

// floatValue 无小数部分的浮点按整数处理
func floatValue(f float64) Value {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return Value{Kind: KindInt, Int: int64(f)}
	}
	return Value{Kind: KindFloat, Float: f}
}

func numberValue(s string) Value {
	if !strings.ContainsAny(s, ".eE") {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Value{Kind: KindInt, Int: n}
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return Value{Kind: KindText, Text: s}
	}
	return Value{Kind: KindFloat, Float: f}
}

// arrayValue 同质数组；混合整数与浮点时按浮点数组，其余混合按文本数组
func arrayValue(items []interface{}) Value {
	if len(items) == 0 {
		return Value{Null: true}
	}
	vals := make([]Value, 0, len(items))
	kind := Kind("")
	for _, it := range items {
		v := ValueOf(it)
		if v.Null || v.Kind.IsArray() {
			v = Value{Kind: KindText, Text: fmt.Sprint(it)}
		}
		switch {
		case kind == "":
			kind = v.Kind
		case kind != v.Kind && isNumber(kind) && isNumber(v.Kind):
			kind = KindFloat
		case kind != v.Kind:
			kind = KindText
		}
		vals = append(vals, v)
	}
	switch kind {
	case KindInt:
		out := Value{Kind: KindIntArray}
		for _, v := range vals {
			out.Ints = append(out.Ints, v.Int)
		}
		return out
	case KindFloat:
		out := Value{Kind: KindFloatArray}
		for _, v := range vals {
			out.Floats = append(out.Floats, v.asFloat())
		}
		return out
	}
	out := Value{Kind: KindTextArray}
	for i, v := range vals {
		if v.Kind == KindText {
			out.Texts = append(out.Texts, v.Text)
		} else {
			out.Texts = append(out.Texts, fmt.Sprint(items[i]))
		}
	}
	return out
}

// Coerce 按列类型转换，无法转换时返回 Null
func Coerce(v Value, kind Kind) Value {
	if v.Null || v.Kind == kind {
		return v
	}
	switch kind {
	case KindFloat:
		if v.Kind == KindInt {
			return Value{Kind: KindFloat, Float: float64(v.Int)}
		}
	case KindFloatArray:
		if v.Kind == KindIntArray {
			return Value{Kind: KindFloatArray, Floats: v.asFloats()}
		}
	case KindText:
		return Value{Kind: KindText, Text: fmt.Sprint(v.Interface())}
	case KindTextArray:
		if v.Kind.IsArray() {
			out := Value{Kind: KindTextArray}
			switch v.Kind {
			case KindIntArray:
				for _, n := range v.Ints {
					out.Texts = append(out.Texts, strconv.FormatInt(n, 10))
				}
			case KindFloatArray:
				for _, f := range v.Floats {
					out.Texts = append(out.Texts, strconv.FormatFloat(f, 'f', -1, 64))
				}
			}
			return out
		}
	}
	return Value{Null: true}
}
