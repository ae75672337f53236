package detector

import (
	"math"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
)

// CheckInt 整数精确比较
func CheckInt(a, b int64) bool {
	return a == b
}

// CheckFloat 浮点比较：精确相等；否则将精度较高的一方按另一方的小数位四舍五入后比较；再按截断比较
func CheckFloat(a, b float64) bool {
	if a == b {
		return true
	}
	if math.IsNaN(a) || math.IsNaN(b) || math.IsInf(a, 0) || math.IsInf(b, 0) {
		return false
	}
	da, db := CountDecimals(a), CountDecimals(b)
	if da == db {
		return false
	}
	hi, lo, places := a, b, db
	if db > da {
		hi, lo, places = b, a, da
	}
	if roundTo(hi, places, false) == lo {
		return true
	}
	return roundTo(hi, places, true) == lo
}

// CheckText 去除首尾空白后忽略大小写比较
func CheckText(a, b string) bool {
	fold := cases.Fold()
	return fold.String(strings.TrimSpace(a)) == fold.String(strings.TrimSpace(b))
}

// CheckArrayInt 见 checkArray
func CheckArrayInt(next, prev []int64) bool { return checkArray(next, prev, CheckInt) }

// CheckArrayFloat 见 checkArray
func CheckArrayFloat(next, prev []float64) bool { return checkArray(next, prev, CheckFloat) }

// CheckArrayText 见 checkArray
func CheckArrayText(next, prev []string) bool { return checkArray(next, prev, CheckText) }

// checkArray 长度不同不相等；先按位置比较，不一致时要求 next 的每个元素都能在 prev 中找到相等元素
func checkArray[T any](next, prev []T, eq func(a, b T) bool) bool {
	if len(next) != len(prev) {
		return false
	}
	ordered := true
	for i := range next {
		if !eq(next[i], prev[i]) {
			ordered = false
			break
		}
	}
	if ordered {
		return true
	}
	for _, n := range next {
		found := false
		for _, p := range prev {
			if eq(n, p) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// CountDecimals 最短十进制表示的小数位数
func CountDecimals(v float64) int {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if i := strings.IndexByte(s, '.'); i >= 0 {
		return len(s) - i - 1
	}
	return 0
}

// roundTo 按十进制字符串保留 places 位小数，truncate 为 false 时四舍五入（远离零）
func roundTo(v float64, places int, truncate bool) float64 {
	neg := v < 0
	s := strconv.FormatFloat(math.Abs(v), 'f', -1, 64)
	intPart, frac, _ := strings.Cut(s, ".")
	if len(frac) <= places {
		return v
	}
	digits := []byte(intPart + frac[:places])
	if !truncate && frac[places] >= '5' {
		i := len(digits) - 1
		for ; i >= 0; i-- {
			if digits[i] == '9' {
				digits[i] = '0'
				continue
			}
			digits[i]++
			break
		}
		if i < 0 {
			digits = append([]byte{'1'}, digits...)
		}
	}
	split := len(digits) - places
	out := string(digits[:split])
	if places > 0 {
		out += "." + string(digits[split:])
	}
	r, err := strconv.ParseFloat(out, 64)
	if err != nil {
		return v
	}
	if neg {
		r = -r
	}
	return r
}
