package filter

import (
	"bytes"
	"strings"
)

// Compare 比较两个文档字段值，返回 -1/0/1
//
// 排序规则：nil < bool < number < string < bytes。整数和浮点数统一按数值
// 比较，整数对整数精确比较，不经过浮点转换。不可比较的类型组合返回
// ok = false
func Compare(a, b any) (int, bool) {
	ra, oka := rankOf(a)
	rb, okb := rankOf(b)
	if !oka || !okb {
		return 0, false
	}
	if ra != rb {
		if ra < rb {
			return -1, true
		}
		return 1, true
	}

	switch ra {
	case rankNil:
		return 0, true
	case rankBool:
		x, y := a.(bool), b.(bool)
		if x == y {
			return 0, true
		}
		if !x {
			return -1, true
		}
		return 1, true
	case rankNumber:
		x, xInt := toInt64(a)
		y, yInt := toInt64(b)
		if xInt && yInt {
			switch {
			case x < y:
				return -1, true
			case x > y:
				return 1, true
			}
			return 0, true
		}
		fx := toFloat64(a)
		fy := toFloat64(b)
		switch {
		case fx < fy:
			return -1, true
		case fx > fy:
			return 1, true
		}
		return 0, true
	case rankString:
		return strings.Compare(a.(string), b.(string)), true
	case rankBytes:
		return bytes.Compare(a.([]byte), b.([]byte)), true
	}

	return 0, false
}

// Equal 判断两个字段值是否相等，类型不可比较时返回 false
func Equal(a, b any) bool {
	cmp, ok := Compare(a, b)
	return ok && cmp == 0
}

const (
	rankNil = iota
	rankBool
	rankNumber
	rankString
	rankBytes
)

func rankOf(v any) (int, bool) {
	switch v.(type) {
	case nil:
		return rankNil, true
	case bool:
		return rankBool, true
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return rankNumber, true
	case string:
		return rankString, true
	case []byte:
		return rankBytes, true
	}
	return 0, false
}

func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	}
	return 0, false
}

func toFloat64(v any) float64 {
	switch x := v.(type) {
	case float32:
		return float64(x)
	case float64:
		return x
	}
	i, _ := toInt64(v)
	return float64(i)
}
