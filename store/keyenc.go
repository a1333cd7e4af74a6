package store

import (
	"encoding/base64"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// 索引键编码
//
// 将字段值元组编码为字节串，保证 bytes.Compare 的顺序与值的逻辑顺序一致：
// nil < bool < int < float < string < bytes。整数和浮点数使用不同的标签，
// 整数全量保序（不经过浮点数转换），列值经归一化后同一字段只有一种数值
// 表示，跨表示的数值不参与键序比较。
// 字符串和字节串使用 0x00 转义 + 终结符方案，保证前缀关系不破坏排序

const (
	tagNil    byte = 0x01
	tagFalse  byte = 0x02
	tagTrue   byte = 0x03
	tagInt    byte = 0x04
	tagFloat  byte = 0x05
	tagString byte = 0x06
	tagBytes  byte = 0x07

	escapeByte     byte = 0x00
	escapedReplace byte = 0xff
	terminator0    byte = 0x00
	terminator1    byte = 0x01
)

// AppendValue 编码单个字段值并追加到 buf
func AppendValue(buf []byte, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return append(buf, tagNil), nil
	case bool:
		if x {
			return append(buf, tagTrue), nil
		}
		return append(buf, tagFalse), nil
	case int:
		return appendInt(buf, int64(x)), nil
	case int8:
		return appendInt(buf, int64(x)), nil
	case int16:
		return appendInt(buf, int64(x)), nil
	case int32:
		return appendInt(buf, int64(x)), nil
	case int64:
		return appendInt(buf, x), nil
	case uint:
		return appendInt(buf, int64(x)), nil
	case uint8:
		return appendInt(buf, int64(x)), nil
	case uint16:
		return appendInt(buf, int64(x)), nil
	case uint32:
		return appendInt(buf, int64(x)), nil
	case uint64:
		if x > math.MaxInt64 {
			return nil, errors.Errorf("index key integer [%d] overflows int64", x)
		}
		return appendInt(buf, int64(x)), nil
	case float32:
		return appendFloat(buf, float64(x)), nil
	case float64:
		return appendFloat(buf, x), nil
	case string:
		return appendEscaped(append(buf, tagString), []byte(x)), nil
	case []byte:
		return appendEscaped(append(buf, tagBytes), x), nil
	}
	return nil, errors.Errorf("unsupported index key type %T", v)
}

// EncodeKey 编码字段值元组
func EncodeKey(values ...any) ([]byte, error) {
	var buf []byte
	var err error
	for _, v := range values {
		buf, err = AppendValue(buf, v)
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// appendInt 整数的保序编码：符号位翻转后按大端序输出，int64 全量程不丢精度
func appendInt(buf []byte, v int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v)^(1<<63))
	return append(append(buf, tagInt), tmp[:]...)
}

// appendFloat 浮点数的保序编码：符号位翻转后负数再整体取反
func appendFloat(buf []byte, f float64) []byte {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], bits)
	return append(append(buf, tagFloat), tmp[:]...)
}

// appendEscaped 0x00 转义为 0x00 0xff，以 0x00 0x01 终结
func appendEscaped(buf []byte, data []byte) []byte {
	for _, b := range data {
		if b == escapeByte {
			buf = append(buf, escapeByte, escapedReplace)
		} else {
			buf = append(buf, b)
		}
	}
	return append(buf, terminator0, terminator1)
}

// PrefixSuccessor 返回排在所有以 prefix 开头的键之后的最小键
//
// 返回 nil 表示不存在上界（prefix 全为 0xff）
func PrefixSuccessor(prefix []byte) []byte {
	for i := len(prefix) - 1; i >= 0; i-- {
		if prefix[i] != 0xff {
			succ := make([]byte, i+1)
			copy(succ, prefix[:i+1])
			succ[i]++
			return succ
		}
	}
	return nil
}

func encodeCursor(key []byte) string {
	return base64.RawURLEncoding.EncodeToString(key)
}

func decodeCursor(cursor string) ([]byte, error) {
	key, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, errors.WithMessage(ErrInvalidCursor, err.Error())
	}
	return key, nil
}

// indexScanBounds 根据等值前缀和范围条件计算扫描键空间 [lower, upper)
//
// upper 为 nil 表示无上界
func indexScanBounds(query *IndexQuery) (lower []byte, upper []byte, err error) {
	base, err := EncodeKey(query.EqualityPrefix...)
	if err != nil {
		return nil, nil, err
	}

	lower = base
	upper = PrefixSuccessor(base)
	if len(base) == 0 {
		upper = nil
	}

	if query.Range == nil {
		return lower, upper, nil
	}

	if query.Range.Gte != nil {
		bound, err := AppendValue(cloneBytes(base), query.Range.Gte)
		if err != nil {
			return nil, nil, err
		}
		lower = bound
	} else if query.Range.Gt != nil {
		bound, err := AppendValue(cloneBytes(base), query.Range.Gt)
		if err != nil {
			return nil, nil, err
		}
		lower = PrefixSuccessor(bound)
	}

	if query.Range.Lt != nil {
		bound, err := AppendValue(cloneBytes(base), query.Range.Lt)
		if err != nil {
			return nil, nil, err
		}
		upper = bound
	} else if query.Range.Lte != nil {
		bound, err := AppendValue(cloneBytes(base), query.Range.Lte)
		if err != nil {
			return nil, nil, err
		}
		upper = PrefixSuccessor(bound)
	}

	return lower, upper, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
