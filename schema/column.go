package schema

import (
	"time"

	"github.com/pkg/errors"
)

// ColumnType 列类型
type ColumnType string

const (
	ColumnTypeText      ColumnType = "text"
	ColumnTypeInt       ColumnType = "int"
	ColumnTypeFloat     ColumnType = "float"
	ColumnTypeBool      ColumnType = "bool"
	ColumnTypeTimestamp ColumnType = "timestamp"
	ColumnTypeEnum      ColumnType = "enum"
	ColumnTypeBytes     ColumnType = "bytes"
	ColumnTypeID        ColumnType = "id"
	ColumnTypeCustom    ColumnType = "custom"
)

// Column 列描述符
//
// 值类型，构建方法返回修改后的副本，原描述符不受影响，构建完成后不可变
type Column struct {
	typ        ColumnType
	notNull    bool
	unique     bool
	refTable   string
	enumValues []string
	validateFn func(v any) error
}

func Text() Column {
	return Column{typ: ColumnTypeText}
}

func Int() Column {
	return Column{typ: ColumnTypeInt}
}

func Float() Column {
	return Column{typ: ColumnTypeFloat}
}

func Bool() Column {
	return Column{typ: ColumnTypeBool}
}

// Timestamp 时间戳列，写入时统一归一化为毫秒时间戳
func Timestamp() Column {
	return Column{typ: ColumnTypeTimestamp}
}

func Bytes() Column {
	return Column{typ: ColumnTypeBytes}
}

// Enum 枚举文本列，写入值必须是 values 之一
func Enum(values ...string) Column {
	return Column{typ: ColumnTypeEnum, enumValues: values}
}

// Custom 自定义校验列，值类型对引擎不透明，由 validate 负责校验
func Custom(validate func(v any) error) Column {
	return Column{typ: ColumnTypeCustom, validateFn: validate}
}

// ID 外键列，引用 table 表的文档标识
func ID(table string) Column {
	return Column{typ: ColumnTypeID, refTable: table}
}

// NotNull 声明列不可为空
func (c Column) NotNull() Column {
	c.notNull = true
	return c
}

// Unique 声明列值唯一，引擎会为其合成单字段唯一索引
func (c Column) Unique() Column {
	c.unique = true
	return c
}

// References 声明列引用 table 表的文档标识
func (c Column) References(table string) Column {
	c.refTable = table
	return c
}

func (c Column) Type() ColumnType {
	return c.typ
}

func (c Column) Nullable() bool {
	return !c.notNull
}

func (c Column) IsUnique() bool {
	return c.unique
}

// RefTable 返回引用的表名，非外键列返回空串
func (c Column) RefTable() string {
	return c.refTable
}

func (c Column) EnumValues() []string {
	return append([]string(nil), c.enumValues...)
}

// Normalize 校验并归一化列值
//
// 整数统一为 int64，浮点统一为 float64，时间统一为毫秒时间戳
func (c Column) Normalize(v any) (any, error) {
	if v == nil {
		if c.notNull {
			return nil, errors.New("column is not nullable")
		}
		return nil, nil
	}

	switch c.typ {
	case ColumnTypeText, ColumnTypeID:
		if s, ok := v.(string); ok {
			return s, nil
		}
	case ColumnTypeEnum:
		s, ok := v.(string)
		if !ok {
			break
		}
		for _, candidate := range c.enumValues {
			if s == candidate {
				return s, nil
			}
		}
		return nil, errors.Errorf("value [%v] is not in enum %v", v, c.enumValues)
	case ColumnTypeInt:
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case ColumnTypeFloat:
		switch x := v.(type) {
		case float32:
			return float64(x), nil
		case float64:
			return x, nil
		}
		if i, ok := toInt64(v); ok {
			return float64(i), nil
		}
	case ColumnTypeBool:
		if b, ok := v.(bool); ok {
			return b, nil
		}
	case ColumnTypeTimestamp:
		switch x := v.(type) {
		case time.Time:
			return x.UnixMilli(), nil
		}
		if i, ok := toInt64(v); ok {
			return i, nil
		}
	case ColumnTypeBytes:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
	case ColumnTypeCustom:
		if c.validateFn != nil {
			if err := c.validateFn(v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}

	return nil, errors.Errorf("value type %T is not valid for %s column", v, c.typ)
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
	}
	return 0, false
}
