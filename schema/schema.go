package schema

import (
	"github.com/hatlonely/gox/cfg/def"
	"github.com/pkg/errors"
)

// Defaults 查询和变更的默认护栏配置
type Defaults struct {
	// DefaultLimit 未指定 Limit 的查询使用的默认条数，为零时不设默认，
	// 未限定大小的查询会被直接拒绝
	DefaultLimit int `cfg:"defaultLimit"`

	// MutationBatchSize 批量变更每页处理的行数
	MutationBatchSize int `cfg:"mutationBatchSize" def:"64"`

	// MutationMaxRows 单次批量变更允许触达的行数上限，超出时报错而不是截断
	MutationMaxRows int `cfg:"mutationMaxRows" def:"8192"`
}

type Options struct {
	Tables   []*Table
	Defaults Defaults
}

// Schema 模式注册表，表名到表模型的不可变映射
//
// 进程启动时构建一次，此后只读
type Schema struct {
	tables   map[string]*Table
	order    []string
	defaults Defaults
}

// NewSchemaWithOptions 创建模式注册表
//
// 校验表名唯一、引用列指向的表都存在
func NewSchemaWithOptions(options *Options) (*Schema, error) {
	if options == nil {
		return nil, errors.New("options cannot be nil")
	}
	if err := def.SetDefaults(&options.Defaults); err != nil {
		return nil, errors.WithMessage(err, "def.SetDefaults failed")
	}

	s := &Schema{
		tables:   make(map[string]*Table, len(options.Tables)),
		defaults: options.Defaults,
	}
	for _, table := range options.Tables {
		if table == nil {
			return nil, errors.New("table cannot be nil")
		}
		if _, exists := s.tables[table.name]; exists {
			return nil, errors.Errorf("duplicate table [%s]", table.name)
		}
		s.tables[table.name] = table
		s.order = append(s.order, table.name)
	}

	for _, table := range s.tables {
		for _, fk := range table.Config().ForeignKeys {
			if _, ok := s.tables[fk.ForeignTable]; !ok {
				return nil, errors.Errorf(
					"table [%s] column [%s] references undefined table [%s]",
					table.name, fk.LocalField, fk.ForeignTable,
				)
			}
		}
	}

	return s, nil
}

// Table 按名查找表模型
func (s *Schema) Table(name string) (*Table, bool) {
	table, ok := s.tables[name]
	return table, ok
}

// Tables 按声明顺序返回全部表模型
func (s *Schema) Tables() []*Table {
	out := make([]*Table, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.tables[name])
	}
	return out
}

func (s *Schema) Defaults() Defaults {
	return s.defaults
}
