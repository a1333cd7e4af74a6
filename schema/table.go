package schema

import (
	"sort"

	"github.com/pkg/errors"

	"github.com/hatlonely/dox/store"
)

// Columns 表的列声明
type Columns map[string]Column

// Index 索引声明，字段顺序即索引键顺序
type Index struct {
	Name   string
	Fields []string
}

// Check 行校验约束，Predicate 返回 false 时拒绝写入
type Check struct {
	Name      string
	Predicate func(doc map[string]any) bool
}

// ForeignKey 外键描述，由引用列自动推导，不支持单独声明
type ForeignKey struct {
	LocalField     string
	ForeignTable   string
	ForeignColumns []string
}

// 保留列名，与系统合成列冲突
var reservedColumnNames = map[string]bool{
	"id":                    true,
	store.FieldID:           true,
	store.FieldCreationTime: true,
}

// Table 表模型
//
// 构建完成后不可变。每张表隐含两个系统列：文档标识 _id 和创建时间 _creationTime
type Table struct {
	name          string
	columns       map[string]Column
	indexes       []Index
	uniqueIndexes []Index
	checks        []Check
	rls           RLS
}

// TableConfig 表的自省结果，所有列表顺序稳定
type TableConfig struct {
	Name          string
	Columns       []NamedColumn
	Indexes       []Index
	UniqueIndexes []Index
	Checks        []Check
	ForeignKeys   []ForeignKey
	RLS           RLS
}

// NamedColumn 带列名的列描述符
type NamedColumn struct {
	Name   string
	Column Column
}

type TableOption func(t *Table)

// WithIndex 声明普通索引
func WithIndex(name string, fields ...string) TableOption {
	return func(t *Table) {
		t.indexes = append(t.indexes, Index{Name: name, Fields: fields})
	}
}

// WithUniqueIndex 声明唯一索引
func WithUniqueIndex(name string, fields ...string) TableOption {
	return func(t *Table) {
		t.uniqueIndexes = append(t.uniqueIndexes, Index{Name: name, Fields: fields})
	}
}

// WithCheck 声明行校验约束
func WithCheck(name string, predicate func(doc map[string]any) bool) TableOption {
	return func(t *Table) {
		t.checks = append(t.checks, Check{Name: name, Predicate: predicate})
	}
}

// WithRLS 开启行级安全并声明策略
func WithRLS(policies ...Policy) TableOption {
	return func(t *Table) {
		t.rls = RLS{Enabled: true, Policies: policies}
	}
}

// NewTable 创建表模型
//
// 列名不能使用保留名（id、_id、_creationTime），索引字段必须是已声明的列或系统列
func NewTable(name string, columns Columns, opts ...TableOption) (*Table, error) {
	if name == "" {
		return nil, errors.New("table name cannot be empty")
	}

	t := &Table{
		name:    name,
		columns: make(map[string]Column, len(columns)),
	}
	for columnName, column := range columns {
		if reservedColumnNames[columnName] {
			return nil, errors.Errorf("table [%s] column [%s] uses a reserved name", name, columnName)
		}
		t.columns[columnName] = column
	}

	for _, opt := range opts {
		opt(t)
	}

	// 唯一列合成单字段唯一索引
	for _, columnName := range sortedColumnNames(t.columns) {
		if !t.columns[columnName].unique {
			continue
		}
		indexName := "by_" + columnName
		if t.indexByName(indexName) != nil {
			continue
		}
		t.uniqueIndexes = append(t.uniqueIndexes, Index{Name: indexName, Fields: []string{columnName}})
	}

	seen := map[string]bool{}
	for _, index := range append(append([]Index{}, t.indexes...), t.uniqueIndexes...) {
		if index.Name == "" || len(index.Fields) == 0 {
			return nil, errors.Errorf("table [%s] index declaration is incomplete", name)
		}
		if seen[index.Name] {
			return nil, errors.Errorf("table [%s] duplicate index [%s]", name, index.Name)
		}
		seen[index.Name] = true
		for _, field := range index.Fields {
			if _, ok := t.Column(field); !ok {
				return nil, errors.Errorf("table [%s] index [%s] references unknown column [%s]", name, index.Name, field)
			}
		}
	}

	return t, nil
}

func (t *Table) Name() string {
	return t.name
}

// Columns 返回全部列，总是包含合成的系统列 _id 和 _creationTime
func (t *Table) Columns() map[string]Column {
	out := make(map[string]Column, len(t.columns)+2)
	for name, column := range t.columns {
		out[name] = column
	}
	out[store.FieldID] = Column{typ: ColumnTypeID, notNull: true, unique: true}
	out[store.FieldCreationTime] = Column{typ: ColumnTypeTimestamp, notNull: true}
	return out
}

// Column 按名查找列，系统列也可命中
func (t *Table) Column(name string) (Column, bool) {
	switch name {
	case store.FieldID:
		return Column{typ: ColumnTypeID, notNull: true, unique: true}, true
	case store.FieldCreationTime:
		return Column{typ: ColumnTypeTimestamp, notNull: true}, true
	}
	column, ok := t.columns[name]
	return column, ok
}

func (t *Table) Indexes() []Index {
	return append([]Index(nil), t.indexes...)
}

func (t *Table) UniqueIndexes() []Index {
	return append([]Index(nil), t.uniqueIndexes...)
}

func (t *Table) Checks() []Check {
	return append([]Check(nil), t.checks...)
}

func (t *Table) RLS() RLS {
	return t.rls
}

// Config 表自省，其他组件和外部工具消费的唯一入口
func (t *Table) Config() *TableConfig {
	config := &TableConfig{
		Name:          t.name,
		Indexes:       t.Indexes(),
		UniqueIndexes: t.UniqueIndexes(),
		Checks:        t.Checks(),
		RLS:           t.rls,
	}

	all := t.Columns()
	for _, name := range sortedColumnNames(all) {
		config.Columns = append(config.Columns, NamedColumn{Name: name, Column: all[name]})
	}

	// 外键由引用列推导，引用目标总是对方表的文档标识
	for _, name := range sortedColumnNames(t.columns) {
		column := t.columns[name]
		if column.refTable == "" {
			continue
		}
		config.ForeignKeys = append(config.ForeignKeys, ForeignKey{
			LocalField:     name,
			ForeignTable:   column.refTable,
			ForeignColumns: []string{store.FieldID},
		})
	}

	return config
}

// NormalizeDocument 校验并归一化一行写入数据
//
// 未声明的列报错；未提供的非空列报错；校验约束在归一化之后求值
func (t *Table) NormalizeDocument(doc map[string]any) (map[string]any, error) {
	normalized := make(map[string]any, len(doc))
	for field, value := range doc {
		column, ok := t.columns[field]
		if !ok {
			return nil, errors.Errorf("table [%s] has no column [%s]", t.name, field)
		}
		v, err := column.Normalize(value)
		if err != nil {
			return nil, errors.WithMessagef(err, "table [%s] column [%s]", t.name, field)
		}
		normalized[field] = v
	}

	for field, column := range t.columns {
		if column.notNull {
			if v, ok := normalized[field]; !ok || v == nil {
				return nil, errors.Errorf("table [%s] column [%s] is not nullable", t.name, field)
			}
		}
	}

	for _, check := range t.checks {
		if !check.Predicate(normalized) {
			return nil, errors.Errorf("table [%s] check [%s] failed", t.name, check.Name)
		}
	}

	return normalized, nil
}

func (t *Table) indexByName(name string) *Index {
	for i := range t.indexes {
		if t.indexes[i].Name == name {
			return &t.indexes[i]
		}
	}
	for i := range t.uniqueIndexes {
		if t.uniqueIndexes[i].Name == name {
			return &t.uniqueIndexes[i]
		}
	}
	return nil
}

func sortedColumnNames(columns map[string]Column) []string {
	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
