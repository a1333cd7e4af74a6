package engine

import (
	"github.com/hatlonely/gox/log"
	"github.com/hatlonely/gox/log/logger"
	"github.com/hatlonely/gox/ref"
	"github.com/pkg/errors"

	"github.com/hatlonely/dox/relation"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

type Options struct {
	// Store 存储后端选项，缺省使用进程内存储
	Store *ref.TypeOptions `cfg:"store"`

	// Logger 日志选项，缺省使用默认日志器
	Logger *logger.SLogOptions `cfg:"logger"`
}

// Engine 查询/变更引擎
//
// 模式和关系图在构建后只读，引擎本身无状态、可在并发调用方之间共享。
// 所有构建器都是惰性的：链式调用只收集参数，Execute/Paginate 才真正执行，
// 且每次调用都重新执行一遍，不做结果缓存
type Engine struct {
	schema    *schema.Schema
	relations *relation.Graph
	accessor  store.Accessor
	logger    logger.Logger
}

// NewEngineWithOptions 根据选项创建引擎，存储后端通过 ref 按类型选项构造
func NewEngineWithOptions(s *schema.Schema, relations *relation.Graph, options *Options) (*Engine, error) {
	if options == nil {
		options = &Options{}
	}

	var accessor store.Accessor
	var err error
	if options.Store == nil {
		accessor = store.NewMemoryStore()
	} else {
		accessor, err = store.NewAccessorWithOptions(options.Store)
		if err != nil {
			return nil, errors.WithMessage(err, "store.NewAccessorWithOptions failed")
		}
	}

	l := log.Default()
	if options.Logger != nil {
		l, err = logger.NewSLogWithOptions(options.Logger)
		if err != nil {
			return nil, errors.WithMessage(err, "logger.NewSLogWithOptions failed")
		}
	}

	engine, err := NewEngine(s, relations, accessor)
	if err != nil {
		return nil, err
	}
	engine.logger = l
	return engine, nil
}

// NewEngine 用现成的存储后端创建引擎，并向后端声明全部表和索引
func NewEngine(s *schema.Schema, relations *relation.Graph, accessor store.Accessor) (*Engine, error) {
	if s == nil {
		return nil, errors.New("schema cannot be nil")
	}
	if accessor == nil {
		return nil, errors.New("accessor cannot be nil")
	}

	for _, table := range s.Tables() {
		if err := accessor.DefineTable(table.Name(), storeIndexes(table)); err != nil {
			return nil, errors.WithMessagef(err, "define table [%s] failed", table.Name())
		}
	}

	return &Engine{
		schema:    s,
		relations: relations,
		accessor:  accessor,
		logger:    log.Default(),
	}, nil
}

// Schema 返回引擎使用的模式注册表
func (e *Engine) Schema() *schema.Schema {
	return e.schema
}

// Accessor 返回底层存储后端
func (e *Engine) Accessor() store.Accessor {
	return e.accessor
}

func (e *Engine) Close() error {
	return e.accessor.Close()
}

func (e *Engine) table(name string) (*schema.Table, error) {
	table, ok := e.schema.Table(name)
	if !ok {
		return nil, errors.WithMessagef(ErrUnknownTable, "table [%s]", name)
	}
	return table, nil
}

// storeIndexes 表声明的索引转为存储层索引定义，隐含索引由后端自行补齐
func storeIndexes(table *schema.Table) []store.Index {
	var indexes []store.Index
	for _, index := range table.Indexes() {
		indexes = append(indexes, store.Index{Name: index.Name, Fields: index.Fields})
	}
	for _, index := range table.UniqueIndexes() {
		indexes = append(indexes, store.Index{Name: index.Name, Fields: index.Fields, Unique: true})
	}
	return indexes
}

// plannerIndexes 查询规划可用的全部索引，包含隐含的创建时间索引
func plannerIndexes(table *schema.Table) []schema.Index {
	indexes := append(table.Indexes(), table.UniqueIndexes()...)
	return append(indexes, schema.Index{
		Name:   store.CreationTimeIndex,
		Fields: []string{store.FieldCreationTime},
	})
}
