package store

import (
	"context"

	"github.com/google/uuid"
	"github.com/hatlonely/gox/ref"
	"github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrTableNotFound    = errors.New("table not found")
	ErrIndexNotFound    = errors.New("index not found")
	ErrInvalidCursor    = errors.New("invalid cursor")
	ErrReadOnlyField    = errors.New("field is read only")
)

// Document 文档类型，字段名到字段值的映射
type Document = map[string]any

const (
	// FieldID 系统字段，文档唯一标识
	FieldID = "_id"
	// FieldCreationTime 系统字段，文档创建时间（毫秒时间戳，单调递增）
	FieldCreationTime = "_creationTime"
	// CreationTimeIndex 每张表隐含的创建时间索引，全表扫描在该索引上进行
	CreationTimeIndex = "by_creation_time"
)

type deleteFieldType struct{}

// DeleteField 字段删除标记
//
// Patch 中字段值为 DeleteField 时表示从文档中移除该字段，而不是写入该值
var DeleteField = deleteFieldType{}

// Index 索引定义
type Index struct {
	Name   string   `cfg:"name"`
	Fields []string `cfg:"fields"`
	Unique bool     `cfg:"unique"`
}

// Order 扫描方向
type Order string

const (
	OrderAsc  Order = "asc"
	OrderDesc Order = "desc"
)

// RangeClause 范围条件，作用于等值前缀之后的下一个索引字段
//
// Field 仅用于日志和错误信息，键空间计算只依赖边界值
type RangeClause struct {
	Field string
	Gt    any
	Gte   any
	Lt    any
	Lte   any
}

// IndexQuery 索引扫描请求，存储层唯一的读取原语
//
// EqualityPrefix 是索引前导字段的等值约束，可以为空（为空即全索引扫描）。
// Cursor 为空时从头开始，否则从上一页末尾之后继续
type IndexQuery struct {
	Table          string
	Index          string
	EqualityPrefix []any
	Range          *RangeClause
	Order          Order
	Cursor         string
	Limit          int
}

// Page 一页扫描结果
//
// Cursor 指向本页最后一条记录，可作为下一次请求的起点；IsDone 表示扫描已经结束
type Page struct {
	Docs   []Document
	Cursor string
	IsDone bool
}

// Accessor 文档存储访问接口
//
// 除 QueryIndex 外没有其他读取途径，不存在无索引的谓词扫描
type Accessor interface {
	// DefineTable 声明表及其索引，隐含的创建时间索引由实现自动补齐
	DefineTable(table string, indexes []Index) error
	// Get 按文档标识读取，不存在时返回 ErrDocumentNotFound
	Get(ctx context.Context, id string) (Document, error)
	// Insert 写入文档并返回分配的文档标识，系统字段由实现填充
	Insert(ctx context.Context, table string, doc Document) (string, error)
	// Patch 局部更新文档，值为 DeleteField 的字段被移除
	Patch(ctx context.Context, id string, patch map[string]any) error
	// Delete 删除文档，不存在时返回 ErrDocumentNotFound
	Delete(ctx context.Context, id string) error
	// QueryIndex 索引前缀扫描
	QueryIndex(ctx context.Context, query *IndexQuery) (*Page, error)
	Close() error
}

// newDocumentID 生成文档标识
func newDocumentID() string {
	return uuid.NewString()
}

func encodeIndexes(indexes []Index) ([]byte, error) {
	buf, err := msgpack.Marshal(indexes)
	if err != nil {
		return nil, errors.WithMessage(err, "msgpack.Marshal failed")
	}
	return buf, nil
}

func decodeIndexes(raw []byte) ([]Index, error) {
	var indexes []Index
	if err := msgpack.Unmarshal(raw, &indexes); err != nil {
		return nil, errors.WithMessage(err, "msgpack.Unmarshal failed")
	}
	return indexes, nil
}

// NewAccessorWithOptions 根据类型选项创建存储后端
func NewAccessorWithOptions(options *ref.TypeOptions) (Accessor, error) {
	// 注册内置后端
	ref.RegisterT[*MemoryStore](NewMemoryStore)
	ref.RegisterT[*BoltDBStore](NewBoltDBStoreWithOptions)
	ref.RegisterT[*PebbleStore](NewPebbleStoreWithOptions)

	accessor, err := ref.New(options.Namespace, options.Type, options.Options)
	if err != nil {
		return nil, errors.WithMessage(err, "ref.New failed")
	}
	if accessor == nil {
		return nil, errors.New("accessor is nil")
	}
	if _, ok := accessor.(Accessor); !ok {
		return nil, errors.New("accessor is not an Accessor")
	}

	return accessor.(Accessor), nil
}
