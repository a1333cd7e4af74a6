package engine

import "github.com/pkg/errors"

// 请求期护栏错误，调用方可用 errors.Is 判定
var (
	// ErrUnsizedQuery 查询未限定大小（没有 Limit、分页参数或模式级默认条数）
	ErrUnsizedQuery = errors.New("query is unsized: set Limit, paginate, or configure a schema default limit")

	// ErrUnindexedFilter 过滤条件无法表达为索引扫描且调用方未允许全表扫描
	ErrUnindexedFilter = errors.New("filter cannot be served by any index: narrow the filter or call AllowFullScan")

	// ErrMultiProbeCursor 游标分页/批量变更要求单一连续索引区间，多路探测不支持
	ErrMultiProbeCursor = errors.New("cursor requires a single contiguous index range: narrow the filter")

	// ErrTooManyRows 批量变更触达的行数超过上限
	ErrTooManyRows = errors.New("mutation touched more rows than allowed")

	// ErrNotFound 查询或定向变更没有命中任何行
	ErrNotFound = errors.New("not found")

	// ErrPolicyDenied 行级安全策略拒绝写入
	ErrPolicyDenied = errors.New("row level security policy denied the operation")

	// ErrUniqueViolation 写入违反唯一约束
	ErrUniqueViolation = errors.New("unique constraint violation")

	// ErrUnknownTable 表未在模式中声明
	ErrUnknownTable = errors.New("unknown table")

	// ErrUnknownColumn 列未在表上声明
	ErrUnknownColumn = errors.New("unknown column")
)
