package filter

// QueryType 过滤条件类型
type QueryType string

const (
	QueryTypeBool      QueryType = "bool"
	QueryTypeTerm      QueryType = "term"
	QueryTypeTerms     QueryType = "terms"
	QueryTypeRange     QueryType = "range"
	QueryTypeExists    QueryType = "exists"
	QueryTypePrefix    QueryType = "prefix"
	QueryTypeWildcard  QueryType = "wildcard"
	QueryTypePredicate QueryType = "predicate"
)

// Query 过滤条件节点接口
//
// 过滤条件由引擎编译为索引扫描，无法下推到索引的部分通过 Match 在内存中求值
type Query interface {
	Type() QueryType
	// Match 判断文档是否满足过滤条件，缺失字段视同 nil
	Match(doc map[string]any) bool
}
