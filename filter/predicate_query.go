package filter

// PredicateQuery 自定义谓词查询
//
// 谓词对引擎完全不透明，只能在内存中求值，因此总是要求调用方显式允许全表扫描
type PredicateQuery struct {
	Fn func(doc map[string]any) bool
}

func (q *PredicateQuery) Type() QueryType {
	return QueryTypePredicate
}

func (q *PredicateQuery) Match(doc map[string]any) bool {
	if q.Fn == nil {
		return false
	}
	return q.Fn(doc)
}
