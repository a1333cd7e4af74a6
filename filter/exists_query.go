package filter

// ExistsQuery 字段存在查询，字段存在且不为 nil 时匹配
type ExistsQuery struct {
	Field string `json:"field"`
}

func (q *ExistsQuery) Type() QueryType {
	return QueryTypeExists
}

func (q *ExistsQuery) Match(doc map[string]any) bool {
	v, ok := doc[q.Field]
	return ok && v != nil
}
