package filter

// TermQuery 精确匹配查询
//
// Value 为 nil 时匹配字段为空（字段缺失或显式为 null）
type TermQuery struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

func (q *TermQuery) Type() QueryType {
	return QueryTypeTerm
}

func (q *TermQuery) Match(doc map[string]any) bool {
	return Equal(doc[q.Field], q.Value)
}
