package filter

// TermsQuery 多值精确匹配查询，字段值等于 Values 中任意一个即匹配
type TermsQuery struct {
	Field  string `json:"field"`
	Values []any  `json:"values"`
}

func (q *TermsQuery) Type() QueryType {
	return QueryTypeTerms
}

func (q *TermsQuery) Match(doc map[string]any) bool {
	v := doc[q.Field]
	for _, candidate := range q.Values {
		if Equal(v, candidate) {
			return true
		}
	}
	return false
}
