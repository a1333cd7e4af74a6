package filter

import "strings"

// PrefixQuery 前缀查询，仅对字符串字段有效
type PrefixQuery struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

func (q *PrefixQuery) Type() QueryType {
	return QueryTypePrefix
}

func (q *PrefixQuery) Match(doc map[string]any) bool {
	s, ok := doc[q.Field].(string)
	if !ok {
		return false
	}
	return strings.HasPrefix(s, q.Value)
}
