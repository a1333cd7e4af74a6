package filter

// BoolQuery 布尔组合查询
//
// Must 相当于 AND，Should 相当于 OR，MustNot 相当于 NOT。
// 三组条件同时出现时按 AND 组合
type BoolQuery struct {
	Must    []Query `json:"must,omitempty"`
	Should  []Query `json:"should,omitempty"`
	MustNot []Query `json:"must_not,omitempty"`
}

func (q *BoolQuery) Type() QueryType {
	return QueryTypeBool
}

func (q *BoolQuery) Match(doc map[string]any) bool {
	for _, sub := range q.Must {
		if !sub.Match(doc) {
			return false
		}
	}

	if len(q.Should) > 0 {
		matched := false
		for _, sub := range q.Should {
			if sub.Match(doc) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for _, sub := range q.MustNot {
		if sub.Match(doc) {
			return false
		}
	}

	return true
}
