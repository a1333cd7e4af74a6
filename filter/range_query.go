package filter

// RangeQuery 范围查询，未设置的边界不参与判断
type RangeQuery struct {
	Field string `json:"field"`
	Gt    any    `json:"gt,omitempty"`
	Gte   any    `json:"gte,omitempty"`
	Lt    any    `json:"lt,omitempty"`
	Lte   any    `json:"lte,omitempty"`
}

func (q *RangeQuery) Type() QueryType {
	return QueryTypeRange
}

func (q *RangeQuery) Match(doc map[string]any) bool {
	v := doc[q.Field]

	if q.Gt != nil {
		cmp, ok := Compare(v, q.Gt)
		if !ok || cmp <= 0 {
			return false
		}
	}
	if q.Gte != nil {
		cmp, ok := Compare(v, q.Gte)
		if !ok || cmp < 0 {
			return false
		}
	}
	if q.Lt != nil {
		cmp, ok := Compare(v, q.Lt)
		if !ok || cmp >= 0 {
			return false
		}
	}
	if q.Lte != nil {
		cmp, ok := Compare(v, q.Lte)
		if !ok || cmp > 0 {
			return false
		}
	}

	return true
}
