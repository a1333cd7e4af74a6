package filter

import "strings"

// WildcardQuery 通配符查询，* 匹配任意长度，? 匹配单个字符
//
// 通配符无法下推到索引扫描，引擎要求调用方显式允许全表扫描
type WildcardQuery struct {
	Field string `json:"field"`
	Value string `json:"value"`
	// CaseInsensitive 忽略大小写，对应 SQL 中的 ILIKE
	CaseInsensitive bool `json:"caseInsensitive,omitempty"`
}

func (q *WildcardQuery) Type() QueryType {
	return QueryTypeWildcard
}

func (q *WildcardQuery) Match(doc map[string]any) bool {
	s, ok := doc[q.Field].(string)
	if !ok {
		return false
	}
	pattern := q.Value
	if q.CaseInsensitive {
		s = strings.ToLower(s)
		pattern = strings.ToLower(pattern)
	}
	return wildcardMatch(pattern, s)
}

// wildcardMatch 贪心双指针实现，* 回溯到最近一次的位置
func wildcardMatch(pattern, s string) bool {
	pi, si := 0, 0
	starPi, starSi := -1, 0

	for si < len(s) {
		switch {
		case pi < len(pattern) && (pattern[pi] == '?' || pattern[pi] == s[si]):
			pi++
			si++
		case pi < len(pattern) && pattern[pi] == '*':
			starPi = pi
			starSi = si
			pi++
		case starPi >= 0:
			starSi++
			pi = starPi + 1
			si = starSi
		default:
			return false
		}
	}

	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}
