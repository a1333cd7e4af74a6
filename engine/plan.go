package engine

import (
	"github.com/pkg/errors"

	"github.com/hatlonely/dox/filter"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

// Order 排序字段
type Order struct {
	Field string
	Desc  bool
}

func Asc(field string) Order {
	return Order{Field: field}
}

func Desc(field string) Order {
	return Order{Field: field, Desc: true}
}

// scanPlan 单次索引扫描：等值前缀加至多一个范围条件
type scanPlan struct {
	index  schema.Index
	prefix []any
	rng    *store.RangeClause
}

// queryPlan 过滤条件的编译产物
//
// ids 是按文档标识直取的部分；scans 是索引探测列表，多于一个时取并集并按
// 文档标识去重。原始过滤条件整体作为残余过滤在取回的行上复核，探测只负责
// 缩小候选集，不负责完全精确
type queryPlan struct {
	table      *schema.Table
	ids        []string
	scans      []scanPlan
	fullScan   bool
	indexOrder bool
	storeOrder store.Order
}

// multiProbe 计划是否由多路探测构成（游标分页和批量变更不支持）
func (p *queryPlan) multiProbe() bool {
	return len(p.scans) > 1 || (len(p.scans) > 0 && len(p.ids) > 0)
}

// conjunction 合取分析结果：按字段归类的等值、多值和范围约束
type conjunction struct {
	eq     map[string]any
	in     map[string][]any
	ranges map[string]*store.RangeClause
}

func newConjunction() *conjunction {
	return &conjunction{
		eq:     make(map[string]any),
		in:     make(map[string][]any),
		ranges: make(map[string]*store.RangeClause),
	}
}

// compilePlan 将过滤条件编译为查询计划
//
// 编译规则：把过滤拆成若干合取分支（顶层 OR 的每个分支一个），每个分支
// 必须表达为某个索引上的等值前缀加至多一个范围；做不到时整个请求要求
// 调用方显式允许全表扫描，绝不静默退化
func (e *Engine) compilePlan(table *schema.Table, q filter.Query, orderBy []Order, allowFullScan bool) (*queryPlan, error) {
	if err := validateFilterFields(table, q); err != nil {
		return nil, err
	}
	for _, o := range orderBy {
		if _, ok := table.Column(o.Field); !ok {
			return nil, errors.WithMessagef(ErrUnknownColumn, "table [%s] column [%s]", table.Name(), o.Field)
		}
	}

	plan := &queryPlan{table: table, storeOrder: store.OrderAsc}
	indexes := plannerIndexes(table)

	matched := !hasHardOperator(q)
	if matched {
		for _, disjunct := range splitDisjuncts(q) {
			conj := newConjunction()
			analyzeConjunction(disjunct, conj)

			if ids, ok := idProbe(conj); ok {
				plan.ids = append(plan.ids, ids...)
				continue
			}

			scans, ok := chooseScan(indexes, conj, orderBy)
			if !ok {
				matched = false
				break
			}
			plan.scans = append(plan.scans, scans...)
		}
	}

	if !matched {
		if !allowFullScan {
			return nil, errors.WithMessagef(ErrUnindexedFilter, "table [%s]", table.Name())
		}
		plan.ids = nil
		plan.fullScan = true
		plan.scans = []scanPlan{{index: schema.Index{
			Name:   store.CreationTimeIndex,
			Fields: []string{store.FieldCreationTime},
		}}}
	}

	normalizeScanValues(table, plan)

	if len(plan.ids) == 0 && len(plan.scans) == 1 {
		scan := plan.scans[0]
		switch {
		case len(orderBy) == 0:
			plan.indexOrder = true
		case orderBy[0].Field == nextIndexField(scan):
			plan.indexOrder = true
			if orderBy[0].Desc {
				plan.storeOrder = store.OrderDesc
			}
		}
	}

	return plan, nil
}

// normalizeScanValues 把扫描计划里的过滤常量归一化到列的存储表示
//
// 键编码按数值表示区分整数和浮点，常量必须与落盘值同型才能命中。
// 归一化失败时保留原值，由残余过滤兜底
func normalizeScanValues(table *schema.Table, plan *queryPlan) {
	for i := range plan.scans {
		scan := &plan.scans[i]
		for j, field := range scan.index.Fields {
			if j >= len(scan.prefix) {
				break
			}
			scan.prefix[j] = normalizeScanValue(table, field, scan.prefix[j])
		}
		if scan.rng != nil {
			rng := *scan.rng
			rng.Gt = normalizeScanValue(table, rng.Field, rng.Gt)
			rng.Gte = normalizeScanValue(table, rng.Field, rng.Gte)
			rng.Lt = normalizeScanValue(table, rng.Field, rng.Lt)
			rng.Lte = normalizeScanValue(table, rng.Field, rng.Lte)
			scan.rng = &rng
		}
	}
}

func normalizeScanValue(table *schema.Table, field string, v any) any {
	if v == nil {
		return nil
	}
	column, ok := table.Column(field)
	if !ok {
		return v
	}
	normalized, err := column.Normalize(v)
	if err != nil {
		return v
	}
	return normalized
}

// nextIndexField 等值前缀之后的索引字段（范围和排序作用的位置）
func nextIndexField(scan scanPlan) string {
	if len(scan.prefix) < len(scan.index.Fields) {
		return scan.index.Fields[len(scan.prefix)]
	}
	return ""
}

// idProbe 合取含文档标识等值约束时直接按标识取行
func idProbe(conj *conjunction) ([]string, bool) {
	if v, ok := conj.eq[store.FieldID]; ok {
		if id, ok := v.(string); ok {
			return []string{id}, true
		}
	}
	if values, ok := conj.in[store.FieldID]; ok {
		ids := make([]string, 0, len(values))
		for _, v := range values {
			id, ok := v.(string)
			if !ok {
				return nil, false
			}
			ids = append(ids, id)
		}
		return ids, true
	}
	return nil, false
}

// splitDisjuncts 顶层纯 OR 拆为多个合取分支，其余情况整体作为单分支
func splitDisjuncts(q filter.Query) []filter.Query {
	if bq, ok := q.(*filter.BoolQuery); ok && len(bq.Should) > 0 && len(bq.Must) == 0 && len(bq.MustNot) == 0 {
		return bq.Should
	}
	return []filter.Query{q}
}

// analyzeConjunction 收集合取分支里可下推的叶子约束
//
// 嵌套的 OR/NOT、存在性判断等无法下推的部分留给残余过滤，不影响正确性
func analyzeConjunction(q filter.Query, conj *conjunction) {
	switch x := q.(type) {
	case nil:
	case *filter.TermQuery:
		if _, dup := conj.eq[x.Field]; !dup {
			conj.eq[x.Field] = x.Value
		}
	case *filter.TermsQuery:
		if _, dup := conj.in[x.Field]; !dup && len(x.Values) > 0 {
			conj.in[x.Field] = x.Values
		}
	case *filter.RangeQuery:
		mergeRange(conj, x.Field, x.Gt, x.Gte, x.Lt, x.Lte)
	case *filter.PrefixQuery:
		upper, bounded := prefixSuccessorString(x.Value)
		if bounded {
			mergeRange(conj, x.Field, nil, x.Value, upper, nil)
		} else {
			mergeRange(conj, x.Field, nil, x.Value, nil, nil)
		}
	case *filter.BoolQuery:
		if len(x.Should) == 0 && len(x.MustNot) == 0 {
			for _, sub := range x.Must {
				analyzeConjunction(sub, conj)
			}
		}
	}
}

// mergeRange 合并同一字段的范围边界，已占用的边界不覆盖
func mergeRange(conj *conjunction, field string, gt, gte, lt, lte any) {
	rng, ok := conj.ranges[field]
	if !ok {
		rng = &store.RangeClause{Field: field}
		conj.ranges[field] = rng
	}
	if rng.Gt == nil && rng.Gte == nil {
		rng.Gt, rng.Gte = gt, gte
	}
	if rng.Lt == nil && rng.Lte == nil {
		rng.Lt, rng.Lte = lt, lte
	}
}

// chooseScan 为合取分支挑选最优索引
//
// 得分 = 等值前缀长度（权重最高） + 下一字段的范围/多值可用性 + 排序对齐。
// 多值约束命中下一索引字段时展开为多次等值探测
func chooseScan(indexes []schema.Index, conj *conjunction, orderBy []Order) ([]scanPlan, bool) {
	best := 0
	var bestScans []scanPlan

	for _, index := range indexes {
		var prefix []any
		n := 0
		for n < len(index.Fields) {
			v, ok := conj.eq[index.Fields[n]]
			if !ok {
				break
			}
			prefix = append(prefix, v)
			n++
		}

		score := n * 4
		var rng *store.RangeClause
		var inValues []any
		if n < len(index.Fields) {
			next := index.Fields[n]
			if values, ok := conj.in[next]; ok {
				inValues = values
				score += 2
			} else if r, ok := conj.ranges[next]; ok {
				rng = r
				score += 2
			}
		}
		if score == 0 {
			continue
		}
		if n < len(index.Fields) && len(orderBy) > 0 && orderBy[0].Field == index.Fields[n] {
			score++
		}
		if score <= best {
			continue
		}

		best = score
		if inValues != nil {
			bestScans = nil
			for _, v := range inValues {
				bestScans = append(bestScans, scanPlan{
					index:  index,
					prefix: append(append([]any{}, prefix...), v),
				})
			}
		} else {
			bestScans = []scanPlan{{index: index, prefix: prefix, rng: rng}}
		}
	}

	return bestScans, best > 0
}

// hasHardOperator 是否含有只能全量求值的算子（通配、谓词）
func hasHardOperator(q filter.Query) bool {
	switch x := q.(type) {
	case nil:
		return false
	case *filter.WildcardQuery, *filter.PredicateQuery:
		return true
	case *filter.BoolQuery:
		for _, sub := range x.Must {
			if hasHardOperator(sub) {
				return true
			}
		}
		for _, sub := range x.Should {
			if hasHardOperator(sub) {
				return true
			}
		}
		for _, sub := range x.MustNot {
			if hasHardOperator(sub) {
				return true
			}
		}
	}
	return false
}

// validateFilterFields 过滤条件引用的字段必须在表上声明
func validateFilterFields(table *schema.Table, q filter.Query) error {
	var field string
	switch x := q.(type) {
	case nil:
		return nil
	case *filter.TermQuery:
		field = x.Field
	case *filter.TermsQuery:
		field = x.Field
	case *filter.RangeQuery:
		field = x.Field
	case *filter.PrefixQuery:
		field = x.Field
	case *filter.ExistsQuery:
		field = x.Field
	case *filter.WildcardQuery:
		field = x.Field
	case *filter.PredicateQuery:
		return nil
	case *filter.BoolQuery:
		for _, group := range [][]filter.Query{x.Must, x.Should, x.MustNot} {
			for _, sub := range group {
				if err := validateFilterFields(table, sub); err != nil {
					return err
				}
			}
		}
		return nil
	default:
		return errors.Errorf("unsupported filter type %T", q)
	}

	if _, ok := table.Column(field); !ok {
		return errors.WithMessagef(ErrUnknownColumn, "table [%s] column [%s]", table.Name(), field)
	}
	return nil
}

// prefixSuccessorString 字符串前缀的后继，用于把前缀匹配改写为范围扫描
//
// 返回 bounded = false 表示没有上界（前缀为空或全为 0xff）
func prefixSuccessorString(prefix string) (string, bool) {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			succ := append([]byte{}, b[:i+1]...)
			succ[i]++
			return string(succ), true
		}
	}
	return "", false
}
