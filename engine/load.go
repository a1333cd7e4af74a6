package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/dox/filter"
	"github.com/hatlonely/dox/relation"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

// 关系加载
//
// 每条加载出的关联行同样经过目标表的行级安全检查，多对多关系的中间表行
// 也不例外。关联结果直接挂在行上，键为关系名

// loadRelations 按 with 声明为一批行加载关联行
func (e *Engine) loadRelations(ctx context.Context, table *schema.Table, docs []store.Document, with map[string]*WithOptions, viewer any) error {
	if len(with) == 0 || len(docs) == 0 {
		return nil
	}
	if e.relations == nil {
		return errors.Errorf("table [%s] has no relations defined", table.Name())
	}

	for name, opts := range with {
		edge, ok := e.relations.Edge(table.Name(), name)
		if !ok {
			return errors.Errorf("table [%s] has no relation [%s]", table.Name(), name)
		}
		if opts == nil {
			opts = &WithOptions{}
		}

		for _, doc := range docs {
			if err := e.loadEdge(ctx, edge, doc, opts, viewer); err != nil {
				return errors.WithMessagef(err, "load relation [%s.%s] failed", table.Name(), name)
			}
		}
	}
	return nil
}

func (e *Engine) loadEdge(ctx context.Context, edge *relation.Edge, doc store.Document, opts *WithOptions, viewer any) error {
	values, ok := sourceValues(edge, doc)
	if !ok {
		// 连接列为空，关系无从建立
		if edge.Cardinality == relation.CardinalityOne {
			doc[edge.Name] = nil
		} else {
			doc[edge.Name] = []store.Document{}
		}
		return nil
	}

	var targets []store.Document
	var err error
	if edge.Through != "" {
		targets, err = e.loadThroughTargets(ctx, edge, values, opts, viewer)
	} else {
		targets, err = e.loadDirectTargets(ctx, edge, values, opts, viewer)
	}
	if err != nil {
		return err
	}

	if edge.Cardinality == relation.CardinalityOne {
		if len(targets) == 0 {
			doc[edge.Name] = nil
		} else {
			doc[edge.Name] = targets[0]
		}
		return nil
	}
	doc[edge.Name] = targets
	return nil
}

// sourceValues 取出源行上的连接列值，任一为空则放弃加载
func sourceValues(edge *relation.Edge, doc store.Document) ([]any, bool) {
	values := make([]any, 0, len(edge.SourceFields))
	for _, field := range edge.SourceFields {
		v, ok := doc[field]
		if !ok || v == nil {
			return nil, false
		}
		values = append(values, v)
	}
	return values, true
}

// loadDirectTargets 直接关系：按目标表连接列等值探测
func (e *Engine) loadDirectTargets(ctx context.Context, edge *relation.Edge, values []any, opts *WithOptions, viewer any) ([]store.Document, error) {
	target, err := e.table(edge.Target)
	if err != nil {
		return nil, err
	}

	where := joinFilter(edge.TargetFields, values, opts.Where)
	limit := opts.Limit
	if edge.Cardinality == relation.CardinalityOne {
		limit = 1
	}

	docs, err := e.fetchTargets(ctx, target, where, opts.OrderBy, limit, viewer)
	if err != nil {
		return nil, err
	}
	if err := e.loadRelations(ctx, target, docs, opts.With, viewer); err != nil {
		return nil, err
	}
	return docs, nil
}

// loadThroughTargets 多对多关系：先扫中间表，再按连接值取目标行
func (e *Engine) loadThroughTargets(ctx context.Context, edge *relation.Edge, values []any, opts *WithOptions, viewer any) ([]store.Document, error) {
	junction, err := e.table(edge.Through)
	if err != nil {
		return nil, err
	}
	target, err := e.table(edge.Target)
	if err != nil {
		return nil, err
	}

	rows, err := e.fetchTargets(ctx, junction, joinFilter(edge.ThroughSourceFields, values, nil), nil, 0, viewer)
	if err != nil {
		return nil, err
	}

	var targets []store.Document
	for _, row := range rows {
		linkValues := make([]any, 0, len(edge.ThroughTargetFields))
		missing := false
		for _, field := range edge.ThroughTargetFields {
			v, ok := row[field]
			if !ok || v == nil {
				missing = true
				break
			}
			linkValues = append(linkValues, v)
		}
		if missing {
			continue
		}

		docs, err := e.fetchTargets(ctx, target, joinFilter(edge.TargetFields, linkValues, opts.Where), nil, 0, viewer)
		if err != nil {
			return nil, err
		}
		targets = append(targets, docs...)
	}

	sortDocs(targets, opts.OrderBy, false)
	if opts.Limit > 0 && len(targets) > opts.Limit {
		targets = targets[:opts.Limit]
	}
	if err := e.loadRelations(ctx, target, targets, opts.With, viewer); err != nil {
		return nil, err
	}
	return targets, nil
}

// fetchTargets 编译连接过滤并执行，limit 为 0 时取全部命中行
//
// 连接列必须有索引支撑（目标是文档标识时直接按标识取行），否则报未索引
// 过滤错误；关系加载不提供全表扫描逃生口
func (e *Engine) fetchTargets(ctx context.Context, table *schema.Table, where filter.Query, orderBy []Order, limit int, viewer any) ([]store.Document, error) {
	plan, err := e.compilePlan(table, where, orderBy, false)
	if err != nil {
		return nil, err
	}

	// 排序未被索引顺序覆盖时取全量命中集，排序之后再截断
	need := limit
	if len(orderBy) > 0 && !(plan.indexOrder && len(orderBy) == 1) {
		need = 0
	}
	docs, err := e.runPlan(ctx, plan, where, viewer, need)
	if err != nil {
		return nil, err
	}

	sortDocs(docs, orderBy, plan.indexOrder)
	if limit > 0 && len(docs) > limit {
		docs = docs[:limit]
	}
	return docs, nil
}

// joinFilter 连接列等值过滤，再叠加调用方的嵌套过滤
func joinFilter(fields []string, values []any, extra filter.Query) filter.Query {
	queries := make([]filter.Query, 0, len(fields)+1)
	for i, field := range fields {
		queries = append(queries, &filter.TermQuery{Field: field, Value: values[i]})
	}
	if extra != nil {
		queries = append(queries, extra)
	}
	if len(queries) == 1 {
		return queries[0]
	}
	return &filter.BoolQuery{Must: queries}
}
