package engine

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/hatlonely/dox/filter"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

// WithOptions 关系加载的嵌套选项
type WithOptions struct {
	Where   filter.Query
	OrderBy []Order
	Limit   int
	With    map[string]*WithOptions
}

// PageRequest 分页请求，Cursor 为空时取第一页
type PageRequest struct {
	Cursor   string
	NumItems int
}

// QueryPage 一页查询结果
type QueryPage struct {
	Docs   []store.Document
	Cursor string
	IsDone bool
}

// FindManyQuery 查询构建器
//
// 链式调用只收集参数，Execute/Paginate 才触发执行，每次调用独立执行一遍
type FindManyQuery struct {
	engine        *Engine
	table         string
	where         filter.Query
	orderBy       []Order
	limit         int
	offset        int
	with          map[string]*WithOptions
	viewer        any
	allowFullScan bool
}

// FindMany 创建查询构建器
func (e *Engine) FindMany(table string) *FindManyQuery {
	return &FindManyQuery{engine: e, table: table}
}

func (q *FindManyQuery) Where(where filter.Query) *FindManyQuery {
	q.where = where
	return q
}

func (q *FindManyQuery) OrderBy(orders ...Order) *FindManyQuery {
	q.orderBy = append(q.orderBy, orders...)
	return q
}

func (q *FindManyQuery) Limit(limit int) *FindManyQuery {
	q.limit = limit
	return q
}

func (q *FindManyQuery) Offset(offset int) *FindManyQuery {
	q.offset = offset
	return q
}

// With 声明要加载的关系，opts 最多一个，用于嵌套过滤/排序/截断
func (q *FindManyQuery) With(name string, opts ...*WithOptions) *FindManyQuery {
	if q.with == nil {
		q.with = make(map[string]*WithOptions)
	}
	options := &WithOptions{}
	if len(opts) > 0 && opts[0] != nil {
		options = opts[0]
	}
	q.with[name] = options
	return q
}

// Viewer 设置行级安全策略使用的调用方身份
func (q *FindManyQuery) Viewer(viewer any) *FindManyQuery {
	q.viewer = viewer
	return q
}

// AllowFullScan 显式允许无索引支撑的全表扫描
func (q *FindManyQuery) AllowFullScan() *FindManyQuery {
	q.allowFullScan = true
	return q
}

// Execute 执行查询并返回全部命中行
//
// 查询必须限定大小：显式 Limit 或模式级默认条数，否则在发起任何存储调用
// 之前直接失败
func (q *FindManyQuery) Execute(ctx context.Context) ([]store.Document, error) {
	e := q.engine
	table, err := e.table(q.table)
	if err != nil {
		return nil, err
	}

	limit := q.limit
	if limit <= 0 {
		limit = e.schema.Defaults().DefaultLimit
	}
	if limit <= 0 {
		return nil, errors.WithMessagef(ErrUnsizedQuery, "table [%s]", q.table)
	}

	plan, err := e.compilePlan(table, q.where, q.orderBy, q.allowFullScan)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("query plan compiled",
		"table", q.table, "probes", len(plan.scans), "ids", len(plan.ids), "fullScan", plan.fullScan)

	// 排序未被索引顺序完全覆盖时必须取回完整命中集再排序，截断只能发生在
	// 排序之后
	need := limit + q.offset
	if len(q.orderBy) > 0 && !(plan.indexOrder && len(q.orderBy) == 1) {
		need = 0
	}
	docs, err := e.runPlan(ctx, plan, q.where, q.viewer, need)
	if err != nil {
		return nil, err
	}

	sortDocs(docs, q.orderBy, plan.indexOrder)
	if q.offset > 0 {
		if q.offset >= len(docs) {
			docs = nil
		} else {
			docs = docs[q.offset:]
		}
	}
	if len(docs) > limit {
		docs = docs[:limit]
	}

	if err := e.loadRelations(ctx, table, docs, q.with, q.viewer); err != nil {
		return nil, err
	}
	return docs, nil
}

// Paginate 游标分页执行
//
// 仅支持单一连续索引区间的计划；排序必须与索引顺序对齐，跨页的内存排序
// 无法保证游标稳定
func (q *FindManyQuery) Paginate(ctx context.Context, req *PageRequest) (*QueryPage, error) {
	e := q.engine
	table, err := e.table(q.table)
	if err != nil {
		return nil, err
	}
	if req == nil || req.NumItems <= 0 {
		return nil, errors.WithMessagef(ErrUnsizedQuery, "table [%s] pagination requires NumItems", q.table)
	}

	plan, err := e.compilePlan(table, q.where, q.orderBy, q.allowFullScan)
	if err != nil {
		return nil, err
	}
	if plan.multiProbe() || len(plan.ids) > 0 {
		return nil, errors.WithMessagef(ErrMultiProbeCursor, "table [%s]", q.table)
	}
	if len(q.orderBy) > 0 && !plan.indexOrder {
		return nil, errors.WithMessagef(ErrMultiProbeCursor,
			"table [%s] pagination requires index-aligned ordering", q.table)
	}

	scan := plan.scans[0]
	page := &QueryPage{Cursor: req.Cursor, IsDone: true}
	cursor := req.Cursor
	for {
		// 每次只取还缺的条数，游标始终停在已检查过的最后一条上
		result, err := e.accessor.QueryIndex(ctx, &store.IndexQuery{
			Table:          q.table,
			Index:          scan.index.Name,
			EqualityPrefix: scan.prefix,
			Range:          scan.rng,
			Order:          plan.storeOrder,
			Cursor:         cursor,
			Limit:          req.NumItems - len(page.Docs),
		})
		if err != nil {
			return nil, err
		}

		for _, doc := range result.Docs {
			if q.where != nil && !q.where.Match(doc) {
				continue
			}
			if !allowRow(table, schema.OperationSelect, q.viewer, doc) {
				continue
			}
			page.Docs = append(page.Docs, doc)
		}
		page.Cursor = result.Cursor
		cursor = result.Cursor

		if result.IsDone {
			page.IsDone = true
			break
		}
		if len(page.Docs) >= req.NumItems {
			page.IsDone = false
			break
		}
	}

	if err := e.loadRelations(ctx, table, page.Docs, q.with, q.viewer); err != nil {
		return nil, err
	}
	return page, nil
}

// FindFirstQuery 单行查询构建器，没有命中时返回 ErrNotFound
type FindFirstQuery struct {
	inner *FindManyQuery
}

func (e *Engine) FindFirst(table string) *FindFirstQuery {
	return &FindFirstQuery{inner: e.FindMany(table)}
}

func (q *FindFirstQuery) Where(where filter.Query) *FindFirstQuery {
	q.inner.Where(where)
	return q
}

func (q *FindFirstQuery) OrderBy(orders ...Order) *FindFirstQuery {
	q.inner.OrderBy(orders...)
	return q
}

func (q *FindFirstQuery) With(name string, opts ...*WithOptions) *FindFirstQuery {
	q.inner.With(name, opts...)
	return q
}

func (q *FindFirstQuery) Viewer(viewer any) *FindFirstQuery {
	q.inner.Viewer(viewer)
	return q
}

func (q *FindFirstQuery) AllowFullScan() *FindFirstQuery {
	q.inner.AllowFullScan()
	return q
}

func (q *FindFirstQuery) Execute(ctx context.Context) (store.Document, error) {
	q.inner.Limit(1)
	docs, err := q.inner.Execute(ctx)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, errors.WithMessagef(ErrNotFound, "table [%s]", q.inner.table)
	}
	return docs[0], nil
}

// CountQuery 计数构建器，与查询共用编译和护栏逻辑
type CountQuery struct {
	inner *FindManyQuery
}

func (e *Engine) Count(table string) *CountQuery {
	return &CountQuery{inner: e.FindMany(table)}
}

func (q *CountQuery) Where(where filter.Query) *CountQuery {
	q.inner.Where(where)
	return q
}

// Limit 计数上限，同时满足大小护栏
func (q *CountQuery) Limit(limit int) *CountQuery {
	q.inner.Limit(limit)
	return q
}

func (q *CountQuery) Viewer(viewer any) *CountQuery {
	q.inner.Viewer(viewer)
	return q
}

func (q *CountQuery) AllowFullScan() *CountQuery {
	q.inner.AllowFullScan()
	return q
}

func (q *CountQuery) Execute(ctx context.Context) (int, error) {
	docs, err := q.inner.Execute(ctx)
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// runPlan 执行查询计划，取回通过残余过滤和行级安全检查的行
//
// need 是需要的行数上限（含偏移），多路探测按文档标识去重后取并集
func (e *Engine) runPlan(ctx context.Context, plan *queryPlan, where filter.Query, viewer any, need int) ([]store.Document, error) {
	accept := func(doc store.Document) bool {
		if where != nil && !where.Match(doc) {
			return false
		}
		return allowRow(plan.table, schema.OperationSelect, viewer, doc)
	}

	var out []store.Document
	seen := make(map[string]bool)

	for _, id := range plan.ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		doc, err := e.accessor.Get(ctx, id)
		if errors.Is(err, store.ErrDocumentNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if accept(doc) {
			out = append(out, doc)
		}
	}

	for _, scan := range plan.scans {
		collected := 0
		cursor := ""
		for {
			page, err := e.accessor.QueryIndex(ctx, &store.IndexQuery{
				Table:          plan.table.Name(),
				Index:          scan.index.Name,
				EqualityPrefix: scan.prefix,
				Range:          scan.rng,
				Order:          plan.storeOrder,
				Cursor:         cursor,
				Limit:          need,
			})
			if err != nil {
				return nil, err
			}

			for _, doc := range page.Docs {
				id, _ := doc[store.FieldID].(string)
				if seen[id] {
					continue
				}
				seen[id] = true
				if accept(doc) {
					out = append(out, doc)
					collected++
				}
			}

			if page.IsDone || (need > 0 && collected >= need) {
				break
			}
			cursor = page.Cursor
		}
	}

	return out, nil
}

// sortDocs 内存中的稳定排序
//
// 单一排序字段与索引顺序对齐时无需排序；其余情况对已取回的行整体排序
func sortDocs(docs []store.Document, orderBy []Order, indexOrdered bool) {
	if len(orderBy) == 0 {
		return
	}
	if indexOrdered && len(orderBy) == 1 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		for _, o := range orderBy {
			cmp, ok := filter.Compare(docs[i][o.Field], docs[j][o.Field])
			if !ok || cmp == 0 {
				continue
			}
			if o.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
