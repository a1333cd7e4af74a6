package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/dox/filter"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

// MutationResult 变更结果
//
// Cursor/IsDone 用于续跑：单次执行最多处理 MaxRows 行，剩余行通过游标
// 在下一次调用中继续。Docs 仅在要求返回行时填充
type MutationResult struct {
	Count  int
	IDs    []string
	Docs   []store.Document
	Cursor string
	IsDone bool
}

// mutationParams 批量变更的公共参数
type mutationParams struct {
	op        schema.Operation
	where     filter.Query
	viewer    any
	cursor    string
	batchSize int
	maxRows   int
}

// mutateRows 批量变更执行循环
//
// 按标识直取的计划一次性处理全部目标行，不支持游标，超出行数上限直接报错；
// 索引扫描计划按页推进，触达上限且仍有剩余行时报 ErrTooManyRows 而不是静默
// 截断，同时在结果里带上已完成的进度和续跑游标（页为重入边界，已写入的行
// 保持写入）。apply 对每一通过残余过滤和行级安全检查的行调用一次
func (e *Engine) mutateRows(ctx context.Context, plan *queryPlan, params *mutationParams, apply func(doc store.Document) error) (*MutationResult, error) {
	table := plan.table
	batchSize := params.batchSize
	if batchSize <= 0 {
		batchSize = e.schema.Defaults().MutationBatchSize
	}
	maxRows := params.maxRows
	if maxRows <= 0 {
		maxRows = e.schema.Defaults().MutationMaxRows
	}

	result := &MutationResult{IsDone: true}

	if len(plan.ids) > 0 {
		if len(plan.ids) > maxRows {
			return nil, errors.WithMessagef(ErrTooManyRows,
				"table [%s] targets [%d] rows, at most [%d]", table.Name(), len(plan.ids), maxRows)
		}
		for _, id := range plan.ids {
			doc, err := e.accessor.Get(ctx, id)
			if errors.Is(err, store.ErrDocumentNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			if params.where != nil && !params.where.Match(doc) {
				continue
			}
			if !allowRow(table, params.op, params.viewer, doc) {
				return nil, errors.WithMessagef(ErrPolicyDenied,
					"table [%s] operation [%s] document [%s]", table.Name(), params.op, id)
			}
			if err := apply(doc); err != nil {
				return nil, err
			}
			result.Count++
			result.IDs = append(result.IDs, id)
		}
		// 按标识定位的变更必须命中至少一行
		if result.Count == 0 {
			return nil, errors.WithMessagef(ErrNotFound, "table [%s]", table.Name())
		}
		return result, nil
	}

	scan := plan.scans[0]
	cursor := params.cursor
	seen := make(map[string]bool)
	for {
		limit := batchSize
		if remain := maxRows - result.Count; remain < limit {
			limit = remain
		}
		if limit <= 0 {
			result.Cursor = cursor
			result.IsDone = false
			return result, errors.WithMessagef(ErrTooManyRows,
				"table [%s] mutation exceeds [%d] rows, resume with the returned cursor", table.Name(), maxRows)
		}

		page, err := e.accessor.QueryIndex(ctx, &store.IndexQuery{
			Table:          table.Name(),
			Index:          scan.index.Name,
			EqualityPrefix: scan.prefix,
			Range:          scan.rng,
			Order:          store.OrderAsc,
			Cursor:         cursor,
			Limit:          limit,
		})
		if err != nil {
			return nil, err
		}

		for _, doc := range page.Docs {
			id, _ := doc[store.FieldID].(string)
			// 变更可能移动索引条目，同一行不重复处理
			if seen[id] {
				continue
			}
			seen[id] = true
			if params.where != nil && !params.where.Match(doc) {
				continue
			}
			if !allowRow(table, params.op, params.viewer, doc) {
				return nil, errors.WithMessagef(ErrPolicyDenied,
					"table [%s] operation [%s] document [%s]", table.Name(), params.op, id)
			}
			if err := apply(doc); err != nil {
				return nil, err
			}
			result.Count++
			result.IDs = append(result.IDs, id)
		}

		cursor = page.Cursor
		if page.IsDone {
			return result, nil
		}
	}
}

// compileMutationPlan 编译变更目标计划
//
// 游标续跑要求单一连续索引区间，多路探测的过滤条件无法保证游标稳定
func (e *Engine) compileMutationPlan(table *schema.Table, where filter.Query, allowFullScan bool) (*queryPlan, error) {
	plan, err := e.compilePlan(table, where, nil, allowFullScan)
	if err != nil {
		return nil, err
	}
	if plan.multiProbe() {
		return nil, errors.WithMessagef(ErrMultiProbeCursor, "table [%s]", table.Name())
	}
	return plan, nil
}

// checkUnique 唯一约束探测
//
// 任一索引字段为空时跳过检查（空值不参与唯一性）。excludeID 用于更新场景
// 排除行自身；batch 用于同一批次内部的重复检测
func (e *Engine) checkUnique(ctx context.Context, table *schema.Table, doc store.Document, excludeID string, batch map[string]bool) error {
	for _, index := range table.UniqueIndexes() {
		values := make([]any, 0, len(index.Fields))
		missing := false
		for _, field := range index.Fields {
			v, ok := doc[field]
			if !ok || v == nil {
				missing = true
				break
			}
			values = append(values, v)
		}
		if missing {
			continue
		}

		if batch != nil {
			key, err := store.EncodeKey(values...)
			if err != nil {
				return errors.WithMessagef(err, "table [%s] index [%s]", table.Name(), index.Name)
			}
			batchKey := index.Name + "\x00" + string(key)
			if batch[batchKey] {
				return errors.WithMessagef(ErrUniqueViolation,
					"table [%s] index [%s] duplicated within batch", table.Name(), index.Name)
			}
			batch[batchKey] = true
		}

		page, err := e.accessor.QueryIndex(ctx, &store.IndexQuery{
			Table:          table.Name(),
			Index:          index.Name,
			EqualityPrefix: values,
			Limit:          2,
		})
		if err != nil {
			return err
		}
		for _, existing := range page.Docs {
			if id, _ := existing[store.FieldID].(string); id != excludeID {
				return errors.WithMessagef(ErrUniqueViolation,
					"table [%s] index [%s]", table.Name(), index.Name)
			}
		}
	}
	return nil
}
