package engine

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hatlonely/dox/filter"
	"github.com/hatlonely/dox/schema"
	"github.com/hatlonely/dox/store"
)

// UpdateMutation 更新构建器
type UpdateMutation struct {
	engine        *Engine
	table         string
	patch         Patch
	where         filter.Query
	viewer        any
	allowFullScan bool
	batchSize     int
	maxRows       int
	cursor        string
	returning     bool
}

// Update 创建更新构建器
func (e *Engine) Update(table string) *UpdateMutation {
	return &UpdateMutation{engine: e, table: table}
}

// Set 设置补丁，未出现的字段保持原值
func (m *UpdateMutation) Set(patch Patch) *UpdateMutation {
	m.patch = patch
	return m
}

func (m *UpdateMutation) Where(where filter.Query) *UpdateMutation {
	m.where = where
	return m
}

func (m *UpdateMutation) Viewer(viewer any) *UpdateMutation {
	m.viewer = viewer
	return m
}

func (m *UpdateMutation) AllowFullScan() *UpdateMutation {
	m.allowFullScan = true
	return m
}

// BatchSize 每次索引扫描取回的行数，缺省取模式级默认值
func (m *UpdateMutation) BatchSize(size int) *UpdateMutation {
	m.batchSize = size
	return m
}

// MaxRows 单次执行处理的行数上限，超出时报 ErrTooManyRows 并附带续跑游标
func (m *UpdateMutation) MaxRows(n int) *UpdateMutation {
	m.maxRows = n
	return m
}

// Cursor 从上一次执行返回的游标处继续
func (m *UpdateMutation) Cursor(cursor string) *UpdateMutation {
	m.cursor = cursor
	return m
}

// Returning 要求返回更新后的完整行
func (m *UpdateMutation) Returning() *UpdateMutation {
	m.returning = true
	return m
}

// Execute 执行更新
//
// 补丁先整体校验归一化，再按批扫描目标行逐行写入。补丁给唯一列写入字面
// 值且目标多于一行时，在第一行落盘之前失败，避免批量更新写到一半才撞上
// 唯一约束
func (m *UpdateMutation) Execute(ctx context.Context) (*MutationResult, error) {
	e := m.engine
	table, err := e.table(m.table)
	if err != nil {
		return nil, err
	}
	if len(m.patch) == 0 {
		return nil, errors.Errorf("table [%s] update requires a non-empty patch", m.table)
	}

	patch, err := normalizePatch(table, m.patch)
	if err != nil {
		return nil, err
	}

	plan, err := e.compileMutationPlan(table, m.where, m.allowFullScan)
	if err != nil {
		return nil, err
	}

	if patchesUniqueLiteral(table, patch) {
		preview, err := e.runPlan(ctx, plan, m.where, m.viewer, 2)
		if err != nil {
			return nil, err
		}
		if len(preview) > 1 {
			return nil, errors.WithMessagef(ErrUniqueViolation,
				"table [%s] patch sets a unique column for multiple rows", m.table)
		}
	}

	storePatch := patch.storePatch()
	batch := make(map[string]bool)
	var docs []store.Document
	result, err := e.mutateRows(ctx, plan, &mutationParams{
		op:        schema.OperationUpdate,
		where:     m.where,
		viewer:    m.viewer,
		cursor:    m.cursor,
		batchSize: m.batchSize,
		maxRows:   m.maxRows,
	}, func(doc store.Document) error {
		id, _ := doc[store.FieldID].(string)
		patched := patch.applyTo(doc)
		if _, err := table.NormalizeDocument(userFields(table, patched)); err != nil {
			return err
		}
		if err := e.checkUnique(ctx, table, patched, id, batch); err != nil {
			return err
		}
		if err := e.accessor.Patch(ctx, id, storePatch); err != nil {
			return err
		}
		if m.returning {
			docs = append(docs, patched)
		}
		return nil
	})
	if result != nil {
		result.Docs = docs
	}
	if err != nil {
		// 触达行数上限时已更新的行保持更新，result 带续跑游标
		return result, err
	}

	e.logger.Debug("rows updated", "table", m.table, "count", result.Count, "done", result.IsDone)
	return result, nil
}

// normalizePatch 校验补丁并归一化写入值
//
// 系统字段只读；非空列不接受置空和移除
func normalizePatch(table *schema.Table, patch Patch) (Patch, error) {
	out := make(Patch, len(patch))
	for field, value := range patch {
		if field == store.FieldID || field == store.FieldCreationTime {
			return nil, errors.WithMessagef(store.ErrReadOnlyField, "table [%s] column [%s]", table.Name(), field)
		}
		column, ok := table.Column(field)
		if !ok {
			return nil, errors.WithMessagef(ErrUnknownColumn, "table [%s] column [%s]", table.Name(), field)
		}

		switch value.kind {
		case patchSet:
			if value.value == nil && !column.Nullable() {
				return nil, errors.Errorf("table [%s] column [%s] is not nullable", table.Name(), field)
			}
			v, err := column.Normalize(value.value)
			if err != nil {
				return nil, errors.WithMessagef(err, "table [%s] column [%s]", table.Name(), field)
			}
			out[field] = Set(v)
		case patchUnset:
			if !column.Nullable() {
				return nil, errors.Errorf("table [%s] column [%s] is not nullable", table.Name(), field)
			}
			out[field] = Unset()
		}
	}
	return out, nil
}

// patchesUniqueLiteral 补丁是否向唯一索引字段写入非空字面值
func patchesUniqueLiteral(table *schema.Table, patch Patch) bool {
	for _, index := range table.UniqueIndexes() {
		for _, field := range index.Fields {
			if v, ok := patch[field]; ok && v.kind == patchSet && v.value != nil {
				return true
			}
		}
	}
	return false
}

// userFields 去掉系统字段，便于复用行归一化校验
func userFields(table *schema.Table, doc store.Document) store.Document {
	out := make(store.Document, len(doc))
	for field, v := range doc {
		if field == store.FieldID || field == store.FieldCreationTime {
			continue
		}
		// 关系加载挂上的关联行不参与校验
		if _, ok := table.Column(field); !ok {
			continue
		}
		out[field] = v
	}
	return out
}
